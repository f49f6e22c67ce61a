package testutils

import (
	"bytes"
	"context"
	"mime/multipart"
	"net/http"
	"testing"
	"workorders/internal/identity"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"
)

// WithChiURLParams подставляет параметры пути в контекст chi запроса для тестов.
func WithChiURLParams(req *http.Request, params map[string]string) *http.Request {
	chiCtx := chi.NewRouteContext()
	for k, v := range params {
		chiCtx.URLParams.Add(k, v)
	}
	return req.WithContext(context.WithValue(req.Context(), chi.RouteCtxKey, chiCtx))
}

// WithAdmin кладёт администратора в контекст, как это делает RequireAdmin.
func WithAdmin(req *http.Request, userID int64) *http.Request {
	return req.WithContext(identity.WithUser(req.Context(), identity.User{ID: userID, Role: identity.RoleAdmin}))
}

// MultipartBody собирает multipart тело с полями и необязательным файлом.
func MultipartBody(t testing.TB, fields map[string]string, fileField, filename string, data []byte) (*bytes.Buffer, string) {
	t.Helper()
	buf := &bytes.Buffer{}
	mw := multipart.NewWriter(buf)
	for k, v := range fields {
		require.NoError(t, mw.WriteField(k, v))
	}
	if fileField != "" {
		fw, err := mw.CreateFormFile(fileField, filename)
		require.NoError(t, err)
		_, err = fw.Write(data)
		require.NoError(t, err)
	}
	require.NoError(t, mw.Close())
	return buf, mw.FormDataContentType()
}
