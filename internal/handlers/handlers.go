package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"workorders/internal/apperr"
	"workorders/internal/identity"
	"workorders/models"

	"github.com/go-chi/chi/v5"
	"github.com/labstack/gommon/log"
)

const (
	maxJSONBody  = 1 << 20
	maxProofBody = 12 << 20
)

// Handler оборачивает движок заявок для HTTP
type Handler struct {
	Svc WorkOrderService
}

// NewHandler создает новый Handler
func NewHandler(svc WorkOrderService) *Handler {
	return &Handler{Svc: svc}
}

// PingHandler отвечает "ok" для проверки сервера
func (h *Handler) PingHandler(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok"))
}

type errorResponse struct {
	Error   apperr.Kind         `json:"error"`
	Message string              `json:"message"`
	Fields  map[string][]string `json:"fields,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Errorf("[http] encode response: %v", err)
	}
}

func badRequest(w http.ResponseWriter, msg string) {
	writeJSON(w, http.StatusBadRequest, errorResponse{Error: apperr.KindValidation, Message: msg})
}

// writeError переводит ошибку движка в HTTP статус
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	var ae *apperr.Error
	if !errors.As(err, &ae) {
		log.Errorf("[http] %s %s: %v", r.Method, r.URL.Path, err)
		writeJSON(w, http.StatusInternalServerError, errorResponse{Message: "internal error"})
		return
	}

	status := http.StatusInternalServerError
	switch ae.Kind {
	case apperr.KindValidation:
		status = http.StatusBadRequest
	case apperr.KindForbidden:
		status = http.StatusForbidden
	case apperr.KindNotFound:
		status = http.StatusNotFound
	case apperr.KindInvalidStage, apperr.KindAlreadyDecided:
		status = http.StatusConflict
	}
	writeJSON(w, status, errorResponse{Error: ae.Kind, Message: ae.Message, Fields: ae.Fields})
}

// decodeJSON читает тело с ограничением размера. Пустое тело допустимо.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxJSONBody)
	defer r.Body.Close()

	body, err := io.ReadAll(r.Body)
	if err != nil {
		badRequest(w, "Failed to read request body")
		return false
	}
	if len(body) == 0 {
		return true
	}
	if err := json.Unmarshal(body, dst); err != nil {
		badRequest(w, "Invalid JSON format")
		return false
	}
	return true
}

func pathID(w http.ResponseWriter, r *http.Request, name string) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, name), 10, 64)
	if err != nil || id <= 0 {
		badRequest(w, "Invalid "+name)
		return 0, false
	}
	return id, true
}

// adminActor пользователь из контекста, положенный identity.RequireAdmin
func adminActor(w http.ResponseWriter, r *http.Request) (models.Actor, bool) {
	u, ok := identity.CurrentUser(r.Context())
	if !ok || u.Role != identity.RoleAdmin {
		writeJSON(w, http.StatusUnauthorized, errorResponse{Message: "unauthorized"})
		return models.Actor{}, false
	}
	return models.Admin(u.ID), true
}
