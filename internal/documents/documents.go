// Package documents хранит фото подтверждений: S3 в продакшене, локальный диск для разработки.
package documents

import (
	"mime"
	"net/http"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

const basePath = "proofs/"

var allowedExt = map[string]bool{
	".jpg": true, ".jpeg": true, ".png": true, ".webp": true, ".heic": true, ".pdf": true,
}

// newID ключ документа: proofs/<uuid><ext>. Имя файла от клиента в ключ не попадает.
func newID(filename string) string {
	ext := strings.ToLower(filepath.Ext(filename))
	if !allowedExt[ext] {
		ext = ""
	}
	return basePath + uuid.NewString() + ext
}

func validID(id string) bool {
	rest, ok := strings.CutPrefix(id, basePath)
	if !ok || len(rest) < 36 {
		return false
	}
	if _, err := uuid.Parse(rest[:36]); err != nil {
		return false
	}
	return rest[36:] == "" || allowedExt[rest[36:]]
}

// ContentType по расширению, иначе по содержимому
func ContentType(name string, data []byte) string {
	if t := mime.TypeByExtension(filepath.Ext(name)); t != "" {
		return t
	}
	return http.DetectContentType(data)
}
