package handlers

import (
	"errors"
	"io"
	"net/http"
	"workorders/internal/apperr"
	"workorders/internal/workorder"
	"workorders/models"

	"github.com/go-chi/chi/v5"
	"github.com/labstack/gommon/log"
)

// notAvailable ответ на устаревшую ссылку: не ошибка, а текущее действие
type notAvailable struct {
	Accepted      bool          `json:"accepted"`
	Status        string        `json:"status"`
	AllowedAction models.Action `json:"allowed_action"`
}

// writePortalError как writeError, но InvalidStage отдаётся как 200 not_available
func (h *Handler) writePortalError(w http.ResponseWriter, r *http.Request, token string, err error) {
	if apperr.KindOf(err) != apperr.KindInvalidStage {
		writeError(w, r, err)
		return
	}
	action := models.ActionReadOnly
	if v, err := h.Svc.Portal(r.Context(), token); err == nil {
		action = v.AllowedAction
	}
	writeJSON(w, http.StatusOK, notAvailable{Status: "not_available", AllowedAction: action})
}

// PortalHandler GET /api/portal/{token}
func (h *Handler) PortalHandler(w http.ResponseWriter, r *http.Request) {
	v, err := h.Svc.Portal(r.Context(), chi.URLParam(r, "token"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, v)
}

func (h *Handler) SubmitInterestHandler(w http.ResponseWriter, r *http.Request) {
	token := chi.URLParam(r, "token")
	var in workorder.BidInput
	if !decodeJSON(w, r, &in) {
		return
	}
	rec, err := h.Svc.SubmitInterest(r.Context(), token, in)
	if err != nil {
		h.writePortalError(w, r, token, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

// SubmitQuoteHandler итог считается на сервере, total_amount из тела игнорируется
func (h *Handler) SubmitQuoteHandler(w http.ResponseWriter, r *http.Request) {
	token := chi.URLParam(r, "token")
	var in workorder.BidInput
	if !decodeJSON(w, r, &in) {
		return
	}
	rec, err := h.Svc.SubmitQuote(r.Context(), token, in)
	if err != nil {
		h.writePortalError(w, r, token, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

// SubmitProofHandler POST /api/portal/{token}/proof, multipart: поля и file
func (h *Handler) SubmitProofHandler(w http.ResponseWriter, r *http.Request) {
	token := chi.URLParam(r, "token")
	r.Body = http.MaxBytesReader(w, r.Body, maxProofBody)
	if err := r.ParseMultipartForm(maxProofBody); err != nil {
		badRequest(w, "Invalid multipart form")
		return
	}
	defer r.MultipartForm.RemoveAll()

	in := workorder.ProofInput{
		ProviderName:    r.FormValue("provider_name"),
		ProviderPhone:   r.FormValue("provider_phone"),
		PixKeyType:      models.PixKeyType(r.FormValue("pix_key_type")),
		PixKeyValue:     r.FormValue("pix_key_value"),
		PixReceiverName: r.FormValue("pix_receiver_name"),
	}

	var photo workorder.Photo
	file, header, err := r.FormFile("file")
	switch {
	case errors.Is(err, http.ErrMissingFile):
		// пустое фото отклонит движок с ошибкой по полю file
	case err != nil:
		badRequest(w, "Invalid file")
		return
	default:
		defer file.Close()
		data, err := io.ReadAll(file)
		if err != nil {
			log.Warnf("[http] read proof file: %v", err)
			badRequest(w, "Failed to read file")
			return
		}
		photo = workorder.Photo{Filename: header.Filename, Data: data}
	}

	rec, err := h.Svc.SubmitProof(r.Context(), token, in, photo)
	if err != nil {
		h.writePortalError(w, r, token, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}
