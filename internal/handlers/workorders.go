package handlers

import (
	"context"
	"net/http"
	"strconv"
	"workorders/internal/documents"
	"workorders/internal/workorder"
	"workorders/models"

	"github.com/shopspring/decimal"
)

// CreateWorkOrderHandler POST /api/work-orders
func (h *Handler) CreateWorkOrderHandler(w http.ResponseWriter, r *http.Request) {
	actor, ok := adminActor(w, r)
	if !ok {
		return
	}
	var in workorder.CreateInput
	if !decodeJSON(w, r, &in) {
		return
	}

	res, err := h.Svc.Create(r.Context(), actor, in)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, res)
}

// ListWorkOrdersHandler GET /api/work-orders?search=&status=&type=&property_id=
func (h *Handler) ListWorkOrdersHandler(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := models.WorkOrderFilter{
		Search: q.Get("search"),
		Status: models.WorkOrderStatus(q.Get("status")),
		Type:   models.WorkOrderType(q.Get("type")),
	}
	if v := q.Get("property_id"); v != "" {
		id, err := strconv.ParseInt(v, 10, 64)
		if err != nil || id <= 0 {
			badRequest(w, "Invalid property_id")
			return
		}
		f.PropertyID = id
	}

	list, err := h.Svc.List(r.Context(), f)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

func (h *Handler) GetWorkOrderHandler(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	d, err := h.Svc.Get(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, d)
}

func (h *Handler) EventsHandler(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	list, err := h.Svc.Events(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

// ApproveQuoteHandler POST /api/work-orders/{id}/quotes/{quoteId}/approve
func (h *Handler) ApproveQuoteHandler(w http.ResponseWriter, r *http.Request) {
	actor, ok := adminActor(w, r)
	if !ok {
		return
	}
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	quoteID, ok := pathID(w, r, "quoteId")
	if !ok {
		return
	}
	var in struct {
		ApprovedAmount decimal.NullDecimal `json:"approved_amount"`
	}
	if !decodeJSON(w, r, &in) {
		return
	}

	res, err := h.Svc.ApproveQuote(r.Context(), actor, id, quoteID, in.ApprovedAmount)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// SelectInterestHandler POST /api/work-orders/{id}/interests/{interestId}/select
func (h *Handler) SelectInterestHandler(w http.ResponseWriter, r *http.Request) {
	actor, ok := adminActor(w, r)
	if !ok {
		return
	}
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	interestID, ok := pathID(w, r, "interestId")
	if !ok {
		return
	}

	res, err := h.Svc.SelectInterest(r.Context(), actor, id, interestID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

type transition func(ctx context.Context, actor models.Actor, id int64) (*models.WorkOrder, error)

// transition общий обработчик для переходов без тела: proof/approve, proof/rework, cancel
func (h *Handler) transition(w http.ResponseWriter, r *http.Request, fn transition) {
	actor, ok := adminActor(w, r)
	if !ok {
		return
	}
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	wo, err := fn(r.Context(), actor, id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, wo)
}

func (h *Handler) ApproveProofHandler(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, h.Svc.ApproveProof)
}

func (h *Handler) RequestReworkHandler(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, h.Svc.RequestRework)
}

func (h *Handler) CancelHandler(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, h.Svc.Cancel)
}

// DeleteWorkOrderHandler DELETE /api/work-orders/{id}
func (h *Handler) DeleteWorkOrderHandler(w http.ResponseWriter, r *http.Request) {
	actor, ok := adminActor(w, r)
	if !ok {
		return
	}
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	if err := h.Svc.Delete(r.Context(), actor, id); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ProofPhotoHandler GET /api/work-orders/{id}/proofs/{proofId}/photo
func (h *Handler) ProofPhotoHandler(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	proofID, ok := pathID(w, r, "proofId")
	if !ok {
		return
	}
	p, data, err := h.Svc.ProofPhoto(r.Context(), id, proofID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", documents.ContentType(p.DocumentID, data))
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	w.WriteHeader(http.StatusOK)
	w.Write(data)
}
