package handlers

import (
	"context"
	"workorders/internal/workorder"
	"workorders/models"

	"github.com/shopspring/decimal"
)

// WorkOrderService операции движка, которые нужны HTTP слою
type WorkOrderService interface {
	Create(ctx context.Context, actor models.Actor, in workorder.CreateInput) (*workorder.Result, error)
	Get(ctx context.Context, id int64) (*workorder.Details, error)
	List(ctx context.Context, f models.WorkOrderFilter) ([]models.WorkOrder, error)
	Events(ctx context.Context, id int64) ([]models.Event, error)

	ApproveQuote(ctx context.Context, actor models.Actor, workOrderID, quoteID int64, amount decimal.NullDecimal) (*workorder.Result, error)
	SelectInterest(ctx context.Context, actor models.Actor, workOrderID, interestID int64) (*workorder.Result, error)
	ApproveProof(ctx context.Context, actor models.Actor, workOrderID int64) (*models.WorkOrder, error)
	RequestRework(ctx context.Context, actor models.Actor, workOrderID int64) (*models.WorkOrder, error)
	ProofPhoto(ctx context.Context, workOrderID, proofID int64) (*models.Proof, []byte, error)
	Cancel(ctx context.Context, actor models.Actor, workOrderID int64) (*models.WorkOrder, error)
	Delete(ctx context.Context, actor models.Actor, workOrderID int64) error

	Portal(ctx context.Context, token string) (*workorder.PortalView, error)
	SubmitQuote(ctx context.Context, token string, in workorder.BidInput) (*workorder.Receipt, error)
	SubmitInterest(ctx context.Context, token string, in workorder.BidInput) (*workorder.Receipt, error)
	SubmitProof(ctx context.Context, token string, in workorder.ProofInput, photo workorder.Photo) (*workorder.Receipt, error)
}

var _ WorkOrderService = (*workorder.Service)(nil)
