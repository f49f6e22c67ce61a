package workorder

import (
	"context"
	"time"
	"workorders/internal/eventlog"
	"workorders/internal/portal"
	"workorders/models"
)

// Tx операции хранилища. Отсутствующая запись возвращает sql.ErrNoRows.
type Tx interface {
	portal.TokenStore
	eventlog.Appender
	eventlog.Lister

	CreateWorkOrder(ctx context.Context, wo *models.WorkOrder) error
	ListWorkOrders(ctx context.Context, f models.WorkOrderFilter) ([]models.WorkOrder, error)
	UpdateWorkOrder(ctx context.Context, wo *models.WorkOrder) error
	// SetStatusIf меняет статус, только если текущий равен from
	SetStatusIf(ctx context.Context, id int64, from, to models.WorkOrderStatus, at time.Time) (bool, error)
	// DeleteWorkOrder удаляет заявку со сметами, откликами, подтверждениями и токенами
	DeleteWorkOrder(ctx context.Context, id int64) error

	CreateQuote(ctx context.Context, q *models.Quote) error
	GetQuote(ctx context.Context, id int64) (*models.Quote, error)
	ListQuotes(ctx context.Context, workOrderID int64) ([]models.Quote, error)
	// DecideQuote победитель approved, остальные сметы заявки rejected
	DecideQuote(ctx context.Context, workOrderID, quoteID int64, at time.Time) error

	CreateInterest(ctx context.Context, i *models.Interest) error
	GetInterest(ctx context.Context, id int64) (*models.Interest, error)
	ListInterests(ctx context.Context, workOrderID int64) ([]models.Interest, error)
	DecideInterest(ctx context.Context, workOrderID, interestID int64, at time.Time) error

	CreateProof(ctx context.Context, p *models.Proof) error
	GetProof(ctx context.Context, id int64) (*models.Proof, error)
	ListProofs(ctx context.Context, workOrderID int64) ([]models.Proof, error)
	LatestProof(ctx context.Context, workOrderID int64) (*models.Proof, error)
	SetProofStatus(ctx context.Context, id int64, status models.ProofStatus, at time.Time) error
}

// Store хранилище с транзакциями.
//
// WithWorkOrderLock выполняет fn атомарно под эксклюзивной блокировкой строки
// заявки (SELECT ... FOR UPDATE или мьютекс по id). wo прочитан уже под блокировкой.
type Store interface {
	Tx
	WithTx(ctx context.Context, fn func(tx Tx) error) error
	WithWorkOrderLock(ctx context.Context, id int64, fn func(tx Tx, wo *models.WorkOrder) error) error
}
