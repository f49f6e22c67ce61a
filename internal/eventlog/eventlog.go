// Package eventlog журнал событий заявок. Только запись и чтение:
// обновлять или удалять события через этот пакет нельзя.
package eventlog

import (
	"context"
	"fmt"
	"time"
	"workorders/models"
)

const (
	WorkOrderCreated  = "work_order_created"
	WorkOrderClosed   = "work_order_closed"
	WorkOrderCanceled = "work_order_canceled"
	WorkOrderDeleted  = "work_order_deleted"

	QuoteSubmitted    = "quote_submitted"
	QuoteApproved     = "quote_approved"
	InterestSubmitted = "interest_submitted"
	InterestSelected  = "interest_selected"

	PortalTokenIssued = "portal_token_issued"

	ProofSubmitted  = "proof_submitted"
	ProofApproved   = "proof_approved"
	ReworkRequested = "rework_requested"
)

const (
	EntityWorkOrder = "work_order"
	EntityQuote     = "quote"
	EntityInterest  = "interest"
	EntityProof     = "proof"
	EntityToken     = "portal_token"
)

const defaultLimit = 200

// Appender хранилище, в которое можно только добавлять
type Appender interface {
	AppendEvent(ctx context.Context, e *models.Event) error
}

type Lister interface {
	ListEvents(ctx context.Context, f models.EventFilter) ([]models.Event, error)
}

// Log пишет события с единым источником времени
type Log struct {
	now func() time.Time
}

func New(now func() time.Time) *Log {
	if now == nil {
		now = time.Now
	}
	return &Log{now: now}
}

// Record добавляет событие. Вызывается внутри транзакции перехода.
func (l *Log) Record(ctx context.Context, st Appender, actor models.Actor, eventType, entityType string, entityID int64, payload models.Payload) (*models.Event, error) {
	if eventType == "" || entityType == "" {
		return nil, fmt.Errorf("eventlog: event and entity type are required")
	}
	if payload == nil {
		payload = models.Payload{}
	}
	e := &models.Event{
		ActorType:  actor.Type,
		ActorID:    actor.ID,
		EventType:  eventType,
		EntityType: entityType,
		EntityID:   entityID,
		Payload:    payload,
		CreatedAt:  l.now().UTC(),
	}
	if err := st.AppendEvent(ctx, e); err != nil {
		return nil, fmt.Errorf("append %s event: %w", eventType, err)
	}
	return e, nil
}

// List события по фильтру в порядке вставки
func (l *Log) List(ctx context.Context, st Lister, f models.EventFilter) ([]models.Event, error) {
	if f.Limit <= 0 || f.Limit > defaultLimit {
		f.Limit = defaultLimit
	}
	return st.ListEvents(ctx, f)
}
