package workorder

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
	"workorders/internal/apperr"
	"workorders/internal/eventlog"
	"workorders/internal/portal"
	"workorders/models"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/gommon/log"
	"github.com/shopspring/decimal"
)

// BidInput данные от исполнителя. Lines только для смет, Note только для откликов.
type BidInput struct {
	ProviderName  string            `json:"provider_name" validate:"required,min=2,max=160"`
	ProviderPhone string            `json:"provider_phone" validate:"required,min=6,max=40"`
	Note          string            `json:"note" validate:"max=2000"`
	Lines         models.QuoteLines `json:"lines" validate:"omitempty,max=200,dive"`
}

// DecideParams параметры решения администратора
type DecideParams struct {
	ApprovedAmount decimal.NullDecimal
}

// Decision итог Decide. NoOp: то же решение уже принято ранее.
type Decision struct {
	NoOp bool
	Ref  portal.BidRef
}

type QuoteView struct {
	models.Quote
	Late bool `json:"late"`
}

type InterestView struct {
	models.Interest
	Late bool `json:"late"`
}

// Bids ставки заявки. Заполнен только срез своего типа.
type Bids struct {
	Quotes    []QuoteView
	Interests []InterestView
}

// Negotiator стратегия переговоров для одного типа заявки
type Negotiator interface {
	SubmitBid(ctx context.Context, tx Tx, wo *models.WorkOrder, in BidInput) (int64, error)
	ListBids(ctx context.Context, tx Tx, wo *models.WorkOrder) (Bids, error)
	// Decide вызывается под блокировкой заявки
	Decide(ctx context.Context, tx Tx, wo *models.WorkOrder, actor models.Actor, bidID int64, p DecideParams) (Decision, error)
}

type engine struct {
	events   *eventlog.Log
	validate *validator.Validate
	now      func() time.Time
}

func (e *engine) clean(in *BidInput) error {
	in.ProviderName = strings.TrimSpace(in.ProviderName)
	in.ProviderPhone = strings.TrimSpace(in.ProviderPhone)
	in.Note = strings.TrimSpace(in.Note)
	if err := e.validate.Struct(in); err != nil {
		return apperr.FromValidation(err)
	}
	in.ProviderPhone = NormalizePhone(in.ProviderPhone)
	return nil
}

type quoteNegotiator struct{ *engine }

var _ Negotiator = (*quoteNegotiator)(nil)

func (n *quoteNegotiator) SubmitBid(ctx context.Context, tx Tx, wo *models.WorkOrder, in BidInput) (int64, error) {
	to, err := Next(wo, TriggerSubmitQuote, models.Provider)
	if err != nil {
		return 0, err
	}
	if err := n.clean(&in); err != nil {
		return 0, err
	}
	if len(in.Lines) == 0 {
		return 0, apperr.Validation("lines", "At least one line item is required")
	}
	for i, l := range in.Lines {
		if l.Quantity.IsNegative() {
			return 0, apperr.Validation(fmt.Sprintf("lines[%d].quantity", i), "Value must not be negative")
		}
		if l.UnitPrice.IsNegative() {
			return 0, apperr.Validation(fmt.Sprintf("lines[%d].unit_price", i), "Value must not be negative")
		}
		if err := checkMoney(fmt.Sprintf("lines[%d].unit_price", i), l.UnitPrice); err != nil {
			return 0, err
		}
		if err := checkMoney(fmt.Sprintf("lines[%d].subtotal", i), l.Subtotal()); err != nil {
			return 0, err
		}
	}
	if err := checkMoney("total_amount", in.Lines.Total()); err != nil {
		return 0, err
	}

	now := n.now().UTC()
	q := &models.Quote{
		WorkOrderID:   wo.ID,
		ProviderName:  in.ProviderName,
		ProviderPhone: in.ProviderPhone,
		Lines:         in.Lines,
		TotalAmount:   in.Lines.Total(),
		Status:        models.QuoteSubmitted,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := tx.CreateQuote(ctx, q); err != nil {
		return 0, fmt.Errorf("create quote: %w", err)
	}
	// Гонка: другая смета могла уже сдвинуть статус. Вставка всё равно принимается.
	moved, err := tx.SetStatusIf(ctx, wo.ID, wo.Status, to, now)
	if err != nil {
		return 0, fmt.Errorf("advance work order: %w", err)
	}

	if _, err := n.events.Record(ctx, tx, models.Provider, eventlog.QuoteSubmitted, eventlog.EntityQuote, q.ID, models.Payload{
		"work_order_id":  wo.ID,
		"provider_name":  q.ProviderName,
		"provider_phone": q.ProviderPhone,
		"total_amount":   q.TotalAmount.String(),
		"advanced":       moved,
	}); err != nil {
		return 0, err
	}
	log.Infof("[workorder] quote_submitted work_order_id=%d quote_id=%d total=%s", wo.ID, q.ID, q.TotalAmount)
	return q.ID, nil
}

func (n *quoteNegotiator) ListBids(ctx context.Context, tx Tx, wo *models.WorkOrder) (Bids, error) {
	quotes, err := tx.ListQuotes(ctx, wo.ID)
	if err != nil {
		return Bids{}, fmt.Errorf("list quotes: %w", err)
	}
	out := Bids{Quotes: make([]QuoteView, 0, len(quotes))}
	for _, q := range quotes {
		// после решения все прочие сметы отклонены; оставшиеся submitted пришли позже
		out.Quotes = append(out.Quotes, QuoteView{Quote: q, Late: wo.Decided() && q.Status == models.QuoteSubmitted})
	}
	return out, nil
}

func (n *quoteNegotiator) Decide(ctx context.Context, tx Tx, wo *models.WorkOrder, actor models.Actor, bidID int64, p DecideParams) (Decision, error) {
	if !p.ApprovedAmount.Valid {
		return Decision{}, apperr.Validation("approved_amount", "This field is required")
	}
	amount := p.ApprovedAmount.Decimal
	if amount.IsNegative() {
		return Decision{}, apperr.Validation("approved_amount", "Value must not be negative")
	}
	if err := checkMoney("approved_amount", amount); err != nil {
		return Decision{}, err
	}

	q, err := tx.GetQuote(ctx, bidID)
	if errors.Is(err, sql.ErrNoRows) || (err == nil && q.WorkOrderID != wo.ID) {
		return Decision{}, apperr.NotFound("quote %d not found in work order %d", bidID, wo.ID)
	}
	if err != nil {
		return Decision{}, fmt.Errorf("load quote: %w", err)
	}

	if wo.AssignedQuoteID != nil {
		if *wo.AssignedQuoteID == q.ID && wo.ApprovedAmount.Valid && wo.ApprovedAmount.Decimal.Equal(amount) {
			return Decision{NoOp: true, Ref: portal.QuoteRef(q.ID)}, nil
		}
		return Decision{}, apperr.AlreadyDecided("work order %d already approved quote %d", wo.ID, *wo.AssignedQuoteID)
	}

	to, err := Next(wo, TriggerApproveQuote, actor)
	if err != nil {
		return Decision{}, err
	}

	now := n.now().UTC()
	if err := tx.DecideQuote(ctx, wo.ID, q.ID, now); err != nil {
		return Decision{}, fmt.Errorf("decide quote: %w", err)
	}
	wo.Status = to
	wo.AssignedQuoteID = &q.ID
	wo.ApprovedAmount = decimal.NewNullDecimal(amount)
	wo.UpdatedAt = now
	if err := tx.UpdateWorkOrder(ctx, wo); err != nil {
		return Decision{}, fmt.Errorf("update work order: %w", err)
	}

	if _, err := n.events.Record(ctx, tx, actor, eventlog.QuoteApproved, eventlog.EntityQuote, q.ID, models.Payload{
		"work_order_id":   wo.ID,
		"approved_amount": amount.String(),
		"total_amount":    q.TotalAmount.String(),
	}); err != nil {
		return Decision{}, err
	}
	log.Infof("[workorder] quote_approved work_order_id=%d quote_id=%d approved_amount=%s", wo.ID, q.ID, amount)
	return Decision{Ref: portal.QuoteRef(q.ID)}, nil
}

type fixedNegotiator struct{ *engine }

var _ Negotiator = (*fixedNegotiator)(nil)

func (n *fixedNegotiator) SubmitBid(ctx context.Context, tx Tx, wo *models.WorkOrder, in BidInput) (int64, error) {
	if _, err := Next(wo, TriggerSubmitInterest, models.Provider); err != nil {
		return 0, err
	}
	if err := n.clean(&in); err != nil {
		return 0, err
	}

	now := n.now().UTC()
	i := &models.Interest{
		WorkOrderID:   wo.ID,
		ProviderName:  in.ProviderName,
		ProviderPhone: in.ProviderPhone,
		Note:          in.Note,
		Status:        models.InterestSubmitted,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := tx.CreateInterest(ctx, i); err != nil {
		return 0, fmt.Errorf("create interest: %w", err)
	}

	if _, err := n.events.Record(ctx, tx, models.Provider, eventlog.InterestSubmitted, eventlog.EntityInterest, i.ID, models.Payload{
		"work_order_id":  wo.ID,
		"provider_name":  i.ProviderName,
		"provider_phone": i.ProviderPhone,
	}); err != nil {
		return 0, err
	}
	log.Infof("[workorder] interest_submitted work_order_id=%d interest_id=%d", wo.ID, i.ID)
	return i.ID, nil
}

func (n *fixedNegotiator) ListBids(ctx context.Context, tx Tx, wo *models.WorkOrder) (Bids, error) {
	interests, err := tx.ListInterests(ctx, wo.ID)
	if err != nil {
		return Bids{}, fmt.Errorf("list interests: %w", err)
	}
	out := Bids{Interests: make([]InterestView, 0, len(interests))}
	for _, i := range interests {
		out.Interests = append(out.Interests, InterestView{Interest: i, Late: wo.Decided() && i.Status == models.InterestSubmitted})
	}
	return out, nil
}

func (n *fixedNegotiator) Decide(ctx context.Context, tx Tx, wo *models.WorkOrder, actor models.Actor, bidID int64, _ DecideParams) (Decision, error) {
	i, err := tx.GetInterest(ctx, bidID)
	if errors.Is(err, sql.ErrNoRows) || (err == nil && i.WorkOrderID != wo.ID) {
		return Decision{}, apperr.NotFound("interest %d not found in work order %d", bidID, wo.ID)
	}
	if err != nil {
		return Decision{}, fmt.Errorf("load interest: %w", err)
	}

	if wo.AssignedInterestID != nil {
		if *wo.AssignedInterestID == i.ID {
			return Decision{NoOp: true, Ref: portal.InterestRef(i.ID)}, nil
		}
		return Decision{}, apperr.AlreadyDecided("work order %d already selected interest %d", wo.ID, *wo.AssignedInterestID)
	}

	to, err := Next(wo, TriggerSelectInterest, actor)
	if err != nil {
		return Decision{}, err
	}

	now := n.now().UTC()
	if err := tx.DecideInterest(ctx, wo.ID, i.ID, now); err != nil {
		return Decision{}, fmt.Errorf("decide interest: %w", err)
	}
	wo.Status = to
	wo.AssignedInterestID = &i.ID
	wo.ApprovedAmount = wo.OfferAmount
	wo.UpdatedAt = now
	if err := tx.UpdateWorkOrder(ctx, wo); err != nil {
		return Decision{}, fmt.Errorf("update work order: %w", err)
	}

	if _, err := n.events.Record(ctx, tx, actor, eventlog.InterestSelected, eventlog.EntityInterest, i.ID, models.Payload{
		"work_order_id": wo.ID,
		"provider_name": i.ProviderName,
	}); err != nil {
		return Decision{}, err
	}
	log.Infof("[workorder] interest_selected work_order_id=%d interest_id=%d", wo.ID, i.ID)
	return Decision{Ref: portal.InterestRef(i.ID)}, nil
}
