// Package workorder движок жизненного цикла заявок: переговоры, исполнение, закрытие.
package workorder

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"reflect"
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

// Ключи ссылок в ответах
const (
	LinkNegotiation = "negotiation"
	LinkExecution   = "execution"
)

type Config struct {
	Store     Store
	Tokens    *portal.Service
	Documents Documents
	// PortalBaseURL префикс ссылок, к нему дописывается токен
	PortalBaseURL string
	Now           func() time.Time
}

type Service struct {
	store         Store
	tokens        *portal.Service
	docs          Documents
	portalBaseURL string
	*engine
	negotiators map[models.WorkOrderType]Negotiator
}

func NewService(cfg Config) *Service {
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.PortalBaseURL == "" {
		cfg.PortalBaseURL = "/p/wo/"
	}
	e := &engine{
		events:   eventlog.New(cfg.Now),
		validate: newValidator(),
		now:      cfg.Now,
	}
	return &Service{
		store:         cfg.Store,
		tokens:        cfg.Tokens,
		docs:          cfg.Documents,
		portalBaseURL: cfg.PortalBaseURL,
		engine:        e,
		negotiators: map[models.WorkOrderType]Negotiator{
			models.TypeQuote: &quoteNegotiator{e},
			models.TypeFixed: &fixedNegotiator{e},
		},
	}
}

// newValidator называет поля в ошибках по json тегам: provider_name, lines[0].unit_price
func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

type CreateInput struct {
	PropertyID  int64                `json:"property_id" validate:"gt=0"`
	Type        models.WorkOrderType `json:"type" validate:"required,oneof=quote fixed"`
	Title       string               `json:"title" validate:"required,min=3,max=160"`
	Description string               `json:"description" validate:"required,min=3,max=2000"`
	OfferAmount decimal.NullDecimal  `json:"offer_amount"`
}

// Result заявка и новые портальные ссылки (по стадиям)
type Result struct {
	WorkOrder   *models.WorkOrder `json:"work_order"`
	PortalLinks map[string]string `json:"portal_links"`
}

type Details struct {
	WorkOrder     *models.WorkOrder `json:"work_order"`
	AllowedAction models.Action     `json:"allowed_action"`
	Quotes        []QuoteView       `json:"quotes"`
	Interests     []InterestView    `json:"interests"`
	Proofs        []models.Proof    `json:"proofs"`
}

// PortalView то, что видит исполнитель по ссылке
type PortalView struct {
	WorkOrder     *models.WorkOrder `json:"work_order"`
	AllowedAction models.Action     `json:"allowed_action"`
	Scope         models.TokenScope `json:"scope"`
	Quote         *models.Quote     `json:"quote,omitempty"`
	Interest      *models.Interest  `json:"interest,omitempty"`
}

// Receipt ответ на действие исполнителя
type Receipt struct {
	Accepted bool                   `json:"accepted"`
	ID       int64                  `json:"id"`
	Status   models.WorkOrderStatus `json:"status"`
}

func (s *Service) link(token string) string {
	return s.portalBaseURL + token
}

func requireAdmin(actor models.Actor) error {
	if actor.Type != models.ActorAdmin {
		return apperr.Forbidden("admin actor required")
	}
	return nil
}

func workOrderNotFound(err error, id int64) error {
	if errors.Is(err, sql.ErrNoRows) {
		return apperr.NotFound("work order %d not found", id)
	}
	return err
}

func (s *Service) issue(ctx context.Context, tx Tx, actor models.Actor, wo *models.WorkOrder, scope models.TokenScope, ref portal.BidRef) (string, error) {
	token, row, err := s.tokens.Issue(ctx, tx, wo.ID, scope, ref)
	if err != nil {
		return "", err
	}
	payload := models.Payload{"work_order_id": wo.ID, "scope": string(scope)}
	if ref.QuoteID != nil {
		payload["quote_id"] = *ref.QuoteID
	}
	if ref.InterestID != nil {
		payload["interest_id"] = *ref.InterestID
	}
	if _, err := s.events.Record(ctx, tx, actor, eventlog.PortalTokenIssued, eventlog.EntityToken, row.ID, payload); err != nil {
		return "", err
	}
	return token, nil
}

// Create создаёт заявку и выдаёт ссылку на стадию переговоров
func (s *Service) Create(ctx context.Context, actor models.Actor, in CreateInput) (*Result, error) {
	if err := requireAdmin(actor); err != nil {
		return nil, err
	}
	in.Title = strings.TrimSpace(in.Title)
	in.Description = strings.TrimSpace(in.Description)
	if err := s.validate.Struct(in); err != nil {
		return nil, apperr.FromValidation(err)
	}
	switch in.Type {
	case models.TypeFixed:
		if !in.OfferAmount.Valid || !in.OfferAmount.Decimal.IsPositive() {
			return nil, apperr.Validation("offer_amount", "Fixed work orders need a positive offer amount")
		}
		if err := checkMoney("offer_amount", in.OfferAmount.Decimal); err != nil {
			return nil, err
		}
	case models.TypeQuote:
		in.OfferAmount = decimal.NullDecimal{}
	}

	now := s.now().UTC()
	wo := &models.WorkOrder{
		PropertyID:      in.PropertyID,
		Title:           in.Title,
		Description:     in.Description,
		Type:            in.Type,
		Status:          models.InitialStatus(in.Type),
		OfferAmount:     in.OfferAmount,
		CreatedByUserID: actor.ID,
		CreatedAt:       now,
		UpdatedAt:       now,
	}

	var token string
	err := s.store.WithTx(ctx, func(tx Tx) error {
		if err := tx.CreateWorkOrder(ctx, wo); err != nil {
			return fmt.Errorf("create work order: %w", err)
		}
		if _, err := s.events.Record(ctx, tx, actor, eventlog.WorkOrderCreated, eventlog.EntityWorkOrder, wo.ID, models.Payload{
			"work_order_id": wo.ID,
			"property_id":   wo.PropertyID,
			"type":          string(wo.Type),
		}); err != nil {
			return err
		}
		var err error
		token, err = s.issue(ctx, tx, actor, wo, models.ScopeNegotiation, portal.BidRef{})
		return err
	})
	if err != nil {
		return nil, err
	}

	log.Infof("[workorder] work_order_created work_order_id=%d type=%s property_id=%d", wo.ID, wo.Type, wo.PropertyID)
	return &Result{WorkOrder: wo, PortalLinks: map[string]string{LinkNegotiation: s.link(token)}}, nil
}

func (s *Service) Get(ctx context.Context, id int64) (*Details, error) {
	wo, err := s.store.GetWorkOrder(ctx, id)
	if err != nil {
		return nil, workOrderNotFound(err, id)
	}
	bids, err := s.negotiators[wo.Type].ListBids(ctx, s.store, wo)
	if err != nil {
		return nil, err
	}
	proofs, err := s.store.ListProofs(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("list proofs: %w", err)
	}
	d := &Details{
		WorkOrder:     wo,
		AllowedAction: models.AllowedAction(wo.Type, wo.Status),
		Quotes:        bids.Quotes,
		Interests:     bids.Interests,
		Proofs:        proofs,
	}
	if d.Quotes == nil {
		d.Quotes = []QuoteView{}
	}
	if d.Interests == nil {
		d.Interests = []InterestView{}
	}
	if d.Proofs == nil {
		d.Proofs = []models.Proof{}
	}
	return d, nil
}

func (s *Service) List(ctx context.Context, f models.WorkOrderFilter) ([]models.WorkOrder, error) {
	f.Search = strings.TrimSpace(f.Search)
	if f.Type != "" && !f.Type.Valid() {
		return nil, apperr.Validation("type", "Value must be one of: quote fixed")
	}
	list, err := s.store.ListWorkOrders(ctx, f)
	if err != nil {
		return nil, fmt.Errorf("list work orders: %w", err)
	}
	if list == nil {
		list = []models.WorkOrder{}
	}
	return list, nil
}

// Events журнал заявки. Для удалённой заявки журнал остаётся доступен.
func (s *Service) Events(ctx context.Context, id int64) ([]models.Event, error) {
	list, err := s.events.List(ctx, s.store, models.EventFilter{WorkOrderID: id})
	if err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}
	if len(list) == 0 {
		if _, err := s.store.GetWorkOrder(ctx, id); err != nil {
			return nil, workOrderNotFound(err, id)
		}
		list = []models.Event{}
	}
	return list, nil
}

// Portal разрешает токен в представление для исполнителя
func (s *Service) Portal(ctx context.Context, token string) (*PortalView, error) {
	g, err := s.tokens.Resolve(ctx, s.store, token)
	if err != nil {
		return nil, err
	}
	v := &PortalView{WorkOrder: g.WorkOrder, AllowedAction: g.Action, Scope: g.Token.Scope}
	if g.Token.QuoteID != nil {
		q, err := s.store.GetQuote(ctx, *g.Token.QuoteID)
		if err != nil && !errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("load quote: %w", err)
		}
		v.Quote = q
	}
	if g.Token.InterestID != nil {
		i, err := s.store.GetInterest(ctx, *g.Token.InterestID)
		if err != nil && !errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("load interest: %w", err)
		}
		v.Interest = i
	}
	return v, nil
}

func (s *Service) SubmitQuote(ctx context.Context, token string, in BidInput) (*Receipt, error) {
	return s.submitBid(ctx, token, models.ActionSubmitQuote, in)
}

func (s *Service) SubmitInterest(ctx context.Context, token string, in BidInput) (*Receipt, error) {
	in.Lines = nil
	return s.submitBid(ctx, token, models.ActionSubmitInterest, in)
}

// submitBid без блокировки заявки: только вставка и условный сдвиг статуса
func (s *Service) submitBid(ctx context.Context, token string, want models.Action, in BidInput) (*Receipt, error) {
	g, err := s.tokens.Resolve(ctx, s.store, token)
	if err != nil {
		return nil, err
	}
	if g.Action != want {
		return nil, apperr.InvalidStage("%s is not available, current action is %s", want, g.Action)
	}
	n := s.negotiators[g.WorkOrder.Type]

	var id int64
	err = s.store.WithTx(ctx, func(tx Tx) error {
		var err error
		id, err = n.SubmitBid(ctx, tx, g.WorkOrder, in)
		return err
	})
	if err != nil {
		// заявку могли удалить между проверкой токена и вставкой
		return nil, workOrderNotFound(err, g.WorkOrder.ID)
	}

	status := g.WorkOrder.Status
	if wo, err := s.store.GetWorkOrder(ctx, g.WorkOrder.ID); err == nil {
		status = wo.Status
	}
	return &Receipt{Accepted: true, ID: id, Status: status}, nil
}

func (s *Service) ApproveQuote(ctx context.Context, actor models.Actor, workOrderID, quoteID int64, amount decimal.NullDecimal) (*Result, error) {
	return s.decide(ctx, actor, workOrderID, models.TypeQuote, quoteID, DecideParams{ApprovedAmount: amount})
}

func (s *Service) SelectInterest(ctx context.Context, actor models.Actor, workOrderID, interestID int64) (*Result, error) {
	return s.decide(ctx, actor, workOrderID, models.TypeFixed, interestID, DecideParams{})
}

// decide под блокировкой строки: не более одного победителя на заявку.
// Повтор того же решения ничего не меняет и не выпускает новый токен.
func (s *Service) decide(ctx context.Context, actor models.Actor, workOrderID int64, typ models.WorkOrderType, bidID int64, p DecideParams) (*Result, error) {
	if err := requireAdmin(actor); err != nil {
		return nil, err
	}
	res := &Result{PortalLinks: map[string]string{}}
	err := s.store.WithWorkOrderLock(ctx, workOrderID, func(tx Tx, wo *models.WorkOrder) error {
		if wo.Type != typ {
			return apperr.Validation("type", fmt.Sprintf("Work order %d is not of type %s", wo.ID, typ))
		}
		d, err := s.negotiators[typ].Decide(ctx, tx, wo, actor, bidID, p)
		if err != nil {
			return err
		}
		res.WorkOrder = wo
		if d.NoOp {
			return nil
		}
		token, err := s.issue(ctx, tx, actor, wo, models.ScopeExecution, d.Ref)
		if err != nil {
			return err
		}
		res.PortalLinks[LinkExecution] = s.link(token)
		return nil
	})
	if err != nil {
		return nil, workOrderNotFound(err, workOrderID)
	}
	return res, nil
}

// SubmitProof. Фото загружается до блокировки, статус перепроверяется под ней.
func (s *Service) SubmitProof(ctx context.Context, token string, in ProofInput, photo Photo) (*Receipt, error) {
	g, err := s.tokens.Resolve(ctx, s.store, token)
	if err != nil {
		return nil, err
	}
	if g.Action != models.ActionSubmitProof {
		return nil, apperr.InvalidStage("submit_proof is not available, current action is %s", g.Action)
	}
	if err := s.cleanProof(&in, photo); err != nil {
		return nil, err
	}
	name, phone, err := assignedProvider(ctx, s.store, g.WorkOrder)
	if err != nil {
		return nil, err
	}
	if err := correlate(&in, name, phone); err != nil {
		return nil, err
	}

	docID, err := s.docs.Store(ctx, photo.Filename, photo.Data)
	if err != nil {
		return nil, fmt.Errorf("store proof photo: %w", err)
	}

	var proof *models.Proof
	err = s.store.WithWorkOrderLock(ctx, g.WorkOrder.ID, func(tx Tx, wo *models.WorkOrder) error {
		var err error
		proof, err = s.submitProof(ctx, tx, wo, in, docID)
		return err
	})
	if err != nil {
		if rmErr := s.docs.Remove(ctx, docID); rmErr != nil {
			log.Warnf("[workorder] orphan proof photo document_id=%s: %v", docID, rmErr)
		}
		return nil, workOrderNotFound(err, g.WorkOrder.ID)
	}
	return &Receipt{Accepted: true, ID: proof.ID, Status: models.StatusProofSubmitted}, nil
}

func (s *Service) ApproveProof(ctx context.Context, actor models.Actor, workOrderID int64) (*models.WorkOrder, error) {
	return s.review(ctx, actor, workOrderID, TriggerApproveProof)
}

func (s *Service) RequestRework(ctx context.Context, actor models.Actor, workOrderID int64) (*models.WorkOrder, error) {
	return s.review(ctx, actor, workOrderID, TriggerRequestRework)
}

func (s *Service) review(ctx context.Context, actor models.Actor, workOrderID int64, trigger Trigger) (*models.WorkOrder, error) {
	if err := requireAdmin(actor); err != nil {
		return nil, err
	}
	var out *models.WorkOrder
	err := s.store.WithWorkOrderLock(ctx, workOrderID, func(tx Tx, wo *models.WorkOrder) error {
		if _, err := s.reviewProof(ctx, tx, wo, actor, trigger); err != nil {
			return err
		}
		out = wo
		return nil
	})
	if err != nil {
		return nil, workOrderNotFound(err, workOrderID)
	}
	return out, nil
}

// ProofPhoto содержимое фото подтверждения заявки
func (s *Service) ProofPhoto(ctx context.Context, workOrderID, proofID int64) (*models.Proof, []byte, error) {
	p, err := s.store.GetProof(ctx, proofID)
	if errors.Is(err, sql.ErrNoRows) || (err == nil && p.WorkOrderID != workOrderID) {
		return nil, nil, apperr.NotFound("proof %d not found in work order %d", proofID, workOrderID)
	}
	if err != nil {
		return nil, nil, fmt.Errorf("load proof: %w", err)
	}
	data, err := s.docs.Retrieve(ctx, p.DocumentID)
	if err != nil {
		return nil, nil, err
	}
	return p, data, nil
}

// Cancel переводит незавершённую заявку в canceled. Ссылки становятся read_only.
func (s *Service) Cancel(ctx context.Context, actor models.Actor, workOrderID int64) (*models.WorkOrder, error) {
	if err := requireAdmin(actor); err != nil {
		return nil, err
	}
	var out *models.WorkOrder
	err := s.store.WithWorkOrderLock(ctx, workOrderID, func(tx Tx, wo *models.WorkOrder) error {
		to, err := Next(wo, TriggerCancel, actor)
		if err != nil {
			return err
		}
		from := wo.Status
		wo.Status = to
		wo.UpdatedAt = s.now().UTC()
		if err := tx.UpdateWorkOrder(ctx, wo); err != nil {
			return fmt.Errorf("update work order: %w", err)
		}
		if _, err := s.events.Record(ctx, tx, actor, eventlog.WorkOrderCanceled, eventlog.EntityWorkOrder, wo.ID, models.Payload{
			"work_order_id": wo.ID,
			"from_status":   string(from),
		}); err != nil {
			return err
		}
		out = wo
		return nil
	})
	if err != nil {
		return nil, workOrderNotFound(err, workOrderID)
	}
	log.Infof("[workorder] work_order_canceled work_order_id=%d", workOrderID)
	return out, nil
}

// Delete удаляет заявку в любом статусе вместе с дочерними записями и токенами.
// Журнал событий не трогается.
func (s *Service) Delete(ctx context.Context, actor models.Actor, workOrderID int64) error {
	if err := requireAdmin(actor); err != nil {
		return err
	}
	err := s.store.WithWorkOrderLock(ctx, workOrderID, func(tx Tx, wo *models.WorkOrder) error {
		if err := tx.DeleteWorkOrder(ctx, wo.ID); err != nil {
			return fmt.Errorf("delete work order: %w", err)
		}
		_, err := s.events.Record(ctx, tx, actor, eventlog.WorkOrderDeleted, eventlog.EntityWorkOrder, wo.ID, models.Payload{
			"work_order_id": wo.ID,
			"property_id":   wo.PropertyID,
			"status":        string(wo.Status),
		})
		return err
	})
	if err != nil {
		return workOrderNotFound(err, workOrderID)
	}
	log.Infof("[workorder] work_order_deleted work_order_id=%d", workOrderID)
	return nil
}
