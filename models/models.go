package models

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

// Тип заявки: конкурс смет или фиксированное предложение
type WorkOrderType string

const (
	TypeQuote WorkOrderType = "quote"
	TypeFixed WorkOrderType = "fixed"
)

func (t WorkOrderType) Valid() bool {
	return t == TypeQuote || t == TypeFixed
}

type WorkOrderStatus string

const (
	StatusQuoteRequested       WorkOrderStatus = "quote_requested"
	StatusQuoteSubmitted       WorkOrderStatus = "quote_submitted"
	StatusApprovedForExecution WorkOrderStatus = "approved_for_execution"
	StatusOfferOpen            WorkOrderStatus = "offer_open"
	StatusAssigned             WorkOrderStatus = "assigned"
	StatusProofSubmitted       WorkOrderStatus = "proof_submitted"
	StatusReworkRequested      WorkOrderStatus = "rework_requested"
	StatusClosed               WorkOrderStatus = "closed"
	StatusCanceled             WorkOrderStatus = "canceled"
)

// Terminal возвращает true для закрытых и отменённых заявок
func (s WorkOrderStatus) Terminal() bool {
	return s == StatusClosed || s == StatusCanceled
}

// InitialStatus стартовый статус для типа заявки
func InitialStatus(t WorkOrderType) WorkOrderStatus {
	if t == TypeFixed {
		return StatusOfferOpen
	}
	return StatusQuoteRequested
}

// Действие, доступное держателю портального токена
type Action string

const (
	ActionSubmitInterest Action = "submit_interest"
	ActionSubmitQuote    Action = "submit_quote"
	ActionSubmitProof    Action = "submit_proof"
	ActionReadOnly       Action = "read_only"
)

// AllowedAction чистая функция от (тип, статус). Никогда не хранится.
func AllowedAction(t WorkOrderType, s WorkOrderStatus) Action {
	switch {
	case t == TypeQuote && s == StatusQuoteRequested:
		return ActionSubmitQuote
	case t == TypeFixed && s == StatusOfferOpen:
		return ActionSubmitInterest
	case s == StatusApprovedForExecution, s == StatusAssigned, s == StatusReworkRequested:
		return ActionSubmitProof
	default:
		return ActionReadOnly
	}
}

// Область действия токена: переговоры или исполнение
type TokenScope string

const (
	ScopeNegotiation TokenScope = "negotiation"
	ScopeExecution   TokenScope = "execution"
)

// Scope к какой фазе относится действие. Для read_only пустая строка.
func (a Action) Scope() TokenScope {
	switch a {
	case ActionSubmitInterest, ActionSubmitQuote:
		return ScopeNegotiation
	case ActionSubmitProof:
		return ScopeExecution
	default:
		return ""
	}
}

// Сущность Заявки на работы
type WorkOrder struct {
	ID                 int64               `db:"id" json:"id"`
	PropertyID         int64               `db:"property_id" json:"property_id"`
	Title              string              `db:"title" json:"title"`
	Description        string              `db:"description" json:"description"`
	Type               WorkOrderType       `db:"type" json:"type"`
	Status             WorkOrderStatus     `db:"status" json:"status"`
	OfferAmount        decimal.NullDecimal `db:"offer_amount" json:"offer_amount"`
	ApprovedAmount     decimal.NullDecimal `db:"approved_amount" json:"approved_amount"`
	AssignedQuoteID    *int64              `db:"assigned_quote_id" json:"assigned_quote_id"`
	AssignedInterestID *int64              `db:"assigned_interest_id" json:"assigned_interest_id"`
	CreatedByUserID    *int64              `db:"created_by_user_id" json:"created_by_user_id,omitempty"`
	CreatedAt          time.Time           `db:"created_at" json:"created_at"`
	UpdatedAt          time.Time           `db:"updated_at" json:"updated_at"`
}

// Decided true, если победитель уже выбран
func (w *WorkOrder) Decided() bool {
	if w.Type == TypeFixed {
		return w.AssignedInterestID != nil
	}
	return w.AssignedQuoteID != nil
}

// Фильтр списка заявок
type WorkOrderFilter struct {
	Search     string
	Status     WorkOrderStatus
	Type       WorkOrderType
	PropertyID int64
}

type LineKind string

const (
	LineLabor    LineKind = "labor"
	LineMaterial LineKind = "material"
)

// Позиция сметы
type QuoteLine struct {
	Kind      LineKind        `json:"kind" validate:"required,oneof=labor material"`
	Name      string          `json:"name" validate:"required,max=160"`
	Quantity  decimal.Decimal `json:"quantity"`
	Unit      string          `json:"unit" validate:"max=20"`
	UnitPrice decimal.Decimal `json:"unit_price"`
}

// Subtotal количество × цена
func (l QuoteLine) Subtotal() decimal.Decimal {
	return l.Quantity.Mul(l.UnitPrice)
}

// QuoteLines хранится в jsonb. Value отдаёт строку: lib/pq шлёт []byte как bytea.
type QuoteLines []QuoteLine

// Total сумма по позициям
func (ls QuoteLines) Total() decimal.Decimal {
	total := decimal.Zero
	for _, l := range ls {
		total = total.Add(l.Subtotal())
	}
	return total
}

func (ls QuoteLines) Value() (driver.Value, error) {
	if ls == nil {
		return "[]", nil
	}
	b, err := json.Marshal(ls)
	return string(b), err
}

func (ls *QuoteLines) Scan(src any) error {
	return scanJSON(src, ls)
}

type QuoteStatus string

const (
	QuoteSubmitted QuoteStatus = "submitted"
	QuoteApproved  QuoteStatus = "approved"
	QuoteRejected  QuoteStatus = "rejected"
)

// Сущность Сметы
type Quote struct {
	ID            int64           `db:"id" json:"id"`
	WorkOrderID   int64           `db:"work_order_id" json:"work_order_id"`
	ProviderName  string          `db:"provider_name" json:"provider_name"`
	ProviderPhone string          `db:"provider_phone" json:"provider_phone"`
	Lines         QuoteLines      `db:"lines" json:"lines"`
	TotalAmount   decimal.Decimal `db:"total_amount" json:"total_amount"`
	Status        QuoteStatus     `db:"status" json:"status"`
	CreatedAt     time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt     time.Time       `db:"updated_at" json:"updated_at"`
}

type InterestStatus string

const (
	InterestSubmitted InterestStatus = "submitted"
	InterestSelected  InterestStatus = "selected"
	InterestRejected  InterestStatus = "rejected"
)

// Сущность Отклика на фиксированное предложение
type Interest struct {
	ID            int64          `db:"id" json:"id"`
	WorkOrderID   int64          `db:"work_order_id" json:"work_order_id"`
	ProviderName  string         `db:"provider_name" json:"provider_name"`
	ProviderPhone string         `db:"provider_phone" json:"provider_phone"`
	Note          string         `db:"note" json:"note"`
	Status        InterestStatus `db:"status" json:"status"`
	CreatedAt     time.Time      `db:"created_at" json:"created_at"`
	UpdatedAt     time.Time      `db:"updated_at" json:"updated_at"`
}

type PixKeyType string

const (
	PixCPF    PixKeyType = "cpf"
	PixCNPJ   PixKeyType = "cnpj"
	PixPhone  PixKeyType = "phone"
	PixEmail  PixKeyType = "email"
	PixRandom PixKeyType = "random"
)

type ProofStatus string

const (
	ProofSubmitted       ProofStatus = "submitted"
	ProofApproved        ProofStatus = "approved"
	ProofReworkRequested ProofStatus = "rework_requested"
)

// Сущность Подтверждения выполнения
type Proof struct {
	ID              int64       `db:"id" json:"id"`
	WorkOrderID     int64       `db:"work_order_id" json:"work_order_id"`
	ProviderName    string      `db:"provider_name" json:"provider_name"`
	ProviderPhone   string      `db:"provider_phone" json:"provider_phone"`
	PixKeyType      PixKeyType  `db:"pix_key_type" json:"pix_key_type"`
	PixKeyValue     string      `db:"pix_key_value" json:"pix_key_value"`
	PixReceiverName string      `db:"pix_receiver_name" json:"pix_receiver_name"`
	DocumentID      string      `db:"document_id" json:"document_id"`
	Status          ProofStatus `db:"status" json:"status"`
	CreatedAt       time.Time   `db:"created_at" json:"created_at"`
	UpdatedAt       time.Time   `db:"updated_at" json:"updated_at"`
}

// Сущность Портального токена. Открытое значение не хранится, только хэш.
type PortalToken struct {
	ID          int64      `db:"id" json:"id"`
	WorkOrderID int64      `db:"work_order_id" json:"work_order_id"`
	TokenHash   string     `db:"token_hash" json:"-"`
	Scope       TokenScope `db:"scope" json:"scope"`
	QuoteID     *int64     `db:"quote_id" json:"quote_id,omitempty"`
	InterestID  *int64     `db:"interest_id" json:"interest_id,omitempty"`
	IssuedAt    time.Time  `db:"issued_at" json:"issued_at"`
	ExpiresAt   *time.Time `db:"expires_at" json:"expires_at,omitempty"`
}

// Expired true, если срок задан и истёк
func (t *PortalToken) Expired(now time.Time) bool {
	return t.ExpiresAt != nil && !now.Before(*t.ExpiresAt)
}

type ActorType string

const (
	ActorAdmin    ActorType = "admin"
	ActorProvider ActorType = "provider"
	ActorSystem   ActorType = "system"
)

// Actor кто выполняет действие. ID пустой для внешних участников.
type Actor struct {
	Type ActorType
	ID   *int64
}

func Admin(userID int64) Actor {
	return Actor{Type: ActorAdmin, ID: &userID}
}

var Provider = Actor{Type: ActorProvider}

var System = Actor{Type: ActorSystem}

// Payload произвольные данные события, jsonb
type Payload map[string]any

func (p Payload) Value() (driver.Value, error) {
	if p == nil {
		return "{}", nil
	}
	b, err := json.Marshal(p)
	return string(b), err
}

func (p *Payload) Scan(src any) error {
	return scanJSON(src, p)
}

// Событие журнала. Только вставка.
type Event struct {
	ID         int64     `db:"id" json:"id"`
	ActorType  ActorType `db:"actor_type" json:"actor_type"`
	ActorID    *int64    `db:"actor_id" json:"actor_id"`
	EventType  string    `db:"event_type" json:"event_type"`
	EntityType string    `db:"entity_type" json:"entity_type"`
	EntityID   int64     `db:"entity_id" json:"entity_id"`
	Payload    Payload   `db:"payload" json:"payload"`
	CreatedAt  time.Time `db:"created_at" json:"created_at"`
}

// Фильтр журнала событий
type EventFilter struct {
	// WorkOrderID события самой заявки и её дочерних сущностей (по payload.work_order_id)
	WorkOrderID int64
	EntityType  string
	EntityID    int64
	EventType   string
	Limit       int
}

func scanJSON(src any, dst any) error {
	switch v := src.(type) {
	case nil:
		return nil
	case []byte:
		return json.Unmarshal(v, dst)
	case string:
		return json.Unmarshal([]byte(v), dst)
	default:
		return errors.New("models: unsupported jsonb source type")
	}
}
