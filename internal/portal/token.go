// Package portal выпускает и разрешает портальные токены для внешних исполнителей.
//
// Токен это непрозрачная строка base64url (192 бита случайности). В хранилище
// попадает только ключевой хэш BLAKE3, открытое значение отдаётся один раз в ссылке.
// Разрешённое действие не хранится: оно вычисляется из текущего состояния заявки
// и сужается до read_only, если действие относится к другой фазе, чем токен,
// или срок токена истёк.
package portal

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"time"
	"workorders/internal/apperr"
	"workorders/models"

	"github.com/zeebo/blake3"
)

const (
	tokenBytes    = 24
	keyDerivation = "workorders 2026 portal token hash v1"
)

var ErrTokenNotFound = apperr.NotFound("portal token not found")

// TokenStore часть хранилища, нужная токенам
type TokenStore interface {
	CreatePortalToken(ctx context.Context, t *models.PortalToken) error
	GetPortalTokenByHash(ctx context.Context, hash string) (*models.PortalToken, error)
	GetWorkOrder(ctx context.Context, id int64) (*models.WorkOrder, error)
}

// Grant результат разрешения токена
type Grant struct {
	Token     *models.PortalToken
	WorkOrder *models.WorkOrder
	Action    models.Action
}

// Service выпуск и проверка токенов
type Service struct {
	key [32]byte
	ttl time.Duration
	now func() time.Time
}

// NewService. ttl == 0 означает бессрочные токены.
func NewService(secret string, ttl time.Duration, now func() time.Time) (*Service, error) {
	if secret == "" {
		return nil, errors.New("portal: token secret is empty")
	}
	if now == nil {
		now = time.Now
	}
	s := &Service{ttl: ttl, now: now}
	blake3.DeriveKey(keyDerivation, []byte(secret), s.key[:])
	return s, nil
}

// Issue создаёт токен. ref привязывает токен исполнения к победившей смете или отклику.
func (s *Service) Issue(ctx context.Context, st TokenStore, workOrderID int64, scope models.TokenScope, ref BidRef) (string, *models.PortalToken, error) {
	raw := make([]byte, tokenBytes)
	if _, err := rand.Read(raw); err != nil {
		return "", nil, fmt.Errorf("portal: read random: %w", err)
	}
	token := base64.RawURLEncoding.EncodeToString(raw)

	now := s.now().UTC()
	row := &models.PortalToken{
		WorkOrderID: workOrderID,
		TokenHash:   s.Hash(token),
		Scope:       scope,
		QuoteID:     ref.QuoteID,
		InterestID:  ref.InterestID,
		IssuedAt:    now,
	}
	if s.ttl > 0 {
		exp := now.Add(s.ttl)
		row.ExpiresAt = &exp
	}
	if err := st.CreatePortalToken(ctx, row); err != nil {
		return "", nil, fmt.Errorf("portal: store token: %w", err)
	}
	return token, row, nil
}

// Resolve не падает на несовпадении стадии: вызывающий сам проверяет Action.
func (s *Service) Resolve(ctx context.Context, st TokenStore, token string) (*Grant, error) {
	if token == "" {
		return nil, ErrTokenNotFound
	}
	row, err := st.GetPortalTokenByHash(ctx, s.Hash(token))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrTokenNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("portal: lookup token: %w", err)
	}

	wo, err := st.GetWorkOrder(ctx, row.WorkOrderID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrTokenNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("portal: load work order: %w", err)
	}

	return &Grant{Token: row, WorkOrder: wo, Action: s.grant(row, wo)}, nil
}

func (s *Service) grant(t *models.PortalToken, wo *models.WorkOrder) models.Action {
	action := models.AllowedAction(wo.Type, wo.Status)
	if action == models.ActionReadOnly {
		return action
	}
	if t.Expired(s.now()) || action.Scope() != t.Scope {
		return models.ActionReadOnly
	}
	return action
}

// Hash ключевой хэш токена в hex
func (s *Service) Hash(token string) string {
	h, err := blake3.NewKeyed(s.key[:])
	if err != nil {
		panic("portal: blake3 keyed init: " + err.Error())
	}
	h.Write([]byte(token))
	return hex.EncodeToString(h.Sum(nil))
}

// BidRef привязка токена исполнения. Для токена переговоров пустая.
type BidRef struct {
	QuoteID    *int64
	InterestID *int64
}

func QuoteRef(id int64) BidRef { return BidRef{QuoteID: &id} }

func InterestRef(id int64) BidRef { return BidRef{InterestID: &id} }
