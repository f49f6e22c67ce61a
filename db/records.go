package db

import (
	"context"
	"time"
	"workorders/models"
)

// Quote (Смета)

func (s *Storage) CreateQuote(ctx context.Context, q *models.Quote) error {
	query := `
        INSERT INTO quotes (work_order_id, provider_name, provider_phone, lines, total_amount, status, created_at, updated_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
        RETURNING id`
	return s.q.QueryRowxContext(ctx, query,
		q.WorkOrderID, q.ProviderName, q.ProviderPhone, q.Lines, q.TotalAmount, q.Status, q.CreatedAt, q.UpdatedAt,
	).Scan(&q.ID)
}

func (s *Storage) GetQuote(ctx context.Context, id int64) (*models.Quote, error) {
	q := &models.Quote{}
	if err := s.q.GetContext(ctx, q, `SELECT * FROM quotes WHERE id=$1`, id); err != nil {
		return nil, err
	}
	return q, nil
}

func (s *Storage) ListQuotes(ctx context.Context, workOrderID int64) ([]models.Quote, error) {
	list := []models.Quote{}
	err := s.q.SelectContext(ctx, &list, `SELECT * FROM quotes WHERE work_order_id=$1 ORDER BY id`, workOrderID)
	return list, err
}

func (s *Storage) DecideQuote(ctx context.Context, workOrderID, quoteID int64, at time.Time) error {
	query := `
        UPDATE quotes
        SET status = CASE WHEN id = $2 THEN $3 ELSE $4 END, updated_at = $5
        WHERE work_order_id = $1`
	_, err := s.q.ExecContext(ctx, query, workOrderID, quoteID, models.QuoteApproved, models.QuoteRejected, at)
	return err
}

// Interest (Отклик)

func (s *Storage) CreateInterest(ctx context.Context, i *models.Interest) error {
	query := `
        INSERT INTO interests (work_order_id, provider_name, provider_phone, note, status, created_at, updated_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7)
        RETURNING id`
	return s.q.QueryRowxContext(ctx, query,
		i.WorkOrderID, i.ProviderName, i.ProviderPhone, i.Note, i.Status, i.CreatedAt, i.UpdatedAt,
	).Scan(&i.ID)
}

func (s *Storage) GetInterest(ctx context.Context, id int64) (*models.Interest, error) {
	i := &models.Interest{}
	if err := s.q.GetContext(ctx, i, `SELECT * FROM interests WHERE id=$1`, id); err != nil {
		return nil, err
	}
	return i, nil
}

func (s *Storage) ListInterests(ctx context.Context, workOrderID int64) ([]models.Interest, error) {
	list := []models.Interest{}
	err := s.q.SelectContext(ctx, &list, `SELECT * FROM interests WHERE work_order_id=$1 ORDER BY id`, workOrderID)
	return list, err
}

func (s *Storage) DecideInterest(ctx context.Context, workOrderID, interestID int64, at time.Time) error {
	query := `
        UPDATE interests
        SET status = CASE WHEN id = $2 THEN $3 ELSE $4 END, updated_at = $5
        WHERE work_order_id = $1`
	_, err := s.q.ExecContext(ctx, query, workOrderID, interestID, models.InterestSelected, models.InterestRejected, at)
	return err
}

// Proof (Подтверждение)

func (s *Storage) CreateProof(ctx context.Context, p *models.Proof) error {
	query := `
        INSERT INTO proofs
            (work_order_id, provider_name, provider_phone, pix_key_type, pix_key_value, pix_receiver_name,
             document_id, status, created_at, updated_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
        RETURNING id`
	return s.q.QueryRowxContext(ctx, query,
		p.WorkOrderID, p.ProviderName, p.ProviderPhone, p.PixKeyType, p.PixKeyValue, p.PixReceiverName,
		p.DocumentID, p.Status, p.CreatedAt, p.UpdatedAt,
	).Scan(&p.ID)
}

func (s *Storage) GetProof(ctx context.Context, id int64) (*models.Proof, error) {
	p := &models.Proof{}
	if err := s.q.GetContext(ctx, p, `SELECT * FROM proofs WHERE id=$1`, id); err != nil {
		return nil, err
	}
	return p, nil
}

func (s *Storage) ListProofs(ctx context.Context, workOrderID int64) ([]models.Proof, error) {
	list := []models.Proof{}
	err := s.q.SelectContext(ctx, &list, `SELECT * FROM proofs WHERE work_order_id=$1 ORDER BY id`, workOrderID)
	return list, err
}

func (s *Storage) LatestProof(ctx context.Context, workOrderID int64) (*models.Proof, error) {
	p := &models.Proof{}
	err := s.q.GetContext(ctx, p, `SELECT * FROM proofs WHERE work_order_id=$1 ORDER BY id DESC LIMIT 1`, workOrderID)
	if err != nil {
		return nil, err
	}
	return p, nil
}

func (s *Storage) SetProofStatus(ctx context.Context, id int64, status models.ProofStatus, at time.Time) error {
	res, err := s.q.ExecContext(ctx, `UPDATE proofs SET status=$1, updated_at=$2 WHERE id=$3`, status, at, id)
	if err != nil {
		return err
	}
	return requireRow(res)
}

// PortalToken (Токен портала)

func (s *Storage) CreatePortalToken(ctx context.Context, t *models.PortalToken) error {
	query := `
        INSERT INTO portal_tokens (work_order_id, token_hash, scope, quote_id, interest_id, issued_at, expires_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7)
        RETURNING id`
	return s.q.QueryRowxContext(ctx, query,
		t.WorkOrderID, t.TokenHash, t.Scope, t.QuoteID, t.InterestID, t.IssuedAt, t.ExpiresAt,
	).Scan(&t.ID)
}

func (s *Storage) GetPortalTokenByHash(ctx context.Context, hash string) (*models.PortalToken, error) {
	t := &models.PortalToken{}
	if err := s.q.GetContext(ctx, t, `SELECT * FROM portal_tokens WHERE token_hash=$1`, hash); err != nil {
		return nil, err
	}
	return t, nil
}

// Event (Событие). Только INSERT и SELECT.

func (s *Storage) AppendEvent(ctx context.Context, e *models.Event) error {
	query := `
        INSERT INTO events (actor_type, actor_id, event_type, entity_type, entity_id, payload, created_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7)
        RETURNING id`
	return s.q.QueryRowxContext(ctx, query,
		e.ActorType, e.ActorID, e.EventType, e.EntityType, e.EntityID, e.Payload, e.CreatedAt,
	).Scan(&e.ID)
}

func (s *Storage) ListEvents(ctx context.Context, f models.EventFilter) ([]models.Event, error) {
	query := `
        SELECT * FROM events
        WHERE ($1::bigint = 0 OR (entity_type = 'work_order' AND entity_id = $1) OR payload->>'work_order_id' = $1::text)
          AND ($2::text = '' OR entity_type = $2)
          AND ($3::bigint = 0 OR entity_id = $3)
          AND ($4::text = '' OR event_type = $4)
        ORDER BY id
        LIMIT NULLIF($5::int, 0)`
	list := []models.Event{}
	err := s.q.SelectContext(ctx, &list, query, f.WorkOrderID, f.EntityType, f.EntityID, f.EventType, f.Limit)
	return list, err
}
