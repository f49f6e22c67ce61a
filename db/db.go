package db

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"
	"workorders/internal/workorder"
	"workorders/models"

	"github.com/jmoiron/sqlx"
)

// dbtx общее у *sqlx.DB и *sqlx.Tx
type dbtx interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryRowxContext(ctx context.Context, query string, args ...any) *sqlx.Row
	GetContext(ctx context.Context, dest any, query string, args ...any) error
	SelectContext(ctx context.Context, dest any, query string, args ...any) error
}

// Storage хранилище заявок в Postgres. Внутри транзакции q это *sqlx.Tx.
type Storage struct {
	db *sqlx.DB
	q  dbtx
	tx *sqlx.Tx
}

var _ workorder.Store = (*Storage)(nil)

func NewStorage(db *sqlx.DB) *Storage {
	return &Storage{db: db, q: db}
}

// WithTx выполняет fn в транзакции. Вложенный вызов переиспользует текущую.
func (s *Storage) WithTx(ctx context.Context, fn func(tx workorder.Tx) error) error {
	if s.tx != nil {
		return fn(s)
	}
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	if err := fn(&Storage{db: s.db, q: tx, tx: tx}); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

// WithWorkOrderLock блокирует строку заявки до конца транзакции
func (s *Storage) WithWorkOrderLock(ctx context.Context, id int64, fn func(tx workorder.Tx, wo *models.WorkOrder) error) error {
	return s.WithTx(ctx, func(tx workorder.Tx) error {
		st := tx.(*Storage)
		wo := &models.WorkOrder{}
		if err := st.q.GetContext(ctx, wo, `SELECT * FROM work_orders WHERE id=$1 FOR UPDATE`, id); err != nil {
			return err
		}
		return fn(st, wo)
	})
}

// WorkOrder (Заявка)

func (s *Storage) CreateWorkOrder(ctx context.Context, wo *models.WorkOrder) error {
	query := `
        INSERT INTO work_orders
            (property_id, title, description, type, status, offer_amount, approved_amount,
             assigned_quote_id, assigned_interest_id, created_by_user_id, created_at, updated_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
        RETURNING id`
	return s.q.QueryRowxContext(ctx, query,
		wo.PropertyID, wo.Title, wo.Description, wo.Type, wo.Status, wo.OfferAmount, wo.ApprovedAmount,
		wo.AssignedQuoteID, wo.AssignedInterestID, wo.CreatedByUserID, wo.CreatedAt, wo.UpdatedAt,
	).Scan(&wo.ID)
}

func (s *Storage) GetWorkOrder(ctx context.Context, id int64) (*models.WorkOrder, error) {
	wo := &models.WorkOrder{}
	if err := s.q.GetContext(ctx, wo, `SELECT * FROM work_orders WHERE id=$1`, id); err != nil {
		return nil, err
	}
	return wo, nil
}

func (s *Storage) ListWorkOrders(ctx context.Context, f models.WorkOrderFilter) ([]models.WorkOrder, error) {
	var (
		where []string
		args  []any
	)
	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	if f.Status != "" {
		where = append(where, "status = "+arg(f.Status))
	}
	if f.Type != "" {
		where = append(where, "type = "+arg(f.Type))
	}
	if f.PropertyID != 0 {
		where = append(where, "property_id = "+arg(f.PropertyID))
	}
	if f.Search != "" {
		p := arg("%" + escapeLike(f.Search) + "%")
		where = append(where, fmt.Sprintf("(title ILIKE %s OR description ILIKE %s)", p, p))
	}

	query := `SELECT * FROM work_orders`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY id DESC"

	list := []models.WorkOrder{}
	if err := s.q.SelectContext(ctx, &list, query, args...); err != nil {
		return nil, err
	}
	return list, nil
}

func (s *Storage) UpdateWorkOrder(ctx context.Context, wo *models.WorkOrder) error {
	query := `
        UPDATE work_orders
        SET status=$1, approved_amount=$2, assigned_quote_id=$3, assigned_interest_id=$4, updated_at=$5
        WHERE id=$6`
	res, err := s.q.ExecContext(ctx, query,
		wo.Status, wo.ApprovedAmount, wo.AssignedQuoteID, wo.AssignedInterestID, wo.UpdatedAt, wo.ID)
	if err != nil {
		return err
	}
	return requireRow(res)
}

func (s *Storage) SetStatusIf(ctx context.Context, id int64, from, to models.WorkOrderStatus, at time.Time) (bool, error) {
	res, err := s.q.ExecContext(ctx,
		`UPDATE work_orders SET status=$1, updated_at=$2 WHERE id=$3 AND status=$4`, to, at, id, from)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n == 1, err
}

// DeleteWorkOrder удаляет дочерние записи явно; events не имеет внешнего ключа на заявку
func (s *Storage) DeleteWorkOrder(ctx context.Context, id int64) error {
	for _, table := range []string{"portal_tokens", "proofs", "quotes", "interests"} {
		if _, err := s.q.ExecContext(ctx, `DELETE FROM `+table+` WHERE work_order_id=$1`, id); err != nil {
			return fmt.Errorf("delete %s: %w", table, err)
		}
	}
	res, err := s.q.ExecContext(ctx, `DELETE FROM work_orders WHERE id=$1`, id)
	if err != nil {
		return err
	}
	return requireRow(res)
}

func requireRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return sql.ErrNoRows
	}
	return nil
}

func escapeLike(s string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(s)
}
