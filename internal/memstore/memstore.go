// Package memstore хранилище заявок в памяти для одного узла и тестов.
// Блокировка заявки это мьютекс по её id. Отката транзакций нет:
// движок проверяет всё до первой записи.
package memstore

import (
	"context"
	"database/sql"
	"sort"
	"strings"
	"sync"
	"time"
	"workorders/internal/workorder"
	"workorders/models"
)

type Store struct {
	mu        sync.Mutex
	seq       int64
	orders    map[int64]models.WorkOrder
	quotes    map[int64]models.Quote
	interests map[int64]models.Interest
	proofs    map[int64]models.Proof
	tokens    map[int64]models.PortalToken
	events    []models.Event

	locks sync.Map // id -> *sync.Mutex
}

var _ workorder.Store = (*Store)(nil)

func New() *Store {
	return &Store{
		orders:    map[int64]models.WorkOrder{},
		quotes:    map[int64]models.Quote{},
		interests: map[int64]models.Interest{},
		proofs:    map[int64]models.Proof{},
		tokens:    map[int64]models.PortalToken{},
	}
}

func (s *Store) nextID() int64 {
	s.seq++
	return s.seq
}

func (s *Store) WithTx(ctx context.Context, fn func(tx workorder.Tx) error) error {
	return fn(s)
}

func (s *Store) WithWorkOrderLock(ctx context.Context, id int64, fn func(tx workorder.Tx, wo *models.WorkOrder) error) error {
	m, _ := s.locks.LoadOrStore(id, &sync.Mutex{})
	lock := m.(*sync.Mutex)
	lock.Lock()
	defer lock.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}
	wo, err := s.GetWorkOrder(ctx, id)
	if err != nil {
		// id не переиспользуются: мьютекс несуществующей заявки не нужен
		s.locks.Delete(id)
		return err
	}
	return fn(s, wo)
}

func (s *Store) CreateWorkOrder(ctx context.Context, wo *models.WorkOrder) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	wo.ID = s.nextID()
	s.orders[wo.ID] = *wo
	return nil
}

func (s *Store) GetWorkOrder(ctx context.Context, id int64) (*models.WorkOrder, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	wo, ok := s.orders[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	return &wo, nil
}

func (s *Store) ListWorkOrders(ctx context.Context, f models.WorkOrderFilter) ([]models.WorkOrder, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	search := strings.ToLower(f.Search)
	var out []models.WorkOrder
	for _, wo := range s.orders {
		if f.Status != "" && wo.Status != f.Status {
			continue
		}
		if f.Type != "" && wo.Type != f.Type {
			continue
		}
		if f.PropertyID != 0 && wo.PropertyID != f.PropertyID {
			continue
		}
		if search != "" && !strings.Contains(strings.ToLower(wo.Title), search) &&
			!strings.Contains(strings.ToLower(wo.Description), search) {
			continue
		}
		out = append(out, wo)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	return out, nil
}

func (s *Store) UpdateWorkOrder(ctx context.Context, wo *models.WorkOrder) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.orders[wo.ID]; !ok {
		return sql.ErrNoRows
	}
	s.orders[wo.ID] = *wo
	return nil
}

func (s *Store) SetStatusIf(ctx context.Context, id int64, from, to models.WorkOrderStatus, at time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	wo, ok := s.orders[id]
	if !ok || wo.Status != from {
		return false, nil
	}
	wo.Status = to
	wo.UpdatedAt = at
	s.orders[id] = wo
	return true, nil
}

func (s *Store) DeleteWorkOrder(ctx context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.orders[id]; !ok {
		return sql.ErrNoRows
	}
	for k, v := range s.quotes {
		if v.WorkOrderID == id {
			delete(s.quotes, k)
		}
	}
	for k, v := range s.interests {
		if v.WorkOrderID == id {
			delete(s.interests, k)
		}
	}
	for k, v := range s.proofs {
		if v.WorkOrderID == id {
			delete(s.proofs, k)
		}
	}
	for k, v := range s.tokens {
		if v.WorkOrderID == id {
			delete(s.tokens, k)
		}
	}
	delete(s.orders, id)
	// удаление вызывается под этим же мьютексом; ожидающие после захвата получат ErrNoRows
	s.locks.Delete(id)
	return nil
}

func (s *Store) CreateQuote(ctx context.Context, q *models.Quote) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.orders[q.WorkOrderID]; !ok {
		return sql.ErrNoRows
	}
	q.ID = s.nextID()
	cp := *q
	cp.Lines = append(models.QuoteLines(nil), q.Lines...)
	s.quotes[q.ID] = cp
	return nil
}

func (s *Store) GetQuote(ctx context.Context, id int64) (*models.Quote, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	q, ok := s.quotes[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	q.Lines = append(models.QuoteLines(nil), q.Lines...)
	return &q, nil
}

func (s *Store) ListQuotes(ctx context.Context, workOrderID int64) ([]models.Quote, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.Quote
	for _, q := range s.quotes {
		if q.WorkOrderID == workOrderID {
			q.Lines = append(models.QuoteLines(nil), q.Lines...)
			out = append(out, q)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *Store) DecideQuote(ctx context.Context, workOrderID, quoteID int64, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, q := range s.quotes {
		if q.WorkOrderID != workOrderID {
			continue
		}
		q.Status = models.QuoteRejected
		if id == quoteID {
			q.Status = models.QuoteApproved
		}
		q.UpdatedAt = at
		s.quotes[id] = q
	}
	return nil
}

func (s *Store) CreateInterest(ctx context.Context, i *models.Interest) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.orders[i.WorkOrderID]; !ok {
		return sql.ErrNoRows
	}
	i.ID = s.nextID()
	s.interests[i.ID] = *i
	return nil
}

func (s *Store) GetInterest(ctx context.Context, id int64) (*models.Interest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	i, ok := s.interests[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	return &i, nil
}

func (s *Store) ListInterests(ctx context.Context, workOrderID int64) ([]models.Interest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.Interest
	for _, i := range s.interests {
		if i.WorkOrderID == workOrderID {
			out = append(out, i)
		}
	}
	sort.Slice(out, func(a, b int) bool { return out[a].ID < out[b].ID })
	return out, nil
}

func (s *Store) DecideInterest(ctx context.Context, workOrderID, interestID int64, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, i := range s.interests {
		if i.WorkOrderID != workOrderID {
			continue
		}
		i.Status = models.InterestRejected
		if id == interestID {
			i.Status = models.InterestSelected
		}
		i.UpdatedAt = at
		s.interests[id] = i
	}
	return nil
}

func (s *Store) CreateProof(ctx context.Context, p *models.Proof) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p.ID = s.nextID()
	s.proofs[p.ID] = *p
	return nil
}

func (s *Store) GetProof(ctx context.Context, id int64) (*models.Proof, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.proofs[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	return &p, nil
}

func (s *Store) ListProofs(ctx context.Context, workOrderID int64) ([]models.Proof, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.Proof
	for _, p := range s.proofs {
		if p.WorkOrderID == workOrderID {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *Store) LatestProof(ctx context.Context, workOrderID int64) (*models.Proof, error) {
	list, err := s.ListProofs(ctx, workOrderID)
	if err != nil {
		return nil, err
	}
	if len(list) == 0 {
		return nil, sql.ErrNoRows
	}
	return &list[len(list)-1], nil
}

func (s *Store) SetProofStatus(ctx context.Context, id int64, status models.ProofStatus, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.proofs[id]
	if !ok {
		return sql.ErrNoRows
	}
	p.Status = status
	p.UpdatedAt = at
	s.proofs[id] = p
	return nil
}

func (s *Store) CreatePortalToken(ctx context.Context, t *models.PortalToken) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t.ID = s.nextID()
	s.tokens[t.ID] = *t
	return nil
}

func (s *Store) GetPortalTokenByHash(ctx context.Context, hash string) (*models.PortalToken, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, t := range s.tokens {
		if t.TokenHash == hash {
			return &t, nil
		}
	}
	return nil, sql.ErrNoRows
}

func (s *Store) AppendEvent(ctx context.Context, e *models.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	e.ID = int64(len(s.events) + 1)
	cp := *e
	cp.Payload = make(models.Payload, len(e.Payload))
	for k, v := range e.Payload {
		cp.Payload[k] = v
	}
	s.events = append(s.events, cp)
	return nil
}

func (s *Store) ListEvents(ctx context.Context, f models.EventFilter) ([]models.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.Event
	for _, e := range s.events {
		if f.WorkOrderID != 0 && !belongsTo(e, f.WorkOrderID) {
			continue
		}
		if f.EntityType != "" && e.EntityType != f.EntityType {
			continue
		}
		if f.EntityID != 0 && e.EntityID != f.EntityID {
			continue
		}
		if f.EventType != "" && e.EventType != f.EventType {
			continue
		}
		out = append(out, e)
		if f.Limit > 0 && len(out) == f.Limit {
			break
		}
	}
	return out, nil
}

func belongsTo(e models.Event, workOrderID int64) bool {
	if e.EntityType == "work_order" && e.EntityID == workOrderID {
		return true
	}
	id, ok := e.Payload["work_order_id"].(int64)
	return ok && id == workOrderID
}
