package workorder_test

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"
	"workorders/internal/apperr"
	"workorders/internal/eventlog"
	"workorders/internal/memstore"
	"workorders/internal/portal"
	"workorders/internal/workorder"
	"workorders/models"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

var admin = models.Admin(1)

type memDocs struct {
	mu    sync.Mutex
	n     int
	files map[string][]byte
}

func (d *memDocs) Store(ctx context.Context, filename string, data []byte) (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.n++
	id := fmt.Sprintf("doc-%d-%s", d.n, filename)
	d.files[id] = append([]byte(nil), data...)
	return id, nil
}

func (d *memDocs) Retrieve(ctx context.Context, id string) ([]byte, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	b, ok := d.files[id]
	if !ok {
		return nil, apperr.NotFound("document %s", id)
	}
	return b, nil
}

func (d *memDocs) Remove(ctx context.Context, id string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.files, id)
	return nil
}

type env struct {
	svc   *workorder.Service
	store *memstore.Store
	docs  *memDocs
}

func newEnv(t *testing.T) *env {
	t.Helper()
	tokens, err := portal.NewService("engine-test", 0, nil)
	require.NoError(t, err)
	e := &env{store: memstore.New(), docs: &memDocs{files: map[string][]byte{}}}
	e.svc = workorder.NewService(workorder.Config{
		Store:     e.store,
		Tokens:    tokens,
		Documents: e.docs,
	})
	return e
}

func tokenOf(link string) string {
	return strings.TrimPrefix(link, "/p/wo/")
}

func (e *env) createFixed(t *testing.T, offer int64) (*models.WorkOrder, string) {
	t.Helper()
	res, err := e.svc.Create(context.Background(), admin, workorder.CreateInput{
		PropertyID:  10,
		Type:        models.TypeFixed,
		Title:       "Troca de torneira",
		Description: "Cozinha, vazamento constante",
		OfferAmount: decimal.NewNullDecimal(decimal.NewFromInt(offer)),
	})
	require.NoError(t, err)
	return res.WorkOrder, tokenOf(res.PortalLinks[workorder.LinkNegotiation])
}

func (e *env) createQuote(t *testing.T) (*models.WorkOrder, string) {
	t.Helper()
	res, err := e.svc.Create(context.Background(), admin, workorder.CreateInput{
		PropertyID:  11,
		Type:        models.TypeQuote,
		Title:       "Pintura da fachada",
		Description: "Fachada frontal e muro",
	})
	require.NoError(t, err)
	return res.WorkOrder, tokenOf(res.PortalLinks[workorder.LinkNegotiation])
}

func bid(name, phone string) workorder.BidInput {
	return workorder.BidInput{ProviderName: name, ProviderPhone: phone}
}

func quoteBid(name string, lines ...models.QuoteLine) workorder.BidInput {
	in := bid(name, "11 98888-7777")
	in.Lines = lines
	return in
}

func line(qty, price int64) models.QuoteLine {
	return models.QuoteLine{Kind: models.LineLabor, Name: "servico", Quantity: decimal.NewFromInt(qty), UnitPrice: decimal.NewFromInt(price)}
}

func proofFor(name, phone string) workorder.ProofInput {
	return workorder.ProofInput{
		ProviderName:    name,
		ProviderPhone:   phone,
		PixKeyType:      models.PixCPF,
		PixKeyValue:     "123.456.789-09",
		PixReceiverName: name,
	}
}

var photo = workorder.Photo{Filename: "foto.jpg", Data: []byte("\xff\xd8\xff jpeg")}

func (e *env) action(t *testing.T, token string) models.Action {
	t.Helper()
	v, err := e.svc.Portal(context.Background(), token)
	require.NoError(t, err)
	return v.AllowedAction
}

func TestCreateValidation(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	_, err := e.svc.Create(ctx, admin, workorder.CreateInput{PropertyID: 1, Type: models.TypeFixed, Title: "Telhado", Description: "Goteira"})
	require.ErrorIs(t, err, apperr.ErrValidation)

	_, err = e.svc.Create(ctx, admin, workorder.CreateInput{PropertyID: 0, Type: models.TypeQuote, Title: "Telhado", Description: "Goteira"})
	require.ErrorIs(t, err, apperr.ErrValidation)

	_, err = e.svc.Create(ctx, admin, workorder.CreateInput{PropertyID: 1, Type: "hourly", Title: "Telhado", Description: "Goteira"})
	require.ErrorIs(t, err, apperr.ErrValidation)

	_, err = e.svc.Create(ctx, models.Provider, workorder.CreateInput{PropertyID: 1, Type: models.TypeQuote, Title: "Telhado", Description: "Goteira"})
	require.ErrorIs(t, err, apperr.ErrForbidden)
}

func TestCreateQuoteDropsOfferAmount(t *testing.T) {
	e := newEnv(t)
	res, err := e.svc.Create(context.Background(), admin, workorder.CreateInput{
		PropertyID:  3,
		Type:        models.TypeQuote,
		Title:       "Reparo eletrico",
		Description: "Disjuntor desarmando",
		OfferAmount: decimal.NewNullDecimal(decimal.NewFromInt(500)),
	})
	require.NoError(t, err)
	require.Equal(t, models.StatusQuoteRequested, res.WorkOrder.Status)
	require.False(t, res.WorkOrder.OfferAmount.Valid)
	require.Equal(t, int64(1), *res.WorkOrder.CreatedByUserID)
	require.True(t, strings.HasPrefix(res.PortalLinks["negotiation"], "/p/wo/"))
}

func TestFixedOfferScenario(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	wo, negotiation := e.createFixed(t, 1200)
	require.Equal(t, models.StatusOfferOpen, wo.Status)
	require.Equal(t, models.ActionSubmitInterest, e.action(t, negotiation))

	a, err := e.svc.SubmitInterest(ctx, negotiation, bid("Ana Lima", "(11) 91234-5678"))
	require.NoError(t, err)
	require.True(t, a.Accepted)
	require.Equal(t, models.StatusOfferOpen, a.Status)
	b, err := e.svc.SubmitInterest(ctx, negotiation, bid("Bruno Reis", "21 99876-5432"))
	require.NoError(t, err)

	sel, err := e.svc.SelectInterest(ctx, admin, wo.ID, a.ID)
	require.NoError(t, err)
	require.Equal(t, models.StatusAssigned, sel.WorkOrder.Status)
	require.True(t, sel.WorkOrder.ApprovedAmount.Decimal.Equal(decimal.NewFromInt(1200)))
	execution := tokenOf(sel.PortalLinks[workorder.LinkExecution])
	require.NotEmpty(t, execution)

	d, err := e.svc.Get(ctx, wo.ID)
	require.NoError(t, err)
	require.Len(t, d.Interests, 2)
	for _, i := range d.Interests {
		switch i.ID {
		case a.ID:
			require.Equal(t, models.InterestSelected, i.Status)
			require.Equal(t, "+5511912345678", i.ProviderPhone)
		case b.ID:
			require.Equal(t, models.InterestRejected, i.Status)
		}
		require.False(t, i.Late)
	}

	require.Equal(t, models.ActionReadOnly, e.action(t, negotiation))
	require.Equal(t, models.ActionSubmitProof, e.action(t, execution))

	_, err = e.svc.SubmitProof(ctx, execution, proofFor("Ana Lima", "11912345678"), photo)
	require.NoError(t, err)
	require.Equal(t, models.ActionReadOnly, e.action(t, execution))

	rw, err := e.svc.RequestRework(ctx, admin, wo.ID)
	require.NoError(t, err)
	require.Equal(t, models.StatusReworkRequested, rw.Status)
	require.Equal(t, models.ActionSubmitProof, e.action(t, execution))

	_, err = e.svc.SubmitProof(ctx, execution, proofFor("ana lima", "31 3333-4444"), photo)
	require.NoError(t, err)

	closed, err := e.svc.ApproveProof(ctx, admin, wo.ID)
	require.NoError(t, err)
	require.Equal(t, models.StatusClosed, closed.Status)

	_, err = e.svc.SubmitProof(ctx, execution, proofFor("Ana Lima", "11912345678"), photo)
	require.ErrorIs(t, err, apperr.ErrInvalidStage)

	d, err = e.svc.Get(ctx, wo.ID)
	require.NoError(t, err)
	require.Len(t, d.Proofs, 2)
	require.Equal(t, models.ProofReworkRequested, d.Proofs[0].Status)
	require.Equal(t, models.ProofApproved, d.Proofs[1].Status)
	require.Equal(t, models.ActionReadOnly, d.AllowedAction)

	events, err := e.svc.Events(ctx, wo.ID)
	require.NoError(t, err)
	var types []string
	for _, ev := range events {
		types = append(types, ev.EventType)
	}
	require.Equal(t, []string{
		eventlog.WorkOrderCreated,
		eventlog.PortalTokenIssued,
		eventlog.InterestSubmitted,
		eventlog.InterestSubmitted,
		eventlog.InterestSelected,
		eventlog.PortalTokenIssued,
		eventlog.ProofSubmitted,
		eventlog.ReworkRequested,
		eventlog.ProofSubmitted,
		eventlog.ProofApproved,
		eventlog.WorkOrderClosed,
	}, types)
}

func TestQuoteTotalComputedServerSide(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	wo, negotiation := e.createQuote(t)

	r, err := e.svc.SubmitQuote(ctx, negotiation, quoteBid("Carlos", line(2, 50), line(1, 100)))
	require.NoError(t, err)
	require.Equal(t, models.StatusQuoteSubmitted, r.Status)

	q, err := e.store.GetQuote(ctx, r.ID)
	require.NoError(t, err)
	require.True(t, q.TotalAmount.Equal(decimal.NewFromInt(200)), "total %s", q.TotalAmount)
	require.Equal(t, wo.ID, q.WorkOrderID)
	require.Equal(t, models.QuoteSubmitted, q.Status)
}

func TestQuoteValidation(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	_, negotiation := e.createQuote(t)

	neg := line(1, 10)
	neg.Quantity = decimal.NewFromInt(-1)
	_, err := e.svc.SubmitQuote(ctx, negotiation, quoteBid("Carlos", neg))
	require.ErrorIs(t, err, apperr.ErrValidation)

	_, err = e.svc.SubmitQuote(ctx, negotiation, quoteBid("Carlos"))
	require.ErrorIs(t, err, apperr.ErrValidation)

	_, err = e.svc.SubmitQuote(ctx, negotiation, quoteBid("C", line(1, 1)))
	require.ErrorIs(t, err, apperr.ErrValidation)

	_, err = e.svc.SubmitInterest(ctx, negotiation, bid("Carlos", "11999999999"))
	require.ErrorIs(t, err, apperr.ErrInvalidStage)

	require.Equal(t, models.ActionSubmitQuote, e.action(t, negotiation))
}

// seedQuote вставляет смету напрямую, как при гонке двух исполнителей
func (e *env) seedQuote(t *testing.T, woID int64, name string, total int64) int64 {
	t.Helper()
	q := &models.Quote{
		WorkOrderID:  woID,
		ProviderName: name,
		Lines:        models.QuoteLines{line(1, total)},
		TotalAmount:  decimal.NewFromInt(total),
		Status:       models.QuoteSubmitted,
	}
	require.NoError(t, e.store.CreateQuote(context.Background(), q))
	return q.ID
}

func amount(v int64) decimal.NullDecimal {
	return decimal.NewNullDecimal(decimal.NewFromInt(v))
}

func TestApproveQuoteDecisions(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	wo, negotiation := e.createQuote(t)

	r, err := e.svc.SubmitQuote(ctx, negotiation, quoteBid("Ana", line(2, 100)))
	require.NoError(t, err)
	quoteA := r.ID
	quoteB := e.seedQuote(t, wo.ID, "Bruno", 150)

	_, err = e.svc.SubmitQuote(ctx, negotiation, quoteBid("Caio", line(1, 1)))
	require.ErrorIs(t, err, apperr.ErrInvalidStage)

	_, err = e.svc.ApproveQuote(ctx, admin, wo.ID, quoteA, decimal.NullDecimal{})
	require.ErrorIs(t, err, apperr.ErrValidation)

	first, err := e.svc.ApproveQuote(ctx, admin, wo.ID, quoteA, amount(180))
	require.NoError(t, err)
	require.Equal(t, models.StatusApprovedForExecution, first.WorkOrder.Status)
	require.Equal(t, quoteA, *first.WorkOrder.AssignedQuoteID)
	require.Contains(t, first.PortalLinks, workorder.LinkExecution)

	_, err = e.svc.ApproveQuote(ctx, admin, wo.ID, quoteB, amount(150))
	require.ErrorIs(t, err, apperr.ErrAlreadyDecided)

	again, err := e.svc.ApproveQuote(ctx, admin, wo.ID, quoteA, amount(180))
	require.NoError(t, err)
	require.Empty(t, again.PortalLinks)
	require.Equal(t, first.WorkOrder.UpdatedAt, again.WorkOrder.UpdatedAt)
	require.True(t, again.WorkOrder.ApprovedAmount.Decimal.Equal(decimal.NewFromInt(180)))

	_, err = e.svc.ApproveQuote(ctx, admin, wo.ID, quoteA, amount(170))
	require.ErrorIs(t, err, apperr.ErrAlreadyDecided)

	_, err = e.svc.SubmitQuote(ctx, negotiation, quoteBid("Caio", line(1, 1)))
	require.ErrorIs(t, err, apperr.ErrInvalidStage)

	d, err := e.svc.Get(ctx, wo.ID)
	require.NoError(t, err)
	approved := 0
	for _, q := range d.Quotes {
		if q.Status == models.QuoteApproved {
			approved++
			require.Equal(t, quoteA, q.ID)
		}
	}
	require.Equal(t, 1, approved)

	issued, err := e.store.ListEvents(ctx, models.EventFilter{WorkOrderID: wo.ID, EventType: eventlog.PortalTokenIssued})
	require.NoError(t, err)
	require.Len(t, issued, 2)
}

func TestDecideNotFoundAndWrongType(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	woA, _ := e.createQuote(t)
	woB, _ := e.createQuote(t)
	foreign := e.seedQuote(t, woB.ID, "Outro", 10)

	_, err := e.svc.ApproveQuote(ctx, admin, woA.ID, foreign, amount(10))
	require.ErrorIs(t, err, apperr.ErrNotFound)

	_, err = e.svc.ApproveQuote(ctx, admin, 9999, foreign, amount(10))
	require.ErrorIs(t, err, apperr.ErrNotFound)

	_, err = e.svc.SelectInterest(ctx, admin, woA.ID, foreign)
	require.ErrorIs(t, err, apperr.ErrValidation)

	_, err = e.svc.ApproveQuote(ctx, models.Provider, woA.ID, foreign, amount(10))
	require.ErrorIs(t, err, apperr.ErrForbidden)
}

func TestApproveQuoteBeforeSubmissionIsInvalidStage(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	wo, _ := e.createQuote(t)
	// смета вставлена, но статус ещё quote_requested
	q := e.seedQuote(t, wo.ID, "Ana", 100)

	_, err := e.svc.ApproveQuote(ctx, admin, wo.ID, q, amount(100))
	require.ErrorIs(t, err, apperr.ErrInvalidStage)
}

func TestConcurrentApprovalsHaveOneWinner(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	wo, negotiation := e.createQuote(t)
	r, err := e.svc.SubmitQuote(ctx, negotiation, quoteBid("Ana", line(1, 100)))
	require.NoError(t, err)
	ids := []int64{r.ID, e.seedQuote(t, wo.ID, "Bruno", 90), e.seedQuote(t, wo.ID, "Caio", 80)}

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		links   int
		winners = map[int64]bool{}
		errs    []error
	)
	for i := 0; i < 30; i++ {
		wg.Add(1)
		go func(id int64) {
			defer wg.Done()
			res, err := e.svc.ApproveQuote(ctx, admin, wo.ID, id, amount(75))
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				errs = append(errs, err)
				return
			}
			winners[id] = true
			links += len(res.PortalLinks)
		}(ids[i%len(ids)])
	}
	wg.Wait()

	for _, err := range errs {
		require.ErrorIs(t, err, apperr.ErrAlreadyDecided)
	}
	require.Len(t, winners, 1)
	require.Len(t, errs, 20)
	require.Equal(t, 1, links)

	quotes, err := e.store.ListQuotes(ctx, wo.ID)
	require.NoError(t, err)
	approved := 0
	for _, q := range quotes {
		if q.Status == models.QuoteApproved {
			approved++
			require.True(t, winners[q.ID])
		}
	}
	require.Equal(t, 1, approved)
}

func TestConcurrentInterestsAreAllAccepted(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	wo, negotiation := e.createFixed(t, 300)

	var wg sync.WaitGroup
	errs := make(chan error, 20)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := e.svc.SubmitInterest(ctx, negotiation, bid(fmt.Sprintf("Prestador %02d", i), fmt.Sprintf("119%08d", i)))
			errs <- err
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	list, err := e.store.ListInterests(ctx, wo.ID)
	require.NoError(t, err)
	require.Len(t, list, 20)
}

func TestLateBidsStayVisible(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	wo, negotiation := e.createFixed(t, 400)
	a, err := e.svc.SubmitInterest(ctx, negotiation, bid("Ana", "11912345678"))
	require.NoError(t, err)
	_, err = e.svc.SelectInterest(ctx, admin, wo.ID, a.ID)
	require.NoError(t, err)

	late := &models.Interest{WorkOrderID: wo.ID, ProviderName: "Atrasado", Status: models.InterestSubmitted}
	require.NoError(t, e.store.CreateInterest(ctx, late))

	d, err := e.svc.Get(ctx, wo.ID)
	require.NoError(t, err)
	require.Len(t, d.Interests, 2)
	require.False(t, d.Interests[0].Late)
	require.True(t, d.Interests[1].Late)

	_, err = e.svc.SelectInterest(ctx, admin, wo.ID, late.ID)
	require.ErrorIs(t, err, apperr.ErrAlreadyDecided)

	again, err := e.svc.SelectInterest(ctx, admin, wo.ID, a.ID)
	require.NoError(t, err)
	require.Empty(t, again.PortalLinks)
}

func TestQuoteRoundTripGrants(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	wo, negotiation := e.createQuote(t)
	check := func(neg, exec models.Action, execToken string) {
		t.Helper()
		require.Equal(t, neg, e.action(t, negotiation))
		if execToken != "" {
			require.Equal(t, exec, e.action(t, execToken))
		}
	}

	check(models.ActionSubmitQuote, "", "")
	r, err := e.svc.SubmitQuote(ctx, negotiation, quoteBid("Ana", line(3, 20)))
	require.NoError(t, err)
	check(models.ActionReadOnly, "", "")

	res, err := e.svc.ApproveQuote(ctx, admin, wo.ID, r.ID, amount(60))
	require.NoError(t, err)
	exec := tokenOf(res.PortalLinks[workorder.LinkExecution])
	check(models.ActionReadOnly, models.ActionSubmitProof, exec)

	v, err := e.svc.Portal(ctx, exec)
	require.NoError(t, err)
	require.Equal(t, models.ScopeExecution, v.Scope)
	require.NotNil(t, v.Quote)
	require.Equal(t, r.ID, v.Quote.ID)

	_, err = e.svc.SubmitProof(ctx, exec, proofFor("Ana", "11 98888-7777"), photo)
	require.NoError(t, err)
	check(models.ActionReadOnly, models.ActionReadOnly, exec)

	_, err = e.svc.RequestRework(ctx, admin, wo.ID)
	require.NoError(t, err)
	check(models.ActionReadOnly, models.ActionSubmitProof, exec)

	_, err = e.svc.SubmitProof(ctx, exec, proofFor("Ana", "11 98888-7777"), photo)
	require.NoError(t, err)
	check(models.ActionReadOnly, models.ActionReadOnly, exec)

	_, err = e.svc.ApproveProof(ctx, admin, wo.ID)
	require.NoError(t, err)
	check(models.ActionReadOnly, models.ActionReadOnly, exec)
}

func TestProofChecks(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	wo, negotiation := e.createFixed(t, 250)
	a, err := e.svc.SubmitInterest(ctx, negotiation, bid("Ana Lima", "11912345678"))
	require.NoError(t, err)

	_, err = e.svc.SubmitProof(ctx, negotiation, proofFor("Ana Lima", "11912345678"), photo)
	require.ErrorIs(t, err, apperr.ErrInvalidStage)

	sel, err := e.svc.SelectInterest(ctx, admin, wo.ID, a.ID)
	require.NoError(t, err)
	exec := tokenOf(sel.PortalLinks[workorder.LinkExecution])

	_, err = e.svc.ApproveProof(ctx, admin, wo.ID)
	require.ErrorIs(t, err, apperr.ErrInvalidStage)

	_, err = e.svc.SubmitProof(ctx, exec, proofFor("Outra Pessoa", "21999990000"), photo)
	require.ErrorIs(t, err, apperr.ErrValidation)

	_, err = e.svc.SubmitProof(ctx, exec, proofFor("Ana Lima", "11912345678"), workorder.Photo{Filename: "x.jpg"})
	require.ErrorIs(t, err, apperr.ErrValidation)

	bad := proofFor("Ana Lima", "11912345678")
	bad.PixKeyValue = "123"
	_, err = e.svc.SubmitProof(ctx, exec, bad, photo)
	require.ErrorIs(t, err, apperr.ErrValidation)
	require.Empty(t, e.docs.files)

	in := proofFor("Ana Lima", "11912345678")
	r, err := e.svc.SubmitProof(ctx, exec, in, photo)
	require.NoError(t, err)

	p, data, err := e.svc.ProofPhoto(ctx, wo.ID, r.ID)
	require.NoError(t, err)
	require.Equal(t, photo.Data, data)
	require.Equal(t, "12345678909", p.PixKeyValue)

	_, _, err = e.svc.ProofPhoto(ctx, wo.ID+1, r.ID)
	require.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestCancel(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	wo, negotiation := e.createFixed(t, 100)

	_, err := e.svc.Cancel(ctx, models.Provider, wo.ID)
	require.ErrorIs(t, err, apperr.ErrForbidden)

	c, err := e.svc.Cancel(ctx, admin, wo.ID)
	require.NoError(t, err)
	require.Equal(t, models.StatusCanceled, c.Status)
	require.Equal(t, models.ActionReadOnly, e.action(t, negotiation))

	_, err = e.svc.SubmitInterest(ctx, negotiation, bid("Ana", "11912345678"))
	require.ErrorIs(t, err, apperr.ErrInvalidStage)

	_, err = e.svc.Cancel(ctx, admin, wo.ID)
	require.ErrorIs(t, err, apperr.ErrInvalidStage)
}

func TestDeleteCascadesButKeepsEvents(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	wo, negotiation := e.createFixed(t, 100)
	_, err := e.svc.SubmitInterest(ctx, negotiation, bid("Ana", "11912345678"))
	require.NoError(t, err)

	require.NoError(t, e.svc.Delete(ctx, admin, wo.ID))

	_, err = e.svc.Get(ctx, wo.ID)
	require.ErrorIs(t, err, apperr.ErrNotFound)
	_, err = e.svc.Portal(ctx, negotiation)
	require.ErrorIs(t, err, portal.ErrTokenNotFound)
	list, err := e.store.ListInterests(ctx, wo.ID)
	require.NoError(t, err)
	require.Empty(t, list)

	events, err := e.svc.Events(ctx, wo.ID)
	require.NoError(t, err)
	require.Equal(t, eventlog.WorkOrderDeleted, events[len(events)-1].EventType)

	require.ErrorIs(t, e.svc.Delete(ctx, admin, wo.ID), apperr.ErrNotFound)
	_, err = e.svc.Events(ctx, 4242)
	require.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestListFilters(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	e.createFixed(t, 100)
	e.createQuote(t)

	all, err := e.svc.List(ctx, models.WorkOrderFilter{})
	require.NoError(t, err)
	require.Len(t, all, 2)

	fixed, err := e.svc.List(ctx, models.WorkOrderFilter{Type: models.TypeFixed})
	require.NoError(t, err)
	require.Len(t, fixed, 1)

	found, err := e.svc.List(ctx, models.WorkOrderFilter{Search: "FACHADA"})
	require.NoError(t, err)
	require.Len(t, found, 1)
	require.Equal(t, models.TypeQuote, found[0].Type)

	none, err := e.svc.List(ctx, models.WorkOrderFilter{PropertyID: 999})
	require.NoError(t, err)
	require.NotNil(t, none)
	require.Empty(t, none)

	_, err = e.svc.List(ctx, models.WorkOrderFilter{Type: "hourly"})
	require.ErrorIs(t, err, apperr.ErrValidation)
}

func TestUnknownPortalToken(t *testing.T) {
	e := newEnv(t)
	_, err := e.svc.SubmitInterest(context.Background(), "does-not-exist", bid("Ana", "11912345678"))
	require.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestExpiredLinksDegrade(t *testing.T) {
	now := time.Date(2026, 2, 1, 8, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }
	tokens, err := portal.NewService("ttl", 24*time.Hour, clock)
	require.NoError(t, err)
	store := memstore.New()
	svc := workorder.NewService(workorder.Config{Store: store, Tokens: tokens, Documents: &memDocs{files: map[string][]byte{}}, Now: clock})

	res, err := svc.Create(context.Background(), admin, workorder.CreateInput{PropertyID: 1, Type: models.TypeQuote, Title: "Vidro", Description: "Janela quebrada"})
	require.NoError(t, err)
	token := tokenOf(res.PortalLinks[workorder.LinkNegotiation])

	now = now.Add(25 * time.Hour)
	v, err := svc.Portal(context.Background(), token)
	require.NoError(t, err)
	require.Equal(t, models.ActionReadOnly, v.AllowedAction)

	_, err = svc.SubmitQuote(context.Background(), token, quoteBid("Ana", line(1, 1)))
	require.ErrorIs(t, err, apperr.ErrInvalidStage)
}

func requireInvalidField(t *testing.T, err error, field string) {
	t.Helper()
	require.ErrorIs(t, err, apperr.ErrValidation)
	var ae *apperr.Error
	require.ErrorAs(t, err, &ae)
	require.Contains(t, ae.Fields, field)
}

func TestMoneyMustFitTwoDecimalColumns(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	wo, negotiation := e.createQuote(t)

	dec := decimal.RequireFromString
	priced := func(qty, price string) models.QuoteLine {
		return models.QuoteLine{Kind: models.LineMaterial, Name: "item", Quantity: dec(qty), UnitPrice: dec(price)}
	}

	_, err := e.svc.SubmitQuote(ctx, negotiation, quoteBid("Ana", priced("3", "0.333")))
	requireInvalidField(t, err, "lines[0].unit_price")

	_, err = e.svc.SubmitQuote(ctx, negotiation, quoteBid("Ana", priced("1.5", "0.25")))
	requireInvalidField(t, err, "lines[0].subtotal")

	_, err = e.svc.SubmitQuote(ctx, negotiation, quoteBid("Ana", priced("1", "1000000000000")))
	requireInvalidField(t, err, "lines[0].unit_price")

	_, err = e.svc.SubmitQuote(ctx, negotiation, quoteBid("Ana", priced("1", "600000000000"), priced("1", "600000000000")))
	requireInvalidField(t, err, "total_amount")

	quotes, err := e.store.ListQuotes(ctx, wo.ID)
	require.NoError(t, err)
	require.Empty(t, quotes)

	r, err := e.svc.SubmitQuote(ctx, negotiation, quoteBid("Ana", priced("0.5", "10.50")))
	require.NoError(t, err)
	q, err := e.store.GetQuote(ctx, r.ID)
	require.NoError(t, err)
	require.True(t, q.TotalAmount.Equal(dec("5.25")))

	_, err = e.svc.ApproveQuote(ctx, admin, wo.ID, r.ID, decimal.NewNullDecimal(dec("100.005")))
	requireInvalidField(t, err, "approved_amount")

	_, err = e.svc.ApproveQuote(ctx, admin, wo.ID, r.ID, decimal.NewNullDecimal(dec("123456789012345.678")))
	requireInvalidField(t, err, "approved_amount")

	_, err = e.svc.ApproveQuote(ctx, admin, wo.ID, r.ID, decimal.NewNullDecimal(dec("100.50")))
	require.NoError(t, err)
	again, err := e.svc.ApproveQuote(ctx, admin, wo.ID, r.ID, decimal.NewNullDecimal(dec("100.5")))
	require.NoError(t, err)
	require.Empty(t, again.PortalLinks)
}

func TestOfferAmountMustFitColumn(t *testing.T) {
	e := newEnv(t)
	for _, offer := range []string{"250.005", "1000000000000"} {
		_, err := e.svc.Create(context.Background(), admin, workorder.CreateInput{
			PropertyID:  10,
			Type:        models.TypeFixed,
			Title:       "Troca de torneira",
			Description: "Cozinha, vazamento constante",
			OfferAmount: decimal.NewNullDecimal(decimal.RequireFromString(offer)),
		})
		requireInvalidField(t, err, "offer_amount")
	}
	list, err := e.svc.List(context.Background(), models.WorkOrderFilter{})
	require.NoError(t, err)
	require.Empty(t, list)
}

// racingStore удаляет заявку перед первой транзакцией, как конкурирующий Delete
type racingStore struct {
	*memstore.Store
	victim int64
}

func (r *racingStore) WithTx(ctx context.Context, fn func(tx workorder.Tx) error) error {
	if r.victim != 0 {
		if err := r.Store.DeleteWorkOrder(ctx, r.victim); err != nil {
			return err
		}
		r.victim = 0
	}
	return r.Store.WithTx(ctx, fn)
}

func TestBidRacingDeleteIsNotFound(t *testing.T) {
	ctx := context.Background()
	tokens, err := portal.NewService("engine-test", 0, nil)
	require.NoError(t, err)
	store := &racingStore{Store: memstore.New()}
	svc := workorder.NewService(workorder.Config{Store: store, Tokens: tokens, Documents: &memDocs{files: map[string][]byte{}}})

	res, err := svc.Create(ctx, admin, workorder.CreateInput{
		PropertyID:  10,
		Type:        models.TypeFixed,
		Title:       "Troca de torneira",
		Description: "Cozinha, vazamento constante",
		OfferAmount: amount(300),
	})
	require.NoError(t, err)
	store.victim = res.WorkOrder.ID

	_, err = svc.SubmitInterest(ctx, tokenOf(res.PortalLinks[workorder.LinkNegotiation]), bid("Ana", "11912345678"))
	require.ErrorIs(t, err, apperr.ErrNotFound)

	left, err := store.ListInterests(ctx, res.WorkOrder.ID)
	require.NoError(t, err)
	require.Empty(t, left)
}
