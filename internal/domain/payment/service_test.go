package payment

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/redecare/redecare/internal/domain"
	"github.com/redecare/redecare/internal/platform/events"
	"github.com/redecare/redecare/internal/platform/notification"
)

// -- Mocks --

type mockRepo struct {
	items map[uuid.UUID]*Payment
}

func newMockRepo() *mockRepo {
	return &mockRepo{items: make(map[uuid.UUID]*Payment)}
}

func (m *mockRepo) Create(_ context.Context, p *Payment) error {
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	if p.Status == "" {
		p.Status = StatusPending
	}
	cp := *p
	m.items[p.ID] = &cp
	return nil
}

func (m *mockRepo) GetByID(_ context.Context, id uuid.UUID) (*Payment, error) {
	p, ok := m.items[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := *p
	return &cp, nil
}

func (m *mockRepo) Update(_ context.Context, p *Payment) error {
	if _, ok := m.items[p.ID]; !ok {
		return domain.ErrNotFound
	}
	p.VersionID++
	cp := *p
	m.items[p.ID] = &cp
	return nil
}

func (m *mockRepo) List(_ context.Context, status string, limit, offset int) ([]*Payment, int, error) {
	var result []*Payment
	for _, p := range m.items {
		if status == "" || p.Status == status {
			cp := *p
			result = append(result, &cp)
		}
	}
	return result, len(result), nil
}

func (m *mockRepo) ListByPayable(_ context.Context, payable PayableRef) ([]*Payment, error) {
	var result []*Payment
	for _, p := range m.items {
		if p.Payable == payable {
			cp := *p
			result = append(result, &cp)
		}
	}
	return result, nil
}

type mockGlossRepo struct {
	items map[uuid.UUID]*PaymentGloss
}

func newMockGlossRepo() *mockGlossRepo {
	return &mockGlossRepo{items: make(map[uuid.UUID]*PaymentGloss)}
}

func (m *mockGlossRepo) Create(_ context.Context, g *PaymentGloss) error {
	if g.ID == uuid.Nil {
		g.ID = uuid.New()
	}
	if g.Status == "" {
		g.Status = GlossApplied
	}
	cp := *g
	m.items[g.ID] = &cp
	return nil
}

func (m *mockGlossRepo) GetByID(_ context.Context, id uuid.UUID) (*PaymentGloss, error) {
	g, ok := m.items[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := *g
	return &cp, nil
}

func (m *mockGlossRepo) Update(_ context.Context, g *PaymentGloss) error {
	if _, ok := m.items[g.ID]; !ok {
		return domain.ErrNotFound
	}
	g.VersionID++
	cp := *g
	m.items[g.ID] = &cp
	return nil
}

func (m *mockGlossRepo) ListByPayment(_ context.Context, paymentID uuid.UUID) ([]*PaymentGloss, error) {
	var result []*PaymentGloss
	for _, g := range m.items {
		if g.PaymentID == paymentID {
			cp := *g
			result = append(result, &cp)
		}
	}
	return result, nil
}

func (m *mockGlossRepo) SumNonReverted(_ context.Context, paymentID uuid.UUID) (float64, error) {
	var sum float64
	for _, g := range m.items {
		if g.PaymentID == paymentID && g.Status != GlossReverted {
			sum += g.Amount
		}
	}
	return sum, nil
}

type mockRefundRepo struct {
	items map[uuid.UUID]*PaymentRefund
}

func newMockRefundRepo() *mockRefundRepo {
	return &mockRefundRepo{items: make(map[uuid.UUID]*PaymentRefund)}
}

func (m *mockRefundRepo) Create(_ context.Context, r *PaymentRefund) error {
	if r.ID == uuid.Nil {
		r.ID = uuid.New()
	}
	cp := *r
	m.items[r.ID] = &cp
	return nil
}

func (m *mockRefundRepo) GetByID(_ context.Context, id uuid.UUID) (*PaymentRefund, error) {
	r, ok := m.items[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := *r
	return &cp, nil
}

func (m *mockRefundRepo) ListByPayment(_ context.Context, paymentID uuid.UUID) ([]*PaymentRefund, error) {
	var result []*PaymentRefund
	for _, r := range m.items {
		if r.PaymentID == paymentID {
			cp := *r
			result = append(result, &cp)
		}
	}
	return result, nil
}

func (m *mockRefundRepo) SumCompleted(_ context.Context, paymentID uuid.UUID) (float64, error) {
	var sum float64
	for _, r := range m.items {
		if r.PaymentID == paymentID && r.Status == RefundCompleted {
			sum += r.Amount
		}
	}
	return sum, nil
}

type passTx struct{}

func (passTx) InTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return fn(ctx)
}

func newTestService() (*Service, *mockRepo, *mockGlossRepo, *mockRefundRepo, *events.Bus) {
	payments := newMockRepo()
	glosses := newMockGlossRepo()
	refunds := newMockRefundRepo()
	bus := events.NewBus(zerolog.Nop())
	svc := NewService(payments, glosses, refunds, passTx{}, bus,
		notification.NewWebhookNotifier("", zerolog.Nop()), zerolog.Nop())
	svc.now = func() time.Time { return testNow }
	return svc, payments, glosses, refunds, bus
}

func newPayable() PayableRef {
	return PayableRef{Kind: events.PayableBillingBatch, ID: uuid.New()}
}

// -- Tests --

func TestCreateDefaultsTotal(t *testing.T) {
	svc, _, _, _, _ := newTestService()
	ctx := context.Background()

	p, err := svc.Create(ctx, CreateInput{Payable: newPayable(), Amount: 500, DiscountAmount: 50})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if p.TotalAmount != 450 {
		t.Errorf("total = %v, want 450", p.TotalAmount)
	}
	if p.Status != StatusPending || p.Reference == "" {
		t.Errorf("payment = %+v", p)
	}

	explicit := 400.0
	q, err := svc.Create(ctx, CreateInput{Payable: newPayable(), Amount: 500, DiscountAmount: 50, TotalAmount: &explicit})
	if err != nil {
		t.Fatalf("create explicit: %v", err)
	}
	if q.TotalAmount != 400 {
		t.Errorf("explicit total = %v, want 400", q.TotalAmount)
	}
}

func TestCreateValidation(t *testing.T) {
	svc, _, _, _, _ := newTestService()
	ctx := context.Background()

	if _, err := svc.Create(ctx, CreateInput{Payable: PayableRef{Kind: "invoice", ID: uuid.New()}, Amount: 10}); err == nil {
		t.Error("expected payable validation error")
	}
	if _, err := svc.Create(ctx, CreateInput{Payable: newPayable(), Amount: 0}); err == nil {
		t.Error("expected amount validation error")
	}
	if _, err := svc.Create(ctx, CreateInput{Payable: newPayable(), Amount: 10, DiscountAmount: 20}); err == nil {
		t.Error("expected discount validation error")
	}
}

func TestProcessPublishesEvent(t *testing.T) {
	svc, _, _, _, bus := newTestService()
	ctx := context.Background()

	var got *events.PaymentEvent
	bus.Subscribe(events.PaymentProcessed, func(_ context.Context, evt events.Event) error {
		e := evt.Data.(events.PaymentEvent)
		got = &e
		return nil
	})

	payable := newPayable()
	p, err := svc.Create(ctx, CreateInput{Payable: payable, Amount: 300})
	if err != nil {
		t.Fatal(err)
	}
	processed, err := svc.Process(ctx, p.ID, 11, "transfer")
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	if processed.Status != StatusCompleted || processed.PaidAt == nil {
		t.Errorf("after process: %+v", processed)
	}
	if got == nil || got.PayableID != payable.ID || got.Amount != 300 {
		t.Errorf("event = %+v", got)
	}
}

// Scenario from the settlement flow: amount 500, discount 50 gives total 450;
// a 100 gloss drops it to 350; a full 350 refund marks the payment refunded.
func TestGlossAndFullRefundScenario(t *testing.T) {
	svc, payments, _, _, _ := newTestService()
	ctx := context.Background()

	p, err := svc.Create(ctx, CreateInput{Payable: newPayable(), Amount: 500, DiscountAmount: 50})
	if err != nil {
		t.Fatal(err)
	}

	g, err := svc.ApplyGloss(ctx, p.ID, GlossInput{Amount: 100, Reason: "unauthorized procedure"}, 11)
	if err != nil {
		t.Fatalf("apply gloss: %v", err)
	}
	if g.Status != GlossApplied || g.Amount != 100 {
		t.Errorf("gloss = %+v", g)
	}

	reloaded, _ := payments.GetByID(ctx, p.ID)
	if reloaded.GlossAmount != 100 || reloaded.TotalAmount != 350 {
		t.Errorf("ledger after gloss: gloss=%v total=%v", reloaded.GlossAmount, reloaded.TotalAmount)
	}

	re, err := svc.Refund(ctx, p.ID, RefundInput{Amount: 350, Reason: "contract terminated"}, 11)
	if err != nil {
		t.Fatalf("refund: %v", err)
	}
	if re.Status != RefundCompleted || re.ProcessedBy == nil {
		t.Errorf("refund = %+v", re)
	}

	reloaded, _ = payments.GetByID(ctx, p.ID)
	if reloaded.Status != StatusRefunded {
		t.Errorf("status = %s, want refunded", reloaded.Status)
	}
}

func TestPartialRefund(t *testing.T) {
	svc, payments, _, _, _ := newTestService()
	ctx := context.Background()

	p, err := svc.Create(ctx, CreateInput{Payable: newPayable(), Amount: 400})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := svc.Refund(ctx, p.ID, RefundInput{Amount: 150}, 11); err != nil {
		t.Fatalf("refund: %v", err)
	}

	reloaded, _ := payments.GetByID(ctx, p.ID)
	if reloaded.Status != StatusPartiallyRefunded {
		t.Errorf("status = %s, want partially refunded", reloaded.Status)
	}

	// Second refund completes the balance.
	if _, err := svc.Refund(ctx, p.ID, RefundInput{Amount: 250}, 11); err != nil {
		t.Fatalf("second refund: %v", err)
	}
	reloaded, _ = payments.GetByID(ctx, p.ID)
	if reloaded.Status != StatusRefunded {
		t.Errorf("status = %s, want refunded", reloaded.Status)
	}
}

func TestRefundExceedingBalanceIsInvariantViolation(t *testing.T) {
	svc, payments, _, refunds, _ := newTestService()
	ctx := context.Background()

	p, err := svc.Create(ctx, CreateInput{Payable: newPayable(), Amount: 200})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := svc.Refund(ctx, p.ID, RefundInput{Amount: 150}, 11); err != nil {
		t.Fatal(err)
	}

	_, err = svc.Refund(ctx, p.ID, RefundInput{Amount: 100}, 11)
	if !errors.Is(err, domain.ErrInvariant) {
		t.Fatalf("got %v, want invariant violation", err)
	}

	// The failed refund must leave zero ledger mutation.
	reloaded, _ := payments.GetByID(ctx, p.ID)
	if reloaded.Status != StatusPartiallyRefunded {
		t.Errorf("status mutated to %s", reloaded.Status)
	}
	sum, _ := refunds.SumCompleted(ctx, p.ID)
	if sum != 150 {
		t.Errorf("refund sum = %v, want 150", sum)
	}
}

// After any sequence of gloss and refund operations the ledger equation and
// the child-sum invariant both hold.
func TestLedgerInvariantsAfterOperationSequence(t *testing.T) {
	svc, payments, glosses, _, _ := newTestService()
	ctx := context.Background()

	p, err := svc.Create(ctx, CreateInput{Payable: newPayable(), Amount: 1000, DiscountAmount: 100})
	if err != nil {
		t.Fatal(err)
	}

	g1, err := svc.ApplyGloss(ctx, p.ID, GlossInput{Amount: 120, Reason: "code mismatch"}, 1)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := svc.ApplyGloss(ctx, p.ID, GlossInput{Amount: 80, Reason: "duplicate line", IsAppealable: true}, 1); err != nil {
		t.Fatal(err)
	}
	if _, err := svc.RevertGloss(ctx, g1.ID, 2, "payer accepted appeal"); err != nil {
		t.Fatal(err)
	}
	if _, err := svc.Refund(ctx, p.ID, RefundInput{Amount: 200}, 2); err != nil {
		t.Fatal(err)
	}

	reloaded, _ := payments.GetByID(ctx, p.ID)
	if reloaded.TotalAmount != Round(reloaded.Amount-reloaded.DiscountAmount-reloaded.GlossAmount) {
		t.Errorf("ledger equation broken: %+v", reloaded)
	}
	sum, _ := glosses.SumNonReverted(ctx, p.ID)
	if sum != reloaded.GlossAmount {
		t.Errorf("gloss child sum %v != ledger gloss %v", sum, reloaded.GlossAmount)
	}
	if reloaded.GlossAmount != 80 || reloaded.TotalAmount != 820 {
		t.Errorf("amounts: gloss=%v total=%v", reloaded.GlossAmount, reloaded.TotalAmount)
	}
}

func TestRevertGlossRestoresLedgerExactly(t *testing.T) {
	svc, payments, _, _, bus := newTestService()
	ctx := context.Background()

	var reverted *events.PaymentEvent
	bus.Subscribe(events.GlossReverted, func(_ context.Context, evt events.Event) error {
		e := evt.Data.(events.PaymentEvent)
		reverted = &e
		return nil
	})

	p, err := svc.Create(ctx, CreateInput{Payable: newPayable(), Amount: 300})
	if err != nil {
		t.Fatal(err)
	}
	g, err := svc.ApplyGloss(ctx, p.ID, GlossInput{Amount: 45.5, Reason: "partial denial"}, 1)
	if err != nil {
		t.Fatal(err)
	}

	before, _ := payments.GetByID(ctx, p.ID)
	if _, err := svc.RevertGloss(ctx, g.ID, 2, ""); err != nil {
		t.Fatalf("revert: %v", err)
	}
	after, _ := payments.GetByID(ctx, p.ID)

	if after.GlossAmount != Round(before.GlossAmount-g.Amount) {
		t.Errorf("gloss: before=%v after=%v", before.GlossAmount, after.GlossAmount)
	}
	if after.TotalAmount != Round(before.TotalAmount+g.Amount) {
		t.Errorf("total: before=%v after=%v", before.TotalAmount, after.TotalAmount)
	}
	if reverted == nil || reverted.Amount != g.Amount {
		t.Errorf("revert event = %+v", reverted)
	}

	// A reverted gloss cannot be reverted again.
	if _, err := svc.RevertGloss(ctx, g.ID, 2, ""); !errors.Is(err, domain.ErrInvalidTransition) {
		t.Fatalf("double revert: got %v", err)
	}
}

func TestAppealFrozenGlossCannotRevert(t *testing.T) {
	svc, _, _, _, _ := newTestService()
	ctx := context.Background()

	p, err := svc.Create(ctx, CreateInput{Payable: newPayable(), Amount: 300})
	if err != nil {
		t.Fatal(err)
	}
	g, err := svc.ApplyGloss(ctx, p.ID, GlossInput{Amount: 30, Reason: "denied", IsAppealable: true}, 1)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := svc.MarkGlossAppealed(ctx, g.ID, 2, "authorization attached"); err != nil {
		t.Fatalf("appeal: %v", err)
	}
	if _, err := svc.RevertGloss(ctx, g.ID, 2, ""); !errors.Is(err, domain.ErrInvalidTransition) {
		t.Fatalf("revert appealed: got %v", err)
	}
}
