package proposals

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"apolice-backend/internal/application/credit"
	"apolice-backend/internal/domain"
	"apolice-backend/internal/infrastructure/asaas"
	"apolice-backend/internal/pkg/apperrors"
	"apolice-backend/internal/pkg/testdb"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

type fakeGateway struct {
	mu        sync.Mutex
	customers int
	payments  []PaymentRequest
	err       error
}

func (f *fakeGateway) EnsureCustomer(ctx context.Context, c Customer) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.customers++
	return "cus_000001", nil
}

func (f *fakeGateway) CreatePayment(ctx context.Context, req PaymentRequest) (*Payment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	f.payments = append(f.payments, req)
	return &Payment{ID: "pay_123", PageURL: "https://pay.example/i/pay_123"}, nil
}

var broker = domain.Principal{UserID: 10, Role: domain.RoleBroker}

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func setup(t *testing.T, available string, ccgSigned bool) (*Service, *gorm.DB, *fakeGateway, domain.Tomador) {
	t.Helper()
	db := testdb.Open(t)
	tm := domain.Tomador{CNPJ: "11222333000181", Name: "Solar Ltda", ApprovedCredit: d(available), AvailableCredit: d(available)}
	require.NoError(t, db.Create(&tm).Error)
	if ccgSigned {
		require.NoError(t, db.Create(&domain.SignatureRequest{
			Kind: domain.EnvelopeCCG, TomadorID: tm.ID, Status: domain.SignatureSigned, Step: domain.StepDownloaded,
		}).Error)
	}
	gw := &fakeGateway{}
	s := &Service{
		DB:          db,
		Ledger:      &credit.Ledger{DB: db},
		Gateway:     gw,
		BillingType: "UNDEFINED",
		DueDays:     3,
		Now:         func() time.Time { return time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC) },
	}
	return s, db, gw, tm
}

func create(t *testing.T, s *Service, tomadorID uint, insured string) *domain.Proposal {
	t.Helper()
	p, err := s.Create(context.Background(), broker, CreateInput{
		TomadorID:     tomadorID,
		InsuredAmount: d(insured),
		RatePct:       d("2"),
		StartDate:     time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
		EndDate:       time.Date(2027, 1, 1, 0, 0, 0, 0, time.UTC),
	})
	require.NoError(t, err)
	return p
}

func TestCreate_ComputesPremiumAndCommission(t *testing.T) {
	s, _, _, tm := setup(t, "10000", true)
	p := create(t, s, tm.ID, "100000")
	assert.Equal(t, domain.ProposalDraft, p.Status)
	assert.Equal(t, 365, p.Days)
	assert.Equal(t, "2000.00", p.Premium.StringFixed(2))
	assert.Equal(t, "20", p.CommissionPct.String())
	assert.Equal(t, "400.00", p.CommissionAmount.StringFixed(2))
}

func TestCreate_Validation(t *testing.T) {
	s, _, _, tm := setup(t, "10000", true)
	_, err := s.Create(context.Background(), broker, CreateInput{
		TomadorID: tm.ID, InsuredAmount: d("10"), RatePct: d("2"),
		StartDate: time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC),
		EndDate:   time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
	})
	assert.ErrorIs(t, err, ErrInvalidPeriod)

	_, err = s.Create(context.Background(), broker, CreateInput{
		TomadorID: 999, InsuredAmount: d("10"), RatePct: d("2"),
		StartDate: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
		EndDate:   time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC),
	})
	assert.True(t, apperrors.IsNotFound(err))
}

func TestPreIssue_ReservesCreditAndRejectsOverdraw(t *testing.T) {
	s, _, _, tm := setup(t, "10000", true)
	p1 := create(t, s, tm.ID, "10000")
	p2 := create(t, s, tm.ID, "1")

	got, err := s.PreIssue(context.Background(), broker, p1.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.ProposalPreIssue, got.Status)
	assert.True(t, got.CreditReserved)

	_, available, err := s.Ledger.Balance(context.Background(), tm.ID)
	require.NoError(t, err)
	assert.True(t, available.IsZero())

	_, err = s.PreIssue(context.Background(), broker, p2.ID)
	require.Error(t, err)
	assert.True(t, apperrors.IsValidation(err))
	assert.ErrorIs(t, err, credit.ErrInsufficientCredit)

	again, err := s.Get(context.Background(), broker, p2.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.ProposalDraft, again.Status, "failed reservation must not move the status")
}

func TestPreIssue_Idempotent(t *testing.T) {
	s, _, _, tm := setup(t, "10000", true)
	p := create(t, s, tm.ID, "4000")
	_, err := s.PreIssue(context.Background(), broker, p.ID)
	require.NoError(t, err)
	_, err = s.PreIssue(context.Background(), broker, p.ID)
	require.NoError(t, err)

	_, available, _ := s.Ledger.Balance(context.Background(), tm.ID)
	assert.Equal(t, "6000.00", available.StringFixed(2))
}

func TestPreIssue_RequiresSignedCCG(t *testing.T) {
	s, _, _, tm := setup(t, "10000", false)
	p := create(t, s, tm.ID, "100")
	_, err := s.PreIssue(context.Background(), broker, p.ID)
	assert.ErrorIs(t, err, ErrCCGNotSigned)
}

func TestPreIssue_ConcurrentSameTomador(t *testing.T) {
	s, _, _, tm := setup(t, "10000", true)
	a := create(t, s, tm.ID, "6000")
	b := create(t, s, tm.ID, "6000")

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i, id := range []uint{a.ID, b.ID} {
		wg.Add(1)
		go func(i int, id uint) {
			defer wg.Done()
			_, errs[i] = s.PreIssue(context.Background(), broker, id)
		}(i, id)
	}
	wg.Wait()

	failures := 0
	for _, err := range errs {
		if err != nil {
			assert.ErrorIs(t, err, credit.ErrInsufficientCredit)
			failures++
		}
	}
	assert.Equal(t, 1, failures)
	_, available, _ := s.Ledger.Balance(context.Background(), tm.ID)
	assert.Equal(t, "4000.00", available.StringFixed(2))
}

func TestIssue_CreatesPaymentOnce(t *testing.T) {
	s, db, gw, tm := setup(t, "10000", true)
	p := create(t, s, tm.ID, "1000")
	_, err := s.PreIssue(context.Background(), broker, p.ID)
	require.NoError(t, err)

	issued, err := s.Issue(context.Background(), broker, p.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.ProposalIssuedPendingPayment, issued.Status)
	assert.Equal(t, "https://pay.example/i/pay_123", issued.PaymentLink)

	again, err := s.Issue(context.Background(), broker, p.ID)
	require.NoError(t, err)
	assert.Equal(t, issued.PaymentLink, again.PaymentLink)

	require.Len(t, gw.payments, 1)
	req := gw.payments[0]
	assert.Equal(t, "cus_000001", req.CustomerID)
	assert.Equal(t, "UNDEFINED", req.Method)
	assert.Equal(t, "2026-05-04", req.DueDate.Format("2006-01-02"))
	assert.True(t, req.Value.Equal(p.Premium))
	assert.Equal(t, "1", req.ExternalReference)

	var stored domain.Tomador
	require.NoError(t, db.First(&stored, tm.ID).Error)
	assert.Equal(t, "cus_000001", stored.GatewayCustomerID)
}

func TestIssue_ConcurrentCallsOpenOneCharge(t *testing.T) {
	s, _, gw, tm := setup(t, "10000", true)
	p := create(t, s, tm.ID, "1000")
	_, err := s.PreIssue(context.Background(), broker, p.ID)
	require.NoError(t, err)

	const callers = 4
	var wg sync.WaitGroup
	results := make([]*domain.Proposal, callers)
	errs := make([]error, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = s.Issue(context.Background(), broker, p.ID)
		}(i)
	}
	wg.Wait()

	for i := 0; i < callers; i++ {
		require.NoError(t, errs[i])
		assert.Equal(t, domain.ProposalIssuedPendingPayment, results[i].Status)
		assert.Equal(t, "pay_123", results[i].PaymentID)
	}
	assert.Len(t, gw.payments, 1)
}

func TestIssue_GatewayFailureKeepsStatus(t *testing.T) {
	s, _, gw, tm := setup(t, "10000", true)
	gw.err = apperrors.External("payment gateway returned 500", errors.New("boom"))
	p := create(t, s, tm.ID, "1000")
	_, err := s.PreIssue(context.Background(), broker, p.ID)
	require.NoError(t, err)

	_, err = s.Issue(context.Background(), broker, p.ID)
	assert.True(t, apperrors.IsExternalService(err))

	got, _ := s.Get(context.Background(), broker, p.ID)
	assert.Equal(t, domain.ProposalPreIssue, got.Status)
}

func TestIssue_RejectsDraft(t *testing.T) {
	s, _, _, tm := setup(t, "10000", true)
	p := create(t, s, tm.ID, "1000")
	_, err := s.Issue(context.Background(), broker, p.ID)
	assert.ErrorIs(t, err, ErrInvalidTransition)
}

func TestCancel_ReleasesReservation(t *testing.T) {
	s, db, _, tm := setup(t, "10000", true)
	p := create(t, s, tm.ID, "10000")
	_, err := s.PreIssue(context.Background(), broker, p.ID)
	require.NoError(t, err)

	got, err := s.Cancel(context.Background(), broker, p.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.ProposalCancelled, got.Status)
	require.NotNil(t, got.CancelledAt)

	_, available, _ := s.Ledger.Balance(context.Background(), tm.ID)
	assert.Equal(t, "10000.00", available.StringFixed(2))

	again, err := s.Cancel(context.Background(), broker, p.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.ProposalCancelled, again.Status)

	var moves int64
	db.Model(&domain.CreditMovement{}).Where("kind = ?", domain.MovementRelease).Count(&moves)
	assert.Equal(t, int64(1), moves)
}

func TestCancel_Rejections(t *testing.T) {
	s, db, _, tm := setup(t, "10000", true)
	p := create(t, s, tm.ID, "1000")
	require.NoError(t, db.Model(&domain.Proposal{}).Where("id = ?", p.ID).Update("status", domain.ProposalPaid).Error)
	_, err := s.Cancel(context.Background(), broker, p.ID)
	assert.ErrorIs(t, err, ErrCancelPaid)

	q := create(t, s, tm.ID, "1000")
	require.NoError(t, db.Model(&domain.Proposal{}).Where("id = ?", q.ID).Update("status", domain.ProposalIssuedPendingPayment).Error)
	_, err = s.Cancel(context.Background(), broker, q.ID)
	assert.ErrorIs(t, err, ErrInvalidTransition)
}

func TestUpdateRate_Recalculates(t *testing.T) {
	s, _, _, tm := setup(t, "10000", true)
	p := create(t, s, tm.ID, "100000")
	got, err := s.UpdateRate(context.Background(), broker, p.ID, d("0.1"))
	require.NoError(t, err)
	assert.Equal(t, "250.00", got.Premium.StringFixed(2), "minimum premium applies")
	assert.Equal(t, "50.00", got.CommissionAmount.StringFixed(2))

	_, err = s.UpdateRate(context.Background(), broker, p.ID, d("0"))
	assert.ErrorIs(t, err, ErrInvalidRate)
}

func TestGet_HidesOtherBrokersProposals(t *testing.T) {
	s, _, _, tm := setup(t, "10000", true)
	p := create(t, s, tm.ID, "1000")
	_, err := s.Get(context.Background(), domain.Principal{UserID: 99, Role: domain.RoleBroker}, p.ID)
	assert.True(t, apperrors.IsNotFound(err))

	_, err = s.Get(context.Background(), domain.Principal{UserID: 1, Role: domain.RoleAdmin}, p.ID)
	assert.NoError(t, err)
}

func TestMarkPaid(t *testing.T) {
	s, db, _, tm := setup(t, "10000", true)
	p := create(t, s, tm.ID, "1000")
	err := db.Transaction(func(tx *gorm.DB) error { return MarkPaid(context.Background(), tx, p, d("250"), time.Now()) })
	assert.ErrorIs(t, err, ErrInvalidTransition)

	p.Status = domain.ProposalIssuedPendingPayment
	require.NoError(t, db.Model(p).Update("status", p.Status).Error)
	err = db.Transaction(func(tx *gorm.DB) error { return MarkPaid(context.Background(), tx, p, d("250"), time.Now()) })
	require.NoError(t, err)
	assert.Equal(t, domain.ProposalPaid, p.Status)
}

func TestCanTransition(t *testing.T) {
	assert.True(t, CanTransition(domain.ProposalDraft, domain.ProposalPreIssue))
	assert.True(t, CanTransition(domain.ProposalPreIssue, domain.ProposalCancelled))
	assert.False(t, CanTransition(domain.ProposalIssuedPendingPayment, domain.ProposalCancelled))
	assert.False(t, CanTransition(domain.ProposalPaid, domain.ProposalCancelled))
	assert.False(t, CanTransition(domain.ProposalDraft, domain.ProposalPaid))
	assert.False(t, CanTransition(domain.ProposalCancelled, domain.ProposalDraft))
}

func TestPremium(t *testing.T) {
	assert.Equal(t, "250.00", Premium(d("1000"), d("1"), 30).StringFixed(2))
	// 365000 * 3% / 365 * 90 = 2700
	assert.Equal(t, "2700.00", Premium(d("365000"), d("3"), 10).StringFixed(2))
	assert.Equal(t, "5400.00", Premium(d("365000"), d("3"), 180).StringFixed(2))
}

func TestAsaasGateway(t *testing.T) {
	var paths []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		paths = append(paths, r.URL.Path)
		switch r.URL.Path {
		case "/customers":
			_, _ = w.Write([]byte(`{"id":"cus_1"}`))
		case "/payments":
			var body map[string]interface{}
			_ = json.NewDecoder(r.Body).Decode(&body)
			assert.Equal(t, "2026-05-04", body["dueDate"])
			assert.Equal(t, "cus_1", body["customer"])
			_, _ = w.Write([]byte(`{"id":"pay_1","invoiceUrl":"https://pay.example/i/pay_1"}`))
		}
	}))
	defer srv.Close()
	gw := AsaasGateway{Client: &asaas.Client{BaseURL: srv.URL, HTTP: srv.Client()}}

	id, err := gw.EnsureCustomer(context.Background(), Customer{Name: "Solar", CNPJ: "11222333000181"})
	require.NoError(t, err)
	assert.Equal(t, "cus_1", id)

	pay, err := gw.CreatePayment(context.Background(), PaymentRequest{
		CustomerID: id, Method: "UNDEFINED", DueDate: time.Date(2026, 5, 4, 0, 0, 0, 0, time.UTC),
		Value: d("1000"), ExternalReference: "1",
	})
	require.NoError(t, err)
	assert.Equal(t, "https://pay.example/i/pay_1", pay.PageURL)
	assert.Equal(t, []string{"/customers", "/payments"}, paths)
}
