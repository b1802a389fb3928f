package usecases

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"go.openly.dev/pointy"

	"github.com/moneta-app/wallet/backend/internal/core/ports"
	"github.com/moneta-app/wallet/backend/internal/entities"
)

// In-memory collaborators for the orchestrator tests.

type fakeRunner struct{}

func (fakeRunner) WithinTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	return fn(ctx)
}

// brokenRunner fails selected atomic units, counting calls from 1, to
// simulate a database connection dying mid-flow.
type brokenRunner struct {
	failOn map[int]bool
	calls  int
}

func (r *brokenRunner) WithinTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	r.calls++
	if r.failOn[r.calls] {
		return errors.New("connection reset by peer")
	}
	return fn(ctx)
}

type fakeLedger struct {
	byID     map[uuid.UUID]*entities.Wallet
	platform map[string]*entities.Wallet
}

func newFakeLedger(wallets ...*entities.Wallet) *fakeLedger {
	l := &fakeLedger{
		byID:     make(map[uuid.UUID]*entities.Wallet),
		platform: make(map[string]*entities.Wallet),
	}
	for _, w := range wallets {
		l.byID[w.ID] = w
	}
	return l
}

func (l *fakeLedger) FindWalletByID(_ context.Context, id uuid.UUID) (*entities.Wallet, error) {
	return l.byID[id], nil
}

func (l *fakeLedger) FindActiveWalletForUser(_ context.Context, userID int64, currency string) (*entities.Wallet, error) {
	for _, w := range l.byID {
		if w.UserID == userID && w.Currency == currency && w.Active {
			return w, nil
		}
	}
	return nil, nil
}

func (l *fakeLedger) Credit(_ context.Context, id uuid.UUID, amount decimal.Decimal) error {
	w := l.byID[id]
	if w == nil {
		return errors.New("wallet missing")
	}
	w.Balance = w.Balance.Add(amount)
	return nil
}

func (l *fakeLedger) Debit(_ context.Context, id uuid.UUID, amount decimal.Decimal) error {
	w := l.byID[id]
	if w == nil {
		return errors.New("wallet missing")
	}
	if w.Balance.LessThan(amount) {
		return ports.ErrInsufficientBalance
	}
	w.Balance = w.Balance.Sub(amount)
	return nil
}

func (l *fakeLedger) GetOrCreatePlatformWallet(_ context.Context, currency string) (*entities.Wallet, error) {
	if w, ok := l.platform[currency]; ok {
		return w, nil
	}
	w := &entities.Wallet{
		ID:       uuid.New(),
		UserID:   entities.PlatformUserID,
		Currency: currency,
		Balance:  decimal.Zero,
		Active:   true,
	}
	l.platform[currency] = w
	l.byID[w.ID] = w
	return w, nil
}

func (l *fakeLedger) total() decimal.Decimal {
	sum := decimal.Zero
	for _, w := range l.byID {
		sum = sum.Add(w.Balance)
	}
	return sum
}

type fakeStore struct {
	byID map[uuid.UUID]*entities.Transaction
}

func newFakeStore() *fakeStore {
	return &fakeStore{byID: make(map[uuid.UUID]*entities.Transaction)}
}

func (s *fakeStore) InsertTransaction(_ context.Context, t *entities.Transaction) error {
	if t.CreatedAt.IsZero() {
		t.CreatedAt = time.Now()
	}
	s.byID[t.ID] = t
	return nil
}

func (s *fakeStore) UpdateTransactionStatus(_ context.Context, id uuid.UUID, status entities.TransactionStatus, executedAt *time.Time) error {
	t := s.byID[id]
	if t == nil {
		return errors.New("transaction missing")
	}
	t.Status = status
	if executedAt != nil {
		t.ExecutedAt = executedAt
	}
	return nil
}

func (s *fakeStore) UpdateTransactionOutcome(_ context.Context, id uuid.UUID, status entities.TransactionStatus, executedAt *time.Time, metadata *entities.TransactionMetadata) error {
	if err := s.UpdateTransactionStatus(context.Background(), id, status, executedAt); err != nil {
		return err
	}
	if metadata != nil {
		s.byID[id].Metadata = metadata
	}
	return nil
}

func (s *fakeStore) FindTransactionByID(_ context.Context, id uuid.UUID) (*entities.Transaction, error) {
	return s.byID[id], nil
}

func (s *fakeStore) FindTransactionByPaymentID(_ context.Context, paymentID string) (*entities.Transaction, error) {
	for _, t := range s.byID {
		if t.PaymentID != nil && *t.PaymentID == paymentID {
			return t, nil
		}
	}
	return nil, nil
}

func (s *fakeStore) FindTransactionByReference(_ context.Context, ref string) (*entities.Transaction, error) {
	for _, t := range s.byID {
		if t.InterWalletRef != nil && *t.InterWalletRef == ref {
			return t, nil
		}
	}
	return nil, nil
}

type fakeTrail struct {
	logs map[uuid.UUID][]entities.TransactionLog
}

func newFakeTrail() *fakeTrail {
	return &fakeTrail{logs: make(map[uuid.UUID][]entities.TransactionLog)}
}

func (tr *fakeTrail) AppendLog(_ context.Context, transactionID uuid.UUID, step, status, data string) error {
	tr.logs[transactionID] = append(tr.logs[transactionID], entities.TransactionLog{
		TransactionID: transactionID,
		Step:          step,
		Status:        status,
		Data:          data,
	})
	return nil
}

func (tr *fakeTrail) ListLogsByTransaction(_ context.Context, transactionID uuid.UUID) ([]entities.TransactionLog, error) {
	return tr.logs[transactionID], nil
}

type fakePayouts struct {
	byProvider map[string]*entities.Payout
}

func newFakePayouts() *fakePayouts {
	return &fakePayouts{byProvider: make(map[string]*entities.Payout)}
}

func (p *fakePayouts) InsertPayout(_ context.Context, payout *entities.Payout) error {
	p.byProvider[payout.ProviderPayoutID] = payout
	return nil
}

func (p *fakePayouts) FindPayoutByProviderID(_ context.Context, providerPayoutID string) (*entities.Payout, error) {
	return p.byProvider[providerPayoutID], nil
}

func (p *fakePayouts) UpdatePayoutStatus(_ context.Context, providerPayoutID string, status entities.PayoutStatus) (bool, error) {
	payout := p.byProvider[providerPayoutID]
	if payout == nil || payout.Status != entities.PayoutPending {
		return false, nil
	}
	payout.Status = status
	return true, nil
}

type stubFraud struct {
	result *entities.FraudResult
	err    error
	calls  int
}

func (s *stubFraud) CheckTransaction(context.Context, entities.FraudContext) (*entities.FraudResult, error) {
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	if s.result != nil {
		return s.result, nil
	}
	return &entities.FraudResult{Decision: entities.DecisionAccepted}, nil
}

type stubPayments struct {
	succeeded    bool
	verifyCalls  int
	payoutID     string
	payoutErr    error
	payoutsAsked []decimal.Decimal
}

func (s *stubPayments) PaymentSucceeded(context.Context, string) (bool, error) {
	s.verifyCalls++
	return s.succeeded, nil
}

func (s *stubPayments) CreatePayout(_ context.Context, amount decimal.Decimal, _, _ string) (string, error) {
	if s.payoutErr != nil {
		return "", s.payoutErr
	}
	s.payoutsAsked = append(s.payoutsAsked, amount)
	return s.payoutID, nil
}

type transferFixture struct {
	service  *TransferService
	ledger   *fakeLedger
	store    *fakeStore
	payouts  *fakePayouts
	fraud    *stubFraud
	payments *stubPayments
}

func newTransferFixture(wallets ...*entities.Wallet) *transferFixture {
	f := &transferFixture{
		ledger:   newFakeLedger(wallets...),
		store:    newFakeStore(),
		payouts:  newFakePayouts(),
		fraud:    &stubFraud{},
		payments: &stubPayments{succeeded: true, payoutID: "po_test_1"},
	}
	f.service = NewTransferService(discardLogger(), fakeRunner{},
		f.ledger, f.store, newFakeTrail(), f.payouts, f.fraud, f.payments, nil, 500)
	return f
}

func newTransferFixtureWithRunner(runner transactionRunner, wallets ...*entities.Wallet) *transferFixture {
	f := newTransferFixture(wallets...)
	f.service = NewTransferService(discardLogger(), runner,
		f.ledger, f.store, newFakeTrail(), f.payouts, f.fraud, f.payments, nil, 500)
	return f
}

func wallet(userID int64, currency, balance string) *entities.Wallet {
	return &entities.Wallet{
		ID:       uuid.New(),
		UserID:   userID,
		Name:     "test",
		Currency: currency,
		Balance:  decimal.RequireFromString(balance),
		Active:   true,
	}
}

func TestTransferMovesFundsAtomically(t *testing.T) {
	alice := wallet(1, "EUR", "1000.00")
	bob := wallet(2, "EUR", "50.00")
	f := newTransferFixture(alice, bob)

	before := f.ledger.total()

	result := f.service.Transfer(context.Background(), entities.TransferRequest{
		UserID:              1,
		SourceWalletID:      alice.ID,
		DestinationWalletID: &bob.ID,
		Amount:              amount("100.00"),
	})

	require.True(t, result.Success, "transfer failed: %s", result.Error)
	require.Equal(t, entities.StatusSuccess, result.Status)

	require.True(t, alice.Balance.Equal(amount("899.00")), "source balance %s", alice.Balance)
	require.True(t, bob.Balance.Equal(amount("150.00")), "destination balance %s", bob.Balance)
	require.True(t, f.ledger.platform["EUR"].Balance.Equal(amount("1.00")))

	// No money appears or disappears.
	require.True(t, f.ledger.total().Equal(before))

	recorded := f.store.byID[*result.TransactionID]
	require.NotNil(t, recorded)
	require.True(t, recorded.Fee.Equal(amount("1.00")))
	require.NotNil(t, recorded.ExecutedAt)
}

func TestTransferBetweenOwnWalletsSkipsFee(t *testing.T) {
	checking := wallet(1, "EUR", "500.00")
	savings := wallet(1, "EUR", "0.00")
	f := newTransferFixture(checking, savings)

	result := f.service.Transfer(context.Background(), entities.TransferRequest{
		UserID:              1,
		SourceWalletID:      checking.ID,
		DestinationWalletID: &savings.ID,
		Amount:              amount("200.00"),
	})

	require.True(t, result.Success)
	require.True(t, savings.Balance.Equal(amount("200.00")))
	require.Nil(t, f.ledger.platform["EUR"])
}

func TestTransferResolvesRecipientWallet(t *testing.T) {
	alice := wallet(1, "EUR", "300.00")
	bob := wallet(2, "EUR", "0.00")
	f := newTransferFixture(alice, bob)

	result := f.service.Transfer(context.Background(), entities.TransferRequest{
		UserID:          1,
		SourceWalletID:  alice.ID,
		RecipientUserID: pointy.Int64(2),
		Amount:          amount("100.00"),
	})

	require.True(t, result.Success)
	require.True(t, bob.Balance.Equal(amount("100.00")))
	require.True(t, alice.Balance.Equal(amount("199.00")))
}

func TestTransferInsufficientBalance(t *testing.T) {
	alice := wallet(1, "EUR", "40.00")
	bob := wallet(2, "EUR", "0.00")
	f := newTransferFixture(alice, bob)

	result := f.service.Transfer(context.Background(), entities.TransferRequest{
		UserID:              1,
		SourceWalletID:      alice.ID,
		DestinationWalletID: &bob.ID,
		Amount:              amount("100.00"),
	})

	require.False(t, result.Success)
	require.Equal(t, ports.ErrInsufficientBalance.Error(), result.Error)
	require.True(t, alice.Balance.Equal(amount("40.00")))
	require.True(t, bob.Balance.Equal(amount("0.00")))
}

func TestTransferRejectsSelfAndCurrencyMismatch(t *testing.T) {
	eur := wallet(1, "EUR", "100.00")
	usd := wallet(2, "USD", "100.00")
	f := newTransferFixture(eur, usd)

	t.Run("self transfer", func(t *testing.T) {
		result := f.service.Transfer(context.Background(), entities.TransferRequest{
			UserID:              1,
			SourceWalletID:      eur.ID,
			DestinationWalletID: &eur.ID,
			Amount:              amount("10.00"),
		})
		require.False(t, result.Success)
		require.Equal(t, ports.ErrSelfTransfer.Error(), result.Error)
	})

	t.Run("currency mismatch", func(t *testing.T) {
		result := f.service.Transfer(context.Background(), entities.TransferRequest{
			UserID:              1,
			SourceWalletID:      eur.ID,
			DestinationWalletID: &usd.ID,
			Amount:              amount("10.00"),
		})
		require.False(t, result.Success)
		require.Equal(t, ports.ErrCurrencyMismatch.Error(), result.Error)
	})
}

func TestTransferHeldForReviewHoldsFunds(t *testing.T) {
	alice := wallet(1, "EUR", "1000.00")
	bob := wallet(2, "EUR", "0.00")
	f := newTransferFixture(alice, bob)
	f.fraud.result = &entities.FraudResult{
		Score:    55,
		Decision: entities.DecisionReview,
		Reasons:  []string{"HIGH_AMOUNT: amount 6000"},
	}

	result := f.service.Transfer(context.Background(), entities.TransferRequest{
		UserID:              1,
		SourceWalletID:      alice.ID,
		DestinationWalletID: &bob.ID,
		Amount:              amount("600.00"),
	})

	require.False(t, result.Success)
	require.Equal(t, entities.StatusReview, result.Status)
	require.Equal(t, 55, result.FraudScore)

	// Amount plus fee is held: the source is debited but neither the
	// destination nor the platform wallet is credited.
	require.True(t, alice.Balance.Equal(amount("394.00")))
	require.True(t, bob.Balance.Equal(amount("0.00")))
	require.Nil(t, f.ledger.platform["EUR"])

	recorded := f.store.byID[*result.TransactionID]
	require.NotNil(t, recorded)
	require.Equal(t, entities.StatusReview, recorded.Status)
}

func TestTransferBlockedByFraud(t *testing.T) {
	alice := wallet(1, "EUR", "50000.00")
	bob := wallet(2, "EUR", "0.00")
	f := newTransferFixture(alice, bob)
	f.fraud.result = &entities.FraudResult{
		Score:    100,
		Decision: entities.DecisionBlocked,
		Reasons:  []string{"VERY_HIGH_AMOUNT: amount 20000"},
	}

	result := f.service.Transfer(context.Background(), entities.TransferRequest{
		UserID:              1,
		SourceWalletID:      alice.ID,
		DestinationWalletID: &bob.ID,
		Amount:              amount("20000.00"),
	})

	require.False(t, result.Success)
	require.Equal(t, entities.StatusBlocked, result.Status)
	require.True(t, alice.Balance.Equal(amount("50000.00")))
}

func TestTransferFailsClosedWhenFraudUnavailable(t *testing.T) {
	alice := wallet(1, "EUR", "1000.00")
	bob := wallet(2, "EUR", "0.00")
	f := newTransferFixture(alice, bob)
	f.fraud.err = errors.New("rules store down")

	result := f.service.Transfer(context.Background(), entities.TransferRequest{
		UserID:              1,
		SourceWalletID:      alice.ID,
		DestinationWalletID: &bob.ID,
		Amount:              amount("100.00"),
	})

	require.False(t, result.Success)
	require.True(t, alice.Balance.Equal(amount("1000.00")))
}

func TestResolveReview(t *testing.T) {
	t.Run("approval releases the held funds", func(t *testing.T) {
		alice := wallet(1, "EUR", "1000.00")
		bob := wallet(2, "EUR", "0.00")
		f := newTransferFixture(alice, bob)
		f.fraud.result = &entities.FraudResult{Score: 55, Decision: entities.DecisionReview}

		held := f.service.Transfer(context.Background(), entities.TransferRequest{
			UserID:              1,
			SourceWalletID:      alice.ID,
			DestinationWalletID: &bob.ID,
			Amount:              amount("600.00"),
		})
		require.Equal(t, entities.StatusReview, held.Status)
		require.True(t, alice.Balance.Equal(amount("394.00")))

		result := f.service.ResolveReview(context.Background(), 99, *held.TransactionID, true, "verified with customer")
		require.True(t, result.Success, "resolution failed: %s", result.Error)
		require.Equal(t, entities.StatusSuccess, result.Status)

		// The source was already debited when the hold was placed.
		require.True(t, alice.Balance.Equal(amount("394.00")))
		require.True(t, bob.Balance.Equal(amount("600.00")))
		require.True(t, f.ledger.platform["EUR"].Balance.Equal(amount("6.00")))
	})

	t.Run("rejection refunds the held funds", func(t *testing.T) {
		alice := wallet(1, "EUR", "1000.00")
		bob := wallet(2, "EUR", "0.00")
		f := newTransferFixture(alice, bob)
		f.fraud.result = &entities.FraudResult{Score: 55, Decision: entities.DecisionReview}

		held := f.service.Transfer(context.Background(), entities.TransferRequest{
			UserID:              1,
			SourceWalletID:      alice.ID,
			DestinationWalletID: &bob.ID,
			Amount:              amount("600.00"),
		})

		result := f.service.ResolveReview(context.Background(), 99, *held.TransactionID, false, "customer unreachable")
		require.Equal(t, entities.StatusFailed, result.Status)
		require.True(t, alice.Balance.Equal(amount("1000.00")))
		require.True(t, bob.Balance.Equal(amount("0.00")))
	})

	t.Run("already resolved transaction is rejected", func(t *testing.T) {
		f := newTransferFixture()
		done := &entities.Transaction{
			ID:     uuid.New(),
			Status: entities.StatusSuccess,
			Type:   entities.TransactionTransfer,
		}
		require.NoError(t, f.store.InsertTransaction(context.Background(), done))

		result := f.service.ResolveReview(context.Background(), 99, done.ID, true, "")
		require.False(t, result.Success)
	})

	t.Run("owner cannot resolve their own review", func(t *testing.T) {
		alice := wallet(1, "EUR", "1000.00")
		bob := wallet(2, "EUR", "0.00")
		f := newTransferFixture(alice, bob)
		f.fraud.result = &entities.FraudResult{Score: 55, Decision: entities.DecisionReview}

		held := f.service.Transfer(context.Background(), entities.TransferRequest{
			UserID:              1,
			SourceWalletID:      alice.ID,
			DestinationWalletID: &bob.ID,
			Amount:              amount("600.00"),
		})
		require.Equal(t, entities.StatusReview, held.Status)

		result := f.service.ResolveReview(context.Background(), 1, *held.TransactionID, true, "looks fine to me")
		require.False(t, result.Success)
		require.Equal(t, ports.ErrReviewSelfResolved.Error(), result.Error)

		// The hold stays in place for a real operator.
		require.True(t, alice.Balance.Equal(amount("394.00")))
		require.True(t, bob.Balance.Equal(amount("0.00")))
		stored, err := f.store.FindTransactionByID(context.Background(), *held.TransactionID)
		require.NoError(t, err)
		require.Equal(t, entities.StatusReview, stored.Status)

		release := f.service.ResolveReview(context.Background(), 99, *held.TransactionID, true, "verified with customer")
		require.True(t, release.Success, "resolution failed: %s", release.Error)
		require.True(t, bob.Balance.Equal(amount("600.00")))
	})
}

func TestDepositCreditsWalletOnce(t *testing.T) {
	w := wallet(1, "EUR", "0.00")
	f := newTransferFixture(w)

	req := entities.DepositRequest{
		UserID:    1,
		WalletID:  w.ID,
		Amount:    amount("200.00"),
		PaymentID: "pi_test_1",
	}

	first := f.service.Deposit(context.Background(), req)
	require.True(t, first.Success, "deposit failed: %s", first.Error)
	require.True(t, w.Balance.Equal(amount("200.00")))
	require.True(t, f.ledger.platform["EUR"].Balance.Equal(amount("2.00")))

	// Same payment id again: no second credit, no second provider call.
	second := f.service.Deposit(context.Background(), req)
	require.True(t, second.Success)
	require.Equal(t, *first.TransactionID, *second.TransactionID)
	require.True(t, w.Balance.Equal(amount("200.00")))
	require.Equal(t, 1, f.payments.verifyCalls)
}

func TestDepositResumesInterruptedCredit(t *testing.T) {
	w := wallet(1, "EUR", "0.00")
	runner := &brokenRunner{failOn: map[int]bool{1: true}}
	f := newTransferFixtureWithRunner(runner, w)

	req := entities.DepositRequest{
		UserID:    1,
		WalletID:  w.ID,
		Amount:    amount("100.00"),
		PaymentID: "pi_retry_1",
	}

	// The row is written but the credit unit dies before committing.
	first := f.service.Deposit(context.Background(), req)
	require.False(t, first.Success)
	require.True(t, w.Balance.Equal(amount("0.00")))

	stored, err := f.store.FindTransactionByPaymentID(context.Background(), req.PaymentID)
	require.NoError(t, err)
	require.Equal(t, entities.StatusPending, stored.Status)

	// The provider redelivers the webhook; the stuck deposit must be
	// completed, not echoed back as settled with no credit.
	second := f.service.Deposit(context.Background(), req)
	require.True(t, second.Success, "redelivery failed: %s", second.Error)
	require.Equal(t, entities.StatusSuccess, second.Status)
	require.True(t, w.Balance.Equal(amount("100.00")))
	require.True(t, f.ledger.platform["EUR"].Balance.Equal(amount("1.00")))
	require.Equal(t, 1, f.payments.verifyCalls)

	// Further deliveries no longer touch the balance.
	third := f.service.Deposit(context.Background(), req)
	require.True(t, third.Success)
	require.True(t, w.Balance.Equal(amount("100.00")))
}

func TestDepositRequiresSucceededPayment(t *testing.T) {
	w := wallet(1, "EUR", "0.00")
	f := newTransferFixture(w)
	f.payments.succeeded = false

	result := f.service.Deposit(context.Background(), entities.DepositRequest{
		UserID:    1,
		WalletID:  w.ID,
		Amount:    amount("200.00"),
		PaymentID: "pi_test_2",
	})

	require.False(t, result.Success)
	require.Equal(t, ports.ErrPaymentNotSucceeded.Error(), result.Error)
	require.True(t, w.Balance.Equal(amount("0.00")))
}

func TestWithdrawDebitsAmountPlusFee(t *testing.T) {
	w := wallet(1, "EUR", "500.00")
	f := newTransferFixture(w)

	result := f.service.Withdraw(context.Background(), entities.WithdrawRequest{
		UserID:      1,
		WalletID:    w.ID,
		Amount:      amount("300.00"),
		Destination: "ba_test_1",
	})

	require.True(t, result.Success, "withdrawal failed: %s", result.Error)
	require.Equal(t, entities.StatusProcessing, result.Status)
	require.True(t, w.Balance.Equal(amount("197.00")))
	require.True(t, f.ledger.platform["EUR"].Balance.Equal(amount("3.00")))

	// Provider pays out the requested amount; the fee stayed with the
	// platform wallet.
	require.Len(t, f.payments.payoutsAsked, 1)
	require.True(t, f.payments.payoutsAsked[0].Equal(amount("300.00")))

	// Below the risk threshold no fraud check runs.
	require.Zero(t, f.fraud.calls)
}

func TestWithdrawAboveThresholdIsScored(t *testing.T) {
	w := wallet(1, "EUR", "2000.00")
	f := newTransferFixture(w)
	f.fraud.result = &entities.FraudResult{Score: 90, Decision: entities.DecisionBlocked}

	result := f.service.Withdraw(context.Background(), entities.WithdrawRequest{
		UserID:      1,
		WalletID:    w.ID,
		Amount:      amount("1500.00"),
		Destination: "ba_test_1",
	})

	require.False(t, result.Success)
	require.Equal(t, entities.StatusBlocked, result.Status)
	require.Equal(t, 1, f.fraud.calls)
	require.True(t, w.Balance.Equal(amount("2000.00")))
}

func TestWithdrawCompensatesFailedPayout(t *testing.T) {
	w := wallet(1, "EUR", "500.00")
	f := newTransferFixture(w)
	f.payments.payoutErr = errors.New("provider unavailable")

	result := f.service.Withdraw(context.Background(), entities.WithdrawRequest{
		UserID:      1,
		WalletID:    w.ID,
		Amount:      amount("300.00"),
		Destination: "ba_test_1",
	})

	require.False(t, result.Success)
	require.True(t, w.Balance.Equal(amount("500.00")), "debit was not reversed: %s", w.Balance)
	require.True(t, f.ledger.platform["EUR"].Balance.Equal(amount("0.00")))
}

func TestPayoutWebhooks(t *testing.T) {
	t.Run("paid finalizes the withdrawal once", func(t *testing.T) {
		w := wallet(1, "EUR", "500.00")
		f := newTransferFixture(w)

		withdrawal := f.service.Withdraw(context.Background(), entities.WithdrawRequest{
			UserID: 1, WalletID: w.ID, Amount: amount("100.00"), Destination: "ba_test_1",
		})
		require.Equal(t, entities.StatusProcessing, withdrawal.Status)

		first := f.service.HandlePayoutPaid(context.Background(), "po_test_1")
		require.True(t, first.Success)
		require.Equal(t, entities.StatusSuccess, first.Status)

		// Redelivery is a no-op.
		second := f.service.HandlePayoutPaid(context.Background(), "po_test_1")
		require.True(t, second.Success)
		require.True(t, w.Balance.Equal(amount("399.00")))
	})

	t.Run("failed payout refunds amount and fee", func(t *testing.T) {
		w := wallet(1, "EUR", "500.00")
		f := newTransferFixture(w)

		f.service.Withdraw(context.Background(), entities.WithdrawRequest{
			UserID: 1, WalletID: w.ID, Amount: amount("100.00"), Destination: "ba_test_1",
		})
		require.True(t, w.Balance.Equal(amount("399.00")))

		result := f.service.HandlePayoutFailed(context.Background(), "po_test_1", "account closed")
		require.Equal(t, entities.StatusFailed, result.Status)
		require.True(t, w.Balance.Equal(amount("500.00")))
		require.True(t, f.ledger.platform["EUR"].Balance.Equal(amount("0.00")))
	})

	t.Run("failed-payout redelivery completes a stuck refund", func(t *testing.T) {
		w := wallet(1, "EUR", "500.00")
		runner := &brokenRunner{failOn: map[int]bool{2: true}}
		f := newTransferFixtureWithRunner(runner, w)

		result := f.service.Withdraw(context.Background(), entities.WithdrawRequest{
			UserID: 1, WalletID: w.ID, Amount: amount("300.00"), Destination: "ba_test_1",
		})
		require.True(t, result.Success, "withdrawal failed: %s", result.Error)
		require.True(t, w.Balance.Equal(amount("197.00")))

		// The payout flips to failed but the refund unit dies.
		first := f.service.HandlePayoutFailed(context.Background(), "po_test_1", "account closed")
		require.False(t, first.Success)
		require.True(t, w.Balance.Equal(amount("197.00")))

		// Redelivery must retry the refund instead of treating the
		// already-flipped payout as handled.
		second := f.service.HandlePayoutFailed(context.Background(), "po_test_1", "account closed")
		require.Equal(t, entities.StatusFailed, second.Status)
		require.True(t, w.Balance.Equal(amount("500.00")))
		require.True(t, f.ledger.platform["EUR"].Balance.Equal(amount("0.00")))

		// Once refunded, redeliveries change nothing.
		third := f.service.HandlePayoutFailed(context.Background(), "po_test_1", "account closed")
		require.Equal(t, entities.StatusFailed, third.Status)
		require.True(t, w.Balance.Equal(amount("500.00")))
	})

	t.Run("unknown payout id", func(t *testing.T) {
		f := newTransferFixture()
		result := f.service.HandlePayoutPaid(context.Background(), "po_missing")
		require.False(t, result.Success)
		require.Equal(t, ports.ErrTransactionNotFound.Error(), result.Error)
	})
}
