package usecases

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/moneta-app/wallet/backend/internal/entities"
)

type stubRules struct {
	rules []entities.FraudRule
	err   error
}

func (s *stubRules) ListActiveRules(context.Context) ([]entities.FraudRule, error) {
	return s.rules, s.err
}

type stubHistory struct {
	recentCount      int64
	dailySum         decimal.Decimal
	interWalletCount int64
	err              error
}

func (s *stubHistory) CountTransactionsSince(context.Context, int64, time.Time) (int64, error) {
	return s.recentCount, s.err
}

func (s *stubHistory) SumTransactionAmountsSince(context.Context, int64, time.Time, []entities.TransactionStatus) (decimal.Decimal, error) {
	return s.dailySum, s.err
}

func (s *stubHistory) CountInterWalletTransactions(context.Context, int64, string) (int64, error) {
	return s.interWalletCount, s.err
}

type stubAges struct {
	age time.Duration
	err error
}

func (s *stubAges) GetUserAccountAge(context.Context, int64) (time.Duration, error) {
	return s.age, s.err
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func matureAccount() *stubAges {
	return &stubAges{age: 365 * 24 * time.Hour}
}

func amount(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func transferContext(value string) entities.FraudContext {
	return entities.FraudContext{
		UserID: 42,
		Amount: amount(value),
		Type:   entities.TransactionTransfer,
	}
}

func TestCheckTransactionBuiltinHighAmountTiers(t *testing.T) {
	svc := NewFraudService(discardLogger(), &stubRules{}, &stubHistory{dailySum: decimal.Zero}, matureAccount())

	t.Run("moderate amount stays accepted", func(t *testing.T) {
		result, err := svc.CheckTransaction(context.Background(), transferContext("3000.00"))
		require.NoError(t, err)
		require.Equal(t, entities.DecisionAccepted, result.Decision)
		require.Zero(t, result.Score)
		require.Empty(t, result.AppliedRules)
	})

	t.Run("high amount scores one tier", func(t *testing.T) {
		result, err := svc.CheckTransaction(context.Background(), transferContext("7500.00"))
		require.NoError(t, err)
		require.Equal(t, entities.DecisionAccepted, result.Decision)
		require.Equal(t, 30, result.Score)
		require.Equal(t, []string{"HIGH_AMOUNT"}, result.AppliedRules)
	})

	t.Run("both tiers stack to blocked", func(t *testing.T) {
		result, err := svc.CheckTransaction(context.Background(), transferContext("15000.00"))
		require.NoError(t, err)
		require.Equal(t, entities.DecisionBlocked, result.Decision)
		require.Equal(t, 80, result.Score)
		require.Equal(t, []string{"HIGH_AMOUNT", "VERY_HIGH_AMOUNT"}, result.AppliedRules)
	})

	t.Run("threshold boundary is exclusive", func(t *testing.T) {
		result, err := svc.CheckTransaction(context.Background(), transferContext("5000.00"))
		require.NoError(t, err)
		require.Zero(t, result.Score)
	})

	t.Run("upper tier boundary is exclusive", func(t *testing.T) {
		result, err := svc.CheckTransaction(context.Background(), transferContext("10000.00"))
		require.NoError(t, err)
		require.Equal(t, 30, result.Score)
		require.Equal(t, []string{"HIGH_AMOUNT"}, result.AppliedRules)
	})
}

func TestCheckTransactionBuiltinCombination(t *testing.T) {
	// Six recent transactions, a nearly exhausted daily limit and a young
	// account push a medium amount into review territory.
	history := &stubHistory{recentCount: 6, dailySum: amount("9500.00")}
	svc := NewFraudService(discardLogger(), &stubRules{}, history, &stubAges{age: 48 * time.Hour})

	result, err := svc.CheckTransaction(context.Background(), transferContext("1200.00"))
	require.NoError(t, err)

	// HIGH_VELOCITY 20 + DAILY_LIMIT_EXCEEDED 40 + NEW_ACCOUNT_HIGH_AMOUNT 25.
	require.Equal(t, 85, result.Score)
	require.Equal(t, entities.DecisionBlocked, result.Decision)
	require.Contains(t, result.AppliedRules, "HIGH_VELOCITY")
	require.Contains(t, result.AppliedRules, "DAILY_LIMIT_EXCEEDED")
	require.Contains(t, result.AppliedRules, "NEW_ACCOUNT_HIGH_AMOUNT")
}

func TestCheckTransactionBuiltinFirstInterWalletTransfer(t *testing.T) {
	svc := NewFraudService(discardLogger(), &stubRules{}, &stubHistory{dailySum: decimal.Zero}, matureAccount())

	fctx := transferContext("300.00")
	fctx.Type = entities.TransactionInterWallet
	fctx.InterWallet = true
	fctx.ExternalSystemURL = "https://other.wallet.test"

	result, err := svc.CheckTransaction(context.Background(), fctx)
	require.NoError(t, err)
	require.Equal(t, 15, result.Score)
	require.Equal(t, entities.DecisionAccepted, result.Decision)
	require.Equal(t, []string{"NEW_EXTERNAL_SYSTEM"}, result.AppliedRules)
}

func TestCheckTransactionStoredRules(t *testing.T) {
	blockRule := entities.FraudRule{
		ID:       uuid.New(),
		Name:     "VERY_HIGH_AMOUNT",
		Type:     entities.RuleAmountLimit,
		Score:    50,
		Action:   entities.ActionBlock,
		Priority: 100,
		Condition: entities.FraudCondition{
			AmountLimit: &entities.AmountLimitCondition{MaxAmount: amount("10000")},
		},
	}
	flagRule := entities.FraudRule{
		ID:       uuid.New(),
		Name:     "HIGH_AMOUNT",
		Type:     entities.RuleAmountLimit,
		Score:    30,
		Action:   entities.ActionFlag,
		Priority: 90,
		Condition: entities.FraudCondition{
			AmountLimit: &entities.AmountLimitCondition{MaxAmount: amount("5000")},
		},
	}

	t.Run("block short-circuits lower priority rules", func(t *testing.T) {
		rules := &stubRules{rules: []entities.FraudRule{blockRule, flagRule}}
		svc := NewFraudService(discardLogger(), rules, &stubHistory{}, matureAccount())

		result, err := svc.CheckTransaction(context.Background(), transferContext("20000.00"))
		require.NoError(t, err)
		require.Equal(t, entities.DecisionBlocked, result.Decision)
		require.Equal(t, []string{"VERY_HIGH_AMOUNT"}, result.AppliedRules)
		require.Equal(t, 50, result.Score)
	})

	t.Run("flag rules accumulate without blocking", func(t *testing.T) {
		rules := &stubRules{rules: []entities.FraudRule{blockRule, flagRule}}
		svc := NewFraudService(discardLogger(), rules, &stubHistory{}, matureAccount())

		result, err := svc.CheckTransaction(context.Background(), transferContext("7000.00"))
		require.NoError(t, err)
		require.Equal(t, entities.DecisionAccepted, result.Decision)
		require.Equal(t, 30, result.Score)
	})

	t.Run("review action forces review at low score", func(t *testing.T) {
		reviewRule := flagRule
		reviewRule.Action = entities.ActionReview
		rules := &stubRules{rules: []entities.FraudRule{reviewRule}}
		svc := NewFraudService(discardLogger(), rules, &stubHistory{}, matureAccount())

		result, err := svc.CheckTransaction(context.Background(), transferContext("7000.00"))
		require.NoError(t, err)
		require.Equal(t, entities.DecisionReview, result.Decision)
	})

	t.Run("velocity rule uses stored window", func(t *testing.T) {
		velocityRule := entities.FraudRule{
			ID:     uuid.New(),
			Name:   "HIGH_VELOCITY",
			Type:   entities.RuleVelocity,
			Score:  60,
			Action: entities.ActionFlag,
			Condition: entities.FraudCondition{
				Velocity: &entities.VelocityCondition{MaxTransactions: 10, WindowMinutes: 60},
			},
		}
		rules := &stubRules{rules: []entities.FraudRule{velocityRule}}
		svc := NewFraudService(discardLogger(), rules, &stubHistory{recentCount: 10}, matureAccount())

		result, err := svc.CheckTransaction(context.Background(), transferContext("100.00"))
		require.NoError(t, err)
		require.Equal(t, 60, result.Score)
		require.Equal(t, entities.DecisionReview, result.Decision)
	})
}

func TestCheckTransactionFailsClosedOnDataErrors(t *testing.T) {
	t.Run("rule store error", func(t *testing.T) {
		rules := &stubRules{err: errors.New("connection refused")}
		svc := NewFraudService(discardLogger(), rules, &stubHistory{}, matureAccount())

		_, err := svc.CheckTransaction(context.Background(), transferContext("100.00"))
		require.Error(t, err)
	})

	t.Run("history error", func(t *testing.T) {
		history := &stubHistory{err: errors.New("connection refused")}
		svc := NewFraudService(discardLogger(), &stubRules{}, history, matureAccount())

		_, err := svc.CheckTransaction(context.Background(), transferContext("100.00"))
		require.Error(t, err)
	})
}

func TestDetermineDecisionBoundaries(t *testing.T) {
	require.Equal(t, entities.DecisionAccepted, determineDecision(0))
	require.Equal(t, entities.DecisionAccepted, determineDecision(49))
	require.Equal(t, entities.DecisionReview, determineDecision(50))
	require.Equal(t, entities.DecisionReview, determineDecision(79))
	require.Equal(t, entities.DecisionBlocked, determineDecision(80))
	require.Equal(t, entities.DecisionBlocked, determineDecision(150))
}

func TestCapScore(t *testing.T) {
	require.Equal(t, 95, capScore(95))
	require.Equal(t, 100, capScore(100))
	require.Equal(t, 100, capScore(135))
}
