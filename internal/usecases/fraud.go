package usecases

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"github.com/moneta-app/wallet/backend/internal/entities"
)

// Decision thresholds and built-in score contributions. These values are
// load-bearing: history listings and downstream consumers rely on them.
const (
	scoreHighAmount           = 30
	scoreVeryHighAmount       = 50
	scoreHighVelocity         = 20
	scoreDailyLimitExceeded   = 40
	scoreNewAccountHighAmount = 25
	scoreNewExternalSystem    = 15

	blockedThreshold = 80
	reviewThreshold  = 50
	maxScore         = 100

	builtinHighAmountThreshold     = 5000
	builtinVeryHighAmountThreshold = 10000
	builtinVelocityWindow          = 60 * time.Minute
	builtinVelocityMax             = 5
	builtinDailyLimit              = 10000
	builtinNewAccountAgeDays       = 7
	builtinNewAccountAmount        = 1000
)

// Statuses that count toward the daily spending limit.
var dailyLimitStatuses = []entities.TransactionStatus{
	entities.StatusSuccess,
	entities.StatusPending,
	entities.StatusProcessing,
}

type fraudRuleSource interface {
	ListActiveRules(ctx context.Context) ([]entities.FraudRule, error)
}

type fraudHistory interface {
	CountTransactionsSince(ctx context.Context, userID int64, since time.Time) (int64, error)
	SumTransactionAmountsSince(ctx context.Context, userID int64, since time.Time, statuses []entities.TransactionStatus) (decimal.Decimal, error)
	CountInterWalletTransactions(ctx context.Context, userID int64, externalSystemURL string) (int64, error)
}

type accountAgeSource interface {
	GetUserAccountAge(ctx context.Context, userID int64) (time.Duration, error)
}

// FraudService scores proposed transactions against the configured rules
// and the user's stored history. Rules are evaluated in priority order; a
// triggered BLOCK rule short-circuits everything below it. When no rules
// are configured the engine falls back to a fixed built-in set.
type FraudService struct {
	logger  *slog.Logger
	rules   fraudRuleSource
	history fraudHistory
	ages    accountAgeSource
}

// NewFraudService creates the fraud scoring engine.
func NewFraudService(logger *slog.Logger, rules fraudRuleSource, history fraudHistory, ages accountAgeSource) *FraudService {
	return &FraudService{
		logger:  logger,
		rules:   rules,
		history: history,
		ages:    ages,
	}
}

// CheckTransaction scores the proposed transaction. A data-access failure
// is returned as an error so the orchestrator can fail the transfer closed.
func (s *FraudService) CheckTransaction(ctx context.Context, fctx entities.FraudContext) (*entities.FraudResult, error) {
	rules, err := s.rules.ListActiveRules(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load fraud rules: %w", err)
	}

	if len(rules) == 0 {
		return s.checkBuiltin(ctx, fctx)
	}

	result := &entities.FraudResult{Decision: entities.DecisionAccepted}
	forceReview := false

	for _, rule := range rules {
		triggered, reason, evalErr := s.evaluateRule(ctx, rule, fctx)
		if evalErr != nil {
			return nil, fmt.Errorf("failed to evaluate rule %s: %w", rule.Name, evalErr)
		}
		if !triggered {
			continue
		}

		result.Score += rule.Score
		result.AppliedRules = append(result.AppliedRules, rule.Name)
		result.Reasons = append(result.Reasons, reason)

		if rule.Action == entities.ActionBlock {
			result.Decision = entities.DecisionBlocked
			result.Score = capScore(result.Score)
			s.logResult(ctx, fctx, result)
			return result, nil
		}
		if rule.Action == entities.ActionReview {
			forceReview = true
		}
	}

	result.Decision = determineDecision(result.Score)
	if forceReview && result.Decision == entities.DecisionAccepted {
		result.Decision = entities.DecisionReview
	}
	result.Score = capScore(result.Score)

	s.logResult(ctx, fctx, result)
	return result, nil
}

func (s *FraudService) logResult(ctx context.Context, fctx entities.FraudContext, result *entities.FraudResult) {
	s.logger.InfoContext(ctx, "Fraud check completed",
		"user_id", fctx.UserID,
		"amount", fctx.Amount.String(),
		"type", fctx.Type,
		"score", result.Score,
		"decision", result.Decision,
		"applied_rules", result.AppliedRules)
}

func (s *FraudService) evaluateRule(ctx context.Context, rule entities.FraudRule, fctx entities.FraudContext) (bool, string, error) {
	switch rule.Type {
	case entities.RuleAmountLimit:
		cond := rule.Condition.AmountLimit
		if fctx.Amount.GreaterThan(cond.MaxAmount) {
			return true, fmt.Sprintf("amount %s exceeds limit %s", fctx.Amount, cond.MaxAmount), nil
		}

	case entities.RuleVelocity:
		cond := rule.Condition.Velocity
		since := time.Now().Add(-time.Duration(cond.WindowMinutes) * time.Minute)
		count, err := s.history.CountTransactionsSince(ctx, fctx.UserID, since)
		if err != nil {
			return false, "", err
		}
		if count >= int64(cond.MaxTransactions) {
			return true, fmt.Sprintf("%d transactions in the last %d minutes", count, cond.WindowMinutes), nil
		}

	case entities.RuleDailyLimit:
		cond := rule.Condition.DailyLimit
		sum, err := s.history.SumTransactionAmountsSince(ctx, fctx.UserID, startOfDay(time.Now()), dailyLimitStatuses)
		if err != nil {
			return false, "", err
		}
		if sum.Add(fctx.Amount).GreaterThan(cond.MaxDailyAmount) {
			return true, fmt.Sprintf("daily total %s exceeds limit %s", sum.Add(fctx.Amount), cond.MaxDailyAmount), nil
		}

	case entities.RuleNewAccount:
		cond := rule.Condition.NewAccount
		age, err := s.ages.GetUserAccountAge(ctx, fctx.UserID)
		if err != nil {
			return false, "", err
		}
		if age < time.Duration(cond.MinAccountAgeDays)*24*time.Hour && fctx.Amount.GreaterThan(cond.MaxAmount) {
			return true, fmt.Sprintf("account younger than %d days moving %s", cond.MinAccountAgeDays, fctx.Amount), nil
		}

	case entities.RuleInterWalletSuspicious:
		if !fctx.InterWallet {
			return false, "", nil
		}
		cond := rule.Condition.InterWallet
		count, err := s.history.CountInterWalletTransactions(ctx, fctx.UserID, fctx.ExternalSystemURL)
		if err != nil {
			return false, "", err
		}
		if count == 0 && fctx.Amount.GreaterThan(cond.MaxAmount) {
			return true, fmt.Sprintf("first transfer to external system for amount %s", fctx.Amount), nil
		}

	default:
		s.logger.Warn("Skipping fraud rule with unknown type", "rule_name", rule.Name, "rule_type", rule.Type)
	}

	return false, "", nil
}

// checkBuiltin applies the fixed fallback rule set used when no
// configurable rules exist in the store.
func (s *FraudService) checkBuiltin(ctx context.Context, fctx entities.FraudContext) (*entities.FraudResult, error) {
	result := &entities.FraudResult{Decision: entities.DecisionAccepted}

	score, rules := calculateHighAmountScore(fctx.Amount)
	result.Score += score
	result.AppliedRules = append(result.AppliedRules, rules...)
	for _, name := range rules {
		result.Reasons = append(result.Reasons, fmt.Sprintf("%s: amount %s", name, fctx.Amount))
	}

	velocityCount, err := s.history.CountTransactionsSince(ctx, fctx.UserID, time.Now().Add(-builtinVelocityWindow))
	if err != nil {
		return nil, fmt.Errorf("failed to count recent transactions: %w", err)
	}
	if velocityCount > builtinVelocityMax {
		result.Score += scoreHighVelocity
		result.AppliedRules = append(result.AppliedRules, "HIGH_VELOCITY")
		result.Reasons = append(result.Reasons, fmt.Sprintf("HIGH_VELOCITY: %d transactions in the last hour", velocityCount))
	}

	dailySum, err := s.history.SumTransactionAmountsSince(ctx, fctx.UserID, startOfDay(time.Now()), dailyLimitStatuses)
	if err != nil {
		return nil, fmt.Errorf("failed to sum daily transactions: %w", err)
	}
	if dailySum.Add(fctx.Amount).GreaterThan(decimal.NewFromInt(builtinDailyLimit)) {
		result.Score += scoreDailyLimitExceeded
		result.AppliedRules = append(result.AppliedRules, "DAILY_LIMIT_EXCEEDED")
		result.Reasons = append(result.Reasons, fmt.Sprintf("DAILY_LIMIT_EXCEEDED: daily total %s", dailySum.Add(fctx.Amount)))
	}

	age, err := s.ages.GetUserAccountAge(ctx, fctx.UserID)
	if err != nil {
		return nil, fmt.Errorf("failed to get account age: %w", err)
	}
	if age < builtinNewAccountAgeDays*24*time.Hour && fctx.Amount.GreaterThan(decimal.NewFromInt(builtinNewAccountAmount)) {
		result.Score += scoreNewAccountHighAmount
		result.AppliedRules = append(result.AppliedRules, "NEW_ACCOUNT_HIGH_AMOUNT")
		result.Reasons = append(result.Reasons, fmt.Sprintf("NEW_ACCOUNT_HIGH_AMOUNT: amount %s from a new account", fctx.Amount))
	}

	if fctx.InterWallet {
		interCount, err := s.history.CountInterWalletTransactions(ctx, fctx.UserID, "")
		if err != nil {
			return nil, fmt.Errorf("failed to count inter-wallet transactions: %w", err)
		}
		if interCount == 0 {
			result.Score += scoreNewExternalSystem
			result.AppliedRules = append(result.AppliedRules, "NEW_EXTERNAL_SYSTEM")
			result.Reasons = append(result.Reasons, "NEW_EXTERNAL_SYSTEM: first inter-wallet transfer")
		}
	}

	result.Decision = determineDecision(result.Score)
	result.Score = capScore(result.Score)

	s.logResult(ctx, fctx, result)
	return result, nil
}

// calculateHighAmountScore applies the two built-in amount tiers. Both can
// fire at once and stack: an amount above both thresholds scores 80.
func calculateHighAmountScore(amount decimal.Decimal) (int, []string) {
	score := 0
	var rules []string

	if amount.GreaterThan(decimal.NewFromInt(builtinHighAmountThreshold)) {
		score += scoreHighAmount
		rules = append(rules, "HIGH_AMOUNT")
	}
	if amount.GreaterThan(decimal.NewFromInt(builtinVeryHighAmountThreshold)) {
		score += scoreVeryHighAmount
		rules = append(rules, "VERY_HIGH_AMOUNT")
	}

	return score, rules
}

// determineDecision partitions the running score into the three decision
// ranges.
func determineDecision(score int) entities.FraudDecision {
	switch {
	case score >= blockedThreshold:
		return entities.DecisionBlocked
	case score >= reviewThreshold:
		return entities.DecisionReview
	default:
		return entities.DecisionAccepted
	}
}

func capScore(score int) int {
	if score > maxScore {
		return maxScore
	}
	return score
}

func startOfDay(t time.Time) time.Time {
	year, month, day := t.Date()
	return time.Date(year, month, day, 0, 0, 0, 0, t.Location())
}
