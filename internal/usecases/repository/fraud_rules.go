package repository

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	tx "github.com/Thiht/transactor/pgx"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/moneta-app/wallet/backend/internal/entities"
	"github.com/moneta-app/wallet/backend/pkg/database"
)

// FraudRulesRepository stores the configurable scoring rules. Conditions are
// persisted as JSON and decoded into their typed variants at load time.
type FraudRulesRepository struct {
	logger     *slog.Logger
	db         tx.DBGetter
	transactor *tx.Transactor
}

// NewFraudRulesRepository creates a new fraud rules repository.
func NewFraudRulesRepository(logger *slog.Logger, pg *database.Postgres) *FraudRulesRepository {
	return &FraudRulesRepository{
		logger:     logger,
		db:         pg.DBGetter,
		transactor: pg.Transactor,
	}
}

// ListActiveRules returns active rules ordered by priority descending,
// insertion order breaking ties.
func (r *FraudRulesRepository) ListActiveRules(ctx context.Context) ([]entities.FraudRule, error) {
	query := `SELECT id, name, type, condition, score, action, priority, active, created_at
	            FROM fraud_rules
	           WHERE active
	           ORDER BY priority DESC, created_at, id`

	rows, err := r.db(ctx).Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query fraud rules: %w", err)
	}
	defer rows.Close()

	var rules []entities.FraudRule
	for rows.Next() {
		var rule entities.FraudRule
		var rawCondition []byte

		if err = rows.Scan(&rule.ID, &rule.Name, &rule.Type, &rawCondition,
			&rule.Score, &rule.Action, &rule.Priority, &rule.Active, &rule.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan fraud rule row: %w", err)
		}

		rule.Condition, err = entities.DecodeFraudCondition(rule.Type, rawCondition)
		if err != nil {
			// A malformed rule must not fail every transfer in the system;
			// skip it loudly.
			r.logger.Error("Skipping fraud rule with malformed condition",
				"rule_id", rule.ID, "rule_name", rule.Name, "error", err)
			continue
		}

		rules = append(rules, rule)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate fraud rule rows: %w", err)
	}

	return rules, nil
}

// InsertRule stores one rule.
func (r *FraudRulesRepository) InsertRule(ctx context.Context, rule *entities.FraudRule) error {
	rawCondition, err := rule.Condition.Encode()
	if err != nil {
		return fmt.Errorf("failed to encode rule condition: %w", err)
	}

	query := `INSERT INTO fraud_rules (id, name, type, condition, score, action, priority, active, created_at)
	          VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`

	_, err = r.db(ctx).Exec(ctx, query,
		rule.ID, rule.Name, rule.Type, rawCondition, rule.Score, rule.Action, rule.Priority, rule.Active, rule.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert fraud rule: %w", err)
	}
	return nil
}

// SeedDefaultRules installs the default rule set if the table is empty.
// Mirrors the built-in rules the engine falls back to.
func (r *FraudRulesRepository) SeedDefaultRules(ctx context.Context) error {
	var count int
	if err := r.db(ctx).QueryRow(ctx, "SELECT COUNT(*) FROM fraud_rules").Scan(&count); err != nil {
		return fmt.Errorf("failed to count fraud rules: %w", err)
	}
	if count > 0 {
		return nil
	}

	now := time.Now()
	defaults := []entities.FraudRule{
		{
			Name: "VERY_HIGH_AMOUNT", Type: entities.RuleAmountLimit,
			Condition: entities.FraudCondition{AmountLimit: &entities.AmountLimitCondition{MaxAmount: decimal.NewFromInt(10000)}},
			Score:     50, Action: entities.ActionBlock, Priority: 100,
		},
		{
			Name: "HIGH_AMOUNT", Type: entities.RuleAmountLimit,
			Condition: entities.FraudCondition{AmountLimit: &entities.AmountLimitCondition{MaxAmount: decimal.NewFromInt(5000)}},
			Score:     30, Action: entities.ActionFlag, Priority: 90,
		},
		{
			Name: "HIGH_VELOCITY", Type: entities.RuleVelocity,
			Condition: entities.FraudCondition{Velocity: &entities.VelocityCondition{MaxTransactions: 10, WindowMinutes: 60}},
			Score:     20, Action: entities.ActionFlag, Priority: 80,
		},
		{
			Name: "DAILY_LIMIT_EXCEEDED", Type: entities.RuleDailyLimit,
			Condition: entities.FraudCondition{DailyLimit: &entities.DailyLimitCondition{MaxDailyAmount: decimal.NewFromInt(5000)}},
			Score:     40, Action: entities.ActionFlag, Priority: 70,
		},
		{
			Name: "NEW_ACCOUNT_HIGH_AMOUNT", Type: entities.RuleNewAccount,
			Condition: entities.FraudCondition{NewAccount: &entities.NewAccountCondition{MinAccountAgeDays: 7, MaxAmount: decimal.NewFromInt(500)}},
			Score:     25, Action: entities.ActionFlag, Priority: 60,
		},
		{
			Name: "INTER_WALLET_SUSPICIOUS", Type: entities.RuleInterWalletSuspicious,
			Condition: entities.FraudCondition{InterWallet: &entities.InterWalletCondition{MaxAmount: decimal.NewFromInt(200)}},
			Score:     15, Action: entities.ActionFlag, Priority: 50,
		},
	}

	return r.transactor.WithinTransaction(ctx, func(txCtx context.Context) error {
		for i := range defaults {
			defaults[i].ID = uuid.New()
			defaults[i].Active = true
			defaults[i].CreatedAt = now
			if err := r.InsertRule(txCtx, &defaults[i]); err != nil {
				return err
			}
		}
		r.logger.Info("Seeded default fraud rules", "count", len(defaults))
		return nil
	})
}
