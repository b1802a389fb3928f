package entities

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type FraudRuleType string

const (
	RuleAmountLimit           FraudRuleType = "AMOUNT_LIMIT"
	RuleVelocity              FraudRuleType = "VELOCITY"
	RuleDailyLimit            FraudRuleType = "DAILY_LIMIT"
	RuleNewAccount            FraudRuleType = "NEW_ACCOUNT"
	RuleInterWalletSuspicious FraudRuleType = "INTER_WALLET_SUSPICIOUS"
)

type FraudAction string

const (
	ActionBlock  FraudAction = "BLOCK"
	ActionFlag   FraudAction = "FLAG"
	ActionReview FraudAction = "REVIEW"
)

type FraudDecision string

const (
	DecisionAccepted FraudDecision = "ACCEPTED"
	DecisionReview   FraudDecision = "REVIEW"
	DecisionBlocked  FraudDecision = "BLOCKED"
)

// Rule condition variants. Exactly one of these is populated on a rule,
// selected by the rule type and decoded once at load time.
type (
	AmountLimitCondition struct {
		MaxAmount decimal.Decimal `json:"max_amount"`
	}

	VelocityCondition struct {
		MaxTransactions int `json:"max_transactions"`
		WindowMinutes   int `json:"window_minutes"`
	}

	DailyLimitCondition struct {
		MaxDailyAmount decimal.Decimal `json:"max_daily_amount"`
	}

	NewAccountCondition struct {
		MinAccountAgeDays int             `json:"min_account_age_days"`
		MaxAmount         decimal.Decimal `json:"max_amount"`
	}

	InterWalletCondition struct {
		MaxAmount decimal.Decimal `json:"max_amount"`
	}
)

// FraudCondition is the tagged union of rule parameters.
type FraudCondition struct {
	AmountLimit *AmountLimitCondition
	Velocity    *VelocityCondition
	DailyLimit  *DailyLimitCondition
	NewAccount  *NewAccountCondition
	InterWallet *InterWalletCondition
}

// DecodeFraudCondition parses the raw condition parameters of a rule into
// the variant matching its type.
func DecodeFraudCondition(ruleType FraudRuleType, raw []byte) (FraudCondition, error) {
	var cond FraudCondition
	var err error

	switch ruleType {
	case RuleAmountLimit:
		v := &AmountLimitCondition{}
		err = json.Unmarshal(raw, v)
		cond.AmountLimit = v
	case RuleVelocity:
		v := &VelocityCondition{}
		err = json.Unmarshal(raw, v)
		cond.Velocity = v
	case RuleDailyLimit:
		v := &DailyLimitCondition{}
		err = json.Unmarshal(raw, v)
		cond.DailyLimit = v
	case RuleNewAccount:
		v := &NewAccountCondition{}
		err = json.Unmarshal(raw, v)
		cond.NewAccount = v
	case RuleInterWalletSuspicious:
		v := &InterWalletCondition{}
		err = json.Unmarshal(raw, v)
		cond.InterWallet = v
	default:
		return cond, fmt.Errorf("unknown fraud rule type: %s", ruleType)
	}

	if err != nil {
		return cond, fmt.Errorf("failed to decode %s condition: %w", ruleType, err)
	}
	return cond, nil
}

// Encode serializes the populated variant back to raw parameters.
func (c FraudCondition) Encode() ([]byte, error) {
	switch {
	case c.AmountLimit != nil:
		return json.Marshal(c.AmountLimit)
	case c.Velocity != nil:
		return json.Marshal(c.Velocity)
	case c.DailyLimit != nil:
		return json.Marshal(c.DailyLimit)
	case c.NewAccount != nil:
		return json.Marshal(c.NewAccount)
	case c.InterWallet != nil:
		return json.Marshal(c.InterWallet)
	}
	return nil, fmt.Errorf("fraud condition has no variant set")
}

// FraudRule is an administrator-managed scoring rule. Rules are evaluated
// in descending priority order; a triggered BLOCK rule stops evaluation.
type FraudRule struct {
	ID        uuid.UUID      `db:"id"`
	Name      string         `db:"name"`
	Type      FraudRuleType  `db:"type"`
	Condition FraudCondition `db:"-"`
	Score     int            `db:"score"`
	Action    FraudAction    `db:"action"`
	Priority  int            `db:"priority"`
	Active    bool           `db:"active"`
	CreatedAt time.Time      `db:"created_at"`
}

// FraudContext describes the proposed transaction being scored.
type FraudContext struct {
	UserID              int64
	Amount              decimal.Decimal
	Type                TransactionType
	SourceWalletID      *uuid.UUID
	DestinationWalletID *uuid.UUID
	InterWallet         bool
	ExternalSystemURL   string
}

// FraudResult is the outcome of scoring one proposed transaction.
type FraudResult struct {
	Score        int           `json:"score"`
	Decision     FraudDecision `json:"decision"`
	Reasons      []string      `json:"reasons"`
	AppliedRules []string      `json:"applied_rules"`
}
