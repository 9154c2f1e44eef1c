// Package intents implements the NEAR deposit/withdraw/swap tool body,
// including price-triggered limit orders realized as monitoring schedules.
package intents

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/arcway/toolops/internal/toolops"
	"github.com/arcway/toolops/pkg/models"
)

// ContentType is the registry content_type for this tool.
const ContentType = "intent"

// PriceFeed supplies the current price of asset for limit-order condition
// evaluation. Production wiring would hit a real price oracle; tests use an
// in-memory feed.
type PriceFeed interface {
	Price(ctx context.Context, asset string) (float64, error)
}

// InMemoryPriceFeed is a test/demo PriceFeed backed by a fixed map the
// caller can mutate between ticks.
type InMemoryPriceFeed struct {
	Prices map[string]float64
}

// Price returns the configured price for asset, or an error if unset.
func (f *InMemoryPriceFeed) Price(ctx context.Context, asset string) (float64, error) {
	price, ok := f.Prices[asset]
	if !ok {
		return 0, fmt.Errorf("intents: no price configured for %s", asset)
	}
	return price, nil
}

var (
	amountPattern = regexp.MustCompile(`(\d+(?:\.\d+)?)\s*([A-Za-z]+)`)
	thresholdPattern = regexp.MustCompile(`(>=|<=|>|<|=)\s*\$?(\d+(?:\.\d+)?)`)
	expirationPattern = regexp.MustCompile(`(?i)within\s+(\d+)\s*(second|minute|hour|day)s?`)
)

// defaultMonitorCheckInterval is how often the executor's monitor sweep
// re-evaluates a limit order's condition.
const defaultMonitorCheckInterval = 30 * time.Second

// defaultMonitorExpiration is how long a limit order keeps monitoring when
// the command names no "within ..." deadline.
const defaultMonitorExpiration = 24 * time.Hour

// Tool implements deposit, withdraw, swap, and limit-order intents.
type Tool struct {
	feed PriceFeed
}

// New constructs an intents Tool.
func New(feed PriceFeed) *Tool {
	if feed == nil {
		feed = &InMemoryPriceFeed{Prices: map[string]float64{}}
	}
	return &Tool{feed: feed}
}

// RegistryEntry returns this tool's immutable registry row. Unlike tweet,
// this tool does not require approval for simple deposit/withdraw/swap
// (synchronous happy path, §8 scenario 4) but does support monitoring for
// limit orders.
func RegistryEntry(feed PriceFeed) toolops.RegistryEntry {
	return toolops.RegistryEntry{
		ToolType:              "intents",
		ContentType:           ContentType,
		RequiresApproval:      false,
		RequiresScheduling:    false,
		SupportsMonitoring:    true,
		RequiredCollaborators: []string{"price_feed"},
		Factory:               func() toolops.Tool { return New(feed) },
	}
}

// intentKind classifies which action a command describes.
type intentKind string

const (
	kindDeposit  intentKind = "deposit"
	kindWithdraw intentKind = "withdraw"
	kindSwap     intentKind = "swap"
	kindLimit    intentKind = "limit_order"
)

func classify(message string) intentKind {
	lower := strings.ToLower(message)
	switch {
	case strings.Contains(lower, "when") || strings.Contains(lower, "limit"):
		return kindLimit
	case strings.Contains(lower, "deposit"):
		return kindDeposit
	case strings.Contains(lower, "withdraw"):
		return kindWithdraw
	default:
		return kindSwap
	}
}

// Run parses the command and either executes synchronously (deposit,
// withdraw, swap) or produces a single monitoring item (limit order).
func (t *Tool) Run(ctx context.Context, op *models.ToolOperation, message string) (*toolops.GenerateResult, error) {
	kind := classify(message)
	amount, asset := parseAmountAsset(message)

	item := &models.ToolItem{
		ItemID:      uuid.NewString(),
		OperationID: op.OperationID,
		SessionID:   op.SessionID,
		ContentType: ContentType,
		Content: map[string]any{
			"kind":   string(kind),
			"amount": amount,
			"asset":  asset,
		},
		RawContent: message,
	}

	result := &toolops.GenerateResult{Items: []*models.ToolItem{item}}

	if kind == kindLimit {
		operator, threshold := parseThreshold(message)
		item.Content["operator"] = operator
		item.Content["threshold"] = threshold
		item.Content["condition_asset"] = asset
		// Unlike deposit/withdraw/swap, a limit order doesn't execute
		// synchronously: it sits as a monitoring schedule until its
		// condition fires or it expires.
		result.RequiresScheduling = true
	}

	return result, nil
}

// GenerateContent is unused for this tool: deposit/withdraw/swap is a single
// synchronous shot and limit orders don't regenerate.
func (t *Tool) GenerateContent(ctx context.Context, op *models.ToolOperation, params map[string]any, count int) (*toolops.GenerateResult, error) {
	return &toolops.GenerateResult{}, nil
}

// ExecuteScheduledOperation performs the real-world effect for a limit
// order once its condition fires (or a regular item for uniformity).
// Idempotent per item.ItemID, consistent with at-least-once redelivery.
func (t *Tool) ExecuteScheduledOperation(ctx context.Context, item *models.ToolItem) (*toolops.ExecutionResult, error) {
	kind, _ := item.Content["kind"].(string)
	amount, _ := item.Content["amount"].(float64)
	asset, _ := item.Content["asset"].(string)
	return &toolops.ExecutionResult{
		Success: true,
		APIResponse: map[string]any{
			"kind":             kind,
			"amount":           amount,
			"asset":            asset,
			"idempotency_key": item.ItemID,
		},
	}, nil
}

// CheckCondition evaluates a monitoring schedule's {asset, operator,
// threshold} descriptor against the price feed.
func (t *Tool) CheckCondition(ctx context.Context, sched *models.Schedule) (bool, error) {
	if sched.Condition == nil {
		return false, toolops.NewError(toolops.KindIllegalStateTransition, "monitoring schedule has no condition", nil)
	}
	price, err := t.feed.Price(ctx, sched.Condition.Asset)
	if err != nil {
		return false, toolops.NewError(toolops.KindToolExecutionFailed, "reading price feed", err)
	}
	switch sched.Condition.Operator {
	case ">=":
		return price >= sched.Condition.Threshold, nil
	case "<=":
		return price <= sched.Condition.Threshold, nil
	case ">":
		return price > sched.Condition.Threshold, nil
	case "<":
		return price < sched.Condition.Threshold, nil
	case "=":
		return price == sched.Condition.Threshold, nil
	default:
		return false, toolops.NewError(toolops.KindIllegalStateTransition, "unknown condition operator "+sched.Condition.Operator, nil)
	}
}

// ScheduleFor implements toolops.ScheduleProvider for limit orders: it
// builds the monitoring schedule's {asset, operator, threshold} condition
// from the single item a kindLimit Run produced, and reads an optional
// "within N <unit>" deadline from the original command.
func (t *Tool) ScheduleFor(op *models.ToolOperation, items []*models.ToolItem) (toolops.ScheduleInfo, error) {
	if len(items) != 1 {
		return toolops.ScheduleInfo{}, fmt.Errorf("intents: limit orders schedule exactly one item, got %d", len(items))
	}
	item := items[0]
	asset, _ := item.Content["condition_asset"].(string)
	operator, _ := item.Content["operator"].(string)
	threshold, _ := item.Content["threshold"].(float64)

	span := defaultMonitorExpiration
	if match := expirationPattern.FindStringSubmatch(op.Input.Command); match != nil {
		if n, err := strconv.Atoi(match[1]); err == nil && n > 0 {
			span = time.Duration(n) * expirationUnit(match[2])
		}
	}
	expiration := time.Now().UTC().Add(span)

	return toolops.ScheduleInfo{
		Type:                models.ScheduleMonitoring,
		CheckInterval:       defaultMonitorCheckInterval,
		ExpirationTimestamp: &expiration,
		Condition: &models.ConditionDescriptor{
			Asset:     asset,
			Operator:  operator,
			Threshold: threshold,
		},
	}, nil
}

func expirationUnit(unit string) time.Duration {
	switch strings.ToLower(unit) {
	case "second":
		return time.Second
	case "minute":
		return time.Minute
	case "hour":
		return time.Hour
	case "day":
		return 24 * time.Hour
	default:
		return time.Hour
	}
}

func parseAmountAsset(message string) (float64, string) {
	match := amountPattern.FindStringSubmatch(message)
	if match == nil {
		return 0, ""
	}
	amount, _ := strconv.ParseFloat(match[1], 64)
	return amount, strings.ToUpper(match[2])
}

func parseThreshold(message string) (string, float64) {
	match := thresholdPattern.FindStringSubmatch(message)
	if match == nil {
		return ">=", 0
	}
	threshold, _ := strconv.ParseFloat(match[2], 64)
	return match[1], threshold
}
