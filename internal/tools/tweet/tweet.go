// Package tweet implements the tweet drafting/scheduling tool body: one of
// the two worked examples the engine's approval and schedule flows are
// exercised against.
package tweet

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/arcway/toolops/internal/llm"
	"github.com/arcway/toolops/internal/toolops"
	"github.com/arcway/toolops/pkg/models"
)

// ContentType is the registry content_type for this tool.
const ContentType = "tweet"

var (
	countPattern    = regexp.MustCompile(`\b(\d+)\b`)
	spanPattern     = regexp.MustCompile(`(?i)over\s+(\d+)\s*(second|minute|hour|day)s?`)
)

// defaultSpan is the total window a batch of drafts is spread across when
// the command names no duration ("schedule 3 tweets" with no "over ...").
const defaultSpan = time.Minute

// Tool drafts tweet content via an injected llm.Client and leaves execution
// (actually posting) as an idempotent stub, since a concrete Twitter API
// client is out of scope.
type Tool struct {
	client llm.Client
	model  string
}

// New constructs a tweet Tool.
func New(client llm.Client, model string) *Tool {
	return &Tool{client: client, model: model}
}

// RegistryEntry returns this tool's immutable registry row.
func RegistryEntry(client llm.Client, model string) toolops.RegistryEntry {
	return toolops.RegistryEntry{
		ToolType:              "tweet",
		ContentType:           ContentType,
		RequiresApproval:      true,
		RequiresScheduling:    true,
		SupportsMonitoring:    false,
		RequiredCollaborators: []string{"llm"},
		Factory:               func() toolops.Tool { return New(client, model) },
	}
}

// Run parses the initial command and generates the first batch of drafts.
func (t *Tool) Run(ctx context.Context, op *models.ToolOperation, message string) (*toolops.GenerateResult, error) {
	count := parseCount(message)
	return t.GenerateContent(ctx, op, map[string]any{"topic": message}, count)
}

// GenerateContent drafts count tweets about the operation's subject via the
// LLM client, each becoming one COLLECTING/PENDING item.
func (t *Tool) GenerateContent(ctx context.Context, op *models.ToolOperation, params map[string]any, count int) (*toolops.GenerateResult, error) {
	if count <= 0 {
		count = 1
	}
	topic, _ := params["topic"].(string)
	if topic == "" {
		topic = op.Input.Command
	}

	var items []*models.ToolItem
	for i := 0; i < count; i++ {
		draft, err := t.draftOne(ctx, topic, i, count)
		if err != nil {
			return nil, toolops.NewError(toolops.KindToolExecutionFailed, "drafting tweet", err)
		}
		items = append(items, &models.ToolItem{
			ItemID:      uuid.NewString(),
			OperationID: op.OperationID,
			SessionID:   op.SessionID,
			ContentType: ContentType,
			Content:     map[string]any{"text": draft},
			RawContent:  draft,
		})
	}
	return &toolops.GenerateResult{Items: items}, nil
}

func (t *Tool) draftOne(ctx context.Context, topic string, index, total int) (string, error) {
	prompt := fmt.Sprintf("Draft tweet %d of %d about: %s. Keep it under 280 characters, no hashtags spam.", index+1, total, topic)
	text, err := t.client.Complete(ctx, []models.Message{
		{Role: models.RoleUser, Content: prompt},
	}, t.model, llm.Options{Temperature: 0.8, MaxTokens: 256})
	if err != nil {
		return "", err
	}
	return text, nil
}

// ExecuteScheduledOperation "posts" the tweet. Idempotent per item_id: a
// real client would dedupe on item_id as an idempotency key; this stub
// always reports success and is safe to redeliver.
func (t *Tool) ExecuteScheduledOperation(ctx context.Context, item *models.ToolItem) (*toolops.ExecutionResult, error) {
	text, _ := item.Content["text"].(string)
	return &toolops.ExecutionResult{
		Success: true,
		APIResponse: map[string]any{
			"posted_text": text,
			"idempotency_key": item.ItemID,
		},
	}, nil
}

// CheckCondition never fires and always returns a KindUnknownTool error:
// tweets never use monitoring schedules.
func (t *Tool) CheckCondition(ctx context.Context, sched *models.Schedule) (bool, error) {
	return false, toolops.NewError(toolops.KindUnknownTool, "tweet tool does not support monitoring schedules", nil)
}

// ScheduleFor implements toolops.ScheduleProvider: a single draft schedules
// as one_time for "now"; a batch spreads evenly across the span named in the
// original command ("... over 30 minutes"), defaultSpan otherwise.
func (t *Tool) ScheduleFor(op *models.ToolOperation, items []*models.ToolItem) (toolops.ScheduleInfo, error) {
	if len(items) == 0 {
		return toolops.ScheduleInfo{}, fmt.Errorf("tweet: no items to schedule")
	}
	start := time.Now().UTC()
	if len(items) == 1 {
		return toolops.ScheduleInfo{Type: models.ScheduleOneTime, StartTime: &start}, nil
	}
	interval := parseSpan(op.Input.Command) / time.Duration(len(items))
	return toolops.ScheduleInfo{
		Type:       models.ScheduleMultiple,
		StartTime:  &start,
		Interval:   interval,
		TotalItems: len(items),
	}, nil
}

// parseSpan reads the "over N <unit>(s)" clause from message, defaulting to
// defaultSpan when none is present.
func parseSpan(message string) time.Duration {
	match := spanPattern.FindStringSubmatch(message)
	if match == nil {
		return defaultSpan
	}
	n, err := strconv.Atoi(match[1])
	if err != nil || n <= 0 {
		return defaultSpan
	}
	return time.Duration(n) * spanUnit(match[2])
}

func spanUnit(unit string) time.Duration {
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
		return time.Minute
	}
}

func parseCount(message string) int {
	match := countPattern.FindStringSubmatch(message)
	if match == nil {
		return 1
	}
	n, err := strconv.Atoi(match[1])
	if err != nil || n <= 0 {
		return 1
	}
	return n
}
