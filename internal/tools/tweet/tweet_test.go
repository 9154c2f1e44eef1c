package tweet

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arcway/toolops/internal/llm"
	"github.com/arcway/toolops/internal/toolops"
	"github.com/arcway/toolops/pkg/models"
)

type fakeLLMClient struct {
	calls int
}

func (f *fakeLLMClient) Complete(ctx context.Context, messages []models.Message, model string, opts llm.Options) (string, error) {
	f.calls++
	return fmt.Sprintf("draft #%d", f.calls), nil
}

func testOp() *models.ToolOperation {
	return &models.ToolOperation{OperationID: "op-1", SessionID: "session-1"}
}

func TestTool_RunParsesCountFromMessage(t *testing.T) {
	client := &fakeLLMClient{}
	tool := New(client, "test-model")

	result, err := tool.Run(context.Background(), testOp(), "draft 3 tweets about the launch")
	require.NoError(t, err)
	require.Len(t, result.Items, 3)
	for _, item := range result.Items {
		assert.Equal(t, ContentType, item.ContentType)
		assert.NotEmpty(t, item.RawContent)
	}
}

func TestTool_RunDefaultsToOneWhenNoCountNamed(t *testing.T) {
	client := &fakeLLMClient{}
	tool := New(client, "test-model")

	result, err := tool.Run(context.Background(), testOp(), "draft a tweet about launch day")
	require.NoError(t, err)
	require.Len(t, result.Items, 1)
}

func TestTool_GenerateContentPropagatesClientError(t *testing.T) {
	tool := New(&erroringClient{}, "test-model")
	_, err := tool.GenerateContent(context.Background(), testOp(), map[string]any{"topic": "x"}, 1)
	require.Error(t, err)
	kind, ok := toolops.KindOf(err)
	require.True(t, ok)
	assert.Equal(t, toolops.KindToolExecutionFailed, kind)
}

type erroringClient struct{}

func (e *erroringClient) Complete(ctx context.Context, messages []models.Message, model string, opts llm.Options) (string, error) {
	return "", fmt.Errorf("provider unavailable")
}

func TestTool_ExecuteScheduledOperationIsIdempotentByItemID(t *testing.T) {
	tool := New(&fakeLLMClient{}, "test-model")
	item := &models.ToolItem{ItemID: "item-1", Content: map[string]any{"text": "hello world"}}

	first, err := tool.ExecuteScheduledOperation(context.Background(), item)
	require.NoError(t, err)
	second, err := tool.ExecuteScheduledOperation(context.Background(), item)
	require.NoError(t, err)

	assert.True(t, first.Success)
	assert.Equal(t, first.APIResponse["idempotency_key"], second.APIResponse["idempotency_key"])
	assert.Equal(t, "item-1", first.APIResponse["idempotency_key"])
}

func TestTool_CheckConditionIsUnsupported(t *testing.T) {
	tool := New(&fakeLLMClient{}, "test-model")
	fire, err := tool.CheckCondition(context.Background(), &models.Schedule{})
	require.Error(t, err)
	assert.False(t, fire)
}

func TestTool_ScheduleForSingleItemIsOneTime(t *testing.T) {
	tool := New(&fakeLLMClient{}, "test-model")
	items := []*models.ToolItem{{ItemID: "item-1"}}

	info, err := tool.ScheduleFor(&models.ToolOperation{Input: models.OperationInput{Command: "draft a tweet"}}, items)
	require.NoError(t, err)
	assert.Equal(t, models.ScheduleOneTime, info.Type)
	require.NotNil(t, info.StartTime)
}

func TestTool_ScheduleForBatchSpreadsAcrossNamedSpan(t *testing.T) {
	tool := New(&fakeLLMClient{}, "test-model")
	items := []*models.ToolItem{{ItemID: "item-1"}, {ItemID: "item-2"}, {ItemID: "item-3"}}

	info, err := tool.ScheduleFor(&models.ToolOperation{Input: models.OperationInput{Command: "schedule 3 tweets over 30 minutes"}}, items)
	require.NoError(t, err)
	assert.Equal(t, models.ScheduleMultiple, info.Type)
	assert.Equal(t, 3, info.TotalItems)
	assert.Equal(t, 10*time.Minute, info.Interval)
}

func TestTool_ScheduleForBatchDefaultsSpanWhenUnnamed(t *testing.T) {
	tool := New(&fakeLLMClient{}, "test-model")
	items := []*models.ToolItem{{ItemID: "item-1"}, {ItemID: "item-2"}}

	info, err := tool.ScheduleFor(&models.ToolOperation{Input: models.OperationInput{Command: "schedule 2 tweets"}}, items)
	require.NoError(t, err)
	assert.Equal(t, defaultSpan/2, info.Interval)
}

func TestTool_ScheduleForRejectsEmptyItems(t *testing.T) {
	tool := New(&fakeLLMClient{}, "test-model")
	_, err := tool.ScheduleFor(testOp(), nil)
	require.Error(t, err)
}

func TestParseSpan_RecognizesUnits(t *testing.T) {
	cases := []struct {
		message  string
		expected time.Duration
	}{
		{"over 45 seconds", 45 * time.Second},
		{"over 2 hours", 2 * time.Hour},
		{"over 1 day", 24 * time.Hour},
		{"OVER 10 MINUTES", 10 * time.Minute},
		{"no span named here", defaultSpan},
	}
	for _, c := range cases {
		assert.Equal(t, c.expected, parseSpan(c.message), c.message)
	}
}

func TestParseCount_ExtractsFirstNumber(t *testing.T) {
	assert.Equal(t, 5, parseCount("draft 5 tweets"))
	assert.Equal(t, 1, parseCount("draft a tweet"))
}
