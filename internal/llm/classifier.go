package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/arcway/toolops/internal/toolops"
	"github.com/arcway/toolops/pkg/models"
)

// classifierSchemaURL is a synthetic identifier the in-memory schema is
// registered under; no network fetch ever happens for it.
const classifierSchemaURL = "mem://toolops/approval-classification.json"

// ApprovalClassifier implements toolops.Classifier by prompting a Client to
// emit strict JSON and validating the result against the classification
// schema described in §4.4 before handing it back.
type ApprovalClassifier struct {
	client Client
	model  string
	schema *jsonschema.Schema
}

// NewApprovalClassifier constructs an ApprovalClassifier.
func NewApprovalClassifier(client Client, model string) (*ApprovalClassifier, error) {
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource(classifierSchemaURL, bytes.NewReader(toolops.ClassifierSchema())); err != nil {
		return nil, fmt.Errorf("llm: loading classifier schema: %w", err)
	}
	schema, err := compiler.Compile(classifierSchemaURL)
	if err != nil {
		return nil, fmt.Errorf("llm: compiling classifier schema: %w", err)
	}
	return &ApprovalClassifier{client: client, model: model, schema: schema}, nil
}

// Classify prompts the model to interpret reply against items and validates
// the JSON shape of its answer.
func (c *ApprovalClassifier) Classify(ctx context.Context, items []*models.ToolItem, reply string) (*toolops.Classification, error) {
	prompt := buildClassificationPrompt(items, reply)
	text, err := c.client.Complete(ctx, []models.Message{
		{Role: models.RoleSystem, Content: classifierSystemPrompt},
		{Role: models.RoleUser, Content: prompt},
	}, c.model, Options{Temperature: 0, MaxTokens: 512})
	if err != nil {
		return nil, fmt.Errorf("llm: classification completion: %w", err)
	}

	raw := extractJSON(text)
	var decoded any
	if err := json.Unmarshal([]byte(raw), &decoded); err != nil {
		return nil, toolops.NewError(toolops.KindClassificationMalformed, "classifier reply is not valid JSON", err)
	}
	if err := c.schema.Validate(decoded); err != nil {
		return nil, toolops.NewError(toolops.KindClassificationMalformed, "classifier reply failed schema validation", err)
	}

	var classification toolops.Classification
	if err := json.Unmarshal([]byte(raw), &classification); err != nil {
		return nil, toolops.NewError(toolops.KindClassificationMalformed, "classifier reply did not decode", err)
	}
	return &classification, nil
}

const classifierSystemPrompt = `You interpret a user's free-text reply to a set of proposed items awaiting approval. Respond with strict JSON only, no prose, matching: {"action": one of FULL_APPROVAL|PARTIAL_APPROVAL|REGENERATE_ALL|CANCEL|AWAIT_INPUT|ERROR, "approved_indices": [int], "regenerate_indices": [int], "rationale": string}. approved_indices and regenerate_indices must partition 1..N with no overlap when action is PARTIAL_APPROVAL. When action is REGENERATE_ALL, omit both index arrays — every item is implicitly regenerated with nothing approved.`

func buildClassificationPrompt(items []*models.ToolItem, reply string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Items (1..%d):\n", len(items))
	for i, item := range items {
		fmt.Fprintf(&b, "%d. %s\n", i+1, item.RawContent)
	}
	fmt.Fprintf(&b, "\nUser reply: %s\n", reply)
	return b.String()
}

// extractJSON trims common wrapper text (code fences) a model might add
// around its JSON reply.
func extractJSON(text string) string {
	trimmed := strings.TrimSpace(text)
	trimmed = strings.TrimPrefix(trimmed, "```json")
	trimmed = strings.TrimPrefix(trimmed, "```")
	trimmed = strings.TrimSuffix(trimmed, "```")
	return strings.TrimSpace(trimmed)
}
