package understand

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/cenkalti/backoff/v4"
	"github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	"github.com/guanpeibj/family-ai-assistant-sub001/internal/models"
)

type gptExtraction struct {
	Type          string                 `json:"type"`
	Fields        map[string]interface{} `json:"fields"`
	MissingFields []string               `json:"missing_fields"`
	Summary       string                 `json:"summary"`
	Confidence    float64                `json:"confidence"`
}

// GPTAdapter extracts structured fields with a chat-completion call.
// A failed call is retried once; after that the error surfaces as
// models.ErrAdapterUnavailable and nothing is persisted.
type GPTAdapter struct {
	client      *openai.Client
	model       string
	maxTokens   int
	temperature float64
	logger      *zap.Logger
}

func NewGPTAdapter(apiKey, model string, maxTokens int, temperature float64, logger *zap.Logger) *GPTAdapter {
	return &GPTAdapter{
		client:      openai.NewClient(apiKey),
		model:       model,
		maxTokens:   maxTokens,
		temperature: temperature,
		logger:      logger,
	}
}

const extractionPrompt = `You are a field extractor for a household memory assistant.
Classify the message into one type: expense, health, reminder, info.
Extract every field you can. Field values must be plain strings; amounts are
bare numbers without currency symbols.

Known fields: type, category, person, metric, value, amount, subject, source, intent.

Return ONLY a JSON object:
{
  "type": "expense",
  "fields": {"amount": "120", "category": "clothing"},
  "missing_fields": ["person"],
  "summary": "one-line summary",
  "confidence": 0.9
}

%sMessage: %s`

func (a *GPTAdapter) Understand(ctx context.Context, text string, prior models.Understanding) (*Extraction, error) {
	var priorBlock string
	if len(prior) > 0 {
		encoded, err := json.Marshal(prior)
		if err == nil {
			priorBlock = fmt.Sprintf("Fields already collected in this conversation (the message may fill the gaps): %s\n\n", encoded)
		}
	}
	prompt := fmt.Sprintf(extractionPrompt, priorBlock, text)

	var resp openai.ChatCompletionResponse
	call := func() error {
		var err error
		resp, err = a.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
			Model: a.model,
			Messages: []openai.ChatCompletionMessage{
				{Role: openai.ChatMessageRoleUser, Content: prompt},
			},
			MaxTokens:   a.maxTokens,
			Temperature: float32(a.temperature),
		})
		return err
	}

	// One transparent retry, then give up.
	policy := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), 1), ctx)
	if err := backoff.Retry(call, policy); err != nil {
		a.logger.Error("Understanding call failed after retry", zap.Error(err))
		return nil, fmt.Errorf("%w: %v", models.ErrAdapterUnavailable, err)
	}
	if len(resp.Choices) == 0 {
		a.logger.Error("Understanding call returned no choices")
		return nil, fmt.Errorf("%w: empty response", models.ErrAdapterUnavailable)
	}

	raw := strings.TrimSpace(resp.Choices[0].Message.Content)
	raw = stripCodeFence(raw)

	var parsed gptExtraction
	if err := json.Unmarshal([]byte(raw), &parsed); err != nil {
		a.logger.Error("Failed to parse extraction response",
			zap.Error(err),
			zap.String("response", raw))
		return nil, fmt.Errorf("%w: unparseable response", models.ErrAdapterUnavailable)
	}

	fields := make(models.Understanding, len(parsed.Fields))
	for k, v := range parsed.Fields {
		fields[k] = stringifyField(v)
	}

	return &Extraction{
		Type:          models.RecordType(strings.ToLower(strings.TrimSpace(parsed.Type))),
		Fields:        fields,
		MissingFields: parsed.MissingFields,
		Summary:       parsed.Summary,
		Confidence:    parsed.Confidence,
	}, nil
}

// stringifyField flattens a JSON value to the string form the projection
// layer expects. Numbers must come out as plain decimal notation: scientific
// forms like "1e+07" fail the numeric projection gate and the value would
// silently drop out of aggregation.
func stringifyField(v interface{}) string {
	switch val := v.(type) {
	case string:
		return strings.TrimSpace(val)
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	case bool:
		return fmt.Sprintf("%t", val)
	case nil:
		return ""
	default:
		encoded, err := json.Marshal(val)
		if err != nil {
			return ""
		}
		return string(encoded)
	}
}

func stripCodeFence(s string) string {
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}
