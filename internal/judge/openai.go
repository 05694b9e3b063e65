// internal/judge/openai.go
package judge

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// DefaultOpenAIModel is used when no model is configured.
const DefaultOpenAIModel = "gpt-4o-mini"

const systemPrompt = `You are the judge of a bible study card game.
A player plays a card for the session topic and explains why it fits.
Decide whether the card and rationale fit the topic.
Reply with only a JSON object: {"verdict": "approved" | "partial" | "rejected", "feedback": string, "points_awarded": integer}.
Use "partial" when the idea is close but the rationale needs clarification.
Award 1 to 3 points for approved moves and 0 otherwise.`

// OpenAIJudge asks a chat completion model for the verdict.
type OpenAIJudge struct {
	client openai.Client
	model  string
	tracer trace.Tracer
}

// NewOpenAIJudge builds a judge from an API key. Extra request options, such
// as option.WithBaseURL, are passed through to the client.
func NewOpenAIJudge(apiKey, model string, opts ...option.RequestOption) *OpenAIJudge {
	if model == "" {
		model = DefaultOpenAIModel
	}
	opts = append([]option.RequestOption{option.WithAPIKey(apiKey)}, opts...)
	return &OpenAIJudge{
		client: openai.NewClient(opts...),
		model:  model,
		tracer: otel.Tracer("github.com/jason-s-yu/lampstand/internal/judge"),
	}
}

func (j *OpenAIJudge) Evaluate(ctx context.Context, req Request) (Result, error) {
	ctx, span := j.tracer.Start(ctx, "judge.Evaluate", trace.WithAttributes(
		attribute.String("judge.backend", "openai"),
		attribute.String("judge.model", j.model),
		attribute.String("card.category", categoryOf(req.Card)),
	))
	defer span.End()

	resp, err := j.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model: openai.ChatModel(j.model),
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(systemPrompt),
			openai.UserMessage(userPrompt(req)),
		},
	})
	if err != nil {
		span.RecordError(err)
		return Result{}, fmt.Errorf("openai completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return Result{}, fmt.Errorf("%w: no choices", ErrMalformedResponse)
	}
	return parseCompletion(resp.Choices[0].Message.Content)
}

func userPrompt(req Request) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Topic: %s\n", req.SessionTopic)
	if req.GameMode != "" {
		fmt.Fprintf(&b, "Mode: %s\n", req.GameMode)
	}
	fmt.Fprintf(&b, "Card: %s\n", req.Card.Describe())
	fmt.Fprintf(&b, "Rationale: %s\n", req.Rationale)
	return b.String()
}

// parseCompletion pulls the JSON object out of a model reply. Models
// sometimes wrap it in a code fence or surrounding prose.
func parseCompletion(content string) (Result, error) {
	start := strings.Index(content, "{")
	end := strings.LastIndex(content, "}")
	if start < 0 || end < start {
		return Result{}, fmt.Errorf("%w: no JSON object in reply", ErrMalformedResponse)
	}
	var raw RawVerdict
	if err := json.Unmarshal([]byte(content[start:end+1]), &raw); err != nil {
		return Result{}, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}
	return Normalize(raw)
}
