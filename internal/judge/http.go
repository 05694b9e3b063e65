// internal/judge/http.go
package judge

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// maxResponseBytes bounds how much of an oracle response is read.
const maxResponseBytes = 64 << 10

// HTTPJudge posts each request as JSON to an external oracle and expects a
// RawVerdict JSON body back.
type HTTPJudge struct {
	url    string
	client *http.Client
	tracer trace.Tracer
}

// NewHTTPJudge builds a judge for url. A nil client gets a default with a
// generous timeout; callers bound each call with their own context.
func NewHTTPJudge(url string, client *http.Client) *HTTPJudge {
	if client == nil {
		client = &http.Client{Timeout: 60 * time.Second}
	}
	return &HTTPJudge{
		url:    url,
		client: client,
		tracer: otel.Tracer("github.com/jason-s-yu/lampstand/internal/judge"),
	}
}

func (j *HTTPJudge) Evaluate(ctx context.Context, req Request) (Result, error) {
	ctx, span := j.tracer.Start(ctx, "judge.Evaluate", trace.WithAttributes(
		attribute.String("judge.backend", "http"),
		attribute.String("card.category", categoryOf(req.Card)),
	))
	defer span.End()

	body, err := json.Marshal(req)
	if err != nil {
		return Result{}, fmt.Errorf("encode judge request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, j.url, bytes.NewReader(body))
	if err != nil {
		return Result{}, fmt.Errorf("build judge request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")

	resp, err := j.client.Do(httpReq)
	if err != nil {
		span.RecordError(err)
		return Result{}, fmt.Errorf("judge request: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return Result{}, fmt.Errorf("read judge response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return Result{}, fmt.Errorf("judge returned status %d", resp.StatusCode)
	}

	var raw RawVerdict
	if err := json.Unmarshal(data, &raw); err != nil {
		return Result{}, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}
	return Normalize(raw)
}
