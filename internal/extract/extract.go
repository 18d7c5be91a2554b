// Package extract turns cleaned search evidence into structured cost records
// by prompting an LLM and validating its JSON answer.
package extract

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/Keyring-Network/keyring-atlas/internal/agent"
	"github.com/Keyring-Network/keyring-atlas/internal/llm"
	"github.com/Keyring-Network/keyring-atlas/internal/telemetry"
)

var (
	ErrNoJSON   = errors.New("model response contained no JSON object")
	codeBlockRE = regexp.MustCompile("(?s)```(?:json)?\\s*\n(.*?)\n```")
	tracer      = telemetry.Tracer("github.com/Keyring-Network/keyring-atlas/internal/extract")
)

// LLMExtractor implements agent.Extractor on top of any llm.Provider.
type LLMExtractor struct {
	provider llm.Provider
}

func NewLLMExtractor(provider llm.Provider) *LLMExtractor {
	return &LLMExtractor{provider: provider}
}

type response struct {
	Amount            float64  `json:"amount"`
	Currency          string   `json:"currency"`
	USDAmount         float64  `json:"usd_amount"`
	Confidence        float64  `json:"confidence"`
	Source            string   `json:"source"`
	Notes             string   `json:"notes"`
	SpeedMbps         *float64 `json:"speed_mbps"`
	ReliabilityScore  *float64 `json:"reliability_score"`
	FiberAvailability *bool    `json:"fiber_availability"`
}

func (e *LLMExtractor) Extract(ctx context.Context, req agent.ExtractionRequest) (agent.CostCategoryResult, error) {
	ctx, span := tracer.Start(ctx, "extract.category", trace.WithAttributes(
		attribute.String("city", req.City),
		attribute.String("category", req.Category.Name),
	))
	defer span.End()

	raw, err := e.provider.Generate(ctx, buildMessages(req))
	if err != nil {
		span.RecordError(err)
		return agent.CostCategoryResult{}, fmt.Errorf("generating %s estimate: %w", req.Category.Name, err)
	}
	document, ok := extractJSON(raw)
	if !ok {
		span.RecordError(ErrNoJSON)
		return agent.CostCategoryResult{}, ErrNoJSON
	}
	if err := validate(req.Category.Name, []byte(document)); err != nil {
		span.RecordError(err)
		return agent.CostCategoryResult{}, err
	}

	var parsed response
	if err := json.Unmarshal([]byte(document), &parsed); err != nil {
		return agent.CostCategoryResult{}, fmt.Errorf("decoding %s response: %w", req.Category.Name, err)
	}
	result := agent.CostCategoryResult{
		Category:   req.Category.Name,
		Amount:     parsed.Amount,
		Currency:   strings.ToUpper(parsed.Currency),
		USDAmount:  parsed.USDAmount,
		Confidence: int(parsed.Confidence + 0.5),
		Source:     parsed.Source,
		Notes:      parsed.Notes,
	}
	if parsed.SpeedMbps != nil {
		details := &agent.InternetDetails{SpeedMbps: *parsed.SpeedMbps}
		if parsed.ReliabilityScore != nil {
			details.ReliabilityScore = *parsed.ReliabilityScore
		}
		if parsed.FiberAvailability != nil {
			details.FiberAvailability = *parsed.FiberAvailability
		}
		result.Internet = details
	}
	span.SetAttributes(attribute.Int("confidence", result.Confidence))
	return result, nil
}

// extractJSON pulls the first JSON object out of a model response, preferring
// a fenced code block.
func extractJSON(raw string) (string, bool) {
	if m := codeBlockRE.FindStringSubmatch(raw); len(m) == 2 {
		candidate := strings.TrimSpace(m[1])
		if json.Valid([]byte(candidate)) {
			return candidate, true
		}
	}
	start := strings.Index(raw, "{")
	if start < 0 {
		return "", false
	}
	decoder := json.NewDecoder(strings.NewReader(raw[start:]))
	var object json.RawMessage
	if err := decoder.Decode(&object); err != nil {
		return "", false
	}
	return string(object), true
}
