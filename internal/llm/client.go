// Package llm is a client for an OpenAI-compatible chat completion endpoint
// used to draft SOAP notes and suggest procedure codes.
package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/medscribe/soapflow/internal/apperr"
	"github.com/medscribe/soapflow/internal/domain/soapnote"
	"github.com/medscribe/soapflow/internal/domain/template"
	"github.com/medscribe/soapflow/pkg/circuitbreaker"
)

const maxResponseBytes = 4 << 20

// ErrMalformedResponse is wrapped when the model answer does not match the
// expected JSON shape.
var ErrMalformedResponse = errors.New("malformed model response")

// Config holds client configuration
type Config struct {
	BaseURL     string
	APIKey      string
	Model       string
	Timeout     time.Duration
	Temperature float64
}

// DefaultConfig returns sensible defaults
func DefaultConfig() Config {
	return Config{
		BaseURL:     "https://api.openai.com/v1",
		Model:       "gpt-4o-mini",
		Timeout:     60 * time.Second,
		Temperature: 0.2,
	}
}

// Breaker runs a call under a circuit breaker.
type Breaker interface {
	Do(ctx context.Context, fn func(ctx context.Context) error) error
}

// CallObserver records the latency and outcome of each completion call.
type CallObserver func(op string, err error, elapsed time.Duration)

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// WithBreaker routes every call through b.
func WithBreaker(b Breaker) Option {
	return func(c *Client) { c.breaker = b }
}

// WithObserver registers a latency observer.
func WithObserver(o CallObserver) Option {
	return func(c *Client) { c.observe = o }
}

// Client talks to the completion endpoint.
type Client struct {
	cfg     Config
	http    *http.Client
	breaker Breaker
	observe CallObserver
	logger  *zap.Logger
	tracer  trace.Tracer
}

// New creates a new client
func New(cfg Config, logger *zap.Logger, opts ...Option) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	c := &Client{
		cfg:    cfg,
		http:   &http.Client{Timeout: cfg.Timeout},
		logger: logger,
		tracer: otel.Tracer("llm"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

var _ Breaker = (*circuitbreaker.CircuitBreaker)(nil)

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model          string          `json:"model"`
	Messages       []chatMessage   `json:"messages"`
	Temperature    float64         `json:"temperature"`
	ResponseFormat *responseFormat `json:"response_format,omitempty"`
}

type responseFormat struct {
	Type string `json:"type"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
}

type apiError struct {
	Error struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error"`
}

// GenerateNote drafts a SOAP note. It fails with an upstream error when the
// call fails, the model reports an error, or any section is missing.
func (c *Client) GenerateNote(ctx context.Context, p template.Prompt) (soapnote.Note, error) {
	const op = "llm.generate_note"

	content, err := c.complete(ctx, op, p.System, p.User)
	if err != nil {
		return soapnote.Note{}, err
	}
	return parseNote(op, content)
}

func parseNote(op, content string) (soapnote.Note, error) {
	var payload struct {
		SoapNote *struct {
			Subjective *string `json:"subjective"`
			Objective  *string `json:"objective"`
			Assessment *string `json:"assessment"`
			Plan       *string `json:"plan"`
		} `json:"soap_note"`
		Error string `json:"error"`
	}
	if err := json.Unmarshal([]byte(content), &payload); err != nil {
		return soapnote.Note{}, apperr.E(apperr.KindUpstream, op, fmt.Errorf("%w: %v", ErrMalformedResponse, err))
	}
	if payload.Error != "" {
		return soapnote.Note{}, apperr.E(apperr.KindUpstream, op, fmt.Errorf("model declined: %s", payload.Error))
	}

	n := payload.SoapNote
	if n == nil {
		return soapnote.Note{}, apperr.E(apperr.KindUpstream, op, fmt.Errorf("%w: missing soap_note", ErrMalformedResponse))
	}
	var missing []string
	for name, v := range map[string]*string{
		"subjective": n.Subjective,
		"objective":  n.Objective,
		"assessment": n.Assessment,
		"plan":       n.Plan,
	} {
		if v == nil {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		return soapnote.Note{}, apperr.E(apperr.KindUpstream, op,
			fmt.Errorf("%w: missing %s", ErrMalformedResponse, strings.Join(sortedSections(missing), ", ")))
	}

	return soapnote.Note{
		Subjective: *n.Subjective,
		Objective:  *n.Objective,
		Assessment: *n.Assessment,
		Plan:       *n.Plan,
	}, nil
}

// sortedSections orders section names the way they appear in a note.
func sortedSections(names []string) []string {
	order := []string{"subjective", "objective", "assessment", "plan"}
	out := make([]string, 0, len(names))
	for _, o := range order {
		for _, n := range names {
			if n == o {
				out = append(out, n)
			}
		}
	}
	return out
}

const suggestSystemPrompt = `You are a medical coding assistant. Suggest CPT and ICD-10 codes supported by the visit transcription.
Return ONLY valid JSON with this schema: {"codes": string[]} with at most 10 codes and no descriptions.`

// SuggestCodes asks the model for procedure codes. The raw strings are
// returned unfiltered.
func (c *Client) SuggestCodes(ctx context.Context, transcript string) ([]string, error) {
	const op = "llm.suggest_codes"

	content, err := c.complete(ctx, op, suggestSystemPrompt, "Transcription:\n"+transcript)
	if err != nil {
		return nil, err
	}

	var payload struct {
		Codes []string `json:"codes"`
		Error string   `json:"error"`
	}
	if err := json.Unmarshal([]byte(content), &payload); err != nil {
		return nil, apperr.E(apperr.KindUpstream, op, fmt.Errorf("%w: %v", ErrMalformedResponse, err))
	}
	if payload.Error != "" {
		return nil, apperr.E(apperr.KindUpstream, op, fmt.Errorf("model declined: %s", payload.Error))
	}
	return payload.Codes, nil
}

// complete sends one chat completion and returns the assistant content.
func (c *Client) complete(ctx context.Context, op, system, user string) (string, error) {
	ctx, span := c.tracer.Start(ctx, op,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(attribute.String("llm.model", c.cfg.Model)),
	)
	defer span.End()

	start := time.Now()
	var content string
	call := func(ctx context.Context) error {
		var err error
		content, err = c.post(ctx, op, system, user)
		return err
	}

	var err error
	if c.breaker != nil {
		err = c.breaker.Do(ctx, call)
	} else {
		err = call(ctx)
	}

	elapsed := time.Since(start)
	if c.observe != nil {
		c.observe(op, err, elapsed)
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		c.logger.Warn("llm call failed",
			zap.String("op", op),
			zap.String("kind", string(apperr.KindOf(err))),
			zap.Duration("elapsed", elapsed),
			zap.Error(err))
		return "", err
	}

	c.logger.Debug("llm call completed", zap.String("op", op), zap.Duration("elapsed", elapsed))
	return content, nil
}

func (c *Client) post(ctx context.Context, op, system, user string) (string, error) {
	body, err := json.Marshal(chatRequest{
		Model: c.cfg.Model,
		Messages: []chatMessage{
			{Role: "system", Content: system},
			{Role: "user", Content: user},
		},
		Temperature:    c.cfg.Temperature,
		ResponseFormat: &responseFormat{Type: "json_object"},
	})
	if err != nil {
		return "", apperr.E(apperr.KindInternal, op, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		strings.TrimRight(c.cfg.BaseURL, "/")+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return "", apperr.E(apperr.KindInternal, op, err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return "", err
		}
		return "", apperr.Upstream(op, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return "", apperr.Upstream(op, fmt.Errorf("read response: %w", err))
	}

	if resp.StatusCode != http.StatusOK {
		var ae apiError
		msg := strings.TrimSpace(string(raw))
		if json.Unmarshal(raw, &ae) == nil && ae.Error.Message != "" {
			msg = ae.Error.Message
		}
		return "", apperr.E(apperr.KindUpstream, op, fmt.Errorf("status %d: %s", resp.StatusCode, msg))
	}

	var cr chatResponse
	if err := json.Unmarshal(raw, &cr); err != nil {
		return "", apperr.E(apperr.KindUpstream, op, fmt.Errorf("%w: %v", ErrMalformedResponse, err))
	}
	if len(cr.Choices) == 0 {
		return "", apperr.E(apperr.KindUpstream, op, fmt.Errorf("%w: no choices", ErrMalformedResponse))
	}
	return cr.Choices[0].Message.Content, nil
}
