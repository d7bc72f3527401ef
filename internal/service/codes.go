package service

import (
	"context"
	"fmt"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/medscribe/soapflow/internal/apperr"
	"github.com/medscribe/soapflow/internal/domain/procedurecode"
	"github.com/medscribe/soapflow/internal/observability/metrics"
)

// CodeModel suggests procedure codes for a transcript.
type CodeModel interface {
	SuggestCodes(ctx context.Context, transcript string) ([]string, error)
}

// Suggestion is the result of a code lookup.
type Suggestion struct {
	Codes  []string              `json:"codes"`
	Source procedurecode.Source `json:"source"`
}

// SuggesterConfig configures a CodeSuggester.
type SuggesterConfig struct {
	// CacheSize bounds the number of users whose top codes are kept in memory.
	CacheSize int
	// TopN is how many frequent codes a cache hit returns.
	TopN int
}

// DefaultSuggesterConfig returns the production defaults.
func DefaultSuggesterConfig() SuggesterConfig {
	return SuggesterConfig{CacheSize: 1024, TopN: procedurecode.DefaultTopN}
}

// CodeSuggester answers code suggestions from the clinician's own history
// first and asks the model only when there is none or a refresh is forced.
type CodeSuggester struct {
	repo    procedurecode.Repository
	model   CodeModel
	cache   *lru.Cache[string, []string]
	topN    int

	// gen counts Record calls. A lookup caches what it read only if no
	// Record ran while the query was in flight.
	mu  sync.Mutex
	gen uint64

	metrics *metrics.Metrics
	logger  *zap.Logger
	tracer  trace.Tracer
}

// NewCodeSuggester creates a suggester. m may be nil.
func NewCodeSuggester(repo procedurecode.Repository, model CodeModel, cfg SuggesterConfig, m *metrics.Metrics, logger *zap.Logger) (*CodeSuggester, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if m == nil {
		m = metrics.New(prometheus.NewRegistry())
	}
	if cfg.TopN <= 0 {
		cfg.TopN = procedurecode.DefaultTopN
	}

	cache, err := lru.New[string, []string](cfg.CacheSize)
	if err != nil {
		return nil, fmt.Errorf("create code cache: %w", err)
	}

	return &CodeSuggester{
		repo:    repo,
		model:   model,
		cache:   cache,
		topN:    cfg.TopN,
		metrics: m,
		logger:  logger,
		tracer:  otel.Tracer("code-suggester"),
	}, nil
}

// Suggest returns codes for userID. Unless forceRefresh is set, the user's
// most frequent codes are returned without calling the model.
func (s *CodeSuggester) Suggest(ctx context.Context, userID, transcript string, forceRefresh bool) (*Suggestion, error) {
	ctx, span := s.tracer.Start(ctx, "suggest_codes",
		trace.WithAttributes(attribute.Bool("force_refresh", forceRefresh)))
	defer span.End()

	if userID == "" {
		return nil, apperr.E(apperr.KindUnauthorized, "codes.suggest", fmt.Errorf("user id is required"))
	}

	if !forceRefresh {
		top, err := s.topCodes(ctx, userID)
		if err != nil {
			span.RecordError(err)
			return nil, err
		}
		if len(top) > 0 {
			span.SetAttributes(attribute.String("source", string(procedurecode.SourceCache)))
			s.metrics.CodeSuggestions.WithLabelValues(string(procedurecode.SourceCache)).Inc()
			return &Suggestion{Codes: top, Source: procedurecode.SourceCache}, nil
		}
	}

	raw, err := s.model.SuggestCodes(ctx, transcript)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("suggest codes: %w", err)
	}

	suggested := procedurecode.Normalize(raw)
	if len(suggested) == 0 {
		s.logger.Warn("model suggested no usable codes, using defaults",
			zap.String("user_id", userID),
			zap.Int("raw", len(raw)))
		suggested = procedurecode.Defaults()
	}

	if err := s.Record(ctx, userID, suggested); err != nil {
		s.logger.Warn("failed to persist suggested codes",
			zap.String("user_id", userID),
			zap.Error(err))
	}

	span.SetAttributes(attribute.String("source", string(procedurecode.SourceLLM)))
	s.metrics.CodeSuggestions.WithLabelValues(string(procedurecode.SourceLLM)).Inc()
	return &Suggestion{Codes: suggested, Source: procedurecode.SourceLLM}, nil
}

// Record increments the user's frequencies for codes and drops the cached
// top codes so the next lookup sees them.
func (s *CodeSuggester) Record(ctx context.Context, userID string, codes []string) error {
	defer s.invalidate(userID)
	if err := s.repo.Increment(ctx, userID, codes); err != nil {
		return fmt.Errorf("record codes: %w", err)
	}
	return nil
}

func (s *CodeSuggester) invalidate(userID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.gen++
	s.cache.Remove(userID)
}

func (s *CodeSuggester) generation() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.gen
}

// store caches top unless a Record happened since gen was read.
func (s *CodeSuggester) store(userID string, top []string, gen uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.gen == gen {
		s.cache.Add(userID, clone(top))
	}
}

func (s *CodeSuggester) topCodes(ctx context.Context, userID string) ([]string, error) {
	if top, ok := s.cache.Get(userID); ok {
		s.metrics.CodeCacheLookups.WithLabelValues("hit").Inc()
		return clone(top), nil
	}
	s.metrics.CodeCacheLookups.WithLabelValues("miss").Inc()

	gen := s.generation()
	top, err := s.repo.TopCodes(ctx, userID, s.topN)
	if err != nil {
		return nil, apperr.E(apperr.KindInternal, "codes.top", err)
	}
	if len(top) > 0 {
		s.store(userID, top, gen)
	}
	return top, nil
}

func clone(codes []string) []string {
	out := make([]string, len(codes))
	copy(out, codes)
	return out
}
