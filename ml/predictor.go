package ml

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync/atomic"

	lru "github.com/hashicorp/golang-lru/v2"
	"go.uber.org/zap"
)

// Predictor is the prediction pipeline: validate, derive, classify. The
// classifier is shared read-only, so Predict needs no locking.
type Predictor struct {
	classifier Classifier
	logger     *zap.Logger
	cache      *lru.Cache[CustomerRecord, Result]
	onCacheHit func()

	cacheHits   atomic.Int64
	cacheMisses atomic.Int64
}

type PredictorOption func(*Predictor) error

func WithLogger(logger *zap.Logger) PredictorOption {
	return func(p *Predictor) error {
		if logger != nil {
			p.logger = logger
		}
		return nil
	}
}

// WithCache memoises results per validated record. A size <= 0 disables it.
func WithCache(size int) PredictorOption {
	return func(p *Predictor) error {
		if size <= 0 {
			return nil
		}
		cache, err := lru.New[CustomerRecord, Result](size)
		if err != nil {
			return fmt.Errorf("create prediction cache: %w", err)
		}
		p.cache = cache
		return nil
	}
}

// WithCacheHitHook is called once for every result served from the cache.
func WithCacheHitHook(fn func()) PredictorOption {
	return func(p *Predictor) error {
		p.onCacheHit = fn
		return nil
	}
}

func NewPredictor(classifier Classifier, opts ...PredictorOption) (*Predictor, error) {
	if classifier == nil {
		return nil, errors.New("classifier is required")
	}
	p := &Predictor{
		classifier: classifier,
		logger:     zap.NewNop(),
	}
	for _, opt := range opts {
		if err := opt(p); err != nil {
			return nil, err
		}
	}
	return p, nil
}

func (p *Predictor) Predict(ctx context.Context, raw RawRecord) (Result, error) {
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}
	record, err := raw.Validate()
	if err != nil {
		return Result{}, err
	}
	return p.PredictRecord(ctx, record)
}

func (p *Predictor) PredictRecord(ctx context.Context, record CustomerRecord) (Result, error) {
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}
	if p.cache != nil {
		if result, ok := p.cache.Get(record); ok {
			p.cacheHits.Add(1)
			if p.onCacheHit != nil {
				p.onCacheHit()
			}
			return result, nil
		}
		p.cacheMisses.Add(1)
	}

	result, err := p.infer(Derive(record))
	if err != nil {
		p.logger.Warn("inference failed", zap.Error(err))
		return Result{}, err
	}
	if p.cache != nil {
		p.cache.Add(record, result)
	}
	return result, nil
}

func (p *Predictor) infer(derived DerivedRecord) (result Result, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &InferenceError{Err: fmt.Errorf("classifier panic: %v", r)}
		}
	}()

	features := derived.Features()
	label, err := p.classifier.Predict(features)
	if err != nil {
		return Result{}, &InferenceError{Err: err}
	}
	proba, err := p.classifier.PredictProba(features)
	if err != nil {
		return Result{}, &InferenceError{Err: err}
	}
	probability := proba[1]
	if math.IsNaN(probability) || probability < 0 || probability > 1 {
		return Result{}, &InferenceError{Err: fmt.Errorf("probability %v outside [0,1]", probability)}
	}
	if label != 0 && label != 1 {
		return Result{}, &InferenceError{Err: fmt.Errorf("unexpected class label %d", label)}
	}
	return Result{Prediction: label, Probability: probability}, nil
}

type CacheStats struct {
	Enabled bool  `json:"enabled"`
	Hits    int64 `json:"hits"`
	Misses  int64 `json:"misses"`
	Size    int   `json:"size"`
}

func (p *Predictor) CacheStats() CacheStats {
	stats := CacheStats{
		Enabled: p.cache != nil,
		Hits:    p.cacheHits.Load(),
		Misses:  p.cacheMisses.Load(),
	}
	if p.cache != nil {
		stats.Size = p.cache.Len()
	}
	return stats
}
