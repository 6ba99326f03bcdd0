// Package classify maps incidents to failure classes through a pluggable
// reasoning provider, applying the configured confidence floor.
package classify

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/sethvargo/go-retry"

	"github.com/oncallstack/triage-engine/internal/cache"
	"github.com/oncallstack/triage-engine/internal/config"
	"github.com/oncallstack/triage-engine/internal/models"
	"github.com/oncallstack/triage-engine/internal/utils"
)

// Reasoner is the capability contract for the classification provider, LLM
// or rule-based.
type Reasoner interface {
	Infer(ctx context.Context, evidence string, fields map[string]string) (models.FailureClass, error)
}

// NewReasoner selects the reasoning provider named by configuration.
func NewReasoner(cfg config.ClassifierConfig) (Reasoner, error) {
	switch cfg.Provider {
	case "", "rules":
		return NewRuleReasoner(), nil
	case "llm":
		return NewLLMReasoner(cfg.Endpoint, cfg.APIKey, cfg.Timeout), nil
	}
	return nil, fmt.Errorf("unknown classifier provider %q", cfg.Provider)
}

// Classifier wraps a Reasoner with timeout control, one bounded retry, a
// result cache, and the confidence floor.
type Classifier struct {
	reasoner Reasoner
	cache    cache.Provider
	logger   *slog.Logger
	cfg      config.ClassifierConfig
}

// New constructs a Classifier.
func New(reasoner Reasoner, cacheProvider cache.Provider, logger *slog.Logger, cfg config.ClassifierConfig) *Classifier {
	if cacheProvider == nil {
		cacheProvider = cache.NoopProvider{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Classifier{reasoner: reasoner, cache: cacheProvider, logger: logger, cfg: cfg}
}

// Classify produces a FailureClass for the incident. A provider outage after
// the single retry surfaces as ErrClassificationUnavailable, which callers
// treat as unknown with confidence 0, never as a crash.
func (c *Classifier) Classify(ctx context.Context, incident models.Incident) (models.FailureClass, error) {
	cacheKey := "classify:" + incident.ID
	if data, err := c.cache.Get(ctx, cacheKey); err == nil {
		var cached models.FailureClass
		if err := json.Unmarshal(data, &cached); err == nil {
			return cached, nil
		}
	}

	backoff := c.cfg.RetryBackoff
	if backoff <= 0 {
		backoff = 500 * time.Millisecond
	}

	var fc models.FailureClass
	err := retry.Do(ctx, retry.WithMaxRetries(1, retry.NewConstant(backoff)), func(ctx context.Context) error {
		attemptCtx := ctx
		if c.cfg.Timeout > 0 {
			var cancel context.CancelFunc
			attemptCtx, cancel = context.WithTimeout(ctx, c.cfg.Timeout)
			defer cancel()
		}

		result, err := c.reasoner.Infer(attemptCtx, incident.RawEvidence, incident.Fields)
		if err != nil {
			// Inference is read-only, so one retry is safe.
			return retry.RetryableError(err)
		}
		fc = result
		return nil
	})
	if err != nil {
		c.logger.Warn("reasoning provider unreachable",
			slog.String("incident_id", incident.ID), slog.Any("error", err))
		return models.FailureClass{}, utils.NewAppError("classify", "provider unreachable after retry",
			fmt.Errorf("%w: %v", models.ErrClassificationUnavailable, err))
	}

	fc = c.applyFloor(fc)

	if data, err := json.Marshal(fc); err == nil {
		if err := c.cache.Set(ctx, cacheKey, data, c.cfg.CacheTTL); err != nil {
			c.logger.Debug("classification cache write failed", slog.Any("error", err))
		}
	}
	return fc, nil
}

func (c *Classifier) applyFloor(fc models.FailureClass) models.FailureClass {
	if fc.Confidence < 0 {
		fc.Confidence = 0
	}
	if fc.Confidence > 1 {
		fc.Confidence = 1
	}
	if fc.Confidence < c.cfg.ConfidenceFloor {
		fc.Class = models.ClassUnknown
		if fc.Rationale != "" {
			fc.Rationale += "; "
		}
		fc.Rationale += "low-confidence override"
	}
	return fc
}
