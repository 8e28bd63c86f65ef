// Package notifier implements the prioritized alert delivery pipeline:
// score each signal against its signal type's posterior performance,
// assign a priority tier, deduplicate, rate-limit, and hand surviving
// alerts to a delivery Sink.
package notifier

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"surveil/internal/config"
	"surveil/internal/detect"
	"surveil/internal/perf"
	"surveil/pkg/types"
)

// Alert is a scored, prioritized signal ready for delivery.
type Alert struct {
	MarketID      string
	SignalType    types.SignalType
	Priority      types.Priority
	Confidence    float64
	AdjustedScore float64
	Direction     types.Direction
	Timestamp     time.Time
	Metadata      interface{}
}

// Sink delivers a formatted alert to an external system (e.g. a webhook).
type Sink interface {
	Send(ctx context.Context, alert Alert) error
}

// DisableError is returned by a Sink to report a non-retryable delivery
// failure (e.g. a non-429 4xx) that should disable further delivery until
// an operator intervenes, per the notifier's "user-visible failures"
// handling.
type DisableError struct {
	Err error
}

func (e *DisableError) Error() string { return e.Err.Error() }
func (e *DisableError) Unwrap() error { return e.Err }

// Notifier scores, dedups, rate-limits, and delivers alerts.
type Notifier struct {
	cfg    config.NotifierConfig
	sink   Sink
	logger *slog.Logger

	mu            sync.Mutex
	globalBucket  *tokenBucket
	lastPerMarket map[string]time.Time
	dedup         map[string]time.Time
	noiseHistory  map[types.SignalType][]time.Time

	onDeliveryDisabled func(ctx context.Context, reason string)
}

// OnDeliveryDisabled registers a callback invoked when the sink reports a
// DisableError, so the caller (the orchestrator) can raise a system_alert
// without the notifier package taking a storage dependency.
func (n *Notifier) OnDeliveryDisabled(fn func(ctx context.Context, reason string)) {
	n.onDeliveryDisabled = fn
}

// New creates a Notifier. The global bucket's capacity and refill rate are
// both derived from DiscordRateLimit (N alerts allowed per 60s, refilling
// continuously at N/60 tokens/sec).
func New(cfg config.NotifierConfig, sink Sink, logger *slog.Logger) *Notifier {
	limit := cfg.DiscordRateLimit
	if limit <= 0 {
		limit = 10
	}
	return &Notifier{
		cfg:           cfg,
		sink:          sink,
		logger:        logger.With("component", "notifier"),
		globalBucket:  newTokenBucket(float64(limit), float64(limit)/60.0),
		lastPerMarket: make(map[string]time.Time),
		dedup:         make(map[string]time.Time),
		noiseHistory:  make(map[types.SignalType][]time.Time),
	}
}

// Notify scores sig against posterior and, if it survives prioritization,
// deduplication, and rate limiting, delivers it through the sink. Returns
// whether it was delivered and the priority it was assigned (empty if
// dropped before scoring produced a deliverable tier).
func (n *Notifier) Notify(ctx context.Context, sig types.EarlySignal, posterior perf.SignalTypePosterior, now time.Time) (bool, types.Priority, error) {
	n.mu.Lock()
	recency := n.recencyPenaltyLocked(sig.MarketID, now)
	noise := n.noiseBrakeLocked(sig.SignalType, now)
	n.mu.Unlock()

	adjustedScore := clip(sig.Confidence*posterior.AccuracyWeight+posterior.ExpectedValueBoost-recency-noise, 0, 1)
	priority := n.priorityFor(sig, adjustedScore)
	if priority == "" {
		return false, "", nil
	}

	dedupKey := fmt.Sprintf("%s|%s", sig.MarketID, sig.SignalType)

	n.mu.Lock()
	if last, ok := n.dedup[dedupKey]; ok && now.Sub(last) < n.cfg.DedupWindow {
		n.mu.Unlock()
		return false, priority, nil
	}

	if priority != types.PriorityCritical {
		if last, ok := n.lastPerMarket[sig.MarketID]; ok && now.Sub(last) < n.cfg.PerMarketCooldown {
			n.mu.Unlock()
			return false, priority, nil
		}
	}

	if !n.globalBucket.TryAcquire() {
		n.mu.Unlock()
		return false, priority, nil
	}
	n.mu.Unlock()

	alert := Alert{
		MarketID:      sig.MarketID,
		SignalType:    sig.SignalType,
		Priority:      priority,
		Confidence:    sig.Confidence,
		AdjustedScore: adjustedScore,
		Direction:     sig.Direction,
		Timestamp:     sig.Timestamp,
		Metadata:      sig.Metadata,
	}

	if err := n.sink.Send(ctx, alert); err != nil {
		n.globalBucket.Release()
		n.logger.Warn("webhook delivery failed, rolling back rate-limit reservation",
			"market", sig.MarketID, "signal_type", sig.SignalType, "error", err)

		var disableErr *DisableError
		if errors.As(err, &disableErr) && n.onDeliveryDisabled != nil {
			n.onDeliveryDisabled(ctx, disableErr.Error())
		}
		return false, priority, err
	}

	n.mu.Lock()
	n.dedup[dedupKey] = now
	n.lastPerMarket[sig.MarketID] = now
	n.noiseHistory[sig.SignalType] = append(n.noiseHistory[sig.SignalType], now)
	n.mu.Unlock()

	return true, priority, nil
}

func (n *Notifier) priorityFor(sig types.EarlySignal, adjustedScore float64) types.Priority {
	if isCriticalSeverity(sig) || adjustedScore >= threshold(n.cfg.CriticalThreshold, 0.9) {
		return types.PriorityCritical
	}
	switch {
	case adjustedScore >= threshold(n.cfg.HighThreshold, 0.75):
		return types.PriorityHigh
	case adjustedScore >= threshold(n.cfg.MediumThreshold, 0.55):
		return types.PriorityMedium
	case adjustedScore >= threshold(n.cfg.LowThreshold, 0.35):
		return types.PriorityLow
	default:
		return ""
	}
}

// isCriticalSeverity treats FrontRunning's high confidence tier as the
// spec's "severity=critical" override, since EarlySignal carries no
// separate severity field of its own.
func isCriticalSeverity(sig types.EarlySignal) bool {
	if sig.SignalType != types.SignalFrontRunning {
		return false
	}
	meta, ok := sig.Metadata.(detect.FrontRunningMeta)
	return ok && meta.Tier == detect.TierHigh
}

func threshold(configured, fallback float64) float64 {
	if configured <= 0 {
		return fallback
	}
	return configured
}

// recencyPenaltyLocked decays linearly from 0.1 at the moment of the last
// alert for marketID to 0 once PerMarketCooldown has elapsed, discouraging
// near-immediate re-alerting on the same market even across different
// signal types.
func (n *Notifier) recencyPenaltyLocked(marketID string, now time.Time) float64 {
	last, ok := n.lastPerMarket[marketID]
	if !ok {
		return 0
	}
	cooldown := n.cfg.PerMarketCooldown
	if cooldown <= 0 {
		return 0
	}
	elapsed := now.Sub(last)
	if elapsed >= cooldown {
		return 0
	}
	return 0.1 * (1 - float64(elapsed)/float64(cooldown))
}

// noiseBrakeLocked penalizes signal types that have fired often recently,
// so a chatty detector doesn't crowd out rarer, higher-value signal types.
// It also prunes history older than 10x the per-market cooldown.
func (n *Notifier) noiseBrakeLocked(signalType types.SignalType, now time.Time) float64 {
	window := 10 * n.cfg.PerMarketCooldown
	if window <= 0 {
		window = 10 * time.Minute
	}
	cutoff := now.Add(-window)

	history := n.noiseHistory[signalType]
	kept := history[:0]
	for _, t := range history {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	n.noiseHistory[signalType] = kept

	return clip(float64(len(kept))*0.02, 0, 0.2)
}

func clip(x, lo, hi float64) float64 {
	if x < lo {
		return lo
	}
	if x > hi {
		return hi
	}
	return x
}
