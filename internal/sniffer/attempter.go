package sniffer

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/nerrad567/btlesniffer/internal/radio"
	"github.com/nerrad567/btlesniffer/internal/registry"
	"github.com/nerrad567/btlesniffer/internal/sink"
)

const (
	defaultConnectTimeout = 10 * time.Second
	defaultPublishTimeout = 5 * time.Second
)

// AttempterConfig holds the attempt budget.
type AttempterConfig struct {
	// NodeID is stamped on every published sighting.
	NodeID string

	// ConnectTimeout bounds a single probe. Default: 10 seconds.
	ConnectTimeout time.Duration

	// MaxConcurrent caps simultaneous attempts. Values below 1 mean 1.
	MaxConcurrent int

	// AttemptsPerSecond limits new attempts across all devices. 0 disables
	// the limit.
	AttemptsPerSecond float64

	// Burst is the limiter bucket size. Values below 1 mean 1.
	Burst int

	// PublishTimeout bounds delivery of the resulting sighting.
	// Default: 5 seconds.
	PublishTimeout time.Duration
}

// Outcome is the result of one connection attempt.
type Outcome struct {
	Identifier string
	Success    bool

	// Err wraps ErrConnectionTimeout or ErrConnectionFailed when Success is
	// false.
	Err error

	// Metadata is set on success.
	Metadata *radio.Metadata

	Duration time.Duration
}

// AttemptStats are running attempt counters.
type AttemptStats struct {
	InFlight  int64  `json:"in_flight"`
	Attempts  uint64 `json:"attempts"`
	Successes uint64 `json:"successes"`
}

// Attempter runs connection attempts against reserved devices.
//
// Admission is non-blocking: Dispatch refuses work when every slot is busy or
// the rate budget is spent, and the caller releases the reservation.
//
// Thread Safety: Attempt and Dispatch are safe for concurrent use. Wait must
// not race with Dispatch.
type Attempter struct {
	radio     radio.Radio
	registry  *registry.Registry
	publisher sink.Publisher
	cfg       AttempterConfig

	group   errgroup.Group
	limiter *rate.Limiter
	logger  Logger
	now     func() time.Time

	inFlight  atomic.Int64
	attempts  atomic.Uint64
	successes atomic.Uint64
}

// NewAttempter creates an attempter. A nil publisher discards sightings.
func NewAttempter(r radio.Radio, reg *registry.Registry, publisher sink.Publisher, cfg AttempterConfig) *Attempter {
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = defaultConnectTimeout
	}
	if cfg.PublishTimeout <= 0 {
		cfg.PublishTimeout = defaultPublishTimeout
	}
	if cfg.MaxConcurrent < 1 {
		cfg.MaxConcurrent = 1
	}
	if cfg.Burst < 1 {
		cfg.Burst = 1
	}
	if publisher == nil {
		publisher = sink.Discard{}
	}

	limit := rate.Inf
	if cfg.AttemptsPerSecond > 0 {
		limit = rate.Limit(cfg.AttemptsPerSecond)
	}

	a := &Attempter{
		radio:     r,
		registry:  reg,
		publisher: publisher,
		cfg:       cfg,
		limiter:   rate.NewLimiter(limit, cfg.Burst),
		logger:    noopLogger{},
		now:       time.Now,
	}
	a.group.SetLimit(cfg.MaxConcurrent)
	return a
}

// SetLogger sets the logger for the attempter.
func (a *Attempter) SetLogger(logger Logger) {
	a.logger = logger
}

// Dispatch starts an attempt for a reserved identifier in the background.
// It returns false, without starting anything, when no concurrency slot or
// rate token is available.
func (a *Attempter) Dispatch(identifier string) bool {
	now := time.Now()
	res := a.limiter.ReserveN(now, 1)
	if !res.OK() {
		return false
	}
	if res.DelayFrom(now) > 0 {
		res.CancelAt(now)
		return false
	}

	started := a.group.TryGo(func() error {
		a.Attempt(context.Background(), identifier)
		return nil
	})
	if !started {
		res.CancelAt(now)
		return false
	}
	return true
}

// Wait blocks until every dispatched attempt has recorded its outcome.
func (a *Attempter) Wait() {
	_ = a.group.Wait() //nolint:errcheck // Attempt goroutines never return errors
}

// Attempt probes identifier and records the outcome. The probe runs under
// its own ConnectTimeout derived from ctx. The registry outcome is recorded
// exactly once, including when the probe panics.
func (a *Attempter) Attempt(ctx context.Context, identifier string) Outcome {
	start := a.now()
	a.inFlight.Add(1)
	defer a.inFlight.Add(-1)

	meta, err := a.probe(ctx, identifier)

	out := Outcome{
		Identifier: identifier,
		Success:    err == nil,
		Err:        err,
		Duration:   a.now().Sub(start),
	}
	if err == nil {
		out.Metadata = &meta
	}

	a.attempts.Add(1)
	if out.Success {
		a.successes.Add(1)
	}
	if !a.registry.RecordOutcome(identifier, out.Success) {
		a.logger.Warn("outcome for device without pending attempt", "identifier", identifier)
	}

	if out.Success {
		a.logger.Info("connection attempt succeeded", "identifier", identifier, "duration", out.Duration)
	} else {
		a.logger.Debug("connection attempt failed", "identifier", identifier, "duration", out.Duration, "error", err)
	}

	a.publish(identifier, start, out)
	return out
}

// probe calls the radio in a separate goroutine so a probe that ignores its
// context still times out. A panic inside the radio becomes an error.
func (a *Attempter) probe(parent context.Context, identifier string) (radio.Metadata, error) {
	ctx, cancel := context.WithTimeout(parent, a.cfg.ConnectTimeout)
	defer cancel()

	type result struct {
		meta radio.Metadata
		err  error
	}
	done := make(chan result, 1)

	go func() {
		defer func() {
			if p := recover(); p != nil {
				a.logger.Error("probe panicked", "identifier", identifier, "panic", p)
				done <- result{err: fmt.Errorf("%w: probe panicked: %v", ErrConnectionFailed, p)}
			}
		}()
		meta, err := a.radio.Probe(ctx, identifier)
		done <- result{meta: meta, err: err}
	}()

	select {
	case res := <-done:
		switch {
		case res.err == nil:
			return res.meta, nil
		case errors.Is(res.err, ErrConnectionFailed):
			return radio.Metadata{}, res.err
		case errors.Is(ctx.Err(), context.DeadlineExceeded):
			return radio.Metadata{}, fmt.Errorf("%w: %w", ErrConnectionTimeout, res.err)
		default:
			return radio.Metadata{}, fmt.Errorf("%w: %w", ErrConnectionFailed, res.err)
		}
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return radio.Metadata{}, fmt.Errorf("%w after %s", ErrConnectionTimeout, a.cfg.ConnectTimeout)
		}
		return radio.Metadata{}, fmt.Errorf("%w: %w", ErrConnectionFailed, ctx.Err())
	}
}

func (a *Attempter) publish(identifier string, start time.Time, out Outcome) {
	var rssi int
	if rec, ok := a.registry.Get(identifier); ok {
		rssi = rec.LastRSSI
	}
	s := sink.NewSighting(a.cfg.NodeID, identifier, rssi, start, out.Success, out.Err, out.Metadata)

	ctx, cancel := context.WithTimeout(context.Background(), a.cfg.PublishTimeout)
	defer cancel()

	// The outcome is already recorded; a faulty sink only loses this sighting.
	defer func() {
		if p := recover(); p != nil {
			a.logger.Error("sighting publisher panicked", "identifier", identifier, "sighting_id", s.ID, "panic", p)
		}
	}()

	if err := a.publisher.Publish(ctx, s); err != nil {
		a.logger.Warn("failed to publish sighting", "identifier", identifier, "sighting_id", s.ID, "error", err)
	}
}

// Stats returns the running counters.
func (a *Attempter) Stats() AttemptStats {
	return AttemptStats{
		InFlight:  a.inFlight.Load(),
		Attempts:  a.attempts.Load(),
		Successes: a.successes.Load(),
	}
}
