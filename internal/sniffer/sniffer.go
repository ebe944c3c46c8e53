package sniffer

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/nerrad567/btlesniffer/internal/radio"
	"github.com/nerrad567/btlesniffer/internal/registry"
)

// minEvictInterval keeps a short evict_after from spinning the ticker.
const minEvictInterval = time.Second

// Config holds the scan loop settings.
type Config struct {
	// ThresholdRSSI is the weakest signal (dBm) that triggers an attempt.
	ThresholdRSSI int

	// MinimumInterval is the least time between attempts on one device.
	MinimumInterval time.Duration

	// EvictAfter removes devices not seen for this long. 0 disables eviction.
	EvictAfter time.Duration
}

// Decision is what the loop did with one advertisement.
type Decision int

// Decisions, in the order the loop checks them.
const (
	// DecisionDropped means the advertisement was malformed.
	DecisionDropped Decision = iota

	// DecisionPassive means the signal was below the threshold.
	DecisionPassive

	// DecisionNotEligible means the registry refused a reservation.
	DecisionNotEligible

	// DecisionRefused means the attempter had no capacity; the reservation
	// was released.
	DecisionRefused

	// DecisionDispatched means an attempt was started.
	DecisionDispatched
)

var decisionNames = map[Decision]string{
	DecisionDropped:     "dropped",
	DecisionPassive:     "passive",
	DecisionNotEligible: "not_eligible",
	DecisionRefused:     "refused",
	DecisionDispatched:  "dispatched",
}

// String returns the decision name used in logs.
func (d Decision) String() string {
	if name, ok := decisionNames[d]; ok {
		return name
	}
	return fmt.Sprintf("decision(%d)", int(d))
}

// Sniffer is the scan-and-register loop.
type Sniffer struct {
	radio     radio.Radio
	registry  *registry.Registry
	attempter *Attempter
	cfg       Config
	logger    Logger
	now       func() time.Time
}

// New creates a sniffer over an opened radio.
func New(r radio.Radio, reg *registry.Registry, attempter *Attempter, cfg Config) *Sniffer {
	return &Sniffer{
		radio:     r,
		registry:  reg,
		attempter: attempter,
		cfg:       cfg,
		logger:    noopLogger{},
		now:       time.Now,
	}
}

// SetLogger sets the logger for the sniffer.
func (s *Sniffer) SetLogger(logger Logger) {
	s.logger = logger
}

// Run scans until ctx is cancelled (returns nil) or the radio is lost
// (returns an error wrapping radio.ErrRadioLost). Either way it returns only
// after every dispatched attempt has finished.
func (s *Sniffer) Run(ctx context.Context) error {
	advs, errs := s.radio.Scan(ctx)

	var evictC <-chan time.Time
	if s.cfg.EvictAfter > 0 {
		ticker := time.NewTicker(max(s.cfg.EvictAfter/2, minEvictInterval))
		defer ticker.Stop()
		evictC = ticker.C
	}

	s.logger.Info("scan loop started",
		"threshold_rssi", s.cfg.ThresholdRSSI,
		"minimum_interval", s.cfg.MinimumInterval,
	)

	for {
		select {
		case <-ctx.Done():
			return s.stop(nil)

		case adv, ok := <-advs:
			if !ok {
				if ctx.Err() != nil {
					return s.stop(nil)
				}
				select {
				case err := <-errs:
					return s.stop(lost(err))
				default:
					return s.stop(lost(errors.New("advertisement stream ended")))
				}
			}
			s.Handle(adv)

		case err, ok := <-errs:
			if !ok {
				errs = nil
				continue
			}
			if ctx.Err() != nil {
				return s.stop(nil)
			}
			return s.stop(lost(err))

		case <-evictC:
			if n := s.registry.Evict(s.now().Add(-s.cfg.EvictAfter)); n > 0 {
				s.logger.Debug("evicted idle devices", "count", n)
			}
		}
	}
}

// Handle applies the per-advertisement pipeline and reports what it did.
func (s *Sniffer) Handle(adv radio.Advertisement) Decision {
	if adv.Identifier == "" {
		s.logger.Debug("dropping advertisement without identifier", "rssi", adv.RSSI)
		return DecisionDropped
	}

	now := adv.SeenAt
	if now.IsZero() {
		now = s.now()
	}

	s.registry.UpsertSighting(adv.Identifier, adv.RSSI, now)

	if !ShouldAttempt(adv.RSSI, s.cfg.ThresholdRSSI) {
		return DecisionPassive
	}

	if !s.registry.TryReserveAttempt(adv.Identifier, now, s.cfg.MinimumInterval) {
		return DecisionNotEligible
	}

	if !s.attempter.Dispatch(adv.Identifier) {
		s.registry.ReleaseAttempt(adv.Identifier)
		s.logger.Debug("attempt refused, no capacity", "identifier", adv.Identifier)
		return DecisionRefused
	}

	s.logger.Debug("attempt dispatched", "identifier", adv.Identifier, "rssi", adv.RSSI)
	return DecisionDispatched
}

func (s *Sniffer) stop(err error) error {
	if err != nil {
		s.logger.Error("radio lost, draining attempts", "error", err)
	}
	s.attempter.Wait()
	s.logger.Info("scan loop stopped", "devices", s.registry.Count())
	return err
}

func lost(err error) error {
	if err == nil {
		err = errors.New("unknown cause")
	}
	if errors.Is(err, radio.ErrRadioLost) {
		return fmt.Errorf("scanning: %w", err)
	}
	return fmt.Errorf("scanning: %w: %w", radio.ErrRadioLost, err)
}
