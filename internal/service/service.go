// Package service runs the periodic snapshot refresh loop and fans engine
// risk events out to alerting and the audit store.
package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"amm-quote-engine/internal/alerting"
	"amm-quote-engine/internal/config"
	"amm-quote-engine/internal/engine"
	"amm-quote-engine/internal/feed"
	"amm-quote-engine/internal/oracle"
	"amm-quote-engine/internal/scheduler"
	"amm-quote-engine/internal/storage"
)

// Service orchestrates feed reads, engine refresh, and persistence.
type Service struct {
	scheduler *scheduler.Scheduler
	primary   feed.PrimarySource
	secondary feed.SecondarySource
	engine    *engine.Engine
	store     storage.SnapshotStore
	logger    zerolog.Logger

	locker  storage.AdvisoryLocker
	lockKey int64
}

// New constructs the refresh service.
func New(cfg *config.Config, sched *scheduler.Scheduler, primary feed.PrimarySource, secondary feed.SecondarySource, eng *engine.Engine, store storage.SnapshotStore, logger zerolog.Logger) *Service {
	var locker storage.AdvisoryLocker
	if l, ok := store.(storage.AdvisoryLocker); ok {
		locker = l
	}

	return &Service{
		scheduler: sched,
		primary:   primary,
		secondary: secondary,
		engine:    eng,
		store:     store,
		logger:    logger.With().Str("component", "service").Logger(),
		locker:    locker,
		lockKey:   cfg.Scheduler.AdvisoryLockKey,
	}
}

// Run begins the aligned refresh loop.
func (s *Service) Run(ctx context.Context) error {
	if s.scheduler == nil {
		return fmt.Errorf("scheduler not configured")
	}
	return s.scheduler.Run(ctx, s.ProcessBucket)
}

// ProcessBucket 执行单个时间桶的快照刷新逻辑。
func (s *Service) ProcessBucket(ctx context.Context, bucket time.Time) error {
	unlock, proceed, err := s.acquireLock(ctx)
	if err != nil {
		return err
	}
	if !proceed {
		s.logger.Debug().Time("bucket", bucket).Msg("skip bucket because advisory lock held elsewhere")
		return nil
	}
	if unlock != nil {
		defer unlock()
	}

	return s.executeBucket(ctx, bucket)
}

func (s *Service) executeBucket(ctx context.Context, bucket time.Time) error {
	primarySample, blockNumber, err := s.primary.FetchPrimary(ctx)
	if err != nil {
		return fmt.Errorf("fetch primary sample: %w", err)
	}

	// A failed secondary degrades to a stale sample: divergence checking is
	// skipped rather than the whole refresh failing.
	secondarySample, venuePayload, secErr := s.secondary.FetchSecondary(ctx)
	if secErr != nil {
		s.logger.Warn().Err(secErr).Time("bucket", bucket).Msg("secondary feed unavailable; degrading")
		secondarySample = oracle.Sample{Status: oracle.StatusStale}
		venuePayload = nil
	}

	snap, err := s.engine.RefreshSnapshot(engine.OracleData{
		Primary:   primarySample,
		Secondary: secondarySample,
		Tick:      int64(blockNumber),
	})
	if err != nil {
		if errors.Is(err, engine.ErrRefreshCooldown) {
			s.logger.Debug().Time("bucket", bucket).Msg("refresh skipped by cooldown")
			return nil
		}
		if s.store != nil {
			if markErr := s.store.MarkSnapshotErrored(ctx, bucket, err.Error()); markErr != nil {
				s.logger.Debug().Err(markErr).Time("bucket", bucket).Msg("no snapshot row to mark errored")
			}
		}
		return fmt.Errorf("refresh snapshot: %w", err)
	}

	record := storage.SnapshotRecord{
		Bucket:        bucket,
		MidUsed:       snap.MidUsed,
		SigmaBps:      snap.SigmaBps,
		ConfBps:       snap.ConfBps,
		DivergenceBps: snap.DivergenceBps,
		SpreadBps:     snap.SpreadBps,
		SourceReason:  string(snap.SourceReason),
		VenuePayload:  venuePayload,
		Status:        "complete",
		CreatedAt:     time.Now().UTC(),
	}
	if blockNumber != 0 {
		block := int64(blockNumber)
		record.BlockNumber = &block
	}

	if s.store != nil {
		if err := s.store.UpsertSnapshot(ctx, record); err != nil {
			s.logger.Error().Err(err).Time("bucket", bucket).Msg("failed to upsert snapshot")
		}
	}

	s.logger.Info().Time("bucket", bucket).
		Str("mid", snap.MidUsed.String()).
		Str("divergence_bps", snap.DivergenceBps.String()).
		Str("conf_bps", snap.ConfBps.String()).
		Msg("snapshot refreshed")

	return nil
}

func (s *Service) acquireLock(ctx context.Context) (func(), bool, error) {
	if s.lockKey == 0 || s.locker == nil {
		return nil, true, nil
	}
	unlock, acquired, err := s.locker.TryAdvisoryLock(ctx, s.lockKey)
	if err != nil {
		return nil, false, fmt.Errorf("acquire advisory lock: %w", err)
	}
	if !acquired {
		return nil, false, nil
	}
	return unlock, true, nil
}

// EventSink forwards engine risk events to the notifier and the audit store.
// Dispatch happens on a fresh goroutine: the engine calls events while
// holding its lock and sinks must not block.
type EventSink struct {
	notifier alerting.Notifier
	events   storage.RecenterEventStore
	channels []string
	timeout  time.Duration
	logger   zerolog.Logger
}

// NewEventSink builds a sink; notifier and store may each be nil.
func NewEventSink(notifier alerting.Notifier, events storage.RecenterEventStore, channels []string, logger zerolog.Logger) *EventSink {
	return &EventSink{
		notifier: notifier,
		events:   events,
		channels: channels,
		timeout:  10 * time.Second,
		logger:   logger.With().Str("component", "event_sink").Logger(),
	}
}

// DivergenceHaircut implements engine.Events.
func (s *EventSink) DivergenceHaircut(deltaBps, haircutBps decimal.Decimal) {
	s.dispatch(alerting.Notification{
		At:         time.Now().UTC(),
		Kind:       alerting.KindDivergenceHaircut,
		DeltaBps:   deltaBps,
		HaircutBps: haircutBps,
		Channels:   s.channels,
	})
}

// DivergenceRejected implements engine.Events.
func (s *EventSink) DivergenceRejected(deltaBps decimal.Decimal) {
	s.dispatch(alerting.Notification{
		At:       time.Now().UTC(),
		Kind:     alerting.KindDivergenceRejected,
		DeltaBps: deltaBps,
		Channels: s.channels,
	})
}

// AomqActivated implements engine.Events.
func (s *EventSink) AomqActivated(trigger string, notional decimal.Decimal) {
	s.dispatch(alerting.Notification{
		At:       time.Now().UTC(),
		Kind:     alerting.KindAomqActivated,
		Trigger:  trigger,
		Notional: notional,
		Channels: s.channels,
	})
}

// RecenterCommitted implements engine.Events and additionally persists the
// retarget for auditing.
func (s *EventSink) RecenterCommitted(res engine.RecenterResult) {
	if s.events != nil {
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
			defer cancel()
			event := storage.RecenterEvent{
				At:           res.At,
				Mid:          res.Mid,
				NewTarget:    res.NewTarget,
				DeviationBps: res.DeviationBps,
				Manual:       res.Manual,
			}
			if _, err := s.events.InsertRecenterEvent(ctx, event); err != nil {
				s.logger.Error().Err(err).Msg("failed to persist recenter event")
			}
		}()
	}

	s.dispatch(alerting.Notification{
		At:           res.At,
		Kind:         alerting.KindRecenterCommitted,
		Mid:          res.Mid,
		NewTarget:    res.NewTarget,
		DeviationBps: res.DeviationBps,
		Manual:       res.Manual,
		Channels:     s.channels,
	})
}

// SnapshotRefreshed implements engine.Events. Snapshot persistence happens in
// the refresh loop; nothing to do here.
func (s *EventSink) SnapshotRefreshed(_ engine.Snapshot) {}

func (s *EventSink) dispatch(note alerting.Notification) {
	if s.notifier == nil {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
		defer cancel()
		if err := s.notifier.Notify(ctx, note); err != nil {
			s.logger.Error().Err(err).Str("kind", string(note.Kind)).Msg("failed to dispatch alert")
		}
	}()
}

var _ engine.Events = (*EventSink)(nil)
