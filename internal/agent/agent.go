// Package agent ties the predictor, codec, buffer, and transport
// together into the per-sample control loop: for every ingested
// sample it decides what to transmit, sends or buffers it depending
// on perceived link state, and drains the buffer once the link
// recovers. It owns the single atomic link_state value shared with
// the link-toggle watcher.
package agent

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/langchou/tesgazer-edge/internal/buffer"
	"github.com/langchou/tesgazer-edge/internal/codec"
	"github.com/langchou/tesgazer-edge/internal/ingest"
	"github.com/langchou/tesgazer-edge/internal/lifecycle"
	"github.com/langchou/tesgazer-edge/internal/linkwatch"
	"github.com/langchou/tesgazer-edge/internal/predictor"
	"github.com/langchou/tesgazer-edge/internal/transport"
)

// drainPause is the pacing delay the drain loop sleeps between
// uploads.
const drainPause = 100 * time.Millisecond

// Stats is the mutex-guarded snapshot the operational surface reads.
// The main loop is the only writer; readers take a copy under the
// lock rather than reaching into agent-owned fields directly.
type Stats struct {
	Total, Transmitted, Skipped int64
	BufferDepth                 int64
	QuarantineCount             int64
	LinkOnline                  bool
	LifecycleState              string
}

// Agent drives one vehicle's pipeline end to end.
type Agent struct {
	vin string

	source     *ingest.Source
	predictor  *predictor.Predictor
	buffer     *buffer.Store
	transport  *transport.Client
	linkState  *linkwatch.LinkState
	lifecycle  *lifecycle.Machine
	logger     *zap.Logger
	statsEvery int

	wasOffline bool

	statsMu sync.Mutex
	stats   Stats

	onStats func(Stats)
}

// Config bundles the dependencies an Agent needs. Every field is
// required except Lifecycle, Logger (defaults to a no-op logger),
// StatsEvery (defaults to 50) and OnStats.
type Config struct {
	VIN        string
	Source     *ingest.Source
	Predictor  *predictor.Predictor
	Buffer     *buffer.Store
	Transport  *transport.Client
	LinkState  *linkwatch.LinkState
	Lifecycle  *lifecycle.Machine
	Logger     *zap.Logger
	StatsEvery int
	OnStats    func(Stats)
}

// New constructs an Agent from its dependencies.
func New(cfg Config) *Agent {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	statsEvery := cfg.StatsEvery
	if statsEvery <= 0 {
		statsEvery = 50
	}
	return &Agent{
		vin:        cfg.VIN,
		source:     cfg.Source,
		predictor:  cfg.Predictor,
		buffer:     cfg.Buffer,
		transport:  cfg.Transport,
		linkState:  cfg.LinkState,
		lifecycle:  cfg.Lifecycle,
		logger:     logger,
		statsEvery: statsEvery,
		onStats:    cfg.OnStats,
	}
}

// Run drives the control loop until the source is exhausted or ctx is
// cancelled. It performs a final drain and statistics emission before
// returning.
func (a *Agent) Run(ctx context.Context) error {
	if a.lifecycle != nil {
		_ = a.lifecycle.Trigger(lifecycle.EventStart)
	}

	var runErr error
	sampleCount := 0

loop:
	for {
		sample, err := a.source.Next(ctx)
		switch {
		case err == nil:
			a.processSample(ctx, sample)
			sampleCount++
			if a.statsEvery > 0 && sampleCount%a.statsEvery == 0 {
				a.publishStats(ctx)
			}

		case errors.Is(err, ingest.ErrSourceExhausted):
			break loop

		case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
			runErr = err
			break loop

		default:
			var srcErr *ingest.SourceError
			if errors.As(err, &srcErr) {
				a.logger.Warn("skipping malformed source line", zap.Int("line", srcErr.Line), zap.Error(srcErr.Err))
				continue
			}
			runErr = err
			break loop
		}
	}

	a.shutdown(ctx)
	return runErr
}

// processSample decides what a single sample transmits, sends it live
// when the link is up, and falls back to the durable buffer otherwise.
func (a *Agent) processSample(ctx context.Context, s ingest.Sample) {
	d := a.predictor.Decide(s)
	compressed := buildRecord(s, d)

	if a.linkState.Online() {
		if a.wasOffline {
			a.drain(ctx)
			a.wasOffline = false
		}

		if err := a.transport.Send(ctx, codec.Encode(compressed)); err == nil {
			return
		}

		full := fullRecord(s)
		if err := a.buffer.Enqueue(ctx, full); err != nil {
			a.logger.Error("failed to buffer sample after upload failure, sample lost",
				zap.Int64("timestamp", s.Timestamp), zap.Error(err))
		}
		return
	}

	full := fullRecord(s)
	if err := a.buffer.Enqueue(ctx, full); err != nil {
		a.logger.Error("failed to buffer sample while offline, sample lost",
			zap.Int64("timestamp", s.Timestamp), zap.Error(err))
	}
	a.wasOffline = true
}

// drain replays buffered entries oldest-first, pacing every successful
// upload, and stops at the first failure so the next pass resumes
// where this one left off.
func (a *Agent) drain(ctx context.Context) {
	if a.lifecycle != nil {
		_ = a.lifecycle.Trigger(lifecycle.EventBeginDrain)
		defer a.lifecycle.Trigger(lifecycle.EventEndDrain)
	}

	for {
		entries, err := a.buffer.Oldest(ctx, 1)
		if err != nil && len(entries) == 0 {
			// The only entry examined failed to decode: its failure
			// was recorded, or it was quarantined once it reached
			// buffer.MaxDecodeFailures. The next pass resumes from the
			// oldest remaining entry.
			a.logger.Warn("drain encountered an undecodable entry", zap.Error(err))
			return
		}
		if len(entries) == 0 {
			return
		}

		entry := entries[0]
		if uploadErr := a.transport.Send(ctx, codec.Encode(entry.Record)); uploadErr != nil {
			a.logger.Warn("drain upload failed, aborting this pass", zap.Int64("entry_id", entry.ID), zap.Error(uploadErr))
			return
		}

		if err := a.buffer.Remove(ctx, entry.ID); err != nil {
			a.logger.Error("drained entry upload succeeded but removal failed", zap.Int64("entry_id", entry.ID), zap.Error(err))
			return
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(drainPause):
		}
	}
}

// shutdown performs a final drain (if needed) and publishes final
// statistics. It leaves the buffer store open: whoever opened the
// store closes it.
func (a *Agent) shutdown(ctx context.Context) {
	if a.lifecycle != nil {
		_ = a.lifecycle.Trigger(lifecycle.EventShutdown)
	}

	if a.linkState.Online() && a.wasOffline {
		a.drain(ctx)
	}

	a.publishStats(ctx)

	if a.lifecycle != nil {
		_ = a.lifecycle.Trigger(lifecycle.EventStopped)
	}
}

func (a *Agent) publishStats(ctx context.Context) {
	depth, err := a.buffer.Depth(ctx)
	if err != nil {
		a.logger.Warn("failed to read buffer depth for stats", zap.Error(err))
	}
	quarantined, err := a.buffer.QuarantineCount(ctx)
	if err != nil {
		a.logger.Warn("failed to read quarantine count for stats", zap.Error(err))
	}

	predStats := a.predictor.Stats()
	lifecycleState := ""
	if a.lifecycle != nil {
		lifecycleState = a.lifecycle.Current()
	}

	snapshot := Stats{
		Total:           predStats.Total,
		Transmitted:     predStats.Transmitted,
		Skipped:         predStats.Skipped,
		BufferDepth:     depth,
		QuarantineCount: quarantined,
		LinkOnline:      a.linkState.Online(),
		LifecycleState:  lifecycleState,
	}

	a.statsMu.Lock()
	a.stats = snapshot
	a.statsMu.Unlock()

	a.logger.Info("stats checkpoint",
		zap.Int64("total", snapshot.Total),
		zap.Int64("transmitted", snapshot.Transmitted),
		zap.Int64("skipped", snapshot.Skipped),
		zap.Int64("buffer_depth", snapshot.BufferDepth),
		zap.Bool("link_online", snapshot.LinkOnline),
	)

	if a.onStats != nil {
		a.onStats(snapshot)
	}
}

// Stats returns the most recently published statistics snapshot. Safe
// to call from the operational HTTP surface's goroutine.
func (a *Agent) Stats() Stats {
	a.statsMu.Lock()
	defer a.statsMu.Unlock()
	return a.stats
}

func buildRecord(s ingest.Sample, d predictor.Decisions) codec.Record {
	r := codec.Record{
		Timestamp: s.Timestamp,
		Odometer:  s.Odometer,
		IsResync:  d.IsResync,
	}
	if d.Speed {
		v := s.Speed
		r.Speed = &v
	}
	if d.Power {
		v := s.Power
		r.Power = &v
	}
	if d.Battery {
		v := s.Battery
		r.Battery = &v
	}
	if d.Heading {
		v := s.Heading
		r.Heading = &v
	}
	return r
}

// fullRecord builds a ground-truth record with every optional field
// present, for buffered entries that the remote predictor never saw
// while the link was down.
func fullRecord(s ingest.Sample) codec.Record {
	speed, power, battery, heading := s.Speed, s.Power, s.Battery, s.Heading
	return codec.Record{
		Timestamp: s.Timestamp,
		Odometer:  s.Odometer,
		IsResync:  true,
		Speed:     &speed,
		Power:     &power,
		Battery:   &battery,
		Heading:   &heading,
	}
}
