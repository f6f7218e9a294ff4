package engine

import (
	"context"
	"errors"
	"fmt"
	"math/bits"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-co-op/gocron/v2"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/beacon-relay/brc/internal/config"
	"github.com/beacon-relay/brc/internal/frame"
	"github.com/beacon-relay/brc/internal/medium"
	"github.com/beacon-relay/brc/internal/metrics"
	"github.com/beacon-relay/brc/internal/store"
	"github.com/beacon-relay/brc/internal/telemetry"
)

// EventPublisher receives relay lifecycle events for streaming.
type EventPublisher interface {
	Publish(event telemetry.Event) error
}

// Compile-time assertion that the telemetry hub satisfies EventPublisher.
var _ EventPublisher = (*telemetry.Hub)(nil)

// Engine drives the relay pipeline: observations enter through the medium
// scan callback, accumulate in the store, and leave as relay frames on the
// broadcast sets. A watchdog resets the whole medium when no frame has been
// dispatched for the recovery timeout.
type Engine struct {
	cfg     *config.RelayConfig
	store   *store.Store
	medium  medium.Medium
	log     zerolog.Logger
	events  EventPublisher
	metrics metrics.Recorder

	limiter *rate.Limiter // nil when ingestion is unlimited

	// passMu serializes scheduler passes; deadlines is only touched
	// under it.
	passMu    sync.Mutex
	deadlines []time.Time

	// activeSets bit i is set while broadcast set i is on air.
	activeSets atomic.Uint32

	sinceCheck  atomic.Int32  // admissions since the last dispatch
	lastSend    atomic.Int64  // unix nanos of the last dispatch attempt window
	lastSuccess atomic.Int64  // unix nanos of the last successful dispatch
	sequence    atomic.Uint32 // outbound frame sequence counter

	framesSent atomic.Uint64
	resets     atomic.Uint64

	scheduler gocron.Scheduler
	runCtx    context.Context

	// started is atomic: the watchdog reset path reads it from the
	// scheduler goroutine while Start and Stop write it.
	started atomic.Bool

	// now is replaceable for tests.
	now func() time.Time
}

// Option configures optional engine collaborators.
type Option func(*Engine)

// WithEvents attaches a telemetry publisher.
func WithEvents(events EventPublisher) Option {
	return func(e *Engine) { e.events = events }
}

// WithMetrics attaches a metrics recorder.
func WithMetrics(rec metrics.Recorder) Option {
	return func(e *Engine) { e.metrics = rec }
}

// WithClock replaces the wall clock, for tests.
func WithClock(clock func() time.Time) Option {
	return func(e *Engine) { e.now = clock }
}

// New creates an engine over the given medium. The config must already be
// validated.
func New(cfg *config.RelayConfig, m medium.Medium, log zerolog.Logger, opts ...Option) *Engine {
	e := &Engine{
		cfg:       cfg,
		medium:    m,
		log:       log,
		metrics:   metrics.NoopRecorder{},
		deadlines: make([]time.Time, cfg.BroadcastSets),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	e.store = store.NewWithClock(cfg.StoreCapacity, cfg.DedupWindow, e.now)
	if cfg.IngestRatePerSec > 0 {
		e.limiter = rate.NewLimiter(rate.Limit(cfg.IngestRatePerSec), cfg.IngestRatePerSec)
	}
	return e
}

// Store exposes the observation store for read-side consumers.
func (e *Engine) Store() *store.Store {
	return e.store
}

// Start begins scanning and schedules the broadcast and sweep jobs.
func (e *Engine) Start(ctx context.Context) error {
	if e.started.Load() {
		return errors.New("engine already started")
	}

	e.runCtx = ctx
	now := e.now().UnixNano()
	e.lastSend.Store(now)
	e.lastSuccess.Store(now)

	if err := e.medium.StartScan(ctx, e.Ingest); err != nil {
		return fmt.Errorf("failed to start scan: %w", err)
	}

	scheduler, err := gocron.NewScheduler()
	if err != nil {
		e.medium.StopScan()
		return fmt.Errorf("failed to create scheduler: %w", err)
	}

	if _, err := scheduler.NewJob(
		gocron.DurationJob(e.cfg.BroadcastPeriod),
		gocron.NewTask(e.Tick),
		gocron.WithName("broadcast"),
	); err != nil {
		e.medium.StopScan()
		return fmt.Errorf("failed to schedule broadcast job: %w", err)
	}
	if _, err := scheduler.NewJob(
		gocron.DurationJob(e.cfg.SweepInterval),
		gocron.NewTask(e.Sweep),
		gocron.WithName("sweep"),
	); err != nil {
		e.medium.StopScan()
		return fmt.Errorf("failed to schedule sweep job: %w", err)
	}

	scheduler.Start()
	e.scheduler = scheduler
	e.started.Store(true)

	e.log.Info().
		Dur("broadcastPeriod", e.cfg.BroadcastPeriod).
		Dur("sweepInterval", e.cfg.SweepInterval).
		Int("broadcastSets", e.cfg.BroadcastSets).
		Msg("relay engine started")
	return nil
}

// Stop halts the scheduler, the scan and any active broadcasts.
func (e *Engine) Stop() error {
	if !e.started.CompareAndSwap(true, false) {
		return nil
	}

	var firstErr error
	if err := e.scheduler.Shutdown(); err != nil {
		firstErr = fmt.Errorf("failed to stop scheduler: %w", err)
	}

	// Wait out any in-flight pass before stopping the scan: a watchdog
	// reset that observed started == true may have restarted scanning,
	// and the StopScan below must come after that pass finishes.
	e.passMu.Lock()
	e.stopAllBroadcastsLocked()
	e.passMu.Unlock()

	if err := e.medium.StopScan(); err != nil && firstErr == nil {
		firstErr = fmt.Errorf("failed to stop scan: %w", err)
	}

	e.log.Info().Msg("relay engine stopped")
	return firstErr
}

// Ingest admits one raw observation. It is the medium scan callback: it
// parses the payload, drops anything unrecognized, and feeds recognized
// records into the store. Crossing the batch threshold triggers an
// opportunistic scheduler pass.
func (e *Engine) Ingest(obs medium.Observation) {
	if e.limiter != nil && !e.limiter.Allow() {
		e.metrics.IncObservation(metrics.OutcomeRateLimited)
		return
	}

	fields := frame.ParseAdvertisement(obs.Payload)
	if !fields.Recognized() {
		e.metrics.IncObservation(metrics.OutcomeUnrecognized)
		return
	}

	admitted := 0
	if fields.Relayed {
		admitted = e.ingestRelayed(obs, fields)
	} else {
		admitted = e.ingestDirect(obs, fields)
	}
	e.metrics.SetStoreLive(e.store.Len())

	if admitted > 0 {
		if n := e.sinceCheck.Add(int32(admitted)); int(n) >= e.cfg.MinBatch {
			e.tryTick()
		}
	}
}

// ingestDirect admits an emitter heard first-hand. The hop budget starts at
// the configured initial value.
func (e *Engine) ingestDirect(obs medium.Observation, fields frame.Fields) int {
	result, err := e.store.Upsert(store.Observation{
		Addr:        obs.Addr,
		RSSI:        obs.RSSI,
		Sequence:    fields.Sequence,
		HopBudget:   uint8(e.cfg.InitialHopBudget),
		Temperature: fields.Temperature,
		Voltage:     fields.Voltage,
	})
	return e.recordUpsert(obs.Addr, result, err)
}

// ingestRelayed admits a relay frame: the sending relay itself counts as an
// emitter, then every record carried in the frame is admitted with a hop
// budget one lower than it arrived with.
func (e *Engine) ingestRelayed(obs medium.Observation, fields frame.Fields) int {
	admitted := 0

	result, err := e.store.Upsert(store.Observation{
		Addr:      obs.Addr,
		RSSI:      obs.RSSI,
		Sequence:  fields.Sequence,
		HopBudget: fields.HopBudget,
		Relayed:   true,
	})
	admitted += e.recordUpsert(obs.Addr, result, err)

	hdr, records, err := frame.Decode(fields.Frame, e.cfg.IncludeTelemetry)
	if err != nil {
		e.log.Debug().Err(err).Str("addr", obs.Addr.String()).Msg("dropping undecodable relay frame body")
		return admitted
	}

	for _, rec := range records {
		result, err := e.store.Upsert(store.Observation{
			Addr:        rec.Addr,
			RSSI:        rec.RSSI,
			Sequence:    hdr.Sequence,
			HopBudget:   rec.HopBudget,
			Relayed:     true,
			Temperature: rec.Temperature,
			Voltage:     rec.Voltage,
		})
		admitted += e.recordUpsert(rec.Addr, result, err)
	}
	return admitted
}

// recordUpsert translates a store outcome into metrics and events, and
// reports 1 when the observation changed the store.
func (e *Engine) recordUpsert(addr medium.Addr, result store.Result, err error) int {
	switch {
	case errors.Is(err, store.ErrFull):
		e.metrics.IncObservation(metrics.OutcomeStoreFull)
		e.log.Debug().Str("addr", addr.String()).Msg("store full, observation dropped")
		return 0
	case err != nil:
		e.log.Warn().Err(err).Str("addr", addr.String()).Msg("upsert failed")
		return 0
	case result.Outcome == store.OutcomeDuplicate:
		e.metrics.IncObservation(metrics.OutcomeDuplicate)
		return 0
	case result.Outcome == store.OutcomeInserted:
		e.metrics.IncObservation(metrics.OutcomeInserted)
	default:
		e.metrics.IncObservation(metrics.OutcomeUpdated)
	}

	e.publish(telemetry.EventObservation, map[string]any{
		"addr":    addr.String(),
		"slot":    result.Slot,
		"outcome": result.Outcome.String(),
	})
	return 1
}

// Tick is one scheduler pass: reap finished broadcasts, run the watchdog,
// then decide whether the pending backlog justifies a dispatch.
func (e *Engine) Tick() {
	e.passMu.Lock()
	defer e.passMu.Unlock()
	e.pass()
}

// tryTick runs a pass only if no other pass is in flight, so the scan
// callback never blocks behind the scheduler.
func (e *Engine) tryTick() {
	if !e.passMu.TryLock() {
		return
	}
	defer e.passMu.Unlock()
	e.pass()
}

// pass holds passMu.
func (e *Engine) pass() {
	now := e.now()

	e.reapCompletedLocked(now)

	if now.Sub(time.Unix(0, e.lastSuccess.Load())) >= e.cfg.RecoveryTimeout {
		e.recoverLocked(now)
		return
	}

	pending := int(e.sinceCheck.Load())
	waited := now.Sub(time.Unix(0, e.lastSuccess.Load()))
	if pending < e.cfg.MinBatch && (waited < e.cfg.MaxWait || e.store.Len() == 0) {
		return
	}

	set, ok := e.freeSet()
	if !ok {
		e.log.Debug().Msg("all broadcast sets busy, dispatch deferred")
		return
	}

	e.dispatchLocked(now, set)
}

// reapCompletedLocked clears sets whose broadcast window has elapsed.
func (e *Engine) reapCompletedLocked(now time.Time) {
	active := e.activeSets.Load()
	for set := 0; set < e.cfg.BroadcastSets; set++ {
		bit := uint32(1) << set
		if active&bit == 0 || now.Before(e.deadlines[set]) {
			continue
		}
		if err := e.medium.StopBroadcast(set); err != nil {
			e.log.Warn().Err(err).Int("set", set).Msg("failed to stop completed broadcast")
		}
		e.activeSets.And(^bit)
	}
	e.metrics.SetActiveBroadcasts(bits.OnesCount32(e.activeSets.Load()))
}

// freeSet returns the lowest idle broadcast set.
func (e *Engine) freeSet() (int, bool) {
	active := e.activeSets.Load()
	for set := 0; set < e.cfg.BroadcastSets; set++ {
		if active&(uint32(1)<<set) == 0 {
			return set, true
		}
	}
	return 0, false
}

// dispatchLocked packs eligible entries into a frame and puts it on air.
// Entries leave the store only once they are guaranteed a place in the
// frame; a drained entry is gone whether or not the dispatch succeeds.
func (e *Engine) dispatchLocked(now time.Time, set int) {
	seq := uint8(e.sequence.Add(1))
	builder, err := frame.NewBuilder(e.cfg.FrameBudget, e.cfg.MaxRecordsPerFrame, e.cfg.IncludeTelemetry, frame.Header{
		Sequence:  seq,
		HopBudget: uint8(e.cfg.InitialHopBudget),
	})
	if err != nil {
		e.log.Error().Err(err).Msg("frame budget misconfigured")
		return
	}

	drained := e.store.DrainFunc(e.cfg.HoldThreshold, func(entry store.Entry) bool {
		if !builder.Fits() {
			return false
		}
		if err := builder.Append(frame.Record{
			Addr:        entry.Addr,
			RSSI:        entry.RSSI,
			HopBudget:   entry.HopBudget,
			Temperature: entry.Temperature,
			Voltage:     entry.Voltage,
		}); err != nil {
			return false
		}
		return true
	})
	e.metrics.SetStoreLive(e.store.Len())

	if drained == 0 {
		// Everything pending is still inside the hold threshold. The
		// backlog counter is kept so the next admission retries the
		// pass instead of waiting out MaxWait.
		return
	}

	// The backlog counter resets once a frame is drained, whether or not
	// the medium accepts it.
	e.sinceCheck.Store(0)
	e.lastSend.Store(now.UnixNano())

	payload := builder.Bytes()
	if err := e.medium.SetBroadcastData(set, payload); err != nil {
		e.dispatchFailed(set, drained, err)
		return
	}
	if err := e.medium.StartBroadcast(set, e.cfg.BroadcastPeriod); err != nil {
		e.dispatchFailed(set, drained, err)
		return
	}

	e.activeSets.Or(uint32(1) << set)
	e.deadlines[set] = now.Add(e.cfg.BroadcastPeriod)
	e.lastSuccess.Store(now.UnixNano())
	e.framesSent.Add(1)

	e.metrics.ObserveFrameSize(len(payload))
	e.metrics.IncFrameResult("sent")
	e.metrics.AddRecordsRelayed(drained)
	e.metrics.SetActiveBroadcasts(bits.OnesCount32(e.activeSets.Load()))

	e.publish(telemetry.EventFrameSent, map[string]any{
		"set":      set,
		"sequence": int(seq),
		"records":  drained,
		"bytes":    len(payload),
	})
	e.log.Debug().Int("set", set).Int("records", drained).Int("bytes", len(payload)).Msg("frame dispatched")
}

func (e *Engine) dispatchFailed(set, drained int, err error) {
	result := "failed"
	if errors.Is(err, medium.ErrBusy) {
		result = "busy"
	}
	e.metrics.IncFrameResult(result)
	e.log.Warn().Err(err).Int("set", set).Int("recordsLost", drained).Msg("frame dispatch failed")
}

// Sweep reclaims entries that have gone stale.
func (e *Engine) Sweep() {
	reclaimed := e.store.SweepExpired(e.cfg.StaleAfter)
	if reclaimed == 0 {
		return
	}

	e.metrics.AddSweepReclaimed(reclaimed)
	e.metrics.SetStoreLive(e.store.Len())
	e.publish(telemetry.EventSweep, map[string]any{
		"reclaimed": reclaimed,
		"live":      e.store.Len(),
	})
	e.log.Debug().Int("reclaimed", reclaimed).Msg("swept stale entries")
}

// RequestReset performs an operator-initiated full reset.
func (e *Engine) RequestReset(ctx context.Context) error {
	e.passMu.Lock()
	defer e.passMu.Unlock()
	return e.resetLocked(ctx, "operator")
}

// recoverLocked is the watchdog path: no successful dispatch within the
// recovery timeout means the medium is presumed wedged.
func (e *Engine) recoverLocked(now time.Time) {
	e.log.Warn().
		Time("lastSuccess", time.Unix(0, e.lastSuccess.Load())).
		Dur("timeout", e.cfg.RecoveryTimeout).
		Msg("recovery timeout exceeded, resetting medium")

	ctx := e.runCtx
	if ctx == nil {
		ctx = context.Background()
	}
	if err := e.resetLocked(ctx, "watchdog"); err != nil {
		e.log.Error().Err(err).Msg("medium reset failed")
	}
}

// resetLocked stops everything, clears the store, resets the medium and
// restarts the scan. Restamping lastSuccess keeps the watchdog from firing
// more than once per recovery window.
func (e *Engine) resetLocked(ctx context.Context, reason string) error {
	e.stopAllBroadcastsLocked()
	_ = e.medium.StopScan()

	e.store.Reset()
	e.sinceCheck.Store(0)

	err := e.medium.Reset(ctx)
	if err == nil && e.started.Load() {
		err = e.medium.StartScan(ctx, e.Ingest)
	}

	now := e.now().UnixNano()
	e.lastSend.Store(now)
	e.lastSuccess.Store(now)
	e.resets.Add(1)

	e.metrics.IncHealthReset()
	e.metrics.SetStoreLive(0)
	e.publish(telemetry.EventReset, map[string]any{"reason": reason})

	if err != nil {
		return fmt.Errorf("reset incomplete: %w", err)
	}
	e.log.Info().Str("reason", reason).Msg("relay reset complete")
	return nil
}

// stopAllBroadcastsLocked force-stops every active set.
func (e *Engine) stopAllBroadcastsLocked() {
	active := e.activeSets.Load()
	for set := 0; set < e.cfg.BroadcastSets; set++ {
		if active&(uint32(1)<<set) != 0 {
			_ = e.medium.StopBroadcast(set)
		}
	}
	e.activeSets.Store(0)
	e.metrics.SetActiveBroadcasts(0)
}

func (e *Engine) publish(eventType string, data map[string]any) {
	if e.events == nil {
		return
	}
	if err := e.events.Publish(telemetry.Event{Type: eventType, Data: data}); err != nil {
		e.log.Debug().Err(err).Str("type", eventType).Msg("event publish failed")
	}
}

// Status is a point-in-time snapshot of the engine for the operator API.
type Status struct {
	StoreLive          int       `json:"storeLive"`
	StoreCapacity      int       `json:"storeCapacity"`
	ActiveSets         []int     `json:"activeSets"`
	PendingSinceCheck  int       `json:"pendingSinceCheck"`
	LastSend           time.Time `json:"lastSend"`
	LastSuccessfulSend time.Time `json:"lastSuccessfulSend"`
	FramesSent         uint64    `json:"framesSent"`
	Resets             uint64    `json:"resets"`
}

// Status reports the engine state without taking the pass lock.
func (e *Engine) Status() Status {
	active := e.activeSets.Load()
	sets := []int{}
	for set := 0; set < e.cfg.BroadcastSets; set++ {
		if active&(uint32(1)<<set) != 0 {
			sets = append(sets, set)
		}
	}
	return Status{
		StoreLive:          e.store.Len(),
		StoreCapacity:      e.store.Capacity(),
		ActiveSets:         sets,
		PendingSinceCheck:  int(e.sinceCheck.Load()),
		LastSend:           time.Unix(0, e.lastSend.Load()),
		LastSuccessfulSend: time.Unix(0, e.lastSuccess.Load()),
		FramesSent:         e.framesSent.Load(),
		Resets:             e.resets.Load(),
	}
}
