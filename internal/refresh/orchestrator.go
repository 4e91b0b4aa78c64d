// Package refresh drives the periodic usage refresh cycle and fans the
// results out to subscribers. One orchestrator runs per daemon.
package refresh

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/janekbaraniewski/reqwatch/internal/core"
	"github.com/janekbaraniewski/reqwatch/internal/usage"
)

// Event names delivered to subscribers.
const (
	EventAuthStateChanged = "auth:state-changed"
	EventUsageLoading     = "usage:loading"
	EventUsageData        = "usage:data"
)

// Event carries one notification. State is set for auth events, Result
// for data events. Loading events come in pairs: true when a cycle
// starts, false when it ends on any path.
type Event struct {
	Name    string
	State   core.SessionState
	Loading bool
	Result  *core.UsageResult
}

// Session is the slice of the session manager the orchestrator needs.
type Session interface {
	State() core.SessionState
	CheckAuth(ctx context.Context) (core.SessionState, error)
	MarkExpired()
	OnStateChange(fn func(core.SessionState))
	OnAuthenticated(fn func())
}

// IdentitySource resolves the billing customer id.
type IdentitySource interface {
	Resolve(ctx context.Context) (int64, error)
	Reset()
}

// UsageSource fetches the raw card and table payloads.
type UsageSource interface {
	Fetch(ctx context.Context, customerID int64) usage.Result
}

// Predictor turns a usage summary and history into a month-end forecast.
type Predictor interface {
	Predict(history core.UsageHistory, summary core.UsageSummary, periodDays int) core.Prediction
}

// Persister stores the latest snapshot across restarts. May be nil.
type Persister interface {
	SaveSnapshot(ctx context.Context, snap core.CacheSnapshot) error
	LoadSnapshot(ctx context.Context) (core.CacheSnapshot, bool, error)
}

const settleDelay = 500 * time.Millisecond

// Orchestrator owns the refresh timer and the single-flight cycle.
type Orchestrator struct {
	session  Session
	identity IdentitySource
	source   UsageSource
	engine   Predictor
	store    Persister

	mu         sync.Mutex
	interval   time.Duration
	periodDays int
	inFlight   bool
	generation uint64
	snapshot   *core.CacheSnapshot
	listeners  []func(Event)
	debounce   *time.Timer

	restartCh chan time.Duration
	now       func() time.Time
}

func New(sess Session, id IdentitySource, src UsageSource, engine Predictor, store Persister, cfg core.RefreshConfig) *Orchestrator {
	interval := time.Duration(cfg.IntervalSeconds) * time.Second
	if interval <= 0 {
		interval = 30 * time.Second
	}
	periodDays := cfg.PredictionPeriodDays
	if periodDays <= 0 {
		periodDays = 7
	}
	return &Orchestrator{
		session:    sess,
		identity:   id,
		source:     src,
		engine:     engine,
		store:      store,
		interval:   interval,
		periodDays: periodDays,
		restartCh:  make(chan time.Duration, 1),
		now:        time.Now,
	}
}

// Subscribe registers a listener for all events. Listeners run on the
// emitting goroutine and must not block.
func (o *Orchestrator) Subscribe(fn func(Event)) {
	o.mu.Lock()
	o.listeners = append(o.listeners, fn)
	o.mu.Unlock()
}

// Snapshot returns the last successful result, possibly restored from
// disk, or nil when nothing has been fetched yet.
func (o *Orchestrator) Snapshot() *core.CacheSnapshot {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.snapshot
}

// SetInterval changes the refresh cadence. Rapid successive calls from
// a settings UI settle for half a second before the timer restarts, so
// only the final choice takes effect.
func (o *Orchestrator) SetInterval(seconds int) {
	if seconds <= 0 {
		return
	}
	o.mu.Lock()
	o.interval = time.Duration(seconds) * time.Second
	d := o.interval
	if o.debounce != nil {
		o.debounce.Stop()
	}
	o.debounce = time.AfterFunc(settleDelay, func() {
		select {
		case o.restartCh <- d:
		default:
		}
	})
	o.mu.Unlock()
}

// SetPeriodDays changes the prediction window. Takes effect on the next
// cycle; no immediate refresh.
func (o *Orchestrator) SetPeriodDays(days int) {
	if days <= 0 {
		return
	}
	o.mu.Lock()
	o.periodDays = days
	o.mu.Unlock()
}

// Run wires the session callbacks, restores the persisted snapshot and
// blocks driving the timer until ctx is cancelled.
func (o *Orchestrator) Run(ctx context.Context) error {
	if o.store != nil {
		if snap, ok, err := o.store.LoadSnapshot(ctx); err != nil {
			log.Printf("refresh level=warn event=snapshot_restore_failed error=%v", err)
		} else if ok {
			o.mu.Lock()
			o.snapshot = &snap
			o.mu.Unlock()
			o.emit(Event{Name: EventUsageData, Result: resultFromSnapshot(&snap)})
		}
	}

	o.session.OnStateChange(func(s core.SessionState) {
		if s != core.SessionAuthenticated && s != core.SessionChecking {
			o.mu.Lock()
			o.generation++
			o.identity.Reset()
			o.mu.Unlock()
		}
		o.emit(Event{Name: EventAuthStateChanged, State: s})
	})
	o.session.OnAuthenticated(func() {
		go o.Refresh(ctx)
	})

	go func() {
		if _, err := o.session.CheckAuth(ctx); err != nil {
			log.Printf("refresh level=warn event=initial_auth_check_failed error=%v", err)
		}
	}()

	o.mu.Lock()
	ticker := time.NewTicker(o.interval)
	o.mu.Unlock()
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			o.Refresh(ctx)
		case d := <-o.restartCh:
			ticker.Reset(d)
			log.Printf("refresh level=info event=interval_changed interval=%s", d)
		}
	}
}

// Refresh runs one fetch cycle. A cycle already in flight makes this a
// no-op. Without an authenticated session the fetch is withheld and the
// current auth state is emitted instead.
func (o *Orchestrator) Refresh(ctx context.Context) {
	o.mu.Lock()
	if o.inFlight {
		o.mu.Unlock()
		log.Printf("refresh level=debug event=cycle_skipped reason=in_flight")
		return
	}
	if s := o.session.State(); s != core.SessionAuthenticated {
		o.mu.Unlock()
		log.Printf("refresh level=debug event=cycle_skipped reason=not_authenticated")
		o.emit(Event{Name: EventAuthStateChanged, State: s})
		return
	}
	o.inFlight = true
	gen := o.generation
	periodDays := o.periodDays
	o.mu.Unlock()

	defer func() {
		o.mu.Lock()
		o.inFlight = false
		o.mu.Unlock()
	}()

	o.emit(Event{Name: EventUsageLoading, Loading: true})
	defer o.emit(Event{Name: EventUsageLoading, Loading: false})

	customerID, err := o.identity.Resolve(ctx)
	if err != nil {
		o.fail(gen, err)
		return
	}

	res := o.source.Fetch(ctx, customerID)
	if err := res.Err(); err != nil {
		if core.IsSessionExpired(err) {
			log.Printf("refresh level=warn event=session_expired_mid_cycle")
			// Surface this cycle's failure before MarkExpired runs the
			// state-change callbacks that bump the generation, or the
			// error would be classified as stale and dropped.
			o.fail(gen, err)
			o.session.MarkExpired()
			return
		}
		o.fail(gen, err)
		return
	}

	history, err := usage.Normalize(res.RawHistory, o.now())
	if err != nil {
		o.fail(gen, err)
		return
	}

	pred := o.engine.Predict(history, res.Summary, periodDays)

	snap := core.CacheSnapshot{
		Summary:    res.Summary,
		History:    history,
		Prediction: pred,
		FetchedAt:  o.now(),
	}

	o.mu.Lock()
	if o.generation != gen {
		o.mu.Unlock()
		log.Printf("refresh level=debug event=cycle_discarded reason=session_changed")
		return
	}
	o.snapshot = &snap
	o.mu.Unlock()

	if o.store != nil {
		if err := o.store.SaveSnapshot(ctx, snap); err != nil {
			log.Printf("refresh level=warn event=snapshot_persist_failed error=%v", err)
		}
	}

	o.emit(Event{Name: EventUsageData, Result: resultFromSnapshot(&snap)})
}

func (o *Orchestrator) fail(gen uint64, err error) {
	o.mu.Lock()
	stale := o.generation != gen
	o.mu.Unlock()
	if stale {
		return
	}
	log.Printf("refresh level=warn event=cycle_failed kind=%s error=%v", core.KindOf(err), err)
	o.emit(Event{Name: EventUsageData, Result: &core.UsageResult{Error: err.Error()}})
}

func (o *Orchestrator) emit(ev Event) {
	o.mu.Lock()
	fns := append([]func(Event){}, o.listeners...)
	o.mu.Unlock()
	for _, fn := range fns {
		fn(ev)
	}
}

func resultFromSnapshot(snap *core.CacheSnapshot) *core.UsageResult {
	return &core.UsageResult{
		Success:    true,
		Summary:    &snap.Summary,
		History:    &snap.History,
		Prediction: &snap.Prediction,
	}
}
