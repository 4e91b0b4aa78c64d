package refresh

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/janekbaraniewski/reqwatch/internal/core"
	"github.com/janekbaraniewski/reqwatch/internal/predict"
	"github.com/janekbaraniewski/reqwatch/internal/usage"
)

type fakeSession struct {
	mu      sync.Mutex
	state   core.SessionState
	expired int
	onState []func(core.SessionState)
	onAuth  []func()
}

func (f *fakeSession) State() core.SessionState {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

func (f *fakeSession) CheckAuth(ctx context.Context) (core.SessionState, error) {
	return f.State(), nil
}

func (f *fakeSession) MarkExpired() {
	f.mu.Lock()
	f.expired++
	f.state = core.SessionUnauthenticated
	fns := append([]func(core.SessionState){}, f.onState...)
	f.mu.Unlock()
	for _, fn := range fns {
		fn(core.SessionUnauthenticated)
	}
}

func (f *fakeSession) OnStateChange(fn func(core.SessionState)) {
	f.mu.Lock()
	f.onState = append(f.onState, fn)
	f.mu.Unlock()
}

func (f *fakeSession) OnAuthenticated(fn func()) {
	f.mu.Lock()
	f.onAuth = append(f.onAuth, fn)
	f.mu.Unlock()
}

type fakeIdentity struct {
	id     int64
	err    error
	resets int
}

func (f *fakeIdentity) Resolve(ctx context.Context) (int64, error) { return f.id, f.err }
func (f *fakeIdentity) Reset()                                     { f.resets++ }

type fakeSource struct {
	mu      sync.Mutex
	calls   int
	result  usage.Result
	release chan struct{} // when non-nil, Fetch blocks until closed
}

func (f *fakeSource) Fetch(ctx context.Context, customerID int64) usage.Result {
	f.mu.Lock()
	f.calls++
	release := f.release
	f.mu.Unlock()
	if release != nil {
		<-release
	}
	return f.result
}

func (f *fakeSource) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type fakePersister struct {
	mu     sync.Mutex
	saved  []core.CacheSnapshot
	stored *core.CacheSnapshot
}

func (f *fakePersister) SaveSnapshot(ctx context.Context, snap core.CacheSnapshot) error {
	f.mu.Lock()
	f.saved = append(f.saved, snap)
	f.mu.Unlock()
	return nil
}

func (f *fakePersister) LoadSnapshot(ctx context.Context) (core.CacheSnapshot, bool, error) {
	if f.stored == nil {
		return core.CacheSnapshot{}, false, nil
	}
	return *f.stored, true, nil
}

func goodResult() usage.Result {
	raw, _ := json.Marshal(map[string]any{
		"rows": []map[string]any{
			{"date": "2025-06-14", "included_requests": 60},
			{"date": "2025-06-13", "included_requests": 60},
			{"date": "2025-06-12", "included_requests": 60},
		},
	})
	return usage.Result{
		Summary:    core.UsageSummary{NetQuantity: 180, Entitlement: 1200},
		RawHistory: raw,
	}
}

func newTestOrchestrator(sess *fakeSession, src *fakeSource, store Persister) *Orchestrator {
	o := New(sess, &fakeIdentity{id: 4821337}, src, predict.New(0.04, 1200), store, core.RefreshConfig{
		IntervalSeconds:      30,
		PredictionPeriodDays: 7,
	})
	o.now = func() time.Time { return time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC) }
	return o
}

func TestRefreshSuccessEmitsAndPersists(t *testing.T) {
	sess := &fakeSession{state: core.SessionAuthenticated}
	src := &fakeSource{result: goodResult()}
	store := &fakePersister{}
	o := newTestOrchestrator(sess, src, store)

	var events []Event
	o.Subscribe(func(ev Event) { events = append(events, ev) })

	o.Refresh(context.Background())

	if len(events) != 3 {
		t.Fatalf("events = %d, want loading, data, loading-done", len(events))
	}
	if events[0].Name != EventUsageLoading || !events[0].Loading {
		t.Errorf("first event = %+v, want %s true", events[0], EventUsageLoading)
	}
	if events[1].Name != EventUsageData || events[1].Result == nil || !events[1].Result.Success {
		t.Errorf("second event = %+v, want successful %s", events[1], EventUsageData)
	}
	if events[2].Name != EventUsageLoading || events[2].Loading {
		t.Errorf("last event = %+v, want %s false", events[2], EventUsageLoading)
	}
	if events[1].Result.Prediction == nil || events[1].Result.Prediction.DaysUsed != 3 {
		t.Errorf("prediction missing or wrong: %+v", events[1].Result.Prediction)
	}
	if len(store.saved) != 1 {
		t.Errorf("persisted snapshots = %d, want 1", len(store.saved))
	}
	if snap := o.Snapshot(); snap == nil || snap.Summary.NetQuantity != 180 {
		t.Errorf("cached snapshot = %+v", snap)
	}
}

func TestRefreshInFlightIsNoOp(t *testing.T) {
	sess := &fakeSession{state: core.SessionAuthenticated}
	src := &fakeSource{result: goodResult(), release: make(chan struct{})}
	o := newTestOrchestrator(sess, src, nil)

	started := make(chan struct{})
	done := make(chan struct{})
	go func() {
		close(started)
		o.Refresh(context.Background())
		close(done)
	}()
	<-started

	// Wait until the first cycle is inside Fetch.
	deadline := time.After(2 * time.Second)
	for src.callCount() == 0 {
		select {
		case <-deadline:
			t.Fatal("first cycle never reached Fetch")
		case <-time.After(5 * time.Millisecond):
		}
	}

	// Overlapping trigger while the first cycle is in flight.
	o.Refresh(context.Background())
	if got := src.callCount(); got != 1 {
		t.Fatalf("fetches = %d, want 1 while a cycle is in flight", got)
	}

	close(src.release)
	<-done

	// Once the cycle finished, the next trigger fetches again.
	o.Refresh(context.Background())
	if got := src.callCount(); got != 2 {
		t.Errorf("fetches = %d, want 2 after the first cycle completed", got)
	}
}

func TestRefreshSkippedWhenNotAuthenticated(t *testing.T) {
	sess := &fakeSession{state: core.SessionUnauthenticated}
	src := &fakeSource{result: goodResult()}
	o := newTestOrchestrator(sess, src, nil)

	var events []Event
	o.Subscribe(func(ev Event) { events = append(events, ev) })

	o.Refresh(context.Background())
	if src.callCount() != 0 {
		t.Errorf("fetches = %d, want 0 without an authenticated session", src.callCount())
	}
	// The fetch is withheld; the auth state is emitted in its place.
	if len(events) != 1 || events[0].Name != EventAuthStateChanged || events[0].State != core.SessionUnauthenticated {
		t.Errorf("events = %+v, want one %s unauthenticated", events, EventAuthStateChanged)
	}
}

func TestFailedCycleEndsLoading(t *testing.T) {
	sess := &fakeSession{state: core.SessionAuthenticated}
	src := &fakeSource{result: usage.Result{
		SummaryErr: core.NewError(core.KindNetwork, "card fetch: 502"),
	}}
	o := newTestOrchestrator(sess, src, nil)

	var loading []bool
	o.Subscribe(func(ev Event) {
		if ev.Name == EventUsageLoading {
			loading = append(loading, ev.Loading)
		}
	})

	o.Refresh(context.Background())

	if len(loading) != 2 || !loading[0] || loading[1] {
		t.Errorf("loading events = %v, want [true false] around a failed cycle", loading)
	}
}

func TestSessionExpiredAbortsCycle(t *testing.T) {
	sess := &fakeSession{state: core.SessionAuthenticated}
	src := &fakeSource{result: usage.Result{
		SummaryErr: core.NewError(core.KindSessionExpired, "redirected to login"),
	}}
	store := &fakePersister{}
	o := newTestOrchestrator(sess, src, store)

	var dataEvents []Event
	o.Subscribe(func(ev Event) {
		if ev.Name == EventUsageData {
			dataEvents = append(dataEvents, ev)
		}
	})

	o.Refresh(context.Background())

	if sess.expired != 1 {
		t.Errorf("MarkExpired calls = %d, want 1", sess.expired)
	}
	if len(store.saved) != 0 {
		t.Errorf("persisted snapshots = %d, want 0 on failed cycle", len(store.saved))
	}
	if len(dataEvents) != 1 || dataEvents[0].Result.Success || dataEvents[0].Result.Error == "" {
		t.Errorf("data events = %+v, want one failure result", dataEvents)
	}

	// Session is now unauthenticated, further triggers stay fetch-free.
	o.Refresh(context.Background())
	if src.callCount() != 1 {
		t.Errorf("fetches = %d, want 1 after expiry", src.callCount())
	}
}

// Expiry mid-cycle flips the session state, and the state-change handler
// Run installs bumps the generation. The cycle's own failure must still
// reach subscribers.
func TestSessionExpiredUnderRunStillEmitsFailure(t *testing.T) {
	sess := &fakeSession{state: core.SessionAuthenticated}
	src := &fakeSource{result: usage.Result{
		SummaryErr: core.NewError(core.KindSessionExpired, "redirected to login"),
	}}
	o := newTestOrchestrator(sess, src, nil)

	dataEvents := make(chan Event, 4)
	o.Subscribe(func(ev Event) {
		if ev.Name == EventUsageData {
			dataEvents <- ev
		}
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go o.Run(ctx)

	// Wait for Run to install the generation-bumping state handler.
	deadline := time.After(2 * time.Second)
	for {
		sess.mu.Lock()
		installed := len(sess.onState) > 0
		sess.mu.Unlock()
		if installed {
			break
		}
		select {
		case <-deadline:
			t.Fatal("state-change handler never installed")
		case <-time.After(5 * time.Millisecond):
		}
	}

	o.Refresh(ctx)

	select {
	case ev := <-dataEvents:
		if ev.Result == nil || ev.Result.Success || ev.Result.Error == "" {
			t.Errorf("data event = %+v, want a failure result", ev)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("expired cycle emitted no failure event")
	}
	if sess.expired != 1 {
		t.Errorf("MarkExpired calls = %d, want 1", sess.expired)
	}
}

func TestRunRestoresPersistedSnapshot(t *testing.T) {
	sess := &fakeSession{state: core.SessionUnauthenticated}
	src := &fakeSource{result: goodResult()}
	stored := core.CacheSnapshot{
		Summary:   core.UsageSummary{NetQuantity: 555, Entitlement: 1200},
		FetchedAt: time.Date(2025, 6, 14, 9, 0, 0, 0, time.UTC),
	}
	store := &fakePersister{stored: &stored}
	o := newTestOrchestrator(sess, src, store)

	restored := make(chan Event, 4)
	o.Subscribe(func(ev Event) {
		if ev.Name == EventUsageData {
			restored <- ev
		}
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go o.Run(ctx)

	select {
	case ev := <-restored:
		if !ev.Result.Success || ev.Result.Summary.NetQuantity != 555 {
			t.Errorf("restored result = %+v", ev.Result)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("restored snapshot never emitted")
	}
	if snap := o.Snapshot(); snap == nil || snap.Summary.NetQuantity != 555 {
		t.Errorf("Snapshot() = %+v, want restored value", snap)
	}
}

func TestSetPeriodDaysAppliesNextCycle(t *testing.T) {
	sess := &fakeSession{state: core.SessionAuthenticated}
	src := &fakeSource{result: goodResult()}
	o := newTestOrchestrator(sess, src, nil)

	o.SetPeriodDays(21)

	var pred *core.Prediction
	o.Subscribe(func(ev Event) {
		if ev.Name == EventUsageData && ev.Result.Prediction != nil {
			pred = ev.Result.Prediction
		}
	})
	o.Refresh(context.Background())
	if pred == nil {
		t.Fatal("no prediction emitted")
	}
	// 3 history days against a 21-day window still yields a forecast.
	if pred.DaysUsed != 3 || pred.Confidence != core.ConfidenceMedium {
		t.Errorf("prediction = %+v, want DaysUsed 3 Medium", pred)
	}
}
