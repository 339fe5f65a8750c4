// ZK Bridge - Biometric Terminal Synchronization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/zkbridge

package roster

import (
	"context"
	"errors"
	"path/filepath"
	"reflect"
	"sync"
	"testing"
	"time"

	"github.com/tomtom215/zkbridge/internal/backend"
	"github.com/tomtom215/zkbridge/internal/models"
	"github.com/tomtom215/zkbridge/internal/testinfra"
	"github.com/tomtom215/zkbridge/internal/transport"
	"github.com/tomtom215/zkbridge/internal/watermark"
)

// fakeSource is an in-memory RosterSource.
type fakeSource struct {
	mu       sync.Mutex
	all      []models.UserRecord
	changed  []models.UserRecord
	err      error
	sinceLog []string
}

func (f *fakeSource) FetchAllUsers(ctx context.Context) ([]models.UserRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.all, f.err
}

func (f *fakeSource) FetchChangedUsers(ctx context.Context, since string) (backend.Delta, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sinceLog = append(f.sinceLog, since)
	if f.err != nil {
		return backend.Delta{}, f.err
	}
	return backend.Delta{Users: f.changed, Count: len(f.changed), Since: since}, nil
}

// call is one SendChunk invocation.
type call struct {
	chunk int
	users int
	ok    bool
}

// fakeSender decides each attempt with a per-terminal function.
type fakeSender struct {
	mu     sync.Mutex
	decide func(terminal string, chunk, attempt int) bool
	calls  map[string][]call
	tries  map[string]map[int]int
}

func newFakeSender(decide func(terminal string, chunk, attempt int) bool) *fakeSender {
	return &fakeSender{
		decide: decide,
		calls:  make(map[string][]call),
		tries:  make(map[string]map[int]int),
	}
}

func (f *fakeSender) SendChunk(ctx context.Context, t models.Terminal, chunk []models.UserRecord, chunkNumber, totalChunks int) bool {
	f.mu.Lock()
	if f.tries[t.ID] == nil {
		f.tries[t.ID] = make(map[int]int)
	}
	f.tries[t.ID][chunkNumber]++
	attempt := f.tries[t.ID][chunkNumber]
	decide := f.decide
	f.mu.Unlock()

	ok := decide == nil || decide(t.ID, chunkNumber, attempt)

	f.mu.Lock()
	f.calls[t.ID] = append(f.calls[t.ID], call{chunk: chunkNumber, users: len(chunk), ok: ok})
	f.mu.Unlock()
	return ok
}

func (f *fakeSender) callsFor(id string) []call {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]call, len(f.calls[id]))
	copy(out, f.calls[id])
	return out
}

func fastConfig() EngineConfig {
	return EngineConfig{ChunkSize: 100, RetryDelay: 5 * time.Millisecond, PollInterval: 2 * time.Millisecond}
}

func terminals(ids ...string) []models.Terminal {
	out := make([]models.Terminal, len(ids))
	for i, id := range ids {
		out[i] = models.Terminal{ID: id, IP: "127.0.0.1", Port: 4370}
	}
	return out
}

func newStore(t *testing.T) *watermark.Store {
	t.Helper()
	return watermark.NewStore(filepath.Join(t.TempDir(), watermark.FileName))
}

// progressRecorder collects onProgress snapshots.
type progressRecorder struct {
	mu        sync.Mutex
	snapshots []Progress
}

func (r *progressRecorder) record(p Progress) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.snapshots = append(r.snapshots, p)
}

func (r *progressRecorder) all() []Progress {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Progress, len(r.snapshots))
	copy(out, r.snapshots)
	return out
}

func TestEngine_EndToEndTwoTerminals(t *testing.T) {
	be := testinfra.NewMockBackend(t)
	be.SetRoster(testinfra.Users(250))

	termA := testinfra.NewScriptedTerminal(t, "a")
	termB := testinfra.NewScriptedTerminal(t, "b")
	termB.Script(1, testinfra.ReplySilent, testinfra.ReplySilent)

	cfg := backend.DefaultConfig()
	cfg.BaseURL = be.BaseURL()
	source, err := backend.NewClient(cfg)
	if err != nil {
		t.Fatalf("NewClient() error = %v", err)
	}

	wm := newStore(t)
	engine := NewEngine(
		EngineConfig{ChunkSize: 100, RetryDelay: 10 * time.Millisecond, PollInterval: 5 * time.Millisecond},
		[]models.Terminal{termA.Terminal(), termB.Terminal()},
		source,
		transport.NewClient(150*time.Millisecond, 0),
		wm,
	)

	rec := &progressRecorder{}
	result, err := engine.StartSync(context.Background(), SyncRequest{Type: SyncFull}, rec.record)
	if err != nil {
		t.Fatalf("StartSync() error = %v", err)
	}

	want := Progress{TotalChunks: 3, Terminals: []TerminalProgress{
		{ID: "a", CurrentChunkIndex: 3, Status: StatusComplete},
		{ID: "b", CurrentChunkIndex: 3, Status: StatusComplete},
	}}
	snaps := rec.all()
	if len(snaps) == 0 {
		t.Fatal("no progress reported")
	}
	if got := snaps[len(snaps)-1]; !reflect.DeepEqual(got, want) {
		t.Errorf("final snapshot = %+v, want %+v", got, want)
	}
	if !reflect.DeepEqual(result.Progress, want) || !result.Complete() || result.Users != 250 {
		t.Errorf("result = %+v", result)
	}

	if got := termA.Acked(); !reflect.DeepEqual(got, []int{0, 1, 2}) {
		t.Errorf("terminal a acked %v", got)
	}
	if n := len(termA.Attempts()); n != 3 {
		t.Errorf("terminal a saw %d attempts, want 3", n)
	}

	var seq []int
	for _, a := range termB.Attempts() {
		seq = append(seq, a.ChunkNumber)
	}
	if !reflect.DeepEqual(seq, []int{0, 1, 1, 1, 2}) {
		t.Errorf("terminal b attempt sequence = %v, want [0 1 1 1 2]", seq)
	}
	if got := termB.Acked(); !reflect.DeepEqual(got, []int{0, 1, 2}) {
		t.Errorf("terminal b acked %v", got)
	}
	if termA.UserCount() != 250 || termB.UserCount() != 250 {
		t.Errorf("users delivered a=%d b=%d, want 250", termA.UserCount(), termB.UserCount())
	}
	for _, a := range termA.Attempts() {
		if a.TotalChunks != 3 {
			t.Errorf("attempt %+v: totalChunks != 3", a)
		}
	}

	state, err := wm.Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if !state.FullSyncCompleted || state.LastFullSyncAt == nil {
		t.Errorf("watermark = %+v, want full sync recorded", state)
	}
}

func TestEngine_NoResendAfterAck(t *testing.T) {
	sender := newFakeSender(nil)
	engine := NewEngine(fastConfig(), terminals("a", "b"), &fakeSource{all: testinfra.Users(450)}, sender, nil)

	if _, err := engine.StartSync(context.Background(), SyncRequest{Type: SyncFull}, nil); err != nil {
		t.Fatalf("StartSync() error = %v", err)
	}

	for _, id := range []string{"a", "b"} {
		calls := sender.callsFor(id)
		want := []call{{0, 100, true}, {1, 100, true}, {2, 100, true}, {3, 100, true}, {4, 50, true}}
		if !reflect.DeepEqual(calls, want) {
			t.Errorf("terminal %s calls = %v, want %v", id, calls, want)
		}
	}
}

func TestEngine_PerTerminalOrdering(t *testing.T) {
	// Fail every odd attempt so each chunk needs two tries.
	sender := newFakeSender(func(_ string, _ int, attempt int) bool { return attempt%2 == 0 })
	engine := NewEngine(fastConfig(), terminals("a", "b", "c"), &fakeSource{all: testinfra.Users(320)}, sender, nil)

	if _, err := engine.StartSync(context.Background(), SyncRequest{Type: SyncFull}, nil); err != nil {
		t.Fatalf("StartSync() error = %v", err)
	}

	for _, id := range []string{"a", "b", "c"} {
		acked := -1
		for _, c := range sender.callsFor(id) {
			if c.chunk != acked+1 {
				t.Fatalf("terminal %s attempted chunk %d after acking %d", id, c.chunk, acked)
			}
			if c.ok {
				acked = c.chunk
			}
		}
		if acked != 3 {
			t.Errorf("terminal %s last acked %d, want 3", id, acked)
		}
	}
}

func TestEngine_StalledTerminalDoesNotBlockOthers(t *testing.T) {
	sender := newFakeSender(func(id string, _ int, _ int) bool { return id != "down" })
	cfg := fastConfig()
	cfg.MaxChunkAttempts = 3
	wm := newStore(t)
	engine := NewEngine(cfg, terminals("up", "down"), &fakeSource{all: testinfra.Users(250)}, sender, wm)

	result, err := engine.StartSync(context.Background(), SyncRequest{Type: SyncFull}, nil)
	if err != nil {
		t.Fatalf("StartSync() error = %v", err)
	}

	want := []TerminalProgress{
		{ID: "up", CurrentChunkIndex: 3, Status: StatusComplete},
		{ID: "down", CurrentChunkIndex: 0, Status: StatusStalled},
	}
	if !reflect.DeepEqual(result.Progress.Terminals, want) {
		t.Errorf("terminals = %+v, want %+v", result.Progress.Terminals, want)
	}
	if !reflect.DeepEqual(result.Stalled, []string{"down"}) {
		t.Errorf("stalled = %v", result.Stalled)
	}
	if result.Complete() {
		t.Error("Complete() = true with a stalled terminal")
	}
	if n := len(sender.callsFor("down")); n != 3 {
		t.Errorf("down terminal attempts = %d, want 3", n)
	}

	state, _ := wm.Load()
	if state.FullSyncCompleted {
		t.Error("full sync recorded despite stalled terminal")
	}
}

func TestEngine_EmptyRoster(t *testing.T) {
	sender := newFakeSender(nil)
	wm := newStore(t)
	engine := NewEngine(fastConfig(), terminals("a", "b"), &fakeSource{}, sender, wm)

	rec := &progressRecorder{}
	result, err := engine.StartSync(context.Background(), SyncRequest{Type: SyncFull}, rec.record)
	if err != nil {
		t.Fatalf("StartSync() error = %v", err)
	}

	snaps := rec.all()
	if len(snaps) != 1 {
		t.Fatalf("onProgress called %d times, want 1", len(snaps))
	}
	want := Progress{TotalChunks: 0, Terminals: []TerminalProgress{
		{ID: "a", Status: StatusComplete},
		{ID: "b", Status: StatusComplete},
	}}
	if !reflect.DeepEqual(snaps[0], want) {
		t.Errorf("snapshot = %+v, want %+v", snaps[0], want)
	}
	if !result.Complete() {
		t.Error("empty run should be complete")
	}
	if n := len(sender.callsFor("a")) + len(sender.callsFor("b")); n != 0 {
		t.Errorf("sender called %d times", n)
	}
}

func TestEngine_FetchErrorAborts(t *testing.T) {
	boom := errors.New("backend down")
	sender := newFakeSender(nil)
	engine := NewEngine(fastConfig(), terminals("a"), &fakeSource{err: boom}, sender, nil)

	called := false
	_, err := engine.StartSync(context.Background(), SyncRequest{Type: SyncFull}, func(Progress) { called = true })
	if !errors.Is(err, boom) {
		t.Fatalf("error = %v, want %v", err, boom)
	}
	if called {
		t.Error("onProgress called after fetch failure")
	}
	if len(sender.callsFor("a")) != 0 {
		t.Error("sender called after fetch failure")
	}
	if engine.Running() {
		t.Error("engine still running")
	}
}

func TestEngine_RejectsConcurrentRun(t *testing.T) {
	release := make(chan struct{})
	started := make(chan struct{})
	var once sync.Once
	sender := newFakeSender(func(string, int, int) bool {
		once.Do(func() { close(started) })
		<-release
		return true
	})
	engine := NewEngine(fastConfig(), terminals("a"), &fakeSource{all: testinfra.Users(10)}, sender, nil)

	done := make(chan error, 1)
	go func() {
		_, err := engine.StartSync(context.Background(), SyncRequest{Type: SyncFull}, nil)
		done <- err
	}()

	<-started
	if _, err := engine.StartSync(context.Background(), SyncRequest{Type: SyncFull}, nil); !errors.Is(err, ErrSyncInProgress) {
		t.Errorf("second StartSync error = %v, want ErrSyncInProgress", err)
	}
	close(release)

	if err := <-done; err != nil {
		t.Fatalf("first StartSync error = %v", err)
	}
	if _, err := engine.StartSync(context.Background(), SyncRequest{Type: SyncFull}, nil); err != nil {
		t.Errorf("StartSync after completion error = %v", err)
	}
}

func TestEngine_CancelStopsRetries(t *testing.T) {
	sender := newFakeSender(func(string, int, int) bool { return false })
	engine := NewEngine(fastConfig(), terminals("a"), &fakeSource{all: testinfra.Users(5)}, sender, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	result, err := engine.StartSync(ctx, SyncRequest{Type: SyncFull}, nil)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("error = %v, want deadline exceeded", err)
	}
	if got := result.Progress.Terminals[0]; got.Status != StatusInProgress || got.CurrentChunkIndex != 0 {
		t.Errorf("terminal = %+v", got)
	}
}

func TestEngine_IncrementalUsesWatermark(t *testing.T) {
	wm := newStore(t)
	last := time.Date(2025, 4, 9, 22, 0, 0, 0, time.UTC)
	if _, err := wm.MarkIncrementalSync(last); err != nil {
		t.Fatal(err)
	}

	source := &fakeSource{changed: testinfra.Users(3)}
	engine := NewEngine(fastConfig(), terminals("a"), source, newFakeSender(nil), wm)

	result, err := engine.StartSync(context.Background(), SyncRequest{Type: SyncIncremental}, nil)
	if err != nil {
		t.Fatalf("StartSync() error = %v", err)
	}
	if result.Since != "2025-04-09" || result.Users != 3 {
		t.Errorf("result since=%q users=%d", result.Since, result.Users)
	}

	if _, err := engine.StartSync(context.Background(), SyncRequest{Type: SyncIncremental, Since: "2024-12-31"}, nil); err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(source.sinceLog, []string{"2025-04-09", "2024-12-31"}) {
		t.Errorf("since log = %v", source.sinceLog)
	}

	state, _ := wm.Load()
	if state.LastIncrementalSyncAt == nil || !state.LastIncrementalSyncAt.After(last) {
		t.Errorf("incremental watermark not advanced: %+v", state)
	}
	if state.FullSyncCompleted {
		t.Error("incremental run recorded a full sync")
	}
}

func TestEngine_UnknownSyncType(t *testing.T) {
	engine := NewEngine(fastConfig(), terminals("a"), &fakeSource{}, newFakeSender(nil), nil)
	if _, err := engine.StartSync(context.Background(), SyncRequest{Type: "partial"}, nil); err == nil {
		t.Fatal("expected error for unknown sync type")
	}
}

func TestEngine_LastResult(t *testing.T) {
	engine := NewEngine(fastConfig(), terminals("a"), &fakeSource{all: testinfra.Users(1)}, newFakeSender(nil), nil)
	if _, ok := engine.LastResult(); ok {
		t.Fatal("LastResult before any run should be empty")
	}
	if _, err := engine.StartSync(context.Background(), SyncRequest{}, nil); err != nil {
		t.Fatal(err)
	}
	res, ok := engine.LastResult()
	if !ok || res.Type != SyncFull || !res.Complete() {
		t.Errorf("LastResult = %+v, %v", res, ok)
	}
	if p := engine.Progress(); !p.Done() || p.TotalChunks != 1 {
		t.Errorf("Progress = %+v", p)
	}
}
