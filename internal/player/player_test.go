package player

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/klangwerk/klangbrett/internal/apperr"
	"github.com/klangwerk/klangbrett/internal/audio"
	"github.com/klangwerk/klangbrett/internal/events"
	"github.com/klangwerk/klangbrett/internal/wav"
)

// fakeStream serves a fixed PCM payload.
type fakeStream struct {
	data   []byte
	pos    int
	format wav.Format

	mu     sync.Mutex
	closed bool
}

func newFakeStream(bytes int) *fakeStream {
	return &fakeStream{
		data:   make([]byte, bytes),
		format: wav.Format{SampleRate: 16000, Channels: 1, BitDepth: 16},
	}
}

func (s *fakeStream) Format() wav.Format { return s.format }
func (s *fakeStream) Size() int          { return len(s.data) }
func (s *fakeStream) Cached() bool       { return false }

func (s *fakeStream) Read(p []byte) (int, error) {
	if s.pos >= len(s.data) {
		return 0, io.EOF
	}
	n := copy(p, s.data[s.pos:])
	s.pos += n
	return n, nil
}

func (s *fakeStream) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return nil
}

func (s *fakeStream) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// fakeOpener hands out prepared streams by path.
type fakeOpener struct {
	mu      sync.Mutex
	streams map[string]*fakeStream
}

func (o *fakeOpener) Open(path string) (audio.Stream, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	s, ok := o.streams[path]
	if !ok {
		return nil, fmt.Errorf("open %s: %w", path, apperr.ErrNotFound)
	}
	return s, nil
}

// fakeSink counts bytes and configure calls. When gate is set, every
// Write blocks until the gate is closed, keeping the player provably
// mid-clip while a test issues its next command.
type fakeSink struct {
	gate       chan struct{}
	mu         sync.Mutex
	written    int
	configures []wav.Format
}

func (f *fakeSink) Configure(format wav.Format) error {
	f.mu.Lock()
	f.configures = append(f.configures, format)
	f.mu.Unlock()
	return nil
}

func (f *fakeSink) Write(p []byte) (int, error) {
	if f.gate != nil {
		<-f.gate
	}
	f.mu.Lock()
	f.written += len(p)
	f.mu.Unlock()
	return len(p), nil
}

func (f *fakeSink) Close() error { return nil }

type testRig struct {
	player *Player
	opener *fakeOpener
	sink   *fakeSink
	bus    *events.Bus
	cancel context.CancelFunc
	done   chan error
}

func newRig(t *testing.T) *testRig {
	t.Helper()
	opener := &fakeOpener{streams: map[string]*fakeStream{}}
	out := &fakeSink{}
	bus := events.NewBus()

	p, err := New(Config{QueueDepth: 10}, opener, out, nil, bus, zerolog.Nop())
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- p.Run(ctx) }()

	rig := &testRig{player: p, opener: opener, sink: out, bus: bus, cancel: cancel, done: done}
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return rig
}

func waitEvent(t *testing.T, sub events.Subscriber) events.Payload {
	t.Helper()
	select {
	case payload := <-sub:
		return payload
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for event")
		return nil
	}
}

func TestPlay_CompletesAndReportsStopped(t *testing.T) {
	rig := newRig(t)
	stopped := rig.bus.Subscribe(events.EventPlayerStopped)
	started := rig.bus.Subscribe(events.EventPlayerStarted)

	stream := newFakeStream(3000)
	rig.opener.streams["clip.wav"] = stream

	if err := rig.player.Play("clip.wav"); err != nil {
		t.Fatalf("Play: %v", err)
	}

	if got := waitEvent(t, started); got["path"] != "clip.wav" {
		t.Fatalf("unexpected started payload: %v", got)
	}
	got := waitEvent(t, stopped)
	if got["reason"] != "completed" {
		t.Fatalf("expected completed, got %v", got["reason"])
	}
	if got["played"] != 3000 {
		t.Fatalf("expected 3000 bytes played, got %v", got["played"])
	}
	if !stream.isClosed() {
		t.Fatal("stream not closed after completion")
	}

	rig.sink.mu.Lock()
	written := rig.sink.written
	rig.sink.mu.Unlock()
	if written != 3000 {
		t.Fatalf("expected 3000 bytes written to sink, got %d", written)
	}
}

func TestPlay_WhilePlayingClosesFirstStream(t *testing.T) {
	rig := newRig(t)
	stopped := rig.bus.Subscribe(events.EventPlayerStopped)
	started := rig.bus.Subscribe(events.EventPlayerStarted)

	// Gate the sink so the first clip is still going when the second lands.
	rig.sink.gate = make(chan struct{})
	first := newFakeStream(10 << 20)
	second := newFakeStream(2000)
	rig.opener.streams["first.wav"] = first
	rig.opener.streams["second.wav"] = second

	if err := rig.player.Play("first.wav"); err != nil {
		t.Fatalf("Play first: %v", err)
	}
	waitEvent(t, started)

	if err := rig.player.Play("second.wav"); err != nil {
		t.Fatalf("Play second: %v", err)
	}
	close(rig.sink.gate)

	got := waitEvent(t, stopped)
	if got["reason"] != "replaced" || got["path"] != "first.wav" {
		t.Fatalf("expected first clip replaced, got %v", got)
	}
	if !first.isClosed() {
		t.Fatal("first stream not closed before second started")
	}
	if got := waitEvent(t, started); got["path"] != "second.wav" {
		t.Fatalf("expected second started, got %v", got)
	}
}

func TestStop_InterruptNow(t *testing.T) {
	rig := newRig(t)
	stopped := rig.bus.Subscribe(events.EventPlayerStopped)
	started := rig.bus.Subscribe(events.EventPlayerStarted)

	// Gate the sink so the clip is still going when the stop lands.
	rig.sink.gate = make(chan struct{})
	stream := newFakeStream(10 << 20)
	rig.opener.streams["long.wav"] = stream

	if err := rig.player.Play("long.wav"); err != nil {
		t.Fatalf("Play: %v", err)
	}
	waitEvent(t, started)

	if err := rig.player.Stop(true); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	close(rig.sink.gate)
	got := waitEvent(t, stopped)
	if got["reason"] != "stopped" {
		t.Fatalf("expected stopped, got %v", got["reason"])
	}
	if !stream.isClosed() {
		t.Fatal("stream not closed on interrupt")
	}
}

func TestStop_DeferredIsNoOp(t *testing.T) {
	rig := newRig(t)
	stopped := rig.bus.Subscribe(events.EventPlayerStopped)
	started := rig.bus.Subscribe(events.EventPlayerStarted)

	stream := newFakeStream(50000)
	rig.opener.streams["clip.wav"] = stream

	if err := rig.player.Play("clip.wav"); err != nil {
		t.Fatalf("Play: %v", err)
	}
	waitEvent(t, started)

	if err := rig.player.Stop(false); err != nil {
		t.Fatalf("Stop: %v", err)
	}

	// The clip still runs to completion.
	got := waitEvent(t, stopped)
	if got["reason"] != "completed" {
		t.Fatalf("expected completed after deferred stop, got %v", got["reason"])
	}
}

func TestPlay_MissingFileReportsError(t *testing.T) {
	rig := newRig(t)
	errs := rig.bus.Subscribe(events.EventPlayerError)

	if err := rig.player.Play("missing.wav"); err != nil {
		t.Fatalf("Play: %v", err)
	}
	got := waitEvent(t, errs)
	if got["path"] != "missing.wav" {
		t.Fatalf("unexpected error payload: %v", got)
	}
	snap := rig.player.Snapshot()
	if snap.State != StateIdle {
		t.Fatalf("expected idle after failed open, got %s", snap.State)
	}
}

func TestSinkConfiguredOnlyOnFormatChange(t *testing.T) {
	rig := newRig(t)
	stopped := rig.bus.Subscribe(events.EventPlayerStopped)

	a := newFakeStream(100)
	b := newFakeStream(100)
	c := newFakeStream(100)
	c.format = wav.Format{SampleRate: 44100, Channels: 2, BitDepth: 16}
	rig.opener.streams["a.wav"] = a
	rig.opener.streams["b.wav"] = b
	rig.opener.streams["c.wav"] = c

	for _, path := range []string{"a.wav", "b.wav", "c.wav"} {
		if err := rig.player.Play(path); err != nil {
			t.Fatalf("Play %s: %v", path, err)
		}
		waitEvent(t, stopped)
	}

	rig.sink.mu.Lock()
	configures := len(rig.sink.configures)
	rig.sink.mu.Unlock()
	if configures != 2 {
		t.Fatalf("expected 2 configure calls (initial + change), got %d", configures)
	}
}

func TestVolume_ClampAndSteps(t *testing.T) {
	rig := newRig(t)

	rig.player.SetVolume(-5)
	if got := rig.player.Volume(); got != 0 {
		t.Fatalf("expected clamp to 0, got %d", got)
	}
	rig.player.SetVolume(99)
	if got := rig.player.Volume(); got != NumVolumeLevels-1 {
		t.Fatalf("expected clamp to %d, got %d", NumVolumeLevels-1, got)
	}
	rig.player.VolumeDown()
	if got := rig.player.Volume(); got != NumVolumeLevels-2 {
		t.Fatalf("expected %d, got %d", NumVolumeLevels-2, got)
	}
	rig.player.VolumeUp()
	if got := rig.player.Volume(); got != NumVolumeLevels-1 {
		t.Fatalf("expected %d, got %d", NumVolumeLevels-1, got)
	}
}

func TestVolume_ChangePersistedDeferred(t *testing.T) {
	store := &recordingStore{}
	opener := &fakeOpener{streams: map[string]*fakeStream{}}
	p, err := New(Config{QueueDepth: 4}, opener, &fakeSink{}, store, events.NewBus(), zerolog.Nop())
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	p.SetVolume(12)
	if len(store.saved) != 1 || store.saved[0] != 12 {
		t.Fatalf("expected one deferred save of 12, got %v", store.saved)
	}
	// Same value again: no extra save.
	p.SetVolume(12)
	if len(store.saved) != 1 {
		t.Fatalf("expected no save for unchanged volume, got %v", store.saved)
	}
}

type recordingStore struct {
	saved []int
}

func (r *recordingStore) Load() (int, error) { return 0, errors.New("empty") }
func (r *recordingStore) SaveDeferred(i int) { r.saved = append(r.saved, i) }
func (r *recordingStore) Close() error       { return nil }
