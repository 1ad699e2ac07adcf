package mapper

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/klangwerk/klangbrett/internal/apperr"
	"github.com/klangwerk/klangbrett/internal/events"
	"github.com/klangwerk/klangbrett/internal/input"
)

type call struct {
	op   string // "play", "stop", "vol_up", "vol_down"
	path string
}

type fakePlayer struct {
	calls []call
}

func (f *fakePlayer) Play(path string) error {
	f.calls = append(f.calls, call{op: "play", path: path})
	return nil
}

func (f *fakePlayer) Stop(interruptNow bool) error {
	op := "stop"
	if !interruptNow {
		op = "stop_deferred"
	}
	f.calls = append(f.calls, call{op: op})
	return nil
}

func (f *fakePlayer) VolumeUp()   { f.calls = append(f.calls, call{op: "vol_up"}) }
func (f *fakePlayer) VolumeDown() { f.calls = append(f.calls, call{op: "vol_down"}) }

func (f *fakePlayer) ops() []string {
	out := make([]string, len(f.calls))
	for i, c := range f.calls {
		out[i] = c.op
	}
	return out
}

type fakePreloader struct {
	queued  []string
	flushes int
}

func (f *fakePreloader) Preload(path string) { f.queued = append(f.queued, path) }
func (f *fakePreloader) FlushPreload()       { f.flushes++; f.queued = nil }

func writeMapping(t *testing.T, dir, name, content string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644); err != nil {
		t.Fatalf("write mapping: %v", err)
	}
}

const baseMapping = `# soundboard defaults
default,1,press,play,laser.wav
default,2,press,play_cut,horn.wav
default,3,press,play_lock,loop.wav
default,4,press,stop
fx,1,press,play,fx/boom.wav
`

func newTestMapper(t *testing.T, mapping string) (*Mapper, *fakePlayer, *fakePreloader) {
	t.Helper()
	dir := t.TempDir()
	writeMapping(t, dir, "mapping.csv", mapping)
	player := &fakePlayer{}
	preloader := &fakePreloader{}
	m, err := Load([]Source{{Name: "firmware", Root: dir, File: "mapping.csv"}},
		player, preloader, events.NewBus(), zerolog.Nop())
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	return m, player, preloader
}

func press(m *Mapper, button int) {
	m.HandleEvent(input.Event{Kind: input.Press, Button: button, Time: time.Now()})
}

func release(m *Mapper, button int) {
	m.HandleEvent(input.Event{Kind: input.Release, Button: button, Time: time.Now()})
}

func longPress(m *Mapper, button int) {
	m.HandleEvent(input.Event{Kind: input.LongPress, Button: button, Time: time.Now()})
}

func rotate(m *Mapper, kind input.EventKind) {
	m.HandleEvent(input.Event{Kind: kind, Time: time.Now()})
}

func TestLoad_PagesAndOverride(t *testing.T) {
	firmware := t.TempDir()
	sdcard := t.TempDir()
	writeMapping(t, firmware, "mapping.csv", baseMapping)
	// SD overrides button 1 on the default page.
	writeMapping(t, sdcard, "mapping.csv", "default,1,press,play,custom.wav\n")

	player := &fakePlayer{}
	m, err := Load([]Source{
		{Name: "firmware", Root: firmware, File: "mapping.csv"},
		{Name: "sdcard", Root: sdcard, File: "mapping.csv"},
	}, player, &fakePreloader{}, events.NewBus(), zerolog.Nop())
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	snap := m.Snapshot()
	if snap.PageCount != 2 || snap.Page != "default" {
		t.Fatalf("unexpected snapshot: %+v", snap)
	}

	press(m, 1)
	want := filepath.Join(sdcard, "custom.wav")
	if len(player.calls) != 1 || player.calls[0].path != want {
		t.Fatalf("expected override play of %s, got %+v", want, player.calls)
	}
}

func TestLoad_MalformedLineFails(t *testing.T) {
	dir := t.TempDir()
	writeMapping(t, dir, "mapping.csv", "default,1,press,play,ok.wav\ndefault,99,press,play,bad.wav\n")

	_, err := Load([]Source{{Name: "firmware", Root: dir, File: "mapping.csv"}},
		&fakePlayer{}, &fakePreloader{}, events.NewBus(), zerolog.Nop())
	if !errors.Is(err, apperr.ErrInvalidArgument) {
		t.Fatalf("expected ErrInvalidArgument, got %v", err)
	}
	if !strings.Contains(err.Error(), "line 2") {
		t.Fatalf("expected line number in error, got %v", err)
	}
}

func TestLoad_NoSources(t *testing.T) {
	_, err := Load([]Source{{Name: "firmware", Root: t.TempDir(), File: "mapping.csv"}},
		&fakePlayer{}, &fakePreloader{}, events.NewBus(), zerolog.Nop())
	if !errors.Is(err, apperr.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestPreload_HighestButtonFirstDeduped(t *testing.T) {
	dir := t.TempDir()
	// shared.wav appears on buttons 2 and 9: preloaded once, under 9.
	writeMapping(t, dir, "mapping.csv", strings.Join([]string{
		"default,2,press,play,shared.wav",
		"default,9,press,play,shared.wav",
		"default,5,press,play_cut,five.wav",
		"default,11,press,play_lock,eleven.wav",
		"default,12,press,stop",
	}, "\n")+"\n")

	preloader := &fakePreloader{}
	_, err := Load([]Source{{Name: "firmware", Root: dir, File: "mapping.csv"}},
		&fakePlayer{}, preloader, events.NewBus(), zerolog.Nop())
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	want := []string{
		filepath.Join(dir, "eleven.wav"),
		filepath.Join(dir, "shared.wav"),
		filepath.Join(dir, "five.wav"),
	}
	if len(preloader.queued) != len(want) {
		t.Fatalf("queued %v, want %v", preloader.queued, want)
	}
	for i := range want {
		if preloader.queued[i] != want[i] {
			t.Fatalf("queue position %d: got %s, want %s", i, preloader.queued[i], want[i])
		}
	}
	if preloader.flushes != 1 {
		t.Fatalf("expected one flush before enqueue, got %d", preloader.flushes)
	}
}

func TestRotation_VolumeMode(t *testing.T) {
	m, player, _ := newTestMapper(t, baseMapping)

	rotate(m, input.RotateCW)
	rotate(m, input.RotateCW)
	rotate(m, input.RotateCCW)

	want := []string{"vol_up", "vol_up", "vol_down"}
	got := player.ops()
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("call %d: got %s, want %s", i, got[i], want[i])
		}
	}
}

func TestRotation_PageModeCircular(t *testing.T) {
	m, _, preloader := newTestMapper(t, baseMapping)

	press(m, input.EncoderButton) // toggle to PAGE mode
	if m.Snapshot().Mode != ModePage {
		t.Fatalf("expected page mode, got %s", m.Snapshot().Mode)
	}

	rotate(m, input.RotateCW)
	if got := m.Snapshot().Page; got != "fx" {
		t.Fatalf("expected fx, got %s", got)
	}
	// Wraps around back to the first page.
	rotate(m, input.RotateCW)
	if got := m.Snapshot().Page; got != "default" {
		t.Fatalf("expected wrap to default, got %s", got)
	}
	rotate(m, input.RotateCCW)
	if got := m.Snapshot().Page; got != "fx" {
		t.Fatalf("expected fx going backwards, got %s", got)
	}
	if preloader.flushes < 3 {
		t.Fatalf("expected a preload flush per page change, got %d", preloader.flushes)
	}
}

func TestDirectPageSelect(t *testing.T) {
	m, player, _ := newTestMapper(t, baseMapping)

	press(m, input.EncoderButton)
	press(m, 2) // page number 2 is "fx"

	snap := m.Snapshot()
	if snap.Page != "fx" {
		t.Fatalf("expected fx, got %s", snap.Page)
	}
	if snap.Mode != ModeVolume {
		t.Fatalf("expected drop back to volume mode, got %s", snap.Mode)
	}
	// The press selected a page; it must not trigger the fx page mapping.
	if len(player.calls) != 0 {
		t.Fatalf("expected no player calls, got %+v", player.calls)
	}
}

func TestDirectPageSelect_MissingPageStaysInPageMode(t *testing.T) {
	m, _, _ := newTestMapper(t, baseMapping)

	press(m, input.EncoderButton)
	press(m, 7) // only 2 pages exist

	snap := m.Snapshot()
	if snap.Mode != ModePage {
		t.Fatalf("expected page mode retained, got %s", snap.Mode)
	}
	if snap.Page != "default" {
		t.Fatalf("expected page unchanged, got %s", snap.Page)
	}
}

func TestFSM_PlayOnceReleaseDoesNotStop(t *testing.T) {
	m, player, _ := newTestMapper(t, baseMapping)

	press(m, 1)
	release(m, 1)

	want := []string{"play"}
	if got := player.ops(); len(got) != 1 || got[0] != want[0] {
		t.Fatalf("got %v, want %v", got, want)
	}
}

func TestFSM_PlayCutStopsOnRelease(t *testing.T) {
	m, player, _ := newTestMapper(t, baseMapping)

	press(m, 2)
	release(m, 2)

	want := []string{"play", "stop"}
	got := player.ops()
	if len(got) != len(want) || got[0] != want[0] || got[1] != want[1] {
		t.Fatalf("got %v, want %v", got, want)
	}
}

func TestFSM_PlayLockReleasedEarlyStops(t *testing.T) {
	m, player, _ := newTestMapper(t, baseMapping)

	press(m, 3)
	release(m, 3) // released before long press: cut

	want := []string{"play", "stop"}
	got := player.ops()
	if len(got) != len(want) || got[1] != "stop" {
		t.Fatalf("got %v, want %v", got, want)
	}
}

func TestFSM_PlayLockLongPressSurvivesRelease(t *testing.T) {
	m, player, _ := newTestMapper(t, baseMapping)

	press(m, 3)
	longPress(m, 3)
	release(m, 3)

	// Only the play call: the locked clip keeps going.
	if got := player.ops(); len(got) != 1 || got[0] != "play" {
		t.Fatalf("got %v, want [play]", got)
	}
	if m.Snapshot().ButtonState != "initial" {
		t.Fatalf("expected FSM reset after release, got %s", m.Snapshot().ButtonState)
	}
}

func TestFSM_StopActionClearsActiveButton(t *testing.T) {
	m, player, _ := newTestMapper(t, baseMapping)

	press(m, 2) // play_cut, active
	press(m, 4) // stop mapping
	release(m, 2)

	// play, stop (action); the release finds no active button, no extra stop.
	want := []string{"play", "stop"}
	got := player.ops()
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
}

func TestFSM_OtherButtonReleaseIgnored(t *testing.T) {
	m, player, _ := newTestMapper(t, baseMapping)

	press(m, 2)   // play_cut active on 2
	release(m, 5) // unrelated release
	if got := player.ops(); len(got) != 1 || got[0] != "play" {
		t.Fatalf("got %v, want [play]", got)
	}
}

func TestSecondButtonOverwritesActiveSlot(t *testing.T) {
	m, player, _ := newTestMapper(t, baseMapping)

	press(m, 2) // play_cut active on 2
	press(m, 1) // play takes over the slot
	release(m, 2)

	// Releasing 2 is ignored: 1 owns the slot now.
	want := []string{"play", "play"}
	got := player.ops()
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
}

func TestValidateFile(t *testing.T) {
	dir := t.TempDir()
	good := filepath.Join(dir, "good.csv")
	if err := os.WriteFile(good, []byte(baseMapping), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := ValidateFile(good, dir, false); err != nil {
		t.Fatalf("expected valid file, got %v", err)
	}

	// With file checking, missing clips fail.
	if err := ValidateFile(good, dir, true); !errors.Is(err, apperr.ErrInvalidState) {
		t.Fatalf("expected ErrInvalidState for missing clips, got %v", err)
	}

	bad := filepath.Join(dir, "bad.csv")
	if err := os.WriteFile(bad, []byte("default,1,tapped,play,x.wav\n"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	err := ValidateFile(bad, dir, false)
	if !errors.Is(err, apperr.ErrInvalidState) {
		t.Fatalf("expected ErrInvalidState, got %v", err)
	}
	if !strings.Contains(err.Error(), "line 1") {
		t.Fatalf("expected line number, got %v", err)
	}

	empty := filepath.Join(dir, "empty.csv")
	if err := os.WriteFile(empty, []byte("# only comments\n\n"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := ValidateFile(empty, dir, false); !errors.Is(err, apperr.ErrNotFound) {
		t.Fatalf("expected ErrNotFound for empty file, got %v", err)
	}
}

func TestReleaseMappingNeverFires(t *testing.T) {
	// A release mapping parses fine but release events are consumed by the
	// active-button bookkeeping, so it never executes.
	m, player, _ := newTestMapper(t, "default,6,release,play,never.wav\ndefault,1,press,play,a.wav\n")

	release(m, 6)
	if len(player.calls) != 0 {
		t.Fatalf("expected release mapping not to fire, got %+v", player.calls)
	}
}
