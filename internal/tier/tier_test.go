package tier

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/matryer/is"

	"github.com/nupi-ai/plugin-stt-whisper-socket/internal/engine"
)

var testCatalog = []string{"tiny.en", "base.en", "medium.en", "large-v3"}

type fakeLoader struct {
	mu    sync.Mutex
	calls []engine.Spec
	fail  func(spec engine.Spec) error
}

func (f *fakeLoader) Load(ctx context.Context, spec engine.Spec) (engine.Engine, error) {
	f.mu.Lock()
	f.calls = append(f.calls, spec)
	f.mu.Unlock()
	if f.fail != nil {
		if err := f.fail(spec); err != nil {
			return nil, err
		}
	}
	return engine.NewStubEngine(discard(), spec), nil
}

func discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestAdvanceLadder(t *testing.T) {
	is := is.New(t)
	s := Snapshot{Tier: 2}
	var visited []int
	for {
		visited = append(visited, s.Rung)
		next, ok := advanceLadder(s, len(DefaultLadder))
		if !ok {
			break
		}
		is.Equal(next.Tier, s.Tier) // advancing the ladder keeps the tier
		s = next
	}
	is.Equal(visited, []int{0, 1, 2})
}

func TestDowngradeTier(t *testing.T) {
	is := is.New(t)
	next, err := downgradeTier(Snapshot{Tier: 2, Rung: 2})
	is.NoErr(err)
	is.Equal(next, Snapshot{Tier: 1, Rung: 0})
	_, err = downgradeTier(Snapshot{})
	is.True(errors.Is(err, ErrNoSmallerTier))
}

func TestNewControllerClampsTier(t *testing.T) {
	is := is.New(t)
	for _, tc := range []struct{ in, want int }{{-3, 0}, {1, 1}, {99, 3}} {
		c, err := NewController(testCatalog, DefaultLadder, &fakeLoader{}, tc.in, discard())
		is.NoErr(err)
		is.Equal(c.Snapshot().Tier, tc.want)
	}
}

func TestLoadActiveWalksLadder(t *testing.T) {
	is := is.New(t)
	loader := &fakeLoader{fail: func(spec engine.Spec) error {
		if spec.Device == engine.DeviceAccelerator {
			return engine.ErrResourceExhausted
		}
		return nil
	}}
	c, err := NewController(testCatalog, DefaultLadder, loader, 3, discard())
	is.NoErr(err)

	eng, snap, err := c.LoadActive(context.Background())
	is.NoErr(err)
	is.True(eng != nil)
	is.Equal(snap, Snapshot{Tier: 3, Rung: 2})
	is.Equal(len(loader.calls), 3)
	is.Equal(loader.calls[0], engine.Spec{Model: "large-v3", Device: engine.DeviceAccelerator, Precision: engine.PrecisionFloat16})
	is.Equal(loader.calls[2], engine.Spec{Model: "large-v3", Device: engine.DeviceCPU, Precision: engine.PrecisionInt8})
}

func TestLoadActiveAllRungsFail(t *testing.T) {
	is := is.New(t)
	boom := errors.New("bad model file")
	loader := &fakeLoader{fail: func(engine.Spec) error { return boom }}
	c, err := NewController(testCatalog, DefaultLadder, loader, 1, discard())
	is.NoErr(err)

	_, _, err = c.LoadActive(context.Background())
	var le *LoadError
	is.True(errors.As(err, &le))
	is.Equal(le.Tier, "base.en")
	is.Equal(len(le.Attempts), len(DefaultLadder))
	is.True(errors.Is(err, boom))  // LoadError wraps the rung errors
	is.Equal(c.Snapshot().Tier, 1) // a load failure keeps the tier
}

func TestLoadActiveCancelled(t *testing.T) {
	is := is.New(t)
	ctx, cancel := context.WithCancel(context.Background())
	loader := &fakeLoader{fail: func(engine.Spec) error {
		cancel()
		return context.Canceled
	}}
	c, err := NewController(testCatalog, DefaultLadder, loader, 0, discard())
	is.NoErr(err)
	_, _, err = c.LoadActive(ctx)
	is.True(errors.Is(err, context.Canceled))
	is.Equal(len(loader.calls), 1) // the walk stops at cancellation
}

// A single runtime exhaustion drops exactly one tier and the reload starts
// again from the highest precision rung.
func TestSingleExhaustionDowngradesOnce(t *testing.T) {
	is := is.New(t)
	loader := &fakeLoader{}
	c, err := NewController(testCatalog, DefaultLadder, loader, 3, discard())
	is.NoErr(err)

	eng, _, err := c.LoadActive(context.Background())
	is.NoErr(err)
	_ = eng.Close()

	before := c.Snapshot().Tier
	next, err := c.Downgrade()
	is.NoErr(err)
	is.Equal(next.Tier, before-1)
	is.Equal(c.Tier(), "medium.en")

	_, snap, err := c.LoadActive(context.Background())
	is.NoErr(err)
	is.Equal(snap, Snapshot{Tier: 2, Rung: 0})
	last := loader.calls[len(loader.calls)-1]
	is.Equal(last, engine.Spec{Model: "medium.en", Device: DefaultLadder[0].Device, Precision: DefaultLadder[0].Precision})
}

func TestDowngradeFloor(t *testing.T) {
	is := is.New(t)
	c, err := NewController(testCatalog, DefaultLadder, &fakeLoader{}, 1, discard())
	is.NoErr(err)
	_, err = c.Downgrade()
	is.NoErr(err)
	_, err = c.Downgrade()
	is.True(errors.Is(err, ErrNoSmallerTier))
	is.Equal(c.Snapshot().Tier, 0)
}

func TestSelect(t *testing.T) {
	is := is.New(t)
	idx, err := Select(testCatalog, " medium.en ")
	is.NoErr(err)
	is.Equal(idx, 2)
	_, err = Select(testCatalog, "huge")
	is.True(err != nil) // unknown model
}
