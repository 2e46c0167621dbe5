// Package tier owns the active model configuration and the fallback policy
// applied when the inference backend runs out of capacity.
//
// Two levels of fallback exist. Within a tier, loading walks a fixed ladder of
// device/precision rungs. Across tiers, a runtime exhaustion moves to the next
// smaller model and restarts the ladder from its first rung.
package tier

import (
	"errors"
	"fmt"
	"strings"

	"github.com/nupi-ai/plugin-stt-whisper-socket/internal/engine"
)

// ErrNoSmallerTier is returned by Downgrade when the smallest tier is active.
var ErrNoSmallerTier = errors.New("tier: no smaller tier available")

// Rung is one device/precision combination tried while loading a tier.
type Rung struct {
	Device    engine.Device
	Precision engine.Precision
}

func (r Rung) String() string {
	return string(r.Device) + "/" + string(r.Precision)
}

// DefaultLadder tries the accelerator at full then reduced precision before
// falling back to the CPU.
var DefaultLadder = []Rung{
	{Device: engine.DeviceAccelerator, Precision: engine.PrecisionFloat16},
	{Device: engine.DeviceAccelerator, Precision: engine.PrecisionInt8},
	{Device: engine.DeviceCPU, Precision: engine.PrecisionInt8},
}

// Snapshot is an immutable view of the controller position.
type Snapshot struct {
	Tier int
	Rung int
}

// Attempt records one failed rung while loading a tier.
type Attempt struct {
	Rung Rung
	Err  error
}

// LoadError reports that every rung of a tier failed to load.
type LoadError struct {
	Tier     string
	Attempts []Attempt
}

func (e *LoadError) Error() string {
	parts := make([]string, 0, len(e.Attempts))
	for _, a := range e.Attempts {
		parts = append(parts, fmt.Sprintf("%s: %v", a.Rung, a.Err))
	}
	return fmt.Sprintf("tier: unable to load %s (%s)", e.Tier, strings.Join(parts, "; "))
}

// Unwrap exposes the per-rung errors to errors.Is and errors.As.
func (e *LoadError) Unwrap() []error {
	errs := make([]error, 0, len(e.Attempts))
	for _, a := range e.Attempts {
		errs = append(errs, a.Err)
	}
	return errs
}

// advanceLadder moves to the next rung of the current tier. ok is false when
// the ladder is exhausted.
func advanceLadder(s Snapshot, ladderLen int) (next Snapshot, ok bool) {
	if s.Rung+1 >= ladderLen {
		return s, false
	}
	return Snapshot{Tier: s.Tier, Rung: s.Rung + 1}, true
}

// downgradeTier moves to the next smaller tier and resets the ladder.
func downgradeTier(s Snapshot) (Snapshot, error) {
	if s.Tier <= 0 {
		return s, ErrNoSmallerTier
	}
	return Snapshot{Tier: s.Tier - 1, Rung: 0}, nil
}

// Select returns the catalog index of name.
func Select(catalog []string, name string) (int, error) {
	name = strings.TrimSpace(name)
	for i, candidate := range catalog {
		if candidate == name {
			return i, nil
		}
	}
	return 0, fmt.Errorf("tier: unknown model %q (available: %s)", name, strings.Join(catalog, ", "))
}
