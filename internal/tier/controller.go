package tier

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"

	"github.com/nupi-ai/plugin-stt-whisper-socket/internal/engine"
)

// Controller tracks the active tier and loads engines for it.
type Controller struct {
	catalog []string
	ladder  []Rung
	loader  engine.Loader
	log     *slog.Logger
	state   atomic.Pointer[Snapshot]
}

// NewController starts at initialTier, clamped to the catalog bounds.
func NewController(catalog []string, ladder []Rung, loader engine.Loader, initialTier int, logger *slog.Logger) (*Controller, error) {
	if len(catalog) == 0 {
		return nil, errors.New("tier: catalog is empty")
	}
	if len(ladder) == 0 {
		return nil, errors.New("tier: ladder is empty")
	}
	if loader == nil {
		return nil, errors.New("tier: loader is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	initialTier = max(0, min(initialTier, len(catalog)-1))

	c := &Controller{
		catalog: append([]string(nil), catalog...),
		ladder:  append([]Rung(nil), ladder...),
		loader:  loader,
		log:     logger.With("component", "tier.Controller"),
	}
	c.state.Store(&Snapshot{Tier: initialTier})
	return c, nil
}

// Snapshot returns the current position.
func (c *Controller) Snapshot() Snapshot {
	return *c.state.Load()
}

// Tier returns the identifier of the active tier.
func (c *Controller) Tier() string {
	return c.catalog[c.Snapshot().Tier]
}

// Catalog returns a copy of the tier identifiers, smallest first.
func (c *Controller) Catalog() []string {
	return append([]string(nil), c.catalog...)
}

// LoadActive walks the ladder from its first rung for the active tier and
// returns the first engine that loads. Any failure on a rung moves on to the
// next one; when none is left a *LoadError is returned. Context cancellation
// aborts the walk immediately.
func (c *Controller) LoadActive(ctx context.Context) (engine.Engine, Snapshot, error) {
	s := Snapshot{Tier: c.Snapshot().Tier}
	name := c.catalog[s.Tier]
	var attempts []Attempt

	for {
		c.state.Store(&s)
		rung := c.ladder[s.Rung]
		log := c.log.With("tier", name, "device", string(rung.Device), "precision", string(rung.Precision))
		log.Info("loading model")

		eng, err := c.loader.Load(ctx, engine.Spec{Model: name, Device: rung.Device, Precision: rung.Precision})
		if err == nil {
			log.Info("model loaded")
			return eng, s, nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, s, ctxErr
		}
		attempts = append(attempts, Attempt{Rung: rung, Err: err})
		if errors.Is(err, engine.ErrResourceExhausted) {
			log.Warn("insufficient resources for rung", "error", err)
		} else {
			log.Error("model load failed", "error", err)
		}

		next, ok := advanceLadder(s, len(c.ladder))
		if !ok {
			return nil, s, &LoadError{Tier: name, Attempts: attempts}
		}
		s = next
	}
}

// Downgrade moves to the next smaller tier. The tier index never increases.
func (c *Controller) Downgrade() (Snapshot, error) {
	for {
		cur := c.state.Load()
		next, err := downgradeTier(*cur)
		if err != nil {
			c.log.Error("no smaller tier available", "tier", c.catalog[cur.Tier])
			return *cur, err
		}
		if c.state.CompareAndSwap(cur, &next) {
			c.log.Warn("downgrading model tier", "from", c.catalog[cur.Tier], "to", c.catalog[next.Tier])
			return next, nil
		}
	}
}

// String implements fmt.Stringer for log attributes.
func (c *Controller) String() string {
	s := c.Snapshot()
	return fmt.Sprintf("%s@%s", c.catalog[s.Tier], c.ladder[s.Rung])
}
