// Package interval runs the background ticker loops a live directory
// needs beyond request-driven writes: purging recycled and tombstoned
// entries once they cross their respective age horizons (§4.6, §6
// PURGE_FREQUENCY).
package interval

import (
	"sync"
	"time"

	"github.com/cuemby/warden/pkg/log"
	"github.com/rs/zerolog"
)

// QueryServer is the slice of pkg/server.QueryServer the purger needs.
// Declared here rather than imported directly so pkg/server need not
// depend back on pkg/interval.
type QueryServer interface {
	PurgeRecycled(now time.Time, maxAgeSecs int64) (int, error)
	PurgeTombstones(now time.Time, maxAgeSecs int64) (int, error)
}

// Config controls the purge cadence and the two age horizons from §6's
// option table.
type Config struct {
	PurgeFrequency    time.Duration
	RecycleBinMaxAge  int64 // seconds
	ChangelogMaxAge   int64 // seconds, tombstone horizon
}

// Purger ticks PurgeFrequency apart, running purge_recycled then
// purge_tombstones each cycle (recycled entries must age into tombstones
// before a tombstone purge would ever see them, so the order matters on
// the first cycle after a long pause).
type Purger struct {
	qs     QueryServer
	cfg    Config
	logger zerolog.Logger

	mu     sync.Mutex
	stopCh chan struct{}
	doneCh chan struct{}
}

// New returns a Purger that has not yet started.
func New(qs QueryServer, cfg Config) *Purger {
	return &Purger{
		qs:     qs,
		cfg:    cfg,
		logger: log.WithComponent("interval"),
	}
}

// Start begins the ticker loop in a background goroutine.
func (p *Purger) Start() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.stopCh != nil {
		return
	}
	p.stopCh = make(chan struct{})
	p.doneCh = make(chan struct{})
	go p.run()
}

// Stop signals the loop to exit and waits for it to finish its current
// cycle, if any.
func (p *Purger) Stop() {
	p.mu.Lock()
	stopCh := p.stopCh
	doneCh := p.doneCh
	p.stopCh = nil
	p.mu.Unlock()
	if stopCh == nil {
		return
	}
	close(stopCh)
	<-doneCh
}

func (p *Purger) run() {
	defer close(p.doneCh)

	ticker := time.NewTicker(p.cfg.PurgeFrequency)
	defer ticker.Stop()

	p.logger.Info().Dur("frequency", p.cfg.PurgeFrequency).Msg("purger started")

	for {
		select {
		case <-ticker.C:
			p.cycle()
		case <-p.stopCh:
			p.logger.Info().Msg("purger stopped")
			return
		}
	}
}

func (p *Purger) cycle() {
	now := time.Now()

	recycled, err := p.qs.PurgeRecycled(now, p.cfg.RecycleBinMaxAge)
	if err != nil {
		p.logger.Error().Err(err).Msg("purge_recycled cycle failed")
	} else if recycled > 0 {
		p.logger.Info().Int("count", recycled).Msg("recycled entries tombstoned")
	}

	tombstoned, err := p.qs.PurgeTombstones(now, p.cfg.ChangelogMaxAge)
	if err != nil {
		p.logger.Error().Err(err).Msg("purge_tombstones cycle failed")
	} else if tombstoned > 0 {
		p.logger.Info().Int("count", tombstoned).Msg("tombstones removed")
	}
}
