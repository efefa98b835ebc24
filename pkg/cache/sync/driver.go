package sync

import (
	"context"
	"sync"
	"time"

	"github.com/satchel-edu/satchel/internal/logger"
	"github.com/satchel-edu/satchel/pkg/cache"
)

// defaultSweepInterval is how often the driver visits every owner.
const defaultSweepInterval = 5 * time.Minute

// Driver runs the periodic maintenance loop: it purges expired content for
// every known owner and, when a remote is reachable, drains each owner's
// sync queue.
//
// Lifecycle:
//   - Created via NewDriver with the cache service and the sync manager
//   - Started via Start, which spawns the background goroutine
//   - Stopped via Stop, which cancels the loop, runs one final sweep, and
//     waits for completion
type Driver struct {
	service       *cache.Service
	manager       *Manager
	sweepInterval time.Duration

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// DriverConfig configures the maintenance loop.
type DriverConfig struct {
	// SweepInterval is how often the driver visits every owner. Zero means
	// the default of five minutes.
	SweepInterval time.Duration
}

// NewDriver creates a driver. It does not start until Start is called.
func NewDriver(service *cache.Service, manager *Manager, cfg DriverConfig) *Driver {
	interval := cfg.SweepInterval
	if interval <= 0 {
		interval = defaultSweepInterval
	}
	return &Driver{
		service:       service,
		manager:       manager,
		sweepInterval: interval,
	}
}

// Start begins the background loop. Calling Start more than once without an
// intervening Stop leaks a goroutine.
func (d *Driver) Start(ctx context.Context) {
	d.ctx, d.cancel = context.WithCancel(ctx)

	logger.Info("sync driver started", "sweep_interval", d.sweepInterval)

	d.wg.Add(1)
	go d.run()
}

// Stop cancels the loop and blocks until the final sweep has finished. Safe
// to call multiple times.
func (d *Driver) Stop() {
	if d.cancel == nil {
		return
	}
	d.cancel()
	d.wg.Wait()
	logger.Info("sync driver stopped")
}

func (d *Driver) run() {
	defer d.wg.Done()

	ticker := time.NewTicker(d.sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-d.ctx.Done():
			// One last pass so queued work from the final interval is not
			// stranded until the next start.
			d.Sweep(context.Background())
			return
		case <-ticker.C:
			d.Sweep(d.ctx)
		}
	}
}

// Sweep visits every known owner once: expired content is purged and, when a
// remote is configured, the owner's queue is reconciled. Errors are logged
// and do not stop the sweep; the next interval retries.
func (d *Driver) Sweep(ctx context.Context) {
	owners, err := d.service.Owners(ctx)
	if err != nil {
		logger.Error("sweep failed to list owners", "error", err)
		return
	}

	for _, owner := range owners {
		purged, err := d.service.SweepExpired(ctx, owner)
		if err != nil {
			logger.Error("expiry sweep failed", "owner", owner, "error", err)
		} else if purged > 0 {
			logger.Info("expiry sweep purged content", "owner", owner, "count", purged)
		}

		if d.manager == nil {
			continue
		}
		result, err := d.manager.Reconcile(ctx, owner)
		if err != nil {
			logger.Error("reconcile failed", "owner", owner, "error", err)
			continue
		}
		if result.Completed > 0 || result.Failed > 0 || len(result.Conflicts) > 0 {
			logger.Info("reconciled owner queue",
				"owner", owner,
				"completed", result.Completed,
				"failed", result.Failed,
				"conflicts", len(result.Conflicts))
		}
	}
}
