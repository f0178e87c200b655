package fleet

import (
	"context"
	"time"

	"github.com/fbarre96/pollenisator/internal/entities"
	"github.com/fbarre96/pollenisator/pkg/models"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

var (
	workersActive = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "fleet_workers_active",
		Help: "Number of registered workers.",
	})
	workersReaped = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "fleet_workers_reaped_total",
		Help: "Workers removed after missing their heartbeat window.",
	})
)

func init() {
	prometheus.MustRegister(workersActive)
	prometheus.MustRegister(workersReaped)
}

// SocketDropper closes the live connection of a worker. Implemented by the
// websocket hub; nil when no hub is wired.
type SocketDropper interface {
	Drop(workerName string)
}

// sweeper removes workers that missed their heartbeat window and returns
// their running tools to the ready pool.
type sweeper struct {
	store    *FleetStore
	entities *entities.Service
	dropper  SocketDropper
	logger   *zap.Logger
	interval time.Duration
	now      func() time.Time

	stop chan struct{}
	done chan struct{}
}

func newSweeper(store *FleetStore, ent *entities.Service, logger *zap.Logger, interval time.Duration) *sweeper {
	return &sweeper{
		store:    store,
		entities: ent,
		logger:   logger,
		interval: interval,
		now:      time.Now,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
}

func (sw *sweeper) run() {
	defer close(sw.done)
	ticker := time.NewTicker(sw.interval)
	defer ticker.Stop()
	for {
		select {
		case <-sw.stop:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), sw.interval)
			if err := sw.sweep(ctx); err != nil {
				sw.logger.Warn("worker sweep failed", zap.Error(err))
			}
			cancel()
		}
	}
}

func (sw *sweeper) shutdown() {
	close(sw.stop)
	<-sw.done
}

// sweep reaps every worker whose heartbeat is older than the timeout.
func (sw *sweeper) sweep(ctx context.Context) error {
	cutoff := sw.now().Add(-models.HeartbeatTimeout)
	stale, err := sw.store.ListStaleWorkers(ctx, cutoff)
	if err != nil {
		return err
	}
	for i := range stale {
		if err := sw.reap(ctx, &stale[i]); err != nil {
			sw.logger.Warn("worker reap failed",
				zap.String("worker", stale[i].Name), zap.Error(err))
		}
	}
	if all, err := sw.store.ListWorkers(ctx); err == nil {
		workersActive.Set(float64(len(all)))
	}
	return nil
}

// reap resets the worker's running tools to ready and removes the
// registration.
func (sw *sweeper) reap(ctx context.Context, w *models.Worker) error {
	for _, rt := range w.RunningTools {
		if err := sw.resetTool(ctx, rt); err != nil {
			return err
		}
	}
	if err := sw.store.DeleteWorker(ctx, w.Name); err != nil {
		return err
	}
	if sw.dropper != nil {
		sw.dropper.Drop(w.Name)
	}
	workersReaped.Inc()
	sw.logger.Info("worker reaped",
		zap.String("worker", w.Name),
		zap.Int("tools_reset", len(w.RunningTools)),
	)
	return nil
}

// resetTool returns one orphaned tool to the ready pool so the scheduler can
// reassign it.
func (sw *sweeper) resetTool(ctx context.Context, rt models.RunningTool) error {
	tool, err := sw.entities.Store().GetTool(ctx, rt.Pentest, rt.ToolID)
	if err != nil {
		return err
	}
	if tool == nil || tool.Terminal() {
		return nil
	}
	tool.SetPrimaryStatus(models.StatusReady)
	tool.ScannerIP = ""
	tool.Dated = models.NoneDate
	tool.Datef = models.NoneDate
	return sw.entities.Store().UpdateTool(ctx, tool)
}
