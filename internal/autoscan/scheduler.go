package autoscan

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/fbarre96/pollenisator/internal/entities"
	"github.com/fbarre96/pollenisator/internal/fleet"
	"github.com/fbarre96/pollenisator/internal/ws"
	"github.com/fbarre96/pollenisator/pkg/models"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

var (
	loopsActive = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "autoscan_loops_active",
		Help: "Number of engagements with a running autoscan loop.",
	})
	toolsLaunched = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "autoscan_tools_launched_total",
		Help: "Tools dispatched to workers by the scheduler.",
	})
)

func init() {
	prometheus.MustRegister(loopsActive)
	prometheus.MustRegister(toolsLaunched)
}

// Dispatcher pushes instructions to workers over their live connection.
// Implemented by the websocket hub; nil when no hub is wired.
type Dispatcher interface {
	SendToWorker(name string, msg ws.Message) bool
	WorkerConnected(name string) bool
}

// Launch outcomes, expressed as the HTTP status the manual launch endpoint
// reports for the same condition.
const (
	launchOK        = 200 // dispatchable, worker chosen
	launchForbidden = 403 // command not in the whitelist
	launchNoCommand = 404 // command record missing
	launchNoSocket  = 503 // chosen worker has no open push socket
	launchNoWorker  = 504 // no bound worker supports the command right now
)

// ErrNotRunnable carries a launch outcome for the manual launch endpoint.
type ErrNotRunnable struct {
	Code   int
	Reason string
}

func (e *ErrNotRunnable) Error() string {
	return fmt.Sprintf("not runnable (%d): %s", e.Code, e.Reason)
}

// Scheduler runs one cooperative loop per engagement with an autoscan
// record. The record's presence in the store is the sole run signal:
// removing it stops the loop on its next tick.
type Scheduler struct {
	store      *AutoscanStore
	ent        *entities.Service
	fleet      *fleet.FleetStore
	dispatcher Dispatcher
	logger     *zap.Logger
	tick       time.Duration
	now        func() time.Time

	mu    sync.Mutex
	loops map[string]*loopState
	wg    sync.WaitGroup
	stop  chan struct{}
}

type loopState struct {
	queue *Queue
}

// NewScheduler creates the scheduler.
func NewScheduler(store *AutoscanStore, ent *entities.Service, fl *fleet.FleetStore, logger *zap.Logger, tick time.Duration) *Scheduler {
	return &Scheduler{
		store:  store,
		ent:    ent,
		fleet:  fl,
		logger: logger,
		tick:   tick,
		now:    time.Now,
		loops:  make(map[string]*loopState),
		stop:   make(chan struct{}),
	}
}

// SetDispatcher wires the websocket hub. Called by the composition root.
func (s *Scheduler) SetDispatcher(d Dispatcher) {
	s.dispatcher = d
}

// Start creates the autoscan record and spawns the engagement loop. It
// requires at least one worker bound to the engagement and a non-empty
// command whitelist.
func (s *Scheduler) Start(ctx context.Context, pentest string, autoqueue bool, whitelist []string) error {
	if len(whitelist) == 0 {
		return fmt.Errorf("a command whitelist is required")
	}
	workers, err := s.fleet.ListWorkers(ctx)
	if err != nil {
		return err
	}
	bound := 0
	for i := range workers {
		if workers[i].Pentest == pentest {
			bound++
		}
	}
	if bound == 0 {
		return fmt.Errorf("no worker bound to engagement %q", pentest)
	}

	ok, err := s.store.StartAutoscan(ctx, &Autoscan{
		Pentest:   pentest,
		Autoqueue: autoqueue,
		Whitelist: whitelist,
		StartedAt: s.now(),
	})
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("autoscan already running for %q", pentest)
	}
	s.spawn(pentest)
	return nil
}

// Stop removes the autoscan record, sends stopCommand to the workers of
// every in-flight tool and resets those tools to ready.
func (s *Scheduler) Stop(ctx context.Context, pentest string) error {
	ok, err := s.store.StopAutoscan(ctx, pentest)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("no autoscan running for %q", pentest)
	}
	if err := s.store.ClearQueue(ctx, pentest); err != nil {
		return err
	}
	if q, err := s.queueFor(pentest); err == nil {
		q.Clear()
	}

	tools, err := s.ent.Store().ListTools(ctx, pentest, entities.ToolFilter{})
	if err != nil {
		return err
	}
	for i := range tools {
		tool := &tools[i]
		if tool.PrimaryStatus() != models.StatusRunning {
			continue
		}
		if s.dispatcher != nil && tool.ScannerIP != "" {
			s.dispatcher.SendToWorker(tool.ScannerIP, ws.Message{
				Type:      ws.MessageStopCommand,
				Pentest:   pentest,
				Timestamp: s.now(),
				Data:      ws.StopCommandData{ToolIID: tool.ID},
			})
		}
		tool.SetPrimaryStatus(models.StatusReady)
		tool.ScannerIP = ""
		tool.Dated = models.NoneDate
		tool.Datef = models.NoneDate
		if err := s.ent.Store().UpdateTool(ctx, tool); err != nil {
			s.logger.Warn("tool reset on stop failed",
				zap.String("tool", tool.ID), zap.Error(err))
		}
	}
	return nil
}

// Status reports the autoscan state for one engagement.
type Status struct {
	Running   bool      `json:"running"`
	Autoqueue bool      `json:"autoqueue,omitempty"`
	StartedAt time.Time `json:"started_at,omitempty"`
	Queue     []Entry   `json:"queue,omitempty"`
}

// Status returns the engagement's autoscan state.
func (s *Scheduler) Status(ctx context.Context, pentest string) (Status, error) {
	a, err := s.store.GetAutoscan(ctx, pentest)
	if err != nil {
		return Status{}, err
	}
	if a == nil {
		return Status{Running: false}, nil
	}
	st := Status{Running: true, Autoqueue: a.Autoqueue, StartedAt: a.StartedAt}
	s.mu.Lock()
	if ls, ok := s.loops[pentest]; ok {
		st.Queue = ls.queue.Items()
	}
	s.mu.Unlock()
	return st, nil
}

// Resume spawns loops for autoscan records that survived a restart.
func (s *Scheduler) Resume(ctx context.Context) error {
	pentests, err := s.store.ListRunning(ctx)
	if err != nil {
		return err
	}
	for _, pentest := range pentests {
		s.spawn(pentest)
	}
	return nil
}

// Shutdown stops every loop without removing the autoscan records, so they
// resume on the next start.
func (s *Scheduler) Shutdown() {
	close(s.stop)
	s.wg.Wait()
}

func (s *Scheduler) spawn(pentest string) {
	s.mu.Lock()
	if _, exists := s.loops[pentest]; exists {
		s.mu.Unlock()
		return
	}
	ls := &loopState{queue: NewQueue()}
	s.loops[pentest] = ls
	s.mu.Unlock()

	// Reload the queue persisted by the previous run, so pending work
	// survives a restart.
	ctx, cancel := context.WithTimeout(context.Background(), s.tick)
	entries, err := s.store.ListQueue(ctx, pentest)
	cancel()
	if err != nil {
		s.logger.Warn("persisted queue not restored",
			zap.String("pentest", pentest), zap.Error(err))
	}
	for _, e := range entries {
		ls.queue.Enqueue(e.ToolID, e.Priority)
	}

	loopsActive.Inc()
	s.wg.Add(1)
	go s.run(pentest, ls)
	s.logger.Info("autoscan loop started", zap.String("pentest", pentest))
}

func (s *Scheduler) run(pentest string, ls *loopState) {
	defer func() {
		s.mu.Lock()
		delete(s.loops, pentest)
		s.mu.Unlock()
		loopsActive.Dec()
		s.wg.Done()
		s.logger.Info("autoscan loop stopped", zap.String("pentest", pentest))
	}()

	ticker := time.NewTicker(s.tick)
	defer ticker.Stop()
	for {
		select {
		case <-s.stop:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), s.tick)
			alive, err := s.tickOnce(ctx, pentest, ls.queue)
			cancel()
			if err != nil {
				s.logger.Warn("autoscan tick failed",
					zap.String("pentest", pentest), zap.Error(err))
				continue
			}
			if !alive {
				return
			}
		}
	}
}

// tickOnce runs one loop iteration. Returns false when the autoscan record
// is gone and the loop must exit.
func (s *Scheduler) tickOnce(ctx context.Context, pentest string, q *Queue) (bool, error) {
	a, err := s.store.GetAutoscan(ctx, pentest)
	if err != nil {
		return true, err
	}
	if a == nil {
		return false, nil
	}

	settings, err := s.ent.Store().GetSettings(ctx, pentest)
	if err != nil {
		return true, err
	}
	running, err := s.countRunning(ctx, pentest)
	if err != nil {
		return true, err
	}
	capacity := settings.AutoscanThreads - running
	if capacity <= 0 {
		return true, nil
	}

	if a.Autoqueue {
		candidates, err := s.FindLaunchableTools(ctx, pentest)
		if err != nil {
			return true, err
		}
		for _, c := range candidates {
			s.enqueue(ctx, pentest, q, c.ToolID, c.Priority)
		}
	}

	whitelist := make(map[string]bool, len(a.Whitelist))
	for _, id := range a.Whitelist {
		whitelist[id] = true
	}

	type launch struct {
		tool   *models.Tool
		cmd    *models.Command
		worker string
	}
	var launches []launch

drain:
	for capacity > 0 {
		entry, ok := q.Peek()
		if !ok {
			break
		}
		tool, err := s.ent.Store().GetTool(ctx, pentest, entry.ToolID)
		if err != nil {
			return true, err
		}
		if tool == nil || tool.Terminal() || tool.PrimaryStatus() == models.StatusRunning {
			s.dequeue(ctx, pentest, q, entry.ToolID)
			continue
		}

		code, worker, cmd := s.isLaunchable(ctx, pentest, tool, whitelist, false)
		switch code {
		case launchNoCommand:
			s.dequeue(ctx, pentest, q, entry.ToolID)
			tool.SetPrimaryStatus(models.StatusError)
			tool.Notes = "command record missing"
			tool.Datef = s.now().Format(models.ToolDateLayout)
			if err := s.ent.Store().UpdateTool(ctx, tool); err != nil {
				s.logger.Warn("tool error transition failed", zap.Error(err))
			}
		case launchForbidden:
			s.dequeue(ctx, pentest, q, entry.ToolID)
			s.logger.Debug("tool skipped, command not whitelisted",
				zap.String("tool", tool.ID))
		case launchNoWorker, launchNoSocket:
			// No executor right now. Keep the queue and retry next tick.
			break drain
		case launchOK:
			s.dequeue(ctx, pentest, q, entry.ToolID)
			launches = append(launches, launch{tool: tool, cmd: cmd, worker: worker})
			capacity--
		}
	}

	for _, l := range launches {
		s.dispatch(ctx, pentest, l.tool, l.cmd, l.worker)
	}
	return true, nil
}

// enqueue adds a queue entry and persists it. The in-memory queue is
// authoritative for ordering; the table only has to bring the entries back
// after a restart.
func (s *Scheduler) enqueue(ctx context.Context, pentest string, q *Queue, toolID string, priority int) {
	if !q.Enqueue(toolID, priority) {
		return
	}
	if err := s.store.SaveQueueEntry(ctx, pentest, toolID, priority); err != nil {
		s.logger.Warn("queue entry not persisted",
			zap.String("tool", toolID), zap.Error(err))
	}
}

// dequeue removes a queue entry and its persisted row.
func (s *Scheduler) dequeue(ctx context.Context, pentest string, q *Queue, toolID string) {
	q.Remove(toolID)
	if err := s.store.DeleteQueueEntry(ctx, pentest, toolID); err != nil {
		s.logger.Warn("queue entry not unpersisted",
			zap.String("tool", toolID), zap.Error(err))
	}
}

// isLaunchable applies the ordered launch checks and picks a worker.
func (s *Scheduler) isLaunchable(ctx context.Context, pentest string, tool *models.Tool, whitelist map[string]bool, force bool) (int, string, *models.Command) {
	if tool.CommandID == "" {
		return launchNoCommand, "", nil
	}
	cmd, err := s.ent.Store().GetCommand(ctx, tool.CommandID)
	if err != nil || cmd == nil {
		return launchNoCommand, "", nil
	}
	if !force && !whitelist[cmd.ID] && (cmd.Original == "" || !whitelist[cmd.Original]) {
		return launchForbidden, "", nil
	}

	workers, err := s.fleet.ListWorkers(ctx)
	if err != nil {
		return launchNoWorker, "", nil
	}
	chosen := ""
	for i := range workers {
		w := &workers[i]
		if w.Pentest != pentest {
			continue
		}
		if cmd.Plugin != "" && cmd.Plugin != "auto-detect" && !w.Supports(cmd.Plugin) {
			continue
		}
		if w.RunningCount(pentest) <= models.MaxToolsPerWorker {
			chosen = w.Name
			break
		}
	}
	if chosen == "" {
		return launchNoWorker, "", nil
	}
	if s.dispatcher == nil || !s.dispatcher.WorkerConnected(chosen) {
		return launchNoSocket, "", nil
	}
	return launchOK, chosen, cmd
}

// dispatch emits the executeCommand event and marks the tool as assigned so
// the next tick does not re-queue it. The worker's running status event
// completes the transition.
func (s *Scheduler) dispatch(ctx context.Context, pentest string, tool *models.Tool, cmd *models.Command, worker string) {
	sent := s.dispatcher.SendToWorker(worker, ws.Message{
		Type:      ws.MessageExecuteCommand,
		Pentest:   pentest,
		Timestamp: s.now(),
		Data: ws.ExecuteCommandData{
			ToolIID: tool.ID,
			Text:    tool.Text,
			Timeout: cmd.Timeout,
			Plugin:  cmd.Plugin,
		},
	})
	if !sent {
		s.logger.Warn("executeCommand not delivered",
			zap.String("tool", tool.ID), zap.String("worker", worker))
		return
	}
	tool.ScannerIP = worker
	tool.Dated = s.now().Format(models.ToolDateLayout)
	if err := s.ent.Store().UpdateTool(ctx, tool); err != nil {
		s.logger.Warn("tool assignment not recorded",
			zap.String("tool", tool.ID), zap.Error(err))
		return
	}
	toolsLaunched.Inc()
	s.logger.Info("tool dispatched",
		zap.String("pentest", pentest),
		zap.String("tool", tool.ID),
		zap.String("worker", worker),
	)
}

// LaunchTool is the manual launch path. force bypasses the whitelist.
func (s *Scheduler) LaunchTool(ctx context.Context, pentest, toolID string, force bool) error {
	tool, err := s.ent.Store().GetTool(ctx, pentest, toolID)
	if err != nil {
		return err
	}
	if tool == nil {
		return &ErrNotRunnable{Code: launchNoCommand, Reason: "tool not found"}
	}

	whitelist := map[string]bool{}
	if a, err := s.store.GetAutoscan(ctx, pentest); err == nil && a != nil {
		for _, id := range a.Whitelist {
			whitelist[id] = true
		}
	}
	code, worker, cmd := s.isLaunchable(ctx, pentest, tool, whitelist, force)
	switch code {
	case launchOK:
		s.dispatch(ctx, pentest, tool, cmd, worker)
		return nil
	case launchNoCommand:
		return &ErrNotRunnable{Code: code, Reason: "command record missing"}
	case launchForbidden:
		return &ErrNotRunnable{Code: code, Reason: "command not in whitelist"}
	case launchNoSocket:
		return &ErrNotRunnable{Code: code, Reason: "worker has no open socket"}
	default:
		return &ErrNotRunnable{Code: launchNoWorker, Reason: "no worker available"}
	}
}

// StopTool sends stopCommand for one running tool.
func (s *Scheduler) StopTool(ctx context.Context, pentest, toolID string) error {
	tool, err := s.ent.Store().GetTool(ctx, pentest, toolID)
	if err != nil {
		return err
	}
	if tool == nil {
		return &ErrNotRunnable{Code: launchNoCommand, Reason: "tool not found"}
	}
	if tool.PrimaryStatus() != models.StatusRunning || tool.ScannerIP == "" {
		return &ErrNotRunnable{Code: launchForbidden, Reason: "tool is not running"}
	}
	if s.dispatcher == nil || !s.dispatcher.SendToWorker(tool.ScannerIP, ws.Message{
		Type:      ws.MessageStopCommand,
		Pentest:   pentest,
		Timestamp: s.now(),
		Data:      ws.StopCommandData{ToolIID: toolID},
	}) {
		return &ErrNotRunnable{Code: launchNoSocket, Reason: "worker has no open socket"}
	}
	return nil
}

// QueueTools enqueues tools by hand, with the priority of their check item.
// The engagement must have a running autoscan loop.
func (s *Scheduler) QueueTools(ctx context.Context, pentest string, toolIDs []string) error {
	q, err := s.queueFor(pentest)
	if err != nil {
		return err
	}
	for _, id := range toolIDs {
		tool, err := s.ent.Store().GetTool(ctx, pentest, id)
		if err != nil {
			return err
		}
		if tool == nil {
			return &ErrNotRunnable{Code: launchNoCommand, Reason: fmt.Sprintf("tool %s not found", id)}
		}
		prio := 0
		if ci, err := s.ent.Store().GetCheckInstance(ctx, pentest, tool.CheckIID); err == nil && ci != nil {
			if item, err := s.ent.Store().GetCheckItem(ctx, ci.CheckIID); err == nil && item != nil {
				prio = item.Priority
			}
		}
		s.enqueue(ctx, pentest, q, id, prio)
	}
	return nil
}

// UnqueueTools removes queue entries by tool id.
func (s *Scheduler) UnqueueTools(ctx context.Context, pentest string, toolIDs []string) error {
	q, err := s.queueFor(pentest)
	if err != nil {
		return err
	}
	for _, id := range toolIDs {
		s.dequeue(ctx, pentest, q, id)
	}
	return nil
}

// ClearQueue empties the engagement's queue.
func (s *Scheduler) ClearQueue(ctx context.Context, pentest string) error {
	q, err := s.queueFor(pentest)
	if err != nil {
		return err
	}
	q.Clear()
	return s.store.ClearQueue(ctx, pentest)
}

func (s *Scheduler) queueFor(pentest string) (*Queue, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ls, ok := s.loops[pentest]
	if !ok {
		return nil, fmt.Errorf("no autoscan running for %q", pentest)
	}
	return ls.queue, nil
}

// Candidate is a launchable tool decorated with its check-item priority.
type Candidate struct {
	ToolID   string
	Priority int
	TimedOut bool
}

// FindLaunchableTools selects the tools that may run now: their wave is
// inside an interval, their check-instance is not done, they have not
// started, and their host (if any) is in scope. Timed-out retries sort
// last, then ascending priority.
func (s *Scheduler) FindLaunchableTools(ctx context.Context, pentest string) ([]Candidate, error) {
	now := s.now()
	waves, err := s.ent.Store().ListWaves(ctx, pentest)
	if err != nil {
		return nil, err
	}
	waveInTime := make(map[string]bool, len(waves))
	for i := range waves {
		ok, err := s.ent.WaveInTime(ctx, pentest, waves[i].Name, now)
		if err != nil {
			return nil, err
		}
		waveInTime[waves[i].Name] = ok
	}

	instances, err := s.ent.Store().ListCheckInstances(ctx, pentest, "", "")
	if err != nil {
		return nil, err
	}
	priorities := make(map[string]int)

	var out []Candidate
	for i := range instances {
		ci := &instances[i]
		if ci.Status == "done" {
			continue
		}
		prio, ok := priorities[ci.CheckIID]
		if !ok {
			item, err := s.ent.Store().GetCheckItem(ctx, ci.CheckIID)
			if err != nil {
				return nil, err
			}
			if item != nil {
				prio = item.Priority
			}
			priorities[ci.CheckIID] = prio
		}

		tools, err := s.ent.Store().ListToolsByCheckInstance(ctx, pentest, ci.ID)
		if err != nil {
			return nil, err
		}
		for j := range tools {
			tool := &tools[j]
			if tool.Dated != models.NoneDate || tool.Datef != models.NoneDate {
				continue
			}
			if !waveInTime[tool.Wave] {
				continue
			}
			if tool.IP != "" {
				host, err := s.ent.Store().GetHostByIP(ctx, pentest, tool.IP)
				if err != nil {
					return nil, err
				}
				if host == nil || !host.InScope() {
					continue
				}
			}
			out = append(out, Candidate{
				ToolID:   tool.ID,
				Priority: prio,
				TimedOut: tool.HasStatus(models.StatusTimedOut),
			})
		}
	}

	sort.SliceStable(out, func(i, j int) bool {
		if out[i].TimedOut != out[j].TimedOut {
			return !out[i].TimedOut
		}
		return out[i].Priority < out[j].Priority
	})
	return out, nil
}

func (s *Scheduler) countRunning(ctx context.Context, pentest string) (int, error) {
	tools, err := s.ent.Store().ListTools(ctx, pentest, entities.ToolFilter{})
	if err != nil {
		return 0, err
	}
	n := 0
	for i := range tools {
		if tools[i].PrimaryStatus() == models.StatusRunning {
			n++
		}
	}
	return n, nil
}
