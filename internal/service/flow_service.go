package service

import (
	"context"
	"fmt"
	"log"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/robfig/cron/v3"

	"tabflow/internal/config"
	"tabflow/internal/dbclient"
	"tabflow/internal/domain"
	"tabflow/internal/etl"
	"tabflow/internal/etl/sources"
	"tabflow/internal/unpivot"
)

// ─────────────────────────────────────────────────────────────
// Flow Service — runs flows and keeps their history
// ─────────────────────────────────────────────────────────────

// FlowService runs flows through the engine and keeps their run history.
// Front ends (CLI, MCP) talk to it; events go out through the EventEmitter.
type FlowService struct {
	store       domain.RunLogStore
	emitter     EventEmitter
	engine      *etl.Engine
	runTimeout  time.Duration
	runningJobs runningJobsGuard

	// watcher / cron lifecycle
	mu          sync.Mutex
	watchCancel context.CancelFunc
	watcher     *fsnotify.Watcher
	cronSched   *cron.Cron
}

// NewFlowService creates a FlowService. store may be nil, in which case runs
// are not recorded. A zero runTimeout uses config.DefaultRunTimeout.
func NewFlowService(store domain.RunLogStore, emitter EventEmitter, runTimeout time.Duration) *FlowService {
	if runTimeout <= 0 {
		runTimeout = config.DefaultRunTimeout
	}
	if emitter == nil {
		emitter = LogEmitter{}
	}
	return &FlowService{
		store:      store,
		emitter:    emitter,
		engine:     &etl.Engine{},
		runTimeout: runTimeout,
	}
}

// ── Run ────────────────────────────────────────────────────

// RunFlow executes a flow synchronously. trigger names what started the run
// and is stored with the run log.
func (s *FlowService) RunFlow(ctx context.Context, f *config.Flow, trigger string) (*etl.SyncResult, error) {
	// Prevent concurrent execution of the same flow.
	id := f.ID()
	if !s.runningJobs.TryLock(id) {
		return nil, fmt.Errorf("flow %s is already running", f.Name)
	}
	defer s.runningJobs.Unlock(id)

	runCtx, cancel := context.WithTimeout(ctx, s.runTimeout)
	defer cancel()

	start := time.Now()
	result, runErr := s.run(runCtx, f)

	runLog := &domain.RunLog{
		RunID:       result.RunID,
		JobID:       id,
		JobName:     f.Name,
		Trigger:     trigger,
		StartedAt:   start,
		FinishedAt:  time.Now(),
		Status:      domain.RunStatus(result.Status),
		RowsRead:    result.RowsRead,
		RowsWritten: result.RowsWritten,
		Error:       result.Error,
	}
	if s.store != nil {
		if err := s.store.CreateRunLog(runLog); err != nil {
			log.Printf("flow %s: failed to record run: %v", f.Name, err)
		}
	}

	if runErr != nil {
		log.Printf("flow %s: run %s failed: %v", f.Name, result.RunID, runErr)
		s.emitter.Emit(ctx, "flow:failed", runLog)
		return result, runErr
	}
	log.Printf("flow %s: run %s wrote %d row(s) in %s", f.Name, result.RunID, result.RowsWritten, result.Duration.Round(time.Millisecond))
	s.emitter.Emit(ctx, "flow:completed", runLog)
	return result, nil
}

func (s *FlowService) run(ctx context.Context, f *config.Flow) (*etl.SyncResult, error) {
	job, err := f.Job()
	if err != nil {
		result := &etl.SyncResult{JobID: f.ID(), Status: "error", Error: fmt.Sprintf("config: %s", err)}
		return result, fmt.Errorf("config: %w", err)
	}
	return s.engine.Run(ctx, job)
}

// ── Describe ───────────────────────────────────────────────

// StepPlan is the unpivot plan one step resolved for one resource.
type StepPlan struct {
	Step     int                `json:"step"`
	Resource string             `json:"resource"`
	Plan     *unpivot.TablePlan `json:"plan"`
}

// Description is the processed shape of a flow without writing anything.
type Description struct {
	Flow    string       `json:"flow"`
	Preview *etl.Preview `json:"preview"`
	Plans   []StepPlan   `json:"plans"`
}

// Describe runs the processor chain and samples up to rows rows per resource.
// The sink is never opened.
func (s *FlowService) Describe(ctx context.Context, f *config.Flow, rows int) (*Description, error) {
	job, err := f.Job()
	if err != nil {
		return nil, err
	}

	out := &Description{Flow: f.Name}
	for i, step := range job.Steps {
		up, ok := step.(*unpivot.Processor)
		if !ok {
			continue
		}
		job.Steps[i] = etl.ProcessorFunc(func(ctx context.Context, pkg *etl.Package) (*etl.Package, error) {
			plans, err := up.Plans(pkg.Descriptor, false)
			if err != nil {
				return nil, err
			}
			for _, rd := range pkg.Descriptor.Resources {
				if plan, ok := plans[rd]; ok {
					out.Plans = append(out.Plans, StepPlan{Step: i, Resource: rd.Name, Plan: plan})
				}
			}
			return up.Process(ctx, pkg)
		})
	}

	previewCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	out.Preview, err = s.engine.Preview(previewCtx, job, rows)
	if err != nil {
		return nil, err
	}
	return out, nil
}

// History returns the newest runs of a flow, or of every flow when name is empty.
func (s *FlowService) History(name string, limit int) ([]domain.RunLog, error) {
	if s.store == nil {
		return nil, fmt.Errorf("run history is not configured")
	}
	return s.store.ListRunLogs(name, limit)
}

// ListSources returns the available source descriptors.
func (s *FlowService) ListSources() []etl.SourceSpec {
	return etl.ListSources()
}

// ListSinks returns the registered sink types.
func (s *FlowService) ListSinks() []string {
	return etl.ListDestinations()
}

// InspectDatabase lists the tables and columns behind a database URL, the
// ones a database source can read with its table option.
func (s *FlowService) InspectDatabase(ctx context.Context, url string) (*dbclient.SchemaInfo, error) {
	if url == "" {
		return nil, fmt.Errorf("database url is required")
	}
	log.Printf("flow service: inspecting database %s", dbclient.RedactURL(url))
	return sources.Inspect(ctx, url)
}

// ── Triggers (cron + file watch) ──────────────────────────

// StartTriggers tears down the current watcher/cron and schedules the given
// flows from their trigger blocks. Flows without a trigger are ignored.
func (s *FlowService) StartTriggers(ctx context.Context, flows ...*config.Flow) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopWatchers()

	// ── Cron jobs ──
	c := cron.New()
	scheduled := 0
	for _, f := range flows {
		if f.Trigger.Schedule == "" {
			continue
		}
		flow := f
		if _, err := c.AddFunc(f.Trigger.Schedule, func() {
			log.Printf("flow cron: running %s", flow.Name)
			s.RunFlow(ctx, flow, "schedule")
		}); err != nil {
			return fmt.Errorf("flow %s: invalid schedule %q: %w", f.Name, f.Trigger.Schedule, err)
		}
		scheduled++
	}
	if scheduled > 0 {
		c.Start()
		s.cronSched = c
		log.Printf("flow cron: scheduled %d flow(s)", scheduled)
	}

	// ── File watchers ──
	pathToFlow := make(map[string]*config.Flow)
	for _, f := range flows {
		for _, p := range f.WatchPaths() {
			pathToFlow[p] = f
		}
	}
	if len(pathToFlow) == 0 {
		return nil
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	s.watcher = watcher

	// Watch directories so editors that replace files are still seen.
	watchedDirs := make(map[string]bool)
	for p := range pathToFlow {
		dir := filepath.Dir(p)
		if watchedDirs[dir] {
			continue
		}
		if err := watcher.Add(dir); err != nil {
			log.Printf("flow watcher: failed to watch dir %q: %v", dir, err)
			continue
		}
		watchedDirs[dir] = true
	}

	watchCtx, cancel := context.WithCancel(ctx)
	s.watchCancel = cancel
	go s.watchLoop(watchCtx, watcher, pathToFlow)

	log.Printf("flow watcher: watching %d file(s)", len(pathToFlow))
	return nil
}

// watchLoop debounces bursts of writes so one save starts one run.
func (s *FlowService) watchLoop(ctx context.Context, watcher *fsnotify.Watcher, pathToFlow map[string]*config.Flow) {
	timers := make(map[string]*time.Timer)
	defer func() {
		for _, t := range timers {
			t.Stop()
		}
	}()
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}
			absPath, _ := filepath.Abs(event.Name)
			f, ok := pathToFlow[absPath]
			if !ok {
				continue
			}
			if t, exists := timers[absPath]; exists {
				t.Stop()
			}
			timers[absPath] = time.AfterFunc(500*time.Millisecond, func() {
				log.Printf("flow watcher: file changed %q, running %s", absPath, f.Name)
				s.RunFlow(ctx, f, "watch")
			})
		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			log.Printf("flow watcher: error: %v", err)
		}
	}
}

// WaitRunning blocks until all running flows finish or ctx is cancelled.
// Used for graceful shutdown.
func (s *FlowService) WaitRunning(ctx context.Context) {
	s.runningJobs.WaitAll(ctx)
}

// Stop tears down all watchers and schedulers.
func (s *FlowService) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopWatchers()
}

func (s *FlowService) stopWatchers() {
	if s.watchCancel != nil {
		s.watchCancel()
		s.watchCancel = nil
	}
	if s.watcher != nil {
		s.watcher.Close()
		s.watcher = nil
	}
	if s.cronSched != nil {
		s.cronSched.Stop()
		s.cronSched = nil
	}
}
