package syncer

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/MarcoPoloResearchLab/notesync/internal/syncstate"
	"go.uber.org/zap"
)

// Direction selects which way records flow.
type Direction string

const (
	DirectionForward Direction = "forward"
	DirectionReverse Direction = "reverse"
	DirectionBoth    Direction = "both"
)

// ParseDirection validates a direction name. Empty means forward.
func ParseDirection(value string) (Direction, error) {
	switch Direction(strings.ToLower(strings.TrimSpace(value))) {
	case "", DirectionForward:
		return DirectionForward, nil
	case DirectionReverse:
		return DirectionReverse, nil
	case DirectionBoth:
		return DirectionBoth, nil
	default:
		return "", fmt.Errorf("%w: %q", errUnknownDirection, value)
	}
}

// Mode records whether a run honored the cursors.
type Mode string

const (
	ModeFull        Mode = "full"
	ModeIncremental Mode = "incremental"
)

// DefaultWatchInterval separates watch-mode runs when none is configured.
const DefaultWatchInterval = 30 * time.Second

// Request describes one sync run.
type Request struct {
	Full      bool      `json:"full"`
	Direction Direction `json:"direction"`
}

// RunReport summarizes a finished run. Entities is keyed "<direction>.<entity>".
type RunReport struct {
	Direction  Direction        `json:"direction"`
	Mode       Mode             `json:"mode"`
	DryRun     bool             `json:"dryRun"`
	StartedAt  time.Time        `json:"startedAt"`
	FinishedAt time.Time        `json:"finishedAt,omitempty"`
	Entities   map[string]Stats `json:"entities"`
	Error      string           `json:"error,omitempty"`
}

// Totals sums the stats of every entity in the report.
func (r RunReport) Totals() Stats {
	var total Stats
	for _, stats := range r.Entities {
		total.Add(stats)
	}
	return total
}

// EntityKey builds the RunReport.Entities key.
func EntityKey(direction Direction, entity syncstate.Entity) string {
	return string(direction) + "." + string(entity)
}

const (
	EventRunStarted  = "run.started"
	EventRunFinished = "run.finished"
)

// RunEvent announces a run transition to observers.
type RunEvent struct {
	Type   string    `json:"type"`
	Report RunReport `json:"report"`
}

// Observer receives run events. Implementations must not block.
type Observer interface {
	Observe(event RunEvent)
}

// Executor syncs notes then comments in one direction.
type Executor interface {
	Direction() Direction
	Preflight() error
	SyncNotes(ctx context.Context, full bool) (Stats, error)
	SyncComments(ctx context.Context, full bool) (Stats, error)
}

// TableEnsurer creates the auxiliary sync tables when missing.
type TableEnsurer func(ctx context.Context) error

// OrchestratorConfig describes the dependencies of an Orchestrator.
type OrchestratorConfig struct {
	EnsureTables TableEnsurer
	Forward      Executor
	Reverse      Executor
	Gate         Gate
	Observers    []Observer
	Clock        func() time.Time
	Logger       *zap.Logger
}

// Orchestrator sequences executors, records reports, and drives watch mode.
// At most one run is active at a time.
type Orchestrator struct {
	ensureTables TableEnsurer
	forward      Executor
	reverse      Executor
	gate         Gate
	observers    []Observer
	clock        func() time.Time
	logger       *zap.Logger

	running    atomic.Bool
	mu         sync.RWMutex
	lastReport *RunReport
}

// NewOrchestrator validates dependencies and returns an Orchestrator.
func NewOrchestrator(cfg OrchestratorConfig) (*Orchestrator, error) {
	if cfg.Forward == nil && cfg.Reverse == nil {
		return nil, newServiceError(opOrchestratorNew, reasonMissingDependency, errMissingExecutor)
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}
	return &Orchestrator{
		ensureTables: cfg.EnsureTables,
		forward:      cfg.Forward,
		reverse:      cfg.Reverse,
		gate:         cfg.Gate,
		observers:    cfg.Observers,
		clock:        clock,
		logger:       logger,
	}, nil
}

// Running reports whether a run is in flight.
func (o *Orchestrator) Running() bool {
	return o.running.Load()
}

// LastReport returns the most recently finished run, if any.
func (o *Orchestrator) LastReport() (RunReport, bool) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	if o.lastReport == nil {
		return RunReport{}, false
	}
	return *o.lastReport, true
}

// Run performs one sync run. It returns ErrRunInProgress without doing
// anything when another run is active.
func (o *Orchestrator) Run(ctx context.Context, request Request) (RunReport, error) {
	if !o.running.CompareAndSwap(false, true) {
		return RunReport{}, ErrRunInProgress
	}
	defer o.running.Store(false)

	if request.Direction == "" {
		request.Direction = DirectionForward
	}
	mode := ModeIncremental
	if request.Full {
		mode = ModeFull
	}
	report := RunReport{
		Direction: request.Direction,
		Mode:      mode,
		DryRun:    o.gate.DryRun(),
		StartedAt: o.clock().UTC(),
		Entities:  make(map[string]Stats),
	}
	started := report
	started.Entities = map[string]Stats{}
	o.notify(RunEvent{Type: EventRunStarted, Report: started})
	o.logger.Info("sync run started",
		zap.String(logFieldDirection, string(report.Direction)),
		zap.String("mode", string(report.Mode)),
		zap.Bool("dry_run", report.DryRun),
	)

	err := o.execute(ctx, request, &report)
	report.FinishedAt = o.clock().UTC()
	if err != nil {
		report.Error = err.Error()
		logError(o.logger, opRun, "run_failed", err, zap.String(logFieldDirection, string(report.Direction)))
	}

	o.mu.Lock()
	stored := report
	o.lastReport = &stored
	o.mu.Unlock()

	o.notify(RunEvent{Type: EventRunFinished, Report: report})
	o.logSummary(report)
	return report, err
}

func (o *Orchestrator) execute(ctx context.Context, request Request, report *RunReport) error {
	executors, err := o.executorsFor(request.Direction)
	if err != nil {
		return err
	}
	if o.ensureTables != nil {
		if err := o.ensureTables(ctx); err != nil {
			return newServiceError(opRun, reasonEnsureTables, err)
		}
	}
	o.logger.Debug("users are maintained by the identity sync; relying on existing rows")

	for _, executor := range executors {
		direction := executor.Direction()
		if err := executor.Preflight(); err != nil {
			return newServiceError(opRun, reasonPreflight, fmt.Errorf("%s: %w", direction, err))
		}

		noteStats, err := executor.SyncNotes(ctx, request.Full)
		report.Entities[EntityKey(direction, syncstate.EntityNote)] = noteStats
		if err != nil {
			return err
		}

		commentStats, err := executor.SyncComments(ctx, request.Full)
		report.Entities[EntityKey(direction, syncstate.EntityComment)] = commentStats
		if err != nil {
			return err
		}
	}
	return nil
}

// executorsFor orders executors so a "both" run imports before it exports.
func (o *Orchestrator) executorsFor(direction Direction) ([]Executor, error) {
	var selected []Executor
	switch direction {
	case DirectionForward:
		selected = []Executor{o.forward}
	case DirectionReverse:
		selected = []Executor{o.reverse}
	case DirectionBoth:
		selected = []Executor{o.forward, o.reverse}
	default:
		return nil, newServiceError(opRun, reasonUnknownDirection, fmt.Errorf("%w: %q", errUnknownDirection, direction))
	}
	for _, executor := range selected {
		if executor == nil {
			return nil, newServiceError(opRun, reasonMissingDependency, fmt.Errorf("%w for %s", errMissingExecutor, direction))
		}
	}
	return selected, nil
}

// Watch runs a full sync, then incremental syncs separated by interval, until
// ctx is cancelled. The interval is measured from the end of each run, so runs
// never overlap. Failed runs are logged and the loop continues.
func (o *Orchestrator) Watch(ctx context.Context, request Request, interval time.Duration) error {
	if interval <= 0 {
		interval = DefaultWatchInterval
	}
	next := request
	next.Full = true
	for {
		if _, err := o.Run(ctx, next); err != nil {
			switch {
			case ctx.Err() != nil:
				return nil
			case errors.Is(err, ErrRunInProgress):
				o.logger.Info("watch tick skipped: run in progress")
			default:
				o.logger.Warn("watch tick failed; retrying next interval", zap.Error(err), zap.Duration("interval", interval))
			}
		}
		next.Full = false

		timer := time.NewTimer(interval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil
		case <-timer.C:
		}
	}
}

func (o *Orchestrator) notify(event RunEvent) {
	for _, observer := range o.observers {
		observer.Observe(event)
	}
}

func (o *Orchestrator) logSummary(report RunReport) {
	totals := report.Totals()
	o.logger.Info("sync run finished",
		zap.String(logFieldDirection, string(report.Direction)),
		zap.String("mode", string(report.Mode)),
		zap.Bool("dry_run", report.DryRun),
		zap.Duration("duration", report.FinishedAt.Sub(report.StartedAt)),
		zap.Any("entities", report.Entities),
		zap.Int("created", totals.Created),
		zap.Int("updated", totals.Updated),
		zap.Int("unchanged", totals.Unchanged),
		zap.Int("skipped", totals.Skipped),
		zap.Int("errors", totals.Errors),
		zap.Bool("failed", report.Error != ""),
	)
}
