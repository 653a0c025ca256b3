// Package processor runs the Job/Opcode lifecycle: one worker goroutine
// per in-flight job, opcodes within a job executed in sequence,
// cooperative cancellation at every suspension point. A worker pool
// pulling job IDs off a channel, following the Start/Stop-over-a-stopCh
// shape used elsewhere in this codebase for long-running loops.
package processor

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/cuemby/fleetctl/pkg/allocator"
	"github.com/cuemby/fleetctl/pkg/hooks"
	"github.com/cuemby/fleetctl/pkg/lock"
	"github.com/cuemby/fleetctl/pkg/log"
	"github.com/cuemby/fleetctl/pkg/lu"
	"github.com/cuemby/fleetctl/pkg/luerrors"
	"github.com/cuemby/fleetctl/pkg/master"
	"github.com/cuemby/fleetctl/pkg/metrics"
	"github.com/cuemby/fleetctl/pkg/rpc"
	"github.com/cuemby/fleetctl/pkg/types"
	"github.com/rs/zerolog"
)

const (
	defaultWorkers   = 4
	queueDepth       = 256
	opcodeRunTimeout = 2 * time.Hour
)

// Config configures a Processor.
type Config struct {
	Master    *master.Master
	Locks     *lock.Manager
	RPC       *rpc.Client
	Allocator *allocator.Bridge
	Workers   int // 0 uses defaultWorkers
}

// Processor dequeues submitted jobs and drives each opcode through the
// six-step lifecycle: acquire locks, CheckPrereq, pre-hooks, Exec,
// post-hooks, release locks.
type Processor struct {
	master    *master.Master
	locks     *lock.Manager
	rpc       *rpc.Client
	allocator *allocator.Bridge
	logger    zerolog.Logger
	workers   int

	queue  chan int64
	stopCh chan struct{}
	wg     sync.WaitGroup

	mu     sync.Mutex
	nextID int64

	cancelMu sync.Mutex
	cancels  map[int64]context.CancelFunc
}

// New creates a Processor. Call Start to begin processing queued jobs.
func New(cfg Config) *Processor {
	workers := cfg.Workers
	if workers <= 0 {
		workers = defaultWorkers
	}
	return &Processor{
		master:    cfg.Master,
		locks:     cfg.Locks,
		rpc:       cfg.RPC,
		allocator: cfg.Allocator,
		logger:    log.WithComponent("processor"),
		workers:   workers,
		queue:     make(chan int64, queueDepth),
		stopCh:    make(chan struct{}),
		cancels:   make(map[int64]context.CancelFunc),
	}
}

// Start launches the worker pool and requeues any job left running or
// queued from a prior master term.
func (p *Processor) Start() error {
	if err := p.seedNextID(); err != nil {
		return err
	}
	if err := p.requeuePending(); err != nil {
		return err
	}
	for i := 0; i < p.workers; i++ {
		p.wg.Add(1)
		go p.worker()
	}
	p.logger.Info().Int("workers", p.workers).Msg("processor started")
	return nil
}

// Stop signals every worker to finish its current opcode and return, then
// waits for them to exit.
func (p *Processor) Stop() {
	close(p.stopCh)
	p.wg.Wait()
	p.logger.Info().Msg("processor stopped")
}

// seedNextID finds the highest existing job ID so freshly submitted jobs
// never collide with one persisted under a prior master term.
func (p *Processor) seedNextID() error {
	jobs, err := p.master.ListJobs()
	if err != nil {
		return fmt.Errorf("seed job id counter: %w", err)
	}
	var max int64
	for _, j := range jobs {
		if j.ID > max {
			max = j.ID
		}
	}
	p.mu.Lock()
	p.nextID = max + 1
	p.mu.Unlock()
	return nil
}

// requeuePending re-enqueues any job left in queued or running state,
// e.g. from a master that crashed mid-job. A requeued job runs again from
// its first opcode, including opcodes that had already finished; that
// rerun is not idempotent for every LU (createInstance's blockdev_create
// calls, for one, are not safe to repeat against an already-created disk).
func (p *Processor) requeuePending() error {
	jobs, err := p.master.ListJobs()
	if err != nil {
		return err
	}
	sort.Slice(jobs, func(i, j int) bool { return jobs[i].ID < jobs[j].ID })
	for _, j := range jobs {
		if j.Status == types.JobStatusQueued || j.Status == types.JobStatusRunning {
			p.enqueue(j.ID)
		}
	}
	return nil
}

// Submit builds a Job from opcodes, persists it in queued state, and
// enqueues it for a worker to pick up. It returns the assigned job ID.
func (p *Processor) Submit(opcodes []*types.Opcode) (int64, error) {
	if len(opcodes) == 0 {
		return 0, fmt.Errorf("submit: job has no opcodes")
	}
	p.mu.Lock()
	id := p.nextID
	p.nextID++
	p.mu.Unlock()

	job := &types.Job{
		ID:       id,
		Opcodes:  opcodes,
		Status:   types.JobStatusQueued,
		Results:  make([]interface{}, len(opcodes)),
		SubmitAt: time.Now(),
	}
	if err := p.master.CreateJob(job); err != nil {
		return 0, fmt.Errorf("persist job %d: %w", id, err)
	}
	metrics.JobsTotal.WithLabelValues(string(types.JobStatusQueued)).Inc()
	p.enqueue(id)
	return id, nil
}

// Cancel asks a running job to stop at its next cooperative-cancellation
// point. It is a no-op if the job isn't currently running under this
// processor.
func (p *Processor) Cancel(jobID int64) bool {
	p.cancelMu.Lock()
	cancel, ok := p.cancels[jobID]
	p.cancelMu.Unlock()
	if !ok {
		return false
	}
	cancel()
	return true
}

func (p *Processor) enqueue(id int64) {
	select {
	case p.queue <- id:
	case <-p.stopCh:
	}
}

func (p *Processor) worker() {
	defer p.wg.Done()
	for {
		select {
		case id := <-p.queue:
			p.runJob(id)
		case <-p.stopCh:
			return
		}
	}
}

// runJob drives one job's opcodes in order, honoring each opcode's
// Depends list, and persists the final status.
func (p *Processor) runJob(id int64) {
	job, err := p.master.GetJob(id)
	if err != nil || job == nil {
		p.logger.Error().Int64("job_id", id).Err(err).Msg("job vanished before execution")
		return
	}

	job.Status = types.JobStatusRunning
	job.StartAt = time.Now()
	_ = p.master.UpdateJob(job)
	metrics.JobsTotal.WithLabelValues(string(types.JobStatusRunning)).Inc()

	timer := metrics.NewTimer()
	ctx, cancel := context.WithTimeout(context.Background(), opcodeRunTimeout)
	p.cancelMu.Lock()
	p.cancels[id] = cancel
	p.cancelMu.Unlock()
	defer func() {
		cancel()
		p.cancelMu.Lock()
		delete(p.cancels, id)
		p.cancelMu.Unlock()
	}()

	logger := log.WithJobID(strconv.FormatInt(id, 10))
	finalErr := ""
	for i, opcode := range job.Opcodes {
		if !dependsSatisfied(job, opcode) {
			finalErr = fmt.Sprintf("opcode %d: unmet dependency", i)
			logger.Error().Int("opcode_index", i).Msg(finalErr)
			break
		}
		select {
		case <-ctx.Done():
			finalErr = "job canceled"
		default:
		}
		if finalErr != "" {
			break
		}

		result, err := p.runOpcode(ctx, logger, job, i, opcode)
		job.Results[i] = result
		if err != nil {
			finalErr = err.Error()
			metrics.OpcodesFailedTotal.WithLabelValues(string(opcode.Type)).Inc()
			logger.Error().Int("opcode_index", i).Str("opcode", string(opcode.Type)).Err(err).Msg("opcode failed")
			break
		}
		logger.Info().Int("opcode_index", i).Str("opcode", string(opcode.Type)).Msg("opcode succeeded")
	}

	job.EndAt = time.Now()
	if finalErr != "" {
		if finalErr == "job canceled" {
			job.Status = types.JobStatusCanceled
		} else {
			job.Status = types.JobStatusError
		}
		job.Error = finalErr
	} else {
		job.Status = types.JobStatusSuccess
	}
	if err := p.master.UpdateJob(job); err != nil {
		logger.Error().Err(err).Msg("failed to persist final job status")
	}
	metrics.JobsTotal.WithLabelValues(string(job.Status)).Inc()
	if len(job.Opcodes) > 0 {
		timer.ObserveDurationVec(metrics.JobDuration, string(job.Opcodes[0].Type))
	}
}

// dependsSatisfied reports whether every opcode index opcode.Depends
// names has a recorded, non-error result.
func dependsSatisfied(job *types.Job, opcode *types.Opcode) bool {
	for _, dep := range opcode.Depends {
		if dep < 0 || dep >= len(job.Results) || job.Results[dep] == nil {
			return false
		}
	}
	return true
}

// runOpcode executes the six-step lifecycle for one opcode: acquire
// locks, CheckPrereq, pre-hooks, Exec, post-hooks, release locks. Lock
// release always runs, even on failure.
func (p *Processor) runOpcode(ctx context.Context, logger zerolog.Logger, job *types.Job, idx int, opcode *types.Opcode) (interface{}, error) {
	op := string(opcode.Type)
	inst, err := lu.New(opcode)
	if err != nil {
		return nil, luerrors.Prereqf(op, "construct logical unit: %w", err)
	}

	execCtx := types.ExecutionContext{Seed: fmt.Sprintf("job-%d-op-%d", job.ID, idx)}
	luCtx := lu.NewContext(ctx, p.master, p.locks, p.rpc, p.allocator, execCtx)
	lockJob := p.locks.NewJob()
	luCtx.Job = lockJob

	release, err := lu.AcquireLocks(ctx, lockJob, op, luCtx, inst)
	if err != nil {
		return nil, err
	}
	defer release()

	if opcode.DryRun {
		if err := inst.CheckPrereq(luCtx); err != nil {
			return nil, err
		}
		return fmt.Sprintf("%s: dry run, prereqs satisfied", op), nil
	}

	if err := inst.CheckPrereq(luCtx); err != nil {
		return nil, err
	}

	if err := p.runHooks(luCtx, inst, op, hooks.PhasePre, logger); err != nil {
		return nil, err
	}

	feedback := func(format string, args ...interface{}) {
		logger.Info().Str("opcode", op).Msg(fmt.Sprintf(format, args...))
	}
	result, err := inst.Exec(luCtx, feedback)
	if err != nil {
		return nil, err
	}

	if hookErr := p.runHooks(luCtx, inst, op, hooks.PhasePost, logger); hookErr != nil {
		logger.Warn().Str("opcode", op).Err(hookErr).Msg("post-hook failure (result already committed)")
	}

	return result, nil
}

// runHooks builds the LU's hook environment and dispatches hooks_runner to
// every node the phase names, . Hooks run over node RPC
// rather than locally since the scripts live on the nodes the hook targets,
// not on the master.
func (p *Processor) runHooks(luCtx *lu.Context, inst lu.LogicalUnit, op string, phase hooks.Phase, logger zerolog.Logger) error {
	env, err := inst.BuildHooksEnv(luCtx)
	if err != nil {
		return luerrors.Execf(op, "build hooks env: %w", err)
	}
	if env == nil {
		return nil
	}
	nodes := env.PreNodes
	if phase == hooks.PhasePost {
		nodes = env.PostNodes
	}
	if len(nodes) == 0 {
		return nil
	}

	timer := metrics.NewTimer()
	var firstErr error
	for _, nodeID := range nodes {
		res := luCtx.Call(nodeID, "hooks_runner", inst.HookPath(), string(phase), env.Env)
		if res.Status != rpc.StatusOK {
			metrics.HooksFailedTotal.WithLabelValues(string(phase)).Inc()
			logger.Warn().Str("node_id", nodeID).Str("phase", string(phase)).Str("hook_path", inst.HookPath()).Msg(res.Message)
			if phase == hooks.PhasePre && firstErr == nil {
				firstErr = luerrors.Execf(op, "pre-hook on %s: %s", nodeID, res.Message)
			}
			continue
		}
		inst.HooksCallBack(luCtx, string(phase), res.Payload, nil)
	}
	timer.ObserveDurationVec(metrics.HookDuration, string(phase))
	return firstErr
}
