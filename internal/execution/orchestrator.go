package execution

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"codestream/internal/clock"
	"codestream/internal/logging"
	"codestream/pkg/interfaces"
	"codestream/pkg/types"
)

// Status is the lifecycle state of a Job.
type Status int

const (
	StatusSubmitted Status = iota
	StatusPolling
	StatusDone
	StatusTimedOut
	StatusErrored
)

func (s Status) String() string {
	switch s {
	case StatusSubmitted:
		return "submitted"
	case StatusPolling:
		return "polling"
	case StatusDone:
		return "done"
	case StatusTimedOut:
		return "timed_out"
	case StatusErrored:
		return "errored"
	default:
		return "unknown"
	}
}

// Terminal reports whether s is a final state.
func (s Status) Terminal() bool {
	return s == StatusDone || s == StatusTimedOut || s == StatusErrored
}

// Request asks for one execution on behalf of a room participant.
type Request struct {
	RoomID    string
	Requester types.Participant
	Language  string
	Code      string
	FileName  string
}

// Job is one execution in flight. Jobs live only in memory.
type Job struct {
	ID          string
	RoomID      string
	RequesterID string
	Language    string
	LanguageID  int
	FileName    string
	Source      string
	Token       string
	Deadline    time.Time

	status Status
	err    error
	ctx    context.Context
	cancel context.CancelFunc

	deadlineTimer clock.Timer
	pollTimer     clock.Timer
}

// Options configures an Orchestrator.
type Options struct {
	Deadline        time.Duration
	PollInterval    time.Duration
	MaxPerRequester int
}

// Orchestrator runs the submit, poll and deadline state machine per job.
// ARCHITECTURAL DISCOVERY: The deadline timer and the poll loop race; the
// first to call resolve wins and cancels the other, so every job produces
// exactly one terminal outcome. Results go to the requester only.
type Orchestrator struct {
	judge Judge
	bus   interfaces.Broadcaster
	clock clock.Clock
	opts  Options

	mu          sync.Mutex
	jobs        map[string]*Job
	byRequester map[string]map[string]*Job

	log *logrus.Entry
}

func NewOrchestrator(judge Judge, bus interfaces.Broadcaster, clk clock.Clock, opts Options) *Orchestrator {
	if clk == nil {
		clk = clock.New()
	}
	if opts.MaxPerRequester <= 0 {
		opts.MaxPerRequester = 1
	}
	return &Orchestrator{
		judge:       judge,
		bus:         bus,
		clock:       clk,
		opts:        opts,
		jobs:        make(map[string]*Job),
		byRequester: make(map[string]map[string]*Job),
		log:         logging.Component("execution"),
	}
}

// Submit starts an execution and returns without waiting for the judge.
// Unsupported languages and requesters over their concurrency cap resolve
// immediately with an error result and no external call.
func (o *Orchestrator) Submit(req Request) (*Job, error) {
	requesterID := req.Requester.ConnectionID
	job := &Job{
		ID:          uuid.New().String(),
		RoomID:      req.RoomID,
		RequesterID: requesterID,
		Language:    req.Language,
		FileName:    req.FileName,
		Source:      req.Code,
	}
	entry := o.log.WithFields(logrus.Fields{
		"job_id":        job.ID,
		"room_id":       req.RoomID,
		"connection_id": requesterID,
		"language":      req.Language,
	})

	languageID, ok := LanguageID(req.Language)
	if !ok {
		entry.Debug("Unsupported language")
		job.status = StatusErrored
		job.err = ErrUnsupportedLanguage
		o.emit(job, failure(job.ID, "Unsupported Language", msgUnsupportedLanguage))
		return job, ErrUnsupportedLanguage
	}
	job.LanguageID = languageID

	o.mu.Lock()
	if len(o.byRequester[requesterID]) >= o.opts.MaxPerRequester {
		o.mu.Unlock()
		entry.Debug("Execution rejected, requester at concurrency cap")
		job.status = StatusErrored
		job.err = ErrTooManyJobs
		o.emit(job, failure(job.ID, "Rejected", msgTooManyJobs))
		return job, ErrTooManyJobs
	}
	job.ctx, job.cancel = context.WithCancel(context.Background())
	job.status = StatusSubmitted
	o.jobs[job.ID] = job
	if o.byRequester[requesterID] == nil {
		o.byRequester[requesterID] = make(map[string]*Job)
	}
	o.byRequester[requesterID][job.ID] = job
	o.mu.Unlock()

	o.bus.Broadcast(req.RoomID, types.NewMessage(types.MessageUserRanCode, types.UserRanCodePayload{
		User:     req.Requester,
		FileName: req.FileName,
	}), "")

	entry.Info("Execution submitted")
	o.clock.AfterFunc(0, func() { o.submit(job) })
	return job, nil
}

// submit sends the source to the judge, then arms the deadline and the
// first poll.
func (o *Orchestrator) submit(job *Job) {
	token, err := o.judge.Submit(job.ctx, job.LanguageID, job.Source)
	if err != nil {
		if o.resolve(job, StatusErrored, err, failure(job.ID, "Error", msgSubmitFailed)) {
			o.log.WithError(err).WithField("job_id", job.ID).Warn("Submission failed")
		}
		return
	}

	o.mu.Lock()
	defer o.mu.Unlock()
	if job.status.Terminal() {
		return
	}
	job.Token = token
	job.status = StatusPolling
	job.Deadline = o.clock.Now().Add(o.opts.Deadline)
	job.deadlineTimer = o.clock.AfterFunc(o.opts.Deadline, func() { o.expire(job) })
	job.pollTimer = o.clock.AfterFunc(o.opts.PollInterval, func() { o.poll(job) })
}

func (o *Orchestrator) poll(job *Job) {
	o.mu.Lock()
	if job.status.Terminal() {
		o.mu.Unlock()
		return
	}
	token := job.Token
	o.mu.Unlock()

	sub, err := o.judge.Poll(job.ctx, token)
	if err != nil {
		if o.resolve(job, StatusErrored, err, failure(job.ID, "Error", msgPollFailed)) {
			o.log.WithError(err).WithField("job_id", job.ID).Warn("Poll failed")
		}
		return
	}

	if isPending(sub.Status.ID) {
		o.mu.Lock()
		if !job.status.Terminal() {
			job.pollTimer = o.clock.AfterFunc(o.opts.PollInterval, func() { o.poll(job) })
		}
		o.mu.Unlock()
		return
	}

	o.resolve(job, StatusDone, nil, &types.ExecutionResultPayload{
		JobID:         job.ID,
		Stdout:        sub.Stdout,
		Stderr:        sub.Stderr,
		CompileOutput: sub.CompileOutput,
		Status:        sub.Status.Description,
		HasError:      sub.Status.ID != statusAccepted,
	})
}

func (o *Orchestrator) expire(job *Job) {
	result := failure(job.ID, "Timed Out", msgTimedOut)
	result.TimedOut = true
	if o.resolve(job, StatusTimedOut, ErrExecutionTimeout, result) {
		o.log.WithField("job_id", job.ID).Info("Execution timed out")
	}
}

// resolve moves job to a terminal state once, recording cause. It stops the
// competing timer, cancels outstanding judge calls and, when result is
// non-nil, delivers it to the requester. Later calls return false and do
// nothing.
func (o *Orchestrator) resolve(job *Job, status Status, cause error, result *types.ExecutionResultPayload) bool {
	o.mu.Lock()
	if job.status.Terminal() {
		o.mu.Unlock()
		return false
	}
	job.status = status
	job.err = cause
	if job.deadlineTimer != nil {
		job.deadlineTimer.Stop()
	}
	if job.pollTimer != nil {
		job.pollTimer.Stop()
	}
	job.cancel()
	delete(o.jobs, job.ID)
	if byJob := o.byRequester[job.RequesterID]; byJob != nil {
		delete(byJob, job.ID)
		if len(byJob) == 0 {
			delete(o.byRequester, job.RequesterID)
		}
	}
	o.mu.Unlock()

	if result != nil {
		o.emit(job, result)
	}
	return true
}

func (o *Orchestrator) emit(job *Job, result *types.ExecutionResultPayload) {
	err := o.bus.SendTo(job.RequesterID, types.NewMessage(types.MessageExecutionResult, result))
	if err != nil && !errors.Is(err, interfaces.ErrConnectionNotFound) {
		o.log.WithError(err).WithField("job_id", job.ID).Warn("Failed to deliver execution result")
	}
}

// Abandon cancels every job requested by connID without emitting results.
// Used when the requester disconnects.
func (o *Orchestrator) Abandon(connID string) int {
	o.mu.Lock()
	jobs := make([]*Job, 0, len(o.byRequester[connID]))
	for _, job := range o.byRequester[connID] {
		jobs = append(jobs, job)
	}
	o.mu.Unlock()

	abandoned := 0
	for _, job := range jobs {
		if o.resolve(job, StatusErrored, ErrJobAbandoned, nil) {
			abandoned++
		}
	}
	if abandoned > 0 {
		o.log.WithFields(logrus.Fields{
			"connection_id": connID,
			"jobs":          abandoned,
		}).Debug("Executions abandoned")
	}
	return abandoned
}

// Shutdown abandons every job in flight.
func (o *Orchestrator) Shutdown() {
	o.mu.Lock()
	requesters := make([]string, 0, len(o.byRequester))
	for id := range o.byRequester {
		requesters = append(requesters, id)
	}
	o.mu.Unlock()

	for _, id := range requesters {
		o.Abandon(id)
	}
}

// Active returns the number of jobs not yet resolved.
func (o *Orchestrator) Active() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.jobs)
}

// Status returns the current status of job.
func (o *Orchestrator) Status(job *Job) Status {
	o.mu.Lock()
	defer o.mu.Unlock()
	return job.status
}

// Err returns why job ended: nil while running or after a judge verdict,
// ErrExecutionTimeout, ErrJobAbandoned, or a judge failure wrapping
// ErrExternalService.
func (o *Orchestrator) Err(job *Job) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	return job.err
}

func failure(jobID, status, message string) *types.ExecutionResultPayload {
	return &types.ExecutionResultPayload{
		JobID:    jobID,
		Stderr:   message,
		Status:   status,
		HasError: true,
	}
}
