package execution

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"codestream/internal/clock"
	"codestream/pkg/types"
)

type fakeJudge struct {
	mu         sync.Mutex
	submits    int
	polls      int
	submitErr  error
	pollErr    error
	responses  []*Submission
	lastSource string
	lastLang   int
	lastCtx    context.Context
}

func (j *fakeJudge) Submit(ctx context.Context, languageID int, source string) (string, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.submits++
	j.lastSource = source
	j.lastLang = languageID
	if j.submitErr != nil {
		return "", j.submitErr
	}
	return "tok-1", nil
}

func (j *fakeJudge) Poll(ctx context.Context, token string) (*Submission, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.polls++
	j.lastCtx = ctx
	if j.pollErr != nil {
		return nil, j.pollErr
	}
	if len(j.responses) == 0 {
		return &Submission{Status: SubmissionStatus{ID: statusProcessing, Description: "Processing"}}, nil
	}
	next := j.responses[0]
	if len(j.responses) > 1 {
		j.responses = j.responses[1:]
	}
	return next, nil
}

type sentMessage struct {
	target string
	msg    *types.Message
}

type fakeBus struct {
	mu         sync.Mutex
	broadcasts []*types.Message
	direct     []sentMessage
}

func (b *fakeBus) Broadcast(roomID string, msg *types.Message, excludeID string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.broadcasts = append(b.broadcasts, msg)
	return 1
}

func (b *fakeBus) SendTo(connID string, msg *types.Message) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.direct = append(b.direct, sentMessage{target: connID, msg: msg})
	return nil
}

func (b *fakeBus) RelaySignal(roomID, fromID string, sig *types.Signal) error { return nil }

func (b *fakeBus) results() []*types.ExecutionResultPayload {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []*types.ExecutionResultPayload
	for _, d := range b.direct {
		if d.msg.Type == types.MessageExecutionResult {
			out = append(out, d.msg.Payload.(*types.ExecutionResultPayload))
		}
	}
	return out
}

func newTestOrchestrator(judge Judge) (*Orchestrator, *fakeBus, *clock.Fake) {
	bus := &fakeBus{}
	clk := clock.NewFake(time.Unix(0, 0))
	o := NewOrchestrator(judge, bus, clk, Options{
		Deadline:        15 * time.Second,
		PollInterval:    2 * time.Second,
		MaxPerRequester: 2,
	})
	return o, bus, clk
}

func pythonRequest(requester string) Request {
	return Request{
		RoomID:    "r1",
		Requester: types.Participant{ConnectionID: requester, DisplayName: "Ada"},
		Language:  "python",
		Code:      "print(1)",
		FileName:  "main.py",
	}
}

func TestOrchestrator_QueuedProcessingAccepted(t *testing.T) {
	judge := &fakeJudge{responses: []*Submission{
		{Status: SubmissionStatus{ID: statusInQueue, Description: "In Queue"}},
		{Status: SubmissionStatus{ID: statusProcessing, Description: "Processing"}},
		{Stdout: "1\n", Status: SubmissionStatus{ID: statusAccepted, Description: "Accepted"}},
	}}
	o, bus, clk := newTestOrchestrator(judge)

	job, err := o.Submit(pythonRequest("c1"))
	require.NoError(t, err)

	require.Len(t, bus.broadcasts, 1)
	assert.Equal(t, types.MessageUserRanCode, bus.broadcasts[0].Type)
	notice := bus.broadcasts[0].Payload.(types.UserRanCodePayload)
	assert.Equal(t, "main.py", notice.FileName)
	assert.Equal(t, "Ada", notice.User.DisplayName)

	clk.Advance(0)
	assert.Equal(t, 1, judge.submits)
	assert.Equal(t, 71, judge.lastLang)
	assert.Equal(t, StatusPolling, o.Status(job))

	clk.Advance(6 * time.Second)
	assert.Equal(t, 3, judge.polls)

	results := bus.results()
	require.Len(t, results, 1)
	assert.Equal(t, "1\n", results[0].Stdout)
	assert.False(t, results[0].HasError)
	assert.Equal(t, "Accepted", results[0].Status)
	assert.Equal(t, job.ID, results[0].JobID)
	assert.Equal(t, "c1", bus.direct[0].target, "only the requester gets the result")
	assert.Equal(t, StatusDone, o.Status(job))
	assert.NoError(t, o.Err(job))

	clk.Advance(time.Minute)
	assert.Len(t, bus.results(), 1, "deadline timer was cancelled")
	assert.Equal(t, 0, clk.Pending())
	assert.Equal(t, 0, o.Active())
}

func TestOrchestrator_TimeoutStopsPolling(t *testing.T) {
	judge := &fakeJudge{}
	o, bus, clk := newTestOrchestrator(judge)

	job, err := o.Submit(pythonRequest("c1"))
	require.NoError(t, err)
	clk.Advance(0)

	clk.Advance(15 * time.Second)
	assert.Equal(t, 7, judge.polls, "polls at 2s..14s")

	results := bus.results()
	require.Len(t, results, 1)
	assert.True(t, results[0].TimedOut)
	assert.True(t, results[0].HasError)
	assert.Equal(t, msgTimedOut, results[0].Stderr)
	assert.Equal(t, StatusTimedOut, o.Status(job))

	clk.Advance(time.Minute)
	assert.Equal(t, 7, judge.polls, "no polls after timeout")
	assert.Len(t, bus.results(), 1)
	assert.Error(t, judge.lastCtx.Err(), "outstanding calls are cancelled")
	assert.ErrorIs(t, o.Err(job), ErrExecutionTimeout)
}

func TestOrchestrator_NonAcceptedStatusIsError(t *testing.T) {
	judge := &fakeJudge{responses: []*Submission{
		{CompileOutput: "main.c:1: error", Status: SubmissionStatus{ID: 6, Description: "Compilation Error"}},
	}}
	o, bus, clk := newTestOrchestrator(judge)

	_, err := o.Submit(Request{RoomID: "r1", Requester: types.Participant{ConnectionID: "c1"}, Language: "c", Code: "int main(", FileName: "main.c"})
	require.NoError(t, err)
	clk.Advance(2 * time.Second)

	results := bus.results()
	require.Len(t, results, 1)
	assert.True(t, results[0].HasError)
	assert.Equal(t, "main.c:1: error", results[0].CompileOutput)
	assert.Equal(t, "Compilation Error", results[0].Status)
}

func TestOrchestrator_UnsupportedLanguage(t *testing.T) {
	judge := &fakeJudge{}
	o, bus, clk := newTestOrchestrator(judge)

	req := pythonRequest("c1")
	req.Language = "cobol"
	job, err := o.Submit(req)
	assert.ErrorIs(t, err, ErrUnsupportedLanguage)
	assert.Equal(t, StatusErrored, o.Status(job))

	clk.Advance(time.Minute)
	assert.Equal(t, 0, judge.submits, "no external call")
	assert.Empty(t, bus.broadcasts, "no room notification")

	results := bus.results()
	require.Len(t, results, 1)
	assert.Equal(t, msgUnsupportedLanguage, results[0].Stderr)
	assert.True(t, results[0].HasError)
}

func TestOrchestrator_SubmitFailureNoRetry(t *testing.T) {
	judge := &fakeJudge{submitErr: fmt.Errorf("%w: 503", ErrExternalService)}
	o, bus, clk := newTestOrchestrator(judge)

	job, err := o.Submit(pythonRequest("c1"))
	require.NoError(t, err)
	clk.Advance(time.Minute)

	assert.Equal(t, 1, judge.submits)
	assert.Equal(t, 0, judge.polls)
	results := bus.results()
	require.Len(t, results, 1)
	assert.Equal(t, msgSubmitFailed, results[0].Stderr)
	assert.Equal(t, StatusErrored, o.Status(job))
	assert.ErrorIs(t, o.Err(job), ErrExternalService)
	assert.Equal(t, 0, clk.Pending())
}

func TestOrchestrator_PollFailureNoRetry(t *testing.T) {
	judge := &fakeJudge{pollErr: errors.New("boom")}
	o, bus, clk := newTestOrchestrator(judge)

	_, err := o.Submit(pythonRequest("c1"))
	require.NoError(t, err)
	clk.Advance(time.Minute)

	assert.Equal(t, 1, judge.polls)
	results := bus.results()
	require.Len(t, results, 1)
	assert.Equal(t, msgPollFailed, results[0].Stderr)
	assert.False(t, results[0].TimedOut)
}

func TestOrchestrator_AbandonEmitsNothing(t *testing.T) {
	judge := &fakeJudge{}
	o, bus, clk := newTestOrchestrator(judge)

	job, err := o.Submit(pythonRequest("c1"))
	require.NoError(t, err)
	clk.Advance(4 * time.Second)
	require.Equal(t, 2, judge.polls)

	assert.Equal(t, 1, o.Abandon("c1"))
	assert.Equal(t, 0, o.Abandon("c1"))

	clk.Advance(time.Minute)
	assert.Equal(t, 2, judge.polls)
	assert.Empty(t, bus.results())
	assert.True(t, o.Status(job).Terminal())
	assert.ErrorIs(t, o.Err(job), ErrJobAbandoned)
	assert.Equal(t, 0, o.Active())
}

func TestOrchestrator_ConcurrencyCap(t *testing.T) {
	judge := &fakeJudge{}
	o, bus, clk := newTestOrchestrator(judge)

	_, err := o.Submit(pythonRequest("c1"))
	require.NoError(t, err)
	_, err = o.Submit(pythonRequest("c1"))
	require.NoError(t, err)
	_, err = o.Submit(pythonRequest("c1"))
	assert.ErrorIs(t, err, ErrTooManyJobs)

	_, err = o.Submit(pythonRequest("c2"))
	assert.NoError(t, err, "cap is per requester")

	require.Len(t, bus.results(), 1)
	assert.Equal(t, msgTooManyJobs, bus.results()[0].Stderr)

	clk.Advance(15 * time.Second)
	_, err = o.Submit(pythonRequest("c1"))
	assert.NoError(t, err, "slots free once jobs resolve")
}

func TestOrchestrator_Shutdown(t *testing.T) {
	o, bus, clk := newTestOrchestrator(&fakeJudge{})
	_, _ = o.Submit(pythonRequest("c1"))
	_, _ = o.Submit(pythonRequest("c2"))
	clk.Advance(0)

	o.Shutdown()
	assert.Equal(t, 0, o.Active())
	clk.Advance(time.Minute)
	assert.Empty(t, bus.results())
}

func TestLanguageID(t *testing.T) {
	cases := map[string]int{"javascript": 63, "JS": 63, "python": 71, "java": 62, "c": 50, "cpp": 54, " C++ ": 54}
	for lang, want := range cases {
		got, ok := LanguageID(lang)
		assert.True(t, ok, lang)
		assert.Equal(t, want, got, lang)
	}
	_, ok := LanguageID("rust")
	assert.False(t, ok)
}
