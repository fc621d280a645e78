package sophnet

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// JobStatus is the local view of a remote transcription job.
type JobStatus string

const (
	JobWaiting   JobStatus = "waiting"
	JobRunning   JobStatus = "running"
	JobSucceeded JobStatus = "succeeded"
	JobFailed    JobStatus = "failed"
	JobUnknown   JobStatus = "unknown"
)

// Terminal reports whether polling stops at s.
func (s JobStatus) Terminal() bool {
	return s != JobWaiting && s != JobRunning
}

// transition maps every remote status string onto exactly one local state.
func transition(remote string) JobStatus {
	switch strings.ToLower(strings.TrimSpace(remote)) {
	case "waiting":
		return JobWaiting
	case "doing":
		return JobRunning
	case "success":
		return JobSucceeded
	case "failed":
		return JobFailed
	default:
		return JobUnknown
	}
}

// PollSchedule is the backoff state for one AwaitCompletion call. Attempt
// counts issued status requests and Waited sums completed sleeps.
type PollSchedule struct {
	Attempt       int
	Interval      time.Duration
	MaxAttempts   int
	Step          time.Duration
	Ceiling       time.Duration
	IncreaseAfter int
	Waited        time.Duration
}

// DefaultPollSchedule polls every 5s, growing by 1s per poll after the tenth up
// to 15s, for at most 60 polls.
func DefaultPollSchedule() PollSchedule {
	return PollSchedule{
		Interval:      5 * time.Second,
		MaxAttempts:   60,
		Step:          time.Second,
		Ceiling:       15 * time.Second,
		IncreaseAfter: 10,
	}
}

func (s PollSchedule) withDefaults() PollSchedule {
	def := DefaultPollSchedule()
	if s.Interval <= 0 {
		// An unset interval means an unset schedule: take the default growth too.
		s.Interval = def.Interval
		if s.Step == 0 {
			s.Step = def.Step
		}
		if s.IncreaseAfter == 0 {
			s.IncreaseAfter = def.IncreaseAfter
		}
	}
	if s.MaxAttempts <= 0 {
		s.MaxAttempts = def.MaxAttempts
	}
	if s.Step < 0 {
		s.Step = 0
	}
	if s.Ceiling <= 0 {
		s.Ceiling = def.Ceiling
	}
	if s.Ceiling < s.Interval {
		s.Ceiling = s.Interval
	}
	if s.IncreaseAfter < 0 {
		s.IncreaseAfter = 0
	}
	return s
}

// Polled returns the schedule after one more status request.
func (s PollSchedule) Polled() PollSchedule {
	s.Attempt++
	return s
}

// Exhausted reports whether the attempt budget is spent.
func (s PollSchedule) Exhausted() bool {
	return s.Attempt >= s.MaxAttempts
}

// Advance returns the schedule after sleeping the current interval. The
// interval grows by Step once Attempt exceeds IncreaseAfter, capped at Ceiling.
func (s PollSchedule) Advance() PollSchedule {
	s.Waited += s.Interval
	if s.Attempt > s.IncreaseAfter && s.Interval < s.Ceiling {
		s.Interval = min(s.Interval+s.Step, s.Ceiling)
	}
	return s
}

type pollOutcome struct {
	status JobStatus
	raw    string
	result *string
	detail string
}

// AwaitCompletion polls jobID until it reaches a terminal status. Only the
// waiting and running states trigger another poll; transport and protocol
// failures return immediately. A zero schedule uses the adapter default.
func (a *Adapter) AwaitCompletion(ctx context.Context, jobID string, schedule PollSchedule) (string, error) {
	if strings.TrimSpace(jobID) == "" {
		return "", &ProtocolError{Op: "transcription status", Message: "empty task id"}
	}
	if schedule == (PollSchedule{}) {
		schedule = a.poll
	}
	schedule = schedule.withDefaults()
	start := a.now()

	for {
		var outcome pollOutcome
		var err error
		outcome, schedule, err = a.pollStep(ctx, jobID, schedule)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return "", a.timedOut(jobID, schedule, start, ctxErr)
			}
			return "", err
		}

		switch outcome.status {
		case JobSucceeded:
			if outcome.result == nil {
				return "", &ProtocolError{Op: "transcription status", Message: "success status without result"}
			}
			return *outcome.result, nil
		case JobFailed:
			return "", &RemoteJobFailure{
				JobID:    jobID,
				Message:  outcome.detail,
				Attempts: schedule.Attempt,
				Elapsed:  a.now().Sub(start),
			}
		case JobWaiting, JobRunning:
			if schedule.Exhausted() {
				return "", a.timedOut(jobID, schedule, start, nil)
			}
			if err := a.sleep(ctx, schedule.Interval); err != nil {
				return "", a.timedOut(jobID, schedule, start, err)
			}
			schedule = schedule.Advance()
		default:
			return "", &ProtocolError{Op: "transcription status", Message: "unrecognized status " + strconv.Quote(outcome.raw)}
		}
	}
}

// pollStep issues one status request and returns the schedule that records it.
func (a *Adapter) pollStep(ctx context.Context, jobID string, schedule PollSchedule) (pollOutcome, PollSchedule, error) {
	schedule = schedule.Polled()
	status, err := a.fetchStatus(ctx, jobID)
	if err != nil {
		return pollOutcome{}, schedule, err
	}
	next := transition(status.Status)
	a.logger.Debug("sophnet transcription poll", "job", jobID, "attempt", schedule.Attempt, "status", status.Status)
	if a.onPoll != nil {
		a.onPoll(next, schedule.Attempt)
	}
	return pollOutcome{
		status: next,
		raw:    status.Status,
		result: status.Result,
		detail: status.ErrorMsg,
	}, schedule, nil
}

func (a *Adapter) fetchStatus(ctx context.Context, jobID string) (statusResponse, error) {
	ctx, cancel := context.WithTimeout(ctx, a.timeouts.Status)
	defer cancel()

	req, err := a.newRequest(ctx, http.MethodGet, "speechtotext/transcriptions/"+url.PathEscape(jobID), nil, "")
	if err != nil {
		return statusResponse{}, err
	}
	resp, err := a.do("transcription status", req)
	if err != nil {
		return statusResponse{}, err
	}
	var status statusResponse
	if err := decodeJSON("transcription status", resp, &status); err != nil {
		return statusResponse{}, err
	}
	return status, nil
}

func (a *Adapter) timedOut(jobID string, schedule PollSchedule, start time.Time, cause error) error {
	if cause != nil && !errors.Is(cause, context.DeadlineExceeded) && !errors.Is(cause, context.Canceled) {
		return cause
	}
	return &TimedOut{
		JobID:    jobID,
		Attempts: schedule.Attempt,
		Waited:   schedule.Waited,
		Elapsed:  a.now().Sub(start),
		Err:      cause,
	}
}
