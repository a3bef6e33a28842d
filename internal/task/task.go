package task

import (
	"strings"
	"time"

	"github.com/dean0x/claudine-sub000/internal/errs"
)

const (
	maxPromptBytes = 64 * 1024
	defaultTimeout = 30 * time.Minute
	maxTimeout     = time.Hour
)

// Task is a unit of delegated work: a command, its execution parameters,
// and its lifecycle state. Fields are mutated only through handlers acting
// on a StateMachine; Task itself performs no bus I/O.
type Task struct {
	ID          ID         `json:"id"`
	Prompt      string     `json:"prompt"`
	Priority    Priority   `json:"priority"`
	Status      Status     `json:"status"`
	CreatedAt   time.Time  `json:"createdAt"`
	StartedAt   *time.Time `json:"startedAt,omitempty"`
	CompletedAt *time.Time `json:"completedAt,omitempty"`

	WorkerID string `json:"workerId,omitempty"`
	ExitCode *int   `json:"exitCode,omitempty"`
	Duration *time.Duration `json:"duration,omitempty"`

	WorkingDirectory string            `json:"workingDirectory,omitempty"`
	Timeout          time.Duration     `json:"timeout"`
	MaxOutputBuffer  int64             `json:"maxOutputBuffer"`
	DependsOn        map[ID]struct{}   `json:"dependsOn,omitempty"`

	ParentTaskID ID     `json:"parentTaskId,omitempty"`
	RetryCount   int    `json:"retryCount"`
	ContinueFrom ID     `json:"continueFrom,omitempty"`
	FailureCause string `json:"failureCause,omitempty"`
}

// CreateRequest is the boundary payload for delegate(), matching spec §6.
type CreateRequest struct {
	Prompt           string
	Priority         Priority
	WorkingDirectory string
	Timeout          time.Duration
	MaxOutputBuffer  int64
	DependsOn        []ID
	ParentTaskID     ID
	ContinueFrom     ID
}

// New validates req and builds a fresh QUEUED task. defaultMaxOutputBuffer
// comes from the caller's config; a missing timeout falls back to the
// package's defaultTimeout and is capped at maxTimeout.
func New(req CreateRequest, defaultMaxOutputBuffer int64) (*Task, error) {
	if strings.TrimSpace(req.Prompt) == "" {
		return nil, errs.New(errs.InvalidPrompt, "prompt must not be empty")
	}
	if len(req.Prompt) > maxPromptBytes {
		return nil, errs.New(errs.InvalidPrompt, "prompt exceeds maximum size")
	}

	timeout := req.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	if timeout > maxTimeout {
		timeout = maxTimeout
	}

	maxBuf := req.MaxOutputBuffer
	if maxBuf <= 0 {
		maxBuf = defaultMaxOutputBuffer
	}

	var deps map[ID]struct{}
	if len(req.DependsOn) > 0 {
		deps = make(map[ID]struct{}, len(req.DependsOn))
		for _, d := range req.DependsOn {
			deps[d] = struct{}{}
		}
	}

	return &Task{
		ID:               NewID(),
		Prompt:           req.Prompt,
		Priority:         req.Priority,
		Status:           Queued,
		CreatedAt:        time.Now().UTC(),
		WorkingDirectory: req.WorkingDirectory,
		Timeout:          timeout,
		MaxOutputBuffer:  maxBuf,
		DependsOn:        deps,
		ParentTaskID:     req.ParentTaskID,
		ContinueFrom:     req.ContinueFrom,
	}, nil
}

// Clone returns a deep-enough copy safe to hand to a caller outside the
// repository's lock (the repository never returns its internal pointer).
func (t *Task) Clone() *Task {
	cp := *t
	if t.StartedAt != nil {
		v := *t.StartedAt
		cp.StartedAt = &v
	}
	if t.CompletedAt != nil {
		v := *t.CompletedAt
		cp.CompletedAt = &v
	}
	if t.ExitCode != nil {
		v := *t.ExitCode
		cp.ExitCode = &v
	}
	if t.Duration != nil {
		v := *t.Duration
		cp.Duration = &v
	}
	if t.DependsOn != nil {
		cp.DependsOn = make(map[ID]struct{}, len(t.DependsOn))
		for k, v := range t.DependsOn {
			cp.DependsOn[k] = v
		}
	}
	return &cp
}

// HasDependencies reports whether dependsOn is non-empty. The authoritative
// blocked check also consults the dependency graph's resolution table; this
// is a cheap structural pre-check used by callers that only have the task.
func (t *Task) HasDependencies() bool {
	return len(t.DependsOn) > 0
}
