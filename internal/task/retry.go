package task

import (
	"math"
	"math/rand"
	"time"
)

// BackoffPolicy computes monotonic exponential backoff with jitter, bounded
// by MaxDelay. No handler uses it: the worker handler retries a denied
// spawn after its fixed spawnBackoff interval. Grounded on the teacher's
// RetryPolicy.CalculateBackoff.
type BackoffPolicy struct {
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Factor       float64
	JitterFactor float64
}

// DefaultBackoffPolicy matches spec's retryInitialDelayMs/retryMaxDelayMs defaults.
func DefaultBackoffPolicy() BackoffPolicy {
	return BackoffPolicy{
		InitialDelay: time.Second,
		MaxDelay:     30 * time.Second,
		Factor:       2.0,
		JitterFactor: 0.1,
	}
}

// Delay returns the backoff duration for the given attempt number (0-based).
func (p BackoffPolicy) Delay(attempt int) time.Duration {
	if attempt <= 0 {
		return clampDelay(p.InitialDelay, p.MaxDelay)
	}
	raw := float64(p.InitialDelay) * math.Pow(p.Factor, float64(attempt))
	if raw > float64(p.MaxDelay) {
		raw = float64(p.MaxDelay)
	}
	if p.JitterFactor > 0 {
		raw += raw * p.JitterFactor * (rand.Float64()*2 - 1)
	}
	if raw < 0 {
		raw = float64(p.InitialDelay)
	}
	return clampDelay(time.Duration(raw), p.MaxDelay)
}

func clampDelay(d, max time.Duration) time.Duration {
	if d > max {
		return max
	}
	if d < 0 {
		return 0
	}
	return d
}

// Retry builds a new task from parent, incrementing retryCount and linking
// parentTaskId, per spec §6's retry(taskId) contract. It does not check
// parent's status.
func Retry(parent *Task, defaultMaxOutputBuffer int64) (*Task, error) {
	child, err := New(CreateRequest{
		Prompt:           parent.Prompt,
		Priority:         parent.Priority,
		WorkingDirectory: parent.WorkingDirectory,
		Timeout:          parent.Timeout,
		MaxOutputBuffer:  parent.MaxOutputBuffer,
		ParentTaskID:     parent.ID,
	}, defaultMaxOutputBuffer)
	if err != nil {
		return nil, err
	}
	child.RetryCount = parent.RetryCount + 1
	return child, nil
}
