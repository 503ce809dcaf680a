package collector

import (
	"context"
	"errors"
	"time"

	"go-news-collector/internal/newsapi"
	"go-news-collector/internal/store"
	"go-news-collector/internal/storelock"
)

// Stage is where a keyword set's pipeline currently is.
type Stage string

const (
	StageBuildRequest Stage = "BUILD_REQUEST"
	StageFetching     Stage = "FETCHING"
	StageFiltering    Stage = "FILTERING"
	StageMerging      Stage = "MERGING"
	StageDone         Stage = "DONE"
	StageFailed       Stage = "FAILED"
)

// Terminal reports whether no further transition can happen.
func (s Stage) Terminal() bool {
	return s == StageDone || s == StageFailed
}

// Outcome is the result of one keyword set's pipeline in one invocation.
type Outcome struct {
	KeywordSet string        `json:"keyword_set"`
	Window     string        `json:"window"`
	Path       string        `json:"path,omitempty"`
	Stage      Stage         `json:"stage"`
	FailedAt   Stage         `json:"failed_at,omitempty"`
	Err        error         `json:"-"`
	Fetched    int           `json:"fetched"`
	Kept       int           `json:"kept"`
	Stored     int           `json:"stored"`
	Partial    bool          `json:"partial"`
	StartedAt  time.Time     `json:"started_at"`
	Duration   time.Duration `json:"duration"`
}

func (o *Outcome) advance(s Stage) {
	if o.Stage.Terminal() {
		return
	}
	o.Stage = s
}

func (o *Outcome) fail(err error) {
	if o.Stage.Terminal() {
		return
	}
	o.FailedAt = o.Stage
	o.Stage = StageFailed
	o.Err = err
}

// Failed reports whether the pipeline ended in FAILED.
func (o *Outcome) Failed() bool {
	return o.Stage == StageFailed
}

// ErrorText returns the failure message, or "" on success.
func (o *Outcome) ErrorText() string {
	if o.Err == nil {
		return ""
	}
	return o.Err.Error()
}

// FailureKind classifies Err for logs: validation, transport, store, lock,
// cancelled or other. It is "" for outcomes that did not fail.
func (o *Outcome) FailureKind() string {
	if o.Err == nil {
		return ""
	}
	var validationErr *newsapi.ValidationError
	var corruptErr *store.CorruptStoreError
	var fileErr *store.FileOperationError
	switch {
	case errors.Is(o.Err, context.Canceled), errors.Is(o.Err, context.DeadlineExceeded):
		return "cancelled"
	case errors.As(o.Err, &validationErr):
		return "validation"
	case newsapi.IsTransportFailure(o.Err):
		return "transport"
	case errors.As(o.Err, &corruptErr), errors.As(o.Err, &fileErr):
		return "store"
	case errors.Is(o.Err, storelock.ErrLocked):
		return "lock"
	default:
		return "other"
	}
}

// Report collects the outcomes of one run in processing order.
type Report struct {
	Outcomes   []Outcome `json:"outcomes"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
	Cancelled  bool      `json:"cancelled"`
}

// Failures returns how many outcomes ended in FAILED.
func (r *Report) Failures() int {
	n := 0
	for i := range r.Outcomes {
		if r.Outcomes[i].Failed() {
			n++
		}
	}
	return n
}

// Stored returns the total number of new articles written across the run.
func (r *Report) Stored() int {
	n := 0
	for i := range r.Outcomes {
		if !r.Outcomes[i].Failed() {
			n += r.Outcomes[i].Kept
		}
	}
	return n
}

func (r *Report) merge(other *Report) {
	r.Outcomes = append(r.Outcomes, other.Outcomes...)
	r.FinishedAt = other.FinishedAt
	r.Cancelled = r.Cancelled || other.Cancelled
}
