package model

import (
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/go-multierror"
	"github.com/pkg/errors"
)

type Outcome string

const (
	OutcomeSuccess         Outcome = "success"
	OutcomeValidationError Outcome = "validation_error"
	OutcomeTransportError  Outcome = "transport_error"
)

type Action string

const (
	ActionNone   Action = "none"
	ActionCreate Action = "create"
	ActionUpdate Action = "update"
)

const (
	RunStatusSuccess = "success"
	RunStatusPartial = "partial"
)

// Result is the outcome of reconciling a single device record.
type Result struct {
	Name         string  `json:"name,omitempty"`
	ManagementIP string  `json:"management_ip,omitempty"`
	Action       Action  `json:"action"`
	Outcome      Outcome `json:"outcome"`
	DeviceID     int     `json:"device_id,omitempty"`
	Error        string  `json:"error,omitempty"`

	Err error `json:"-"`
}

// Succeeded returns a copy of the result marked successful.
func (r Result) Succeeded(action Action, deviceID int) Result {
	r.Action = action
	r.DeviceID = deviceID
	r.Outcome = OutcomeSuccess
	r.Err = nil
	r.Error = ""

	return r
}

// Failed returns a copy of the result marked failed with the given outcome.
func (r Result) Failed(outcome Outcome, err error) Result {
	if r.Action == "" {
		r.Action = ActionNone
	}

	r.Outcome = outcome
	r.Err = err

	if err != nil {
		r.Error = err.Error()
	}

	return r
}

// OK returns true when the record was written.
func (r Result) OK() bool {
	return r.Outcome == OutcomeSuccess
}

// Summary aggregates the results of a reconciliation run.
type Summary struct {
	RunID     uuid.UUID     `json:"run_id"`
	StartedAt time.Time     `json:"started_at"`
	Duration  time.Duration `json:"duration"`
	Total     int           `json:"total"`
	Succeeded int           `json:"succeeded"`
	Failed    int           `json:"failed"`
	Results   []Result      `json:"devices"`
}

// NewSummary returns a Summary for a run starting now.
func NewSummary() *Summary {
	return &Summary{
		RunID:     uuid.New(),
		StartedAt: time.Now(),
		Results:   []Result{},
	}
}

// Add counts the result into the summary.
func (s *Summary) Add(r Result) {
	s.Total++

	if r.OK() {
		s.Succeeded++
	} else {
		s.Failed++
	}

	s.Results = append(s.Results, r)
}

// Finish records the run duration.
func (s *Summary) Finish() {
	s.Duration = time.Since(s.StartedAt)
}

// Status returns the run status as reported to callers.
func (s *Summary) Status() string {
	if s.Failed > 0 {
		return RunStatusPartial
	}

	return RunStatusSuccess
}

// CountOutcome returns the number of results with the given outcome.
func (s *Summary) CountOutcome(outcome Outcome) int {
	var count int

	for _, r := range s.Results {
		if r.Outcome == outcome {
			count++
		}
	}

	return count
}

// Err returns the per record errors of the run, nil when every record succeeded.
func (s *Summary) Err() error {
	var merr *multierror.Error

	for _, r := range s.Results {
		if r.OK() {
			continue
		}

		err := r.Err
		if err == nil {
			err = errors.New(string(r.Outcome))
		}

		merr = multierror.Append(merr, errors.Wrap(err, r.Name))
	}

	return merr.ErrorOrNil()
}
