package harness

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/google/uuid"
)

// Status is the orchestrator state. It is monotonic per flow instance: once
// processing is entered it can only move to success or error, never back to
// idle, and a given code triggers at most one transition out of idle.
type Status string

const (
	StatusIdle       Status = "idle"
	StatusProcessing Status = "processing"
	StatusSuccess    Status = "success"
	StatusError      Status = "error"
)

// flowEvent drives the status transition function
type flowEvent string

const (
	eventBegin   flowEvent = "begin"
	eventSucceed flowEvent = "succeed"
	eventFail    flowEvent = "fail"
)

// nextStatus is the pure transition function for the flow state machine.
// Invalid transitions are rejected rather than silently absorbed, so a
// redundant guard evaluation can never restart a finished flow.
func nextStatus(s Status, ev flowEvent) (Status, error) {
	switch {
	case s == StatusIdle && ev == eventBegin:
		return StatusProcessing, nil
	case s == StatusProcessing && ev == eventSucceed:
		return StatusSuccess, nil
	case s == StatusProcessing && ev == eventFail:
		return StatusError, nil
	}
	return s, fmt.Errorf("invalid transition: %s -> %s", s, ev)
}

// FlowResult carries what a completed flow produced for display: the
// normalized token bundle for browser-side exchanges, or the backend's raw
// acknowledgment for relayed flows.
type FlowResult struct {
	Bundle *TokenBundle    `json:"bundle,omitempty"`
	Ack    json.RawMessage `json:"ack,omitempty"`
}

// Exchanger turns an authorization code into a FlowResult. Implemented by
// ExchangeClient (browser strategy) and by the RelayClient adapter (relay
// strategy).
type Exchanger interface {
	Exchange(ctx context.Context, code, redirectURI string) (*FlowResult, error)
}

// Orchestrator drives one callback flow instance: it owns the status, the
// trace log and the result, runs the exchange exactly once, and persists the
// outcome. Construct one per callback page view.
type Orchestrator struct {
	id          string
	provider    string
	user        *User
	redirectURI string
	exchanger   Exchanger
	store       CredentialStore
	trace       *TraceLog
	logger      Logger

	mu     sync.Mutex
	status Status
	result *FlowResult
	errMsg string
}

// NewOrchestrator creates an idle orchestrator bound to one provider flow.
// trace may be shared with the exchanger so both write to the same
// operator-visible log; nil allocates a fresh one.
func NewOrchestrator(provider string, user *User, redirectURI string, exchanger Exchanger, store CredentialStore, trace *TraceLog, logger Logger) *Orchestrator {
	if logger == nil {
		logger = &defaultLogger{}
	}
	if trace == nil {
		trace = &TraceLog{}
	}
	return &Orchestrator{
		id:          uuid.NewString(),
		provider:    provider,
		user:        user,
		redirectURI: redirectURI,
		exchanger:   exchanger,
		store:       store,
		trace:       trace,
		logger:      logger,
		status:      StatusIdle,
	}
}

// ID returns the flow instance identifier
func (o *Orchestrator) ID() string { return o.id }

// Status returns the current flow status
func (o *Orchestrator) Status() Status {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.status
}

// Trace returns the accumulated trace log
func (o *Orchestrator) Trace() *TraceLog { return o.trace }

// Result returns the flow result, nil unless the flow succeeded
func (o *Orchestrator) Result() *FlowResult {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.result
}

// ErrorMessage returns the operator-facing failure text: the accumulated
// trace followed by the failure reason. Empty unless the flow failed.
func (o *Orchestrator) ErrorMessage() string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.errMsg
}

// begin applies the guard and claims the flow. The guard is the sole
// mutual-exclusion primitive for "at most one exchange per code": callers
// re-evaluate it freely (the callback view re-checks on every refresh) and
// every evaluation after the first is a no-op.
func (o *Orchestrator) begin(auth AuthorizationResult) bool {
	o.mu.Lock()
	defer o.mu.Unlock()

	if auth.Code == "" || auth.Denied() || o.user == nil || o.status != StatusIdle {
		return false
	}

	next, err := nextStatus(o.status, eventBegin)
	if err != nil {
		return false
	}
	o.status = next
	return true
}

// finish moves the flow to a terminal state
func (o *Orchestrator) finish(ev flowEvent, result *FlowResult, cause error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	next, err := nextStatus(o.status, ev)
	if err != nil {
		o.logger.Error("Flow %s: dropped %s event in state %s", o.id, ev, o.status)
		return
	}
	o.status = next
	o.result = result
	if cause != nil {
		o.errMsg = o.trace.String() + "\nError: " + cause.Error()
	}
}

// Evaluate runs the processing guard against the extracted authorization
// parameters and, when it passes, drives the flow to a terminal state:
// exchange strictly first, persistence second. It returns the status after
// evaluation. Calling it again in any non-idle state issues no network
// traffic.
func (o *Orchestrator) Evaluate(ctx context.Context, auth AuthorizationResult) Status {
	if !o.begin(auth) {
		return o.Status()
	}

	o.logger.Info("Flow %s: processing %s callback (code: %s)", o.id, o.provider, truncateString(auth.Code, 10))
	o.trace.Append("Starting token exchange process...")
	o.trace.Append("Using redirect URI: %s", o.redirectURI)

	result, err := o.exchanger.Exchange(ctx, auth.Code, o.redirectURI)
	if err != nil {
		o.trace.Append("Error: %v", err)
		o.logger.Error("Flow %s: exchange failed: %v", o.id, err)
		o.finish(eventFail, nil, err)
		return o.Status()
	}
	o.trace.Append("Exchange complete.")

	if result.Bundle != nil {
		o.trace.Append("Saving %s credentials for user %s...", o.provider, o.user.ID)
		if err := o.store.Upsert(ctx, o.user.ID, o.provider, result.Bundle); err != nil {
			perr := &PersistError{Op: "upsert", Err: err}
			o.trace.Append("Error: %v", perr)
			o.logger.Error("Flow %s: persistence failed: %v", o.id, perr)
			o.finish(eventFail, nil, perr)
			return o.Status()
		}
		o.trace.Append("Credentials saved.")
	} else {
		o.trace.Append("Code relayed to backend; exchange and storage happen server-side.")
	}

	o.trace.Append("Success! %s flow complete.", o.provider)
	o.logger.Info("Flow %s: success", o.id)
	o.finish(eventSucceed, result, nil)
	return o.Status()
}
