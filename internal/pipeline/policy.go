package pipeline

import "errors"

// DLQAdvisorPolicy controls whether the DLQ consumer loop may consult the
// advisor before quarantining a poisoned message. spec.md §4.9 requires
// the DLQ path to never re-invoke the advisor; this stays the default,
// but the policy is kept as an explicit, YAML-configurable value (see
// internal/worker's policy loader) rather than hardcoded, since nothing
// in spec.md rules out an operator wanting a second opinion on messages
// already bound for quarantine.
type DLQAdvisorPolicy string

const (
	// SkipAdvisor is the default and only fully implemented policy: the
	// DLQ consumer blocks the message without consulting the advisor.
	SkipAdvisor DLQAdvisorPolicy = "skip_advisor"

	// ConsultAdvisor is accepted as a configuration value but not
	// implemented — the semantics of advising on an already-poisoned
	// message (which limiter quota should it draw from? does a REWRITE
	// verdict re-enter MAIN or stay quarantined?) are unspecified.
	ConsultAdvisor DLQAdvisorPolicy = "consult_advisor"
)

// ErrDLQAdvisorPolicyNotImplemented is returned when a deployment
// configures ConsultAdvisor; the worker should nack-without-requeue and
// page an operator rather than guess at the semantics.
var ErrDLQAdvisorPolicyNotImplemented = errors.New("consult_advisor DLQ policy is not implemented")
