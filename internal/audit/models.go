package audit

import "time"

// Action names the audited occurrence.
type Action string

const (
	// ActionDecisionMade is emitted once per authorization check.
	ActionDecisionMade Action = "decision_made"
)

// Decision outcomes carried on decision events.
const (
	DecisionAllowed = "allowed"
	DecisionDenied  = "denied"
	DecisionError   = "error"
)

// Event is emitted from the orchestrator to capture authorization checks.
// Keep it transport-agnostic so sinks can fan out.
type Event struct {
	Timestamp     time.Time `json:"timestamp"`
	Action        Action    `json:"action"`
	Subject       string    `json:"subject"`
	Verb          string    `json:"verb"`
	Object        string    `json:"object"`
	TransactionID string    `json:"transaction_id,omitempty"`
	RequestID     string    `json:"request_id,omitempty"`
	Decision      string    `json:"decision"`
	Reason        string    `json:"reason,omitempty"`
	Count         int       `json:"count"`
}
