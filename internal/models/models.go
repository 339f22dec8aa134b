// Package models defines the core domain types for Murmur.
package models

import "time"

// ObservationKind classifies what a Monitor saw on one sample.
type ObservationKind string

const (
	KindConnUp      ObservationKind = "conn_up"
	KindConnDown    ObservationKind = "conn_down"
	KindProcRunning ObservationKind = "proc_running"
	KindProcMissing ObservationKind = "proc_missing"
	KindProcFrozen  ObservationKind = "proc_frozen"
	KindDirSize     ObservationKind = "dir_size"
	KindProbeError  ObservationKind = "probe_error"
)

// Observation is one timestamped sample reported by a Monitor.
// Seq is assigned by the bus at publish time and is unique process-wide.
type Observation struct {
	Seq       uint64          `json:"seq"`
	Source    string          `json:"source"`
	Kind      ObservationKind `json:"kind"`
	Target    string          `json:"target,omitempty"`
	Value     string          `json:"value,omitempty"`
	Detail    string          `json:"detail,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
}

// Rule binds a predicate over Observations to a Fixer and a cooldown.
// The predicate holds when at least Threshold observations of one of
// Kinds (optionally narrowed to Target) arrive within Window. An
// observation of one of ClearKinds resets the trailing window.
type Rule struct {
	ID          string            `json:"id"`
	Kinds       []ObservationKind `json:"kinds"`
	ClearKinds  []ObservationKind `json:"clear_kinds,omitempty"`
	Target      string            `json:"target,omitempty"`
	Threshold   int               `json:"threshold"`
	MinValue    int64             `json:"min_value,omitempty"`
	Window      time.Duration     `json:"window"`
	TargetFixer string            `json:"target_fixer"`
	Cooldown    time.Duration     `json:"cooldown"`
}

// Detection is an edge-triggered match of a Rule's predicate.
type Detection struct {
	Rule         string        `json:"rule"`
	Target       string        `json:"target"`
	Timestamp    time.Time     `json:"timestamp"`
	Observations []Observation `json:"observations,omitempty"`
}

// FixResult is the terminal state of one fix attempt.
type FixResult string

const (
	FixSuccess FixResult = "success"
	FixFailed  FixResult = "failed"
	FixSkipped FixResult = "skipped"
)

// Well-known Reason values for failed or skipped outcomes.
const (
	ReasonTimeout        = "timeout"
	ReasonCooldownActive = "cooldown_active"
)

// FixOutcome records the result of attempting a fix for a Detection.
type FixOutcome struct {
	Rule      string    `json:"rule"`
	Target    string    `json:"target"`
	Fixer     string    `json:"fixer"`
	Result    FixResult `json:"result"`
	Reason    string    `json:"reason,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// RecordKind distinguishes the entries of the audit log.
type RecordKind string

const (
	RecordObservation RecordKind = "observation"
	RecordDetection   RecordKind = "detection"
	RecordFix         RecordKind = "fix"
	RecordError       RecordKind = "error"
)

// HistoryRecord is one row of the append-only audit log.
type HistoryRecord struct {
	ID        string     `json:"id"`
	Kind      RecordKind `json:"kind"`
	Rule      string     `json:"rule,omitempty"`
	Source    string     `json:"source,omitempty"`
	Target    string     `json:"target,omitempty"`
	Outcome   string     `json:"outcome,omitempty"`
	Detail    string     `json:"detail,omitempty"`
	Seq       uint64     `json:"seq,omitempty"`
	Timestamp time.Time  `json:"timestamp"`
}

// AgentState represents the scheduler lifecycle state.
type AgentState string

const (
	AgentStopped  AgentState = "stopped"
	AgentRunning  AgentState = "running"
	AgentStopping AgentState = "stopping"
)

// MonitorStatus is the last known state of one Monitor.
type MonitorStatus struct {
	Monitor    string          `json:"monitor"`
	LastKind   ObservationKind `json:"last_kind"`
	LastValue  string          `json:"last_value,omitempty"`
	LastSample time.Time       `json:"last_sample"`
}
