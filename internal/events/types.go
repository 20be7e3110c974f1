package events

import "time"

// DeviceState is the process-wide view of the capture device.
type DeviceState string

const (
	DeviceStateReady DeviceState = "ready"
	DeviceStateBusy  DeviceState = "busy"
)

// DeviceStatus is published when the run queue starts or finishes a sequence.
type DeviceStatus struct {
	State      DeviceState
	SessionID  string
	QueueDepth int
	Timestamp  time.Time
}

// Outcome summarizes how an action's op sequence ended.
type Outcome string

const (
	// OutcomeOK means every op succeeded.
	OutcomeOK Outcome = "ok"
	// OutcomeDegraded means configuration failed but the read-back produced a capture.
	OutcomeDegraded Outcome = "degraded"
	// OutcomeFailed means no capture was read back.
	OutcomeFailed Outcome = "failed"
)

// ActionCompleted describes one finished action. Capture bytes are not carried.
type ActionCompleted struct {
	SessionID  string
	Command    string
	Kind       string
	Ops        int
	Outcome    Outcome
	Err        string
	CaptureLen int
	StartedAt  time.Time
	FinishedAt time.Time
}
