package xflow

import (
	"time"
)

// State is the lifecycle state of a Node.
type State int32

const (
	Stopped State = iota
	Running
)

func (s State) String() string {
	if s == Running {
		return "running"
	}
	return "stopped"
}

// ErrorReport carries a node failure to the error broadcaster.
type ErrorReport struct {
	NodeID   string
	NodeName string
	NodeType string
	Message  string
	Err      error
	// Envelope is the message being processed when the error occurred, if any.
	Envelope *Envelope
	At       time.Time
}

// NodeStats is a point-in-time snapshot of a node's counters.
type NodeStats struct {
	ID              string
	Name            string
	Type            string
	State           State
	Enabled         bool
	Processing      bool
	Idle            bool
	Queued          int
	Capacity        int
	Received        uint64 // successful enqueues
	Processed       uint64 // OnInput returned nil
	Failed          uint64 // OnInput returned an error or panicked
	Dropped         uint64 // sends this node shed on busy targets
	Overflowed      uint64 // deliveries to this node rejected on a full mailbox
	Bypassed        uint64 // direct-process invocations
	AvgProcessingMs float64
}

// PoolStats returns telemetry about the error dispatch pool.
type PoolStats struct {
	Dropped      uint64 // Reports dropped due to full buffer
	Processed    uint64 // Reports dispatched to listeners
	ActiveEvents int    // Current queue depth
	Workers      int    // Number of dispatch goroutines
	BufferSize   int    // Channel capacity
}

// Metrics aggregates graph telemetry.
type Metrics struct {
	Nodes               int
	Running             int
	Received            uint64
	Processed           uint64
	Failed              uint64
	Dropped             uint64
	Overflowed          uint64
	Bypassed            uint64
	Errors              uint64
	ErrorsDropped       uint64
	AvgProcessingTimeMs float64
}

// HealthStatus indicates graph health for Kubernetes probes.
type HealthStatus struct {
	Status    string // "healthy", "degraded", "unhealthy"
	Metrics   Metrics
	Timestamp time.Time
	Message   string
}
