package chaos

import "time"

// FailureType discriminates active failure records.
type FailureType string

const (
	FailureNodeCrash        FailureType = "node_crash"
	FailureNetworkPartition FailureType = "network_partition"
	FailureLatency          FailureType = "latency_injection"
	FailurePacketLoss       FailureType = "packet_loss"
)

// CrashType selects how a node is taken down.
type CrashType string

const (
	// CrashClean stops the sandbox with a grace period.
	CrashClean CrashType = "clean"
	// CrashHard kills it immediately.
	CrashHard CrashType = "hard"
)

// Failure is one tracked, independently clearable fault. Config carries
// the injection parameters plus whatever revert data the applied strategy
// recorded.
type Failure struct {
	ID            string                 `json:"failure_id"`
	Type          FailureType            `json:"failure_type"`
	AffectedNodes []string               `json:"affected_nodes"`
	StartedAt     time.Time              `json:"started_at"`
	Config        map[string]interface{} `json:"config"`
	Description   string                 `json:"description"`
}

// clone returns a deep copy so callers can never mutate simulator state
// through a returned record.
func (f *Failure) clone() *Failure {
	c := *f
	c.AffectedNodes = append([]string(nil), f.AffectedNodes...)
	c.Config = copyConfig(f.Config)
	return &c
}

func copyConfig(in map[string]interface{}) map[string]interface{} {
	if in == nil {
		return nil
	}
	out := make(map[string]interface{}, len(in))
	for k, v := range in {
		out[k] = copyValue(v)
	}
	return out
}

func copyValue(v interface{}) interface{} {
	switch t := v.(type) {
	case []string:
		return append([]string(nil), t...)
	case map[string][]string:
		out := make(map[string][]string, len(t))
		for k, e := range t {
			out[k] = append([]string(nil), e...)
		}
		return out
	case map[string]interface{}:
		return copyConfig(t)
	case []interface{}:
		out := make([]interface{}, len(t))
		for i, e := range t {
			out[i] = copyValue(e)
		}
		return out
	default:
		return v
	}
}
