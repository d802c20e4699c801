// Package query executes single data operations against a chosen node of a
// replica set, with tunable consistency, and reports a uniform result
// envelope whatever the outcome.
package query

// Request describes one operation. Node pins the target explicitly, which
// is allowed even for writes so consistency tradeoffs can be demonstrated
// against non-primary members.
type Request struct {
	Operation      string                   `json:"operation"`
	ReplicaSet     string                   `json:"replica_set"`
	Database       string                   `json:"database"`
	Collection     string                   `json:"collection"`
	Filter         map[string]interface{}   `json:"filter,omitempty"`
	Update         map[string]interface{}   `json:"update,omitempty"`
	Document       map[string]interface{}   `json:"document,omitempty"`
	Documents      []map[string]interface{} `json:"documents,omitempty"`
	Pipeline       []map[string]interface{} `json:"pipeline,omitempty"`
	Limit          int64                    `json:"limit,omitempty"`
	Node           string                   `json:"node,omitempty"`
	ReadPreference string                   `json:"read_preference,omitempty"`
	ReadConcern    string                   `json:"read_concern,omitempty"`
	WriteConcern   interface{}              `json:"write_concern,omitempty"`
	Journal        *bool                    `json:"journal,omitempty"`
}

// Result is the envelope every execution returns. Failures set Success
// false and Error instead of propagating, so callers always get structure.
type Result struct {
	Success        bool        `json:"success"`
	Operation      string      `json:"operation"`
	Node           string      `json:"node,omitempty"`
	Count          int64       `json:"count"`
	DurationMS     float64     `json:"duration_ms"`
	ReadPreference string      `json:"read_preference,omitempty"`
	ReadConcern    string      `json:"read_concern,omitempty"`
	WriteConcern   interface{} `json:"write_concern,omitempty"`
	Data           interface{} `json:"data,omitempty"`
	Error          string      `json:"error,omitempty"`
}
