// Package scenario loads and runs scripted failure drills: a YAML file
// describing a replica set and an ordered list of steps (provision, wait,
// break, observe, heal). Scenarios double as executable teaching material,
// so validation is strict and failures stop the run by default.
package scenario

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/hashicorp/go-multierror"
	"gopkg.in/yaml.v2"

	"faultline/pkg/query"
)

// Step actions. AliasPrimary may stand in for a node id wherever a step
// names one; the runner resolves it against live status.
const (
	ActionInitialize    = "initialize"
	ActionWaitPrimary   = "wait_primary"
	ActionWaitHealthy   = "wait_healthy"
	ActionStatus        = "status"
	ActionCrash         = "crash"
	ActionRestore       = "restore"
	ActionRestoreAll    = "restore_all"
	ActionPartition     = "partition"
	ActionHealPartition = "heal_partition"
	ActionStepDown      = "step_down"
	ActionAddNode       = "add_node"
	ActionRemoveNode    = "remove_node"
	ActionLatency       = "latency"
	ActionQuery         = "query"
	ActionSleep         = "sleep"
	ActionCleanup       = "cleanup"

	AliasPrimary = "primary"
)

// Scenario is one drill: a named replica set plus the steps to run
// against it.
type Scenario struct {
	Name        string `yaml:"name"`
	Description string `yaml:"description,omitempty"`
	ReplicaSet  string `yaml:"replica_set"`
	Steps       []Step `yaml:"steps"`
}

// Step is one action with its parameters. Only the fields relevant to the
// action are read; Validate rejects missing required ones.
type Step struct {
	Action          string     `yaml:"action"`
	Node            string     `yaml:"node,omitempty"`
	Mode            string     `yaml:"mode,omitempty"`
	Nodes           int        `yaml:"nodes,omitempty"`
	StartingPort    int        `yaml:"starting_port,omitempty"`
	Timeout         string     `yaml:"timeout,omitempty"`
	GroupA          []string   `yaml:"group_a,omitempty"`
	GroupB          []string   `yaml:"group_b,omitempty"`
	Secs            int        `yaml:"secs,omitempty"`
	Role            string     `yaml:"role,omitempty"`
	Priority        *float64   `yaml:"priority,omitempty"`
	LatencyMS       int        `yaml:"latency_ms,omitempty"`
	JitterMS        int        `yaml:"jitter_ms,omitempty"`
	Query           *QueryStep `yaml:"query,omitempty"`
	Duration        string     `yaml:"duration,omitempty"`
	ContinueOnError bool       `yaml:"continue_on_error,omitempty"`
}

// QueryStep carries the executor request fields of a query action. The
// replica set comes from the scenario, everything else from here.
type QueryStep struct {
	Operation      string                   `yaml:"operation"`
	Database       string                   `yaml:"database"`
	Collection     string                   `yaml:"collection"`
	Filter         map[string]interface{}   `yaml:"filter,omitempty"`
	Update         map[string]interface{}   `yaml:"update,omitempty"`
	Document       map[string]interface{}   `yaml:"document,omitempty"`
	Documents      []map[string]interface{} `yaml:"documents,omitempty"`
	Pipeline       []map[string]interface{} `yaml:"pipeline,omitempty"`
	Limit          int64                    `yaml:"limit,omitempty"`
	Node           string                   `yaml:"node,omitempty"`
	ReadPreference string                   `yaml:"read_preference,omitempty"`
	ReadConcern    string                   `yaml:"read_concern,omitempty"`
	WriteConcern   interface{}              `yaml:"write_concern,omitempty"`
	Journal        *bool                    `yaml:"journal,omitempty"`
}

// Load reads, parses and validates a scenario file. Unknown YAML keys are
// rejected so typos surface before a drill runs half-way.
func Load(path string) (*Scenario, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}
	var sc Scenario
	if err := yaml.UnmarshalStrict(raw, &sc); err != nil {
		return nil, fmt.Errorf("failed to parse scenario %s: %w", filepath.Base(path), err)
	}
	if err := sc.Validate(); err != nil {
		return nil, err
	}
	return &sc, nil
}

// Validate checks the scenario statically. When an initialize step is
// present it also tracks the node ids the run will create, mirroring the
// manager's monotonic naming, and rejects references to nodes that can
// never exist. Scenarios without initialize target a pre-existing set, so
// node references are left to runtime there.
func (s *Scenario) Validate() error {
	var errs *multierror.Error

	if s.Name == "" {
		errs = multierror.Append(errs, fmt.Errorf("scenario name is required"))
	}
	if s.ReplicaSet == "" {
		errs = multierror.Append(errs, fmt.Errorf("replica_set is required"))
	}
	if len(s.Steps) == 0 {
		errs = multierror.Append(errs, fmt.Errorf("at least one step is required"))
	}

	known := make(map[string]bool)
	created := 0
	tracked := false
	declare := func(count int) {
		tracked = true
		for i := 0; i < count; i++ {
			known[fmt.Sprintf("%s-n%d", s.ReplicaSet, created)] = true
			created++
		}
	}
	checkRef := func(i int, ref string) {
		if !tracked || ref == AliasPrimary || known[ref] {
			return
		}
		errs = multierror.Append(errs, fmt.Errorf("step %d: node %q is never created in this scenario", i+1, ref))
	}

	for i, step := range s.Steps {
		stepErr := func(format string, args ...interface{}) {
			errs = multierror.Append(errs, fmt.Errorf("step %d (%s): %s", i+1, step.Action, fmt.Sprintf(format, args...)))
		}

		switch step.Action {
		case ActionInitialize:
			if step.Nodes < 1 {
				stepErr("nodes must be at least 1")
			} else {
				declare(step.Nodes)
			}
		case ActionWaitPrimary, ActionWaitHealthy:
			if step.Timeout != "" {
				if _, err := time.ParseDuration(step.Timeout); err != nil {
					stepErr("invalid timeout %q", step.Timeout)
				}
			}
		case ActionStatus, ActionRestoreAll, ActionHealPartition, ActionCleanup:
			// no parameters
		case ActionCrash:
			if step.Node == "" {
				stepErr("node is required")
			}
			checkRef(i, step.Node)
			switch step.Mode {
			case "", "clean", "hard":
			default:
				stepErr("unknown crash mode %q (want clean or hard)", step.Mode)
			}
		case ActionRestore:
			if step.Node == "" {
				stepErr("node is required")
			}
			checkRef(i, step.Node)
		case ActionPartition:
			if len(step.GroupA) == 0 || len(step.GroupB) == 0 {
				stepErr("both group_a and group_b are required")
			}
			seen := make(map[string]bool, len(step.GroupA))
			for _, n := range step.GroupA {
				seen[n] = true
				checkRef(i, n)
			}
			for _, n := range step.GroupB {
				if seen[n] {
					stepErr("node %q appears in both groups", n)
				}
				checkRef(i, n)
			}
		case ActionStepDown:
			if step.Secs < 0 {
				stepErr("secs must not be negative")
			}
		case ActionAddNode:
			switch step.Role {
			case "", "replica", "arbiter":
			default:
				stepErr("unknown role %q (want replica or arbiter)", step.Role)
			}
			if tracked {
				declare(1)
			}
		case ActionRemoveNode:
			if step.Node == "" {
				stepErr("node is required")
			}
			checkRef(i, step.Node)
		case ActionLatency:
			if step.Node == "" {
				stepErr("node is required")
			}
			checkRef(i, step.Node)
			if step.LatencyMS <= 0 {
				stepErr("latency_ms must be positive")
			}
		case ActionQuery:
			if step.Query == nil {
				stepErr("query block is required")
				continue
			}
			if step.Query.Operation == "" || step.Query.Database == "" || step.Query.Collection == "" {
				stepErr("operation, database and collection are required")
			} else if !query.Supported(step.Query.Operation) {
				stepErr("unsupported operation %q", step.Query.Operation)
			}
			if step.Query.Node != "" {
				checkRef(i, step.Query.Node)
			}
		case ActionSleep:
			d, err := time.ParseDuration(step.Duration)
			if err != nil || d <= 0 {
				stepErr("invalid duration %q", step.Duration)
			}
		default:
			stepErr("unknown action")
		}
	}

	return errs.ErrorOrNil()
}

func (s Step) describe() string {
	switch s.Action {
	case ActionInitialize:
		return fmt.Sprintf("Initialize %d nodes", s.Nodes)
	case ActionWaitPrimary:
		return "Wait for a primary"
	case ActionWaitHealthy:
		return "Wait for all members to report healthy"
	case ActionStatus:
		return "Report replica set status"
	case ActionCrash:
		mode := s.Mode
		if mode == "" {
			mode = "clean"
		}
		return fmt.Sprintf("Crash %s (%s)", s.Node, mode)
	case ActionRestore:
		return "Restore " + s.Node
	case ActionRestoreAll:
		return "Restore all crashed nodes"
	case ActionPartition:
		return fmt.Sprintf("Partition %v from %v", s.GroupA, s.GroupB)
	case ActionHealPartition:
		return "Heal partitions"
	case ActionStepDown:
		return "Step down the primary"
	case ActionAddNode:
		role := s.Role
		if role == "" {
			role = "replica"
		}
		return fmt.Sprintf("Add a %s member", role)
	case ActionRemoveNode:
		return "Remove " + s.Node
	case ActionLatency:
		return fmt.Sprintf("Inject %dms latency on %s", s.LatencyMS, s.Node)
	case ActionQuery:
		return fmt.Sprintf("Run %s against %s.%s", s.Query.Operation, s.Query.Database, s.Query.Collection)
	case ActionSleep:
		return "Sleep " + s.Duration
	case ActionCleanup:
		return "Remove the cluster"
	default:
		return s.Action
	}
}

// request builds the executor request for a query step. YAML nests maps as
// map[interface{}]interface{}, which the driver cannot marshal, so every
// document-shaped value is rewritten with string keys first.
func (q *QueryStep) request(replicaSet string) query.Request {
	req := query.Request{
		Operation:      q.Operation,
		ReplicaSet:     replicaSet,
		Database:       q.Database,
		Collection:     q.Collection,
		Filter:         yamlMap(q.Filter),
		Update:         yamlMap(q.Update),
		Document:       yamlMap(q.Document),
		Limit:          q.Limit,
		Node:           q.Node,
		ReadPreference: q.ReadPreference,
		ReadConcern:    q.ReadConcern,
		Journal:        q.Journal,
	}
	if q.WriteConcern != nil {
		req.WriteConcern = yamlValue(q.WriteConcern)
	}
	for _, d := range q.Documents {
		req.Documents = append(req.Documents, yamlMap(d))
	}
	for _, p := range q.Pipeline {
		req.Pipeline = append(req.Pipeline, yamlMap(p))
	}
	return req
}

func yamlMap(m map[string]interface{}) map[string]interface{} {
	if m == nil {
		return nil
	}
	return yamlValue(m).(map[string]interface{})
}

func yamlValue(v interface{}) interface{} {
	switch t := v.(type) {
	case map[interface{}]interface{}:
		out := make(map[string]interface{}, len(t))
		for k, e := range t {
			out[fmt.Sprintf("%v", k)] = yamlValue(e)
		}
		return out
	case map[string]interface{}:
		out := make(map[string]interface{}, len(t))
		for k, e := range t {
			out[k] = yamlValue(e)
		}
		return out
	case []interface{}:
		out := make([]interface{}, len(t))
		for i, e := range t {
			out[i] = yamlValue(e)
		}
		return out
	default:
		return v
	}
}
