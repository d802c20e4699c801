package scenario

import (
	"context"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"

	"faultline/internal/cli"
	"faultline/internal/logger"
	"faultline/pkg/chaos"
	"faultline/pkg/cluster"
	"faultline/pkg/query"
)

const (
	defaultWaitWindow   = 60 * time.Second
	defaultPollInterval = time.Second
)

// Cluster is the replica set surface the runner drives; satisfied by
// cluster.Manager.
type Cluster interface {
	Initialize(ctx context.Context, name string, nodeCount, startingPort int) (*cluster.SetStatus, error)
	Status(ctx context.Context, name string) (*cluster.SetStatus, error)
	AddMember(ctx context.Context, name string, role cluster.Role, priority float64) (*cluster.Node, error)
	RemoveMember(ctx context.Context, name, nodeID string) (bool, error)
	StepDownPrimary(ctx context.Context, name string, stepDownSecs int) (bool, error)
	Cleanup(ctx context.Context, name string)
}

// Chaos is the failure surface; satisfied by chaos.Simulator.
type Chaos interface {
	CrashNode(ctx context.Context, nodeID string, crashType chaos.CrashType) (*chaos.Failure, error)
	RestoreNode(ctx context.Context, nodeID string) (bool, error)
	CreatePartition(ctx context.Context, setName string, groupA, groupB []string, description string) (*chaos.Failure, error)
	HealPartition(ctx context.Context) (bool, error)
	InjectLatency(ctx context.Context, nodeID string, latencyMS, jitterMS int) (*chaos.Failure, error)
	ActiveFailures() map[string]*chaos.Failure
}

// Queries executes data operations; satisfied by query.Executor.
type Queries interface {
	Execute(ctx context.Context, req query.Request) *query.Result
}

// Runner executes a scenario step by step, reporting progress through
// nested terminal status lines. A failed step stops the run unless the
// step opted into continue_on_error.
type Runner struct {
	cluster Cluster
	chaos   Chaos
	queries Queries

	pollInterval time.Duration
	waitWindow   time.Duration

	// lastPrimary remembers the node a primary alias last resolved to, so
	// a later "restore primary" brings back the node that was crashed
	// rather than whoever got elected since.
	lastPrimary string
}

func NewRunner(c Cluster, sim Chaos, q Queries) *Runner {
	return &Runner{
		cluster:      c,
		chaos:        sim,
		queries:      q,
		pollInterval: defaultPollInterval,
		waitWindow:   defaultWaitWindow,
	}
}

// Run validates and executes the scenario. Unless keep is set, the replica
// set is removed at the end of the run and after a failed step, so an
// aborted drill does not leave sandboxes behind.
func (r *Runner) Run(ctx context.Context, sc *Scenario, keep bool) error {
	if err := sc.Validate(); err != nil {
		return err
	}

	title := "Scenario " + sc.Name
	if sc.Description != "" {
		title = fmt.Sprintf("Scenario %s: %s", sc.Name, sc.Description)
	}
	root := cli.NewLogger(title, nil)

	cleanedUp := false
	for i, step := range sc.Steps {
		l := root.Log(fmt.Sprintf("Step %d/%d: %s", i+1, len(sc.Steps), step.describe()))
		if err := r.runStep(ctx, sc, step); err != nil {
			if step.ContinueOnError {
				l.Warn(fmt.Sprintf("Step %d/%d failed, continuing: %v", i+1, len(sc.Steps), err))
				continue
			}
			failure := l.Fail(fmt.Sprintf("step %d (%s) failed", i+1, step.Action), err)
			if !keep {
				r.cluster.Cleanup(ctx, sc.ReplicaSet)
			}
			return failure
		}
		if step.Action == ActionCleanup {
			cleanedUp = true
		}
		l.Success(fmt.Sprintf("Step %d/%d: %s", i+1, len(sc.Steps), step.describe()))
	}

	if !cleanedUp && !keep {
		l := root.Log("Removing scenario cluster")
		r.cluster.Cleanup(ctx, sc.ReplicaSet)
		l.Success("Scenario cluster removed")
	}

	root.Success(fmt.Sprintf("Scenario %s complete", sc.Name))
	return nil
}

func (r *Runner) runStep(ctx context.Context, sc *Scenario, step Step) error {
	set := sc.ReplicaSet

	switch step.Action {
	case ActionInitialize:
		_, err := r.cluster.Initialize(ctx, set, step.Nodes, step.StartingPort)
		return err

	case ActionWaitPrimary:
		return r.waitFor(ctx, set, step.Timeout, func(st *cluster.SetStatus) error {
			if st.Primary == nil {
				return fmt.Errorf("no primary elected yet")
			}
			return nil
		})

	case ActionWaitHealthy:
		return r.waitFor(ctx, set, step.Timeout, func(st *cluster.SetStatus) error {
			if st.Health != cluster.HealthOK {
				return fmt.Errorf("replica set health is %s", st.Health)
			}
			return nil
		})

	case ActionStatus:
		st, err := r.cluster.Status(ctx, set)
		if err != nil {
			return err
		}
		logStatus(st)
		return nil

	case ActionCrash:
		node, err := r.resolveNode(ctx, set, step.Node)
		if err != nil {
			return err
		}
		mode := chaos.CrashClean
		if step.Mode == "hard" {
			mode = chaos.CrashHard
		}
		_, err = r.chaos.CrashNode(ctx, node, mode)
		return err

	case ActionRestore:
		node := step.Node
		if node == AliasPrimary {
			if r.lastPrimary == "" {
				return fmt.Errorf("no step resolved a primary before this restore")
			}
			node = r.lastPrimary
		}
		_, err := r.chaos.RestoreNode(ctx, node)
		return err

	case ActionRestoreAll:
		for _, f := range r.chaos.ActiveFailures() {
			if f.Type != chaos.FailureNodeCrash {
				continue
			}
			for _, node := range f.AffectedNodes {
				if _, err := r.chaos.RestoreNode(ctx, node); err != nil {
					return err
				}
			}
		}
		return nil

	case ActionPartition:
		groupA, err := r.resolveGroup(ctx, set, step.GroupA)
		if err != nil {
			return err
		}
		groupB, err := r.resolveGroup(ctx, set, step.GroupB)
		if err != nil {
			return err
		}
		_, err = r.chaos.CreatePartition(ctx, set, groupA, groupB, "scenario "+sc.Name)
		return err

	case ActionHealPartition:
		_, err := r.chaos.HealPartition(ctx)
		return err

	case ActionStepDown:
		_, err := r.cluster.StepDownPrimary(ctx, set, step.Secs)
		return err

	case ActionAddNode:
		role := cluster.RoleReplica
		if step.Role == "arbiter" {
			role = cluster.RoleArbiter
		}
		priority := 1.0
		if step.Priority != nil {
			priority = *step.Priority
		}
		_, err := r.cluster.AddMember(ctx, set, role, priority)
		return err

	case ActionRemoveNode:
		node, err := r.resolveNode(ctx, set, step.Node)
		if err != nil {
			return err
		}
		_, err = r.cluster.RemoveMember(ctx, set, node)
		return err

	case ActionLatency:
		node, err := r.resolveNode(ctx, set, step.Node)
		if err != nil {
			return err
		}
		_, err = r.chaos.InjectLatency(ctx, node, step.LatencyMS, step.JitterMS)
		return err

	case ActionQuery:
		req := step.Query.request(set)
		if req.Node == AliasPrimary {
			node, err := r.resolveNode(ctx, set, req.Node)
			if err != nil {
				return err
			}
			req.Node = node
		}
		res := r.queries.Execute(ctx, req)
		if !res.Success {
			return fmt.Errorf("%s failed: %s", res.Operation, res.Error)
		}
		logger.Info(fmt.Sprintf("%s on %s: count=%d in %.1fms", res.Operation, res.Node, res.Count, res.DurationMS))
		return nil

	case ActionSleep:
		d, err := time.ParseDuration(step.Duration)
		if err != nil {
			return err
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(d):
			return nil
		}

	case ActionCleanup:
		r.cluster.Cleanup(ctx, set)
		return nil
	}

	return fmt.Errorf("unknown action %q", step.Action)
}

// resolveNode maps the primary alias onto the node currently reported as
// primary, remembering the answer for later restore steps. Plain node ids
// pass through untouched.
func (r *Runner) resolveNode(ctx context.Context, set, ref string) (string, error) {
	if ref != AliasPrimary {
		return ref, nil
	}
	st, err := r.cluster.Status(ctx, set)
	if err != nil {
		return "", err
	}
	if st.Primary == nil {
		return "", fmt.Errorf("replica set %s has no primary to resolve", set)
	}
	r.lastPrimary = *st.Primary
	return *st.Primary, nil
}

func (r *Runner) resolveGroup(ctx context.Context, set string, refs []string) ([]string, error) {
	out := make([]string, 0, len(refs))
	for _, ref := range refs {
		node, err := r.resolveNode(ctx, set, ref)
		if err != nil {
			return nil, err
		}
		out = append(out, node)
	}
	return out, nil
}

// waitFor polls the set status until cond passes or the window elapses.
func (r *Runner) waitFor(ctx context.Context, set, timeout string, cond func(*cluster.SetStatus) error) error {
	window := r.waitWindow
	if timeout != "" {
		parsed, err := time.ParseDuration(timeout)
		if err != nil {
			return err
		}
		window = parsed
	}

	op := func() error {
		st, err := r.cluster.Status(ctx, set)
		if err != nil {
			return err
		}
		return cond(st)
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = r.pollInterval
	bo.MaxInterval = 4 * r.pollInterval
	bo.MaxElapsedTime = window
	if err := backoff.Retry(op, backoff.WithContext(bo, ctx)); err != nil {
		return fmt.Errorf("condition not met within %s: %w", window, err)
	}
	return nil
}

func logStatus(st *cluster.SetStatus) {
	primary := "none"
	if st.Primary != nil {
		primary = *st.Primary
	}
	logger.Info(fmt.Sprintf("%s: health=%s primary=%s members=%d", st.SetName, st.Health, primary, len(st.Members)))
	for _, m := range st.Members {
		logger.Info(fmt.Sprintf("  %s: state=%s health=%d", m.NodeID, m.StateLabel, m.Health))
	}
}
