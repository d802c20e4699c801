package chaos

import (
	"context"
	"fmt"
	"time"

	"faultline/internal/errdefs"
	"faultline/internal/logger"
	"faultline/pkg/cluster"

	"github.com/google/uuid"
	"github.com/hashicorp/go-multierror"
)

// CreatePartition isolates two disjoint node groups from each other while
// keeping every node reachable from the control plane wherever the chosen
// technique allows. Strategies are attempted in order of preference; the
// one that succeeds is recorded in the failure's config so healing knows
// exactly what to reverse.
func (s *Simulator) CreatePartition(ctx context.Context, setName string, groupA, groupB []string, description string) (*Failure, error) {
	topo, ok := s.nodes.Topology(setName)
	if !ok {
		return nil, errdefs.NotFound("replica set %q not found", setName)
	}
	if err := validateGroups(topo, groupA, groupB); err != nil {
		return nil, err
	}

	var attempts *multierror.Error
	for _, strat := range s.strategies {
		revert, err := strat.Apply(ctx, topo, groupA, groupB)
		if err != nil {
			logger.Debug(fmt.Sprintf("Partition strategy %s failed: %v", strat.Name(), err))
			attempts = multierror.Append(attempts, fmt.Errorf("%s: %w", strat.Name(), err))
			continue
		}

		if description == "" {
			description = fmt.Sprintf("partition of %s: %v | %v", setName, groupA, groupB)
		}
		cfg := map[string]interface{}{
			"strategy":    strat.Name(),
			"replica_set": setName,
			"group_a":     append([]string(nil), groupA...),
			"group_b":     append([]string(nil), groupB...),
		}
		for k, v := range revert {
			cfg[k] = v
		}
		f := &Failure{
			ID:            uuid.New().String(),
			Type:          FailureNetworkPartition,
			AffectedNodes: append(append([]string(nil), groupA...), groupB...),
			StartedAt:     time.Now().UTC(),
			Config:        cfg,
			Description:   description,
		}
		s.record(f)
		logger.Info(fmt.Sprintf("Created partition on %s via %s strategy", setName, strat.Name()))
		return f.clone(), nil
	}

	return nil, fmt.Errorf("every partition strategy failed: %w", attempts.ErrorOrNil())
}

// HealPartition reverses every active partition. With none active it is a
// no-op success.
func (s *Simulator) HealPartition(ctx context.Context) (bool, error) {
	s.mu.Lock()
	var partitions []*Failure
	for _, f := range s.failures {
		if f.Type == FailureNetworkPartition {
			partitions = append(partitions, f.clone())
		}
	}
	s.mu.Unlock()

	if len(partitions) == 0 {
		return true, nil
	}

	var errs *multierror.Error
	for _, f := range partitions {
		if err := s.revertPartition(ctx, f); err != nil {
			errs = multierror.Append(errs, fmt.Errorf("failure %s: %w", f.ID, err))
			continue
		}
		s.forget(f.ID)
	}
	if err := errs.ErrorOrNil(); err != nil {
		return false, fmt.Errorf("failed to heal partition: %w", err)
	}
	logger.Info(fmt.Sprintf("Healed %d partition(s)", len(partitions)))
	return true, nil
}

// revertPartition undoes one partition record through the strategy that
// created it.
func (s *Simulator) revertPartition(ctx context.Context, f *Failure) error {
	name, _ := f.Config["strategy"].(string)
	for _, strat := range s.strategies {
		if strat.Name() == name {
			return strat.Revert(ctx, f)
		}
	}
	return fmt.Errorf("partition %s records unknown strategy %q", f.ID, name)
}

func validateGroups(topo *cluster.Topology, groupA, groupB []string) error {
	if len(groupA) == 0 || len(groupB) == 0 {
		return fmt.Errorf("both partition groups must be non-empty")
	}
	seen := make(map[string]bool, len(groupA)+len(groupB))
	for _, id := range append(append([]string(nil), groupA...), groupB...) {
		if seen[id] {
			return fmt.Errorf("node %q appears in both partition groups", id)
		}
		seen[id] = true
		if _, ok := topo.Node(id); !ok {
			return errdefs.NotFound("node %q not found in replica set %q", id, topo.Name)
		}
	}
	return nil
}
