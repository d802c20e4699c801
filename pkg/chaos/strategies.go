package chaos

import (
	"context"
	"fmt"
	"strings"

	"faultline/internal/constants"
	"faultline/internal/sandbox"
	"faultline/pkg/cluster"

	"github.com/hashicorp/go-multierror"
)

// PartitionStrategy is one isolation technique. Apply enforces the
// partition fully or not at all, rolling back its own partial work on
// failure, and returns the revert data to store in the failure record.
type PartitionStrategy interface {
	Name() string
	Apply(ctx context.Context, topo *cluster.Topology, groupA, groupB []string) (map[string]interface{}, error)
	Revert(ctx context.Context, f *Failure) error
}

// hostsStrategy blackholes the opposite group's hostnames through
// marker-tagged /etc/hosts entries. Peers resolve each other by hostname
// only, so poisoning resolution severs them while the control plane
// (which connects by published address) keeps working.
type hostsStrategy struct {
	runtime sandbox.Runtime
}

func (h *hostsStrategy) Name() string { return "hosts" }

func (h *hostsStrategy) Apply(ctx context.Context, topo *cluster.Topology, groupA, groupB []string) (map[string]interface{}, error) {
	var touched []string
	apply := func(nodes, peers []string) error {
		for _, id := range nodes {
			lines := make([]string, 0, len(peers))
			for _, peer := range peers {
				lines = append(lines, fmt.Sprintf("%s %s %s", constants.BlackholeAddress, sandbox.Hostname(peer), constants.HostsMarker))
			}
			if err := h.appendHosts(ctx, id, lines); err != nil {
				return fmt.Errorf("node %s: %w", id, err)
			}
			touched = append(touched, id)
		}
		return nil
	}

	if err := apply(groupA, groupB); err != nil {
		h.strip(ctx, touched)
		return nil, err
	}
	if err := apply(groupB, groupA); err != nil {
		h.strip(ctx, touched)
		return nil, err
	}
	return nil, nil
}

func (h *hostsStrategy) Revert(ctx context.Context, f *Failure) error {
	var errs *multierror.Error
	for _, id := range f.AffectedNodes {
		if err := h.stripOne(ctx, id); err != nil {
			errs = multierror.Append(errs, fmt.Errorf("node %s: %w", id, err))
		}
	}
	return errs.ErrorOrNil()
}

func (h *hostsStrategy) appendHosts(ctx context.Context, nodeID string, lines []string) error {
	args := make([]string, len(lines))
	for i, l := range lines {
		args[i] = "'" + l + "'"
	}
	script := fmt.Sprintf("printf '%%s\\n' %s >> /etc/hosts", strings.Join(args, " "))
	res, err := h.runtime.Exec(ctx, nodeID, []string{"sh", "-c", script})
	if err != nil {
		return err
	}
	if res.ExitCode != 0 {
		return fmt.Errorf("hosts append exited %d: %s", res.ExitCode, strings.TrimSpace(res.Output))
	}
	return nil
}

// stripOne removes every marker-tagged line. /etc/hosts is a mount inside
// the sandbox, so it is rewritten in place instead of renamed over.
func (h *hostsStrategy) stripOne(ctx context.Context, nodeID string) error {
	script := fmt.Sprintf("grep -v '%s' /etc/hosts > /tmp/hosts.clean && cat /tmp/hosts.clean > /etc/hosts && rm -f /tmp/hosts.clean", constants.HostsMarker)
	res, err := h.runtime.Exec(ctx, nodeID, []string{"sh", "-c", script})
	if err != nil {
		return err
	}
	if res.ExitCode != 0 {
		return fmt.Errorf("hosts strip exited %d: %s", res.ExitCode, strings.TrimSpace(res.Output))
	}
	return nil
}

func (h *hostsStrategy) strip(ctx context.Context, nodeIDs []string) {
	for _, id := range nodeIDs {
		_ = h.stripOne(ctx, id)
	}
}

// filterStrategy installs outbound drop rules keyed on the opposite
// group's resolved addresses. Needs iptables and NET_ADMIN inside the
// sandbox; when either is missing the chain falls through to detaching.
type filterStrategy struct {
	runtime sandbox.Runtime
}

func (f *filterStrategy) Name() string { return "packet_filter" }

func (f *filterStrategy) Apply(ctx context.Context, topo *cluster.Topology, groupA, groupB []string) (map[string]interface{}, error) {
	ips := make(map[string]string)
	for _, id := range append(append([]string(nil), groupA...), groupB...) {
		info, err := f.runtime.Inspect(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("failed to inspect node %s: %w", id, err)
		}
		ip := info.Networks[constants.SharedNetwork]
		if ip == "" {
			return nil, fmt.Errorf("node %s has no address on %s", id, constants.SharedNetwork)
		}
		ips[id] = ip
	}

	rules := make(map[string][]string)
	apply := func(nodes, peers []string) error {
		for _, id := range nodes {
			for _, peer := range peers {
				if err := f.addDrop(ctx, id, ips[peer]); err != nil {
					return fmt.Errorf("node %s: %w", id, err)
				}
				rules[id] = append(rules[id], ips[peer])
			}
		}
		return nil
	}

	if err := apply(groupA, groupB); err != nil {
		f.deleteRules(ctx, rules)
		return nil, err
	}
	if err := apply(groupB, groupA); err != nil {
		f.deleteRules(ctx, rules)
		return nil, err
	}
	return map[string]interface{}{"drop_rules": rules}, nil
}

func (f *filterStrategy) Revert(ctx context.Context, failure *Failure) error {
	rules, ok := failure.Config["drop_rules"].(map[string][]string)
	if !ok {
		return fmt.Errorf("partition %s has no drop rules recorded", failure.ID)
	}
	var errs *multierror.Error
	for id, ips := range rules {
		for _, ip := range ips {
			if err := f.delDrop(ctx, id, ip); err != nil {
				errs = multierror.Append(errs, fmt.Errorf("node %s ip %s: %w", id, ip, err))
			}
		}
	}
	return errs.ErrorOrNil()
}

func (f *filterStrategy) addDrop(ctx context.Context, nodeID, ip string) error {
	return f.iptables(ctx, nodeID, "-A", ip)
}

func (f *filterStrategy) delDrop(ctx context.Context, nodeID, ip string) error {
	return f.iptables(ctx, nodeID, "-D", ip)
}

func (f *filterStrategy) iptables(ctx context.Context, nodeID, action, ip string) error {
	res, err := f.runtime.Exec(ctx, nodeID, []string{"iptables", action, "OUTPUT", "-d", ip, "-j", "DROP"})
	if err != nil {
		return err
	}
	if res.ExitCode != 0 {
		return fmt.Errorf("iptables exited %d: %s", res.ExitCode, strings.TrimSpace(res.Output))
	}
	return nil
}

func (f *filterStrategy) deleteRules(ctx context.Context, rules map[string][]string) {
	for id, ips := range rules {
		for _, ip := range ips {
			_ = f.delDrop(ctx, id, ip)
		}
	}
}

// detachStrategy moves the second group off the shared network entirely.
// Last resort: it also cuts the group off from the control plane, so
// health polling reports those nodes down while the partition holds.
type detachStrategy struct {
	runtime sandbox.Runtime
}

func (d *detachStrategy) Name() string { return "detach" }

func (d *detachStrategy) Apply(ctx context.Context, topo *cluster.Topology, groupA, groupB []string) (map[string]interface{}, error) {
	if err := d.runtime.EnsureNetwork(ctx, constants.PartitionNetwork); err != nil {
		return nil, fmt.Errorf("failed to prepare partition network: %w", err)
	}

	var detached []string
	for _, id := range groupB {
		if err := d.runtime.ConnectNetwork(ctx, id, constants.PartitionNetwork); err != nil {
			d.reattach(ctx, detached)
			return nil, fmt.Errorf("node %s: %w", id, err)
		}
		if err := d.runtime.DisconnectNetwork(ctx, id, constants.SharedNetwork); err != nil {
			_ = d.runtime.DisconnectNetwork(ctx, id, constants.PartitionNetwork)
			d.reattach(ctx, detached)
			return nil, fmt.Errorf("node %s: %w", id, err)
		}
		detached = append(detached, id)
	}
	return map[string]interface{}{"detached_nodes": append([]string(nil), groupB...)}, nil
}

func (d *detachStrategy) Revert(ctx context.Context, f *Failure) error {
	nodes, ok := f.Config["detached_nodes"].([]string)
	if !ok {
		return fmt.Errorf("partition %s has no detached nodes recorded", f.ID)
	}
	var errs *multierror.Error
	for _, id := range nodes {
		if err := d.runtime.ConnectNetwork(ctx, id, constants.SharedNetwork); err != nil {
			errs = multierror.Append(errs, fmt.Errorf("reattach %s: %w", id, err))
			continue
		}
		if err := d.runtime.DisconnectNetwork(ctx, id, constants.PartitionNetwork); err != nil {
			errs = multierror.Append(errs, fmt.Errorf("detach %s from partition net: %w", id, err))
		}
	}
	return errs.ErrorOrNil()
}

func (d *detachStrategy) reattach(ctx context.Context, nodeIDs []string) {
	for _, id := range nodeIDs {
		_ = d.runtime.ConnectNetwork(ctx, id, constants.SharedNetwork)
		_ = d.runtime.DisconnectNetwork(ctx, id, constants.PartitionNetwork)
	}
}
