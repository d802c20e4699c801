// Package docker implements the sandbox runtime on a local Docker engine.
// Every node runs as one container with a published port for the control
// plane and a network alias for its peers.
package docker

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strconv"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/filters"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/api/types/network"
	"github.com/docker/docker/api/types/strslice"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"
	"github.com/docker/go-connections/nat"
	"github.com/hashicorp/go-multierror"

	"faultline/internal/constants"
	"faultline/internal/logger"
	"faultline/internal/sandbox"
)

const nodeLabel = "io.faultline.node"

type Runtime struct {
	cli *client.Client
}

func New() (*Runtime, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("failed to create docker client: %w", err)
	}
	return &Runtime{cli: cli}, nil
}

func (r *Runtime) Name() string { return "docker" }

func (r *Runtime) Ping(ctx context.Context) error {
	if _, err := r.cli.Ping(ctx); err != nil {
		return fmt.Errorf("docker engine unreachable: %w", err)
	}
	return nil
}

func (r *Runtime) EnsureNetwork(ctx context.Context, name string) error {
	if _, err := r.cli.NetworkInspect(ctx, name, network.InspectOptions{}); err == nil {
		return nil
	} else if !client.IsErrNotFound(err) {
		return fmt.Errorf("failed to inspect network %s: %w", name, err)
	}

	if _, err := r.cli.NetworkCreate(ctx, name, network.CreateOptions{Driver: "bridge"}); err != nil {
		return fmt.Errorf("failed to create network %s: %w", name, err)
	}
	logger.Debug(fmt.Sprintf("Created network %s", name))
	return nil
}

// EnsureImage pulls ref unless it is already present locally.
func (r *Runtime) EnsureImage(ctx context.Context, ref string) error {
	if _, _, err := r.cli.ImageInspectWithRaw(ctx, ref); err == nil {
		return nil
	} else if !client.IsErrNotFound(err) {
		return fmt.Errorf("failed to inspect image %s: %w", ref, err)
	}

	logger.Info(fmt.Sprintf("Pulling image %s", ref))
	reader, err := r.cli.ImagePull(ctx, ref, image.PullOptions{})
	if err != nil {
		return fmt.Errorf("failed to pull image %s: %w", ref, err)
	}
	defer reader.Close()
	if _, err := io.Copy(io.Discard, reader); err != nil {
		return fmt.Errorf("failed to read image pull stream: %w", err)
	}
	return nil
}

func (r *Runtime) Create(ctx context.Context, spec sandbox.Spec) (sandbox.Info, error) {
	if err := r.EnsureImage(ctx, spec.Image); err != nil {
		return sandbox.Info{}, err
	}

	internalPort, err := nat.NewPort("tcp", strconv.Itoa(spec.InternalPort))
	if err != nil {
		return sandbox.Info{}, fmt.Errorf("invalid internal port %d: %w", spec.InternalPort, err)
	}

	name := sandbox.Name(spec.NodeID)
	hostname := sandbox.Hostname(spec.NodeID)

	containerCfg := &container.Config{
		Image:        spec.Image,
		Hostname:     hostname,
		Cmd:          strslice.StrSlice(spec.Command),
		ExposedPorts: nat.PortSet{internalPort: struct{}{}},
		Labels:       map[string]string{nodeLabel: spec.NodeID},
	}
	hostCfg := &container.HostConfig{
		PortBindings: nat.PortMap{
			internalPort: []nat.PortBinding{{HostIP: "0.0.0.0", HostPort: strconv.Itoa(spec.PublishedPort)}},
		},
		CapAdd: strslice.StrSlice{"NET_ADMIN"},
		Resources: container.Resources{
			Memory: spec.MemoryLimitMB * 1024 * 1024,
		},
	}
	networkCfg := &network.NetworkingConfig{
		EndpointsConfig: map[string]*network.EndpointSettings{
			spec.Network: {Aliases: []string{hostname}},
		},
	}

	created, err := r.cli.ContainerCreate(ctx, containerCfg, hostCfg, networkCfg, nil, name)
	if err != nil {
		return sandbox.Info{}, fmt.Errorf("failed to create container %s: %w", name, err)
	}
	if err := r.cli.ContainerStart(ctx, created.ID, container.StartOptions{}); err != nil {
		return sandbox.Info{}, fmt.Errorf("failed to start container %s: %w", name, err)
	}

	logger.Debug(fmt.Sprintf("Created sandbox %s (port %d)", name, spec.PublishedPort))
	return sandbox.Info{
		NodeID:       spec.NodeID,
		Name:         name,
		Running:      true,
		ExternalHost: "localhost",
		ExternalPort: spec.PublishedPort,
		InternalAddr: sandbox.InternalAddr(spec.NodeID),
	}, nil
}

func (r *Runtime) Start(ctx context.Context, nodeID string) error {
	name := sandbox.Name(nodeID)
	if err := r.cli.ContainerStart(ctx, name, container.StartOptions{}); err != nil {
		return fmt.Errorf("failed to start sandbox %s: %w", name, err)
	}
	logger.Debug(fmt.Sprintf("Started sandbox %s", name))
	return nil
}

func (r *Runtime) Stop(ctx context.Context, nodeID string, graceSeconds int) error {
	name := sandbox.Name(nodeID)
	if err := r.cli.ContainerStop(ctx, name, container.StopOptions{Timeout: &graceSeconds}); err != nil {
		return fmt.Errorf("failed to stop sandbox %s: %w", name, err)
	}
	logger.Debug(fmt.Sprintf("Stopped sandbox %s", name))
	return nil
}

func (r *Runtime) Kill(ctx context.Context, nodeID string) error {
	name := sandbox.Name(nodeID)
	if err := r.cli.ContainerKill(ctx, name, "SIGKILL"); err != nil {
		return fmt.Errorf("failed to kill sandbox %s: %w", name, err)
	}
	logger.Debug(fmt.Sprintf("Killed sandbox %s", name))
	return nil
}

func (r *Runtime) Remove(ctx context.Context, nodeID string, force bool) error {
	name := sandbox.Name(nodeID)
	if err := r.cli.ContainerRemove(ctx, name, container.RemoveOptions{Force: force}); err != nil {
		if client.IsErrNotFound(err) {
			return nil
		}
		return fmt.Errorf("failed to remove sandbox %s: %w", name, err)
	}
	logger.Debug(fmt.Sprintf("Removed sandbox %s", name))
	return nil
}

func (r *Runtime) Exec(ctx context.Context, nodeID string, cmd []string) (sandbox.ExecResult, error) {
	name := sandbox.Name(nodeID)

	exec, err := r.cli.ContainerExecCreate(ctx, name, container.ExecOptions{
		Cmd:          cmd,
		AttachStdout: true,
		AttachStderr: true,
	})
	if err != nil {
		return sandbox.ExecResult{}, fmt.Errorf("failed to create exec in %s: %w", name, err)
	}

	resp, err := r.cli.ContainerExecAttach(ctx, exec.ID, container.ExecStartOptions{})
	if err != nil {
		return sandbox.ExecResult{}, fmt.Errorf("failed to attach exec in %s: %w", name, err)
	}
	defer resp.Close()

	var output bytes.Buffer
	if _, err := stdcopy.StdCopy(&output, &output, resp.Reader); err != nil {
		return sandbox.ExecResult{}, fmt.Errorf("failed to read exec output from %s: %w", name, err)
	}

	inspect, err := r.cli.ContainerExecInspect(ctx, exec.ID)
	if err != nil {
		return sandbox.ExecResult{}, fmt.Errorf("failed to inspect exec in %s: %w", name, err)
	}

	return sandbox.ExecResult{ExitCode: inspect.ExitCode, Output: output.String()}, nil
}

func (r *Runtime) Logs(ctx context.Context, nodeID string, tailLines int) (string, error) {
	name := sandbox.Name(nodeID)

	reader, err := r.cli.ContainerLogs(ctx, name, container.LogsOptions{
		ShowStdout: true,
		ShowStderr: true,
		Tail:       strconv.Itoa(tailLines),
	})
	if err != nil {
		return "", fmt.Errorf("failed to fetch logs of %s: %w", name, err)
	}
	defer reader.Close()

	var output bytes.Buffer
	if _, err := stdcopy.StdCopy(&output, &output, reader); err != nil {
		return "", fmt.Errorf("failed to read log stream of %s: %w", name, err)
	}
	return output.String(), nil
}

func (r *Runtime) ConnectNetwork(ctx context.Context, nodeID, netName string) error {
	name := sandbox.Name(nodeID)
	settings := &network.EndpointSettings{Aliases: []string{sandbox.Hostname(nodeID)}}
	if err := r.cli.NetworkConnect(ctx, netName, name, settings); err != nil {
		return fmt.Errorf("failed to connect %s to network %s: %w", name, netName, err)
	}
	return nil
}

func (r *Runtime) DisconnectNetwork(ctx context.Context, nodeID, netName string) error {
	name := sandbox.Name(nodeID)
	if err := r.cli.NetworkDisconnect(ctx, netName, name, true); err != nil {
		return fmt.Errorf("failed to disconnect %s from network %s: %w", name, netName, err)
	}
	return nil
}

func (r *Runtime) Inspect(ctx context.Context, nodeID string) (sandbox.Info, error) {
	name := sandbox.Name(nodeID)

	inspect, err := r.cli.ContainerInspect(ctx, name)
	if err != nil {
		return sandbox.Info{}, fmt.Errorf("failed to inspect sandbox %s: %w", name, err)
	}
	return r.infoFromInspect(nodeID, inspect), nil
}

func (r *Runtime) infoFromInspect(nodeID string, inspect types.ContainerJSON) sandbox.Info {
	info := sandbox.Info{
		NodeID:       nodeID,
		Name:         sandbox.Name(nodeID),
		InternalAddr: sandbox.InternalAddr(nodeID),
		ExternalHost: "localhost",
		Networks:     map[string]string{},
	}
	if inspect.State != nil {
		info.Running = inspect.State.Running
	}
	if inspect.NetworkSettings != nil {
		for netName, endpoint := range inspect.NetworkSettings.Networks {
			info.Networks[netName] = endpoint.IPAddress
		}
		for port, bindings := range inspect.NetworkSettings.Ports {
			if port.Int() == constants.MongoPort && len(bindings) > 0 {
				if external, err := strconv.Atoi(bindings[0].HostPort); err == nil {
					info.ExternalPort = external
				}
			}
		}
	}
	return info
}

func (r *Runtime) List(ctx context.Context) ([]sandbox.Info, error) {
	containers, err := r.cli.ContainerList(ctx, container.ListOptions{
		All:     true,
		Filters: filters.NewArgs(filters.Arg("label", nodeLabel)),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list sandboxes: %w", err)
	}

	infos := make([]sandbox.Info, 0, len(containers))
	for _, c := range containers {
		nodeID := c.Labels[nodeLabel]
		if nodeID == "" {
			continue
		}
		info := sandbox.Info{
			NodeID:       nodeID,
			Name:         sandbox.Name(nodeID),
			Running:      c.State == "running",
			ExternalHost: "localhost",
			InternalAddr: sandbox.InternalAddr(nodeID),
		}
		for _, p := range c.Ports {
			if int(p.PrivatePort) == constants.MongoPort && p.PublicPort > 0 {
				info.ExternalPort = int(p.PublicPort)
			}
		}
		infos = append(infos, info)
	}
	return infos, nil
}

// CleanupAll force-removes every faultline sandbox and the partition
// network. Used at startup against leftovers and at shutdown.
func (r *Runtime) CleanupAll(ctx context.Context) error {
	var errs *multierror.Error

	infos, err := r.List(ctx)
	if err != nil {
		return err
	}
	for _, info := range infos {
		if err := r.Remove(ctx, info.NodeID, true); err != nil {
			errs = multierror.Append(errs, err)
		}
	}

	if _, err := r.cli.NetworkInspect(ctx, constants.PartitionNetwork, network.InspectOptions{}); err == nil {
		if err := r.cli.NetworkRemove(ctx, constants.PartitionNetwork); err != nil {
			errs = multierror.Append(errs, fmt.Errorf("failed to remove network %s: %w", constants.PartitionNetwork, err))
		}
	}

	if len(infos) > 0 {
		logger.Info(fmt.Sprintf("Removed %d sandbox(es)", len(infos)))
	}
	return errs.ErrorOrNil()
}
