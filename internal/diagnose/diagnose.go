// Package diagnose probes the environment the control plane depends on:
// runtime reachability, node image availability and leftovers from earlier
// runs, including whether leftover nodes still answer on their published
// ports. Checks only report; Fix removes leftovers.
package diagnose

import (
	"context"
	"fmt"
	"time"

	"faultline/internal/logger"
	"faultline/internal/sandbox"
)

const probeTimeout = 3 * time.Second

// Status grades one check outcome.
type Status string

const (
	StatusOK   Status = "ok"
	StatusWarn Status = "warn"
	StatusFail Status = "fail"
)

// Check is the outcome of one probe.
type Check struct {
	Name   string `json:"name"`
	Status Status `json:"status"`
	Detail string `json:"detail"`
}

// Report collects check outcomes plus the leftover sandboxes found, so a
// caller can decide whether to offer a cleanup.
type Report struct {
	Checks    []Check
	Leftovers []sandbox.Info
}

// Healthy reports whether no check failed. Warnings do not count against
// health; leftovers are legitimate after an operator kills the server.
func (r *Report) Healthy() bool {
	for _, c := range r.Checks {
		if c.Status == StatusFail {
			return false
		}
	}
	return true
}

func (r *Report) add(name string, status Status, format string, args ...interface{}) {
	detail := fmt.Sprintf(format, args...)
	r.Checks = append(r.Checks, Check{Name: name, Status: status, Detail: detail})

	switch status {
	case StatusOK:
		logger.Info(detail)
	case StatusWarn:
		logger.Warning(detail)
	case StatusFail:
		logger.Error(detail)
	}
}

// PingFunc probes the database process listening at addr.
type PingFunc func(ctx context.Context, addr string) error

// imagePuller is the optional runtime capability for pre-pulling the node
// image. The docker runtime implements it; on kubernetes the kubelet pulls
// images on demand.
type imagePuller interface {
	EnsureImage(ctx context.Context, ref string) error
}

// Doctor runs the checks against one runtime.
type Doctor struct {
	runtime sandbox.Runtime
	ping    PingFunc
	image   string
}

func New(rt sandbox.Runtime, ping PingFunc, image string) *Doctor {
	return &Doctor{runtime: rt, ping: ping, image: image}
}

// Run executes every check in order. An unreachable runtime short-circuits
// the rest, since nothing else can be probed without it.
func (d *Doctor) Run(ctx context.Context) *Report {
	report := &Report{}

	if err := d.runtime.Ping(ctx); err != nil {
		report.add("runtime", StatusFail, "%s runtime not reachable: %v", d.runtime.Name(), err)
		return report
	}
	report.add("runtime", StatusOK, "%s runtime reachable", d.runtime.Name())

	d.checkImage(ctx, report)
	d.checkLeftovers(ctx, report)
	return report
}

func (d *Doctor) checkImage(ctx context.Context, report *Report) {
	puller, ok := d.runtime.(imagePuller)
	if !ok {
		report.add("image", StatusOK, "image %s is pulled by the cluster nodes on demand", d.image)
		return
	}
	if err := puller.EnsureImage(ctx, d.image); err != nil {
		report.add("image", StatusFail, "image %s not available: %v", d.image, err)
		return
	}
	report.add("image", StatusOK, "image %s available", d.image)
}

func (d *Doctor) checkLeftovers(ctx context.Context, report *Report) {
	infos, err := d.runtime.List(ctx)
	if err != nil {
		report.add("leftovers", StatusFail, "failed to list sandboxes: %v", err)
		return
	}
	if len(infos) == 0 {
		report.add("leftovers", StatusOK, "no leftover sandboxes")
		return
	}

	report.Leftovers = infos
	report.add("leftovers", StatusWarn, "%d leftover sandboxes from a previous run", len(infos))
	for _, info := range infos {
		d.checkLeftoverNode(ctx, report, info)
	}
}

func (d *Doctor) checkLeftoverNode(ctx context.Context, report *Report, info sandbox.Info) {
	name := "node " + info.NodeID
	if !info.Running {
		report.add(name, StatusWarn, "sandbox %s is stopped", info.Name)
		return
	}
	if d.ping == nil || info.ExternalPort == 0 {
		report.add(name, StatusWarn, "sandbox %s is running but has no probeable address", info.Name)
		return
	}

	addr := fmt.Sprintf("%s:%d", info.ExternalHost, info.ExternalPort)
	pingCtx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()
	if err := d.ping(pingCtx, addr); err != nil {
		report.add(name, StatusWarn, "mongod at %s not answering: %v", addr, err)
		return
	}
	report.add(name, StatusOK, "mongod at %s answers", addr)
}

// Fix removes every leftover sandbox and network owned by the control
// plane.
func (d *Doctor) Fix(ctx context.Context) error {
	return d.runtime.CleanupAll(ctx)
}
