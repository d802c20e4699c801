package kube

import (
	"context"
	"fmt"
	"time"

	"github.com/hashicorp/go-multierror"
	k8serrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"

	"faultline/internal/logger"
	"faultline/internal/sandbox"
)

const (
	readyTimeout  = 120 * time.Second
	deleteTimeout = 60 * time.Second
)

func (r *Runtime) Create(ctx context.Context, spec sandbox.Spec) (sandbox.Info, error) {
	if err := r.EnsureNetwork(ctx, spec.Network); err != nil {
		return sandbox.Info{}, err
	}

	svc := r.serviceFor(spec)
	if _, err := r.clientset.CoreV1().Services(r.namespace).Create(ctx, svc, metav1.CreateOptions{}); err != nil && !k8serrors.IsAlreadyExists(err) {
		return sandbox.Info{}, fmt.Errorf("failed to create service %s: %w", svc.Name, err)
	}

	pod := r.podFor(spec)
	if _, err := r.clientset.CoreV1().Pods(r.namespace).Create(ctx, pod, metav1.CreateOptions{}); err != nil {
		return sandbox.Info{}, fmt.Errorf("failed to create pod %s: %w", pod.Name, err)
	}

	if err := r.waitForPodReady(ctx, pod.Name, readyTimeout); err != nil {
		return sandbox.Info{}, err
	}

	r.mu.Lock()
	r.specs[spec.NodeID] = spec
	r.mu.Unlock()

	logger.Debug(fmt.Sprintf("Created sandbox pod %s", pod.Name))
	return r.Inspect(ctx, spec.NodeID)
}

// Start recreates the pod of a previously stopped node from its retained
// spec. The service survives stops, so the internal DNS name is stable; the
// pod IP may change and callers resolve it through Inspect.
func (r *Runtime) Start(ctx context.Context, nodeID string) error {
	r.mu.Lock()
	spec, ok := r.specs[nodeID]
	r.mu.Unlock()
	if !ok {
		return fmt.Errorf("no retained spec for node %s, cannot start", nodeID)
	}

	pod := r.podFor(spec)
	if _, err := r.clientset.CoreV1().Pods(r.namespace).Create(ctx, pod, metav1.CreateOptions{}); err != nil && !k8serrors.IsAlreadyExists(err) {
		return fmt.Errorf("failed to recreate pod %s: %w", pod.Name, err)
	}
	if err := r.waitForPodReady(ctx, pod.Name, readyTimeout); err != nil {
		return err
	}

	logger.Debug(fmt.Sprintf("Started sandbox pod %s", pod.Name))
	return nil
}

func (r *Runtime) Stop(ctx context.Context, nodeID string, graceSeconds int) error {
	return r.deletePod(ctx, nodeID, int64(graceSeconds), "stop")
}

func (r *Runtime) Kill(ctx context.Context, nodeID string) error {
	return r.deletePod(ctx, nodeID, 0, "kill")
}

func (r *Runtime) deletePod(ctx context.Context, nodeID string, graceSeconds int64, action string) error {
	name := sandbox.Name(nodeID)
	opts := metav1.DeleteOptions{GracePeriodSeconds: &graceSeconds}
	if err := r.clientset.CoreV1().Pods(r.namespace).Delete(ctx, name, opts); err != nil {
		return fmt.Errorf("failed to %s pod %s: %w", action, name, err)
	}
	if err := r.waitForPodDeleted(ctx, name, deleteTimeout); err != nil {
		return err
	}

	logger.Debug(fmt.Sprintf("Deleted sandbox pod %s (%s)", name, action))
	return nil
}

func (r *Runtime) Remove(ctx context.Context, nodeID string, force bool) error {
	name := sandbox.Name(nodeID)
	grace := int64(0)
	opts := metav1.DeleteOptions{}
	if force {
		opts.GracePeriodSeconds = &grace
	}

	var errs *multierror.Error
	if err := r.clientset.CoreV1().Pods(r.namespace).Delete(ctx, name, opts); err != nil && !k8serrors.IsNotFound(err) {
		errs = multierror.Append(errs, fmt.Errorf("failed to delete pod %s: %w", name, err))
	}
	if err := r.clientset.CoreV1().Services(r.namespace).Delete(ctx, sandbox.Hostname(nodeID), metav1.DeleteOptions{}); err != nil && !k8serrors.IsNotFound(err) {
		errs = multierror.Append(errs, fmt.Errorf("failed to delete service %s: %w", sandbox.Hostname(nodeID), err))
	}

	r.mu.Lock()
	delete(r.specs, nodeID)
	r.mu.Unlock()

	return errs.ErrorOrNil()
}

func (r *Runtime) CleanupAll(ctx context.Context) error {
	var errs *multierror.Error

	infos, err := r.List(ctx)
	if err != nil {
		return err
	}
	for _, info := range infos {
		if info.NodeID == "" {
			continue
		}
		if err := r.Remove(ctx, info.NodeID, true); err != nil {
			errs = multierror.Append(errs, err)
		}
	}

	svcs, err := r.clientset.CoreV1().Services(r.namespace).List(ctx, metav1.ListOptions{
		LabelSelector: appLabelKey + "=" + appLabelValue,
	})
	if err != nil {
		errs = multierror.Append(errs, fmt.Errorf("failed to list services: %w", err))
	} else {
		for _, svc := range svcs.Items {
			if err := r.clientset.CoreV1().Services(r.namespace).Delete(ctx, svc.Name, metav1.DeleteOptions{}); err != nil && !k8serrors.IsNotFound(err) {
				errs = multierror.Append(errs, fmt.Errorf("failed to delete service %s: %w", svc.Name, err))
			}
		}
	}

	if len(infos) > 0 {
		logger.Info(fmt.Sprintf("Removed %d sandbox pod(s)", len(infos)))
	}
	return errs.ErrorOrNil()
}
