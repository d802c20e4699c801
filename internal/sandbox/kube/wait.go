package kube

import (
	"context"
	"fmt"
	"time"

	corev1 "k8s.io/api/core/v1"
	k8serrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/watch"
)

func (r *Runtime) waitForPodReady(ctx context.Context, name string, timeout time.Duration) error {
	// The pod may already be ready before the watch starts.
	if pod, err := r.clientset.CoreV1().Pods(r.namespace).Get(ctx, name, metav1.GetOptions{}); err == nil && isPodReady(pod) {
		return nil
	}

	watcher, err := r.clientset.CoreV1().Pods(r.namespace).Watch(ctx, metav1.ListOptions{
		FieldSelector: "metadata.name=" + name,
	})
	if err != nil {
		return fmt.Errorf("error creating watch for pod %s: %w", name, err)
	}
	defer watcher.Stop()

	timeoutCh := time.After(timeout)
	for {
		select {
		case event, ok := <-watcher.ResultChan():
			if !ok {
				return fmt.Errorf("watch channel closed while waiting for pod %s", name)
			}
			switch event.Type {
			case watch.Added, watch.Modified:
				pod, ok := event.Object.(*corev1.Pod)
				if !ok {
					continue
				}
				if isPodReady(pod) {
					return nil
				}
			case watch.Error:
				return fmt.Errorf("error watching pod %s: %v", name, event.Object)
			}
		case <-timeoutCh:
			return fmt.Errorf("timeout waiting for pod %s to become ready after %v", name, timeout)
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (r *Runtime) waitForPodDeleted(ctx context.Context, name string, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	for {
		_, err := r.clientset.CoreV1().Pods(r.namespace).Get(ctx, name, metav1.GetOptions{})
		if k8serrors.IsNotFound(err) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("failed to get pod %s while awaiting deletion: %w", name, err)
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("timeout waiting for pod %s to terminate after %v", name, timeout)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(500 * time.Millisecond):
		}
	}
}

func isPodReady(pod *corev1.Pod) bool {
	if pod.Status.Phase != corev1.PodRunning {
		return false
	}
	for _, cond := range pod.Status.Conditions {
		if cond.Type == corev1.PodReady && cond.Status == corev1.ConditionTrue {
			return true
		}
	}
	return false
}
