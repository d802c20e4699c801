package kube

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"

	corev1 "k8s.io/api/core/v1"
	"k8s.io/client-go/kubernetes/scheme"
	"k8s.io/client-go/tools/remotecommand"
	utilexec "k8s.io/client-go/util/exec"

	"faultline/internal/sandbox"
)

func (r *Runtime) Exec(ctx context.Context, nodeID string, cmd []string) (sandbox.ExecResult, error) {
	name := sandbox.Name(nodeID)

	req := r.clientset.CoreV1().RESTClient().Post().
		Resource("pods").
		Name(name).
		Namespace(r.namespace).
		SubResource("exec").
		VersionedParams(&corev1.PodExecOptions{
			Container: containerName,
			Command:   cmd,
			Stdout:    true,
			Stderr:    true,
		}, scheme.ParameterCodec)

	executor, err := remotecommand.NewSPDYExecutor(r.restConfig, "POST", req.URL())
	if err != nil {
		return sandbox.ExecResult{}, fmt.Errorf("failed to create executor for pod %s: %w", name, err)
	}

	var output bytes.Buffer
	streamErr := executor.StreamWithContext(ctx, remotecommand.StreamOptions{
		Stdout: &output,
		Stderr: &output,
	})
	if streamErr != nil {
		var exitErr utilexec.CodeExitError
		if errors.As(streamErr, &exitErr) {
			return sandbox.ExecResult{ExitCode: exitErr.Code, Output: output.String()}, nil
		}
		return sandbox.ExecResult{}, fmt.Errorf("failed to exec in pod %s: %w", name, streamErr)
	}

	return sandbox.ExecResult{ExitCode: 0, Output: output.String()}, nil
}

func (r *Runtime) Logs(ctx context.Context, nodeID string, tailLines int) (string, error) {
	name := sandbox.Name(nodeID)
	tail := int64(tailLines)

	stream, err := r.clientset.CoreV1().Pods(r.namespace).GetLogs(name, &corev1.PodLogOptions{
		Container: containerName,
		TailLines: &tail,
	}).Stream(ctx)
	if err != nil {
		return "", fmt.Errorf("failed to stream logs of pod %s: %w", name, err)
	}
	defer stream.Close()

	data, err := io.ReadAll(stream)
	if err != nil {
		return "", fmt.Errorf("failed to read log stream of pod %s: %w", name, err)
	}
	return string(data), nil
}
