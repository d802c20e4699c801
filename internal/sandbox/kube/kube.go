// Package kube implements the sandbox runtime on a Kubernetes cluster. Each
// node runs as one pod plus a headless service that provides the stable
// internal DNS name peers resolve. The control plane must be able to reach
// pod IPs, so it runs in-cluster or on a node with pod network access.
package kube

import (
	"context"
	"fmt"
	"sync"

	corev1 "k8s.io/api/core/v1"
	k8serrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/rest"
	"k8s.io/client-go/tools/clientcmd"

	"faultline/internal/constants"
	"faultline/internal/errdefs"
	"faultline/internal/sandbox"
)

const (
	appLabelKey   = "app"
	appLabelValue = "faultline"
	nodeLabelKey  = "faultline/node"
	containerName = "mongod"
)

type Runtime struct {
	clientset  *kubernetes.Clientset
	restConfig *rest.Config
	namespace  string

	mu sync.Mutex
	// Retained specs let Start recreate a pod deleted by Stop/Kill.
	specs map[string]sandbox.Spec
}

// New builds the runtime from a kubeconfig path, falling back to the
// in-cluster config when the path is empty.
func New(kubeconfigPath, namespace string) (*Runtime, error) {
	var (
		cfg *rest.Config
		err error
	)
	if kubeconfigPath != "" {
		cfg, err = clientcmd.BuildConfigFromFlags("", kubeconfigPath)
	} else {
		cfg, err = rest.InClusterConfig()
	}
	if err != nil {
		return nil, fmt.Errorf("failed to build kubernetes config: %w", err)
	}

	clientset, err := kubernetes.NewForConfig(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize clientset: %w", err)
	}

	if namespace == "" {
		namespace = constants.KubeNamespace
	}
	return &Runtime{
		clientset:  clientset,
		restConfig: cfg,
		namespace:  namespace,
		specs:      map[string]sandbox.Spec{},
	}, nil
}

func (r *Runtime) Name() string { return "kubernetes" }

func (r *Runtime) Ping(ctx context.Context) error {
	if _, err := r.clientset.Discovery().ServerVersion(); err != nil {
		return fmt.Errorf("kubernetes API unreachable: %w", err)
	}
	return nil
}

// EnsureNetwork maps the shared-network concept onto the runtime namespace:
// pods inside it reach each other through per-node services, so the only
// thing to guarantee is that the namespace exists.
func (r *Runtime) EnsureNetwork(ctx context.Context, name string) error {
	_, err := r.clientset.CoreV1().Namespaces().Get(ctx, r.namespace, metav1.GetOptions{})
	if err == nil {
		return nil
	}
	if !k8serrors.IsNotFound(err) {
		return fmt.Errorf("failed to get namespace %s: %w", r.namespace, err)
	}

	ns := &corev1.Namespace{ObjectMeta: metav1.ObjectMeta{Name: r.namespace}}
	if _, err := r.clientset.CoreV1().Namespaces().Create(ctx, ns, metav1.CreateOptions{}); err != nil && !k8serrors.IsAlreadyExists(err) {
		return fmt.Errorf("failed to create namespace %s: %w", r.namespace, err)
	}
	return nil
}

// ConnectNetwork is unavailable on this runtime: a pod has a single network
// namespace for its whole lifetime.
func (r *Runtime) ConnectNetwork(ctx context.Context, nodeID, network string) error {
	return errdefs.Unsupported("kubernetes runtime cannot attach pod %s to %s", nodeID, network)
}

func (r *Runtime) DisconnectNetwork(ctx context.Context, nodeID, network string) error {
	return errdefs.Unsupported("kubernetes runtime cannot detach pod %s from %s", nodeID, network)
}

func (r *Runtime) Inspect(ctx context.Context, nodeID string) (sandbox.Info, error) {
	pod, err := r.clientset.CoreV1().Pods(r.namespace).Get(ctx, sandbox.Name(nodeID), metav1.GetOptions{})
	if err != nil {
		if k8serrors.IsNotFound(err) {
			return sandbox.Info{NodeID: nodeID, Name: sandbox.Name(nodeID)}, nil
		}
		return sandbox.Info{}, fmt.Errorf("failed to get pod for node %s: %w", nodeID, err)
	}
	return r.infoFromPod(pod), nil
}

func (r *Runtime) infoFromPod(pod *corev1.Pod) sandbox.Info {
	nodeID := pod.Labels[nodeLabelKey]
	info := sandbox.Info{
		NodeID:       nodeID,
		Name:         pod.Name,
		Running:      isPodReady(pod),
		ExternalHost: pod.Status.PodIP,
		ExternalPort: constants.MongoPort,
		InternalAddr: sandbox.InternalAddr(nodeID),
	}
	if pod.Status.PodIP != "" {
		info.Networks = map[string]string{r.namespace: pod.Status.PodIP}
	}
	return info
}

func (r *Runtime) List(ctx context.Context) ([]sandbox.Info, error) {
	pods, err := r.clientset.CoreV1().Pods(r.namespace).List(ctx, metav1.ListOptions{
		LabelSelector: constants.KubeAppLabel,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list pods: %w", err)
	}

	infos := make([]sandbox.Info, 0, len(pods.Items))
	for i := range pods.Items {
		infos = append(infos, r.infoFromPod(&pods.Items[i]))
	}
	return infos, nil
}
