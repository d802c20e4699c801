package kube

import (
	"fmt"

	corev1 "k8s.io/api/core/v1"
	"k8s.io/apimachinery/pkg/api/resource"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/util/intstr"

	"faultline/internal/sandbox"
)

func (r *Runtime) podFor(spec sandbox.Spec) *corev1.Pod {
	return &corev1.Pod{
		ObjectMeta: metav1.ObjectMeta{
			Name:      sandbox.Name(spec.NodeID),
			Namespace: r.namespace,
			Labels: map[string]string{
				appLabelKey:  appLabelValue,
				nodeLabelKey: spec.NodeID,
			},
		},
		Spec: corev1.PodSpec{
			Hostname:      sandbox.Hostname(spec.NodeID),
			RestartPolicy: corev1.RestartPolicyNever,
			Containers: []corev1.Container{
				{
					Name:    containerName,
					Image:   spec.Image,
					Command: spec.Command,
					Ports: []corev1.ContainerPort{
						{ContainerPort: int32(spec.InternalPort)},
					},
					SecurityContext: &corev1.SecurityContext{
						Capabilities: &corev1.Capabilities{
							Add: []corev1.Capability{"NET_ADMIN"},
						},
					},
					Resources: corev1.ResourceRequirements{
						Limits: corev1.ResourceList{
							corev1.ResourceMemory: resource.MustParse(fmt.Sprintf("%dMi", spec.MemoryLimitMB)),
						},
					},
					ReadinessProbe: &corev1.Probe{
						ProbeHandler: corev1.ProbeHandler{
							TCPSocket: &corev1.TCPSocketAction{
								Port: intstr.FromInt(spec.InternalPort),
							},
						},
						InitialDelaySeconds: 2,
						PeriodSeconds:       2,
					},
				},
			},
		},
	}
}

// serviceFor builds the headless service giving the node its stable
// internal DNS name within the namespace.
func (r *Runtime) serviceFor(spec sandbox.Spec) *corev1.Service {
	return &corev1.Service{
		ObjectMeta: metav1.ObjectMeta{
			Name:      sandbox.Hostname(spec.NodeID),
			Namespace: r.namespace,
			Labels: map[string]string{
				appLabelKey:  appLabelValue,
				nodeLabelKey: spec.NodeID,
			},
		},
		Spec: corev1.ServiceSpec{
			ClusterIP: corev1.ClusterIPNone,
			Selector: map[string]string{
				nodeLabelKey: spec.NodeID,
			},
			Ports: []corev1.ServicePort{
				{
					Port:       int32(spec.InternalPort),
					TargetPort: intstr.FromInt(spec.InternalPort),
				},
			},
		},
	}
}
