// Package k8sidentity resolves an instance's hostname and port from the
// Kubernetes downward API when the outbox daemon runs in-cluster, using
// client-go the same way this codebase's other in-cluster adapters do.
package k8sidentity

import (
	"context"
	"fmt"
	"os"

	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/rest"
)

// Identity is the resolved instance location.
type Identity struct {
	Hostname string
	PodIP    string
	Port     int
}

// Resolver reads pod identity from the in-cluster API when available,
// falling back to os.Hostname for local/dev runs outside Kubernetes.
type Resolver struct {
	client    *kubernetes.Clientset
	namespace string
}

// NewInCluster builds a Resolver using the in-cluster service account. It
// returns an error if the process isn't running inside a pod (callers
// should fall back to NewLocal in that case) or if the Kubernetes client
// cannot be built from the in-cluster config.
func NewInCluster(namespace string) (*Resolver, error) {
	cfg, err := rest.InClusterConfig()
	if err != nil {
		return nil, fmt.Errorf("k8sidentity: not running in-cluster: %w", err)
	}
	client, err := kubernetes.NewForConfig(cfg)
	if err != nil {
		return nil, fmt.Errorf("k8sidentity: building client: %w", err)
	}
	return &Resolver{client: client, namespace: namespace}, nil
}

// NewLocal builds a Resolver that only ever falls back to os.Hostname, for
// development outside Kubernetes.
func NewLocal() *Resolver {
	return &Resolver{}
}

// Resolve returns this process's identity. podName is typically read from
// the POD_NAME environment variable set by the downward API.
func (r *Resolver) Resolve(ctx context.Context, podName string, defaultPort int) (Identity, error) {
	if r.client == nil || podName == "" {
		host, err := os.Hostname()
		if err != nil {
			host = "unknown"
		}
		return Identity{Hostname: host, Port: defaultPort}, nil
	}

	pod, err := r.client.CoreV1().Pods(r.namespace).Get(ctx, podName, metav1.GetOptions{})
	if err != nil {
		return Identity{}, fmt.Errorf("k8sidentity: getting pod %s/%s: %w", r.namespace, podName, err)
	}
	return Identity{
		Hostname: pod.Spec.Hostname,
		PodIP:    pod.Status.PodIP,
		Port:     defaultPort,
	}, nil
}
