package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	autoscalingv1 "k8s.io/api/autoscaling/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/rest"
	"k8s.io/client-go/tools/clientcmd"
)

// KubernetesClient scales apps/v1 Deployments through the scale subresource.
// Workload names map one to one to Deployment names in a single namespace.
type KubernetesClient struct {
	clientset     kubernetes.Interface
	namespace     string
	labelSelector string
	logger        *slog.Logger
}

// KubernetesConfig holds connection settings for NewKubernetesClientFromConfig.
type KubernetesConfig struct {
	// Kubeconfig is a path to a kubeconfig file. Empty means in-cluster.
	Kubeconfig string
	Namespace  string
	// LabelSelector restricts List to matching deployments.
	LabelSelector string
}

// NewKubernetesClient wraps an existing clientset.
func NewKubernetesClient(clientset kubernetes.Interface, namespace, labelSelector string, logger *slog.Logger) *KubernetesClient {
	if namespace == "" {
		namespace = "default"
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &KubernetesClient{
		clientset:     clientset,
		namespace:     namespace,
		labelSelector: labelSelector,
		logger:        logger.With("component", "orchestrator", "backend", "kubernetes"),
	}
}

// NewKubernetesClientFromConfig builds a clientset from a kubeconfig file, or
// from the in-cluster service account when no kubeconfig is given.
func NewKubernetesClientFromConfig(cfg KubernetesConfig, logger *slog.Logger) (*KubernetesClient, error) {
	var (
		restCfg *rest.Config
		err     error
	)
	if cfg.Kubeconfig != "" {
		restCfg, err = clientcmd.BuildConfigFromFlags("", cfg.Kubeconfig)
	} else {
		restCfg, err = rest.InClusterConfig()
	}
	if err != nil {
		return nil, fmt.Errorf("load kubernetes config: %w", err)
	}

	clientset, err := kubernetes.NewForConfig(restCfg)
	if err != nil {
		return nil, fmt.Errorf("create kubernetes clientset: %w", err)
	}
	return NewKubernetesClient(clientset, cfg.Namespace, cfg.LabelSelector, logger), nil
}

// Name returns the backend identifier.
func (k *KubernetesClient) Name() string {
	return "kubernetes"
}

// GetReplicas reads spec.replicas of the deployment. An unset field counts as 1,
// which is the API server default.
func (k *KubernetesClient) GetReplicas(ctx context.Context, workload string) (int, error) {
	dep, err := k.clientset.AppsV1().Deployments(k.namespace).Get(ctx, workload, metav1.GetOptions{})
	if err != nil {
		return 0, fmt.Errorf("%w: get deployment %s/%s: %v", ErrOrchestration, k.namespace, workload, err)
	}
	if dep.Spec.Replicas == nil {
		return 1, nil
	}
	return int(*dep.Spec.Replicas), nil
}

// SetReplicas updates the scale subresource and reads the deployment back to
// report readiness.
func (k *KubernetesClient) SetReplicas(ctx context.Context, workload string, replicas int) (AppliedStatus, error) {
	if replicas < 0 {
		return AppliedStatus{}, fmt.Errorf("%w: negative replica count %d", ErrOrchestration, replicas)
	}

	scale := &autoscalingv1.Scale{
		ObjectMeta: metav1.ObjectMeta{
			Name:      workload,
			Namespace: k.namespace,
		},
		Spec: autoscalingv1.ScaleSpec{
			Replicas: int32(replicas),
		},
	}

	start := time.Now()
	if _, err := k.clientset.AppsV1().Deployments(k.namespace).UpdateScale(ctx, workload, scale, metav1.UpdateOptions{}); err != nil {
		return AppliedStatus{}, fmt.Errorf("%w: scale deployment %s/%s: %v", ErrOrchestration, k.namespace, workload, err)
	}

	status := AppliedStatus{
		Workload:  workload,
		Replicas:  replicas,
		AppliedAt: time.Now(),
	}

	dep, err := k.clientset.AppsV1().Deployments(k.namespace).Get(ctx, workload, metav1.GetOptions{})
	if err != nil {
		// The scale call succeeded; readiness is informational only.
		k.logger.Warn("read back deployment after scale", "workload", workload, "error", err)
	} else {
		status.ReadyReplicas = int(dep.Status.ReadyReplicas)
	}

	k.logger.Info("scaled deployment",
		"workload", workload,
		"namespace", k.namespace,
		"replicas", replicas,
		"ready", status.ReadyReplicas,
		"ms", time.Since(start).Milliseconds(),
	)
	return status, nil
}

// List returns the deployments in the namespace, sorted by name.
func (k *KubernetesClient) List(ctx context.Context) ([]Deployment, error) {
	list, err := k.clientset.AppsV1().Deployments(k.namespace).List(ctx, metav1.ListOptions{
		LabelSelector: k.labelSelector,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: list deployments in %s: %v", ErrOrchestration, k.namespace, err)
	}

	out := make([]Deployment, 0, len(list.Items))
	for _, dep := range list.Items {
		replicas := 1
		if dep.Spec.Replicas != nil {
			replicas = int(*dep.Spec.Replicas)
		}
		out = append(out, Deployment{
			Name:              dep.Name,
			Replicas:          replicas,
			ReadyReplicas:     int(dep.Status.ReadyReplicas),
			AvailableReplicas: int(dep.Status.AvailableReplicas),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}
