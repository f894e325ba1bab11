// Package kube lists pods for the dashboard. Configuration follows
// the usual client-go resolution: in-cluster service account when
// running inside Kubernetes, otherwise the default kubeconfig chain.
package kube

import (
	"context"
	"fmt"
	"os"

	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/rest"
	"k8s.io/client-go/tools/clientcmd"
)

type Client struct {
	clientset kubernetes.Interface
	mode      string
	context   string
}

// NewClient builds a cluster client. It returns an error when no
// cluster is configured at all; the caller decides whether that is
// fatal (the dashboard treats it as "kubernetes unavailable").
func NewClient() (*Client, error) {
	if os.Getenv("KUBERNETES_SERVICE_HOST") != "" {
		config, err := rest.InClusterConfig()
		if err != nil {
			return nil, fmt.Errorf("loading in-cluster config: %w", err)
		}
		clientset, err := kubernetes.NewForConfig(config)
		if err != nil {
			return nil, fmt.Errorf("creating kubernetes client: %w", err)
		}
		return &Client{clientset: clientset, mode: "cluster"}, nil
	}

	rules := clientcmd.NewDefaultClientConfigLoadingRules()
	clientConfig := clientcmd.NewNonInteractiveDeferredLoadingClientConfig(rules, &clientcmd.ConfigOverrides{})

	rawConfig, err := clientConfig.RawConfig()
	if err != nil || len(rawConfig.Clusters) == 0 {
		return nil, fmt.Errorf("no kubernetes cluster configured")
	}

	config, err := clientConfig.ClientConfig()
	if err != nil {
		return nil, fmt.Errorf("loading kubeconfig: %w", err)
	}
	clientset, err := kubernetes.NewForConfig(config)
	if err != nil {
		return nil, fmt.Errorf("creating kubernetes client: %w", err)
	}
	return &Client{
		clientset: clientset,
		mode:      "kubeconfig",
		context:   rawConfig.CurrentContext,
	}, nil
}

// NewClientForTesting wraps a fake or preconfigured clientset.
func NewClientForTesting(clientset kubernetes.Interface) *Client {
	return &Client{clientset: clientset, mode: "kubeconfig", context: "test"}
}

func (c *Client) Mode() string    { return c.mode }
func (c *Client) Context() string { return c.context }

// ListPods returns pods across all namespaces.
func (c *Client) ListPods(ctx context.Context) ([]corev1.Pod, error) {
	list, err := c.clientset.CoreV1().Pods(metav1.NamespaceAll).List(ctx, metav1.ListOptions{})
	if err != nil {
		return nil, fmt.Errorf("listing pods: %w", err)
	}
	return list.Items, nil
}
