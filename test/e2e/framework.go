// Package e2e provides the E2E testing framework for piesss-binder.
package e2e

import (
	"context"
	"fmt"
	"net/netip"
	"os"
	"strconv"
	"strings"
	"time"

	corev1 "k8s.io/api/core/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/tools/clientcmd"
)

const (
	DefaultKindClusterName = "piesss-e2e"
	DefaultTestNamespace   = "piesss-e2e"
	DefaultBindTimeout     = 2 * time.Minute
	PollInterval           = 2 * time.Second
)

type TestFramework struct {
	ClusterName    string
	Clientset      kubernetes.Interface
	KubeconfigPath string
	TestNamespace  string
	ClusterCreated bool

	// Host is the node the binder inventory covers
	Host string

	// UplinkBase is the base address of the host's first uplink
	UplinkBase netip.Addr

	// PortsPerHost is how many ports fit on the host
	PortsPerHost int
}

var framework *TestFramework

func InitTestFramework() error {
	framework = &TestFramework{
		ClusterName:   getEnvOrDefault("E2E_CLUSTER_NAME", DefaultKindClusterName),
		TestNamespace: getEnvOrDefault("E2E_NAMESPACE", DefaultTestNamespace),
	}

	var err error
	framework.Host = getEnvOrDefault("E2E_HOST", framework.ClusterName+"-worker")
	if framework.UplinkBase, err = netip.ParseAddr(getEnvOrDefault("E2E_UPLINK_BASE", "2001:db8:0:1::")); err != nil {
		return fmt.Errorf("invalid E2E_UPLINK_BASE: %w", err)
	}
	if framework.PortsPerHost, err = strconv.Atoi(getEnvOrDefault("E2E_PORTS_PER_HOST", "1")); err != nil {
		return fmt.Errorf("invalid E2E_PORTS_PER_HOST: %w", err)
	}

	if os.Getenv("E2E_USE_EXISTING_CLUSTER") != "true" {
		if err := framework.CreateKindCluster(); err != nil {
			return fmt.Errorf("failed to create Kind cluster: %w", err)
		}
		framework.ClusterCreated = true
	}
	if err := framework.SetupClient(); err != nil {
		return fmt.Errorf("failed to setup Kubernetes client: %w", err)
	}
	if err := framework.CreateTestNamespace(); err != nil {
		return fmt.Errorf("failed to create test namespace: %w", err)
	}
	return nil
}

func CleanupTestFramework() {
	if framework == nil {
		return
	}
	if framework.Clientset != nil {
		_ = framework.Clientset.CoreV1().Namespaces().Delete(context.Background(), framework.TestNamespace, metav1.DeleteOptions{})
	}
	if framework.ClusterCreated && os.Getenv("E2E_SKIP_CLEANUP") != "true" {
		_ = framework.DeleteKindCluster()
	}
}

func GetFramework() *TestFramework { return framework }

// kindConfig gives the binder one worker to manage. The default CNI stays in
// place; piesss-cni is chained as a secondary network by the deployment.
const kindConfig = `kind: Cluster
apiVersion: kind.x-k8s.io/v1alpha4
nodes:
  - role: control-plane
  - role: worker
`

func (f *TestFramework) CreateKindCluster() error {
	if !CommandExists("kind") {
		return fmt.Errorf("kind CLI not found")
	}
	if clusters, err := RunCommand("kind", "get", "clusters"); err == nil {
		for _, name := range strings.Fields(clusters) {
			if name == f.ClusterName {
				return nil
			}
		}
	}

	cmd := NewCommand("kind", "create", "cluster", "--name", f.ClusterName, "--config", "-", "--wait", "5m")
	cmd.Stdin = strings.NewReader(kindConfig)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("failed to create Kind cluster: %w", err)
	}
	return nil
}

func (f *TestFramework) DeleteKindCluster() error {
	_, err := RunCommand("kind", "delete", "cluster", "--name", f.ClusterName)
	return err
}

// SetupClient follows the usual kubeconfig rules: $KUBECONFIG, then ~/.kube/config.
func (f *TestFramework) SetupClient() error {
	rules := clientcmd.NewDefaultClientConfigLoadingRules()
	f.KubeconfigPath = rules.GetDefaultFilename()

	restConfig, err := clientcmd.NewNonInteractiveDeferredLoadingClientConfig(rules, &clientcmd.ConfigOverrides{}).ClientConfig()
	if err != nil {
		return fmt.Errorf("failed to load kubeconfig: %w", err)
	}
	f.Clientset, err = kubernetes.NewForConfig(restConfig)
	if err != nil {
		return fmt.Errorf("failed to create clientset: %w", err)
	}
	return nil
}

func (f *TestFramework) CreateTestNamespace() error {
	ns := &corev1.Namespace{
		ObjectMeta: metav1.ObjectMeta{
			Name:   f.TestNamespace,
			Labels: map[string]string{"app.kubernetes.io/name": "piesss-e2e"},
		},
	}
	_, err := f.Clientset.CoreV1().Namespaces().Create(context.Background(), ns, metav1.CreateOptions{})
	if err != nil && !apierrors.IsAlreadyExists(err) {
		return err
	}
	return nil
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
