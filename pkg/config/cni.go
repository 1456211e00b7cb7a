package config

import (
	"encoding/json"
	"fmt"

	"github.com/containernetworking/cni/pkg/types"

	ptypes "github.com/jiayi-1994/piesss-binder/pkg/types"
)

// Defaults for the plugin's network configuration.
const (
	DefaultCNILogFile  = "/var/log/piesss/cni.log"
	DefaultCNILogLevel = "info"
)

// CNIConfig is the network configuration the runtime passes to piesss-cni
// on stdin, e.g. from /etc/cni/net.d/10-piesss.conflist.
type CNIConfig struct {
	types.NetConf

	// ServerSocket is the binder's unix socket
	ServerSocket string `json:"serverSocket,omitempty"`

	// Segments are offered for every Pod on this network, highest priority first
	Segments []CNISegment `json:"segments,omitempty"`

	LogFile  string `json:"logFile,omitempty"`
	LogLevel string `json:"logLevel,omitempty"`
}

// CNISegment is a candidate segment as written in the network configuration.
type CNISegment struct {
	ID              string `json:"id"`
	NetworkType     string `json:"networkType"`
	PhysicalNetwork string `json:"physicalNetwork,omitempty"`
	SegmentationID  *int   `json:"segmentationID,omitempty"`
}

// CNIArgs identifies the Pod a CNI command runs for.
type CNIArgs struct {
	PodNamespace string
	PodName      string
	PodUID       string
	ContainerID  string
}

// k8sArgs are the CNI_ARGS keys kubelet sets.
type k8sArgs struct {
	types.CommonArgs
	K8S_POD_NAMESPACE          types.UnmarshallableString
	K8S_POD_NAME               types.UnmarshallableString
	K8S_POD_UID                types.UnmarshallableString
	K8S_POD_INFRA_CONTAINER_ID types.UnmarshallableString
}

// ParseCNIConfig decodes the network configuration and fills in defaults.
// A configuration without segments is rejected since no Pod could ever bind.
func ParseCNIConfig(data []byte) (*CNIConfig, error) {
	cfg := &CNIConfig{}
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse CNI config: %w", err)
	}

	if cfg.ServerSocket == "" {
		cfg.ServerSocket = ptypes.DefaultSocketPath
	}
	if cfg.LogFile == "" {
		cfg.LogFile = DefaultCNILogFile
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = DefaultCNILogLevel
	}
	if len(cfg.Segments) == 0 {
		return nil, fmt.Errorf("CNI config lists no segments")
	}
	return cfg, nil
}

// ParseCNIArgs reads the Pod identity out of CNI_ARGS
// (K8S_POD_NAMESPACE=ns;K8S_POD_NAME=name;...). Namespace and name are required.
func ParseCNIArgs(argsStr string) (*CNIArgs, error) {
	var k8s k8sArgs
	if err := types.LoadArgs(argsStr, &k8s); err != nil {
		return nil, fmt.Errorf("failed to parse CNI_ARGS: %w", err)
	}

	args := &CNIArgs{
		PodNamespace: string(k8s.K8S_POD_NAMESPACE),
		PodName:      string(k8s.K8S_POD_NAME),
		PodUID:       string(k8s.K8S_POD_UID),
		ContainerID:  string(k8s.K8S_POD_INFRA_CONTAINER_ID),
	}
	if args.PodNamespace == "" || args.PodName == "" {
		return nil, fmt.Errorf("CNI_ARGS must carry K8S_POD_NAMESPACE and K8S_POD_NAME")
	}
	return args, nil
}

// PortID returns the port identifier of the Pod: namespace_name.
func (a *CNIArgs) PortID() string {
	return a.PodNamespace + "_" + a.PodName
}
