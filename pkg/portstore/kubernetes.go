package portstore

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	corev1 "k8s.io/api/core/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	"k8s.io/klog/v2"
	"sigs.k8s.io/controller-runtime/pkg/client"

	"github.com/jiayi-1994/piesss-binder/pkg/binding"
	"github.com/jiayi-1994/piesss-binder/pkg/logging"
	"github.com/jiayi-1994/piesss-binder/pkg/metrics"
	"github.com/jiayi-1994/piesss-binder/pkg/types"
	"github.com/jiayi-1994/piesss-binder/pkg/util"
)

// PodStore uses Pods as port records. The port id of a Pod is
// <namespace>_<name>.
type PodStore struct {
	client client.Client

	// namespace limits listing; empty means all namespaces
	namespace string
}

// NewPodStore creates a PodStore over a controller-runtime client.
func NewPodStore(c client.Client, namespace string) *PodStore {
	return &PodStore{client: c, namespace: namespace}
}

// ListPorts returns a record for every Pod. Pods without a readable binding
// annotation yield records without metadata.
func (s *PodStore) ListPorts(ctx context.Context) ([]binding.PortRecord, error) {
	timer := metrics.NewTimer()

	pods := &corev1.PodList{}
	var opts []client.ListOption
	if s.namespace != "" {
		opts = append(opts, client.InNamespace(s.namespace))
	}
	err := s.client.List(ctx, pods, opts...)
	metrics.RecordStoreOperation(types.StoreBackendKubernetes, metrics.StoreOpListPorts, err, timer.ObserveDuration())
	if err != nil {
		return nil, fmt.Errorf("failed to list pods: %w", err)
	}

	records := make([]binding.PortRecord, 0, len(pods.Items))
	for i := range pods.Items {
		pod := &pods.Items[i]
		b, err := util.GetPodBinding(pod)
		if err != nil {
			klog.V(4).Infof("Ignoring binding of pod %s/%s: %v", pod.Namespace, pod.Name, err)
			b = nil
		}
		records = append(records, binding.RecordFromBinding(util.PodPortID(pod), b))
	}
	return records, nil
}

// Binder returns the binding callback for a Pod. The binding is written to
// the Pod's annotations with a merge patch; pod is updated in place.
func (s *PodStore) Binder(pod *corev1.Pod) binding.BindingContext {
	return binding.BindingFunc(func(ctx context.Context, segmentID, vifType string, details binding.VIFDetails, status string) error {
		timer := metrics.NewTimer()
		b := binding.NewPortBinding(segmentID, vifType, details, status)
		b.Profile = map[string]interface{}{
			types.ProfilePiesssGbps: strconv.FormatFloat(details.Gbps, 'f', -1, 64),
		}
		err := s.setBinding(ctx, pod, b)
		metrics.RecordStoreOperation(types.StoreBackendKubernetes, metrics.StoreOpSetBinding, err, timer.ObserveDuration())
		return err
	})
}

func (s *PodStore) setBinding(ctx context.Context, pod *corev1.Pod, b *util.PortBinding) error {
	orig := pod.DeepCopy()
	if err := util.SetPodBinding(pod, b); err != nil {
		return err
	}
	if err := s.client.Patch(ctx, pod, client.MergeFrom(orig)); err != nil {
		return fmt.Errorf("failed to patch pod %s/%s: %w", pod.Namespace, pod.Name, err)
	}
	logging.LoggerForStore(types.StoreBackendKubernetes).Info("Wrote port binding",
		"pod", client.ObjectKeyFromObject(pod).String(), "segment", b.SegmentID)
	return nil
}

// ClearBinding removes the binding annotation from a Pod.
func (s *PodStore) ClearBinding(ctx context.Context, pod *corev1.Pod) error {
	if !util.HasPodBinding(pod) {
		return nil
	}
	orig := pod.DeepCopy()
	util.ClearPodBinding(pod)
	if err := s.client.Patch(ctx, pod, client.MergeFrom(orig)); err != nil {
		return fmt.Errorf("failed to patch pod %s/%s: %w", pod.Namespace, pod.Name, err)
	}
	logging.LoggerForStore(types.StoreBackendKubernetes).Info("Cleared port binding",
		"pod", client.ObjectKeyFromObject(pod).String())
	return nil
}

// PodPorts addresses Pods by port id (<namespace>_<name>) so a PodStore can
// back the binding API.
type PodPorts struct {
	*PodStore
}

// ByPortID wraps the store for port-id access.
func (s *PodStore) ByPortID() *PodPorts {
	return &PodPorts{PodStore: s}
}

func (p *PodPorts) getPod(ctx context.Context, portID string) (*corev1.Pod, error) {
	key, err := podKey(portID)
	if err != nil {
		return nil, err
	}
	pod := &corev1.Pod{}
	if err := p.client.Get(ctx, key, pod); err != nil {
		return nil, fmt.Errorf("failed to get pod %s: %w", key, err)
	}
	return pod, nil
}

// podKey splits a port id at the first underscore; namespaces cannot
// contain one.
func podKey(portID string) (client.ObjectKey, error) {
	ns, name, ok := strings.Cut(portID, "_")
	if !ok || ns == "" || name == "" {
		return client.ObjectKey{}, fmt.Errorf("invalid pod port id %q", portID)
	}
	return client.ObjectKey{Namespace: ns, Name: name}, nil
}

// Binder returns the binding callback for the Pod behind a port id.
func (p *PodPorts) Binder(portID string) binding.BindingContext {
	return binding.BindingFunc(func(ctx context.Context, segmentID, vifType string, details binding.VIFDetails, status string) error {
		pod, err := p.getPod(ctx, portID)
		if err != nil {
			return err
		}
		if util.HasPodBinding(pod) {
			return &binding.AlreadyBoundError{PortID: portID}
		}
		return p.PodStore.Binder(pod).SetBinding(ctx, segmentID, vifType, details, status)
	})
}

// Record returns the port record of the Pod behind a port id.
func (p *PodPorts) Record(ctx context.Context, portID string) (binding.PortRecord, error) {
	pod, err := p.getPod(ctx, portID)
	if err != nil {
		return binding.PortRecord{}, err
	}
	b, err := util.GetPodBinding(pod)
	if err != nil {
		return binding.PortRecord{}, err
	}
	return binding.RecordFromBinding(portID, b), nil
}

// ClearBinding removes the binding of the Pod behind a port id. A missing
// Pod is not an error.
func (p *PodPorts) ClearBinding(ctx context.Context, portID string) error {
	pod, err := p.getPod(ctx, portID)
	if err != nil {
		if apierrors.IsNotFound(err) {
			return nil
		}
		return err
	}
	return p.PodStore.ClearBinding(ctx, pod)
}
