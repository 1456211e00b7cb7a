// Package controller binds Kubernetes Pods through the binding driver.
//
// A Pod asks for a binding with the piesss.io/segments annotation. Once the
// Pod is scheduled the PodReconciler binds it on its node, stores the binding
// in piesss.io/binding and holds the piesss.io/bandwidth finalizer until the
// bandwidth has been released on deletion.
//
// The binding is created once: a Pod that already carries a binding is left
// alone, and the stored binding is what reconciliation reads after a restart.
package controller

import (
	"context"
	"errors"
	"fmt"
	"time"

	corev1 "k8s.io/api/core/v1"
	"k8s.io/klog/v2"
	ctrl "sigs.k8s.io/controller-runtime"
	"sigs.k8s.io/controller-runtime/pkg/client"
	"sigs.k8s.io/controller-runtime/pkg/controller/controllerutil"
	"sigs.k8s.io/controller-runtime/pkg/event"
	"sigs.k8s.io/controller-runtime/pkg/predicate"

	"github.com/jiayi-1994/piesss-binder/pkg/allocator"
	"github.com/jiayi-1994/piesss-binder/pkg/binding"
	"github.com/jiayi-1994/piesss-binder/pkg/events"
	"github.com/jiayi-1994/piesss-binder/pkg/portstore"
	"github.com/jiayi-1994/piesss-binder/pkg/types"
	"github.com/jiayi-1994/piesss-binder/pkg/util"
)

const (
	// PodControllerName is the name of this controller
	PodControllerName = "piesss-pod-binder"

	// NoCapacityRequeue is how long to wait before retrying a Pod whose host
	// had no room
	NoCapacityRequeue = 30 * time.Second
)

// PodReconciler reconciles Pods that request a binding.
type PodReconciler struct {
	client   client.Client
	recorder *events.Recorder
	driver   *binding.Driver
	store    *portstore.PodStore
}

// NewPodReconciler creates a new PodReconciler.
//
// Parameters:
//   - c: Kubernetes client
//   - recorder: Event recorder
//   - driver: Binding driver; its port lister should be store
//   - store: Pod-backed port store receiving bindings
func NewPodReconciler(c client.Client, recorder *events.Recorder, driver *binding.Driver, store *portstore.PodStore) *PodReconciler {
	return &PodReconciler{
		client:   c,
		recorder: recorder,
		driver:   driver,
		store:    store,
	}
}

// Reconcile handles one Pod.
//
// The reconciliation logic:
// 1. If the Pod is being deleted, release its bandwidth and drop the finalizer
// 2. Add the finalizer
// 3. Skip Pods already bound or not yet scheduled
// 4. Bind on the Pod's node and record the outcome
func (r *PodReconciler) Reconcile(ctx context.Context, req ctrl.Request) (ctrl.Result, error) {
	log := klog.FromContext(ctx).WithValues("pod", req.NamespacedName)
	log.V(4).Info("Reconciling Pod")

	pod := &corev1.Pod{}
	if err := r.client.Get(ctx, req.NamespacedName, pod); err != nil {
		if client.IgnoreNotFound(err) != nil {
			log.Error(err, "Failed to get Pod")
			return ctrl.Result{}, err
		}
		log.V(4).Info("Pod not found, likely deleted")
		return ctrl.Result{}, nil
	}

	if !pod.DeletionTimestamp.IsZero() {
		return r.handleDeletion(ctx, pod)
	}

	if !shouldManagePod(pod) {
		log.V(4).Info("Skipping Pod (no segments or host network)")
		return ctrl.Result{}, nil
	}

	if !controllerutil.ContainsFinalizer(pod, types.BandwidthFinalizer) {
		log.V(4).Info("Adding finalizer to Pod")
		controllerutil.AddFinalizer(pod, types.BandwidthFinalizer)
		if err := r.client.Update(ctx, pod); err != nil {
			log.Error(err, "Failed to add finalizer")
			return ctrl.Result{}, err
		}
		return ctrl.Result{Requeue: true}, nil
	}

	if util.HasPodBinding(pod) {
		log.V(4).Info("Pod already bound, skipping")
		return ctrl.Result{}, nil
	}

	if pod.Spec.NodeName == "" {
		log.V(4).Info("Pod not scheduled yet")
		return ctrl.Result{}, nil
	}

	return r.bindPod(ctx, pod)
}

// shouldManagePod reports whether the Pod requests a binding.
func shouldManagePod(pod *corev1.Pod) bool {
	if pod.Spec.HostNetwork {
		return false
	}
	if pod.Status.Phase == corev1.PodSucceeded || pod.Status.Phase == corev1.PodFailed {
		return false
	}
	_, ok := pod.Annotations[types.SegmentsAnnotation]
	return ok
}

func (r *PodReconciler) bindPod(ctx context.Context, pod *corev1.Pod) (ctrl.Result, error) {
	log := klog.FromContext(ctx).WithValues("pod", fmt.Sprintf("%s/%s", pod.Namespace, pod.Name), "node", pod.Spec.NodeName)

	segments, err := util.GetPodSegments(pod)
	if err != nil {
		log.Error(err, "Invalid segments annotation")
		r.recorder.InvalidSegments(pod, err)
		return ctrl.Result{}, nil
	}
	delegated, err := util.GetPodDelegatedAddress(pod)
	if err != nil {
		log.Error(err, "Invalid delegated address annotation")
		r.recorder.InvalidSegments(pod, err)
		return ctrl.Result{}, nil
	}

	req := binding.BindRequest{
		PortID:           util.PodPortID(pod),
		HostID:           pod.Spec.NodeName,
		Segments:         segments,
		DelegatedAddress: delegated,
	}
	out, err := r.driver.BindPort(ctx, req, r.store.Binder(pod))

	switch {
	case err == nil && out.State == binding.StateBound:
		log.Info("Pod bound", "uplink", out.VIFDetails.Port, "address", out.VIFDetails.IP)
		r.recorder.PortBound(pod, out.VIFDetails.Port, out.VIFDetails.IP, out.VIFDetails.VLAN)
		return ctrl.Result{}, nil
	case err == nil:
		log.V(2).Info("No applicable segment for Pod")
		r.recorder.PortUnbound(pod, len(segments))
		return ctrl.Result{}, nil
	case allocator.IsNoCapacity(err):
		log.Info("No uplink capacity for Pod, will retry", "after", NoCapacityRequeue)
		r.recorder.NoCapacity(pod, pod.Spec.NodeName, requestedGbps(err))
		return ctrl.Result{RequeueAfter: NoCapacityRequeue}, nil
	case binding.IsAlreadyBound(err):
		log.V(2).Info("Pod port already holds bandwidth, skipping")
		return ctrl.Result{}, nil
	case allocator.IsNotFound(err):
		log.Info("Pod node has no configured uplinks")
		r.recorder.HostNotFound(pod, pod.Spec.NodeName)
		return ctrl.Result{}, nil
	default:
		log.Error(err, "Failed to bind Pod")
		r.recorder.BindFailed(pod, err)
		return ctrl.Result{}, err
	}
}

// handleDeletion releases the Pod's bandwidth and removes the finalizer.
func (r *PodReconciler) handleDeletion(ctx context.Context, pod *corev1.Pod) (ctrl.Result, error) {
	log := klog.FromContext(ctx).WithValues("pod", fmt.Sprintf("%s/%s", pod.Namespace, pod.Name))

	if !controllerutil.ContainsFinalizer(pod, types.BandwidthFinalizer) {
		return ctrl.Result{}, nil
	}
	log.Info("Handling Pod deletion")

	b, err := util.GetPodBinding(pod)
	if err != nil {
		log.Error(err, "Unreadable binding, nothing to release")
	}
	rec := binding.RecordFromBinding(util.PodPortID(pod), b)
	released, err := r.driver.UnbindPort(ctx, rec)
	if err != nil {
		r.recorder.ReleaseFailed(pod, err)
		return ctrl.Result{}, err
	}
	if released {
		if res, ok := binding.ReservationFromRecord(rec); ok {
			r.recorder.BandwidthReleased(pod, res.Uplink, res.Gbps)
		}
	}

	log.V(4).Info("Removing finalizer from Pod")
	controllerutil.RemoveFinalizer(pod, types.BandwidthFinalizer)
	if err := r.client.Update(ctx, pod); err != nil {
		log.Error(err, "Failed to remove finalizer")
		return ctrl.Result{}, err
	}

	log.Info("Pod deletion completed")
	return ctrl.Result{}, nil
}

func requestedGbps(err error) float64 {
	var e *allocator.NoCapacityError
	if errors.As(err, &e) {
		return e.Requested
	}
	return 0
}

// SetupWithManager sets up the controller with the Manager.
func (r *PodReconciler) SetupWithManager(mgr ctrl.Manager) error {
	return ctrl.NewControllerManagedBy(mgr).
		For(&corev1.Pod{}).
		WithEventFilter(podEventFilter()).
		Named(PodControllerName).
		Complete(r)
}

// podEventFilter passes Pod events that can change the binding.
func podEventFilter() predicate.Predicate {
	return predicate.Funcs{
		CreateFunc: func(e event.CreateEvent) bool {
			pod, ok := e.Object.(*corev1.Pod)
			return ok && (shouldManagePod(pod) || controllerutil.ContainsFinalizer(pod, types.BandwidthFinalizer))
		},
		UpdateFunc: func(e event.UpdateEvent) bool {
			oldPod, ok := e.ObjectOld.(*corev1.Pod)
			if !ok {
				return false
			}
			newPod, ok := e.ObjectNew.(*corev1.Pod)
			if !ok {
				return false
			}

			if !newPod.DeletionTimestamp.IsZero() {
				return controllerutil.ContainsFinalizer(newPod, types.BandwidthFinalizer)
			}
			if !shouldManagePod(newPod) {
				return false
			}

			return oldPod.Spec.NodeName != newPod.Spec.NodeName ||
				util.HasPodBinding(oldPod) != util.HasPodBinding(newPod) ||
				controllerutil.ContainsFinalizer(oldPod, types.BandwidthFinalizer) != controllerutil.ContainsFinalizer(newPod, types.BandwidthFinalizer) ||
				oldPod.Annotations[types.SegmentsAnnotation] != newPod.Annotations[types.SegmentsAnnotation]
		},
		DeleteFunc: func(e event.DeleteEvent) bool {
			return false
		},
		GenericFunc: func(e event.GenericEvent) bool {
			return false
		},
	}
}
