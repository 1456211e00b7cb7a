package e2e

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	corev1 "k8s.io/api/core/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/fields"
	"k8s.io/apimachinery/pkg/util/wait"

	"github.com/jiayi-1994/piesss-binder/pkg/segment"
	"github.com/jiayi-1994/piesss-binder/pkg/types"
	"github.com/jiayi-1994/piesss-binder/pkg/util"
)

type PodConfig struct {
	Name      string
	Namespace string
	Image     string
	NodeName  string
	Segments  []segment.Segment
}

// CreateSegmentPod creates a Pod pinned to a node and asking for a binding
// on the given segments.
func (f *TestFramework) CreateSegmentPod(ctx context.Context, config PodConfig) (*corev1.Pod, error) {
	if config.Namespace == "" {
		config.Namespace = f.TestNamespace
	}
	if config.Image == "" {
		config.Image = "busybox:1.36"
	}
	if config.NodeName == "" {
		config.NodeName = f.Host
	}
	segs, err := json.Marshal(config.Segments)
	if err != nil {
		return nil, err
	}

	pod := &corev1.Pod{
		ObjectMeta: metav1.ObjectMeta{
			Name:        config.Name,
			Namespace:   config.Namespace,
			Labels:      map[string]string{"app": config.Name},
			Annotations: map[string]string{types.SegmentsAnnotation: string(segs)},
		},
		Spec: corev1.PodSpec{
			Containers: []corev1.Container{{Name: "main", Image: config.Image, Command: []string{"sleep", "3600"}}},
			NodeName:   config.NodeName,
		},
	}
	return f.Clientset.CoreV1().Pods(config.Namespace).Create(ctx, pod, metav1.CreateOptions{})
}

// WaitForBinding waits until the binder has written the Pod's binding.
func (f *TestFramework) WaitForBinding(ctx context.Context, namespace, name string, timeout time.Duration) (*util.PortBinding, error) {
	var b *util.PortBinding
	err := wait.PollUntilContextTimeout(ctx, PollInterval, timeout, true, func(ctx context.Context) (bool, error) {
		pod, err := f.Clientset.CoreV1().Pods(namespace).Get(ctx, name, metav1.GetOptions{})
		if err != nil {
			return false, nil
		}
		b, err = util.GetPodBinding(pod)
		if err != nil {
			return false, err
		}
		return b != nil, nil
	})
	if err != nil {
		return nil, fmt.Errorf("timeout waiting for binding of pod %s/%s: %w", namespace, name, err)
	}
	return b, nil
}

// WaitForEvent waits for an event with the given reason on a Pod.
func (f *TestFramework) WaitForEvent(ctx context.Context, namespace, name, reason string, timeout time.Duration) (*corev1.Event, error) {
	selector := fields.Set{
		"involvedObject.kind": "Pod",
		"involvedObject.name": name,
		"reason":              reason,
	}.AsSelector().String()

	var event *corev1.Event
	err := wait.PollUntilContextTimeout(ctx, PollInterval, timeout, true, func(ctx context.Context) (bool, error) {
		list, err := f.Clientset.CoreV1().Events(namespace).List(ctx, metav1.ListOptions{FieldSelector: selector})
		if err != nil || len(list.Items) == 0 {
			return false, nil
		}
		event = &list.Items[0]
		return true, nil
	})
	if err != nil {
		return nil, fmt.Errorf("timeout waiting for %s event on pod %s/%s: %w", reason, namespace, name, err)
	}
	return event, nil
}

// DeletePodAndWait deletes a Pod and waits until the binder's finalizer
// let it go.
func (f *TestFramework) DeletePodAndWait(ctx context.Context, namespace, name string, timeout time.Duration) error {
	grace := int64(0)
	err := f.Clientset.CoreV1().Pods(namespace).Delete(ctx, name, metav1.DeleteOptions{GracePeriodSeconds: &grace})
	if err != nil && !apierrors.IsNotFound(err) {
		return err
	}
	return wait.PollUntilContextTimeout(ctx, PollInterval, timeout, true, func(ctx context.Context) (bool, error) {
		_, err := f.Clientset.CoreV1().Pods(namespace).Get(ctx, name, metav1.GetOptions{})
		return apierrors.IsNotFound(err), nil
	})
}
