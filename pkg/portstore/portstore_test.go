package portstore

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	k8stypes "k8s.io/apimachinery/pkg/types"
	"sigs.k8s.io/controller-runtime/pkg/client/fake"

	"github.com/jiayi-1994/piesss-binder/pkg/binding"
	"github.com/jiayi-1994/piesss-binder/pkg/types"
	"github.com/jiayi-1994/piesss-binder/pkg/util"
)

func testDetails(host, uplink string) binding.VIFDetails {
	return binding.VIFDetails{
		PortFilter: true,
		Host:       host,
		IP:         "2001:db8::10",
		VLAN:       100,
		Port:       uplink,
		Gbps:       8,
	}
}

func TestMemoryStore(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	records, err := s.ListPorts(ctx)
	require.NoError(t, err)
	assert.Empty(t, records)

	require.NoError(t, s.Binder("b").SetBinding(ctx, "seg-1", types.VIFTypeVhostUser, testDetails("host1", "port1"), types.PortStatusActive))
	require.NoError(t, s.Binder("a").SetBinding(ctx, "seg-1", types.VIFTypeVhostUser, testDetails("host1", "port0"), types.PortStatusActive))
	s.Put("c", nil)

	err = s.Binder("a").SetBinding(ctx, "seg-1", types.VIFTypeVhostUser, testDetails("host1", "port2"), types.PortStatusActive)
	assert.True(t, binding.IsAlreadyBound(err))

	records, err = s.ListPorts(ctx)
	require.NoError(t, err)
	require.Len(t, records, 3)
	assert.Equal(t, []string{"a", "b", "c"}, []string{records[0].ID, records[1].ID, records[2].ID})

	res, ok := binding.ReservationFromRecord(records[0])
	require.True(t, ok)
	assert.Equal(t, "port0", res.Uplink)
	assert.Equal(t, 8.0, res.Gbps)
	_, ok = binding.ReservationFromRecord(records[2])
	assert.False(t, ok)

	rec, ok := s.Delete("a")
	require.True(t, ok)
	assert.Equal(t, "host1", rec.VIFDetails[types.VIFDetailsPiesssHost])
	_, ok = s.Delete("a")
	assert.False(t, ok)
	assert.Equal(t, 2, s.Len())
}

func newPod(name string, annotations map[string]string) *corev1.Pod {
	return &corev1.Pod{
		ObjectMeta: metav1.ObjectMeta{
			Name:        name,
			Namespace:   "default",
			Annotations: annotations,
		},
		Spec: corev1.PodSpec{NodeName: "host1"},
	}
}

func TestPodStore_ListPorts(t *testing.T) {
	bound := `{"segment_id":"seg-1","vif_type":"vhostuser","vif_details":{"piesss_host":"host1","piesss_port":"port0"},"profile":{"piesss_gbps":"8"},"status":"ACTIVE"}`
	c := fake.NewClientBuilder().WithObjects(
		newPod("bound", map[string]string{types.BindingAnnotation: bound}),
		newPod("plain", nil),
		newPod("broken", map[string]string{types.BindingAnnotation: "{not json"}),
	).Build()

	records, err := NewPodStore(c, "").ListPorts(context.Background())
	require.NoError(t, err)
	require.Len(t, records, 3)

	var reservations int
	for _, rec := range records {
		if res, ok := binding.ReservationFromRecord(rec); ok {
			reservations++
			assert.Equal(t, "default_bound", res.PortID)
			assert.Equal(t, 8.0, res.Gbps)
		}
	}
	assert.Equal(t, 1, reservations)

	records, err = NewPodStore(c, "other").ListPorts(context.Background())
	require.NoError(t, err)
	assert.Empty(t, records)
}

func TestPodStore_Binder(t *testing.T) {
	ctx := context.Background()
	pod := newPod("web", nil)
	c := fake.NewClientBuilder().WithObjects(pod).Build()
	s := NewPodStore(c, "")

	require.NoError(t, s.Binder(pod).SetBinding(ctx, "seg-1", types.VIFTypeVhostUser, testDetails("host1", "port0"), types.PortStatusActive))

	stored := &corev1.Pod{}
	require.NoError(t, c.Get(ctx, k8stypes.NamespacedName{Namespace: "default", Name: "web"}, stored))
	b, err := util.GetPodBinding(stored)
	require.NoError(t, err)
	require.NotNil(t, b)
	assert.Equal(t, "seg-1", b.SegmentID)
	assert.Equal(t, "8", b.Profile[types.ProfilePiesssGbps])
	assert.Equal(t, "port0", b.VIFDetails[types.VIFDetailsPiesssPort])

	require.NoError(t, s.ClearBinding(ctx, stored))
	require.NoError(t, c.Get(ctx, k8stypes.NamespacedName{Namespace: "default", Name: "web"}, stored))
	assert.False(t, util.HasPodBinding(stored))
}

func TestMemoryStore_RecordAndClear(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	require.NoError(t, s.Binder("a").SetBinding(ctx, "seg-1", types.VIFTypeVhostUser, testDetails("host1", "port0"), types.PortStatusActive))

	rec, err := s.Record(ctx, "a")
	require.NoError(t, err)
	res, ok := binding.ReservationFromRecord(rec)
	require.True(t, ok)
	assert.Equal(t, "port0", res.Uplink)

	_, err = s.Record(ctx, "missing")
	assert.Error(t, err)

	require.NoError(t, s.ClearBinding(ctx, "a"))
	require.NoError(t, s.ClearBinding(ctx, "a"))
	assert.Equal(t, 0, s.Len())
}

func TestPodPorts(t *testing.T) {
	ctx := context.Background()
	c := fake.NewClientBuilder().WithObjects(newPod("web-0", nil)).Build()
	ports := NewPodStore(c, "").ByPortID()

	require.NoError(t, ports.Binder("default_web-0").SetBinding(ctx, "seg-1", types.VIFTypeVhostUser, testDetails("host1", "port1"), types.PortStatusActive))
	err := ports.Binder("default_web-0").SetBinding(ctx, "seg-1", types.VIFTypeVhostUser, testDetails("host1", "port2"), types.PortStatusActive)
	assert.True(t, binding.IsAlreadyBound(err))

	rec, err := ports.Record(ctx, "default_web-0")
	require.NoError(t, err)
	res, ok := binding.ReservationFromRecord(rec)
	require.True(t, ok)
	assert.Equal(t, "port1", res.Uplink)
	assert.Equal(t, "host1", res.Host)

	out, ok := binding.OutcomeFromRecord(rec)
	require.True(t, ok)
	assert.Equal(t, binding.StateBound, out.State)
	assert.Equal(t, "seg-1", out.SegmentID)
	assert.Equal(t, testDetails("host1", "port1"), *out.VIFDetails)

	records, err := ports.ListPorts(ctx)
	require.NoError(t, err)
	assert.Len(t, records, 1)

	require.NoError(t, ports.ClearBinding(ctx, "default_web-0"))
	rec, err = ports.Record(ctx, "default_web-0")
	require.NoError(t, err)
	_, ok = binding.ReservationFromRecord(rec)
	assert.False(t, ok)

	assert.NoError(t, ports.ClearBinding(ctx, "default_gone"))
	assert.Error(t, ports.Binder("nounderscore").SetBinding(ctx, "seg-1", types.VIFTypeVhostUser, testDetails("host1", "port1"), types.PortStatusActive))
}

func TestPodKey(t *testing.T) {
	tests := []struct {
		portID  string
		ns      string
		name    string
		wantErr bool
	}{
		{portID: "default_web-0", ns: "default", name: "web-0"},
		{portID: "kube-system_a_b", ns: "kube-system", name: "a_b"},
		{portID: "web", wantErr: true},
		{portID: "_web", wantErr: true},
		{portID: "default_", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.portID, func(t *testing.T) {
			key, err := podKey(tt.portID)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.ns, key.Namespace)
			assert.Equal(t, tt.name, key.Name)
		})
	}
}
