package binding

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net/netip"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jiayi-1994/piesss-binder/pkg/allocator"
	"github.com/jiayi-1994/piesss-binder/pkg/segment"
	"github.com/jiayi-1994/piesss-binder/pkg/types"
	"github.com/jiayi-1994/piesss-binder/pkg/vhostuser"
)

type fakeLister struct {
	mu      sync.Mutex
	records []PortRecord
	err     error
	calls   int32
}

func (f *fakeLister) ListPorts(ctx context.Context) ([]PortRecord, error) {
	atomic.AddInt32(&f.calls, 1)
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	return append([]PortRecord(nil), f.records...), nil
}

func (f *fakeLister) setErr(err error) {
	f.mu.Lock()
	f.err = err
	f.mu.Unlock()
}

type recordingContext struct {
	mu       sync.Mutex
	bindings []VIFDetails
	err      error
}

func (r *recordingContext) SetBinding(ctx context.Context, segmentID, vifType string, details VIFDetails, status string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	r.bindings = append(r.bindings, details)
	return nil
}

func boundRecord(id, host, uplink string, gbps float64) PortRecord {
	return PortRecord{
		ID:         id,
		Profile:    map[string]interface{}{types.ProfilePiesssGbps: fmt.Sprint(gbps)},
		VIFDetails: map[string]interface{}{types.VIFDetailsPiesssHost: host, types.VIFDetailsPiesssPort: uplink},
	}
}

var threeUplinks = []string{
	"host1|port0|10|100|2001:db8:0:1::",
	"host1|port1|10|101|2001:db8:0:2::",
	"host1|port2|10|102|2001:db8:0:3::",
}

func newTestDriver(t *testing.T, descriptors []string, lister PortLister, gbps float64) *Driver {
	t.Helper()
	inv, err := allocator.LoadInventory(descriptors)
	require.NoError(t, err)
	segments, err := segment.NewManager(segment.NewPiesssDriver(), segment.NewZoneDriver())
	require.NoError(t, err)
	naming, err := vhostuser.NewNaming("/var/run/piesss", types.VhostUserModeClient)
	require.NoError(t, err)

	d, err := NewDriver(Options{
		Inventory:        inv,
		Ports:            lister,
		Segments:         segments,
		RequestGbps:      gbps,
		DelegatedAddress: netip.MustParseAddr("2003::10"),
		VhostUser:        naming,
	})
	require.NoError(t, err)
	return d
}

func request(port, host string, segs ...segment.Segment) BindRequest {
	return BindRequest{PortID: port, HostID: host, Segments: segs}
}

func TestNewDriver_Validation(t *testing.T) {
	inv, err := allocator.LoadInventory(threeUplinks)
	require.NoError(t, err)
	segments, err := segment.NewManager(segment.NewPiesssDriver())
	require.NoError(t, err)
	valid := Options{
		Inventory:        inv,
		Ports:            &fakeLister{},
		Segments:         segments,
		RequestGbps:      8,
		DelegatedAddress: netip.MustParseAddr("2003::10"),
	}

	_, err = NewDriver(valid)
	require.NoError(t, err)

	tests := []struct {
		name   string
		modify func(o *Options)
	}{
		{"no inventory", func(o *Options) { o.Inventory = nil }},
		{"no lister", func(o *Options) { o.Ports = nil }},
		{"no segments", func(o *Options) { o.Segments = nil }},
		{"zero bandwidth", func(o *Options) { o.RequestGbps = 0 }},
		{"NaN bandwidth", func(o *Options) { o.RequestGbps = math.NaN() }},
		{"infinite bandwidth", func(o *Options) { o.RequestGbps = math.Inf(1) }},
		{"no delegated address", func(o *Options) { o.DelegatedAddress = netip.Addr{} }},
		{"unregistered type", func(o *Options) { o.NetworkTypes = []string{"vlan"} }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			opts := valid
			tt.modify(&opts)
			_, err := NewDriver(opts)
			assert.Error(t, err)
		})
	}
}

func TestBindPort_BestFit(t *testing.T) {
	lister := &fakeLister{records: []PortRecord{
		boundRecord("a", "host1", "port0", 10),
		boundRecord("b", "host1", "port1", 5),
		{ID: "unbound"},
	}}

	tests := []struct {
		gbps   float64
		uplink string
	}{
		{4, "port1"},
		{6, "port2"},
	}
	for _, tt := range tests {
		t.Run(tt.uplink, func(t *testing.T) {
			d := newTestDriver(t, threeUplinks, lister, tt.gbps)
			bc := &recordingContext{}

			out, err := d.BindPort(context.Background(), request("p", "host1", segment.New("seg-1", "piesss", 42)), bc)
			require.NoError(t, err)
			assert.Equal(t, StateBound, out.State)
			assert.Equal(t, tt.uplink, out.VIFDetails.Port)
			require.Len(t, bc.bindings, 1)
			assert.Equal(t, *out.VIFDetails, bc.bindings[0])
		})
	}
}

func TestBindPort_NoCapacity(t *testing.T) {
	lister := &fakeLister{records: []PortRecord{
		boundRecord("a", "host1", "port0", 10),
		boundRecord("b", "host1", "port1", 5),
	}}
	d := newTestDriver(t, threeUplinks, lister, 11)
	bc := &recordingContext{}

	// a later applicable segment must not be tried after a capacity failure
	out, err := d.BindPort(context.Background(),
		request("p", "host1", segment.New("seg-1", "piesss", 42), segment.New("seg-2", "piesss", 43)), bc)
	require.Error(t, err)
	assert.True(t, allocator.IsNoCapacity(err))
	assert.Equal(t, StateFailed, out.State)
	assert.Equal(t, "seg-1", out.SegmentID)
	assert.Empty(t, bc.bindings)

	for _, u := range []string{"port0", "port1", "port2"} {
		assert.Equal(t, map[string]float64{"port0": 10, "port1": 5, "port2": 0}[u], d.ledger.Committed("host1", u), u)
	}
}

func TestBindPort_Descriptor(t *testing.T) {
	d := newTestDriver(t, threeUplinks, &fakeLister{}, 8)
	bc := &recordingContext{}

	out, err := d.BindPort(context.Background(), request("default_web-0", "host1", segment.New("seg-1", "piesss", 42)), bc)
	require.NoError(t, err)

	assert.Equal(t, StateBound, out.State)
	assert.Equal(t, "seg-1", out.SegmentID)
	assert.Equal(t, types.VIFTypeVhostUser, out.VIFType)
	assert.Equal(t, types.PortStatusActive, out.Status)

	// all uplinks are empty so the tie goes to port0
	assert.Equal(t, VIFDetails{
		PortFilter:      true,
		Host:            "host1",
		IP:              "2001:db8:0:1::10",
		VLAN:            100,
		Port:            "port0",
		Gbps:            8,
		VhostUserSocket: "/var/run/piesss/vhudefault_web-0",
		VhostUserMode:   types.VhostUserModeClient,
	}, *out.VIFDetails)
	assert.Equal(t, 8.0, d.ledger.Committed("host1", "port0"))
}

func TestBindPort_RequestDelegatedAddress(t *testing.T) {
	d := newTestDriver(t, threeUplinks, &fakeLister{}, 8)

	req := request("p", "host1", segment.New("seg-1", "piesss", 42))
	req.DelegatedAddress = netip.MustParseAddr("fd00::aa:bb:cc:dd")
	out, err := d.BindPort(context.Background(), req, &recordingContext{})
	require.NoError(t, err)
	assert.Equal(t, "2001:db8:0:1:aa:bb:cc:dd", out.VIFDetails.IP)
}

func TestBindPort_Unbound(t *testing.T) {
	lister := &fakeLister{}
	d := newTestDriver(t, threeUplinks, lister, 8)
	bc := &recordingContext{}

	out, err := d.BindPort(context.Background(), request("p", "host1",
		segment.New("seg-1", "vlan", 100),
		segment.Segment{ID: "seg-2", NetworkType: "vxlan"},
	), bc)
	require.NoError(t, err)
	assert.Equal(t, StateUnbound, out.State)
	assert.Nil(t, out.VIFDetails)
	assert.Empty(t, bc.bindings)
	assert.Zero(t, atomic.LoadInt32(&lister.calls))
	assert.Empty(t, d.ledger.Snapshot())

	out, err = d.BindPort(context.Background(), request("p", "host1"), bc)
	require.NoError(t, err)
	assert.Equal(t, StateUnbound, out.State)
}

func TestBindPort_SkipsInapplicableSegments(t *testing.T) {
	d := newTestDriver(t, threeUplinks, &fakeLister{}, 8)

	out, err := d.BindPort(context.Background(), request("p", "host1",
		segment.New("seg-1", "vlan", 100),
		segment.New("seg-2", "piesss", 42),
		segment.New("seg-3", "piesss", 43),
	), &recordingContext{})
	require.NoError(t, err)
	assert.Equal(t, "seg-2", out.SegmentID)
}

func TestBindPort_UnknownHost(t *testing.T) {
	lister := &fakeLister{}
	d := newTestDriver(t, threeUplinks, lister, 8)

	out, err := d.BindPort(context.Background(), request("p", "host9", segment.New("seg-1", "piesss", 42)), &recordingContext{})
	require.Error(t, err)
	assert.True(t, allocator.IsNotFound(err))
	assert.Equal(t, StateFailed, out.State)
	assert.Zero(t, atomic.LoadInt32(&lister.calls))
}

func TestBindPort_NilContext(t *testing.T) {
	d := newTestDriver(t, threeUplinks, &fakeLister{}, 8)

	out, err := d.BindPort(context.Background(), request("p", "host1", segment.New("seg-1", "piesss", 42)), nil)
	require.Error(t, err)
	assert.Equal(t, StateFailed, out.State)
}

func TestBindPort_ReconcilesOncePerHost(t *testing.T) {
	lister := &fakeLister{records: []PortRecord{boundRecord("a", "host1", "port0", 4)}}
	descriptors := append([]string{"host2|eth0|25|7|2001:db8:f::"}, threeUplinks...)
	d := newTestDriver(t, descriptors, lister, 4)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := d.BindPort(ctx, request(fmt.Sprintf("p%d", i), "host1", segment.New("s", "piesss", 1)), &recordingContext{})
		require.NoError(t, err)
	}
	assert.EqualValues(t, 1, atomic.LoadInt32(&lister.calls))

	_, err := d.BindPort(ctx, request("q", "host2", segment.New("s", "piesss", 1)), &recordingContext{})
	require.NoError(t, err)
	assert.EqualValues(t, 2, atomic.LoadInt32(&lister.calls))

	// seeded 4 + three binds of 4 fill port0 first: 4+4=8, then port1, port1
	assert.Equal(t, 8.0, d.ledger.Committed("host1", "port0"))
	assert.Equal(t, 8.0, d.ledger.Committed("host1", "port1"))
	assert.Equal(t, 4.0, d.ledger.Committed("host2", "eth0"))
}

func TestBindPort_ListFailureRetries(t *testing.T) {
	lister := &fakeLister{
		records: []PortRecord{boundRecord("a", "host1", "port0", 9)},
		err:     errors.New("store unavailable"),
	}
	d := newTestDriver(t, threeUplinks, lister, 2)
	req := request("p", "host1", segment.New("seg-1", "piesss", 42))

	out, err := d.BindPort(context.Background(), req, &recordingContext{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "store unavailable")
	assert.Equal(t, StateFailed, out.State)
	assert.Empty(t, d.ledger.Snapshot())

	lister.setErr(nil)
	out, err = d.BindPort(context.Background(), req, &recordingContext{})
	require.NoError(t, err)
	// port0 has 1 left after reconciliation, so the tightest fit is port1
	assert.Equal(t, "port1", out.VIFDetails.Port)
	assert.EqualValues(t, 2, atomic.LoadInt32(&lister.calls))
}

func TestBindPort_CallbackFailureDoesNotCommit(t *testing.T) {
	d := newTestDriver(t, threeUplinks, &fakeLister{}, 8)
	bc := &recordingContext{err: errors.New("port deleted")}

	out, err := d.BindPort(context.Background(), request("p", "host1", segment.New("seg-1", "piesss", 42)), bc)
	require.Error(t, err)
	assert.Equal(t, StateFailed, out.State)
	assert.Empty(t, d.ledger.Snapshot())
}

func TestBindPort_Concurrent(t *testing.T) {
	descriptors := []string{
		"host1|port0|9|1|2001:db8:0:1::",
		"host1|port1|9|2|2001:db8:0:2::",
	}
	d := newTestDriver(t, descriptors, &fakeLister{}, 1)

	var (
		wg       sync.WaitGroup
		bound    int32
		noRoom   int32
		requests = 30
	)
	for i := 0; i < requests; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			out, err := d.BindPort(context.Background(),
				request(fmt.Sprintf("p%d", i), "host1", segment.New("s", "piesss", 1)), &recordingContext{})
			switch {
			case err == nil && out.State == StateBound:
				atomic.AddInt32(&bound, 1)
			case allocator.IsNoCapacity(err):
				atomic.AddInt32(&noRoom, 1)
			}
		}(i)
	}
	wg.Wait()

	assert.EqualValues(t, 18, bound)
	assert.EqualValues(t, 12, noRoom)
	assert.Equal(t, 9.0, d.ledger.Committed("host1", "port0"))
	assert.Equal(t, 9.0, d.ledger.Committed("host1", "port1"))
}

func TestUnbindPort(t *testing.T) {
	d := newTestDriver(t, threeUplinks, &fakeLister{}, 8)
	ctx := context.Background()

	// nothing is held before the host is reconciled
	released, err := d.UnbindPort(ctx, boundRecord("x", "host1", "port0", 8))
	require.NoError(t, err)
	assert.False(t, released)

	out, err := d.BindPort(ctx, request("p", "host1", segment.New("seg-1", "piesss", 42)), &recordingContext{})
	require.NoError(t, err)

	rec := RecordFromBinding("p", NewPortBinding(out.SegmentID, out.VIFType, *out.VIFDetails, out.Status))
	released, err = d.UnbindPort(ctx, rec)
	require.NoError(t, err)
	assert.True(t, released)
	assert.Zero(t, d.ledger.Committed("host1", "port0"))

	released, err = d.UnbindPort(ctx, PortRecord{ID: "bare"})
	require.NoError(t, err)
	assert.False(t, released)
}

func TestBindPort_RebindSamePort(t *testing.T) {
	d := newTestDriver(t, threeUplinks, &fakeLister{}, 4)
	ctx := context.Background()
	req := request("p", "host1", segment.New("seg-1", "piesss", 42))

	_, err := d.BindPort(ctx, req, &recordingContext{})
	require.NoError(t, err)

	bc := &recordingContext{}
	out, err := d.BindPort(ctx, req, bc)
	require.Error(t, err)
	assert.True(t, IsAlreadyBound(err))
	assert.Equal(t, StateFailed, out.State)
	assert.Empty(t, bc.bindings)
	assert.Equal(t, 4.0, d.ledger.Committed("host1", "port0"))
}

func TestBindPort_RebindAfterReconcile(t *testing.T) {
	lister := &fakeLister{records: []PortRecord{boundRecord("p", "host1", "port1", 4)}}
	d := newTestDriver(t, threeUplinks, lister, 4)

	_, err := d.BindPort(context.Background(), request("p", "host1", segment.New("s", "piesss", 1)), &recordingContext{})
	assert.True(t, IsAlreadyBound(err))
	assert.Equal(t, 4.0, d.ledger.Committed("host1", "port1"))
	assert.Zero(t, d.ledger.Committed("host1", "port0"))
}

func TestUnbindPort_Repeated(t *testing.T) {
	descriptors := []string{"host1|port0|16|100|2001:db8:0:1::"}
	d := newTestDriver(t, descriptors, &fakeLister{}, 8)
	ctx := context.Background()

	var recs []PortRecord
	for _, id := range []string{"a", "b"} {
		out, err := d.BindPort(ctx, request(id, "host1", segment.New("s", "piesss", 1)), &recordingContext{})
		require.NoError(t, err)
		recs = append(recs, RecordFromBinding(id, NewPortBinding(out.SegmentID, out.VIFType, *out.VIFDetails, out.Status)))
	}
	require.Equal(t, 16.0, d.ledger.Committed("host1", "port0"))

	released, err := d.UnbindPort(ctx, recs[0])
	require.NoError(t, err)
	assert.True(t, released)

	for i := 0; i < 3; i++ {
		released, err = d.UnbindPort(ctx, recs[0])
		require.NoError(t, err)
		assert.False(t, released)
	}
	assert.Equal(t, 8.0, d.ledger.Committed("host1", "port0"))

	// freed room is usable again and b still holds its share
	_, err = d.BindPort(ctx, request("c", "host1", segment.New("s", "piesss", 1)), &recordingContext{})
	require.NoError(t, err)
	_, err = d.BindPort(ctx, request("d", "host1", segment.New("s", "piesss", 1)), &recordingContext{})
	assert.True(t, allocator.IsNoCapacity(err))
}

func TestUnbindPort_Concurrent(t *testing.T) {
	descriptors := []string{"host1|port0|16|100|2001:db8:0:1::"}
	d := newTestDriver(t, descriptors, &fakeLister{}, 8)
	ctx := context.Background()

	var rec PortRecord
	for _, id := range []string{"a", "b"} {
		out, err := d.BindPort(ctx, request(id, "host1", segment.New("s", "piesss", 1)), &recordingContext{})
		require.NoError(t, err)
		if id == "a" {
			rec = RecordFromBinding(id, NewPortBinding(out.SegmentID, out.VIFType, *out.VIFDetails, out.Status))
		}
	}

	var (
		wg       sync.WaitGroup
		released int32
	)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if ok, err := d.UnbindPort(ctx, rec); err == nil && ok {
				atomic.AddInt32(&released, 1)
			}
		}()
	}
	wg.Wait()

	assert.EqualValues(t, 1, released)
	assert.Equal(t, 8.0, d.ledger.Committed("host1", "port0"))
}

func TestReservations_NonFinite(t *testing.T) {
	record := func(id string, gbps interface{}) PortRecord {
		return PortRecord{
			ID:         id,
			Profile:    map[string]interface{}{types.ProfilePiesssGbps: gbps},
			VIFDetails: map[string]interface{}{types.VIFDetailsPiesssHost: "host1", types.VIFDetailsPiesssPort: "port0"},
		}
	}

	tests := []struct {
		name   string
		gbps   interface{}
		wantOK bool
	}{
		{"string", "8", true},
		{"float", 8.0, true},
		{"NaN string", "NaN", false},
		{"Inf string", "Inf", false},
		{"negative Inf string", "-Inf", false},
		{"NaN float", math.NaN(), false},
		{"Inf float", math.Inf(1), false},
		{"zero", "0", false},
		{"negative", "-1", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, ok := ReservationFromRecord(record("p", tt.gbps))
			assert.Equal(t, tt.wantOK, ok)
		})
	}

	// vif_details is not consulted when the profile value is non-finite
	rec := record("q", "NaN")
	rec.VIFDetails[types.VIFDetailsPiesssGbps] = math.Inf(1)
	_, ok := ReservationFromRecord(rec)
	assert.False(t, ok)
}

func TestBindPort_NonFiniteRecordsHoldNothing(t *testing.T) {
	descriptors := []string{"host1|port0|10|100|2001:db8:0:1::"}
	lister := &fakeLister{records: []PortRecord{
		{
			ID:         "nan",
			Profile:    map[string]interface{}{types.ProfilePiesssGbps: "NaN"},
			VIFDetails: map[string]interface{}{types.VIFDetailsPiesssHost: "host1", types.VIFDetailsPiesssPort: "port0"},
		},
		boundRecord("a", "host1", "port0", 6),
	}}
	d := newTestDriver(t, descriptors, lister, 4)
	ctx := context.Background()

	_, err := d.BindPort(ctx, request("p", "host1", segment.New("s", "piesss", 1)), &recordingContext{})
	require.NoError(t, err)
	assert.Equal(t, 10.0, d.ledger.Committed("host1", "port0"))

	_, err = d.BindPort(ctx, request("q", "host1", segment.New("s", "piesss", 1)), &recordingContext{})
	assert.True(t, allocator.IsNoCapacity(err))
	assert.Equal(t, 10.0, d.ledger.Committed("host1", "port0"))
}

func TestOutcomeFromRecord(t *testing.T) {
	d := newTestDriver(t, threeUplinks, &fakeLister{}, 8)
	out, err := d.BindPort(context.Background(), request("p", "host1", segment.New("seg-1", "piesss", 42)), &recordingContext{})
	require.NoError(t, err)

	rec := RecordFromBinding("p", NewPortBinding(out.SegmentID, out.VIFType, *out.VIFDetails, out.Status))
	got, ok := OutcomeFromRecord(rec)
	require.True(t, ok)
	assert.Equal(t, out, got)

	_, ok = OutcomeFromRecord(PortRecord{ID: "bare"})
	assert.False(t, ok)
}

func TestCheckSegment(t *testing.T) {
	d := newTestDriver(t, threeUplinks, &fakeLister{}, 8)

	assert.True(t, d.CheckSegment(segment.New("s", "piesss", 42)))
	assert.True(t, d.CheckSegment(segment.Segment{NetworkType: "piesss"}))
	assert.False(t, d.CheckSegment(segment.Segment{NetworkType: "vlan"}))
	// zone is registered but not accepted by default
	assert.False(t, d.CheckSegment(segment.Segment{NetworkType: "zone"}))
	assert.Empty(t, d.ledger.Snapshot())
}

func TestUsage(t *testing.T) {
	d := newTestDriver(t, threeUplinks, &fakeLister{}, 8)
	_, err := d.BindPort(context.Background(), request("p", "host1", segment.New("s", "piesss", 1)), &recordingContext{})
	require.NoError(t, err)

	usage := d.Usage()
	require.Len(t, usage, 3)
	assert.Equal(t, UplinkUsage{Host: "host1", Uplink: "port0", VLAN: 100, CapacityGbps: 10, CommittedGbps: 8}, usage[0])
	assert.Equal(t, "host1/port1 0/10 Gbps", usage[1].String())
}
