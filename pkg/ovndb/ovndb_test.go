package ovndb

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"github.com/jiayi-1994/piesss-binder/pkg/binding"
	"github.com/jiayi-1994/piesss-binder/pkg/config"
	"github.com/jiayi-1994/piesss-binder/pkg/types"
)

func TestNBDBModel(t *testing.T) {
	m, err := NBDBModel()
	if err != nil {
		t.Fatalf("NBDBModel() error = %v", err)
	}
	if m.Name() != "OVN_Northbound" {
		t.Errorf("expected OVN_Northbound, got %s", m.Name())
	}
}

func TestNewClient(t *testing.T) {
	if _, err := NewClient(nil); err == nil {
		t.Error("expected error for nil config")
	}
	if _, err := NewClient(&ClientConfig{NBDBAddress: " , "}); !IsValidationError(err) {
		t.Errorf("expected ValidationError, got %v", err)
	}

	c, err := NewClient(ClientConfigFrom(config.OVNConfig{NBDBAddress: "tcp:10.0.0.1:6641,tcp:10.0.0.2:6641"}))
	if err != nil {
		t.Fatalf("NewClient() error = %v", err)
	}
	if c.GetTxnTimeout() != DefaultTxnTimeout {
		t.Errorf("expected default txn timeout, got %v", c.GetTxnTimeout())
	}
	if c.config.ConnectTimeout != 30*time.Second {
		t.Errorf("expected default connect timeout, got %v", c.config.ConnectTimeout)
	}
	if c.Connected() {
		t.Error("client must not be connected before Connect")
	}
	if c.NBClient() != nil {
		t.Error("expected nil NB client before Connect")
	}

	opts, err := c.clientOptions()
	if err != nil {
		t.Fatalf("clientOptions() error = %v", err)
	}
	// two endpoints plus reconnect
	if len(opts) != 3 {
		t.Errorf("expected 3 options, got %d", len(opts))
	}
}

func TestClientOptions_TLSFilesMissing(t *testing.T) {
	c, err := NewClient(&ClientConfig{
		NBDBAddress: "ssl:10.0.0.1:6641",
		SSL:         &config.SSLConfig{Enabled: true, CACert: "/nonexistent/ca.crt", ClientCert: "/nonexistent/c.crt", ClientKey: "/nonexistent/c.key"},
	})
	if err != nil {
		t.Fatalf("NewClient() error = %v", err)
	}
	if _, err := c.clientOptions(); err == nil {
		t.Error("expected error for missing certificate files")
	}
}

func TestReconnectBackoff(t *testing.T) {
	b := reconnectBackoff(&ClientConfig{ReconnectInterval: time.Second, MaxReconnectInterval: 4 * time.Second})
	eb, ok := b.(*backoff.ExponentialBackOff)
	if !ok {
		t.Fatalf("expected *backoff.ExponentialBackOff, got %T", b)
	}
	for i := 0; i < 10; i++ {
		d := eb.NextBackOff()
		if d == backoff.Stop {
			t.Fatal("reconnect backoff must never stop")
		}
		if max := time.Duration(float64(4*time.Second) * (1 + eb.RandomizationFactor)); d > max {
			t.Errorf("backoff %v exceeds %v", d, max)
		}
	}
}

func TestEndpoints(t *testing.T) {
	got := endpoints(" tcp:1.1.1.1:6641 ,, unix:/var/run/ovn/ovnnb_db.sock ")
	want := []string{"tcp:1.1.1.1:6641", "unix:/var/run/ovn/ovnnb_db.sock"}
	if fmt.Sprint(got) != fmt.Sprint(want) {
		t.Errorf("expected %v, got %v", want, got)
	}
}

func TestPortStore_NotConnected(t *testing.T) {
	c, err := NewClient(&ClientConfig{NBDBAddress: "tcp:127.0.0.1:6641"})
	if err != nil {
		t.Fatalf("NewClient() error = %v", err)
	}
	s := NewPortStore(c)

	if _, err := s.ListPorts(context.Background()); !IsConnectionError(err) {
		t.Errorf("expected ConnectionError, got %v", err)
	}
	bc := s.Binder("default_web")
	err = bc.SetBinding(context.Background(), "seg-1", types.VIFTypeVhostUser, binding.VIFDetails{Host: "host1"}, types.PortStatusActive)
	if !IsConnectionError(err) {
		t.Errorf("expected ConnectionError, got %v", err)
	}
	if _, err := s.GetPort(context.Background(), ""); !IsValidationError(err) {
		t.Errorf("expected ValidationError, got %v", err)
	}
}

func TestPortRecordFromLSP(t *testing.T) {
	tests := []struct {
		name        string
		externalIDs map[string]string
		wantOK      bool
	}{
		{"no external ids", nil, false},
		{"other external ids", map[string]string{"namespace": "default"}, false},
		{"malformed binding", map[string]string{types.OVNBindingExternalID: "{"}, false},
		{"binding", map[string]string{types.OVNBindingExternalID: `{"vif_details":{"piesss_host":"h1","piesss_port":"p0","piesss_gbps":8}}`}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := PortRecordFromLSP(&LogicalSwitchPort{Name: "default_web", ExternalIDs: tt.externalIDs})
			if rec.ID != "default_web" {
				t.Errorf("expected id default_web, got %s", rec.ID)
			}
			if _, ok := binding.ReservationFromRecord(rec); ok != tt.wantOK {
				t.Errorf("expected reservation ok=%v, got %v", tt.wantOK, ok)
			}
		})
	}
}

// TestProperty_BindingRoundTrip checks that a binding written to a port is
// read back as the same reservation during reconciliation.
func TestProperty_BindingRoundTrip(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	properties.Property("reservation survives external_ids", prop.ForAll(
		func(host, uplink string, gbps float64, vlan int) bool {
			details := binding.VIFDetails{PortFilter: true, Host: host, IP: "2001:db8::10", VLAN: vlan, Port: uplink, Gbps: gbps}
			b := binding.NewPortBinding("seg-1", types.VIFTypeVhostUser, details, types.PortStatusActive)

			lsp := &LogicalSwitchPort{Name: "port", ExternalIDs: map[string]string{"owner": "x"}}
			if err := ApplyBinding(lsp, b, host); err != nil {
				return false
			}
			if lsp.Options[types.OVNRequestedChassisOption] != host || lsp.ExternalIDs["owner"] != "x" {
				return false
			}

			res, ok := binding.ReservationFromRecord(PortRecordFromLSP(lsp))
			return ok && res.Host == host && res.Uplink == uplink && res.Gbps == gbps
		},
		gen.Identifier(),
		gen.Identifier(),
		gen.Float64Range(0.5, 400),
		gen.IntRange(0, 4095),
	))

	properties.TestingRun(t)
}

func TestApplyBinding_RefusesBoundPort(t *testing.T) {
	details := binding.VIFDetails{PortFilter: true, Host: "host1", IP: "2001:db8::10", VLAN: 100, Port: "port0", Gbps: 8}
	lsp := &LogicalSwitchPort{Name: "default_web-0"}
	if err := ApplyBinding(lsp, binding.NewPortBinding("seg-1", types.VIFTypeVhostUser, details, types.PortStatusActive), "host1"); err != nil {
		t.Fatalf("ApplyBinding() error = %v", err)
	}
	stored := lsp.ExternalIDs[types.OVNBindingExternalID]

	details.Host = "host2"
	details.Port = "port1"
	err := ApplyBinding(lsp, binding.NewPortBinding("seg-1", types.VIFTypeVhostUser, details, types.PortStatusActive), "host2")
	if !binding.IsAlreadyBound(err) {
		t.Fatalf("expected AlreadyBoundError, got %v", err)
	}
	if got := err.Error(); got != "port default_web-0 is already bound on host host1" {
		t.Errorf("unexpected message %q", got)
	}
	if lsp.ExternalIDs[types.OVNBindingExternalID] != stored || lsp.Options[types.OVNRequestedChassisOption] != "host1" {
		t.Error("refused binding must leave the port untouched")
	}

	res, ok := binding.ReservationFromRecord(PortRecordFromLSP(lsp))
	if !ok || res.Host != "host1" || res.Uplink != "port0" {
		t.Errorf("unexpected reservation %+v, %v", res, ok)
	}
}

func TestErrorHelpers(t *testing.T) {
	wrapped := fmt.Errorf("bind: %w", &ObjectNotFoundError{Port: "p"})
	if !IsNotFound(wrapped) {
		t.Error("IsNotFound must see through wrapping")
	}
	if IsNotFound(&TransactionError{Op: "list", Err: fmt.Errorf("x")}) {
		t.Error("TransactionError is not a NotFound")
	}
	if got := (&ConnectionError{Address: "tcp:1.1.1.1:6641", Err: fmt.Errorf("refused")}).Error(); got != "OVN NB database tcp:1.1.1.1:6641 unreachable: refused" {
		t.Errorf("unexpected message %q", got)
	}
}
