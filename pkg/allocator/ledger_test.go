package allocator

import (
	"errors"
	"sync"
	"testing"
)

func TestLedger_CommitRelease(t *testing.T) {
	l := NewLedger()

	if got := l.Committed("h1", "p0"); got != 0 {
		t.Errorf("expected 0 for unseen uplink, got %v", got)
	}

	l.Commit("h1", "p0", 8)
	l.Commit("h1", "p0", 1.5)
	if got := l.Committed("h1", "p0"); got != 9.5 {
		t.Errorf("expected 9.5, got %v", got)
	}

	l.Release("h1", "p0", 8)
	if got := l.Committed("h1", "p0"); got != 1.5 {
		t.Errorf("expected 1.5, got %v", got)
	}

	l.Release("h1", "p0", 4)
	if got := l.Committed("h1", "p0"); got != 0 {
		t.Errorf("expected release to clamp at 0, got %v", got)
	}
	if snap := l.Snapshot(); len(snap) != 0 {
		t.Errorf("expected empty snapshot after full release, got %v", snap)
	}
}

func TestLedger_Reconcile(t *testing.T) {
	l := NewLedger()
	reservations := []Reservation{
		{PortID: "a", Host: "h1", Uplink: "p0", Gbps: 8},
		{PortID: "b", Host: "h1", Uplink: "p0", Gbps: 1},
		{PortID: "c", Host: "h1", Uplink: "p1", Gbps: 4},
		{PortID: "d", Host: "h2", Uplink: "p0", Gbps: 2.5},
	}

	l.Reconcile(reservations)
	first := l.Snapshot()
	l.Reconcile(reservations)
	second := l.Snapshot()

	want := []Allocation{
		{Host: "h1", Uplink: "p0", CommittedGbps: 9},
		{Host: "h1", Uplink: "p1", CommittedGbps: 4},
		{Host: "h2", Uplink: "p0", CommittedGbps: 2.5},
	}
	for _, snap := range [][]Allocation{first, second} {
		if len(snap) != len(want) {
			t.Fatalf("expected %v, got %v", want, snap)
		}
		for i := range want {
			if snap[i] != want[i] {
				t.Errorf("entry %d: expected %v, got %v", i, want[i], snap[i])
			}
		}
	}
}

func TestHostTx_ReconcileOnce(t *testing.T) {
	l := NewLedger()

	err := l.Update("h1", func(tx *HostTx) error {
		if tx.Reconciled() {
			t.Error("new host should not be reconciled")
		}
		tx.Reconcile([]Reservation{
			{Host: "h1", Uplink: "p0", Gbps: 3},
			{Host: "h2", Uplink: "p0", Gbps: 7},
		})
		if !tx.Reconciled() {
			t.Error("host should be reconciled")
		}
		if tx.Host() != "h1" {
			t.Errorf("expected host h1, got %s", tx.Host())
		}
		if got := tx.Committed("h2", "p0"); got != 0 {
			t.Errorf("other hosts must read as 0, got %v", got)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Update failed: %v", err)
	}

	if got := l.Committed("h1", "p0"); got != 3 {
		t.Errorf("expected 3, got %v", got)
	}
	if got := l.Committed("h2", "p0"); got != 0 {
		t.Errorf("h2 must not be touched by h1 reconcile, got %v", got)
	}
}

func TestLedger_UpdateError(t *testing.T) {
	l := NewLedger()
	want := errors.New("boom")

	if err := l.Update("h1", func(*HostTx) error { return want }); err != want {
		t.Errorf("expected callback error, got %v", err)
	}
}

func TestLedger_ConcurrentChooseCommit(t *testing.T) {
	inv, err := LoadInventory([]string{
		"h1|p0|10|1|2001:db8:0::",
		"h1|p1|25|2|2001:db8:1::",
		"h1|p2|40|3|2001:db8:2::",
	})
	if err != nil {
		t.Fatalf("LoadInventory failed: %v", err)
	}
	l := NewLedger()

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		admitted int
	)
	for i := 0; i < 64; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := l.Update("h1", func(tx *HostTx) error {
				u, err := Choose(inv, tx, "h1", 4)
				if err != nil {
					return err
				}
				tx.Commit(u.Name, 4)
				return nil
			})
			if err == nil {
				mu.Lock()
				admitted++
				mu.Unlock()
			} else if !IsNoCapacity(err) {
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	// 10/4 + 25/4 + 40/4 = 2 + 6 + 10
	if admitted != 18 {
		t.Errorf("expected 18 admitted requests, got %d", admitted)
	}
	for _, a := range l.Snapshot() {
		u, _ := inv.Uplink(a.Host, a.Uplink)
		if a.CommittedGbps > float64(u.CapacityGbps) {
			t.Errorf("uplink %s over capacity: %v > %d", a.Uplink, a.CommittedGbps, u.CapacityGbps)
		}
	}
}

func TestHostTx_ReservePerPort(t *testing.T) {
	l := NewLedger()
	_ = l.Update("h1", func(tx *HostTx) error {
		tx.Reconcile(nil)
		if !tx.Reserve(Reservation{PortID: "a", Uplink: "eth0", Gbps: 8}) {
			t.Error("expected first reservation to succeed")
		}
		if tx.Reserve(Reservation{PortID: "a", Uplink: "eth1", Gbps: 8}) {
			t.Error("expected second reservation for the same port to be refused")
		}
		if !tx.Reserve(Reservation{PortID: "b", Uplink: "eth0", Gbps: 8}) {
			t.Error("expected reservation for another port to succeed")
		}
		r, ok := tx.Holds("a")
		if !ok || r.Uplink != "eth0" || r.Host != "h1" {
			t.Errorf("unexpected held reservation %+v, %v", r, ok)
		}
		return nil
	})

	if got := l.Committed("h1", "eth0"); got != 16 {
		t.Errorf("expected 16 committed on eth0, got %v", got)
	}
	if got := l.Committed("h1", "eth1"); got != 0 {
		t.Errorf("expected nothing committed on eth1, got %v", got)
	}
}

func TestLedger_ReleasePortOnce(t *testing.T) {
	l := NewLedger()
	l.Reconcile([]Reservation{
		{PortID: "a", Host: "h1", Uplink: "eth0", Gbps: 8},
		{PortID: "b", Host: "h1", Uplink: "eth0", Gbps: 8},
	})

	if _, ok := l.ReleasePort("h1", "a"); !ok {
		t.Fatal("expected first release to succeed")
	}
	for i := 0; i < 3; i++ {
		if _, ok := l.ReleasePort("h1", "a"); ok {
			t.Error("expected repeated release to be a no-op")
		}
	}
	if _, ok := l.ReleasePort("h1", "unknown"); ok {
		t.Error("expected release of an unknown port to be a no-op")
	}
	if got := l.Committed("h1", "eth0"); got != 8 {
		t.Errorf("expected 8 committed after release, got %v", got)
	}
}

func TestLedger_ReleasePortConcurrent(t *testing.T) {
	l := NewLedger()
	l.Reconcile([]Reservation{
		{PortID: "a", Host: "h1", Uplink: "eth0", Gbps: 8},
		{PortID: "b", Host: "h1", Uplink: "eth0", Gbps: 8},
	})

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		released int
	)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, ok := l.ReleasePort("h1", "a"); ok {
				mu.Lock()
				released++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if released != 1 {
		t.Errorf("expected exactly one release, got %d", released)
	}
	if got := l.Committed("h1", "eth0"); got != 8 {
		t.Errorf("expected 8 committed, got %v", got)
	}
}

func TestHostTx_ReconcileDuplicatePort(t *testing.T) {
	l := NewLedger()
	l.Reconcile([]Reservation{
		{PortID: "a", Host: "h1", Uplink: "eth0", Gbps: 4},
		{PortID: "a", Host: "h1", Uplink: "eth1", Gbps: 4},
		{Host: "h1", Uplink: "eth1", Gbps: 2},
	})

	if got := l.Committed("h1", "eth0"); got != 4 {
		t.Errorf("expected 4 on eth0, got %v", got)
	}
	if got := l.Committed("h1", "eth1"); got != 2 {
		t.Errorf("expected 2 on eth1, got %v", got)
	}
}
