// Package allocator provides uplink bandwidth allocation.
//
// Ledger records the bandwidth committed on every (host, uplink) pair.
// Each host has its own lock, so requests on different hosts never contend.
// Reservations made on behalf of a port are also tracked by port id, which
// makes a port's release happen at most once.
package allocator

import (
	"sort"
	"sync"
)

// Reservation is bandwidth held by an existing port binding.
type Reservation struct {
	// PortID identifies the port holding the reservation
	PortID string

	// Host is the host the port is bound on
	Host string

	// Uplink is the uplink carrying the port
	Uplink string

	// Gbps is the reserved bandwidth
	Gbps float64
}

// Allocation is one ledger entry as returned by Snapshot.
type Allocation struct {
	Host          string  `json:"host"`
	Uplink        string  `json:"uplink"`
	CommittedGbps float64 `json:"committedGbps"`
}

// hostLedger is the state of a single host.
type hostLedger struct {
	// mu serializes every read-modify-write on this host
	mu sync.Mutex

	// reconciled is set once the host was seeded from existing bindings
	reconciled bool

	// committed maps uplink name -> committed Gbps
	committed map[string]float64

	// ports maps port id -> the reservation it holds
	ports map[string]Reservation
}

func newHostLedger() *hostLedger {
	return &hostLedger{committed: make(map[string]float64), ports: make(map[string]Reservation)}
}

// Ledger tracks committed bandwidth per (host, uplink).
//
// Thread Safety: All methods are thread-safe. Update gives a caller an
// exclusive view of one host for check-then-act sequences.
type Ledger struct {
	// mu protects the hosts map only
	mu sync.Mutex

	hosts map[string]*hostLedger
}

// NewLedger creates an empty ledger.
func NewLedger() *Ledger {
	return &Ledger{hosts: make(map[string]*hostLedger)}
}

// host returns the state for a host, creating it on first use.
func (l *Ledger) host(name string) *hostLedger {
	l.mu.Lock()
	defer l.mu.Unlock()

	h, ok := l.hosts[name]
	if !ok {
		h = newHostLedger()
		l.hosts[name] = h
	}
	return h
}

// HostTx is an exclusive view of one host inside Update.
// It must not be retained after the Update callback returns.
type HostTx struct {
	host string
	h    *hostLedger
}

// Host returns the host this transaction covers.
func (tx *HostTx) Host() string {
	return tx.host
}

// Reconciled reports whether the host was already seeded.
func (tx *HostTx) Reconciled() bool {
	return tx.h.reconciled
}

// Reconcile replaces the host's totals with the sum of reservations and
// marks the host reconciled. Reservations for other hosts are ignored, and
// a port id seen twice counts once.
func (tx *HostTx) Reconcile(reservations []Reservation) {
	fresh := newHostLedger()
	for _, r := range reservations {
		if r.Host != tx.host {
			continue
		}
		if r.PortID != "" {
			if _, dup := fresh.ports[r.PortID]; dup {
				continue
			}
			fresh.ports[r.PortID] = r
		}
		fresh.committed[r.Uplink] += r.Gbps
	}
	tx.h.committed = fresh.committed
	tx.h.ports = fresh.ports
	tx.h.reconciled = true
}

// Holds returns the reservation a port holds on this host.
func (tx *HostTx) Holds(portID string) (Reservation, bool) {
	r, ok := tx.h.ports[portID]
	return r, ok
}

// Reserve commits r on behalf of its port. It returns false, committing
// nothing, when the port already holds a reservation on this host.
func (tx *HostTx) Reserve(r Reservation) bool {
	if r.PortID != "" {
		if _, ok := tx.h.ports[r.PortID]; ok {
			return false
		}
		r.Host = tx.host
		tx.h.ports[r.PortID] = r
	}
	tx.Commit(r.Uplink, r.Gbps)
	return true
}

// ReleasePort returns the bandwidth held by a port. A port holding nothing
// releases nothing, so repeated releases are harmless.
func (tx *HostTx) ReleasePort(portID string) (Reservation, bool) {
	r, ok := tx.h.ports[portID]
	if !ok {
		return Reservation{}, false
	}
	delete(tx.h.ports, portID)
	tx.Release(r.Uplink, r.Gbps)
	return r, true
}

// Committed returns the bandwidth committed on an uplink, 0 if unseen.
// The host argument lets HostTx serve as a LedgerView; other hosts read as 0.
func (tx *HostTx) Committed(host, uplink string) float64 {
	if host != tx.host {
		return 0
	}
	return tx.h.committed[uplink]
}

// Commit adds delta to an uplink's committed bandwidth.
func (tx *HostTx) Commit(uplink string, delta float64) {
	tx.h.committed[uplink] += delta
}

// Release subtracts delta from an uplink's committed bandwidth, never going below zero.
func (tx *HostTx) Release(uplink string, delta float64) {
	v := tx.h.committed[uplink] - delta
	if v <= 0 {
		delete(tx.h.committed, uplink)
		return
	}
	tx.h.committed[uplink] = v
}

// Update runs fn with exclusive access to one host.
// Selection and commit for a host must happen inside a single Update.
func (l *Ledger) Update(host string, fn func(tx *HostTx) error) error {
	h := l.host(host)
	h.mu.Lock()
	defer h.mu.Unlock()

	return fn(&HostTx{host: host, h: h})
}

// Reconcile seeds the ledger from existing reservations.
// Every host named by a reservation has its totals replaced with the
// snapshot sums, so running it twice with the same snapshot is a no-op.
func (l *Ledger) Reconcile(reservations []Reservation) {
	byHost := make(map[string][]Reservation)
	for _, r := range reservations {
		byHost[r.Host] = append(byHost[r.Host], r)
	}
	for host, rs := range byHost {
		_ = l.Update(host, func(tx *HostTx) error {
			tx.Reconcile(rs)
			return nil
		})
	}
}

// Committed returns the bandwidth committed on an uplink, 0 if unseen.
func (l *Ledger) Committed(host, uplink string) float64 {
	var v float64
	_ = l.Update(host, func(tx *HostTx) error {
		v = tx.Committed(host, uplink)
		return nil
	})
	return v
}

// Commit adds delta to the committed bandwidth of an uplink.
// It never fails; callers check capacity first.
func (l *Ledger) Commit(host, uplink string, delta float64) {
	_ = l.Update(host, func(tx *HostTx) error {
		tx.Commit(uplink, delta)
		return nil
	})
}

// Release returns bandwidth held by a released port.
func (l *Ledger) Release(host, uplink string, delta float64) {
	_ = l.Update(host, func(tx *HostTx) error {
		tx.Release(uplink, delta)
		return nil
	})
}

// ReleasePort returns the bandwidth held by a port on host, at most once.
func (l *Ledger) ReleasePort(host, portID string) (Reservation, bool) {
	var (
		r  Reservation
		ok bool
	)
	_ = l.Update(host, func(tx *HostTx) error {
		r, ok = tx.ReleasePort(portID)
		return nil
	})
	return r, ok
}

// Snapshot returns every non-zero entry sorted by host then uplink.
func (l *Ledger) Snapshot() []Allocation {
	l.mu.Lock()
	hosts := make(map[string]*hostLedger, len(l.hosts))
	for name, h := range l.hosts {
		hosts[name] = h
	}
	l.mu.Unlock()

	var out []Allocation
	for name, h := range hosts {
		h.mu.Lock()
		for uplink, gbps := range h.committed {
			out = append(out, Allocation{Host: name, Uplink: uplink, CommittedGbps: gbps})
		}
		h.mu.Unlock()
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].Host != out[j].Host {
			return out[i].Host < out[j].Host
		}
		return out[i].Uplink < out[j].Uplink
	})
	return out
}
