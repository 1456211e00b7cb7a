package allocator

// LedgerView is read access to committed bandwidth.
// Both *Ledger and *HostTx satisfy it.
type LedgerView interface {
	Committed(host, uplink string) float64
}

// Choose picks the uplink on host that fits gbps most tightly.
//
// Only uplinks with capacity - committed >= gbps qualify. Among those the one
// with the least available bandwidth wins, ties going to the lexically
// smallest name. Choose never modifies the ledger.
//
// Returns:
//   - *Uplink: Selected uplink
//   - error: *NotFoundError for an unknown host, *NoCapacityError if nothing fits
func Choose(inv *Inventory, view LedgerView, host string, gbps float64) (*Uplink, error) {
	uplinks, err := inv.Lookup(host)
	if err != nil {
		return nil, err
	}

	var (
		best      *Uplink
		bestAvail float64
	)
	// uplinks are sorted by name, so a strict comparison keeps the first on ties
	for _, u := range uplinks {
		avail := Available(u, view)
		if avail < gbps {
			continue
		}
		if best == nil || avail < bestAvail {
			best, bestAvail = u, avail
		}
	}

	if best == nil {
		return nil, &NoCapacityError{Host: host, Requested: gbps}
	}
	return best, nil
}

// Available returns the uncommitted bandwidth of an uplink. It is negative
// when the uplink is over-committed.
func Available(u *Uplink, view LedgerView) float64 {
	return float64(u.CapacityGbps) - view.Committed(u.Host, u.Name)
}
