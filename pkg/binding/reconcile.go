package binding

import (
	"context"
	"fmt"

	"github.com/jiayi-1994/piesss-binder/pkg/allocator"
	"github.com/jiayi-1994/piesss-binder/pkg/logging"
	"github.com/jiayi-1994/piesss-binder/pkg/metrics"
)

// reconcileHost seeds one host of the ledger from existing port records.
// It runs inside the host's critical section. On error the host stays
// unreconciled and the next request retries.
func (d *Driver) reconcileHost(ctx context.Context, tx *allocator.HostTx) error {
	host := tx.Host()
	log := logging.LoggerForHost(host)

	records, err := d.ports.ListPorts(ctx)
	if err != nil {
		metrics.RecordReconcile(host, err, 0)
		return fmt.Errorf("failed to list ports for reconciliation: %w", err)
	}

	reservations, skipped := Reservations(records, log)
	tx.Reconcile(reservations)

	uplinks, _ := d.inventory.Lookup(host)
	for _, u := range uplinks {
		metrics.SetUplinkCommitted(host, u.Name, tx.Committed(host, u.Name))
	}

	metrics.RecordReconcile(host, nil, skipped)
	log.Info("Reconciled bandwidth allocations", "ports", len(records), "reservations", len(reservations), "skipped", skipped)
	return nil
}

// Reservations extracts reservations from port records. Records without
// complete metadata are skipped and counted.
func Reservations(records []PortRecord, log *logging.Logger) ([]allocator.Reservation, int) {
	var (
		out     []allocator.Reservation
		skipped int
	)
	for _, rec := range records {
		res, ok := ReservationFromRecord(rec)
		if !ok {
			skipped++
			log.Debug("Port has no bandwidth reservation", "port", rec.ID)
			continue
		}
		log.Debug("Port holds bandwidth reservation",
			"port", rec.ID, "gbps", res.Gbps, "host", res.Host, "uplink", res.Uplink)
		out = append(out, res)
	}
	return out, skipped
}
