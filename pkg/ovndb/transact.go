package ovndb

import (
	"context"
	"errors"
	"time"

	"github.com/ovn-org/libovsdb/client"
	"github.com/ovn-org/libovsdb/ovsdb"
	"k8s.io/apimachinery/pkg/util/wait"
	"k8s.io/klog/v2"
)

// retryInterval paces transaction retries while the client reconnects.
const retryInterval = 200 * time.Millisecond

// Transact commits ops within timeout. While the client is disconnected the
// transaction is retried; any operation error in the reply fails the call.
func Transact(ctx context.Context, c client.Client, timeout time.Duration, ops ...ovsdb.Operation) ([]ovsdb.OperationResult, error) {
	if len(ops) == 0 {
		return nil, nil
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var results []ovsdb.OperationResult
	err := wait.PollUntilContextCancel(ctx, retryInterval, true, func(ctx context.Context) (bool, error) {
		var err error
		results, err = c.Transact(ctx, ops...)
		switch {
		case err == nil:
			return true, nil
		case errors.Is(err, client.ErrNotConnected):
			klog.V(5).InfoS("NB client disconnected, retrying transaction", "ops", len(ops))
			return false, nil
		default:
			return false, err
		}
	})
	if err != nil {
		return nil, err
	}

	if _, err := ovsdb.CheckOperationResults(results, ops); err != nil {
		klog.V(4).InfoS("NB transaction rejected", "ops", ops, "results", results)
		return nil, err
	}
	return results, nil
}
