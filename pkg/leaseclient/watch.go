package leaseclient

import (
	"context"
	"time"
)

// StatusUpdate is emitted whenever a watched lease's status changes.
type StatusUpdate struct {
	LeaseUUID string
	Status    string
	Err       error
}

// WatchLease polls the lease until it reaches a terminal status or ctx is
// cancelled. The channel emits one update per observed status change and
// then closes.
// Semantics:
// - expired/cancelled: watch stops (lease reached a terminal state)
// - transient fetch errors: surfaced on the channel, watch continues
// - ctx cancel: stop cleanly
func (c *Client) WatchLease(ctx context.Context, leaseUUID string, opt WatchOptions) <-chan StatusUpdate {
	ch := make(chan StatusUpdate, 1)

	if opt.Interval <= 0 {
		opt.Interval = 2 * time.Second
	}

	go func() {
		defer close(ch)

		t := time.NewTicker(opt.Interval)
		defer t.Stop()

		var last string
		for {
			select {
			case <-ctx.Done():
				return
			case <-t.C:
				lease, err := c.GetLease(ctx, leaseUUID)
				if err != nil {
					select {
					case ch <- StatusUpdate{LeaseUUID: leaseUUID, Err: err}:
					default:
					}
					continue
				}
				if lease.Status == last {
					continue
				}
				last = lease.Status
				select {
				case ch <- StatusUpdate{LeaseUUID: leaseUUID, Status: lease.Status}:
				default:
				}
				if lease.Status == "expired" || lease.Status == "cancelled" {
					return
				}
			}
		}
	}()

	return ch
}
