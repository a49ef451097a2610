package main

import (
	"context"
	"flag"
	"fmt"
	"math/rand"
	"net/http"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"leaseserver/pkg/leaseclient"
)

// WindowLedger records every lease the server accepted and checks the core
// guarantee: no two accepted leases on the same resource overlap in time.
type WindowLedger struct {
	mu       sync.Mutex
	windows  []ledgerEntry
	overlaps int64
}

type ledgerEntry struct {
	leaseUUID string
	start     time.Time
	end       time.Time
}

func (l *WindowLedger) Record(leaseUUID string, start, end time.Time) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	clean := true
	for _, e := range l.windows {
		if start.Before(e.end) && e.start.Before(end) {
			l.overlaps++
			clean = false
		}
	}
	l.windows = append(l.windows, ledgerEntry{leaseUUID: leaseUUID, start: start, end: end})
	return clean
}

func (l *WindowLedger) Stats() (accepted int, overlaps int64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.windows), l.overlaps
}

func main() {
	var (
		baseURL  = flag.String("url", "http://localhost:8080", "lease server base URL")
		owner    = flag.String("owner", "load-owner", "offering project ID")
		lessees  = flag.Int("lessees", 20, "number of concurrent lessee clients")
		slots    = flag.Int("slots", 200, "number of slot-aligned sub-windows in the offer")
		slotDur  = flag.Duration("slot", time.Hour, "duration of one slot")
		duration = flag.Duration("duration", 20*time.Second, "test duration")
	)
	flag.Parse()

	rand.Seed(time.Now().UnixNano())

	httpc := &http.Client{Timeout: 10 * time.Second}
	admin := leaseclient.New(*baseURL, *owner, []string{"admin"}, httpc)

	ctx, cancel := context.WithTimeout(context.Background(), *duration)
	defer cancel()

	// One offer spanning all slots; every lessee races for sub-windows of it.
	base := time.Now().UTC().Add(time.Hour).Truncate(time.Hour)
	offerEnd := base.Add(time.Duration(*slots) * *slotDur)

	offer, err := admin.CreateOffer(ctx, leaseclient.CreateOfferRequest{
		Name:         fmt.Sprintf("load-%d", time.Now().Unix()),
		ResourceType: "dedicated_node",
		ResourceUUID: fmt.Sprintf("node-%d", time.Now().UnixNano()),
		Start:        base,
		End:          offerEnd,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "create offer: %v\n", err)
		os.Exit(1)
	}

	ledger := &WindowLedger{}

	var (
		leaseOK   int64
		conflicts int64
		busyGiveup int64
		errCount  int64
	)

	wg := sync.WaitGroup{}
	start := time.Now()

	for i := 0; i < *lessees; i++ {
		i := i
		wg.Add(1)
		go func() {
			defer wg.Done()
			c := leaseclient.New(*baseURL, fmt.Sprintf("lessee-%d", i), nil, httpc)
			rng := rand.New(rand.NewSource(int64(i)*7919 + time.Now().UnixNano()))

			for ctx.Err() == nil {
				// random slot-aligned sub-window, 1..4 slots long
				k := rng.Intn(*slots)
				m := 1 + rng.Intn(4)
				if k+m > *slots {
					m = *slots - k
				}
				ws := base.Add(time.Duration(k) * *slotDur)
				we := base.Add(time.Duration(k+m) * *slotDur)

				lease, err := c.CreateLeaseWithRetry(ctx, leaseclient.CreateLeaseRequest{
					OfferRef: offer.UUID,
					Start:    ws,
					End:      we,
				}, leaseclient.LeaseOptions{
					MaxRetries:   20,
					MaxTotalWait: 2 * time.Second,
					MinRetry:     5 * time.Millisecond,
					MaxRetry:     100 * time.Millisecond,
				})
				switch err.(type) {
				case nil:
					atomic.AddInt64(&leaseOK, 1)
					if !ledger.Record(lease.UUID, lease.StartTime, lease.EndTime) {
						fmt.Fprintf(os.Stderr, "OVERLAP: lease %s [%s, %s)\n", lease.UUID, lease.StartTime, lease.EndTime)
					}
				case *leaseclient.ConflictError:
					atomic.AddInt64(&conflicts, 1)
				case *leaseclient.BusyError:
					atomic.AddInt64(&busyGiveup, 1)
				default:
					if ctx.Err() != nil {
						return
					}
					atomic.AddInt64(&errCount, 1)
				}

				// small think time to avoid tight loop
				time.Sleep(5 * time.Millisecond)
			}
		}()
	}

	wg.Wait()
	elapsed := time.Since(start)

	accepted, overlaps := ledger.Stats()

	fmt.Println("=== Lease Window Contention Test ===")
	fmt.Printf("duration: %s, lessees: %d, slots: %d, offer: %s\n", elapsed, *lessees, *slots, offer.UUID)
	fmt.Printf("lease_success:   %d\n", leaseOK)
	fmt.Printf("conflicts:       %d\n", conflicts)
	fmt.Printf("busy_giveup:     %d\n", busyGiveup)
	fmt.Printf("errors:          %d\n", errCount)
	fmt.Printf("ledger_accepted: %d\n", accepted)
	fmt.Printf("ledger_overlaps: %d\n", overlaps)

	// The key correctness assertion: ledger_overlaps must be 0. Every
	// accepted lease occupies a disjoint window of the shared resource.
	if overlaps > 0 {
		os.Exit(1)
	}
}
