package service

import (
	"context"
	"database/sql"
	"time"

	"leaseserver/internal/obs"
)

// Sweeper periodically folds time-driven transitions into stored status
// and refreshes the gauges. Effective status computed at read time stays
// authoritative; the sweep only keeps stored rows (and reporting queries
// against them) eventually consistent.
type Sweeper struct {
	db       *sql.DB
	logger   *obs.Logger
	metrics  *obs.Metrics
	interval time.Duration
}

func NewSweeper(db *sql.DB, logger *obs.Logger, metrics *obs.Metrics, interval time.Duration) *Sweeper {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	return &Sweeper{
		db:       db,
		logger:   logger,
		metrics:  metrics,
		interval: interval,
	}
}

func (s *Sweeper) Run(ctx context.Context) {
	t := time.NewTicker(s.interval)
	defer t.Stop()

	// Run once immediately
	s.SweepOnce(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			s.SweepOnce(ctx)
		}
	}
}

// SweepOnce applies one pass of stored-status maintenance. Exported so
// callers without a scheduler can invoke it explicitly.
func (s *Sweeper) SweepOnce(ctx context.Context) {
	start := time.Now()
	nowNs := time.Now().UnixNano()

	// created leases whose start has passed become active
	activated := s.exec(ctx, `
UPDATE leases SET status = 'active', updated_at_ns = ?
WHERE status = 'created' AND start_time_ns <= ? AND end_time_ns > ?;
`, nowNs, nowNs, nowNs)

	// non-terminal leases past their end become expired
	leasesExpired := s.exec(ctx, `
UPDATE leases SET status = 'expired', updated_at_ns = ?
WHERE status IN ('created', 'active') AND end_time_ns <= ?;
`, nowNs, nowNs)

	// available offers past their end become expired
	offersExpired := s.exec(ctx, `
UPDATE offers SET status = 'expired', updated_at_ns = ?
WHERE status IN ('created', 'available') AND end_time_ns <= ?;
`, nowNs, nowNs)

	var offersAvailable, leasesActive int64
	_ = s.db.QueryRowContext(ctx, `
SELECT COUNT(*) FROM offers WHERE status = 'available' AND end_time_ns > ?;
`, nowNs).Scan(&offersAvailable)
	_ = s.db.QueryRowContext(ctx, `
SELECT COUNT(*) FROM leases WHERE status = 'active' AND end_time_ns > ?;
`, nowNs).Scan(&leasesActive)

	if s.metrics != nil {
		s.metrics.OffersAvailable.Set(float64(offersAvailable))
		s.metrics.LeasesActive.Set(float64(leasesActive))
		if leasesExpired > 0 {
			s.metrics.LeasesExpiredTotal.Add(float64(leasesExpired))
		}
		if offersExpired > 0 {
			s.metrics.OffersExpiredTotal.Add(float64(offersExpired))
		}
	}

	if s.logger != nil && (activated > 0 || leasesExpired > 0 || offersExpired > 0) {
		s.logger.Info(obs.Fields{
			"op":               "status_sweep",
			"leases_activated": activated,
			"leases_expired":   leasesExpired,
			"offers_expired":   offersExpired,
			"offers_available": offersAvailable,
			"leases_active":    leasesActive,
			"latency_ms":       time.Since(start).Milliseconds(),
		})
	}
}

func (s *Sweeper) exec(ctx context.Context, query string, args ...any) int64 {
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		if s.logger != nil {
			s.logger.Error(obs.Fields{"op": "status_sweep", "error": err.Error()})
		}
		return 0
	}
	n, _ := res.RowsAffected()
	return n
}
