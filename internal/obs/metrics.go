package obs

import "github.com/prometheus/client_golang/prometheus"

type Metrics struct {
	OfferCreateTotal *prometheus.CounterVec // result=success|fail|busy
	OfferCancelTotal *prometheus.CounterVec // result=success|fail|busy
	LeaseCreateTotal *prometheus.CounterVec // result=success|conflict|fail|busy
	LeaseCancelTotal *prometheus.CounterVec // result=success|fail|busy

	OpLatencyMS *prometheus.HistogramVec // op=create_offer|create_lease|...

	DBBusyTotal *prometheus.CounterVec // op label as above

	OffersAvailable prometheus.Gauge
	LeasesActive    prometheus.Gauge

	OffersExpiredTotal prometheus.Counter
	LeasesExpiredTotal prometheus.Counter
}

func NewMetrics() *Metrics {
	m := &Metrics{
		OfferCreateTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "offer_create_total",
				Help: "Total offer create attempts by result",
			},
			[]string{"result"},
		),
		OfferCancelTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "offer_cancel_total",
				Help: "Total offer cancel attempts by result",
			},
			[]string{"result"},
		),
		LeaseCreateTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "lease_create_total",
				Help: "Total lease create attempts by result",
			},
			[]string{"result"},
		),
		LeaseCancelTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "lease_cancel_total",
				Help: "Total lease cancel attempts by result",
			},
			[]string{"result"},
		),
		OpLatencyMS: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "lease_op_latency_ms",
				Help:    "Latency of lease service operations (ms)",
				Buckets: prometheus.ExponentialBuckets(1, 2, 12), // 1ms .. ~2048ms
			},
			[]string{"op"},
		),
		DBBusyTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "lease_db_busy_total",
				Help: "Total sqlite busy/locked errors",
			},
			[]string{"op"},
		),
		OffersAvailable: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "offers_available",
			Help: "Number of currently available (unexpired) offers",
		}),
		LeasesActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "leases_active",
			Help: "Number of currently active (unexpired) leases",
		}),
		OffersExpiredTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "offers_expired_total",
			Help: "Total offers marked expired by the sweeper",
		}),
		LeasesExpiredTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "leases_expired_total",
			Help: "Total leases marked expired by the sweeper",
		}),
	}

	prometheus.MustRegister(
		m.OfferCreateTotal,
		m.OfferCancelTotal,
		m.LeaseCreateTotal,
		m.LeaseCancelTotal,
		m.OpLatencyMS,
		m.DBBusyTotal,
		m.OffersAvailable,
		m.LeasesActive,
		m.OffersExpiredTotal,
		m.LeasesExpiredTotal,
	)

	return m
}
