package adx

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the exchange's Prometheus instruments.
type Metrics struct {
	AuctionsTotal  prometheus.Counter
	AuctionsFilled prometheus.Counter
	AuctionsNoFill prometheus.Counter
	AuctionLatency prometheus.Histogram
	DSPCalls       *prometheus.CounterVec
	BidsRejected   prometheus.Counter
}

// NewMetrics registers the exchange metrics on a registry.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		AuctionsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "adx_auctions_total",
			Help: "Total number of auctions processed",
		}),
		AuctionsFilled: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "adx_auctions_filled_total",
			Help: "Auctions that returned a winning bid",
		}),
		AuctionsNoFill: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "adx_auctions_nofill_total",
			Help: "Auctions that returned no fill",
		}),
		AuctionLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "adx_auction_latency_seconds",
			Help:    "Auction processing latency in seconds",
			Buckets: prometheus.DefBuckets,
		}),
		DSPCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "adx_dsp_calls_total",
			Help: "DSP bid calls by outcome",
		}, []string{"result"}),
		BidsRejected: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "adx_bids_rejected_total",
			Help: "Bids rejected by sensitive-content filtering",
		}),
	}
	reg.MustRegister(
		m.AuctionsTotal,
		m.AuctionsFilled,
		m.AuctionsNoFill,
		m.AuctionLatency,
		m.DSPCalls,
		m.BidsRejected,
	)
	return m
}
