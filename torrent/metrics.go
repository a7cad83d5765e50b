package torrent

import (
	"github.com/rcrowley/go-metrics"
)

// torrentMetrics is a per-torrent registry. Rates are ticked by the loop, not by a go-metrics arbiter goroutine.
type torrentMetrics struct {
	registry          metrics.Registry
	downloadSpeed     metrics.EWMA
	uploadSpeed       metrics.EWMA
	piecesCompleted   metrics.Counter
	connectionsClosed metrics.Counter
	protocolErrors    metrics.Counter
}

func newTorrentMetrics() *torrentMetrics {
	r := metrics.NewRegistry()
	m := &torrentMetrics{
		registry:          r,
		downloadSpeed:     metrics.NewEWMA1(),
		uploadSpeed:       metrics.NewEWMA1(),
		piecesCompleted:   metrics.NewRegisteredCounter("pieces.completed", r),
		connectionsClosed: metrics.NewRegisteredCounter("connections.closed", r),
		protocolErrors:    metrics.NewRegisteredCounter("connections.protocol-errors", r),
	}
	metrics.NewRegisteredFunctionalGaugeFloat64("speed.download", r, m.downloadSpeed.Rate)
	metrics.NewRegisteredFunctionalGaugeFloat64("speed.upload", r, m.uploadSpeed.Rate)
	return m
}

func (m *torrentMetrics) tick() {
	m.downloadSpeed.Tick()
	m.uploadSpeed.Tick()
}

// Metrics returns the registry holding the speed gauges and event counters of the torrent.
func (t *Torrent) Metrics() metrics.Registry {
	return t.metrics.registry
}
