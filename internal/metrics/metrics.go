// Package metrics exposes a Connection's Statistics as Prometheus
// collectors, grounded on m-lab-tcp-info's pattern of registering
// gauges/counters sourced from protocol-level counters rather than
// from /proc — here the source is our own Connection.Stats() instead
// of a kernel tcp_info struct.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/srt-go/srtcore/internal/conn"
)

// Collector implements prometheus.Collector over a set of named
// connections, snapshotting each on every scrape.
type Collector struct {
	sources func() map[string]*conn.Connection

	pktSent        *prometheus.Desc
	pktRecv        *prometheus.Desc
	pktLost        *prometheus.Desc
	pktRetrans     *prometheus.Desc
	pktSndDrop     *prometheus.Desc
	pktRcvDrop     *prometheus.Desc
	pktUndecrypt   *prometheus.Desc
	bytesSent      *prometheus.Desc
	bytesRecv      *prometheus.Desc
	rttMicros      *prometheus.Desc
	mbpsSendRate   *prometheus.Desc
	mbpsRecvRate   *prometheus.Desc
}

// NewCollector builds a Collector that, on each scrape, calls sources
// to enumerate the currently live connections keyed by a caller-chosen
// label (e.g. peer address).
func NewCollector(sources func() map[string]*conn.Connection) *Collector {
	labels := []string{"connection"}
	return &Collector{
		sources:      sources,
		pktSent:      prometheus.NewDesc("srt_pkt_sent_total", "Total data packets sent.", labels, nil),
		pktRecv:      prometheus.NewDesc("srt_pkt_recv_total", "Total data packets received.", labels, nil),
		pktLost:      prometheus.NewDesc("srt_pkt_lost_total", "Total packets detected lost.", labels, nil),
		pktRetrans:   prometheus.NewDesc("srt_pkt_retrans_total", "Total packets retransmitted.", labels, nil),
		pktSndDrop:   prometheus.NewDesc("srt_pkt_snd_drop_total", "Total send-side TTL drops.", labels, nil),
		pktRcvDrop:   prometheus.NewDesc("srt_pkt_rcv_drop_total", "Total receive-side drops (TSBPD skips and packets beyond the receive buffer).", labels, nil),
		pktUndecrypt: prometheus.NewDesc("srt_pkt_rcv_undecrypt_total", "Total undecryptable packets received.", labels, nil),
		bytesSent:    prometheus.NewDesc("srt_bytes_sent_total", "Total bytes sent.", labels, nil),
		bytesRecv:    prometheus.NewDesc("srt_bytes_recv_total", "Total bytes received.", labels, nil),
		rttMicros:    prometheus.NewDesc("srt_rtt_microseconds", "Current smoothed RTT estimate.", labels, nil),
		mbpsSendRate: prometheus.NewDesc("srt_mbps_send_rate", "Send rate in Mbps from the connection statistics; no code path sets it, so it reads 0.", labels, nil),
		mbpsRecvRate: prometheus.NewDesc("srt_mbps_recv_rate", "Receive rate in Mbps from the connection statistics; no code path sets it, so it reads 0.", labels, nil),
	}
}

// Describe implements prometheus.Collector.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.pktSent
	ch <- c.pktRecv
	ch <- c.pktLost
	ch <- c.pktRetrans
	ch <- c.pktSndDrop
	ch <- c.pktRcvDrop
	ch <- c.pktUndecrypt
	ch <- c.bytesSent
	ch <- c.bytesRecv
	ch <- c.rttMicros
	ch <- c.mbpsSendRate
	ch <- c.mbpsRecvRate
}

// Collect implements prometheus.Collector.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	for label, connection := range c.sources() {
		s := connection.Stats()
		ch <- prometheus.MustNewConstMetric(c.pktSent, prometheus.CounterValue, float64(s.PktSentTotal), label)
		ch <- prometheus.MustNewConstMetric(c.pktRecv, prometheus.CounterValue, float64(s.PktRecvTotal), label)
		ch <- prometheus.MustNewConstMetric(c.pktLost, prometheus.CounterValue, float64(s.PktLostTotal), label)
		ch <- prometheus.MustNewConstMetric(c.pktRetrans, prometheus.CounterValue, float64(s.PktRetransTotal), label)
		ch <- prometheus.MustNewConstMetric(c.pktSndDrop, prometheus.CounterValue, float64(s.PktSndDropTotal), label)
		ch <- prometheus.MustNewConstMetric(c.pktRcvDrop, prometheus.CounterValue, float64(s.PktRcvDropTotal), label)
		ch <- prometheus.MustNewConstMetric(c.pktUndecrypt, prometheus.CounterValue, float64(s.PktRcvUndecryptTotal), label)
		ch <- prometheus.MustNewConstMetric(c.bytesSent, prometheus.CounterValue, float64(s.BytesSentTotal), label)
		ch <- prometheus.MustNewConstMetric(c.bytesRecv, prometheus.CounterValue, float64(s.BytesRecvTotal), label)
		ch <- prometheus.MustNewConstMetric(c.rttMicros, prometheus.GaugeValue, float64(s.MsRTT), label)
		ch <- prometheus.MustNewConstMetric(c.mbpsSendRate, prometheus.GaugeValue, float64(s.MbpsSendRate), label)
		ch <- prometheus.MustNewConstMetric(c.mbpsRecvRate, prometheus.GaugeValue, float64(s.MbpsRecvRate), label)
	}
}
