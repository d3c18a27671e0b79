// Package metrics exports mesh node counters to Prometheus.
package metrics

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/1ureka/loramesh/internal/mesh"
	"github.com/1ureka/loramesh/internal/protocol"
	"github.com/1ureka/loramesh/internal/util"
)

const namespace = "loramesh"

// Collector reads a node's Stats on every scrape. The engine keeps its own
// counters, so they are exported as const metrics rather than mirrored.
type Collector struct {
	stats func() mesh.Stats

	counters []counterDesc
	gauges   []gaugeDesc
}

type counterDesc struct {
	desc  *prometheus.Desc
	value func(mesh.Stats) uint64
}

type gaugeDesc struct {
	desc  *prometheus.Desc
	value func(mesh.Stats) int
}

// NewCollector creates a collector for the node at addr. stats is usually
// (*mesh.Node).Stats.
func NewCollector(addr protocol.Address, stats func() mesh.Stats) *Collector {
	labels := prometheus.Labels{"node": strconv.Itoa(int(addr))}
	counter := func(name, help string, value func(mesh.Stats) uint64) counterDesc {
		return counterDesc{
			desc:  prometheus.NewDesc(prometheus.BuildFQName(namespace, "", name), help, nil, labels),
			value: value,
		}
	}
	gauge := func(name, help string, value func(mesh.Stats) int) gaugeDesc {
		return gaugeDesc{
			desc:  prometheus.NewDesc(prometheus.BuildFQName(namespace, "", name), help, nil, labels),
			value: value,
		}
	}

	return &Collector{
		stats: stats,
		counters: []counterDesc{
			counter("tx_packets_total", "Data fragments transmitted", func(s mesh.Stats) uint64 { return s.Tx }),
			counter("rx_packets_total", "Packets received and decoded", func(s mesh.Stats) uint64 { return s.Rx }),
			counter("relayed_packets_total", "Packets relayed one more hop", func(s mesh.Stats) uint64 { return s.Relayed }),
			counter("acks_sent_total", "ACKs sent for delivered messages", func(s mesh.Stats) uint64 { return s.AcksSent }),
			counter("acks_received_total", "ACKs that resolved a pending message", func(s mesh.Stats) uint64 { return s.AcksReceived }),
			counter("dropped_duplicate_total", "Packets dropped as already seen", func(s mesh.Stats) uint64 { return s.DroppedDuplicate }),
			counter("dropped_ttl_total", "Packets not relayed because their hop limit was reached", func(s mesh.Stats) uint64 { return s.DroppedTTL }),
			counter("ack_timeouts_total", "Messages given up after all retries", func(s mesh.Stats) uint64 { return s.Timeouts }),
			counter("dropped_malformed_total", "Frames that failed to decode", func(s mesh.Stats) uint64 { return s.DroppedMalformed }),
			counter("dropped_incomplete_total", "Fragmented messages dropped before completion", func(s mesh.Stats) uint64 { return s.DroppedIncomplete }),
			counter("tx_failed_total", "Transmissions rejected by the radio", func(s mesh.Stats) uint64 { return s.TxFailed }),
		},
		gauges: []gaugeDesc{
			gauge("seen_entries", "Entries in the duplicate suppression cache", func(s mesh.Stats) int { return s.Seen }),
			gauge("assemblies", "Fragmented messages being reassembled", func(s mesh.Stats) int { return s.Assembling }),
			gauge("pending_acks", "Sent messages waiting for an ACK", func(s mesh.Stats) int { return s.PendingAcks }),
			gauge("queued_messages", "Delivered messages not yet taken by the application", func(s mesh.Stats) int { return s.Queued }),
		},
	}
}

// Describe implements prometheus.Collector.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	for _, d := range c.counters {
		ch <- d.desc
	}
	for _, d := range c.gauges {
		ch <- d.desc
	}
}

// Collect implements prometheus.Collector.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	s := c.stats()
	for _, d := range c.counters {
		ch <- prometheus.MustNewConstMetric(d.desc, prometheus.CounterValue, float64(d.value(s)))
	}
	for _, d := range c.gauges {
		ch <- prometheus.MustNewConstMetric(d.desc, prometheus.GaugeValue, float64(d.value(s)))
	}
}

// Serve registers collectors on a fresh registry and serves /metrics on addr
// until ctx is cancelled.
func Serve(ctx context.Context, addr string, collectors ...prometheus.Collector) error {
	reg := prometheus.NewRegistry()
	for _, c := range collectors {
		if err := reg.Register(c); err != nil {
			return err
		}
	}

	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	util.LogInfo("metrics: serving http://%s/metrics", listener.Addr())

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	srv := &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	if err := srv.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
