// Copyright 2025 the AMQ-OS Authors.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package monitor exposes kernel statistics as prometheus metrics.
// Subsystems keep their own plain counters; this package reads them
// through snapshot functions at gather time.
package monitor

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/mqestical/amqos/internal/memory"
	"github.com/mqestical/amqos/internal/netstack"
)

// Monitor owns the metric registry for one kernel instance.
type Monitor struct {
	registry *prometheus.Registry
}

func New() *Monitor {
	return &Monitor{registry: prometheus.NewRegistry()}
}

// Registry exposes the underlying registry for serving or gathering.
func (m *Monitor) Registry() *prometheus.Registry { return m.registry }

func gauge(name, help string, fn func() float64) prometheus.GaugeFunc {
	return prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: "amqos",
		Name:      name,
		Help:      help,
	}, fn)
}

// ObserveMemory registers the frame-allocator and heap gauges.
func (m *Monitor) ObserveMemory(snapshot func() memory.Stats) {
	m.registry.MustRegister(
		gauge("pmm_total_pages", "Frames contributed by the boot memory map.",
			func() float64 { return float64(snapshot().TotalPages) }),
		gauge("pmm_used_pages", "Frames currently allocated.",
			func() float64 { return float64(snapshot().UsedPages) }),
		gauge("heap_used_bytes", "Bytes of heap in live blocks, headers included.",
			func() float64 { return float64(snapshot().HeapUsed) }),
		gauge("heap_size_bytes", "Total heap arena size.",
			func() float64 { return float64(snapshot().HeapSize) }),
		gauge("heap_allocs_total", "Heap allocations performed.",
			func() float64 { return float64(snapshot().Allocs) }),
		gauge("heap_frees_total", "Heap frees performed.",
			func() float64 { return float64(snapshot().Frees) }),
		gauge("heap_splits_total", "Free blocks split by allocation.",
			func() float64 { return float64(snapshot().Splits) }),
		gauge("heap_coalesces_total", "Adjacent free blocks merged.",
			func() float64 { return float64(snapshot().Coalesces) }),
	)
}

// ObserveNetwork registers the stack activity gauges.
func (m *Monitor) ObserveNetwork(snapshot func() netstack.Counters) {
	m.registry.MustRegister(
		gauge("net_rx_frames_total", "Frames received from the NIC.",
			func() float64 { return float64(snapshot().RxFrames) }),
		gauge("net_tx_frames_total", "Frames handed to the NIC.",
			func() float64 { return float64(snapshot().TxFrames) }),
		gauge("net_rx_ipv4_total", "IPv4 packets dispatched.",
			func() float64 { return float64(snapshot().RxIPv4) }),
		gauge("net_rx_arp_total", "ARP packets dispatched.",
			func() float64 { return float64(snapshot().RxARP) }),
		gauge("net_rx_dropped_total", "Frames and packets dropped.",
			func() float64 { return float64(snapshot().Dropped) }),
	)
}
