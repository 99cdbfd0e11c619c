// Copyright 2024 The Erigon Authors
// This file is part of Erigon.
//
// Erigon is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// Erigon is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with Erigon. If not, see <http://www.gnu.org/licenses/>.

// Package weavemetrics exposes the sync engine's operational counters and
// gauges. Nothing in spec.md names a metrics surface, but every long-running
// daemon in the corpus carries one; see SPEC_FULL.md §3.
package weavemetrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "weavesync"

// Metrics groups every counter/gauge the sync engine updates. Construct one
// per process with New and pass it down to the engine.
type Metrics struct {
	WeaveSize              prometheus.Gauge
	SyncedBytes            prometheus.Gauge
	DiskPoolSize           prometheus.Gauge
	ChunksFetched          prometheus.Counter
	ChunksFetchFailed      prometheus.Counter
	ChunksAdmitted         prometheus.Counter
	ChunksRejected         *prometheus.CounterVec
	ProofValidationFailed  prometheus.Counter
	CompactionsRun         prometheus.Counter
	IntervalsAbsorbed      prometheus.Counter
	ReorgsHandled          prometheus.Counter
	PeerSyncRecordRefresh  prometheus.Counter
	PeerTransportFailures  prometheus.Counter
	StateFlushes           prometheus.Counter
	StateFlushDuration     prometheus.Histogram
}

// New registers every metric on reg and returns the bundle. reg may be
// prometheus.DefaultRegisterer.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		WeaveSize: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "weave_size_bytes",
			Help: "Total size of the weave as known locally (end of the last interval).",
		}),
		SyncedBytes: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "synced_bytes",
			Help: "Sum of the local sync record's interval lengths.",
		}),
		DiskPoolSize: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "disk_pool_size_bytes",
			Help: "Bytes currently held in the disk-pool admission buffer.",
		}),
		ChunksFetched: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "chunks_fetched_total",
			Help: "Chunks successfully fetched from peers.",
		}),
		ChunksFetchFailed: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "chunks_fetch_failed_total",
			Help: "Chunk fetch attempts that failed (transport error or proof validation).",
		}),
		ChunksAdmitted: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "chunks_admitted_total",
			Help: "Chunks admitted via add_chunk.",
		}),
		ChunksRejected: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "chunks_rejected_total",
			Help: "Chunks rejected by add_chunk, labeled by reason.",
		}, []string{"reason"}),
		ProofValidationFailed: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "proof_validation_failed_total",
			Help: "Merkle proof validations that failed.",
		}),
		CompactionsRun: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "compactions_total",
			Help: "Interval set compaction passes run.",
		}),
		IntervalsAbsorbed: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "intervals_absorbed_total",
			Help: "Gap intervals absorbed by compaction.",
		}),
		ReorgsHandled: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "reorgs_handled_total",
			Help: "Chain reorganizations processed.",
		}),
		PeerSyncRecordRefresh: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "peer_sync_record_refresh_total",
			Help: "Peer sync records refreshed.",
		}),
		PeerTransportFailures: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "peer_transport_failures_total",
			Help: "Peer transport calls (get_chunk/get_sync_record) that failed.",
		}),
		StateFlushes: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "state_flushes_total",
			Help: "Persisted state blob writes.",
		}),
		StateFlushDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace, Name: "state_flush_duration_seconds",
			Help:    "Time spent serializing and writing the persisted state blob.",
			Buckets: prometheus.DefBuckets,
		}),
	}
}
