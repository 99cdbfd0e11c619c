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

// Package peer defines the transport the sync engine uses to pull chunks and
// sync records from other nodes (spec.md §6 "Peer transport"). It fixes the
// shape every implementation must satisfy and ships two of them: an HTTP
// transport (http_transport.go) and a BitTorrent one (torrent_transport.go).
package peer

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/erigontech/weavesync/intervals"
)

// ID identifies a peer. Its concrete form (URL, multiaddr, node id) is left
// to the transport implementation.
type ID string

// ErrTransport is wrapped by every transport-level failure.
var ErrTransport = errors.New("peer: transport error")

// Proof is what peer.get_chunk returns on success: the chunk bytes plus the
// two Merkle paths needed to validate it (spec.md §4.4 step 3-4).
type Proof struct {
	Chunk    []byte
	DataPath []byte
	TxPath   []byte
}

// Transport is the host-supplied peer protocol (spec.md §6).
type Transport interface {
	// GetChunk fetches the chunk covering absoluteOffset from peer.
	GetChunk(ctx context.Context, p ID, absoluteOffset uint64) (Proof, error)
	// GetSyncRecord fetches peer's currently advertised sync record.
	GetSyncRecord(ctx context.Context, p ID) (*intervals.Set, error)
}

// FailureTracker records a peer's most recent transport failure so the
// engine can temporarily exclude it from selection (spec.md §4.4 step 3:
// "mark that peer recently-failed (one attempt)"). It is not itself part of
// PeerSyncRecords, which only ever holds a peer's advertised record.
//
// MarkFailed is called from the short-lived fetch worker goroutine that
// observed the failure (spec.md §5: network I/O never runs on the actor),
// while RecentlyFailed is read back on the actor goroutine during target
// selection, so the map needs its own lock independent of the mailbox.
type FailureTracker struct {
	mu       sync.Mutex
	failedAt map[ID]time.Time
	ttl      time.Duration
}

// NewFailureTracker returns a tracker that forgets a failure after ttl.
func NewFailureTracker(ttl time.Duration) *FailureTracker {
	return &FailureTracker{failedAt: make(map[ID]time.Time), ttl: ttl}
}

// MarkFailed records p as having just failed.
func (f *FailureTracker) MarkFailed(p ID) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failedAt[p] = time.Now()
}

// RecentlyFailed reports whether p failed within the tracker's TTL.
func (f *FailureTracker) RecentlyFailed(p ID) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	t, ok := f.failedAt[p]
	if !ok {
		return false
	}
	if time.Since(t) > f.ttl {
		delete(f.failedAt, p)
		return false
	}
	return true
}
