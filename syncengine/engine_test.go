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

package syncengine

import (
	"context"
	"crypto/sha256"
	"testing"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/erigontech/weavesync/chunkstore"
	"github.com/erigontech/weavesync/diskpool"
	"github.com/erigontech/weavesync/intervals"
	"github.com/erigontech/weavesync/kv"
	"github.com/erigontech/weavesync/merkleproof"
	"github.com/erigontech/weavesync/peer"
	"github.com/erigontech/weavesync/weaveconfig"
	"github.com/erigontech/weavesync/weavemetrics"
)

// fakeVerifier trusts whatever the test wires it to return, so admission
// tests can exercise updateChunksIndex without a real Merkle tree.
type fakeVerifier struct {
	dataRoot             [32]byte
	txStart, txEnd       uint64
	chunkStart, chunkEnd uint64
	failTx, failData     bool
}

func (f *fakeVerifier) VerifyTxPath([32]byte, []byte, uint64, uint64) ([32]byte, uint64, uint64, error) {
	if f.failTx {
		return [32]byte{}, 0, 0, merkleproof.ErrInvalidProof
	}
	return f.dataRoot, f.txStart, f.txEnd, nil
}

func (f *fakeVerifier) VerifyDataPath(dataRoot [32]byte, dataPath []byte, offsetInTx, txSize uint64) ([32]byte, uint64, uint64, error) {
	if f.failData {
		return [32]byte{}, 0, 0, merkleproof.ErrInvalidProof
	}
	return sha256.Sum256(dataPath), f.chunkStart, f.chunkEnd, nil
}

// fakeTransport never succeeds; it exists so Engine.New has a non-nil
// Transport even in tests that never schedule a fetch.
type fakeTransport struct{}

func (fakeTransport) GetChunk(context.Context, peer.ID, uint64) (peer.Proof, error) {
	return peer.Proof{}, peer.ErrTransport
}

func (fakeTransport) GetSyncRecord(context.Context, peer.ID) (*intervals.Set, error) {
	return nil, peer.ErrTransport
}

func newTestEngine(t *testing.T) *Engine {
	t.Helper()
	cfg := weaveconfig.Default()
	cfg.MaxSharedIntervals = 4
	cfg.ExtraBeforeCompaction = 2
	return New(Config{
		KV:        kv.NewMemStore(kv.DefaultTablesCfg()),
		Chunks:    chunkstore.NewMemStore(),
		Validator: &merkleproof.Validator{Verifier: &fakeVerifier{}, ChunkID: sha256.Sum256, DataChunkSize: 256 * 1024},
		Transport: fakeTransport{},
		Pool:      diskpool.New(cfg, func() uint64 { return 1 }),
		Weave:     cfg,
		Metrics:   weavemetrics.New(prometheus.NewRegistry()),
		NowMicros: func() uint64 { return 1 },
	})
}
