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

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/erigontech/weavesync/intervals"
	"github.com/erigontech/weavesync/kv"
	"github.com/erigontech/weavesync/merkleproof"
	"github.com/erigontech/weavesync/peer"
)

func TestSelectTargetFallsBackToMissingChunksCursor(t *testing.T) {
	e := newTestEngine(t)

	require.NoError(t, e.kvStore.Put(kv.MissingChunksIndex, kv.EncodeOffsetKey(50), kv.EncodeOffsetKey(20)))

	rec := intervals.New()
	rec.Add(100, 0)
	e.peerRecords["peerA"] = rec

	left, right, target, ok := e.selectTarget()
	require.True(t, ok)
	assert.Equal(t, intervals.Offset(20), left)
	assert.Equal(t, intervals.Offset(21), right)
	assert.Equal(t, peer.ID("peerA"), target)
}

func TestSelectTargetNoCandidatesFails(t *testing.T) {
	e := newTestEngine(t)
	_, _, _, ok := e.selectTarget()
	assert.False(t, ok)
}

func TestValidateAndStoreSuccessfulFetchIndexesChunk(t *testing.T) {
	e := newTestEngine(t)
	chunk := []byte("validated-chunk")
	txRoot := [32]byte{30}
	dataRoot := [32]byte{31}
	e.validator = &merkleproof.Validator{
		Verifier: &fakeVerifier{
			dataRoot: dataRoot,
			txStart:  0, txEnd: 100,
			chunkStart: 0, chunkEnd: uint64(len(chunk)),
		},
		ChunkID:       sha256.Sum256,
		DataChunkSize: 256 * 1024,
	}
	cancel := runMailboxInline(context.Background(), e)
	defer cancel()

	require.NoError(t, e.kvStore.Put(kv.DataRootOffsetIndex, kv.EncodeOffsetKey(0),
		encodeDataRootOffsetValue(dataRootOffsetValue{TxRoot: txRoot, BlockSize: 200})))

	proof := peer.Proof{Chunk: chunk, DataPath: chunk, TxPath: []byte("txpath")}
	advance, ok := e.validateAndStore("peerA", proof, intervals.Offset(10))
	require.True(t, ok)
	assert.Equal(t, uint64(len(chunk)), advance)

	hash := dataPathHash(chunk)
	assert.True(t, e.chunks.Has(hash))

	_, err := e.kvStore.Get(kv.ChunksIndex, kv.EncodeOffsetKey(uint64(len(chunk))))
	assert.NoError(t, err)

	key := kv.DataRootKey{DataRoot: dataRoot, TxSize: 100}
	blockVal, err := e.kvStore.Get(kv.DataRootOffsetIndex, kv.EncodeOffsetKey(0))
	require.NoError(t, err)
	v, err := decodeDataRootOffsetValue(blockVal)
	require.NoError(t, err)
	assert.True(t, v.hasKey(key))
}

// TestValidateAndStoreInvalidProofCountsAsFetchFailure guards that a failed
// proof validation is reflected in ChunksFetchFailed, the umbrella counter
// documented as covering "transport error or proof validation", not only in
// the more specific ProofValidationFailed counter.
func TestValidateAndStoreInvalidProofCountsAsFetchFailure(t *testing.T) {
	e := newTestEngine(t)
	e.validator = &merkleproof.Validator{
		Verifier:      &fakeVerifier{failData: true},
		ChunkID:       sha256.Sum256,
		DataChunkSize: 256 * 1024,
	}
	cancel := runMailboxInline(context.Background(), e)
	defer cancel()

	txRoot := [32]byte{30}
	require.NoError(t, e.kvStore.Put(kv.DataRootOffsetIndex, kv.EncodeOffsetKey(0),
		encodeDataRootOffsetValue(dataRootOffsetValue{TxRoot: txRoot, BlockSize: 200})))

	chunk := []byte("rejected-chunk")
	proof := peer.Proof{Chunk: chunk, DataPath: chunk, TxPath: []byte("txpath")}
	_, ok := e.validateAndStore("peerA", proof, intervals.Offset(10))
	assert.False(t, ok)

	assert.Equal(t, float64(1), testutil.ToFloat64(e.metrics.ChunksFetchFailed))
	assert.Equal(t, float64(1), testutil.ToFloat64(e.metrics.ProofValidationFailed))
}
