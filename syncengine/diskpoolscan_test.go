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
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/erigontech/weavesync/kv"
)

// drain blocks until every cast queued before it has been processed by the
// actor, by round-tripping a no-op call through the same mailbox.
func drain(t *testing.T, e *Engine) {
	t.Helper()
	_, err := call(joinCtx(t), e, func() (struct{}, error) { return struct{}{}, nil })
	require.NoError(t, err)
}

func TestScheduleDiskPoolScanConfirmedEntryIndexesChunk(t *testing.T) {
	e := newTestEngine(t)
	cancel := runMailboxInline(context.Background(), e)
	defer cancel()

	dataRoot := [32]byte{6}
	txSize := uint64(80)
	key := kv.DataRootKey{DataRoot: dataRoot, TxSize: txSize}

	drv := newDataRootIndexValue()
	drv.put([32]byte{7}, 20, []byte("tx-path"))
	require.NoError(t, e.kvStore.Put(kv.DataRootIndex, key.Encode(), encodeDataRootIndexValue(drv)))

	hash := [32]byte{55}
	dpKey := kv.EncodeDiskPoolKey(1, hash)
	dpv := diskPoolChunkValue{RelativeEnd: 15, ChunkSize: 15, DataRootKeyHex: dataRootKeyHex(dataRoot, txSize)}
	require.NoError(t, e.kvStore.Put(kv.DiskPoolChunksIndex, dpKey, encodeDiskPoolChunkValue(dpv)))

	e.scheduleDiskPoolScan()
	drain(t, e)

	_, err := e.kvStore.Get(kv.ChunksIndex, kv.EncodeOffsetKey(20+15))
	assert.NoError(t, err)
	_, err = e.kvStore.Get(kv.DiskPoolChunksIndex, dpKey)
	assert.ErrorIs(t, err, kv.ErrNotFound, "confirmed entry not still pending in the disk pool must be reclaimed")
}

func TestScheduleDiskPoolScanStillPendingAdvancesCursor(t *testing.T) {
	e := newTestEngine(t)
	cancel := runMailboxInline(context.Background(), e)
	defer cancel()

	dataRoot := [32]byte{8}
	txSize := uint64(40)
	key := kv.DataRootKey{DataRoot: dataRoot, TxSize: txSize}
	e.pool.AddDataRoot(key, 1)

	hash := [32]byte{66}
	dpKey := kv.EncodeDiskPoolKey(1, hash)
	dpv := diskPoolChunkValue{RelativeEnd: 10, ChunkSize: 10, DataRootKeyHex: dataRootKeyHex(dataRoot, txSize)}
	require.NoError(t, e.kvStore.Put(kv.DiskPoolChunksIndex, dpKey, encodeDiskPoolChunkValue(dpv)))

	e.scheduleDiskPoolScan()
	drain(t, e)

	_, err := e.kvStore.Get(kv.DiskPoolChunksIndex, dpKey)
	assert.NoError(t, err, "still-pending entries must not be deleted")
	assert.Equal(t, kv.EncodeDiskPoolKey(2, hash), e.diskPoolCursor, "cursor must move past the entry's timestamp")
}

func TestScheduleDiskPoolScanExpiredEntryReclaimsBlob(t *testing.T) {
	e := newTestEngine(t)
	cancel := runMailboxInline(context.Background(), e)
	defer cancel()

	dataRoot := [32]byte{9}
	txSize := uint64(40)

	hash := [32]byte{77}
	dpKey := kv.EncodeDiskPoolKey(1, hash)
	dpv := diskPoolChunkValue{RelativeEnd: 10, ChunkSize: 10, DataRootKeyHex: dataRootKeyHex(dataRoot, txSize)}
	require.NoError(t, e.kvStore.Put(kv.DiskPoolChunksIndex, dpKey, encodeDiskPoolChunkValue(dpv)))
	require.NoError(t, e.chunks.Write(hash, []byte("chunk"), []byte("path")))

	e.scheduleDiskPoolScan()
	drain(t, e)

	_, err := e.kvStore.Get(kv.DiskPoolChunksIndex, dpKey)
	assert.ErrorIs(t, err, kv.ErrNotFound)
	assert.False(t, e.chunks.Has(hash), "expired, never-confirmed blob must be reclaimed")
}
