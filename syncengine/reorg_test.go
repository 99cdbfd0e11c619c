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
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/erigontech/weavesync/kv"
	"github.com/erigontech/weavesync/weavestate"
)

func joinCtx(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	t.Cleanup(cancel)
	return ctx
}

func TestJoinSeedsFirstChain(t *testing.T) {
	e := newTestEngine(t)
	cancel := runMailboxInline(context.Background(), e)
	defer cancel()

	chain := []weavestate.BlockIndexEntry{
		{BlockHash: [32]byte{1}, WeaveSize: 100, TxRoot: [32]byte{9}},
		{BlockHash: [32]byte{2}, WeaveSize: 250, TxRoot: [32]byte{10}},
	}
	require.NoError(t, e.Join(joinCtx(t), chain))

	assert.True(t, e.IsJoined())
	assert.Equal(t, uint64(250), e.WeaveSize())

	first, err := e.kvStore.Get(kv.DataRootOffsetIndex, kv.EncodeOffsetKey(0))
	require.NoError(t, err)
	v, err := decodeDataRootOffsetValue(first)
	require.NoError(t, err)
	assert.Equal(t, [32]byte{9}, v.TxRoot)
	assert.Equal(t, uint64(100), v.BlockSize)

	second, err := e.kvStore.Get(kv.DataRootOffsetIndex, kv.EncodeOffsetKey(100))
	require.NoError(t, err)
	v2, err := decodeDataRootOffsetValue(second)
	require.NoError(t, err)
	assert.Equal(t, [32]byte{10}, v2.TxRoot)
	assert.Equal(t, uint64(150), v2.BlockSize)
}

func TestJoinNoIntersectionIsFatal(t *testing.T) {
	e := newTestEngine(t)
	cancel := runMailboxInline(context.Background(), e)
	defer cancel()

	require.NoError(t, e.Join(joinCtx(t), []weavestate.BlockIndexEntry{
		{BlockHash: [32]byte{1}, WeaveSize: 100},
	}))

	err := e.Join(joinCtx(t), []weavestate.BlockIndexEntry{
		{BlockHash: [32]byte{99}, WeaveSize: 50},
	})
	assert.ErrorIs(t, err, ErrFatalJoinNoIntersection)
}

func TestJoinPureExtensionDoesNotOrphan(t *testing.T) {
	e := newTestEngine(t)
	cancel := runMailboxInline(context.Background(), e)
	defer cancel()

	h1 := weavestate.BlockIndexEntry{BlockHash: [32]byte{1}, WeaveSize: 100, TxRoot: [32]byte{9}}
	require.NoError(t, e.Join(joinCtx(t), []weavestate.BlockIndexEntry{h1}))

	endKey := kv.EncodeOffsetKey(50)
	require.NoError(t, e.kvStore.Put(kv.ChunksIndex, endKey, encodeChunkIndexValue(chunkIndexValue{ChunkSize: 10})))

	h2 := weavestate.BlockIndexEntry{BlockHash: [32]byte{2}, WeaveSize: 180, TxRoot: [32]byte{11}}
	require.NoError(t, e.Join(joinCtx(t), []weavestate.BlockIndexEntry{h1, h2}))

	// h1's own data must survive: the intersection is the old chain's own
	// tip, so nothing after it was actually orphaned.
	_, err := e.kvStore.Get(kv.ChunksIndex, endKey)
	assert.NoError(t, err)

	seeded, err := e.kvStore.Get(kv.DataRootOffsetIndex, kv.EncodeOffsetKey(100))
	require.NoError(t, err)
	v, err := decodeDataRootOffsetValue(seeded)
	require.NoError(t, err)
	assert.Equal(t, [32]byte{11}, v.TxRoot)
	assert.Equal(t, uint64(80), v.BlockSize)
}

func TestJoinReorgRemovesOrphans(t *testing.T) {
	e := newTestEngine(t)
	cancel := runMailboxInline(context.Background(), e)
	defer cancel()

	h1 := weavestate.BlockIndexEntry{BlockHash: [32]byte{1}, WeaveSize: 100, TxRoot: [32]byte{9}}
	h2 := weavestate.BlockIndexEntry{BlockHash: [32]byte{2}, WeaveSize: 200, TxRoot: [32]byte{10}}
	h3 := weavestate.BlockIndexEntry{BlockHash: [32]byte{3}, WeaveSize: 300, TxRoot: [32]byte{11}}
	require.NoError(t, e.Join(joinCtx(t), []weavestate.BlockIndexEntry{h1, h2, h3}))

	orphanEnd := kv.EncodeOffsetKey(150)
	require.NoError(t, e.kvStore.Put(kv.ChunksIndex, orphanEnd, encodeChunkIndexValue(chunkIndexValue{ChunkSize: 10})))

	orphanTxStart := kv.EncodeOffsetKey(140)
	require.NoError(t, e.kvStore.Put(kv.TxOffsetIndex, orphanTxStart, kv.EncodeTxID(7)))
	require.NoError(t, e.kvStore.Put(kv.TxIndex, kv.EncodeTxID(7), encodeTxIndexValue(txIndexValue{AbsoluteTxEnd: 150, TxSize: 10})))

	dataRoot := [32]byte{44}
	key := kv.DataRootKey{DataRoot: dataRoot, TxSize: 10}
	e.pool.AddDataRoot(key, 1)
	e.pool.MarkConfirmed(key)

	drv := newDataRootIndexValue()
	drv.put([32]byte{10}, 140, []byte("tx-path"))
	require.NoError(t, e.kvStore.Put(kv.DataRootIndex, key.Encode(), encodeDataRootIndexValue(drv)))
	require.NoError(t, e.kvStore.Put(kv.DataRootOffsetIndex, kv.EncodeOffsetKey(100),
		encodeDataRootOffsetValue(dataRootOffsetValue{TxRoot: [32]byte{10}, BlockSize: 100, Keys: []string{hexEncode(key.Encode())}})))

	h4 := weavestate.BlockIndexEntry{BlockHash: [32]byte{4}, WeaveSize: 250, TxRoot: [32]byte{20}}
	h5 := weavestate.BlockIndexEntry{BlockHash: [32]byte{5}, WeaveSize: 400, TxRoot: [32]byte{21}}
	require.NoError(t, e.Join(joinCtx(t), []weavestate.BlockIndexEntry{h1, h2, h4, h5}))

	assert.Equal(t, uint64(400), e.WeaveSize())

	_, err := e.kvStore.Get(kv.ChunksIndex, orphanEnd)
	assert.ErrorIs(t, err, kv.ErrNotFound)
	_, err = e.kvStore.Get(kv.TxIndex, kv.EncodeTxID(7))
	assert.ErrorIs(t, err, kv.ErrNotFound)
	_, err = e.kvStore.Get(kv.TxOffsetIndex, orphanTxStart)
	assert.ErrorIs(t, err, kv.ErrNotFound)
	_, err = e.kvStore.Get(kv.DataRootIndex, key.Encode())
	assert.ErrorIs(t, err, kv.ErrNotFound)

	entry, ok := e.pool.Get(key)
	require.True(t, ok)
	assert.False(t, entry.Confirmed, "orphaned data root must be reopened for resubmission")

	seeded, err := e.kvStore.Get(kv.DataRootOffsetIndex, kv.EncodeOffsetKey(200))
	require.NoError(t, err)
	v, err := decodeDataRootOffsetValue(seeded)
	require.NoError(t, err)
	assert.Equal(t, [32]byte{20}, v.TxRoot)
	assert.Equal(t, uint64(50), v.BlockSize)
}

func TestAddTipBlockExtendsWithoutOrphaning(t *testing.T) {
	e := newTestEngine(t)
	cancel := runMailboxInline(context.Background(), e)
	defer cancel()

	h1 := weavestate.BlockIndexEntry{BlockHash: [32]byte{1}, WeaveSize: 100, TxRoot: [32]byte{9}}
	require.NoError(t, e.Join(joinCtx(t), []weavestate.BlockIndexEntry{h1}))

	endKey := kv.EncodeOffsetKey(50)
	require.NoError(t, e.kvStore.Put(kv.ChunksIndex, endKey, encodeChunkIndexValue(chunkIndexValue{ChunkSize: 10})))

	h2 := weavestate.BlockIndexEntry{BlockHash: [32]byte{2}, WeaveSize: 160, TxRoot: [32]byte{12}}
	block := NewBlock{
		TxRoot:             [32]byte{12},
		AbsoluteBlockStart: 100,
		BlockSize:          60,
		Txs:                []BlockTx{{TxID: 3, AbsoluteTxStart: 100, TxSize: 60}},
	}
	require.NoError(t, e.AddTipBlock(joinCtx(t), block, []weavestate.BlockIndexEntry{h1, h2}))

	_, err := e.kvStore.Get(kv.ChunksIndex, endKey)
	assert.NoError(t, err, "extending the tip must not orphan the existing chain")

	txv, err := e.kvStore.Get(kv.TxIndex, kv.EncodeTxID(3))
	require.NoError(t, err)
	decoded, err := decodeTxIndexValue(txv)
	require.NoError(t, err)
	assert.Equal(t, uint64(160), decoded.AbsoluteTxEnd)

	blockVal, err := e.kvStore.Get(kv.DataRootOffsetIndex, kv.EncodeOffsetKey(100))
	require.NoError(t, err)
	v, err := decodeDataRootOffsetValue(blockVal)
	require.NoError(t, err)
	assert.Equal(t, uint64(60), v.BlockSize)
	assert.Equal(t, uint64(160), e.WeaveSize())
}

func TestAddTipBlockConfirmsAndReducesDiskPoolSize(t *testing.T) {
	e := newTestEngine(t)
	cancel := runMailboxInline(context.Background(), e)
	defer cancel()

	h1 := weavestate.BlockIndexEntry{BlockHash: [32]byte{1}, WeaveSize: 100, TxRoot: [32]byte{9}}
	require.NoError(t, e.Join(joinCtx(t), []weavestate.BlockIndexEntry{h1}))

	dataRoot := [32]byte{66}
	key := kv.DataRootKey{DataRoot: dataRoot, TxSize: 60}
	e.pool.AddDataRoot(key, 3)
	require.NoError(t, e.pool.Reserve(key, 60))
	require.Equal(t, uint64(60), e.pool.Size())

	h2 := weavestate.BlockIndexEntry{BlockHash: [32]byte{2}, WeaveSize: 160, TxRoot: [32]byte{12}}
	block := NewBlock{
		TxRoot:             [32]byte{12},
		AbsoluteBlockStart: 100,
		BlockSize:          60,
		Txs:                []BlockTx{{TxID: 3, AbsoluteTxStart: 100, TxSize: 60, DataRoot: dataRoot}},
	}
	require.NoError(t, e.AddTipBlock(joinCtx(t), block, []weavestate.BlockIndexEntry{h1, h2}))

	assert.Equal(t, uint64(0), e.pool.Size(), "confirmed data root must be reclaimed from the disk pool")
	_, ok := e.pool.Get(key)
	assert.False(t, ok, "confirmed entry is removed in place, not merely marked")
}
