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

package peer

import (
	"context"
	"fmt"
	"io"

	"github.com/anacrolix/torrent"
	"github.com/anacrolix/torrent/metainfo"

	"github.com/erigontech/weavesync/intervals"
)

// TorrentTransport fetches chunks via anacrolix/torrent's piece-exchange
// protocol instead of plain HTTP: each peer seeds one torrent (chosen by
// PeerInfoHash), and a chunk request becomes a byte-range read at the
// absolute offset in that torrent's first file. This is the shape gossip-based weave sync
// naturally takes (request a byte range, get back whichever peer has that
// piece), and mirrors the teacher's own use of anacrolix/torrent for
// snapshot segment distribution (turbo/snapshotsync).
type TorrentTransport struct {
	client *torrent.Client
	// PeerInfoHash maps a peer identity to the infohash of the torrent it
	// seeds its sync record and chunk data under.
	PeerInfoHash func(p ID) metainfo.Hash
}

// NewTorrentTransport wraps an already-configured *torrent.Client.
func NewTorrentTransport(client *torrent.Client, peerInfoHash func(p ID) metainfo.Hash) *TorrentTransport {
	return &TorrentTransport{client: client, PeerInfoHash: peerInfoHash}
}

func (t *TorrentTransport) GetChunk(ctx context.Context, p ID, absoluteOffset uint64) (Proof, error) {
	tor, ok := t.client.Torrent(t.PeerInfoHash(p))
	if !ok {
		return Proof{}, fmt.Errorf("%w: no torrent for peer %s", ErrTransport, p)
	}
	select {
	case <-tor.GotInfo():
	case <-ctx.Done():
		return Proof{}, ctx.Err()
	}
	if len(tor.Files()) == 0 {
		return Proof{}, fmt.Errorf("%w: peer %s torrent has no files", ErrTransport, p)
	}
	f := tor.Files()[0]
	r := f.NewReader()
	defer r.Close()
	if _, err := r.Seek(int64(absoluteOffset), io.SeekStart); err != nil {
		return Proof{}, fmt.Errorf("%w: %v", ErrTransport, err)
	}
	var wire proofEnvelope
	if err := wire.decodeFrom(r); err != nil {
		return Proof{}, fmt.Errorf("%w: %v", ErrTransport, err)
	}
	return Proof{Chunk: wire.Chunk, DataPath: wire.DataPath, TxPath: wire.TxPath}, nil
}

func (t *TorrentTransport) GetSyncRecord(ctx context.Context, p ID) (*intervals.Set, error) {
	tor, ok := t.client.Torrent(t.PeerInfoHash(p))
	if !ok {
		return nil, fmt.Errorf("%w: no torrent for peer %s", ErrTransport, p)
	}
	select {
	case <-tor.GotInfo():
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	data := tor.Metainfo().Comment // sync record piggybacks on the torrent comment field
	return intervals.Deserialize([]byte(data))
}

// proofEnvelope is a length-prefixed wire framing for the three proof
// fields, used when the transport is a raw byte stream rather than an
// HTTP response body.
type proofEnvelope struct {
	Chunk, DataPath, TxPath []byte
}

func (e *proofEnvelope) decodeFrom(r io.Reader) error {
	readField := func() ([]byte, error) {
		var lenBuf [4]byte
		if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
			return nil, err
		}
		n := int(lenBuf[0])<<24 | int(lenBuf[1])<<16 | int(lenBuf[2])<<8 | int(lenBuf[3])
		buf := make([]byte, n)
		if _, err := io.ReadFull(r, buf); err != nil {
			return nil, err
		}
		return buf, nil
	}
	var err error
	if e.Chunk, err = readField(); err != nil {
		return err
	}
	if e.DataPath, err = readField(); err != nil {
		return err
	}
	if e.TxPath, err = readField(); err != nil {
		return err
	}
	return nil
}
