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
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/erigontech/weavesync/intervals"
)

// HTTPTransport fetches chunks and sync records from peers identified by
// base URL, the simplest stand-in for "the HTTP transport used to fetch
// chunks from peers" spec.md §1 names as a host collaborator.
type HTTPTransport struct {
	Client *http.Client
}

// NewHTTPTransport returns a transport using client, or http.DefaultClient
// if nil.
func NewHTTPTransport(client *http.Client) *HTTPTransport {
	if client == nil {
		client = http.DefaultClient
	}
	return &HTTPTransport{Client: client}
}

func (t *HTTPTransport) GetChunk(ctx context.Context, p ID, absoluteOffset uint64) (Proof, error) {
	url := fmt.Sprintf("%s/chunk/%s", string(p), strconv.FormatUint(absoluteOffset, 10))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return Proof{}, fmt.Errorf("%w: %v", ErrTransport, err)
	}
	resp, err := t.Client.Do(req)
	if err != nil {
		return Proof{}, fmt.Errorf("%w: %v", ErrTransport, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return Proof{}, fmt.Errorf("%w: peer %s returned %d", ErrTransport, p, resp.StatusCode)
	}
	var wire struct {
		Chunk    []byte `json:"chunk"`
		DataPath []byte `json:"data_path"`
		TxPath   []byte `json:"tx_path"`
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return Proof{}, fmt.Errorf("%w: %v", ErrTransport, err)
	}
	if err := json.Unmarshal(body, &wire); err != nil {
		return Proof{}, fmt.Errorf("%w: %v", ErrTransport, err)
	}
	return Proof{Chunk: wire.Chunk, DataPath: wire.DataPath, TxPath: wire.TxPath}, nil
}

func (t *HTTPTransport) GetSyncRecord(ctx context.Context, p ID) (*intervals.Set, error) {
	url := fmt.Sprintf("%s/sync_record", string(p))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTransport, err)
	}
	resp, err := t.Client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTransport, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: peer %s returned %d", ErrTransport, p, resp.StatusCode)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTransport, err)
	}
	set, err := intervals.Deserialize(body)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTransport, err)
	}
	return set, nil
}
