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

// Command weavesyncd runs the weave data-sync engine as a standalone daemon:
// it opens the KV store and chunk store, wires a peer transport, and exposes
// the host-facing operations of spec.md §6 over HTTP.
package main

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/alecthomas/kong"
	"github.com/anacrolix/torrent"
	"github.com/anacrolix/torrent/metainfo"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/erigontech/erigon-lib/log/v3"

	"github.com/erigontech/weavesync/chunkstore"
	"github.com/erigontech/weavesync/diskpool"
	"github.com/erigontech/weavesync/kv"
	"github.com/erigontech/weavesync/merkleproof"
	"github.com/erigontech/weavesync/peer"
	"github.com/erigontech/weavesync/syncengine"
	"github.com/erigontech/weavesync/weaveconfig"
	"github.com/erigontech/weavesync/weavemetrics"
)

var cli struct {
	DataDir    string `help:"Directory holding the MDBX environment and chunk blobs." default:"./weavedata"`
	ListenAddr string `help:"Address the admission/query HTTP API listens on." default:"127.0.0.1:1984"`
	MemKV      bool   `help:"Use an in-memory KV store instead of MDBX, for local development."`
	TorrentDir string `help:"If set, fetch chunks over BitTorrent instead of HTTP, using this download directory."`
}

func main() {
	kong.Parse(&cli,
		kong.Name("weavesyncd"),
		kong.Description("Content-addressed weave data-sync daemon."))

	if err := run(); err != nil {
		log.Error("[weavesyncd] fatal", "err", err)
		os.Exit(1)
	}
}

func run() error {
	cfg := weaveconfig.Default()

	var store kv.Store
	if cli.MemKV {
		store = kv.NewMemStore(kv.DefaultTablesCfg())
	} else {
		s, err := kv.OpenMdbxStore(cli.DataDir+"/weavesync.mdbx", kv.DefaultTablesCfg())
		if err != nil {
			return err
		}
		store = s
	}

	chunks, err := chunkstore.NewFSStore(cli.DataDir + "/chunks")
	if err != nil {
		return err
	}

	var transport peer.Transport
	if cli.TorrentDir != "" {
		tcfg := torrent.NewDefaultClientConfig()
		tcfg.DataDir = cli.TorrentDir
		tclient, err := torrent.NewClient(tcfg)
		if err != nil {
			return err
		}
		// A real deployment maps each peer.ID to the infohash of the torrent
		// it seeds its weave under (e.g. via a peer directory service); that
		// mapping is a host concern, so the default here treats the peer ID
		// itself as a hex-encoded infohash.
		transport = peer.NewTorrentTransport(tclient, func(p peer.ID) metainfo.Hash {
			var h metainfo.Hash
			raw, _ := hex.DecodeString(string(p))
			copy(h[:], raw)
			return h
		})
	} else {
		transport = peer.NewHTTPTransport(nil)
	}

	reg := prometheus.NewRegistry()
	metrics := weavemetrics.New(reg)

	pool := diskpool.New(cfg, nowMicros)

	engine := syncengine.New(syncengine.Config{
		KV:        store,
		Chunks:    chunks,
		Validator: &merkleproof.Validator{Verifier: notConfiguredVerifier{}, ChunkID: sha256.Sum256, DataChunkSize: cfg.DataChunkSize},
		Transport: transport,
		Pool:      pool,
		Weave:     cfg,
		Metrics:   metrics,
		StatePath: cli.DataDir + "/state.bin",
		NowMicros: nowMicros,
		FreeSpace: func() (uint64, error) { return freeSpace(cli.DataDir) },
	})

	if ok, err := engine.LoadState(); err != nil {
		log.Warn("[weavesyncd] load persisted state", "err", err)
	} else if ok {
		log.Info("[weavesyncd] restored persisted state")
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	errCh := make(chan error, 1)
	go func() { errCh <- engine.Run(ctx) }()

	srv := &http.Server{Addr: cli.ListenAddr, Handler: newRouter(engine, reg)}
	go func() {
		log.Info("[weavesyncd] listening", "addr", cli.ListenAddr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("[weavesyncd] http server", "err", err)
		}
	}()

	err = <-errCh
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	srv.Shutdown(shutdownCtx)
	return err
}

func nowMicros() uint64 { return uint64(time.Now().UnixMicro()) }

// notConfiguredVerifier is the placeholder PathVerifier wired by default:
// real Merkle path verification is a host concern outside this module's
// scope (spec.md §1), so every proof is rejected until the host supplies a
// concrete merkleproof.PathVerifier.
type notConfiguredVerifier struct{}

func (notConfiguredVerifier) VerifyTxPath(txRoot [32]byte, txPath []byte, offsetInBlock, blockSize uint64) ([32]byte, uint64, uint64, error) {
	return [32]byte{}, 0, 0, merkleproof.ErrInvalidProof
}

func (notConfiguredVerifier) VerifyDataPath(dataRoot [32]byte, dataPath []byte, offsetInTx, txSize uint64) ([32]byte, uint64, uint64, error) {
	return [32]byte{}, 0, 0, merkleproof.ErrInvalidProof
}
