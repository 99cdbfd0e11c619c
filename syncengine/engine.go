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

// Package syncengine is the actor that owns the sync record and every index,
// drives peer polling, chunk fetching, persistence, reorg handling, and
// disk-pool processing (spec.md §2 item 5, §4.4-§4.8). All state mutation
// happens on a single goroutine reading closures off a mailbox channel,
// matching the single-owner actor model of spec.md §5: "casts" are
// fire-and-forget sends, "calls" send a closure that replies on a private
// channel before the caller's context deadline.
package syncengine

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/erigontech/erigon-lib/log/v3"

	"github.com/erigontech/weavesync/chunkstore"
	"github.com/erigontech/weavesync/diskpool"
	"github.com/erigontech/weavesync/intervals"
	"github.com/erigontech/weavesync/kv"
	"github.com/erigontech/weavesync/merkleproof"
	"github.com/erigontech/weavesync/peer"
	"github.com/erigontech/weavesync/weaveconfig"
	"github.com/erigontech/weavesync/weavemetrics"
	"github.com/erigontech/weavesync/weavestate"
)

// DiskSpaceFunc reports bytes of free space on the chunk store's volume.
type DiskSpaceFunc func() (uint64, error)

// Engine is the sync engine actor. Construct with New, then Run it on a
// goroutine; it stops when ctx is cancelled.
type Engine struct {
	kvStore    kv.Store
	chunks     chunkstore.Store
	validator  *merkleproof.Validator
	transport  peer.Transport
	failures   *peer.FailureTracker
	pool       *diskpool.Manager
	cfg        weaveconfig.Config
	metrics    *weavemetrics.Metrics
	statePath  string
	rng        *rand.Rand
	nowUs      func() uint64
	freeSpace  DiskSpaceFunc

	mbox chan func()

	// Actor-owned state. Touched only on the mailbox goroutine.
	joined      bool
	syncRecord  *intervals.Set
	weaveSize   uint64
	blockIndex  []weavestate.BlockIndexEntry
	peerRecords map[peer.ID]*intervals.Set
	peerUniverse []peer.ID

	missingCursor    []byte
	missingByteCursor uint64
	diskPoolCursor   []byte

	// readOnlyKV publishes the lock-free fast-path readers spec.md §5
	// requires (get_chunk_by_offset, get_tx_root_at_offset
	// must work from any goroutine without touching the actor). They are the
	// same underlying kv.Store, which already gives snapshot/atomic get_next
	// and get_prev; a process-wide registry is unnecessary in Go since the
	// handle can simply be shared.
	readOnlyKV kv.Store

	mu sync.RWMutex // guards joined/weaveSize for the read-only fast paths only
}

// Config bundles every host-supplied collaborator named in spec.md §6.
type Config struct {
	KV         kv.Store
	Chunks     chunkstore.Store
	Validator  *merkleproof.Validator
	Transport  peer.Transport
	Pool       *diskpool.Manager
	Weave      weaveconfig.Config
	Metrics    *weavemetrics.Metrics
	StatePath  string
	Rng        *rand.Rand
	NowMicros  func() uint64
	FreeSpace  DiskSpaceFunc
}

// New constructs an Engine. Call Join or let LoadState seed it before Run.
func New(c Config) *Engine {
	if c.Rng == nil {
		c.Rng = rand.New(rand.NewSource(1))
	}
	return &Engine{
		kvStore:     c.KV,
		chunks:      c.Chunks,
		validator:   c.Validator,
		transport:   c.Transport,
		failures:    peer.NewFailureTracker(c.Weave.PeerSyncRecordsFrequency),
		pool:        c.Pool,
		cfg:         c.Weave,
		metrics:     c.Metrics,
		statePath:   c.StatePath,
		rng:         c.Rng,
		nowUs:       c.NowMicros,
		freeSpace:   c.FreeSpace,
		mbox:        make(chan func(), 64),
		syncRecord:  intervals.New(),
		peerRecords: make(map[peer.ID]*intervals.Set),
		readOnlyKV:  c.KV,
		missingCursor:  kv.FirstCursor,
		diskPoolCursor: kv.FirstCursor,
	}
}

// SetPeerUniverse replaces the pool of known peers that peer-records refresh
// samples from (spec.md §4.4's "sample PICK_PEERS_OUT_OF_RANDOM_N peers").
func (e *Engine) SetPeerUniverse(peers []peer.ID) {
	e.mbox <- func() { e.peerUniverse = append([]peer.ID{}, peers...) }
}

// Run drives the actor's mailbox and self-scheduled periodic tasks until ctx
// is cancelled. On return the KV store is closed and final state flushed,
// per spec.md §5's termination behavior.
func (e *Engine) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error { return e.runMailbox(ctx) })
	g.Go(func() error { return e.runPeriodic(ctx, e.cfg.ScanMissingChunksFrequency, e.scheduleSyncOne) })
	g.Go(func() error { return e.runPeriodic(ctx, e.cfg.PeerSyncRecordsFrequency, e.schedulePeerRecordsRefresh) })
	g.Go(func() error { return e.runPeriodic(ctx, e.cfg.DiskPoolScanFrequency, e.scheduleDiskPoolScan) })
	g.Go(func() error { return e.runPeriodic(ctx, e.cfg.RemoveExpiredDataRootsFreq, e.scheduleExpireDataRoots) })
	g.Go(func() error { return e.runPeriodic(ctx, e.cfg.StateFlushFrequency, e.scheduleStateFlush) })

	err := g.Wait()
	e.flushState()
	if cerr := e.kvStore.Close(); cerr != nil {
		log.Warn("[syncengine] close kv store", "err", cerr)
	}
	return err
}

// runPeriodic calls schedule every interval until ctx is done. schedule is
// expected to post a self-contained closure onto the mailbox; it must never
// block on the mailbox being full for long, matching spec.md §5's rule that
// periodic tasks are offloaded and "self-rescheduled", never holding actor
// state across a blocking wait.
func (e *Engine) runPeriodic(ctx context.Context, interval time.Duration, schedule func()) error {
	if interval <= 0 {
		interval = time.Second
	}
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
			schedule()
		}
	}
}

// runMailbox is the actor's single serialized execution loop.
func (e *Engine) runMailbox(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case job := <-e.mbox:
			job()
		}
	}
}

// call enqueues fn onto the mailbox and blocks for its reply, honoring
// ctx's deadline on both the enqueue and the reply wait (the admit-chunk
// timeout of spec.md §5).
func call[T any](ctx context.Context, e *Engine, fn func() (T, error)) (T, error) {
	type result struct {
		val T
		err error
	}
	done := make(chan result, 1)
	job := func() {
		v, err := fn()
		done <- result{v, err}
	}
	select {
	case e.mbox <- job:
	case <-ctx.Done():
		var zero T
		return zero, ErrTimedOut
	}
	select {
	case r := <-done:
		return r.val, r.err
	case <-ctx.Done():
		var zero T
		return zero, ErrTimedOut
	}
}

// cast enqueues fn as fire-and-forget.
func (e *Engine) cast(fn func()) {
	select {
	case e.mbox <- fn:
	default:
		// Mailbox full: drop rather than block the caller, matching the
		// "never block the actor's scheduler on a slow periodic task"
		// posture of spec.md §5. The next tick will try again.
		log.Warn("[syncengine] mailbox full, dropping scheduled task")
	}
}

func (e *Engine) setJoined(joined bool, weaveSize uint64) {
	e.mu.Lock()
	e.joined = joined
	e.weaveSize = weaveSize
	e.mu.Unlock()
}

// IsJoined reports whether the engine has completed its first Join. Safe to
// call from any goroutine (spec.md §5's lock-free fast path posture).
func (e *Engine) IsJoined() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.joined
}

// WeaveSize returns the current weave size. Safe to call from any goroutine.
func (e *Engine) WeaveSize() uint64 {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.weaveSize
}

func (e *Engine) flushState() {
	if e.statePath == "" {
		return
	}
	start := time.Now()
	snap, err := weavestate.Snapshot(e.syncRecord, e.blockIndex, e.pool)
	if err != nil {
		log.Error("[syncengine] snapshot state", "err", err)
		return
	}
	if err := weavestate.Store(e.statePath, snap); err != nil {
		log.Error("[syncengine] store state", "err", err)
		return
	}
	if e.metrics != nil {
		e.metrics.StateFlushes.Inc()
		e.metrics.StateFlushDuration.Observe(time.Since(start).Seconds())
	}
}

// scheduleStateFlush is the supplemented periodic flush task (SPEC_FULL.md
// §3): spec.md only mandates a flush on join/add_tip_block/shutdown, but a
// long-lived node that never reorgs would otherwise go a long time between
// persists.
func (e *Engine) scheduleStateFlush() {
	e.cast(func() { e.flushState() })
}

// LoadState restores the persisted state blob before the first Run, or
// returns ok=false if none exists yet.
func (e *Engine) LoadState() (ok bool, err error) {
	if e.statePath == "" {
		return false, nil
	}
	s, found, err := weavestate.Load(e.statePath)
	if err != nil || !found {
		return false, err
	}
	set, blocks, err := s.Restore(e.pool)
	if err != nil {
		return false, err
	}
	e.syncRecord = set
	e.blockIndex = blocks
	if len(blocks) > 0 {
		e.setJoined(true, blocks[len(blocks)-1].WeaveSize)
	}
	return true, nil
}
