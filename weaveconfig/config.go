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

// Package weaveconfig enumerates the deployment constants the sync engine
// is parameterized over, see spec.md §6.
package weaveconfig

import "time"

// Config holds every tunable named in spec.md §6. Zero-value Config is not
// usable; use Default() and override fields as needed.
type Config struct {
	ConsultPeerRecordsCount      int
	PickPeersOutOfRandomN        int
	PeerSyncRecordsFrequency     time.Duration
	TrackConfirmations           int // 2 x store_blocks_behind_current
	MaxSharedIntervals           int
	ExtraBeforeCompaction        int
	ScanMissingChunksFrequency   time.Duration
	DiskPoolScanFrequency        time.Duration
	RemoveExpiredDataRootsFreq   time.Duration
	DiskPoolDataRootExpiration   time.Duration
	MaxDiskPoolDataRootBuffer    uint64
	MaxDiskPoolBuffer            uint64
	MaxServedTxDataSize          uint64
	DiskDataBuffer               uint64
	DiskSpaceCheckFrequency      time.Duration
	StateFlushFrequency          time.Duration // supplemented, see SPEC_FULL.md §3
	DataChunkSize                uint64
	AdmitChunkDefaultTimeout     time.Duration
}

// Default returns the constants enumerated in spec.md §6, plus the
// supplemented StateFlushFrequency.
func Default() Config {
	return Config{
		ConsultPeerRecordsCount:    5,
		PickPeersOutOfRandomN:      20,
		PeerSyncRecordsFrequency:   120 * time.Second,
		TrackConfirmations:         100, // 2 x a representative store_blocks_behind_current of 50
		MaxSharedIntervals:         10000,
		ExtraBeforeCompaction:      100,
		ScanMissingChunksFrequency: 2 * time.Second,
		DiskPoolScanFrequency:      120 * time.Second,
		RemoveExpiredDataRootsFreq: 60 * time.Second,
		DiskPoolDataRootExpiration: 2 * time.Hour,
		MaxDiskPoolDataRootBuffer:  50 * 1 << 20,   // 50MB
		MaxDiskPoolBuffer:          2000 * 1 << 20, // 2000MB
		MaxServedTxDataSize:        12 * 1 << 20,   // 12MB
		DiskDataBuffer:             2 * 1 << 30,    // 2GB headroom, host-tunable
		DiskSpaceCheckFrequency:    30 * time.Second,
		StateFlushFrequency:        10 * time.Minute,
		DataChunkSize:              256 * 1 << 10, // 256KB
		AdmitChunkDefaultTimeout:   5 * time.Second,
	}
}
