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

import "errors"

// The error taxonomy of spec.md §7. Each is a sentinel so callers can use
// errors.Is against it; a few carry extra context via fmt.Errorf("%w: ...").
var (
	ErrNotJoined                = errors.New("syncengine: not joined")
	ErrNotFound                 = errors.New("syncengine: not found")
	ErrChunkNotFound            = errors.New("syncengine: chunk not found")
	ErrFailedToReadChunk        = errors.New("syncengine: failed to read chunk blob")
	ErrInvalid                  = errors.New("syncengine: invalid input")
	ErrDiskFull                 = errors.New("syncengine: disk full")
	ErrExceedsDiskPoolSizeLimit = errors.New("syncengine: exceeds disk pool size limit")
	ErrExceedsDataRootSizeLimit = errors.New("syncengine: exceeds data root size limit")
	ErrDataRootNotFound         = errors.New("syncengine: data root not found")
	ErrInvalidProof             = errors.New("syncengine: invalid proof")
	ErrTxDataTooBig             = errors.New("syncengine: tx data exceeds max served size")
	ErrTimedOut                 = errors.New("syncengine: admit_chunk timed out")
	ErrFatalJoinNoIntersection  = errors.New("syncengine: join found no common ancestor block")
)
