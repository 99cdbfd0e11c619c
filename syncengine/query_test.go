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
)

// TestQueryOpsRejectBeforeJoin guards the read-side fast paths against
// masquerading a never-joined engine as a plain not-found: a host that never
// called Join should learn that distinctly from a host that joined but asked
// about an offset/tx_id that genuinely does not exist.
func TestQueryOpsRejectBeforeJoin(t *testing.T) {
	e := newTestEngine(t)
	cancel := runMailboxInline(context.Background(), e)
	defer cancel()

	_, err := e.GetChunk(0)
	assert.ErrorIs(t, err, ErrNotJoined)

	_, err = e.GetTxRoot(0)
	assert.ErrorIs(t, err, ErrNotJoined)

	_, err = e.GetTxOffset(1)
	assert.ErrorIs(t, err, ErrNotJoined)

	_, err = e.GetTxData(1)
	assert.ErrorIs(t, err, ErrNotJoined)

	ctx, done := context.WithTimeout(context.Background(), time.Second)
	defer done()
	_, err = e.GetSyncRecordETF(ctx)
	assert.ErrorIs(t, err, ErrNotJoined)
	_, err = e.GetSyncRecordJSON(ctx)
	assert.ErrorIs(t, err, ErrNotJoined)
}
