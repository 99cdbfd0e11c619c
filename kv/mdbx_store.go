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

package kv

import (
	"fmt"

	"github.com/erigontech/mdbx-go/mdbx"
)

// MdbxStore is the production Store backend, opening one MDBX database per
// table the way erigon-lib/kv opens its column families. GetNext/GetPrev
// ride MDBX's MVCC snapshot reads, which is what gives the engine's two
// lock-free fast paths (spec.md §5) their safety: a reader transaction never
// blocks on, or is blocked by, the writer.
type MdbxStore struct {
	env  *mdbx.Env
	dbis map[string]mdbx.DBI
}

// OpenMdbxStore opens (creating if absent) an MDBX environment at path with
// one DBI per table in cfg.
func OpenMdbxStore(path string, cfg TableCfg) (*MdbxStore, error) {
	env, err := mdbx.NewEnv()
	if err != nil {
		return nil, fmt.Errorf("kv: mdbx.NewEnv: %w", err)
	}
	if err := env.SetMaxDBs(len(cfg)); err != nil {
		return nil, fmt.Errorf("kv: SetMaxDBs: %w", err)
	}
	if err := env.Open(path, mdbx.NoSubdir|mdbx.Coalesce|mdbx.LifoReclaim, 0664); err != nil {
		return nil, fmt.Errorf("kv: mdbx.Open(%s): %w", path, err)
	}

	dbis := make(map[string]mdbx.DBI, len(cfg))
	if err := env.Update(func(txn *mdbx.Txn) error {
		for name := range cfg {
			dbi, err := txn.OpenDBISimple(name, mdbx.Create)
			if err != nil {
				return fmt.Errorf("kv: OpenDBI(%s): %w", name, err)
			}
			dbis[name] = dbi
		}
		return nil
	}); err != nil {
		env.Close()
		return nil, err
	}
	return &MdbxStore{env: env, dbis: dbis}, nil
}

func (s *MdbxStore) dbi(table string) (mdbx.DBI, error) {
	dbi, ok := s.dbis[table]
	if !ok {
		return 0, fmt.Errorf("kv: unknown table %q", table)
	}
	return dbi, nil
}

func (s *MdbxStore) Get(table string, key []byte) ([]byte, error) {
	dbi, err := s.dbi(table)
	if err != nil {
		return nil, err
	}
	var out []byte
	err = s.env.View(func(txn *mdbx.Txn) error {
		v, err := txn.Get(dbi, key)
		if mdbx.IsNotFound(err) {
			return ErrNotFound
		}
		if err != nil {
			return err
		}
		out = append([]byte(nil), v...)
		return nil
	})
	return out, err
}

func (s *MdbxStore) Put(table string, key, value []byte) error {
	dbi, err := s.dbi(table)
	if err != nil {
		return err
	}
	return s.env.Update(func(txn *mdbx.Txn) error {
		return txn.Put(dbi, key, value, 0)
	})
}

func (s *MdbxStore) Delete(table string, key []byte) error {
	dbi, err := s.dbi(table)
	if err != nil {
		return err
	}
	return s.env.Update(func(txn *mdbx.Txn) error {
		err := txn.Del(dbi, key, nil)
		if mdbx.IsNotFound(err) {
			return nil
		}
		return err
	})
}

func (s *MdbxStore) GetNext(table string, key []byte) (KV, error) {
	return s.seek(table, key, mdbx.SetRange)
}

func (s *MdbxStore) GetPrev(table string, key []byte) (KV, error) {
	dbi, err := s.dbi(table)
	if err != nil {
		return KV{}, err
	}
	var out KV
	err = s.env.View(func(txn *mdbx.Txn) error {
		cur, err := txn.OpenCursor(dbi)
		if err != nil {
			return err
		}
		defer cur.Close()
		k, v, err := cur.Get(key, nil, mdbx.SetRange)
		if mdbx.IsNotFound(err) {
			// key is past the last entry: the last entry is <= key.
			k, v, err = cur.Get(nil, nil, mdbx.Last)
			if mdbx.IsNotFound(err) {
				return ErrNotFound
			}
			if err != nil {
				return err
			}
			out = KV{Key: append([]byte(nil), k...), Value: append([]byte(nil), v...)}
			return nil
		}
		if err != nil {
			return err
		}
		if string(k) != string(key) {
			// SetRange landed on the smallest key >= key; step back one.
			k, v, err = cur.Get(nil, nil, mdbx.Prev)
			if mdbx.IsNotFound(err) {
				return ErrNotFound
			}
			if err != nil {
				return err
			}
		}
		out = KV{Key: append([]byte(nil), k...), Value: append([]byte(nil), v...)}
		return nil
	})
	return out, err
}

func (s *MdbxStore) seek(table string, key []byte, op mdbx.CursorOp) (KV, error) {
	dbi, err := s.dbi(table)
	if err != nil {
		return KV{}, err
	}
	var out KV
	err = s.env.View(func(txn *mdbx.Txn) error {
		cur, err := txn.OpenCursor(dbi)
		if err != nil {
			return err
		}
		defer cur.Close()
		k, v, err := cur.Get(key, nil, op)
		if mdbx.IsNotFound(err) {
			return ErrNotFound
		}
		if err != nil {
			return err
		}
		out = KV{Key: append([]byte(nil), k...), Value: append([]byte(nil), v...)}
		return nil
	})
	return out, err
}

func (s *MdbxStore) GetRange(table string, lo, hi []byte) ([]KV, error) {
	dbi, err := s.dbi(table)
	if err != nil {
		return nil, err
	}
	var out []KV
	err = s.env.View(func(txn *mdbx.Txn) error {
		cur, err := txn.OpenCursor(dbi)
		if err != nil {
			return err
		}
		defer cur.Close()
		k, v, err := cur.Get(lo, nil, mdbx.SetRange)
		for ; err == nil && string(k) < string(hi); k, v, err = cur.Get(nil, nil, mdbx.Next) {
			out = append(out, KV{Key: append([]byte(nil), k...), Value: append([]byte(nil), v...)})
		}
		if mdbx.IsNotFound(err) {
			return nil
		}
		return err
	})
	return out, err
}

func (s *MdbxStore) DeleteRange(table string, lo, hi []byte) error {
	dbi, err := s.dbi(table)
	if err != nil {
		return err
	}
	return s.env.Update(func(txn *mdbx.Txn) error {
		cur, err := txn.OpenCursor(dbi)
		if err != nil {
			return err
		}
		defer cur.Close()
		k, _, err := cur.Get(lo, nil, mdbx.SetRange)
		for ; err == nil && string(k) < string(hi); k, _, err = cur.Get(nil, nil, mdbx.Next) {
			if err := cur.Del(0); err != nil {
				return err
			}
		}
		if mdbx.IsNotFound(err) {
			return nil
		}
		return err
	})
}

func (s *MdbxStore) CyclicNext(table string, cursor []byte) (KV, []byte, error) {
	dbi, err := s.dbi(table)
	if err != nil {
		return KV{}, nil, err
	}
	var out KV
	err = s.env.View(func(txn *mdbx.Txn) error {
		cur, err := txn.OpenCursor(dbi)
		if err != nil {
			return err
		}
		defer cur.Close()

		var k, v []byte
		if cursor != nil {
			k, v, err = cur.Get(cursor, nil, mdbx.SetRange)
			if err == nil && string(k) == string(cursor) {
				k, v, err = cur.Get(nil, nil, mdbx.Next)
			}
		} else {
			err = mdbx.ErrNotFound
		}
		if mdbx.IsNotFound(err) {
			k, v, err = cur.Get(nil, nil, mdbx.First)
		}
		if mdbx.IsNotFound(err) {
			return ErrNotFound
		}
		if err != nil {
			return err
		}
		out = KV{Key: append([]byte(nil), k...), Value: append([]byte(nil), v...)}
		return nil
	})
	return out, out.Key, err
}

func (s *MdbxStore) Close() error {
	s.env.Close()
	return nil
}
