// Classfeedback - Live Classroom Presentation Sync
// Copyright 2026 twistedtree83
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/twistedtree83/classfeedback

package store

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/goccy/go-json"

	"github.com/twistedtree83/classfeedback/internal/logging"
	"github.com/twistedtree83/classfeedback/internal/metrics"
	"github.com/twistedtree83/classfeedback/internal/models"
)

// Key layout. Components are separated by a NUL byte so that partition
// values containing ':' or '/' cannot collide.
//
//	rec\x00<kind>\x00<id>                      -> envelope JSON
//	idx\x00<kind>\x00<partition>\x00<id>       -> empty
//	meta\x00version                            -> badger.Sequence
const (
	recordKeyPrefix    = "rec"
	partitionKeyPrefix = "idx"
	versionSequenceKey = "meta\x00version"
	sequenceBandwidth  = 256
)

func recordKeyBytes(kind models.Kind, id string) []byte {
	return []byte(recordKeyPrefix + "\x00" + string(kind) + "\x00" + id)
}

func partitionPrefix(kind models.Kind, partition string) []byte {
	return []byte(partitionKeyPrefix + "\x00" + string(kind) + "\x00" + partition + "\x00")
}

// BadgerStore is the embedded default backend.
//
// Writes are serialized through writeMu so versions are committed in the
// order they are assigned.
type BadgerStore struct {
	db       *badger.DB
	seq      *badger.Sequence
	writeMu  sync.Mutex
	inMemory bool
}

// OpenBadger opens (or creates) a store at path. With inMemory set the path
// is ignored and nothing touches disk.
func OpenBadger(path string, inMemory bool) (*BadgerStore, error) {
	opts := badger.DefaultOptions(path)
	if inMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	}
	opts.Logger = nil

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger at %q: %w", path, err)
	}
	seq, err := db.GetSequence([]byte(versionSequenceKey), sequenceBandwidth)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("open version sequence: %w", err)
	}
	return &BadgerStore{db: db, seq: seq, inMemory: inMemory}, nil
}

// nextVersion skips 0, which is the "from the beginning" cursor.
func (s *BadgerStore) nextVersion() (uint64, error) {
	n, err := s.seq.Next()
	if err != nil {
		return 0, fmt.Errorf("next version: %w", err)
	}
	return n + 1, nil
}

func (s *BadgerStore) Put(_ context.Context, env models.Envelope) (out models.Envelope, err error) {
	start := time.Now()
	defer func() { metrics.RecordStoreOperation("badger", "put", start, err) }()

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	err = s.db.Update(func(txn *badger.Txn) error {
		key := recordKeyBytes(env.Kind, env.ID)
		prev, err := readEnvelope(txn, key)
		switch {
		case err == nil:
			env.Partitions = mergePartitions(prev.Partitions, env.Partitions)
		case !errors.Is(err, badger.ErrKeyNotFound):
			return err
		}

		if env.Version, err = s.nextVersion(); err != nil {
			return err
		}
		env.UpdatedAt = now()

		data, err := json.Marshal(env)
		if err != nil {
			return fmt.Errorf("marshal envelope: %w", err)
		}
		if err := txn.Set(key, data); err != nil {
			return fmt.Errorf("set record: %w", err)
		}
		for _, p := range env.Partitions {
			idx := append(partitionPrefix(env.Kind, p), env.ID...)
			if err := txn.Set(idx, nil); err != nil {
				return fmt.Errorf("set partition index: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		return models.Envelope{}, err
	}
	return env, nil
}

func readEnvelope(txn *badger.Txn, key []byte) (models.Envelope, error) {
	var env models.Envelope
	item, err := txn.Get(key)
	if err != nil {
		return env, err
	}
	err = item.Value(func(val []byte) error {
		return json.Unmarshal(val, &env)
	})
	return env, err
}

func (s *BadgerStore) Get(_ context.Context, kind models.Kind, id string) (env models.Envelope, err error) {
	start := time.Now()
	defer func() { metrics.RecordStoreOperation("badger", "get", start, ignoreNotFound(err)) }()

	err = s.db.View(func(txn *badger.Txn) error {
		var err error
		env, err = readEnvelope(txn, recordKeyBytes(kind, id))
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return models.Envelope{}, fmt.Errorf("%s %s: %w", kind, id, models.ErrNotFound)
	}
	if err != nil {
		return models.Envelope{}, fmt.Errorf("get %s %s: %w", kind, id, err)
	}
	return env, nil
}

func (s *BadgerStore) Update(_ context.Context, kind models.Kind, id string, fn MutateFunc) (env models.Envelope, changed bool, err error) {
	start := time.Now()
	defer func() { metrics.RecordStoreOperation("badger", "update", start, ignoreNotFound(err)) }()

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	err = s.db.Update(func(txn *badger.Txn) error {
		key := recordKeyBytes(kind, id)
		cur, err := readEnvelope(txn, key)
		if errors.Is(err, badger.ErrKeyNotFound) {
			return fmt.Errorf("%s %s: %w", kind, id, models.ErrNotFound)
		}
		if err != nil {
			return fmt.Errorf("read %s %s: %w", kind, id, err)
		}

		data, err := fn(cur.Data)
		if errors.Is(err, ErrUnchanged) {
			env = cur
			return nil
		}
		if err != nil {
			return err
		}

		if cur.Version, err = s.nextVersion(); err != nil {
			return err
		}
		cur.UpdatedAt = now()
		cur.Data = data
		raw, err := json.Marshal(cur)
		if err != nil {
			return fmt.Errorf("marshal envelope: %w", err)
		}
		if err := txn.Set(key, raw); err != nil {
			return fmt.Errorf("set record: %w", err)
		}
		env, changed = cur, true
		return nil
	})
	if err != nil {
		return models.Envelope{}, false, err
	}
	return env, changed, nil
}

func (s *BadgerStore) Query(_ context.Context, kind models.Kind, partition string, since uint64) (out []models.Envelope, err error) {
	start := time.Now()
	defer func() { metrics.RecordStoreOperation("badger", "query", start, err) }()

	prefix := partitionPrefix(kind, partition)
	err = s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			id := bytes.TrimPrefix(it.Item().KeyCopy(nil), prefix)
			env, err := readEnvelope(txn, recordKeyBytes(kind, string(id)))
			if errors.Is(err, badger.ErrKeyNotFound) {
				continue
			}
			if err != nil {
				return fmt.Errorf("read %s %s: %w", kind, id, err)
			}
			if env.Version > since {
				out = append(out, env)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sortByVersion(out)
	return out, nil
}

func (s *BadgerStore) Ping(context.Context) error {
	if s.db.IsClosed() {
		return errClosed
	}
	return nil
}

// RunGC reclaims value log space until badger reports nothing left to
// rewrite.
func (s *BadgerStore) RunGC() error {
	if s.db.IsClosed() {
		return errClosed
	}
	if s.inMemory {
		return nil
	}
	runs := 0
	for {
		err := s.db.RunValueLogGC(0.5)
		if errors.Is(err, badger.ErrNoRewrite) || errors.Is(err, badger.ErrRejected) {
			break
		}
		if err != nil {
			return fmt.Errorf("value log gc: %w", err)
		}
		runs++
	}
	if runs > 0 {
		logging.Debug().Int("runs", runs).Msg("badger value log gc reclaimed space")
	}
	return nil
}

func (s *BadgerStore) Close() error {
	if err := s.seq.Release(); err != nil {
		logging.Warn().Err(err).Msg("release version sequence")
	}
	return s.db.Close()
}

func ignoreNotFound(err error) error {
	if errors.Is(err, models.ErrNotFound) {
		return nil
	}
	return err
}
