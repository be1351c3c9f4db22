// Classfeedback - Live Classroom Presentation Sync
// Copyright 2026 twistedtree83
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/twistedtree83/classfeedback

package approvalcache

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fxamacker/cbor/v2"
)

var (
	encMode cbor.EncMode
	decMode cbor.DecMode
)

func init() {
	opts := cbor.CoreDetEncOptions()
	opts.Time = cbor.TimeRFC3339Nano
	var err error
	if encMode, err = opts.EncMode(); err != nil {
		panic("approvalcache: CBOR encoder: " + err.Error())
	}
	if decMode, err = (cbor.DecOptions{}).DecMode(); err != nil {
		panic("approvalcache: CBOR decoder: " + err.Error())
	}
}

// File is a Cache persisted as one CBOR map, so approvals survive a CLI
// restart. The whole file is rewritten on every change.
type File struct {
	mu   sync.Mutex
	path string
	ttl  time.Duration
	now  func() time.Time
}

// NewFile returns a Cache stored at path. The file is created on the
// first Put.
func NewFile(path string, ttl time.Duration) *File {
	return &File{path: path, ttl: ttl, now: time.Now}
}

func (f *File) load() (map[string]Entry, error) {
	data, err := os.ReadFile(f.path)
	if errors.Is(err, fs.ErrNotExist) {
		return make(map[string]Entry), nil
	}
	if err != nil {
		return nil, fmt.Errorf("read approval cache: %w", err)
	}
	entries := make(map[string]Entry)
	if len(data) == 0 {
		return entries, nil
	}
	if err := decMode.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("decode approval cache %s: %w", f.path, err)
	}
	return entries, nil
}

func (f *File) save(entries map[string]Entry) error {
	data, err := encMode.Marshal(entries)
	if err != nil {
		return fmt.Errorf("encode approval cache: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(f.path), 0o700); err != nil {
		return fmt.Errorf("create approval cache dir: %w", err)
	}
	tmp := f.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("write approval cache: %w", err)
	}
	return os.Rename(tmp, f.path)
}

// Get treats an unreadable file as empty.
func (f *File) Get(code string) (Entry, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	entries, err := f.load()
	if err != nil {
		return Entry{}, false
	}
	k := key(code)
	e, ok := entries[k]
	if !ok {
		return Entry{}, false
	}
	if expired(e, f.ttl, f.now()) {
		delete(entries, k)
		_ = f.save(entries)
		return Entry{}, false
	}
	return e, true
}

func (f *File) Put(code string, e Entry) error {
	if e.Timestamp.IsZero() {
		e.Timestamp = f.now()
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	entries, err := f.load()
	if err != nil {
		// Start over rather than refuse to cache.
		entries = make(map[string]Entry)
	}
	entries[key(code)] = e
	return f.save(entries)
}

func (f *File) Clear(code string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	entries, err := f.load()
	if err != nil {
		return err
	}
	k := key(code)
	if _, ok := entries[k]; !ok {
		return nil
	}
	delete(entries, k)
	return f.save(entries)
}
