package channel

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/sakif/rewards-engine/internal/apperror"
)

// FileStore is the secondary durable channel: every key lives in a single
// JSON snapshot file rewritten atomically on each Set/Delete.
//
// WRITE STRATEGY:
// We write to a temp file in the same directory and rename it over the
// snapshot. rename(2) is atomic on POSIX filesystems, so a crashed writer
// leaves either the old snapshot or the new one, never a torn file. A torn
// or hand-edited file surfaces as ErrParse and the channel degrades to
// empty, matching the engine's treat-corruption-as-absent policy.
type FileStore struct {
	mu   sync.Mutex
	path string
}

func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

func (f *FileStore) Name() string { return "file" }

func (f *FileStore) Get(_ context.Context, key string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	snap, err := f.load()
	if err != nil {
		return nil, err
	}
	v, ok := snap[key]
	if !ok {
		return nil, apperror.NotFound("key", key)
	}
	return []byte(v), nil
}

func (f *FileStore) Set(_ context.Context, key string, value []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	snap, err := f.load()
	if err != nil {
		// A corrupt snapshot is replaced rather than preserved — the other
		// channels still hold the data, and keeping undecodable bytes around
		// would poison every future read.
		snap = map[string]json.RawMessage{}
	}
	snap[key] = json.RawMessage(value)
	return f.store(snap)
}

func (f *FileStore) Delete(_ context.Context, key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	snap, err := f.load()
	if err != nil {
		return nil
	}
	if _, ok := snap[key]; !ok {
		return nil
	}
	delete(snap, key)
	return f.store(snap)
}

// Keys returns every stored key with the given prefix, sorted.
func (f *FileStore) Keys(_ context.Context, prefix string) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	snap, err := f.load()
	if err != nil {
		return nil, err
	}
	var keys []string
	for k := range snap {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return keys, nil
}

func (f *FileStore) load() (map[string]json.RawMessage, error) {
	raw, err := os.ReadFile(f.path)
	if err != nil {
		if os.IsNotExist(err) {
			return map[string]json.RawMessage{}, nil
		}
		return nil, apperror.Unavailable(f.Name(), err)
	}
	var snap map[string]json.RawMessage
	if err := json.Unmarshal(raw, &snap); err != nil {
		return nil, apperror.Parse(f.Name(), err)
	}
	if snap == nil {
		snap = map[string]json.RawMessage{}
	}
	return snap, nil
}

func (f *FileStore) store(snap map[string]json.RawMessage) error {
	raw, err := json.Marshal(snap)
	if err != nil {
		return apperror.Parse(f.Name(), err)
	}

	dir := filepath.Dir(f.path)
	tmp, err := os.CreateTemp(dir, ".snapshot-*")
	if err != nil {
		return apperror.Unavailable(f.Name(), err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(raw); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return apperror.Unavailable(f.Name(), fmt.Errorf("writing snapshot: %w", err))
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return apperror.Unavailable(f.Name(), err)
	}
	if err := os.Rename(tmpName, f.path); err != nil {
		os.Remove(tmpName)
		return apperror.Unavailable(f.Name(), err)
	}
	return nil
}
