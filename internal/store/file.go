package store

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"
)

// File keeps every key in one YAML document. Writes rewrite the document
// atomically: temp file in the same directory, fsync, rename.
type File struct {
	path      string
	recovered error

	mu     sync.Mutex
	values map[string]string
}

// CorruptSuffix is appended to a settings document that could not be read
// before the store starts over empty.
const CorruptSuffix = ".corrupt"

// NewFile loads path if it exists. A missing file is an empty store. A
// document that is not a mapping is moved aside to path+CorruptSuffix and
// the store starts empty; individual non-string values are dropped. Either
// case is reported by Recovered.
func NewFile(path string) (*File, error) {
	if path == "" {
		return nil, errors.New("file store path is required")
	}
	f := &File{path: path, values: make(map[string]string)}
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return f, nil
		}
		return nil, fmt.Errorf("read settings: %w", err)
	}
	if len(data) == 0 {
		return f, nil
	}
	var doc map[string]yaml.Node
	if err := yaml.Unmarshal(data, &doc); err != nil {
		f.recovered = fmt.Errorf("decode settings: %w", err)
		if err := os.Rename(path, path+CorruptSuffix); err != nil {
			f.recovered = fmt.Errorf("%w (set aside failed: %v)", f.recovered, err)
		}
		return f, nil
	}
	var dropped []string
	for key, node := range doc {
		switch {
		case node.Kind == yaml.ScalarNode && node.Tag == "!!null":
			f.values[key] = ""
		case node.Kind == yaml.ScalarNode:
			f.values[key] = node.Value
		default:
			dropped = append(dropped, key)
		}
	}
	if len(dropped) > 0 {
		sort.Strings(dropped)
		f.recovered = fmt.Errorf("decode settings: dropped unreadable keys %s", strings.Join(dropped, ", "))
	}
	return f, nil
}

func (f *File) Path() string { return f.path }

// Recovered reports why the document on disk could not be loaded as-is, or
// nil when it was read cleanly.
func (f *File) Recovered() error { return f.recovered }

func (f *File) Get(_ context.Context, key string) (string, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	v, ok := f.values[key]
	return v, ok, nil
}

func (f *File) Set(_ context.Context, key, value string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	prev, existed := f.values[key]
	f.values[key] = value
	if err := f.flushLocked(); err != nil {
		if existed {
			f.values[key] = prev
		} else {
			delete(f.values, key)
		}
		return err
	}
	return nil
}

func (f *File) flushLocked() error {
	data, err := yaml.Marshal(f.values)
	if err != nil {
		return fmt.Errorf("encode settings: %w", err)
	}
	dir := filepath.Dir(f.path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("create settings dir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".settings-*.yaml")
	if err != nil {
		return fmt.Errorf("create temp settings: %w", err)
	}
	tmpPath := tmp.Name()
	defer func() {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
	}()
	if _, err := tmp.Write(data); err != nil {
		return fmt.Errorf("write temp settings: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		return fmt.Errorf("fsync temp settings: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp settings: %w", err)
	}
	if err := os.Rename(tmpPath, f.path); err != nil {
		return fmt.Errorf("replace settings: %w", err)
	}
	return nil
}

func (f *File) Close() error { return nil }
