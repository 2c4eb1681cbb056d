package store

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/olivier-ls/binstore/internal/codec"
)

const (
	// DataFileExt is the value log file extension.
	DataFileExt = ".dat"

	// IndexFileExt is the index file extension.
	IndexFileExt = ".bin"
)

// Config configures a Registry and every store it opens.
type Config struct {
	Dir          string
	Codec        codec.Codec      // default codec.JSON
	Logger       zerolog.Logger   // zero value logs nothing
	SyncWrites   bool             // fsync the value log after every append
	CacheEntries int              // per-store value cache capacity, 0 = disabled
	Clock        func() time.Time // default time.Now

	// CompactDropsExpired makes Compact remove expired entries before
	// rewriting the value log. By default compaction keeps them and expiry is
	// left to Cleanup and reads.
	CompactDropsExpired bool
}

// Registry owns the open stores under one base directory.
// At most one *Store per name is live at a time.
type Registry struct {
	cfg Config
	log zerolog.Logger

	mu     sync.Mutex
	stores map[string]*Store
}

// NewRegistry creates the base directory if needed and returns an empty registry.
func NewRegistry(cfg Config) (*Registry, error) {
	if cfg.Dir == "" {
		return nil, errors.New("store dir is required")
	}
	if cfg.Codec == nil {
		cfg.Codec = codec.JSON{}
	}
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}
	if err := os.MkdirAll(cfg.Dir, 0755); err != nil {
		return nil, fmt.Errorf("create store dir: %w", err)
	}
	return &Registry{
		cfg:    cfg,
		log:    cfg.Logger,
		stores: make(map[string]*Store),
	}, nil
}

// Dir returns the base directory.
func (r *Registry) Dir() string {
	return r.cfg.Dir
}

// DataPath returns the value log path of the named store.
func (r *Registry) DataPath(name string) string {
	return filepath.Join(r.cfg.Dir, name+DataFileExt)
}

// IndexPath returns the index file path of the named store.
func (r *Registry) IndexPath(name string) string {
	return filepath.Join(r.cfg.Dir, name+IndexFileExt)
}

func validateName(name string) error {
	if name == "" || name == "." || name == ".." || strings.ContainsAny(name, "/\\\x00") {
		return fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	return nil
}

// Open opens the named store, creating its files if they do not exist.
// Opening a store that is already open returns the live handle.
func (r *Registry) Open(name string) (*Store, error) {
	if err := validateName(name); err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if s, ok := r.stores[name]; ok {
		return s, nil
	}
	if err := os.MkdirAll(r.cfg.Dir, 0755); err != nil {
		return nil, fmt.Errorf("create store dir: %w", err)
	}

	s, err := openStore(name, r.DataPath(name), r.IndexPath(name), r.cfg,
		r.log.With().Str("store", name).Logger())
	if err != nil {
		return nil, err
	}
	r.stores[name] = s
	return s, nil
}

// Store returns the open store called name, or ErrNotOpen.
func (r *Registry) Store(name string) (*Store, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.stores[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrNotOpen, name)
	}
	return s, nil
}

// Names returns the names of the open stores, sorted.
func (r *Registry) Names() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	names := make([]string, 0, len(r.stores))
	for name := range r.stores {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Close saves the index of the named store, releases its files and forgets
// the handle. Later calls on the handle return ErrNotOpen.
//
// The registry stays locked until the index is saved, so an Open of the same
// name waits and then loads the saved index.
func (r *Registry) Close(name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.stores[name]
	if !ok {
		return fmt.Errorf("%w: %q", ErrNotOpen, name)
	}
	delete(r.stores, name)
	return s.close(true)
}

// CloseAll closes every open store. Indexes are saved concurrently; the first
// error is returned after all stores are closed. Opens wait until it returns.
func (r *Registry) CloseAll() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	stores := r.stores
	r.stores = make(map[string]*Store)

	var g errgroup.Group
	for _, s := range stores {
		s := s
		g.Go(func() error {
			return s.close(true)
		})
	}
	return g.Wait()
}

// DeleteStore removes the named store's files, closing it first if it is
// open. It reports whether every file that existed was removed.
func (r *Registry) DeleteStore(name string) (bool, error) {
	if err := validateName(name); err != nil {
		return false, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if s, ok := r.stores[name]; ok {
		delete(r.stores, name)
		if err := s.close(false); err != nil {
			r.log.Warn().Err(err).Str("store", name).Msg("close before delete")
		}
	}

	dataPath, indexPath := r.DataPath(name), r.IndexPath(name)
	var errs []error
	for _, path := range []string{dataPath, indexPath, dataPath + ".compact", indexPath + ".tmp"} {
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		return false, errors.Join(errs...)
	}
	r.log.Info().Str("store", name).Msg("deleted store files")
	return true, nil
}
