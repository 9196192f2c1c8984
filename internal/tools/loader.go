package tools

import (
	"bytes"
	"fmt"
	"os"
	"sync"
	"sync/atomic"

	"gopkg.in/yaml.v3"

	"github.com/giantswarm/mcpgate/pkg/logging"
)

// catalogFile is the on-disk layout of tools.yaml.
type catalogFile struct {
	Tools []Descriptor `yaml:"tools"`
}

// ParseCatalog decodes a YAML catalog. Unknown keys are rejected so typos
// surface at load time instead of silently dropping configuration.
func ParseCatalog(data []byte, version uint64) (*Catalog, error) {
	var f catalogFile
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&f); err != nil {
		return nil, fmt.Errorf("failed to parse tool catalog: %w", err)
	}
	return NewCatalog(version, f.Tools)
}

// LoadCatalogFile reads and parses a catalog from path.
func LoadCatalogFile(path string, version uint64) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read tool catalog %s: %w", path, err)
	}
	return ParseCatalog(data, version)
}

// Source holds the current catalog snapshot and swaps it atomically on reload.
// Readers always see a complete snapshot.
type Source struct {
	path    string
	current atomic.Pointer[Catalog]

	reloadMu  sync.Mutex
	listeners []func(*Catalog)
}

// NewSource loads the catalog at path as version 1.
func NewSource(path string) (*Source, error) {
	c, err := LoadCatalogFile(path, 1)
	if err != nil {
		return nil, err
	}
	s := &Source{path: path}
	s.current.Store(c)
	logging.Info("Tools", "Loaded %d tools from %s", c.Len(), path)
	return s, nil
}

// NewStaticSource wraps an already built catalog. Reload is a no-op without a path.
func NewStaticSource(c *Catalog) *Source {
	s := &Source{}
	s.current.Store(c)
	return s
}

// Snapshot returns the current catalog.
func (s *Source) Snapshot() *Catalog {
	return s.current.Load()
}

// Path returns the catalog file path, if any.
func (s *Source) Path() string {
	return s.path
}

// OnChange registers fn to be called after every successful reload.
func (s *Source) OnChange(fn func(*Catalog)) {
	s.reloadMu.Lock()
	s.listeners = append(s.listeners, fn)
	s.reloadMu.Unlock()
}

// Reload re-reads the catalog file. On failure the previous snapshot stays in place.
func (s *Source) Reload() (*Catalog, error) {
	if s.path == "" {
		return s.Snapshot(), nil
	}

	s.reloadMu.Lock()
	defer s.reloadMu.Unlock()

	next, err := LoadCatalogFile(s.path, s.Snapshot().Version()+1)
	if err != nil {
		logging.Warn("Tools", "Keeping catalog version %d, reload failed: %v", s.Snapshot().Version(), err)
		return nil, err
	}
	return s.swapLocked(next), nil
}

// Replace installs descriptors as the next version.
func (s *Source) Replace(descriptors []Descriptor) (*Catalog, error) {
	s.reloadMu.Lock()
	defer s.reloadMu.Unlock()

	next, err := NewCatalog(s.Snapshot().Version()+1, descriptors)
	if err != nil {
		return nil, err
	}
	return s.swapLocked(next), nil
}

func (s *Source) swapLocked(next *Catalog) *Catalog {
	s.current.Store(next)
	logging.Info("Tools", "Catalog reloaded: version %d with %d tools", next.Version(), next.Len())
	for _, fn := range s.listeners {
		fn(next)
	}
	return next
}
