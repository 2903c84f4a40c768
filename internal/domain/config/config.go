// Package config implements the installer's validated configuration value:
// a mapping from fully-qualified "section/name" keys to single or
// multi-valued strings, each key driven by metadata describing its
// default, processors, validators, and option set.
package config

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/fleetctl/fleetctl/internal/domain/ferrors"
)

// Processor transforms a raw value before validation, e.g. trimming
// whitespace or lower-casing.
type Processor func(value string, options []string) (string, error)

// Validator reports whether value is acceptable. A non-nil error aborts
// the set/load with a config-error.
type Validator func(value string, options []string) error

// Metadata describes one fully-qualified configuration key.
type Metadata struct {
	Key        string
	Default    string
	IsMulti    bool
	Processors []Processor
	Validators []Validator
	Options    []string
	Usage      string
}

// Config is a validated, append-only-by-setter configuration mapping. It
// is constructed once at startup and never concurrently mutated during
// deployment, matching the lifecycle the metadata model depends on.
type Config struct {
	mu       sync.RWMutex
	meta     map[string]Metadata
	order    []string
	cache    map[string]string
	multiSep string
}

// New constructs an empty Config using sep as the multi-value separator.
func New(sep string) *Config {
	if sep == "" {
		sep = ","
	}
	return &Config{
		meta:     make(map[string]Metadata),
		cache:    make(map[string]string),
		multiSep: sep,
	}
}

// Declare registers metadata for a key. Declaring the same key twice is a
// config-error (duplicate key across plugins, per the plugin merge rule).
func (c *Config) Declare(m Metadata) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, exists := c.meta[m.Key]; exists {
		return ferrors.New(ferrors.CodeConfig, fmt.Sprintf("duplicate configuration key %q", m.Key))
	}
	c.meta[m.Key] = m
	c.order = append(c.order, m.Key)
	return nil
}

// Hydrate populates the mapping from raw file values, falling back to
// declared defaults for every key absent from raw. Every declared key is
// guaranteed present in the mapping once Hydrate returns without error,
// satisfying the metadata-completeness invariant.
func (c *Config) Hydrate(raw map[string]string) error {
	c.mu.Lock()
	keys := append([]string(nil), c.order...)
	c.mu.Unlock()

	for _, key := range keys {
		value, ok := raw[key]
		if !ok {
			c.mu.RLock()
			value = c.meta[key].Default
			c.mu.RUnlock()
		}
		if err := c.Set(key, value); err != nil {
			return err
		}
	}
	return nil
}

// Set runs processors then validators for key and, on success, stores the
// processed value. It is the single typed setter the metadata model
// allows; every mutation re-runs the full pipeline.
func (c *Config) Set(key, value string) error {
	c.mu.RLock()
	m, ok := c.meta[key]
	c.mu.RUnlock()
	if !ok {
		return ferrors.New(ferrors.CodeConfig, fmt.Sprintf("unknown configuration key %q", key))
	}

	parts := []string{value}
	if m.IsMulti && value != "" {
		parts = strings.Split(value, c.multiSep)
	}

	processed := make([]string, 0, len(parts))
	for _, p := range parts {
		v := p
		var err error
		for _, proc := range m.Processors {
			v, err = proc(v, m.Options)
			if err != nil {
				return ferrors.Wrap(ferrors.CodeConfig, fmt.Sprintf("processing %q", key), err)
			}
		}
		if err := c.validate(v, m); err != nil {
			return err
		}
		processed = append(processed, v)
	}

	c.mu.Lock()
	c.cache[key] = strings.Join(processed, c.multiSep)
	c.mu.Unlock()
	return nil
}

func (c *Config) validate(value string, m Metadata) error {
	if len(m.Options) > 0 {
		found := false
		for _, opt := range m.Options {
			if opt == value {
				found = true
				break
			}
		}
		if !found {
			return ferrors.New(ferrors.CodeConfig, fmt.Sprintf("value %q for %q not in option set %v", value, m.Key, m.Options))
		}
	}
	for _, v := range m.Validators {
		if err := v(value, m.Options); err != nil {
			return ferrors.Wrap(ferrors.CodeConfig, fmt.Sprintf("invalid value for %q", m.Key), err)
		}
	}
	return nil
}

// Get returns the stored value for key, or ok=false if undeclared.
func (c *Config) Get(key string) (string, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	v, ok := c.cache[key]
	return v, ok
}

// List returns the multi-value entries for key, splitting on the
// configured separator.
func (c *Config) List(key string) []string {
	v, ok := c.Get(key)
	if !ok || v == "" {
		return nil
	}
	return strings.Split(v, c.multiSep)
}

// Meta returns the declared metadata for key.
func (c *Config) Meta(key string) (Metadata, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	m, ok := c.meta[key]
	return m, ok
}

// Keys returns every declared key in declaration order.
func (c *Config) Keys() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]string(nil), c.order...)
}

// Hosts returns the deduplicated set of host identities drawn from any
// key ending in "host" (single-valued) or "hosts" (multi-valued).
func (c *Config) Hosts() []string {
	set := make(map[string]struct{})
	for _, key := range c.Keys() {
		m, _ := c.Meta(key)
		switch {
		case strings.HasSuffix(key, "hosts") && m.IsMulti:
			for _, h := range c.List(key) {
				h = strings.TrimSpace(h)
				if h != "" {
					set[h] = struct{}{}
				}
			}
		case strings.HasSuffix(key, "host"):
			if v, ok := c.Get(key); ok && v != "" {
				set[v] = struct{}{}
			}
		}
	}
	hosts := make([]string, 0, len(set))
	for h := range set {
		hosts = append(hosts, h)
	}
	sort.Strings(hosts)
	return hosts
}
