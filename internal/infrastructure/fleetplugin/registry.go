// Package fleetplugin loads installer plugins in declaration order and
// merges their declared parameters into configuration metadata, fatally
// rejecting duplicate keys across plugins.
package fleetplugin

import (
	"fmt"

	"github.com/fleetctl/fleetctl/internal/domain/config"
	"github.com/fleetctl/fleetctl/internal/domain/ferrors"
	domainplugin "github.com/fleetctl/fleetctl/internal/domain/fleetplugin"
)

// Registry holds plugins in declaration order.
type Registry struct {
	plugins []domainplugin.Plugin
	byName  map[string]int
}

// NewRegistry constructs an empty Registry.
func NewRegistry() *Registry {
	return &Registry{byName: make(map[string]int)}
}

// Register appends p, preserving declaration order. Registering a
// duplicate plugin name is a config-error.
func (r *Registry) Register(p domainplugin.Plugin) error {
	if p.Name == "" {
		return ferrors.New(ferrors.CodeConfig, "plugin name is required")
	}
	if _, exists := r.byName[p.Name]; exists {
		return ferrors.New(ferrors.CodeConfig, fmt.Sprintf("plugin %q already registered", p.Name))
	}
	r.byName[p.Name] = len(r.plugins)
	r.plugins = append(r.plugins, p)
	return nil
}

// Plugins returns every registered plugin in declaration order.
func (r *Registry) Plugins() []domainplugin.Plugin {
	return append([]domainplugin.Plugin(nil), r.plugins...)
}

// MergeParameters declares every plugin's parameters into cfg in
// declaration order, returning a config-error naming both the key and the
// first plugin to have already declared it.
func (r *Registry) MergeParameters(cfg *config.Config) error {
	declaredBy := make(map[string]string)
	for _, p := range r.plugins {
		for _, spec := range p.Parameters {
			if owner, exists := declaredBy[spec.Key]; exists {
				return ferrors.New(ferrors.CodeConfig, fmt.Sprintf(
					"duplicate configuration key %q declared by plugins %q and %q", spec.Key, owner, p.Name))
			}
			declaredBy[spec.Key] = p.Name

			validators := make([]config.Validator, 0, len(spec.Validators))
			for _, tag := range spec.Validators {
				validators = append(validators, tagValidator(tag))
			}

			if err := cfg.Declare(config.Metadata{
				Key:        spec.Key,
				Default:    spec.Default,
				IsMulti:    spec.IsMulti,
				Options:    spec.Options,
				Usage:      spec.Usage,
				Validators: validators,
			}); err != nil {
				return err
			}
		}
	}
	return nil
}

// Modules returns every module path declared by every registered plugin.
func (r *Registry) Modules() []string {
	var out []string
	for _, p := range r.plugins {
		out = append(out, p.Modules...)
	}
	return out
}

// Resources returns every resource path declared by every registered
// plugin.
func (r *Registry) Resources() []string {
	var out []string
	for _, p := range r.plugins {
		out = append(out, p.Resources...)
	}
	return out
}

func tagValidator(tag string) config.Validator {
	switch tag {
	case "not_empty":
		return config.NotEmpty
	case "integer":
		return config.Integer
	case "float":
		return config.Float
	case "ip":
		return config.IP
	case "port":
		return config.Port
	default:
		return func(value string, _ []string) error { return nil }
	}
}
