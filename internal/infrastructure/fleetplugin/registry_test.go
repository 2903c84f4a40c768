package fleetplugin

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/fleetctl/fleetctl/internal/domain/config"
	"github.com/fleetctl/fleetctl/internal/domain/ferrors"
	domainplugin "github.com/fleetctl/fleetctl/internal/domain/fleetplugin"
)

func TestRegistryPreservesDeclarationOrder(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(domainplugin.Plugin{Name: "sql", Modules: []string{"mod-sql"}}))
	require.NoError(t, r.Register(domainplugin.Plugin{Name: "web", Modules: []string{"mod-web"}}))

	plugins := r.Plugins()
	require.Equal(t, []string{"sql", "web"}, []string{plugins[0].Name, plugins[1].Name})
	require.Equal(t, []string{"mod-sql", "mod-web"}, r.Modules())
}

func TestRegistryRejectsDuplicatePluginName(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(domainplugin.Plugin{Name: "sql"}))
	err := r.Register(domainplugin.Plugin{Name: "sql"})
	requireConfigError(t, err)
}

func TestRegistryMergeParametersRejectsDuplicateKeyAcrossPlugins(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(domainplugin.Plugin{
		Name:       "sql",
		Parameters: []domainplugin.ParameterSpec{{Key: "shared/key"}},
	}))
	require.NoError(t, r.Register(domainplugin.Plugin{
		Name:       "web",
		Parameters: []domainplugin.ParameterSpec{{Key: "shared/key"}},
	}))

	cfg := config.New(",")
	err := r.MergeParameters(cfg)
	requireConfigError(t, err)
	require.Contains(t, err.Error(), `"sql"`)
	require.Contains(t, err.Error(), `"web"`)
}

func TestRegistryMergeParametersDeclaresMetadata(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(domainplugin.Plugin{
		Name: "sql",
		Parameters: []domainplugin.ParameterSpec{{
			Key:     "sql/backend",
			Default: "mysql",
			Options: []string{"mysql", "postgresql"},
		}},
	}))

	cfg := config.New(",")
	require.NoError(t, r.MergeParameters(cfg))

	m, ok := cfg.Meta("sql/backend")
	require.True(t, ok)
	require.Equal(t, "mysql", m.Default)
	require.Equal(t, []string{"mysql", "postgresql"}, m.Options)
}

func requireConfigError(t *testing.T, err error) {
	t.Helper()
	require.Error(t, err)
	require.True(t, errors.Is(err, ferrors.New(ferrors.CodeConfig, "")))
}
