package sql

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fleetctl/fleetctl/internal/domain/config"
	"github.com/fleetctl/fleetctl/internal/domain/fleetplugin"
)

func declareAndHydrate(t *testing.T, p fleetplugin.Plugin, overrides map[string]string) *config.Config {
	t.Helper()
	cfg := config.New(",")
	for _, spec := range p.Parameters {
		require.NoError(t, cfg.Declare(config.Metadata{
			Key:     spec.Key,
			Default: spec.Default,
			Options: spec.Options,
			Usage:   spec.Usage,
		}))
	}
	require.NoError(t, cfg.Hydrate(overrides))
	return cfg
}

func TestPlanRendersManifestWithResolvedValues(t *testing.T) {
	p := Plugin()
	cfg := declareAndHydrate(t, p, map[string]string{
		"sql/host":           "db.example.com",
		"sql/backend":        "postgresql",
		"sql/admin_user":     "root",
		"sql/admin_password": "s3cr3t-pw",
	})

	session := fleetplugin.NewSession(cfg, filepath.Join(t.TempDir(), "scratch"))
	records, err := p.Plan[0].RunPlan(context.Background(), session)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "db.example.com", records[0].Host)
	assert.Equal(t, "sql", records[0].Manifest)
	assert.Equal(t, "sql", records[0].Marker)

	rendered, err := session.Manifests.Render("sql", t.TempDir(), map[string]string{})
	require.NoError(t, err)
	assert.FileExists(t, rendered)
}

func TestPlanGeneratesPasswordWhenBlank(t *testing.T) {
	p := Plugin()
	cfg := declareAndHydrate(t, p, map[string]string{"sql/host": "db.example.com"})

	session := fleetplugin.NewSession(cfg, filepath.Join(t.TempDir(), "scratch"))
	_, err := p.Plan[0].RunPlan(context.Background(), session)
	require.NoError(t, err)
}

func TestBackendOptionValidationRejectsUnknownValue(t *testing.T) {
	p := Plugin()
	cfg := config.New(",")
	for _, spec := range p.Parameters {
		require.NoError(t, cfg.Declare(config.Metadata{Key: spec.Key, Default: spec.Default, Options: spec.Options}))
	}
	err := cfg.Set("sql/backend", "oracle")
	require.Error(t, err)
}
