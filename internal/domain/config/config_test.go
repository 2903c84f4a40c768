package config

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/fleetctl/fleetctl/internal/domain/ferrors"
)

func TestConfigSeedScenarioS1(t *testing.T) {
	c := New(",")
	require.NoError(t, c.Declare(Metadata{Key: "sql/host"}))
	require.NoError(t, c.Declare(Metadata{
		Key:     "sql/backend",
		Options: []string{"postgresql", "mysql"},
	}))
	require.NoError(t, c.Declare(Metadata{Key: "sql/admin_user"}))
	require.NoError(t, c.Declare(Metadata{
		Key:        "sql/admin_password",
		Validators: []Validator{MinLength(8)},
	}))

	require.NoError(t, c.Hydrate(map[string]string{
		"sql/host":           "127.0.0.1",
		"sql/backend":        "mysql",
		"sql/admin_user":     "test",
		"sql/admin_password": "testtest",
	}))

	v, ok := c.Get("sql/backend")
	require.True(t, ok)
	require.Equal(t, "mysql", v)

	err := c.Set("sql/backend", "oracle")
	requireConfigError(t, err)

	err = c.Set("sql/admin_password", "short")
	requireConfigError(t, err)

	// The rejected mutations must not have clobbered the prior good value.
	v, ok = c.Get("sql/backend")
	require.True(t, ok)
	require.Equal(t, "mysql", v)
}

func TestConfigDeclareDuplicateKeyIsFatal(t *testing.T) {
	c := New(",")
	require.NoError(t, c.Declare(Metadata{Key: "sql/host"}))
	err := c.Declare(Metadata{Key: "sql/host"})
	requireConfigError(t, err)
}

func TestConfigHydratePopulatesEveryDeclaredKey(t *testing.T) {
	c := New(",")
	require.NoError(t, c.Declare(Metadata{Key: "a/one", Default: "default-one"}))
	require.NoError(t, c.Declare(Metadata{Key: "a/two", Default: "default-two"}))

	require.NoError(t, c.Hydrate(map[string]string{"a/one": "explicit"}))

	v, ok := c.Get("a/one")
	require.True(t, ok)
	require.Equal(t, "explicit", v)

	v, ok = c.Get("a/two")
	require.True(t, ok)
	require.Equal(t, "default-two", v)
}

func TestConfigHostsDedupAcrossSingleAndMultiKeys(t *testing.T) {
	c := New(",")
	require.NoError(t, c.Declare(Metadata{Key: "sql/host"}))
	require.NoError(t, c.Declare(Metadata{Key: "web/hosts", IsMulti: true}))

	require.NoError(t, c.Hydrate(map[string]string{
		"sql/host":  "db1",
		"web/hosts": "db1,web1,web2",
	}))

	require.Equal(t, []string{"db1", "web1", "web2"}, c.Hosts())
}

func TestConfigMultiValueSplitsOnConfiguredSeparator(t *testing.T) {
	c := New(";")
	require.NoError(t, c.Declare(Metadata{Key: "a/hosts", IsMulti: true}))
	require.NoError(t, c.Hydrate(map[string]string{"a/hosts": "h1;h2;h3"}))

	require.Equal(t, []string{"h1", "h2", "h3"}, c.List("a/hosts"))
}

func TestConfigProcessorRunsBeforeValidation(t *testing.T) {
	c := New(",")
	upper := func(value string, _ []string) (string, error) { return value + "!", nil }
	require.NoError(t, c.Declare(Metadata{
		Key:        "a/one",
		Processors: []Processor{upper},
		Options:    []string{"ok!"},
	}))

	require.NoError(t, c.Set("a/one", "ok"))
	v, _ := c.Get("a/one")
	require.Equal(t, "ok!", v)
}

func TestConfigSetUnknownKeyIsConfigError(t *testing.T) {
	c := New(",")
	err := c.Set("missing/key", "value")
	requireConfigError(t, err)
}

func requireConfigError(t *testing.T, err error) {
	t.Helper()
	require.Error(t, err)
	require.True(t, errors.Is(err, ferrors.New(ferrors.CodeConfig, "")))
}
