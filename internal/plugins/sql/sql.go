// Package sql is an example plugin demonstrating the fleetplugin
// contract: it installs and configures a SQL database server.
package sql

import (
	"context"
	"crypto/rand"
	"encoding/hex"

	"github.com/fleetctl/fleetctl/internal/domain/fleetplugin"
)

// Plugin returns the sql plugin: four parameter specs (host, backend,
// admin user, admin password) and a single plan step that renders a
// "sql" manifest parameterized by the resolved configuration.
func Plugin() fleetplugin.Plugin {
	return fleetplugin.Plugin{
		Name: "sql",
		Parameters: []fleetplugin.ParameterSpec{
			{
				Key:     "sql/host",
				Default: "127.0.0.1",
				Usage:   "SQL server hostname / IP address",
			},
			{
				Key:     "sql/backend",
				Default: "mysql",
				Options: []string{"postgresql", "mysql"},
				Usage:   "Type of SQL server: \"postgresql\" or \"mysql\"",
			},
			{
				Key:     "sql/admin_user",
				Default: "admin",
				Usage:   "Admin user name",
			},
			{
				Key:   "sql/admin_password",
				Usage: "Admin user password; generated when left blank",
			},
		},
		Plan: []fleetplugin.PlanStep{planStep{}},
	}
}

// generatePassword returns an 8-character hex string used whenever the
// operator leaves admin_password blank.
func generatePassword() (string, error) {
	var b [4]byte
	if _, err := rand.Read(b[:]); err != nil {
		return "", err
	}
	return hex.EncodeToString(b[:]), nil
}

type planStep struct{}

func (planStep) Name() string { return "sql-plan" }

func (planStep) RunPlan(ctx context.Context, session *fleetplugin.Session) ([]fleetplugin.PlanRecord, error) {
	host, _ := session.Config.Get("sql/host")
	backend, _ := session.Config.Get("sql/backend")
	adminUser, _ := session.Config.Get("sql/admin_user")
	adminPassword, _ := session.Config.Get("sql/admin_password")
	if adminPassword == "" {
		generated, err := generatePassword()
		if err != nil {
			return nil, err
		}
		adminPassword = generated
	}

	if err := session.Manifests.AddFragmentInline("sql", sqlTemplate, map[string]string{
		"backend":        backend,
		"admin_user":     adminUser,
		"admin_password": adminPassword,
	}, nil); err != nil {
		return nil, err
	}

	return []fleetplugin.PlanRecord{{
		Host:     host,
		Manifest: "sql",
		Marker:   "sql",
	}}, nil
}

const sqlTemplate = `class { 'sql::server':
  backend        => '{backend}',
  admin_user     => '{admin_user}',
  admin_password => '{admin_password}',
}
`
