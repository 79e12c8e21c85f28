// Package pgtest runs an ephemeral PostgreSQL in Docker for store tests.
package pgtest

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"testing"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"
	"github.com/ory/dockertest/v3"
	"github.com/ory/dockertest/v3/docker"
	"github.com/stretchr/testify/require"
)

// Postgres is a PostgreSQL server in a Docker container with a connected
// client, for use in end-to-end store tests.
type Postgres struct {
	Resource *dockertest.Resource
	DB       *sqlx.DB

	pool *dockertest.Pool
}

// New creates and starts a Dockerized Postgres.
// The test is skipped when Docker is unavailable and terminated when
// container creation fails.
func New(t testing.TB) *Postgres {
	pool, err := dockertest.NewPool("")
	if err != nil {
		t.Skip("Docker not available:", err)
	}
	if err := pool.Client.Ping(); err != nil {
		t.Skip("Docker not reachable:", err)
	}
	pool.MaxWait = 2 * time.Minute
	var passBytes [16]byte
	_, err = rand.Read(passBytes[:])
	require.NoError(t, err, "Getting random password bytes")
	password := hex.EncodeToString(passBytes[:])
	runOpts := &dockertest.RunOptions{
		Repository: "postgres",
		Tag:        "16-alpine",
		Env: []string{
			"POSTGRES_DB=pgtest",
			"POSTGRES_USER=pgtest",
			"POSTGRES_PASSWORD=" + password,
		},
	}
	resource, err := pool.RunWithOptions(runOpts, func(config *docker.HostConfig) {
		config.AutoRemove = true
		config.RestartPolicy = docker.RestartPolicy{Name: "no"}
	})
	require.NoError(t, err, "Creating Postgres container")
	t.Log("Created Postgres Docker container")
	dsn := fmt.Sprintf("postgres://pgtest:%s@localhost:%s/pgtest?sslmode=disable",
		password, resource.GetPort("5432/tcp"))
	var db *sqlx.DB
	require.NoError(t, pool.Retry(func() error {
		var err error
		db, err = sqlx.Connect("pgx", dsn)
		if err != nil {
			t.Log("Connect failed, retrying:", err)
			return err
		}
		return nil
	}), "Connection to Postgres")
	return &Postgres{
		Resource: resource,
		DB:       db,
		pool:     pool,
	}
}

// Close shuts down the container and client.
func (p *Postgres) Close(t testing.TB) {
	if p.DB != nil {
		_ = p.DB.Close()
	}
	if err := p.pool.Purge(p.Resource); err != nil {
		t.Log("Failed to purge Postgres container:", err)
	}
}
