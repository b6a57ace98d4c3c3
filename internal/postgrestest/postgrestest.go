// Package postgrestest starts a disposable migrated PostgreSQL for tests.
package postgrestest

import (
	"context"
	"fmt"
	"time"

	"github.com/docker/go-connections/nat"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/k11v/forge/internal/postgresprovision"
)

// Setup starts a PostgreSQL container and applies migrations.
// The caller must call teardown even when Setup fails after starting the container.
func Setup(ctx context.Context) (connectionString string, teardown func() error, err error) {
	username := "postgres"
	password := "postgres"
	database := "postgres"

	req := testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image: "postgres:17-alpine",
			Env: map[string]string{
				"POSTGRES_USER":     username,
				"POSTGRES_PASSWORD": password,
				"POSTGRES_DB":       database,
			},
			ExposedPorts: []string{"5432/tcp"},
			WaitingFor: wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60 * time.Second),
		},
		Started: true,
	}

	c, err := testcontainers.GenericContainer(ctx, req)
	teardown = func() error {
		return testcontainers.TerminateContainer(c)
	}
	if err != nil {
		return "", teardown, err
	}

	endpoint, err := c.PortEndpoint(ctx, nat.Port("5432/tcp"), "")
	if err != nil {
		return "", teardown, err
	}
	connectionString = fmt.Sprintf("postgres://%s:%s@%s/%s?sslmode=disable", username, password, endpoint, database)

	if err = postgresprovision.Setup(connectionString); err != nil {
		return "", teardown, fmt.Errorf("postgrestest: %w", err)
	}

	return connectionString, teardown, nil
}
