// Package s3test starts a disposable MinIO with the forge bucket for tests.
package s3test

import (
	"context"
	"fmt"

	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/k11v/forge/internal/s3util"
)

// Setup starts a MinIO container and creates the bucket.
// The caller must call teardown even when Setup fails after starting the container.
func Setup(ctx context.Context) (connectionString string, teardown func() error, err error) {
	username := "minioadmin"
	password := "minioadmin"

	req := testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "quay.io/minio/minio:latest",
			ExposedPorts: []string{"9000/tcp"},
			WaitingFor:   wait.ForHTTP("/minio/health/live").WithPort("9000"),
			Env: map[string]string{
				"MINIO_ROOT_USER":     username,
				"MINIO_ROOT_PASSWORD": password,
			},
			Cmd: []string{"server", "/data"},
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

	host, err := c.Host(ctx)
	if err != nil {
		return "", teardown, err
	}
	port, err := c.MappedPort(ctx, "9000/tcp")
	if err != nil {
		return "", teardown, err
	}
	connectionString = fmt.Sprintf("http://%s:%s@%s:%s", username, password, host, port.Port())

	if err = s3util.Setup(ctx, s3util.NewClient(connectionString)); err != nil {
		return "", teardown, fmt.Errorf("s3test: %w", err)
	}

	return connectionString, teardown, nil
}
