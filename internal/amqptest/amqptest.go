// Package amqptest starts a disposable RabbitMQ for tests.
package amqptest

import (
	"context"
	"fmt"
	"time"

	"github.com/docker/go-connections/nat"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

// Setup starts a RabbitMQ container.
// The caller must call teardown even when Setup fails after starting the container.
func Setup(ctx context.Context) (connectionString string, teardown func() error, err error) {
	username := "guest"
	password := "guest"

	req := testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image: "rabbitmq:4.0-alpine",
			Env: map[string]string{
				"RABBITMQ_DEFAULT_USER": username,
				"RABBITMQ_DEFAULT_PASS": password,
			},
			ExposedPorts: []string{"5672/tcp"},
			WaitingFor:   wait.ForLog(".*Server startup complete.*").AsRegexp().WithStartupTimeout(60 * time.Second),
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

	endpoint, err := c.PortEndpoint(ctx, nat.Port("5672/tcp"), "")
	if err != nil {
		return "", teardown, err
	}
	return fmt.Sprintf("amqp://%s:%s@%s/", username, password, endpoint), teardown, nil
}
