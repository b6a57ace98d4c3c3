package amqputil

import (
	"context"
	"errors"

	"github.com/rabbitmq/amqp091-go"
)

type QueueDeclareParams struct {
	Name       string
	Durable    bool
	AutoDelete bool
	Exclusive  bool
	NoWait     bool
	Args       amqp091.Table
}

type Client struct {
	connectionString   string
	queueDeclareParams *QueueDeclareParams
}

func NewClient(connectionString string, queueDeclareParams *QueueDeclareParams) *Client {
	return &Client{
		connectionString:   connectionString,
		queueDeclareParams: queueDeclareParams,
	}
}

// Publish proxies [amqp091.Channel.PublishWithContext] to the client's queue
// through the default exchange.
func (cli *Client) Publish(ctx context.Context, msg amqp091.Publishing) error {
	conn, err := amqp091.Dial(cli.connectionString)
	if err != nil {
		return err
	}
	defer func() {
		_ = conn.Close()
	}()

	ch, err := conn.Channel()
	if err != nil {
		return err
	}
	defer ch.Close()

	q, err := cli.queueDeclare(ch)
	if err != nil {
		return err
	}

	return ch.PublishWithContext(ctx, "", q.Name, false, false, msg)
}

// Consume delivers messages from the client's queue to handle one at a time
// until the connection closes or ctx is done. It always returns a non-nil error.
func (cli *Client) Consume(ctx context.Context, handle func(ctx context.Context, m *amqp091.Delivery)) error {
	conn, err := amqp091.Dial(cli.connectionString)
	if err != nil {
		return err
	}
	defer func() {
		_ = conn.Close()
	}()

	ch, err := conn.Channel()
	if err != nil {
		return err
	}
	defer ch.Close()

	q, err := cli.queueDeclare(ch)
	if err != nil {
		return err
	}

	if err = ch.Qos(1, 0, false); err != nil {
		return err
	}

	messages, err := ch.ConsumeWithContext(ctx, q.Name, "", false, false, false, false, nil)
	if err != nil {
		return err
	}

	for m := range messages {
		handle(ctx, &m)
	}

	if ctx.Err() != nil {
		return ctx.Err()
	}
	return errors.New("delivery channel is closed")
}

func (cli *Client) queueDeclare(ch *amqp091.Channel) (amqp091.Queue, error) {
	return ch.QueueDeclare(
		cli.queueDeclareParams.Name,
		cli.queueDeclareParams.Durable,
		cli.queueDeclareParams.AutoDelete,
		cli.queueDeclareParams.Exclusive,
		cli.queueDeclareParams.NoWait,
		cli.queueDeclareParams.Args,
	)
}
