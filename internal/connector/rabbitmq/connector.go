// Package rabbitmq consumes records from a queue and publishes them to an
// exchange (or straight to a queue) with publisher confirms.
package rabbitmq

import (
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/cuongceg/fluxmux/internal/core"
)

func init() {
	core.RegisterSource(core.SchemeAMQP, NewSource)
	core.RegisterSink(core.SchemeAMQP, NewSink)
}

// dial opens a connection and one channel on it.
func dial(url string) (*amqp.Connection, *amqp.Channel, error) {
	conn, err := amqp.DialConfig(url, amqp.Config{Properties: amqp.Table{"connection_name": "fluxmux"}})
	if err != nil {
		return nil, nil, fmt.Errorf("rabbitmq dial: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, nil, fmt.Errorf("create channel: %w", err)
	}
	return conn, ch, nil
}

func closeAll(ch *amqp.Channel, conn *amqp.Connection) error {
	var firstErr error
	if ch != nil {
		if err := ch.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if conn != nil {
		if err := conn.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
