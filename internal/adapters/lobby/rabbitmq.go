package lobby

import (
	"fmt"

	"github.com/streadway/amqp"
)

// RabbitMQQueue publishes lobby messages to one AMQP queue.
type RabbitMQQueue struct {
	name    string
	conn    *amqp.Connection
	channel *amqp.Channel
}

func NewRabbitMQQueue(uri, name string) (*RabbitMQQueue, error) {
	conn, err := amqp.Dial(uri)
	if err != nil {
		return nil, fmt.Errorf("amqp dial: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("amqp channel: %w", err)
	}
	if _, err := ch.QueueDeclare(
		name,
		false, // durable
		false, // delete when unused
		false, // exclusive
		false, // no-wait
		nil,   // args
	); err != nil {
		conn.Close()
		return nil, fmt.Errorf("amqp queue declare: %w", err)
	}
	return &RabbitMQQueue{name: name, conn: conn, channel: ch}, nil
}

func (q *RabbitMQQueue) Write(msg []byte) error {
	return q.channel.Publish(
		"",     // exchange
		q.name, // routing key
		false,  // mandatory
		false,  // immediate
		amqp.Publishing{
			ContentType: "application/json",
			Body:        msg,
		},
	)
}

func (q *RabbitMQQueue) Close() {
	q.conn.Close()
}
