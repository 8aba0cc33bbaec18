package rabbitmq

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/streadway/amqp"

	"github.com/magabrotheeeer/numerology-bot/internal/lib/sl"
)

// ErrDropMessage помечает сообщение, которое бессмысленно обрабатывать повторно:
// оно удаляется из очереди вместо возврата.
var ErrDropMessage = errors.New("drop message")

const prefetch = 10

// Handler обрабатывает тело сообщения.
type Handler func(ctx context.Context, body []byte) error

// ConsumerMessage читает очередь queueName до отмены ctx. Одновременно
// обрабатывается не больше prefetch сообщений.
func ConsumerMessage(ctx context.Context, ch *amqp.Channel, queueName string, handler Handler, log *slog.Logger) error {
	const op = "rabbitmq.ConsumerMessage"
	deliveries, err := ch.Consume(
		queueName,
		"",
		false,
		false,
		false,
		false,
		nil,
	)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	log.Info("consuming queue", slog.String("queue", queueName))
	consume(ctx, deliveries, handler, log)
	return nil
}

// consume возвращается после отмены ctx или закрытия канала доставки,
// дождавшись уже начатых обработчиков.
func consume(ctx context.Context, deliveries <-chan amqp.Delivery, handler Handler, log *slog.Logger) {
	var wg sync.WaitGroup
	defer wg.Wait()

	sem := make(chan struct{}, prefetch)
	for {
		select {
		case <-ctx.Done():
			return
		case d, ok := <-deliveries:
			if !ok {
				return
			}
			sem <- struct{}{}
			wg.Add(1)
			go func(d amqp.Delivery) {
				defer wg.Done()
				defer func() { <-sem }()
				settle(ctx, d, handler, log)
			}(d)
		}
	}
}

func settle(ctx context.Context, d amqp.Delivery, handler Handler, log *slog.Logger) {
	err := handler(ctx, d.Body)
	switch {
	case err == nil:
		if ackErr := d.Ack(false); ackErr != nil {
			log.Error("failed to ack message", sl.Err(ackErr))
		}
	case errors.Is(err, ErrDropMessage):
		log.Warn("message dropped", sl.Err(err))
		if nackErr := d.Nack(false, false); nackErr != nil {
			log.Error("failed to nack message", sl.Err(nackErr))
		}
	default:
		log.Error("message handling failed, requeue", sl.Err(err))
		if nackErr := d.Nack(false, true); nackErr != nil {
			log.Error("failed to nack message", sl.Err(nackErr))
		}
	}
}
