package redis

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"

	"github.com/redis/go-redis/v9"

	"github.com/mcoot/logingate/internal/model"
	"github.com/mcoot/logingate/internal/storage"
)

// eventBufferSize bounds undelivered events per subscription
const eventBufferSize = 256

// Event bus operations

func (s *Storage) PublishSessionEvent(ctx context.Context, event model.SessionEvent) error {
	data, err := json.Marshal(event)
	if err != nil {
		return err
	}
	return storeErr("publish session event", event.Principal, s.client.Publish(ctx, s.eventChannel(), data).Err())
}

func (s *Storage) SubscribeSessionEvents(ctx context.Context) (storage.Subscription, error) {
	pubsub := s.client.Subscribe(ctx, s.eventChannel())

	// Wait for the subscription to be confirmed so no event published after
	// this call returns is missed
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, storeErr("subscribe session events", "", err)
	}

	sub := &subscription{
		pubsub: pubsub,
		events: make(chan model.SessionEvent, eventBufferSize),
		done:   make(chan struct{}),
		logger: s.logger,
	}
	go sub.run(ctx)
	return sub, nil
}

// subscription adapts a go-redis PubSub to storage.Subscription
type subscription struct {
	pubsub    *redis.PubSub
	events    chan model.SessionEvent
	done      chan struct{}
	closeOnce sync.Once
	logger    *slog.Logger
}

func (sub *subscription) Events() <-chan model.SessionEvent {
	return sub.events
}

func (sub *subscription) Close() error {
	var err error
	sub.closeOnce.Do(func() {
		close(sub.done)
		err = sub.pubsub.Close()
	})
	return err
}

func (sub *subscription) run(ctx context.Context) {
	defer close(sub.events)

	msgs := sub.pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			_ = sub.Close()
			return
		case <-sub.done:
			return
		case msg, ok := <-msgs:
			if !ok {
				return
			}
			var event model.SessionEvent
			if err := json.Unmarshal([]byte(msg.Payload), &event); err != nil {
				sub.logger.Warn("dropping malformed session event", slog.Any("error", err))
				continue
			}
			select {
			case sub.events <- event:
			case <-sub.done:
				return
			case <-ctx.Done():
				_ = sub.Close()
				return
			}
		}
	}
}
