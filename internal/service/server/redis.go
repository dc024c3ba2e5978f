package server

import (
	"context"
	"encoding/json"
	"fmt"

	"e2e_messenger/internal/model"
)

func offlineQueueKey(to string) string {
	return fmt.Sprintf("offline: %s", to)
}

// popMessageFromCache takes the oldest queued envelope for a user. The queue
// is drained one message at a time so anything enqueued mid-drain is picked
// up by the same loop instead of being deleted unseen.
func (s *HttpServer) popMessageFromCache(ctx context.Context, to string) (*model.Message, bool, error) {
	val, ok, err := s.queue.LPop(ctx, offlineQueueKey(to))
	if err != nil || !ok {
		return nil, false, err
	}

	var m model.Message
	if err := json.Unmarshal([]byte(val), &m); err != nil {
		return nil, false, err
	}
	return &m, true, nil
}

// requeueMessage puts an undelivered message back at the head of the queue so
// delivery order is preserved for the next connect.
func (s *HttpServer) requeueMessage(ctx context.Context, to string, m *model.Message) error {
	data, err := json.Marshal(m)
	if err != nil {
		return err
	}
	return s.queue.LPush(ctx, offlineQueueKey(to), data)
}

// PutMessagesToCache queues envelopes for an offline recipient.
func (s *HttpServer) PutMessagesToCache(ctx context.Context, to string, messages []*model.Message) error {
	var vals []interface{}
	for _, m := range messages {
		data, err := json.Marshal(m)
		if err != nil {
			return err
		}
		vals = append(vals, data)
	}
	return s.queue.RPush(ctx, offlineQueueKey(to), vals...)
}
