package live

import (
	"context"
	"encoding/json"
	"log"
	"time"

	"portfoliochat/internal/redis"
)

const changeChannelPrefix = "chat:changed:"

type changeMessage struct {
	SessionID string    `json:"session_id"`
	At        time.Time `json:"at"`
}

// RedisFeed pushes change notices over redis pub/sub, one channel per conversation,
// so every process serving the same store sees appends from the others.
type RedisFeed struct {
	client *redis.Client
}

func NewRedisFeed(client *redis.Client) *RedisFeed {
	return &RedisFeed{client: client}
}

func changeChannel(sessionID string) string {
	return changeChannelPrefix + sessionID
}

// Publish broadcasts a change notice for sessionID.
func (r *RedisFeed) Publish(ctx context.Context, sessionID string) error {
	payload, err := json.Marshal(changeMessage{SessionID: sessionID, At: time.Now().UTC()})
	if err != nil {
		return err
	}
	return r.client.Publish(ctx, changeChannel(sessionID), payload)
}

// Subscribe listens on the conversation's channel. If the subscription cannot be
// opened the returned channel is closed immediately.
func (r *RedisFeed) Subscribe(ctx context.Context, sessionID string) (<-chan Notice, func()) {
	ctx, cancel := context.WithCancel(ctx)
	out := make(chan Notice, 1)

	pubsub, err := r.client.Subscribe(ctx, changeChannel(sessionID))
	if err != nil {
		log.Printf("live: redis subscribe %s failed: %v", sessionID, err)
		close(out)
		return out, cancel
	}
	go func() {
		defer close(out)
		defer pubsub.Close()
		ch := pubsub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				var cm changeMessage
				if err := json.Unmarshal([]byte(msg.Payload), &cm); err != nil {
					log.Printf("live: decode change notice failed: %v", err)
					continue
				}
				offer(out, Notice{SessionID: cm.SessionID, At: cm.At})
			}
		}
	}()
	return out, cancel
}
