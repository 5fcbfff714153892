package feed

import (
	"context"
	"time"

	"github.com/bytedance/sonic"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"board-sync/domain"
)

// ChannelName is the pub/sub channel carrying a project's changes.
func ChannelName(prefix, projectID string) string {
	return prefix + ":" + projectID
}

// Publisher writes change events to the realtime feed.
type Publisher struct {
	redis  *redis.Client
	prefix string
	origin string
	now    func() time.Time
}

// NewPublisher creates a Publisher. origin identifies this instance in the
// events it publishes.
func NewPublisher(client *redis.Client, prefix, origin string) *Publisher {
	return &Publisher{redis: client, prefix: prefix, origin: origin, now: time.Now}
}

// Origin returns the instance id stamped on published events.
func (p *Publisher) Origin() string { return p.origin }

// Publish sends ev to the channel of its project, filling in id, origin and
// time when missing.
func (p *Publisher) Publish(ctx context.Context, ev domain.ChangeEvent) error {
	if ev.ID == "" {
		ev.ID = uuid.NewString()
	}
	if ev.Origin == "" {
		ev.Origin = p.origin
	}
	if ev.Time == 0 {
		ev.Time = p.now().UnixMilli()
	}
	data, err := sonic.Marshal(ev)
	if err != nil {
		return err
	}
	return p.redis.Publish(ctx, ChannelName(p.prefix, ev.ProjectID), data).Err()
}
