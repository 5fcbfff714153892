package feed

import (
	"context"
	"errors"
	"net"
	"sync"
	"time"

	"github.com/bytedance/sonic"
	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"

	"board-sync/domain"
	"board-sync/subscription"
)

// RedisTransport opens change feed subscriptions on Redis pub/sub.
type RedisTransport struct {
	redis   *redis.Client
	prefix  string
	timeout time.Duration
	// pingEvery is how long a quiet subscription waits before checking the
	// connection with a PING.
	pingEvery time.Duration
	logger    *log.Logger
}

// NewRedisTransport creates a transport. timeout bounds the wait for the
// subscription confirmation.
func NewRedisTransport(client *redis.Client, prefix string, timeout time.Duration, logger *log.Logger) *RedisTransport {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if logger == nil {
		logger = log.StandardLogger()
	}
	return &RedisTransport{redis: client, prefix: prefix, timeout: timeout, pingEvery: 30 * time.Second, logger: logger}
}

// Open subscribes to the project channel of scope, or to every project
// channel for subscription.AllScope. It returns immediately; the outcome is
// reported through onStatus.
func (t *RedisTransport) Open(scope subscription.Scope, onEvent func(domain.ChangeEvent), onStatus func(subscription.Status, error)) (subscription.Handle, error) {
	if scope == "" {
		return nil, errors.New("empty subscription scope")
	}
	ctx, cancel := context.WithCancel(context.Background())
	var ps *redis.PubSub
	if scope == subscription.AllScope {
		ps = t.redis.PSubscribe(ctx, ChannelName(t.prefix, "*"))
	} else {
		ps = t.redis.Subscribe(ctx, ChannelName(t.prefix, string(scope)))
	}
	h := &redisHandle{ps: ps, cancel: cancel}
	go t.run(ctx, ps, scope, onEvent, onStatus)
	return h, nil
}

func (t *RedisTransport) run(ctx context.Context, ps *redis.PubSub, scope subscription.Scope, onEvent func(domain.ChangeEvent), onStatus func(subscription.Status, error)) {
	confirmCtx, cancel := context.WithTimeout(ctx, t.timeout)
	_, err := ps.Receive(confirmCtx)
	cancel()
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		if isTimeout(err) {
			onStatus(subscription.StatusTimedOut, err)
		} else {
			onStatus(subscription.StatusError, err)
		}
		return
	}
	onStatus(subscription.StatusSubscribed, nil)

	// Channel() reconnects silently; a lost connection must end the subscription.
	for {
		msg, err := ps.ReceiveTimeout(ctx, t.pingEvery)
		if ctx.Err() != nil {
			return
		}
		if err != nil {
			if isTimeout(err) {
				if err = ps.Ping(ctx); err == nil {
					continue
				}
				if ctx.Err() != nil {
					return
				}
			}
			t.logger.WithError(err).WithField("scope", scope).Warn("change feed connection lost")
			if errors.Is(err, redis.ErrClosed) {
				onStatus(subscription.StatusClosed, err)
			} else {
				onStatus(subscription.StatusError, err)
			}
			return
		}
		m, ok := msg.(*redis.Message)
		if !ok {
			continue
		}
		var ev domain.ChangeEvent
		if err := sonic.UnmarshalString(m.Payload, &ev); err != nil {
			t.logger.WithError(err).WithFields(log.Fields{"scope": scope, "channel": m.Channel}).Error("unable to parse change event")
			continue
		}
		onEvent(ev)
	}
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

type redisHandle struct {
	ps     *redis.PubSub
	cancel context.CancelFunc
	once   sync.Once
	err    error
}

// Close ends the subscription. It does not wait for the receive loop, so it
// is safe to call from an event callback.
func (h *redisHandle) Close() error {
	h.once.Do(func() {
		h.cancel()
		h.err = h.ps.Close()
	})
	return h.err
}
