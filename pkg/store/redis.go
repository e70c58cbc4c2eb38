package store

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/LingByte/LingMeet/pkg/constants"
	"github.com/LingByte/LingMeet/pkg/logger"
	"github.com/LingByte/LingMeet/pkg/models"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// RedisNotifier publishes inserted signals on one pub/sub channel per room,
// so clients in different processes see each other's inserts.
type RedisNotifier struct {
	client *redis.Client
	prefix string
	log    *zap.Logger
}

// ConnectRedis dials and pings the server.
func ConnectRedis(ctx context.Context, addr, password string, db int) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}
	return client, nil
}

func NewRedisNotifier(client *redis.Client, prefix string) *RedisNotifier {
	if prefix == "" {
		prefix = constants.DefaultRedisPrefix
	}
	return &RedisNotifier{client: client, prefix: prefix, log: logger.Named("redis-notifier")}
}

func (n *RedisNotifier) channel(roomID string) string {
	return n.prefix + roomID
}

func (n *RedisNotifier) Publish(ctx context.Context, sig models.Signal) error {
	data, err := json.Marshal(sig)
	if err != nil {
		return err
	}
	return n.client.Publish(ctx, n.channel(sig.RoomID), data).Err()
}

func (n *RedisNotifier) Subscribe(ctx context.Context, roomID string) (Subscription, error) {
	ps := n.client.Subscribe(ctx, n.channel(roomID))
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, err
	}
	sub := &redisSub{
		ps:   ps,
		out:  make(chan models.Signal, constants.NotifierBufferSize),
		done: make(chan struct{}),
	}
	go sub.pump(n.log.With(zap.String("room", roomID)))
	return sub, nil
}

func (n *RedisNotifier) Close() error {
	return n.client.Close()
}

type redisSub struct {
	ps   *redis.PubSub
	out  chan models.Signal
	done chan struct{}
	once sync.Once
}

func (s *redisSub) pump(log *zap.Logger) {
	defer close(s.out)
	for msg := range s.ps.Channel() {
		var sig models.Signal
		if err := json.Unmarshal([]byte(msg.Payload), &sig); err != nil {
			log.Warn("dropping undecodable notification", zap.Error(err))
			continue
		}
		select {
		case s.out <- sig:
		case <-s.done:
			return
		default:
			log.Debug("subscriber buffer full, notification dropped", zap.String("signal_id", sig.ID))
		}
	}
}

func (s *redisSub) Signals() <-chan models.Signal { return s.out }

func (s *redisSub) Close() error {
	var err error
	s.once.Do(func() {
		close(s.done)
		err = s.ps.Close()
	})
	return err
}
