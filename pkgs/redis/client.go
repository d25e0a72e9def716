package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"

	"github.com/Valgeir99/distributed-optimization-solver/config"
)

// RedisClient is the shared client used for timelines and event publishing
var RedisClient *redis.Client

// NewRedisClient creates a redis client from settings and verifies the
// connection. Returns nil when redis is not reachable; callers degrade to
// running without timelines rather than failing startup.
func NewRedisClient() *redis.Client {
	settings := config.SettingsObj

	client := redis.NewClient(&redis.Options{
		Addr:         settings.RedisAddr(),
		Password:     settings.RedisPassword,
		DB:           settings.RedisDB,
		PoolSize:     10,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		log.Warnf("Unable to connect to redis at %s: %v (continuing without redis)", settings.RedisAddr(), err)
		return nil
	}

	log.Infof("Connected to redis at %s", settings.RedisAddr())
	RedisClient = client
	return client
}

// AddToTimeline records an entry in a sorted-set timeline scored by time
func AddToTimeline(ctx context.Context, client *redis.Client, key, member string, at time.Time) error {
	if client == nil {
		return nil
	}
	err := client.ZAdd(ctx, key, redis.Z{
		Score:  float64(at.UnixMilli()),
		Member: member,
	}).Err()
	if err != nil {
		return fmt.Errorf("adding to timeline %s: %w", key, err)
	}
	return nil
}

// TimelineRange returns timeline members between two points in time
func TimelineRange(ctx context.Context, client *redis.Client, key string, from, to time.Time) ([]string, error) {
	if client == nil {
		return nil, nil
	}
	return client.ZRangeByScore(ctx, key, &redis.ZRangeBy{
		Min: fmt.Sprintf("%d", from.UnixMilli()),
		Max: fmt.Sprintf("%d", to.UnixMilli()),
	}).Result()
}
