// Package rediscache caches quizzes in Redis.
package rediscache

import (
	"context"
	"encoding/json"
	"strconv"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/pkg/errors"

	"github.com/trezcool/clubhub/core"
	"github.com/trezcool/clubhub/core/quiz"
)

const keyPrefix = "clubhub:quiz:"

// Open connects to Redis and pings it.
func Open(ctx context.Context, conf *core.Config) (*redis.Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:         conf.Redis.Addr,
		Password:     conf.Redis.Password,
		DB:           conf.Redis.DB,
		PoolSize:     50,
		MinIdleConns: 5,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, errors.Wrap(err, "pinging redis")
	}
	return rdb, nil
}

type quizCache struct {
	rdb *redis.Client
	ttl time.Duration
}

var _ quiz.Cache = (*quizCache)(nil) // interface compliance check

func NewQuizCache(rdb *redis.Client, ttl time.Duration) quiz.Cache {
	return &quizCache{rdb: rdb, ttl: ttl}
}

func quizKey(id int64) string {
	return keyPrefix + strconv.FormatInt(id, 10)
}

func (c *quizCache) GetQuiz(ctx context.Context, id int64) (quiz.Quiz, error) {
	data, err := c.rdb.Get(ctx, quizKey(id)).Bytes()
	if err != nil {
		if err == redis.Nil {
			return quiz.Quiz{}, quiz.ErrCacheMiss
		}
		return quiz.Quiz{}, errors.Wrap(err, "getting cached quiz")
	}
	var q quiz.Quiz
	if err = json.Unmarshal(data, &q); err != nil {
		_ = c.rdb.Del(ctx, quizKey(id)).Err()
		return quiz.Quiz{}, quiz.ErrCacheMiss
	}
	return q, nil
}

func (c *quizCache) SetQuiz(ctx context.Context, q quiz.Quiz) error {
	data, err := json.Marshal(q)
	if err != nil {
		return errors.Wrap(err, "encoding quiz")
	}
	return errors.Wrap(c.rdb.Set(ctx, quizKey(q.ID), data, c.ttl).Err(), "caching quiz")
}

func (c *quizCache) DeleteQuiz(ctx context.Context, id int64) error {
	return errors.Wrap(c.rdb.Del(ctx, quizKey(id)).Err(), "evicting cached quiz")
}
