package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// ErrAlreadyRunning is returned when a pipeline run is already claimed for a
// project and its lease has not expired.
var ErrAlreadyRunning = errors.New("pipeline already running for project")

// Lease is the per-project run-exclusivity claim. It is persisted with a TTL
// so a crashed worker never permanently wedges a project: after expiry the
// claim can simply be re-acquired.
type Lease interface {
	Acquire(ctx context.Context, projectID string, ttl time.Duration) (token string, err error)
	Extend(ctx context.Context, projectID, token string, ttl time.Duration) error
	Release(ctx context.Context, projectID, token string) error
}

// releaseScript deletes the lease only if the caller still owns it.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// extendScript refreshes the TTL only if the caller still owns the lease.
var extendScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0
`)

type redisLease struct {
	client *redis.Client
}

func NewRedisLease(addr, password string) Lease {
	return &redisLease{
		client: redis.NewClient(&redis.Options{
			Addr:     addr,
			Password: password,
		}),
	}
}

func leaseKey(projectID string) string {
	return "pipeline_lease:" + projectID
}

func (l *redisLease) Acquire(ctx context.Context, projectID string, ttl time.Duration) (string, error) {
	token := uuid.NewString()
	ok, err := l.client.SetNX(ctx, leaseKey(projectID), token, ttl).Result()
	if err != nil {
		return "", fmt.Errorf("acquire lease failed: %w", err)
	}
	if !ok {
		return "", ErrAlreadyRunning
	}
	return token, nil
}

func (l *redisLease) Extend(ctx context.Context, projectID, token string, ttl time.Duration) error {
	res, err := extendScript.Run(ctx, l.client, []string{leaseKey(projectID)}, token, ttl.Milliseconds()).Int()
	if err != nil {
		return fmt.Errorf("extend lease failed: %w", err)
	}
	if res == 0 {
		return fmt.Errorf("lease for project %s no longer held", projectID)
	}
	return nil
}

func (l *redisLease) Release(ctx context.Context, projectID, token string) error {
	_, err := releaseScript.Run(ctx, l.client, []string{leaseKey(projectID)}, token).Int()
	if err != nil {
		return fmt.Errorf("release lease failed: %w", err)
	}
	return nil
}
