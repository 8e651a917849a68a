package jobs

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Lock is a best-effort redis lease so a cron job runs on one worker
// even when several are deployed. Losing the lease only means a sweep
// runs twice, which the conditional updates underneath tolerate.
type Lock struct {
	client *redis.Client
	owner  string
}

func NewLock(client *redis.Client) *Lock {
	return &Lock{client: client, owner: uuid.NewString()}
}

// Acquire takes the named lease for ttl. Returns false when another
// worker holds it.
func (l *Lock) Acquire(ctx context.Context, name string, ttl time.Duration) (bool, error) {
	ok, err := l.client.SetNX(ctx, lockKey(name), l.owner, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("jobs: acquire lock %s: %w", name, err)
	}
	return ok, nil
}

// Release drops the lease if this worker still owns it.
func (l *Lock) Release(ctx context.Context, name string) error {
	const script = `
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0`
	if err := l.client.Eval(ctx, script, []string{lockKey(name)}, l.owner).Err(); err != nil && err != redis.Nil {
		return fmt.Errorf("jobs: release lock %s: %w", name, err)
	}
	return nil
}

func lockKey(name string) string {
	return "toolgate:job:" + name + ":lock"
}
