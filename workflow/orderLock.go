package workflow

import (
	"context"
	"errors"
	"fmt"
	"time"

	"bitbucket.org/craftfocus/console_backend/config"
	"bitbucket.org/craftfocus/console_backend/utils"
	"github.com/bsm/redislock"
)

const postingLockTTL = 30 * time.Second

// RedisOrderLocker serializes stock posting per order tag across instances.
type RedisOrderLocker struct{}

func (RedisOrderLocker) WithOrderLock(ctx context.Context, orderTag string, fn func() error) error {
	locker := config.GetRedisLock()
	if locker == nil {
		return fmt.Errorf("posting lock service not ready")
	}

	lock, err := locker.Obtain(ctx, "posting:"+orderTag, postingLockTTL, &redislock.Options{
		RetryStrategy: redislock.LimitRetry(redislock.LinearBackoff(100*time.Millisecond), 50),
	})
	if err != nil {
		if errors.Is(err, redislock.ErrNotObtained) {
			return utils.ErrorLockNotObtained
		}
		return err
	}
	defer lock.Release(ctx)

	return fn()
}
