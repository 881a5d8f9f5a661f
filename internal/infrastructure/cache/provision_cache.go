package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"taskledger/internal/model"

	"github.com/go-redis/redis/v8"
)

// ProvisionCache 池任务派发缓存
// 池任务的佣金在派发时就已固定，但任务行要到结算才落库，
// 中间态放在 Redis 里，按用户一个 key，带 TTL。
// 结算时从这里取回金额，防止客户端自带金额结算。
type ProvisionCache struct {
	client *redis.Client
}

func NewProvisionCache(client *redis.Client) *ProvisionCache {
	return &ProvisionCache{client: client}
}

func provisionKey(userID int64) string {
	return fmt.Sprintf("reconcile:provision:user:%d", userID)
}

func (c *ProvisionCache) Put(ctx context.Context, userID int64, task *model.ProvisionedTask, ttl time.Duration) error {
	data, err := json.Marshal(task)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, provisionKey(userID), data, ttl).Err()
}

// Get 返回 (nil, nil) 表示没有在途的派发
func (c *ProvisionCache) Get(ctx context.Context, userID int64) (*model.ProvisionedTask, error) {
	data, err := c.client.Get(ctx, provisionKey(userID)).Bytes()
	if err != nil {
		if err == redis.Nil {
			return nil, nil
		}
		return nil, err
	}
	var task model.ProvisionedTask
	if err := json.Unmarshal(data, &task); err != nil {
		return nil, err
	}
	return &task, nil
}

func (c *ProvisionCache) Delete(ctx context.Context, userID int64) error {
	return c.client.Del(ctx, provisionKey(userID)).Err()
}
