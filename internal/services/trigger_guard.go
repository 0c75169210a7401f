package services

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

// RedisTriggerGuard implements TriggerGuard with a SETNX reservation whose
// TTL is sized to the expected pipeline latency. A client that double-submits
// a "module completed" event within the window gets exactly one workflow.
type RedisTriggerGuard struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisTriggerGuard creates a new RedisTriggerGuard.
func NewRedisTriggerGuard(client *redis.Client, ttl time.Duration) *RedisTriggerGuard {
	if ttl <= 0 {
		ttl = 2 * time.Minute
	}
	return &RedisTriggerGuard{client: client, ttl: ttl}
}

// Reserve claims the learning context for the dedup window.
func (g *RedisTriggerGuard) Reserve(ctx context.Context, userID, domainID, subdomainID, moduleID string) (bool, error) {
	key := fmt.Sprintf("personalize:inflight:%s:%s:%s:%s", userID, domainID, subdomainID, moduleID)
	return g.client.SetNX(ctx, key, time.Now().UTC().Format(time.RFC3339), g.ttl).Result()
}
