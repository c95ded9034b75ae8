// Package connections tracks live client connections and delivers messages to them.
package connections

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// DefaultConnectionTTL expires connections whose socket vanished without a clean close
const DefaultConnectionTTL = 2 * time.Hour

const connectionKeyPrefix = "text3d:connection:"

// Registry records which connection ids are live
type Registry struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewRegistry creates a registry on rdb
func NewRegistry(rdb *redis.Client, ttl time.Duration) *Registry {
	if ttl <= 0 {
		ttl = DefaultConnectionTTL
	}
	return &Registry{rdb: rdb, ttl: ttl}
}

func connectionKey(connID string) string {
	return connectionKeyPrefix + connID
}

// Register stores a new connection
func (r *Registry) Register(ctx context.Context, connID, remoteAddr string) error {
	key := connectionKey(connID)
	_, err := r.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, key,
			"remote_addr", remoteAddr,
			"connected_at", time.Now().UTC().Format(time.RFC3339),
		)
		pipe.Expire(ctx, key, r.ttl)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to register connection %s: %w", connID, err)
	}
	return nil
}

// Touch refreshes the connection TTL
func (r *Registry) Touch(ctx context.Context, connID string) error {
	if err := r.rdb.Expire(ctx, connectionKey(connID), r.ttl).Err(); err != nil {
		return fmt.Errorf("failed to refresh connection %s: %w", connID, err)
	}
	return nil
}

// Remove deletes a connection
func (r *Registry) Remove(ctx context.Context, connID string) error {
	if err := r.rdb.Del(ctx, connectionKey(connID)).Err(); err != nil {
		return fmt.Errorf("failed to remove connection %s: %w", connID, err)
	}
	return nil
}

// Exists reports whether connID is registered
func (r *Registry) Exists(ctx context.Context, connID string) (bool, error) {
	n, err := r.rdb.Exists(ctx, connectionKey(connID)).Result()
	if err != nil {
		return false, fmt.Errorf("failed to look up connection %s: %w", connID, err)
	}
	return n > 0, nil
}
