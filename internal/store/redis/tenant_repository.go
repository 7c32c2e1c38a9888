package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/bankrail/bankrail/internal/tenant"
	"github.com/redis/go-redis/v9"
)

const tenantSnapshotKey = "bankrail:tenant_context"

// TenantRepository implements tenant.SnapshotRepository on Redis.
type TenantRepository struct {
	client *redis.Client
}

// NewTenantRepository creates a new tenant snapshot repository
func NewTenantRepository(client *redis.Client) *TenantRepository {
	return &TenantRepository{client: client}
}

// Save stores the tenant snapshot. The snapshot has no TTL: it is only
// replaced, never expired.
func (r *TenantRepository) Save(ctx context.Context, snap tenant.Snapshot) error {
	payload, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("failed to encode tenant snapshot: %w", err)
	}
	if err := r.client.Set(ctx, tenantSnapshotKey, payload, 0).Err(); err != nil {
		return fmt.Errorf("failed to save tenant snapshot: %w", err)
	}
	return nil
}

// Load retrieves the tenant snapshot.
func (r *TenantRepository) Load(ctx context.Context) (*tenant.Snapshot, error) {
	payload, err := r.client.Get(ctx, tenantSnapshotKey).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, tenant.ErrSnapshotNotFound
		}
		return nil, fmt.Errorf("failed to load tenant snapshot: %w", err)
	}

	var snap tenant.Snapshot
	if err := json.Unmarshal(payload, &snap); err != nil {
		return nil, fmt.Errorf("failed to decode tenant snapshot: %w", err)
	}
	return &snap, nil
}
