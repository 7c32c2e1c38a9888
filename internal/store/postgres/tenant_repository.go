package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/bankrail/bankrail/internal/tenant"
	"github.com/jackc/pgx/v5"
)

// The portal serves one public host, so a single snapshot row suffices.
const tenantSnapshotKey = "tenant_context"

// TenantRepository implements tenant.SnapshotRepository on PostgreSQL.
type TenantRepository struct {
	db *DB
}

// NewTenantRepository creates a new tenant snapshot repository
func NewTenantRepository(db *DB) *TenantRepository {
	return &TenantRepository{db: db}
}

// Save upserts the tenant snapshot.
func (r *TenantRepository) Save(ctx context.Context, snap tenant.Snapshot) error {
	payload, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("failed to encode tenant snapshot: %w", err)
	}

	_, err = r.db.pool.Exec(ctx, `
		INSERT INTO tenant_snapshots (key, payload, updated_at)
		VALUES ($1, $2, now())
		ON CONFLICT (key) DO UPDATE
		SET payload = EXCLUDED.payload, updated_at = now()
	`, tenantSnapshotKey, payload)
	if err != nil {
		return fmt.Errorf("failed to save tenant snapshot: %w", err)
	}

	return nil
}

// Load retrieves the tenant snapshot.
func (r *TenantRepository) Load(ctx context.Context) (*tenant.Snapshot, error) {
	var payload []byte

	err := r.db.pool.QueryRow(ctx, `
		SELECT payload FROM tenant_snapshots WHERE key = $1
	`, tenantSnapshotKey).Scan(&payload)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
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
