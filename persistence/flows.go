package persistence

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"flowline.dev/flow"
)

// FlowRepository persists FlowDefinitions and doubles as the flow.Store's
// DefinitionLoader, so a `flows load` admin command and the running
// engine read from the same table.
type FlowRepository struct {
	pool *pgxpool.Pool
}

func NewFlowRepository(pool *pgxpool.Pool) *FlowRepository {
	return &FlowRepository{pool: pool}
}

// LoadAll implements flow.DefinitionLoader.
func (r *FlowRepository) LoadAll(ctx context.Context) ([]flow.FlowDefinition, error) {
	rows, err := r.pool.Query(ctx, `SELECT definition FROM flows`)
	if err != nil {
		return nil, fmt.Errorf("load flows: %w", err)
	}
	defer rows.Close()

	var defs []flow.FlowDefinition
	for rows.Next() {
		var raw []byte
		if err := rows.Scan(&raw); err != nil {
			return nil, fmt.Errorf("scan flow row: %w", err)
		}
		var def flow.FlowDefinition
		if err := json.Unmarshal(raw, &def); err != nil {
			return nil, fmt.Errorf("decode flow definition: %w", err)
		}
		defs = append(defs, def)
	}
	return defs, rows.Err()
}

// Save upserts a single flow definition, keyed by its ID, and appends an
// immutable flow_versions row so a prior revision can still be read back
// after a flow author overwrites it with `flows load`.
func (r *FlowRepository) Save(ctx context.Context, def flow.FlowDefinition) error {
	raw, err := json.Marshal(def)
	if err != nil {
		return fmt.Errorf("marshal flow definition: %w", err)
	}
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("save flow %s: %w", def.ID, err)
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx, `
		INSERT INTO flows (id, module, trigger, version, enabled, definition, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, now())
		ON CONFLICT (id) DO UPDATE SET
			module = EXCLUDED.module,
			trigger = EXCLUDED.trigger,
			version = EXCLUDED.version,
			enabled = EXCLUDED.enabled,
			definition = EXCLUDED.definition,
			updated_at = now()
	`, def.ID, def.Module, def.Trigger, def.Version, def.Enabled, raw)
	if err != nil {
		return fmt.Errorf("save flow %s: %w", def.ID, err)
	}
	_, err = tx.Exec(ctx, `
		INSERT INTO flow_versions (flow_id, version, definition) VALUES ($1, $2, $3)
	`, def.ID, def.Version, raw)
	if err != nil {
		return fmt.Errorf("record flow version %s v%d: %w", def.ID, def.Version, err)
	}
	return tx.Commit(ctx)
}

// FlowVersion is one row of a flow's audit trail.
type FlowVersion struct {
	Version    int
	Definition flow.FlowDefinition
	SavedAt    time.Time
}

// History returns every saved revision of a flow, most recent first
// (spec §C "flow_versions audit trail").
func (r *FlowRepository) History(ctx context.Context, flowID string) ([]FlowVersion, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT version, definition, saved_at FROM flow_versions WHERE flow_id = $1 ORDER BY version DESC, id DESC
	`, flowID)
	if err != nil {
		return nil, fmt.Errorf("load flow history %s: %w", flowID, err)
	}
	defer rows.Close()

	var out []FlowVersion
	for rows.Next() {
		var v FlowVersion
		var raw []byte
		if err := rows.Scan(&v.Version, &raw, &v.SavedAt); err != nil {
			return nil, fmt.Errorf("scan flow version %s: %w", flowID, err)
		}
		if err := json.Unmarshal(raw, &v.Definition); err != nil {
			return nil, fmt.Errorf("decode flow version %s: %w", flowID, err)
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

// SetEnabled toggles a flow's enabled flag without re-uploading the whole
// definition (the `flows toggle` admin command).
func (r *FlowRepository) SetEnabled(ctx context.Context, id string, enabled bool) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE flows SET enabled = $2, updated_at = now(),
			definition = jsonb_set(definition, '{enabled}', to_jsonb($2::boolean))
		WHERE id = $1
	`, id, enabled)
	if err != nil {
		return fmt.Errorf("toggle flow %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("toggle flow %s: %w", id, pgx.ErrNoRows)
	}
	return nil
}
