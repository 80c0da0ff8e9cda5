package persistence

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"flowline.dev/executor"
)

// runsNotifyChannel is the Postgres NOTIFY channel other nodes LISTEN on
// to learn a run changed state without polling — grounded on the
// teacher's state_store.go notifyChannel field, wired up here since the
// teacher declared but never used it.
const runsNotifyChannel = "flow_run_changed"

// RunRepository persists executor.FlowContext snapshots so a run can
// resume on any node after a restart (spec §5 "node loss" recovery,
// short of in-flight timers).
type RunRepository struct {
	pool *pgxpool.Pool
}

func NewRunRepository(pool *pgxpool.Pool) *RunRepository {
	return &RunRepository{pool: pool}
}

// Save upserts a run snapshot and notifies listeners of the change.
func (r *RunRepository) Save(ctx context.Context, flowID string, fctx *executor.FlowContext) error {
	raw, err := json.Marshal(fctx)
	if err != nil {
		return fmt.Errorf("marshal run %s: %w", fctx.RunID, err)
	}
	_, err = r.pool.Exec(ctx, `
		INSERT INTO flow_runs (run_id, flow_id, session_id, status, context, started_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (run_id) DO UPDATE SET
			status = EXCLUDED.status,
			context = EXCLUDED.context,
			updated_at = EXCLUDED.updated_at
	`, fctx.RunID, flowID, fctx.SessionID, string(fctx.Status), raw, fctx.StartedAt, fctx.UpdatedAt)
	if err != nil {
		return fmt.Errorf("save run %s: %w", fctx.RunID, err)
	}
	_, err = r.pool.Exec(ctx, `SELECT pg_notify($1, $2)`, runsNotifyChannel, fctx.RunID)
	if err != nil {
		return fmt.Errorf("notify run %s: %w", fctx.RunID, err)
	}
	return nil
}

// Get loads a run by ID.
func (r *RunRepository) Get(ctx context.Context, runID string) (*executor.FlowContext, string, error) {
	var raw []byte
	var flowID string
	err := r.pool.QueryRow(ctx, `SELECT context, flow_id FROM flow_runs WHERE run_id = $1`, runID).Scan(&raw, &flowID)
	if err == pgx.ErrNoRows {
		return nil, "", nil
	}
	if err != nil {
		return nil, "", fmt.Errorf("load run %s: %w", runID, err)
	}
	var fctx executor.FlowContext
	if err := json.Unmarshal(raw, &fctx); err != nil {
		return nil, "", fmt.Errorf("decode run %s: %w", runID, err)
	}
	return &fctx, flowID, nil
}

// ActiveBySession finds the most recent non-terminal run for a session,
// used to repopulate the in-process ActiveRunTracker after a restart.
func (r *RunRepository) ActiveBySession(ctx context.Context, sessionID string) (*executor.FlowContext, string, error) {
	var raw []byte
	var flowID string
	err := r.pool.QueryRow(ctx, `
		SELECT context, flow_id FROM flow_runs
		WHERE session_id = $1 AND status IN ('running', 'suspended')
		ORDER BY updated_at DESC LIMIT 1
	`, sessionID).Scan(&raw, &flowID)
	if err == pgx.ErrNoRows {
		return nil, "", nil
	}
	if err != nil {
		return nil, "", fmt.Errorf("load active run for %s: %w", sessionID, err)
	}
	var fctx executor.FlowContext
	if err := json.Unmarshal(raw, &fctx); err != nil {
		return nil, "", fmt.Errorf("decode run for %s: %w", sessionID, err)
	}
	return &fctx, flowID, nil
}

// Listen blocks on the LISTEN connection, invoking onChange for each
// run_id that was notified until ctx is cancelled. Grounded on the
// teacher's state_store.go pgxpool-backed store, extended with the
// LISTEN/NOTIFY half the teacher left unimplemented.
func (r *RunRepository) Listen(ctx context.Context, onChange func(runID string)) error {
	conn, err := r.pool.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("acquire listen connection: %w", err)
	}
	defer conn.Release()

	if _, err := conn.Exec(ctx, "LISTEN "+runsNotifyChannel); err != nil {
		return fmt.Errorf("listen %s: %w", runsNotifyChannel, err)
	}
	for {
		notification, err := conn.Conn().WaitForNotification(ctx)
		if err != nil {
			return fmt.Errorf("wait for notification: %w", err)
		}
		onChange(notification.Payload)
	}
}
