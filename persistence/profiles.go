package persistence

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// UserProfile is the Preference Enricher's durable output: confirmed
// attributes, pending (awaiting-confirmation) attributes, and a
// deterministic completeness score (spec §4.8).
type UserProfile struct {
	UserID       string
	Attributes   map[string]interface{}
	Pending      map[string]PendingAttribute
	Completeness float64
}

// PendingAttribute is a candidate attribute extracted at medium
// confidence, awaiting a yes/no confirmation from the user, with the
// cooldown fields needed to enforce the 24h per-(user_id,key) limit.
type PendingAttribute struct {
	Value        interface{} `json:"value"`
	Confidence   float64     `json:"confidence"`
	AskedAt      string      `json:"asked_at"`
}

// ProfileRepository persists UserProfiles.
type ProfileRepository struct {
	pool *pgxpool.Pool
}

func NewProfileRepository(pool *pgxpool.Pool) *ProfileRepository {
	return &ProfileRepository{pool: pool}
}

// Get loads a profile, returning a zero-value profile (not an error) if
// none exists yet — every user starts with an empty profile.
func (r *ProfileRepository) Get(ctx context.Context, userID string) (UserProfile, error) {
	var attrsRaw, pendingRaw []byte
	profile := UserProfile{UserID: userID, Attributes: map[string]interface{}{}, Pending: map[string]PendingAttribute{}}

	err := r.pool.QueryRow(ctx, `
		SELECT attributes, pending, completeness FROM user_profiles WHERE user_id = $1
	`, userID).Scan(&attrsRaw, &pendingRaw, &profile.Completeness)
	if err == pgx.ErrNoRows {
		return profile, nil
	}
	if err != nil {
		return profile, fmt.Errorf("load profile %s: %w", userID, err)
	}
	if err := json.Unmarshal(attrsRaw, &profile.Attributes); err != nil {
		return profile, fmt.Errorf("decode profile attributes %s: %w", userID, err)
	}
	if err := json.Unmarshal(pendingRaw, &profile.Pending); err != nil {
		return profile, fmt.Errorf("decode profile pending %s: %w", userID, err)
	}
	return profile, nil
}

// Save upserts a profile.
func (r *ProfileRepository) Save(ctx context.Context, profile UserProfile) error {
	attrsRaw, err := json.Marshal(profile.Attributes)
	if err != nil {
		return fmt.Errorf("marshal profile attributes: %w", err)
	}
	pendingRaw, err := json.Marshal(profile.Pending)
	if err != nil {
		return fmt.Errorf("marshal profile pending: %w", err)
	}
	_, err = r.pool.Exec(ctx, `
		INSERT INTO user_profiles (user_id, attributes, pending, completeness, updated_at)
		VALUES ($1, $2, $3, $4, now())
		ON CONFLICT (user_id) DO UPDATE SET
			attributes = EXCLUDED.attributes,
			pending = EXCLUDED.pending,
			completeness = EXCLUDED.completeness,
			updated_at = now()
	`, profile.UserID, attrsRaw, pendingRaw, profile.Completeness)
	if err != nil {
		return fmt.Errorf("save profile %s: %w", profile.UserID, err)
	}
	return nil
}
