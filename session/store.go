// Package session implements the Session Store (spec §4.1): per-recipient
// state with a sliding TTL, held in Redis exactly like the teacher's
// db/repository/redis.go CacheRepository, but narrowed to the one shape
// the orchestration core actually needs — a JSON blob per recipient key.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"flowline.dev/common"
	"flowline.dev/log"
)

// PendingIntent is stashed by the Intent Router before detouring to
// authentication, and replayed once the auth flow completes (spec §4.6).
type PendingIntent struct {
	Intent   string            `json:"intent"`
	Entities []common.Entity   `json:"entities,omitempty"`
	Text     string            `json:"text"`
}

// PendingConfirmation is stashed when the Preference Enricher asks a
// yes/no confirmation question (spec §4.8, 0.70-0.85 confidence tier),
// so the next inbound message from this recipient can be interpreted as
// the answer to this specific pending attribute key rather than routed
// as an ordinary turn.
type PendingConfirmation struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

// Session is the per-recipient state bag of spec §3.1.
type Session struct {
	RecipientID         string                 `json:"recipient_id"`
	Platform            common.Platform        `json:"platform"`
	CreatedAt           time.Time              `json:"created_at"`
	LastActiveAt        time.Time              `json:"last_active_at"`
	UserID              string                 `json:"user_id,omitempty"`
	Authenticated       bool                   `json:"authenticated,omitempty"`
	AuthToken           string                 `json:"auth_token,omitempty"`
	Phone               string                 `json:"phone,omitempty"`
	Module              string                 `json:"module,omitempty"`
	ConversationHistory []string               `json:"conversation_history,omitempty"`
	PendingIntent       *PendingIntent         `json:"pending_intent,omitempty"`
	PendingConfirmation *PendingConfirmation   `json:"pending_confirmation,omitempty"`
	Location            *common.Location       `json:"location,omitempty"`
	LocationSaved       bool                   `json:"location_saved,omitempty"`
	FlowData            map[string]interface{} `json:"flow_data,omitempty"`
	ActiveRunID         string                 `json:"active_run_id,omitempty"`
}

// historyLimit bounds conversation_history (spec §3.1 "bounded list of last N turns").
const historyLimit = 20

// Store is the Session Store contract of spec §4.1.
type Store interface {
	Get(ctx context.Context, recipientID string) (*Session, bool, error)
	SetData(ctx context.Context, recipientID, key string, value interface{}) error
	SetMany(ctx context.Context, recipientID string, kv map[string]interface{}) error
	GetData(ctx context.Context, recipientID, key string) (interface{}, bool, error)
	Touch(ctx context.Context, recipientID string) error
	Clear(ctx context.Context, recipientID string) error

	// AppendHistory records one turn, trimming to historyLimit.
	AppendHistory(ctx context.Context, recipientID, turn string) error

	// EnsureCreated loads or creates a session for recipientID, stamping
	// platform and created_at on first contact (spec §4.2 "Platform tag
	// is always set on the session at normalization time").
	EnsureCreated(ctx context.Context, recipientID string, platform common.Platform) (*Session, bool, error)
}

const keyPrefix = "session:"

// RedisStore is the Store implementation used in production, backed by a
// single JSON-encoded key per recipient with a sliding TTL reset on every
// touch, matching the teacher's cache-key conventions
// (db/repository/redis.go's "cache:"/"lock:" prefixing idiom).
type RedisStore struct {
	client *redis.Client
	ttl    time.Duration
	logger *log.Logger
}

func NewRedisStore(url string, ttl time.Duration, logger *log.Logger) (*RedisStore, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse session redis url: %w", err)
	}
	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connect to session redis: %w", err)
	}

	if ttl <= 0 {
		ttl = 30 * time.Minute
	}

	return &RedisStore{client: client, ttl: ttl, logger: logger}, nil
}

func (s *RedisStore) Close() error { return s.client.Close() }

func sessionKey(recipientID string) string { return keyPrefix + recipientID }

// Get loads a session, resetting its sliding TTL (touch-on-read, spec
// §3.1). Per spec §4.1 "Failure" policy, a cache error degrades to "no
// session" rather than propagating — the caller treats the recipient as a
// first-time visitor.
func (s *RedisStore) Get(ctx context.Context, recipientID string) (*Session, bool, error) {
	data, err := s.client.Get(ctx, sessionKey(recipientID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		s.logger.WithError(err).WithField("recipient_id", recipientID).Warn("session store unreachable, treating as new visitor")
		return nil, false, nil
	}

	var sess Session
	if err := json.Unmarshal(data, &sess); err != nil {
		return nil, false, fmt.Errorf("unmarshal session: %w", err)
	}

	// touch-on-read
	_ = s.client.Expire(ctx, sessionKey(recipientID), s.ttl).Err()

	return &sess, true, nil
}

func (s *RedisStore) save(ctx context.Context, sess *Session) error {
	data, err := json.Marshal(sess)
	if err != nil {
		return fmt.Errorf("marshal session: %w", err)
	}
	if err := s.client.Set(ctx, sessionKey(sess.RecipientID), data, s.ttl).Err(); err != nil {
		s.logger.WithError(err).WithField("recipient_id", sess.RecipientID).Warn("session write failed, best-effort only")
		return nil // writes are best-effort per spec §4.1
	}
	return nil
}

func (s *RedisStore) EnsureCreated(ctx context.Context, recipientID string, platform common.Platform) (*Session, bool, error) {
	sess, found, err := s.Get(ctx, recipientID)
	if err != nil {
		return nil, false, err
	}
	if found {
		sess.Platform = platform
		sess.LastActiveAt = time.Now()
		_ = s.save(ctx, sess)
		return sess, false, nil
	}

	now := time.Now()
	sess = &Session{
		RecipientID:   recipientID,
		Platform:      platform,
		CreatedAt:     now,
		LastActiveAt:  now,
		FlowData:      map[string]interface{}{},
	}
	_ = s.save(ctx, sess)
	return sess, true, nil
}

func (s *RedisStore) SetData(ctx context.Context, recipientID, key string, value interface{}) error {
	return s.SetMany(ctx, recipientID, map[string]interface{}{key: value})
}

// SetMany merges kv into the session's flow_data scratch bag, or onto a
// known top-level field when key matches one, then persists.
func (s *RedisStore) SetMany(ctx context.Context, recipientID string, kv map[string]interface{}) error {
	sess, found, err := s.Get(ctx, recipientID)
	if err != nil {
		return err
	}
	if !found {
		now := time.Now()
		sess = &Session{RecipientID: recipientID, CreatedAt: now, LastActiveAt: now, FlowData: map[string]interface{}{}}
	}
	if sess.FlowData == nil {
		sess.FlowData = map[string]interface{}{}
	}

	for k, v := range kv {
		if !applyWellKnownField(sess, k, v) {
			sess.FlowData[k] = v
		}
	}
	sess.LastActiveAt = time.Now()
	return s.save(ctx, sess)
}

// applyWellKnownField writes v onto one of Session's typed fields when k
// names it, returning false when k is just scratch data.
func applyWellKnownField(sess *Session, k string, v interface{}) bool {
	switch k {
	case "user_id":
		sess.UserID, _ = v.(string)
	case "authenticated":
		sess.Authenticated, _ = v.(bool)
	case "auth_token":
		sess.AuthToken, _ = v.(string)
	case "phone":
		sess.Phone, _ = v.(string)
	case "module":
		sess.Module, _ = v.(string)
	case "location_saved":
		sess.LocationSaved, _ = v.(bool)
	case "active_run_id":
		sess.ActiveRunID, _ = v.(string)
	case "pending_intent":
		if pi, ok := v.(*PendingIntent); ok {
			sess.PendingIntent = pi
		} else if v == nil {
			sess.PendingIntent = nil
		} else {
			return false
		}
	case "pending_confirmation":
		if pc, ok := v.(*PendingConfirmation); ok {
			sess.PendingConfirmation = pc
		} else if v == nil {
			sess.PendingConfirmation = nil
		} else {
			return false
		}
	case "location":
		if loc, ok := v.(*common.Location); ok {
			sess.Location = loc
		} else {
			return false
		}
	default:
		return false
	}
	return true
}

func (s *RedisStore) GetData(ctx context.Context, recipientID, key string) (interface{}, bool, error) {
	sess, found, err := s.Get(ctx, recipientID)
	if err != nil || !found {
		return nil, false, err
	}
	if v, ok := sess.FlowData[key]; ok {
		return v, true, nil
	}
	return nil, false, nil
}

func (s *RedisStore) Touch(ctx context.Context, recipientID string) error {
	sess, found, err := s.Get(ctx, recipientID)
	if err != nil || !found {
		return err
	}
	sess.LastActiveAt = time.Now()
	return s.save(ctx, sess)
}

func (s *RedisStore) Clear(ctx context.Context, recipientID string) error {
	return s.client.Del(ctx, sessionKey(recipientID)).Err()
}

func (s *RedisStore) AppendHistory(ctx context.Context, recipientID, turn string) error {
	sess, found, err := s.Get(ctx, recipientID)
	if err != nil {
		return err
	}
	if !found {
		now := time.Now()
		sess = &Session{RecipientID: recipientID, CreatedAt: now, LastActiveAt: now, FlowData: map[string]interface{}{}}
	}
	sess.ConversationHistory = append(sess.ConversationHistory, turn)
	if len(sess.ConversationHistory) > historyLimit {
		sess.ConversationHistory = sess.ConversationHistory[len(sess.ConversationHistory)-historyLimit:]
	}
	sess.LastActiveAt = time.Now()
	return s.save(ctx, sess)
}
