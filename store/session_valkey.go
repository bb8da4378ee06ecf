package store

import (
	"context"
	"encoding/json"
	"time"

	valkey "github.com/valkey-io/valkey-go"

	"github.com/erpcore/access/errors"
	"github.com/erpcore/access/models"
)

// ValkeySessionStore keeps each session under its own key with a TTL matching
// its expiry, plus a per-user set of session ids.
type ValkeySessionStore struct {
	client valkey.Client
	prefix string
}

// NewValkeySessionStore creates a Valkey-backed session store.
// addr example: "127.0.0.1:6379"; prefix namespaces keys.
func NewValkeySessionStore(addr string, prefix string) (*ValkeySessionStore, error) {
	// client-side caching stays off: a revoked session must disappear on the next read
	cli, err := valkey.NewClient(valkey.ClientOption{InitAddress: []string{addr}, DisableCache: true})
	if err != nil {
		return nil, err
	}
	return NewValkeySessionStoreWithClient(cli, prefix), nil
}

// NewValkeySessionStoreWithClient wraps an existing client.
func NewValkeySessionStoreWithClient(cli valkey.Client, prefix string) *ValkeySessionStore {
	if prefix == "" {
		prefix = "access:"
	}
	return &ValkeySessionStore{client: cli, prefix: prefix}
}

func (vs *ValkeySessionStore) sessionKey(id string) string { return vs.prefix + "session:" + id }
func (vs *ValkeySessionStore) userKey(userID string) string {
	return vs.prefix + "user:" + userID + ":sessions"
}

// ttl is the remaining lifetime, at least one second so SET EX accepts it.
func ttl(expiresAt time.Time) time.Duration {
	d := time.Until(expiresAt)
	if d < time.Second {
		d = time.Second
	}
	return d
}

func (vs *ValkeySessionStore) put(ctx context.Context, sess *models.Session) error {
	jv, err := json.Marshal(sessionRecord(*sess))
	if err != nil {
		return err
	}
	return vs.client.Do(ctx, vs.client.B().Set().Key(vs.sessionKey(sess.ID)).Value(string(jv)).Ex(ttl(sess.ExpiresAt)).Build()).Error()
}

// update rewrites an existing session only. SET XX never recreates a key a
// concurrent Revoke has deleted.
func (vs *ValkeySessionStore) update(ctx context.Context, sess *models.Session) error {
	jv, err := json.Marshal(sessionRecord(*sess))
	if err != nil {
		return err
	}
	err = vs.client.Do(ctx, vs.client.B().Set().Key(vs.sessionKey(sess.ID)).Value(string(jv)).Xx().Ex(ttl(sess.ExpiresAt)).Build()).Error()
	if valkey.IsValkeyNil(err) {
		return errors.ErrSessionNotFound
	}
	return err
}

func (vs *ValkeySessionStore) Create(ctx context.Context, userID string, expiresAt time.Time, meta models.SessionMeta) (*models.Session, error) {
	sess := newSession(userID, expiresAt, meta)
	if err := vs.put(ctx, sess); err != nil {
		return nil, err
	}
	if err := vs.client.Do(ctx, vs.client.B().Sadd().Key(vs.userKey(userID)).Member(sess.ID).Build()).Error(); err != nil {
		return nil, err
	}
	return sess, nil
}

func (vs *ValkeySessionStore) Get(ctx context.Context, sessionID string) (*models.Session, error) {
	val, err := vs.client.Do(ctx, vs.client.B().Get().Key(vs.sessionKey(sessionID)).Build()).ToString()
	if valkey.IsValkeyNil(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var rec record
	if err := json.Unmarshal([]byte(val), &rec); err != nil {
		return nil, err
	}
	sess := rec.session()
	return &sess, nil
}

func (vs *ValkeySessionStore) BindToken(ctx context.Context, sessionID, token string) error {
	sess, err := vs.Get(ctx, sessionID)
	if err != nil {
		return err
	}
	if sess == nil {
		return errors.ErrSessionNotFound
	}
	sess.Token = token
	sess.UpdatedAt = time.Now().UTC()
	return vs.update(ctx, sess)
}

func (vs *ValkeySessionStore) Refresh(ctx context.Context, sessionID string, expiresAt time.Time, token string) error {
	sess, err := vs.Get(ctx, sessionID)
	if err != nil {
		return err
	}
	if sess == nil {
		return errors.ErrSessionNotFound
	}
	sess.Token = token
	sess.ExpiresAt = expiresAt.UTC()
	sess.UpdatedAt = time.Now().UTC()
	return vs.update(ctx, sess)
}

func (vs *ValkeySessionStore) Revoke(ctx context.Context, sessionID string) error {
	sess, err := vs.Get(ctx, sessionID)
	if err != nil || sess == nil {
		return err
	}
	if err := vs.client.Do(ctx, vs.client.B().Del().Key(vs.sessionKey(sessionID)).Build()).Error(); err != nil {
		return err
	}
	return vs.client.Do(ctx, vs.client.B().Srem().Key(vs.userKey(sess.UserID)).Member(sessionID).Build()).Error()
}

func (vs *ValkeySessionStore) members(ctx context.Context, userID string) ([]string, error) {
	ids, err := vs.client.Do(ctx, vs.client.B().Smembers().Key(vs.userKey(userID)).Build()).AsStrSlice()
	if valkey.IsValkeyNil(err) {
		return nil, nil
	}
	return ids, err
}

func (vs *ValkeySessionStore) RevokeAllExcept(ctx context.Context, userID, keepSessionID string) (int, error) {
	ids, err := vs.members(ctx, userID)
	if err != nil {
		return 0, err
	}
	revoked := 0
	for _, id := range ids {
		if id == keepSessionID {
			continue
		}
		n, err := vs.client.Do(ctx, vs.client.B().Del().Key(vs.sessionKey(id)).Build()).AsInt64()
		if err != nil {
			return revoked, err
		}
		revoked += int(n)
		if err := vs.client.Do(ctx, vs.client.B().Srem().Key(vs.userKey(userID)).Member(id).Build()).Error(); err != nil {
			return revoked, err
		}
	}
	return revoked, nil
}

// ListByUser returns live sessions, pruning index entries whose key has expired.
func (vs *ValkeySessionStore) ListByUser(ctx context.Context, userID string) ([]models.Session, error) {
	ids, err := vs.members(ctx, userID)
	if err != nil {
		return nil, err
	}
	out := make([]models.Session, 0, len(ids))
	for _, id := range ids {
		sess, err := vs.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		if sess == nil {
			_ = vs.client.Do(ctx, vs.client.B().Srem().Key(vs.userKey(userID)).Member(id).Build()).Error()
			continue
		}
		out = append(out, *sess)
	}
	sortSessions(out)
	return out, nil
}

func (vs *ValkeySessionStore) Close() error {
	vs.client.Close()
	return nil
}
