package store

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/tidwall/buntdb"

	"github.com/erpcore/access/errors"
	"github.com/erpcore/access/models"
)

// BuntSessionStore keeps sessions in an embedded buntdb file (or ":memory:").
// Keys: "session:<id>" holds the record, "user:<uid>:session:<id>" indexes it.
// Both expire with the session.
type BuntSessionStore struct {
	db *buntdb.DB
}

// NewBuntSessionStore opens path; ":memory:" keeps everything in process.
func NewBuntSessionStore(path string) (*BuntSessionStore, error) {
	if path == "" {
		path = ":memory:"
	}
	db, err := buntdb.Open(path)
	if err != nil {
		return nil, err
	}
	return &BuntSessionStore{db: db}, nil
}

func buntSessionKey(id string) string       { return "session:" + id }
func buntIndexKey(userID, id string) string { return "user:" + userID + ":session:" + id }
func buntIndexPattern(userID string) string { return "user:" + userID + ":session:*" }
func buntIndexSessionID(key string) string  { return key[strings.LastIndex(key, ":")+1:] }

func buntOptions(exp time.Time) *buntdb.SetOptions {
	return &buntdb.SetOptions{Expires: true, TTL: ttl(exp)}
}

func putBunt(tx *buntdb.Tx, sess *models.Session) error {
	jv, err := json.Marshal(sessionRecord(*sess))
	if err != nil {
		return err
	}
	opts := buntOptions(sess.ExpiresAt)
	if _, _, err := tx.Set(buntSessionKey(sess.ID), string(jv), opts); err != nil {
		return err
	}
	_, _, err = tx.Set(buntIndexKey(sess.UserID, sess.ID), "", opts)
	return err
}

func getBunt(tx *buntdb.Tx, id string) (*models.Session, error) {
	val, err := tx.Get(buntSessionKey(id))
	if err == buntdb.ErrNotFound {
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

func (bs *BuntSessionStore) Create(_ context.Context, userID string, expiresAt time.Time, meta models.SessionMeta) (*models.Session, error) {
	sess := newSession(userID, expiresAt, meta)
	err := bs.db.Update(func(tx *buntdb.Tx) error { return putBunt(tx, sess) })
	if err != nil {
		return nil, err
	}
	return sess, nil
}

func (bs *BuntSessionStore) Get(_ context.Context, sessionID string) (*models.Session, error) {
	var sess *models.Session
	err := bs.db.View(func(tx *buntdb.Tx) error {
		var err error
		sess, err = getBunt(tx, sessionID)
		return err
	})
	return sess, err
}

func (bs *BuntSessionStore) modify(sessionID string, fn func(*models.Session)) error {
	return bs.db.Update(func(tx *buntdb.Tx) error {
		sess, err := getBunt(tx, sessionID)
		if err != nil {
			return err
		}
		if sess == nil {
			return errors.ErrSessionNotFound
		}
		fn(sess)
		sess.UpdatedAt = time.Now().UTC()
		return putBunt(tx, sess)
	})
}

func (bs *BuntSessionStore) BindToken(_ context.Context, sessionID, token string) error {
	return bs.modify(sessionID, func(s *models.Session) { s.Token = token })
}

func (bs *BuntSessionStore) Refresh(_ context.Context, sessionID string, expiresAt time.Time, token string) error {
	return bs.modify(sessionID, func(s *models.Session) {
		s.Token = token
		s.ExpiresAt = expiresAt.UTC()
	})
}

func deleteBunt(tx *buntdb.Tx, userID, id string) (bool, error) {
	_, err := tx.Delete(buntSessionKey(id))
	if err != nil && err != buntdb.ErrNotFound {
		return false, err
	}
	if _, ierr := tx.Delete(buntIndexKey(userID, id)); ierr != nil && ierr != buntdb.ErrNotFound {
		return false, ierr
	}
	return err == nil, nil
}

func (bs *BuntSessionStore) Revoke(_ context.Context, sessionID string) error {
	return bs.db.Update(func(tx *buntdb.Tx) error {
		sess, err := getBunt(tx, sessionID)
		if err != nil || sess == nil {
			return err
		}
		_, err = deleteBunt(tx, sess.UserID, sessionID)
		return err
	})
}

func userSessionIDs(tx *buntdb.Tx, userID string) ([]string, error) {
	var ids []string
	err := tx.AscendKeys(buntIndexPattern(userID), func(key, _ string) bool {
		ids = append(ids, buntIndexSessionID(key))
		return true
	})
	return ids, err
}

func (bs *BuntSessionStore) RevokeAllExcept(_ context.Context, userID, keepSessionID string) (int, error) {
	revoked := 0
	err := bs.db.Update(func(tx *buntdb.Tx) error {
		ids, err := userSessionIDs(tx, userID)
		if err != nil {
			return err
		}
		for _, id := range ids {
			if id == keepSessionID {
				continue
			}
			ok, err := deleteBunt(tx, userID, id)
			if err != nil {
				return err
			}
			if ok {
				revoked++
			}
		}
		return nil
	})
	return revoked, err
}

func (bs *BuntSessionStore) ListByUser(_ context.Context, userID string) ([]models.Session, error) {
	var out []models.Session
	err := bs.db.View(func(tx *buntdb.Tx) error {
		ids, err := userSessionIDs(tx, userID)
		if err != nil {
			return err
		}
		for _, id := range ids {
			sess, err := getBunt(tx, id)
			if err != nil {
				return err
			}
			if sess != nil {
				out = append(out, *sess)
			}
		}
		return nil
	})
	sortSessions(out)
	return out, err
}

func (bs *BuntSessionStore) Close() error { return bs.db.Close() }
