package store

import (
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"strconv"
	"time"

	"gorm.io/datatypes"

	"reflex-engine/internal/cache"
	"reflex-engine/internal/pkg/crypto"
	pkgErrors "reflex-engine/pkg/errors"
)

// sessionSecretLen is the raw byte length of session signing secrets.
const sessionSecretLen = 64

// AuthSession is the at-rest shape of an issued session.
type AuthSession struct {
	TokenID     int64          `gorm:"column:token_id"`
	Name        string         `gorm:"column:name"`
	Secret      string         `gorm:"column:secret"`
	CreatedAt   time.Time      `gorm:"column:created_at"`
	ExpiresAt   int64          `gorm:"column:expires_at"`
	SessionData datatypes.JSON `gorm:"column:session_data"`
}

// TableName keeps gorm on the hand managed table.
func (AuthSession) TableName() string {
	return "AuthSession"
}

// Session is a live session with its decoded secret.
type Session struct {
	TokenID   int64
	ID        string
	SecretRaw []byte
	Data      map[string]interface{}
	ExpiresAt int64
}

type sessionEntry struct {
	expiresAt int64
	sess      *Session
}

func sessionKey(tokenID int64, sessionID string) string {
	return strconv.FormatInt(tokenID, 10) + ":" + sessionID
}

// NewSession issues a session for an authenticated apikey. The session id is
// derived from the issue time so it is unique per token without coordination.
func (s *Store) NewSession(tokenID int64, tokenName string, expiresAt int64,
	data map[string]interface{}) (*Session, error) {
	sum := sha256.Sum256([]byte(strconv.FormatFloat(
		float64(time.Now().UnixNano())/1e9, 'f', -1, 64) + tokenName))
	sessionID := hex.EncodeToString(sum[:])

	secretRaw, err := crypto.RandomBytes(sessionSecretLen)
	if err != nil {
		return nil, pkgErrors.Internal("cannot generate session secret", err)
	}
	if data == nil {
		data = map[string]interface{}{}
	}
	blob, err := json.Marshal(data)
	if err != nil {
		return nil, pkgErrors.Internal("cannot encode session data", err)
	}

	rec := AuthSession{
		TokenID:     tokenID,
		Name:        sessionID,
		Secret:      base64.StdEncoding.EncodeToString(secretRaw),
		ExpiresAt:   expiresAt,
		SessionData: datatypes.JSON(blob),
	}
	if err := s.db.Create(&rec).Error; err != nil {
		return nil, pkgErrors.Internal("cannot store session", err)
	}

	sess := &Session{
		TokenID:   tokenID,
		ID:        sessionID,
		SecretRaw: secretRaw,
		Data:      data,
		ExpiresAt: expiresAt,
	}
	s.cache.Set(cache.TypeSession, sessionKey(tokenID, sessionID),
		sessionEntry{expiresAt: expiresAt, sess: sess})
	return sess, nil
}

// GetSession loads a live session, cache first. Expired entries are dropped
// lazily.
func (s *Store) GetSession(tokenID int64, sessionID string) (*Session, bool) {
	key := sessionKey(tokenID, sessionID)
	if v, ok := s.cache.Get(cache.TypeSession, key); ok {
		entry := v.(sessionEntry)
		if entry.expiresAt > time.Now().Unix() {
			return entry.sess, true
		}
		s.cache.Remove(cache.TypeSession, key)
	}

	var rec AuthSession
	err := s.db.Where("token_id = ? AND name = ? AND expires_at >= ?",
		tokenID, sessionID, time.Now().Unix()).Take(&rec).Error
	if err != nil {
		return nil, false
	}

	secretRaw, err := base64.StdEncoding.DecodeString(rec.Secret)
	if err != nil {
		return nil, false
	}
	data := map[string]interface{}{}
	if len(rec.SessionData) > 0 {
		_ = json.Unmarshal(rec.SessionData, &data)
	}
	sess := &Session{
		TokenID:   tokenID,
		ID:        sessionID,
		SecretRaw: secretRaw,
		Data:      data,
		ExpiresAt: rec.ExpiresAt,
	}
	s.cache.Set(cache.TypeSession, key, sessionEntry{expiresAt: rec.ExpiresAt, sess: sess})
	return sess, true
}

// CleanSessions removes expired rows. Run periodically.
func (s *Store) CleanSessions() (int64, error) {
	res := s.db.Where("expires_at < ?", time.Now().Unix()).Delete(&AuthSession{})
	if res.Error != nil {
		return 0, pkgErrors.Internal("cannot clean sessions", res.Error)
	}
	return res.RowsAffected, nil
}
