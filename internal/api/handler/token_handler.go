package handler

import (
	"encoding/base64"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"reflex-engine/internal/pkg/config"
	"reflex-engine/internal/pkg/logger"
	"reflex-engine/internal/pkg/token"
	"reflex-engine/internal/store"
	pkgErrors "reflex-engine/pkg/errors"
	"reflex-engine/pkg/responses"
)

// HeaderAPIKey carries the apikey-signed JWT used to open a session.
const HeaderAPIKey = "X-ApiKey"

// TokenHandler exchanges apikey proof for a short lived session.
type TokenHandler struct {
	store *store.Store
	cfg   *config.Config
}

func NewTokenHandler(st *store.Store, cfg *config.Config) *TokenHandler {
	return &TokenHandler{store: st, cfg: cfg}
}

// Issue validates an apikey JWT and returns a new session id and signing
// secret. Failure details are never surfaced to the caller.
func (h *TokenHandler) Issue(c *gin.Context) {
	raw := c.GetHeader(HeaderAPIKey)
	if raw == "" {
		responses.Error(c, pkgErrors.Unauthorized("missing apikey"))
		return
	}

	jti, err := token.ExtractJTI(raw)
	if err != nil {
		responses.Error(c, pkgErrors.Unauthorized(err.Error()))
		return
	}

	apikeyKind, _ := store.KindByName("apikey")
	key, err := h.store.Get(apikeyKind, jti, nil, 0)
	if err != nil {
		responses.Error(c, pkgErrors.Unauthorized("apikey not found"))
		return
	}

	expires := time.Duration(h.cfg.Auth.Expires) * time.Second
	claims := h.verifySecrets(raw, key)
	if claims == nil {
		responses.Error(c, pkgErrors.Unauthorized("cannot verify apikey"))
		return
	}
	if len(claims.Seed) < token.MinSeedLen {
		responses.Error(c, pkgErrors.Unauthorized("seed missing"))
		return
	}

	tokenID := objIDOf(key)
	tokenName, _ := key["name"].(string)
	expiresAt := time.Now().Add(expires).Unix()
	sess, err := h.store.NewSession(tokenID, tokenName, expiresAt, map[string]interface{}{
		"token_id":   tokenID,
		"token_name": tokenName,
	})
	if err != nil {
		responses.Error(c, err)
		return
	}

	c.SetCookie("sid", sess.ID, h.cfg.Auth.Expires, h.cfg.Server.RouteBase, "", false, true)
	logger.Info("login", zap.Int64("apikey", tokenID))

	c.JSON(http.StatusOK, gin.H{
		"status":     "success",
		"session":    sess.ID,
		"secret":     base64.StdEncoding.EncodeToString(sess.SecretRaw),
		"jti":        tokenID,
		"expires_at": expiresAt,
	})
}

// verifySecrets tries every active secret on the apikey until one validates
// the JWT signature, first as raw bytes, then base64-decoded.
func (h *TokenHandler) verifySecrets(raw string, key store.Object) *token.Claims {
	secrets, _ := key["secrets"].([]interface{})
	maxAhead := time.Duration(h.cfg.Auth.Expires) * time.Second
	for _, item := range secrets {
		encoded, ok := item.(string)
		if !ok {
			continue
		}
		if claims, err := token.Verify(raw, []byte(encoded), maxAhead); err == nil {
			return claims
		}
		secret, err := base64.StdEncoding.DecodeString(encoded)
		if err != nil {
			continue
		}
		if claims, err := token.Verify(raw, secret, maxAhead); err == nil {
			return claims
		}
	}
	return nil
}

func objIDOf(obj store.Object) int64 {
	switch v := obj["id"].(type) {
	case int64:
		return v
	case float64:
		return int64(v)
	case int:
		return int64(v)
	default:
		return 0
	}
}
