package middleware

import (
	"encoding/base64"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"reflex-engine/internal/abac"
	"reflex-engine/internal/api/handler"
	"reflex-engine/internal/pkg/logger"
	"reflex-engine/internal/pkg/token"
	"reflex-engine/internal/store"
	pkgErrors "reflex-engine/pkg/errors"
	"reflex-engine/pkg/responses"
)

// Request headers and cookie names for session auth.
const (
	HeaderAPIToken    = "X-ApiToken"
	HeaderForwardedIP = "X-Forwarded-For"
	CookieSession     = "sid"
)

// AttributesMiddleware gathers the identity bundle every policy decision
// needs. A bad session token fails the request outright; a missing one just
// leaves the attributes anonymous for the handler to reject.
func AttributesMiddleware(st *store.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		attrs := abac.NewAttributes()

		if ip := c.GetHeader(HeaderForwardedIP); ip != "" {
			attrs.IP = ip
		} else {
			attrs.IP = c.ClientIP()
		}
		for name, values := range c.Request.Header {
			if len(values) > 0 {
				attrs.HTTPHeaders[abac.HeaderKey(name)] = values[0]
			}
		}
		attrs.Groups = st.Groups()

		if raw := c.GetHeader(HeaderAPIToken); raw != "" {
			if err := resolveSession(c, st, attrs, raw); err != nil {
				logger.Info("session auth failed",
					zap.String("ip", attrs.IP), zap.Error(err))
				responses.Error(c, pkgErrors.Unauthorized(err.Error()))
				c.Abort()
				return
			}
		}

		c.Set(handler.ContextAttrs, attrs)
		c.Next()
	}
}

// resolveSession validates a session token against its stored secret and
// fills in the token identity on success.
func resolveSession(c *gin.Context, st *store.Store, attrs *abac.Attributes, raw string) error {
	jti, err := token.ExtractJTI(raw)
	if err != nil {
		return err
	}
	tokenID, err := strconv.ParseInt(jti, 10, 64)
	if err != nil {
		// the jti may also be the apikey name
		apikey, _ := store.KindByName("apikey")
		tokenID = st.NameToID(apikey, jti)
	}
	if tokenID == 0 {
		return pkgErrors.Unauthorized("unknown token")
	}
	sessionID, err := c.Cookie(CookieSession)
	if err != nil || sessionID == "" {
		return pkgErrors.Unauthorized("no session defined")
	}
	sess, ok := st.GetSession(tokenID, sessionID)
	if !ok {
		return pkgErrors.Unauthorized("session not found")
	}

	_, err = token.Verify(raw, sess.SecretRaw, token.SessionSkew)
	if err != nil {
		encoded := []byte(base64.StdEncoding.EncodeToString(sess.SecretRaw))
		if _, retryErr := token.Verify(raw, encoded, token.SessionSkew); retryErr != nil {
			return err
		}
	}

	attrs.TokenNbr = asInt64(sess.Data["token_id"])
	if name, ok := sess.Data["token_name"].(string); ok {
		attrs.TokenName = name
	}
	if attrs.TokenNbr == 0 {
		attrs.TokenNbr = sess.TokenID
	}
	return nil
}

func asInt64(v interface{}) int64 {
	switch val := v.(type) {
	case int64:
		return val
	case int:
		return int64(val)
	case float64:
		return int64(val)
	default:
		return 0
	}
}
