package core

import (
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/sessions"
)

const (
	requestIDHeader  = "X-Request-ID"
	requestIDKey     = "request_id"
	tokenClaimsKey   = "token_claims"
	tokenSessionName = "hr_leave_token"
	sessionMaxAge    = 18000 // 5h
)

// RequestIDMiddleware propagates X-Request-ID, generating one when absent.
func RequestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		rid := strings.TrimSpace(c.GetHeader(requestIDHeader))
		if rid == "" {
			rid = uuid.NewString()
		}
		c.Writer.Header().Set(requestIDHeader, rid)
		c.Set(requestIDKey, rid)
		c.Next()
	}
}

func requestIDFrom(c *gin.Context) string {
	if v, ok := c.Get(requestIDKey); ok {
		if rid, ok := v.(string); ok {
			return rid
		}
	}
	return ""
}

// ErrorTranslator renders errors left in c.Errors as the JSON error envelope.
// It runs after the handler chain and only answers if nothing was written.
func ErrorTranslator(logger *slog.Logger) gin.HandlerFunc {
	if logger == nil {
		logger = slog.Default()
	}
	return func(c *gin.Context) {
		c.Next()
		if len(c.Errors) == 0 || c.Writer.Written() {
			return
		}
		err := c.Errors.Last().Err
		if KindOf(err) == KindDownstreamFailure {
			logger.ErrorContext(c.Request.Context(), "request failed with unexpected error",
				"request_id", requestIDFrom(c), "path", c.Request.URL.Path, "error", err)
		}
		writeError(c, err)
	}
}

// RecoveryHandler answers recovered panics with the JSON error envelope.
func RecoveryHandler(logger *slog.Logger) gin.HandlerFunc {
	if logger == nil {
		logger = slog.Default()
	}
	return gin.CustomRecoveryWithWriter(nil, func(c *gin.Context, recovered any) {
		logger.ErrorContext(c.Request.Context(), "panic recovered",
			"request_id", requestIDFrom(c), "path", c.Request.URL.Path, "panic", recovered)
		respondError(c, http.StatusInternalServerError, "INTERNAL_SERVER_ERROR", "internal server error")
		c.Abort()
	})
}

// failRequest answers expected failures directly and hands unexpected ones to
// the error translator through c.Error.
func failRequest(c *gin.Context, err error) {
	if KindOf(err) == KindDownstreamFailure {
		_ = c.Error(err)
		c.Abort()
		return
	}
	writeError(c, err)
	c.Abort()
}

func writeError(c *gin.Context, err error) {
	switch KindOf(err) {
	case KindPrincipalNotFound, KindInvalidCredentials:
		respondError(c, http.StatusUnauthorized, "AUTHENTICATION_FAILED", "invalid email or password")
	case KindTokenInvalid, KindTokenExpired:
		respondError(c, http.StatusUnauthorized, "UNAUTHORIZED", "authentication required")
	case KindForbidden:
		respondError(c, http.StatusForbidden, "FORBIDDEN", "insufficient role")
	case KindInvalidRequest:
		var verr *RequestValidationError
		var fields map[string]string
		if errors.As(err, &verr) {
			fields = verr.Fields
		}
		respondErrorDetails(c, http.StatusBadRequest, "VALIDATION_ERROR", "request validation failed", fields)
	case KindDuplicateHandle:
		respondError(c, http.StatusConflict, "DUPLICATE_USERNAME", "username already exists")
	case KindDuplicateEmail:
		respondError(c, http.StatusConflict, "DUPLICATE_EMAIL", "email already exists")
	case KindCreationRejected:
		var rerr *CreationRejectedError
		var msgs []string
		if errors.As(err, &rerr) {
			msgs = rerr.Messages
		}
		respondErrorDetails(c, http.StatusUnprocessableEntity, "CREATION_REJECTED", "principal could not be created", msgs)
	default:
		respondError(c, http.StatusInternalServerError, "INTERNAL_SERVER_ERROR", "internal server error")
	}
}

// RequireToken verifies the bearer token (or the token cookie when a session
// store is given) and stores the claims on the context.
func RequireToken(tokens *TokenIssuer, store *sessions.CookieStore) gin.HandlerFunc {
	return func(c *gin.Context) {
		raw := bearerToken(c.GetHeader("Authorization"))
		if raw == "" && store != nil {
			if sess, err := store.Get(c.Request, tokenSessionName); err == nil {
				raw, _ = sess.Values["token"].(string)
			}
		}
		if raw == "" {
			writeError(c, ErrTokenInvalid)
			c.Abort()
			return
		}
		claims, err := tokens.ParseToken(raw)
		if err != nil {
			writeError(c, err)
			c.Abort()
			return
		}
		c.Set(tokenClaimsKey, claims)
		c.Next()
	}
}

func bearerToken(header string) string {
	scheme, token, ok := strings.Cut(strings.TrimSpace(header), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return ""
	}
	return strings.TrimSpace(token)
}

func claimsFrom(c *gin.Context) (*TokenClaims, bool) {
	v, ok := c.Get(tokenClaimsKey)
	if !ok {
		return nil, false
	}
	claims, ok := v.(*TokenClaims)
	return claims, ok && claims != nil
}

// OriginRefererMiddleware validates Origin/Referer against allowed list and sets CORS headers.
func OriginRefererMiddleware(cfg Config) gin.HandlerFunc {
	allowed := map[string]struct{}{}
	for _, o := range cfg.AllowedOrigins {
		allowed[strings.ToLower(o)] = struct{}{}
	}

	isAllowed := func(origin string) bool {
		if origin == "" {
			// non-browser clients send neither header
			return true
		}
		if len(allowed) == 0 {
			return false
		}
		_, ok := allowed[strings.ToLower(origin)]
		return ok
	}

	return func(c *gin.Context) {
		origin := c.GetHeader("Origin")
		referer := c.GetHeader("Referer")
		if origin == "" && referer != "" {
			if u, err := url.Parse(referer); err == nil {
				origin = u.Scheme + "://" + u.Host
			}
		}

		if c.Request.Method == http.MethodOptions && origin != "" {
			if !isAllowed(origin) {
				respondError(c, http.StatusForbidden, "FORBIDDEN", "origin not allowed")
				c.Abort()
				return
			}
			setCORSHeaders(c, origin)
			c.Status(http.StatusNoContent)
			c.Abort()
			return
		}

		if !isAllowed(origin) {
			respondError(c, http.StatusForbidden, "FORBIDDEN", "origin not allowed")
			c.Abort()
			return
		}
		if origin != "" {
			setCORSHeaders(c, origin)
		}
		c.Next()
	}
}

func setCORSHeaders(c *gin.Context, origin string) {
	c.Header("Access-Control-Allow-Origin", origin)
	c.Header("Vary", "Origin")
	c.Header("Access-Control-Allow-Credentials", "true")
	c.Header("Access-Control-Allow-Headers", "Authorization, Content-Type, X-Request-ID")
	c.Header("Access-Control-Expose-Headers", "X-Request-ID")
	c.Header("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
}

// saveTokenCookie stores token in the session cookie read back by RequireToken.
func saveTokenCookie(c *gin.Context, cfg Config, store *sessions.CookieStore, token string) error {
	session, err := store.Get(c.Request, tokenSessionName)
	if err != nil {
		// a cookie signed with a rotated key; start over
		session = sessions.NewSession(store, tokenSessionName)
	}
	session.Values = map[interface{}]interface{}{"token": token}
	applySessionOptions(cfg, session)
	return session.Save(c.Request, c.Writer)
}

func applySessionOptions(cfg Config, session *sessions.Session) {
	if session.Options == nil {
		session.Options = &sessions.Options{}
	}
	session.Options.Path = "/"
	session.Options.MaxAge = sessionMaxAge
	if d := cfg.JWTDurationMinutes * 60; d > 0 && d < sessionMaxAge {
		session.Options.MaxAge = d
	}
	session.Options.HttpOnly = true
	session.Options.Secure = cfg.CookieSecure
	session.Options.SameSite = sameSiteFromString(cfg.CookieSameSite)
}

func sameSiteFromString(v string) http.SameSite {
	switch strings.ToLower(v) {
	case "lax":
		return http.SameSiteLaxMode
	case "none":
		return http.SameSiteNoneMode
	default:
		return http.SameSiteStrictMode
	}
}
