package core

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/sessions"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// RouterDeps are the collaborators NewRouter wires into handlers.
// Sessions, AuditQueue, Publisher and Gatherer are optional.
type RouterDeps struct {
	Logger     *slog.Logger
	Auth       AuthService
	Directory  *EmployeeDirectory
	Tokens     *TokenIssuer
	Sessions   *sessions.CookieStore
	AuditQueue *AuditQueueMonitor
	Publisher  AuditPublisher
	Gatherer   prometheus.Gatherer
}

// NewRouter constructs the Gin engine with routes wired.
func NewRouter(cfg Config, deps RouterDeps) *gin.Engine {
	startedAt := time.Now()
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	var cookies *sessions.CookieStore
	if cfg.TokenCookieEnabled {
		cookies = deps.Sessions
	}

	r := gin.New()
	// recovery -> request id -> error translator -> origin -> audit -> handlers
	r.Use(RecoveryHandler(logger))
	r.Use(RequestIDMiddleware())
	r.Use(ErrorTranslator(logger))
	r.Use(OriginRefererMiddleware(cfg))
	r.Use(AuditInterceptor(AuditOptions{
		Logger:           logger,
		ExcludedPrefixes: cfg.AuditExcludedPrefixes,
		Publisher:        deps.Publisher,
	}))

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "uptime_seconds": int64(time.Since(startedAt).Seconds())})
	})
	if deps.Gatherer != nil {
		r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(deps.Gatherer, promhttp.HandlerOpts{})))
	}
	registerDocs(r)

	api := r.Group("/api/v1")
	{
		api.POST("/auth/login", func(c *gin.Context) {
			var req LoginRequest
			if err := c.ShouldBindJSON(&req); err != nil {
				failRequest(c, invalidJSON(err))
				return
			}

			resp, err := deps.Auth.Login(c.Request.Context(), req)
			if err != nil {
				failRequest(c, err)
				return
			}

			if cookies != nil {
				if err := saveTokenCookie(c, cfg, cookies, resp.Token); err != nil {
					failRequest(c, err)
					return
				}
			}
			c.JSON(http.StatusOK, resp)
		})

		api.POST("/auth/register", func(c *gin.Context) {
			var req RegistrationRequest
			if err := c.ShouldBindJSON(&req); err != nil {
				failRequest(c, invalidJSON(err))
				return
			}

			resp, err := deps.Auth.Register(c.Request.Context(), req)
			if err != nil {
				failRequest(c, err)
				return
			}
			c.JSON(http.StatusCreated, resp)
		})

		authed := api.Group("")
		authed.Use(RequireToken(deps.Tokens, cookies))

		authed.GET("/users/me", func(c *gin.Context) {
			claims, _ := claimsFrom(c)
			c.JSON(http.StatusOK, gin.H{
				"id":        claims.UID,
				"userName":  claims.Subject,
				"email":     claims.Email,
				"roles":     nonNil(claims.Roles),
				"expiresAt": claims.ExpiresAt,
			})
		})

		authed.GET("/employees", func(c *gin.Context) {
			employees, err := deps.Directory.GetEmployees(c.Request.Context())
			if err != nil {
				failRequest(c, err)
				return
			}
			c.JSON(http.StatusOK, employees)
		})

		authed.GET("/employees/:id", func(c *gin.Context) {
			employee, err := deps.Directory.GetEmployee(c.Request.Context(), c.Param("id"))
			if err != nil {
				if KindOf(err) == KindPrincipalNotFound {
					respondError(c, http.StatusNotFound, "NOT_FOUND", "employee not found")
					return
				}
				failRequest(c, err)
				return
			}
			c.JSON(http.StatusOK, employee)
		})

		admin := authed.Group("/admin")
		admin.Use(RequireRole(cfg.AdminRole))

		admin.GET("/status", func(c *gin.Context) {
			c.JSON(http.StatusOK, CollectSystemStatus(c.Request.Context(), deps.AuditQueue, startedAt))
		})

		queue := admin.Group("/audit-queue")
		queue.Use(func(c *gin.Context) {
			if deps.AuditQueue == nil {
				respondError(c, http.StatusServiceUnavailable, "AUDIT_QUEUE_DISABLED", "audit queue is not enabled")
				c.Abort()
				return
			}
			c.Next()
		})

		queue.GET("", func(c *gin.Context) {
			overview, err := deps.AuditQueue.Overview(c.Request.Context())
			if err != nil {
				failRequest(c, err)
				return
			}
			c.JSON(http.StatusOK, overview)
		})

		queue.GET("/archivers/:id", func(c *gin.Context) {
			hb, err := deps.AuditQueue.Archiver(c.Request.Context(), c.Param("id"))
			if err != nil {
				if errors.Is(err, ErrArchiverNotFound) {
					respondError(c, http.StatusNotFound, "NOT_FOUND", "archiver not found")
					return
				}
				failRequest(c, err)
				return
			}
			c.JSON(http.StatusOK, hb)
		})
	}

	return r
}

func invalidJSON(err error) error {
	return &RequestValidationError{Fields: map[string]string{"body": "invalid json: " + err.Error()}}
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
