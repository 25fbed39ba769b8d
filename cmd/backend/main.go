// Command backend is the JWT-protected API service: it validates bearer
// tokens issued by Microsoft Entra ID for the configured tenant and
// serves the protected endpoints behind that check.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	authgin "github.com/open-rails/tokenguard/adapters/gin"
	"github.com/open-rails/tokenguard/config"
	"github.com/open-rails/tokenguard/jwks"
	oidckit "github.com/open-rails/tokenguard/oidc"
	memorylimiter "github.com/open-rails/tokenguard/ratelimit/memory"
	redislimiter "github.com/open-rails/tokenguard/ratelimit/redis"
	"github.com/open-rails/tokenguard/verify"
)

const failLimit = 30 // failed validations per IP per minute

func main() {
	log := logrus.New()
	log.SetFormatter(&logrus.JSONFormatter{})

	cfg, err := config.FromEnv()
	if err != nil {
		log.WithError(err).Fatal("configuration error")
	}
	log.WithFields(logrus.Fields{
		"tenant_id": cfg.TenantID,
		"client_id": cfg.ClientID,
		"audience":  cfg.Audience,
		"issuers":   cfg.Issuers,
		"jwks_url":  cfg.JWKSURL,
	}).Info("starting jwt backend")

	jwksURL := cfg.JWKSURL
	if jwksURL == "" {
		// Generic issuer without an explicit key set URL: resolve it once
		// from the provider's discovery document.
		discoverCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		jwksURL, err = oidckit.JWKSURL(discoverCtx, cfg.Issuers[0], "", nil)
		cancel()
		if err != nil {
			log.WithError(err).Fatal("jwks discovery failed")
		}
		log.WithField("jwks_url", jwksURL).Info("resolved key set endpoint via discovery")
	}

	cache, err := jwks.New(jwks.Options{
		URL:      jwksURL,
		TTL:      cfg.CacheTTL,
		MaxStale: cfg.MaxStale,
		Logger:   log,
	})
	if err != nil {
		log.WithError(err).Fatal("key cache setup failed")
	}
	if cfg.RefreshSchedule != "" {
		refresher, err := jwks.NewRefresher(cache, cfg.RefreshSchedule)
		if err != nil {
			log.WithError(err).Fatal("invalid JWKS_REFRESH_SCHEDULE")
		}
		defer refresher.Stop()
	}

	verifier, err := verify.New(cfg.TrustPolicy(), cache, verify.WithLogger(log))
	if err != nil {
		log.WithError(err).Fatal("verifier setup failed")
	}

	var limiter authgin.RateLimiter
	if cfg.RedisAddr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		limiter = redislimiter.New(rdb, map[string]redislimiter.Limit{
			"auth_fail": {Limit: failLimit, Window: time.Minute},
		})
		log.WithField("addr", cfg.RedisAddr).Info("using redis rate limiter")
	} else {
		limiter = memorylimiter.New(map[string]memorylimiter.Limit{
			"auth_fail": {Limit: failLimit, Window: time.Minute},
		})
	}

	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery(), authgin.RequestID())

	r.GET("/", authgin.Health("jwt-backend", cfg.TenantID, cfg.ClientID))

	api := r.Group("/api", authgin.AuthRequired(authgin.Config{
		Verifier: verifier,
		Limiter:  limiter,
		Logger:   log,
	}))
	api.GET("/protected", authgin.Protected())
	api.POST("/protected", authgin.Protected())
	api.POST("/token-info", authgin.TokenInfo())

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		log.WithField("addr", srv.Addr).Info("listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.WithError(err).Fatal("server error")
		}
	}()

	<-ctx.Done()
	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Warn("shutdown incomplete")
	}
}
