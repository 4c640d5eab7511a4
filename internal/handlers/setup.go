package handlers

import (
	"fmt"
	"net/http"
	"time"

	"talkroom/internal/jwt"
	"talkroom/internal/metrics"
	"talkroom/internal/models"
	"talkroom/internal/room"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"
)

const tokenCookieName = jwt.CookieName

type IDGenerator interface {
	Generate() (int64, error)
}

var (
	sugar         *zap.SugaredLogger
	registry      *room.Registry
	issuer        *jwt.Issuer
	senderIDs     IDGenerator
	limiters      *limiterPool
	guestLimiters *limiterPool
	adminKeyHash  string
)

// NewRouter wires the room protocol, auth, admin and metrics routes.
func NewRouter(cfg *models.ConfigFile, _sugar *zap.SugaredLogger, _registry *room.Registry, _issuer *jwt.Issuer, _senderIDs IDGenerator) http.Handler {
	sugar = _sugar
	registry = _registry
	issuer = _issuer
	senderIDs = _senderIDs
	if limiters != nil {
		limiters.Shutdown()
		guestLimiters.Shutdown()
	}
	limiters = newLimiterPool(cfg.SubmitRate, cfg.SubmitBurst)
	guestLimiters = newLimiterPool(guestRate(cfg), guestBurst(cfg))
	adminKeyHash = cfg.AdminKeyHash

	r := chi.NewRouter()
	if cfg.BehindNginx {
		r.Use(middleware.RealIP)
	}
	if cfg.AllowOrigin != "" {
		r.Use(AllowCors(cfg.AllowOrigin))
	}
	if cfg.PrintHttpRequests {
		r.Use(middleware.Logger)
	}

	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	r.Route("/api", func(api chi.Router) {
		api.Route("/auth", func(r chi.Router) {
			r.With(GuestLimiter).Post("/guest", Guest)
			r.With(SenderLoader, RequireSender).Get("/me", Me)
		})

		api.Route("/rooms/{channel}", func(r chi.Router) {
			r.Use(RoomLoader)
			r.Use(SenderLoader)

			r.Get("/config", GetRoomConfig)
			r.Get("/messages", ListMessages)

			r.Group(func(r chi.Router) {
				r.Use(RequireSender)
				r.With(SubmitLimiter).Post("/messages", CreateMessage)
				r.Put("/messages", UpdateMessage)
				r.Put("/messages/{id}", UpdateMessage)
				r.Delete("/messages", DeleteMessage)
				r.Delete("/messages/{id}", DeleteMessage)
			})
		})

		api.Route("/admin", func(r chi.Router) {
			r.Use(AdminVerifier)
			r.Delete("/rooms/{channel}", ResetRoom)
			r.Post("/moderators", CreateModerator)
		})
	})

	r.Handle("/metrics", metrics.Handler())

	return r
}

func guestRate(cfg *models.ConfigFile) float64 {
	if cfg.GuestRate > 0 {
		return cfg.GuestRate
	}
	return 0.1
}

func guestBurst(cfg *models.ConfigFile) int {
	if cfg.GuestBurst > 0 {
		return cfg.GuestBurst
	}
	return 10
}

func Setup(isHttps bool, cfg *models.ConfigFile, _sugar *zap.SugaredLogger, _registry *room.Registry, _issuer *jwt.Issuer, _senderIDs IDGenerator) error {
	r := NewRouter(cfg, _sugar, _registry, _issuer, _senderIDs)

	address := fmt.Sprintf("%s:%s", cfg.Address, cfg.Port)

	if isHttps {
		return http.ListenAndServeTLS(address, cfg.TlsCert, cfg.TlsKey, r)
	}
	return http.ListenAndServe(address, r)
}
