package router

import (
	"github.com/gin-gonic/gin"

	"reflex-engine/internal/api/handler"
	"reflex-engine/internal/api/middleware"
	"reflex-engine/internal/pkg/config"
	"reflex-engine/internal/scheduler"
	"reflex-engine/internal/store"
)

// Setup builds the full route table under the configured base path.
func Setup(cfg *config.Config, st *store.Store, stats *scheduler.Stats) *gin.Engine {
	if cfg.Server.Mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(gin.Recovery())
	if cfg.RequestID {
		r.Use(middleware.RequestIDMiddleware())
	}
	r.Use(middleware.LoggerMiddleware())
	r.Use(middleware.StatsMiddleware(stats))

	base := r.Group(cfg.Server.RouteBase)

	healthHandler := handler.NewHealthHandler(cfg, stats)
	base.GET("/health", healthHandler.Check)

	tokenHandler := handler.NewTokenHandler(st, cfg)
	base.GET("/token", tokenHandler.Issue)

	authed := base.Group("", middleware.AttributesMiddleware(st))

	objectHandler := handler.NewObjectHandler(st)
	for _, k := range store.Kinds() {
		group := authed.Group("/" + k.Name)
		group.GET("", objectHandler.List(k))
		group.GET("/:target", objectHandler.Get(k))
		group.POST("", objectHandler.Create(k))
		group.PUT("/:target", objectHandler.Update(k))
		group.DELETE("/:target", objectHandler.Delete(k))
	}

	pingHandler := handler.NewInstancePingHandler(st)
	authed.PUT("/instance-ping/:target", pingHandler.Ping)

	return r
}
