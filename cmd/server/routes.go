package main

import (
	"net/url"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/pixlabel/backend/internal/config"
	"github.com/pixlabel/backend/internal/handlers"
	"github.com/pixlabel/backend/internal/middleware"
	"github.com/pixlabel/backend/internal/services"
	"github.com/pixlabel/backend/pkg/logger"
)

// registerRoutes sets up all HTTP routes on the given Gin engine.
func registerRoutes(r *gin.Engine, cfg *config.Config, svc *appServices) {
	r.Use(logger.GinLogger(), logger.GinRecovery())
	r.Use(middleware.CORS())

	loginLimiter := middleware.NewRateLimiter(1, 10)
	uploadLimiter := middleware.NewRateLimiter(5, 30)

	r.GET("/health", svc.healthHandler.CheckHealth)
	r.GET("/metrics", svc.metricsHandler.Metrics)

	// Public image links
	r.GET("/i/:id", svc.imageHandler.Access)
	if prefix := localFilesPrefix(&cfg.Storage); prefix != "" {
		r.Static(prefix, cfg.Storage.LocalRoot)
	}

	api := r.Group("/api")
	{
		auth := api.Group("/auth", loginLimiter.Middleware())
		{
			auth.POST("/login", svc.authHandler.Login)
			auth.POST("/register", svc.authHandler.Register)
			auth.POST("/refresh", svc.authHandler.Refresh)
			auth.POST("/logout", svc.authHandler.Logout)
		}

		// EventSource cannot send headers, the handler checks the token itself
		sseHandler := handlers.NewSSEHandler(services.GetSSEHub())
		api.GET("/events/exports", sseHandler.StreamExportEvents)

		protected := api.Group("")
		protected.Use(middleware.AuthRequired(), middleware.AuditLog())
		{
			protected.GET("/auth/me", svc.authHandler.GetCurrentUser)
			protected.PUT("/auth/password", svc.authHandler.ChangePassword)
			protected.PUT("/me/profile", svc.userHandler.UpdateProfile)
			protected.GET("/me/stats", svc.dashboardHandler.GetMyStats)

			// Images
			protected.POST("/images", uploadLimiter.Middleware(), svc.imageHandler.Upload)
			protected.GET("/images", svc.imageHandler.List)
			protected.GET("/images/:id", svc.imageHandler.GetByID)
			protected.DELETE("/images/:id", svc.imageHandler.Delete)

			// Annotation projects
			projects := protected.Group("/annotation-projects")
			{
				projects.GET("", svc.projectHandler.List)
				projects.GET("/:id", svc.projectHandler.GetByID)
				projects.DELETE("/:id", svc.projectHandler.Delete)
				projects.POST("/:id/images", svc.projectHandler.AddImages)
				projects.POST("/:id/images/upload", uploadLimiter.Middleware(), svc.projectHandler.Upload)
				projects.POST("/:id/members", svc.projectHandler.AddMembers)
				projects.POST("/:id/complete", svc.projectHandler.Complete)
				projects.GET("/:id/images", svc.projectHandler.ListImages)
				projects.GET("/:id/images/:imageId", svc.projectHandler.GetImage)
				projects.PUT("/:id/images/:imageId/annotation", svc.projectHandler.SaveAnnotation)
				projects.GET("/:id/annotations", svc.projectHandler.ListAnnotations)

				// Dataset export
				projects.POST("/:id/export", svc.exportHandler.Export)
				projects.POST("/:id/export-jobs", svc.exportHandler.SubmitJob)
				projects.GET("/:id/export-jobs", svc.exportHandler.ListJobs)
			}
			protected.GET("/export-jobs/:id", svc.exportHandler.GetJob)
		}

		admin := api.Group("")
		admin.Use(middleware.AuthRequired(), middleware.AdminRequired(), middleware.AuditLog())
		{
			admin.POST("/annotation-projects", svc.projectHandler.Create)
			admin.GET("/users", svc.authHandler.ListUsers)
			admin.PUT("/users/:id", svc.userHandler.Update)
			admin.DELETE("/users/:id", svc.userHandler.Delete)
			admin.GET("/admin/users", svc.userHandler.List)
			admin.GET("/admin/stats", svc.dashboardHandler.GetAdminStats)
			admin.GET("/admin/images", svc.imageHandler.ListAll)
			admin.DELETE("/admin/images/:id", svc.imageHandler.AdminDelete)
			admin.GET("/system-logs", svc.systemLogHandler.List)
			admin.GET("/system-logs/modules", svc.systemLogHandler.GetModules)
		}
	}
}

// localFilesPrefix is the path part of the public base URL when files are served by this process.
func localFilesPrefix(cfg *config.StorageConfig) string {
	if cfg.Driver != "" && cfg.Driver != "local" {
		return ""
	}
	u, err := url.Parse(cfg.PublicBaseURL)
	if err != nil {
		return ""
	}
	prefix := "/" + strings.Trim(u.Path, "/")
	if prefix == "/" {
		return ""
	}
	return prefix
}
