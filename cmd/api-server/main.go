package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/Guo-collabhash/SIweidaotu/internal/accounts"
	"github.com/Guo-collabhash/SIweidaotu/internal/common"
	"github.com/Guo-collabhash/SIweidaotu/internal/mindmaps"
	"github.com/Guo-collabhash/SIweidaotu/internal/upload"
	"github.com/Guo-collabhash/SIweidaotu/pkg/config"
)

func main() {
	cfg := config.LoadFromEnv()
	cfg.Logging.SetupLogging()

	log.Info().Msg("starting SIweidaotu API server")

	db, err := common.NewDatabase(&cfg.Database)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer db.Close()

	if err := db.Migrate(); err != nil {
		log.Fatal().Err(err).Msg("failed to run migrations")
	}

	var cache *common.Cache
	if cfg.Redis.Enabled {
		cache, err = common.NewCache(&cfg.Redis)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to connect to Redis")
		}
		defer cache.Close()
	}

	accountService := accounts.NewService(db, &cfg.Auth)
	mindmapService := mindmaps.NewService(db, cache)
	uploadManager := upload.NewManager(mindmapService, &cfg.Upload)
	defer uploadManager.Close()

	router := setupRouter(accountService, mindmapService, uploadManager, cfg)

	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	go func() {
		log.Info().Str("addr", server.Addr).Msg("listening")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("failed to start server")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("shutting down server")

	// Give outstanding requests 30 seconds to complete
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("server forced to shutdown")
	} else {
		log.Info().Msg("server shutdown complete")
	}
}

func setupRouter(accountService *accounts.Service, mindmapService *mindmaps.Service, uploadManager *upload.Manager, cfg *config.Config) *gin.Engine {
	if zerolog.GlobalLevel() == zerolog.DebugLevel {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()

	router.Use(gin.Logger())
	router.Use(gin.Recovery())
	router.Use(corsMiddleware())
	router.Use(maxBodyBytes(cfg.Server.MaxBodyBytes))

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":  "healthy",
			"service": "siweidaotu-api",
			"time":    time.Now().UTC(),
		})
	})

	api := router.Group("/api")
	{
		api.POST("/register", handleRegister(accountService))
		api.POST("/login", handleLogin(accountService))

		api.POST("/save-mindmap", handleSaveMindmap(mindmapService))
		api.GET("/mindmaps", handleListMindmaps(mindmapService))
		api.GET("/mindmaps/user/:userId", handleListUserMindmaps(mindmapService))
		api.GET("/mindmaps/:id", handleGetMindmapChunk(mindmapService))
		api.GET("/mindmaps/:id/info", handleGetMindmapInfo(mindmapService))

		api.POST("/upload/init", handleUploadInit(uploadManager))
		api.POST("/upload/chunk", handleUploadChunk(uploadManager))
		api.POST("/upload/complete", handleUploadComplete(uploadManager))
	}

	if cfg.Server.StaticDir != "" {
		setupStaticRoutes(router, cfg.Server.StaticDir)
	}

	return router
}

// setupStaticRoutes serves the bundled frontend, with / mapped to
// index.html
func setupStaticRoutes(router *gin.Engine, dir string) {
	router.StaticFile("/", filepath.Join(dir, "index.html"))
	fileServer := http.FileServer(http.Dir(dir))
	router.NoRoute(func(c *gin.Context) {
		if strings.HasPrefix(c.Request.URL.Path, "/api/") {
			c.AbortWithStatus(http.StatusNotFound)
			return
		}
		fileServer.ServeHTTP(c.Writer, c.Request)
	})
}

func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Credentials", "true")
		c.Header("Access-Control-Allow-Headers", "Content-Type, Content-Length, Accept-Encoding, Authorization, accept, origin, Cache-Control, X-Requested-With")
		c.Header("Access-Control-Allow-Methods", "POST, OPTIONS, GET, PUT, DELETE")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}

// maxBodyBytes caps request bodies so oversized single-shot saves fail fast;
// larger documents go through the chunked upload endpoints
func maxBodyBytes(limit int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, limit)
		c.Next()
	}
}
