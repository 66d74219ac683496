package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"waypoint/api/internal/app"
	"waypoint/api/internal/authpw"
	"waypoint/api/internal/config"
	"waypoint/api/internal/draft"
	"waypoint/api/internal/email"
	"waypoint/api/internal/journal"
	"waypoint/api/internal/media"
	"waypoint/api/internal/search"
	"waypoint/api/internal/session"
	"waypoint/api/internal/store"
)

func main() {
	cfg := config.Load()
	ctx := context.Background()

	db, err := store.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("database connection failed: %v", err)
	}
	defer db.Close()

	if err := store.ApplyMigrations(ctx, db, cfg.MigrationsDir); err != nil {
		log.Fatalf("migrations failed: %v", err)
	}

	if err := os.MkdirAll(cfg.JournalDir, 0o755); err != nil {
		log.Fatalf("failed to create journal dir: %v", err)
	}

	dataStore := store.NewPostgresStore(db)
	journalService := journal.New(cfg.JournalDir)

	pgfts := search.NewPgFTS(db)
	var meiliClient *search.Meili
	if strings.TrimSpace(cfg.MeiliURL) != "" {
		meiliClient = search.NewMeili(cfg.MeiliURL, cfg.MeiliMasterKey)
	}
	searchService := search.NewService(meiliClient, pgfts)
	if meiliClient != nil {
		defer meiliClient.Close()
		go searchService.ReindexAllFromPG(ctx)
	}

	var drafts draft.Store
	var sessionStore *session.RedisStore
	if strings.TrimSpace(cfg.RedisURL) != "" {
		redisStore, err := draft.NewRedisStore(cfg.RedisURL, cfg.DraftTTL)
		if err != nil {
			log.Printf("WARNING: redis unavailable, review drafts held in memory: %v", err)
			drafts = draft.NewMemoryStore(cfg.DraftTTL)
		} else {
			log.Printf("Using Redis for review drafts")
			drafts = redisStore
		}
		sessionStore, err = session.NewRedisStore(cfg.RedisURL)
		if err != nil {
			log.Printf("WARNING: redis unavailable, refresh sessions held in Postgres: %v", err)
			sessionStore = nil
		} else {
			log.Printf("Using Redis for refresh sessions")
			defer sessionStore.Close()
		}
	} else {
		drafts = draft.NewMemoryStore(cfg.DraftTTL)
	}
	defer drafts.Close()

	var mediaService *media.Service
	if strings.TrimSpace(cfg.MinioEndpoint) != "" {
		mediaService, err = media.New(ctx, cfg.MinioEndpoint, cfg.MinioAccessKey, cfg.MinioSecretKey, cfg.MinioBucket, cfg.MinioUseSSL)
		if err != nil {
			log.Fatalf("minio connection failed: %v", err)
		}
		log.Printf("Vision board images stored in bucket %s", cfg.MinioBucket)
	} else {
		log.Printf("MINIO_ENDPOINT not set, vision board images disabled")
	}

	emailService := email.NewService(email.Config{
		Host:     cfg.SMTPHost,
		Port:     cfg.SMTPPort,
		Username: cfg.SMTPUsername,
		Password: cfg.SMTPPassword,
		From:     cfg.SMTPFrom,
		FromName: cfg.SMTPFromName,
	})
	authService := authpw.NewService(dataStore)

	var service *app.Service
	if sessionStore != nil {
		service = app.NewWithSessionStore(cfg, dataStore, sessionStore, drafts, journalService, searchService, mediaService, authService, emailService)
	} else {
		service = app.New(cfg, dataStore, drafts, journalService, searchService, mediaService, authService, emailService)
	}

	httpServer := app.NewHTTPServer(service, cfg.CORSOrigin)
	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           httpServer.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		log.Printf("Waypoint API listening on %s", cfg.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server failed: %v", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("shutdown error: %v", err)
	}
}
