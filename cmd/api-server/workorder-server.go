package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"
	"workorders/db"
	"workorders/db/migrations"
	"workorders/internal/config"
	"workorders/internal/documents"
	"workorders/internal/handlers"
	"workorders/internal/identity"
	"workorders/internal/memstore"
	"workorders/internal/portal"
	"workorders/internal/workorder"

	"github.com/jmoiron/sqlx"
	"github.com/labstack/gommon/log"
	_ "github.com/lib/pq"
	"github.com/spf13/pflag"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load(ctx, os.Args[1:])
	if errors.Is(err, pflag.ErrHelp) {
		return
	}
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	log.SetLevel(cfg.GommonLevel())
	log.SetHeader("${time_rfc3339} ${level} ${short_file}:${line}")

	auth, err := identity.New(cfg.JWTSecret)
	if err != nil {
		log.Fatal(err)
	}
	if cfg.IssueAdminToken != 0 {
		token, err := auth.Issue(identity.User{ID: cfg.IssueAdminToken, Role: identity.RoleAdmin}, 24*time.Hour)
		if err != nil {
			log.Fatal(err)
		}
		fmt.Println(token)
		return
	}

	store, closeStore, err := openStore(cfg)
	if err != nil {
		log.Fatal(err)
	}
	defer closeStore()

	docs, err := openDocuments(ctx, cfg)
	if err != nil {
		log.Fatal(err)
	}

	tokens, err := portal.NewService(cfg.PortalTokenSecret, cfg.PortalTokenTTL, nil)
	if err != nil {
		log.Fatal(err)
	}

	svc := workorder.NewService(workorder.Config{
		Store:         store,
		Tokens:        tokens,
		Documents:     docs,
		PortalBaseURL: cfg.PortalBaseURL,
	})
	h := handlers.NewHandler(svc)

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           h.Routes(auth),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Errorf("shutdown: %v", err)
		}
	}()

	log.Infof("Starting server on %s (storage=%s, documents=%s)", cfg.Addr, cfg.StorageDriver, cfg.DocumentsDriver)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatal(err)
	}
}

func openStore(cfg *config.Config) (workorder.Store, func(), error) {
	if cfg.StorageDriver == config.StorageMemory {
		log.Warn("using in-memory storage, data is lost on restart")
		return memstore.New(), func() {}, nil
	}

	dbConn, err := sqlx.Connect("postgres", cfg.PostgresConn)
	if err != nil {
		return nil, nil, fmt.Errorf("cannot connect to DB: %w", err)
	}
	if cfg.RunMigrations {
		if err := migrations.Run(dbConn.DB); err != nil {
			dbConn.Close()
			return nil, nil, err
		}
	}
	if v, err := migrations.Version(dbConn.DB); err == nil {
		log.Infof("database schema version %d", v)
	}
	return db.NewStorage(dbConn), func() { dbConn.Close() }, nil
}

func openDocuments(ctx context.Context, cfg *config.Config) (workorder.Documents, error) {
	if cfg.DocumentsDriver == config.DocumentsS3 {
		return documents.NewS3Store(ctx, cfg.S3Region, cfg.S3Bucket)
	}
	return documents.NewDiskStore(cfg.UploadDir)
}
