package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dermashare/backend/internal/config"
	"github.com/dermashare/backend/internal/database"
	"github.com/dermashare/backend/internal/handlers"
	"github.com/dermashare/backend/internal/imaging"
	"github.com/dermashare/backend/internal/middleware"
	"github.com/dermashare/backend/internal/models"
	"github.com/dermashare/backend/internal/services"
	"github.com/dermashare/backend/internal/storage"
	"github.com/dermashare/backend/pkg/logger"
	"github.com/dermashare/backend/pkg/utils"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/recover"
)

func main() {
	logger.Init()

	cfg := config.Load()
	utils.ConfigureJWT(cfg.JWT.Secret, cfg.JWT.ExpirationHours)

	db, err := database.Connect(cfg.DB)
	if err != nil {
		log.Fatalf("database connection failed: %v", err)
	}

	storageClient, err := storage.NewMinIOClient(cfg.MinIO)
	if err != nil {
		log.Fatalf("minio initialization failed: %v", err)
	}
	if err := storageClient.EnsureBuckets(context.Background()); err != nil {
		log.Fatalf("failed ensuring minio buckets: %v", err)
	}

	auditService := services.NewAuditService(db)
	connectionService := services.NewConnectionService(db)
	processor := services.NewSegmentationClient(cfg.Segmentation.ProcessorURL)

	browser := imaging.NewBrowser(storageClient)
	uploader := imaging.NewUploader(storageClient)
	notes := imaging.NewNoteManager(storageClient)
	sharer := imaging.NewSharer(storageClient)
	segmenter := imaging.NewSegmenter(
		storageClient,
		processor,
		cfg.Segmentation.SettleDelay,
		cfg.Segmentation.PollTimeout,
	)

	authHandler := handlers.NewAuthHandler(db, auditService)
	imagesHandler := handlers.NewImagesHandler(browser, uploader, notes, sharer, segmenter, auditService)
	connectionsHandler := handlers.NewConnectionsHandler(connectionService, auditService)
	auditHandler := handlers.NewAuditHandler(db)

	authMiddleware := middleware.NewAuthMiddleware(db)

	app := fiber.New(fiber.Config{BodyLimit: 100 * 1024 * 1024})
	app.Use(recover.New(recover.Config{EnableStackTrace: true}))
	app.Use(middleware.CORS())
	app.Use(middleware.RequestLogger())
	app.Use(middleware.SecurityLogger())

	app.Get("/health", func(c *fiber.Ctx) error {
		return c.Status(fiber.StatusOK).JSON(fiber.Map{"status": "ok"})
	})

	api := app.Group("/api")

	authRoutes := api.Group("/auth")
	authRoutes.Post("/register", authHandler.Register)
	authRoutes.Post("/login", authHandler.Login)
	authRoutes.Get("/me", authMiddleware.RequireAuth, authHandler.Me)

	imageRoutes := api.Group("/images", authMiddleware.RequireAuth)
	imageRoutes.Get("/", imagesHandler.List)
	imageRoutes.Post("/upload", imagesHandler.Upload)
	imageRoutes.Get("/notes", imagesHandler.ListNotes)
	imageRoutes.Post("/notes", imagesHandler.AddNote)
	imageRoutes.Post("/share",
		middleware.RequireRoles(models.UserRoleDoctor),
		imagesHandler.Share,
	)
	imageRoutes.Post("/segment",
		middleware.RequireRoles(models.UserRoleDoctor),
		imagesHandler.Segment,
	)

	consentRoutes := api.Group("/consent", authMiddleware.RequireAuth)
	consentRoutes.Get("/", imagesHandler.GetConsent)
	consentRoutes.Post("/",
		middleware.RequireRoles(models.UserRolePatient),
		imagesHandler.SaveConsent,
	)

	connectionRoutes := api.Group("/connections", authMiddleware.RequireAuth)
	connectionRoutes.Get("/", connectionsHandler.List)
	connectionRoutes.Post("/", connectionsHandler.Add)
	connectionRoutes.Delete("/:email", connectionsHandler.Remove)

	api.Get("/audit", authMiddleware.RequireAuth, auditHandler.List)

	listenAddr := fmt.Sprintf(":%s", cfg.Server.Port)

	logger.Info("server_starting", map[string]interface{}{
		"port":       cfg.Server.Port,
		"address":    listenAddr,
		"body_limit": "100MB",
	})

	errCh := make(chan error, 1)
	go func() {
		errCh <- app.Listen(listenAddr)
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-quit:
		log.Printf("shutting down server due to signal: %s", sig)
		shutdownDone := make(chan struct{})
		go func() {
			_ = app.Shutdown()
			close(shutdownDone)
		}()
		select {
		case <-shutdownDone:
		case <-time.After(10 * time.Second):
			log.Print("forced shutdown timeout reached")
		}
	case err := <-errCh:
		if err != nil {
			log.Fatalf("server error: %v", err)
		}
	}
}
