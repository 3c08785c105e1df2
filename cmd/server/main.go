package main

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/hibiken/asynq"
	"github.com/joho/godotenv"
	_ "github.com/lib/pq"
	config "github.com/maheshrc27/crosspost/configs"
	"github.com/maheshrc27/crosspost/internal/api/handlers"
	"github.com/maheshrc27/crosspost/internal/api/middleware"
	"github.com/maheshrc27/crosspost/internal/cache"
	job "github.com/maheshrc27/crosspost/internal/jobs"
	"github.com/maheshrc27/crosspost/internal/models"
	"github.com/maheshrc27/crosspost/internal/pool"
	"github.com/maheshrc27/crosspost/internal/queue"
	"github.com/maheshrc27/crosspost/internal/repository"
	"github.com/maheshrc27/crosspost/internal/scheduler"
	"github.com/maheshrc27/crosspost/internal/service"
	"github.com/maheshrc27/crosspost/pkg/utils"
	"github.com/redis/go-redis/v9"
	"github.com/robfig/cron"
	"github.com/sirupsen/logrus"
)

func main() {
	if err := godotenv.Load(); err != nil {
		logrus.Warn("Failed to load .env file: ", err)
	}

	cfg, err := config.LoadConfig()
	if err != nil {
		logrus.Fatalf("Failed to load config: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		logrus.Fatalf("Invalid config: %v", err)
	}

	logrus.SetFormatter(&logrus.JSONFormatter{})
	if level, err := logrus.ParseLevel(cfg.LogLevel); err == nil {
		logrus.SetLevel(level)
	}
	log.SetOutput(logrus.StandardLogger().Writer())

	db, err := sql.Open("postgres", cfg.PostgresURI)
	if err != nil {
		logrus.Fatalf("Failed to connect to database: %v", err)
	}
	defer closeDB(db)

	if err := db.Ping(); err != nil {
		logrus.Fatalf("Database is unreachable: %v", err)
	}
	if _, err := repository.Migrate(db); err != nil {
		logrus.Fatalf("Failed to migrate database: %v", err)
	}

	rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisURI})
	defer rdb.Close()

	sealer, err := utils.NewSealer([]byte(cfg.SecretKey))
	if err != nil {
		logrus.Fatalf("Failed to build token sealer: %v", err)
	}

	postRepo := repository.NewPostRepository(db)
	mediaRepo := repository.NewMediaRepository(db)
	credentialRepo := repository.NewCredentialRepository(db, sealer)
	historyRepo := repository.NewPostingHistoryRepository(db)

	postPool := pool.New(rdb, pool.PostsKey)
	credentialPool := pool.New(rdb, pool.CredentialsKey)

	// provider API calls only; media storage has its own client
	httpClient := &http.Client{Timeout: 2 * time.Minute}
	mediaService, err := service.NewMediaService(context.Background(), *cfg)
	if err != nil {
		logrus.Fatalf("Failed to set up media storage: %v", err)
	}

	poll := service.PollConfig{Interval: cfg.Media.PollInterval, Attempts: cfg.Media.PollAttempts}
	li, google, fb, ig := cfg.Linkedin(), cfg.Google(), cfg.Facebook(), cfg.Instagram()

	linkedinService := service.NewLinkedinService(service.LinkedinOAuthConfig(li.ClientID, li.ClientSecret, li.RedirectURI),
		mediaService, cache.NewUploadCache(rdb, 24*time.Hour), httpClient, poll)
	twitterService := service.NewTwitterService(cfg.XConsumerKey, cfg.XConsumerSecret, mediaService, httpClient, poll)
	youtubeService := service.NewYoutubeService(service.YoutubeOAuthConfig(google.ClientID, google.ClientSecret, google.RedirectURI),
		mediaService, httpClient, poll)
	instagramService := service.NewInstagramService(service.InstagramOAuthConfig(ig.ClientID, ig.ClientSecret, ig.RedirectURI),
		mediaService, httpClient, poll)
	facebookService := service.NewFacebookService(service.FacebookOAuthConfig(fb.ClientID, fb.ClientSecret, fb.RedirectURI),
		mediaService, httpClient, poll)

	providers := []service.Provider{linkedinService, twitterService, youtubeService, instagramService, facebookService}
	refreshers := make(map[models.Provider]service.Refresher, len(providers))
	for _, p := range providers {
		refreshers[p.Name()] = p
	}

	notifier := service.NewNotifier(cfg.SlackWebhookURL, httpClient)
	refreshService := service.NewRefreshService(credentialRepo, refreshers, credentialPool, notifier, cfg.Refresh)
	publishService := service.NewPublishService(postRepo, mediaRepo, credentialRepo, historyRepo, refreshService, providers...)
	postService := service.NewPostService(db, postRepo, mediaRepo, credentialRepo, historyRepo, postPool)
	oauthService := service.NewOAuthService(cfg.SecretKey, cache.NewStateStore(rdb), credentialRepo, refreshService,
		twitterService, httpClient, linkedinService, youtubeService, instagramService, facebookService)

	// queue
	worker := queue.NewQueue(publishService, refreshService)
	publisher, stopWorkers := startWorkers(cfg, worker)
	defer publisher.Close()

	// cron jobs
	postScanner := scheduler.NewScanner(queue.ClassPost, postPool, publisher, cfg.Scheduler.PostScanInterval, cfg.Scheduler)
	credentialScanner := scheduler.NewScanner(queue.ClassCredential, credentialPool, publisher, cfg.Scheduler.CredentialScanInterval, cfg.Scheduler)
	refreshTokenJob := job.NewTokenRefreshJob(credentialRepo, credentialPool, cfg.Refresh.SafetyWindow)

	c := cron.New()
	for _, e := range []struct {
		interval time.Duration
		run      func()
	}{
		{cfg.Scheduler.PostScanInterval, postScanner.Tick},
		{cfg.Scheduler.CredentialScanInterval, credentialScanner.Tick},
		{cfg.Scheduler.ReconcileInterval, refreshTokenJob.ReconcileTokens},
	} {
		if err := scheduler.Every(c, e.interval, e.run); err != nil {
			logrus.Fatalf("Failed to register cron job: %v", err)
		}
	}
	c.Start()

	app := fiber.New(fiber.Config{
		ReadTimeout:  10 * time.Minute,
		WriteTimeout: 10 * time.Minute,
		BodyLimit:    100 * 1024 * 1024, // 100 MB
		ErrorHandler: func(c *fiber.Ctx, err error) error {
			logrus.WithField("path", c.Path()).Error(err.Error())
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": err.Error()})
		},
	})

	app.Use(logger.New())
	app.Use(cors.New(cors.Config{
		AllowOrigins:     cfg.FrontendURL,
		AllowMethods:     "GET,POST,PUT,DELETE,OPTIONS",
		AllowHeaders:     "Origin, Content-Type, Accept, Authorization, X-User-ID",
		AllowCredentials: true,
		MaxAge:           3600,
	}))

	ops := handlers.NewOpsHandler(map[string]handlers.Check{
		"postgres": db.PingContext,
		"redis":    func(ctx context.Context) error { return rdb.Ping(ctx).Err() },
	}, postPool, credentialPool)
	platform := handlers.NewPlatformHandler(oauthService, *cfg)
	post := handlers.NewPostHandler(postService, mediaService)

	authMiddleware := middleware.NewAuthMiddleware(*cfg)
	api := app.Group("/api", authMiddleware.AuthMiddleware())
	handlers.Register(app, api, ops, platform, post)

	go func() {
		if err := app.Listen(":" + cfg.OpsPort); err != nil {
			logrus.Fatalf("Failed to start server: %v", err)
		}
	}()
	logrus.Infof("Server is running on http://localhost:%s", cfg.OpsPort)

	gracefulShutdown(app, c, stopWorkers)
}

// startWorkers starts the consumers of the configured backend and returns the
// publisher the scanners feed, plus a function that stops the consumers.
func startWorkers(cfg *config.Config, worker *queue.Queue) (queue.BatchPublisher, func()) {
	if cfg.Queue.Backend == "kafka" {
		publisher, err := queue.NewKafkaPublisher(cfg.Brokers(), cfg.Queue.ConfirmTimeout)
		if err != nil {
			logrus.Fatalf("Could not create kafka publisher: %v", err)
		}
		consumer, err := queue.NewKafkaConsumer(worker, cfg.Brokers(), cfg.Queue.KafkaGroupID, cfg.Queue.Concurrency)
		if err != nil {
			logrus.Fatalf("Could not create kafka consumer: %v", err)
		}

		ctx, cancel := context.WithCancel(context.Background())
		done := make(chan struct{})
		go func() {
			defer close(done)
			logrus.Info("Starting the kafka consumers...")
			consumer.Run(ctx)
		}()
		return publisher, func() {
			cancel()
			<-done
			if err := consumer.Close(); err != nil {
				logrus.Warn(err.Error())
			}
		}
	}

	redisConn := asynq.RedisClientOpt{Addr: cfg.RedisURI}
	server := queue.NewServer(redisConn, cfg.Queue)
	logrus.Info("Starting the Asynq server...")
	if err := server.Start(worker.Mux()); err != nil {
		logrus.Fatalf("Could not start Asynq server: %v", err)
	}
	return queue.NewAsynqPublisher(asynq.NewClient(redisConn), cfg.Queue.ConfirmTimeout), server.Shutdown
}

func closeDB(db *sql.DB) {
	fmt.Fprint(os.Stdout, "Closing database connection... ")
	if err := db.Close(); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to close database: %v", err)
		return
	}
	fmt.Fprintln(os.Stdout, "Done")
}

// gracefulShutdown stops taking new work first: no more scans, then no more
// HTTP, then the workers finish what they hold.
func gracefulShutdown(app *fiber.App, c *cron.Cron, stopWorkers func()) {
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)

	<-quit
	logrus.Info("Shutting down server...")

	c.Stop()
	if err := app.Shutdown(); err != nil {
		logrus.Errorf("Failed to shut down server: %v", err)
	}
	stopWorkers()

	logrus.Info("Server shutdown complete.")
}
