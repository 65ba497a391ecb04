package api

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"busline/internal/broadcast"
	"busline/internal/cache"
	"busline/internal/config"
	"busline/internal/database"
	"busline/internal/handlers"
	"busline/internal/jobs"
	"busline/internal/locktable"
	"busline/internal/messaging"
	"busline/internal/metrics"
	"busline/internal/middleware"
	"busline/internal/repository"
	"busline/internal/search"
	"busline/internal/service"
)

// Server wires the HTTP surface over the lock table and its backing stores.
type Server struct {
	router   *gin.Engine
	config   *config.Config
	db       *database.DB
	nats     *messaging.NATSClient
	redis    *cache.Client
	services *service.Services
	repos    *repository.Repositories
	hub      *broadcast.Hub
	relay    *service.Relay
	sweeper  *jobs.HoldSweepJob
}

func NewServer(cfg *config.Config) *Server {
	gin.SetMode(cfg.GinMode)

	db, err := database.Connect(cfg.Database)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}

	if err := db.RunMigrations(); err != nil {
		log.Fatalf("Failed to run migrations: %v", err)
	}

	// NATS, Redis and Elasticsearch are optional. A missing address skips
	// the client; the services degrade that concern instead of failing.
	var natsClient *messaging.NATSClient
	if cfg.NATS.URL != "" {
		natsClient, err = messaging.NewNATSClient(cfg.NATS)
		if err != nil {
			log.Fatalf("Failed to connect to NATS: %v", err)
		}
	} else {
		slog.Info("NATS not configured, skipping event relay")
	}

	var redisClient *cache.Client
	if cfg.Redis.Addr != "" {
		redisClient, err = cache.NewClient(cfg.Redis)
		if err != nil {
			log.Fatalf("Failed to connect to Redis: %v", err)
		}
	} else {
		slog.Info("Redis not configured, snapshots served uncached")
	}

	var searchClient *search.Client
	if cfg.Elasticsearch.URL != "" {
		searchClient, err = search.NewClient(cfg.Elasticsearch)
		if err != nil {
			log.Fatalf("Failed to connect to Elasticsearch: %v", err)
		}
	} else {
		slog.Info("Elasticsearch not configured, trip search uses the database")
	}

	repos := repository.NewRepositories(db)
	table := locktable.New()
	hub := broadcast.NewHub()
	instanceID := uuid.New().String()

	services := service.NewServices(service.Deps{
		Table:           table,
		Catalog:         repos.Trips,
		Bookings:        repos.Bookings,
		Searcher:        repos.Trips,
		Hub:             hub,
		NATS:            natsClient,
		Cache:           redisClient,
		Search:          searchClient,
		Metrics:         metrics.New("busline"),
		HoldTTL:         cfg.HoldTTL,
		FinalizeTimeout: cfg.FinalizeTimeout,
		InstanceID:      instanceID,
	})

	// Seed confirmed seats from the durable store so the runtime view
	// matches it from the first request.
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := services.Bookings.RestoreConfirmed(ctx); err != nil {
		log.Fatalf("Failed to restore confirmed seats: %v", err)
	}

	relay := service.NewRelay(natsClient, hub, redisClient, instanceID)
	if err := relay.Start(); err != nil {
		log.Fatalf("Failed to start event relay: %v", err)
	}

	router := gin.New()
	router.Use(middleware.Recovery())
	router.Use(middleware.CORS())
	router.Use(middleware.Logger())

	server := &Server{
		router:   router,
		config:   cfg,
		db:       db,
		nats:     natsClient,
		redis:    redisClient,
		services: services,
		repos:    repos,
		hub:      hub,
		relay:    relay,
		sweeper:  jobs.NewHoldSweepJob(services.Holds, cfg.SweepInterval),
	}

	server.setupRoutes()

	return server
}

func (s *Server) setupRoutes() {
	h := handlers.NewHandlers(s.services, s.hub)

	api := s.router.Group("/api")
	api.Use(middleware.Session())
	{
		trips := api.Group("/trips")
		{
			trips.GET("", h.ListTrips)
			trips.GET("/:id/seats", h.GetSeats)
			trips.GET("/:id/stream", h.StreamSeats)
		}

		holds := api.Group("/holds")
		{
			holds.POST("", h.AcquireHold)
			holds.PATCH("/heartbeat", h.Heartbeat)
			holds.PATCH("/release", h.ReleaseHold)
		}

		bookings := api.Group("/bookings")
		{
			bookings.POST("", h.FinalizeBooking)
			bookings.GET("/:id", h.GetBooking)
			bookings.PATCH("/cancel", h.CancelBooking)
		}

		api.DELETE("/sessions/:id", h.CloseSession)
	}

	s.router.GET("/health", s.healthCheck)
	s.router.GET("/metrics", gin.WrapH(promhttp.Handler()))
}

func (s *Server) healthCheck(c *gin.Context) {
	if err := s.db.Healthy(c.Request.Context()); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"status": "degraded",
			"error":  err.Error(),
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"status":  "ok",
		"service": "busline-api",
		"version": "1.0.0",
	})
}

// StartJobs launches the background hold sweeper.
func (s *Server) StartJobs(ctx context.Context) {
	s.sweeper.Start(ctx)
}

func (s *Server) Run() error {
	addr := fmt.Sprintf(":%s", s.config.Port)
	return s.router.Run(addr)
}

// GetRouter returns the router for testing
func (s *Server) GetRouter() *gin.Engine {
	return s.router
}

// Cleanup closes connections in reverse dependency order.
func (s *Server) Cleanup() error {
	if s.sweeper != nil {
		s.sweeper.Stop()
	}

	if s.relay != nil {
		s.relay.Stop()
	}

	if s.nats != nil {
		if err := s.nats.Close(); err != nil {
			log.Printf("Error closing NATS connection: %v", err)
		}
	}

	if s.redis != nil {
		if err := s.redis.Close(); err != nil {
			log.Printf("Error closing Redis connection: %v", err)
		}
	}

	if s.db != nil {
		if err := s.db.Close(); err != nil {
			log.Printf("Error closing database connection: %v", err)
			return err
		}
	}

	return nil
}
