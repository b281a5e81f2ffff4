package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"
	_ "time/tzdata"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/joho/godotenv"

	"github.com/wayline/wayline/apps/api/config"
	"github.com/wayline/wayline/apps/api/departures"
	"github.com/wayline/wayline/apps/api/events"
	"github.com/wayline/wayline/apps/api/handlers"
	"github.com/wayline/wayline/apps/api/metrics"
	"github.com/wayline/wayline/apps/api/providers"
	"github.com/wayline/wayline/apps/api/repository"
	"github.com/wayline/wayline/apps/api/upstream"
)

// stopStore is implemented by both the SQLite and the Postgres repositories
type stopStore interface {
	handlers.PlaceRepository
	handlers.StopRepository
	handlers.RouteRepository
	handlers.Pinger
	UpsertFeeds(ctx context.Context, feeds map[string]string) error
}

func main() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds)

	// Load .env files from repository root
	// Load base .env first, then .env.local (which overrides for local development)
	_ = godotenv.Load("../../.env")
	_ = godotenv.Overload("../../.env.local") // Overload forces override of existing values

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	store, closeStore := openStore(ctx, cfg)
	defer closeStore()

	registry, err := providers.Load(cfg.ProvidersFile)
	if err != nil {
		log.Fatalf("Failed to load providers: %v", err)
	}
	log.Printf("Loaded %d providers from %s", registry.Len(), cfg.ProvidersFile)

	feeds := make(map[string]string, registry.Len())
	for _, p := range registry.All() {
		feeds[p.OnestopID] = p.Name
	}
	if err := store.UpsertFeeds(ctx, feeds); err != nil {
		log.Printf("Warning: failed to record feed names: %v", err)
	}

	collector := metrics.NewCollector()

	cacheOpts := []departures.Option{departures.WithMetrics(collector)}
	if cfg.NATSURL != "" {
		publisher, err := events.NewNATSPublisher(cfg.NATSURL, collector)
		if err != nil {
			log.Printf("Warning: departure events disabled: %v", err)
		} else {
			defer publisher.Close()
			cacheOpts = append(cacheOpts, departures.WithNotifier(publisher))
			log.Printf("Publishing departure refreshes to %s", cfg.NATSURL)
		}
	}

	cache := departures.New(cfg.Cache(), cacheOpts...)
	go cache.Run(ctx)

	httpClient := &http.Client{Timeout: cfg.FetchTimeout}
	var transitland *upstream.Transitland
	if cfg.TransitlandAPIKey != "" {
		transitland = upstream.NewTransitland(cfg.TransitlandBaseURL, cfg.TransitlandAPIKey, httpClient)
	} else {
		log.Println("Warning: TRANSITLAND_API_KEY not set, only providers with GTFS-RT feeds will serve departures")
	}
	router := upstream.NewRouter(transitland, httpClient, cfg.Location)

	r := newRouter(cfg, routerDeps{
		places:     handlers.NewPlacesHandler(store, registry.Groups(), collector),
		departures: handlers.NewDeparturesHandler(store, registry, cache, router),
		routes:     handlers.NewRoutesHandler(store, registry.ShowLines()),
		health:     handlers.NewHealthHandler(store, cache, registry.Len()),
		metrics:    collector,
	})

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
		// departures may wait for a broadened upstream fetch
		WriteTimeout: 2*cfg.FetchTimeout + 5*time.Second,
	}

	go func() {
		log.Printf("API server starting on :%s", cfg.Port)
		log.Println("Endpoints (also under /api):")
		log.Println("  GET /places?lat&lon&radius[&type=bike]")
		log.Println("  GET /departures?stopId&feedId")
		log.Println("  GET /routes")
		log.Println("  GET /health, /healthz, /metrics")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("Server failed to start: %v", err)
		}
	}()

	// Graceful shutdown
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	log.Println("Shutting down...")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("Warning: graceful shutdown failed: %v", err)
	}
	log.Println("API server stopped")
}

// openStore connects to Postgres when DATABASE_URL is set, SQLite otherwise
func openStore(ctx context.Context, cfg *config.Config) (stopStore, func()) {
	if cfg.DatabaseURL != "" {
		log.Println("Connecting to Postgres database")
		pg, err := repository.NewPostgresStopRepository(ctx, cfg.DatabaseURL)
		if err != nil {
			log.Fatalf("Failed to initialize Postgres database: %v", err)
		}
		if err := pg.EnsureSchema(ctx); err != nil {
			log.Fatalf("Failed to ensure schema: %v", err)
		}
		log.Println("Postgres database connection established")
		return pg, pg.Close
	}

	log.Printf("Connecting to SQLite database: %s", cfg.SQLitePath)
	sqliteDB, err := repository.NewSQLiteDB(cfg.SQLitePath)
	if err != nil {
		log.Fatalf("Failed to initialize SQLite database: %v", err)
	}
	if err := sqliteDB.EnsureSchema(ctx); err != nil {
		log.Fatalf("Failed to ensure schema: %v", err)
	}
	log.Println("SQLite database connection established")

	return sqliteStore{
		SQLiteStopRepository: repository.NewSQLiteStopRepository(sqliteDB.GetDB()),
		SQLiteDB:             sqliteDB,
	}, func() { sqliteDB.Close() }
}

// sqliteStore pairs the SQLite query repository with its writer
type sqliteStore struct {
	*repository.SQLiteStopRepository
	*repository.SQLiteDB
}

type routerDeps struct {
	places     *handlers.PlacesHandler
	departures *handlers.DeparturesHandler
	routes     *handlers.RoutesHandler
	health     *handlers.HealthHandler
	metrics    *metrics.Collector
}

// newRouter mounts every endpoint at the root and again under /api
func newRouter(cfg *config.Config, d routerDeps) chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.AllowedOrigins,
		AllowedMethods:   []string{"GET", "OPTIONS"},
		AllowedHeaders:   []string{"*"},
		AllowCredentials: true,
	}))
	r.Use(d.metrics.Middleware)

	r.Get("/health", d.health.GetHealth)
	r.Get("/healthz", d.health.Liveness)
	r.Method(http.MethodGet, "/metrics", d.metrics.Handler())

	mount := func(r chi.Router) {
		r.Get("/places", d.places.GetPlaces)
		r.Get("/departures", d.departures.GetDepartures)
		r.Get("/routes", d.routes.GetRoutes)
	}
	mount(r)
	r.Route("/api", func(r chi.Router) {
		mount(r)
		r.Get("/health", d.health.GetHealth)
	})

	// Static file serving (if configured)
	if cfg.StaticDir != "" {
		fs := http.FileServer(http.Dir(cfg.StaticDir))
		r.Handle("/*", fs)
	}

	return r
}
