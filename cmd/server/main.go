package main

import (
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/codesync/backend/internal/api"
	"github.com/codesync/backend/internal/config"
	"github.com/codesync/backend/internal/db"
	"github.com/codesync/backend/internal/session"
	"github.com/codesync/backend/internal/ws"
)

func main() {
	cfg := loadConfig()

	database, err := db.New(cfg.Database.Path)
	if err != nil {
		log.Fatalf("Failed to initialize database: %v", err)
	}
	defer database.Close()

	registry := session.NewRegistry(database)

	reaper := session.NewReaper(registry, session.ReaperConfig{
		Interval: cfg.Session.ReapIntervalDuration(),
		EmptyTTL: cfg.Session.EmptyTTLDuration(),
	})
	reaper.Start()

	hub := ws.NewHub(registry, cfg.WebSocket)
	go hub.Run()

	apiHandler := api.New(hub, registry, database)

	// WebSocket endpoint
	http.HandleFunc("/ws", func(w http.ResponseWriter, r *http.Request) {
		ws.ServeWs(hub, w, r)
	})

	http.HandleFunc("/health", apiHandler.HealthHandler)
	http.HandleFunc("/api/stats", apiHandler.StatsHandler)
	http.HandleFunc("/api/sessions", apiHandler.SessionsRouter)
	http.HandleFunc("/api/sessions/", apiHandler.SessionsRouter)
	http.Handle("/metrics", promhttp.Handler())

	// Apply CORS middleware
	handler := corsMiddleware(http.DefaultServeMux)

	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		<-sigChan

		log.Println("Shutting down server...")
		reaper.Stop()
		database.Close()
		os.Exit(0)
	}()

	addr := cfg.Server.Host + ":" + strconv.Itoa(cfg.Server.Port)

	log.Printf("Code Sync server starting on %s", addr)
	log.Printf("Database: %s", cfg.Database.Path)
	log.Println("Endpoints:")
	log.Println("  - WebSocket: /ws")
	log.Println("  - Health:    GET /health")
	log.Println("  - Stats:     GET /api/stats")
	log.Println("  - Metrics:   GET /metrics")
	log.Println("  - Sessions:  GET/POST /api/sessions")
	log.Println("  - Session:   GET /api/sessions/{id}")

	if err := http.ListenAndServe(addr, handler); err != nil {
		log.Fatal("ListenAndServe: ", err)
	}
}

func loadConfig() *config.Config {
	cfg := config.Default()

	if path := os.Getenv("CODESYNC_CONFIG"); path != "" {
		loaded, err := config.Load(path)
		if err != nil {
			log.Fatalf("Failed to load config %s: %v", path, err)
		}
		cfg = loaded
	}

	if dbPath := os.Getenv("CODESYNC_DB_PATH"); dbPath != "" {
		cfg.Database.Path = dbPath
	}
	if port := os.Getenv("PORT"); port != "" {
		p, err := strconv.Atoi(port)
		if err != nil {
			log.Fatalf("Invalid PORT %q: %v", port, err)
		}
		cfg.Server.Port = p
	}

	return cfg
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}
