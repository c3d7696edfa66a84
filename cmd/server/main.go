package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"

	"github.com/kartnagrale/relaychat/internal/identity"
	"github.com/kartnagrale/relaychat/internal/pipeline"
	"github.com/kartnagrale/relaychat/internal/presence"
	"github.com/kartnagrale/relaychat/internal/ratelimit"
	"github.com/kartnagrale/relaychat/internal/restapi"
	"github.com/kartnagrale/relaychat/internal/rooms"
	"github.com/kartnagrale/relaychat/internal/session"
	"github.com/kartnagrale/relaychat/internal/store"
	"github.com/kartnagrale/relaychat/internal/updatequeue"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

func main() {
	ctx := context.Background()

	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		log.Fatal("DATABASE_URL is required")
	}
	st, err := store.Open(ctx, dsn)
	if err != nil {
		log.Fatalf("cannot connect to database: %v", err)
	}
	defer st.Close()
	if err := st.CreateTables(ctx); err != nil {
		log.Fatalf("cannot create schema: %v", err)
	}
	log.Println("✅ connected to PostgreSQL")

	resolver := buildResolver()

	roomRegistry := rooms.NewRegistry()
	presenceRegistry := presence.NewRegistry()
	queue := updatequeue.NewManager()
	pipes := &pipeline.Pipelines{
		Store:       st,
		Rooms:       roomRegistry,
		Presence:    presenceRegistry,
		UpdateQueue: queue,
	}

	limiter := ratelimit.New(connectionsPerSecond(), connectionBurst())

	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))

	allowedOrigins := []string{"*"}
	if origin := os.Getenv("FRONTEND_URL"); origin != "" {
		allowedOrigins = []string{origin}
	}

	r.Mount("/", restapi.Router(st, allowedOrigins, identitySecret()))

	r.Get("/websocket", func(w http.ResponseWriter, r *http.Request) {
		if !limiter.Allow(r) {
			http.Error(w, "too many connection attempts", http.StatusTooManyRequests)
			return
		}
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			log.Printf("websocket upgrade error: %v", err)
			return
		}
		c := session.New(conn, r.RemoteAddr, resolver, st, presenceRegistry, roomRegistry, pipes)
		go c.Serve(context.Background())
	})

	srv := &http.Server{
		Addr:    ":" + port(),
		Handler: r,
	}

	go func() {
		log.Printf("🚀 relaychat listening on %s", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server error: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("graceful shutdown failed: %v", err)
	}
}

// buildResolver points at an external identity service when
// IDENTITY_SERVICE_URL is set, otherwise boots the in-process
// identity.LocalServer as a development stand-in.
func buildResolver() identity.Resolver {
	if baseURL := os.Getenv("IDENTITY_SERVICE_URL"); baseURL != "" {
		return identity.NewHTTPResolver(baseURL, nil)
	}

	local := identity.NewLocalServer(identitySecret())
	go func() {
		addr := ":" + identityPort()
		log.Printf("⚠️  no IDENTITY_SERVICE_URL set, serving local identity stand-in on %s", addr)
		if err := http.ListenAndServe(addr, local); err != nil {
			log.Printf("local identity server stopped: %v", err)
		}
	}()
	return identity.NewHTTPResolver("http://localhost:"+identityPort(), nil)
}

func identitySecret() string {
	if s := os.Getenv("JWT_SECRET"); s != "" {
		return s
	}
	return "development-secret-change-me"
}

func identityPort() string {
	if p := os.Getenv("IDENTITY_PORT"); p != "" {
		return p
	}
	return "8081"
}

func port() string {
	if p := os.Getenv("PORT"); p != "" {
		return p
	}
	return "8080"
}

func connectionsPerSecond() int {
	return envInt("CONNECT_RATE_LIMIT", 5)
}

func connectionBurst() int {
	return envInt("CONNECT_RATE_BURST", 10)
}

func envInt(name string, fallback int) int {
	v := os.Getenv(name)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}
