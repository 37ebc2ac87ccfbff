package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net"
	"net/http"
	"net/http/pprof"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/gorilla/mux"

	"hexmarket.gg/internal/game/directory"
	"hexmarket.gg/internal/game/tuning"
	"hexmarket.gg/internal/persistence/statestore"
	"hexmarket.gg/internal/protocol"
	"hexmarket.gg/internal/transport/ws"
)

func main() {
	var (
		addr       = flag.String("addr", ":8080", "http listen address")
		dataDir    = flag.String("data", "./data", "runtime data directory")
		tuningPath = flag.String("tuning", "", "path to tuning.yaml (empty: compiled-in defaults)")
	)
	flag.Parse()

	logger := log.New(os.Stdout, "[server] ", log.LstdFlags|log.Lmicroseconds)

	tp := strings.TrimSpace(*tuningPath)
	tun, err := tuning.Load(tp)
	if err != nil {
		if os.IsNotExist(err) {
			logger.Printf("tuning not found (%s); using defaults", tp)
			tun = tuning.Default()
		} else {
			logger.Fatalf("load tuning: %v", err)
		}
	}

	_ = os.MkdirAll(*dataDir, 0o755)
	store, err := statestore.Open(filepath.Join(*dataDir, "state.db"))
	if err != nil {
		logger.Fatalf("open state store: %v", err)
	}
	defer store.Close()

	// The directory purges stale rows at boot: rooms never resume across
	// restarts, only archives and journals survive.
	dir := directory.New(tun, store, *dataDir)
	defer dir.Close()

	validator, err := protocol.NewValidator()
	if err != nil {
		logger.Fatalf("compile wire schemas: %v", err)
	}
	wsSrv := ws.NewServer(dir, validator, logger)

	ctx, cancel := signalContext()
	defer cancel()

	enableAdminHTTP := envBool("HEXMARKET_ENABLE_ADMIN_HTTP", defaultEnableAdminHTTP())
	enablePprofHTTP := envBool("HEXMARKET_ENABLE_PPROF_HTTP", false)
	if !enableAdminHTTP {
		logger.Printf("admin endpoints disabled (HEXMARKET_ENABLE_ADMIN_HTTP=false)")
	}
	r := buildRouter(dir, wsSrv, logger, enableAdminHTTP, enablePprofHTTP, time.Now())

	srv := &http.Server{
		Addr:              *addr,
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		ctx2, cancel2 := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel2()
		_ = srv.Shutdown(ctx2)
	}()

	logger.Printf("listening on %s", *addr)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Fatalf("ListenAndServe: %v", err)
	}
}

func buildRouter(dir *directory.Directory, wsSrv *ws.Server, logger *log.Logger, enableAdmin, enablePprof bool, startedAt time.Time) *mux.Router {
	api := &apiServer{dir: dir, log: logger}

	r := mux.NewRouter()
	r.HandleFunc("/healthz", func(rw http.ResponseWriter, _ *http.Request) {
		rw.WriteHeader(200)
		_, _ = rw.Write([]byte("ok"))
	}).Methods(http.MethodGet)

	r.HandleFunc("/metrics", func(rw http.ResponseWriter, _ *http.Request) {
		rw.Header().Set("Content-Type", "text/plain; version=0.0.4")

		// Minimal Prometheus exposition format.
		fmt.Fprintf(rw, "# HELP hexmarket_rooms_active Current number of live rooms.\n")
		fmt.Fprintf(rw, "# TYPE hexmarket_rooms_active gauge\n")
		fmt.Fprintf(rw, "hexmarket_rooms_active %d\n", dir.RoomsActive())

		fmt.Fprintf(rw, "# HELP hexmarket_rooms_created_total Total rooms created since boot.\n")
		fmt.Fprintf(rw, "# TYPE hexmarket_rooms_created_total counter\n")
		fmt.Fprintf(rw, "hexmarket_rooms_created_total %d\n", dir.RoomsCreated())

		fmt.Fprintf(rw, "# HELP hexmarket_connections_active Current number of bound websocket connections.\n")
		fmt.Fprintf(rw, "# TYPE hexmarket_connections_active gauge\n")
		fmt.Fprintf(rw, "hexmarket_connections_active %d\n", wsSrv.ConnectionsActive())

		fmt.Fprintf(rw, "# HELP hexmarket_messages_in_total Total validated inbound frames delivered to rooms.\n")
		fmt.Fprintf(rw, "# TYPE hexmarket_messages_in_total counter\n")
		fmt.Fprintf(rw, "hexmarket_messages_in_total %d\n", wsSrv.MessagesInTotal())

		fmt.Fprintf(rw, "# HELP hexmarket_broadcasts_total Total outbound frames written to clients.\n")
		fmt.Fprintf(rw, "# TYPE hexmarket_broadcasts_total counter\n")
		fmt.Fprintf(rw, "hexmarket_broadcasts_total %d\n", wsSrv.BroadcastsTotal())

		fmt.Fprintf(rw, "# HELP hexmarket_errors_total Total rejected or dropped frames at the transport layer.\n")
		fmt.Fprintf(rw, "# TYPE hexmarket_errors_total counter\n")
		fmt.Fprintf(rw, "hexmarket_errors_total %d\n", wsSrv.ErrorsTotal())

		fmt.Fprintf(rw, "# HELP hexmarket_uptime_seconds Seconds since process start.\n")
		fmt.Fprintf(rw, "# TYPE hexmarket_uptime_seconds gauge\n")
		fmt.Fprintf(rw, "hexmarket_uptime_seconds %.0f\n", time.Since(startedAt).Seconds())
	}).Methods(http.MethodGet)

	r.HandleFunc("/v1/rooms", api.createRoom).Methods(http.MethodPost)
	r.HandleFunc("/v1/rooms", api.listRooms).Methods(http.MethodGet)
	r.HandleFunc("/v1/rooms/{roomID}/join", api.joinRoom).Methods(http.MethodPost)
	r.HandleFunc("/v1/rooms/{roomID}/ws", wsSrv.Handler()).Methods(http.MethodGet)

	if enableAdmin {
		// Local-only admin endpoints.
		r.HandleFunc("/admin/v1/rooms/{roomID}/state", func(rw http.ResponseWriter, req *http.Request) {
			if !isLoopbackRemote(req.RemoteAddr) {
				http.Error(rw, "forbidden", http.StatusForbidden)
				return
			}
			rm := dir.Room(mux.Vars(req)["roomID"])
			if rm == nil {
				http.NotFound(rw, req)
				return
			}
			ctx2, cancel2 := context.WithTimeout(req.Context(), 5*time.Second)
			defer cancel2()
			b, err := rm.Snapshot(ctx2)
			if err != nil {
				http.Error(rw, err.Error(), http.StatusServiceUnavailable)
				return
			}
			rw.Header().Set("Content-Type", "application/json")
			_, _ = rw.Write(b)
		}).Methods(http.MethodGet)
	}
	if enablePprof {
		r.HandleFunc("/debug/pprof/", pprof.Index)
		r.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
		r.HandleFunc("/debug/pprof/profile", pprof.Profile)
		r.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
		r.HandleFunc("/debug/pprof/trace", pprof.Trace)
	}
	return r
}

func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	ch := make(chan os.Signal, 2)
	signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-ch
		cancel()
	}()
	return ctx, cancel
}

func isLoopbackRemote(remoteAddr string) bool {
	host := remoteAddr
	if h, _, err := net.SplitHostPort(remoteAddr); err == nil {
		host = h
	}
	host = strings.TrimPrefix(host, "[")
	host = strings.TrimSuffix(host, "]")
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}

func envBool(key string, def bool) bool {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

func defaultEnableAdminHTTP() bool {
	switch strings.ToLower(strings.TrimSpace(os.Getenv("DEPLOY_ENV"))) {
	case "staging", "production":
		return false
	default:
		return true
	}
}
