package main

import (
	"bytes"
	"context"
	"errors"
	"flag"
	"image/png"
	"log"
	"log/slog"
	"net/http"
	"os/signal"
	"strconv"
	"sync"
	"syscall"
	"time"

	"github.com/eak1mov/go-rastertiles/internal/config"
	"github.com/eak1mov/go-rastertiles/tile"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/subcommands"
)

type serveCmd struct {
	configPath string
	bind       string
	port       int
}

func (c *serveCmd) Name() string     { return "serve" }
func (c *serveCmd) Synopsis() string { return "serve the combined layers as PNG tiles over HTTP" }
func (c *serveCmd) Usage() string {
	return "rastertiles serve -c <path> [-b <address>] [-p <port>]\n"
}
func (c *serveCmd) SetFlags(f *flag.FlagSet) {
	f.StringVar(&c.configPath, "c", "rastertiles.yaml", "Config file path")
	f.StringVar(&c.bind, "b", "", "Bind address, overrides server.bind")
	f.IntVar(&c.port, "p", 0, "Port to listen on, overrides server.port")
}

func encodePNG(b *tile.Bitmap) ([]byte, error) {
	var buf bytes.Buffer
	if err := png.Encode(&buf, b.NRGBA()); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// tileServer serializes reads of a reader that is not safe for concurrent use.
type tileServer struct {
	mu     sync.Mutex
	reader tile.Reader
	logger *slog.Logger
}

func (s *tileServer) readTile(tileID tile.ID) *tile.Bitmap {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reader.ReadTile(tileID)
}

func (s *tileServer) handleTile(w http.ResponseWriter, r *http.Request) {
	var tileID tile.ID
	for _, p := range []struct {
		name string
		v    *int
	}{
		{"level", &tileID.Level},
		{"column", &tileID.Column},
		{"row", &tileID.Row},
	} {
		n, err := strconv.Atoi(chi.URLParam(r, p.name))
		if err != nil {
			http.Error(w, "invalid "+p.name, http.StatusBadRequest)
			return
		}
		*p.v = n
	}

	b := s.readTile(tileID)
	if b == nil {
		http.NotFound(w, r)
		return
	}
	data, err := encodePNG(b)
	if err != nil {
		s.logger.Error("rastertiles: encode tile", "tile", tileID.String(), "error", err)
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("X-Data-Level", strconv.Itoa(b.DataLevel))
	w.Write(data)
}

func newRouter(reader tile.Reader, timeout time.Duration, logger *slog.Logger) http.Handler {
	s := &tileServer{reader: reader, logger: logger}

	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Timeout(timeout))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok"))
	})
	r.Get("/tiles/{level}/{column}/{row}.png", s.handleTile)
	return r
}

func (c *serveCmd) Execute(ctx context.Context, _ *flag.FlagSet, _ ...any) subcommands.ExitStatus {
	cfg, err := config.Load(c.configPath)
	if err != nil {
		log.Println(err)
		return subcommands.ExitFailure
	}
	if c.bind != "" {
		cfg.Server.Bind = c.bind
	}
	if c.port != 0 {
		cfg.Server.Port = c.port
	}

	logger := newLogger()
	cp, err := cfg.Open(ctx, logger)
	if err != nil {
		log.Println(err)
		return subcommands.ExitFailure
	}
	defer cp.Close()

	httpServer := &http.Server{
		Addr:         cfg.Server.Addr(),
		Handler:      newRouter(cp, cfg.Server.Timeout, logger),
		ReadTimeout:  cfg.Server.Timeout,
		WriteTimeout: cfg.Server.Timeout,
	}

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			log.Printf("server shutdown error: %v", err)
		}
	}()

	log.Printf("serving tiles on http://%s/tiles/{level}/{column}/{row}.png", httpServer.Addr)
	if err := httpServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		log.Println(err)
		return subcommands.ExitFailure
	}
	log.Println("server stopped")

	return subcommands.ExitSuccess
}
