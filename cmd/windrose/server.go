package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	slogecho "github.com/samber/slog-echo"

	"github.com/windrose-social/windrose/apresolve"
	"github.com/windrose-social/windrose/idcache"
	"github.com/windrose-social/windrose/models"
	"github.com/windrose-social/windrose/rediskeys"
	"github.com/windrose-social/windrose/store"
)

type Server struct {
	resolver *apresolve.Resolver
	idents   *idcache.IdentityCache
	echo     *echo.Echo
	httpd    *http.Server
	logger   *slog.Logger
}

type Config struct {
	Resolver *apresolve.Resolver
	Idents   *idcache.IdentityCache
	Logger   *slog.Logger
	Bind     string
}

func NewServer(config Config) (*Server, error) {
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}

	e := echo.New()
	e.HideBanner = true
	e.Use(slogecho.New(logger))
	e.Use(middleware.Recover())
	e.Use(middleware.BodyLimit("64K"))

	srv := &Server{
		resolver: config.Resolver,
		idents:   config.Idents,
		echo:     e,
		logger:   logger,
	}
	srv.httpd = &http.Server{
		Handler:        srv,
		Addr:           config.Bind,
		WriteTimeout:   time.Minute,
		ReadTimeout:    time.Minute,
		MaxHeaderBytes: 1 * (1024 * 1024),
	}

	e.GET("/_health", srv.HandleHealthCheck)
	e.GET("/ap/resolve", srv.HandleResolve)
	e.GET("/ap/auth/key", srv.HandleAuthKey)
	e.GET("/ap/auth/actor", srv.HandleAuthActor)

	return srv, nil
}

func (srv *Server) ServeHTTP(rw http.ResponseWriter, req *http.Request) {
	srv.echo.ServeHTTP(rw, req)
}

func (srv *Server) RunAPI() error {
	srv.logger.Info("starting server", "bind", srv.httpd.Addr)
	go func() {
		if err := srv.httpd.ListenAndServe(); err != nil {
			if !errors.Is(err, http.ErrServerClosed) {
				srv.logger.Error("HTTP server shutting down unexpectedly", "err", err)
			}
		}
	}()

	// Wait for a signal to exit.
	quit := make(chan struct{})
	exitSignals := make(chan os.Signal, 1)
	signal.Notify(exitSignals, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-exitSignals
		srv.logger.Info("received OS exit signal", "signal", sig)

		if err := srv.Shutdown(); err != nil {
			srv.logger.Error("HTTP server shutdown error", "err", err)
		}

		close(quit)
	}()
	<-quit
	srv.logger.Info("graceful shutdown complete")
	return nil
}

func (srv *Server) RunMetrics(listen string) error {
	http.Handle("/metrics", promhttp.Handler())
	return http.ListenAndServe(listen, nil)
}

func (srv *Server) Shutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	err := srv.httpd.Shutdown(ctx)

	// drop resolution caches after in-flight requests drain
	srv.resolver.Shutdown()
	srv.idents.Shutdown()
	return err
}

func redisKeyCaches(redisURL string, db *store.Store) (apresolve.KeyCache, apresolve.KeyCache, error) {
	present := func(k *models.UserPublicKey) bool { return k != nil }
	byKeyID, err := rediskeys.New(redisURL, "authkey/id/", time.Hour*24, time.Minute*5, db.PublicKeyByKeyID, present)
	if err != nil {
		return nil, nil, err
	}
	byUserID, err := rediskeys.New(redisURL, "authkey/user/", time.Hour*24, time.Minute*5, db.PublicKeyByUserID, present)
	if err != nil {
		return nil, nil, err
	}
	return byKeyID, byUserID, nil
}
