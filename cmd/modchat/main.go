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

	"github.com/benbjohnson/clock"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"modchat/internal/adapter/api"
	"modchat/internal/adapter/api/handler"
	apimiddleware "modchat/internal/adapter/api/middleware"
	"modchat/internal/adapter/api/router"
	"modchat/internal/adapter/repository"
	"modchat/internal/infrastructure/cache"
	"modchat/internal/infrastructure/ratelimit"
	"modchat/internal/infrastructure/websocket"
	"modchat/internal/usecase"
	"modchat/pkg/config"
	"modchat/pkg/logger"
)

const shutdownTimeout = 10 * time.Second

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(fmt.Sprintf("failed to load config: %v", err))
	}

	log := logger.New(cfg.LogLevel, cfg.Environment)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	clk := clock.New()

	hub := websocket.NewHub(logger.Component(log, "hub"))
	hub.Start(ctx)

	tokens := repository.NewMemoryTokenStore(cfg.AuthToken, clk)
	chatRepo := repository.NewHTTPChatRepository(
		cfg.APIBaseURL,
		cfg.RequestTimeout,
		cfg.ModeratorID,
		tokens,
		func(status int) {
			hub.Notify(websocket.NotifyAuthRequired, map[string]int{"status": status})
		},
		logger.Component(log, "transport"),
	)

	socketHeader := http.Header{}
	if cfg.AuthToken != "" {
		socketHeader.Set("Authorization", "Bearer "+cfg.AuthToken)
	}
	socketConfig := func(url string) websocket.Config {
		return websocket.Config{
			URL:                  url,
			Header:               socketHeader,
			MaxReconnectAttempts: cfg.MaxReconnectAttempts,
			BaseDelay:            cfg.BaseDelay,
			MaxDelay:             cfg.MaxDelay,
			ConnectionTimeout:    cfg.ConnectionTimeout,
		}
	}

	connections := websocket.NewConnectionManager(websocket.NewGorillaDialer(), clk, logger.Component(log, "socket"))
	defer connections.Close()

	decoder := websocket.NewEventDecoder(cfg.ModeratorID)
	historyCache := cache.NewHistoryCache(cfg.HistoryCacheTTL, cfg.PrefetchConcurrency, clk, logger.Component(log, "history"))

	roster := usecase.NewRosterUseCase(usecase.RosterConfig{
		Socket:          socketConfig(cfg.RosterWSURL),
		Cooldown:        cfg.RosterCooldown,
		Debounce:        cfg.RosterDebounce,
		RefreshInterval: cfg.RosterRefreshInterval,
		PageSize:        cfg.RosterPageSize,
	}, chatRepo, connections, decoder, clk, logger.Component(log, "roster"))
	roster.Subscribe(func() {
		hub.Notify(websocket.NotifyRosterChanged, nil)
	})

	session := usecase.NewModeratorSession(usecase.SessionConfig{
		ModeratorID:           cfg.ModeratorID,
		ConversationSocket:    socketConfig(cfg.ConversationWSURL),
		PageSize:              cfg.HistoryPageSize,
		TypingTimeout:         cfg.TypingTimeout,
		ConnectionWaitTimeout: cfg.ConnectionWaitTimeout,
		SendMaxRetries:        cfg.SendMaxRetries,
		SendRetryDelay:        cfg.SendRetryDelay,
	}, chatRepo, connections, historyCache, decoder, roster, clk, logger.Component(log, "session"))
	session.OnConversationChange(func() {
		hub.Notify(websocket.NotifyConversationChanged, nil)
	})

	roster.Start(ctx)
	defer session.Close()

	limiter := ratelimit.NewRateLimiter(clk, ratelimit.DefaultLimits)
	apimiddleware.CleanupRateLimiter(ctx, limiter, time.Hour, 2*time.Hour)

	handler.Setup(session, connections, cfg.RosterWSURL, hub)

	e := echo.New()
	e.HideBanner = true

	e.Use(middleware.Recover())
	e.Use(middleware.CORS())
	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogURI:    true,
		LogStatus: true,
		LogMethod: true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			log.Info().Str("method", v.Method).Str("uri", v.URI).Int("status", v.Status).Msg("request")
			return nil
		},
	}))

	e.Validator = api.NewValidator()

	authMiddleware := apimiddleware.NewAuthMiddleware(cfg.APIToken)
	router.Setup(e, authMiddleware, limiter, log)

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", cfg.Addr()).Msg("starting server")
		errCh <- e.Start(cfg.Addr())
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("server stopped")
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("failed to shutdown server")
	}
	log.Info().Msg("server stopped")
}
