package cli

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"flowline.dev/api"
	"flowline.dev/auth"
	"flowline.dev/channel"
	"flowline.dev/common"
	"flowline.dev/confirmation"
	"flowline.dev/conversation"
	"flowline.dev/executor"
	"flowline.dev/flow"
	"flowline.dev/llm"
	"flowline.dev/log"
	"flowline.dev/nlu"
	"flowline.dev/otel"
	"flowline.dev/persistence"
	"flowline.dev/preference"
	"flowline.dev/router"
	"flowline.dev/session"
	"flowline.dev/statemanager"
	"flowline.dev/version"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "start the webhook/admin HTTP server",
	Run:   runServe,
}

// runServe wires every component of the orchestration core together and
// starts the Echo HTTP surface: one POST /webhook/:platform per spec §6.1
// channel adapter, GET /healthz, and the statemanager-backed /admin/state*
// operator endpoints. Grounded on the teacher's root.go runServer
// (construct services, start Echo, wait for SIGINT/SIGTERM, shut down with
// a timeout), rewired from RabbitMQ/CouchDB/JWT onto this module's own
// session/persistence/channel/conversation stack.
func runServe(cmd *cobra.Command, args []string) {
	cfg := resolveConfig()
	if err := validate(cfg, true); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(ExitValidationError)
	}

	logger := log.New(log.DefaultConfig(), "orchctl-serve")
	ctx := context.Background()

	tracing := otel.Init("orchestration-core", version.GetCoreVersion())
	if tracing != nil {
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := tracing.Shutdown(shutdownCtx); err != nil {
				logger.WithError(err).Warn("otel shutdown failed")
			}
		}()
	}

	pool, err := persistence.Open(ctx, cfg.PostgresURL)
	if err != nil {
		logger.WithError(err).Error("connect to postgres")
		os.Exit(ExitUpstreamUnavailable)
	}
	defer pool.Close()
	if err := persistence.Migrate(ctx, pool); err != nil {
		logger.WithError(err).Error("migrate postgres schema")
		os.Exit(ExitPersistenceError)
	}

	sessions, err := session.NewRedisStore(cfg.SessionRedisURL, cfg.SessionTTL, logger)
	if err != nil {
		logger.WithError(err).Error("connect to session redis")
		os.Exit(ExitUpstreamUnavailable)
	}

	redisOpts, err := redis.ParseURL(cfg.SessionRedisURL)
	if err != nil {
		logger.WithError(err).Error("parse session redis url")
		os.Exit(ExitValidationError)
	}
	redisClient := redis.NewClient(redisOpts)
	inboundQueue := session.NewPerRecipientQueue(redisClient, cfg.QueueDepth)

	flowRepo := persistence.NewFlowRepository(pool)
	flowStore := flow.NewStore(flowRepo)
	if err := flowStore.Reload(ctx); err != nil {
		logger.WithError(err).Error("load flow definitions")
		os.Exit(ExitPersistenceError)
	}

	classifier := nlu.NewResilientClassifier(nlu.NewClient(cfg.NLUURL, cfg.NLUTimeout))
	llmProvider := llm.NewRetryingProvider(llm.NewClient(cfg.LLMURL, cfg.LLMTimeout), true)

	registry := executor.NewRegistry()
	registry.Register(executor.NewResponseExecutor())
	registry.Register(executor.NewSetExecutor())
	registry.Register(executor.NewValidationExecutor())
	registry.Register(executor.NewBranchExecutor())
	registry.Register(executor.NewHTTPExecutor(10 * time.Second))
	registry.Register(executor.NewLLMExecutor(llmProvider, cfg.LLMModel))
	registry.Register(executor.NewNLUExecutor(classifier, cfg.HighConfidence))

	engine := flow.NewEngine(registry, flowStore, logger)

	chanRegistry := channel.NewRegistry(logger)
	chanRegistry.RegisterNormalizer(channel.WebNormalizer{})
	webSender := channel.NewWebSender()
	chanRegistry.RegisterSender(webSender)
	dispatcher := channel.NewDispatcher(chanRegistry, logger)

	authRequired := make(router.AuthRequiredIntents, len(cfg.AuthRequiredIntents))
	for _, intent := range cfg.AuthRequiredIntents {
		authRequired[intent] = true
	}
	rtr := router.NewRouter(classifier, flowStore, cfg.HighConfidence, authRequired, cfg.AuthFlowID, cfg.DefaultFlowID)

	runsRepo := persistence.NewRunRepository(pool)
	messagesRepo := persistence.NewMessageRepository(pool)
	profilesRepo := persistence.NewProfileRepository(pool)

	confirmQueue := confirmation.NewQueue(redisClient, logger)
	confirmSink := confirmation.NewSink(confirmQueue)
	confirmPool := confirmation.NewPool(confirmQueue, confirmation.NewProcessor(dispatcher, sessions, logger))
	confirmPool.Start()
	defer confirmPool.Stop()

	enricher := preference.NewEnricher(llmProvider, cfg.LLMModel, profilesRepo, confirmSink, logger)

	ops := statemanager.New(statemanager.Config{ServiceName: "orchestration-core"})

	tracker := conversation.NewActiveRunTracker(0)
	svc := conversation.NewService(
		sessions, dispatcher, rtr, engine, flowStore,
		tracker,
		runsRepo, messagesRepo, enricher, ops, cfg.AuthFlowID, logger,
	)

	// Other nodes' run saves invalidate our in-process resume cache via
	// Postgres LISTEN/NOTIFY, so a stale copy is never resumed after a
	// run moved forward elsewhere (driveConversation falls back to
	// runsRepo.ActiveBySession on a cache miss).
	listenCtx, cancelListen := context.WithCancel(ctx)
	defer cancelListen()
	go func() {
		for listenCtx.Err() == nil {
			if err := runsRepo.Listen(listenCtx, tracker.InvalidateRun); err != nil && listenCtx.Err() == nil {
				logger.WithError(err).Warn("flow run notification listener dropped, reconnecting")
				time.Sleep(time.Second)
			}
		}
	}()

	e := echo.New()
	e.Use(middleware.Recover())
	e.Use(middleware.Logger())
	e.Use(otel.CorrelationMiddleware())

	e.GET("/healthz", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
	})

	e.POST("/webhook/:platform", func(c echo.Context) error {
		body, err := io.ReadAll(c.Request().Body)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "read body")
		}

		platform := common.Platform(c.Param("platform"))
		msg, err := chanRegistry.Normalize(c.Request().Context(), platform, body)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, err.Error())
		}

		if err := inboundQueue.Enqueue(c.Request().Context(), msg.RecipientID, msg); err != nil {
			if err == session.ErrQueueFull {
				return echo.NewHTTPError(http.StatusTooManyRequests, "recipient inbound backlog at capacity")
			}
			return echo.NewHTTPError(http.StatusServiceUnavailable, "enqueue inbound message")
		}

		var queued common.InboundMessage
		ok, err := inboundQueue.Dequeue(c.Request().Context(), msg.RecipientID, 2*time.Second, &queued)
		if err != nil || !ok {
			return echo.NewHTTPError(http.StatusServiceUnavailable, "dequeue inbound message")
		}

		if err := svc.HandleInbound(c.Request().Context(), queued); err != nil {
			logger.WithError(err).Warn("handle inbound message failed")
			return echo.NewHTTPError(http.StatusInternalServerError, "processing failed")
		}

		return c.NoContent(http.StatusAccepted)
	})

	adminGroup := e.Group("/admin")
	if cfg.AdminAPIKey != "" {
		adminGroup.Use(api.APIKeyAuth(cfg.AdminAPIKey))
	} else {
		logger.Warn("ADMIN_API_KEY unset, /admin/state routes are unauthenticated")
	}
	ops.RegisterRoutes(adminGroup)

	// Admin JWT path for the CLI's optional remote mode (`flows list
	// --remote`): a distinct credential from ADMIN_API_KEY, backed by its
	// own operator roster rather than the recipient/session data the rest
	// of /admin exposes. Bootstrapped from ADMIN_USERNAME/ADMIN_PASSWORD
	// since there is no self-service signup surface.
	if cfg.AdminUsername != "" && cfg.AdminPassword != "" {
		userStore := persistence.NewAdminUserStore(pool)
		authCfg := auth.DefaultConfig()
		authCfg.JWTSecret = cfg.JWTSecret
		authSvc := auth.NewAuthService(authCfg, userStore)
		if err := bootstrapAdminUser(authSvc, cfg.AdminUsername, cfg.AdminPassword); err != nil {
			logger.WithError(err).Warn("bootstrap admin user failed")
		}

		e.POST("/admin/auth/login", func(c echo.Context) error {
			var req struct{ Username, Password string }
			if err := c.Bind(&req); err != nil {
				return echo.NewHTTPError(http.StatusBadRequest, "decode login request")
			}
			result, err := authSvc.Login(req.Username, req.Password)
			if err != nil {
				return echo.NewHTTPError(http.StatusUnauthorized, err.Error())
			}
			return c.JSON(http.StatusOK, result)
		})

		remoteGroup := e.Group("/admin/remote", jwtAuth(authSvc))
		remoteGroup.GET("/flows", func(c echo.Context) error {
			defs, err := flowRepo.LoadAll(c.Request().Context())
			if err != nil {
				return echo.NewHTTPError(http.StatusInternalServerError, "load flows")
			}
			return c.JSON(http.StatusOK, defs)
		})
	} else {
		logger.Warn("ADMIN_USERNAME/ADMIN_PASSWORD unset, /admin/remote is disabled")
	}

	port := portOrDefault()
	go func() {
		if err := e.Start(":" + port); err != nil && err != http.ErrServerClosed {
			logger.WithError(err).Fatal("http server failed")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Warn("graceful shutdown failed")
	}
}

// bootstrapAdminUser creates the single operator account the remote admin
// path logs in as, if it doesn't already exist. Idempotent across restarts.
func bootstrapAdminUser(svc auth.AuthService, username, password string) error {
	if _, err := svc.GetUserByUsername(username); err == nil {
		return nil
	}
	_, err := svc.CreateUser(auth.CreateUserRequest{
		Username: username,
		Password: password,
		Roles:    []string{auth.RoleAdmin},
	})
	return err
}

// jwtAuth guards a route group with auth.AuthService.ValidateToken against
// a "Bearer <token>" Authorization header, mirroring the teacher's plain
// middleware-closure style rather than pulling in echo-jwt for one route.
func jwtAuth(svc auth.AuthService) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			const prefix = "Bearer "
			header := c.Request().Header.Get("Authorization")
			if len(header) <= len(prefix) || header[:len(prefix)] != prefix {
				return echo.NewHTTPError(http.StatusUnauthorized, "missing bearer token")
			}
			if _, err := svc.ValidateToken(header[len(prefix):]); err != nil {
				return echo.NewHTTPError(http.StatusUnauthorized, "invalid token")
			}
			return next(c)
		}
	}
}
