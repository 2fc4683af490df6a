package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"net/http"
	"os"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/robfig/cron/v3"
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"

	dbfs "github.com/rufuslabs/wappgate/db"
	"github.com/rufuslabs/wappgate/internal/auth"
	"github.com/rufuslabs/wappgate/internal/boot"
	"github.com/rufuslabs/wappgate/internal/bus"
	"github.com/rufuslabs/wappgate/internal/chatbot"
	"github.com/rufuslabs/wappgate/internal/config"
	"github.com/rufuslabs/wappgate/internal/db"
	"github.com/rufuslabs/wappgate/internal/funnel"
	"github.com/rufuslabs/wappgate/internal/handlers"
	"github.com/rufuslabs/wappgate/internal/leads"
	"github.com/rufuslabs/wappgate/internal/logger"
	"github.com/rufuslabs/wappgate/internal/server"
	"github.com/rufuslabs/wappgate/internal/tickets"
	"github.com/rufuslabs/wappgate/internal/users"
	"github.com/rufuslabs/wappgate/internal/version"
	"github.com/rufuslabs/wappgate/internal/whatsapp"
	"github.com/rufuslabs/wappgate/internal/whatsapp/bridge"
)

func provideConfig() (config.Config, error) {
	cfg, err := config.Load(os.Getenv("CONFIG_PATH"))
	if err != nil {
		return config.Config{}, fmt.Errorf("load config: %w", err)
	}
	return cfg, nil
}

func provideLogger(cfg config.Config) *slog.Logger {
	logger.Init(cfg.Log.Level, cfg.Log.Format)
	return logger.L
}

func migrationsFS() (fs.FS, error) {
	return fs.Sub(dbfs.MigrationsFS, "migrations")
}

func main() {
	if len(os.Args) > 1 && os.Args[1] == "migrate" {
		if err := runMigrate(os.Args[2:]); err != nil {
			fmt.Fprintf(os.Stderr, "migrate: %v\n", err)
			os.Exit(1)
		}
		return
	}

	fx.New(
		fx.Provide(
			provideConfig,
			boot.ProvideRuntimeConfig,
			provideLogger,

			provideDBConn,
			provideBridge,
			provideFactory,
			provideRegistry,
			fx.Annotate(whatsapp.NewSessionStore, fx.As(new(whatsapp.SessionStore))),
			provideSessions,
			provideMessages,

			provideFunnelGraph,
			fx.Annotate(funnel.NewConversationStore, fx.As(new(funnel.ConversationStore))),
			fx.Annotate(funnel.NewFlowLogger, fx.As(new(funnel.FlowLogger))),
			provideFunnelEngine,

			leads.NewService,
			tickets.NewService,
			users.NewService,
			provideChatbot,
			provideIssuer,

			provideServerHandler(handlers.NewPingHandler),
			provideServerHandler(handlers.NewAuthHandler),
			provideServerHandler(handlers.NewSessionsHandler),
			provideServerHandler(handlers.NewMessagesHandler),
			provideServerHandler(handlers.NewTicketsHandler),

			provideServer,
		),
		fx.Invoke(
			bindConsumers,
			startReconciler,
			startServer,
		),
		fx.WithLogger(func(logger *slog.Logger) fxevent.Logger {
			return &fxevent.SlogLogger{Logger: logger.With(slog.String("component", "fx"))}
		}),
	).Run()
}

func runMigrate(args []string) error {
	cfg, err := provideConfig()
	if err != nil {
		return err
	}
	log := provideLogger(cfg)

	command := "up"
	if len(args) > 0 {
		command = args[0]
		args = args[1:]
	}
	source, err := migrationsFS()
	if err != nil {
		return err
	}
	return db.RunMigrate(log, cfg.Postgres, source, command, args)
}

func provideServerHandler(fn any) any {
	return fx.Annotate(
		fn,
		fx.As(new(server.Handler)),
		fx.ResultTags(`group:"server_handlers"`),
	)
}

func provideDBConn(lc fx.Lifecycle, cfg config.Config) (*pgxpool.Pool, error) {
	conn, err := db.Open(context.Background(), cfg.Postgres)
	if err != nil {
		return nil, fmt.Errorf("db connect: %w", err)
	}
	lc.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			conn.Close()
			return nil
		},
	})
	return conn, nil
}

func provideBridge(lc fx.Lifecycle, log *slog.Logger) *bus.Bridge {
	eventBridge := bus.NewBridge(log)
	lc.Append(fx.Hook{
		OnStop: eventBridge.Shutdown,
	})
	return eventBridge
}

func provideFactory(log *slog.Logger, rc *boot.RuntimeConfig) whatsapp.Factory {
	return bridge.NewFactory(log, rc.BridgeURL, rc.BridgeToken)
}

func provideRegistry(log *slog.Logger, factory whatsapp.Factory, rc *boot.RuntimeConfig) *whatsapp.Registry {
	return whatsapp.NewRegistry(log, factory,
		whatsapp.WithCloseTimeout(rc.CloseTimeout),
		whatsapp.WithForceTimeout(rc.ForceTimeout),
	)
}

func provideSessions(lc fx.Lifecycle, log *slog.Logger, store whatsapp.SessionStore, registry *whatsapp.Registry, eventBridge *bus.Bridge, rc *boot.RuntimeConfig) *whatsapp.Sessions {
	sessions := whatsapp.NewSessions(log, store, registry, eventBridge, rc.ConnectBudget)
	lc.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			sessions.Shutdown(ctx)
			return nil
		},
	})
	return sessions
}

func provideMessages(log *slog.Logger, registry *whatsapp.Registry, rc *boot.RuntimeConfig) *whatsapp.Messages {
	return whatsapp.NewMessages(log, registry, rc.SendRatePerMin)
}

func provideFunnelGraph(cfg config.Config, log *slog.Logger) (*funnel.Graph, error) {
	if cfg.Chatbot.FunnelPath == "" {
		return funnel.DefaultGraph(), nil
	}
	graph, err := funnel.LoadGraph(cfg.Chatbot.FunnelPath)
	if err != nil {
		return nil, err
	}
	log.Info("funnel graph loaded",
		slog.String("path", cfg.Chatbot.FunnelPath),
		slog.Int("nodes", graph.Len()))
	return graph, nil
}

func provideFunnelEngine(log *slog.Logger, cfg config.Config, graph *funnel.Graph, store funnel.ConversationStore, flog funnel.FlowLogger) *funnel.Engine {
	return funnel.NewEngine(log, graph, store, flog, cfg.Chatbot.ResetKeyword)
}

func provideIssuer(rc *boot.RuntimeConfig) *auth.Issuer {
	return auth.NewIssuer(rc.JwtSecret, rc.JwtExpiresIn)
}

type serverParams struct {
	fx.In

	Logger        *slog.Logger
	RuntimeConfig *boot.RuntimeConfig
	Issuer        *auth.Issuer
	Handlers      []server.Handler `group:"server_handlers"`
}

func provideServer(params serverParams) *server.Server {
	return server.NewServer(params.Logger, params.RuntimeConfig.ServerAddr, params.Issuer, params.Handlers...)
}

func provideChatbot(log *slog.Logger, eventBridge *bus.Bridge, engine *funnel.Engine, leadSvc *leads.Service, ticketSvc *tickets.Service) *chatbot.Service {
	return chatbot.NewService(log, eventBridge, engine, leadSvc, ticketSvc)
}

func bindConsumers(chatbotService *chatbot.Service, messages *whatsapp.Messages, eventBridge *bus.Bridge) {
	chatbotService.Bind()
	messages.Bind(eventBridge)
}

func startReconciler(lc fx.Lifecycle, log *slog.Logger, sessions *whatsapp.Sessions, rc *boot.RuntimeConfig) error {
	if rc.ReconcileCron == "" {
		return nil
	}
	c := cron.New()
	if _, err := c.AddFunc(rc.ReconcileCron, func() {
		sessions.Reconcile(context.Background())
	}); err != nil {
		return fmt.Errorf("reconcile schedule: %w", err)
	}
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			c.Start()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			<-c.Stop().Done()
			return nil
		},
	})
	log.Info("session reconciler scheduled", slog.String("cron", rc.ReconcileCron))
	return nil
}

func startServer(
	lc fx.Lifecycle,
	log *slog.Logger,
	srv *server.Server,
	shutdowner fx.Shutdowner,
	cfg config.Config,
	userService *users.Service,
	sessions *whatsapp.Sessions,
) {
	fmt.Printf("Starting wappgate %s\n", version.GetInfo())

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			source, err := migrationsFS()
			if err != nil {
				return err
			}
			if err := db.RunMigrate(log, cfg.Postgres, source, "up", nil); err != nil {
				return err
			}
			if err := userService.EnsureAdmin(ctx, cfg.Admin.Username, cfg.Admin.Password); err != nil {
				return fmt.Errorf("ensure admin user: %w", err)
			}

			// Pick up sessions that were connected before the last restart.
			go sessions.Reconcile(context.Background())

			go func() {
				if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					log.Error("server failed", slog.Any("error", err))
					_ = shutdowner.Shutdown()
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			if err := srv.Stop(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("server stop: %w", err)
			}
			return nil
		},
	})
}
