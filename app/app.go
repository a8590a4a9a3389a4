package chattrix

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/chattrix/chattrix/core"
	"github.com/chattrix/chattrix/pkg/router"
	"github.com/go-chi/cors"
)

type App struct {
	config      *Config
	db          *core.SQLiteDB
	context     context.Context
	server      *http.Server
	logger      *slog.Logger
	router      *router.Router
	eventRouter *core.EventRouter
	wsManager   *core.ConnManager
	presence    *core.Presence

	exit chan int

	userStore core.UserStore
	chatStore core.ChatStore
	authStore core.AuthStore

	userHandler    *UserHandler
	chatHandler    *ChatHandler
	messageHandler *MessageHandler
	authHandler    *AuthHandler

	cleanupFuncs []func(context.Context)

	wg sync.WaitGroup
}

func New(ctx context.Context, config *Config) *App {
	var err error
	app := &App{
		exit: make(chan int),
	}
	if ctx == nil {
		ctx, _ = signal.NotifyContext(
			context.Background(),
			syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT, syscall.SIGHUP)
	}
	app.context = ctx

	if config == nil {
		var err error
		config, err = LoadConfig()
		if err != nil {
			failed(1, "failed to load config: %v\n", err)
		}
	}
	if err := config.Validate(); err != nil {
		failed(1, FormatValidationErrors(err))
	}
	app.config = config

	app.logger = slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug,
		AddSource: true,
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			if a.Key == slog.SourceKey {
				source, _ := a.Value.Any().(*slog.Source)
				if source != nil {
					source.File = filepath.Base(source.File)
				}
			}
			return a
		},
	}))

	sqliteOptions := &core.SQLiteDBOption{
		Mode:        "rwc",
		Cache:       "shared",
		JournalMode: "WAL",
	}
	app.db, err = core.NewSQLiteDB(app.config.SQLite.File, app.config.SQLite.Migrations, sqliteOptions)
	if err != nil {
		failed(1, "failed to open database: %v\n", err)
	}
	app.AddCleanupFunc(func(ctx context.Context) {
		app.db.Close()
	})
	if err := app.db.Migrate(); err != nil {
		failed(1, "failed to migrate database: %v\n", err)
	}

	app.userStore = core.NewSQLiteUserStore(app.db.DB)
	app.authStore = core.NewSQLiteAuthStore(app.db.DB, app.userStore,
		[]byte(app.config.Auth.Secret), core.WithTokenExp(app.config.Auth.TokenExp))
	app.chatStore = core.NewSQLiteChatStore(app.db.DB, app.userStore)

	app.presence = core.NewPresence()

	app.wsManager = core.NewConnManager(app.context, &app.wg, app.logger)
	app.wsManager.OnIdentityOffline(app.onIdentityOffline)
	app.eventRouter = core.NewEventRouter(app.context, app.logger, app.wsManager)
	app.wsManager.OnEvent(func(c *core.Conn, e *core.Event) {
		app.eventRouter.Dispatch(e)
	})
	app.eventRouter.On(DeclareOnlineEvent, app.DeclareOnlineHandler)
	app.eventRouter.On(JoinChatEvent, app.JoinChatHandler)
	app.eventRouter.On(LeaveChatEvent, app.LeaveChatHandler)
	app.eventRouter.On(TypingEvent, app.TypingHandler)
	app.eventRouter.On(StopTypingEvent, app.TypingHandler)
	app.eventRouter.On(SendMessageEvent, app.SendMessageHandler)
	app.eventRouter.On(MarkSeenEvent, app.MarkSeenHandler)

	app.userHandler = NewUserHandler(app.userStore)
	app.chatHandler = NewChatHandler(app.chatStore)
	app.messageHandler = NewMessageHandler(app.chatStore)
	app.authHandler = NewAuthHandler(app.authStore, app.userStore)
	authMiddleware := core.JWTMiddleware(app.authStore)

	app.router = router.New(router.WithLogger(app.logger))

	app.router.Router.Use(cors.Handler(cors.Options{
		AllowedOrigins:   app.config.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
	}))

	app.router.With(authMiddleware).Router.Get("/ws", func(w http.ResponseWriter, r *http.Request) {
		session := core.SessionFromRequest(r)
		if err := app.wsManager.Connect(session.UserID, w, r); err != nil {
			return
		}
	})

	api := router.New(router.WithLogger(app.logger))

	api.Route("/auth", func(r *router.Router) {
		r.Post("/register", app.authHandler.RegisterHandler)
		r.Post("/login", app.authHandler.LoginHandler)
		r.With(authMiddleware).Post("/signout", app.authHandler.SignoutHandler)
	})

	api.Group(func(r *router.Router) {
		r.Use(authMiddleware)
		r.Get("/users/me", app.userHandler.MeHandler)
		r.Get("/users/search", app.userHandler.SearchUsersHandler)
		r.Post("/chats", app.chatHandler.AccessChatHandler)
		r.Get("/chats", app.chatHandler.ListChatsHandler)
		r.Post("/messages", app.messageHandler.SendMessageHandler)
		r.Get("/messages/{chatID}", app.messageHandler.GetChatMessagesHandler)
		r.Delete("/messages/{messageID}", app.messageHandler.DeleteMessageHandler)
	})

	app.router.Mount("/api", api)

	app.server = &http.Server{
		Addr:    fmt.Sprintf("%s:%d", app.config.Hostname, app.config.Port),
		Handler: app.router.Router,
		BaseContext: func(listener net.Listener) context.Context {
			return app.context
		},
	}

	return app
}

func (app *App) Start() {
	app.AddCleanupFunc(func(ctx context.Context) {
		app.wsManager.Close()
	})

	// listen for shutdown signal
	go func() {
		<-app.context.Done()
		closeCtx, closeCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer closeCancel()
		var wg sync.WaitGroup

		for _, f := range app.cleanupFuncs {
			wg.Add(1)
			func(wg *sync.WaitGroup) {
				defer wg.Done()
				f(closeCtx)
			}(&wg)
		}

		done := make(chan struct{})
		go func() {
			wg.Wait()
			close(done)
		}()

		select {
		case <-done:
			app.logger.Info("app shutdown gracefully")
			app.exit <- 0
		case <-closeCtx.Done():
			app.logger.Info("app shutdown timed out")
			app.exit <- 1
		}
	}()

	app.AddCleanupFunc(func(ctx context.Context) {
		app.server.Shutdown(ctx)
	})
	app.logger.Info(fmt.Sprintf("app running on: %s:%d",
		app.config.Hostname, app.config.Port))

	if err := app.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		failed(1, "server error: %v\n", err)
	}

	code := <-app.exit
	if code != 0 {
		failed(code, "app exit with code: %d\n", code)
	} else {
		os.Exit(code)
	}
}

func (app *App) AddCleanupFunc(f func(context.Context)) {
	app.cleanupFuncs = append(app.cleanupFuncs, f)
}

func failed(code int, s string, args ...interface{}) {
	fmt.Printf(s, args...)
	os.Exit(code)
}
