package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hitoshi/huddle/internal/config"
	"github.com/hitoshi/huddle/internal/coordinator"
	"github.com/hitoshi/huddle/internal/database"
	"github.com/hitoshi/huddle/internal/gateway"
	"github.com/hitoshi/huddle/internal/handler"
	"github.com/hitoshi/huddle/internal/logger"
	"github.com/hitoshi/huddle/internal/metrics"
	"github.com/hitoshi/huddle/internal/middleware"
	"github.com/hitoshi/huddle/internal/protocol"
	"github.com/hitoshi/huddle/internal/registry"
	"github.com/hitoshi/huddle/internal/repository"
	"github.com/hitoshi/huddle/internal/security"
	"github.com/hitoshi/huddle/internal/session"
	"github.com/hitoshi/huddle/internal/worker/cleanup"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"golang.org/x/sync/errgroup"
)

// shutdownTimeout はグレースフルシャットダウンの上限時間。
const shutdownTimeout = 30 * time.Second

// Init はアプリケーションの初期化を行う。
// 環境変数からConfigを読み込み、JSON構造化ログをセットアップする。
// writerが指定された場合はログ出力先としてそのwriterを使用する。
func Init(w io.Writer) (*config.Config, error) {
	// 1. ログの初期化（設定読み込み前にログを使えるようにする）
	logger.SetupDefault(w)

	// 2. 環境変数から設定を読み込む
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	// 3. 設定に合わせてログレベルを変更
	logger.SetLevel(logger.ParseLevel(cfg.LogLevel))

	return cfg, nil
}

// Run はアプリケーションのメインエントリーポイント。
// コマンドライン引数からサブコマンドを解析し、対応するモードで起動する。
// argsにはos.Args[1:]を渡す。
func Run(w io.Writer, args []string) error {
	cmd, err := ParseCommand(args)
	if err != nil {
		return err
	}

	// healthcheck は軽量サブコマンドのため、フル初期化をスキップする
	if cmd == CommandHealthcheck {
		port := os.Getenv("SERVER_PORT")
		if port == "" {
			port = "8080"
		}
		return runHealthcheck(port)
	}

	cfg, err := Init(w)
	if err != nil {
		return fmt.Errorf("initialization failed: %w", err)
	}

	slog.Info("starting application",
		slog.String("command", string(cmd)),
		slog.String("port", cfg.ServerPort),
		slog.String("store_driver", string(cfg.StoreDriver)),
	)

	switch cmd {
	case CommandMigrate:
		return runMigrate(cfg)
	default:
		// グレースフルシャットダウンのためのシグナルハンドリング
		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()
		return runServe(ctx, cfg)
	}
}

// Server はサーバーモードで動作する全コンポーネントをまとめたもの。
type Server struct {
	Handler     http.Handler
	Coordinator *coordinator.Coordinator
	Gateway     *gateway.Handler
	Cleanup     *cleanup.CleanupJob
	Registry    *prometheus.Registry

	rateLimiter *middleware.RateLimiter
}

// NewServer はストアを受け取り、コーディネーター・ゲートウェイ・ルーターをワイヤリングする。
func NewServer(cfg *config.Config, store repository.Store, log *slog.Logger) *Server {
	if log == nil {
		log = slog.Default()
	}

	// 1. メトリクス
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	collector := metrics.NewCollector(reg)

	// 2. コーディネーター
	rooms := registry.New()
	coord := coordinator.New(store, rooms, coordinator.Config{
		Defaults: session.Defaults{
			VotesPerRound: cfg.RetroVotesPerRound,
			Categories:    cfg.RetroDefaultCategories,
		},
		IdleTimeout: cfg.LaneIdleTimeout,
	}, collector, log)

	// 3. 入力検証
	decoder := protocol.NewDecoder(security.NewTextSanitizer(), protocol.DefaultLimits())

	// 4. WebSocketゲートウェイ
	ws := gateway.NewHandler(coord, decoder, gateway.Config{
		AllowedOrigin:   cfg.CORSAllowedOrigin,
		MaxFramesPerSec: cfg.WSMaxFramesPerSec,
		FrameBurst:      cfg.WSFrameBurst,
		SendBuffer:      cfg.WSSendBuffer,
		MaxFrameBytes:   cfg.WSMaxFrameBytes,
	}, collector, log)

	// 5. 放置セッションのクリーンアップ
	job := cleanup.NewCleanupJob(store.Repos().Sessions, coord, collector, log)
	job.Retention = cfg.SessionRetention

	// 6. ルーターの構築（req/min -> req/sec に変換）
	rl := middleware.NewRateLimiter(middleware.RateLimiterConfigPerMinute(cfg.RateLimitGeneral, cfg.RateLimitImport))
	router := handler.NewRouter(&handler.RouterDeps{
		CORSAllowedOrigin: cfg.CORSAllowedOrigin,
		RateLimiter:       rl,
		Logger:            log,
		HealthChecker:     store,
		Gatherer:          reg,
		WebSocket:         ws,
		Sessions:          coord,
		ImportDecoder:     decoder,
	})

	return &Server{
		Handler:     router,
		Coordinator: coord,
		Gateway:     ws,
		Cleanup:     job,
		Registry:    reg,
		rateLimiter: rl,
	}
}

// Close はWebSocket接続を閉じ、投入済みのコマンドの完了を待つ。
func (s *Server) Close() {
	s.Gateway.Shutdown()
	s.Coordinator.Close()
	s.rateLimiter.Stop()
}

// openStore は設定に応じたセッションストアを開く。返り値の関数でストアを閉じる。
func openStore(ctx context.Context, cfg *config.Config) (repository.Store, func() error, error) {
	if cfg.StoreDriver != config.StorePostgres {
		slog.Warn("using in-memory session store; sessions are lost on restart")
		return repository.NewMemoryStore(), func() error { return nil }, nil
	}

	db, err := database.Open(cfg.DatabaseURL)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	slog.Info("database connection established")
	return repository.NewPostgresStore(db), db.Close, nil
}

// runServe はサーバーモードで起動する。
// HTTP/WebSocketサーバーとクリーンアップジョブを起動し、ctxがキャンセルされると
// グレースフルシャットダウンを行う。
func runServe(ctx context.Context, cfg *config.Config) error {
	store, closeStore, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeStore()

	srv := NewServer(cfg, store, slog.Default())

	// WebSocketはハイジャック後も接続のデッドラインが残るため、
	// ReadTimeout/WriteTimeoutは設定せずヘッダー読み込みのみ制限する
	server := &http.Server{
		Addr:              ":" + cfg.ServerPort,
		Handler:           srv.Handler,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		slog.Info("server starting", slog.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server listen error: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		slog.Info("shutting down server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown failed: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		srv.Cleanup.Start(gctx, cfg.CleanupInterval)
		return nil
	})

	err = g.Wait()
	srv.Close()
	if err != nil {
		return err
	}

	slog.Info("server stopped gracefully")
	return nil
}

// runMigrate はデータベースマイグレーションを実行する。
// すべての未適用マイグレーションを順番に適用する。
func runMigrate(cfg *config.Config) error {
	if cfg.StoreDriver != config.StorePostgres || cfg.DatabaseURL == "" {
		return fmt.Errorf("migrate requires STORE_DRIVER=%s and DATABASE_URL", config.StorePostgres)
	}

	slog.Info("running database migrations",
		slog.String("database_url", maskDatabaseURL(cfg.DatabaseURL)),
	)

	version, err := database.RunMigrations(cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}

	slog.Info("database migrations completed successfully", slog.Uint64("schema_version", uint64(version)))
	return nil
}

// runHealthcheck はヘルスチェックを実行する。
// distroless環境でのDockerヘルスチェック用サブコマンド。
// /health エンドポイントにHTTPリクエストを送り、結果を返す。
func runHealthcheck(port string) error {
	url := fmt.Sprintf("http://localhost:%s/health", port)
	client := &http.Client{Timeout: 5 * time.Second}

	resp, err := client.Get(url)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check returned status %d", resp.StatusCode)
	}

	return nil
}

// maskDatabaseURL はデータベースURLの認証情報をマスクする。
func maskDatabaseURL(url string) string {
	if len(url) > 20 {
		return url[:12] + "***@..."
	}
	return "***"
}
