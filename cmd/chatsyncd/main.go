package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/chatsync/engine/internal/backend"
	"github.com/chatsync/engine/internal/backend/blob"
	"github.com/chatsync/engine/internal/backend/postgres"
	"github.com/chatsync/engine/internal/backend/realtime"
	"github.com/chatsync/engine/internal/backend/redisfeed"
	"github.com/chatsync/engine/internal/config"
	"github.com/chatsync/engine/internal/engine"
	"github.com/chatsync/engine/internal/stats"
	"github.com/gorilla/handlers"
	_ "github.com/lib/pq"
)

type stringSliceFlag []string

func (s *stringSliceFlag) String() string {
	return strings.Join(*s, ",")
}

func (s *stringSliceFlag) Set(value string) error {
	*s = append(*s, strings.Split(value, ",")...)
	return nil
}

var (
	actorId        string
	dsn            string
	feedURL        string
	signingKey     string
	debugAddr      string
	allowedOrigins stringSliceFlag

	blobEndpoint  string
	blobAccessKey string
	blobSecretKey string
	blobBucket    string
	blobPublicURL string
	blobUseSSL    bool
)

func main() {
	flag.StringVar(&actorId, "actor", "", "user id to synchronize on behalf of")
	flag.StringVar(&dsn, "dsn", "host=localhost user=postgres password=postgres dbname=postgres sslmode=disable", "database connection string")
	flag.StringVar(&feedURL, "feed-url", "ws://localhost:8000/feed", "change feed endpoint (ws://, wss:// or redis://)")
	flag.StringVar(&signingKey, "signing-key", "", "base64 encoded feed signing key")
	flag.StringVar(&debugAddr, "debug-addr", "", "address for the debug/stats listener, empty disables it")
	flag.Var(&allowedOrigins, "allowed-origins", "comma-separated list of allowed origins for the debug listener")
	flag.StringVar(&blobEndpoint, "blob-endpoint", "", "object storage endpoint for attachments, empty disables uploads")
	flag.StringVar(&blobAccessKey, "blob-access-key", "", "object storage access key")
	flag.StringVar(&blobSecretKey, "blob-secret-key", "", "object storage secret key")
	flag.StringVar(&blobBucket, "blob-bucket", "attachments", "attachment bucket name")
	flag.StringVar(&blobPublicURL, "blob-public-url", "", "public base URL serving the attachment bucket")
	flag.BoolVar(&blobUseSSL, "blob-ssl", false, "use TLS when talking to object storage")
	flag.Parse()

	logger := log.New(os.Stderr, "[chatsync] ", log.LstdFlags)

	opts := []config.Option{}
	if blobEndpoint != "" {
		opts = append(opts, config.WithBlobStorage(blobEndpoint, blobAccessKey, blobSecretKey, blobBucket, blobUseSSL))
	}
	if debugAddr != "" {
		opts = append(opts, config.WithDebugServer(debugAddr, allowedOrigins))
	}

	cfg, err := config.NewConfig(actorId, dsn, feedURL, signingKey, opts...)
	if err != nil {
		logger.Fatal("config: ", err)
	}

	store, err := postgres.NewStore(cfg.DatabaseDSN)
	if err != nil {
		logger.Fatal("db open: ", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			logger.Println("db close: ", err)
		}
	}()

	if err := store.Migrate(); err != nil {
		logger.Fatal("migrate: ", err)
	}

	var blobs backend.BlobStore
	if cfg.BlobEndpoint != "" {
		publicBase := blobPublicURL
		if publicBase == "" {
			scheme := "http://"
			if cfg.BlobUseSSL {
				scheme = "https://"
			}
			publicBase = scheme + cfg.BlobEndpoint
		}
		blobs, err = blob.NewMinioStore(cfg.BlobEndpoint, cfg.BlobAccessKey, cfg.BlobSecretKey,
			cfg.BlobBucket, publicBase, cfg.BlobUseSSL)
		if err != nil {
			logger.Fatal("blob store: ", err)
		}
	}

	feed, err := openFeed(cfg, logger)
	if err != nil {
		logger.Fatal("feed: ", err)
	}
	defer feed.Close()

	mux := http.NewServeMux()
	statsUpdater := stats.NewStatsUpdater(mux)

	eng := engine.NewEngine(logger, store, blobs, feed, statsUpdater, cfg.ActorId)

	statsUpdater.Run()
	defer statsUpdater.Stop()

	go eng.Run()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	if err := eng.LoadConversations(ctx); err != nil {
		logger.Println("initial load: ", err)
	}
	cancel()

	var debugSrv *http.Server
	errCh := make(chan error, 1)
	if cfg.DebugAddr != "" {
		handler := handlers.CORS(
			handlers.AllowedOrigins(cfg.AllowedOrigins),
			handlers.AllowedMethods([]string{http.MethodGet}),
		)(mux)
		debugSrv = &http.Server{Addr: cfg.DebugAddr, Handler: handler}
		go func() {
			logger.Printf("debug listener on %s", cfg.DebugAddr)
			errCh <- debugSrv.ListenAndServe()
		}()
	}

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigs:
		logger.Printf("received signal: %s\n", sig)
	case err := <-errCh:
		logger.Println("debug server: ", err)
	}

	if debugSrv != nil {
		shutDownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := debugSrv.Shutdown(shutDownCtx); err != nil {
			logger.Println("debug server shutdown: ", err)
		}
	}

	logger.Println("shutting down engine...")
	eng.Shutdown()
	logger.Println("shutdown complete")
}

// openFeed picks the change-feed transport from the URL scheme and
// establishes the initial connection.
func openFeed(cfg *config.Config, logger *log.Logger) (backend.Feed, error) {
	if strings.HasPrefix(cfg.FeedURL, "redis://") || strings.HasPrefix(cfg.FeedURL, "rediss://") {
		return redisfeed.NewFeed(cfg.FeedURL, logger)
	}

	feed := realtime.NewFeed(cfg.FeedURL, cfg.ActorId, cfg.SigningKey, logger)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := feed.Connect(ctx); err != nil {
		feed.Close()
		return nil, err
	}
	return feed, nil
}
