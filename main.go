package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/cors"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"vibin_matcher/config"
	"vibin_matcher/feed"
	"vibin_matcher/routes"
	"vibin_matcher/services"
	"vibin_matcher/socket"
	"vibin_matcher/utils"
)

const serviceName = "vibin-matcher"

func main() {
	if err := newRootCommand().ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "vibin-matcher",
		Short:         "Swipe, match and recommendation engine for Vibin",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.AddCommand(newServeCommand(), newRecomputeCommand(), newReindexCommand())
	return cmd
}

// setup loads the config and builds the logger every command needs
func setup() (*config.Config, *zap.Logger, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, err
	}
	logger, err := utils.NewLogger(cfg.Debug)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to build logger: %w", err)
	}
	return cfg, logger, nil
}

func newServeCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API, the socket server and the change feeds",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := setup()
			if err != nil {
				return err
			}
			defer logger.Sync()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return serve(ctx, cfg, logger)
		},
	}
}

func serve(ctx context.Context, cfg *config.Config, logger *zap.Logger) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	shutdownTracing, err := utils.SetupTracing(ctx, serviceName, cfg.OTelEndpoint)
	if err != nil {
		return fmt.Errorf("failed to set up tracing: %w", err)
	}
	defer shutdownTracing(context.Background())

	sockets := socket.NewSocketServer(logger)
	go func() {
		if err := sockets.Serve(); err != nil {
			logger.Error("socket server stopped", zap.Error(err))
		}
	}()
	defer sockets.Close()

	a, err := newApp(ctx, cfg, logger, sockets)
	if err != nil {
		return err
	}
	defer a.Close()
	if err := a.warmIndex(ctx); err != nil {
		return err
	}

	dispatcher := feed.NewDispatcher(a.tables, a.triggers, cfg.EventTimeout, logger)
	defer dispatcher.Close()
	var feeds sync.WaitGroup
	if err := startFeeds(ctx, cfg, a, dispatcher, logger, &feeds); err != nil {
		return err
	}

	r := mux.NewRouter()
	routes.RegisterRoutes(r)
	routes.RegisterUserProfileRoutes(r, a.profiles, logger)
	routes.RegisterSwipeRoutes(r, a.swipes, logger)
	routes.RegisterRecommendationRoutes(r, a.recs, a.triggers, logger)
	if cfg.S3BucketName != "" {
		pictures, err := services.NewProfilePictureService(ctx, cfg.AWSRegion, cfg.S3BucketName)
		if err != nil {
			return err
		}
		routes.RegisterS3Routes(r, pictures, logger)
	}
	r.Handle("/socket.io/", sockets)

	corsHandler := cors.New(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Content-Type", "Authorization"},
		AllowCredentials: true,
	}).Handler(r)

	srv := &http.Server{Addr: ":" + cfg.Port, Handler: corsHandler}
	errCh := make(chan error, 1)
	go func() {
		logger.Info("starting server", zap.String("port", cfg.Port), zap.String("store", cfg.StoreBackend))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
	case <-ctx.Done():
		logger.Info("shutting down")
		shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancelShutdown()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Warn("graceful shutdown failed", zap.Error(err))
		}
	}
	cancel()
	feeds.Wait()
	return nil
}

// startFeeds connects the store's change notifications to the dispatcher.
// DynamoDB tables are followed through their streams when ARNs are set;
// otherwise triggers arrive only through the event webhooks.
func startFeeds(ctx context.Context, cfg *config.Config, a *app, d *feed.Dispatcher, logger *zap.Logger, wg *sync.WaitGroup) error {
	if source, ok := a.store.(feed.ChangeSource); ok {
		feed.SubscribeStore(source, d)
		logger.Info("in-process change feed attached")
		return nil
	}

	streams := map[string]string{
		a.tables.Users:           cfg.UsersStreamARN,
		a.tables.Recommendations: cfg.RecommendationsStreamARN,
	}
	var client feed.StreamsAPI
	for table, arn := range streams {
		if arn == "" {
			logger.Warn("no stream configured, relying on event webhooks", zap.String("table", table))
			continue
		}
		if client == nil {
			c, err := feed.InitializeStreamsClient(ctx, cfg.AWSRegion)
			if err != nil {
				return err
			}
			client = c
		}
		f := feed.NewStreamFeed(client, arn, table, d.Dispatch, logger)
		f.PollInterval = cfg.StreamPollInterval
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := f.Run(ctx); err != nil {
				logger.Error("stream feed stopped", zap.String("table", f.Table), zap.Error(err))
			}
		}()
	}
	return nil
}

func newRecomputeCommand() *cobra.Command {
	var userID string
	cmd := &cobra.Command{
		Use:   "recompute",
		Short: "Recompute one user's recommendations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := setup()
			if err != nil {
				return err
			}
			defer logger.Sync()

			ctx := cmd.Context()
			a, err := newApp(ctx, cfg, logger, nil)
			if err != nil {
				return err
			}
			defer a.Close()
			if err := a.warmIndex(ctx); err != nil {
				return err
			}

			recs, err := a.triggers.RecomputeForUser(ctx, userID)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "computed %d recommendations for %s\n", len(recs), userID)
			for _, rec := range recs {
				fmt.Fprintf(cmd.OutOrStdout(), "  %s\t%s\n", rec.ID, rec.Distance)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&userID, "user", "", "user id to recompute (required)")
	_ = cmd.MarkFlagRequired("user")
	return cmd
}

func newReindexCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "reindex",
		Short: "Rebuild the geo index from the stored profiles",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := setup()
			if err != nil {
				return err
			}
			defer logger.Sync()

			a, err := newApp(cmd.Context(), cfg, logger, nil)
			if err != nil {
				return err
			}
			defer a.Close()

			indexed, err := a.profiles.Reindex(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "indexed %d profiles\n", indexed)
			return nil
		},
	}
}
