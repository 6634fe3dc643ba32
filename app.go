package main

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"vibin_matcher/config"
	"vibin_matcher/services"
)

// app holds the storage backends and services built from the config
type app struct {
	cfg      *config.Config
	logger   *zap.Logger
	tables   services.Tables
	store    services.DocumentStore
	index    services.GeoIndex
	profiles *services.UserProfileService
	swipes   *services.SwipeService
	recs     *services.RecommendationService
	triggers *services.TriggerService

	// freshIndex is true when the geo index starts empty and must be rebuilt
	freshIndex bool
	closers    []func() error
}

func newApp(ctx context.Context, cfg *config.Config, logger *zap.Logger, notifier services.MatchNotifier) (*app, error) {
	a := &app{cfg: cfg, logger: logger, tables: cfg.Tables()}

	switch cfg.StoreBackend {
	case config.StoreDynamo:
		logger.Info("initializing DynamoDB client", zap.String("region", cfg.AWSRegion))
		client, err := services.InitializeDynamoDBClient(ctx, cfg.AWSRegion)
		if err != nil {
			return nil, err
		}
		a.store = services.NewDynamoService(client, logger)
	case config.StoreSQLite:
		logger.Info("opening SQLite store", zap.String("path", cfg.SQLitePath))
		store, err := services.NewSQLiteStore(cfg.SQLitePath)
		if err != nil {
			return nil, err
		}
		a.store = store
		a.closers = append(a.closers, store.Close)
	default:
		a.store = services.NewMemoryStore()
	}

	switch cfg.GeoIndexBackend {
	case config.IndexBleve:
		index, err := services.NewBleveGeoIndex(cfg.GeoIndexPath, logger)
		if err != nil {
			a.Close()
			return nil, err
		}
		a.index = index
		a.freshIndex = cfg.GeoIndexPath == ""
		if !a.freshIndex {
			count, err := index.DocCount()
			if err != nil {
				a.Close()
				return nil, err
			}
			a.freshIndex = count == 0
		}
	default:
		a.index = services.NewMemoryGeoIndex()
		a.freshIndex = true
	}
	a.closers = append(a.closers, a.index.Close)

	defaults := cfg.DefaultSettings()
	a.profiles = services.NewUserProfileService(a.store, a.index, a.tables, defaults, logger)
	a.swipes = services.NewSwipeService(a.store, a.tables, a.profiles, notifier, logger)
	a.recs = services.NewRecommendationService(a.store, a.index, a.tables, defaults, cfg.RecommendationOptions(), logger)
	a.triggers = services.NewTriggerService(a.profiles, a.recs, a.index, cfg.TriggerOptions(), logger)
	return a, nil
}

// warmIndex loads every stored profile into an empty geo index
func (a *app) warmIndex(ctx context.Context) error {
	if !a.freshIndex {
		return nil
	}
	if _, err := a.profiles.Reindex(ctx); err != nil {
		return fmt.Errorf("failed to warm geo index: %w", err)
	}
	return nil
}

// Close releases backends in reverse order of creation
func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			a.logger.Warn("close failed", zap.Error(err))
		}
	}
	a.closers = nil
}
