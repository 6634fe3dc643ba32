package feed

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"go.uber.org/zap"

	"vibin_matcher/models"
	"vibin_matcher/services"
	"vibin_matcher/utils"
)

// Handler receives the decoded document events the engine reacts to
type Handler interface {
	OnProfileWrite(ctx context.Context, before, after *models.UserProfile) error
	OnRecommendationDeleted(ctx context.Context, userID, recommendationID string) error
}

// Dispatcher routes committed changes to a Handler. Each change is handled on
// its own goroutine with its own timeout; handler errors are logged.
type Dispatcher struct {
	Tables  services.Tables
	Handler Handler
	Timeout time.Duration
	Logger  *zap.Logger

	base   context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	mu     sync.Mutex
	closed bool
}

func NewDispatcher(tables services.Tables, handler Handler, timeout time.Duration, logger *zap.Logger) *Dispatcher {
	base, cancel := context.WithCancel(context.Background())
	return &Dispatcher{
		Tables:  tables,
		Handler: handler,
		Timeout: timeout,
		Logger:  utils.OrNop(logger),
		base:    base,
		cancel:  cancel,
	}
}

// Dispatch hands change off to a new goroutine and returns immediately.
// Changes arriving after Close are dropped.
func (d *Dispatcher) Dispatch(change services.Change) {
	if !d.relevant(change) {
		return
	}
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		d.Logger.Debug("dispatcher closed, dropping change",
			zap.String("table", change.Key.Table),
			zap.String("pk", change.Key.PK))
		return
	}
	d.wg.Add(1)
	d.mu.Unlock()
	go func() {
		defer d.wg.Done()
		ctx := d.base
		var cancel context.CancelFunc
		if d.Timeout > 0 {
			ctx, cancel = context.WithTimeout(ctx, d.Timeout)
			defer cancel()
		}
		if err := d.Handle(ctx, change); err != nil {
			d.Logger.Error("event handling failed",
				zap.String("table", change.Key.Table),
				zap.String("pk", change.Key.PK),
				zap.String("sk", change.Key.SK),
				zap.Error(err))
		}
	}()
}

// Handle processes change synchronously
func (d *Dispatcher) Handle(ctx context.Context, change services.Change) error {
	if !d.relevant(change) {
		return nil
	}
	switch change.Key.Table {
	case d.Tables.Users:
		before, err := decodeProfile(change.Old)
		if err != nil {
			return err
		}
		after, err := decodeProfile(change.New)
		if err != nil {
			return err
		}
		if before == nil && after == nil {
			return nil
		}
		return d.Handler.OnProfileWrite(ctx, before, after)

	case d.Tables.Recommendations:
		userID, ok := utils.TrimKeyPrefix(change.Key.PK, models.UserKeyPrefix)
		if !ok {
			return fmt.Errorf("unexpected recommendation partition %q", change.Key.PK)
		}
		recID, _ := utils.TrimKeyPrefix(change.Key.SK, models.RecommendationKeyPrefix)
		return d.Handler.OnRecommendationDeleted(ctx, userID, recID)
	}
	return nil
}

// Wait blocks until every dispatched change has been handled
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}

// Close cancels in-flight handlers and waits for them to return
func (d *Dispatcher) Close() {
	d.mu.Lock()
	d.closed = true
	d.mu.Unlock()
	d.cancel()
	d.wg.Wait()
}

// relevant keeps profile writes and recommendation deletions
func (d *Dispatcher) relevant(change services.Change) bool {
	switch change.Key.Table {
	case d.Tables.Users:
		return change.Key.SK == models.ProfileSortKey
	case d.Tables.Recommendations:
		return change.New == nil && change.Old != nil && strings.HasPrefix(change.Key.SK, models.RecommendationKeyPrefix)
	}
	return false
}

func decodeProfile(image map[string]types.AttributeValue) (*models.UserProfile, error) {
	if image == nil {
		return nil, nil
	}
	var profile models.UserProfile
	if err := attributevalue.UnmarshalMap(image, &profile); err != nil {
		return nil, fmt.Errorf("failed to decode profile image: %w", err)
	}
	return &profile, nil
}
