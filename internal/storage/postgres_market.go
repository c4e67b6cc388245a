package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"gitlab.com/hearthline/api/telephony-engine/internal/apperrors"
	"gitlab.com/hearthline/api/telephony-engine/internal/model"
	"gitlab.com/hearthline/api/telephony-engine/internal/observer"
	"gitlab.com/hearthline/api/telephony-engine/pkg/logger"
	"gitlab.com/hearthline/api/telephony-engine/pkg/utils"
)

// FindMarketByID retrieves a market by primary key.
func (r *PostgresRepo) FindMarketByID(ctx context.Context, id int64) (*model.Market, error) {
	var market model.Market

	operation := func() error {
		result := r.db.WithContext(ctx).First(&market, id)
		if result.Error != nil {
			if errors.Is(result.Error, gorm.ErrRecordNotFound) {
				return result.Error
			}
			return checkConstraintViolation(result.Error)
		}
		return nil
	}

	readPolicy := newRetryPolicy(ctx, readRetryMaxElapsedTime)
	startTime := utils.Now()
	err := retryableOperation(ctx, readPolicy, "FindMarketByID", operation)
	observer.ObserveDbOperationDuration("find", "market", time.Since(startTime), err)

	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: market %d", apperrors.ErrNotFound, id)
		}
		return nil, err
	}
	return &market, nil
}

// SetSpamCooldown stamps a market with the time its numbers become usable again.
func (r *PostgresRepo) SetSpamCooldown(ctx context.Context, marketID int64, until time.Time) error {
	operation := func() error {
		result := r.db.WithContext(ctx).Model(&model.Market{}).
			Where("id = ?", marketID).
			Updates(map[string]interface{}{
				"spam_cooldown_until": until,
				"updated_at":          utils.Now(),
			})
		if result.Error != nil {
			return checkConstraintViolation(result.Error)
		}
		if result.RowsAffected == 0 {
			return fmt.Errorf("%w: market %d", apperrors.ErrNotFound, marketID)
		}
		return nil
	}

	commitPolicy := newRetryPolicy(ctx, commitRetryMaxElapsedTime)
	startTime := utils.Now()
	err := retryableOperation(ctx, commitPolicy, "SetSpamCooldown", operation)
	observer.ObserveDbOperationDuration("update", "market", time.Since(startTime), err)

	if err != nil {
		logger.FromContext(ctx).Error("Failed to set market spam cooldown",
			zap.Int64("market_id", marketID), zap.Time("until", until), zap.Error(err))
	}
	return err
}

// IncrementDailySend bumps a market's daily send counter.
func (r *PostgresRepo) IncrementDailySend(ctx context.Context, marketID int64) error {
	operation := func() error {
		result := r.db.WithContext(ctx).Model(&model.Market{}).
			Where("id = ?", marketID).
			Update("daily_send_count", gorm.Expr("daily_send_count + 1"))
		if result.Error != nil {
			return checkConstraintViolation(result.Error)
		}
		return nil
	}

	commitPolicy := newRetryPolicy(ctx, commitRetryMaxElapsedTime)
	startTime := utils.Now()
	err := retryableOperation(ctx, commitPolicy, "IncrementDailySend", operation)
	observer.ObserveDbOperationDuration("update", "market", time.Since(startTime), err)
	return err
}

// ResetDailySendCounts zeroes the daily counters across all markets.
func (r *PostgresRepo) ResetDailySendCounts(ctx context.Context) error {
	operation := func() error {
		result := r.db.WithContext(ctx).Model(&model.Market{}).
			Where("daily_send_count > 0").
			Update("daily_send_count", 0)
		if result.Error != nil {
			return checkConstraintViolation(result.Error)
		}
		logger.FromContext(ctx).Info("Reset daily send counts", zap.Int64("markets", result.RowsAffected))
		return nil
	}

	commitPolicy := newRetryPolicy(ctx, commitRetryMaxElapsedTime)
	startTime := utils.Now()
	err := retryableOperation(ctx, commitPolicy, "ResetDailySendCounts", operation)
	observer.ObserveDbOperationDuration("update", "market", time.Since(startTime), err)
	return err
}

// AdvanceAssignIndex records the round-robin cursor used when picking sending numbers.
func (r *PostgresRepo) AdvanceAssignIndex(ctx context.Context, marketID int64, index int) error {
	operation := func() error {
		result := r.db.WithContext(ctx).Model(&model.Market{}).
			Where("id = ?", marketID).
			Update("last_index_assigned", index)
		if result.Error != nil {
			return checkConstraintViolation(result.Error)
		}
		return nil
	}

	commitPolicy := newRetryPolicy(ctx, commitRetryMaxElapsedTime)
	startTime := utils.Now()
	err := retryableOperation(ctx, commitPolicy, "AdvanceAssignIndex", operation)
	observer.ObserveDbOperationDuration("update", "market", time.Since(startTime), err)
	return err
}
