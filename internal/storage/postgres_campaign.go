package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"gitlab.com/hearthline/api/telephony-engine/internal/apperrors"
	"gitlab.com/hearthline/api/telephony-engine/internal/model"
	"gitlab.com/hearthline/api/telephony-engine/internal/observer"
	"gitlab.com/hearthline/api/telephony-engine/pkg/logger"
	"gitlab.com/hearthline/api/telephony-engine/pkg/utils"
)

// FindCampaignByID retrieves a campaign by primary key.
func (r *PostgresRepo) FindCampaignByID(ctx context.Context, id int64) (*model.Campaign, error) {
	var campaign model.Campaign

	operation := func() error {
		result := r.db.WithContext(ctx).First(&campaign, id)
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
	err := retryableOperation(ctx, readPolicy, "FindCampaignByID", operation)
	observer.ObserveDbOperationDuration("find", "campaign", time.Since(startTime), err)

	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: campaign %d", apperrors.ErrNotFound, id)
		}
		return nil, err
	}
	return &campaign, nil
}

// FindCampaignProspect retrieves a campaign membership row.
func (r *PostgresRepo) FindCampaignProspect(ctx context.Context, campaignID, prospectID int64) (*model.CampaignProspect, error) {
	var cp model.CampaignProspect

	operation := func() error {
		result := r.db.WithContext(ctx).
			Where("campaign_id = ? AND prospect_id = ?", campaignID, prospectID).
			First(&cp)
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
	err := retryableOperation(ctx, readPolicy, "FindCampaignProspect", operation)
	observer.ObserveDbOperationDuration("find", "campaign_prospect", time.Since(startTime), err)

	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: campaign %d prospect %d", apperrors.ErrNotFound, campaignID, prospectID)
		}
		return nil, err
	}
	return &cp, nil
}

// FindLatestMembership retrieves the newest campaign membership for a prospect.
func (r *PostgresRepo) FindLatestMembership(ctx context.Context, prospectID int64) (*model.CampaignProspect, error) {
	var cp model.CampaignProspect

	operation := func() error {
		result := r.db.WithContext(ctx).
			Where("prospect_id = ?", prospectID).
			Order("created_at DESC").
			First(&cp)
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
	err := retryableOperation(ctx, readPolicy, "FindLatestMembership", operation)
	observer.ObserveDbOperationDuration("find", "campaign_prospect", time.Since(startTime), err)

	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: membership for prospect %d", apperrors.ErrNotFound, prospectID)
		}
		return nil, err
	}
	return &cp, nil
}

// MarkProspectSkipped records a skip decision for a membership and keeps the
// batch skip counters consistent. The row is locked so the counter moves at
// most once per reason: a repeated skip with the same reason is a no-op, and a
// changed reason decrements the old counter before incrementing the new one.
func (r *PostgresRepo) MarkProspectSkipped(ctx context.Context, cp *model.CampaignProspect, reason string) error {
	operation := func() error {
		tx := r.db.WithContext(ctx).Begin()
		if tx.Error != nil {
			return fmt.Errorf("%w: failed to begin transaction: %w", apperrors.ErrDatabase, tx.Error)
		}
		var txErr error
		defer func() {
			if rec := recover(); rec != nil {
				tx.Rollback()
				panic(rec)
			} else if txErr != nil {
				if rbErr := tx.Rollback().Error; rbErr != nil {
					logger.FromContext(ctx).Error("Failed to rollback transaction after error",
						zap.Error(rbErr), zap.NamedError("originalTxError", txErr))
				}
			}
		}()

		var current model.CampaignProspect
		result := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("id = ?", cp.ID).
			First(&current)
		if result.Error != nil {
			if errors.Is(result.Error, gorm.ErrRecordNotFound) {
				txErr = fmt.Errorf("%w: campaign prospect %d", apperrors.ErrNotFound, cp.ID)
				return backoff.Permanent(txErr)
			}
			txErr = fmt.Errorf("%w: failed to lock membership row: %w", apperrors.ErrDatabase, result.Error)
			return txErr
		}

		if current.Skipped && current.SkipReason == reason {
			txErr = nil
			if commitErr := tx.Commit().Error; commitErr != nil {
				txErr = fmt.Errorf("%w: failed to commit transaction: %w", apperrors.ErrDatabase, commitErr)
				return txErr
			}
			return nil
		}

		if current.StatsBatchID != nil {
			if current.Skipped && current.SkipReason != "" {
				oldCol := model.SkipCounterColumn(current.SkipReason)
				if oldCol != "" {
					if err := tx.Model(&model.StatsBatch{}).
						Where("id = ?", *current.StatsBatchID).
						Update(oldCol, gorm.Expr(oldCol+" - 1")).Error; err != nil {
						txErr = checkConstraintViolation(err)
						return txErr
					}
				}
			}
			newCol := model.SkipCounterColumn(reason)
			if newCol != "" {
				if err := tx.Model(&model.StatsBatch{}).
					Where("id = ?", *current.StatsBatchID).
					Update(newCol, gorm.Expr(newCol+" + 1")).Error; err != nil {
					txErr = checkConstraintViolation(err)
					return txErr
				}
			}
		}

		update := tx.Model(&current).Updates(map[string]interface{}{
			"skipped":     true,
			"skip_reason": reason,
			"updated_at":  utils.Now(),
		})
		if update.Error != nil {
			txErr = checkConstraintViolation(update.Error)
			return txErr
		}

		if commitErr := tx.Commit().Error; commitErr != nil {
			txErr = fmt.Errorf("%w: failed to commit transaction: %w", apperrors.ErrDatabase, commitErr)
			return txErr
		}

		cp.Skipped = true
		cp.SkipReason = reason
		return nil
	}

	commitPolicy := newRetryPolicy(ctx, commitRetryMaxElapsedTime)
	startTime := utils.Now()
	err := retryableOperation(ctx, commitPolicy, "MarkProspectSkipped", operation)
	observer.ObserveDbOperationDuration("update", "campaign_prospect", time.Since(startTime), err)

	if err != nil {
		logger.FromContext(ctx).Error("Failed to mark prospect skipped",
			zap.Int64("campaign_prospect_id", cp.ID), zap.String("reason", reason), zap.Error(err))
		return err
	}
	observer.IncProspectSkipped(reason)
	return nil
}

// MarkProspectEligible clears a previously recorded skip whose condition no
// longer holds, returning the batch counter the stale reason moved. No-op for
// a membership that is not marked skipped.
func (r *PostgresRepo) MarkProspectEligible(ctx context.Context, cp *model.CampaignProspect) error {
	operation := func() error {
		tx := r.db.WithContext(ctx).Begin()
		if tx.Error != nil {
			return fmt.Errorf("%w: failed to begin transaction: %w", apperrors.ErrDatabase, tx.Error)
		}
		var txErr error
		defer func() {
			if rec := recover(); rec != nil {
				tx.Rollback()
				panic(rec)
			} else if txErr != nil {
				if rbErr := tx.Rollback().Error; rbErr != nil {
					logger.FromContext(ctx).Error("Failed to rollback transaction after error",
						zap.Error(rbErr), zap.NamedError("originalTxError", txErr))
				}
			}
		}()

		var current model.CampaignProspect
		result := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("id = ?", cp.ID).
			First(&current)
		if result.Error != nil {
			if errors.Is(result.Error, gorm.ErrRecordNotFound) {
				txErr = fmt.Errorf("%w: campaign prospect %d", apperrors.ErrNotFound, cp.ID)
				return backoff.Permanent(txErr)
			}
			txErr = fmt.Errorf("%w: failed to lock membership row: %w", apperrors.ErrDatabase, result.Error)
			return txErr
		}

		if !current.Skipped {
			txErr = nil
			if commitErr := tx.Commit().Error; commitErr != nil {
				txErr = fmt.Errorf("%w: failed to commit transaction: %w", apperrors.ErrDatabase, commitErr)
				return txErr
			}
			return nil
		}

		if current.StatsBatchID != nil && current.SkipReason != "" {
			col := model.SkipCounterColumn(current.SkipReason)
			if col != "" {
				if err := tx.Model(&model.StatsBatch{}).
					Where("id = ?", *current.StatsBatchID).
					Update(col, gorm.Expr(col+" - 1")).Error; err != nil {
					txErr = checkConstraintViolation(err)
					return txErr
				}
			}
		}

		update := tx.Model(&current).Updates(map[string]interface{}{
			"skipped":     false,
			"skip_reason": "",
			"updated_at":  utils.Now(),
		})
		if update.Error != nil {
			txErr = checkConstraintViolation(update.Error)
			return txErr
		}

		if commitErr := tx.Commit().Error; commitErr != nil {
			txErr = fmt.Errorf("%w: failed to commit transaction: %w", apperrors.ErrDatabase, commitErr)
			return txErr
		}

		cp.Skipped = false
		cp.SkipReason = ""
		return nil
	}

	commitPolicy := newRetryPolicy(ctx, commitRetryMaxElapsedTime)
	startTime := utils.Now()
	err := retryableOperation(ctx, commitPolicy, "MarkProspectEligible", operation)
	observer.ObserveDbOperationDuration("update", "campaign_prospect", time.Since(startTime), err)

	if err != nil {
		logger.FromContext(ctx).Error("Failed to clear membership skip",
			zap.Int64("campaign_prospect_id", cp.ID), zap.Error(err))
		return err
	}
	return nil
}

// MarkProspectSent records a successful send for a membership and ties it to
// the stats batch the message went out under.
func (r *PostgresRepo) MarkProspectSent(ctx context.Context, cp *model.CampaignProspect, batchID int64, at time.Time) error {
	operation := func() error {
		tx := r.db.WithContext(ctx).Begin()
		if tx.Error != nil {
			return fmt.Errorf("%w: failed to begin transaction: %w", apperrors.ErrDatabase, tx.Error)
		}
		var txErr error
		defer func() {
			if rec := recover(); rec != nil {
				tx.Rollback()
				panic(rec)
			} else if txErr != nil {
				if rbErr := tx.Rollback().Error; rbErr != nil {
					logger.FromContext(ctx).Error("Failed to rollback transaction after error",
						zap.Error(rbErr), zap.NamedError("originalTxError", txErr))
				}
			}
		}()

		update := tx.Model(&model.CampaignProspect{}).
			Where("id = ?", cp.ID).
			Updates(map[string]interface{}{
				"sent":           true,
				"stats_batch_id": batchID,
				"updated_at":     utils.Now(),
			})
		if update.Error != nil {
			txErr = checkConstraintViolation(update.Error)
			return txErr
		}
		if update.RowsAffected == 0 {
			txErr = fmt.Errorf("%w: campaign prospect %d", apperrors.ErrNotFound, cp.ID)
			return backoff.Permanent(txErr)
		}

		batchUpdate := tx.Model(&model.StatsBatch{}).
			Where("id = ?", batchID).
			Updates(map[string]interface{}{
				"sent":         gorm.Expr("sent + 1"),
				"last_send_at": at,
			})
		if batchUpdate.Error != nil {
			txErr = checkConstraintViolation(batchUpdate.Error)
			return txErr
		}

		if err := tx.Model(&model.StatsBatch{}).
			Where("id = ? AND first_send_at IS NULL", batchID).
			Update("first_send_at", at).Error; err != nil {
			txErr = checkConstraintViolation(err)
			return txErr
		}

		if commitErr := tx.Commit().Error; commitErr != nil {
			txErr = fmt.Errorf("%w: failed to commit transaction: %w", apperrors.ErrDatabase, commitErr)
			return txErr
		}

		cp.Sent = true
		cp.StatsBatchID = &batchID
		return nil
	}

	commitPolicy := newRetryPolicy(ctx, commitRetryMaxElapsedTime)
	startTime := utils.Now()
	err := retryableOperation(ctx, commitPolicy, "MarkProspectSent", operation)
	observer.ObserveDbOperationDuration("update", "campaign_prospect", time.Since(startTime), err)
	return err
}

// MarkMembershipResponded flags every membership for a prospect as responded.
func (r *PostgresRepo) MarkMembershipResponded(ctx context.Context, prospectID int64, at time.Time) error {
	operation := func() error {
		result := r.db.WithContext(ctx).Model(&model.CampaignProspect{}).
			Where("prospect_id = ? AND has_responded = ?", prospectID, false).
			Updates(map[string]interface{}{
				"has_responded": true,
				"updated_at":    at,
			})
		if result.Error != nil {
			return checkConstraintViolation(result.Error)
		}
		return nil
	}

	commitPolicy := newRetryPolicy(ctx, commitRetryMaxElapsedTime)
	startTime := utils.Now()
	err := retryableOperation(ctx, commitPolicy, "MarkMembershipResponded", operation)
	observer.ObserveDbOperationDuration("update", "campaign_prospect", time.Since(startTime), err)
	return err
}

// FindStatsBatchByID retrieves a stats batch by primary key.
func (r *PostgresRepo) FindStatsBatchByID(ctx context.Context, id int64) (*model.StatsBatch, error) {
	var batch model.StatsBatch

	operation := func() error {
		result := r.db.WithContext(ctx).First(&batch, id)
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
	err := retryableOperation(ctx, readPolicy, "FindStatsBatchByID", operation)
	observer.ObserveDbOperationDuration("find", "stats_batch", time.Since(startTime), err)

	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: stats batch %d", apperrors.ErrNotFound, id)
		}
		return nil, err
	}
	return &batch, nil
}

// IncrementCampaignDelivered bumps the campaign-level aggregate delivered
// counter; the per-batch counter moves separately.
func (r *PostgresRepo) IncrementCampaignDelivered(ctx context.Context, campaignID int64) error {
	operation := func() error {
		result := r.db.WithContext(ctx).Model(&model.Campaign{}).
			Where("id = ?", campaignID).
			Update("total_delivered", gorm.Expr("total_delivered + 1"))
		if result.Error != nil {
			return checkConstraintViolation(result.Error)
		}
		return nil
	}

	commitPolicy := newRetryPolicy(ctx, commitRetryMaxElapsedTime)
	startTime := utils.Now()
	err := retryableOperation(ctx, commitPolicy, "IncrementCampaignDelivered", operation)
	observer.ObserveDbOperationDuration("update", "campaign", time.Since(startTime), err)
	return err
}

// IncrementBatchDelivered bumps the delivered counter for a stats batch.
func (r *PostgresRepo) IncrementBatchDelivered(ctx context.Context, batchID int64) error {
	return r.bumpBatchCounter(ctx, "IncrementBatchDelivered", batchID, "delivered")
}

// IncrementBatchReceived bumps the received counter for a stats batch.
func (r *PostgresRepo) IncrementBatchReceived(ctx context.Context, batchID int64) error {
	return r.bumpBatchCounter(ctx, "IncrementBatchReceived", batchID, "received")
}

func (r *PostgresRepo) bumpBatchCounter(ctx context.Context, opName string, batchID int64, column string) error {
	operation := func() error {
		result := r.db.WithContext(ctx).Model(&model.StatsBatch{}).
			Where("id = ?", batchID).
			Update(column, gorm.Expr(column+" + 1"))
		if result.Error != nil {
			return checkConstraintViolation(result.Error)
		}
		return nil
	}

	commitPolicy := newRetryPolicy(ctx, commitRetryMaxElapsedTime)
	startTime := utils.Now()
	err := retryableOperation(ctx, commitPolicy, opName, operation)
	observer.ObserveDbOperationDuration("update", "stats_batch", time.Since(startTime), err)
	return err
}
