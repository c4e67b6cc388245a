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

// FindProspectByID retrieves a prospect by primary key.
func (r *PostgresRepo) FindProspectByID(ctx context.Context, id int64) (*model.Prospect, error) {
	var prospect model.Prospect

	operation := func() error {
		result := r.db.WithContext(ctx).First(&prospect, id)
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
	err := retryableOperation(ctx, readPolicy, "FindProspectByID", operation)
	observer.ObserveDbOperationDuration("find", "prospect", time.Since(startTime), err)

	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: prospect %d", apperrors.ErrNotFound, id)
		}
		return nil, err
	}
	return &prospect, nil
}

// FindProspectByPhone retrieves the most recently touched prospect for a phone
// within a company.
func (r *PostgresRepo) FindProspectByPhone(ctx context.Context, companyID int64, phone string) (*model.Prospect, error) {
	var prospect model.Prospect

	operation := func() error {
		result := r.db.WithContext(ctx).
			Where("company_id = ? AND phone_raw = ?", companyID, phone).
			Order("updated_at DESC").
			First(&prospect)
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
	err := retryableOperation(ctx, readPolicy, "FindProspectByPhone", operation)
	observer.ObserveDbOperationDuration("find", "prospect", time.Since(startTime), err)

	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: prospect %s", apperrors.ErrNotFound, phone)
		}
		return nil, err
	}
	return &prospect, nil
}

// FindProspectForInbound resolves the prospect an inbound message belongs to.
// The strongest match is the prospect assigned to the receiving number; when
// none exists the most recently touched prospect with that phone wins. Both
// lookups stay inside the receiving number's company; the same phone may be a
// prospect of several companies.
func (r *PostgresRepo) FindProspectForInbound(ctx context.Context, companyID int64, phone string, phoneNumberID int64) (*model.Prospect, error) {
	var prospect model.Prospect

	operation := func() error {
		result := r.db.WithContext(ctx).
			Where("company_id = ? AND phone_raw = ? AND phone_number_id = ?", companyID, phone, phoneNumberID).
			Order("updated_at DESC").
			First(&prospect)
		if result.Error == nil {
			return nil
		}
		if !errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return checkConstraintViolation(result.Error)
		}

		// Fallback: the company's newest prospect with this phone.
		result = r.db.WithContext(ctx).
			Where("company_id = ? AND phone_raw = ?", companyID, phone).
			Order("updated_at DESC").
			First(&prospect)
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
	err := retryableOperation(ctx, readPolicy, "FindProspectForInbound", operation)
	observer.ObserveDbOperationDuration("find", "prospect", time.Since(startTime), err)

	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: prospect for phone %s", apperrors.ErrNotFound, phone)
		}
		return nil, err
	}
	return &prospect, nil
}

// SaveProspect persists a prospect row.
func (r *PostgresRepo) SaveProspect(ctx context.Context, prospect *model.Prospect) error {
	prospect.UpdatedAt = utils.Now()

	operation := func() error {
		result := r.db.WithContext(ctx).Save(prospect)
		if result.Error != nil {
			return checkConstraintViolation(result.Error)
		}
		return nil
	}

	commitPolicy := newRetryPolicy(ctx, commitRetryMaxElapsedTime)
	startTime := utils.Now()
	err := retryableOperation(ctx, commitPolicy, "SaveProspect", operation)
	observer.ObserveDbOperationDuration("save", "prospect", time.Since(startTime), err)

	if err != nil {
		logger.FromContext(ctx).Error("Failed to save prospect", zap.Int64("prospect_id", prospect.ID), zap.Error(err))
	}
	return err
}

// MarkResponded flags a prospect as having replied and stamps the receive time.
func (r *PostgresRepo) MarkResponded(ctx context.Context, prospectID int64, at time.Time) error {
	operation := func() error {
		result := r.db.WithContext(ctx).Model(&model.Prospect{}).
			Where("id = ?", prospectID).
			Updates(map[string]interface{}{
				"has_responded":        true,
				"last_sms_received_at": at,
				"updated_at":           utils.Now(),
			})
		if result.Error != nil {
			return checkConstraintViolation(result.Error)
		}
		if result.RowsAffected == 0 {
			return fmt.Errorf("%w: prospect %d", apperrors.ErrNotFound, prospectID)
		}
		return nil
	}

	commitPolicy := newRetryPolicy(ctx, commitRetryMaxElapsedTime)
	startTime := utils.Now()
	err := retryableOperation(ctx, commitPolicy, "MarkResponded", operation)
	observer.ObserveDbOperationDuration("update", "prospect", time.Since(startTime), err)
	return err
}

// IncrementUnread bumps the unread counter under a row lock and returns the
// new count. The lock keeps concurrent inbound webhooks from losing updates.
func (r *PostgresRepo) IncrementUnread(ctx context.Context, prospectID int64) (int, error) {
	var newCount int

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

		var prospect model.Prospect
		result := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("id = ?", prospectID).
			First(&prospect)
		if result.Error != nil {
			if errors.Is(result.Error, gorm.ErrRecordNotFound) {
				txErr = fmt.Errorf("%w: prospect %d", apperrors.ErrNotFound, prospectID)
				return backoff.Permanent(txErr)
			}
			txErr = fmt.Errorf("%w: failed to lock prospect row: %w", apperrors.ErrDatabase, result.Error)
			return txErr
		}

		newCount = prospect.UnreadCount + 1
		update := tx.Model(&prospect).Updates(map[string]interface{}{
			"unread_count":   newCount,
			"has_unread_sms": true,
			"updated_at":     utils.Now(),
		})
		if update.Error != nil {
			txErr = checkConstraintViolation(update.Error)
			return txErr
		}

		if commitErr := tx.Commit().Error; commitErr != nil {
			txErr = fmt.Errorf("%w: failed to commit transaction: %w", apperrors.ErrDatabase, commitErr)
			return txErr
		}
		return nil
	}

	commitPolicy := newRetryPolicy(ctx, commitRetryMaxElapsedTime)
	startTime := utils.Now()
	err := retryableOperation(ctx, commitPolicy, "IncrementUnread", operation)
	observer.ObserveDbOperationDuration("update", "prospect", time.Since(startTime), err)

	if err != nil {
		return 0, err
	}
	return newCount, nil
}

// ClearUnread zeroes the unread counter for a prospect.
func (r *PostgresRepo) ClearUnread(ctx context.Context, prospectID int64) error {
	operation := func() error {
		result := r.db.WithContext(ctx).Model(&model.Prospect{}).
			Where("id = ?", prospectID).
			Updates(map[string]interface{}{
				"unread_count":   0,
				"has_unread_sms": false,
				"updated_at":     utils.Now(),
			})
		if result.Error != nil {
			return checkConstraintViolation(result.Error)
		}
		return nil
	}

	commitPolicy := newRetryPolicy(ctx, commitRetryMaxElapsedTime)
	startTime := utils.Now()
	err := retryableOperation(ctx, commitPolicy, "ClearUnread", operation)
	observer.ObserveDbOperationDuration("update", "prospect", time.Since(startTime), err)
	return err
}

// PropagateOptOut opts out every prospect in a company sharing the phone and
// returns how many rows changed.
func (r *PostgresRepo) PropagateOptOut(ctx context.Context, companyID int64, phone string) (int64, error) {
	var affected int64

	operation := func() error {
		result := r.db.WithContext(ctx).Model(&model.Prospect{}).
			Where("company_id = ? AND phone_raw = ? AND opted_out = ?", companyID, phone, false).
			Updates(map[string]interface{}{
				"opted_out":  true,
				"updated_at": utils.Now(),
			})
		if result.Error != nil {
			return checkConstraintViolation(result.Error)
		}
		affected = result.RowsAffected
		return nil
	}

	commitPolicy := newRetryPolicy(ctx, commitRetryMaxElapsedTime)
	startTime := utils.Now()
	err := retryableOperation(ctx, commitPolicy, "PropagateOptOut", operation)
	observer.ObserveDbOperationDuration("update", "prospect", time.Since(startTime), err)

	if err != nil {
		logger.FromContext(ctx).Error("Failed to propagate opt-out",
			zap.Int64("company_id", companyID), zap.String("phone", phone), zap.Error(err))
		return 0, err
	}
	return affected, nil
}

// SetWrongNumber flags a prospect's phone as belonging to someone else.
func (r *PostgresRepo) SetWrongNumber(ctx context.Context, prospectID int64) error {
	operation := func() error {
		result := r.db.WithContext(ctx).Model(&model.Prospect{}).
			Where("id = ?", prospectID).
			Updates(map[string]interface{}{
				"wrong_number": true,
				"updated_at":   utils.Now(),
			})
		if result.Error != nil {
			return checkConstraintViolation(result.Error)
		}
		if result.RowsAffected == 0 {
			return fmt.Errorf("%w: prospect %d", apperrors.ErrNotFound, prospectID)
		}
		return nil
	}

	commitPolicy := newRetryPolicy(ctx, commitRetryMaxElapsedTime)
	startTime := utils.Now()
	err := retryableOperation(ctx, commitPolicy, "SetWrongNumber", operation)
	observer.ObserveDbOperationDuration("update", "prospect", time.Since(startTime), err)
	return err
}

// SetAutoDead marks a prospect auto-dead and optionally moves its lead stage.
func (r *PostgresRepo) SetAutoDead(ctx context.Context, prospectID int64, leadStageID *int64) error {
	updates := map[string]interface{}{
		"is_auto_dead": true,
		"updated_at":   utils.Now(),
	}
	if leadStageID != nil {
		updates["lead_stage_id"] = *leadStageID
	}

	operation := func() error {
		result := r.db.WithContext(ctx).Model(&model.Prospect{}).
			Where("id = ?", prospectID).
			Updates(updates)
		if result.Error != nil {
			return checkConstraintViolation(result.Error)
		}
		if result.RowsAffected == 0 {
			return fmt.Errorf("%w: prospect %d", apperrors.ErrNotFound, prospectID)
		}
		return nil
	}

	commitPolicy := newRetryPolicy(ctx, commitRetryMaxElapsedTime)
	startTime := utils.Now()
	err := retryableOperation(ctx, commitPolicy, "SetAutoDead", operation)
	observer.ObserveDbOperationDuration("update", "prospect", time.Since(startTime), err)
	return err
}
