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

// GetOrCreateCall returns the call row for a provider session, creating it
// from fresh on first sight. The bool reports whether a row was created.
// Every webhook for one call shares a session id, so the row acts as the
// single accumulator for that call's lifecycle.
func (r *PostgresRepo) GetOrCreateCall(ctx context.Context, sessionID string, fresh *model.Call) (*model.Call, bool, error) {
	var call model.Call
	created := false

	operation := func() error {
		created = false
		result := r.db.WithContext(ctx).
			Where("session_id = ?", sessionID).
			First(&call)
		if result.Error == nil {
			return nil
		}
		if !errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return checkConstraintViolation(result.Error)
		}

		fresh.SessionID = sessionID
		if createErr := r.db.WithContext(ctx).Create(fresh).Error; createErr != nil {
			wrapped := checkConstraintViolation(createErr)
			if apperrors.IsDuplicateError(wrapped) {
				// A concurrent webhook won the insert, read its row.
				refind := r.db.WithContext(ctx).
					Where("session_id = ?", sessionID).
					First(&call)
				if refind.Error != nil {
					return checkConstraintViolation(refind.Error)
				}
				return nil
			}
			return wrapped
		}
		call = *fresh
		created = true
		return nil
	}

	commitPolicy := newRetryPolicy(ctx, commitRetryMaxElapsedTime)
	startTime := utils.Now()
	err := retryableOperation(ctx, commitPolicy, "GetOrCreateCall", operation)
	observer.ObserveDbOperationDuration("upsert", "call", time.Since(startTime), err)

	if err != nil {
		logger.FromContext(ctx).Error("Failed to get or create call",
			zap.String("session_id", sessionID), zap.Error(err))
		return nil, false, err
	}
	return &call, created, nil
}

// FindCallBySessionID retrieves a call row by its provider session id.
func (r *PostgresRepo) FindCallBySessionID(ctx context.Context, sessionID string) (*model.Call, error) {
	var call model.Call

	operation := func() error {
		result := r.db.WithContext(ctx).
			Where("session_id = ?", sessionID).
			First(&call)
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
	err := retryableOperation(ctx, readPolicy, "FindCallBySessionID", operation)
	observer.ObserveDbOperationDuration("find", "call", time.Since(startTime), err)

	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: call session %s", apperrors.ErrNotFound, sessionID)
		}
		return nil, err
	}
	return &call, nil
}

// UpdateCall persists changes to a call row.
func (r *PostgresRepo) UpdateCall(ctx context.Context, call *model.Call) error {
	call.UpdatedAt = utils.Now()

	operation := func() error {
		result := r.db.WithContext(ctx).Save(call)
		if result.Error != nil {
			return checkConstraintViolation(result.Error)
		}
		return nil
	}

	commitPolicy := newRetryPolicy(ctx, commitRetryMaxElapsedTime)
	startTime := utils.Now()
	err := retryableOperation(ctx, commitPolicy, "UpdateCall", operation)
	observer.ObserveDbOperationDuration("save", "call", time.Since(startTime), err)

	if err != nil {
		logger.FromContext(ctx).Error("Failed to update call",
			zap.String("session_id", call.SessionID), zap.Error(err))
	}
	return err
}

// MarkForwarded flips the forwarded flag for a call session exactly once and
// reports whether this caller won. Repeated provider webhooks for the same
// session must not trigger a second transfer.
func (r *PostgresRepo) MarkForwarded(ctx context.Context, sessionID, forwardedNumber string) (bool, error) {
	won := false

	operation := func() error {
		result := r.db.WithContext(ctx).Model(&model.Call{}).
			Where("session_id = ? AND forwarded = ?", sessionID, false).
			Updates(map[string]interface{}{
				"forwarded":        true,
				"forwarded_number": forwardedNumber,
				"updated_at":       utils.Now(),
			})
		if result.Error != nil {
			return checkConstraintViolation(result.Error)
		}
		won = result.RowsAffected == 1
		return nil
	}

	commitPolicy := newRetryPolicy(ctx, commitRetryMaxElapsedTime)
	startTime := utils.Now()
	err := retryableOperation(ctx, commitPolicy, "MarkForwarded", operation)
	observer.ObserveDbOperationDuration("update", "call", time.Since(startTime), err)

	if err != nil {
		return false, err
	}
	return won, nil
}

// SaveActivity appends a feed entry for a prospect, deduplicated on the
// related lookup key when one is set.
func (r *PostgresRepo) SaveActivity(ctx context.Context, activity *model.Activity) error {
	operation := func() error {
		if activity.RelatedLookup != "" {
			var existing model.Activity
			result := r.db.WithContext(ctx).
				Where("prospect_id = ? AND related_lookup = ?", activity.ProspectID, activity.RelatedLookup).
				First(&existing)
			if result.Error == nil {
				activity.ID = existing.ID
				return nil
			}
			if !errors.Is(result.Error, gorm.ErrRecordNotFound) {
				return checkConstraintViolation(result.Error)
			}
		}
		if createErr := r.db.WithContext(ctx).Create(activity).Error; createErr != nil {
			return checkConstraintViolation(createErr)
		}
		return nil
	}

	commitPolicy := newRetryPolicy(ctx, commitRetryMaxElapsedTime)
	startTime := utils.Now()
	err := retryableOperation(ctx, commitPolicy, "SaveActivity", operation)
	observer.ObserveDbOperationDuration("create", "activity", time.Since(startTime), err)

	if err != nil {
		logger.FromContext(ctx).Error("Failed to save activity",
			zap.Int64("prospect_id", activity.ProspectID), zap.String("title", activity.Title), zap.Error(err))
	}
	return err
}
