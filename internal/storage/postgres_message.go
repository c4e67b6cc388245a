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

// SaveMessage stores an SMS message row.
func (r *PostgresRepo) SaveMessage(ctx context.Context, message *model.SMSMessage) error {
	message.UpdatedAt = utils.Now()

	operation := func() error {
		result := r.db.WithContext(ctx).Save(message)
		if result.Error != nil {
			return checkConstraintViolation(result.Error)
		}
		return nil
	}

	commitPolicy := newRetryPolicy(ctx, commitRetryMaxElapsedTime)
	startTime := utils.Now()
	err := retryableOperation(ctx, commitPolicy, "SaveMessage", operation)
	observer.ObserveDbOperationDuration("save", "sms_message", time.Since(startTime), err)

	if err != nil {
		logger.FromContext(ctx).Error("Failed to save message",
			zap.String("provider_message_id", message.ProviderMessageID), zap.Error(err))
	}
	return err
}

// FindMessageByProviderID retrieves a message by the provider's message id.
func (r *PostgresRepo) FindMessageByProviderID(ctx context.Context, providerMessageID string) (*model.SMSMessage, error) {
	var message model.SMSMessage

	operation := func() error {
		result := r.db.WithContext(ctx).
			Where("provider_message_id = ?", providerMessageID).
			First(&message)
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
	err := retryableOperation(ctx, readPolicy, "FindMessageByProviderID", operation)
	observer.ObserveDbOperationDuration("find", "sms_message", time.Since(startTime), err)

	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: message %s", apperrors.ErrNotFound, providerMessageID)
		}
		return nil, err
	}
	return &message, nil
}

// UpdateMessageStatus transitions a message to a new delivery status.
func (r *PostgresRepo) UpdateMessageStatus(ctx context.Context, messageID int64, status string) error {
	operation := func() error {
		result := r.db.WithContext(ctx).Model(&model.SMSMessage{}).
			Where("id = ?", messageID).
			Updates(map[string]interface{}{
				"status":     status,
				"updated_at": utils.Now(),
			})
		if result.Error != nil {
			return checkConstraintViolation(result.Error)
		}
		if result.RowsAffected == 0 {
			return fmt.Errorf("%w: message %d", apperrors.ErrNotFound, messageID)
		}
		return nil
	}

	commitPolicy := newRetryPolicy(ctx, commitRetryMaxElapsedTime)
	startTime := utils.Now()
	err := retryableOperation(ctx, commitPolicy, "UpdateMessageStatus", operation)
	observer.ObserveDbOperationDuration("update", "sms_message", time.Since(startTime), err)
	return err
}

// UpsertResult records a delivery callback outcome for a message. There is at
// most one result row per message; repeated callbacks only move the status.
// The error code is written once, by the first callback that carries one.
func (r *PostgresRepo) UpsertResult(ctx context.Context, messageID int64, status, errorCode string) (*model.SMSResult, error) {
	var result model.SMSResult

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

		find := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("message_id = ?", messageID).
			First(&result)
		if find.Error != nil {
			if !errors.Is(find.Error, gorm.ErrRecordNotFound) {
				txErr = fmt.Errorf("%w: failed to lock result row: %w", apperrors.ErrDatabase, find.Error)
				return txErr
			}
			result = model.SMSResult{
				MessageID: messageID,
				Status:    status,
				ErrorCode: errorCode,
			}
			if createErr := tx.Create(&result).Error; createErr != nil {
				txErr = checkConstraintViolation(createErr)
				if !apperrors.IsDuplicateError(txErr) {
					return backoff.Permanent(txErr)
				}
				// A concurrent callback created the row first; fall through to
				// a plain status update against the winner.
				txErr = nil
				refind := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
					Where("message_id = ?", messageID).
					First(&result)
				if refind.Error != nil {
					txErr = fmt.Errorf("%w: failed to relock result row: %w", apperrors.ErrDatabase, refind.Error)
					return txErr
				}
				if updateErr := tx.Model(&result).Update("status", status).Error; updateErr != nil {
					txErr = checkConstraintViolation(updateErr)
					return txErr
				}
				result.Status = status
			}
		} else {
			updates := map[string]interface{}{
				"status":     status,
				"updated_at": utils.Now(),
			}
			if result.ErrorCode == "" && errorCode != "" {
				updates["error_code"] = errorCode
				result.ErrorCode = errorCode
			}
			if updateErr := tx.Model(&result).Updates(updates).Error; updateErr != nil {
				txErr = checkConstraintViolation(updateErr)
				return txErr
			}
			result.Status = status
		}

		if commitErr := tx.Commit().Error; commitErr != nil {
			txErr = fmt.Errorf("%w: failed to commit transaction: %w", apperrors.ErrDatabase, commitErr)
			return txErr
		}
		return nil
	}

	commitPolicy := newRetryPolicy(ctx, commitRetryMaxElapsedTime)
	startTime := utils.Now()
	err := retryableOperation(ctx, commitPolicy, "UpsertResult", operation)
	observer.ObserveDbOperationDuration("upsert", "sms_result", time.Since(startTime), err)

	if err != nil {
		logger.FromContext(ctx).Error("Failed to upsert delivery result",
			zap.Int64("message_id", messageID), zap.String("status", status), zap.Error(err))
		return nil, err
	}
	return &result, nil
}

// BatchResultStats counts delivery results within one stats batch, total and
// spam. Spam is defined by the provider error code configured for the breaker.
func (r *PostgresRepo) BatchResultStats(ctx context.Context, statsBatchID int64, spamErrorCode string) (int64, int64, error) {
	var total, spam int64

	operation := func() error {
		base := r.db.WithContext(ctx).Model(&model.SMSResult{}).
			Joins("JOIN sms_messages ON sms_messages.id = sms_results.message_id").
			Where("sms_messages.stats_batch_id = ?", statsBatchID)

		if err := base.Session(&gorm.Session{}).Count(&total).Error; err != nil {
			return checkConstraintViolation(err)
		}
		if err := base.Session(&gorm.Session{}).
			Where("sms_results.error_code = ?", spamErrorCode).
			Count(&spam).Error; err != nil {
			return checkConstraintViolation(err)
		}
		return nil
	}

	readPolicy := newRetryPolicy(ctx, readRetryMaxElapsedTime)
	startTime := utils.Now()
	err := retryableOperation(ctx, readPolicy, "BatchResultStats", operation)
	observer.ObserveDbOperationDuration("count", "sms_result", time.Since(startTime), err)

	if err != nil {
		return 0, 0, err
	}
	return total, spam, nil
}

// SaveReceipt records a direct send receipt used by the skip engine.
func (r *PostgresRepo) SaveReceipt(ctx context.Context, receipt *model.ReceiptSMSDirect) error {
	operation := func() error {
		result := r.db.WithContext(ctx).Create(receipt)
		if result.Error != nil {
			return checkConstraintViolation(result.Error)
		}
		return nil
	}

	commitPolicy := newRetryPolicy(ctx, commitRetryMaxElapsedTime)
	startTime := utils.Now()
	err := retryableOperation(ctx, commitPolicy, "SaveReceipt", operation)
	observer.ObserveDbOperationDuration("create", "receipt_sms_direct", time.Since(startTime), err)
	return err
}

// HasRecentReceipt reports whether a phone already received a direct send
// within the window.
func (r *PostgresRepo) HasRecentReceipt(ctx context.Context, companyID int64, phone string, since time.Time) (bool, error) {
	var count int64

	operation := func() error {
		result := r.db.WithContext(ctx).Model(&model.ReceiptSMSDirect{}).
			Where("company_id = ? AND phone_raw = ? AND sent_at >= ?", companyID, phone, since).
			Count(&count)
		if result.Error != nil {
			return checkConstraintViolation(result.Error)
		}
		return nil
	}

	readPolicy := newRetryPolicy(ctx, readRetryMaxElapsedTime)
	startTime := utils.Now()
	err := retryableOperation(ctx, readPolicy, "HasRecentReceipt", operation)
	observer.ObserveDbOperationDuration("count", "receipt_sms_direct", time.Since(startTime), err)

	if err != nil {
		return false, err
	}
	return count > 0, nil
}
