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

// FindPhoneNumberByID retrieves a sending number by primary key.
func (r *PostgresRepo) FindPhoneNumberByID(ctx context.Context, id int64) (*model.PhoneNumber, error) {
	var number model.PhoneNumber

	operation := func() error {
		result := r.db.WithContext(ctx).First(&number, id)
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
	err := retryableOperation(ctx, readPolicy, "FindPhoneNumberByID", operation)
	observer.ObserveDbOperationDuration("find", "phone_number", time.Since(startTime), err)

	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: phone number %d", apperrors.ErrNotFound, id)
		}
		return nil, err
	}
	return &number, nil
}

// FindPhoneNumberByPhone retrieves a sending number by its cleaned 10-digit form.
// Released numbers are excluded so a recycled number maps to its current owner.
func (r *PostgresRepo) FindPhoneNumberByPhone(ctx context.Context, phone string) (*model.PhoneNumber, error) {
	var number model.PhoneNumber

	operation := func() error {
		// Historic duplicates per number are tolerated; prefer the active
		// record, else the most recently created.
		result := r.db.WithContext(ctx).
			Where("phone = ? AND status <> ?", phone, model.PhoneStatusReleased).
			Order("CASE WHEN status = 'active' THEN 0 ELSE 1 END, created_at DESC").
			First(&number)
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
	err := retryableOperation(ctx, readPolicy, "FindPhoneNumberByPhone", operation)
	observer.ObserveDbOperationDuration("find", "phone_number", time.Since(startTime), err)

	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: phone number %s", apperrors.ErrNotFound, phone)
		}
		return nil, err
	}
	return &number, nil
}

// FindUsableNumbersByMarket lists active numbers for a market ordered by id.
func (r *PostgresRepo) FindUsableNumbersByMarket(ctx context.Context, marketID int64) ([]model.PhoneNumber, error) {
	var numbers []model.PhoneNumber

	operation := func() error {
		result := r.db.WithContext(ctx).
			Where("market_id = ? AND status = ?", marketID, model.PhoneStatusActive).
			Order("id ASC").
			Find(&numbers)
		if result.Error != nil {
			return checkConstraintViolation(result.Error)
		}
		return nil
	}

	readPolicy := newRetryPolicy(ctx, readRetryMaxElapsedTime)
	startTime := utils.Now()
	err := retryableOperation(ctx, readPolicy, "FindUsableNumbersByMarket", operation)
	observer.ObserveDbOperationDuration("find", "phone_number", time.Since(startTime), err)

	if err != nil {
		return nil, err
	}
	return numbers, nil
}

// UpdatePhoneNumberStatus transitions a sending number to a new lifecycle status.
func (r *PostgresRepo) UpdatePhoneNumberStatus(ctx context.Context, id int64, status string) error {
	operation := func() error {
		result := r.db.WithContext(ctx).Model(&model.PhoneNumber{}).
			Where("id = ?", id).
			Updates(map[string]interface{}{
				"status":     status,
				"updated_at": utils.Now(),
			})
		if result.Error != nil {
			return checkConstraintViolation(result.Error)
		}
		if result.RowsAffected == 0 {
			return fmt.Errorf("%w: phone number %d", apperrors.ErrNotFound, id)
		}
		return nil
	}

	commitPolicy := newRetryPolicy(ctx, commitRetryMaxElapsedTime)
	startTime := utils.Now()
	err := retryableOperation(ctx, commitPolicy, "UpdatePhoneNumberStatus", operation)
	observer.ObserveDbOperationDuration("update", "phone_number", time.Since(startTime), err)

	if err != nil {
		logger.FromContext(ctx).Error("Failed to update phone number status",
			zap.Int64("phone_number_id", id), zap.String("status", status), zap.Error(err))
	}
	return err
}

// RecordSend bumps the sent counter and last-sent stamp for a number.
func (r *PostgresRepo) RecordSend(ctx context.Context, id int64, at time.Time) error {
	return r.bumpPhoneCounter(ctx, "RecordSend", id, map[string]interface{}{
		"total_sent":   gorm.Expr("total_sent + 1"),
		"last_sent_at": at,
	})
}

// RecordReceive stamps the last time a number received an inbound message.
func (r *PostgresRepo) RecordReceive(ctx context.Context, id int64, at time.Time) error {
	return r.bumpPhoneCounter(ctx, "RecordReceive", id, map[string]interface{}{
		"last_received_at": at,
	})
}

// IncrementOptOuts bumps the opt-out counter for a number.
func (r *PostgresRepo) IncrementOptOuts(ctx context.Context, id int64) error {
	return r.bumpPhoneCounter(ctx, "IncrementOptOuts", id, map[string]interface{}{
		"total_opt_outs": gorm.Expr("total_opt_outs + 1"),
	})
}

// IncrementAutoDead bumps the auto-dead counter for a number.
func (r *PostgresRepo) IncrementAutoDead(ctx context.Context, id int64) error {
	return r.bumpPhoneCounter(ctx, "IncrementAutoDead", id, map[string]interface{}{
		"total_auto_dead": gorm.Expr("total_auto_dead + 1"),
	})
}

func (r *PostgresRepo) bumpPhoneCounter(ctx context.Context, opName string, id int64, updates map[string]interface{}) error {
	operation := func() error {
		result := r.db.WithContext(ctx).Model(&model.PhoneNumber{}).
			Where("id = ?", id).
			Updates(updates)
		if result.Error != nil {
			return checkConstraintViolation(result.Error)
		}
		return nil
	}

	commitPolicy := newRetryPolicy(ctx, commitRetryMaxElapsedTime)
	startTime := utils.Now()
	err := retryableOperation(ctx, commitPolicy, opName, operation)
	observer.ObserveDbOperationDuration("update", "phone_number", time.Since(startTime), err)
	return err
}

// SavePhoneNumber persists a sending number row.
func (r *PostgresRepo) SavePhoneNumber(ctx context.Context, number *model.PhoneNumber) error {
	number.UpdatedAt = utils.Now()

	operation := func() error {
		result := r.db.WithContext(ctx).Save(number)
		if result.Error != nil {
			return checkConstraintViolation(result.Error)
		}
		return nil
	}

	commitPolicy := newRetryPolicy(ctx, commitRetryMaxElapsedTime)
	startTime := utils.Now()
	err := retryableOperation(ctx, commitPolicy, "SavePhoneNumber", operation)
	observer.ObserveDbOperationDuration("save", "phone_number", time.Since(startTime), err)

	if err != nil {
		logger.FromContext(ctx).Error("Failed to save phone number",
			zap.String("phone", number.Phone), zap.Error(err))
	}
	return err
}
