package storage

import (
	"context"
	"time"

	"go.uber.org/zap"

	"gitlab.com/hearthline/api/telephony-engine/internal/model"
	"gitlab.com/hearthline/api/telephony-engine/internal/observer"
	"gitlab.com/hearthline/api/telephony-engine/pkg/logger"
	"gitlab.com/hearthline/api/telephony-engine/pkg/utils"
)

// IsInternalDNC reports whether a phone sits on the company's internal DNC list.
func (r *PostgresRepo) IsInternalDNC(ctx context.Context, companyID int64, phone string) (bool, error) {
	var count int64

	operation := func() error {
		result := r.db.WithContext(ctx).Model(&model.InternalDNC{}).
			Where("company_id = ? AND phone_raw = ?", companyID, phone).
			Count(&count)
		if result.Error != nil {
			return checkConstraintViolation(result.Error)
		}
		return nil
	}

	readPolicy := newRetryPolicy(ctx, readRetryMaxElapsedTime)
	startTime := utils.Now()
	err := retryableOperation(ctx, readPolicy, "IsInternalDNC", operation)
	observer.ObserveDbOperationDuration("count", "internal_dnc", time.Since(startTime), err)

	if err != nil {
		return false, err
	}
	return count > 0, nil
}

// IsLitigator reports whether a phone appears on the litigator list.
func (r *PostgresRepo) IsLitigator(ctx context.Context, phone string) (bool, error) {
	var count int64

	operation := func() error {
		result := r.db.WithContext(ctx).Model(&model.LitigatorList{}).
			Where("phone = ?", phone).
			Count(&count)
		if result.Error != nil {
			return checkConstraintViolation(result.Error)
		}
		return nil
	}

	readPolicy := newRetryPolicy(ctx, readRetryMaxElapsedTime)
	startTime := utils.Now()
	err := retryableOperation(ctx, readPolicy, "IsLitigator", operation)
	observer.ObserveDbOperationDuration("count", "litigator_list", time.Since(startTime), err)

	if err != nil {
		return false, err
	}
	return count > 0, nil
}

// SaveLitigatorReport records a report that a prospect may be a litigator.
func (r *PostgresRepo) SaveLitigatorReport(ctx context.Context, report *model.LitigatorReport) error {
	operation := func() error {
		result := r.db.WithContext(ctx).Create(report)
		if result.Error != nil {
			return checkConstraintViolation(result.Error)
		}
		return nil
	}

	commitPolicy := newRetryPolicy(ctx, commitRetryMaxElapsedTime)
	startTime := utils.Now()
	err := retryableOperation(ctx, commitPolicy, "SaveLitigatorReport", operation)
	observer.ObserveDbOperationDuration("create", "litigator_report", time.Since(startTime), err)

	if err != nil {
		logger.FromContext(ctx).Error("Failed to save litigator report",
			zap.Int64("prospect_id", report.ProspectID), zap.Error(err))
	}
	return err
}

// SaveAutoDeadDetection records the outcome of a content classification pass.
func (r *PostgresRepo) SaveAutoDeadDetection(ctx context.Context, detection *model.AutoDeadDetection) error {
	operation := func() error {
		result := r.db.WithContext(ctx).Create(detection)
		if result.Error != nil {
			return checkConstraintViolation(result.Error)
		}
		return nil
	}

	commitPolicy := newRetryPolicy(ctx, commitRetryMaxElapsedTime)
	startTime := utils.Now()
	err := retryableOperation(ctx, commitPolicy, "SaveAutoDeadDetection", operation)
	observer.ObserveDbOperationDuration("create", "auto_dead_detection", time.Since(startTime), err)
	return err
}
