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

// FindCompanyByID retrieves a company by primary key.
func (r *PostgresRepo) FindCompanyByID(ctx context.Context, id int64) (*model.Company, error) {
	var company model.Company

	operation := func() error {
		result := r.db.WithContext(ctx).First(&company, id)
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
	err := retryableOperation(ctx, readPolicy, "FindCompanyByID", operation)
	observer.ObserveDbOperationDuration("find", "company", time.Since(startTime), err)

	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: company %d", apperrors.ErrNotFound, id)
		}
		return nil, err
	}
	return &company, nil
}

// SaveCompany persists changes to a company row.
func (r *PostgresRepo) SaveCompany(ctx context.Context, company *model.Company) error {
	company.UpdatedAt = utils.Now()

	operation := func() error {
		result := r.db.WithContext(ctx).Save(company)
		if result.Error != nil {
			return checkConstraintViolation(result.Error)
		}
		return nil
	}

	commitPolicy := newRetryPolicy(ctx, commitRetryMaxElapsedTime)
	startTime := utils.Now()
	err := retryableOperation(ctx, commitPolicy, "SaveCompany", operation)
	observer.ObserveDbOperationDuration("save", "company", time.Since(startTime), err)

	if err != nil {
		logger.FromContext(ctx).Error("Failed to save company", zap.Int64("company_id", company.ID), zap.Error(err))
	}
	return err
}

// FindLeadStageByTitle fetches a company's lead stage by its display title.
func (r *PostgresRepo) FindLeadStageByTitle(ctx context.Context, companyID int64, title string) (*model.LeadStage, error) {
	var stage model.LeadStage

	operation := func() error {
		result := r.db.WithContext(ctx).
			Where("company_id = ? AND title = ?", companyID, title).
			First(&stage)
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
	err := retryableOperation(ctx, readPolicy, "FindLeadStageByTitle", operation)
	observer.ObserveDbOperationDuration("find", "lead_stage", time.Since(startTime), err)

	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: lead stage %q for company %d", apperrors.ErrNotFound, title, companyID)
		}
		return nil, err
	}
	return &stage, nil
}
