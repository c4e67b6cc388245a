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

// CountAgentLeases counts the relay leases currently held by an agent.
func (r *PostgresRepo) CountAgentLeases(ctx context.Context, agentProfileID int64) (int64, error) {
	var count int64

	operation := func() error {
		result := r.db.WithContext(ctx).Model(&model.ProspectRelay{}).
			Where("agent_profile_id = ?", agentProfileID).
			Count(&count)
		if result.Error != nil {
			return checkConstraintViolation(result.Error)
		}
		return nil
	}

	readPolicy := newRetryPolicy(ctx, readRetryMaxElapsedTime)
	startTime := utils.Now()
	err := retryableOperation(ctx, readPolicy, "CountAgentLeases", operation)
	observer.ObserveDbOperationDuration("count", "prospect_relay", time.Since(startTime), err)

	if err != nil {
		return 0, err
	}
	return count, nil
}

// FindRelayLease retrieves the lease pairing a prospect with an agent.
func (r *PostgresRepo) FindRelayLease(ctx context.Context, prospectID, agentProfileID int64) (*model.ProspectRelay, error) {
	var lease model.ProspectRelay

	operation := func() error {
		result := r.db.WithContext(ctx).
			Preload("Prospect").Preload("Agent").Preload("RelayNumber").
			Where("prospect_id = ? AND agent_profile_id = ?", prospectID, agentProfileID).
			First(&lease)
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
	err := retryableOperation(ctx, readPolicy, "FindRelayLease", operation)
	observer.ObserveDbOperationDuration("find", "prospect_relay", time.Since(startTime), err)

	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: relay lease prospect %d agent %d", apperrors.ErrNotFound, prospectID, agentProfileID)
		}
		return nil, err
	}
	return &lease, nil
}

// FindLeaseByNumbers resolves the lease an agent's outbound text belongs to,
// keyed by the relay number they texted and their own phone.
func (r *PostgresRepo) FindLeaseByNumbers(ctx context.Context, relayPhone, agentPhone string) (*model.ProspectRelay, error) {
	var lease model.ProspectRelay

	operation := func() error {
		result := r.db.WithContext(ctx).
			Preload("Prospect").Preload("Agent").Preload("RelayNumber").
			Joins("JOIN relay_numbers ON relay_numbers.id = prospect_relays.relay_number_id").
			Joins("JOIN agent_profiles ON agent_profiles.id = prospect_relays.agent_profile_id").
			Where("relay_numbers.phone = ? AND agent_profiles.phone = ?", relayPhone, agentPhone).
			Order("prospect_relays.created_at DESC").
			First(&lease)
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
	err := retryableOperation(ctx, readPolicy, "FindLeaseByNumbers", operation)
	observer.ObserveDbOperationDuration("find", "prospect_relay", time.Since(startTime), err)

	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: relay lease for %s/%s", apperrors.ErrNotFound, relayPhone, agentPhone)
		}
		return nil, err
	}
	return &lease, nil
}

// FindLeaseByRelayAndProspect resolves the lease a prospect's inbound text or
// call belongs to, keyed by the relay number dialed and the prospect's phone.
func (r *PostgresRepo) FindLeaseByRelayAndProspect(ctx context.Context, relayPhone, prospectPhone string) (*model.ProspectRelay, error) {
	var lease model.ProspectRelay

	operation := func() error {
		result := r.db.WithContext(ctx).
			Preload("Prospect").Preload("Agent").Preload("RelayNumber").
			Joins("JOIN relay_numbers ON relay_numbers.id = prospect_relays.relay_number_id").
			Joins("JOIN prospects ON prospects.id = prospect_relays.prospect_id").
			Where("relay_numbers.phone = ? AND prospects.phone_raw = ?", relayPhone, prospectPhone).
			Order("prospect_relays.created_at DESC").
			First(&lease)
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
	err := retryableOperation(ctx, readPolicy, "FindLeaseByRelayAndProspect", operation)
	observer.ObserveDbOperationDuration("find", "prospect_relay", time.Since(startTime), err)

	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: relay lease for %s/%s", apperrors.ErrNotFound, relayPhone, prospectPhone)
		}
		return nil, err
	}
	return &lease, nil
}

// FindLeaseByProspect returns the most recent lease attached to a prospect,
// used to mirror ordinary inbound replies to the leasing agent.
func (r *PostgresRepo) FindLeaseByProspect(ctx context.Context, prospectID int64) (*model.ProspectRelay, error) {
	var lease model.ProspectRelay

	operation := func() error {
		result := r.db.WithContext(ctx).
			Preload("Prospect").Preload("Agent").Preload("RelayNumber").
			Where("prospect_id = ?", prospectID).
			Order("created_at DESC").
			First(&lease)
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
	err := retryableOperation(ctx, readPolicy, "FindLeaseByProspect", operation)
	observer.ObserveDbOperationDuration("find", "prospect_relay", time.Since(startTime), err)

	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: relay lease for prospect %d", apperrors.ErrNotFound, prospectID)
		}
		return nil, err
	}
	return &lease, nil
}

// ClaimAvailableNumber atomically reserves an active relay number the agent is
// not already using. The claim is a status compare-and-swap, so two concurrent
// connects can never walk away with the same number.
func (r *PostgresRepo) ClaimAvailableNumber(ctx context.Context, agentProfileID int64) (*model.RelayNumber, error) {
	var claimed model.RelayNumber

	operation := func() error {
		var candidates []model.RelayNumber
		result := r.db.WithContext(ctx).
			Where("status = ?", model.RelayStatusActive).
			Where("id NOT IN (?)",
				r.db.Model(&model.ProspectRelay{}).
					Select("relay_number_id").
					Where("agent_profile_id = ?", agentProfileID)).
			Order("id ASC").
			Limit(10).
			Find(&candidates)
		if result.Error != nil {
			return checkConstraintViolation(result.Error)
		}
		if len(candidates) == 0 {
			return gorm.ErrRecordNotFound
		}

		for _, candidate := range candidates {
			cas := r.db.WithContext(ctx).Model(&model.RelayNumber{}).
				Where("id = ? AND status = ?", candidate.ID, model.RelayStatusActive).
				Updates(map[string]interface{}{
					"status":     model.RelayStatusPending,
					"updated_at": utils.Now(),
				})
			if cas.Error != nil {
				return checkConstraintViolation(cas.Error)
			}
			if cas.RowsAffected == 1 {
				claimed = candidate
				claimed.Status = model.RelayStatusPending
				return nil
			}
			// Lost the race for this candidate, try the next one.
		}
		return gorm.ErrRecordNotFound
	}

	commitPolicy := newRetryPolicy(ctx, commitRetryMaxElapsedTime)
	startTime := utils.Now()
	err := retryableOperation(ctx, commitPolicy, "ClaimAvailableNumber", operation)
	observer.ObserveDbOperationDuration("update", "relay_number", time.Since(startTime), err)

	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: %s", apperrors.ErrConflict, model.RelayErrNoAvailableNumbers)
		}
		return nil, err
	}
	return &claimed, nil
}

// CreateLease persists a new prospect relay lease.
func (r *PostgresRepo) CreateLease(ctx context.Context, lease *model.ProspectRelay) error {
	operation := func() error {
		result := r.db.WithContext(ctx).Create(lease)
		if result.Error != nil {
			return checkConstraintViolation(result.Error)
		}
		return nil
	}

	commitPolicy := newRetryPolicy(ctx, commitRetryMaxElapsedTime)
	startTime := utils.Now()
	err := retryableOperation(ctx, commitPolicy, "CreateLease", operation)
	observer.ObserveDbOperationDuration("create", "prospect_relay", time.Since(startTime), err)

	if err != nil {
		logger.FromContext(ctx).Error("Failed to create relay lease",
			zap.Int64("prospect_id", lease.ProspectID),
			zap.Int64("agent_profile_id", lease.AgentProfileID),
			zap.Error(err))
		return err
	}
	observer.RelayConnectionsActive.Inc()
	return nil
}

// ActivateNumber returns a claimed relay number to the active pool.
func (r *PostgresRepo) ActivateNumber(ctx context.Context, relayNumberID int64) error {
	operation := func() error {
		result := r.db.WithContext(ctx).Model(&model.RelayNumber{}).
			Where("id = ?", relayNumberID).
			Updates(map[string]interface{}{
				"status":     model.RelayStatusActive,
				"updated_at": utils.Now(),
			})
		if result.Error != nil {
			return checkConstraintViolation(result.Error)
		}
		if result.RowsAffected == 0 {
			return fmt.Errorf("%w: relay number %d", apperrors.ErrNotFound, relayNumberID)
		}
		return nil
	}

	commitPolicy := newRetryPolicy(ctx, commitRetryMaxElapsedTime)
	startTime := utils.Now()
	err := retryableOperation(ctx, commitPolicy, "ActivateNumber", operation)
	observer.ObserveDbOperationDuration("update", "relay_number", time.Since(startTime), err)
	return err
}

// ReleaseLease removes a prospect relay lease.
func (r *PostgresRepo) ReleaseLease(ctx context.Context, leaseID int64) error {
	operation := func() error {
		result := r.db.WithContext(ctx).Delete(&model.ProspectRelay{}, leaseID)
		if result.Error != nil {
			return checkConstraintViolation(result.Error)
		}
		return nil
	}

	commitPolicy := newRetryPolicy(ctx, commitRetryMaxElapsedTime)
	startTime := utils.Now()
	err := retryableOperation(ctx, commitPolicy, "ReleaseLease", operation)
	observer.ObserveDbOperationDuration("delete", "prospect_relay", time.Since(startTime), err)

	if err == nil {
		observer.RelayConnectionsActive.Dec()
	}
	return err
}

// TouchLease stamps a lease with the last time traffic passed through it.
func (r *PostgresRepo) TouchLease(ctx context.Context, leaseID int64, at time.Time) error {
	operation := func() error {
		result := r.db.WithContext(ctx).Model(&model.ProspectRelay{}).
			Where("id = ?", leaseID).
			Update("last_activity", at)
		if result.Error != nil {
			return checkConstraintViolation(result.Error)
		}
		return nil
	}

	commitPolicy := newRetryPolicy(ctx, commitRetryMaxElapsedTime)
	startTime := utils.Now()
	err := retryableOperation(ctx, commitPolicy, "TouchLease", operation)
	observer.ObserveDbOperationDuration("update", "prospect_relay", time.Since(startTime), err)
	return err
}

// FindAgentByID retrieves an agent profile by primary key.
func (r *PostgresRepo) FindAgentByID(ctx context.Context, id int64) (*model.AgentProfile, error) {
	var agent model.AgentProfile

	operation := func() error {
		result := r.db.WithContext(ctx).First(&agent, id)
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
	err := retryableOperation(ctx, readPolicy, "FindAgentByID", operation)
	observer.ObserveDbOperationDuration("find", "agent_profile", time.Since(startTime), err)

	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: agent %d", apperrors.ErrNotFound, id)
		}
		return nil, err
	}
	return &agent, nil
}

// FindAgentByPhone retrieves an agent profile by its cleaned phone.
func (r *PostgresRepo) FindAgentByPhone(ctx context.Context, companyID int64, phone string) (*model.AgentProfile, error) {
	var agent model.AgentProfile

	operation := func() error {
		result := r.db.WithContext(ctx).
			Where("company_id = ? AND phone = ?", companyID, phone).
			First(&agent)
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
	err := retryableOperation(ctx, readPolicy, "FindAgentByPhone", operation)
	observer.ObserveDbOperationDuration("find", "agent_profile", time.Since(startTime), err)

	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: agent %s", apperrors.ErrNotFound, phone)
		}
		return nil, err
	}
	return &agent, nil
}
