package service

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/draftforge/draftforge/internal/jobs"
	"github.com/draftforge/draftforge/internal/store"
	"github.com/draftforge/draftforge/internal/store/model"
)

type UsageService struct {
	store store.Store
}

func NewUsageService(s store.Store) *UsageService {
	return &UsageService{store: s}
}

// UsageEvent describes one metered consumption event.
type UsageEvent struct {
	JobID     *uuid.UUID
	Stage     string
	Provider  string
	Model     string
	TokensIn  int64
	TokensOut int64
	Preset    string
}

// CheckBudget verifies the organization can afford estimatedTokens. It
// performs no mutation; failures surface before any job is marked failed so
// the caller can offer a purchase path.
func (s *UsageService) CheckBudget(ctx context.Context, orgID string, estimatedTokens int64) (int64, error) {
	org, err := s.store.Organization().Get(ctx, orgID)
	if err != nil {
		if errors.Is(err, store.ErrRecordNotFound) {
			return 0, NewErrOrganizationNotFound(orgID)
		}
		return 0, err
	}

	available := org.MonthlyTokenLimit + org.BonusTokens
	remaining := available - org.MonthlyTokensUsed
	if estimatedTokens > remaining {
		return remaining, NewErrBudgetExceeded(orgID, estimatedTokens, remaining)
	}
	return remaining, nil
}

// RecordUsage appends one immutable ledger entry and increments the
// organization counter by the billed amount, both in one transaction. When
// the context already carries a transaction the caller owns the commit, so
// metering and the effect it meters cannot diverge.
func (s *UsageService) RecordUsage(ctx context.Context, orgID string, event UsageEvent) (*model.UsageRecord, error) {
	ownsTx := store.FromContext(ctx) == nil

	ctx, err := s.store.NewTransactionContext(ctx)
	if err != nil {
		return nil, err
	}

	rawTotal := event.TokensIn + event.TokensOut
	billed := jobs.BilledTokens(rawTotal, event.Preset)

	record, err := s.store.Usage().Create(ctx, model.UsageRecord{
		OrgID:        orgID,
		JobID:        event.JobID,
		Stage:        event.Stage,
		Provider:     event.Provider,
		Model:        event.Model,
		TokensIn:     event.TokensIn,
		TokensOut:    event.TokensOut,
		TokensTotal:  rawTotal,
		Preset:       event.Preset,
		Multiplier:   jobs.Multiplier(event.Preset),
		BilledTokens: billed,
	})
	if err != nil {
		if ownsTx {
			_, _ = store.Rollback(ctx)
		}
		return nil, err
	}

	if err := s.store.Organization().ConsumeTokens(ctx, orgID, billed); err != nil {
		if ownsTx {
			_, _ = store.Rollback(ctx)
		}
		return nil, err
	}

	if ownsTx {
		if _, err := store.Commit(ctx); err != nil {
			return nil, err
		}
	}

	zap.S().Named("usage_service").Debugf("recorded %d billed tokens (%d raw) for org %s", billed, rawTotal, orgID)
	return record, nil
}

func (s *UsageService) ListUsage(ctx context.Context, orgID string) (model.UsageRecordList, error) {
	return s.store.Usage().List(ctx, store.NewUsageQueryFilter().ByOrgID(orgID))
}

// CreatePurchaseIntent registers an intent to buy bonus tokens. The intent
// is keyed by a caller-supplied idempotency key; repeating the call returns
// the intent created first.
func (s *UsageService) CreatePurchaseIntent(ctx context.Context, orgID string, idempotencyKey string, tokens int64) (*model.TokenPurchase, error) {
	if idempotencyKey == "" {
		return nil, NewErrValidation("idempotency key is required")
	}
	if tokens <= 0 {
		return nil, NewErrValidation("token amount must be positive")
	}
	if _, err := s.store.Organization().Get(ctx, orgID); err != nil {
		if errors.Is(err, store.ErrRecordNotFound) {
			return nil, NewErrOrganizationNotFound(orgID)
		}
		return nil, err
	}

	purchase, err := s.store.Purchase().Create(ctx, model.TokenPurchase{
		OrgID:          orgID,
		IdempotencyKey: idempotencyKey,
		Tokens:         tokens,
		Status:         model.PurchaseStatusPending,
	})
	if err == nil {
		return purchase, nil
	}
	if !errors.Is(err, store.ErrDuplicateKey) {
		return nil, err
	}

	existing, err := s.store.Purchase().GetByIdempotencyKey(ctx, idempotencyKey)
	if err != nil {
		return nil, err
	}
	if existing.OrgID != orgID {
		return nil, NewErrValidation("idempotency key already used")
	}
	return existing, nil
}

// ConfirmPurchase completes a pending intent and credits the bonus pool,
// both in one transaction. Confirmation is safely repeatable: a completed
// intent is returned as-is and never credited twice.
func (s *UsageService) ConfirmPurchase(ctx context.Context, orgID string, purchaseID uuid.UUID) (*model.TokenPurchase, error) {
	ctx, err := s.store.NewTransactionContext(ctx)
	if err != nil {
		return nil, err
	}

	purchase, err := s.store.Purchase().Get(ctx, purchaseID)
	if err != nil {
		_, _ = store.Rollback(ctx)
		if errors.Is(err, store.ErrRecordNotFound) {
			return nil, NewErrPurchaseNotFound(purchaseID)
		}
		return nil, err
	}
	if purchase.OrgID != orgID {
		_, _ = store.Rollback(ctx)
		return nil, NewErrPurchaseNotFound(purchaseID)
	}

	switch purchase.Status {
	case model.PurchaseStatusCompleted:
		_, _ = store.Rollback(ctx)
		return purchase, nil
	case model.PurchaseStatusCancelled:
		_, _ = store.Rollback(ctx)
		return nil, NewErrValidation("purchase has been cancelled")
	}

	if err := s.store.Purchase().Complete(ctx, purchaseID); err != nil {
		_, _ = store.Rollback(ctx)
		if errors.Is(err, store.ErrRecordNotFound) {
			// lost the race against a concurrent confirmation; the winner
			// already credited the tokens
			return s.store.Purchase().Get(ctx, purchaseID)
		}
		return nil, err
	}

	if err := s.store.Organization().AddBonusTokens(ctx, orgID, purchase.Tokens); err != nil {
		_, _ = store.Rollback(ctx)
		return nil, err
	}

	if _, err := store.Commit(ctx); err != nil {
		return nil, err
	}

	zap.S().Named("usage_service").Infof("credited %d bonus tokens to org %s (purchase %s)", purchase.Tokens, orgID, purchaseID)
	return s.store.Purchase().Get(ctx, purchaseID)
}

// ResetBillingCycle zeroes the monthly counter on the cycle boundary.
func (s *UsageService) ResetBillingCycle(ctx context.Context, orgID string) error {
	if err := s.store.Organization().ResetBillingCycle(ctx, orgID, time.Now()); err != nil {
		if errors.Is(err, store.ErrRecordNotFound) {
			return NewErrOrganizationNotFound(orgID)
		}
		return err
	}
	return nil
}
