package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/evetabi/managedwealth/internal/domain"
	"github.com/evetabi/managedwealth/internal/metrics"
	"github.com/evetabi/managedwealth/internal/repository"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Advisory lock keys taken by admission.
const (
	lockWalletPrefix = "managed-subscribe:wallet:"
	lockCoverage     = "managed-subscribe:reserve-coverage"
)

// SubscriptionPolicy holds admission parameters.
type SubscriptionPolicy struct {
	MinPrincipal  decimal.Decimal
	TrialTermDays int
}

// CreateRequest is a subscribe call from a verified wallet. Either
// ProductID or ProductSlug identifies the product.
type CreateRequest struct {
	WalletAddress string
	ProductID     *uuid.UUID
	ProductSlug   string
	TermID        uuid.UUID
	Principal     decimal.Decimal
	AcceptedTerms bool
}

// Marketing reports the promotional rules applied on creation.
type Marketing struct {
	TrialApplied         bool       `json:"trialApplied"`
	TrialEndsAt          *time.Time `json:"trialEndsAt"`
	ReferralBonusApplied bool       `json:"referralBonusApplied"`
}

// CreateResult is returned by Create.
type CreateResult struct {
	Subscription *domain.Subscription `json:"subscription"`
	Marketing    Marketing            `json:"marketing"`
}

// SubscriptionDetail is a subscription with its settlement and latest NAV.
type SubscriptionDetail struct {
	Subscription *domain.Subscription `json:"subscription"`
	Settlement   *domain.Settlement   `json:"settlement"`
	LatestNav    *domain.NavSnapshot  `json:"latestNav"`
}

// SubscriptionService admits new subscriptions and serves wallet reads.
type SubscriptionService struct {
	store        repository.Store
	reservations *ReservationService
	coverage     *CoverageService
	nav          *NavService
	policy       SubscriptionPolicy
	referral     ReferralBonus // optional
	notifier     Notifier
	log          *slog.Logger
	now          Clock
}

// NewSubscriptionService creates a SubscriptionService.
func NewSubscriptionService(
	store repository.Store,
	reservations *ReservationService,
	coverage *CoverageService,
	nav *NavService,
	policy SubscriptionPolicy,
	log *slog.Logger,
) *SubscriptionService {
	return &SubscriptionService{
		store:        store,
		reservations: reservations,
		coverage:     coverage,
		nav:          nav,
		policy:       policy,
		notifier:     nopNotifier{},
		log:          log.With("component", "subscription_service"),
		now:          utcNow,
	}
}

// SetNotifier injects the WS Hub dependency post-construction.
func (s *SubscriptionService) SetNotifier(n Notifier) { s.notifier = n }

// SetReferralBonus injects the referral collaborator.
func (s *SubscriptionService) SetReferralBonus(r ReferralBonus) { s.referral = r }

// ──────────────────────────────────────────────────────────────────────────────
// Create
// ──────────────────────────────────────────────────────────────────────────────

// Create validates the request and, inside one transaction, runs coverage
// and availability admission, persists the PENDING subscription, reserves
// its principal and writes the initial NAV snapshot.
//
// Creations by the same wallet are serialized with an advisory lock so two
// concurrent requests can never both pass the availability check.
func (s *SubscriptionService) Create(ctx context.Context, req CreateRequest) (*CreateResult, error) {
	res, err := s.create(ctx, req)
	if err != nil {
		metrics.AdmissionRejections.WithLabelValues(rejectionCode(err)).Inc()
		return nil, err
	}
	return res, nil
}

func (s *SubscriptionService) create(ctx context.Context, req CreateRequest) (*CreateResult, error) {
	// ── 1. Input validation ──────────────────────────────────────────────────
	if !req.AcceptedTerms {
		return nil, domain.ErrTermsNotAccepted
	}
	if !req.Principal.IsPositive() {
		return nil, domain.ErrInvalidPrincipal
	}
	principal := domain.Round(req.Principal)
	if principal.LessThan(s.policy.MinPrincipal) {
		return nil, domain.ErrPrincipalBelowMinimum
	}
	wallet := domain.NormalizeWallet(req.WalletAddress)
	if wallet == "" {
		return nil, domain.ErrUnauthorized
	}

	// ── 2. Catalog lookup ────────────────────────────────────────────────────
	product, err := s.lookupProduct(ctx, req)
	if err != nil {
		return nil, err
	}
	if !product.AcceptsSubscriptions() {
		return nil, domain.ErrProductNotActive
	}
	term, err := s.store.GetTerm(ctx, product.ID, req.TermID)
	if err != nil {
		return nil, err
	}
	if term.ExceedsCap(principal) {
		return nil, domain.ErrPrincipalAboveCap
	}

	// ── 3. Admission + persistence ───────────────────────────────────────────
	now := s.now()
	sub := &domain.Subscription{
		ID:            uuid.New(),
		WalletAddress: wallet,
		ProductID:     product.ID,
		TermID:        term.ID,
		Principal:     principal,
		HighWaterMark: principal,
		CurrentEquity: principal,
		Status:        domain.SubPending,
		StartAt:       timePtr(now),
		EndAt:         timePtr(now.Add(term.Duration())),
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	err = s.store.InTx(ctx, func(q repository.Queries) error {
		if err := q.LockKey(ctx, lockWalletPrefix+wallet); err != nil {
			return err
		}

		// Re-read under the lock: the worker may have paused the product.
		current, err := q.GetProduct(ctx, product.ID)
		if err != nil {
			return err
		}
		if !current.AcceptsSubscriptions() {
			return domain.ErrProductNotActive
		}

		prior, err := q.CountSubscriptionsByWallet(ctx, wallet)
		if err != nil {
			return err
		}
		if prior == 0 && s.policy.TrialTermDays > 0 && term.DurationDays == s.policy.TrialTermDays {
			sub.IsTrial = true
			sub.TrialEndsAt = timePtr(now.Add(term.Duration()))
		}

		if current.IsGuaranteed {
			if err := q.LockKey(ctx, lockCoverage); err != nil {
				return err
			}
			if _, err := s.coverage.CheckAdmission(ctx, q, current, term, principal); err != nil {
				return err
			}
		}

		snap, err := s.reservations.AssertAvailability(ctx, q, wallet, principal)
		if err != nil {
			return err
		}
		if err := q.CreateSubscription(ctx, sub); err != nil {
			return err
		}
		if err := s.reservations.Reserve(ctx, q, wallet, sub.ID, principal, snap, domain.NoteSubscriptionCreated); err != nil {
			return err
		}
		return s.nav.WriteInitial(ctx, q, sub)
	})
	if err != nil {
		return nil, err
	}

	// ── 4. Post-commit side effects (best-effort) ────────────────────────────
	result := &CreateResult{
		Subscription: sub,
		Marketing: Marketing{
			TrialApplied: sub.IsTrial,
			TrialEndsAt:  sub.TrialEndsAt,
		},
	}
	if s.referral != nil {
		applied, err := s.referral.ApplyManagedBonus(ctx, wallet, sub.ID)
		if err != nil {
			s.log.Warn("referral bonus failed", "subscription_id", sub.ID, "error", err)
		}
		result.Marketing.ReferralBonusApplied = applied && err == nil
	}

	metrics.SubscriptionsCreated.WithLabelValues(product.Slug).Inc()
	s.notifier.SubscriptionCreated(sub)
	s.log.Info("managed subscription created",
		"subscription_id", sub.ID, "product", product.Slug, "principal", principal.String(), "trial", sub.IsTrial)
	return result, nil
}

func (s *SubscriptionService) lookupProduct(ctx context.Context, req CreateRequest) (*domain.Product, error) {
	switch {
	case req.ProductID != nil:
		return s.store.GetProduct(ctx, *req.ProductID)
	case req.ProductSlug != "":
		return s.store.GetProductBySlug(ctx, req.ProductSlug)
	}
	return nil, domain.ErrProductNotFound
}

// rejectionCode labels admission rejections for metrics.
func rejectionCode(err error) string {
	var coder interface{ Code() string }
	if errors.As(err, &coder) {
		return coder.Code()
	}
	switch {
	case domain.IsNotFound(err):
		return "NOT_FOUND"
	case domain.IsValidation(err):
		return "VALIDATION"
	case errors.Is(err, domain.ErrProductNotActive):
		return "PRODUCT_NOT_ACTIVE"
	}
	return "INTERNAL"
}

// ──────────────────────────────────────────────────────────────────────────────
// Reads
// ──────────────────────────────────────────────────────────────────────────────

// List returns the wallet's subscriptions, optionally filtered by status.
func (s *SubscriptionService) List(ctx context.Context, wallet string, status domain.SubscriptionStatus) ([]*domain.Subscription, error) {
	subs, err := s.store.ListSubscriptionsByWallet(ctx, domain.NormalizeWallet(wallet), status)
	if err != nil {
		return nil, fmt.Errorf("subscription_service.List: %w", err)
	}
	return subs, nil
}

// Get returns an owned subscription with its settlement and latest NAV.
func (s *SubscriptionService) Get(ctx context.Context, wallet string, id uuid.UUID) (*SubscriptionDetail, error) {
	sub, err := s.owned(ctx, wallet, id)
	if err != nil {
		return nil, err
	}
	st, err := s.store.GetSettlement(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("subscription_service.Get: settlement: %w", err)
	}
	nav, err := s.store.LatestNav(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("subscription_service.Get: nav: %w", err)
	}
	return &SubscriptionDetail{Subscription: sub, Settlement: st, LatestNav: nav}, nil
}

// NavHistory returns up to limit NAV snapshots of an owned subscription.
func (s *SubscriptionService) NavHistory(ctx context.Context, wallet string, id uuid.UUID, limit int) ([]*domain.NavSnapshot, error) {
	if _, err := s.owned(ctx, wallet, id); err != nil {
		return nil, err
	}
	return s.nav.History(ctx, id, limit)
}

// Products returns the active catalog with each product's active terms.
func (s *SubscriptionService) Products(ctx context.Context) ([]*domain.Product, error) {
	products, err := s.store.ListProducts(ctx, true)
	if err != nil {
		return nil, fmt.Errorf("subscription_service.Products: %w", err)
	}
	for _, p := range products {
		terms, err := s.store.ListTerms(ctx, p.ID)
		if err != nil {
			return nil, fmt.Errorf("subscription_service.Products: terms: %w", err)
		}
		p.Terms = terms
	}
	return products, nil
}

func (s *SubscriptionService) owned(ctx context.Context, wallet string, id uuid.UUID) (*domain.Subscription, error) {
	sub, err := s.store.GetSubscription(ctx, id)
	if err != nil {
		return nil, err
	}
	if sub.WalletAddress != domain.NormalizeWallet(wallet) {
		return nil, domain.ErrForbidden
	}
	return sub, nil
}
