package service

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/evetabi/managedwealth/internal/domain"
	"github.com/evetabi/managedwealth/internal/repository"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// ProductCoverage is one guaranteed product's coverage as seen by the
// pause/resume control.
type ProductCoverage struct {
	ProductID uuid.UUID               `json:"productId"`
	Slug      string                  `json:"slug"`
	Status    domain.ProductStatus    `json:"status"`
	Changed   bool                    `json:"changed"`
	Coverage  domain.CoverageSnapshot `json:"coverage"`
}

// CoverageReport summarizes the reserve fund against all guarantee liability.
type CoverageReport struct {
	ReserveBalance decimal.Decimal   `json:"reserveBalance"`
	TotalLiability decimal.Decimal   `json:"totalGuaranteedLiability"`
	CoverageRatio  *decimal.Decimal  `json:"coverageRatio"`
	Products       []ProductCoverage `json:"products"`
}

// CoverageService gates guaranteed admissions on reserve coverage and
// pauses or resumes guaranteed products each worker cycle.
type CoverageService struct {
	store    repository.Store
	notifier Notifier
	log      *slog.Logger
}

// NewCoverageService creates a CoverageService.
func NewCoverageService(store repository.Store, log *slog.Logger) *CoverageService {
	return &CoverageService{
		store:    store,
		notifier: nopNotifier{},
		log:      log.With("component", "coverage_service"),
	}
}

// SetNotifier injects the WS Hub dependency post-construction.
func (s *CoverageService) SetNotifier(n Notifier) { s.notifier = n }

// CheckAdmission verifies on the caller's transaction that admitting
// principal into a guaranteed product keeps coverage at or above the
// product minimum. Existing liability spans every guaranteed product, since
// they share one reserve fund. Non-guaranteed products always pass.
func (s *CoverageService) CheckAdmission(ctx context.Context, q repository.Queries, p *domain.Product, t *domain.Term, principal decimal.Decimal) (*domain.CoverageSnapshot, error) {
	if !p.IsGuaranteed {
		return nil, nil
	}

	reserve, err := q.ReserveFundBalance(ctx)
	if err != nil {
		return nil, fmt.Errorf("coverage_service.CheckAdmission: reserve: %w", err)
	}
	exposures, err := q.ListGuaranteeExposures(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("coverage_service.CheckAdmission: exposures: %w", err)
	}

	snap := domain.ComputeCoverage(
		domain.Round(reserve),
		domain.TotalLiability(exposures),
		domain.GuaranteeLiability(principal, t.MinYieldRate),
		p.ReserveCoverageMin,
	)
	if !snap.Sufficient() {
		return &snap, &domain.CoverageError{Snapshot: snap}
	}
	return &snap, nil
}

// Reconcile recomputes coverage per guaranteed product and flips its status
// between ACTIVE and PAUSED. Existing subscriptions are never touched.
func (s *CoverageService) Reconcile(ctx context.Context) ([]ProductCoverage, error) {
	products, err := s.store.ListGuaranteedProducts(ctx)
	if err != nil {
		return nil, fmt.Errorf("coverage_service.Reconcile: products: %w", err)
	}
	if len(products) == 0 {
		return nil, nil
	}

	reserve, err := s.store.ReserveFundBalance(ctx)
	if err != nil {
		return nil, fmt.Errorf("coverage_service.Reconcile: reserve: %w", err)
	}
	reserve = domain.Round(reserve)

	out := make([]ProductCoverage, 0, len(products))
	for _, p := range products {
		pc, err := s.productCoverage(ctx, p, reserve)
		if err != nil {
			return out, err
		}

		next := domain.ProductActive
		if !pc.Coverage.Sufficient() {
			next = domain.ProductPaused
		}
		if next != p.Status {
			if err := s.store.SetProductStatus(ctx, p.ID, next); err != nil {
				return out, fmt.Errorf("coverage_service.Reconcile: set status: %w", err)
			}
			pc.Status = next
			pc.Changed = true
			s.log.Info("guaranteed product status changed",
				"product", p.Slug, "status", next, "coverage_ratio", ratioString(pc.Coverage.CoverageRatio))
			s.notifier.ProductStatus(p.ID, p.Slug, next)
		}
		out = append(out, pc)
	}
	return out, nil
}

// Report builds the reserve fund overview for the backoffice.
func (s *CoverageService) Report(ctx context.Context) (*CoverageReport, error) {
	reserve, err := s.store.ReserveFundBalance(ctx)
	if err != nil {
		return nil, fmt.Errorf("coverage_service.Report: reserve: %w", err)
	}
	reserve = domain.Round(reserve)

	all, err := s.store.ListGuaranteeExposures(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("coverage_service.Report: exposures: %w", err)
	}
	total := domain.TotalLiability(all)
	overall := domain.ComputeCoverage(reserve, total, decimal.Zero, decimal.Zero)

	products, err := s.store.ListGuaranteedProducts(ctx)
	if err != nil {
		return nil, fmt.Errorf("coverage_service.Report: products: %w", err)
	}
	report := &CoverageReport{
		ReserveBalance: reserve,
		TotalLiability: total,
		CoverageRatio:  overall.CoverageRatio,
		Products:       make([]ProductCoverage, 0, len(products)),
	}
	for _, p := range products {
		pc, err := s.productCoverage(ctx, p, reserve)
		if err != nil {
			return nil, err
		}
		report.Products = append(report.Products, pc)
	}
	return report, nil
}

func (s *CoverageService) productCoverage(ctx context.Context, p *domain.Product, reserve decimal.Decimal) (ProductCoverage, error) {
	id := p.ID
	exposures, err := s.store.ListGuaranteeExposures(ctx, &id)
	if err != nil {
		return ProductCoverage{}, fmt.Errorf("coverage_service: exposures for %s: %w", p.Slug, err)
	}
	return ProductCoverage{
		ProductID: p.ID,
		Slug:      p.Slug,
		Status:    p.Status,
		Coverage:  domain.ComputeCoverage(reserve, domain.TotalLiability(exposures), decimal.Zero, p.ReserveCoverageMin),
	}, nil
}

func ratioString(r *decimal.Decimal) string {
	if r == nil {
		return "unbounded"
	}
	return r.String()
}
