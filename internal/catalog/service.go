package catalog

import (
	"context"
	"fmt"
	"strings"
	"time"

	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/terralot/terralot/internal/shared"
)

// RepositoryPort defines data access methods for the catalog.
type RepositoryPort interface {
	GetLot(ctx context.Context, id string) (Lot, error)
	ListLots(ctx context.Context, filter ListFilter) ([]Lot, int, error)
	CreateLot(ctx context.Context, input CreateLotInput) (Lot, error)
}

// Service handles catalog business logic.
type Service struct {
	repo    RepositoryPort
	cursor  *ChangeCursor
	printer *message.Printer
}

// NewService builds a Service instance.
func NewService(repo RepositoryPort, cursor *ChangeCursor) *Service {
	return &Service{
		repo:    repo,
		cursor:  cursor,
		printer: message.NewPrinter(language.English),
	}
}

// GetLot returns a single lot.
func (s *Service) GetLot(ctx context.Context, id string) (Lot, error) {
	return s.repo.GetLot(ctx, id)
}

// ListLots returns lots with pagination metadata.
func (s *Service) ListLots(ctx context.Context, filter ListFilter) ([]Lot, shared.Pagination, error) {
	if filter.Status != "" && !ValidStatus(filter.Status) {
		return nil, shared.Pagination{}, fmt.Errorf("%w: unknown status %q", ErrInvalidLot, filter.Status)
	}
	lots, total, err := s.repo.ListLots(ctx, filter)
	if err != nil {
		return nil, shared.Pagination{}, err
	}
	return lots, shared.NewPagination(filter.Page, filter.PerPage, total), nil
}

// CreateLot validates and inserts a new catalog entry.
func (s *Service) CreateLot(ctx context.Context, input CreateLotInput) (Lot, error) {
	input.Reference = strings.TrimSpace(input.Reference)
	if input.Reference == "" {
		return Lot{}, fmt.Errorf("%w: reference is required", ErrInvalidLot)
	}
	if input.PriceCents < 0 {
		return Lot{}, fmt.Errorf("%w: price must be >= 0", ErrInvalidLot)
	}
	lot, err := s.repo.CreateLot(ctx, input)
	if err != nil {
		return Lot{}, err
	}
	s.cursor.Touch(ctx, lot.CreatedAt)
	return lot, nil
}

// Cursor returns the last catalog mutation instant.
func (s *Service) Cursor(ctx context.Context) (time.Time, error) {
	return s.cursor.Current(ctx)
}

// DisplayPrice renders a lot price in whole euros with thousands grouping.
func (s *Service) DisplayPrice(priceCents int64) string {
	return s.printer.Sprintf("%d", priceCents/100)
}
