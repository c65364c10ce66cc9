package service

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/sakashimaa/go-order-saga/pkg/mylogger"
	"github.com/sakashimaa/go-order-saga/services/product/internal/domain"
	"github.com/sakashimaa/go-order-saga/services/product/internal/repository"
	"go.uber.org/zap"
)

type ProductService interface {
	GetProduct(ctx context.Context, id int64) (*domain.Product, error)
	ReserveStock(ctx context.Context, reservationID string, lines []domain.StockLine) (*domain.Reservation, error)
	ReleaseStock(ctx context.Context, reservationID string) (*domain.ReleaseResult, error)
}

type ReservationStore interface {
	Reserve(ctx context.Context, reservationID string, lines []domain.StockLine) (*domain.Reservation, error)
	Release(ctx context.Context, reservationID string) (*domain.ReleaseResult, error)
}

type productService struct {
	productRepo  repository.ProductRepository
	reservations ReservationStore
	logger       *zap.Logger
}

func NewProductService(
	productRepo repository.ProductRepository,
	reservations ReservationStore,
	logger *zap.Logger,
) ProductService {
	return &productService{
		productRepo:  productRepo,
		reservations: reservations,
		logger:       logger,
	}
}

func (s *productService) GetProduct(ctx context.Context, id int64) (*domain.Product, error) {
	if id <= 0 {
		return nil, repository.ErrProductNotFound
	}

	return s.productRepo.GetByID(ctx, id)
}

func (s *productService) ReserveStock(ctx context.Context, reservationID string, lines []domain.StockLine) (*domain.Reservation, error) {
	if err := validateReservationID(reservationID); err != nil {
		return nil, err
	}

	normalized, err := domain.NormalizeLines(lines)
	if err != nil {
		return nil, err
	}

	res, err := s.reservations.Reserve(ctx, reservationID, normalized)
	if err != nil {
		return nil, err
	}

	if res.AllReserved {
		mylogger.Info(
			ctx,
			s.logger,
			"Stock reserved",
			zap.String("reservation_id", reservationID),
			zap.Int("lines", len(res.Lines)),
		)
	} else {
		mylogger.Warn(
			ctx,
			s.logger,
			"Reservation rejected, not enough stock",
			zap.String("reservation_id", reservationID),
		)
	}

	return res, nil
}

func (s *productService) ReleaseStock(ctx context.Context, reservationID string) (*domain.ReleaseResult, error) {
	if err := validateReservationID(reservationID); err != nil {
		return nil, err
	}

	result, err := s.reservations.Release(ctx, reservationID)
	if err != nil {
		return nil, err
	}

	if !result.Released {
		mylogger.Warn(
			ctx,
			s.logger,
			"Reservation partially released",
			zap.String("reservation_id", reservationID),
			zap.Int64s("failed_product_ids", result.FailedProductIDs),
		)
	}

	return result, nil
}

func validateReservationID(id string) error {
	if _, err := uuid.Parse(id); err != nil {
		return fmt.Errorf("%w: %q", domain.ErrInvalidReservationID, id)
	}

	return nil
}
