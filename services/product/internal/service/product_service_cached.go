package service

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sakashimaa/go-order-saga/pkg/mylogger"
	"github.com/sakashimaa/go-order-saga/services/product/internal/domain"
	"go.uber.org/zap"
)

const defaultCacheTTL = 10 * time.Minute

type cachedProductService struct {
	next        ProductService
	redisClient *redis.Client
	cacheTTL    time.Duration
	logger      *zap.Logger
}

func NewCachedProductService(next ProductService, redisClient *redis.Client, ttl time.Duration, logger *zap.Logger) ProductService {
	if ttl <= 0 {
		ttl = defaultCacheTTL
	}

	return &cachedProductService{
		next:        next,
		redisClient: redisClient,
		cacheTTL:    ttl,
		logger:      logger,
	}
}

func productKey(id int64) string {
	return fmt.Sprintf("product:%d", id)
}

func (s *cachedProductService) GetProduct(ctx context.Context, id int64) (*domain.Product, error) {
	key := productKey(id)

	val, err := s.redisClient.Get(ctx, key).Bytes()
	if err == nil {
		var product domain.Product
		if err := json.Unmarshal(val, &product); err == nil {
			return &product, nil
		}
	}

	product, err := s.next.GetProduct(ctx, id)
	if err != nil {
		return nil, err
	}

	if data, err := json.Marshal(product); err == nil {
		if err := s.redisClient.Set(ctx, key, data, s.cacheTTL).Err(); err != nil {
			mylogger.Warn(ctx, s.logger, "Failed to cache product", zap.Int64("product_id", id), zap.Error(err))
		}
	}

	return product, nil
}

func (s *cachedProductService) ReserveStock(ctx context.Context, reservationID string, lines []domain.StockLine) (*domain.Reservation, error) {
	res, err := s.next.ReserveStock(ctx, reservationID, lines)
	if err != nil {
		return nil, err
	}

	if res.AllReserved {
		s.invalidate(ctx, res.ProductIDs())
	}

	return res, nil
}

func (s *cachedProductService) ReleaseStock(ctx context.Context, reservationID string) (*domain.ReleaseResult, error) {
	result, err := s.next.ReleaseStock(ctx, reservationID)
	if err != nil {
		return nil, err
	}

	s.invalidate(ctx, result.ProductIDs)

	return result, nil
}

func (s *cachedProductService) invalidate(ctx context.Context, ids []int64) {
	if len(ids) == 0 {
		return
	}

	keys := make([]string, 0, len(ids))
	for _, id := range ids {
		keys = append(keys, productKey(id))
	}

	if err := s.redisClient.Del(ctx, keys...).Err(); err != nil {
		mylogger.Warn(ctx, s.logger, "Failed to invalidate product cache", zap.Int64s("product_ids", ids), zap.Error(err))
	}
}
