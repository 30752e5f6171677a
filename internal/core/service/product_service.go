package service

import (
	"context"

	"go.uber.org/zap"

	"github.com/rl1809/stock-billing/internal/core/domain"
	"github.com/rl1809/stock-billing/internal/port"
)

type ProductService struct {
	repo   port.ProductRepository
	cache  port.CacheRepository
	logger *zap.Logger
}

// NewProductService wires the product catalog. cache may be nil.
func NewProductService(repo port.ProductRepository, cache port.CacheRepository, logger *zap.Logger) *ProductService {
	return &ProductService{repo: repo, cache: cache, logger: logger}
}

func (s *ProductService) List(ctx context.Context) ([]domain.Product, error) {
	products, err := s.repo.ListProducts(ctx)
	if err != nil {
		return nil, domain.Wrap(domain.KindUnexpected, err, "list products")
	}
	return products, nil
}

func (s *ProductService) Get(ctx context.Context, id int64) (*domain.Product, error) {
	if s.cache != nil {
		cached, err := s.cache.GetProduct(ctx, id)
		if err != nil {
			s.logger.Warn("product cache read failed", zap.Int64("product_id", id), zap.Error(err))
		}
		if cached != nil {
			return cached, nil
		}
	}

	p, err := s.repo.GetProduct(ctx, id)
	if err != nil {
		return nil, domain.Wrap(domain.KindUnexpected, err, "get product")
	}
	if p == nil {
		return nil, domain.Errorf(domain.KindNotFound, "product %d not found", id)
	}

	if s.cache != nil {
		if err := s.cache.SetProduct(ctx, *p); err != nil {
			s.logger.Warn("product cache write failed", zap.Int64("product_id", id), zap.Error(err))
		}
	}
	return p, nil
}

func (s *ProductService) GetByCode(ctx context.Context, code string) (*domain.Product, error) {
	p, err := s.repo.GetProductByCode(ctx, code)
	if err != nil {
		return nil, domain.Wrap(domain.KindUnexpected, err, "get product by code")
	}
	if p == nil {
		return nil, domain.Errorf(domain.KindNotFound, "product with code %s not found", code)
	}
	return p, nil
}

// CodeExists reports whether a product other than excludeID uses code.
// Pass 0 to check against every product.
func (s *ProductService) CodeExists(ctx context.Context, code string, excludeID int64) (bool, error) {
	p, err := s.repo.GetProductByCode(ctx, code)
	if err != nil {
		return false, domain.Wrap(domain.KindUnexpected, err, "check product code")
	}
	return p != nil && p.ID != excludeID, nil
}

func (s *ProductService) Create(ctx context.Context, p domain.Product) (*domain.Product, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}

	exists, err := s.CodeExists(ctx, p.Code, 0)
	if err != nil {
		return nil, err
	}
	if exists {
		return nil, domain.Errorf(domain.KindDuplicateKey, "a product with code %s already exists", p.Code)
	}

	if err := s.repo.CreateProduct(ctx, &p); err != nil {
		return nil, domain.Wrap(domain.KindUnexpected, err, "create product")
	}

	s.logger.Info("product created", zap.Int64("product_id", p.ID), zap.String("code", p.Code))
	return &p, nil
}

// Update replaces code, description and balance. p.Version must carry the
// version the caller last read.
func (s *ProductService) Update(ctx context.Context, id int64, p domain.Product) (*domain.Product, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}

	current, err := s.repo.GetProduct(ctx, id)
	if err != nil {
		return nil, domain.Wrap(domain.KindUnexpected, err, "get product")
	}
	if current == nil {
		return nil, domain.Errorf(domain.KindNotFound, "product %d not found", id)
	}

	if current.Code != p.Code {
		exists, err := s.CodeExists(ctx, p.Code, id)
		if err != nil {
			return nil, err
		}
		if exists {
			return nil, domain.Errorf(domain.KindDuplicateKey, "another product already uses code %s", p.Code)
		}
	}

	p.ID = id
	p.CreatedAt = current.CreatedAt
	if err := s.repo.UpdateProduct(ctx, &p); err != nil {
		if domain.KindOf(err) == domain.KindConcurrencyConflict {
			s.logger.Warn("product modified concurrently", zap.Int64("product_id", id), zap.Int("version", p.Version))
		}
		return nil, domain.Wrap(domain.KindUnexpected, err, "update product")
	}

	s.invalidate(ctx, id)
	s.logger.Info("product updated", zap.Int64("product_id", id), zap.String("code", p.Code))
	return &p, nil
}

func (s *ProductService) Delete(ctx context.Context, id int64) error {
	current, err := s.repo.GetProduct(ctx, id)
	if err != nil {
		return domain.Wrap(domain.KindUnexpected, err, "get product")
	}
	if current == nil {
		return domain.Errorf(domain.KindNotFound, "product %d not found", id)
	}

	if err := s.repo.DeleteProduct(ctx, id); err != nil {
		return domain.Wrap(domain.KindUnexpected, err, "delete product")
	}

	s.invalidate(ctx, id)
	s.logger.Info("product deleted", zap.Int64("product_id", id), zap.String("code", current.Code))
	return nil
}

func (s *ProductService) invalidate(ctx context.Context, id int64) {
	if s.cache == nil {
		return
	}
	if err := s.cache.InvalidateProducts(ctx, id); err != nil {
		s.logger.Warn("failed to invalidate product cache", zap.Int64("product_id", id), zap.Error(err))
	}
}
