package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/microcosm-cc/bluemonday"
	"github.com/oklog/ulid/v2"

	domain "github.com/karigari/api/internal/domain"
	"github.com/karigari/api/internal/platform/storage"
	"github.com/karigari/api/internal/repositories"
)

const (
	productIDPrefix = "prd_"

	productImageUploadExpiry = 15 * time.Minute
	productImageMaxSize      = 5 << 20
)

var (
	// ErrCatalogInvalidInput indicates the caller supplied invalid product data.
	ErrCatalogInvalidInput = errors.New("catalog: invalid input")
	// ErrCatalogProductNotFound indicates the product does not exist or was removed.
	ErrCatalogProductNotFound = errors.New("catalog: product not found")
	// ErrCatalogConflict indicates concurrent modification of a product.
	ErrCatalogConflict = errors.New("catalog: conflict")
	// ErrCatalogStorageUnavailable indicates image uploads cannot be issued.
	ErrCatalogStorageUnavailable = errors.New("catalog: storage unavailable")
)

var allowedProductImageTypes = []string{"image/jpeg", "image/png", "image/webp"}

// Titles are plain text; descriptions may carry limited user-generated markup.
var (
	productTitlePolicy       = bluemonday.StrictPolicy()
	productDescriptionPolicy = bluemonday.UGCPolicy()
)

// UploadURLSigner issues signed upload URLs for catalog assets.
type UploadURLSigner interface {
	SignedURL(ctx context.Context, bucket, object string, opts storage.SignedURLOptions) (storage.SignedURLResult, error)
}

// CatalogServiceDeps bundles constructor inputs for the catalog service.
type CatalogServiceDeps struct {
	Products    repositories.ProductRepository
	Storage     UploadURLSigner
	AssetBucket string
	Clock       func() time.Time
	IDGenerator func() string
	Logger      func(ctx context.Context, event string, fields map[string]any)
}

type catalogService struct {
	products repositories.ProductRepository
	storage  UploadURLSigner
	bucket   string
	clock    func() time.Time
	newID    func() string
	logger   func(context.Context, string, map[string]any)
}

var _ CatalogService = (*catalogService)(nil)

// NewCatalogService constructs the catalog service with the supplied dependencies.
func NewCatalogService(deps CatalogServiceDeps) (CatalogService, error) {
	if deps.Products == nil {
		return nil, errors.New("catalog service: product repository is required")
	}

	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}

	idGen := deps.IDGenerator
	if idGen == nil {
		idGen = func() string {
			return ulid.Make().String()
		}
	}

	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	return &catalogService{
		products: deps.Products,
		storage:  deps.Storage,
		bucket:   strings.TrimSpace(deps.AssetBucket),
		clock: func() time.Time {
			return clock().UTC()
		},
		newID:  idGen,
		logger: logger,
	}, nil
}

func (s *catalogService) ListProducts(ctx context.Context, query ProductListQuery) (domain.CursorPage[Product], error) {
	page, err := s.products.List(ctx, repositories.ProductListFilter{
		Category:        strings.TrimSpace(query.Category),
		Keyword:         strings.ToLower(strings.TrimSpace(query.Keyword)),
		IncludeInactive: query.IncludeInactive,
		Pagination:      query.Pagination,
	})
	if err != nil {
		return domain.CursorPage[Product]{}, s.mapRepositoryError(err)
	}
	return page, nil
}

func (s *catalogService) GetProduct(ctx context.Context, productID string) (Product, error) {
	productID = strings.TrimSpace(productID)
	if productID == "" {
		return Product{}, fmt.Errorf("%w: product id is required", ErrCatalogInvalidInput)
	}

	product, err := s.products.FindByID(ctx, productID)
	if err != nil {
		return Product{}, s.mapRepositoryError(err)
	}
	return product, nil
}

func (s *catalogService) CreateProduct(ctx context.Context, cmd CreateProductCommand) (Product, error) {
	title := sanitizeProductTitle(cmd.Title)
	if title == "" {
		return Product{}, fmt.Errorf("%w: title is required", ErrCatalogInvalidInput)
	}
	if cmd.Price < 0 {
		return Product{}, fmt.Errorf("%w: price cannot be negative", ErrCatalogInvalidInput)
	}
	if cmd.Stock < 0 {
		return Product{}, fmt.Errorf("%w: stock cannot be negative", ErrCatalogInvalidInput)
	}

	now := s.clock()
	product := Product{
		ID:          productIDPrefix + s.newID(),
		Title:       title,
		Description: sanitizeProductDescription(cmd.Description),
		Price:       domain.RoundMoney(cmd.Price),
		Stock:       cmd.Stock,
		Category:    strings.TrimSpace(cmd.Category),
		Images:      normalizeProductImages(cmd.Images),
		Active:      true,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	inserted, err := s.products.Insert(ctx, product)
	if err != nil {
		return Product{}, s.mapRepositoryError(err)
	}

	s.logger(ctx, "catalog.product.created", map[string]any{
		"product": inserted.ID,
		"actor":   strings.TrimSpace(cmd.ActorID),
	})
	return inserted, nil
}

func (s *catalogService) UpdateProduct(ctx context.Context, cmd UpdateProductCommand) (Product, error) {
	productID := strings.TrimSpace(cmd.ProductID)
	if productID == "" {
		return Product{}, fmt.Errorf("%w: product id is required", ErrCatalogInvalidInput)
	}

	product, err := s.products.FindByID(ctx, productID)
	if err != nil {
		return Product{}, s.mapRepositoryError(err)
	}

	if cmd.Title != nil {
		title := sanitizeProductTitle(*cmd.Title)
		if title == "" {
			return Product{}, fmt.Errorf("%w: title cannot be empty", ErrCatalogInvalidInput)
		}
		product.Title = title
	}
	if cmd.Description != nil {
		product.Description = sanitizeProductDescription(*cmd.Description)
	}
	if cmd.Price != nil {
		if *cmd.Price < 0 {
			return Product{}, fmt.Errorf("%w: price cannot be negative", ErrCatalogInvalidInput)
		}
		product.Price = domain.RoundMoney(*cmd.Price)
	}
	if cmd.Stock != nil {
		if *cmd.Stock < 0 {
			return Product{}, fmt.Errorf("%w: stock cannot be negative", ErrCatalogInvalidInput)
		}
		product.Stock = *cmd.Stock
	}
	if cmd.Category != nil {
		product.Category = strings.TrimSpace(*cmd.Category)
	}
	if cmd.Images != nil {
		product.Images = normalizeProductImages(cmd.Images)
	}
	if cmd.Active != nil {
		product.Active = *cmd.Active
	}
	product.UpdatedAt = s.clock()

	updated, err := s.products.Update(ctx, product)
	if err != nil {
		return Product{}, s.mapRepositoryError(err)
	}

	s.logger(ctx, "catalog.product.updated", map[string]any{
		"product": updated.ID,
		"actor":   strings.TrimSpace(cmd.ActorID),
	})
	return updated, nil
}

func (s *catalogService) DeleteProduct(ctx context.Context, cmd DeleteProductCommand) error {
	productID := strings.TrimSpace(cmd.ProductID)
	if productID == "" {
		return fmt.Errorf("%w: product id is required", ErrCatalogInvalidInput)
	}

	if err := s.products.SoftDelete(ctx, productID, s.clock()); err != nil {
		return s.mapRepositoryError(err)
	}

	s.logger(ctx, "catalog.product.deleted", map[string]any{
		"product": productID,
		"actor":   strings.TrimSpace(cmd.ActorID),
	})
	return nil
}

func (s *catalogService) CreateImageUpload(ctx context.Context, cmd ProductImageUploadCommand) (ProductImageUpload, error) {
	if s.storage == nil || s.bucket == "" {
		return ProductImageUpload{}, ErrCatalogStorageUnavailable
	}

	productID := strings.TrimSpace(cmd.ProductID)
	if productID == "" {
		return ProductImageUpload{}, fmt.Errorf("%w: product id is required", ErrCatalogInvalidInput)
	}
	if _, err := s.products.FindByID(ctx, productID); err != nil {
		return ProductImageUpload{}, s.mapRepositoryError(err)
	}

	objectPath, err := storage.BuildObjectPath(storage.PurposeProductImage, storage.PathParams{
		ProductID: productID,
		UploadID:  strings.ToLower(s.newID()),
		FileName:  cmd.FileName,
	})
	if err != nil {
		return ProductImageUpload{}, fmt.Errorf("%w: %v", ErrCatalogInvalidInput, err)
	}

	result, err := s.storage.SignedURL(ctx, s.bucket, objectPath, storage.SignedURLOptions{
		Upload: &storage.UploadOptions{
			Method:              "PUT",
			ContentType:         strings.TrimSpace(cmd.ContentType),
			AllowedContentTypes: allowedProductImageTypes,
			MaxSize:             productImageMaxSize,
			ExpiresIn:           productImageUploadExpiry,
		},
	})
	if err != nil {
		return ProductImageUpload{}, fmt.Errorf("%w: %v", ErrCatalogInvalidInput, err)
	}

	return ProductImageUpload{
		UploadURL:   result.URL,
		Method:      result.Method,
		Headers:     result.Headers,
		StoragePath: objectPath,
		PublicURL:   fmt.Sprintf("https://storage.googleapis.com/%s/%s", s.bucket, objectPath),
		ExpiresAt:   result.ExpiresAt,
	}, nil
}

func (s *catalogService) mapRepositoryError(err error) error {
	if err == nil {
		return nil
	}

	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) {
		switch {
		case repoErr.IsNotFound():
			return fmt.Errorf("%w: %v", ErrCatalogProductNotFound, err)
		case repoErr.IsConflict():
			return fmt.Errorf("%w: %v", ErrCatalogConflict, err)
		case repoErr.IsUnavailable():
			return fmt.Errorf("catalog: repository unavailable: %w", err)
		}
	}
	return err
}

func sanitizeProductTitle(title string) string {
	return strings.TrimSpace(productTitlePolicy.Sanitize(title))
}

func sanitizeProductDescription(description string) string {
	return strings.TrimSpace(productDescriptionPolicy.Sanitize(description))
}

func normalizeProductImages(images []ProductImage) []ProductImage {
	out := make([]ProductImage, 0, len(images))
	for _, img := range images {
		url := strings.TrimSpace(img.URL)
		if url == "" {
			continue
		}
		out = append(out, ProductImage{URL: url, StoragePath: strings.TrimSpace(img.StoragePath)})
	}
	return out
}
