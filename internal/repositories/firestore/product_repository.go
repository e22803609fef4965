package firestore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/api/iterator"

	domain "github.com/karigari/api/internal/domain"
	pfirestore "github.com/karigari/api/internal/platform/firestore"
	"github.com/karigari/api/internal/platform/pagination"
	"github.com/karigari/api/internal/repositories"
)

const productCollection = "products"

// ProductRepository persists catalog entries in Firestore.
type ProductRepository struct {
	base     *pfirestore.BaseRepository[productDocument]
	provider *pfirestore.Provider
}

// NewProductRepository constructs a Firestore-backed product repository.
func NewProductRepository(provider *pfirestore.Provider) (*ProductRepository, error) {
	if provider == nil {
		return nil, errors.New("product repository requires firestore provider")
	}
	base := pfirestore.NewBaseRepository[productDocument](provider, productCollection, nil, nil)
	return &ProductRepository{base: base, provider: provider}, nil
}

// Insert creates the product document, failing when the ID already exists.
func (r *ProductRepository) Insert(ctx context.Context, product domain.Product) (domain.Product, error) {
	if r == nil || r.base == nil {
		return domain.Product{}, errors.New("product repository not initialised")
	}
	if strings.TrimSpace(product.ID) == "" {
		return domain.Product{}, errors.New("product id is required")
	}

	doc := fromDomainProduct(product)
	ref, err := r.base.DocumentRef(ctx, product.ID)
	if err != nil {
		return domain.Product{}, err
	}
	if _, err := ref.Create(ctx, doc); err != nil {
		return domain.Product{}, pfirestore.WrapError("products.insert", err)
	}
	return toDomainProduct(product.ID, doc), nil
}

// Update replaces the product document.
func (r *ProductRepository) Update(ctx context.Context, product domain.Product) (domain.Product, error) {
	if r == nil || r.base == nil {
		return domain.Product{}, errors.New("product repository not initialised")
	}
	if strings.TrimSpace(product.ID) == "" {
		return domain.Product{}, errors.New("product id is required")
	}

	doc := fromDomainProduct(product)
	if _, err := r.base.Set(ctx, product.ID, doc); err != nil {
		return domain.Product{}, err
	}
	return toDomainProduct(product.ID, doc), nil
}

// SoftDelete marks the product inactive so it drops out of public listings
// while existing order snapshots keep referencing it.
func (r *ProductRepository) SoftDelete(ctx context.Context, productID string, deletedAt time.Time) error {
	if r == nil || r.base == nil {
		return errors.New("product repository not initialised")
	}
	if strings.TrimSpace(productID) == "" {
		return errors.New("product id is required")
	}

	_, err := r.base.Update(ctx, productID, []firestore.Update{
		{Path: "active", Value: false},
		{Path: "updatedAt", Value: deletedAt.UTC()},
	})
	return err
}

// FindByID loads the product by ID.
func (r *ProductRepository) FindByID(ctx context.Context, productID string) (domain.Product, error) {
	if r == nil || r.base == nil {
		return domain.Product{}, errors.New("product repository not initialised")
	}
	if strings.TrimSpace(productID) == "" {
		return domain.Product{}, errors.New("product id is required")
	}

	doc, err := r.base.Get(ctx, productID)
	if err != nil {
		return domain.Product{}, err
	}
	product := toDomainProduct(doc.ID, doc.Data)
	if product.CreatedAt.IsZero() {
		product.CreatedAt = doc.CreateTime
	}
	if product.UpdatedAt.IsZero() {
		product.UpdatedAt = doc.UpdateTime
	}
	return product, nil
}

// List returns catalog entries matching the filter, newest first. Keyword
// filtering is a case-insensitive title prefix match, which switches the
// ordering to the normalised title.
func (r *ProductRepository) List(ctx context.Context, filter repositories.ProductListFilter) (domain.CursorPage[domain.Product], error) {
	if r == nil || r.provider == nil {
		return domain.CursorPage[domain.Product]{}, errors.New("product repository not initialised")
	}

	pageSize := filter.Pagination.PageSize
	if pageSize <= 0 {
		pageSize = 20
	}
	if pageSize > 100 {
		pageSize = 100
	}

	client, err := r.provider.Client(ctx)
	if err != nil {
		return domain.CursorPage[domain.Product]{}, pfirestore.WrapError("products.list", err)
	}

	keyword := strings.ToLower(strings.TrimSpace(filter.Keyword))

	query := client.Collection(productCollection).Query
	if !filter.IncludeInactive {
		query = query.Where("active", "==", true)
	}
	if category := strings.TrimSpace(filter.Category); category != "" {
		query = query.Where("category", "==", category)
	}
	if keyword != "" {
		query = query.Where("titleLower", ">=", keyword).
			Where("titleLower", "<=", keyword+"\uf8ff").
			OrderBy("titleLower", firestore.Asc)
	} else {
		query = query.OrderBy("createdAt", firestore.Desc)
	}
	query = query.OrderBy(firestore.DocumentID, firestore.Asc).Limit(pageSize + 1)

	if token := strings.TrimSpace(filter.Pagination.PageToken); token != "" {
		decoded, err := decodeProductPageToken(token)
		if err != nil {
			return domain.CursorPage[domain.Product]{}, pfirestore.WrapError("products.list", err)
		}
		if keyword != "" {
			query = query.StartAfter(decoded.TitleLower, decoded.ID)
		} else {
			query = query.StartAfter(decoded.CreatedAt, decoded.ID)
		}
	}

	iter := query.Documents(ctx)
	defer iter.Stop()

	var products []domain.Product
	for {
		snap, err := iter.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return domain.CursorPage[domain.Product]{}, pfirestore.WrapError("products.list", err)
		}
		var doc productDocument
		if err := snap.DataTo(&doc); err != nil {
			return domain.CursorPage[domain.Product]{}, fmt.Errorf("decode product %s: %w", snap.Ref.ID, err)
		}
		products = append(products, toDomainProduct(snap.Ref.ID, doc))
	}

	hasMore := len(products) > pageSize
	if hasMore {
		products = products[:pageSize]
	}
	var nextToken string
	if hasMore && len(products) > 0 {
		last := products[len(products)-1]
		encoded, err := encodeProductPageToken(productPageToken{
			ID:         last.ID,
			TitleLower: strings.ToLower(last.Title),
			CreatedAt:  last.CreatedAt,
		})
		if err != nil {
			return domain.CursorPage[domain.Product]{}, pfirestore.WrapError("products.list", err)
		}
		nextToken = encoded
	}

	return domain.CursorPage[domain.Product]{
		Items:         products,
		NextPageToken: nextToken,
	}, nil
}

// Helper structures ---------------------------------------------------------

type productDocument struct {
	Title       string                 `firestore:"title"`
	TitleLower  string                 `firestore:"titleLower"`
	Description string                 `firestore:"description"`
	Price       float64                `firestore:"price"`
	Stock       int                    `firestore:"stock"`
	Category    string                 `firestore:"category"`
	Images      []productImageDocument `firestore:"images"`
	Active      bool                   `firestore:"active"`
	CreatedAt   time.Time              `firestore:"createdAt"`
	UpdatedAt   time.Time              `firestore:"updatedAt"`
}

type productImageDocument struct {
	URL         string `firestore:"url"`
	StoragePath string `firestore:"storagePath,omitempty"`
}

func fromDomainProduct(product domain.Product) productDocument {
	title := strings.TrimSpace(product.Title)
	doc := productDocument{
		Title:       title,
		TitleLower:  strings.ToLower(title),
		Description: strings.TrimSpace(product.Description),
		Price:       product.Price,
		Stock:       product.Stock,
		Category:    strings.TrimSpace(product.Category),
		Active:      product.Active,
		CreatedAt:   product.CreatedAt.UTC(),
		UpdatedAt:   product.UpdatedAt.UTC(),
	}
	if len(product.Images) > 0 {
		doc.Images = make([]productImageDocument, len(product.Images))
		for i, img := range product.Images {
			doc.Images[i] = productImageDocument{
				URL:         strings.TrimSpace(img.URL),
				StoragePath: strings.TrimSpace(img.StoragePath),
			}
		}
	}
	return doc
}

func toDomainProduct(id string, doc productDocument) domain.Product {
	product := domain.Product{
		ID:          id,
		Title:       doc.Title,
		Description: doc.Description,
		Price:       doc.Price,
		Stock:       doc.Stock,
		Category:    doc.Category,
		Active:      doc.Active,
		CreatedAt:   doc.CreatedAt,
		UpdatedAt:   doc.UpdatedAt,
	}
	if len(doc.Images) > 0 {
		product.Images = make([]domain.ProductImage, len(doc.Images))
		for i, img := range doc.Images {
			product.Images[i] = domain.ProductImage{
				URL:         img.URL,
				StoragePath: img.StoragePath,
			}
		}
	}
	return product
}

type productPageToken struct {
	ID         string
	TitleLower string
	CreatedAt  time.Time
}

func encodeProductPageToken(token productPageToken) (string, error) {
	encoded, err := pagination.EncodeToken(token)
	if err != nil {
		return "", fmt.Errorf("encode product page token: %w", err)
	}
	return encoded, nil
}

func decodeProductPageToken(encoded string) (*productPageToken, error) {
	var token productPageToken
	if err := pagination.DecodeToken(encoded, &token); err != nil {
		return nil, fmt.Errorf("decode product page token: %w", err)
	}
	return &token, nil
}

var _ repositories.ProductRepository = (*ProductRepository)(nil)
