package firestore

import (
	"context"
	"errors"
	"strings"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	domain "github.com/karigari/api/internal/domain"
	pfirestore "github.com/karigari/api/internal/platform/firestore"
	"github.com/karigari/api/internal/repositories"
)

const adminCollection = "admins"

// AdminRepository persists staff accounts in Firestore, apart from shoppers.
type AdminRepository struct {
	base *pfirestore.BaseRepository[adminDocument]
}

// NewAdminRepository constructs a Firestore-backed admin repository.
func NewAdminRepository(provider *pfirestore.Provider) (*AdminRepository, error) {
	if provider == nil {
		return nil, errors.New("admin repository requires firestore provider")
	}
	base := pfirestore.NewBaseRepository[adminDocument](provider, adminCollection, nil, nil)
	return &AdminRepository{base: base}, nil
}

// Insert creates the admin document, failing when the ID already exists.
func (r *AdminRepository) Insert(ctx context.Context, admin domain.Admin) (domain.Admin, error) {
	if r == nil || r.base == nil {
		return domain.Admin{}, errors.New("admin repository not initialised")
	}
	if strings.TrimSpace(admin.ID) == "" {
		return domain.Admin{}, errors.New("admin id is required")
	}

	doc := fromDomainAdmin(admin)
	ref, err := r.base.DocumentRef(ctx, admin.ID)
	if err != nil {
		return domain.Admin{}, err
	}
	if _, err := ref.Create(ctx, doc); err != nil {
		return domain.Admin{}, pfirestore.WrapError("admins.insert", err)
	}
	return doc.toDomain(admin.ID), nil
}

// FindByID loads the admin by ID.
func (r *AdminRepository) FindByID(ctx context.Context, adminID string) (domain.Admin, error) {
	if r == nil || r.base == nil {
		return domain.Admin{}, errors.New("admin repository not initialised")
	}
	if strings.TrimSpace(adminID) == "" {
		return domain.Admin{}, errors.New("admin id is required")
	}

	doc, err := r.base.Get(ctx, adminID)
	if err != nil {
		return domain.Admin{}, err
	}
	return doc.Data.toDomain(doc.ID), nil
}

// FindByEmail loads the admin holding the given email address.
func (r *AdminRepository) FindByEmail(ctx context.Context, email string) (domain.Admin, error) {
	if r == nil || r.base == nil {
		return domain.Admin{}, errors.New("admin repository not initialised")
	}
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" {
		return domain.Admin{}, errors.New("email is required")
	}

	docs, err := r.base.Query(ctx, func(query firestore.Query) firestore.Query {
		return query.Where("email", "==", email).Limit(1)
	})
	if err != nil {
		return domain.Admin{}, err
	}
	if len(docs) == 0 {
		return domain.Admin{}, pfirestore.WrapError("admins.findByEmail", status.Error(codes.NotFound, "admin not found"))
	}
	return docs[0].Data.toDomain(docs[0].ID), nil
}

type adminDocument struct {
	Name         string    `firestore:"name"`
	Email        string    `firestore:"email"`
	PasswordHash string    `firestore:"passwordHash"`
	Role         string    `firestore:"role"`
	CreatedAt    time.Time `firestore:"createdAt"`
	UpdatedAt    time.Time `firestore:"updatedAt"`
}

func fromDomainAdmin(admin domain.Admin) adminDocument {
	doc := adminDocument{
		Name:         strings.TrimSpace(admin.Name),
		Email:        strings.ToLower(strings.TrimSpace(admin.Email)),
		PasswordHash: admin.PasswordHash,
		Role:         string(admin.Role),
		CreatedAt:    admin.CreatedAt.UTC(),
		UpdatedAt:    admin.UpdatedAt.UTC(),
	}
	if doc.Role == "" {
		doc.Role = string(domain.RoleAdmin)
	}
	return doc
}

func (d adminDocument) toDomain(id string) domain.Admin {
	return domain.Admin{
		ID:           id,
		Name:         d.Name,
		Email:        d.Email,
		PasswordHash: d.PasswordHash,
		Role:         domain.Role(d.Role),
		CreatedAt:    d.CreatedAt,
		UpdatedAt:    d.UpdatedAt,
	}
}

var _ repositories.AdminRepository = (*AdminRepository)(nil)
