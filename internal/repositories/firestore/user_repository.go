package firestore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	domain "github.com/karigari/api/internal/domain"
	pfirestore "github.com/karigari/api/internal/platform/firestore"
	"github.com/karigari/api/internal/platform/pagination"
	"github.com/karigari/api/internal/repositories"
)

const userCollection = "users"

// UserRepository persists shopper accounts in Firestore. Emails are stored
// lowercased so lookups stay case-insensitive.
type UserRepository struct {
	base     *pfirestore.BaseRepository[userDocument]
	provider *pfirestore.Provider
}

// NewUserRepository constructs a Firestore-backed user repository.
func NewUserRepository(provider *pfirestore.Provider) (*UserRepository, error) {
	if provider == nil {
		return nil, errors.New("user repository requires firestore provider")
	}
	base := pfirestore.NewBaseRepository[userDocument](provider, userCollection, nil, nil)
	return &UserRepository{base: base, provider: provider}, nil
}

// Insert creates the user document, failing when the ID already exists.
func (r *UserRepository) Insert(ctx context.Context, user domain.User) (domain.User, error) {
	if r == nil || r.base == nil {
		return domain.User{}, errors.New("user repository not initialised")
	}
	if strings.TrimSpace(user.ID) == "" {
		return domain.User{}, errors.New("user id is required")
	}

	doc := fromDomainUser(user)
	ref, err := r.base.DocumentRef(ctx, user.ID)
	if err != nil {
		return domain.User{}, err
	}
	if _, err := ref.Create(ctx, doc); err != nil {
		return domain.User{}, pfirestore.WrapError("users.insert", err)
	}
	return doc.toDomain(user.ID), nil
}

// Update replaces the user document.
func (r *UserRepository) Update(ctx context.Context, user domain.User) (domain.User, error) {
	if r == nil || r.base == nil {
		return domain.User{}, errors.New("user repository not initialised")
	}
	if strings.TrimSpace(user.ID) == "" {
		return domain.User{}, errors.New("user id is required")
	}

	doc := fromDomainUser(user)
	if _, err := r.base.Set(ctx, user.ID, doc); err != nil {
		return domain.User{}, err
	}
	return doc.toDomain(user.ID), nil
}

// FindByID loads the user by ID.
func (r *UserRepository) FindByID(ctx context.Context, userID string) (domain.User, error) {
	if r == nil || r.base == nil {
		return domain.User{}, errors.New("user repository not initialised")
	}
	if strings.TrimSpace(userID) == "" {
		return domain.User{}, errors.New("user id is required")
	}

	doc, err := r.base.Get(ctx, userID)
	if err != nil {
		return domain.User{}, err
	}
	user := doc.Data.toDomain(doc.ID)
	if user.CreatedAt.IsZero() {
		user.CreatedAt = doc.CreateTime
	}
	if user.UpdatedAt.IsZero() {
		user.UpdatedAt = doc.UpdateTime
	}
	return user, nil
}

// FindByEmail loads the user holding the given email address.
func (r *UserRepository) FindByEmail(ctx context.Context, email string) (domain.User, error) {
	if r == nil || r.base == nil {
		return domain.User{}, errors.New("user repository not initialised")
	}
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" {
		return domain.User{}, errors.New("email is required")
	}

	docs, err := r.base.Query(ctx, func(query firestore.Query) firestore.Query {
		return query.Where("email", "==", email).Limit(1)
	})
	if err != nil {
		return domain.User{}, err
	}
	if len(docs) == 0 {
		return domain.User{}, pfirestore.WrapError("users.findByEmail", status.Error(codes.NotFound, "user not found"))
	}
	return docs[0].Data.toDomain(docs[0].ID), nil
}

// List returns shopper accounts, newest first.
func (r *UserRepository) List(ctx context.Context, filter repositories.UserListFilter) (domain.CursorPage[domain.User], error) {
	if r == nil || r.provider == nil {
		return domain.CursorPage[domain.User]{}, errors.New("user repository not initialised")
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
		return domain.CursorPage[domain.User]{}, pfirestore.WrapError("users.list", err)
	}

	query := client.Collection(userCollection).
		OrderBy("createdAt", firestore.Desc).
		OrderBy(firestore.DocumentID, firestore.Asc).
		Limit(pageSize + 1)

	if token := strings.TrimSpace(filter.Pagination.PageToken); token != "" {
		decoded, err := decodeUserPageToken(token)
		if err != nil {
			return domain.CursorPage[domain.User]{}, pfirestore.WrapError("users.list", err)
		}
		query = query.StartAfter(decoded.CreatedAt, decoded.ID)
	}

	iter := query.Documents(ctx)
	defer iter.Stop()

	var users []domain.User
	for {
		snap, err := iter.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return domain.CursorPage[domain.User]{}, pfirestore.WrapError("users.list", err)
		}
		var doc userDocument
		if err := snap.DataTo(&doc); err != nil {
			return domain.CursorPage[domain.User]{}, fmt.Errorf("decode user %s: %w", snap.Ref.ID, err)
		}
		users = append(users, doc.toDomain(snap.Ref.ID))
	}

	hasMore := len(users) > pageSize
	if hasMore {
		users = users[:pageSize]
	}
	var nextToken string
	if hasMore && len(users) > 0 {
		last := users[len(users)-1]
		encoded, err := encodeUserPageToken(userPageToken{ID: last.ID, CreatedAt: last.CreatedAt})
		if err != nil {
			return domain.CursorPage[domain.User]{}, pfirestore.WrapError("users.list", err)
		}
		nextToken = encoded
	}

	return domain.CursorPage[domain.User]{
		Items:         users,
		NextPageToken: nextToken,
	}, nil
}

// Helper structures ---------------------------------------------------------

type userDocument struct {
	Name            string            `firestore:"name"`
	Email           string            `firestore:"email"`
	PasswordHash    string            `firestore:"passwordHash"`
	Role            string            `firestore:"role"`
	Addresses       []addressDocument `firestore:"addresses"`
	ResetOTPHash    string            `firestore:"resetOtpHash,omitempty"`
	ResetOTPExpires *time.Time        `firestore:"resetOtpExpires,omitempty"`
	CreatedAt       time.Time         `firestore:"createdAt"`
	UpdatedAt       time.Time         `firestore:"updatedAt"`
}

func fromDomainUser(user domain.User) userDocument {
	doc := userDocument{
		Name:            strings.TrimSpace(user.Name),
		Email:           strings.ToLower(strings.TrimSpace(user.Email)),
		PasswordHash:    user.PasswordHash,
		Role:            string(user.Role),
		ResetOTPHash:    strings.TrimSpace(user.ResetOTPHash),
		ResetOTPExpires: user.ResetOTPExpires,
		CreatedAt:       user.CreatedAt.UTC(),
		UpdatedAt:       user.UpdatedAt.UTC(),
	}
	if doc.Role == "" {
		doc.Role = string(domain.RoleUser)
	}
	if len(user.Addresses) > 0 {
		doc.Addresses = make([]addressDocument, len(user.Addresses))
		for i, addr := range user.Addresses {
			doc.Addresses[i] = fromDomainAddress(addr)
		}
	}
	return doc
}

func (d userDocument) toDomain(id string) domain.User {
	user := domain.User{
		ID:              id,
		Name:            d.Name,
		Email:           d.Email,
		PasswordHash:    d.PasswordHash,
		Role:            domain.Role(d.Role),
		ResetOTPHash:    d.ResetOTPHash,
		ResetOTPExpires: d.ResetOTPExpires,
		CreatedAt:       d.CreatedAt,
		UpdatedAt:       d.UpdatedAt,
	}
	if len(d.Addresses) > 0 {
		user.Addresses = make([]domain.Address, len(d.Addresses))
		for i, addr := range d.Addresses {
			user.Addresses[i] = toDomainAddress(addr)
		}
	}
	return user
}

type userPageToken struct {
	ID        string
	CreatedAt time.Time
}

func encodeUserPageToken(token userPageToken) (string, error) {
	encoded, err := pagination.EncodeToken(token)
	if err != nil {
		return "", fmt.Errorf("encode user page token: %w", err)
	}
	return encoded, nil
}

func decodeUserPageToken(encoded string) (*userPageToken, error) {
	var token userPageToken
	if err := pagination.DecodeToken(encoded, &token); err != nil {
		return nil, fmt.Errorf("decode user page token: %w", err)
	}
	return &token, nil
}

var _ repositories.UserRepository = (*UserRepository)(nil)
