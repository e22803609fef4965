package services

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"
	"math/big"
	"net/mail"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
	"golang.org/x/crypto/bcrypt"

	domain "github.com/karigari/api/internal/domain"
	kmail "github.com/karigari/api/internal/mail"
	"github.com/karigari/api/internal/repositories"
)

const (
	userIDPrefix = "usr_"

	minPasswordLength = 8
	resetOTPExpiry    = 10 * time.Minute
)

var (
	// ErrUserInvalidInput indicates the caller supplied invalid account data.
	ErrUserInvalidInput = errors.New("user: invalid input")
	// ErrUserNotFound indicates the account does not exist.
	ErrUserNotFound = errors.New("user: not found")
	// ErrUserEmailTaken indicates the email is already registered.
	ErrUserEmailTaken = errors.New("user: email already registered")
	// ErrUserInvalidCredentials indicates a failed email/password check.
	ErrUserInvalidCredentials = errors.New("user: invalid credentials")
	// ErrUserOTPInvalid indicates the reset code is wrong, expired, or absent.
	ErrUserOTPInvalid = errors.New("user: invalid or expired reset code")
	// ErrUserMailUnavailable indicates the reset email could not be delivered.
	ErrUserMailUnavailable = errors.New("user: reset email delivery failed")
)

// SessionTokenIssuer mints signed session tokens for authenticated accounts.
type SessionTokenIssuer interface {
	Issue(subject, email, role string) (string, time.Time, error)
}

// UserServiceDeps bundles constructor inputs for the user service.
type UserServiceDeps struct {
	Users        repositories.UserRepository
	Admins       repositories.AdminRepository
	Tokens       SessionTokenIssuer
	Mailer       kmail.Mailer
	Clock        func() time.Time
	IDGenerator  func() string
	OTPGenerator func() (string, error)
	Logger       func(ctx context.Context, event string, fields map[string]any)
}

type userService struct {
	users  repositories.UserRepository
	admins repositories.AdminRepository
	tokens SessionTokenIssuer
	mailer kmail.Mailer
	clock  func() time.Time
	newID  func() string
	newOTP func() (string, error)
	logger func(context.Context, string, map[string]any)
}

var _ UserService = (*userService)(nil)

// NewUserService wires dependencies into a concrete UserService implementation.
func NewUserService(deps UserServiceDeps) (UserService, error) {
	if deps.Users == nil {
		return nil, errors.New("user service: user repository is required")
	}
	if deps.Tokens == nil {
		return nil, errors.New("user service: token issuer is required")
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

	otpGen := deps.OTPGenerator
	if otpGen == nil {
		otpGen = generateResetOTP
	}

	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	return &userService{
		users:  deps.Users,
		admins: deps.Admins,
		tokens: deps.Tokens,
		mailer: deps.Mailer,
		clock: func() time.Time {
			return clock().UTC()
		},
		newID:  idGen,
		newOTP: otpGen,
		logger: logger,
	}, nil
}

func (s *userService) Register(ctx context.Context, cmd RegisterUserCommand) (AuthSession, error) {
	name := strings.TrimSpace(cmd.Name)
	if name == "" {
		return AuthSession{}, fmt.Errorf("%w: name is required", ErrUserInvalidInput)
	}
	email, err := normalizeEmail(cmd.Email)
	if err != nil {
		return AuthSession{}, err
	}
	if len(cmd.Password) < minPasswordLength {
		return AuthSession{}, fmt.Errorf("%w: password must be at least %d characters", ErrUserInvalidInput, minPasswordLength)
	}

	if _, err := s.users.FindByEmail(ctx, email); err == nil {
		return AuthSession{}, fmt.Errorf("%w: %s", ErrUserEmailTaken, email)
	} else if !isNotFound(err) {
		return AuthSession{}, s.mapRepositoryError(err)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(cmd.Password), bcrypt.DefaultCost)
	if err != nil {
		return AuthSession{}, fmt.Errorf("user: hash password: %w", err)
	}

	now := s.clock()
	user := User{
		ID:           userIDPrefix + s.newID(),
		Name:         name,
		Email:        email,
		PasswordHash: string(hash),
		Role:         domain.RoleUser,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	inserted, err := s.users.Insert(ctx, user)
	if err != nil {
		return AuthSession{}, s.mapRepositoryError(err)
	}

	s.logger(ctx, "user.registered", map[string]any{"user": inserted.ID})
	return s.issueSession(inserted)
}

func (s *userService) Login(ctx context.Context, cmd LoginCommand) (AuthSession, error) {
	email, err := normalizeEmail(cmd.Email)
	if err != nil {
		return AuthSession{}, err
	}

	user, err := s.users.FindByEmail(ctx, email)
	if err != nil {
		if isNotFound(err) {
			return AuthSession{}, ErrUserInvalidCredentials
		}
		return AuthSession{}, s.mapRepositoryError(err)
	}
	if bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(cmd.Password)) != nil {
		return AuthSession{}, ErrUserInvalidCredentials
	}

	return s.issueSession(user)
}

func (s *userService) AdminLogin(ctx context.Context, cmd LoginCommand) (AdminSession, error) {
	if s.admins == nil {
		return AdminSession{}, ErrUserInvalidCredentials
	}
	email, err := normalizeEmail(cmd.Email)
	if err != nil {
		return AdminSession{}, err
	}

	admin, err := s.admins.FindByEmail(ctx, email)
	if err != nil {
		if isNotFound(err) {
			return AdminSession{}, ErrUserInvalidCredentials
		}
		return AdminSession{}, s.mapRepositoryError(err)
	}
	if bcrypt.CompareHashAndPassword([]byte(admin.PasswordHash), []byte(cmd.Password)) != nil {
		return AdminSession{}, ErrUserInvalidCredentials
	}

	role := admin.Role
	if role == "" {
		role = domain.RoleAdmin
	}
	token, expiresAt, err := s.tokens.Issue(admin.ID, admin.Email, string(role))
	if err != nil {
		return AdminSession{}, fmt.Errorf("user: issue admin token: %w", err)
	}
	return AdminSession{Token: token, ExpiresAt: expiresAt, Admin: admin}, nil
}

func (s *userService) GetProfile(ctx context.Context, userID string) (User, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return User{}, fmt.Errorf("%w: user id is required", ErrUserInvalidInput)
	}

	user, err := s.users.FindByID(ctx, userID)
	if err != nil {
		return User{}, s.mapRepositoryError(err)
	}
	return user, nil
}

func (s *userService) UpdateProfile(ctx context.Context, cmd UpdateProfileCommand) (User, error) {
	user, err := s.GetProfile(ctx, cmd.UserID)
	if err != nil {
		return User{}, err
	}

	if cmd.Name != nil {
		name := strings.TrimSpace(*cmd.Name)
		if name == "" {
			return User{}, fmt.Errorf("%w: name cannot be empty", ErrUserInvalidInput)
		}
		user.Name = name
	}
	if cmd.Email != nil {
		email, err := normalizeEmail(*cmd.Email)
		if err != nil {
			return User{}, err
		}
		if email != user.Email {
			if existing, err := s.users.FindByEmail(ctx, email); err == nil && existing.ID != user.ID {
				return User{}, fmt.Errorf("%w: %s", ErrUserEmailTaken, email)
			} else if err != nil && !isNotFound(err) {
				return User{}, s.mapRepositoryError(err)
			}
			user.Email = email
		}
	}
	user.UpdatedAt = s.clock()

	updated, err := s.users.Update(ctx, user)
	if err != nil {
		return User{}, s.mapRepositoryError(err)
	}
	return updated, nil
}

func (s *userService) UpsertAddress(ctx context.Context, cmd UpsertAddressCommand) (User, error) {
	if err := validateProfileAddress(cmd.Address); err != nil {
		return User{}, err
	}

	user, err := s.GetProfile(ctx, cmd.UserID)
	if err != nil {
		return User{}, err
	}

	addr := cmd.Address
	if strings.TrimSpace(addr.Country) == "" {
		addr.Country = "India"
	}
	switch {
	case cmd.Index < 0:
		user.Addresses = append(user.Addresses, addr)
	case cmd.Index < len(user.Addresses):
		user.Addresses[cmd.Index] = addr
	default:
		return User{}, fmt.Errorf("%w: address index %d out of range", ErrUserInvalidInput, cmd.Index)
	}
	if addr.IsDefault {
		keep := len(user.Addresses) - 1
		if cmd.Index >= 0 {
			keep = cmd.Index
		}
		for i := range user.Addresses {
			user.Addresses[i].IsDefault = i == keep
		}
	}
	user.UpdatedAt = s.clock()

	updated, err := s.users.Update(ctx, user)
	if err != nil {
		return User{}, s.mapRepositoryError(err)
	}
	return updated, nil
}

func (s *userService) RemoveAddress(ctx context.Context, cmd RemoveAddressCommand) (User, error) {
	user, err := s.GetProfile(ctx, cmd.UserID)
	if err != nil {
		return User{}, err
	}
	if cmd.Index < 0 || cmd.Index >= len(user.Addresses) {
		return User{}, fmt.Errorf("%w: address index %d out of range", ErrUserInvalidInput, cmd.Index)
	}

	user.Addresses = append(user.Addresses[:cmd.Index], user.Addresses[cmd.Index+1:]...)
	user.UpdatedAt = s.clock()

	updated, err := s.users.Update(ctx, user)
	if err != nil {
		return User{}, s.mapRepositoryError(err)
	}
	return updated, nil
}

func (s *userService) RequestPasswordReset(ctx context.Context, cmd RequestPasswordResetCommand) error {
	email, err := normalizeEmail(cmd.Email)
	if err != nil {
		return err
	}

	user, err := s.users.FindByEmail(ctx, email)
	if err != nil {
		return s.mapRepositoryError(err)
	}

	otp, err := s.newOTP()
	if err != nil {
		return fmt.Errorf("user: generate reset code: %w", err)
	}

	now := s.clock()
	expires := now.Add(resetOTPExpiry)
	user.ResetOTPHash = hashResetOTP(otp)
	user.ResetOTPExpires = &expires
	user.UpdatedAt = now
	if user, err = s.users.Update(ctx, user); err != nil {
		return s.mapRepositoryError(err)
	}

	if s.mailer == nil {
		err = errors.New("mailer is not configured")
	} else {
		err = s.mailer.SendPasswordResetOTP(ctx, kmail.OTPEmail{
			To:       user.Email,
			UserName: user.Name,
			OTP:      otp,
			Expiry:   resetOTPExpiry,
		})
	}
	if err != nil {
		// A code the user never received must not stay redeemable.
		user.ResetOTPHash = ""
		user.ResetOTPExpires = nil
		user.UpdatedAt = s.clock()
		if _, rollbackErr := s.users.Update(ctx, user); rollbackErr != nil {
			s.logger(ctx, "user.reset.rollback.failed", map[string]any{
				"user":  user.ID,
				"error": rollbackErr.Error(),
			})
		}
		return fmt.Errorf("%w: %v", ErrUserMailUnavailable, err)
	}

	s.logger(ctx, "user.reset.requested", map[string]any{"user": user.ID})
	return nil
}

func (s *userService) ResetPassword(ctx context.Context, cmd ResetPasswordCommand) error {
	email, err := normalizeEmail(cmd.Email)
	if err != nil {
		return err
	}
	otp := strings.TrimSpace(cmd.OTP)
	if otp == "" {
		return fmt.Errorf("%w: reset code is required", ErrUserInvalidInput)
	}
	if len(cmd.NewPassword) < minPasswordLength {
		return fmt.Errorf("%w: password must be at least %d characters", ErrUserInvalidInput, minPasswordLength)
	}

	user, err := s.users.FindByEmail(ctx, email)
	if err != nil {
		return s.mapRepositoryError(err)
	}

	now := s.clock()
	if user.ResetOTPHash == "" || user.ResetOTPExpires == nil || now.After(*user.ResetOTPExpires) {
		return ErrUserOTPInvalid
	}
	if subtle.ConstantTimeCompare([]byte(hashResetOTP(otp)), []byte(user.ResetOTPHash)) != 1 {
		return ErrUserOTPInvalid
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(cmd.NewPassword), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("user: hash password: %w", err)
	}

	user.PasswordHash = string(hash)
	user.ResetOTPHash = ""
	user.ResetOTPExpires = nil
	user.UpdatedAt = now
	if _, err := s.users.Update(ctx, user); err != nil {
		return s.mapRepositoryError(err)
	}

	s.logger(ctx, "user.reset.completed", map[string]any{"user": user.ID})
	return nil
}

func (s *userService) ListUsers(ctx context.Context, query UserListQuery) (domain.CursorPage[User], error) {
	page, err := s.users.List(ctx, repositories.UserListFilter{Pagination: query.Pagination})
	if err != nil {
		return domain.CursorPage[User]{}, s.mapRepositoryError(err)
	}
	return page, nil
}

func (s *userService) issueSession(user User) (AuthSession, error) {
	role := user.Role
	if role == "" {
		role = domain.RoleUser
	}
	token, expiresAt, err := s.tokens.Issue(user.ID, user.Email, string(role))
	if err != nil {
		return AuthSession{}, fmt.Errorf("user: issue token: %w", err)
	}
	return AuthSession{Token: token, ExpiresAt: expiresAt, User: user}, nil
}

func (s *userService) mapRepositoryError(err error) error {
	if err == nil {
		return nil
	}

	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) {
		switch {
		case repoErr.IsNotFound():
			return fmt.Errorf("%w: %v", ErrUserNotFound, err)
		case repoErr.IsConflict():
			return fmt.Errorf("%w: %v", ErrUserEmailTaken, err)
		case repoErr.IsUnavailable():
			return fmt.Errorf("user: repository unavailable: %w", err)
		}
	}
	return err
}

func normalizeEmail(email string) (string, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" {
		return "", fmt.Errorf("%w: email is required", ErrUserInvalidInput)
	}
	if _, err := mail.ParseAddress(email); err != nil {
		return "", fmt.Errorf("%w: malformed email address", ErrUserInvalidInput)
	}
	return email, nil
}

func validateProfileAddress(addr Address) error {
	required := map[string]string{
		"fullName":     addr.FullName,
		"phone":        addr.Phone,
		"addressLine1": addr.AddressLine1,
		"city":         addr.City,
		"state":        addr.State,
		"pincode":      addr.Pincode,
	}
	for field, value := range required {
		if strings.TrimSpace(value) == "" {
			return fmt.Errorf("%w: address %s is required", ErrUserInvalidInput, field)
		}
	}
	return nil
}

func hashResetOTP(otp string) string {
	sum := sha256.Sum256([]byte(otp))
	return hex.EncodeToString(sum[:])
}

func generateResetOTP() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(1_000_000))
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%06d", n.Int64()), nil
}
