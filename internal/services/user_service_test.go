package services

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"golang.org/x/crypto/bcrypt"

	domain "github.com/karigari/api/internal/domain"
	"github.com/karigari/api/internal/mail"
)

type stubTokenIssuer struct {
	issueFn func(subject, email, role string) (string, time.Time, error)
}

func (s *stubTokenIssuer) Issue(subject, email, role string) (string, time.Time, error) {
	if s.issueFn != nil {
		return s.issueFn(subject, email, role)
	}
	return "token-" + subject, time.Date(2025, 6, 11, 8, 15, 0, 0, time.UTC), nil
}

type stubAdminRepo struct {
	findByEmailFn func(context.Context, string) (domain.Admin, error)
}

func (s *stubAdminRepo) Insert(_ context.Context, admin domain.Admin) (domain.Admin, error) {
	return admin, nil
}

func (s *stubAdminRepo) FindByID(context.Context, string) (domain.Admin, error) {
	return domain.Admin{}, errors.New("not implemented")
}

func (s *stubAdminRepo) FindByEmail(ctx context.Context, email string) (domain.Admin, error) {
	if s.findByEmailFn != nil {
		return s.findByEmailFn(ctx, email)
	}
	return domain.Admin{}, notFoundRepoError()
}

type otpMailer struct {
	captureMailer
	otps   []mail.OTPEmail
	otpErr error
}

func (m *otpMailer) SendPasswordResetOTP(_ context.Context, msg mail.OTPEmail) error {
	m.otps = append(m.otps, msg)
	return m.otpErr
}

func newTestUserService(t *testing.T, deps UserServiceDeps) UserService {
	t.Helper()
	if deps.Tokens == nil {
		deps.Tokens = &stubTokenIssuer{}
	}
	if deps.Clock == nil {
		deps.Clock = fixedOrderClock()
	}
	if deps.IDGenerator == nil {
		deps.IDGenerator = func() string { return "01TESTULID" }
	}
	if deps.OTPGenerator == nil {
		deps.OTPGenerator = func() (string, error) { return "482913", nil }
	}
	svc, err := NewUserService(deps)
	if err != nil {
		t.Fatalf("NewUserService: %v", err)
	}
	return svc
}

func mustHash(t *testing.T, password string) string {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("bcrypt: %v", err)
	}
	return string(hash)
}

func TestUserServiceRegister(t *testing.T) {
	var inserted domain.User
	repo := &stubUserRepo{
		findByEmailFn: func(_ context.Context, _ string) (domain.User, error) {
			return domain.User{}, notFoundRepoError()
		},
		insertFn: func(_ context.Context, user domain.User) (domain.User, error) {
			inserted = user
			return user, nil
		},
	}
	svc := newTestUserService(t, UserServiceDeps{Users: repo})

	session, err := svc.Register(context.Background(), RegisterUserCommand{
		Name:     "Asha Rao",
		Email:    " Asha@Example.com ",
		Password: "sturdy-password",
	})
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	if session.User.ID != "usr_01TESTULID" {
		t.Fatalf("unexpected user id %q", session.User.ID)
	}
	if inserted.Email != "asha@example.com" {
		t.Fatalf("expected normalized email, got %q", inserted.Email)
	}
	if inserted.Role != domain.RoleUser {
		t.Fatalf("expected shopper role, got %q", inserted.Role)
	}
	if inserted.PasswordHash == "" || inserted.PasswordHash == "sturdy-password" {
		t.Fatal("expected hashed password")
	}
	if bcrypt.CompareHashAndPassword([]byte(inserted.PasswordHash), []byte("sturdy-password")) != nil {
		t.Fatal("stored hash does not match the password")
	}
	if session.Token != "token-usr_01TESTULID" {
		t.Fatalf("unexpected token %q", session.Token)
	}
}

func TestUserServiceRegisterValidation(t *testing.T) {
	repo := &stubUserRepo{
		findByEmailFn: func(_ context.Context, email string) (domain.User, error) {
			if email == "taken@example.com" {
				return domain.User{ID: "usr_existing", Email: email}, nil
			}
			return domain.User{}, notFoundRepoError()
		},
	}
	svc := newTestUserService(t, UserServiceDeps{Users: repo})

	cases := []struct {
		name string
		cmd  RegisterUserCommand
		want error
	}{
		{name: "missing name", cmd: RegisterUserCommand{Email: "a@example.com", Password: "longenough"}, want: ErrUserInvalidInput},
		{name: "malformed email", cmd: RegisterUserCommand{Name: "A", Email: "not-an-email", Password: "longenough"}, want: ErrUserInvalidInput},
		{name: "short password", cmd: RegisterUserCommand{Name: "A", Email: "a@example.com", Password: "short"}, want: ErrUserInvalidInput},
		{name: "duplicate email", cmd: RegisterUserCommand{Name: "A", Email: "taken@example.com", Password: "longenough"}, want: ErrUserEmailTaken},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := svc.Register(context.Background(), tc.cmd); !errors.Is(err, tc.want) {
				t.Fatalf("expected %v, got %v", tc.want, err)
			}
		})
	}
}

func TestUserServiceLogin(t *testing.T) {
	hash := mustHash(t, "sturdy-password")
	repo := &stubUserRepo{
		findByEmailFn: func(_ context.Context, email string) (domain.User, error) {
			if email != "asha@example.com" {
				return domain.User{}, notFoundRepoError()
			}
			return domain.User{ID: "usr_1", Email: email, PasswordHash: hash, Role: domain.RoleUser}, nil
		},
	}
	svc := newTestUserService(t, UserServiceDeps{Users: repo})

	session, err := svc.Login(context.Background(), LoginCommand{Email: "Asha@example.com", Password: "sturdy-password"})
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	if session.User.ID != "usr_1" || session.Token == "" {
		t.Fatalf("unexpected session %+v", session)
	}

	if _, err := svc.Login(context.Background(), LoginCommand{Email: "asha@example.com", Password: "wrong"}); !errors.Is(err, ErrUserInvalidCredentials) {
		t.Fatalf("expected ErrUserInvalidCredentials for bad password, got %v", err)
	}
	if _, err := svc.Login(context.Background(), LoginCommand{Email: "ghost@example.com", Password: "sturdy-password"}); !errors.Is(err, ErrUserInvalidCredentials) {
		t.Fatalf("expected ErrUserInvalidCredentials for unknown email, got %v", err)
	}
}

func TestUserServiceAdminLogin(t *testing.T) {
	hash := mustHash(t, "staff-password")
	admins := &stubAdminRepo{
		findByEmailFn: func(_ context.Context, email string) (domain.Admin, error) {
			if email != "staff@example.com" {
				return domain.Admin{}, notFoundRepoError()
			}
			return domain.Admin{ID: "adm_1", Email: email, PasswordHash: hash, Role: domain.RoleAdmin}, nil
		},
	}
	var issuedRole string
	tokens := &stubTokenIssuer{
		issueFn: func(subject, _, role string) (string, time.Time, error) {
			issuedRole = role
			return "token-" + subject, time.Time{}, nil
		},
	}
	svc := newTestUserService(t, UserServiceDeps{Users: &stubUserRepo{}, Admins: admins, Tokens: tokens})

	session, err := svc.AdminLogin(context.Background(), LoginCommand{Email: "staff@example.com", Password: "staff-password"})
	if err != nil {
		t.Fatalf("AdminLogin: %v", err)
	}
	if session.Admin.ID != "adm_1" || issuedRole != "admin" {
		t.Fatalf("unexpected admin session %+v role %q", session, issuedRole)
	}

	if _, err := svc.AdminLogin(context.Background(), LoginCommand{Email: "staff@example.com", Password: "wrong"}); !errors.Is(err, ErrUserInvalidCredentials) {
		t.Fatalf("expected ErrUserInvalidCredentials, got %v", err)
	}
}

func TestUserServiceUpsertAddress(t *testing.T) {
	stored := domain.User{
		ID:        "usr_1",
		Name:      "Asha Rao",
		Email:     "asha@example.com",
		Addresses: []domain.Address{{FullName: "Asha Rao", Phone: "9876543210", AddressLine1: "Old Road", City: "Pune", State: "MH", Pincode: "411001", Country: "India", IsDefault: true}},
	}
	repo := &stubUserRepo{
		findFn: func(_ context.Context, _ string) (domain.User, error) {
			return stored, nil
		},
		updateFn: func(_ context.Context, user domain.User) (domain.User, error) {
			return user, nil
		},
	}
	svc := newTestUserService(t, UserServiceDeps{Users: repo})

	addr := shippingAddressFixture()
	addr.IsDefault = true
	user, err := svc.UpsertAddress(context.Background(), UpsertAddressCommand{UserID: "usr_1", Index: -1, Address: addr})
	if err != nil {
		t.Fatalf("UpsertAddress: %v", err)
	}
	if len(user.Addresses) != 2 {
		t.Fatalf("expected appended address, got %d", len(user.Addresses))
	}
	if user.Addresses[0].IsDefault {
		t.Fatal("old default should be cleared when new default is appended")
	}
	if !user.Addresses[1].IsDefault || user.Addresses[1].Country != "India" {
		t.Fatalf("unexpected appended address %+v", user.Addresses[1])
	}

	if _, err := svc.UpsertAddress(context.Background(), UpsertAddressCommand{UserID: "usr_1", Index: 7, Address: addr}); !errors.Is(err, ErrUserInvalidInput) {
		t.Fatalf("expected ErrUserInvalidInput for out-of-range index, got %v", err)
	}
	if _, err := svc.UpsertAddress(context.Background(), UpsertAddressCommand{UserID: "usr_1", Index: -1, Address: domain.Address{FullName: "X"}}); !errors.Is(err, ErrUserInvalidInput) {
		t.Fatalf("expected ErrUserInvalidInput for incomplete address, got %v", err)
	}
}

func TestUserServiceRemoveAddress(t *testing.T) {
	repo := &stubUserRepo{
		findFn: func(_ context.Context, _ string) (domain.User, error) {
			return domain.User{ID: "usr_1", Addresses: []domain.Address{shippingAddressFixture(), shippingAddressFixture()}}, nil
		},
		updateFn: func(_ context.Context, user domain.User) (domain.User, error) {
			return user, nil
		},
	}
	svc := newTestUserService(t, UserServiceDeps{Users: repo})

	user, err := svc.RemoveAddress(context.Background(), RemoveAddressCommand{UserID: "usr_1", Index: 0})
	if err != nil {
		t.Fatalf("RemoveAddress: %v", err)
	}
	if len(user.Addresses) != 1 {
		t.Fatalf("expected one address left, got %d", len(user.Addresses))
	}

	if _, err := svc.RemoveAddress(context.Background(), RemoveAddressCommand{UserID: "usr_1", Index: 5}); !errors.Is(err, ErrUserInvalidInput) {
		t.Fatalf("expected ErrUserInvalidInput, got %v", err)
	}
}

func TestUserServiceRequestPasswordReset(t *testing.T) {
	stored := domain.User{ID: "usr_1", Name: "Asha Rao", Email: "asha@example.com"}
	var updates []domain.User
	repo := &stubUserRepo{
		findByEmailFn: func(_ context.Context, _ string) (domain.User, error) {
			return stored, nil
		},
		updateFn: func(_ context.Context, user domain.User) (domain.User, error) {
			updates = append(updates, user)
			return user, nil
		},
	}
	mailer := &otpMailer{}
	svc := newTestUserService(t, UserServiceDeps{Users: repo, Mailer: mailer})

	if err := svc.RequestPasswordReset(context.Background(), RequestPasswordResetCommand{Email: "asha@example.com"}); err != nil {
		t.Fatalf("RequestPasswordReset: %v", err)
	}
	if len(updates) != 1 {
		t.Fatalf("expected one update, got %d", len(updates))
	}
	saved := updates[0]
	if saved.ResetOTPHash == "" || strings.Contains(saved.ResetOTPHash, "482913") {
		t.Fatalf("expected hashed code stored, got %q", saved.ResetOTPHash)
	}
	wantExpiry := time.Date(2025, 6, 10, 8, 25, 0, 0, time.UTC)
	if saved.ResetOTPExpires == nil || !saved.ResetOTPExpires.Equal(wantExpiry) {
		t.Fatalf("expected expiry %v, got %v", wantExpiry, saved.ResetOTPExpires)
	}
	if len(mailer.otps) != 1 || mailer.otps[0].OTP != "482913" {
		t.Fatalf("expected plain code emailed once, got %+v", mailer.otps)
	}
}

func TestUserServiceRequestPasswordResetRollsBackOnMailFailure(t *testing.T) {
	stored := domain.User{ID: "usr_1", Email: "asha@example.com"}
	var updates []domain.User
	repo := &stubUserRepo{
		findByEmailFn: func(_ context.Context, _ string) (domain.User, error) {
			return stored, nil
		},
		updateFn: func(_ context.Context, user domain.User) (domain.User, error) {
			updates = append(updates, user)
			return user, nil
		},
	}
	mailer := &otpMailer{otpErr: errors.New("smtp down")}
	svc := newTestUserService(t, UserServiceDeps{Users: repo, Mailer: mailer})

	err := svc.RequestPasswordReset(context.Background(), RequestPasswordResetCommand{Email: "asha@example.com"})
	if !errors.Is(err, ErrUserMailUnavailable) {
		t.Fatalf("expected ErrUserMailUnavailable, got %v", err)
	}
	if len(updates) != 2 {
		t.Fatalf("expected set and rollback updates, got %d", len(updates))
	}
	final := updates[1]
	if final.ResetOTPHash != "" || final.ResetOTPExpires != nil {
		t.Fatalf("expected cleared reset fields, got %+v", final)
	}
}

func TestUserServiceResetPassword(t *testing.T) {
	expires := time.Date(2025, 6, 10, 8, 25, 0, 0, time.UTC)
	stored := domain.User{
		ID:              "usr_1",
		Email:           "asha@example.com",
		PasswordHash:    mustHash(t, "old-password"),
		ResetOTPHash:    hashResetOTP("482913"),
		ResetOTPExpires: &expires,
	}
	var saved domain.User
	repo := &stubUserRepo{
		findByEmailFn: func(_ context.Context, _ string) (domain.User, error) {
			return stored, nil
		},
		updateFn: func(_ context.Context, user domain.User) (domain.User, error) {
			saved = user
			return user, nil
		},
	}
	svc := newTestUserService(t, UserServiceDeps{Users: repo})

	if err := svc.ResetPassword(context.Background(), ResetPasswordCommand{
		Email:       "asha@example.com",
		OTP:         "482913",
		NewPassword: "fresh-password",
	}); err != nil {
		t.Fatalf("ResetPassword: %v", err)
	}
	if saved.ResetOTPHash != "" || saved.ResetOTPExpires != nil {
		t.Fatalf("expected reset fields cleared, got %+v", saved)
	}
	if bcrypt.CompareHashAndPassword([]byte(saved.PasswordHash), []byte("fresh-password")) != nil {
		t.Fatal("expected new password hash stored")
	}
}

func TestUserServiceResetPasswordRejections(t *testing.T) {
	expires := time.Date(2025, 6, 10, 8, 25, 0, 0, time.UTC)
	stale := time.Date(2025, 6, 10, 8, 0, 0, 0, time.UTC)

	cases := []struct {
		name string
		user domain.User
		cmd  ResetPasswordCommand
		want error
	}{
		{
			name: "wrong code",
			user: domain.User{ID: "usr_1", Email: "asha@example.com", ResetOTPHash: hashResetOTP("482913"), ResetOTPExpires: &expires},
			cmd:  ResetPasswordCommand{Email: "asha@example.com", OTP: "000000", NewPassword: "fresh-password"},
			want: ErrUserOTPInvalid,
		},
		{
			name: "expired code",
			user: domain.User{ID: "usr_1", Email: "asha@example.com", ResetOTPHash: hashResetOTP("482913"), ResetOTPExpires: &stale},
			cmd:  ResetPasswordCommand{Email: "asha@example.com", OTP: "482913", NewPassword: "fresh-password"},
			want: ErrUserOTPInvalid,
		},
		{
			name: "no pending reset",
			user: domain.User{ID: "usr_1", Email: "asha@example.com"},
			cmd:  ResetPasswordCommand{Email: "asha@example.com", OTP: "482913", NewPassword: "fresh-password"},
			want: ErrUserOTPInvalid,
		},
		{
			name: "weak replacement password",
			user: domain.User{ID: "usr_1", Email: "asha@example.com", ResetOTPHash: hashResetOTP("482913"), ResetOTPExpires: &expires},
			cmd:  ResetPasswordCommand{Email: "asha@example.com", OTP: "482913", NewPassword: "short"},
			want: ErrUserInvalidInput,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			repo := &stubUserRepo{
				findByEmailFn: func(_ context.Context, _ string) (domain.User, error) {
					return tc.user, nil
				},
			}
			svc := newTestUserService(t, UserServiceDeps{Users: repo})
			if err := svc.ResetPassword(context.Background(), tc.cmd); !errors.Is(err, tc.want) {
				t.Fatalf("expected %v, got %v", tc.want, err)
			}
		})
	}
}

func TestUserServiceUpdateProfileEmailConflict(t *testing.T) {
	repo := &stubUserRepo{
		findFn: func(_ context.Context, _ string) (domain.User, error) {
			return domain.User{ID: "usr_1", Name: "Asha Rao", Email: "asha@example.com"}, nil
		},
		findByEmailFn: func(_ context.Context, email string) (domain.User, error) {
			if email == "taken@example.com" {
				return domain.User{ID: "usr_2", Email: email}, nil
			}
			return domain.User{}, notFoundRepoError()
		},
		updateFn: func(_ context.Context, user domain.User) (domain.User, error) {
			return user, nil
		},
	}
	svc := newTestUserService(t, UserServiceDeps{Users: repo})

	taken := "taken@example.com"
	if _, err := svc.UpdateProfile(context.Background(), UpdateProfileCommand{UserID: "usr_1", Email: &taken}); !errors.Is(err, ErrUserEmailTaken) {
		t.Fatalf("expected ErrUserEmailTaken, got %v", err)
	}

	free := "new@example.com"
	user, err := svc.UpdateProfile(context.Background(), UpdateProfileCommand{UserID: "usr_1", Email: &free})
	if err != nil {
		t.Fatalf("UpdateProfile: %v", err)
	}
	if user.Email != "new@example.com" {
		t.Fatalf("expected updated email, got %q", user.Email)
	}
}
