package identity

import (
	"context"
	"errors"
	"testing"
	"time"
)

func newTestService() *Service {
	svc := NewService(NewMemoryRepository(), "+91")
	svc.now = func() time.Time { return time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC) }
	return svc
}

func TestRegisterNormalizesPhone(t *testing.T) {
	svc := newTestService()
	ctx := context.Background()

	account, err := svc.Register(ctx, RegisterInput{Phone: "98765 43210", Name: " Asha ", Email: "Asha@Example.com"})
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	if account.Phone != "+919876543210" {
		t.Fatalf("expected normalized phone, got %s", account.Phone)
	}
	if account.Email != "asha@example.com" || account.Name != "Asha" {
		t.Fatalf("unexpected account %+v", account)
	}
	if account.Role != RoleUser || account.HasPIN() {
		t.Fatalf("expected fresh user without pin, got %+v", account)
	}

	if _, err := svc.Register(ctx, RegisterInput{Phone: "+919876543210"}); !errors.Is(err, ErrExists) {
		t.Fatalf("expected ErrExists, got %v", err)
	}
}

func TestRegisterRejectsBadInput(t *testing.T) {
	svc := newTestService()
	ctx := context.Background()

	if _, err := svc.Register(ctx, RegisterInput{Phone: "abc"}); !errors.Is(err, ErrInvalidPhone) {
		t.Fatalf("expected ErrInvalidPhone, got %v", err)
	}
	if _, err := svc.Register(ctx, RegisterInput{Phone: "9876543210", Email: "not-an-email"}); !errors.Is(err, ErrInvalidEmail) {
		t.Fatalf("expected ErrInvalidEmail, got %v", err)
	}
}

func TestCheckPhone(t *testing.T) {
	svc := newTestService()
	ctx := context.Background()

	status, err := svc.CheckPhone(ctx, "9876543210")
	if err != nil {
		t.Fatalf("check phone: %v", err)
	}
	if status.Exists || status.HasPIN {
		t.Fatalf("expected unknown phone, got %+v", status)
	}

	account, err := svc.Register(ctx, RegisterInput{Phone: "9876543210"})
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	status, _ = svc.CheckPhone(ctx, "+919876543210")
	if !status.Exists || status.HasPIN {
		t.Fatalf("expected existing phone without pin, got %+v", status)
	}

	if err := svc.repo.UpdatePINHash(ctx, account.ID, []byte("hash")); err != nil {
		t.Fatalf("update pin hash: %v", err)
	}
	status, _ = svc.CheckPhone(ctx, "9876543210")
	if !status.HasPIN {
		t.Fatalf("expected has pin, got %+v", status)
	}
}

func TestUpdateProfile(t *testing.T) {
	svc := newTestService()
	ctx := context.Background()

	first, _ := svc.Register(ctx, RegisterInput{Phone: "9000000001", Email: "one@example.com"})
	second, _ := svc.Register(ctx, RegisterInput{Phone: "9000000002"})

	updated, err := svc.UpdateProfile(ctx, second.ID, "name", "  Ravi ")
	if err != nil {
		t.Fatalf("update name: %v", err)
	}
	if updated.Name != "Ravi" {
		t.Fatalf("expected trimmed name, got %q", updated.Name)
	}

	if _, err := svc.UpdateProfile(ctx, second.ID, "email", "ONE@example.com"); !errors.Is(err, ErrEmailInUse) {
		t.Fatalf("expected ErrEmailInUse, got %v", err)
	}
	if _, err := svc.UpdateProfile(ctx, second.ID, "phone", "9000000001"); !errors.Is(err, ErrPhoneInUse) {
		t.Fatalf("expected ErrPhoneInUse, got %v", err)
	}
	if _, err := svc.UpdateProfile(ctx, first.ID, "email", "one@example.com"); err != nil {
		t.Fatalf("re-saving own email should succeed: %v", err)
	}
	if _, err := svc.UpdateProfile(ctx, second.ID, "role", "admin"); !errors.Is(err, ErrInvalidProfileField) {
		t.Fatalf("expected ErrInvalidProfileField, got %v", err)
	}
	if _, err := svc.UpdateProfile(ctx, second.ID, "name", "   "); !errors.Is(err, ErrInvalidProfileValue) {
		t.Fatalf("expected ErrInvalidProfileValue, got %v", err)
	}
	if _, err := svc.UpdateProfile(ctx, second.ID, "profile_image_url", "javascript:alert(1)"); !errors.Is(err, ErrInvalidProfileValue) {
		t.Fatalf("expected ErrInvalidProfileValue for bad url, got %v", err)
	}
}

func TestMarkEmailVerified(t *testing.T) {
	svc := newTestService()
	ctx := context.Background()

	ok, err := svc.MarkEmailVerified(ctx, "nobody@example.com")
	if err != nil || ok {
		t.Fatalf("expected no account, got ok=%v err=%v", ok, err)
	}

	account, _ := svc.Register(ctx, RegisterInput{Phone: "9000000003", Email: "me@example.com"})
	ok, err = svc.MarkEmailVerified(ctx, " ME@example.com ")
	if err != nil || !ok {
		t.Fatalf("expected verified, got ok=%v err=%v", ok, err)
	}
	got, _ := svc.Get(ctx, account.ID)
	if !got.EmailVerified {
		t.Fatalf("expected email_verified to be persisted")
	}
}

func TestMemoryRepositoryPINStateCompareAndSwap(t *testing.T) {
	repo := NewMemoryRepository()
	ctx := context.Background()
	account := Account{ID: "a1", Phone: "+910000000001"}
	if err := repo.Create(ctx, account); err != nil {
		t.Fatalf("create: %v", err)
	}

	lock := time.Date(2025, 1, 1, 0, 15, 0, 0, time.UTC)
	if err := repo.UpdatePINState(ctx, "a1", PINState{}, PINState{FailedAttempts: 5, LockedUntil: &lock}); err != nil {
		t.Fatalf("first swap: %v", err)
	}
	if err := repo.UpdatePINState(ctx, "a1", PINState{}, PINState{FailedAttempts: 1}); !errors.Is(err, ErrPINStateConflict) {
		t.Fatalf("expected conflict on stale state, got %v", err)
	}
	if err := repo.UpdatePINState(ctx, "a1", PINState{FailedAttempts: 5, LockedUntil: &lock}, PINState{}); err != nil {
		t.Fatalf("swap with current state: %v", err)
	}
}

func TestNormalizePhone(t *testing.T) {
	cases := map[string]string{
		"9876543210":       "+919876543210",
		"+1 (415) 555-0100": "+14155550100",
		" +919876543210 ":  "+919876543210",
	}
	for in, want := range cases {
		got, err := NormalizePhone(in, "+91")
		if err != nil {
			t.Fatalf("normalize %q: %v", in, err)
		}
		if got != want {
			t.Fatalf("normalize %q: expected %s got %s", in, want, got)
		}
	}
	if _, err := NormalizePhone("", "+91"); !errors.Is(err, ErrInvalidPhone) {
		t.Fatalf("expected ErrInvalidPhone for empty input, got %v", err)
	}
}

func TestUpdateEmailClearsVerification(t *testing.T) {
	svc := newTestService()
	ctx := context.Background()

	account, _ := svc.Register(ctx, RegisterInput{Phone: "9000000004", Email: "a@b.com"})
	if ok, err := svc.MarkEmailVerified(ctx, "a@b.com"); err != nil || !ok {
		t.Fatalf("mark verified: ok=%v err=%v", ok, err)
	}

	same, err := svc.UpdateProfile(ctx, account.ID, "email", " A@B.com ")
	if err != nil {
		t.Fatalf("update same email: %v", err)
	}
	if !same.EmailVerified {
		t.Fatalf("re-saving the same address must keep it verified")
	}

	changed, err := svc.UpdateProfile(ctx, account.ID, "email", "new@else.com")
	if err != nil {
		t.Fatalf("update email: %v", err)
	}
	if changed.Email != "new@else.com" || changed.EmailVerified {
		t.Fatalf("expected unverified new@else.com, got %s verified=%v", changed.Email, changed.EmailVerified)
	}
	got, _ := svc.Get(ctx, account.ID)
	if got.EmailVerified {
		t.Fatalf("expected cleared email_verified to be persisted")
	}
}
