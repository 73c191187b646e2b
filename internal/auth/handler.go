package auth

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"

	"github.com/tapturf/tapturf/internal/identity"
	"github.com/tapturf/tapturf/internal/otp"
	"github.com/tapturf/tapturf/internal/pin"
)

// LocalUserID is the fiber.Ctx Locals key holding the authenticated account id.
const LocalUserID = "user_id"

var validate = validator.New()

// Handler exposes account, PIN and email verification endpoints.
type Handler struct {
	accounts *identity.Service
	pins     *pin.Authenticator
	otps     *otp.Issuer
	tokens   *Tokens
	phones   *PhoneVerifier
	logger   *slog.Logger
}

// Dependencies groups the collaborators a Handler needs.
type Dependencies struct {
	Accounts *identity.Service
	PINs     *pin.Authenticator
	OTPs     *otp.Issuer
	Tokens   *Tokens
	Phones   *PhoneVerifier
	Logger   *slog.Logger
}

func NewHandler(deps Dependencies) *Handler {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		accounts: deps.Accounts,
		pins:     deps.PINs,
		otps:     deps.OTPs,
		tokens:   deps.Tokens,
		phones:   deps.Phones,
		logger:   logger,
	}
}

type accountResponse struct {
	ID              string    `json:"id"`
	Phone           string    `json:"phone"`
	Email           string    `json:"email,omitempty"`
	Name            string    `json:"name,omitempty"`
	Role            string    `json:"role"`
	ProfileImageURL string    `json:"profile_image_url,omitempty"`
	EmailVerified   bool      `json:"email_verified"`
	HasPIN          bool      `json:"has_pin"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

func toAccountResponse(a identity.Account) accountResponse {
	return accountResponse{
		ID:              a.ID,
		Phone:           a.Phone,
		Email:           a.Email,
		Name:            a.Name,
		Role:            a.Role,
		ProfileImageURL: a.ProfileImageURL,
		EmailVerified:   a.EmailVerified,
		HasPIN:          a.HasPIN(),
		CreatedAt:       a.CreatedAt,
		UpdatedAt:       a.UpdatedAt,
	}
}

type sessionResponse struct {
	Success   bool            `json:"success"`
	Message   string          `json:"message,omitempty"`
	User      accountResponse `json:"user"`
	Token     string          `json:"token"`
	ExpiresAt time.Time       `json:"expires_at"`
}

// bind parses the JSON body into dst and runs its validate tags.
func bind(c *fiber.Ctx, dst any) error {
	if err := c.BodyParser(dst); err != nil {
		return fiber.NewError(http.StatusBadRequest, "invalid request body")
	}
	if err := validate.Struct(dst); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			return fiber.NewError(http.StatusBadRequest, describe(verrs[0]))
		}
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}
	return nil
}

func describe(fe validator.FieldError) string {
	field := strings.ToLower(fe.Field())
	switch fe.Tag() {
	case "required":
		return field + " is required"
	case "email":
		return "Invalid email format"
	default:
		return fmt.Sprintf("%s is invalid", field)
	}
}

func (h *Handler) session(c *fiber.Ctx, status int, message string, account identity.Account) error {
	token, exp, err := h.tokens.Issue(account)
	if err != nil {
		h.logger.Error("issue session token", slog.String("account_id", account.ID), slog.Any("error", err))
		return fiber.NewError(http.StatusInternalServerError, "Internal server error")
	}
	return c.Status(status).JSON(sessionResponse{
		Success:   true,
		Message:   message,
		User:      toAccountResponse(account),
		Token:     token,
		ExpiresAt: exp,
	})
}

func (h *Handler) internal(msg string, err error) error {
	h.logger.Error(msg, slog.Any("error", err))
	return fiber.NewError(http.StatusInternalServerError, "Internal server error")
}

type checkPhoneRequest struct {
	Phone string `json:"phone" validate:"required"`
}

// CheckPhone reports whether a phone number is registered and has a PIN.
func (h *Handler) CheckPhone(c *fiber.Ctx) error {
	var req checkPhoneRequest
	if err := bind(c, &req); err != nil {
		return err
	}
	status, err := h.accounts.CheckPhone(c.UserContext(), req.Phone)
	if errors.Is(err, identity.ErrInvalidPhone) {
		return fiber.NewError(http.StatusBadRequest, "Invalid phone number")
	}
	if err != nil {
		return h.internal("check phone", err)
	}
	return c.JSON(fiber.Map{"success": true, "exists": status.Exists, "has_pin": status.HasPIN})
}

type registerRequest struct {
	PhoneToken string `json:"phone_token" validate:"required"`
	Name       string `json:"name" validate:"required"`
	Email      string `json:"email" validate:"omitempty,email"`
}

// Register creates an account for the phone number proven by phone_token.
func (h *Handler) Register(c *fiber.Ctx) error {
	var req registerRequest
	if err := bind(c, &req); err != nil {
		return err
	}
	phone, err := h.phones.Verify(req.PhoneToken)
	if err != nil {
		return fiber.NewError(http.StatusUnauthorized, "Invalid phone verification token")
	}
	account, err := h.accounts.Register(c.UserContext(), identity.RegisterInput{Phone: phone, Name: req.Name, Email: req.Email})
	switch {
	case errors.Is(err, identity.ErrExists):
		return fiber.NewError(http.StatusConflict, "User already exists. Please login instead.")
	case errors.Is(err, identity.ErrEmailInUse):
		return fiber.NewError(http.StatusConflict, "Email already in use")
	case errors.Is(err, identity.ErrInvalidPhone):
		return fiber.NewError(http.StatusBadRequest, "Invalid phone number")
	case errors.Is(err, identity.ErrInvalidEmail):
		return fiber.NewError(http.StatusBadRequest, "Invalid email format")
	case err != nil:
		return h.internal("register account", err)
	}
	h.logger.Info("account registered", slog.String("account_id", account.ID))
	return h.session(c, http.StatusCreated, "Account created", account)
}

type setPINRequest struct {
	PhoneToken string `json:"phone_token" validate:"required"`
	PIN        string `json:"pin" validate:"required"`
}

// SetPIN stores a new PIN for the account proven by phone_token.
func (h *Handler) SetPIN(c *fiber.Ctx) error {
	var req setPINRequest
	if err := bind(c, &req); err != nil {
		return err
	}
	phone, err := h.phones.Verify(req.PhoneToken)
	if err != nil {
		return fiber.NewError(http.StatusUnauthorized, "Invalid phone verification token")
	}
	phone, err = h.accounts.NormalizePhone(phone)
	if err != nil {
		return fiber.NewError(http.StatusBadRequest, "Invalid phone number")
	}

	account, err := h.pins.SetPIN(c.UserContext(), phone, req.PIN)
	switch {
	case errors.Is(err, pin.ErrInvalidFormat):
		return fiber.NewError(http.StatusBadRequest, pin.ErrInvalidFormat.Error())
	case errors.Is(err, pin.ErrWeakPIN):
		return fiber.NewError(http.StatusBadRequest, "PIN is too simple. Avoid repeated or sequential digits.")
	case errors.Is(err, identity.ErrNotFound):
		return fiber.NewError(http.StatusNotFound, "User not found")
	case err != nil:
		return h.internal("set pin", err)
	}
	h.logger.Info("pin set", slog.String("account_id", account.ID))
	return h.session(c, http.StatusOK, "PIN set successfully", account)
}

type verifyPINRequest struct {
	Phone string `json:"phone" validate:"required"`
	PIN   string `json:"pin" validate:"required"`
}

// VerifyPIN authenticates by phone and PIN and returns a session token.
func (h *Handler) VerifyPIN(c *fiber.Ctx) error {
	var req verifyPINRequest
	if err := bind(c, &req); err != nil {
		return err
	}
	if !pin.IsWellFormed(req.PIN) {
		return fiber.NewError(http.StatusBadRequest, pin.ErrInvalidFormat.Error())
	}
	phone, err := h.accounts.NormalizePhone(req.Phone)
	if err != nil {
		return fiber.NewError(http.StatusBadRequest, "Invalid phone number")
	}

	res, err := h.pins.Verify(c.UserContext(), phone, req.PIN)
	if errors.Is(err, pin.ErrContended) {
		return fiber.NewError(http.StatusConflict, "Please try again")
	}
	if err != nil {
		return h.internal("verify pin", err)
	}

	switch res.Outcome {
	case pin.OutcomeSuccess:
		return h.session(c, http.StatusOK, "Login successful", res.Account)
	case pin.OutcomeAccountNotFound:
		return fiber.NewError(http.StatusNotFound, "User not found")
	case pin.OutcomePINNotConfigured:
		return c.Status(http.StatusBadRequest).JSON(fiber.Map{
			"success":            false,
			"error":              "PIN not set. Please set up your PIN first.",
			"requires_pin_setup": true,
		})
	case pin.OutcomeLocked:
		minutes := res.RemainingMinutes()
		return c.Status(http.StatusLocked).JSON(fiber.Map{
			"success":             false,
			"error":               lockedMessage(minutes),
			"locked_until":        res.LockedUntil.UTC(),
			"retry_after_minutes": minutes,
		})
	case pin.OutcomeInvalidPIN:
		return c.Status(http.StatusUnauthorized).JSON(fiber.Map{
			"success":            false,
			"error":              "Invalid PIN",
			"attempts_remaining": res.AttemptsRemaining,
		})
	default:
		return h.internal("verify pin", fmt.Errorf("unexpected outcome %s", res.Outcome))
	}
}

func lockedMessage(minutes int) string {
	unit := "minutes"
	if minutes == 1 {
		unit = "minute"
	}
	return fmt.Sprintf("Account locked. Try again in %d %s.", minutes, unit)
}

type sendOTPRequest struct {
	Email string `json:"email" validate:"required"`
}

// SendEmailOTP emails a one-time code to the given address.
func (h *Handler) SendEmailOTP(c *fiber.Ctx) error {
	var req sendOTPRequest
	if err := bind(c, &req); err != nil {
		return err
	}
	expiresAt, err := h.otps.Request(c.UserContext(), req.Email)
	switch {
	case errors.Is(err, identity.ErrInvalidEmail):
		return fiber.NewError(http.StatusBadRequest, "Invalid email format")
	case errors.Is(err, otp.ErrDeliveryFailed):
		return fiber.NewError(http.StatusInternalServerError, "Failed to send verification email")
	case err != nil:
		return h.internal("request otp", err)
	}
	return c.JSON(fiber.Map{"success": true, "message": "OTP sent successfully", "expires_at": expiresAt.UTC()})
}

type verifyOTPRequest struct {
	Email string `json:"email" validate:"required"`
	OTP   string `json:"otp" validate:"required"`
}

// VerifyEmailOTP checks a code previously sent by SendEmailOTP.
func (h *Handler) VerifyEmailOTP(c *fiber.Ctx) error {
	var req verifyOTPRequest
	if err := bind(c, &req); err != nil {
		return err
	}
	switch h.otps.Verify(c.UserContext(), req.Email, req.OTP) {
	case otp.Verified:
		return c.JSON(fiber.Map{"success": true, "message": "Email verified successfully"})
	case otp.NotFound:
		return fiber.NewError(http.StatusBadRequest, "No OTP found. Please request a new one.")
	case otp.Expired:
		return fiber.NewError(http.StatusBadRequest, "OTP expired. Please request a new one.")
	case otp.TooManyAttempts:
		return fiber.NewError(http.StatusTooManyRequests, "Too many failed attempts. Please request a new OTP.")
	default:
		return fiber.NewError(http.StatusBadRequest, "Invalid OTP. Please try again.")
	}
}

// Me returns the authenticated account.
func (h *Handler) Me(c *fiber.Ctx) error {
	id, _ := c.Locals(LocalUserID).(string)
	account, err := h.accounts.Get(c.UserContext(), id)
	if errors.Is(err, identity.ErrNotFound) {
		return fiber.NewError(http.StatusNotFound, "User not found")
	}
	if err != nil {
		return h.internal("load account", err)
	}
	return c.JSON(fiber.Map{"success": true, "user": toAccountResponse(account)})
}

type updateProfileRequest struct {
	Field string `json:"field" validate:"required"`
	Value string `json:"value"`
}

// UpdateMe changes one profile field of the authenticated account.
func (h *Handler) UpdateMe(c *fiber.Ctx) error {
	var req updateProfileRequest
	if err := bind(c, &req); err != nil {
		return err
	}
	id, _ := c.Locals(LocalUserID).(string)
	account, err := h.accounts.UpdateProfile(c.UserContext(), id, req.Field, req.Value)
	switch {
	case errors.Is(err, identity.ErrInvalidProfileField):
		return fiber.NewError(http.StatusBadRequest, "Invalid field. Allowed: "+strings.Join(identity.ProfileFieldNames(), ", "))
	case errors.Is(err, identity.ErrInvalidProfileValue), errors.Is(err, identity.ErrInvalidEmail), errors.Is(err, identity.ErrInvalidPhone):
		return fiber.NewError(http.StatusBadRequest, err.Error())
	case errors.Is(err, identity.ErrEmailInUse):
		return fiber.NewError(http.StatusConflict, "Email already in use")
	case errors.Is(err, identity.ErrPhoneInUse):
		return fiber.NewError(http.StatusConflict, "Phone number already in use")
	case errors.Is(err, identity.ErrNotFound):
		return fiber.NewError(http.StatusNotFound, "User not found")
	case err != nil:
		return h.internal("update profile", err)
	}
	return c.JSON(fiber.Map{"success": true, "message": "Profile updated successfully", "user": toAccountResponse(account)})
}
