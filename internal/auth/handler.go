package auth

import (
	"errors"
	"log/slog"
	"net/http"
	"reflect"
	"regexp"
	"strings"
	"time"
	"unicode"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/odyssey-erp/odyssey-accounts/internal/platform/httpx"
)

// Handler wires HTTP endpoints for the account flows.
type Handler struct {
	logger      *slog.Logger
	service     *Service
	tokens      *TokenManager
	authLimiter func(http.Handler) http.Handler
	validator   *validator.Validate
}

// NewHandler constructs a Handler. authLimiter may be nil; when set it wraps
// the unauthenticated credential endpoints.
func NewHandler(logger *slog.Logger, service *Service, tokens *TokenManager, authLimiter func(http.Handler) http.Handler) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		logger:      logger,
		service:     service,
		tokens:      tokens,
		authLimiter: authLimiter,
		validator:   newValidator(),
	}
}

// MountRoutes registers account routes on the provided router.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/health", h.health)

	r.Group(func(r chi.Router) {
		if h.authLimiter != nil {
			r.Use(h.authLimiter)
		}
		r.Post("/register", h.register)
		r.Post("/login", h.login)
		r.Post("/refresh", h.refresh)
	})

	r.Group(func(r chi.Router) {
		r.Use(RequireAccessToken(h.logger, h.tokens))
		r.Get("/profile", h.profile)
		r.Delete("/profile", h.deactivate)
		r.Put("/password", h.changePassword)
	})
}

type registerRequest struct {
	Name     string `json:"name" validate:"required,min=2,max=50,personname"`
	Email    string `json:"email" validate:"required,email,max=254"`
	Password string `json:"password" validate:"required,min=8,max=72,password"`
}

type loginRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

type refreshRequest struct {
	RefreshToken string `json:"refreshToken" validate:"required"`
}

type changePasswordRequest struct {
	CurrentPassword string `json:"currentPassword" validate:"required"`
	NewPassword     string `json:"newPassword" validate:"required,min=8,max=72,password"`
}

func (h *Handler) register(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if !h.decode(w, r, &req) {
		return
	}
	req.Name = strings.TrimSpace(req.Name)
	req.Email = strings.TrimSpace(req.Email)
	if !h.validate(w, r, req) {
		return
	}
	view, err := h.service.Register(r.Context(), RegisterInput(req))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, view)
}

func (h *Handler) login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if !h.decode(w, r, &req) {
		return
	}
	req.Email = strings.TrimSpace(req.Email)
	if !h.validate(w, r, req) {
		return
	}
	view, err := h.service.Login(r.Context(), LoginInput(req))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, view)
}

func (h *Handler) refresh(w http.ResponseWriter, r *http.Request) {
	var req refreshRequest
	if !h.decode(w, r, &req) {
		return
	}
	if !h.validate(w, r, req) {
		return
	}
	view, err := h.service.Refresh(r.Context(), req.RefreshToken)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, view)
}

func (h *Handler) profile(w http.ResponseWriter, r *http.Request) {
	claims, _ := ClaimsFromContext(r.Context())
	view, err := h.service.Profile(r.Context(), claims.Subject)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, view)
}

func (h *Handler) changePassword(w http.ResponseWriter, r *http.Request) {
	var req changePasswordRequest
	if !h.decode(w, r, &req) {
		return
	}
	if !h.validate(w, r, req) {
		return
	}
	claims, _ := ClaimsFromContext(r.Context())
	if err := h.service.ChangePassword(r.Context(), claims.Subject, ChangePasswordInput(req)); err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.NoContent(w)
}

func (h *Handler) deactivate(w http.ResponseWriter, r *http.Request) {
	claims, _ := ClaimsFromContext(r.Context())
	if err := h.service.Deactivate(r.Context(), claims.Subject); err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.NoContent(w)
}

func (h *Handler) health(w http.ResponseWriter, _ *http.Request) {
	httpx.JSON(w, http.StatusOK, map[string]string{
		"status":    "OK",
		"message":   "User service is running",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request, target any) bool {
	err := httpx.DecodeJSON(w, r, target)
	if err == nil {
		return true
	}
	status := http.StatusBadRequest
	if errors.Is(err, httpx.ErrBodyTooLarge) {
		status = http.StatusRequestEntityTooLarge
	}
	detail := httpx.ErrMalformedBody.Error()
	if errors.Is(err, httpx.ErrEmptyBody) || errors.Is(err, httpx.ErrBodyTooLarge) {
		detail = err.Error()
	}
	httpx.Problem(w, status, "Validation failed", detail)
	return false
}

func (h *Handler) validate(w http.ResponseWriter, r *http.Request, req any) bool {
	err := h.validator.Struct(req)
	if err == nil {
		return true
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		h.fail(w, r, err)
		return false
	}
	fields := make([]FieldError, 0, len(verrs))
	for _, fe := range verrs {
		fields = append(fields, FieldError{Field: fe.Field(), Message: fieldMessage(fe)})
	}
	h.fail(w, r, validationError(fields...))
	return false
}

func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	writeError(w, h.logger.With(slog.String("path", r.URL.Path)), err)
}

// writeError renders err as a problem document. Causes of internal failures
// are logged, never rendered.
func writeError(w http.ResponseWriter, logger *slog.Logger, err error) {
	var authErr *Error
	if !errors.As(err, &authErr) {
		logger.Error("unhandled auth error", slog.Any("error", err))
		httpx.Problem(w, http.StatusInternalServerError, "Internal Server Error", "")
		return
	}
	status := statusFor(authErr.Kind)
	if authErr.Kind == KindAccountLocked {
		httpx.SetRetryAfter(w, authErr.RetryAfter)
	}
	if authErr.Kind == KindInvalidToken || authErr.Kind == KindExpiredToken {
		w.Header().Set("WWW-Authenticate", `Bearer realm="accounts"`)
	}
	problem := httpx.ProblemDetail{
		Title:  authErr.Message,
		Status: status,
	}
	if len(authErr.Fields) > 0 {
		problem.Errors = authErr.Fields
	}
	httpx.WriteProblem(w, problem)
}

func statusFor(kind Kind) int {
	switch kind {
	case KindValidation:
		return http.StatusBadRequest
	case KindDuplicateAccount:
		return http.StatusConflict
	case KindInvalidCredentials, KindAccountLocked, KindInvalidToken, KindExpiredToken:
		return http.StatusUnauthorized
	case KindNotFound:
		return http.StatusNotFound
	case KindPersistence:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

var personNamePattern = regexp.MustCompile(`^[\p{L}\s'-]+$`)

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(field reflect.StructField) string {
		name, _, _ := strings.Cut(field.Tag.Get("json"), ",")
		if name == "" || name == "-" {
			return field.Name
		}
		return name
	})
	_ = v.RegisterValidation("personname", func(fl validator.FieldLevel) bool {
		return personNamePattern.MatchString(fl.Field().String())
	})
	_ = v.RegisterValidation("password", func(fl validator.FieldLevel) bool {
		return strongPassword(fl.Field().String())
	})
	return v
}

// strongPassword requires an upper case letter, a lower case letter, a digit
// and a symbol.
func strongPassword(s string) bool {
	var upper, lower, digit, symbol bool
	for _, r := range s {
		switch {
		case unicode.IsUpper(r):
			upper = true
		case unicode.IsLower(r):
			lower = true
		case unicode.IsDigit(r):
			digit = true
		case unicode.IsPunct(r) || unicode.IsSymbol(r):
			symbol = true
		}
	}
	return upper && lower && digit && symbol
}

func fieldMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return fe.Field() + " is required"
	case "email":
		return "Please provide a valid email"
	case "min":
		return fe.Field() + " must be at least " + fe.Param() + " characters"
	case "max":
		return fe.Field() + " must be at most " + fe.Param() + " characters"
	case "personname":
		return "Name can only contain letters, spaces, hyphens, and apostrophes"
	case "password":
		return "Password must contain at least one uppercase letter, one lowercase letter, one number, and one special character"
	default:
		return fe.Field() + " is invalid"
	}
}
