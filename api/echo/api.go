// Package echo exposes the identity service over HTTP.
package echo

import (
	"context"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"

	"github.com/pitlane-app/identity/domain"
	"github.com/pitlane-app/identity/dto"
	"github.com/pitlane-app/identity/errors"
	"github.com/pitlane-app/identity/services"
)

// IdentityService is the slice of the service layer the HTTP surface
// depends on. Tests substitute a stub.
type IdentityService interface {
	LoginOrCreate(ctx context.Context, provider domain.ProviderKind, rawAssertion, origin string) (*dto.AuthResult, error)
	RegisterPassword(ctx context.Context, email, password, displayName, origin string) (*dto.AuthResult, error)
	LoginPassword(ctx context.Context, email, password, origin string) (*dto.AuthResult, error)
	LinkProvider(ctx context.Context, uid string, provider domain.ProviderKind, rawAssertion string, opts services.LinkOptions) (*dto.PublicUser, error)
	UnlinkProvider(ctx context.Context, uid string, provider domain.ProviderKind) (*dto.PublicUser, error)
	SetPrimaryProvider(ctx context.Context, uid string, provider domain.ProviderKind) (*dto.PublicUser, error)
	GetLinkedProviders(ctx context.Context, uid string) (*dto.LinkedProvidersView, error)
	Logout(ctx context.Context, tokenID string) error
}

// Pinger reports backing store liveness for the health endpoint.
type Pinger interface {
	Ping(ctx context.Context) error
}

// IdentityAPI holds the HTTP handler dependencies.
type IdentityAPI struct {
	service  IdentityService
	pinger   Pinger
	gatherer prometheus.Gatherer
}

// NewIdentityAPI initializes the identity HTTP API. pinger and gatherer
// may be nil; /healthz then reports liveness only and /metrics is not
// registered.
func NewIdentityAPI(service IdentityService, pinger Pinger, gatherer prometheus.Gatherer) *IdentityAPI {
	return &IdentityAPI{
		service:  service,
		pinger:   pinger,
		gatherer: gatherer,
	}
}

// RegisterRoutes registers the identity routes.
func (ia *IdentityAPI) RegisterRoutes(e *echo.Echo) {
	e.POST("/v1/auth/register", ia.RegisterHandler)
	e.POST("/v1/auth/login", ia.PasswordLoginHandler)
	e.POST("/v1/auth/:provider/login", ia.ProviderLoginHandler)
	e.DELETE("/v1/auth/sessions/:token_id", ia.LogoutHandler)

	e.GET("/v1/users/:uid/providers", ia.ListProvidersHandler)
	e.POST("/v1/users/:uid/providers/:provider/link", ia.LinkHandler)
	e.DELETE("/v1/users/:uid/providers/:provider", ia.UnlinkHandler)
	e.PUT("/v1/users/:uid/providers/primary", ia.SetPrimaryHandler)

	e.GET("/healthz", ia.HealthHandler)
	if ia.gatherer != nil {
		e.GET("/metrics", echo.WrapHandler(promhttp.HandlerFor(ia.gatherer, promhttp.HandlerOpts{})))
	}
}

// RegisterRequest is the password registration payload.
type RegisterRequest struct {
	Email       string `json:"email"`
	Password    string `json:"password"`
	DisplayName string `json:"display_name"`
}

// PasswordLoginRequest is the password login payload.
type PasswordLoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// AssertionRequest carries a raw provider assertion.
type AssertionRequest struct {
	Assertion  string `json:"assertion"`
	AllowMerge bool   `json:"allow_merge,omitempty"`
}

// SetPrimaryRequest selects the primary provider.
type SetPrimaryRequest struct {
	Provider string `json:"provider"`
}

// RegisterHandler creates an account with a local password credential
// and returns a fresh session.
func (ia *IdentityAPI) RegisterHandler(c echo.Context) error {
	var req RegisterRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, errors.NewInvalidPayload("malformed request body"))
	}

	result, err := ia.service.RegisterPassword(c.Request().Context(), req.Email, req.Password, req.DisplayName, requestOrigin(c))
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusCreated, result)
}

// PasswordLoginHandler authenticates a local credential.
func (ia *IdentityAPI) PasswordLoginHandler(c echo.Context) error {
	var req PasswordLoginRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, errors.NewInvalidPayload("malformed request body"))
	}

	result, err := ia.service.LoginPassword(c.Request().Context(), req.Email, req.Password, requestOrigin(c))
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, result)
}

// ProviderLoginHandler authenticates a provider assertion, creating the
// account on first sight.
func (ia *IdentityAPI) ProviderLoginHandler(c echo.Context) error {
	provider, ok := pathProvider(c)
	if !ok {
		return c.JSON(http.StatusBadRequest, errors.NewInvalidPayload("unknown provider"))
	}

	var req AssertionRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, errors.NewInvalidPayload("malformed request body"))
	}
	if req.Assertion == "" {
		return c.JSON(http.StatusBadRequest, errors.NewInvalidPayload("assertion is required"))
	}

	result, err := ia.service.LoginOrCreate(c.Request().Context(), provider, req.Assertion, requestOrigin(c))
	if err != nil {
		return writeError(c, err)
	}

	status := http.StatusOK
	if result.IsNewUser {
		status = http.StatusCreated
	}
	return c.JSON(status, result)
}

// LogoutHandler revokes a session record. Always returns 204: revoking
// an unknown or already-expired session is not an error.
func (ia *IdentityAPI) LogoutHandler(c echo.Context) error {
	if err := ia.service.Logout(c.Request().Context(), c.Param("token_id")); err != nil {
		return writeError(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}

// ListProvidersHandler returns the linking state for settings screens.
func (ia *IdentityAPI) ListProvidersHandler(c echo.Context) error {
	view, err := ia.service.GetLinkedProviders(c.Request().Context(), c.Param("uid"))
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, view)
}

// LinkHandler binds a verified external identity to an existing account.
func (ia *IdentityAPI) LinkHandler(c echo.Context) error {
	provider, ok := pathProvider(c)
	if !ok {
		return c.JSON(http.StatusBadRequest, errors.NewInvalidPayload("unknown provider"))
	}

	var req AssertionRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, errors.NewInvalidPayload("malformed request body"))
	}
	if req.Assertion == "" {
		return c.JSON(http.StatusBadRequest, errors.NewInvalidPayload("assertion is required"))
	}

	user, err := ia.service.LinkProvider(c.Request().Context(), c.Param("uid"), provider, req.Assertion,
		services.LinkOptions{AllowMerge: req.AllowMerge})
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, user)
}

// UnlinkHandler removes a provider binding.
func (ia *IdentityAPI) UnlinkHandler(c echo.Context) error {
	provider, ok := pathProvider(c)
	if !ok {
		return c.JSON(http.StatusBadRequest, errors.NewInvalidPayload("unknown provider"))
	}

	user, err := ia.service.UnlinkProvider(c.Request().Context(), c.Param("uid"), provider)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, user)
}

// SetPrimaryHandler designates the primary provider.
func (ia *IdentityAPI) SetPrimaryHandler(c echo.Context) error {
	var req SetPrimaryRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, errors.NewInvalidPayload("malformed request body"))
	}
	provider := domain.ProviderKind(req.Provider)
	if !provider.Known() {
		return c.JSON(http.StatusBadRequest, errors.NewInvalidPayload("unknown provider"))
	}

	user, err := ia.service.SetPrimaryProvider(c.Request().Context(), c.Param("uid"), provider)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, user)
}

// HealthHandler reports process and backing store liveness.
func (ia *IdentityAPI) HealthHandler(c echo.Context) error {
	if ia.pinger != nil {
		if err := ia.pinger.Ping(c.Request().Context()); err != nil {
			log.Error().Err(err).Msg("Health check store ping failed")
			return c.JSON(http.StatusServiceUnavailable, echo.Map{"status": "degraded"})
		}
	}
	return c.JSON(http.StatusOK, echo.Map{"status": "ok"})
}

func pathProvider(c echo.Context) (domain.ProviderKind, bool) {
	provider := domain.ProviderKind(c.Param("provider"))
	return provider, provider.Known()
}

func requestOrigin(c echo.Context) string {
	if origin := c.Request().Header.Get("Origin"); origin != "" {
		return origin
	}
	return c.RealIP()
}

func writeError(c echo.Context, err error) error {
	payload, status := errors.FromDomain(err)
	if status >= http.StatusInternalServerError {
		log.Error().Err(err).Str("path", c.Path()).Msg("Identity operation failed")
	}
	return c.JSON(status, payload)
}
