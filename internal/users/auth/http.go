// Copyright (c) 2026 Agora. All rights reserved.
// Author: tai.buivan.jp@gmail.com

package auth

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/taibuivan/agora/internal/platform/apperr"
	"github.com/taibuivan/agora/internal/platform/constants"
	"github.com/taibuivan/agora/internal/platform/middleware"
	requestutil "github.com/taibuivan/agora/internal/platform/request"
	"github.com/taibuivan/agora/internal/platform/respond"
	"github.com/taibuivan/agora/internal/platform/validate"
	"github.com/taibuivan/agora/internal/security/session"
	"github.com/taibuivan/agora/internal/security/twofactor"
	"github.com/taibuivan/agora/internal/users/account"
)

// # Definitions & Constructors

// Handler implements authentication-related HTTP endpoints.
//
// # Scope
//
// This handler manages everything related to the user lifecycle entry points
// (Registration, Login, Challenges, Sessions, Second Factor, Recovery).
type Handler struct {
	authService   *Service
	guard         middleware.SessionGuard
	secureCookies bool
}

// NewHandler constructs a new [Handler]. guard backs the step-up middleware of
// the sensitive routes; secureCookies is false only for plain-HTTP development.
func NewHandler(service *Service, guard middleware.SessionGuard, secureCookies bool) *Handler {
	return &Handler{authService: service, guard: guard, secureCookies: secureCookies}
}

// Routes returns a [chi.Router] configured with authentication-specific routes.
//
// # Endpoints
//   - POST /login     : Password login; tokens or a challenge.
//   - POST /challenge : Answers a login challenge.
//   - POST /refresh   : Rotates the refresh token cookie.
//   - Everything under /2fa and /change-password requires a fresh session.
func (handler *Handler) Routes() chi.Router {
	router := chi.NewRouter()

	// Public endpoints
	router.Post("/register", handler.register)
	router.Post("/login", handler.login)
	router.Post("/challenge", handler.completeChallenge)
	router.Post("/refresh", handler.refresh)
	router.Post("/verify-email", handler.verifyEmail)
	router.Post("/forgot-password", handler.forgotPassword)
	router.Post("/reset-password", handler.resetPassword)
	router.Get("/external", handler.listProviders)
	router.Get("/external/{provider}", handler.beginExternal)
	router.Get("/external/{provider}/callback", handler.completeExternal)

	// Protected endpoints
	router.Group(func(r chi.Router) {
		r.Use(middleware.RequireAuth)

		r.Post("/logout", handler.logout)
		r.Post("/logout-all", handler.logoutAll)
		r.Post("/resend-verification", handler.resendVerification)

		r.Get("/sessions", handler.listSessions)
		r.Delete("/sessions/{id}", handler.revokeSession)

		r.Post("/step-up", handler.beginStepUp)
		r.Post("/step-up/verify", handler.completeStepUp)

		r.Get("/devices", handler.listDevices)
		r.Delete("/devices/{id}/trust", handler.revokeDeviceTrust)
		r.Delete("/devices/{id}", handler.forgetDevice)

		r.Get("/external-links", handler.listLinks)
		r.Delete("/external-links/{provider}", handler.unlink)

		r.Get("/2fa/backup-codes", handler.remainingBackupCodes)
		r.Post("/phone/verify", handler.requestPhoneVerification)
		r.Post("/phone/confirm", handler.confirmPhone)

		// Sensitive endpoints
		r.Group(func(r chi.Router) {
			r.Use(middleware.RequireFreshSession(handler.guard))

			r.Post("/change-password", handler.changePassword)
			r.Post("/2fa/totp", handler.enrollTOTP)
			r.Post("/2fa/totp/confirm", handler.confirmTOTP)
			r.Post("/2fa/otp", handler.enableOTP)
			r.Post("/2fa/disable", handler.disableTwoFactor)
			r.Post("/2fa/backup-codes", handler.regenerateBackupCodes)
		})
	})

	return router
}

// # Request Payloads

type registerRequest struct {
	Username    string `json:"username"`
	Email       string `json:"email"`
	Password    string `json:"password"`
	DisplayName string `json:"display_name"`
}

type loginRequest struct {
	Login      string `json:"login"`
	Password   string `json:"password"`
	DeviceName string `json:"device_name"`
}

type challengeRequest struct {
	ChallengeToken string `json:"challenge_token"`
	Code           string `json:"code"`
	TrustDevice    bool   `json:"trust_device"`
}

type tokenRequest struct {
	Token string `json:"token"`
}

type forgotPasswordRequest struct {
	Login string `json:"login"`
}

type resetPasswordRequest struct {
	Token    string `json:"token"`
	Password string `json:"password"`
}

type changePasswordRequest struct {
	CurrentPassword string `json:"current_password"`
	NewPassword     string `json:"new_password"`
}

type codeRequest struct {
	Code string `json:"code"`
}

type methodRequest struct {
	Method      string `json:"method"`
	CurrentCode string `json:"current_code"`
}

// replaceFactorRequest confirms a new authenticator. CurrentCode answers the
// factor it replaces.
type replaceFactorRequest struct {
	Code        string `json:"code"`
	CurrentCode string `json:"current_code"`
}

// # Entry Points

/*
Register handles the creation of a new user account.

POST /api/v1/auth/register

Description: Validates input, checks for identity conflicts, and persists
a new pending identity. A verification token is emailed.

Request:
  - Body: registerRequest (Username, Email, Password, DisplayName)

Response:
  - 201: Identity: Created user profile
  - 400: ErrInvalidJSON: Bad input or validation failure
  - 409: ErrConflict: Username or Email already exists
*/
func (handler *Handler) register(writer http.ResponseWriter, request *http.Request) {
	var input registerRequest

	if err := requestutil.DecodeJSON(request, &input); err != nil {
		respond.Error(writer, request, validate.ErrInvalidJSON)
		return
	}

	identity, err := handler.authService.Register(request.Context(), account.RegisterInput{
		Username:    input.Username,
		Email:       input.Email,
		Password:    input.Password,
		DisplayName: input.DisplayName,
	}, middleware.RealIP(request))
	if err != nil {
		respond.Error(writer, request, err)
		return
	}

	respond.Created(writer, identity)
}

/*
Login authenticates a user and establishes a session.

POST /api/v1/auth/login

Description: Runs the full login pipeline. On success the refresh token is
injected as a secure cookie. When another factor is needed the response is
202 with the challenge and no tokens.

Request:
  - Header: X-Device-ID (optional, stable client identifier)
  - Body: loginRequest (Login, Password, DeviceName)

Response:
  - 200: Access token and User profile
  - 202: Challenge: A second factor is required
  - 401: INVALID_CREDENTIALS
  - 403: IP_BLOCKED, ACCOUNT_UNAVAILABLE
  - 423: ACCOUNT_LOCKED
  - 429: RATE_LIMITED
*/
func (handler *Handler) login(writer http.ResponseWriter, request *http.Request) {
	var input loginRequest

	if err := requestutil.DecodeJSON(request, &input); err != nil {
		respond.Error(writer, request, validate.ErrInvalidJSON)
		return
	}

	validator := &validate.Validator{}
	validator.Required(FieldLogin, input.Login)
	validator.Required(FieldPassword, input.Password)

	if err := validator.Err(); err != nil {
		respond.Error(writer, request, err)
		return
	}

	client := clientFrom(request)
	client.DeviceName = input.DeviceName

	result, err := handler.authService.Authenticate(request.Context(), Credentials{
		Login:    input.Login,
		Password: input.Password,
		Client:   client,
	})
	if err != nil {
		respond.Error(writer, request, err)
		return
	}

	handler.writeResult(writer, result)
}

/*
CompleteChallenge answers a pending login challenge.

POST /api/v1/auth/challenge

Request:
  - Body: challengeRequest (ChallengeToken, Code, TrustDevice)

Response:
  - 200: Access token and User profile
  - 400: Validation failure
  - 401: TOKEN_INVALID, OTP_MISMATCH or OTP_EXHAUSTED
*/
func (handler *Handler) completeChallenge(writer http.ResponseWriter, request *http.Request) {
	var input challengeRequest

	if err := requestutil.DecodeJSON(request, &input); err != nil {
		respond.Error(writer, request, validate.ErrInvalidJSON)
		return
	}

	v := &validate.Validator{}
	v.Required(FieldChallengeToken, input.ChallengeToken).Required(FieldCode, input.Code)
	if err := v.Err(); err != nil {
		respond.Error(writer, request, err)
		return
	}

	result, err := handler.authService.CompleteChallenge(request.Context(), input.ChallengeToken, input.Code, input.TrustDevice, clientFrom(request))
	if err != nil {
		respond.Error(writer, request, err)
		return
	}

	handler.writeResult(writer, result)
}

/*
Refresh issues a new access token using a valid refresh token.

POST /api/v1/auth/refresh

Description: Rotates the session by validating the refresh token cookie
and issuing a fresh access token and an updated refresh token. Presenting a
token that was already rotated signs the user out everywhere.

Response:
  - 200: RefreshResponse: New access token credentials
  - 401: TOKEN_INVALID: Missing, invalid or replayed refresh token
*/
func (handler *Handler) refresh(writer http.ResponseWriter, request *http.Request) {
	cookie, err := request.Cookie(constants.RefreshTokenCookieName)
	if err != nil || cookie.Value == "" {
		respond.Error(writer, request, apperr.Unauthorized("Missing refresh token in cookies"))
		return
	}

	pair, err := handler.authService.Refresh(request.Context(), cookie.Value, clientFrom(request))
	if err != nil {
		handler.clearRefreshCookie(writer)
		respond.Error(writer, request, err)
		return
	}

	handler.setRefreshCookie(writer, pair)
	respond.OK(writer, map[string]any{
		FieldAccessToken: pair.AccessToken,
		FieldTokenType:   pair.TokenType,
		FieldExpiresIn:   pair.ExpiresIn,
	})
}

/*
VerifyEmail confirms a user's email ownership.

POST /api/v1/auth/verify-email

Request:
  - Body: tokenRequest (Token)

Response:
  - 200: Success: Email verified
  - 401: TOKEN_INVALID: Unknown, expired or used token
*/
func (handler *Handler) verifyEmail(writer http.ResponseWriter, request *http.Request) {
	var input tokenRequest

	if err := requestutil.DecodeJSON(request, &input); err != nil {
		respond.Error(writer, request, validate.ErrInvalidJSON)
		return
	}

	if input.Token == "" {
		respond.Error(writer, request, validate.FieldError(FieldToken, "is required"))
		return
	}

	if err := handler.authService.VerifyEmail(request.Context(), input.Token); err != nil {
		respond.Error(writer, request, err)
		return
	}

	respond.OK(writer, map[string]string{
		FieldMessage: "Email verified successfully",
	})
}

/*
ForgotPassword initiates the password recovery flow.

POST /api/v1/auth/forgot-password

Description: Sends a reset token when the login names an account. The
response is identical either way.

Response:
  - 202: Generic acknowledgement
*/
func (handler *Handler) forgotPassword(writer http.ResponseWriter, request *http.Request) {
	var input forgotPasswordRequest

	if err := requestutil.DecodeJSON(request, &input); err != nil {
		respond.Error(writer, request, validate.ErrInvalidJSON)
		return
	}

	v := &validate.Validator{}
	v.Required(FieldLogin, input.Login)
	if err := v.Err(); err != nil {
		respond.Error(writer, request, err)
		return
	}

	if err := handler.authService.RequestPasswordReset(request.Context(), input.Login, middleware.RealIP(request)); err != nil {
		respond.Error(writer, request, err)
		return
	}

	respond.Accepted(writer, map[string]string{
		FieldMessage: "If this account exists, a reset token has been sent.",
	})
}

/*
ResetPassword completes the password recovery flow.

POST /api/v1/auth/reset-password

Description: Validates the reset token and updates the user's password.
Every session of the account is signed out.

Request:
  - Body: resetPasswordRequest (Token, Password)

Response:
  - 200: Success: Password updated
  - 400: Weak password
  - 401: TOKEN_INVALID
*/
func (handler *Handler) resetPassword(writer http.ResponseWriter, request *http.Request) {
	var input resetPasswordRequest

	if err := requestutil.DecodeJSON(request, &input); err != nil {
		respond.Error(writer, request, validate.ErrInvalidJSON)
		return
	}

	v := &validate.Validator{}
	v.Required(FieldToken, input.Token)
	if err := v.Err(); err != nil {
		respond.Error(writer, request, err)
		return
	}

	if err := handler.authService.ResetPassword(request.Context(), input.Token, input.Password, middleware.RealIP(request)); err != nil {
		respond.Error(writer, request, err)
		return
	}

	respond.OK(writer, map[string]string{
		FieldMessage: "Password updated successfully",
	})
}

// # External Providers

// listProviders returns the names of the configured providers.
func (handler *Handler) listProviders(writer http.ResponseWriter, request *http.Request) {
	respond.OK(writer, handler.authService.ExternalProviders())
}

/*
GET /api/v1/auth/external/{provider}.

Response:
  - 302: Redirect to the provider consent page
  - 404: Unknown provider
*/
func (handler *Handler) beginExternal(writer http.ResponseWriter, request *http.Request) {
	url, err := handler.authService.BeginExternal(request.Context(), requestutil.Param(request, "provider"))
	if err != nil {
		respond.Error(writer, request, err)
		return
	}
	http.Redirect(writer, request, url, http.StatusFound)
}

/*
GET /api/v1/auth/external/{provider}/callback?state=&code=.

Response:
  - 200: Access token and User profile
  - 202: Challenge: A second factor is required
  - 401: TOKEN_INVALID (state), UNAUTHORIZED (exchange)
  - 409: The email belongs to an account that must link manually
*/
func (handler *Handler) completeExternal(writer http.ResponseWriter, request *http.Request) {
	query := request.URL.Query()

	v := &validate.Validator{}
	v.Required("state", query.Get("state")).Required(FieldCode, query.Get("code"))
	if err := v.Err(); err != nil {
		respond.Error(writer, request, err)
		return
	}

	result, err := handler.authService.CompleteExternal(request.Context(),
		requestutil.Param(request, "provider"), query.Get("state"), query.Get("code"), clientFrom(request))
	if err != nil {
		respond.Error(writer, request, err)
		return
	}

	handler.writeResult(writer, result)
}

func (handler *Handler) listLinks(writer http.ResponseWriter, request *http.Request) {
	userID, err := requestutil.RequiredUserID(request)
	if err != nil {
		respond.Error(writer, request, err)
		return
	}

	links, err := handler.authService.ListExternalLinks(request.Context(), userID)
	if err != nil {
		respond.Error(writer, request, err)
		return
	}
	respond.OK(writer, links)
}

func (handler *Handler) unlink(writer http.ResponseWriter, request *http.Request) {
	userID, err := requestutil.RequiredUserID(request)
	if err != nil {
		respond.Error(writer, request, err)
		return
	}

	if err := handler.authService.UnlinkExternal(request.Context(), userID, requestutil.Param(request, "provider")); err != nil {
		respond.Error(writer, request, err)
		return
	}
	respond.NoContent(writer)
}

// # Sessions

/*
Logout terminates the current user session.

POST /api/v1/auth/logout

Description: Ends the session of the access token and revokes its refresh
token, then clears the cookie.

Response:
  - 204: No Content: Session terminated
*/
func (handler *Handler) logout(writer http.ResponseWriter, request *http.Request) {
	claims, err := requestutil.RequiredClaims(request)
	if err != nil {
		respond.Error(writer, request, err)
		return
	}

	if err := handler.authService.Logout(request.Context(), claims.SessionID); err != nil {
		respond.Error(writer, request, err)
		return
	}

	handler.clearRefreshCookie(writer)
	respond.NoContent(writer)
}

// POST /api/v1/auth/logout-all signs out every device, including this one.
func (handler *Handler) logoutAll(writer http.ResponseWriter, request *http.Request) {
	userID, err := requestutil.RequiredUserID(request)
	if err != nil {
		respond.Error(writer, request, err)
		return
	}

	if err := handler.authService.LogoutAll(request.Context(), userID, middleware.RealIP(request)); err != nil {
		respond.Error(writer, request, err)
		return
	}

	handler.clearRefreshCookie(writer)
	respond.NoContent(writer)
}

func (handler *Handler) resendVerification(writer http.ResponseWriter, request *http.Request) {
	userID, err := requestutil.RequiredUserID(request)
	if err != nil {
		respond.Error(writer, request, err)
		return
	}

	if err := handler.authService.ResendVerification(request.Context(), userID); err != nil {
		respond.Error(writer, request, err)
		return
	}
	respond.Accepted(writer, map[string]string{FieldMessage: "Verification email sent"})
}

/*
GET /api/v1/auth/sessions.

Response:
  - 200: []Session: Live sessions, the caller's marked is_current
*/
func (handler *Handler) listSessions(writer http.ResponseWriter, request *http.Request) {
	claims, err := requestutil.RequiredClaims(request)
	if err != nil {
		respond.Error(writer, request, err)
		return
	}

	sessions, err := handler.authService.ListActiveSessions(request.Context(), claims.UserID)
	if err != nil {
		respond.Error(writer, request, err)
		return
	}

	for i := range sessions {
		sessions[i].IsCurrent = sessions[i].ID == claims.SessionID
	}
	respond.OK(writer, sessions)
}

// DELETE /api/v1/auth/sessions/{id} signs out one device.
func (handler *Handler) revokeSession(writer http.ResponseWriter, request *http.Request) {
	userID, err := requestutil.RequiredUserID(request)
	if err != nil {
		respond.Error(writer, request, err)
		return
	}

	if err := handler.authService.RevokeSession(request.Context(), userID, requestutil.ID(request, "id"), middleware.RealIP(request)); err != nil {
		respond.Error(writer, request, err)
		return
	}
	respond.NoContent(writer)
}

// # Step-up

/*
POST /api/v1/auth/step-up.

Response:
  - 200: Challenge: Method and, for OTP, the masked target
*/
func (handler *Handler) beginStepUp(writer http.ResponseWriter, request *http.Request) {
	userID, err := requestutil.RequiredUserID(request)
	if err != nil {
		respond.Error(writer, request, err)
		return
	}

	challenge, err := handler.authService.BeginStepUp(request.Context(), userID)
	if err != nil {
		respond.Error(writer, request, err)
		return
	}
	respond.OK(writer, challenge)
}

/*
POST /api/v1/auth/step-up/verify.

Request:
  - Body: codeRequest (Code): OTP, TOTP or backup code

Response:
  - 204: The session is fresh again
  - 401: OTP_MISMATCH
*/
func (handler *Handler) completeStepUp(writer http.ResponseWriter, request *http.Request) {
	claims, err := requestutil.RequiredClaims(request)
	if err != nil {
		respond.Error(writer, request, err)
		return
	}

	code, ok := decodeCode(writer, request)
	if !ok {
		return
	}

	if err := handler.authService.CompleteStepUp(request.Context(), claims.UserID, claims.SessionID, code, middleware.RealIP(request)); err != nil {
		respond.Error(writer, request, err)
		return
	}
	respond.NoContent(writer)
}

// # Password & Second Factor

/*
ChangePassword updates the authenticated user's password.

POST /api/v1/auth/change-password

Description: Verifies the current password before applying the new one.
Every session, including this one, is signed out.

Request:
  - Body: changePasswordRequest (CurrentPassword, NewPassword)

Response:
  - 204: Password changed
  - 401: INVALID_CREDENTIALS
  - 400: Weak password or validation failure
*/
func (handler *Handler) changePassword(writer http.ResponseWriter, request *http.Request) {
	userID, err := requestutil.RequiredUserID(request)
	if err != nil {
		respond.Error(writer, request, err)
		return
	}

	var input changePasswordRequest
	if err := requestutil.DecodeJSON(request, &input); err != nil {
		respond.Error(writer, request, validate.ErrInvalidJSON)
		return
	}

	v := &validate.Validator{}
	v.Required(FieldCurrentPassword, input.CurrentPassword)
	if err := v.Err(); err != nil {
		respond.Error(writer, request, err)
		return
	}

	err = handler.authService.ChangePassword(request.Context(), userID, input.CurrentPassword, input.NewPassword, middleware.RealIP(request))
	if err != nil {
		respond.Error(writer, request, err)
		return
	}

	handler.clearRefreshCookie(writer)
	respond.NoContent(writer)
}

func (handler *Handler) enrollTOTP(writer http.ResponseWriter, request *http.Request) {
	userID, err := requestutil.RequiredUserID(request)
	if err != nil {
		respond.Error(writer, request, err)
		return
	}

	enrollment, err := handler.authService.EnrollTOTP(request.Context(), userID)
	if err != nil {
		respond.Error(writer, request, err)
		return
	}
	respond.OK(writer, enrollment)
}

/*
POST /api/v1/auth/2fa/totp/confirm.

Request:
  - Body: replaceFactorRequest (Code, CurrentCode when a factor is enrolled)

Response:
  - 200: The first set of backup codes
  - 403: CHALLENGE_REQUIRED without an answer from the enrolled factor
*/
func (handler *Handler) confirmTOTP(writer http.ResponseWriter, request *http.Request) {
	userID, err := requestutil.RequiredUserID(request)
	if err != nil {
		respond.Error(writer, request, err)
		return
	}

	var input replaceFactorRequest
	if err := requestutil.DecodeJSON(request, &input); err != nil {
		respond.Error(writer, request, validate.ErrInvalidJSON)
		return
	}

	v := &validate.Validator{}
	v.Required(FieldCode, input.Code)
	if err := v.Err(); err != nil {
		respond.Error(writer, request, err)
		return
	}

	codes, err := handler.authService.ConfirmTOTP(request.Context(), userID, input.Code, input.CurrentCode, middleware.RealIP(request))
	if err != nil {
		respond.Error(writer, request, err)
		return
	}
	respond.OK(writer, map[string]any{FieldBackupCodes: codes})
}

func (handler *Handler) enableOTP(writer http.ResponseWriter, request *http.Request) {
	userID, err := requestutil.RequiredUserID(request)
	if err != nil {
		respond.Error(writer, request, err)
		return
	}

	var input methodRequest
	if err := requestutil.DecodeJSON(request, &input); err != nil {
		respond.Error(writer, request, validate.ErrInvalidJSON)
		return
	}

	v := &validate.Validator{}
	v.Required(FieldMethod, input.Method).OneOf(FieldMethod, input.Method, string(twofactor.MethodEmail), string(twofactor.MethodSMS))
	if err := v.Err(); err != nil {
		respond.Error(writer, request, err)
		return
	}

	codes, err := handler.authService.EnableOTP(request.Context(), userID, twofactor.Method(input.Method), input.CurrentCode, middleware.RealIP(request))
	if err != nil {
		respond.Error(writer, request, err)
		return
	}
	respond.OK(writer, map[string]any{FieldBackupCodes: codes})
}

func (handler *Handler) disableTwoFactor(writer http.ResponseWriter, request *http.Request) {
	userID, err := requestutil.RequiredUserID(request)
	if err != nil {
		respond.Error(writer, request, err)
		return
	}

	code, ok := decodeCode(writer, request)
	if !ok {
		return
	}

	if err := handler.authService.DisableTwoFactor(request.Context(), userID, code, middleware.RealIP(request)); err != nil {
		respond.Error(writer, request, err)
		return
	}
	respond.NoContent(writer)
}

func (handler *Handler) regenerateBackupCodes(writer http.ResponseWriter, request *http.Request) {
	userID, err := requestutil.RequiredUserID(request)
	if err != nil {
		respond.Error(writer, request, err)
		return
	}

	code, ok := decodeCode(writer, request)
	if !ok {
		return
	}

	codes, err := handler.authService.RegenerateBackupCodes(request.Context(), userID, code, middleware.RealIP(request))
	if err != nil {
		respond.Error(writer, request, err)
		return
	}
	respond.OK(writer, map[string]any{FieldBackupCodes: codes})
}

func (handler *Handler) remainingBackupCodes(writer http.ResponseWriter, request *http.Request) {
	userID, err := requestutil.RequiredUserID(request)
	if err != nil {
		respond.Error(writer, request, err)
		return
	}

	remaining, err := handler.authService.RemainingBackupCodes(request.Context(), userID)
	if err != nil {
		respond.Error(writer, request, err)
		return
	}
	respond.OK(writer, map[string]int{FieldRemaining: remaining})
}

func (handler *Handler) requestPhoneVerification(writer http.ResponseWriter, request *http.Request) {
	userID, err := requestutil.RequiredUserID(request)
	if err != nil {
		respond.Error(writer, request, err)
		return
	}

	issued, err := handler.authService.RequestPhoneVerification(request.Context(), userID)
	if err != nil {
		respond.Error(writer, request, err)
		return
	}
	respond.Accepted(writer, issued)
}

func (handler *Handler) confirmPhone(writer http.ResponseWriter, request *http.Request) {
	userID, err := requestutil.RequiredUserID(request)
	if err != nil {
		respond.Error(writer, request, err)
		return
	}

	code, ok := decodeCode(writer, request)
	if !ok {
		return
	}

	if err := handler.authService.ConfirmPhone(request.Context(), userID, code); err != nil {
		respond.Error(writer, request, err)
		return
	}
	respond.NoContent(writer)
}

// # Devices

func (handler *Handler) listDevices(writer http.ResponseWriter, request *http.Request) {
	userID, err := requestutil.RequiredUserID(request)
	if err != nil {
		respond.Error(writer, request, err)
		return
	}

	devices, err := handler.authService.ListDevices(request.Context(), userID)
	if err != nil {
		respond.Error(writer, request, err)
		return
	}
	respond.OK(writer, devices)
}

func (handler *Handler) revokeDeviceTrust(writer http.ResponseWriter, request *http.Request) {
	userID, err := requestutil.RequiredUserID(request)
	if err != nil {
		respond.Error(writer, request, err)
		return
	}

	if err := handler.authService.RevokeDeviceTrust(request.Context(), userID, requestutil.ID(request, "id")); err != nil {
		respond.Error(writer, request, err)
		return
	}
	respond.NoContent(writer)
}

func (handler *Handler) forgetDevice(writer http.ResponseWriter, request *http.Request) {
	userID, err := requestutil.RequiredUserID(request)
	if err != nil {
		respond.Error(writer, request, err)
		return
	}

	if err := handler.authService.ForgetDevice(request.Context(), userID, requestutil.ID(request, "id"), middleware.RealIP(request)); err != nil {
		respond.Error(writer, request, err)
		return
	}
	respond.NoContent(writer)
}

// # Helpers

// writeResult sends tokens with the refresh cookie, or the pending challenge.
func (handler *Handler) writeResult(writer http.ResponseWriter, result *Result) {
	if result.Challenge != nil {
		respond.Accepted(writer, result.Challenge)
		return
	}

	handler.setRefreshCookie(writer, result.Tokens)
	respond.OK(writer, map[string]any{
		FieldAccessToken: result.Tokens.AccessToken,
		FieldTokenType:   result.Tokens.TokenType,
		FieldExpiresIn:   result.Tokens.ExpiresIn,
		FieldUser:        result.User,
	})
}

func (handler *Handler) setRefreshCookie(writer http.ResponseWriter, pair *session.TokenPair) {
	http.SetCookie(writer, &http.Cookie{
		Name:     constants.RefreshTokenCookieName,
		Value:    pair.RefreshToken,
		Path:     constants.RefreshTokenCookiePath,
		Expires:  pair.RefreshExpiresAt,
		Secure:   handler.secureCookies,
		HttpOnly: true,
		SameSite: http.SameSiteStrictMode,
	})
}

func (handler *Handler) clearRefreshCookie(writer http.ResponseWriter) {
	http.SetCookie(writer, &http.Cookie{
		Name:     constants.RefreshTokenCookieName,
		Value:    "",
		Path:     constants.RefreshTokenCookiePath,
		Expires:  time.Unix(0, 0),
		MaxAge:   -1,
		Secure:   handler.secureCookies,
		HttpOnly: true,
		SameSite: http.SameSiteStrictMode,
	})
}

// clientFrom describes the caller as resolved by the edge middleware.
func clientFrom(request *http.Request) Client {
	edge := middleware.ClientFrom(request)
	return Client{
		IP:             edge.IP,
		UserAgent:      edge.UserAgent,
		DeviceID:       edge.DeviceID,
		AcceptLanguage: edge.AcceptLanguage,
	}
}

// decodeCode reads a codeRequest and writes the error response itself.
func decodeCode(writer http.ResponseWriter, request *http.Request) (string, bool) {
	var input codeRequest
	if err := requestutil.DecodeJSON(request, &input); err != nil {
		respond.Error(writer, request, validate.ErrInvalidJSON)
		return "", false
	}

	v := &validate.Validator{}
	v.Required(FieldCode, input.Code)
	if err := v.Err(); err != nil {
		respond.Error(writer, request, err)
		return "", false
	}
	return input.Code, true
}
