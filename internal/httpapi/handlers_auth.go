package httpapi

import (
	"net/http"
	"time"

	"go.uber.org/zap"

	"flashreserve/db"
	"flashreserve/internal/auth"
)

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int64  `json:"expires_in"`
}

func (a *API) issueToken(w http.ResponseWriter, traceID, userID string, status int) {
	token, expiresAt, err := a.Issuer.Issue(userID)
	if err != nil {
		a.Logger.Error("issue token", zap.Error(err))
		writeProblem(w, traceID, http.StatusInternalServerError, "internal", "Internal server error", "could not issue token")
		return
	}

	writeJSON(w, status, tokenResponse{
		AccessToken: token,
		TokenType:   "bearer",
		ExpiresIn:   int64(time.Until(expiresAt).Seconds()),
	})
}

// handleRegister implements POST /api/v1/auth/register: hash the
// password, persist the user, and issue a token immediately, returning
// the same response shape as login so no separate login step is needed.
func (a *API) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if !a.decodeAndValidate(w, r, &req) {
		return
	}
	traceID := traceIDFrom(r.Context())

	hash, err := auth.HashPassword(req.Password)
	if err != nil {
		a.Logger.Error("register: hash password", zap.Error(err))
		writeProblem(w, traceID, http.StatusInternalServerError, "internal", "Internal server error", "could not process password")
		return
	}

	if err := a.Users.Create(r.Context(), req.UserID, hash); err != nil {
		if err == db.ErrUserExists {
			writeProblem(w, traceID, http.StatusConflict, "user-exists", "User already exists", "user_id is already registered")
			return
		}
		a.Logger.Error("register: create user", zap.Error(err))
		writeProblem(w, traceID, http.StatusInternalServerError, "internal", "Internal server error", "could not create user")
		return
	}

	a.issueToken(w, traceID, req.UserID, http.StatusCreated)
}

// handleLogin implements POST /api/v1/auth/login: verify the password
// hash and issue a bearer token on success.
func (a *API) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if !a.decodeAndValidate(w, r, &req) {
		return
	}
	traceID := traceIDFrom(r.Context())

	hash, found, err := a.Users.PasswordHash(r.Context(), req.UserID)
	if err != nil {
		a.Logger.Error("login: lookup user", zap.Error(err))
		writeProblem(w, traceID, http.StatusInternalServerError, "internal", "Internal server error", "could not verify credentials")
		return
	}
	if !found || !auth.VerifyPassword(hash, req.Password) {
		writeProblem(w, traceID, http.StatusUnauthorized, "invalid-credentials", "Invalid credentials", "user_id or password is incorrect")
		return
	}

	a.issueToken(w, traceID, req.UserID, http.StatusOK)
}
