package cvhttp

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/keithlinneman/linnemanlabs-cv/internal/authgate"
	"github.com/keithlinneman/linnemanlabs-cv/internal/httpmw"
	"github.com/keithlinneman/linnemanlabs-cv/internal/log"
)

type principalKey struct{}

// PrincipalFromContext returns the username RequireBearer authenticated, or "".
func PrincipalFromContext(ctx context.Context) string {
	u, _ := ctx.Value(principalKey{}).(string)
	return u
}

func bearerToken(r *http.Request) string {
	h := r.Header.Get("Authorization")
	scheme, tok, ok := strings.Cut(h, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return ""
	}
	return strings.TrimSpace(tok)
}

func unauthorized(w http.ResponseWriter, detail string) {
	w.Header().Set("WWW-Authenticate", "Bearer")
	httpmw.WriteDetail(w, http.StatusUnauthorized, detail)
}

// RequireBearer rejects requests without a valid token for the configured
// principal.
func (a *API) RequireBearer(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		tok := bearerToken(r)
		if tok == "" {
			a.onTokenRejected("missing")
			unauthorized(w, "Not authenticated")
			return
		}

		user, err := a.auth.VerifyToken(tok)
		if err != nil {
			reason, detail := "invalid", "Invalid authentication credentials"
			if errors.Is(err, authgate.ErrTokenExpired) {
				reason, detail = "expired", "Token expired"
			}
			a.onTokenRejected(reason)
			log.FromContext(ctx).Debug(ctx, "bearer token rejected", "reason", reason, "err", err)
			unauthorized(w, detail)
			return
		}
		if !a.auth.IsPrincipal(user) {
			a.onTokenRejected("invalid")
			log.FromContext(ctx).Warn(ctx, "bearer token for unknown principal", "token_user", user)
			unauthorized(w, "Invalid authentication credentials")
			return
		}

		ctx = context.WithValue(ctx, principalKey{}, user)
		ctx = log.WithContext(ctx, log.FromContext(ctx).With("enduser.id", user))
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

func (a *API) login(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	L := log.FromContext(ctx)

	var req loginRequest
	if err := decodeJSON(r.Body, &req); err != nil {
		a.onLogin("bad_request")
		writeError(w, r, err)
		return
	}
	if req.Username == "" || req.Password == "" {
		a.onLogin("bad_request")
		httpmw.WriteDetail(w, http.StatusBadRequest, "username and password are required")
		return
	}

	tok, err := a.auth.Authenticate(ctx, req.Username, req.Password)
	switch {
	case errors.Is(err, authgate.ErrInvalidCredentials):
		a.onLogin("invalid")
		L.Warn(ctx, "login failed")
		unauthorized(w, "Invalid credentials")
		return
	case err != nil:
		a.onLogin("error")
		writeError(w, r, err)
		return
	}

	a.onLogin("success")
	L.Info(ctx, "login succeeded", "enduser.id", req.Username)
	writeJSON(w, http.StatusOK, tok)
}

func (a *API) verify(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, struct {
		Valid    bool   `json:"valid"`
		Username string `json:"username"`
	}{true, PrincipalFromContext(r.Context())})
}
