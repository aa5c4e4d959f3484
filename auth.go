package hodl

import (
	"context"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt"
	"github.com/twitchtv/twirp"
	"github.com/yiplee/go-cache"
	"golang.org/x/sync/singleflight"
)

// VerifyToken authenticates a bearer token with the service that issued
// it and returns the account id the token belongs to.
type VerifyToken func(ctx context.Context, token string) (string, error)

func extractBearerToken(r *http.Request) string {
	token := r.Header.Get("Authorization")
	return strings.TrimPrefix(token, "Bearer ")
}

// handleAuth resolves the calling account from a bearer token. The
// claims are only parsed to reject tokens from foreign issuers early;
// the caller's identity comes from verifying the token upstream, never
// from the unverified claims. Whether the verified account may do
// anything is the ledger's call, not the middleware's.
func handleAuth(issuer string, verify VerifyToken) func(next http.Handler) http.Handler {
	var (
		accounts = cache.New[string, string]()
		sf       singleflight.Group
	)

	return func(next http.Handler) http.Handler {
		fn := func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			token := extractBearerToken(r)

			if token == "" {
				next.ServeHTTP(w, r)
				return
			}

			var claim jwt.StandardClaims
			_, _ = jwt.ParseWithClaims(token, &claim, nil)

			if err := claim.Valid(); err != nil {
				_ = twirp.WriteError(w, twirp.Unauthenticated.Error(err.Error()))
				return
			}

			if claim.Issuer != issuer {
				_ = twirp.WriteError(w, twirp.NewError(twirp.Unauthenticated, "auth required"))
				return
			}

			accountID, err, _ := sf.Do(token, func() (interface{}, error) {
				if id, ok := accounts.Get(token); ok {
					return id, nil
				}

				if verify == nil {
					return nil, twirp.NewError(twirp.Unauthenticated, "token verification is not configured")
				}

				id, err := verify(ctx, token)
				if err != nil {
					return nil, err
				}

				accounts.Set(token, id)
				return id, nil
			})

			if err != nil {
				_ = twirp.WriteError(w, twirp.NewError(twirp.Unauthenticated, "auth required"))
				return
			}

			next.ServeHTTP(w, r.WithContext(WithAccount(ctx, accountID.(string))))
		}

		return http.HandlerFunc(fn)
	}
}
