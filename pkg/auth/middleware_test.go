package auth_test

import (
	"net/http"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/labstack/echo/v4"
	httptestutil "github.com/opst/importexec/internal/testutils/http"
	"github.com/opst/importexec/pkg/auth"
	"github.com/opst/importexec/pkg/utils/try"
)

func TestMiddleware(t *testing.T) {
	verifier := try.To(auth.NewVerifier(
		audience, []auth.Key{auth.HMACKey("k1", secret)},
		auth.WithCaller(caller),
		auth.WithClock(func() time.Time { return now }),
	)).OrFatal(t)

	type When struct {
		verifier *auth.Verifier
		options  []httptestutil.RequestOption
	}
	type Then struct {
		status int
	}

	theory := func(when When, then Then) func(*testing.T) {
		return func(t *testing.T) {
			e := echo.New()
			e.POST("/imports/:dataset", func(c echo.Context) error {
				if when.verifier != nil {
					if _, ok := c.Get(auth.ContextKey).(*auth.Claims); !ok {
						t.Error("claims are not set")
					}
				}
				return c.NoContent(http.StatusAccepted)
			}, auth.Middleware(when.verifier))

			resp := httptestutil.Serve(e, http.MethodPost, "/imports/cdc_places", nil, when.options...)
			if resp.Code != then.status {
				t.Errorf("status: got %d, want %d", resp.Code, then.status)
			}
		}
	}

	t.Run("valid token passes", theory(
		When{
			verifier: verifier,
			options: []httptestutil.RequestOption{
				httptestutil.Bearer(sign(t, jwt.SigningMethodHS256, secret, "k1", validClaims())),
			},
		},
		Then{status: http.StatusAccepted},
	))

	t.Run("request without token is unauthorized", theory(
		When{verifier: verifier},
		Then{status: http.StatusUnauthorized},
	))

	t.Run("non-bearer authorization is unauthorized", theory(
		When{
			verifier: verifier,
			options: []httptestutil.RequestOption{
				httptestutil.WithHeader("Authorization", "Basic dXNlcjpwYXNz"),
			},
		},
		Then{status: http.StatusUnauthorized},
	))

	t.Run("token for another audience is unauthorized", theory(
		When{
			verifier: verifier,
			options: []httptestutil.RequestOption{
				httptestutil.Bearer(sign(t, jwt.SigningMethodHS256, secret, "k1", func() auth.Claims {
					c := validClaims()
					c.Audience = jwt.ClaimStrings{"https://other.example.com"}
					return c
				}())),
			},
		},
		Then{status: http.StatusUnauthorized},
	))

	t.Run("without verifier, requests pass", theory(
		When{verifier: nil},
		Then{status: http.StatusAccepted},
	))
}
