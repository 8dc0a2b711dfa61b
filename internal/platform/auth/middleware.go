package auth

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
)

// Claims is the JWT payload issued by the clinic's identity provider.
type Claims struct {
	jwt.RegisteredClaims
	Name string `json:"name"`
	Role string `json:"role"`
}

// JWT returns middleware that authenticates requests with an HS256 bearer
// token and attaches the resolved Actor to the request context.
func JWT(secret []byte) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			header := c.Request().Header.Get("Authorization")
			if !strings.HasPrefix(header, "Bearer ") {
				return echo.NewHTTPError(http.StatusUnauthorized, "missing bearer token")
			}
			raw := strings.TrimPrefix(header, "Bearer ")

			claims := &Claims{}
			token, err := jwt.ParseWithClaims(raw, claims, func(t *jwt.Token) (interface{}, error) {
				if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
					return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
				}
				return secret, nil
			})
			if err != nil || !token.Valid {
				return echo.NewHTTPError(http.StatusUnauthorized, "invalid token")
			}

			actorID, err := uuid.Parse(claims.Subject)
			if err != nil {
				return echo.NewHTTPError(http.StatusUnauthorized, "invalid subject claim")
			}

			actor := Actor{ID: actorID, Name: claims.Name, Role: claims.Role}
			ctx := WithActor(c.Request().Context(), actor)
			c.SetRequest(c.Request().WithContext(ctx))
			c.Set("actor", actor)
			return next(c)
		}
	}
}

// DevAuth grants every request a fixed administrator actor. Development only.
func DevAuth() echo.MiddlewareFunc {
	devActor := Actor{ID: uuid.MustParse("00000000-0000-0000-0000-000000000001"), Name: "dev", Role: RoleAdmin}
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			ctx := WithActor(c.Request().Context(), devActor)
			c.SetRequest(c.Request().WithContext(ctx))
			c.Set("actor", devActor)
			return next(c)
		}
	}
}

// RequireRole rejects requests whose actor holds none of the given roles.
func RequireRole(roles ...string) echo.MiddlewareFunc {
	allowed := make(map[string]bool, len(roles))
	for _, r := range roles {
		allowed[r] = true
	}
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			actor, ok := ActorFromContext(c.Request().Context())
			if !ok {
				return echo.NewHTTPError(http.StatusUnauthorized, "not authenticated")
			}
			if !allowed[actor.Role] {
				return echo.NewHTTPError(http.StatusForbidden, "insufficient role")
			}
			return next(c)
		}
	}
}
