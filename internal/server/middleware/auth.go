package middleware

import (
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"github.com/labstack/echo/v4"
)

var allPermissions = []string{
	"graph.view",
	"run.create",
	"snapshot.create",
}

var viewerPermissions = []string{
	"graph.view",
}

func AuthMiddleware(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		authHeader := c.Request().Header.Get("Authorization")
		if authHeader == "" || !strings.HasPrefix(authHeader, "Bearer ") {
			return c.JSON(http.StatusUnauthorized, map[string]string{"error": "Unauthorized"})
		}

		token := strings.TrimPrefix(authHeader, "Bearer ")
		app := c.(*AppContext).App

		// Master API Key bypass
		if app.MasterAPIKey != "" && token == app.MasterAPIKey {
			role := app.MasterUserRole
			if role == "" {
				role = "admin"
			}
			c.(*AppContext).User = &AppUser{
				Subject:     "master",
				Role:        role,
				Permissions: allPermissions,
			}
			return next(c)
		}

		if app.Keyfunc == nil {
			return c.JSON(http.StatusUnauthorized, map[string]string{"error": "Unauthorized"})
		}
		parsed, err := jwt.Parse(token, app.Keyfunc)
		if err != nil || !parsed.Valid {
			return c.JSON(http.StatusUnauthorized, map[string]string{"error": "Unauthorized"})
		}

		claims, ok := parsed.Claims.(jwt.MapClaims)
		if !ok {
			return c.JSON(http.StatusUnauthorized, map[string]string{"error": "Unauthorized"})
		}

		subject, err := claims.GetSubject()
		if err != nil || subject == "" {
			return c.JSON(http.StatusUnauthorized, map[string]string{"error": "Invalid subject"})
		}

		role := "user"
		if roleClaim, ok := claims["role"].(string); ok {
			role = roleClaim
		}

		var permissions []string
		if permsClaim, ok := claims["permissions"].([]any); ok {
			for _, p := range permsClaim {
				if pStr, ok := p.(string); ok {
					permissions = append(permissions, pStr)
				}
			}
		}

		if len(permissions) == 0 {
			permissions = viewerPermissions
			if role == "admin" {
				permissions = allPermissions
			}
		}

		c.(*AppContext).User = &AppUser{
			Subject:     subject,
			Role:        role,
			Permissions: permissions,
		}

		return next(c)
	}
}
