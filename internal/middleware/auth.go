package middleware

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/amankumarsingh77/av1-transcode-queue/pkg/utils"
	"github.com/labstack/echo/v4"
)

const clientCtxKey = "client"

// AuthJWTMiddleware requires an HS256 bearer token signed with the server
// secret and stores the token's client name on the context.
func (mw *MiddlewareManager) AuthJWTMiddleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			bearerHeader := c.Request().Header.Get(echo.HeaderAuthorization)
			headerParts := strings.Split(bearerHeader, " ")
			if len(headerParts) != 2 || !strings.EqualFold(headerParts[0], "Bearer") {
				mw.logger.Errorf("auth middleware RequestID: %s, ERROR: %s", utils.GetRequestID(c), "missing bearer token")
				return c.JSON(http.StatusUnauthorized, map[string]string{"error": "Unauthorized"})
			}

			client, err := mw.validateJWTToken(headerParts[1])
			if err != nil {
				mw.logger.Errorf("middleware validateJWTToken RequestID: %s, ERROR: %v", utils.GetRequestID(c), err)
				return c.JSON(http.StatusUnauthorized, map[string]string{"error": "Unauthorized"})
			}
			c.Set(clientCtxKey, client)
			return next(c)
		}
	}
}

func (mw *MiddlewareManager) validateJWTToken(tokenString string) (string, error) {
	if tokenString == "" {
		return "", fmt.Errorf("invalid token string")
	}
	claims, err := utils.ValidateToken(tokenString, mw.cfg.Server.JwtSecretKey)
	if err != nil {
		return "", err
	}
	if claims.Client == "" {
		return "", fmt.Errorf("invalid jwt claims")
	}
	return claims.Client, nil
}

// ClientFromCtx returns the authenticated client name, or "" on an open API.
func ClientFromCtx(c echo.Context) string {
	client, _ := c.Get(clientCtxKey).(string)
	return client
}
