package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/yoockh/mockmate/internal/utils"
)

type apiError struct {
	Code    utils.Code `json:"code"`
	Message string     `json:"message"`
}

// credentialClaims are issued by the credential service: HS256 with the user
// id under "id" and a 3 day expiry.
type credentialClaims struct {
	jwt.RegisteredClaims
	ID string `json:"id"`
}

func abortUnauthorized(c *gin.Context, msg string) {
	c.AbortWithStatusJSON(http.StatusUnauthorized, apiError{Code: utils.CodeUnauthorized, Message: msg})
}

// JWTAuth verifies the bearer token and stores user_id and token on the
// context. Websocket upgrades may pass the token as ?token= instead, since
// browsers cannot set headers on them.
func JWTAuth(secret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if secret == "" {
			c.AbortWithStatusJSON(http.StatusInternalServerError, apiError{
				Code:    utils.CodeInternal,
				Message: "JWT_SECRET is not set",
			})
			return
		}

		raw := ""
		if auth := c.GetHeader("Authorization"); strings.HasPrefix(auth, "Bearer ") {
			raw = strings.TrimSpace(strings.TrimPrefix(auth, "Bearer "))
		} else if c.IsWebsocket() {
			raw = c.Query("token")
		}
		if raw == "" {
			abortUnauthorized(c, "missing bearer token")
			return
		}

		claims := &credentialClaims{}
		tok, err := jwt.ParseWithClaims(raw, claims, func(t *jwt.Token) (any, error) {
			return []byte(secret), nil
		}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithExpirationRequired())

		if err != nil || tok == nil || !tok.Valid {
			abortUnauthorized(c, "invalid token")
			return
		}

		userID := claims.ID
		if userID == "" {
			userID = claims.Subject
		}
		if userID == "" {
			abortUnauthorized(c, "missing user id")
			return
		}

		c.Set("user_id", userID)
		c.Set("token", raw)
		c.Next()
	}
}
