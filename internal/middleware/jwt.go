package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/stemsi/exstem-attempt/internal/model"
	"github.com/stemsi/exstem-attempt/internal/response"
	"github.com/stemsi/exstem-attempt/internal/service"
)

const (
	// ContextKeyClaims is the Gin context key for JWT claims.
	ContextKeyClaims = "claims"
	contextKeyToken  = "raw_token"
)

// RequireStudentJWT validates a student JWT from the Authorization header,
// falling back to ?token= for navigator.sendBeacon which cannot set headers.
func RequireStudentJWT(tokens *service.TokenService) gin.HandlerFunc {
	return requireJWT(tokens, service.TokenTypeStudent, response.ErrStudentAccessOnly, bearerOrQuery)
}

// RequireProctorJWT validates a proctor (admin) JWT.
func RequireProctorJWT(tokens *service.TokenService) gin.HandlerFunc {
	return requireJWT(tokens, service.TokenTypeAdmin, response.ErrProctorAccessOnly, bearerOrQuery)
}

// RequireStudentWSAuth validates a student JWT from the query param ?token=...
// Used for WebSocket upgrade requests.
func RequireStudentWSAuth(tokens *service.TokenService) gin.HandlerFunc {
	return requireJWT(tokens, service.TokenTypeStudent, response.ErrStudentAccessOnly, func(c *gin.Context) string {
		return c.Query("token")
	})
}

func requireJWT(tokens *service.TokenService, want service.TokenType, denied response.ErrCode, extract func(*gin.Context) string) gin.HandlerFunc {
	return func(c *gin.Context) {
		raw := extract(c)
		if raw == "" {
			response.AbortFail(c, http.StatusUnauthorized, response.ErrTokenRequired)
			return
		}

		claims, err := tokens.ValidateToken(raw)
		if err != nil {
			response.AbortFail(c, http.StatusUnauthorized, response.ErrTokenInvalid)
			return
		}
		if claims.TokenType != want {
			response.AbortFail(c, http.StatusForbidden, denied)
			return
		}

		c.Set(ContextKeyClaims, claims)
		c.Set(contextKeyToken, raw)
		c.Next()
	}
}

// GetClaims retrieves the JWT claims from the Gin context.
func GetClaims(c *gin.Context) *service.Claims {
	val, exists := c.Get(ContextKeyClaims)
	if !exists {
		return nil
	}
	claims, ok := val.(*service.Claims)
	if !ok {
		return nil
	}
	return claims
}

// GetCredentials returns the caller's credentials, or false when the request
// is unauthenticated.
func GetCredentials(c *gin.Context) (model.Credentials, bool) {
	claims := GetClaims(c)
	if claims == nil {
		return model.Credentials{}, false
	}
	return claims.Credentials(c.GetString(contextKeyToken)), true
}

func bearerOrQuery(c *gin.Context) string {
	if h := c.GetHeader("Authorization"); h != "" {
		parts := strings.SplitN(h, " ", 2)
		if len(parts) == 2 && strings.EqualFold(parts[0], "bearer") {
			return parts[1]
		}
	}
	return c.Query("token")
}
