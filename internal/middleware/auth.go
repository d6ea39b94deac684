package middleware

import (
	stderrors "errors"
	"strings"

	"github.com/gin-gonic/gin"

	iauth "github.com/altrii/altrii/internal/auth"
	"github.com/altrii/altrii/pkg/errors"
	"github.com/altrii/altrii/pkg/response"
)

const (
	CtxClaimsKey = "authClaims"
	CtxUserIDKey = "userID"
)

// Auth requires a valid bearer token and stores the caller's user id in the context.
// Challenges follow RFC 6750: no credentials gets a bare challenge, a bad or expired
// token gets error="invalid_token".
func Auth(jwt *iauth.JWTService) gin.HandlerFunc {
	return func(c *gin.Context) {
		raw, ok := bearerToken(c.GetHeader("Authorization"))
		if !ok {
			deny(c, `Bearer realm="altrii"`, errors.ErrUnauthorized)
			return
		}

		claims, err := jwt.Verify(raw)
		if err != nil {
			description := "token is invalid"
			if stderrors.Is(err, iauth.ErrExpiredToken) {
				description = "token has expired"
			}
			deny(c, `Bearer realm="altrii", error="invalid_token", error_description="`+description+`"`,
				errors.ErrUnauthorized.WithMessage(description))
			return
		}

		c.Set(CtxClaimsKey, claims)
		c.Set(CtxUserIDKey, claims.UserID())
		c.Next()
	}
}

func deny(c *gin.Context, challenge string, err *errors.AppError) {
	c.Header("WWW-Authenticate", challenge)
	response.Error(c, err)
	c.Abort()
}

func bearerToken(header string) (string, bool) {
	scheme, token, found := strings.Cut(strings.TrimSpace(header), " ")
	if !found || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}
