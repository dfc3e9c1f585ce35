package auth

import (
	"errors"
	"strings"

	"github.com/gofiber/fiber/v2"
)

// tokenFromRequest 요청에서 액세스 토큰 추출. 브라우저 클라이언트는
// 쿠키로 오므로 쿠키를 먼저 보고, API 클라이언트용 Bearer 헤더도 받는다.
func tokenFromRequest(c *fiber.Ctx) string {
	if token := c.Cookies("access_token"); token != "" {
		return token
	}

	header := c.Get("Authorization")
	if strings.HasPrefix(strings.ToLower(header), "bearer ") {
		return strings.TrimSpace(header[len("bearer "):])
	}
	return ""
}

// AuthMiddleware 액세스 토큰을 검증하고 클레임을 컨텍스트에 싣는다
func AuthMiddleware(jwtManager *JWTManager) fiber.Handler {
	return func(c *fiber.Ctx) error {
		token := tokenFromRequest(c)
		if token == "" {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error": "missing access token",
			})
		}

		claims, err := jwtManager.ValidateAccessToken(token)
		if err != nil {
			if errors.Is(err, ErrExpiredToken) {
				// 클라이언트는 이 코드를 보고 /auth/refresh를 태운다
				return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
					"error": "token expired",
					"code":  "TOKEN_EXPIRED",
				})
			}
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error": "invalid token",
			})
		}

		c.Locals("claims", claims)
		return c.Next()
	}
}

// OptionalAuthMiddleware 토큰이 있으면 클레임을 싣고 없거나 틀려도 통과.
// 초대 링크 미리보기처럼 로그인 전 접근을 허용하는 라우트에 쓴다.
func OptionalAuthMiddleware(jwtManager *JWTManager) fiber.Handler {
	return func(c *fiber.Ctx) error {
		if token := tokenFromRequest(c); token != "" {
			if claims, err := jwtManager.ValidateAccessToken(token); err == nil {
				c.Locals("claims", claims)
			}
		}
		return c.Next()
	}
}
