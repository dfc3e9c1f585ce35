package handler

import (
	"context"
	"time"

	"github.com/gofiber/fiber/v2"
	"gorm.io/gorm"

	"drawmeet-backend/internal/auth"
	"drawmeet-backend/internal/config"
	"drawmeet-backend/internal/model"
)

// AuthHandler 인증 핸들러
type AuthHandler struct {
	db         *gorm.DB
	jwtManager *auth.JWTManager
	googleAuth *auth.GoogleAuthenticator
	cfg        config.AuthConfig
}

// NewAuthHandler AuthHandler 생성
func NewAuthHandler(db *gorm.DB, jwtManager *auth.JWTManager, googleAuth *auth.GoogleAuthenticator, cfg config.AuthConfig) *AuthHandler {
	return &AuthHandler{
		db:         db,
		jwtManager: jwtManager,
		googleAuth: googleAuth,
		cfg:        cfg,
	}
}

// GoogleLoginRequest Google 로그인 요청
type GoogleLoginRequest struct {
	IDToken string `json:"id_token"`
}

// UserResponse 사용자 응답
type UserResponse struct {
	ID         int64   `json:"id"`
	Email      string  `json:"email"`
	Nickname   string  `json:"nickname"`
	ProfileImg *string `json:"profile_img,omitempty"`
	Provider   *string `json:"provider,omitempty"`
}

// GoogleLogin Google OAuth 로그인.
// 액세스 토큰은 응답 본문과 쿠키 양쪽에 담는다. WebSocket 업그레이드가
// 쿠키에서 토큰을 읽기 때문이다.
func (h *AuthHandler) GoogleLogin(c *fiber.Ctx) error {
	var req GoogleLoginRequest
	if err := c.BodyParser(&req); err != nil || req.IDToken == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "id_token is required",
		})
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	googleUser, err := h.googleAuth.VerifyIDToken(ctx, req.IDToken)
	if err != nil {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
			"error": "invalid google token",
		})
	}

	user, err := h.upsertUser(googleUser)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "failed to upsert user",
		})
	}

	return h.issueTokens(c, user)
}

// upsertUser 이메일 기준 사용자 조회 또는 생성
func (h *AuthHandler) upsertUser(googleUser *auth.GoogleUserInfo) (*model.User, error) {
	provider := "google"

	var user model.User
	result := h.db.Where("email = ?", googleUser.Email).First(&user)
	if result.Error == gorm.ErrRecordNotFound {
		user = model.User{
			Email:      googleUser.Email,
			Nickname:   googleUser.Name,
			ProfileImg: &googleUser.Picture,
			Provider:   &provider,
			ProviderID: &googleUser.ID,
		}
		if err := h.db.Create(&user).Error; err != nil {
			return nil, err
		}
		return &user, nil
	}
	if result.Error != nil {
		return nil, result.Error
	}

	// 기존 사용자: 프로필 이미지 갱신
	user.ProfileImg = &googleUser.Picture
	if user.Provider == nil || *user.Provider != provider {
		user.Provider = &provider
		user.ProviderID = &googleUser.ID
	}
	if err := h.db.Save(&user).Error; err != nil {
		return nil, err
	}
	return &user, nil
}

// issueTokens 액세스/리프레시 토큰 발급 및 쿠키 설정
func (h *AuthHandler) issueTokens(c *fiber.Ctx, user *model.User) error {
	accessToken, err := h.jwtManager.GenerateAccessToken(user.ID, user.Email, user.Nickname)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "failed to generate token",
		})
	}

	refreshToken, err := h.jwtManager.GenerateRefreshToken(user.ID)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "failed to generate refresh token",
		})
	}

	h.setCookie(c, "access_token", accessToken, h.cfg.AccessTokenExpiry)
	h.setCookie(c, "refresh_token", refreshToken, h.cfg.RefreshTokenExpiry)

	return c.JSON(fiber.Map{
		"user":         toUserResponse(user),
		"access_token": accessToken,
		"expires_in":   int64(h.cfg.AccessTokenExpiry.Seconds()),
	})
}

// RefreshToken 토큰 갱신
func (h *AuthHandler) RefreshToken(c *fiber.Ctx) error {
	refreshToken := c.Cookies("refresh_token")
	if refreshToken == "" {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
			"error": "refresh token not found",
		})
	}

	userID, err := h.jwtManager.ValidateRefreshToken(refreshToken)
	if err != nil {
		h.clearCookie(c, "access_token")
		h.clearCookie(c, "refresh_token")
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
			"error": "invalid or expired refresh token",
		})
	}

	var user model.User
	if err := h.db.First(&user, "id = ?", userID).Error; err != nil {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
			"error": "user not found",
		})
	}

	accessToken, err := h.jwtManager.GenerateAccessToken(user.ID, user.Email, user.Nickname)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "failed to generate token",
		})
	}

	h.setCookie(c, "access_token", accessToken, h.cfg.AccessTokenExpiry)

	return c.JSON(fiber.Map{
		"access_token": accessToken,
		"expires_in":   int64(h.cfg.AccessTokenExpiry.Seconds()),
	})
}

// Logout 로그아웃
func (h *AuthHandler) Logout(c *fiber.Ctx) error {
	h.clearCookie(c, "access_token")
	h.clearCookie(c, "refresh_token")

	return c.JSON(fiber.Map{
		"message": "logged out successfully",
	})
}

// GetMe 현재 사용자 정보
func (h *AuthHandler) GetMe(c *fiber.Ctx) error {
	claims := c.Locals("claims").(*auth.Claims)

	var user model.User
	if err := h.db.First(&user, "id = ?", claims.UserID).Error; err != nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "user not found",
		})
	}

	return c.JSON(toUserResponse(&user))
}

func (h *AuthHandler) setCookie(c *fiber.Ctx, name, value string, maxAge time.Duration) {
	c.Cookie(&fiber.Cookie{
		Name:     name,
		Value:    value,
		Path:     "/",
		MaxAge:   int(maxAge.Seconds()),
		Secure:   h.cfg.SecureCookie,
		HTTPOnly: true,
		SameSite: "Lax",
	})
}

func (h *AuthHandler) clearCookie(c *fiber.Ctx, name string) {
	c.Cookie(&fiber.Cookie{
		Name:     name,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		Secure:   h.cfg.SecureCookie,
		HTTPOnly: true,
	})
}

func toUserResponse(u *model.User) UserResponse {
	return UserResponse{
		ID:         u.ID,
		Email:      u.Email,
		Nickname:   u.Nickname,
		ProfileImg: u.ProfileImg,
		Provider:   u.Provider,
	}
}
