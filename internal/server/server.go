package server

import (
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/limiter"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"gorm.io/gorm"

	"drawmeet-backend/internal/auth"
	"drawmeet-backend/internal/board"
	"drawmeet-backend/internal/cache"
	"drawmeet-backend/internal/config"
	"drawmeet-backend/internal/handler"
	"drawmeet-backend/internal/presence"
	"drawmeet-backend/internal/repository"
	"drawmeet-backend/internal/service"
)

// Server Fiber 서버 래퍼
type Server struct {
	app            *fiber.App
	cfg            *config.Config
	db             *gorm.DB
	authHandler    *handler.AuthHandler
	meetingHandler *handler.MeetingHandler
	canvasHandler  *handler.CanvasHandler
	healthHandler  *handler.HealthHandler
	boardWSHandler *handler.BoardWSHandler
	jwtManager     *auth.JWTManager
}

// New 새 서버 인스턴스 생성
func New(cfg *config.Config, db *gorm.DB) *Server {
	app := fiber.New(fiber.Config{
		AppName:               "DrawMeet Sync Gateway",
		ServerHeader:          "Fiber",
		StrictRouting:         true,
		CaseSensitive:         true,
		ReadTimeout:           cfg.Server.ReadTimeout,
		WriteTimeout:          cfg.Server.WriteTimeout,
		IdleTimeout:           cfg.Server.IdleTimeout,
		Prefork:               false, // WebSocket과 호환성 문제로 비활성화
		ReadBufferSize:        16384,
		WriteBufferSize:       16384,
		BodyLimit:             5 * 1024 * 1024, // 5MB
		DisableStartupMessage: false,
	})

	// Auth 초기화
	jwtManager := auth.NewJWTManager(
		cfg.Auth.JWTSecret,
		cfg.Auth.AccessTokenExpiry,
		cfg.Auth.RefreshTokenExpiry,
	)
	googleAuth := auth.NewGoogleAuthenticator(cfg.Auth.GoogleClientID)

	// Redis 초기화 (선택적 - 없으면 채팅 최근 기록 캐시만 비활성화)
	var redisClient *cache.RedisClient
	if cfg.Redis.Addr != "" {
		var err error
		redisClient, err = cache.NewRedisClient(cfg.Redis.Addr, cfg.Redis.Password, cfg.Board.ChatCacheTTL, cfg.Board.ChatCacheMax)
		if err != nil {
			log.Printf("⚠️ Redis initialization failed: %v (chat cache disabled)", err)
			redisClient = nil
		}
	} else {
		log.Println("ℹ️ Redis not configured (chat cache disabled)")
	}

	var presenceMgr *presence.Manager
	if cfg.Redis.Addr != "" && redisClient != nil {
		presenceMgr = presence.NewManager(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
	}

	// 도메인 계층 조립
	registry := board.NewRegistry()
	svc := service.NewMeetingService(
		repository.NewMeetingRepo(db),
		repository.NewCanvasRepo(db),
		repository.NewChatRepo(db),
		registry,
	)
	hub := handler.NewRoomHub()

	return &Server{
		app:            app,
		cfg:            cfg,
		db:             db,
		authHandler:    handler.NewAuthHandler(db, jwtManager, googleAuth, cfg.Auth),
		meetingHandler: handler.NewMeetingHandler(svc, hub, redisClient, presenceMgr),
		canvasHandler:  handler.NewCanvasHandler(svc),
		healthHandler:  handler.NewHealthHandler(db, redisClient),
		boardWSHandler: handler.NewBoardWSHandler(svc, hub, registry, redisClient, presenceMgr, cfg),
		jwtManager:     jwtManager,
	}
}

// SetupMiddleware 미들웨어 설정
func (s *Server) SetupMiddleware() {
	// 패닉 복구
	s.app.Use(recover.New(recover.Config{
		EnableStackTrace: true,
	}))

	// 로깅
	s.app.Use(logger.New(logger.Config{
		Format:     "${time} | ${status} | ${latency} | ${ip} | ${method} ${path}\n",
		TimeFormat: "2006-01-02 15:04:05",
		TimeZone:   "Asia/Seoul",
	}))

	// CORS
	s.app.Use(cors.New(cors.Config{
		AllowOrigins:     s.cfg.CORS.AllowOrigins,
		AllowHeaders:     "Origin, Content-Type, Accept, Authorization",
		AllowMethods:     "GET, POST, PUT, DELETE, OPTIONS",
		AllowCredentials: true,
	}))
}

// SetupRoutes 라우트 설정
func (s *Server) SetupRoutes() {
	// 헬스체크 엔드포인트
	s.app.Get("/health", s.healthHandler.Check)
	s.app.Get("/health/live", s.healthHandler.Liveness)
	s.app.Get("/health/ready", s.healthHandler.Readiness)

	// Rate Limiter (인증 엔드포인트용 - Brute Force 방지)
	authLimiter := limiter.New(limiter.Config{
		Max:        10,
		Expiration: 1 * time.Minute,
		KeyGenerator: func(c *fiber.Ctx) string {
			return c.IP()
		},
		LimitReached: func(c *fiber.Ctx) error {
			return c.Status(fiber.StatusTooManyRequests).JSON(fiber.Map{
				"error": "too many requests, please try again later",
			})
		},
	})

	// Auth 라우트 그룹
	authGroup := s.app.Group("/auth")
	authGroup.Post("/google", authLimiter, s.authHandler.GoogleLogin)
	authGroup.Post("/refresh", authLimiter, s.authHandler.RefreshToken)
	authGroup.Post("/logout", auth.AuthMiddleware(s.jwtManager), s.authHandler.Logout)
	authGroup.Get("/me", auth.AuthMiddleware(s.jwtManager), s.authHandler.GetMe)

	// 초대 링크 미리보기 (로그인 전에도 제목/상태 확인 가능)
	s.app.Get("/api/meetings/link/:token", auth.OptionalAuthMiddleware(s.jwtManager), s.meetingHandler.GetLinkInfo)

	// Meeting 라우트 그룹 (인증 필요)
	meetingGroup := s.app.Group("/api/meetings", auth.AuthMiddleware(s.jwtManager))
	meetingGroup.Post("/", s.meetingHandler.CreateMeeting)
	meetingGroup.Get("/:code", s.meetingHandler.GetMeeting)
	meetingGroup.Post("/:code/start", s.meetingHandler.StartMeeting)
	meetingGroup.Post("/:code/end", s.meetingHandler.EndMeeting)
	meetingGroup.Post("/:code/join", s.meetingHandler.JoinMeeting)
	meetingGroup.Post("/:code/leave", s.meetingHandler.LeaveMeeting)
	meetingGroup.Put("/:code/chat", s.meetingHandler.ToggleChat)
	meetingGroup.Get("/:code/chat", s.meetingHandler.GetChatHistory)
	meetingGroup.Get("/:code/participants", s.meetingHandler.GetParticipants)
	meetingGroup.Put("/:code/participants/:userId/permission", s.meetingHandler.UpdatePermission)
	meetingGroup.Put("/:code/participants/:userId/chat", s.meetingHandler.SetParticipantChat)

	// Canvas 라우트 (인증 필요)
	s.app.Get("/api/canvases/:id", auth.AuthMiddleware(s.jwtManager), s.canvasHandler.GetCanvas)

	// WebSocket 업그레이드 체크 미들웨어
	s.app.Use("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			c.Locals("allowed", true)
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})

	// WebSocket 보드 엔드포인트 (쿠키 JWT 인증)
	s.app.Get("/ws/board", func(c *fiber.Ctx) error {
		if !websocket.IsWebSocketUpgrade(c) {
			return fiber.ErrUpgradeRequired
		}

		// 쿠키에서 JWT 토큰 추출
		accessToken := c.Cookies("access_token")
		if accessToken == "" {
			// WebSocket은 JSON 응답 대신 연결 거부
			return c.SendStatus(fiber.StatusUnauthorized)
		}

		claims, err := s.jwtManager.ValidateAccessToken(accessToken)
		if err != nil {
			return c.SendStatus(fiber.StatusUnauthorized)
		}

		c.Locals("userID", claims.UserID)
		c.Locals("nickname", claims.Nickname)

		return c.Next()
	}, websocket.New(s.boardWSHandler.HandleWebSocket, websocket.Config{
		ReadBufferSize:  s.cfg.WebSocket.ReadBufferSize,
		WriteBufferSize: s.cfg.WebSocket.WriteBufferSize,
	}))
}

// Start 서버 시작 (Graceful Shutdown 지원)
func (s *Server) Start() error {
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-quit
		log.Println("🛑 Shutting down server...")
		if err := s.app.ShutdownWithTimeout(30 * time.Second); err != nil {
			log.Fatalf("Server shutdown error: %v", err)
		}
	}()

	log.Printf("🚀 DrawMeet Sync Gateway starting on %s", s.cfg.Server.Port)
	log.Printf("📡 WebSocket endpoint: ws://localhost%s/ws/board", s.cfg.Server.Port)

	return s.app.Listen(s.cfg.Server.Port)
}

// Shutdown 서버 종료
func (s *Server) Shutdown() error {
	return s.app.ShutdownWithTimeout(30 * time.Second)
}
