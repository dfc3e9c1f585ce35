package main

import (
	"log"

	"gorm.io/gorm"

	"drawmeet-backend/internal/config"
	"drawmeet-backend/internal/database"
	"drawmeet-backend/internal/server"
)

func main() {
	cfg := config.Load()

	db, err := database.ConnectDB()
	if err != nil {
		log.Fatalf("❌ Database connection failed: %v", err)
	}
	defer database.Close()

	if err := database.Ping(); err != nil {
		log.Fatalf("❌ Database ping failed: %v", err)
	}
	log.Printf("✅ Database connected (%s)", postgresVersion(db))

	srv := server.New(cfg, db)
	srv.SetupMiddleware()
	srv.SetupRoutes()

	if err := srv.Start(); err != nil {
		log.Fatalf("❌ Server exited: %v", err)
	}
}

// postgresVersion 시작 로그용 서버 버전 문자열
func postgresVersion(db *gorm.DB) string {
	var version string
	db.Raw("SELECT version()").Scan(&version)
	if len(version) > 50 {
		version = version[:50] + "..."
	}
	if version == "" {
		return "version unknown"
	}
	return version
}
