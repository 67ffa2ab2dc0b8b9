package database

import (
	"pai-kb-go/pkg/log"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

// PG 仅在 vector.backend=pgvector 时初始化。
var PG *gorm.DB

// InitPostgres 连接 Postgres 并确保 vector 扩展可用。
func InitPostgres(dsn string) {
	var err error
	PG, err = gorm.Open(postgres.Open(dsn), &gorm.Config{})
	if err != nil {
		log.Fatal("failed to connect postgres", err)
	}
	if err := PG.Exec("CREATE EXTENSION IF NOT EXISTS vector").Error; err != nil {
		log.Fatal("failed to enable pgvector extension", err)
	}
	configurePool(PG)
	log.Info("Postgres (pgvector) connected successfully")
}
