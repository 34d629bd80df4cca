package store

import (
	"fmt"
	"os"
	"strconv"
	"strings"
)

// DBType selects the backing database engine.
type DBType string

const (
	DBTypeSQLite   DBType = "sqlite"
	DBTypePostgres DBType = "postgres"
)

// DBConfig is the connection configuration for either engine.
type DBConfig struct {
	Type     DBType
	Path     string // SQLite file path
	Host     string // Postgres host
	Port     int
	User     string
	Password string
	DBName   string
	SSLMode  string
}

// ConfigFromEnv builds a DBConfig from the DB_* environment variables,
// mirroring the teacher's NewDBDriverFromEnv.
func ConfigFromEnv() (DBConfig, error) {
	dbType := DBType(strings.ToLower(getEnv("DB_TYPE", "sqlite")))

	switch dbType {
	case DBTypeSQLite:
		return DBConfig{Type: DBTypeSQLite, Path: getEnv("DB_PATH", "data/papertrader.db")}, nil
	case DBTypePostgres:
		port := 5432
		if p := os.Getenv("DB_PORT"); p != "" {
			if n, err := strconv.Atoi(p); err == nil {
				port = n
			}
		}
		return DBConfig{
			Type:     DBTypePostgres,
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     port,
			User:     getEnv("DB_USER", "postgres"),
			Password: os.Getenv("DB_PASSWORD"),
			DBName:   getEnv("DB_NAME", "papertrader"),
			SSLMode:  getEnv("DB_SSLMODE", "disable"),
		}, nil
	default:
		return DBConfig{}, fmt.Errorf("unsupported DB_TYPE: %s (use 'sqlite' or 'postgres')", dbType)
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
