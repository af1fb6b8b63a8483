// Package domain defines the core interfaces and types for Kestrel.
package domain

import (
	"context"
	"time"
)

// Repository defines the interface for data persistence.
// All methods require tenantID for strict multi-tenancy isolation.
type Repository interface {
	// Raw transaction records
	SaveTransaction(ctx context.Context, tenantID string, txID string, rec Record) error
	GetTransaction(ctx context.Context, tenantID string, txID string) (Record, error)

	// Assessment results
	SaveAssessment(ctx context.Context, tenantID string, a *Assessment) error
	GetAssessment(ctx context.Context, tenantID string, id string) (*Assessment, error)
	ListAssessmentsByDecision(ctx context.Context, tenantID string, decision string, since time.Time) ([]*Assessment, error)

	// Custom rule configuration
	SaveCustomRule(ctx context.Context, tenantID string, rule *CustomRule) error
	ListCustomRules(ctx context.Context, tenantID string) ([]*CustomRule, error)
	DeleteCustomRule(ctx context.Context, tenantID string, ruleID string) error

	// Health check
	Ping(ctx context.Context) error

	// Lifecycle
	Close() error
}

// RepositoryConfig holds configuration for repository initialization.
type RepositoryConfig struct {
	// Driver is the database driver: "sqlite" or "postgres"
	Driver string

	// SQLite specific
	SQLitePath string

	// PostgreSQL specific
	PostgresHost     string
	PostgresPort     int
	PostgresUser     string
	PostgresPassword string
	PostgresDB       string
	PostgresSSLMode  string

	// Connection pool settings
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}
