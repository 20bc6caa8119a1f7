// Package domain contains persistence models for audit logging.
package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/leaseworks/leaseworks/pkg/db/pagination"
	"gorm.io/datatypes"
)

const (
	ActorTypeLandlord = "landlord"
	ActorTypeTenant   = "tenant"
	ActorTypeSystem   = "system"
)

// AuditLog records who did what to which billing entity.
type AuditLog struct {
	ID         snowflake.ID      `gorm:"primaryKey"`
	PropertyID *snowflake.ID     `gorm:"index"`
	ActorType  string            `gorm:"type:text;not null"`
	ActorID    *string           `gorm:"type:text"`
	Action     string            `gorm:"type:text;not null;index"`
	TargetType string            `gorm:"type:text;not null"`
	TargetID   *string           `gorm:"type:text;index"`
	Metadata   datatypes.JSONMap `gorm:"type:jsonb"`
	CreatedAt  time.Time         `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (AuditLog) TableName() string { return "audit_logs" }

type ListAuditLogRequest struct {
	PageToken  string
	PageSize   int
	PropertyID *snowflake.ID
	Action     string
	TargetType string
	TargetID   string
	ActorType  string
	StartAt    *time.Time
	EndAt      *time.Time
}

type ListAuditLogResponse struct {
	pagination.PageInfo
	AuditLogs []AuditLog `json:"audit_logs"`
}

type Service interface {
	AuditLog(ctx context.Context, propertyID *snowflake.ID, actorType string, actorID *string, action string, targetType string, targetID *string, metadata map[string]any) error
	List(ctx context.Context, req ListAuditLogRequest) (ListAuditLogResponse, error)
}
