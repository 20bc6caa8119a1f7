package service

import (
	"context"
	"strings"

	"github.com/bwmarrin/snowflake"
	auditdomain "github.com/leaseworks/leaseworks/internal/audit/domain"
	"github.com/leaseworks/leaseworks/pkg/db/option"
	"github.com/leaseworks/leaseworks/pkg/db/pagination"
	"github.com/leaseworks/leaseworks/pkg/repository"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB    *gorm.DB
	Log   *zap.Logger
	GenID *snowflake.Node
}

type Service struct {
	store repository.Repository[auditdomain.AuditLog]
	log   *zap.Logger
	genID *snowflake.Node
}

func NewService(p Params) auditdomain.Service {
	return &Service{
		store: repository.ProvideStore[auditdomain.AuditLog](p.DB),
		log:   p.Log.Named("audit.service"),
		genID: p.GenID,
	}
}

// AuditLog persists one entry. Failures are logged, never propagated so a
// broken audit table cannot block billing writes.
func (s *Service) AuditLog(ctx context.Context, propertyID *snowflake.ID, actorType string, actorID *string, action string, targetType string, targetID *string, metadata map[string]any) error {
	action = strings.TrimSpace(action)
	if action == "" {
		return nil
	}
	entry := auditdomain.AuditLog{
		ID:         s.genID.Generate(),
		PropertyID: propertyID,
		ActorType:  actorType,
		ActorID:    actorID,
		Action:     action,
		TargetType: targetType,
		TargetID:   targetID,
		Metadata:   datatypes.JSONMap(metadata),
	}
	if err := s.store.Create(ctx, &entry); err != nil {
		s.log.Warn("audit log write failed",
			zap.String("action", action),
			zap.Error(err),
		)
	}
	return nil
}

func (s *Service) List(ctx context.Context, req auditdomain.ListAuditLogRequest) (auditdomain.ListAuditLogResponse, error) {
	pageSize := req.PageSize
	if pageSize <= 0 || pageSize > 250 {
		pageSize = 50
	}

	opts := []option.QueryOption{
		option.WithOrder("id DESC"),
		option.WithLimit(pageSize + 1),
	}
	if req.PropertyID != nil {
		opts = append(opts, option.WithCondition("property_id = ?", *req.PropertyID))
	}
	if req.Action != "" {
		opts = append(opts, option.WithCondition("action = ?", req.Action))
	}
	if req.TargetType != "" {
		opts = append(opts, option.WithCondition("target_type = ?", req.TargetType))
	}
	if req.TargetID != "" {
		opts = append(opts, option.WithCondition("target_id = ?", req.TargetID))
	}
	if req.ActorType != "" {
		opts = append(opts, option.WithCondition("actor_type = ?", req.ActorType))
	}
	if req.StartAt != nil {
		opts = append(opts, option.WithCondition("created_at >= ?", *req.StartAt))
	}
	if req.EndAt != nil {
		opts = append(opts, option.WithCondition("created_at <= ?", *req.EndAt))
	}
	if req.PageToken != "" {
		cursor, err := pagination.DecodeCursor(req.PageToken)
		if err != nil {
			return auditdomain.ListAuditLogResponse{}, err
		}
		if cursor.ID != "" {
			opts = append(opts, option.WithCondition("id < ?", cursor.ID))
		}
	}

	rows, err := s.store.Find(ctx, &auditdomain.AuditLog{}, opts...)
	if err != nil {
		return auditdomain.ListAuditLogResponse{}, err
	}

	resp := auditdomain.ListAuditLogResponse{}
	if len(rows) > pageSize {
		rows = rows[:pageSize]
		resp.HasMore = true
		token, err := pagination.EncodeCursor(pagination.Cursor{ID: rows[len(rows)-1].ID.String()})
		if err != nil {
			return auditdomain.ListAuditLogResponse{}, err
		}
		resp.NextPageToken = token
	}
	entries := make([]auditdomain.AuditLog, 0, len(rows))
	for _, row := range rows {
		entries = append(entries, *row)
	}
	resp.AuditLogs = entries
	return resp, nil
}
