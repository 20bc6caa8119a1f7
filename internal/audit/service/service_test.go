package service

import (
	"context"
	"fmt"
	"testing"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	auditdomain "github.com/leaseworks/leaseworks/internal/audit/domain"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func newTestService(t *testing.T) auditdomain.Service {
	t.Helper()
	db, err := gorm.Open(sqlite.Open("file::memory:"), &gorm.Config{})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("unwrap sql.DB: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)

	if err := db.AutoMigrate(&auditdomain.AuditLog{}); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	node, err := snowflake.NewNode(1)
	if err != nil {
		t.Fatalf("snowflake node: %v", err)
	}
	return NewService(Params{DB: db, Log: zap.NewNop(), GenID: node})
}

func TestAuditLog_And_List(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	propertyA := snowflake.ID(42)
	propertyB := snowflake.ID(43)

	for i := 0; i < 3; i++ {
		target := fmt.Sprintf("inv-%d", i)
		err := svc.AuditLog(ctx, &propertyA, auditdomain.ActorTypeLandlord, nil,
			"invoice.create", "invoice", &target, map[string]any{"total": 1000 * (i + 1)})
		if err != nil {
			t.Fatalf("audit log: %v", err)
		}
	}
	target := "pay-1"
	err := svc.AuditLog(ctx, &propertyB, auditdomain.ActorTypeTenant, nil,
		"payment.mark_paid", "invoice_payment", &target, nil)
	if err != nil {
		t.Fatalf("audit log: %v", err)
	}

	// Blank actions are dropped without error.
	if err := svc.AuditLog(ctx, nil, auditdomain.ActorTypeSystem, nil, "  ", "", nil, nil); err != nil {
		t.Fatalf("blank action: %v", err)
	}

	all, err := svc.List(ctx, auditdomain.ListAuditLogRequest{})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(all.AuditLogs) != 4 {
		t.Fatalf("expected 4 entries, got %d", len(all.AuditLogs))
	}

	byProperty, err := svc.List(ctx, auditdomain.ListAuditLogRequest{PropertyID: &propertyB})
	if err != nil {
		t.Fatalf("list by property: %v", err)
	}
	if len(byProperty.AuditLogs) != 1 || byProperty.AuditLogs[0].Action != "payment.mark_paid" {
		t.Fatalf("property filter failed: %+v", byProperty.AuditLogs)
	}

	byActor, err := svc.List(ctx, auditdomain.ListAuditLogRequest{ActorType: auditdomain.ActorTypeLandlord})
	if err != nil {
		t.Fatalf("list by actor: %v", err)
	}
	if len(byActor.AuditLogs) != 3 {
		t.Fatalf("actor filter expected 3, got %d", len(byActor.AuditLogs))
	}
}

func TestList_Paging(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		target := fmt.Sprintf("inv-%d", i)
		if err := svc.AuditLog(ctx, nil, auditdomain.ActorTypeSystem, nil, "recurring.generate", "recurring_invoice", &target, nil); err != nil {
			t.Fatalf("audit log: %v", err)
		}
	}

	first, err := svc.List(ctx, auditdomain.ListAuditLogRequest{PageSize: 3})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(first.AuditLogs) != 3 || !first.HasMore {
		t.Fatalf("expected first page of 3 with more, got %d (more=%v)", len(first.AuditLogs), first.HasMore)
	}

	second, err := svc.List(ctx, auditdomain.ListAuditLogRequest{PageSize: 3, PageToken: first.NextPageToken})
	if err != nil {
		t.Fatalf("list page 2: %v", err)
	}
	if len(second.AuditLogs) != 2 || second.HasMore {
		t.Fatalf("expected final page of 2, got %d (more=%v)", len(second.AuditLogs), second.HasMore)
	}

	// Newest first, no overlap across pages.
	seen := map[snowflake.ID]bool{}
	last := snowflake.ID(1<<62 - 1)
	for _, entry := range append(first.AuditLogs, second.AuditLogs...) {
		if seen[entry.ID] {
			t.Fatalf("entry %s appeared twice", entry.ID)
		}
		seen[entry.ID] = true
		if entry.ID > last {
			t.Fatal("entries not in descending id order")
		}
		last = entry.ID
	}
}
