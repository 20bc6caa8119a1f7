package service

import (
	"context"
	"strconv"
	"strings"

	"github.com/bwmarrin/snowflake"
	auditdomain "github.com/leaseworks/leaseworks/internal/audit/domain"
	"github.com/leaseworks/leaseworks/internal/clock"
	"github.com/leaseworks/leaseworks/internal/config"
	invoicedomain "github.com/leaseworks/leaseworks/internal/invoice/domain"
	obsmetrics "github.com/leaseworks/leaseworks/internal/observability/metrics"
	"github.com/leaseworks/leaseworks/pkg/db/pagination"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB         *gorm.DB
	Log        *zap.Logger
	GenID      *snowflake.Node
	Clock      clock.Clock
	Repo       invoicedomain.Repository
	BillingCfg *config.BillingConfigHolder
	AuditSvc   auditdomain.Service `optional:"true"`
}

type Service struct {
	db         *gorm.DB
	log        *zap.Logger
	genID      *snowflake.Node
	clock      clock.Clock
	repo       invoicedomain.Repository
	billingCfg *config.BillingConfigHolder
	auditSvc   auditdomain.Service
}

func NewService(p Params) invoicedomain.Service {
	return &Service{
		db:         p.DB,
		log:        p.Log.Named("invoice.service"),
		genID:      p.GenID,
		clock:      p.Clock,
		repo:       p.Repo,
		billingCfg: p.BillingCfg,
		auditSvc:   p.AuditSvc,
	}
}

func (s *Service) policy() config.BillingConfig {
	if s.billingCfg == nil {
		return config.DefaultBillingConfig()
	}
	return s.billingCfg.Get()
}

// ValidateSplits rejects requests whose per-tenant shares do not add up to
// the invoice total. Nothing is persisted when this fails.
func ValidateSplits(totalAmount int64, splits []invoicedomain.SplitInput) error {
	if len(splits) == 0 {
		return invoicedomain.ErrNoSplits
	}
	seen := make(map[snowflake.ID]struct{}, len(splits))
	var sum int64
	for _, split := range splits {
		if split.AmountOwed <= 0 {
			return invoicedomain.ErrInvalidAmount
		}
		if _, dup := seen[split.UserID]; dup {
			return invoicedomain.ErrDuplicateSplitUser
		}
		seen[split.UserID] = struct{}{}
		sum += split.AmountOwed
	}
	if sum != totalAmount {
		return invoicedomain.ErrSplitSumMismatch
	}
	return nil
}

func (s *Service) Create(ctx context.Context, req invoicedomain.CreateInvoiceRequest) (invoicedomain.Invoice, error) {
	if !invoicedomain.ValidInvoiceType(req.Type) {
		return invoicedomain.Invoice{}, invoicedomain.ErrInvalidType
	}
	if req.TotalAmount <= 0 {
		return invoicedomain.Invoice{}, invoicedomain.ErrInvalidAmount
	}
	if err := ValidateSplits(req.TotalAmount, req.Splits); err != nil {
		return invoicedomain.Invoice{}, err
	}

	now := s.clock.Now()
	inv := invoicedomain.Invoice{
		ID:          s.genID.Generate(),
		PropertyID:  req.PropertyID,
		Type:        req.Type,
		Description: strings.TrimSpace(req.Description),
		TotalAmount: req.TotalAmount,
		Status:      invoicedomain.InvoiceStatusOpen,
		DueDate:     req.DueDate.UTC(),
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if req.Draft {
		inv.Status = invoicedomain.InvoiceStatusDraft
	} else {
		issued := now
		inv.IssuedDate = &issued
	}

	payments := make([]invoicedomain.InvoicePayment, 0, len(req.Splits))
	for _, split := range req.Splits {
		payments = append(payments, invoicedomain.InvoicePayment{
			ID:         s.genID.Generate(),
			InvoiceID:  inv.ID,
			UserID:     split.UserID,
			AmountOwed: split.AmountOwed,
			Status:     invoicedomain.PaymentStatusPending,
			CreatedAt:  now,
			UpdatedAt:  now,
		})
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&inv).Error; err != nil {
			return err
		}
		return tx.Create(&payments).Error
	})
	if err != nil {
		return invoicedomain.Invoice{}, err
	}

	s.audit(ctx, inv, "invoice.create", map[string]any{
		"type":   string(inv.Type),
		"total":  inv.TotalAmount,
		"splits": len(payments),
		"draft":  req.Draft,
	})
	inv.Payments = payments
	return inv, nil
}

func (s *Service) GetByID(ctx context.Context, id snowflake.ID) (invoicedomain.Invoice, error) {
	// Readers must never see a status the calendar has already invalidated.
	if err := s.Reconcile(ctx, id); err != nil {
		s.log.Warn("reconcile before read failed",
			zap.String("invoice_id", id.String()),
			zap.Error(err),
		)
	}

	inv, err := s.repo.FindInvoice(ctx, s.db, id)
	if err != nil {
		return invoicedomain.Invoice{}, err
	}
	if inv == nil {
		return invoicedomain.Invoice{}, invoicedomain.ErrNotFound
	}
	payments, err := s.repo.FindPayments(ctx, s.db, id)
	if err != nil {
		return invoicedomain.Invoice{}, err
	}
	inv.Payments = payments
	return *inv, nil
}

func (s *Service) List(ctx context.Context, req invoicedomain.ListInvoiceRequest) (invoicedomain.ListInvoiceResponse, error) {
	// Sweep first so listings never serve OPEN for invoices the calendar
	// has already pushed past due. Scoped to the property filter when one
	// is set; a sweep failure degrades to possibly stale statuses.
	var scope []snowflake.ID
	if req.PropertyID != 0 {
		scope = []snowflake.ID{req.PropertyID}
	}
	if _, err := s.SweepOverdue(ctx, scope); err != nil {
		s.log.Warn("overdue sweep before list failed", zap.Error(err))
	}

	limit := int(req.PageSize)
	if limit <= 0 {
		limit = 10
	}

	query := s.db.WithContext(ctx).Model(&invoicedomain.Invoice{}).Order("id DESC")
	if req.PropertyID != 0 {
		query = query.Where("property_id = ?", req.PropertyID)
	}
	if req.Status != "" {
		query = query.Where("status = ?", req.Status)
	}
	if req.Type != "" {
		query = query.Where("type = ?", req.Type)
	}
	if req.DueFrom != nil {
		query = query.Where("due_date >= ?", *req.DueFrom)
	}
	if req.DueTo != nil {
		query = query.Where("due_date <= ?", *req.DueTo)
	}
	if token := strings.TrimSpace(req.PageToken); token != "" {
		cursor, err := pagination.DecodeCursor(token)
		if err != nil {
			return invoicedomain.ListInvoiceResponse{}, err
		}
		lastID, err := strconv.ParseInt(cursor.ID, 10, 64)
		if err != nil {
			return invoicedomain.ListInvoiceResponse{}, err
		}
		query = query.Where("id < ?", lastID)
	}

	var rows []*invoicedomain.Invoice
	if err := query.Limit(limit + 1).Find(&rows).Error; err != nil {
		return invoicedomain.ListInvoiceResponse{}, err
	}

	pageInfo := pagination.BuildCursorPageInfo(rows, int32(limit), func(inv *invoicedomain.Invoice) string {
		token, _ := pagination.EncodeCursor(pagination.Cursor{ID: strconv.FormatInt(int64(inv.ID), 10)})
		return token
	})
	if len(rows) > limit {
		rows = rows[:limit]
	}

	invoices := make([]invoicedomain.Invoice, 0, len(rows))
	for _, row := range rows {
		invoices = append(invoices, *row)
	}
	return invoicedomain.ListInvoiceResponse{PageInfo: *pageInfo, Invoices: invoices}, nil
}

func (s *Service) Issue(ctx context.Context, id snowflake.ID) error {
	inv, err := s.repo.FindInvoice(ctx, s.db, id)
	if err != nil {
		return err
	}
	if inv == nil {
		return invoicedomain.ErrNotFound
	}
	if inv.Status != invoicedomain.InvoiceStatusDraft {
		return invoicedomain.ErrNotDraft
	}

	now := s.clock.Now()
	err = s.db.WithContext(ctx).Exec(
		`UPDATE invoices
		 SET status = ?, issued_date = ?, updated_at = ?
		 WHERE id = ? AND status = ?`,
		invoicedomain.InvoiceStatusOpen,
		now,
		now,
		id,
		invoicedomain.InvoiceStatusDraft,
	).Error
	if err != nil {
		return err
	}

	s.audit(ctx, *inv, "invoice.issue", nil)
	return s.Reconcile(ctx, id)
}

func (s *Service) Void(ctx context.Context, id snowflake.ID, reason string) error {
	inv, err := s.repo.FindInvoice(ctx, s.db, id)
	if err != nil {
		return err
	}
	if inv == nil {
		return invoicedomain.ErrNotFound
	}
	if inv.Status == invoicedomain.InvoiceStatusVoid {
		return invoicedomain.ErrAlreadyVoid
	}

	now := s.clock.Now()
	if err := s.db.WithContext(ctx).Exec(
		`UPDATE invoices SET status = ?, updated_at = ? WHERE id = ?`,
		invoicedomain.InvoiceStatusVoid,
		now,
		id,
	).Error; err != nil {
		return err
	}

	s.audit(ctx, *inv, "invoice.void", map[string]any{"reason": strings.TrimSpace(reason)})
	return nil
}

func (s *Service) Delete(ctx context.Context, id snowflake.ID) error {
	inv, err := s.repo.FindInvoice(ctx, s.db, id)
	if err != nil {
		return err
	}
	if inv == nil {
		return invoicedomain.ErrNotFound
	}
	if err := s.repo.DeleteInvoice(ctx, s.db, id); err != nil {
		return err
	}
	s.audit(ctx, *inv, "invoice.delete", nil)
	return nil
}

func (s *Service) Reconcile(ctx context.Context, id snowflake.ID) error {
	_, err := s.reconcile(ctx, id)
	return err
}

// reconcile reports whether the invoice status actually changed so the
// sweep can count real updates.
func (s *Service) reconcile(ctx context.Context, id snowflake.ID) (bool, error) {
	inv, err := s.repo.FindInvoice(ctx, s.db, id)
	if err != nil {
		return false, err
	}
	if inv == nil {
		// Deleted between listing and reconciling; nothing to do.
		return false, nil
	}
	if !inv.Status.Derived() {
		return false, nil
	}

	payments, err := s.repo.FindPayments(ctx, s.db, id)
	if err != nil {
		return false, err
	}

	var owedSum int64
	for _, p := range payments {
		owedSum += p.AmountOwed
	}
	if owedSum != inv.TotalAmount {
		// Creation-time invariant violated upstream. Surface it loudly
		// but do not repair: the owed figures are the landlord's record.
		s.log.Error("accounting integrity violation",
			zap.String("invoice_id", inv.ID.String()),
			zap.Int64("total_amount", inv.TotalAmount),
			zap.Int64("owed_sum", owedSum),
			zap.Error(invoicedomain.ErrIntegrityViolation),
		)
	}

	now := s.clock.Now()
	policy := s.policy()

	for _, p := range payments {
		mirror := DerivePaymentStatus(*inv, p, now, policy)
		if mirror == p.Status {
			continue
		}
		if _, err := s.repo.UpdatePaymentStatus(ctx, s.db, p.ID, mirror, now); err != nil {
			return false, err
		}
	}

	derived := DeriveStatus(*inv, payments, now, policy)
	if derived == inv.Status {
		return false, nil
	}
	changed, err := s.repo.UpdateInvoiceStatus(ctx, s.db, id, derived, now)
	if err != nil {
		return false, err
	}
	if changed {
		s.log.Debug("invoice status reconciled",
			zap.String("invoice_id", inv.ID.String()),
			zap.String("from", string(inv.Status)),
			zap.String("to", string(derived)),
		)
	}
	return changed, nil
}

func (s *Service) SweepOverdue(ctx context.Context, propertyIDs []snowflake.ID) (invoicedomain.SweepResult, error) {
	now := s.clock.Now()
	batch := s.policy().SweepBatchSize

	ids, err := s.repo.ListSweepCandidates(ctx, s.db, now, propertyIDs, batch)
	if err != nil {
		return invoicedomain.SweepResult{}, err
	}

	result := invoicedomain.SweepResult{}
	for _, id := range ids {
		if ctx.Err() != nil {
			return result, ctx.Err()
		}
		changed, err := s.reconcile(ctx, id)
		if err != nil {
			return result, err
		}
		result.Checked++
		if changed {
			result.Updated++
		}
	}

	obsmetrics.Scheduler().AddSweepCounts(result.Checked, result.Updated)
	return result, nil
}

func (s *Service) audit(ctx context.Context, inv invoicedomain.Invoice, action string, metadata map[string]any) {
	if s.auditSvc == nil {
		return
	}
	propertyID := inv.PropertyID
	targetID := inv.ID.String()
	_ = s.auditSvc.AuditLog(ctx, &propertyID, auditdomain.ActorTypeLandlord, nil, action, "invoice", &targetID, metadata)
}
