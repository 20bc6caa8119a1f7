package service

import (
	"context"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	auditdomain "github.com/leaseworks/leaseworks/internal/audit/domain"
	"github.com/leaseworks/leaseworks/internal/clock"
	invoicedomain "github.com/leaseworks/leaseworks/internal/invoice/domain"
	invoiceservice "github.com/leaseworks/leaseworks/internal/invoice/service"
	obsmetrics "github.com/leaseworks/leaseworks/internal/observability/metrics"
	recurringdomain "github.com/leaseworks/leaseworks/internal/recurring/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB       *gorm.DB
	Log      *zap.Logger
	GenID    *snowflake.Node
	Clock    clock.Clock
	AuditSvc auditdomain.Service `optional:"true"`
}

type Service struct {
	db       *gorm.DB
	log      *zap.Logger
	genID    *snowflake.Node
	clock    clock.Clock
	auditSvc auditdomain.Service
}

func NewService(p Params) recurringdomain.Service {
	return &Service{
		db:       p.DB,
		log:      p.Log.Named("recurring.service"),
		genID:    p.GenID,
		clock:    p.Clock,
		auditSvc: p.AuditSvc,
	}
}

func (s *Service) Create(ctx context.Context, req recurringdomain.CreateScheduleRequest) (recurringdomain.RecurringInvoice, error) {
	if !invoicedomain.ValidInvoiceType(req.Type) {
		return recurringdomain.RecurringInvoice{}, invoicedomain.ErrInvalidType
	}
	if !recurringdomain.ValidFrequency(req.Frequency) {
		return recurringdomain.RecurringInvoice{}, recurringdomain.ErrInvalidFrequency
	}
	if req.TotalAmount <= 0 {
		return recurringdomain.RecurringInvoice{}, invoicedomain.ErrInvalidAmount
	}
	if err := invoiceservice.ValidateSplits(req.TotalAmount, req.Splits); err != nil {
		return recurringdomain.RecurringInvoice{}, err
	}

	now := s.clock.Now()
	nextRun := req.NextRunDate.UTC()
	if nextRun.IsZero() {
		nextRun = now
	}

	schedule := recurringdomain.RecurringInvoice{
		ID:            s.genID.Generate(),
		PropertyID:    req.PropertyID,
		Type:          req.Type,
		Description:   strings.TrimSpace(req.Description),
		TotalAmount:   req.TotalAmount,
		Frequency:     req.Frequency,
		Active:        true,
		NextRunDate:   nextRun,
		DueDaysOffset: req.DueDaysOffset,
		EndDate:       req.EndDate,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	splits := make([]recurringdomain.RecurringInvoiceSplit, 0, len(req.Splits))
	for _, split := range req.Splits {
		splits = append(splits, recurringdomain.RecurringInvoiceSplit{
			ID:                 s.genID.Generate(),
			RecurringInvoiceID: schedule.ID,
			UserID:             split.UserID,
			AmountOwed:         split.AmountOwed,
			CreatedAt:          now,
		})
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&schedule).Error; err != nil {
			return err
		}
		return tx.Create(&splits).Error
	})
	if err != nil {
		return recurringdomain.RecurringInvoice{}, err
	}

	s.audit(ctx, schedule, auditdomain.ActorTypeLandlord, "recurring.create", map[string]any{
		"frequency": string(schedule.Frequency),
		"total":     schedule.TotalAmount,
	})
	schedule.Splits = splits
	return schedule, nil
}

func (s *Service) Update(ctx context.Context, req recurringdomain.UpdateScheduleRequest) (recurringdomain.RecurringInvoice, error) {
	existing, err := s.GetByID(ctx, req.ID)
	if err != nil {
		return recurringdomain.RecurringInvoice{}, err
	}

	if req.Description != nil {
		existing.Description = strings.TrimSpace(*req.Description)
	}
	if req.TotalAmount != nil {
		if *req.TotalAmount <= 0 {
			return recurringdomain.RecurringInvoice{}, invoicedomain.ErrInvalidAmount
		}
		existing.TotalAmount = *req.TotalAmount
	}
	if req.Frequency != nil {
		if !recurringdomain.ValidFrequency(*req.Frequency) {
			return recurringdomain.RecurringInvoice{}, recurringdomain.ErrInvalidFrequency
		}
		existing.Frequency = *req.Frequency
	}
	if req.NextRunDate != nil {
		existing.NextRunDate = req.NextRunDate.UTC()
	}
	if req.DueDaysOffset != nil {
		existing.DueDaysOffset = *req.DueDaysOffset
	}
	if req.EndDate != nil {
		existing.EndDate = req.EndDate
	}

	// Splits are replaced wholesale so the sum invariant is re-checked in
	// one place rather than patched per row.
	var newSplits []recurringdomain.RecurringInvoiceSplit
	if req.Splits != nil {
		if err := invoiceservice.ValidateSplits(existing.TotalAmount, req.Splits); err != nil {
			return recurringdomain.RecurringInvoice{}, err
		}
		now := s.clock.Now()
		for _, split := range req.Splits {
			newSplits = append(newSplits, recurringdomain.RecurringInvoiceSplit{
				ID:                 s.genID.Generate(),
				RecurringInvoiceID: existing.ID,
				UserID:             split.UserID,
				AmountOwed:         split.AmountOwed,
				CreatedAt:          now,
			})
		}
	} else if req.TotalAmount != nil {
		// A new total with the old splits would break the invariant.
		var sum int64
		for _, split := range existing.Splits {
			sum += split.AmountOwed
		}
		if sum != existing.TotalAmount {
			return recurringdomain.RecurringInvoice{}, invoicedomain.ErrSplitSumMismatch
		}
	}

	existing.UpdatedAt = s.clock.Now()
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&recurringdomain.RecurringInvoice{}).
			Where("id = ?", existing.ID).
			Updates(map[string]any{
				"description":     existing.Description,
				"total_amount":    existing.TotalAmount,
				"frequency":       existing.Frequency,
				"next_run_date":   existing.NextRunDate,
				"due_days_offset": existing.DueDaysOffset,
				"end_date":        existing.EndDate,
				"updated_at":      existing.UpdatedAt,
			}).Error; err != nil {
			return err
		}
		if newSplits == nil {
			return nil
		}
		if err := tx.Exec(`DELETE FROM recurring_invoice_splits WHERE recurring_invoice_id = ?`, existing.ID).Error; err != nil {
			return err
		}
		return tx.Create(&newSplits).Error
	})
	if err != nil {
		return recurringdomain.RecurringInvoice{}, err
	}
	if newSplits != nil {
		existing.Splits = newSplits
	}

	s.audit(ctx, existing, auditdomain.ActorTypeLandlord, "recurring.update", nil)
	return existing, nil
}

func (s *Service) GetByID(ctx context.Context, id snowflake.ID) (recurringdomain.RecurringInvoice, error) {
	var schedule recurringdomain.RecurringInvoice
	err := s.db.WithContext(ctx).
		Preload("Splits").
		First(&schedule, "id = ?", id).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return recurringdomain.RecurringInvoice{}, recurringdomain.ErrNotFound
		}
		return recurringdomain.RecurringInvoice{}, err
	}
	return schedule, nil
}

func (s *Service) List(ctx context.Context, req recurringdomain.ListScheduleRequest) (recurringdomain.ListScheduleResponse, error) {
	query := s.db.WithContext(ctx).Model(&recurringdomain.RecurringInvoice{}).Order("id")
	if req.PropertyID != 0 {
		query = query.Where("property_id = ?", req.PropertyID)
	}
	if req.ActiveOnly {
		query = query.Where("active = ?", true)
	}

	var schedules []recurringdomain.RecurringInvoice
	if err := query.Preload("Splits").Find(&schedules).Error; err != nil {
		return recurringdomain.ListScheduleResponse{}, err
	}
	return recurringdomain.ListScheduleResponse{Schedules: schedules}, nil
}

func (s *Service) Toggle(ctx context.Context, id snowflake.ID, active bool) error {
	res := s.db.WithContext(ctx).Exec(
		`UPDATE recurring_invoices SET active = ?, updated_at = ? WHERE id = ?`,
		active,
		s.clock.Now(),
		id,
	)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return recurringdomain.ErrNotFound
	}

	action := "recurring.deactivate"
	if active {
		action = "recurring.activate"
	}
	s.audit(ctx, recurringdomain.RecurringInvoice{ID: id}, auditdomain.ActorTypeLandlord, action, nil)
	return nil
}

func (s *Service) Delete(ctx context.Context, id snowflake.ID) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Exec(`DELETE FROM recurring_invoice_splits WHERE recurring_invoice_id = ?`, id).Error; err != nil {
			return err
		}
		res := tx.Exec(`DELETE FROM recurring_invoices WHERE id = ?`, id)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return recurringdomain.ErrNotFound
		}
		return nil
	})
}

func (s *Service) ProcessDueInvoices(ctx context.Context) (recurringdomain.GenerationResult, error) {
	now := s.clock.Now()
	result := recurringdomain.GenerationResult{}

	var due []recurringdomain.RecurringInvoice
	err := s.db.WithContext(ctx).
		Where("active = ? AND next_run_date <= ?", true, now).
		Order("next_run_date, id").
		Find(&due).Error
	if err != nil {
		return result, err
	}

	schedMetrics := obsmetrics.Scheduler()
	for _, schedule := range due {
		if ctx.Err() != nil {
			return result, ctx.Err()
		}

		if schedule.EndDate != nil && schedule.EndDate.Before(now) {
			if err := s.retire(ctx, schedule.ID, now); err != nil {
				result.Errors++
				schedMetrics.IncGenerateError(obsmetrics.GeneratorStageRetire)
				s.log.Error("schedule retirement failed",
					zap.String("schedule_id", schedule.ID.String()),
					zap.Error(err),
				)
				continue
			}
			result.Retired++
			continue
		}

		generated, err := s.generateOne(ctx, schedule, now)
		if err != nil {
			result.Errors++
			schedMetrics.IncGenerateError(obsmetrics.GeneratorStageGenerate)
			s.log.Error("invoice generation failed",
				zap.String("schedule_id", schedule.ID.String()),
				zap.Error(err),
			)
			continue
		}
		if generated {
			result.Generated++
		}
	}

	schedMetrics.AddGenerated(result.Generated)
	return result, nil
}

func (s *Service) retire(ctx context.Context, id snowflake.ID, now time.Time) error {
	return s.db.WithContext(ctx).Exec(
		`UPDATE recurring_invoices SET active = ?, updated_at = ? WHERE id = ?`,
		false,
		now,
		id,
	).Error
}

// generateOne creates the invoice for one due cycle and advances the
// schedule cursor in the same transaction. The cursor update is guarded
// by the cursor's prior value so two concurrent passes cannot generate
// the same cycle twice; the loser rolls back and reports no work.
func (s *Service) generateOne(ctx context.Context, schedule recurringdomain.RecurringInvoice, now time.Time) (bool, error) {
	var splits []recurringdomain.RecurringInvoiceSplit
	err := s.db.WithContext(ctx).
		Where("recurring_invoice_id = ?", schedule.ID).
		Order("id").
		Find(&splits).Error
	if err != nil {
		return false, err
	}

	splitInputs := make([]invoicedomain.SplitInput, 0, len(splits))
	for _, split := range splits {
		splitInputs = append(splitInputs, invoicedomain.SplitInput{
			UserID:     split.UserID,
			AmountOwed: split.AmountOwed,
		})
	}
	if err := invoiceservice.ValidateSplits(schedule.TotalAmount, splitInputs); err != nil {
		return false, err
	}

	scheduleID := schedule.ID
	invoice := invoicedomain.Invoice{
		ID:                 s.genID.Generate(),
		PropertyID:         schedule.PropertyID,
		Type:               schedule.Type,
		Description:        schedule.Description,
		TotalAmount:        schedule.TotalAmount,
		Status:             invoicedomain.InvoiceStatusOpen,
		DueDate:            now.AddDate(0, 0, schedule.DueDaysOffset),
		IssuedDate:         &now,
		RecurringInvoiceID: &scheduleID,
		CreatedAt:          now,
		UpdatedAt:          now,
	}
	payments := make([]invoicedomain.InvoicePayment, 0, len(splits))
	for _, split := range splits {
		payments = append(payments, invoicedomain.InvoicePayment{
			ID:              s.genID.Generate(),
			InvoiceID:       invoice.ID,
			UserID:          split.UserID,
			AmountOwed:      split.AmountOwed,
			Status:          invoicedomain.PaymentStatusPending,
			ExtensionStatus: invoicedomain.ExtensionStatusNone,
			CreatedAt:       now,
			UpdatedAt:       now,
		})
	}
	nextRun := schedule.Frequency.Advance(schedule.NextRunDate)

	generated := false
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Exec(
			`UPDATE recurring_invoices SET next_run_date = ?, updated_at = ? WHERE id = ? AND next_run_date = ?`,
			nextRun,
			now,
			schedule.ID,
			schedule.NextRunDate,
		)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			// Another pass already advanced this cycle.
			return nil
		}
		if err := tx.Create(&invoice).Error; err != nil {
			return err
		}
		if len(payments) > 0 {
			if err := tx.Create(&payments).Error; err != nil {
				return err
			}
		}
		generated = true
		return nil
	})
	if err != nil {
		return false, err
	}
	if !generated {
		return false, nil
	}

	s.audit(ctx, schedule, auditdomain.ActorTypeSystem, "recurring.generate", map[string]any{
		"invoice_id":    invoice.ID.String(),
		"next_run_date": nextRun.Format(time.RFC3339),
	})
	return true, nil
}

func (s *Service) audit(ctx context.Context, schedule recurringdomain.RecurringInvoice, actorType string, action string, metadata map[string]any) {
	if s.auditSvc == nil {
		return
	}
	var propertyID *snowflake.ID
	if schedule.PropertyID != 0 {
		id := schedule.PropertyID
		propertyID = &id
	}
	targetID := schedule.ID.String()
	_ = s.auditSvc.AuditLog(ctx, propertyID, actorType, nil, action, "recurring_invoice", &targetID, metadata)
}
