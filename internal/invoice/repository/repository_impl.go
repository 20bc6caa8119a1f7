package repository

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/leaseworks/leaseworks/internal/invoice/domain"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) FindInvoice(ctx context.Context, db *gorm.DB, id snowflake.ID) (*domain.Invoice, error) {
	var item domain.Invoice
	err := db.WithContext(ctx).Raw(
		`SELECT id, property_id, type, description, total_amount, status,
			due_date, issued_date, recurring_invoice_id, created_at, updated_at
		 FROM invoices
		 WHERE id = ?
		 LIMIT 1`,
		id,
	).Scan(&item).Error
	if err != nil {
		return nil, err
	}
	if item.ID == 0 {
		return nil, nil
	}
	return &item, nil
}

func (r *repo) FindPayments(ctx context.Context, db *gorm.DB, invoiceID snowflake.ID) ([]domain.InvoicePayment, error) {
	var items []domain.InvoicePayment
	err := db.WithContext(ctx).Raw(
		`SELECT id, invoice_id, user_id, amount_owed, amount_paid, status,
			paid_at, tenant_marked_paid_at, payment_reference,
			extension_status, extension_requested_date, extension_reason,
			extension_requested_days, due_date_extension_days,
			admin_note, created_at, updated_at
		 FROM invoice_payments
		 WHERE invoice_id = ?
		 ORDER BY id`,
		invoiceID,
	).Scan(&items).Error
	if err != nil {
		return nil, err
	}
	return items, nil
}

func (r *repo) UpdateInvoiceStatus(ctx context.Context, db *gorm.DB, id snowflake.ID, status domain.InvoiceStatus, now time.Time) (bool, error) {
	res := db.WithContext(ctx).Exec(
		`UPDATE invoices
		 SET status = ?, updated_at = ?
		 WHERE id = ? AND status <> ?`,
		status,
		now,
		id,
		status,
	)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *repo) UpdatePaymentStatus(ctx context.Context, db *gorm.DB, id snowflake.ID, status domain.PaymentStatus, now time.Time) (bool, error) {
	res := db.WithContext(ctx).Exec(
		`UPDATE invoice_payments
		 SET status = ?, updated_at = ?
		 WHERE id = ? AND status <> ?`,
		status,
		now,
		id,
		status,
	)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *repo) ListSweepCandidates(ctx context.Context, db *gorm.DB, now time.Time, propertyIDs []snowflake.ID, limit int) ([]snowflake.ID, error) {
	// Served by idx_invoices_status_due so the sweep stays cheap as invoice
	// volume grows.
	query := db.WithContext(ctx).
		Table("invoices").
		Select("id").
		Where("status NOT IN ?", []domain.InvoiceStatus{
			domain.InvoiceStatusPaid,
			domain.InvoiceStatusVoid,
			domain.InvoiceStatusDraft,
		}).
		Where("due_date < ?", now).
		Order("due_date, id")
	if len(propertyIDs) > 0 {
		query = query.Where("property_id IN ?", propertyIDs)
	}
	if limit > 0 {
		query = query.Limit(limit)
	}

	var ids []snowflake.ID
	if err := query.Scan(&ids).Error; err != nil {
		return nil, err
	}
	return ids, nil
}

func (r *repo) DeleteInvoice(ctx context.Context, db *gorm.DB, id snowflake.ID) error {
	// Payments first so stores without FK cascade stay consistent.
	return db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Exec(`DELETE FROM invoice_payments WHERE invoice_id = ?`, id).Error; err != nil {
			return err
		}
		return tx.Exec(`DELETE FROM invoices WHERE id = ?`, id).Error
	})
}
