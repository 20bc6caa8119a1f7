package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

// Repository isolates the SQL needed by reconciliation and the sweep. The
// db handle is passed per call so services can run it inside transactions.
type Repository interface {
	FindInvoice(ctx context.Context, db *gorm.DB, id snowflake.ID) (*Invoice, error)
	FindPayments(ctx context.Context, db *gorm.DB, invoiceID snowflake.ID) ([]InvoicePayment, error)

	// UpdateInvoiceStatus writes the status only when it differs from the
	// stored value and reports whether a row changed.
	UpdateInvoiceStatus(ctx context.Context, db *gorm.DB, id snowflake.ID, status InvoiceStatus, now time.Time) (bool, error)
	UpdatePaymentStatus(ctx context.Context, db *gorm.DB, id snowflake.ID, status PaymentStatus, now time.Time) (bool, error)

	// ListSweepCandidates returns non-terminal invoices whose due date has
	// passed, optionally scoped to properties.
	ListSweepCandidates(ctx context.Context, db *gorm.DB, now time.Time, propertyIDs []snowflake.ID, limit int) ([]snowflake.ID, error)

	DeleteInvoice(ctx context.Context, db *gorm.DB, id snowflake.ID) error
}
