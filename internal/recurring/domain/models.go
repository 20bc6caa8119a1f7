// Package domain contains persistence models for recurring invoice schedules.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	invoicedomain "github.com/leaseworks/leaseworks/internal/invoice/domain"
)

// Frequency is the schedule cadence.
type Frequency string

const (
	FrequencyWeekly      Frequency = "WEEKLY"
	FrequencyFortnightly Frequency = "FORTNIGHTLY"
	FrequencyMonthly     Frequency = "MONTHLY"
	FrequencyYearly      Frequency = "YEARLY"
)

// ValidFrequency reports whether f is a known cadence.
func ValidFrequency(f Frequency) bool {
	switch f {
	case FrequencyWeekly, FrequencyFortnightly, FrequencyMonthly, FrequencyYearly:
		return true
	default:
		return false
	}
}

// Advance moves t forward by one cycle. Monthly and yearly use calendar
// arithmetic so a monthly schedule stays anchored to its day of month.
func (f Frequency) Advance(t time.Time) time.Time {
	switch f {
	case FrequencyWeekly:
		return t.AddDate(0, 0, 7)
	case FrequencyFortnightly:
		return t.AddDate(0, 0, 14)
	case FrequencyMonthly:
		return t.AddDate(0, 1, 0)
	case FrequencyYearly:
		return t.AddDate(1, 0, 0)
	default:
		return t
	}
}

// RecurringInvoice is a template that periodically materializes invoices.
// NextRunDate is the cursor: it marks when the next invoice is due to be
// generated and only ever moves forward.
type RecurringInvoice struct {
	ID            snowflake.ID              `gorm:"primaryKey"`
	PropertyID    snowflake.ID              `gorm:"not null;index"`
	Type          invoicedomain.InvoiceType `gorm:"type:text;not null"`
	Description   string                    `gorm:"type:text"`
	TotalAmount   int64                     `gorm:"not null"`
	Frequency     Frequency                 `gorm:"type:text;not null"`
	Active        bool                      `gorm:"not null;default:true;index:idx_recurring_active_next,priority:1"`
	NextRunDate   time.Time                 `gorm:"not null;index:idx_recurring_active_next,priority:2"`
	DueDaysOffset int                       `gorm:"not null;default:0"`
	EndDate       *time.Time                `gorm:""`
	CreatedAt     time.Time                 `gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt     time.Time                 `gorm:"not null;default:CURRENT_TIMESTAMP"`

	Splits []RecurringInvoiceSplit `gorm:"foreignKey:RecurringInvoiceID;constraint:OnDelete:CASCADE"`
}

// TableName sets the database table name.
func (RecurringInvoice) TableName() string { return "recurring_invoices" }

// RecurringInvoiceSplit is one tenant's fixed per-cycle share.
type RecurringInvoiceSplit struct {
	ID                 snowflake.ID `gorm:"primaryKey"`
	RecurringInvoiceID snowflake.ID `gorm:"not null;index"`
	UserID             snowflake.ID `gorm:"not null;index"`
	AmountOwed         int64        `gorm:"not null"`
	CreatedAt          time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (RecurringInvoiceSplit) TableName() string { return "recurring_invoice_splits" }
