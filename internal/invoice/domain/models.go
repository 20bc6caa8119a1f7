// Package domain contains persistence models for property invoicing.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

// InvoiceStatus represents invoice lifecycle states. OPEN, PARTIAL, PAID and
// OVERDUE are derived from payment rows and never written by user input;
// DRAFT and VOID are administrative and set only by explicit landlord action.
type InvoiceStatus string

const (
	InvoiceStatusDraft   InvoiceStatus = "DRAFT"
	InvoiceStatusOpen    InvoiceStatus = "OPEN"
	InvoiceStatusPartial InvoiceStatus = "PARTIAL"
	InvoiceStatusPaid    InvoiceStatus = "PAID"
	InvoiceStatusOverdue InvoiceStatus = "OVERDUE"
	InvoiceStatusVoid    InvoiceStatus = "VOID"
)

// Derived reports whether the status belongs to the recomputed branch.
func (s InvoiceStatus) Derived() bool {
	switch s {
	case InvoiceStatusOpen, InvoiceStatusPartial, InvoiceStatusPaid, InvoiceStatusOverdue:
		return true
	default:
		return false
	}
}

// Terminal reports whether the overdue sweep may skip the invoice.
func (s InvoiceStatus) Terminal() bool {
	return s == InvoiceStatusPaid || s == InvoiceStatusVoid
}

// InvoiceType classifies what a bill covers.
type InvoiceType string

const (
	InvoiceTypeRent        InvoiceType = "RENT"
	InvoiceTypeWater       InvoiceType = "WATER"
	InvoiceTypeElectricity InvoiceType = "ELECTRICITY"
	InvoiceTypeGas         InvoiceType = "GAS"
	InvoiceTypeInternet    InvoiceType = "INTERNET"
	InvoiceTypeMaintenance InvoiceType = "MAINTENANCE"
	InvoiceTypeOther       InvoiceType = "OTHER"
)

// ValidInvoiceType reports whether t is a known invoice type.
func ValidInvoiceType(t InvoiceType) bool {
	switch t {
	case InvoiceTypeRent, InvoiceTypeWater, InvoiceTypeElectricity,
		InvoiceTypeGas, InvoiceTypeInternet, InvoiceTypeMaintenance, InvoiceTypeOther:
		return true
	default:
		return false
	}
}

// Invoice is a bill issued against a property, split across one or more
// tenants. TotalAmount is in the currency's minor unit.
type Invoice struct {
	ID                 snowflake.ID      `gorm:"primaryKey"`
	PropertyID         snowflake.ID      `gorm:"not null;index"`
	Type               InvoiceType       `gorm:"type:text;not null"`
	Description        string            `gorm:"type:text"`
	TotalAmount        int64             `gorm:"not null"`
	Status             InvoiceStatus     `gorm:"type:text;not null;default:'OPEN';index:idx_invoices_status_due,priority:1"`
	DueDate            time.Time         `gorm:"not null;index:idx_invoices_status_due,priority:2"`
	IssuedDate         *time.Time        `gorm:""`
	RecurringInvoiceID *snowflake.ID     `gorm:"index"`
	Metadata           datatypes.JSONMap `gorm:"type:jsonb"`
	CreatedAt          time.Time         `gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt          time.Time         `gorm:"not null;default:CURRENT_TIMESTAMP"`

	Payments []InvoicePayment `gorm:"foreignKey:InvoiceID;constraint:OnDelete:CASCADE"`
}

// TableName sets the database table name.
func (Invoice) TableName() string { return "invoices" }

// PaymentStatus mirrors a tenant share's progress. It is informational; the
// authoritative state lives on the invoice.
type PaymentStatus string

const (
	PaymentStatusPending PaymentStatus = "PENDING"
	PaymentStatusPartial PaymentStatus = "PARTIAL"
	PaymentStatusPaid    PaymentStatus = "PAID"
	PaymentStatusOverdue PaymentStatus = "OVERDUE"
)

// ExtensionStatus tracks a tenant's due-date extension request.
type ExtensionStatus string

const (
	ExtensionStatusNone     ExtensionStatus = "NONE"
	ExtensionStatusPending  ExtensionStatus = "PENDING"
	ExtensionStatusApproved ExtensionStatus = "APPROVED"
	ExtensionStatusRejected ExtensionStatus = "REJECTED"
)

// InvoicePayment is one tenant's fixed share of an invoice. The sum of
// AmountOwed across an invoice's payments always equals the invoice total;
// this is enforced at creation time and never silently repaired.
type InvoicePayment struct {
	ID                     snowflake.ID    `gorm:"primaryKey"`
	InvoiceID              snowflake.ID    `gorm:"not null;index"`
	UserID                 snowflake.ID    `gorm:"not null;index"`
	AmountOwed             int64           `gorm:"not null"`
	AmountPaid             int64           `gorm:"not null;default:0"`
	Status                 PaymentStatus   `gorm:"type:text;not null;default:'PENDING'"`
	PaidAt                 *time.Time      `gorm:""`
	TenantMarkedPaidAt     *time.Time      `gorm:""`
	PaymentReference       string          `gorm:"type:text"`
	ExtensionStatus        ExtensionStatus `gorm:"type:text;not null;default:'NONE'"`
	ExtensionRequestedDate *time.Time      `gorm:""`
	ExtensionReason        string          `gorm:"type:text"`
	ExtensionRequestedDays int             `gorm:"not null;default:0"`
	DueDateExtensionDays   int             `gorm:"not null;default:0"`
	AdminNote              string          `gorm:"type:text"`
	CreatedAt              time.Time       `gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt              time.Time       `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (InvoicePayment) TableName() string { return "invoice_payments" }

// EffectiveDueDate returns the invoice due date shifted by this tenant's
// extension days when the extension state permits it. Approval is what sets
// DueDateExtensionDays; a still-pending request only carries the days it
// asked for, so a policy that honors PENDING reads those instead.
func (p InvoicePayment) EffectiveDueDate(dueDate time.Time, applies func(status string) bool) time.Time {
	if applies != nil && !applies(string(p.ExtensionStatus)) {
		return dueDate
	}
	days := p.DueDateExtensionDays
	if p.ExtensionStatus == ExtensionStatusPending {
		days = p.ExtensionRequestedDays
	}
	if days <= 0 {
		return dueDate
	}
	return dueDate.AddDate(0, 0, days)
}
