package config

import (
	"errors"
	"fmt"
	"log"
	"strings"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// BillingConfig carries billing policy knobs that operators may tune at
// runtime without a restart.
type BillingConfig struct {
	// ExtensionApplyStatuses lists the per-tenant extension states whose
	// dueDateExtensionDays count toward the effective due date. The
	// historical behavior applies days for both APPROVED and NONE (a
	// landlord can set days directly without a tenant request), so that
	// is the default rather than a silent "approved only" fix.
	ExtensionApplyStatuses []string `mapstructure:"extensionApplyStatuses"`

	// OverdueGraceDays shifts every overdue comparison by a flat number
	// of days. Zero means invoices turn overdue the day after due.
	OverdueGraceDays int `mapstructure:"overdueGraceDays"`

	// SweepBatchSize bounds how many stale invoices a single overdue
	// sweep pass reconciles.
	SweepBatchSize int `mapstructure:"sweepBatchSize"`
}

func DefaultBillingConfig() BillingConfig {
	return BillingConfig{
		ExtensionApplyStatuses: []string{"APPROVED", "NONE"},
		OverdueGraceDays:       0,
		SweepBatchSize:         500,
	}
}

// AppliesExtension reports whether extension days in the given state count
// toward the effective due date.
func (c BillingConfig) AppliesExtension(status string) bool {
	for _, s := range c.ExtensionApplyStatuses {
		if strings.EqualFold(s, status) {
			return true
		}
	}
	return false
}

type BillingConfigHolder struct {
	current atomic.Value // holds BillingConfig
}

// NewBillingConfigHolder loads billing.yml (if present) and watches it for
// changes so policy edits take effect on the next reconcile.
func NewBillingConfigHolder() (*BillingConfigHolder, error) {
	v := viper.New()

	v.SetConfigName("billing")
	v.SetConfigType("yml")
	v.AddConfigPath("/var/lib/leaseworks/config")
	v.AddConfigPath("/etc/leaseworks")
	v.AddConfigPath(".")

	v.SetEnvPrefix("LEASEWORKS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
		defaults := DefaultBillingConfig()
		v.SetDefault("billing.extensionApplyStatuses", defaults.ExtensionApplyStatuses)
		v.SetDefault("billing.overdueGraceDays", defaults.OverdueGraceDays)
		v.SetDefault("billing.sweepBatchSize", defaults.SweepBatchSize)
	}

	var cfg BillingConfig
	if err := v.UnmarshalKey("billing", &cfg); err != nil {
		return nil, err
	}
	if err := validateBillingConfig(cfg); err != nil {
		return nil, err
	}

	holder := &BillingConfigHolder{}
	holder.current.Store(cfg)

	v.WatchConfig()
	v.OnConfigChange(func(e fsnotify.Event) {
		var updated BillingConfig
		if err := v.UnmarshalKey("billing", &updated); err != nil {
			log.Printf("[billing-config] reload failed: %v", err)
			return
		}
		if err := validateBillingConfig(updated); err != nil {
			log.Printf("[billing-config] invalid config ignored: %v", err)
			return
		}
		holder.current.Store(updated)
		log.Printf("[billing-config] reloaded from %s", e.Name)
	})

	return holder, nil
}

// NewStaticBillingConfigHolder wraps a fixed policy, bypassing file
// watching. Used by tests and one-shot tooling.
func NewStaticBillingConfigHolder(cfg BillingConfig) *BillingConfigHolder {
	holder := &BillingConfigHolder{}
	holder.current.Store(cfg)
	return holder
}

func (h *BillingConfigHolder) Get() BillingConfig {
	return h.current.Load().(BillingConfig)
}

var knownExtensionStatuses = map[string]struct{}{
	"NONE":     {},
	"PENDING":  {},
	"APPROVED": {},
	"REJECTED": {},
}

func validateBillingConfig(cfg BillingConfig) error {
	if len(cfg.ExtensionApplyStatuses) == 0 {
		return errors.New("billing.extensionApplyStatuses cannot be empty")
	}
	for _, s := range cfg.ExtensionApplyStatuses {
		if _, ok := knownExtensionStatuses[strings.ToUpper(strings.TrimSpace(s))]; !ok {
			return fmt.Errorf("billing.extensionApplyStatuses: unknown status %q", s)
		}
	}
	if cfg.OverdueGraceDays < 0 {
		return errors.New("billing.overdueGraceDays cannot be negative")
	}
	if cfg.SweepBatchSize <= 0 {
		return errors.New("billing.sweepBatchSize must be positive")
	}
	return nil
}
