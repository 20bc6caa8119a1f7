package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestFrequencyAdvance(t *testing.T) {
	base := time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC)

	assert.Equal(t, time.Date(2024, 1, 22, 0, 0, 0, 0, time.UTC), FrequencyWeekly.Advance(base))
	assert.Equal(t, time.Date(2024, 1, 29, 0, 0, 0, 0, time.UTC), FrequencyFortnightly.Advance(base))
	assert.Equal(t, time.Date(2024, 2, 15, 0, 0, 0, 0, time.UTC), FrequencyMonthly.Advance(base))
	assert.Equal(t, time.Date(2025, 1, 15, 0, 0, 0, 0, time.UTC), FrequencyYearly.Advance(base))

	// Unknown cadence leaves the cursor alone.
	assert.Equal(t, base, Frequency("DAILY").Advance(base))
}

func TestFrequencyAdvance_MonthEndOverflow(t *testing.T) {
	// Calendar arithmetic: Jan 31 + 1 month normalizes past February.
	base := time.Date(2024, 1, 31, 0, 0, 0, 0, time.UTC)
	assert.Equal(t, time.Date(2024, 3, 2, 0, 0, 0, 0, time.UTC), FrequencyMonthly.Advance(base))
}

func TestValidFrequency(t *testing.T) {
	for _, f := range []Frequency{FrequencyWeekly, FrequencyFortnightly, FrequencyMonthly, FrequencyYearly} {
		assert.True(t, ValidFrequency(f))
	}
	assert.False(t, ValidFrequency("DAILY"))
	assert.False(t, ValidFrequency(""))
}
