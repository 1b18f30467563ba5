package tgbot

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"tgcasino/internal/reconcile"
)

func TestFormatAmount(t *testing.T) {
	assert.Equal(t, "0.00", formatAmount(0))
	assert.Equal(t, "0.05", formatAmount(5))
	assert.Equal(t, "12.34", formatAmount(1234))
	assert.Equal(t, "-3.07", formatAmount(-307))
	assert.Equal(t, "10000.00", formatAmount(1000000))
}

func TestFormatReport(t *testing.T) {
	r := reconcile.Report{
		Status:          reconcile.StatusOK,
		Severity:        reconcile.SeverityModerate,
		Discrepancy:     -5000,
		Analysis:        []string{"gateway holds less than expected"},
		Recommendations: []string{"investigate recent transactions"},
	}
	out := formatReport(r)
	assert.Contains(t, out, "severity: moderate")
	assert.Contains(t, out, "discrepancy: -50.00")
	assert.Contains(t, out, "- gateway holds less than expected")
	assert.Contains(t, out, "> investigate recent transactions")
}
