package cli

import (
	"strings"
	"testing"

	"github.com/Veraticus/autopay/internal/model"
	"github.com/charmbracelet/lipgloss"
	"github.com/stretchr/testify/assert"
)

func TestFormatOutcome(t *testing.T) {
	tests := []struct {
		name   string
		status model.OutcomeStatus
		detail string
		want   string
	}{
		{name: "success with detail", status: model.OutcomeSuccess, detail: "pay-1", want: "pay-1"},
		{name: "bare success", status: model.OutcomeSuccess, want: SuccessIcon},
		{name: "error", status: model.OutcomeError, detail: "insufficient funds", want: "insufficient funds"},
		{name: "nothing to do", status: model.OutcomeNone, want: "-"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Contains(t, FormatOutcome(tt.status, tt.detail), tt.want)
		})
	}
}

func TestFormatAmount(t *testing.T) {
	assert.Contains(t, FormatAmount(-12.5, "EUR"), "EUR -12.50")
	assert.Contains(t, FormatAmount(3, "USD"), "USD 3.00")
}

func TestRenderTable(t *testing.T) {
	out := RenderTable(
		[]string{"ID", "Title"},
		[][]string{{"job-1", "rent"}, {"job-22", "water bill"}},
	)

	lines := strings.Split(out, "\n")
	var rows []string
	for _, line := range lines {
		if strings.Contains(line, "job-") {
			rows = append(rows, line)
		}
	}
	assert.Len(t, rows, 2)
	assert.Contains(t, out, "Title")
	assert.Equal(t, lipgloss.Width(rows[0]), lipgloss.Width(rows[1]))
	assert.Equal(t, strings.Index(rows[0], "rent"), strings.Index(rows[1], "water bill"))
}
