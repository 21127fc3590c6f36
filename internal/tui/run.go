package tui

import (
	"context"
	"errors"
	"fmt"

	"github.com/Veraticus/autopay/internal/tui/themes"
	tea "github.com/charmbracelet/bubbletea"
)

// RunJobsBrowser shows the jobs browser until the user quits or ctx ends.
func RunJobsBrowser(ctx context.Context, manager JobManager, theme themes.Theme) error {
	if manager == nil {
		return fmt.Errorf("job manager is required")
	}

	p := tea.NewProgram(
		NewModel(ctx, manager, theme),
		tea.WithAltScreen(),
		tea.WithContext(ctx),
	)

	if _, err := p.Run(); err != nil && !errors.Is(err, tea.ErrProgramKilled) {
		return fmt.Errorf("jobs browser failed: %w", err)
	}
	return nil
}
