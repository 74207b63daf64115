package cli

import (
	"context"
	"time"

	"synsched/internal/core/ports"

	tea "github.com/charmbracelet/bubbletea"
)

func runUI(ctx context.Context, svc ports.SessionService, sim ports.Simulator, interval time.Duration) error {
	m := initialModel(ctx, svc, sim, interval)
	p := tea.NewProgram(m, tea.WithAltScreen(), tea.WithContext(ctx))

	_, err := p.Run()
	if err != nil && ctx.Err() != nil {
		// Interrupted by a signal rather than by the user quitting.
		return nil
	}
	return err
}
