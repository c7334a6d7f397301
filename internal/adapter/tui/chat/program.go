package chat

import (
	"context"

	tea "github.com/charmbracelet/bubbletea"

	"localchat/internal/domain"
)

// Run starts the chat TUI and blocks until the user quits. Domain events
// reach the program through the bus bridge for as long as it runs.
func Run(ctx context.Context, deps ModelDeps, bus domain.EventBus) error {
	model, err := New(ctx, deps)
	if err != nil {
		return err
	}

	p := tea.NewProgram(model, tea.WithAltScreen())
	detach := Bridge(bus, p, deps.Logger)
	defer detach()

	_, err = p.Run()
	return err
}
