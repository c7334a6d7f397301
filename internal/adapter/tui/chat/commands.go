package chat

import (
	"context"

	tea "github.com/charmbracelet/bubbletea"

	"localchat/internal/domain"
)

// GenerationService is the slice of the generation use case the TUI drives.
type GenerationService interface {
	Generate(ctx context.Context, chatID domain.ChatID, text string, attachments []domain.Attachment) error
	Cancel()
	Active() bool
}

// generateCmd runs one generation turn off the UI goroutine. Progress
// arrives through the event bridge; the command itself only reports the
// final outcome of the call.
func generateCmd(svc GenerationService, chatID domain.ChatID, text string) tea.Cmd {
	return func() tea.Msg {
		err := svc.Generate(context.Background(), chatID, text, nil)
		return GenerateDoneMsg{Err: err}
	}
}
