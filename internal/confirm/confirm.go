// Package confirm asks for approval before destructive actions.
package confirm

import (
	"context"
	"errors"
	"os"

	"github.com/charmbracelet/huh"
	"github.com/mattn/go-isatty"
)

var ErrDeclined = errors.New("action declined")

// Prompt asks a yes/no question and reports the answer.
type Prompt func(ctx context.Context, title, description string) (bool, error)

// Gate decides whether a destructive action may proceed. Without AssumeYes
// the answer defaults to no; a prompt is shown only when Interactive is set
// and a terminal is attached.
type Gate struct {
	AssumeYes   bool
	Interactive bool

	prompt   Prompt
	terminal func() bool
}

func NewGate(assumeYes, interactive bool) *Gate {
	return &Gate{
		AssumeYes:   assumeYes,
		Interactive: interactive,
		prompt:      huhPrompt,
		terminal:    isTerminal,
	}
}

// Confirm returns nil when the action is approved and ErrDeclined otherwise.
func (g *Gate) Confirm(ctx context.Context, title, description string) error {
	if g.AssumeYes {
		return nil
	}
	if !g.Interactive || !g.terminal() {
		return ErrDeclined
	}

	approved, err := g.prompt(ctx, title, description)
	if err != nil {
		if errors.Is(err, huh.ErrUserAborted) {
			return ErrDeclined
		}
		return err
	}
	if !approved {
		return ErrDeclined
	}
	return nil
}

func huhPrompt(ctx context.Context, title, description string) (bool, error) {
	approved := false
	err := huh.NewForm(
		huh.NewGroup(
			huh.NewConfirm().
				Title(title).
				Description(description).
				Affirmative("Yes").
				Negative("No").
				Value(&approved),
		),
	).RunWithContext(ctx)

	return approved, err
}

func isTerminal() bool {
	return isatty.IsTerminal(os.Stdin.Fd()) || isatty.IsCygwinTerminal(os.Stdin.Fd())
}
