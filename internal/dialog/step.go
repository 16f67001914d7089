package dialog

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/artur/dispatch-bot/internal/database/models"
	"github.com/artur/dispatch-bot/internal/permission"
)

// StepKey identifies a step. Terminal ends the dialog.
type StepKey string

const Terminal StepKey = ""

// Shape is the kind of input a step accepts.
type Shape int

const (
	ShapeText Shape = iota + 1
	ShapeChoice
	ShapeReference
)

// Submit validates the accepted input against the step's own rules, applies
// it to the turn and returns the next step key.
type Submit func(ctx context.Context, e *Engine, t *turn, input string) (StepKey, error)

// Step is one point of a guided dialog.
type Step struct {
	Key     StepKey
	Flow    *Flow
	Shape   Shape
	Choices []Choice
	// Gate is checked against fresh permissions before Submit runs.
	Gate   permission.Action
	Prompt string
	Submit Submit
}

// Flow is a dialog started by a command.
type Flow struct {
	Name    string
	Command string
	MinRole models.Role
	// Action is what the flow ends up doing. A membership change that revokes
	// it abandons the dialog.
	Action permission.Action
	Entry  StepKey
}

// accept checks the raw event payload against the step's input shape and
// returns the normalized input.
func (s *Step) accept(ev Event) (string, error) {
	input := strings.TrimSpace(ev.Payload)

	if ev.Kind == KindCallback {
		prefix := string(s.Key) + ":"
		if !strings.HasPrefix(input, prefix) {
			return "", fmt.Errorf("%w: button of another step", ErrValidationFailed)
		}
		input = strings.TrimPrefix(input, prefix)
	}

	switch s.Shape {
	case ShapeText:
		if input == "" {
			return "", fmt.Errorf("%w: empty input", ErrValidationFailed)
		}
	case ShapeChoice:
		for _, c := range s.Choices {
			if strings.EqualFold(input, c.Data) {
				return c.Data, nil
			}
		}
		return "", fmt.Errorf("%w: %q is not one of the choices", ErrValidationFailed, input)
	case ShapeReference:
		id, err := strconv.ParseInt(strings.TrimPrefix(input, "#"), 10, 64)
		if err != nil || id <= 0 {
			return "", fmt.Errorf("%w: %q is not a user id", ErrValidationFailed, input)
		}
		return strconv.FormatInt(id, 10), nil
	}
	return input, nil
}

// buttons returns the step's choices with callback data scoped to the step.
func (s *Step) buttons() []Choice {
	if len(s.Choices) == 0 {
		return nil
	}
	out := make([]Choice, len(s.Choices))
	for i, c := range s.Choices {
		out[i] = Choice{Label: c.Label, Data: string(s.Key) + ":" + c.Data}
	}
	return out
}
