package main

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"github.com/jwebster45206/situation-engine/pkg/queue"
	"github.com/jwebster45206/situation-engine/pkg/situation"
)

// localAction is a console command that never reaches the API queue
type localAction string

const (
	actionNone    localAction = ""
	actionHelp    localAction = "help"
	actionRefresh localAction = "refresh"
	actionCopy    localAction = "copy"
	actionActor   localAction = "actor"
)

const helpText = `Commands:
• /advance <duration>              e.g. /advance 2h, /advance 1d6h
• /discover <method> <source> [hint]
• /clue <situation> <clue>
• /resolve <situation> <branch>
• /abandon <situation> [reason]
• /set <name>=<value> ...          then /advance to react
• /actor <pc id>                   switch the acting character
• /refresh                         reload the slot
• /copy                            copy the slot id
• /help                            show this help

<situation> is either its id or its number in the side panel.`

// parsedInput is the result of reading one line from the prompt
type parsedInput struct {
	command *queue.Command
	action  localAction
	arg     string
}

// parseInput turns a prompt line into a queued command or a local action.
// active lists situation ids in side panel order so users can type numbers.
func parseInput(line string, slotID uuid.UUID, actorID string, active []string) (parsedInput, error) {
	fields := strings.Fields(strings.TrimSpace(line))
	if len(fields) == 0 {
		return parsedInput{}, fmt.Errorf("empty command")
	}
	name := strings.ToLower(strings.TrimPrefix(fields[0], "/"))
	args := fields[1:]

	switch name {
	case "help", "?":
		return parsedInput{action: actionHelp}, nil
	case "refresh":
		return parsedInput{action: actionRefresh}, nil
	case "copy":
		return parsedInput{action: actionCopy}, nil
	case "actor":
		if len(args) != 1 {
			return parsedInput{}, fmt.Errorf("usage: /actor <pc id>")
		}
		return parsedInput{action: actionActor, arg: args[0]}, nil
	}

	var cmd *queue.Command
	switch name {
	case "advance", "wait":
		if len(args) != 1 {
			return parsedInput{}, fmt.Errorf("usage: /advance <duration>")
		}
		by, err := situation.ParseDuration(args[0])
		if err != nil {
			return parsedInput{}, err
		}
		cmd = queue.NewCommand(slotID, queue.CommandAdvance)
		cmd.By = by

	case "discover":
		if len(args) < 2 || len(args) > 3 {
			return parsedInput{}, fmt.Errorf("usage: /discover <method> <source> [hint]")
		}
		method, err := situation.ParseMethod(args[0])
		if err != nil {
			return parsedInput{}, err
		}
		cmd = queue.NewCommand(slotID, queue.CommandDiscover)
		cmd.Method = method
		cmd.Source = args[1]
		if len(args) == 3 {
			cmd.Hint = args[2]
		}

	case "clue":
		if len(args) != 2 {
			return parsedInput{}, fmt.Errorf("usage: /clue <situation> <clue>")
		}
		ref, err := situationRef(args[0], active)
		if err != nil {
			return parsedInput{}, err
		}
		cmd = queue.NewCommand(slotID, queue.CommandAddClue)
		cmd.SituationID = ref
		cmd.ClueRef = args[1]

	case "resolve":
		if len(args) != 2 {
			return parsedInput{}, fmt.Errorf("usage: /resolve <situation> <branch>")
		}
		ref, err := situationRef(args[0], active)
		if err != nil {
			return parsedInput{}, err
		}
		cmd = queue.NewCommand(slotID, queue.CommandResolve)
		cmd.SituationID = ref
		cmd.BranchID = args[1]
		cmd.ActorID = actorID

	case "abandon":
		if len(args) < 1 {
			return parsedInput{}, fmt.Errorf("usage: /abandon <situation> [reason]")
		}
		ref, err := situationRef(args[0], active)
		if err != nil {
			return parsedInput{}, err
		}
		cmd = queue.NewCommand(slotID, queue.CommandAbandon)
		cmd.SituationID = ref
		cmd.Reason = strings.Join(args[1:], " ")

	case "set":
		if len(args) == 0 {
			return parsedInput{}, fmt.Errorf("usage: /set <name>=<value> ...")
		}
		vars := make(map[string]any, len(args))
		for _, arg := range args {
			k, v, ok := strings.Cut(arg, "=")
			if !ok || k == "" {
				return parsedInput{}, fmt.Errorf("expected name=value, got %q", arg)
			}
			vars[k] = scalar(v)
		}
		cmd = queue.NewCommand(slotID, queue.CommandSetVars)
		cmd.Vars = vars

	default:
		return parsedInput{}, fmt.Errorf("unknown command %q, try /help", fields[0])
	}

	if err := cmd.Validate(); err != nil {
		return parsedInput{}, err
	}
	return parsedInput{command: cmd}, nil
}

// situationRef maps a 1-based side panel number to its id
func situationRef(arg string, active []string) (string, error) {
	n, err := strconv.Atoi(arg)
	if err != nil {
		return arg, nil
	}
	if n < 1 || n > len(active) {
		return "", fmt.Errorf("no situation numbered %d", n)
	}
	return active[n-1], nil
}

// scalar reads a /set value as a bool, number or string
func scalar(v string) any {
	if b, err := strconv.ParseBool(v); err == nil {
		return b
	}
	if f, err := strconv.ParseFloat(v, 64); err == nil {
		return f
	}
	return v
}
