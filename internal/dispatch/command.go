package dispatch

import (
	"errors"
	"fmt"
)

// Event is a decoded command from the gateway collaborator: the command
// name, its typed arguments, and the invoking chat-platform identity.
type Event struct {
	Name              string         `json:"name"`
	Args              map[string]any `json:"args"`
	InvokerExternalID string         `json:"invoker_external_id"`
}

var (
	ErrUnknownCommand = errors.New("unknown command")
	ErrBadArgument    = errors.New("bad argument")
)

// Command is the closed set of operations the gateway can invoke. Raw
// argument maps are decoded into one of these at the boundary; nothing
// untyped reaches the engine.
type Command interface{ isCommand() }

type SubmitRequest struct {
	Title     string
	Tasks     string
	ChannelID string
}

type AddTask struct {
	RequestID string
	Title     string
}

type ClaimTask struct {
	TaskID string
}

type CompleteTask struct {
	TaskID string
}

type ReassignTask struct {
	TaskID             string
	AssigneeExternalID string
}

type RepeatRequest struct {
	RequestID string
}

type Report struct {
	Kind string // "created" or "completed"
}

func (SubmitRequest) isCommand() {}
func (AddTask) isCommand()       {}
func (ClaimTask) isCommand()     {}
func (CompleteTask) isCommand()  {}
func (ReassignTask) isCommand()  {}
func (RepeatRequest) isCommand() {}
func (Report) isCommand()        {}

func stringArg(args map[string]any, key string, required bool) (string, error) {
	v, ok := args[key]
	if !ok || v == nil {
		if required {
			return "", fmt.Errorf("%w: %s is required", ErrBadArgument, key)
		}
		return "", nil
	}
	s, ok := v.(string)
	if !ok {
		return "", fmt.Errorf("%w: %s must be a string", ErrBadArgument, key)
	}
	if required && s == "" {
		return "", fmt.Errorf("%w: %s is required", ErrBadArgument, key)
	}
	return s, nil
}

// Decode turns a raw gateway event into a typed Command.
func Decode(evt Event) (Command, error) {
	args := evt.Args
	if args == nil {
		args = map[string]any{}
	}
	switch evt.Name {
	case "request":
		title, err := stringArg(args, "title", true)
		if err != nil {
			return nil, err
		}
		tasks, err := stringArg(args, "tasks", false)
		if err != nil {
			return nil, err
		}
		channel, err := stringArg(args, "channel_id", false)
		if err != nil {
			return nil, err
		}
		return SubmitRequest{Title: title, Tasks: tasks, ChannelID: channel}, nil
	case "task-add":
		requestID, err := stringArg(args, "request_id", true)
		if err != nil {
			return nil, err
		}
		title, err := stringArg(args, "title", true)
		if err != nil {
			return nil, err
		}
		return AddTask{RequestID: requestID, Title: title}, nil
	case "claim-task":
		taskID, err := stringArg(args, "task_id", true)
		if err != nil {
			return nil, err
		}
		return ClaimTask{TaskID: taskID}, nil
	case "complete-task":
		taskID, err := stringArg(args, "task_id", true)
		if err != nil {
			return nil, err
		}
		return CompleteTask{TaskID: taskID}, nil
	case "reassign-task":
		taskID, err := stringArg(args, "task_id", true)
		if err != nil {
			return nil, err
		}
		assignee, err := stringArg(args, "assignee", true)
		if err != nil {
			return nil, err
		}
		return ReassignTask{TaskID: taskID, AssigneeExternalID: assignee}, nil
	case "repeat-request":
		requestID, err := stringArg(args, "request_id", true)
		if err != nil {
			return nil, err
		}
		return RepeatRequest{RequestID: requestID}, nil
	case "report":
		kind, err := stringArg(args, "kind", true)
		if err != nil {
			return nil, err
		}
		if kind != "created" && kind != "completed" {
			return nil, fmt.Errorf("%w: kind must be created or completed", ErrBadArgument)
		}
		return Report{Kind: kind}, nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownCommand, evt.Name)
	}
}
