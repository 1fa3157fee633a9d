package bridge

import (
	"fmt"
	"strings"

	"github.com/audiolibrelab/recbridge/internal/recorder"
)

// Action is a recorder command understood by the dispatcher
type Action int

const (
	ActionCreate Action = iota + 1
	ActionPrepare
	ActionStart
	ActionStop
	ActionLevel
	ActionRelease
)

// Wire names as sent by the scripting shell
var actionNames = map[Action]string{
	ActionCreate:  "create",
	ActionPrepare: "prepareRecordingAudio",
	ActionStart:   "startRecordingAudio",
	ActionStop:    "stopRecordingAudio",
	ActionLevel:   "getRecordingLevel",
	ActionRelease: "release",
}

var actionsByName = func() map[string]Action {
	m := make(map[string]Action, len(actionNames))
	for action, name := range actionNames {
		m[name] = action
	}
	return m
}()

func (a Action) String() string {
	if name, ok := actionNames[a]; ok {
		return name
	}
	return fmt.Sprintf("Action(%d)", int(a))
}

// ParseAction resolves a wire name. Unknown names yield recorder.ErrNotHandled.
func ParseAction(name string) (Action, error) {
	action, ok := actionsByName[name]
	if !ok {
		return 0, fmt.Errorf("unknown action %q: %w", name, recorder.ErrNotHandled)
	}
	return action, nil
}

// Command is a parsed, argument-checked dispatcher request
type Command struct {
	Action     Action
	SessionID  string
	OutputPath string
}

// ParseCommand builds a Command from a wire name and its positional arguments
//
//	create                 sessionId, outputPath
//	prepareRecordingAudio  sessionId
//	startRecordingAudio    sessionId
//	stopRecordingAudio     sessionId
//	getRecordingLevel      -
//	release                -
func ParseCommand(name string, args []string) (Command, error) {
	action, err := ParseAction(name)
	if err != nil {
		return Command{}, err
	}

	cmd := Command{Action: action}
	if len(args) > 0 {
		cmd.SessionID = strings.TrimSpace(args[0])
	}

	switch action {
	case ActionCreate:
		if cmd.SessionID == "" {
			return Command{}, fmt.Errorf("%s: session id is required: %w", action, recorder.ErrInvalidArgument)
		}
		if len(args) < 2 || strings.TrimSpace(args[1]) == "" {
			return Command{}, fmt.Errorf("%s: output path is required: %w", action, recorder.ErrInvalidArgument)
		}
		cmd.OutputPath = strings.TrimSpace(args[1])
	case ActionPrepare, ActionStart, ActionStop:
		if cmd.SessionID == "" {
			return Command{}, fmt.Errorf("%s: session id is required: %w", action, recorder.ErrInvalidArgument)
		}
	case ActionLevel, ActionRelease:
	}

	return cmd, nil
}
