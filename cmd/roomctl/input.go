package main

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/mossy-p/studyroom-signaling/internal/models"
)

var errEmptyInput = errors.New("empty input")

// Local commands handled by roomctl itself.
const (
	localWho  = "who"
	localQuit = "quit"
	localHelp = "help"
)

// command is one parsed input line: either an event to send or a local action.
type command struct {
	event models.EventName
	data  any
	local string
}

const helpText = `Plain text is sent as a chat message. Commands:
  /notes <text>                 replace the shared notes
  /timer start <seconds>        start the shared timer
  /timer pause | reset          pause or reset it
  /timer update <seconds>       set the remaining time
  /video on|off, /audio on|off  announce a media change
  /share start|stop             announce screen sharing
  /clear                        clear the whiteboard
  /who                          list participants
  /quit                         leave the room`

func parseInput(line string) (command, error) {
	line = strings.TrimSpace(line)
	if line == "" {
		return command{}, errEmptyInput
	}
	if !strings.HasPrefix(line, "/") {
		return command{event: models.EventChatMessage, data: models.ChatSend{Body: line}}, nil
	}

	name, rest, _ := strings.Cut(line[1:], " ")
	rest = strings.TrimSpace(rest)
	switch name {
	case "notes":
		return command{event: models.EventNotesUpdate, data: models.NotesUpdate{Content: rest}}, nil
	case "timer":
		return parseTimer(rest)
	case "video", "audio":
		enabled, err := parseSwitch(rest, "on", "off")
		if err != nil {
			return command{}, fmt.Errorf("/%s: %w", name, err)
		}
		event := models.EventToggleVideo
		if name == "audio" {
			event = models.EventToggleAudio
		}
		return command{event: event, data: models.ToggleMedia{Enabled: enabled}}, nil
	case "share":
		started, err := parseSwitch(rest, "start", "stop")
		if err != nil {
			return command{}, fmt.Errorf("/share: %w", err)
		}
		event := models.EventScreenShareStopped
		if started {
			event = models.EventScreenShareStarted
		}
		return command{event: event, data: models.ScreenShare{}}, nil
	case "clear":
		return command{event: models.EventWhiteboardClear, data: models.WhiteboardClear{}}, nil
	case localWho, localQuit, localHelp:
		return command{local: name}, nil
	}
	return command{}, fmt.Errorf("unknown command /%s, try /help", name)
}

func parseTimer(args string) (command, error) {
	action, arg, _ := strings.Cut(args, " ")
	seconds := func() (int, error) {
		n, err := strconv.Atoi(strings.TrimSpace(arg))
		if err != nil || n < 0 {
			return 0, fmt.Errorf("/timer %s needs a number of seconds", action)
		}
		return n, nil
	}

	switch action {
	case "start":
		n, err := seconds()
		if err != nil {
			return command{}, err
		}
		return command{event: models.EventTimerStart, data: models.TimerAction{DurationSeconds: n}}, nil
	case "update":
		n, err := seconds()
		if err != nil {
			return command{}, err
		}
		return command{event: models.EventTimerUpdate, data: models.TimerAction{RemainingSeconds: n}}, nil
	case "pause":
		return command{event: models.EventTimerPause, data: models.TimerAction{}}, nil
	case "reset":
		return command{event: models.EventTimerReset, data: models.TimerAction{}}, nil
	}
	return command{}, fmt.Errorf("unknown timer action %q", action)
}

func parseSwitch(arg, yes, no string) (bool, error) {
	switch arg {
	case yes:
		return true, nil
	case no:
		return false, nil
	}
	return false, fmt.Errorf("expected %s or %s", yes, no)
}
