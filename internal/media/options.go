package media

import (
	"errors"
	"strconv"
	"strings"
	"time"

	"shotbot/internal/transport"
)

// SampleThreshold is the minimum duration for which a sample clip is offered.
const SampleThreshold = 600 * time.Second

const (
	MinScreenshots = 2
	MaxScreenshots = 10
)

// Callback data is "ss:<action>[:<count>]".
const callbackPrefix = "ss:"

type ActionKind string

const (
	ActionScreenshots ActionKind = "shots"
	ActionManual      ActionKind = "manual"
	ActionTrim        ActionKind = "trim"
	ActionInfo        ActionKind = "info"
	ActionSample      ActionKind = "sample"
)

// Action is a parsed option button press.
type Action struct {
	Kind  ActionKind
	Count int // screenshots only
}

func (a Action) Data() string {
	if a.Kind == ActionScreenshots {
		return callbackPrefix + string(a.Kind) + ":" + strconv.Itoa(a.Count)
	}
	return callbackPrefix + string(a.Kind)
}

var ErrBadAction = errors.New("media: malformed action")

// IsCallback reports whether data belongs to the media options keyboard.
func IsCallback(data string) bool { return strings.HasPrefix(data, callbackPrefix) }

func ParseAction(data string) (Action, error) {
	rest, ok := strings.CutPrefix(data, callbackPrefix)
	if !ok {
		return Action{}, ErrBadAction
	}
	kind, arg, _ := strings.Cut(rest, ":")
	switch a := (Action{Kind: ActionKind(kind)}); a.Kind {
	case ActionScreenshots:
		n, err := strconv.Atoi(arg)
		if err != nil || n < MinScreenshots || n > MaxScreenshots {
			return Action{}, ErrBadAction
		}
		a.Count = n
		return a, nil
	case ActionManual, ActionTrim, ActionInfo, ActionSample:
		if arg != "" {
			return Action{}, ErrBadAction
		}
		return a, nil
	default:
		return Action{}, ErrBadAction
	}
}

// OptionsKeyboard lays out the processing choices for a probed file.
func OptionsKeyboard(info Info) transport.Keyboard {
	kb := make(transport.Keyboard, 0, 8)
	row := make([]transport.Button, 0, 2)
	for n := MinScreenshots; n <= MaxScreenshots; n++ {
		a := Action{Kind: ActionScreenshots, Count: n}
		row = append(row, transport.Button{Text: "📸 " + strconv.Itoa(n), Data: a.Data()})
		if len(row) == 2 {
			kb = append(kb, row)
			row = make([]transport.Button, 0, 2)
		}
	}
	if len(row) > 0 {
		kb = append(kb, row)
	}
	kb = append(kb,
		[]transport.Button{{Text: "📸 Manual Screenshots", Data: Action{Kind: ActionManual}.Data()}},
		[]transport.Button{{Text: "✂️ Trim Video", Data: Action{Kind: ActionTrim}.Data()}},
		[]transport.Button{{Text: "ℹ️ Get Media Info", Data: Action{Kind: ActionInfo}.Data()}},
	)
	if info.Duration >= SampleThreshold {
		kb = append(kb, []transport.Button{{Text: "🎞 Generate Sample Video", Data: Action{Kind: ActionSample}.Data()}})
	}
	return kb
}

// OptionsText is the message shown above the options keyboard.
func OptionsText(info Info) string {
	secs := int(info.Duration.Round(time.Second) / time.Second)
	return "Choose one of the options.\n\nTotal duration: <code>" + formatDuration(info.Duration) +
		"</code> (<code>" + strconv.Itoa(secs) + "s</code>)"
}

// Summary is the media-info text shown for ActionInfo.
func Summary(info Info) string {
	var b strings.Builder
	b.WriteString("Duration: <b>" + formatDuration(info.Duration) + "</b>")
	if info.Width > 0 {
		b.WriteString("\nResolution: <b>" + strconv.Itoa(info.Width) + "x" + strconv.Itoa(info.Height) + "</b>")
	}
	if info.Format != "" {
		b.WriteString("\nFormat: <code>" + transport.EscapeHTML(info.Format) + "</code>")
	}
	return b.String()
}

func formatDuration(d time.Duration) string {
	s := int(d.Round(time.Second) / time.Second)
	h, m, sec := s/3600, (s%3600)/60, s%60
	pad := func(v int) string {
		if v < 10 {
			return "0" + strconv.Itoa(v)
		}
		return strconv.Itoa(v)
	}
	return pad(h) + ":" + pad(m) + ":" + pad(sec)
}
