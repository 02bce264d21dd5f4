package flow

import (
	"fmt"
	"strconv"
	"strings"
)

// Button is one choice of a button, inline, menu or input node.
type Button struct {
	Text     string `mapstructure:"text"`
	Value    string `mapstructure:"value"`
	Action   string `mapstructure:"action"`
	ValueVar string `mapstructure:"value_var"`
}

// BoundValue is the value recorded when the button is chosen.
func (b Button) BoundValue() string {
	if b.Value != "" {
		return b.Value
	}
	return b.Text
}

// Token is the callback token the button answers with.
func (b Button) Token(idx int) string {
	if b.Action != "" {
		return b.Action
	}
	return fmt.Sprintf("action_%d", idx)
}

// Label is the text shown on the button.
func (b Button) Label(idx int) string {
	if b.Text != "" {
		return b.Text
	}
	return fmt.Sprintf("Button %d", idx+1)
}

// Unrecognized reply policies of interactive nodes.
const (
	OnUnrecognizedReprompt = "reprompt"
	OnUnrecognizedReport   = "report"
)

type StartEndData struct {
	Command string `mapstructure:"command"`
	IsStart *bool  `mapstructure:"isStart"`
}

// Entry reports whether the node starts a flow for its command.
func (d StartEndData) Entry() bool {
	return d.Command != "" && (d.IsStart == nil || *d.IsStart)
}

type TextData struct {
	Text string `mapstructure:"text"`
}

// ChoiceData configures button, inline and menu nodes. Menu nodes list their
// choices under "items".
type ChoiceData struct {
	Text             string   `mapstructure:"text"`
	Buttons          []Button `mapstructure:"buttons"`
	Items            []Button `mapstructure:"items"`
	OnUnrecognized   string   `mapstructure:"onUnrecognized"`
	UnrecognizedText string   `mapstructure:"unrecognizedText"`
}

// Choices returns the selectable entries in declaration order.
func (d ChoiceData) Choices() []Button {
	if len(d.Buttons) > 0 {
		return d.Buttons
	}
	return d.Items
}

type ImageData struct {
	URL     string `mapstructure:"url"`
	Images  any    `mapstructure:"images"`
	Caption string `mapstructure:"caption"`
}

// Source returns the configured image location: url, else images (a string
// or the first element of a list).
func (d ImageData) Source() string {
	if d.URL != "" {
		return d.URL
	}

	switch v := d.Images.(type) {
	case string:
		return v
	case []any:
		for _, item := range v {
			if s, ok := item.(string); ok && s != "" {
				return s
			}
		}
	}
	return ""
}

const (
	InputModeText    = "text"
	InputModeButtons = "buttons"

	SaveModeNew        = "new"
	SaveModeUpdateLast = "update_last"
)

type InputData struct {
	Prompt         string   `mapstructure:"prompt"`
	Table          string   `mapstructure:"table"`
	Column         string   `mapstructure:"column"`
	SuccessMessage string   `mapstructure:"successMessage"`
	InputMode      string   `mapstructure:"inputMode"`
	Buttons        []Button `mapstructure:"buttons"`
	SaveMode       string   `mapstructure:"saveMode"`
	ValueVar       string   `mapstructure:"value_var"`
}

type DBOutputData struct {
	Table        string   `mapstructure:"table"`
	Columns      []string `mapstructure:"columns"`
	Message      string   `mapstructure:"message"`
	Limit        int      `mapstructure:"limit"`
	FilterColumn string   `mapstructure:"filterColumn"`
	FilterVar    string   `mapstructure:"filterVar"`
}

type ConditionData struct {
	Condition string `mapstructure:"condition"`
}

// Frequency of a broadcast job.
type Frequency string

const (
	FrequencyDaily   Frequency = "daily"
	FrequencyWeekly  Frequency = "weekly"
	FrequencyMonthly Frequency = "monthly"
	FrequencyOnce    Frequency = "once"
)

type BroadcastData struct {
	BroadcastTime string `mapstructure:"broadcastTime"`
	Frequency     string `mapstructure:"frequency"`
	Target        string `mapstructure:"target"`
}

func parseClock(s string) (hour, minute int, err error) {
	parts := strings.Split(strings.TrimSpace(s), ":")
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("broadcast time %q is not HH:MM", s)
	}
	hour, herr := strconv.Atoi(parts[0])
	minute, merr := strconv.Atoi(parts[1])
	if herr != nil || merr != nil {
		return 0, 0, fmt.Errorf("broadcast time %q is not HH:MM", s)
	}
	if hour < 0 || hour > 23 || minute < 0 || minute > 59 {
		return 0, 0, fmt.Errorf("broadcast time %q is out of range", s)
	}
	return hour, minute, nil
}
