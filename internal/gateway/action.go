package gateway

import "context"

type ActionKind string

const (
	ActionText  ActionKind = "text"
	ActionPhoto ActionKind = "photo"
)

// Action is an outbound send produced by the flow interpreter.
type Action struct {
	Kind     ActionKind
	ChatID   int64
	Text     string
	Source   string
	Caption  string
	Keyboard *Keyboard
}

func TextAction(chatID int64, text string) Action {
	return Action{Kind: ActionText, ChatID: chatID, Text: text}
}

func PhotoAction(chatID int64, source, caption string) Action {
	return Action{Kind: ActionPhoto, ChatID: chatID, Source: source, Caption: caption}
}

// Deliver performs a through s.
func Deliver(ctx context.Context, s Sender, a Action) error {
	if a.Kind == ActionPhoto {
		return s.SendPhoto(ctx, a.ChatID, a.Source, a.Caption)
	}
	return s.SendText(ctx, a.ChatID, a.Text, a.Keyboard)
}
