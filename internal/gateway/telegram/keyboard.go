package telegram

import (
	telebot "gopkg.in/telebot.v3"

	"github.com/Proton-105/flowbot/internal/gateway"
)

// toMarkup renders a gateway keyboard. Inline keys carry raw callback data
// without a unique prefix so the update handler sees the token unchanged.
func toMarkup(kb *gateway.Keyboard) *telebot.ReplyMarkup {
	if kb.Empty() {
		return nil
	}

	if kb.Remove {
		return &telebot.ReplyMarkup{RemoveKeyboard: true}
	}

	if kb.Inline {
		markup := &telebot.ReplyMarkup{}
		inlineKeyboard := make([][]telebot.InlineButton, len(kb.Rows))
		for i, row := range kb.Rows {
			inlineKeyboard[i] = make([]telebot.InlineButton, len(row))
			for j, btn := range row {
				inlineKeyboard[i][j] = telebot.InlineButton{
					Text: btn.Text,
					Data: btn.Data,
				}
			}
		}
		markup.InlineKeyboard = inlineKeyboard
		return markup
	}

	markup := &telebot.ReplyMarkup{
		ResizeKeyboard:  true,
		OneTimeKeyboard: true,
	}

	rows := make([]telebot.Row, 0, len(kb.Rows))
	for _, row := range kb.Rows {
		btns := make([]telebot.Btn, 0, len(row))
		for _, btn := range row {
			btns = append(btns, markup.Text(btn.Text))
		}
		rows = append(rows, markup.Row(btns...))
	}
	markup.Reply(rows...)

	return markup
}
