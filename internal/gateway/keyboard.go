package gateway

const CallbackDataLimitBytes = 64

// Button is one keyboard key. Data is the callback payload of inline keys
// and is ignored for reply keys, which send their Text back.
type Button struct {
	Text string
	Data string
}

// Keyboard is a platform-neutral keyboard attached to a text message.
type Keyboard struct {
	Inline bool
	Remove bool
	Rows   [][]Button
}

// RemoveKeyboard hides a previously shown reply keyboard.
func RemoveKeyboard() *Keyboard {
	return &Keyboard{Remove: true}
}

// KeyboardBuilder accumulates rows before producing a Keyboard.
type KeyboardBuilder struct {
	inline bool
	rows   [][]Button
}

func NewInlineKeyboard() *KeyboardBuilder {
	return &KeyboardBuilder{inline: true}
}

func NewReplyKeyboard() *KeyboardBuilder {
	return &KeyboardBuilder{}
}

// AddRow appends a row; empty rows are skipped.
func (b *KeyboardBuilder) AddRow(buttons ...Button) *KeyboardBuilder {
	if len(buttons) == 0 {
		return b
	}

	row := make([]Button, len(buttons))
	copy(row, buttons)
	b.rows = append(b.rows, row)
	return b
}

func (b *KeyboardBuilder) Build() *Keyboard {
	rows := make([][]Button, len(b.rows))
	copy(rows, b.rows)
	return &Keyboard{Inline: b.inline, Rows: rows}
}

// Empty reports whether kb carries no keys and no removal request.
func (kb *Keyboard) Empty() bool {
	return kb == nil || (!kb.Remove && len(kb.Rows) == 0)
}
