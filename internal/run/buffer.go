package run

import "github.com/fulcrumsec/pentestd/internal/model"

// buffer is the conversation buffer for one run. It is owned by the run
// goroutine and is not safe for concurrent use. All turns are retained
// for the run's duration; Window bounds what is sent to the model.
type buffer struct {
	turns  []model.Turn
	window int
}

func newBuffer(window int) *buffer {
	if window < 1 {
		window = 1
	}
	return &buffer{window: window}
}

func (b *buffer) addUser(text string) {
	b.turns = append(b.turns, model.Turn{Role: model.RoleUser, Content: text})
}

func (b *buffer) addAssistantText(text string) {
	b.turns = append(b.turns, model.Turn{Role: model.RoleAssistant, Content: text})
}

func (b *buffer) add(turn model.Turn) {
	b.turns = append(b.turns, turn)
}

// Window returns the turns to send to the model: the run's introductory
// turn pinned first, followed by the trailing window of recent turns.
// Keeping the intro pinned preserves the objective and scope grounding
// even after long runs outgrow the window.
func (b *buffer) Window() []model.Turn {
	if len(b.turns) <= b.window {
		return append([]model.Turn(nil), b.turns...)
	}
	tail := b.turns[len(b.turns)-(b.window-1):]
	out := make([]model.Turn, 0, b.window)
	out = append(out, b.turns[0])
	return append(out, tail...)
}

// Turns returns a copy of the full conversation.
func (b *buffer) Turns() []model.Turn {
	return append([]model.Turn(nil), b.turns...)
}

func (b *buffer) Len() int { return len(b.turns) }
