package conversation

import "github.com/xhad/brief/internal/models"

// DefaultHistoryLimit is the number of turns a session keeps.
const DefaultHistoryLimit = 10

// History is an ordered buffer of conversation turns that drops the oldest
// turn once it holds more than its limit. It is not safe for concurrent use;
// the owning session serialises access.
type History struct {
	limit int
	turns []models.ConversationTurn
}

func NewHistory(limit int) *History {
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}
	return &History{limit: limit}
}

func (h *History) Append(turns ...models.ConversationTurn) {
	h.turns = append(h.turns, turns...)
	if over := len(h.turns) - h.limit; over > 0 {
		kept := make([]models.ConversationTurn, h.limit)
		copy(kept, h.turns[over:])
		h.turns = kept
	}
}

// Turns returns a copy of the turns, oldest first.
func (h *History) Turns() []models.ConversationTurn {
	out := make([]models.ConversationTurn, len(h.turns))
	copy(out, h.turns)
	return out
}

// Last returns up to n of the most recent turns, oldest first.
func (h *History) Last(n int) []models.ConversationTurn {
	if n <= 0 {
		return nil
	}
	if n > len(h.turns) {
		n = len(h.turns)
	}
	out := make([]models.ConversationTurn, n)
	copy(out, h.turns[len(h.turns)-n:])
	return out
}

func (h *History) Len() int   { return len(h.turns) }
func (h *History) Limit() int { return h.limit }

func (h *History) Reset() {
	h.turns = nil
}

func (h *History) Clone() *History {
	return &History{limit: h.limit, turns: h.Turns()}
}
