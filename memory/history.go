package memory

import (
	"chatrelay/llm"
)

// History is the ordered turn sequence for one session. The first
// pinnedLen turns are the preamble (instruction turns, optionally carrying an
// attached document) and are never evicted; everything after them alternates
// between user and model turns.
type History struct {
	turns     []llm.Turn
	pinnedLen int
	maxTurns  int
}

// NewHistory deep-copies the preamble so later mutation of this history can
// never leak into the template or a sibling session.
func NewHistory(preamble []llm.Turn, maxTurns int) *History {
	turns := make([]llm.Turn, len(preamble))
	for i, t := range preamble {
		parts := make([]llm.Part, len(t.Parts))
		copy(parts, t.Parts)
		turns[i] = llm.Turn{Role: t.Role, Parts: parts}
	}

	return &History{
		turns:     turns,
		pinnedLen: len(preamble),
		maxTurns:  maxTurns,
	}
}

// AppendUserTurn evicts the oldest non-pinned exchange pairs until the
// incoming user/model pair fits the cap, then appends the user turn.
// Evicting in pairs keeps the user/model alternation intact, and making room
// up front means the cap still holds once the model turn is committed.
func (h *History) AppendUserTurn(text string) {
	for h.maxTurns > 0 && len(h.turns)+2 > h.maxTurns && len(h.turns) >= h.pinnedLen+2 {
		h.turns = append(h.turns[:h.pinnedLen], h.turns[h.pinnedLen+2:]...)
	}

	h.turns = append(h.turns, llm.TextTurn(llm.RoleUser, text))
}

// CommitModelTurn records the generated reply. Call only after the backend
// call succeeded.
func (h *History) CommitModelTurn(text string) {
	h.turns = append(h.turns, llm.TextTurn(llm.RoleModel, text))
}

// RollbackLastUserTurn removes a trailing unanswered user turn, restoring
// the state before a failed generation attempt. A no-op when the last turn
// is a model turn or part of the preamble.
func (h *History) RollbackLastUserTurn() {
	last := len(h.turns) - 1
	if last < h.pinnedLen {
		return
	}
	if h.turns[last].Role != llm.RoleUser {
		return
	}
	h.turns = h.turns[:last]
}

// Turns returns a copy of the turn sequence for submission to the backend.
// Callers never get a live reference into the history.
func (h *History) Turns() []llm.Turn {
	out := make([]llm.Turn, len(h.turns))
	copy(out, h.turns)
	return out
}

func (h *History) Len() int {
	return len(h.turns)
}

func (h *History) PinnedLen() int {
	return h.pinnedLen
}
