package entities

import "strings"

const (
	callerPrefix   = "Caller: "
	operatorPrefix = "Operator: "
)

// ConversationHistory is the ordered, append-only log of caller and operator turns
type ConversationHistory []string

// NewConversationHistory returns an empty history
func NewConversationHistory() ConversationHistory {
	return make(ConversationHistory, 0, 16)
}

// AppendCaller logs a caller turn. Empty utterances are not logged.
func (h *ConversationHistory) AppendCaller(text string) {
	if strings.TrimSpace(text) == "" {
		return
	}
	*h = append(*h, callerPrefix+text)
}

// AppendOperator logs an operator turn
func (h *ConversationHistory) AppendOperator(text string) {
	*h = append(*h, operatorPrefix+text)
}

// Last returns up to n most recent turns, oldest first
func (h ConversationHistory) Last(n int) []string {
	if n <= 0 || len(h) == 0 {
		return []string{}
	}
	if n > len(h) {
		n = len(h)
	}
	out := make([]string, n)
	copy(out, h[len(h)-n:])
	return out
}

// Clone returns an independent copy
func (h ConversationHistory) Clone() ConversationHistory {
	out := make(ConversationHistory, len(h), len(h)+2)
	copy(out, h)
	return out
}

// IsCallerTurn reports whether a logged turn came from the caller
func IsCallerTurn(turn string) bool {
	return strings.HasPrefix(turn, callerPrefix)
}

// IsOperatorTurn reports whether a logged turn came from the operator
func IsOperatorTurn(turn string) bool {
	return strings.HasPrefix(turn, operatorPrefix)
}
