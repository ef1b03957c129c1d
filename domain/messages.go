package domain

import "github.com/aarambh/dispatch/server/domain/entities"

// ChatMessage is one caller message sent over the text chat endpoint
type ChatMessage struct {
	SessionID string `json:"session_id"`
	Message   string `json:"message"`
}

// ChatReply is the operator's answer to a ChatMessage. Record is only set once
// the report is complete.
type ChatReply struct {
	SessionID  string                   `json:"session_id"`
	Reply      string                   `json:"reply"`
	IsComplete bool                     `json:"is_complete"`
	Record     *entities.IncidentRecord `json:"record,omitempty"`
}

// CycleOutcome is what a voice call needs back from one intake cycle
type CycleOutcome struct {
	Session *entities.Session
	// Completed is true only for the cycle that finished the report
	Completed bool
	// Reply is the text to speak, with the dispatch notice appended when complete
	Reply string
}
