package models

import (
	"encoding/json"
	"strings"
)

// Role identifies the author of a conversation turn.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool {
	switch r {
	case RoleSystem, RoleUser, RoleAssistant:
		return true
	}
	return false
}

// Message is one turn of a conversation.
type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// DefaultQuery is used when a query request has no query or cannot be parsed.
const DefaultQuery = "Hello"

// QueryRequest is the input of the retrieval pipeline.
type QueryRequest struct {
	Messages []Message `json:"messages"`
	Query    string    `json:"query"`
}

// Normalize fills defaults: no messages becomes an empty history and a blank query becomes defaultQuery.
// Turns with an unknown role are dropped.
func (q *QueryRequest) Normalize(defaultQuery string) {
	if defaultQuery == "" {
		defaultQuery = DefaultQuery
	}
	kept := make([]Message, 0, len(q.Messages))
	for _, m := range q.Messages {
		if m.Role.Valid() {
			kept = append(kept, m)
		}
	}
	q.Messages = kept
	if strings.TrimSpace(q.Query) == "" {
		q.Query = defaultQuery
	}
}

// ParseQueryRequest decodes body into a QueryRequest. An unparseable body yields the defaults
// rather than an error so that a malformed request still receives an answer.
func ParseQueryRequest(body []byte, defaultQuery string) *QueryRequest {
	req := &QueryRequest{}
	if len(body) > 0 {
		if err := json.Unmarshal(body, req); err != nil {
			req = &QueryRequest{}
		}
	}
	req.Normalize(defaultQuery)
	return req
}

// QueryResponse is the result of a successful retrieval pipeline run.
// Messages is the prior history followed by the user turn and the assistant turn.
type QueryResponse struct {
	Messages []Message `json:"messages"`
	Response string    `json:"response"`
}

// FailureResponse is returned when the chat provider produced no usable text.
type FailureResponse struct {
	Response string `json:"response"`
}
