package assistant

import (
	"strings"
	"time"
)

// Rule answers any input that contains Keyword.
type Rule struct {
	Keyword string
	Reply   string
}

// DefaultRules is the assistant's small talk, checked in order.
var DefaultRules = []Rule{
	{"hello", "Hello! How can I help you?"},
	{"hi there", "Hi! I'm here to chat!"},
	{"how are you", "I'm fine, thanks! And you?"},
	{"goodbye", "Goodbye! See you soon!"},
	{"thank", "You're welcome!"},
	{"help", "I can transcribe your voice messages and answer your questions!"},
	{"who are you", "I'm the local assistant built into the voice chat!"},
}

// followUp is the reply to longer inputs that match no rule.
const followUp = "Interesting! Can you tell me more?"

// Responder produces canned replies. Matching is case-insensitive and the
// time and date questions are answered from the clock.
type Responder struct {
	Rules []Rule
	// Now defaults to time.Now.
	Now func() time.Time
}

// NewResponder returns a Responder with DefaultRules.
func NewResponder() *Responder {
	return &Responder{Rules: DefaultRules}
}

// Respond returns a reply to input, or "" when there is nothing to say.
func (r *Responder) Respond(input string) string {
	lower := strings.ToLower(strings.TrimSpace(input))
	if lower == "" {
		return ""
	}

	now := time.Now
	if r.Now != nil {
		now = r.Now
	}
	if strings.Contains(lower, "time") {
		return "It is " + now().Format("15:04")
	}
	if strings.Contains(lower, "date") {
		return "Today is " + now().Format("02/01/2006")
	}

	for _, rule := range r.Rules {
		if strings.Contains(lower, strings.ToLower(rule.Keyword)) {
			return rule.Reply
		}
	}

	if len(strings.Fields(input)) > 3 {
		return followUp
	}
	return ""
}
