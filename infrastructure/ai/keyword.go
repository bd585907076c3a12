package ai

import (
	"context"
	"strings"

	"github.com/kinopsis/agensalud-mvp-sub003/channels/domain/instance"
	"github.com/kinopsis/agensalud-mvp-sub003/channels/domain/message"
)

const (
	IntentGreeting    = "greeting"
	IntentAppointment = "appointment"
	IntentCancel      = "cancel_appointment"
	IntentUnknown     = "unknown"
)

type keywordRule struct {
	intent   string
	words    []string
	reply    string
	next     []string
	priority float64
}

// rules are checked in order; the first hit wins.
var rules = []keywordRule{
	{
		intent:   message.IntentEscalate,
		words:    []string{"humano", "agente", "persona", "urgente", "emergencia", "human", "agent", "urgent", "emergency"},
		reply:    "Te comunicamos con una persona del equipo en breve.",
		next:     []string{"handoff_to_staff"},
		priority: 0.9,
	},
	{
		intent:   IntentCancel,
		words:    []string{"cancelar", "anular", "cancel"},
		reply:    "Entendido, ¿qué cita deseas cancelar?",
		next:     []string{"lookup_appointments"},
		priority: 0.8,
	},
	{
		intent:   IntentAppointment,
		words:    []string{"cita", "turno", "agendar", "reservar", "appointment", "book", "schedule"},
		reply:    "Con gusto te ayudo a agendar una cita. ¿Para qué especialidad y fecha?",
		next:     []string{"collect_specialty", "collect_date"},
		priority: 0.75,
	},
	{
		intent:   IntentGreeting,
		words:    []string{"hola", "buenas", "buenos dias", "buenos días", "hello", "hi"},
		reply:    "¡Hola! ¿En qué podemos ayudarte?",
		priority: 0.6,
	},
}

// KeywordInterpreter is the offline fallback used when no model is
// configured for an instance.
type KeywordInterpreter struct{}

func (KeywordInterpreter) Interpret(_ context.Context, msg message.IncomingMessage, _ instance.AIConfig) (message.ProcessResult, error) {
	text := " " + strings.ToLower(strings.TrimSpace(msg.Text)) + " "
	for _, r := range rules {
		for _, w := range r.words {
			if containsWord(text, w) {
				return message.ProcessResult{
					Intent:      r.intent,
					Confidence:  r.priority,
					NextActions: r.next,
					Reply:       r.reply,
				}, nil
			}
		}
	}
	return message.ProcessResult{Intent: IntentUnknown, Confidence: 0}, nil
}

func containsWord(padded, word string) bool {
	idx := strings.Index(padded, word)
	for idx >= 0 {
		before := padded[idx-1]
		end := idx + len(word)
		if !isLetter(before) && (end >= len(padded) || !isLetter(padded[end])) {
			return true
		}
		next := strings.Index(padded[idx+1:], word)
		if next < 0 {
			return false
		}
		idx += next + 1
	}
	return false
}

func isLetter(b byte) bool {
	return (b >= 'a' && b <= 'z') || b >= 0x80
}
