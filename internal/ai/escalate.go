package ai

import "strings"

// defaultEscalationPatterns flag replies that steer the user toward a human.
// Matching is a lowercase substring scan over the final reply.
var defaultEscalationPatterns = []string{
	"обратитесь к специалисту",
	"передам ваш вопрос специалисту",
	"свяжется специалист",
	"свяжитесь со специалистом",
	"contact a specialist",
	"contact our specialist",
	"human specialist",
	"escalate this to",
}

// classifyEscalation reports whether the reply indicates the user should be
// offered the "contact specialist" affordance.
func classifyEscalation(reply string, patterns []string) bool {
	lower := strings.ToLower(reply)
	for _, p := range patterns {
		if strings.Contains(lower, p) {
			return true
		}
	}
	return false
}
