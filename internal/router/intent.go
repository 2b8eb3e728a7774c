package router

import (
	"encoding/json"
	"strings"
)

// intent of one inbound message.
type intent int

const (
	intentChat intent = iota
	intentStart
	intentBind
	intentSpecialist
)

// bindPayload is the web-form submission relayed through the messenger.
type bindPayload struct {
	PartnerCode  string `json:"partner_code"`
	PartnerPhone string `json:"partner_phone"`
}

// specialistPatterns match explicit requests for a human. Matching is a
// lowercase substring scan, same approach as the escalation classifier.
var specialistPatterns = []string{
	"позвать специалиста",
	"позови специалиста",
	"нужен специалист",
	"свяжите со специалистом",
	"связаться со специалистом",
	"хочу поговорить с человеком",
	"позовите человека",
	"contact specialist",
	"talk to a human",
}

// classify parses the message into an intent. Bind payloads win over
// everything: the web form delivers them verbatim.
func classify(text string) (intent, bindPayload) {
	trimmed := strings.TrimSpace(text)
	if strings.HasPrefix(trimmed, "{") {
		var p bindPayload
		if err := json.Unmarshal([]byte(trimmed), &p); err == nil && p.PartnerCode != "" && p.PartnerPhone != "" {
			return intentBind, p
		}
	}
	if trimmed == "/start" {
		return intentStart, bindPayload{}
	}
	lower := strings.ToLower(trimmed)
	for _, pat := range specialistPatterns {
		if strings.Contains(lower, pat) {
			return intentSpecialist, bindPayload{}
		}
	}
	return intentChat, bindPayload{}
}
