package ai

import (
	"encoding/json"
	"regexp"
	"strings"
)

// DefaultResponseText is spoken when the model returned JSON without a response_text.
const DefaultResponseText = "I'm not sure I understood."

var codeFence = regexp.MustCompile("```json|```")

// Reply is the two-field contract expected from the reasoning service.
type Reply struct {
	UserSummary  string `json:"user_summary"`
	ResponseText string `json:"response_text"`
	// Degraded is set when the output was not valid JSON and the fallback applied.
	Degraded bool `json:"-"`
}

// ParseReply decodes raw model output. Invalid JSON never fails the request:
// the transcript stands in for the summary and the raw text, stripped of code
// fences, becomes the spoken response.
func ParseReply(raw, transcript string) Reply {
	var decoded struct {
		UserSummary  *string `json:"user_summary"`
		ResponseText *string `json:"response_text"`
	}

	if err := json.Unmarshal([]byte(raw), &decoded); err != nil {
		return Reply{
			UserSummary:  transcript,
			ResponseText: StripCodeFences(raw),
			Degraded:     true,
		}
	}

	reply := Reply{UserSummary: transcript, ResponseText: DefaultResponseText}
	if decoded.UserSummary != nil {
		reply.UserSummary = *decoded.UserSummary
	}
	if decoded.ResponseText != nil {
		reply.ResponseText = *decoded.ResponseText
	}
	return reply
}

// StripCodeFences removes every ```json and ``` marker and trims the result.
func StripCodeFences(s string) string {
	return strings.TrimSpace(codeFence.ReplaceAllString(s, ""))
}
