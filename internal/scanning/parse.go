package scanning

import (
	"strings"
)

// chatterPrefixes are lead-in lines some models add before the transcription
var chatterPrefixes = []string{
	"here is the text",
	"here's the text",
	"the text in the image",
	"transcription:",
}

// cleanTranscription strips markdown fences and model chatter from a response
func cleanTranscription(text string) string {
	text = strings.TrimSpace(text)

	// Remove markdown code blocks if present
	if strings.HasPrefix(text, "```") {
		if nl := strings.Index(text, "\n"); nl != -1 {
			text = text[nl+1:]
		} else {
			text = strings.TrimLeft(text, "`")
		}
		text = strings.TrimSuffix(strings.TrimSpace(text), "```")
		text = strings.TrimSpace(text)
	}

	if nl := strings.Index(text, "\n"); nl != -1 {
		first := strings.ToLower(strings.TrimSpace(text[:nl]))
		for _, prefix := range chatterPrefixes {
			if strings.HasPrefix(first, prefix) {
				text = strings.TrimSpace(text[nl+1:])
				break
			}
		}
	}

	// Normalize Windows line endings
	text = strings.ReplaceAll(text, "\r\n", "\n")

	return text
}
