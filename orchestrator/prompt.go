package orchestrator

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/alibaba/higress/plugins/golang-filter/mcp-server/servers/supportrag/schema"
)

var languageNames = map[string]string{
	"en": "English",
	"pt": "Portuguese",
	"es": "Spanish",
}

// languageName turns an ISO 639-1 code into the name used in instructions.
func languageName(code string) string {
	if n, ok := languageNames[strings.ToLower(code)]; ok {
		return n
	}
	return code
}

// replyLanguage picks the request language, then the detected one, then the fallback.
func replyLanguage(requested, detected, fallback string) string {
	for _, l := range []string{requested, detected, fallback} {
		if l = strings.ToLower(strings.TrimSpace(l)); l != "" {
			return l
		}
	}
	return "en"
}

func greetingPrompt(assistant, language string) string {
	return fmt.Sprintf(`You are %s, a friendly customer support assistant.
The user just greeted you. Greet them back warmly in one or two short sentences and offer help.
Reply in %s.`, assistant, languageName(language))
}

func answerSystemPrompt(prefix, assistant, language string) string {
	var b strings.Builder
	if prefix != "" {
		b.WriteString(strings.TrimSpace(prefix))
		b.WriteString("\n\n")
	}
	fmt.Fprintf(&b, `You are %s, a customer support assistant.
Answer the user's message using the knowledge base context when it is relevant.
If the context does not cover the question, say so briefly and offer to escalate to a human agent.
Never invent policies, prices or order details.
Reply in %s.`, assistant, languageName(language))
	return b.String()
}

type promptInput struct {
	Query      string
	Intent     schema.Intent
	Summary    string
	Contexts   string
	APIResults []any
}

// compositePrompt assembles the single user message sent for generation.
// The intent is included for model awareness only.
func compositePrompt(in promptInput) string {
	var b strings.Builder
	if in.Summary != "" {
		b.WriteString("Conversation so far (summary):\n")
		b.WriteString(in.Summary)
		b.WriteString("\n\n")
	}
	intentJSON, _ := json.Marshal(in.Intent)
	b.WriteString("Detected intent: ")
	b.Write(intentJSON)
	b.WriteString("\n\n")

	b.WriteString("Knowledge base context:\n")
	if in.Contexts == "" {
		b.WriteString("(no relevant documents found)")
	} else {
		b.WriteString(in.Contexts)
	}
	b.WriteString("\n\n")

	if len(in.APIResults) > 0 {
		if data, err := json.Marshal(in.APIResults); err == nil {
			b.WriteString("Account data:\n")
			b.Write(data)
			b.WriteString("\n\n")
		}
	}

	b.WriteString("User message:\n")
	b.WriteString(in.Query)
	return b.String()
}
