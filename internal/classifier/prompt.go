package classifier

import (
	"strings"
	"time"
)

func buildPrompt(text string, today time.Time, context string) string {
	var sb strings.Builder

	sb.WriteString("You sort raw personal notes into exactly ONE of four buckets. Return JSON only.\n\n")
	sb.WriteString(`Buckets (no others exist):
- task: something to do. Verbs like "email", "call", "buy", "need to", deadlines.
- thought: something to remember. Ideas, observations, links, references.
- person: information about someone. Names with context, contact details, "works at", "met at".
- event: something happening at a specific time. Meetings, appointments, dates.

`)

	sb.WriteString("Note:\n")
	sb.WriteString(text)
	sb.WriteString("\n\n")

	if context != "" {
		sb.WriteString("Linked page (for context only):\n")
		sb.WriteString(context)
		sb.WriteString("\n\n")
	}

	sb.WriteString("Today's date: ")
	sb.WriteString(today.Format("2006-01-02"))
	sb.WriteString("\n\n")

	sb.WriteString(`Return a JSON object with this structure:
{
  "type": "task|thought|person|event",
  "title": "short title",
  "body": "longer content or null",
  "confidence": 0.0,
  "tags": ["tag"],
  "project": "project-slug or null",
  "people": ["person-slug"],
  "due_date": "YYYY-MM-DD or null",
  "priority": "low|medium|high or null"
}

Rules:
- Pick one type. When torn, prefer task, then event, then thought, then person
- @mentions become people, slugified ("Sarah Chen" -> "sarah-chen")
- #hashtags become tags
- Resolve relative dates against today's date
- Priority only for tasks, inferred from urgency words
- Title at most 100 characters
- Confidence is 0.0-1.0 and reflects how sure you are of the type

Return ONLY the JSON, no other text.`)

	return sb.String()
}
