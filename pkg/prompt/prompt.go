// Package prompt composes the instructions sent to the generation service.
package prompt

import (
	"fmt"
	"strings"

	"github.com/xhad/brief/internal/models"
)

// Features selects the optional sections of a summary.
type Features struct {
	KeyPoints  bool
	Statistics bool
	Trends     bool
}

// ParseFeatures reads a comma separated list such as "key_points,trends".
func ParseFeatures(list string) (Features, error) {
	var f Features
	for _, name := range strings.Split(list, ",") {
		switch strings.TrimSpace(strings.ToLower(name)) {
		case "":
		case "key_points", "keypoints", "points":
			f.KeyPoints = true
		case "statistics", "stats":
			f.Statistics = true
		case "trends":
			f.Trends = true
		default:
			return f, fmt.Errorf("unknown feature %q", name)
		}
	}
	return f, nil
}

// Prompt is a system instruction plus the user message it frames.
type Prompt struct {
	System string
	User   string
}

func (p Prompt) Messages() []models.Message {
	return []models.Message{
		{Role: models.RoleSystem, Content: p.System},
		{Role: models.RoleUser, Content: p.User},
	}
}

type Builder struct {
	Role string
}

func NewBuilder() *Builder {
	return &Builder{Role: "an experienced market research analyst"}
}

// Summary builds the summarization prompt. short marks source text that is
// too thin to reach wordTarget on its own.
func (b *Builder) Summary(text string, wordTarget int, features Features, short bool) Prompt {
	var sys strings.Builder
	fmt.Fprintf(&sys, "You are %s. You write clear, well-structured summaries of documents.\n", b.Role)
	fmt.Fprintf(&sys, "Write approximately %d words. Stay close to that length.\n", wordTarget)

	sections := []string{"Overview: what the document is about and who it concerns"}
	if features.KeyPoints {
		sections = append(sections, "Key points: the most important facts and claims, as a bulleted list")
	}
	if features.Statistics {
		sections = append(sections, "Statistics: figures, amounts and percentages stated in the source")
	}
	if features.Trends {
		sections = append(sections, "Trends: developments, directions and likely implications")
	}
	sys.WriteString("Structure the summary with these sections, in this order:\n")
	for i, s := range sections {
		fmt.Fprintf(&sys, "%d. %s\n", i+1, s)
	}

	sys.WriteString("If the source is brief, elaborate using general knowledge of the domain, " +
		"but never invent specific statistics, figures, names or dates that the source does not state.")
	if features.Statistics {
		sys.WriteString(" If the source states no figures, say so in the Statistics section.")
	}

	var user strings.Builder
	if short {
		fmt.Fprintf(&user, "The source below is short. Expand on its subject to reach about %d words, "+
			"marking general context clearly as background rather than as claims of the source.\n\n", wordTarget)
	}
	user.WriteString("Source:\n")
	user.WriteString(text)

	return Prompt{System: sys.String(), User: user.String()}
}

// Followup builds the grounded question prompt. The answer must come from
// summary alone.
func (b *Builder) Followup(summary, question string) Prompt {
	var sys strings.Builder
	fmt.Fprintf(&sys, "You are %s answering questions about a document summary.\n", b.Role)
	sys.WriteString("Answer using only the information in the summary below. " +
		"Do not use outside knowledge and do not guess. " +
		"If the summary does not contain the answer, say that the summary does not cover it.\n\n")
	sys.WriteString("Summary:\n")
	sys.WriteString(summary)

	return Prompt{System: sys.String(), User: question}
}
