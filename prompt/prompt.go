// Package prompt builds the language-model prompt from the widget
// selections and extracted post text. Pure string assembly, fully
// deterministic.
package prompt

import (
	"fmt"
	"strings"

	"comment-copilot/pkg/copilot"
)

// lengthDirectives are the exact word-count constraints per length.
var lengthDirectives = map[copilot.CommentLength]string{
	copilot.LengthBrief:    "EXACTLY 5 TO 10 WORDS ONLY",
	copilot.LengthMedium:   "EXACTLY 15 TO 25 WORDS ONLY",
	copilot.LengthDetailed: "EXACTLY 30 TO 50 WORDS ONLY",
}

// typeGuidance is the fixed guidance sentence per comment type.
var typeGuidance = map[copilot.CommentType]string{
	copilot.TypeAppreciation: "Express genuine appreciation for the insights shared in the post.",
	copilot.TypeQuestion:     "Frame your response as an insightful question that builds on the post content.",
	copilot.TypeExperience:   "Share a brief relevant personal experience that resonates with the post.",
	copilot.TypeValueAdd:     "Add a complementary piece of information or insight that extends the original post.",
	copilot.TypeAgreement:    "Express agreement with the post by providing a supporting example.",
}

// LengthDirective returns the word-count constraint for a length. Unknown
// lengths fall back to medium, matching the widget default.
func LengthDirective(length copilot.CommentLength) string {
	if d, ok := lengthDirectives[length]; ok {
		return d
	}
	return lengthDirectives[copilot.LengthMedium]
}

// TypeGuidance returns the guidance sentence for a comment type, empty for
// unknown types.
func TypeGuidance(t copilot.CommentType) string {
	return typeGuidance[t]
}

// Build assembles the model prompt. Settings lines for industry, goal and
// custom instructions are omitted when they hold their defaults, so the
// prompt stays minimal for untouched preferences.
func Build(postContent string, settings copilot.Settings, commentType copilot.CommentType, commentLength copilot.CommentLength) string {
	settings = settings.WithDefaults()
	directive := LengthDirective(commentLength)

	var b strings.Builder
	fmt.Fprintf(&b, "STRICT WORD COUNT: %s. NO EXCEPTIONS.\n\n", directive)
	b.WriteString("You are writing a comment on this post:\n\n")
	fmt.Fprintf(&b, "\"%s\"\n\n", postContent)
	fmt.Fprintf(&b, "Comment type: %s\n", TypeGuidance(commentType))
	fmt.Fprintf(&b, "Style: %s\n", settings.CommentStyle)
	if settings.Industry != copilot.DefaultIndustry {
		fmt.Fprintf(&b, "Industry context: %s\n", settings.Industry)
	}
	if settings.Goal != copilot.DefaultGoal {
		fmt.Fprintf(&b, "Goal: %s\n", settings.Goal)
	}
	if settings.CustomInstructions != "" {
		fmt.Fprintf(&b, "Personal preferences: %s\n", settings.CustomInstructions)
	}
	fmt.Fprintf(&b, "\nIMPORTANT: Your response must be %s. COUNT YOUR WORDS BEFORE RESPONDING.\n\n", directive)
	b.WriteString("Only provide the comment text - no explanations or other content.")

	return b.String()
}
