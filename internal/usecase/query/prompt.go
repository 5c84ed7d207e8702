package query

import (
	"fmt"
	"strings"

	"github.com/cxrgraph/cxrgraph-api/internal/domain/models"
)

// BuildAnswerPrompt renders the retrieved context and the question for the
// answer model.
func BuildAnswerPrompt(c *models.Context, question string) string {
	var doc strings.Builder
	fmt.Fprintf(&doc, "Document ID: %s\n", c.Document.DocID)
	fmt.Fprintf(&doc, "Document Text: %s\n", c.Document.Text)

	var ents strings.Builder
	ents.WriteString("Entities found in similar images:\n")
	for i, e := range c.Entities {
		fmt.Fprintf(&ents, "%d. %s (%s) - %s\n", i+1, e.Name, e.Type, e.Description)
		fmt.Fprintf(&ents, "   Similarity to image: %.3f\n", e.Similarity)
		if len(e.Related) > 0 {
			ents.WriteString("   Related entities:\n")
			for _, r := range e.Related {
				desc := r.RelationDescription
				if desc == "" {
					desc = "No description"
				}
				fmt.Fprintf(&ents, "     - %s (%s) - %s\n", r.Name, r.Type, desc)
			}
		}
		ents.WriteString("\n")
	}

	return fmt.Sprintf(`Based on the following medical context, please answer the question: %q

CONTEXT INFORMATION:
%s
%s
QUESTION: %s

Please provide a comprehensive answer based on the context. If the context doesn't contain enough information to answer the question, please state that clearly.

ANSWER:
`, question, doc.String(), ents.String(), question)
}
