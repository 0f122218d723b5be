package agents

import (
	"context"
	"regexp"
	"strings"

	"github.com/ToanPV90/answer42-sub008/pkg/models"
)

// charsPerPage approximates page count from normalized text length.
const charsPerPage = 3000

var whitespaceRun = regexp.MustCompile(`[ \t\r\f]+`)

// PaperProcessorHandler normalizes the uploaded paper text into the
// canonical PaperContent every downstream stage reads. Purely local; it
// still runs under the envelope so its failures count like any other
// stage's.
type PaperProcessorHandler struct{}

// NewPaperProcessorHandler creates a PaperProcessorHandler.
func NewPaperProcessorHandler() *PaperProcessorHandler {
	return &PaperProcessorHandler{}
}

// Execute extracts and normalizes the paper text.
func (h *PaperProcessorHandler) Execute(_ context.Context, input map[string]any) (models.ResultData, bool, *Usage, error) {
	text, err := requireText(input)
	if err != nil {
		return nil, false, nil, err
	}

	text = normalizeText(text)
	pages := 0
	if n, ok := input["page_count"].(float64); ok && n > 0 {
		pages = int(n)
	} else {
		pages = (len(text) + charsPerPage - 1) / charsPerPage
	}

	language := "en"
	if lang, ok := input["language"].(string); ok && lang != "" {
		language = lang
	}

	return models.PaperContent{
		TextContent: text,
		PageCount:   pages,
		Language:    language,
	}, false, nil, nil
}

// normalizeText collapses whitespace runs while preserving paragraph
// breaks.
func normalizeText(text string) string {
	lines := strings.Split(text, "\n")
	for i, line := range lines {
		lines[i] = strings.TrimSpace(whitespaceRun.ReplaceAllString(line, " "))
	}
	out := strings.Join(lines, "\n")
	for strings.Contains(out, "\n\n\n") {
		out = strings.ReplaceAll(out, "\n\n\n", "\n\n")
	}
	return strings.TrimSpace(out)
}
