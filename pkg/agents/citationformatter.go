package agents

import (
	"context"
	"fmt"

	"github.com/ToanPV90/answer42-sub008/pkg/models"
)

const formatterSystem = `You extract and format bibliographic citations from
academic papers. Respond with a single JSON object and nothing else.`

// citationStyles are the styles every extracted citation is rendered in.
var citationStyles = []string{"apa", "mla", "chicago"}

// CitationFormatterHandler extracts the paper's references and renders
// each in the standard citation styles.
type CitationFormatterHandler struct {
	llm LLMCaller
}

// NewCitationFormatterHandler creates a CitationFormatterHandler.
func NewCitationFormatterHandler(llm LLMCaller) *CitationFormatterHandler {
	return &CitationFormatterHandler{llm: llm}
}

// Execute extracts and formats the paper's citations.
func (h *CitationFormatterHandler) Execute(ctx context.Context, input map[string]any) (models.ResultData, bool, *Usage, error) {
	text, err := requireText(input)
	if err != nil {
		return nil, false, nil, err
	}

	prompt := fmt.Sprintf(`Extract every bibliographic reference from the paper
below and render each in APA, MLA, and Chicago style. Return JSON:
  {"citations": [{"raw": "reference as it appears",
                  "formatted": {"apa": "...", "mla": "...", "chicago": "..."}}],
   "styles": ["apa", "mla", "chicago"]}

Paper text:
%s`, truncateText(text, promptTextLimit))

	raw, usage, err := completeJSON(ctx, h.llm, formatterSystem, prompt, 4096)
	if err != nil {
		return nil, false, nil, err
	}

	var out models.FormattedCitations
	data, degraded, err := decodeTyped(raw, &out, func() bool {
		return len(out.Citations) > 0
	})
	if err != nil {
		return nil, false, nil, err
	}
	if !degraded {
		if len(out.Styles) == 0 {
			out.Styles = citationStyles
		}
		data = out
	}
	return data, degraded, usage, nil
}
