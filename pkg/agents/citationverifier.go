package agents

import (
	"context"

	"github.com/ToanPV90/answer42-sub008/pkg/models"
)

// maxVerifications caps how many citations one task verifies; Crossref's
// polite pool frowns on unbounded query storms.
const maxVerifications = 25

// verifyScoreThreshold is the Crossref relevance score above which a
// bibliographic match counts as verified.
const verifyScoreThreshold = 60.0

// CitationVerifierHandler checks extracted citations against Crossref.
type CitationVerifierHandler struct {
	crossref CrossrefLookup
}

// NewCitationVerifierHandler creates a CitationVerifierHandler.
func NewCitationVerifierHandler(crossref CrossrefLookup) *CitationVerifierHandler {
	return &CitationVerifierHandler{crossref: crossref}
}

// Execute verifies each citation with a bibliographic query. An upstream
// formatter that found no citations yields an empty verification set, not
// an error.
func (h *CitationVerifierHandler) Execute(ctx context.Context, input map[string]any) (models.ResultData, bool, *Usage, error) {
	citations := stringSlice(input["citations"])
	if len(citations) > maxVerifications {
		citations = citations[:maxVerifications]
	}

	out := models.CitationVerifications{
		Verifications: make([]models.CitationVerification, 0, len(citations)),
	}
	for _, raw := range citations {
		verdict, err := h.verify(ctx, raw)
		if err != nil {
			return nil, false, nil, err
		}
		out.Verifications = append(out.Verifications, verdict)
	}
	return out, false, nil, nil
}

func (h *CitationVerifierHandler) verify(ctx context.Context, raw string) (models.CitationVerification, error) {
	works, err := h.crossref.QueryBibliographic(ctx, raw, 1)
	if err != nil {
		return models.CitationVerification{}, err
	}
	verdict := models.CitationVerification{Raw: raw, Source: "crossref"}
	if len(works) == 0 {
		return verdict, nil
	}

	best := works[0]
	verdict.DOI = best.DOI
	verdict.Verified = best.Score >= verifyScoreThreshold
	verdict.Confidence = best.Score / 100
	if verdict.Confidence > 1 {
		verdict.Confidence = 1
	}
	return verdict, nil
}
