package agents

import (
	"context"
	"fmt"
	"strings"

	"github.com/ToanPV90/answer42-sub008/pkg/models"
	"github.com/ToanPV90/answer42-sub008/pkg/providers"
)

// CrossrefLookup is the Crossref surface the metadata and citation
// handlers use.
type CrossrefLookup interface {
	GetWork(ctx context.Context, doi string) (*providers.CrossrefWork, error)
	QueryBibliographic(ctx context.Context, query string, rows int) ([]providers.CrossrefWork, error)
}

// MetadataEnhancerHandler resolves bibliographic metadata from Crossref,
// by DOI when the upload carries one and by title search otherwise.
type MetadataEnhancerHandler struct {
	crossref CrossrefLookup
}

// NewMetadataEnhancerHandler creates a MetadataEnhancerHandler.
func NewMetadataEnhancerHandler(crossref CrossrefLookup) *MetadataEnhancerHandler {
	return &MetadataEnhancerHandler{crossref: crossref}
}

// Execute looks the paper up on Crossref.
func (h *MetadataEnhancerHandler) Execute(ctx context.Context, input map[string]any) (models.ResultData, bool, *Usage, error) {
	if doi := FirstString(input, "doi", "DOI"); doi != "" {
		work, err := h.crossref.GetWork(ctx, doi)
		if err != nil {
			return nil, false, nil, err
		}
		return metadataFromWork(work), false, nil, nil
	}

	title := FirstString(input, "title")
	if title == "" {
		return nil, false, nil, fmt.Errorf("%w: need doi or title", ErrMissingInput)
	}
	works, err := h.crossref.QueryBibliographic(ctx, title, 1)
	if err != nil {
		return nil, false, nil, err
	}
	if len(works) == 0 {
		// No match is a valid outcome, not a provider failure.
		return models.PaperMetadata{Title: title, Sources: []string{"crossref"}}, false, nil, nil
	}
	return metadataFromWork(&works[0]), false, nil, nil
}

func metadataFromWork(work *providers.CrossrefWork) models.PaperMetadata {
	md := models.PaperMetadata{
		DOI:     work.DOI,
		Year:    work.Year(),
		Sources: []string{"crossref"},
	}
	if len(work.Title) > 0 {
		md.Title = work.Title[0]
	}
	if len(work.ContainerTitle) > 0 {
		md.Venue = work.ContainerTitle[0]
	}
	for _, author := range work.Author {
		name := strings.TrimSpace(author.Given + " " + author.Family)
		if name != "" {
			md.Authors = append(md.Authors, name)
		}
	}
	return md
}
