package models

import (
	"encoding/json"
	"fmt"
	"time"
)

// AgentResult is the outcome of one agent invocation. It lives on the run
// context in memory and is serialized into AgentTask.Result.
//
// Invariant: Success implies ErrorMessage == "" and Data != nil, except for
// degraded results where Data is a Degraded wrapper around the raw payload.
type AgentResult struct {
	TaskID         string        `json:"task_id"`
	AgentID        AgentID       `json:"agent_id"`
	Success        bool          `json:"success"`
	Degraded       bool          `json:"degraded,omitempty"`
	Data           ResultData    `json:"-"`
	ErrorMessage   string        `json:"error_message,omitempty"`
	ProcessingTime time.Duration `json:"processing_time_ms"`
}

// ResultData is the typed payload of a successful agent invocation.
// Each agent produces its own concrete type; Degraded wraps payloads that
// could not be decoded into the expected type.
type ResultData interface {
	Kind() string
}

// PaperContent is produced by PAPER_PROCESSOR.
type PaperContent struct {
	TextContent string `json:"textContent"`
	PageCount   int    `json:"pageCount,omitempty"`
	Language    string `json:"language,omitempty"`
}

// PaperMetadata is produced by METADATA_ENHANCER.
type PaperMetadata struct {
	Title         string   `json:"title,omitempty"`
	Authors       []string `json:"authors,omitempty"`
	DOI           string   `json:"doi,omitempty"`
	Abstract      string   `json:"abstract,omitempty"`
	Venue         string   `json:"venue,omitempty"`
	Year          int      `json:"year,omitempty"`
	CitationCount int      `json:"citationCount,omitempty"`
	Sources       []string `json:"sources,omitempty"`
}

// Summary is produced by CONTENT_SUMMARIZER.
type Summary struct {
	Brief    string   `json:"brief,omitempty"`
	Standard string   `json:"standard,omitempty"`
	Detailed string   `json:"detailed,omitempty"`
	KeyPoints []string `json:"keyPoints,omitempty"`
}

// ConceptExplanations is produced by CONCEPT_EXPLAINER.
type ConceptExplanations struct {
	Concepts []ConceptExplanation `json:"concepts"`
}

// ConceptExplanation explains one technical concept at several levels.
type ConceptExplanation struct {
	Term         string            `json:"term"`
	Explanations map[string]string `json:"explanations"` // level -> text
}

// QualityReport is produced by QUALITY_CHECKER.
type QualityReport struct {
	OverallScore float64            `json:"overallScore"`
	Scores       map[string]float64 `json:"scores,omitempty"`
	Issues       []string           `json:"issues,omitempty"`
}

// FormattedCitations is produced by CITATION_FORMATTER.
type FormattedCitations struct {
	Citations []FormattedCitation `json:"citations"`
	Styles    []string            `json:"styles,omitempty"`
}

// FormattedCitation is one citation rendered in one or more styles.
type FormattedCitation struct {
	Raw       string            `json:"raw"`
	Formatted map[string]string `json:"formatted"` // style -> text
}

// CitationVerifications is produced by CITATION_VERIFIER.
type CitationVerifications struct {
	Verifications []CitationVerification `json:"verifications"`
}

// CitationVerification is the verdict for one citation.
type CitationVerification struct {
	Raw        string  `json:"raw"`
	DOI        string  `json:"doi,omitempty"`
	Verified   bool    `json:"verified"`
	Confidence float64 `json:"confidence"`
	Source     string  `json:"source,omitempty"`
}

// ResearchFindings is produced by PERPLEXITY_RESEARCHER.
type ResearchFindings struct {
	Summary   string   `json:"summary"`
	Findings  []string `json:"findings,omitempty"`
	Citations []string `json:"citations,omitempty"`
}

// RelatedPapers is produced by RELATED_PAPER_DISCOVERY.
type RelatedPapers struct {
	Papers []RelatedPaper `json:"papers"`
}

// RelatedPaper is one discovered related paper.
type RelatedPaper struct {
	Title      string  `json:"title"`
	DOI        string  `json:"doi,omitempty"`
	ArxivID    string  `json:"arxivId,omitempty"`
	Relevance  float64 `json:"relevance,omitempty"`
	Source     string  `json:"source,omitempty"`
	Similarity string  `json:"similarity,omitempty"`
}

// Degraded wraps a payload that was valid JSON but did not match the
// agent's expected result type. Downstream stages can still project
// best-effort fields out of Raw.
type Degraded struct {
	Raw map[string]any `json:"raw"`
}

func (PaperContent) Kind() string          { return "paper_content" }
func (PaperMetadata) Kind() string         { return "paper_metadata" }
func (Summary) Kind() string               { return "summary" }
func (ConceptExplanations) Kind() string   { return "concept_explanations" }
func (QualityReport) Kind() string         { return "quality_report" }
func (FormattedCitations) Kind() string    { return "formatted_citations" }
func (CitationVerifications) Kind() string { return "citation_verifications" }
func (ResearchFindings) Kind() string      { return "research_findings" }
func (RelatedPapers) Kind() string         { return "related_papers" }
func (Degraded) Kind() string              { return "degraded" }

// resultEnvelope is the serialized form of an AgentResult: the typed data is
// wrapped with a kind discriminator so it round-trips through the task table.
type resultEnvelope struct {
	TaskID           string          `json:"task_id"`
	AgentID          AgentID         `json:"agent_id"`
	Success          bool            `json:"success"`
	Degraded         bool            `json:"degraded,omitempty"`
	Kind             string          `json:"kind,omitempty"`
	Data             json.RawMessage `json:"data,omitempty"`
	ErrorMessage     string          `json:"error_message,omitempty"`
	ProcessingTimeMs int64           `json:"processing_time_ms"`
}

// MarshalJSON encodes the result with its kind discriminator.
func (r AgentResult) MarshalJSON() ([]byte, error) {
	env := resultEnvelope{
		TaskID:           r.TaskID,
		AgentID:          r.AgentID,
		Success:          r.Success,
		Degraded:         r.Degraded,
		ErrorMessage:     r.ErrorMessage,
		ProcessingTimeMs: r.ProcessingTime.Milliseconds(),
	}
	if r.Data != nil {
		raw, err := json.Marshal(r.Data)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal result data: %w", err)
		}
		env.Kind = r.Data.Kind()
		env.Data = raw
	}
	return json.Marshal(env)
}

// UnmarshalJSON decodes the envelope and rehydrates the typed data.
// Unknown kinds decode into Degraded rather than failing.
func (r *AgentResult) UnmarshalJSON(b []byte) error {
	var env resultEnvelope
	if err := json.Unmarshal(b, &env); err != nil {
		return err
	}
	r.TaskID = env.TaskID
	r.AgentID = env.AgentID
	r.Success = env.Success
	r.Degraded = env.Degraded
	r.ErrorMessage = env.ErrorMessage
	r.ProcessingTime = time.Duration(env.ProcessingTimeMs) * time.Millisecond
	r.Data = nil
	if len(env.Data) == 0 {
		return nil
	}
	data, err := decodeResultData(env.Kind, env.Data)
	if err != nil {
		return err
	}
	r.Data = data
	return nil
}

func decodeResultData(kind string, raw json.RawMessage) (ResultData, error) {
	decode := func(v ResultData) (ResultData, error) {
		if err := json.Unmarshal(raw, v); err != nil {
			return nil, fmt.Errorf("failed to decode %s result data: %w", kind, err)
		}
		return v, nil
	}
	switch kind {
	case "paper_content":
		v, err := decode(&PaperContent{})
		return deref(v, err)
	case "paper_metadata":
		v, err := decode(&PaperMetadata{})
		return deref(v, err)
	case "summary":
		v, err := decode(&Summary{})
		return deref(v, err)
	case "concept_explanations":
		v, err := decode(&ConceptExplanations{})
		return deref(v, err)
	case "quality_report":
		v, err := decode(&QualityReport{})
		return deref(v, err)
	case "formatted_citations":
		v, err := decode(&FormattedCitations{})
		return deref(v, err)
	case "citation_verifications":
		v, err := decode(&CitationVerifications{})
		return deref(v, err)
	case "research_findings":
		v, err := decode(&ResearchFindings{})
		return deref(v, err)
	case "related_papers":
		v, err := decode(&RelatedPapers{})
		return deref(v, err)
	default:
		var m map[string]any
		if err := json.Unmarshal(raw, &m); err != nil {
			return nil, fmt.Errorf("failed to decode %q result data: %w", kind, err)
		}
		return Degraded{Raw: m}, nil
	}
}

// deref unwraps the pointer types used during decoding so Data always holds
// value types (comparable in tests, no accidental shared mutation).
func deref(v ResultData, err error) (ResultData, error) {
	if err != nil {
		return nil, err
	}
	switch t := v.(type) {
	case *PaperContent:
		return *t, nil
	case *PaperMetadata:
		return *t, nil
	case *Summary:
		return *t, nil
	case *ConceptExplanations:
		return *t, nil
	case *QualityReport:
		return *t, nil
	case *FormattedCitations:
		return *t, nil
	case *CitationVerifications:
		return *t, nil
	case *ResearchFindings:
		return *t, nil
	case *RelatedPapers:
		return *t, nil
	}
	return v, nil
}
