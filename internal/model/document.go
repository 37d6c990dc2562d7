package model

import "time"

// RunStatus represents the current state of an extraction run.
type RunStatus string

const (
	RunStatusQueued       RunStatus = "queued"
	RunStatusChunking     RunStatus = "chunking"
	RunStatusExtracting   RunStatus = "extracting"
	RunStatusSynthesizing RunStatus = "synthesizing"
	RunStatusComplete     RunStatus = "complete"
	RunStatusPartial      RunStatus = "partial"
	RunStatusFailed       RunStatus = "failed"
)

// Document is a unit of work for the extractor.
type Document struct {
	ID       string `json:"id"`
	Text     string `json:"text"`
	Taxonomy string `json:"taxonomy,omitempty"`
	// Budget overrides the configured whole-document budget when > 0.
	Budget time.Duration `json:"budget,omitempty"`
	Source string        `json:"source,omitempty"`
}

// Run is a persisted extraction run for one document.
type Run struct {
	ID         string      `json:"id"`
	DocumentID string      `json:"document_id"`
	Taxonomy   string      `json:"taxonomy"`
	Status     RunStatus   `json:"status"`
	Result     *Extraction `json:"result,omitempty"`
	Error      string      `json:"error,omitempty"`
	CreatedAt  time.Time   `json:"created_at"`
	UpdatedAt  time.Time   `json:"updated_at"`
}
