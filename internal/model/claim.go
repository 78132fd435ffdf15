package model

import "time"

// DocumentType is the closed set of document classes the pipeline handles.
type DocumentType string

const (
	TypeBill      DocumentType = "bill"
	TypeDischarge DocumentType = "discharge"
	TypeIDCard    DocumentType = "id_card"
	TypeUnknown   DocumentType = "unknown"
)

// ExtractionRecord is the result for one uploaded file. Data always contains
// every required key for Type; keys the model omitted are present with a nil
// value. Immutable after creation.
type ExtractionRecord struct {
	Filename string         `json:"filename"`
	Type     DocumentType   `json:"type"`
	Data     map[string]any `json:"data"`
}

// ValidationRecord is the cross-document consistency outcome for one request.
type ValidationRecord struct {
	IsValid           bool           `json:"is_valid"`
	Discrepancies     []string       `json:"discrepancies"`
	ValidationDetails map[string]any `json:"validation_details"`
}

// ClaimResult is the response payload of a process-claim request.
type ClaimResult struct {
	Documents  []ExtractionRecord `json:"documents"`
	Validation ValidationRecord   `json:"validation"`
}

// Claim is the persisted record of one processed request.
type Claim struct {
	ID          string           `json:"id"`
	Status      string           `json:"status"`
	Documents   []byte           `json:"-"`
	Validation  []byte           `json:"-"`
	ArchiveKeys []string         `json:"archive_keys,omitempty"`
	CreatedAt   time.Time        `json:"created_at"`
	Result      *ClaimResult     `json:"result,omitempty"`
	FileURLs    map[string]string `json:"file_urls,omitempty"`
}

// IndexedDocument is the record handed to the vector index. It is owned by
// the external store once written; the service produces it and forgets it.
type IndexedDocument struct {
	ID        string         `json:"id"`
	Type      DocumentType   `json:"type"`
	Filename  string         `json:"filename"`
	Data      map[string]any `json:"data"`
	Embedding []float32      `json:"embedding"`
}

// SearchHit is one ranked result of a similarity query.
type SearchHit struct {
	IndexedDocument
	Score float64 `json:"score"`
}
