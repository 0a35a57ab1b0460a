package model

import (
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// RowStatus tracks a single spreadsheet row through enrichment
type RowStatus int

const (
	RowPending RowStatus = iota
	RowMissingFields
	RowSkipped
	RowMatched
	RowNoMatch
	RowLookupFailed
	RowCategoryMismatch
	RowError
)

// Done reports whether enrichment already produced a final outcome for the row
func (s RowStatus) Done() bool {
	return s >= RowSkipped
}

// Fixed markers written into a row's output columns
const (
	MarkerMissingFields    = "required fields missing"
	MarkerAbnormalAccess   = "abnormal access"
	MarkerCategoryMismatch = "category term not present in product name"
	MarkerNoValidKeyword   = "no valid keyword found"
	MarkerError            = "error occurred"
)

// MaxCandidates is the number of valid keywords kept per row
const MaxCandidates = 5

// Row is one product line of a job's spreadsheet
type Row struct {
	ID            primitive.ObjectID `bson:"_id,omitempty" json:"id"`
	JobID         string             `bson:"job_id" json:"jobId"`
	RowIndex      int                `bson:"row_index" json:"rowIndex"`
	ProductName   string             `bson:"product_name" json:"productName"`
	ProductCode   string             `bson:"product_code" json:"productCode"`
	Category      string             `bson:"category" json:"category"`
	CategoryPath  string             `bson:"category_path,omitempty" json:"categoryPath,omitempty"`
	CatalogID     string             `bson:"catalog_id,omitempty" json:"catalogId,omitempty"`
	ChosenKeyword string             `bson:"chosen_keyword" json:"chosenKeyword"`
	Candidates    []string           `bson:"candidates" json:"candidates"`
	Status        RowStatus          `bson:"status" json:"rowStatusCode"`
}

// Mark records a row level outcome that carries no keywords
func (r *Row) Mark(status RowStatus, marker string) {
	r.Status = status
	r.Category = marker
	r.ChosenKeyword = marker
	r.Candidates = nil
}
