package model

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// JobState is the single authoritative state of an extraction job.
// The durable Work record and the ephemeral Progress record both store
// projections of it.
type JobState int

const (
	JobWaiting JobState = iota
	JobInProgress
	JobRendering
	JobSuccess
	JobFailed
	JobQuotaExceeded
	JobKilled
)

// WorkStatus is the durable status code stored on the Work record
type WorkStatus int

const (
	WorkWaiting       WorkStatus = 0
	WorkSuccess       WorkStatus = 1
	WorkInProgress    WorkStatus = 2
	WorkFailed        WorkStatus = 3
	WorkQuotaExceeded WorkStatus = -1
	WorkKilled        WorkStatus = -9
)

// ProgressStatus is the finer grained status code stored on the Progress record
type ProgressStatus int

const (
	ProgressWaiting       ProgressStatus = 0
	ProgressSuccess       ProgressStatus = 1
	ProgressDownloading   ProgressStatus = 2
	ProgressRendering     ProgressStatus = 3
	ProgressQuotaExceeded ProgressStatus = -1
	ProgressKilled        ProgressStatus = -9
)

var jobStateNames = map[JobState]string{
	JobWaiting:       "WAITING",
	JobInProgress:    "IN_PROGRESS",
	JobRendering:     "RENDERING",
	JobSuccess:       "SUCCESS",
	JobFailed:        "FAILED",
	JobQuotaExceeded: "QUOTA_EXCEEDED",
	JobKilled:        "KILLED",
}

func (s JobState) String() string {
	if name, ok := jobStateNames[s]; ok {
		return name
	}
	return "UNKNOWN"
}

// Terminal reports whether no further transition is allowed from s
func (s JobState) Terminal() bool {
	switch s {
	case JobSuccess, JobFailed, JobQuotaExceeded, JobKilled:
		return true
	}
	return false
}

// Work projects the state onto the durable status code.
// Rendering has no durable code of its own and is stored as InProgress.
func (s JobState) Work() WorkStatus {
	switch s {
	case JobInProgress, JobRendering:
		return WorkInProgress
	case JobSuccess:
		return WorkSuccess
	case JobFailed:
		return WorkFailed
	case JobQuotaExceeded:
		return WorkQuotaExceeded
	case JobKilled:
		return WorkKilled
	default:
		return WorkWaiting
	}
}

// Progress projects the state onto the ephemeral status code. Failed has no
// progress code; the record keeps its last value until it is deleted.
func (s JobState) Progress() (ProgressStatus, bool) {
	switch s {
	case JobWaiting:
		return ProgressWaiting, true
	case JobInProgress:
		return ProgressDownloading, true
	case JobRendering:
		return ProgressRendering, true
	case JobSuccess:
		return ProgressSuccess, true
	case JobQuotaExceeded:
		return ProgressQuotaExceeded, true
	case JobKilled:
		return ProgressKilled, true
	default:
		return 0, false
	}
}

// Terminal reports whether the durable status is final
func (w WorkStatus) Terminal() bool {
	switch w {
	case WorkSuccess, WorkFailed, WorkQuotaExceeded, WorkKilled:
		return true
	}
	return false
}

// Checkpoint records the last phase a job completed
type Checkpoint string

const (
	CheckpointNone     Checkpoint = ""
	CheckpointParsed   Checkpoint = "parsed"
	CheckpointEnriched Checkpoint = "enriched"
	CheckpointRendered Checkpoint = "rendered"
)

var checkpointOrder = map[Checkpoint]int{
	CheckpointNone:     0,
	CheckpointParsed:   1,
	CheckpointEnriched: 2,
	CheckpointRendered: 3,
}

// Reached reports whether c is at or past other
func (c Checkpoint) Reached(other Checkpoint) bool {
	return checkpointOrder[c] >= checkpointOrder[other]
}

// ExtractParams are the user supplied thresholds of one job
type ExtractParams struct {
	SellerCountMin int  `bson:"seller_count_min" json:"sellerCountMin"`
	SellerCountMax int  `bson:"seller_count_max" json:"sellerCountMax"`
	MinVolume      int  `bson:"min_volume" json:"searchCount"`
	UseTrademark   bool `bson:"use_trademark" json:"useTrademark"`
}

const (
	DefaultSellerCountMax = 5000
	DefaultMinVolume      = 1000
)

// WithDefaults applies the submission defaulting rules
func (p ExtractParams) WithDefaults() ExtractParams {
	if p.SellerCountMin >= p.SellerCountMax {
		p.SellerCountMin = 0
	}
	if p.SellerCountMax <= 0 {
		p.SellerCountMax = DefaultSellerCountMax
	}
	if p.MinVolume <= 0 {
		p.MinVolume = DefaultMinVolume
	}
	return p
}

// Work is the durable record of one submitted spreadsheet
type Work struct {
	ID             primitive.ObjectID `bson:"_id,omitempty" json:"id"`
	SourceFilename string             `bson:"source_filename" json:"sourceFilename"`
	DedupToken     string             `bson:"dedup_token" json:"dedupToken"`
	Status         WorkStatus         `bson:"status" json:"statusCode"`
	OutputFilename string             `bson:"output_filename" json:"outputFilename"`
	Params         ExtractParams      `bson:"params" json:"params"`
	Checkpoint     Checkpoint         `bson:"checkpoint" json:"checkpoint"`
	RetryPending   bool               `bson:"retry_pending" json:"-"`
	CreatedAt      time.Time          `bson:"created_at" json:"createdAt"`
	StartedAt      *time.Time         `bson:"started_at,omitempty" json:"startedAt,omitempty"`
	EndedAt        *time.Time         `bson:"ended_at,omitempty" json:"endedAt,omitempty"`
}

// StoredName is the collision free name the upload was persisted under
func (w *Work) StoredName() string {
	return w.DedupToken + w.SourceFilename
}

// JobMessage is the queue payload that starts a job
type JobMessage struct {
	WorkID         string `json:"workId"`
	SellerCountMin int    `json:"sellerCountMin"`
	SellerCountMax int    `json:"sellerCountMax"`
	MinVolume      int    `json:"searchCount"`
	UseTrademark   bool   `json:"useTrademark"`
}

func (m JobMessage) Params() ExtractParams {
	return ExtractParams{
		SellerCountMin: m.SellerCountMin,
		SellerCountMax: m.SellerCountMax,
		MinVolume:      m.MinVolume,
		UseTrademark:   m.UseTrademark,
	}
}
