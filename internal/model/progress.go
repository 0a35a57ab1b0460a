package model

// Progress is the live, frequently overwritten view of a running job.
// It shares the id of its Work record and disappears shortly after the job
// reaches a terminal state.
type Progress struct {
	JobID            string         `json:"id"`
	Filename         string         `json:"filename"`
	FilterTotal      int64          `json:"filterTotal"`
	FilterProgress   int64          `json:"filterProgress"`
	RenderTotal      int64          `json:"renderTotal"`
	RenderProgress   int64          `json:"renderProgress"`
	StatusCode       ProgressStatus `json:"statusCode"`
	RenderRetryCount int64          `json:"renderRetryCount"`
}
