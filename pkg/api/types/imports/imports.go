package imports

import "time"

// Health is the body of GET /healthz.
type Health struct {
	State  string `json:"state"`
	Bounce string `json:"bounce,omitempty"`
}

// Failure tells which stage of which file has failed.
type Failure struct {
	Stage    string `json:"stage"`
	FileName string `json:"fileName"`
	FileType string `json:"fileType"`
	Message  string `json:"message"`
}

// Detail is the representation of an import job.
type Detail struct {
	JobId      string     `json:"jobId"`
	Dataset    string     `json:"dataset"`
	Status     string     `json:"status"`
	Failures   []Failure  `json:"failures,omitempty"`
	Artifacts  []string   `json:"artifacts,omitempty"`
	Error      string     `json:"error,omitempty"`
	CreatedAt  time.Time  `json:"createdAt"`
	StartedAt  *time.Time `json:"startedAt,omitempty"`
	FinishedAt *time.Time `json:"finishedAt,omitempty"`
}
