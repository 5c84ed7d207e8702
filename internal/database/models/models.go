package models

import (
	"time"

	"github.com/uptrace/bun"
)

// RunStatus represents the state of an ingest run or one of its items
type RunStatus int

const (
	RunStatusPending    RunStatus = 0
	RunStatusProcessing RunStatus = 1
	RunStatusCompleted  RunStatus = 2
	RunStatusFailed     RunStatus = 3
	// RunStatusPartial marks a finished run where some items failed.
	RunStatusPartial RunStatus = 4
)

func (s RunStatus) String() string {
	switch s {
	case RunStatusPending:
		return "pending"
	case RunStatusProcessing:
		return "processing"
	case RunStatusCompleted:
		return "completed"
	case RunStatusFailed:
		return "failed"
	case RunStatusPartial:
		return "partial"
	default:
		return "unknown"
	}
}

// IngestStage is the last stage a document reached
type IngestStage int

const (
	StageExtraction IngestStage = 0
	StageGraph      IngestStage = 1
	StageImages     IngestStage = 2
	StageDone       IngestStage = 3
)

func (s IngestStage) String() string {
	switch s {
	case StageExtraction:
		return "extraction"
	case StageGraph:
		return "graph"
	case StageImages:
		return "images"
	case StageDone:
		return "done"
	default:
		return "unknown"
	}
}

// IngestRun is one invocation of the ingestion driver
type IngestRun struct {
	bun.BaseModel `bun:"table:ingest_runs,alias:ir"`

	ID           string    `bun:",pk" json:"id"`
	Status       RunStatus `bun:",notnull" json:"status"`
	Version      int       `bun:",notnull,default:1" json:"version"`
	Reset        bool      `bun:",notnull,default:false" json:"reset"`
	Documents    int       `bun:",notnull,default:0" json:"documents"`
	Succeeded    int       `bun:",notnull,default:0" json:"succeeded"`
	Failed       int       `bun:",notnull,default:0" json:"failed"`
	Images       int       `bun:",notnull,default:0" json:"images"`
	Links        int       `bun:",notnull,default:0" json:"links"`
	ErrorMessage string    `bun:",nullzero" json:"error_message,omitempty"`
	StartedAt    time.Time `bun:",nullzero,notnull,default:current_timestamp" json:"started_at"`
	FinishedAt   time.Time `bun:",nullzero" json:"finished_at"`
}

// IngestItem is the outcome of one document within a run
type IngestItem struct {
	bun.BaseModel `bun:"table:ingest_items,alias:ii"`

	ID            int64       `bun:",pk,autoincrement" json:"id"`
	RunID         string      `bun:",notnull,unique:run_doc" json:"run_id"`
	Run           *IngestRun  `bun:"rel:belongs-to,join:run_id=id" json:"-"`
	DocID         string      `bun:",notnull,unique:run_doc" json:"doc_id"`
	Status        RunStatus   `bun:",notnull" json:"status"`
	Stage         IngestStage `bun:",notnull" json:"stage"`
	Strategy      string      `bun:",nullzero" json:"strategy,omitempty"`
	Entities      int         `bun:",notnull,default:0" json:"entities"`
	Relationships int         `bun:",notnull,default:0" json:"relationships"`
	Images        int         `bun:",notnull,default:0" json:"images"`
	Links         int         `bun:",notnull,default:0" json:"links"`
	ErrorLog      string      `bun:",nullzero" json:"error_log,omitempty"`
	CreatedAt     time.Time   `bun:",nullzero,notnull,default:current_timestamp" json:"created_at"`
	UpdatedAt     time.Time   `bun:",nullzero,notnull,default:current_timestamp" json:"updated_at"`
}
