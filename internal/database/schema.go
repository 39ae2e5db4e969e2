package database

import (
	"database/sql"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

const (
	JobQueued    string = "QUEUED"
	JobRunning   string = "RUNNING"
	JobCompleted string = "COMPLETED"
	JobFailed    string = "FAILED"
	JobSkipped   string = "SKIPPED"
)

// PipelineRun is one execution of the etl or train graph.
type PipelineRun struct {
	Id             uuid.UUID `gorm:"type:uuid;primaryKey"`
	Pipeline       string    `gorm:"size:20;not null"`
	RunName        string    `gorm:"not null"`
	ExperimentName string
	Status         string `gorm:"size:20;not null"`
	Branch         sql.NullString
	Error          sql.NullString
	CreationTime   time.Time
	CompletionTime sql.NullTime

	Stages []StageRun `gorm:"foreignKey:RunId;constraint:OnDelete:CASCADE"`
}

type StageRun struct {
	RunId uuid.UUID `gorm:"type:uuid;primaryKey"`
	Stage string    `gorm:"size:64;primaryKey"`

	Status   string `gorm:"size:20;not null"`
	Attempts int    `gorm:"default:0"`

	Input  datatypes.JSON
	Output datatypes.JSON
	Error  sql.NullString

	CreationTime   time.Time
	StartTime      sql.NullTime
	CompletionTime sql.NullTime
}

type Experiment struct {
	Id           uuid.UUID `gorm:"type:uuid;primaryKey"`
	Name         string    `gorm:"uniqueIndex;not null"`
	CreationTime time.Time

	Runs []ExperimentRun `gorm:"foreignKey:ExperimentId;constraint:OnDelete:CASCADE"`
}

type ExperimentRun struct {
	Id           uuid.UUID `gorm:"type:uuid;primaryKey"`
	ExperimentId uuid.UUID `gorm:"type:uuid;index"`
	Name         string
	Status       string `gorm:"size:20;not null"`
	StartTime    time.Time
	EndTime      sql.NullTime

	Metrics   []RunMetric   `gorm:"foreignKey:RunId;constraint:OnDelete:CASCADE"`
	Artifacts []RunArtifact `gorm:"foreignKey:RunId;constraint:OnDelete:CASCADE"`
}

type RunMetric struct {
	RunId     uuid.UUID `gorm:"type:uuid;primaryKey"`
	Name      string    `gorm:"primaryKey"`
	Value     float64
	Timestamp time.Time
}

type RunArtifact struct {
	RunId  uuid.UUID `gorm:"type:uuid;primaryKey"`
	Path   string    `gorm:"primaryKey"`
	Bucket string
	Key    string
	Size   int64
}
