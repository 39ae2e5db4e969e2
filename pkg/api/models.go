package api

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

type SubmitRunRequest struct {
	Pipeline string
}

type SubmitRunResponse struct {
	RunId          uuid.UUID
	Pipeline       string
	RunName        string
	ExperimentName string `json:"ExperimentName,omitempty"`
}

type ListRunsParams struct {
	Pipeline string `schema:"pipeline"`
	Status   string `schema:"status"`
	Limit    int    `schema:"limit"`
}

type Stage struct {
	Stage          string
	Status         string
	Attempts       int
	Input          json.RawMessage `json:"Input,omitempty"`
	Output         json.RawMessage `json:"Output,omitempty"`
	Error          string          `json:"Error,omitempty"`
	StartTime      *time.Time      `json:"StartTime,omitempty"`
	CompletionTime *time.Time      `json:"CompletionTime,omitempty"`
}

type Run struct {
	Id             uuid.UUID
	Pipeline       string
	RunName        string
	ExperimentName string `json:"ExperimentName,omitempty"`
	Status         string
	Branch         string `json:"Branch,omitempty"`
	Error          string `json:"Error,omitempty"`
	CreationTime   time.Time
	CompletionTime *time.Time `json:"CompletionTime,omitempty"`

	Stages []Stage `json:"Stages,omitempty"`
}

type Metric struct {
	Name  string
	Value float64
}

type Artifact struct {
	Path   string
	Bucket string
	Key    string
	Size   int64
}

type ExperimentRun struct {
	Id        uuid.UUID
	Name      string
	Status    string
	StartTime time.Time
	EndTime   *time.Time `json:"EndTime,omitempty"`
	Metrics   []Metric
	Artifacts []Artifact
}

// PredictionRequest matches the fields of the prediction form.
type PredictionRequest struct {
	TransDateTransTime string  `schema:"trans_date_trans_time" json:"trans_date_trans_time"`
	Dob                string  `schema:"dob" json:"dob"`
	Amt                float64 `schema:"amt" json:"amt"`
	CityPop            float64 `schema:"city_pop" json:"city_pop"`
	MerchLong          float64 `schema:"merch_long" json:"merch_long"`
}

type PredictionResponse struct {
	Prediction  string
	Fraudulent  bool
	Probability float64
}

// ModelArtifact is an object published for serving.
type ModelArtifact struct {
	Key  string
	Size int64
}
