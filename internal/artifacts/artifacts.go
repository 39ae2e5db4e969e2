package artifacts

// Kind identifies an artifact variant on the wire.
type Kind string

const (
	KindIngestion      Kind = "IngestionResult"
	KindTransformation Kind = "TransformationResult"
	KindTraining       Kind = "TrainingResult"
)

// Artifact is the closed set of stage outputs that can cross a stage boundary.
// The unexported method keeps other packages from adding variants.
type Artifact interface {
	Kind() Kind

	artifact()
}

type IngestionResult struct {
	UnzippedFilePath string
	Succeeded        bool
}

type TransformationResult struct {
	TransformedObjectPath string
	TransformedDataPath   string
	Succeeded             bool
}

// TrainingResult has no success flag: training failures are returned as errors.
type TrainingResult struct {
	TrainedModelPath string
	F1               float64
	Precision        float64
	Recall           float64
}

func (IngestionResult) Kind() Kind      { return KindIngestion }
func (TransformationResult) Kind() Kind { return KindTransformation }
func (TrainingResult) Kind() Kind       { return KindTraining }

func (IngestionResult) artifact()      {}
func (TransformationResult) artifact() {}
func (TrainingResult) artifact()       {}

// Succeeded reports whether an artifact may be consumed downstream. Variants
// without a status flag are considered successful once they exist.
func Succeeded(a Artifact) bool {
	switch v := a.(type) {
	case IngestionResult:
		return v.Succeeded
	case TransformationResult:
		return v.Succeeded
	case TrainingResult:
		return true
	case *IngestionResult:
		return v != nil && v.Succeeded
	case *TransformationResult:
		return v != nil && v.Succeeded
	case *TrainingResult:
		return v != nil
	default:
		return false
	}
}
