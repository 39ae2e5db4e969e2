package artifacts

import (
	"bytes"
	"encoding/json"
	"fmt"
)

const (
	KindKey       = "kind"
	LegacyKindKey = "__class__"

	fieldUnzipPath       = "data_ingestion_unzip_file_path"
	fieldStatus          = "status"
	fieldObjectPath      = "transformed_object_file_path"
	fieldTransformedPath = "transformed_file_path"
	fieldModelPath       = "trained_model_path"
	fieldF1              = "f1_score"
	fieldPrecision       = "precision_score"
	fieldRecall          = "recall_score"
)

// Envelopes written by the previous generation of workers tag the variant
// under __class__ with these names.
var legacyKinds = map[string]Kind{
	"DataIngestionArtifact":      KindIngestion,
	"DataTransformationArtifact": KindTransformation,
	"ModelTrainingArtifact":      KindTraining,
}

var fieldOrder = map[Kind][]string{
	KindIngestion:      {fieldUnzipPath, fieldStatus},
	KindTransformation: {fieldObjectPath, fieldTransformedPath, fieldStatus},
	KindTraining:       {fieldModelPath, fieldF1, fieldPrecision, fieldRecall},
}

// Envelope is the flat wire form of an artifact. The kind key always
// determines which fields are present.
type Envelope map[string]any

// Kind returns the discriminator of the envelope, resolving legacy tags.
// It returns false when no recognized tag is present.
func (e Envelope) Kind() (Kind, bool) {
	if raw, ok := e[KindKey]; ok {
		s, ok := raw.(string)
		if !ok {
			return "", false
		}
		k := Kind(s)
		_, known := fieldOrder[k]
		return k, known
	}
	if raw, ok := e[LegacyKindKey]; ok {
		s, ok := raw.(string)
		if !ok {
			return "", false
		}
		k, known := legacyKinds[s]
		return k, known
	}
	return "", false
}

// MarshalJSON writes the kind first followed by the variant fields in their
// documented order. Unknown keys are appended in no particular order.
func (e Envelope) MarshalJSON() ([]byte, error) {
	kind, _ := e.Kind()

	var keys []string
	seen := map[string]bool{}
	if _, ok := e[KindKey]; ok {
		keys = append(keys, KindKey)
		seen[KindKey] = true
	}
	if _, ok := e[LegacyKindKey]; ok {
		keys = append(keys, LegacyKindKey)
		seen[LegacyKindKey] = true
	}
	for _, k := range fieldOrder[kind] {
		if _, ok := e[k]; ok {
			keys = append(keys, k)
			seen[k] = true
		}
	}
	for k := range e {
		if !seen[k] {
			keys = append(keys, k)
		}
	}

	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, k := range keys {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := json.Marshal(k)
		if err != nil {
			return nil, err
		}
		val, err := json.Marshal(e[k])
		if err != nil {
			return nil, fmt.Errorf("error encoding envelope field %q: %w", k, err)
		}
		buf.Write(key)
		buf.WriteByte(':')
		buf.Write(val)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

func (e *Envelope) UnmarshalJSON(data []byte) error {
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return err
	}
	*e = m
	return nil
}
