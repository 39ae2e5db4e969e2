package artifacts

import (
	"encoding/json"
	"fmt"
	"math"
)

// Encode converts an artifact into its tagged envelope.
func Encode(a Artifact) (Envelope, error) {
	switch v := a.(type) {
	case IngestionResult:
		return Envelope{
			KindKey:        string(KindIngestion),
			fieldUnzipPath: v.UnzippedFilePath,
			fieldStatus:    v.Succeeded,
		}, nil
	case *IngestionResult:
		if v == nil {
			return nil, &EncodeError{Value: a}
		}
		return Encode(*v)
	case TransformationResult:
		return Envelope{
			KindKey:              string(KindTransformation),
			fieldObjectPath:      v.TransformedObjectPath,
			fieldTransformedPath: v.TransformedDataPath,
			fieldStatus:          v.Succeeded,
		}, nil
	case *TransformationResult:
		if v == nil {
			return nil, &EncodeError{Value: a}
		}
		return Encode(*v)
	case TrainingResult:
		return Envelope{
			KindKey:        string(KindTraining),
			fieldModelPath: v.TrainedModelPath,
			fieldF1:        v.F1,
			fieldPrecision: v.Precision,
			fieldRecall:    v.Recall,
		}, nil
	case *TrainingResult:
		if v == nil {
			return nil, &EncodeError{Value: a}
		}
		return Encode(*v)
	default:
		return nil, &EncodeError{Value: a}
	}
}

// EncodeValue accepts an arbitrary value so callers holding an untyped
// payload get an EncodeError instead of a compile failure.
func EncodeValue(v any) (Envelope, error) {
	a, ok := v.(Artifact)
	if !ok {
		return nil, &EncodeError{Value: v}
	}
	return Encode(a)
}

// Decode reconstructs the artifact described by an envelope. It never
// returns a partially populated artifact.
func Decode(e Envelope) (Artifact, error) {
	if e == nil {
		return nil, &DecodeError{Reason: "envelope is empty"}
	}
	kind, ok := e.Kind()
	if !ok {
		return nil, &DecodeError{Reason: describeKind(e)}
	}

	r := fieldReader{env: e, kind: kind}
	switch kind {
	case KindIngestion:
		out := IngestionResult{
			UnzippedFilePath: r.str(fieldUnzipPath),
			Succeeded:        r.boolean(fieldStatus),
		}
		if r.err != nil {
			return nil, r.err
		}
		return out, nil
	case KindTransformation:
		out := TransformationResult{
			TransformedObjectPath: r.str(fieldObjectPath),
			TransformedDataPath:   r.str(fieldTransformedPath),
			Succeeded:             r.boolean(fieldStatus),
		}
		if r.err != nil {
			return nil, r.err
		}
		return out, nil
	case KindTraining:
		out := TrainingResult{
			TrainedModelPath: r.str(fieldModelPath),
			F1:               r.float(fieldF1),
			Precision:        r.float(fieldPrecision),
			Recall:           r.float(fieldRecall),
		}
		if r.err != nil {
			return nil, r.err
		}
		return out, nil
	default:
		return nil, &DecodeError{Kind: string(kind), Reason: fmt.Sprintf("unknown kind %q", kind)}
	}
}

func describeKind(e Envelope) string {
	raw, ok := e[KindKey]
	if !ok {
		raw, ok = e[LegacyKindKey]
	}
	if !ok {
		return "missing kind"
	}
	if s, isStr := raw.(string); isStr {
		return fmt.Sprintf("unknown kind %q", s)
	}
	return fmt.Sprintf("kind has type %T, expected string", raw)
}

// fieldReader records the first field error and makes every later read a
// no-op, so decoding branches stay flat.
type fieldReader struct {
	env  Envelope
	kind Kind
	err  error
}

func (r *fieldReader) lookup(field string) (any, bool) {
	if r.err != nil {
		return nil, false
	}
	v, ok := r.env[field]
	if !ok {
		r.err = &DecodeError{Kind: string(r.kind), Field: field, Reason: "is missing"}
		return nil, false
	}
	return v, true
}

func (r *fieldReader) mistyped(field, want string, got any) {
	r.err = &DecodeError{Kind: string(r.kind), Field: field, Reason: fmt.Sprintf("has type %T, expected %s", got, want)}
}

func (r *fieldReader) str(field string) string {
	v, ok := r.lookup(field)
	if !ok {
		return ""
	}
	s, ok := v.(string)
	if !ok {
		r.mistyped(field, "string", v)
		return ""
	}
	return s
}

func (r *fieldReader) boolean(field string) bool {
	v, ok := r.lookup(field)
	if !ok {
		return false
	}
	b, ok := v.(bool)
	if !ok {
		r.mistyped(field, "bool", v)
		return false
	}
	return b
}

func (r *fieldReader) float(field string) float64 {
	v, ok := r.lookup(field)
	if !ok {
		return 0
	}
	var f float64
	switch n := v.(type) {
	case float64:
		f = n
	case float32:
		f = float64(n)
	case int:
		f = float64(n)
	case int64:
		f = float64(n)
	case json.Number:
		parsed, err := n.Float64()
		if err != nil {
			r.mistyped(field, "number", v)
			return 0
		}
		f = parsed
	default:
		r.mistyped(field, "number", v)
		return 0
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		r.err = &DecodeError{Kind: string(r.kind), Field: field, Reason: "is not a finite number"}
		return 0
	}
	return f
}
