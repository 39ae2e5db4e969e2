package core

import (
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strconv"
)

type StandardScaler struct {
	Mean  []float64 `json:"mean"`
	Scale []float64 `json:"scale"`
}

// Fit computes per-column mean and population standard deviation. Constant
// columns get a scale of 1 so they transform to zero.
func (s *StandardScaler) Fit(x [][]float64) error {
	if len(x) == 0 {
		return fmt.Errorf("cannot fit scaler on empty data")
	}
	width := len(x[0])
	s.Mean = make([]float64, width)
	s.Scale = make([]float64, width)

	for _, row := range x {
		for j, v := range row {
			s.Mean[j] += v
		}
	}
	n := float64(len(x))
	for j := range s.Mean {
		s.Mean[j] /= n
	}

	for _, row := range x {
		for j, v := range row {
			d := v - s.Mean[j]
			s.Scale[j] += d * d
		}
	}
	for j := range s.Scale {
		s.Scale[j] = math.Sqrt(s.Scale[j] / n)
		if s.Scale[j] == 0 {
			s.Scale[j] = 1
		}
	}
	return nil
}

func (s *StandardScaler) Transform(x [][]float64) ([][]float64, error) {
	out := make([][]float64, len(x))
	for i, row := range x {
		scaled, err := s.TransformRow(row)
		if err != nil {
			return nil, fmt.Errorf("row %d: %w", i, err)
		}
		out[i] = scaled
	}
	return out, nil
}

func (s *StandardScaler) TransformRow(row []float64) ([]float64, error) {
	if len(row) != len(s.Mean) {
		return nil, fmt.Errorf("expected %d features, got %d", len(s.Mean), len(row))
	}
	out := make([]float64, len(row))
	for j, v := range row {
		out[j] = (v - s.Mean[j]) / s.Scale[j]
	}
	return out, nil
}

// RawRecord is one untransformed transaction as it appears in the source data
// or the prediction form.
type RawRecord struct {
	TransactionTime string
	DateOfBirth     string
	Amount          float64
	CityPop         float64
	MerchLong       float64
}

// Preprocessor derives the age feature, selects the model features and scales
// them. It is persisted next to the transformed data so serving applies the
// exact same transformation.
type Preprocessor struct {
	Features []string       `json:"features"`
	Scaler   StandardScaler `json:"scaler"`
}

func NewPreprocessor() *Preprocessor {
	return &Preprocessor{Features: append([]string(nil), DefaultFeatures...)}
}

// Extract builds the unscaled feature matrix from a raw table.
func (p *Preprocessor) Extract(table *Table) ([][]float64, error) {
	txTimes, err := table.Column(TransactionTimeColumn)
	if err != nil {
		return nil, err
	}
	dobs, err := table.Column(DateOfBirthColumn)
	if err != nil {
		return nil, err
	}

	ages := make([]string, len(txTimes))
	for i := range txTimes {
		age, err := Age(txTimes[i], dobs[i])
		if err != nil {
			return nil, fmt.Errorf("row %d: %w", i+1, err)
		}
		ages[i] = strconv.Itoa(age)
	}

	derived := &Table{Columns: append([]string(nil), table.Columns...), Rows: make([][]string, len(table.Rows))}
	for i, row := range table.Rows {
		derived.Rows[i] = append([]string(nil), row...)
	}
	if err := derived.SetColumn(AgeColumn, ages); err != nil {
		return nil, err
	}

	return derived.Matrix(p.Features)
}

func (p *Preprocessor) FitTransform(table *Table) ([][]float64, error) {
	x, err := p.Extract(table)
	if err != nil {
		return nil, err
	}
	if err := p.Scaler.Fit(x); err != nil {
		return nil, err
	}
	return p.Scaler.Transform(x)
}

func (p *Preprocessor) TransformRecord(rec RawRecord) ([]float64, error) {
	age, err := Age(rec.TransactionTime, rec.DateOfBirth)
	if err != nil {
		return nil, err
	}
	values := map[string]float64{
		AmountColumn:    rec.Amount,
		AgeColumn:       float64(age),
		CityPopColumn:   rec.CityPop,
		MerchLongColumn: rec.MerchLong,
	}
	row := make([]float64, len(p.Features))
	for j, feature := range p.Features {
		v, ok := values[feature]
		if !ok {
			return nil, fmt.Errorf("feature %q is not available on a raw record", feature)
		}
		row[j] = v
	}
	return p.Scaler.TransformRow(row)
}

func (p *Preprocessor) Save(path string) error {
	return saveJSON(path, p)
}

func LoadPreprocessor(path string) (*Preprocessor, error) {
	var p Preprocessor
	if err := loadJSON(path, &p); err != nil {
		return nil, fmt.Errorf("error loading preprocessor: %w", err)
	}
	if len(p.Features) == 0 || len(p.Scaler.Mean) != len(p.Features) {
		return nil, fmt.Errorf("preprocessor at %s is incomplete", path)
	}
	return &p, nil
}

func saveJSON(path string, v any) error {
	if err := os.MkdirAll(filepath.Dir(path), os.ModePerm); err != nil {
		return fmt.Errorf("error creating directory for %s: %w", path, err)
	}
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("error serializing %s: %w", path, err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("error writing %s: %w", path, err)
	}
	return nil
}

func loadJSON(path string, v any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("error reading %s: %w", path, err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("error parsing %s: %w", path, err)
	}
	return nil
}
