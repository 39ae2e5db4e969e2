package core

import (
	"fmt"
	"math"
	"math/rand"
)

const SplitSeed = 42

// Classifier is a binary logistic regression trained with batch gradient
// descent.
type Classifier struct {
	Features []string  `json:"features"`
	Weights  []float64 `json:"weights"`
	Bias     float64   `json:"bias"`
}

type TrainOptions struct {
	MaxIterations int
	LearningRate  float64
}

func Fit(features []string, x [][]float64, y []int, opts TrainOptions) (*Classifier, error) {
	if len(x) == 0 {
		return nil, fmt.Errorf("no training rows")
	}
	if len(x) != len(y) {
		return nil, fmt.Errorf("feature rows and labels differ in length: %d != %d", len(x), len(y))
	}
	width := len(x[0])
	if len(features) != width {
		return nil, fmt.Errorf("expected %d feature names, got %d", width, len(features))
	}
	for _, label := range y {
		if label != 0 && label != 1 {
			return nil, fmt.Errorf("labels must be 0 or 1, got %d", label)
		}
	}

	model := &Classifier{Features: features, Weights: make([]float64, width)}
	grad := make([]float64, width)
	n := float64(len(x))

	for iter := 0; iter < opts.MaxIterations; iter++ {
		for j := range grad {
			grad[j] = 0
		}
		var gradBias float64
		for i, row := range x {
			diff := model.Probability(row) - float64(y[i])
			for j, v := range row {
				grad[j] += diff * v
			}
			gradBias += diff
		}
		for j := range model.Weights {
			model.Weights[j] -= opts.LearningRate * grad[j] / n
		}
		model.Bias -= opts.LearningRate * gradBias / n
	}

	for _, w := range model.Weights {
		if math.IsNaN(w) || math.IsInf(w, 0) {
			return nil, fmt.Errorf("training diverged")
		}
	}
	return model, nil
}

func (c *Classifier) Probability(row []float64) float64 {
	z := c.Bias
	for j, v := range row {
		z += c.Weights[j] * v
	}
	return 1 / (1 + math.Exp(-z))
}

func (c *Classifier) Predict(row []float64) (int, error) {
	if len(row) != len(c.Weights) {
		return 0, fmt.Errorf("expected %d features, got %d", len(c.Weights), len(row))
	}
	if c.Probability(row) >= 0.5 {
		return 1, nil
	}
	return 0, nil
}

func (c *Classifier) PredictAll(x [][]float64) ([]int, error) {
	out := make([]int, len(x))
	for i, row := range x {
		label, err := c.Predict(row)
		if err != nil {
			return nil, fmt.Errorf("row %d: %w", i, err)
		}
		out[i] = label
	}
	return out, nil
}

func (c *Classifier) Save(path string) error {
	return saveJSON(path, c)
}

func LoadClassifier(path string) (*Classifier, error) {
	var c Classifier
	if err := loadJSON(path, &c); err != nil {
		return nil, fmt.Errorf("error loading model: %w", err)
	}
	if len(c.Weights) == 0 {
		return nil, fmt.Errorf("model at %s has no weights", path)
	}
	return &c, nil
}

type Split struct {
	TrainX [][]float64
	TrainY []int
	TestX  [][]float64
	TestY  []int
}

// TrainTestSplit shuffles with a fixed seed and holds out ceil(testRatio*n)
// rows for evaluation.
func TrainTestSplit(x [][]float64, y []int, testRatio float64, seed int64) (Split, error) {
	if len(x) != len(y) {
		return Split{}, fmt.Errorf("feature rows and labels differ in length: %d != %d", len(x), len(y))
	}
	if testRatio <= 0 || testRatio >= 1 {
		return Split{}, fmt.Errorf("test ratio must be in (0, 1), got %v", testRatio)
	}
	nTest := int(math.Ceil(testRatio * float64(len(x))))
	if nTest < 1 || nTest >= len(x) {
		return Split{}, fmt.Errorf("cannot split %d rows with test ratio %v", len(x), testRatio)
	}

	perm := rand.New(rand.NewSource(seed)).Perm(len(x))

	var split Split
	for i, idx := range perm {
		if i < nTest {
			split.TestX = append(split.TestX, x[idx])
			split.TestY = append(split.TestY, y[idx])
		} else {
			split.TrainX = append(split.TrainX, x[idx])
			split.TrainY = append(split.TrainY, y[idx])
		}
	}
	return split, nil
}

type Metrics struct {
	Accuracy  float64
	F1        float64
	Precision float64
	Recall    float64
}

// Score treats label 1 as the positive class. Undefined ratios are reported
// as zero.
func Score(actual, predicted []int) Metrics {
	var tp, tn, fp, fn float64
	for i := range actual {
		switch {
		case actual[i] == 1 && predicted[i] == 1:
			tp++
		case actual[i] == 0 && predicted[i] == 0:
			tn++
		case actual[i] == 0 && predicted[i] == 1:
			fp++
		default:
			fn++
		}
	}

	var m Metrics
	if total := tp + tn + fp + fn; total > 0 {
		m.Accuracy = (tp + tn) / total
	}
	if tp+fp > 0 {
		m.Precision = tp / (tp + fp)
	}
	if tp+fn > 0 {
		m.Recall = tp / (tp + fn)
	}
	if m.Precision+m.Recall > 0 {
		m.F1 = 2 * m.Precision * m.Recall / (m.Precision + m.Recall)
	}
	return m
}
