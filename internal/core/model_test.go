package core_test

import (
	"path/filepath"
	"strings"
	"testing"
	"time"

	"fraud-pipeline/internal/core"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const rawCSV = `trans_date_trans_time,dob,amt,city_pop,merch_long,is_fraud
2019-01-01 00:00:18,1988-03-09,4.97,3495,-82.048315,0
2019-01-01 00:00:44,1978-06-21,107.23,149,-118.186462,0
2019-01-01 00:00:51,1962-01-19,220.11,4154,-112.154481,0
2019-01-02 01:06:37,1961-06-19,281.06,885,-80.883061,"1""2019-01-02"""
`

func TestPreprocessorRoundTrip(t *testing.T) {
	table, err := core.ParseCSV(strings.NewReader(rawCSV))
	require.NoError(t, err)
	require.Equal(t, 4, table.Len())

	pre := core.NewPreprocessor()
	x, err := pre.FitTransform(table)
	require.NoError(t, err)
	require.Len(t, x, 4)
	require.Len(t, x[0], len(core.DefaultFeatures))

	// scaled columns are centered
	for j := range core.DefaultFeatures {
		var sum float64
		for i := range x {
			sum += x[i][j]
		}
		assert.InDelta(t, 0, sum, 1e-9)
	}

	path := filepath.Join(t.TempDir(), "pre.json")
	require.NoError(t, pre.Save(path))

	loaded, err := core.LoadPreprocessor(path)
	require.NoError(t, err)

	row, err := loaded.TransformRecord(core.RawRecord{
		TransactionTime: "2019-01-01 00:00:18",
		DateOfBirth:     "1988-03-09",
		Amount:          4.97,
		CityPop:         3495,
		MerchLong:       -82.048315,
	})
	require.NoError(t, err)
	assert.InDeltaSlice(t, x[0], row, 1e-9)
}

func TestClassifierLearnsSeparableData(t *testing.T) {
	var x [][]float64
	var y []int
	for i := 0; i < 100; i++ {
		v := float64(i-50) / 10
		x = append(x, []float64{v, 0.5})
		if v > 0 {
			y = append(y, 1)
		} else {
			y = append(y, 0)
		}
	}

	split, err := core.TrainTestSplit(x, y, 0.2, core.SplitSeed)
	require.NoError(t, err)
	assert.Len(t, split.TestX, 20)
	assert.Len(t, split.TrainX, 80)

	model, err := core.Fit([]string{"a", "b"}, split.TrainX, split.TrainY, core.TrainOptions{MaxIterations: 300, LearningRate: 0.5})
	require.NoError(t, err)

	predicted, err := model.PredictAll(split.TestX)
	require.NoError(t, err)
	metrics := core.Score(split.TestY, predicted)
	assert.Greater(t, metrics.Accuracy, 0.9)

	path := filepath.Join(t.TempDir(), "model.json")
	require.NoError(t, model.Save(path))
	loaded, err := core.LoadClassifier(path)
	require.NoError(t, err)
	assert.Equal(t, model.Weights, loaded.Weights)
}

func TestScore(t *testing.T) {
	m := core.Score([]int{1, 1, 0, 0}, []int{1, 0, 1, 0})
	assert.Equal(t, 0.5, m.Accuracy)
	assert.Equal(t, 0.5, m.Precision)
	assert.Equal(t, 0.5, m.Recall)
	assert.Equal(t, 0.5, m.F1)

	m = core.Score([]int{0, 0}, []int{0, 0})
	assert.Equal(t, 1.0, m.Accuracy)
	assert.Zero(t, m.F1)
}

func TestTrainTestSplitRejectsBadRatio(t *testing.T) {
	_, err := core.TrainTestSplit([][]float64{{1}, {2}}, []int{0, 1}, 1.5, core.SplitSeed)
	assert.Error(t, err)
}

func TestCompareTables(t *testing.T) {
	reference := &core.Table{Columns: []string{"amt", "kind"}}
	shifted := &core.Table{Columns: []string{"amt", "kind"}}
	for i := 0; i < 200; i++ {
		reference.Rows = append(reference.Rows, []string{core.FormatFloat(float64(i)), "a"})
		shifted.Rows = append(shifted.Rows, []string{core.FormatFloat(float64(i + 1000)), "a"})
	}

	same, err := core.CompareTables(reference, reference)
	require.NoError(t, err)
	assert.Zero(t, same.Share)
	assert.Len(t, same.Columns, 2)

	drifted, err := core.CompareTables(reference, shifted)
	require.NoError(t, err)
	assert.Equal(t, 1, drifted.DriftedCount)
	assert.Equal(t, 0.5, drifted.Share)

	report, err := core.RenderDriftReport(drifted, time.Unix(0, 0).UTC())
	require.NoError(t, err)
	assert.Contains(t, string(report), "Drifted columns: 1 of 2")
}

func TestKSStatistic(t *testing.T) {
	assert.Equal(t, 0.0, core.KSStatistic([]float64{1, 2, 3}, []float64{1, 2, 3}))
	assert.Equal(t, 1.0, core.KSStatistic([]float64{1, 2, 3}, []float64{10, 11, 12}))
	assert.Equal(t, 1.0, core.KSPValue(0, 10, 10))
}
