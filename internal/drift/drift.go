package drift

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"time"

	"fraud-pipeline/internal/config"
	"fraud-pipeline/internal/core"
	"fraud-pipeline/internal/database"
	"fraud-pipeline/internal/tracking"
)

const (
	// Threshold is compared against the share of drifted columns.
	Threshold = 0.2

	BranchTrain = "model_train"
	BranchEnd   = "end_pipeline"

	ReportArtifactPath = "evidently_report"
)

// DecideBranch picks the successor of the drift check. A share at or below
// the threshold selects retraining.
// TODO: confirm with the model owners whether retraining should trigger on
// shares above the threshold instead; the comparison is kept as deployed.
func DecideBranch(share float64) string {
	if share <= Threshold {
		return BranchTrain
	}
	return BranchEnd
}

type Decision struct {
	Branch     string
	ReportPath string
	Share      float64
}

type DataDrift struct {
	cfg     config.DataDriftConfig
	tracker tracking.Tracker
	now     func() time.Time
}

func NewDataDrift(cfg config.DataDriftConfig, tracker tracking.Tracker) *DataDrift {
	return &DataDrift{cfg: cfg, tracker: tracker, now: time.Now}
}

// Detect compares the reference dataset with the latest transformed data,
// writes the html report and logs it to the tracker under runName.
func (d *DataDrift) Detect(ctx context.Context, experiment, runName string) (Decision, error) {
	current, err := core.ReadCSV(d.cfg.TransformedDataPath)
	if err != nil {
		return Decision{}, fmt.Errorf("error loading current data: %w", err)
	}

	reference := current
	if _, err := os.Stat(d.cfg.ReferenceDataPath); err == nil {
		if reference, err = core.ReadCSV(d.cfg.ReferenceDataPath); err != nil {
			return Decision{}, fmt.Errorf("error loading reference data: %w", err)
		}
	} else if errors.Is(err, fs.ErrNotExist) {
		slog.Warn("reference dataset missing, comparing current data with itself", "path", d.cfg.ReferenceDataPath)
	} else {
		return Decision{}, fmt.Errorf("error checking reference data: %w", err)
	}

	result, err := core.CompareTables(reference, current)
	if err != nil {
		return Decision{}, fmt.Errorf("error computing drift: %w", err)
	}

	reportPath := d.cfg.ReportPath()
	if err := core.WriteDriftReport(reportPath, result, d.now()); err != nil {
		return Decision{}, err
	}

	decision := Decision{Branch: DecideBranch(result.Share), ReportPath: reportPath, Share: result.Share}
	slog.Info("drift check complete", "drift_share", result.Share, "drifted_columns", result.DriftedCount, "threshold", Threshold, "branch", decision.Branch)

	if err := d.logReport(ctx, experiment, runName, decision); err != nil {
		return Decision{}, err
	}
	return decision, nil
}

func (d *DataDrift) logReport(ctx context.Context, experiment, runName string, decision Decision) error {
	runId, err := d.tracker.StartRun(ctx, experiment, runName)
	if err != nil {
		return fmt.Errorf("error starting tracker run: %w", err)
	}

	status := database.JobCompleted
	defer func() {
		if err := d.tracker.EndRun(ctx, runId, status); err != nil {
			slog.Error("error ending tracker run", "run_id", runId, "error", err)
		}
	}()

	if err := d.tracker.LogMetric(ctx, runId, "drift_share", decision.Share); err != nil {
		status = database.JobFailed
		return err
	}
	if err := d.tracker.LogArtifact(ctx, runId, decision.ReportPath, ReportArtifactPath); err != nil {
		status = database.JobFailed
		return err
	}
	return nil
}
