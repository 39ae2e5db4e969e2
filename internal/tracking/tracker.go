package tracking

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"time"

	"fraud-pipeline/internal/database"
	"fraud-pipeline/internal/storage"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Tracker records experiments, runs, metrics and artifacts. Stages depend on
// this interface so tests can observe what gets logged.
type Tracker interface {
	StartRun(ctx context.Context, experiment, runName string) (uuid.UUID, error)
	LogMetric(ctx context.Context, runId uuid.UUID, name string, value float64) error
	LogArtifact(ctx context.Context, runId uuid.UUID, localPath, artifactPath string) error
	EndRun(ctx context.Context, runId uuid.UUID, status string) error
}

// DBTracker keeps run metadata in the database and artifact bytes in the
// blob store.
type DBTracker struct {
	db     *gorm.DB
	store  storage.Provider
	bucket string
}

func NewDBTracker(db *gorm.DB, store storage.Provider, bucket string) *DBTracker {
	return &DBTracker{db: db, store: store, bucket: bucket}
}

func (t *DBTracker) experiment(ctx context.Context, name string) (database.Experiment, error) {
	var exp database.Experiment
	err := t.db.WithContext(ctx).
		Where(database.Experiment{Name: name}).
		Attrs(database.Experiment{Id: uuid.New(), CreationTime: time.Now().UTC()}).
		FirstOrCreate(&exp).Error
	if err != nil {
		return exp, fmt.Errorf("error getting experiment %s: %w", name, err)
	}
	return exp, nil
}

func (t *DBTracker) StartRun(ctx context.Context, experiment, runName string) (uuid.UUID, error) {
	exp, err := t.experiment(ctx, experiment)
	if err != nil {
		return uuid.Nil, err
	}

	run := database.ExperimentRun{
		Id:           uuid.New(),
		ExperimentId: exp.Id,
		Name:         runName,
		Status:       database.JobRunning,
		StartTime:    time.Now().UTC(),
	}
	if err := t.db.WithContext(ctx).Create(&run).Error; err != nil {
		return uuid.Nil, fmt.Errorf("error creating experiment run: %w", err)
	}

	slog.Info("started experiment run", "experiment", experiment, "run", runName, "run_id", run.Id)
	return run.Id, nil
}

func (t *DBTracker) LogMetric(ctx context.Context, runId uuid.UUID, name string, value float64) error {
	metric := database.RunMetric{RunId: runId, Name: name, Value: value, Timestamp: time.Now().UTC()}
	err := t.db.WithContext(ctx).
		Clauses(clause.OnConflict{UpdateAll: true}).
		Create(&metric).Error
	if err != nil {
		return fmt.Errorf("error logging metric %s: %w", name, err)
	}
	return nil
}

// LogArtifact uploads the file and records it under artifactPath/<file name>.
func (t *DBTracker) LogArtifact(ctx context.Context, runId uuid.UUID, localPath, artifactPath string) error {
	var run database.ExperimentRun
	if err := t.db.WithContext(ctx).First(&run, "id = ?", runId).Error; err != nil {
		return fmt.Errorf("error getting experiment run %s: %w", runId, err)
	}

	file, err := os.Open(localPath)
	if err != nil {
		return fmt.Errorf("error opening artifact %s: %w", localPath, err)
	}
	defer file.Close()

	info, err := file.Stat()
	if err != nil {
		return fmt.Errorf("error reading artifact %s: %w", localPath, err)
	}

	name := path.Join(artifactPath, filepath.Base(localPath))
	key := path.Join("experiments", run.ExperimentId.String(), runId.String(), name)
	if err := t.store.PutObject(ctx, t.bucket, key, file); err != nil {
		return fmt.Errorf("error uploading artifact %s: %w", localPath, err)
	}

	record := database.RunArtifact{RunId: runId, Path: name, Bucket: t.bucket, Key: key, Size: info.Size()}
	if err := t.db.WithContext(ctx).Clauses(clause.OnConflict{UpdateAll: true}).Create(&record).Error; err != nil {
		return fmt.Errorf("error recording artifact %s: %w", name, err)
	}

	slog.Info("logged artifact", "run_id", runId, "path", name, "bytes", info.Size())
	return nil
}

func (t *DBTracker) EndRun(ctx context.Context, runId uuid.UUID, status string) error {
	result := t.db.WithContext(ctx).Model(&database.ExperimentRun{Id: runId}).Updates(map[string]any{
		"status":   status,
		"end_time": sql.NullTime{Time: time.Now().UTC(), Valid: true},
	})
	if result.Error != nil {
		return fmt.Errorf("error ending experiment run %s: %w", runId, result.Error)
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("error ending experiment run %s: %w", runId, gorm.ErrRecordNotFound)
	}
	return nil
}

func GetRun(ctx context.Context, db *gorm.DB, runId uuid.UUID) (database.ExperimentRun, error) {
	var run database.ExperimentRun
	err := db.WithContext(ctx).Preload("Metrics").Preload("Artifacts").First(&run, "id = ?", runId).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return run, fmt.Errorf("experiment run %s not found: %w", runId, err)
	}
	return run, err
}
