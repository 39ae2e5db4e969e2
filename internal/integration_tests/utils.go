//go:build integration
// +build integration

package integrationtests

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"fraud-pipeline/internal/config"
	"fraud-pipeline/internal/database"
	"fraud-pipeline/internal/storage"

	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/minio"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
	"gorm.io/gorm"
)

const (
	minioUsername = "admin"
	minioPassword = "password"

	modelBucket    = "test-model-bucket"
	trackingBucket = "test-tracking-bucket"
)

func setupMinioContainer(t *testing.T, ctx context.Context) string {
	minioContainer, err := minio.Run(
		ctx,
		"minio/minio:RELEASE.2024-01-16T16-07-38Z",
		minio.WithUsername(minioUsername),
		minio.WithPassword(minioPassword),
	)
	require.NoError(t, err, "Failed to start MinIO container")

	t.Cleanup(func() {
		err := minioContainer.Terminate(context.Background())
		require.NoError(t, err, "Failed to terminate MinIO container")
	})

	connStr, err := minioContainer.ConnectionString(ctx)
	require.NoError(t, err, "Failed to get MinIO connection string")

	return "http://" + connStr
}

func setupS3(t *testing.T, ctx context.Context) *storage.S3Provider {
	s3, err := storage.NewS3Provider(storage.S3ProviderConfig{
		S3EndpointURL:     setupMinioContainer(t, ctx),
		S3AccessKeyID:     minioUsername,
		S3SecretAccessKey: minioPassword,
		S3Region:          "us-east-1",
	})
	require.NoError(t, err)
	return s3
}

func setupPostgresContainer(t *testing.T, ctx context.Context) string {
	dbName, dbUser, dbPassword := "test_db", "test_user", "test_password"

	postgresContainer, err := postgres.Run(ctx,
		"postgres:16-alpine",
		postgres.WithDatabase(dbName),
		postgres.WithUsername(dbUser),
		postgres.WithPassword(dbPassword),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second)),
	)
	require.NoError(t, err, "Failed to start PostgreSQL container")

	t.Cleanup(func() {
		err := postgresContainer.Terminate(context.Background())
		require.NoError(t, err, "Failed to terminate PostgreSQL container")
	})

	connStr, err := postgresContainer.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err, "Failed to get PostgreSQL connection string")

	return connStr
}

func createDB(t *testing.T) *gorm.DB {
	uri := setupPostgresContainer(t, context.Background())
	db, err := database.NewDatabase(uri)
	require.NoError(t, err)

	return db
}

// writeTransactionsArchive zips a csv of synthetic transactions where every
// fraudulent row has a large amount, so a linear model separates them.
func writeTransactionsArchive(t *testing.T, dir string, rows int) string {
	rng := rand.New(rand.NewSource(7))

	var csv strings.Builder
	csv.WriteString("trans_date_trans_time,dob,amt,city_pop,merch_long,is_fraud\n")
	for i := 0; i < rows; i++ {
		fraud := i%5 == 0
		amt := 5 + rng.Float64()*60
		if fraud {
			amt = 600 + rng.Float64()*400
		}
		label := 0
		if fraud {
			label = 1
		}
		fmt.Fprintf(&csv, "2019-01-%02d 10:%02d:00,19%02d-03-09,%.2f,%d,%.6f,%d\n",
			1+i%28, i%60, 50+rng.Intn(40), amt, 100+rng.Intn(5000), -120+rng.Float64()*40, label)
	}

	path := filepath.Join(dir, "fraud_data.zip")
	file, err := os.Create(path)
	require.NoError(t, err)
	defer file.Close()

	zw := zip.NewWriter(file)
	w, err := zw.Create("fraud_data.csv")
	require.NoError(t, err)
	_, err = io.WriteString(w, csv.String())
	require.NoError(t, err)
	require.NoError(t, zw.Close())

	return path
}

func pipelineConfig(root, source string) *config.Config {
	artifactsDir := filepath.Join(root, "artifacts")
	transformed := filepath.Join(artifactsDir, "data_transformation", "data", "transformed_data.csv")
	preprocessor := filepath.Join(artifactsDir, "data_transformation", "preprocessor", "preprocessor.json")

	return &config.Config{
		ArtifactsRoot: artifactsDir,
		DataIngestion: config.DataIngestionConfig{
			DirName:     filepath.Join(artifactsDir, "data_ingestion"),
			SourceURL:   source,
			ZipFileName: "fraud_data.zip",
			UnzipDir:    filepath.Join(artifactsDir, "data_ingestion", "unzipped"),
		},
		DataTransformation: config.DataTransformationConfig{
			DirName:                          filepath.Join(artifactsDir, "data_transformation"),
			TransformedDataDir:               filepath.Dir(transformed),
			PreprocessPipelineObjectDir:      filepath.Dir(preprocessor),
			TransformedDataFileName:          filepath.Base(transformed),
			PreprocessPipelineObjectFileName: filepath.Base(preprocessor),
		},
		DataDrift: config.DataDriftConfig{
			DirName:             filepath.Join(artifactsDir, "data_drift"),
			FileName:            "drift_report.html",
			ReferenceDataPath:   filepath.Join(artifactsDir, "data_drift", "reference_data.csv"),
			TransformedDataPath: transformed,
		},
		ModelTraining: config.ModelTrainingConfig{
			DirName:          filepath.Join(artifactsDir, "model_training"),
			TrainingDataPath: transformed,
			TrainedModelPath: filepath.Join(artifactsDir, "model_training", "model.json"),
			TrainTestRatio:   0.2,
			TargetColumn:     "is_fraud",
			MaxIterations:    500,
			LearningRate:     0.5,
		},
		ModelEvalPush: config.ModelEvalPushConfig{
			ExpectedScore:          0.8,
			PreprocessorObjectPath: preprocessor,
			S3BucketName:           modelBucket,
			S3ModelName:            "model.json",
			S3ArtifactDir:          "production",
			S3PreprocessorName:     "preprocessor.json",
		},
		Prediction: config.PredictionConfig{
			S3BucketName:       modelBucket,
			S3ModelName:        "model.json",
			S3ArtifactDir:      "production",
			S3PreprocessorName: "preprocessor.json",
			DownloadLocation:   filepath.Join(artifactsDir, "prediction"),
		},
	}
}

func httpRequest(api http.Handler, method, endpoint string, payload any, dest any) error {
	var body io.Reader
	if payload != nil {
		requestBody, err := json.Marshal(payload)
		if err != nil {
			return err
		}
		body = bytes.NewReader(requestBody)
	}

	req := httptest.NewRequest(method, endpoint, body)
	req.Header.Set("Content-Type", "application/json")

	rr := httptest.NewRecorder()
	api.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		return fmt.Errorf("expected status code 200, got %d: %v", rr.Code, rr.Body.String())
	}

	if dest != nil {
		if err := json.Unmarshal(rr.Body.Bytes(), dest); err != nil {
			return fmt.Errorf("failed to unmarshal response: %w", err)
		}
	}

	return nil
}
