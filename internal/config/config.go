package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v2"
)

const DefaultConfigPath = "config/config.yaml"

type DataIngestionConfig struct {
	DirName     string `yaml:"dir_name"`
	SourceURL   string `yaml:"source_URL"`
	ZipFileName string `yaml:"zip_file_name"`
	UnzipDir    string `yaml:"unzip_dir"`
}

type DataTransformationConfig struct {
	DirName                          string `yaml:"dir_name"`
	TransformedDataDir               string `yaml:"transformed_data_dir"`
	PreprocessPipelineObjectDir      string `yaml:"preprocess_pipeline_object_dir"`
	TransformedDataFileName          string `yaml:"transformed_data_file_name"`
	PreprocessPipelineObjectFileName string `yaml:"preprocess_pipeline_object_file_name"`
}

func (c DataTransformationConfig) TransformedDataPath() string {
	return filepath.Join(c.TransformedDataDir, c.TransformedDataFileName)
}

func (c DataTransformationConfig) PreprocessorPath() string {
	return filepath.Join(c.PreprocessPipelineObjectDir, c.PreprocessPipelineObjectFileName)
}

type DataDriftConfig struct {
	DirName             string `yaml:"dir_name"`
	FileName            string `yaml:"file_name"`
	ReferenceDataPath   string `yaml:"refrence_data_path"`
	TransformedDataPath string `yaml:"transformed_data_path"`
}

func (c DataDriftConfig) ReportPath() string {
	return filepath.Join(c.DirName, c.FileName)
}

type ModelTrainingConfig struct {
	DirName          string  `yaml:"dir_name"`
	TrainingDataPath string  `yaml:"training_data_path"`
	TrainedModelPath string  `yaml:"trained_model_path"`
	TrainTestRatio   float64 `yaml:"train_test_ratio"`
	TargetColumn     string  `yaml:"target_column"`
	MaxIterations    int     `yaml:"max_iterations"`
	LearningRate     float64 `yaml:"learning_rate"`
}

type ModelEvalPushConfig struct {
	ExpectedScore          float64 `yaml:"expected_score"`
	PreprocessorObjectPath string  `yaml:"preprocessor_object_path"`
	S3BucketName           string  `yaml:"s3_bucket_name"`
	S3ModelName            string  `yaml:"s3_model_name"`
	S3ArtifactDir          string  `yaml:"s3_artifact_dir"`
	S3PreprocessorName     string  `yaml:"s3_preprocessor_name"`
}

type PredictionConfig struct {
	S3BucketName       string `yaml:"s3_bucket_name"`
	S3ModelName        string `yaml:"s3_model_name"`
	S3ArtifactDir      string `yaml:"s3_artifact_dir"`
	S3PreprocessorName string `yaml:"s3_preprocessor_name"`
	DownloadLocation   string `yaml:"download_location"`
}

type VersioningConfig struct {
	Enabled     bool   `yaml:"enabled"`
	WorkDir     string `yaml:"work_dir"`
	TrackScript string `yaml:"track_script"`
	LoadScript  string `yaml:"load_script"`
}

type Config struct {
	ArtifactsRoot      string                   `yaml:"artifacts_root"`
	DataIngestion      DataIngestionConfig      `yaml:"data_ingestion"`
	DataTransformation DataTransformationConfig `yaml:"data_transformation"`
	DataDrift          DataDriftConfig          `yaml:"data_drift"`
	ModelTraining      ModelTrainingConfig      `yaml:"model_training"`
	ModelEvalPush      ModelEvalPushConfig      `yaml:"model_eval_push"`
	Prediction         PredictionConfig         `yaml:"prediction"`
	Versioning         VersioningConfig         `yaml:"versioning"`
}

func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("error reading config file %s: %w", path, err)
	}
	return Parse(data)
}

func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, &ConfigurationError{Reason: fmt.Sprintf("invalid yaml: %v", err)}
	}
	return &cfg, nil
}

// ConfigurationManager hands out validated per-stage configs and makes sure
// their working directories exist.
type ConfigurationManager struct {
	cfg *Config
}

func NewConfigurationManager(cfg *Config) (*ConfigurationManager, error) {
	if cfg.ArtifactsRoot != "" {
		if err := os.MkdirAll(cfg.ArtifactsRoot, os.ModePerm); err != nil {
			return nil, fmt.Errorf("error creating artifacts root: %w", err)
		}
	}
	return &ConfigurationManager{cfg: cfg}, nil
}

func NewConfigurationManagerFromFile(path string) (*ConfigurationManager, error) {
	cfg, err := Load(path)
	if err != nil {
		return nil, err
	}
	return NewConfigurationManager(cfg)
}

func (m *ConfigurationManager) Config() *Config {
	return m.cfg
}

func (m *ConfigurationManager) DataIngestion() (DataIngestionConfig, error) {
	c := m.cfg.DataIngestion
	if err := require("data_ingestion",
		"dir_name", c.DirName,
		"source_URL", c.SourceURL,
		"zip_file_name", c.ZipFileName,
		"unzip_dir", c.UnzipDir,
	); err != nil {
		return c, err
	}
	return c, createDirectories(c.DirName)
}

func (m *ConfigurationManager) DataTransformation() (DataTransformationConfig, error) {
	c := m.cfg.DataTransformation
	if err := require("data_transformation",
		"dir_name", c.DirName,
		"transformed_data_dir", c.TransformedDataDir,
		"preprocess_pipeline_object_dir", c.PreprocessPipelineObjectDir,
		"transformed_data_file_name", c.TransformedDataFileName,
		"preprocess_pipeline_object_file_name", c.PreprocessPipelineObjectFileName,
	); err != nil {
		return c, err
	}
	return c, createDirectories(c.DirName)
}

func (m *ConfigurationManager) DataDrift() (DataDriftConfig, error) {
	c := m.cfg.DataDrift
	if err := require("data_drift",
		"dir_name", c.DirName,
		"file_name", c.FileName,
		"refrence_data_path", c.ReferenceDataPath,
		"transformed_data_path", c.TransformedDataPath,
	); err != nil {
		return c, err
	}
	return c, createDirectories(c.DirName)
}

func (m *ConfigurationManager) ModelTraining() (ModelTrainingConfig, error) {
	c := m.cfg.ModelTraining
	if err := require("model_training",
		"dir_name", c.DirName,
		"training_data_path", c.TrainingDataPath,
		"trained_model_path", c.TrainedModelPath,
		"target_column", c.TargetColumn,
	); err != nil {
		return c, err
	}
	if c.TrainTestRatio <= 0 || c.TrainTestRatio >= 1 {
		return c, &ConfigurationError{Section: "model_training", Key: "train_test_ratio", Reason: "must be between 0 and 1"}
	}
	if c.MaxIterations == 0 {
		c.MaxIterations = 500
	}
	if c.LearningRate == 0 {
		c.LearningRate = 0.1
	}
	return c, createDirectories(c.DirName)
}

func (m *ConfigurationManager) ModelEvalPush() (ModelEvalPushConfig, error) {
	c := m.cfg.ModelEvalPush
	err := require("model_eval_push",
		"preprocessor_object_path", c.PreprocessorObjectPath,
		"s3_bucket_name", c.S3BucketName,
		"s3_model_name", c.S3ModelName,
		"s3_artifact_dir", c.S3ArtifactDir,
		"s3_preprocessor_name", c.S3PreprocessorName,
	)
	return c, err
}

func (m *ConfigurationManager) Prediction() (PredictionConfig, error) {
	c := m.cfg.Prediction
	if err := require("prediction",
		"s3_bucket_name", c.S3BucketName,
		"s3_model_name", c.S3ModelName,
		"s3_artifact_dir", c.S3ArtifactDir,
		"s3_preprocessor_name", c.S3PreprocessorName,
		"download_location", c.DownloadLocation,
	); err != nil {
		return c, err
	}
	return c, createDirectories(c.DownloadLocation)
}

func (m *ConfigurationManager) Versioning() VersioningConfig {
	return m.cfg.Versioning
}

// require takes alternating key/value pairs and reports the first empty one.
func require(section string, kv ...string) error {
	for i := 0; i+1 < len(kv); i += 2 {
		if kv[i+1] == "" {
			return &ConfigurationError{Section: section, Key: kv[i], Reason: "is required"}
		}
	}
	return nil
}

func createDirectories(dirs ...string) error {
	for _, dir := range dirs {
		if err := os.MkdirAll(dir, os.ModePerm); err != nil {
			return fmt.Errorf("error creating directory %s: %w", dir, err)
		}
		slog.Debug("created directory", "path", dir)
	}
	return nil
}
