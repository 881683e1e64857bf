package config

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Default configuration values.
const (
	defaultServerPort      = 8080
	defaultServerTimeout   = 30 * time.Second
	defaultShutdownTimeout = 10 * time.Second

	defaultMaxOpenConns    = 25
	defaultMaxIdleConns    = 10
	defaultConnMaxIdleTime = 30 * time.Minute

	defaultWorkers       = 4
	defaultPollInterval  = 2 * time.Second
	defaultLockTimeout   = 30 * time.Minute
	defaultTaskTimeout   = 30 * time.Minute
	defaultShutdownGrace = 15 * time.Second
	defaultMaxAttempts   = 3
	defaultBackoff       = 30 * time.Second
	defaultCleanupAge    = 7 * 24 * time.Hour

	defaultFrameInterval  = 2 * time.Second
	defaultAccuracy       = 2 * time.Second
	defaultAudioChunk     = 10 * time.Second
	defaultAudioOverlap   = 2 * time.Second
	defaultSceneThreshold = 0.35

	defaultBatchSize    = 16
	defaultBatchLatency = 100 * time.Millisecond
	defaultMaxPending   = 256
	defaultEngineProbe  = 15 * time.Second

	defaultDim              = 512
	defaultCompactThreshold = 4096

	defaultTopK           = 50
	defaultThreshold      = 0.2
	defaultMinCoverage    = 1
	defaultRescanSchedule = "@every 10m"
)

// Config holds all configuration for the application.
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Database DatabaseConfig `mapstructure:"database"`
	Storage  StorageConfig  `mapstructure:"storage"`
	Logging  LoggingConfig  `mapstructure:"logging"`
	Queue    QueueConfig    `mapstructure:"queue"`
	Media    MediaConfig    `mapstructure:"media"`
	Encoder  EncoderConfig  `mapstructure:"encoder"`
	Vector   VectorConfig   `mapstructure:"vector"`
	Watcher  WatcherConfig  `mapstructure:"watcher"`
	Search   SearchConfig   `mapstructure:"search"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	CORSOrigins     []string      `mapstructure:"cors_origins"`
}

// DatabaseConfig holds catalog database configuration.
type DatabaseConfig struct {
	Driver          string        `mapstructure:"driver"` // sqlite, postgres, mysql
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `mapstructure:"conn_max_idle_time"`
	LogLevel        string        `mapstructure:"log_level"` // silent, error, warn, info
}

// StorageConfig holds on-disk layout configuration.
type StorageConfig struct {
	// DataDir is the root for the catalog, vector segments, and cache.
	DataDir string `mapstructure:"data_dir"`
	// ModelsDir is the root for local model weights, read-only at runtime.
	ModelsDir string `mapstructure:"models_dir"`
	// CacheDir holds downloaded remote files and preview artifacts.
	CacheDir string `mapstructure:"cache_dir"`
	// MaxFileSize caps the size of files accepted for ingestion.
	MaxFileSize ByteSize `mapstructure:"max_file_size"`
}

// VectorsDir returns the vector store root under the data directory.
func (s StorageConfig) VectorsDir() string {
	return filepath.Join(s.DataDir, "vectors")
}

// CatalogPath returns the default SQLite catalog location.
func (s StorageConfig) CatalogPath() string {
	return filepath.Join(s.DataDir, "catalog.db")
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level      string `mapstructure:"level"`  // debug, info, warn, error
	Format     string `mapstructure:"format"` // json, text
	AddSource  bool   `mapstructure:"add_source"`
	TimeFormat string `mapstructure:"time_format"`
}

// QueueConfig holds task queue and worker pool configuration.
type QueueConfig struct {
	// Workers is the number of concurrent task workers.
	Workers int `mapstructure:"workers"`
	// PollInterval is how often idle workers poll for tasks.
	PollInterval time.Duration `mapstructure:"poll_interval"`
	// LockTimeout is when a locked task is considered stale (crash recovery).
	LockTimeout time.Duration `mapstructure:"lock_timeout"`
	// TaskTimeout caps a single task execution.
	TaskTimeout time.Duration `mapstructure:"task_timeout"`
	// ShutdownGrace is how long running tasks get to drain on shutdown.
	ShutdownGrace time.Duration `mapstructure:"shutdown_grace"`
	// MaxAttempts is the default retry cap for new tasks.
	MaxAttempts int `mapstructure:"max_attempts"`
	// Backoff is the initial retry backoff; it doubles per attempt.
	Backoff time.Duration `mapstructure:"backoff"`
	// CleanupAge is the age after which terminal tasks and history are pruned.
	CleanupAge time.Duration `mapstructure:"cleanup_age"`
}

// MediaConfig holds media decomposition configuration.
type MediaConfig struct {
	// FrameInterval is the visual frame sampling period.
	FrameInterval time.Duration `mapstructure:"frame_interval"`
	// Accuracy caps the duration of any visual segment and any returned
	// timestamp window.
	Accuracy time.Duration `mapstructure:"accuracy"`
	// AudioChunk is the fixed audio window length.
	AudioChunk time.Duration `mapstructure:"audio_chunk"`
	// AudioOverlap is the overlap between consecutive audio windows.
	AudioOverlap time.Duration `mapstructure:"audio_overlap"`
	// SceneThreshold is the histogram distance above which a frame starts a
	// new scene.
	SceneThreshold float64 `mapstructure:"scene_threshold"`
	// FFmpegPath and FFprobePath override binary auto-detection.
	FFmpegPath  string `mapstructure:"ffmpeg_path"`
	FFprobePath string `mapstructure:"ffprobe_path"`
	// TextEncodings is the ordered list of charset names tried when decoding
	// text files; first success wins.
	TextEncodings []string `mapstructure:"text_encodings"`
}

// EngineConfig configures one external encoder engine.
type EngineConfig struct {
	// Name identifies the engine: clip, clap, whisper, face.
	Name string `mapstructure:"name"`
	// URL is the engine's HTTP endpoint.
	URL string `mapstructure:"url"`
	// ModelPath is the local model directory passed to the engine.
	ModelPath string `mapstructure:"model_path"`
	// Device selects cpu/cuda/auto; empty inherits encoder.device.
	Device string `mapstructure:"device"`
	// Dim is the embedding dimension the engine produces.
	Dim int `mapstructure:"dim"`
	// MaxBatchSize caps one dispatch.
	MaxBatchSize int `mapstructure:"max_batch_size"`
	// APIKey authenticates to the engine, if it requires one.
	APIKey string `mapstructure:"api_key"`
}

// EncoderConfig holds encoder pool configuration.
type EncoderConfig struct {
	Engines []EngineConfig `mapstructure:"engines"`
	// Device is the default device for all engines.
	Device string `mapstructure:"device"`
	// BatchLatency flushes a partial batch after this long.
	BatchLatency time.Duration `mapstructure:"batch_latency"`
	// MaxPending bounds queued items per engine; Embed blocks beyond it.
	MaxPending int `mapstructure:"max_pending"`
	// ProbeInterval is the engine health probe period.
	ProbeInterval time.Duration `mapstructure:"probe_interval"`
	// Offline disables any network fetch; engines must find models locally.
	Offline bool `mapstructure:"offline"`
}

// VectorConfig holds vector store configuration.
type VectorConfig struct {
	// Dim is the default embedding dimension per collection.
	Dim int `mapstructure:"dim"`
	// Nlist is the number of coarse IVF clusters; 0 disables coarse indexing.
	Nlist int `mapstructure:"nlist"`
	// Nprobe is how many clusters a search visits.
	Nprobe int `mapstructure:"nprobe"`
	// CompactThreshold is the dirty-write count that triggers compaction.
	CompactThreshold int `mapstructure:"compact_threshold"`
}

// WatcherConfig holds directory watcher configuration.
type WatcherConfig struct {
	// Roots are the directories scanned for media.
	Roots []string `mapstructure:"roots"`
	// RescanSchedule is a cron expression for periodic full rescans.
	RescanSchedule string `mapstructure:"rescan_schedule"`
	// Debounce coalesces rapid file events for the same path.
	Debounce time.Duration `mapstructure:"debounce"`
	// Recursive controls whether scans descend into subdirectories.
	Recursive bool `mapstructure:"recursive"`
}

// SearchConfig holds query routing and fusion configuration.
type SearchConfig struct {
	// TopK is the default result count.
	TopK int `mapstructure:"top_k"`
	// Threshold is the minimum similarity score returned.
	Threshold float64 `mapstructure:"threshold"`
	// PersonMinCoverage is the minimum whitelist size for person routing.
	PersonMinCoverage int `mapstructure:"person_min_coverage"`
	// AudioKeywords and VisualKeywords steer query classification.
	AudioKeywords  []string `mapstructure:"audio_keywords"`
	VisualKeywords []string `mapstructure:"visual_keywords"`
	// SyncToleranceVisualMs etc. bound cross-modal timestamp alignment.
	SyncToleranceVisualMs int64 `mapstructure:"sync_tolerance_visual_ms"`
	SyncToleranceMusicMs  int64 `mapstructure:"sync_tolerance_music_ms"`
	SyncToleranceSpeechMs int64 `mapstructure:"sync_tolerance_speech_ms"`
	// CacheSize is the query embedding cache capacity.
	CacheSize int `mapstructure:"cache_size"`
}

// SetDefaults registers default values on the given viper instance.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "127.0.0.1")
	v.SetDefault("server.port", defaultServerPort)
	v.SetDefault("server.read_timeout", defaultServerTimeout)
	v.SetDefault("server.write_timeout", defaultServerTimeout)
	v.SetDefault("server.shutdown_timeout", defaultShutdownTimeout)

	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.dsn", "")
	v.SetDefault("database.max_open_conns", defaultMaxOpenConns)
	v.SetDefault("database.max_idle_conns", defaultMaxIdleConns)
	v.SetDefault("database.conn_max_idle_time", defaultConnMaxIdleTime)
	v.SetDefault("database.log_level", "warn")

	v.SetDefault("storage.data_dir", "data")
	v.SetDefault("storage.models_dir", "models")
	v.SetDefault("storage.cache_dir", "")
	v.SetDefault("storage.max_file_size", "8GB")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	v.SetDefault("queue.workers", defaultWorkers)
	v.SetDefault("queue.poll_interval", defaultPollInterval)
	v.SetDefault("queue.lock_timeout", defaultLockTimeout)
	v.SetDefault("queue.task_timeout", defaultTaskTimeout)
	v.SetDefault("queue.shutdown_grace", defaultShutdownGrace)
	v.SetDefault("queue.max_attempts", defaultMaxAttempts)
	v.SetDefault("queue.backoff", defaultBackoff)
	v.SetDefault("queue.cleanup_age", defaultCleanupAge)

	v.SetDefault("media.frame_interval", defaultFrameInterval)
	v.SetDefault("media.accuracy", defaultAccuracy)
	v.SetDefault("media.audio_chunk", defaultAudioChunk)
	v.SetDefault("media.audio_overlap", defaultAudioOverlap)
	v.SetDefault("media.scene_threshold", defaultSceneThreshold)
	v.SetDefault("media.text_encodings", []string{"utf-8", "utf-16", "windows-1252", "iso-8859-1"})

	v.SetDefault("encoder.device", "auto")
	v.SetDefault("encoder.batch_latency", defaultBatchLatency)
	v.SetDefault("encoder.max_pending", defaultMaxPending)
	v.SetDefault("encoder.probe_interval", defaultEngineProbe)
	v.SetDefault("encoder.offline", false)

	v.SetDefault("vector.dim", defaultDim)
	v.SetDefault("vector.nlist", 0)
	v.SetDefault("vector.nprobe", 4)
	v.SetDefault("vector.compact_threshold", defaultCompactThreshold)

	v.SetDefault("watcher.rescan_schedule", defaultRescanSchedule)
	v.SetDefault("watcher.debounce", 2*time.Second)
	v.SetDefault("watcher.recursive", true)

	v.SetDefault("search.top_k", defaultTopK)
	v.SetDefault("search.threshold", defaultThreshold)
	v.SetDefault("search.person_min_coverage", defaultMinCoverage)
	v.SetDefault("search.audio_keywords", []string{
		"music", "song", "melody", "singing", "sound", "noise", "voice",
		"speech", "said", "saying", "talk", "spoken",
	})
	v.SetDefault("search.visual_keywords", []string{
		"photo", "picture", "image", "scene", "looks", "color", "wearing",
		"frame", "shot", "screenshot",
	})
	v.SetDefault("search.sync_tolerance_visual_ms", 33)
	v.SetDefault("search.sync_tolerance_music_ms", 100)
	v.SetDefault("search.sync_tolerance_speech_ms", 200)
	v.SetDefault("search.cache_size", 256)
}

// bindPlainEnv wires the documented unprefixed environment variables on top
// of the MEDIASIFT_* mapping.
func bindPlainEnv(v *viper.Viper) {
	_ = v.BindEnv("storage.data_dir", "MEDIASIFT_STORAGE_DATA_DIR", "DATA_DIR")
	_ = v.BindEnv("storage.models_dir", "MEDIASIFT_STORAGE_MODELS_DIR", "MODELS_DIR")
	_ = v.BindEnv("encoder.device", "MEDIASIFT_ENCODER_DEVICE", "DEVICE")
	_ = v.BindEnv("queue.workers", "MEDIASIFT_QUEUE_WORKERS", "MAX_CONCURRENT_TASKS")
	_ = v.BindEnv("encoder.offline", "MEDIASIFT_ENCODER_OFFLINE", "OFFLINE")
}

// Load reads configuration from the given viper instance into a Config.
func Load(v *viper.Viper) (*Config, error) {
	SetDefaults(v)
	bindPlainEnv(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	if cfg.Database.DSN == "" && cfg.Database.Driver == "sqlite" {
		cfg.Database.DSN = cfg.Storage.CatalogPath()
	}
	if cfg.Storage.CacheDir == "" {
		cfg.Storage.CacheDir = filepath.Join(cfg.Storage.DataDir, "cache")
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks the configuration for invalid combinations.
func (c *Config) Validate() error {
	var errs []error

	if c.Server.Port < 1 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port out of range: %d", c.Server.Port))
	}
	switch c.Database.Driver {
	case "sqlite", "postgres", "mysql":
	default:
		errs = append(errs, fmt.Errorf("database.driver must be sqlite, postgres, or mysql: %q", c.Database.Driver))
	}
	if c.Queue.Workers < 1 {
		errs = append(errs, fmt.Errorf("queue.workers must be >= 1: %d", c.Queue.Workers))
	}
	if c.Media.FrameInterval <= 0 {
		errs = append(errs, errors.New("media.frame_interval must be positive"))
	}
	if c.Media.AudioChunk <= c.Media.AudioOverlap {
		errs = append(errs, errors.New("media.audio_chunk must exceed media.audio_overlap"))
	}
	if c.Search.Threshold < 0 || c.Search.Threshold > 1 {
		errs = append(errs, fmt.Errorf("search.threshold out of range: %f", c.Search.Threshold))
	}
	switch strings.ToLower(c.Encoder.Device) {
	case "", "cpu", "cuda", "auto":
	default:
		errs = append(errs, fmt.Errorf("encoder.device must be cpu, cuda, or auto: %q", c.Encoder.Device))
	}
	for _, e := range c.Encoder.Engines {
		if e.Name == "" {
			errs = append(errs, errors.New("encoder.engines entries need a name"))
		}
		if e.URL == "" {
			errs = append(errs, fmt.Errorf("engine %q needs a url", e.Name))
		}
	}

	return errors.Join(errs...)
}

// Engine returns the engine config with the given name, or nil.
func (c *EncoderConfig) Engine(name string) *EngineConfig {
	for i := range c.Engines {
		if c.Engines[i].Name == name {
			return &c.Engines[i]
		}
	}
	return nil
}
