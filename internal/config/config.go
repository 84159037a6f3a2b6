package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/tushkiz/go-tiny-orchestrator/internal/util"
)

const defaultDSN = "app:app@tcp(127.0.0.1:3306)/tiny-orchestrator?parseTime=true&charset=utf8mb4&loc=UTC"

type Config struct {
	Listen    string          `yaml:"listen"`
	Scheduler SchedulerConfig `yaml:"scheduler"`
	Hub       HubConfig       `yaml:"hub"`
	Snapshot  SnapshotConfig  `yaml:"snapshot"`
}

type SchedulerConfig struct {
	AssignInterval        time.Duration `yaml:"assign_interval"`
	MaxAssignmentsPerTick int           `yaml:"max_assignments_per_tick"`
	LivenessInterval      time.Duration `yaml:"liveness_interval"`
	HeartbeatTimeout      time.Duration `yaml:"heartbeat_timeout"`
	RequeueOnOffline      bool          `yaml:"requeue_on_offline"`
	SuccessRatePenalty    float64       `yaml:"success_rate_penalty"`
}

type HubConfig struct {
	SweepInterval time.Duration `yaml:"sweep_interval"`
	IdleTimeout   time.Duration `yaml:"idle_timeout"`
	SendBuffer    int           `yaml:"send_buffer"`
}

type SnapshotConfig struct {
	Interval time.Duration `yaml:"interval"`
	// Backend is one of file, mysql, sqlite, minio.
	Backend string      `yaml:"backend"`
	Path    string      `yaml:"path"`
	DSN     string      `yaml:"dsn"`
	MinIO   MinIOConfig `yaml:"minio"`
}

type MinIOConfig struct {
	Endpoint  string `yaml:"endpoint"`
	AccessKey string `yaml:"access_key"`
	SecretKey string `yaml:"secret_key"`
	Bucket    string `yaml:"bucket"`
	Object    string `yaml:"object"`
	UseSSL    bool   `yaml:"use_ssl"`
}

// Default returns the reference tuning: 1s assignment tick, 10s liveness tick,
// 30s heartbeat timeout, 5m idle sweep with a 30m idle threshold, 60s snapshots.
func Default() Config {
	return Config{
		Listen: ":8888",
		Scheduler: SchedulerConfig{
			AssignInterval:        time.Second,
			MaxAssignmentsPerTick: 1,
			LivenessInterval:      10 * time.Second,
			HeartbeatTimeout:      30 * time.Second,
			SuccessRatePenalty:    5,
		},
		Hub: HubConfig{
			SweepInterval: 5 * time.Minute,
			IdleTimeout:   30 * time.Minute,
			SendBuffer:    64,
		},
		Snapshot: SnapshotConfig{
			Interval: time.Minute,
			Backend:  "file",
			Path:     "./data/memory-db-backup.json",
			DSN:      defaultDSN,
			MinIO: MinIOConfig{
				Bucket: "orchestrator-snapshots",
				Object: "memory-db-backup.json",
			},
		},
	}
}

// Load starts from Default, overlays the YAML file at path (if path is
// non-empty) and finally applies environment overrides.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("config: read %s: %w", path, err)
		}
		if err := yaml.Unmarshal(raw, &cfg); err != nil {
			return Config{}, fmt.Errorf("config: parse %s: %w", path, err)
		}
	}
	applyEnv(&cfg)
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func applyEnv(cfg *Config) {
	cfg.Listen = util.Getenv("ORCH_LISTEN", cfg.Listen)

	s := &cfg.Scheduler
	s.AssignInterval = util.GetenvDuration("ORCH_ASSIGN_INTERVAL", s.AssignInterval)
	s.MaxAssignmentsPerTick = util.GetenvInt("ORCH_MAX_ASSIGNMENTS_PER_TICK", s.MaxAssignmentsPerTick)
	s.LivenessInterval = util.GetenvDuration("ORCH_LIVENESS_INTERVAL", s.LivenessInterval)
	s.HeartbeatTimeout = util.GetenvDuration("ORCH_HEARTBEAT_TIMEOUT", s.HeartbeatTimeout)
	s.RequeueOnOffline = util.GetenvBool("ORCH_REQUEUE_ON_OFFLINE", s.RequeueOnOffline)
	s.SuccessRatePenalty = util.GetenvFloat("ORCH_SUCCESS_RATE_PENALTY", s.SuccessRatePenalty)

	h := &cfg.Hub
	h.SweepInterval = util.GetenvDuration("ORCH_HUB_SWEEP_INTERVAL", h.SweepInterval)
	h.IdleTimeout = util.GetenvDuration("ORCH_HUB_IDLE_TIMEOUT", h.IdleTimeout)
	h.SendBuffer = util.GetenvInt("ORCH_HUB_SEND_BUFFER", h.SendBuffer)

	sn := &cfg.Snapshot
	sn.Interval = util.GetenvDuration("ORCH_SNAPSHOT_INTERVAL", sn.Interval)
	sn.Backend = util.Getenv("ORCH_SNAPSHOT_BACKEND", sn.Backend)
	sn.Path = util.Getenv("ORCH_SNAPSHOT_PATH", sn.Path)
	sn.DSN = util.Getenv("DB_DSN", sn.DSN)
	sn.MinIO.Endpoint = util.Getenv("ORCH_MINIO_ENDPOINT", sn.MinIO.Endpoint)
	sn.MinIO.AccessKey = util.Getenv("ORCH_MINIO_ACCESS_KEY", sn.MinIO.AccessKey)
	sn.MinIO.SecretKey = util.Getenv("ORCH_MINIO_SECRET_KEY", sn.MinIO.SecretKey)
	sn.MinIO.Bucket = util.Getenv("ORCH_MINIO_BUCKET", sn.MinIO.Bucket)
	sn.MinIO.Object = util.Getenv("ORCH_MINIO_OBJECT", sn.MinIO.Object)
	sn.MinIO.UseSSL = util.GetenvBool("ORCH_MINIO_USE_SSL", sn.MinIO.UseSSL)
}

func (c Config) Validate() error {
	if c.Scheduler.AssignInterval <= 0 {
		return fmt.Errorf("config: scheduler.assign_interval must be > 0")
	}
	if c.Scheduler.LivenessInterval <= 0 {
		return fmt.Errorf("config: scheduler.liveness_interval must be > 0")
	}
	if c.Scheduler.HeartbeatTimeout <= 0 {
		return fmt.Errorf("config: scheduler.heartbeat_timeout must be > 0")
	}
	if c.Scheduler.MaxAssignmentsPerTick <= 0 {
		return fmt.Errorf("config: scheduler.max_assignments_per_tick must be > 0")
	}
	if c.Hub.SweepInterval <= 0 || c.Hub.IdleTimeout <= 0 {
		return fmt.Errorf("config: hub intervals must be > 0")
	}
	switch c.Snapshot.Backend {
	case "file", "mysql", "sqlite", "minio", "none":
	default:
		return fmt.Errorf("config: unknown snapshot backend %q", c.Snapshot.Backend)
	}
	return nil
}
