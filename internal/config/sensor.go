package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/banshee-data/sensorframe/internal/sensor"
	"github.com/banshee-data/sensorframe/internal/timeutil"
)

// DefaultConfigPath is the path to the canonical sensor defaults file.
const DefaultConfigPath = "config/sensor.defaults.json"

// Log destinations understood by the log_* fields. Anything else is a file
// path, opened for append.
const (
	LogStdout = "stdout"
	LogStderr = "stderr"
	LogOff    = "off"
)

// SensorConfig represents the configuration of a sensorframe process.
// Every field is optional; the Get* methods supply defaults for fields the
// JSON file omits.
type SensorConfig struct {
	// Streams
	SensorTypes []string `json:"sensor_types,omitempty"`
	FrameRateHz *float64 `json:"frame_rate_hz,omitempty"`
	ImageWidth  *int     `json:"image_width,omitempty"`  // 0 keeps each sensor's native size
	ImageHeight *int     `json:"image_height,omitempty"` // 0 keeps each sensor's native size

	// Time conversion. Unset means calibrate against the wall clock at
	// startup.
	ClockOffsetTicks *int64 `json:"clock_offset_ticks,omitempty"`

	// Tracker params
	PoseHistory      *int    `json:"pose_history,omitempty"`
	PoseTolerance    *string `json:"pose_tolerance,omitempty"` // duration string like "10ms"
	PoseFailureEvery *int    `json:"pose_failure_every,omitempty"`

	// Recorder params. An empty db_path disables recording.
	DBPath        *string `json:"db_path,omitempty"`
	RecordPixels  *bool   `json:"record_pixels,omitempty"`
	RecorderQueue *int    `json:"recorder_queue,omitempty"`

	// Stream params. An empty grpc_listen disables the publisher.
	GRPCListen       *string `json:"grpc_listen,omitempty"`
	StreamPixels     *bool   `json:"stream_pixels,omitempty"`
	StreamMaxClients *int    `json:"stream_max_clients,omitempty"`

	// Monitor params. An empty http_listen disables the monitor.
	HTTPListen *string `json:"http_listen,omitempty"`
	TrailSize  *int    `json:"trail_size,omitempty"`

	// Logging: "stdout", "stderr", "off", or a file path.
	LogOps   *string `json:"log_ops,omitempty"`
	LogDiag  *string `json:"log_diag,omitempty"`
	LogTrace *string `json:"log_trace,omitempty"`
}

func ptrString(v string) *string { return &v }

// EmptySensorConfig returns a SensorConfig with all fields set to nil.
func EmptySensorConfig() *SensorConfig {
	return &SensorConfig{}
}

// LoadSensorConfig loads a SensorConfig from a JSON file.
// The file must have a .json extension and be under 1MB. Fields omitted
// from the file fall back to their defaults, so partial configs are safe.
func LoadSensorConfig(path string) (*SensorConfig, error) {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, fmt.Errorf("config file must have .json extension, got %q", ext)
	}

	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	const maxFileSize = 1 * 1024 * 1024 // 1MB
	if fileInfo.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := EmptySensorConfig()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Validate checks that the configuration values are valid.
func (c *SensorConfig) Validate() error {
	seen := make(map[sensor.SensorType]bool, len(c.SensorTypes))
	for _, name := range c.SensorTypes {
		st, err := sensor.ParseSensorType(name)
		if err != nil {
			return fmt.Errorf("sensor_types: %w", err)
		}
		if seen[st] {
			return fmt.Errorf("sensor_types: %s listed twice", st)
		}
		seen[st] = true
	}

	if c.FrameRateHz != nil {
		if *c.FrameRateHz <= 0 || *c.FrameRateHz > 1000 {
			return fmt.Errorf("frame_rate_hz must be in (0, 1000], got %f", *c.FrameRateHz)
		}
	}

	if c.ImageWidth != nil && *c.ImageWidth < 0 {
		return fmt.Errorf("image_width must be non-negative, got %d", *c.ImageWidth)
	}
	if c.ImageHeight != nil && *c.ImageHeight < 0 {
		return fmt.Errorf("image_height must be non-negative, got %d", *c.ImageHeight)
	}

	if c.PoseHistory != nil && *c.PoseHistory < 1 {
		return fmt.Errorf("pose_history must be at least 1, got %d", *c.PoseHistory)
	}
	if c.PoseTolerance != nil && *c.PoseTolerance != "" {
		d, err := time.ParseDuration(*c.PoseTolerance)
		if err != nil {
			return fmt.Errorf("invalid pose_tolerance '%s': %w", *c.PoseTolerance, err)
		}
		if d < 0 {
			return fmt.Errorf("pose_tolerance must be non-negative, got %s", d)
		}
	}
	if c.PoseFailureEvery != nil && *c.PoseFailureEvery < 0 {
		return fmt.Errorf("pose_failure_every must be non-negative, got %d", *c.PoseFailureEvery)
	}

	if c.RecorderQueue != nil && *c.RecorderQueue < 1 {
		return fmt.Errorf("recorder_queue must be at least 1, got %d", *c.RecorderQueue)
	}
	if c.StreamMaxClients != nil && *c.StreamMaxClients < 1 {
		return fmt.Errorf("stream_max_clients must be at least 1, got %d", *c.StreamMaxClients)
	}
	if c.TrailSize != nil && *c.TrailSize < 1 {
		return fmt.Errorf("trail_size must be at least 1, got %d", *c.TrailSize)
	}

	for name, v := range map[string]*string{"log_ops": c.LogOps, "log_diag": c.LogDiag, "log_trace": c.LogTrace} {
		if v != nil && *v == "" {
			return fmt.Errorf("%s must be %q, %q, %q or a file path", name, LogStdout, LogStderr, LogOff)
		}
	}

	return nil
}

// GetSensorTypes returns the configured sensor types, defaulting to the
// photo/video camera. The list has been checked by Validate.
func (c *SensorConfig) GetSensorTypes() []sensor.SensorType {
	if len(c.SensorTypes) == 0 {
		return []sensor.SensorType{sensor.PhotoVideo}
	}
	types := make([]sensor.SensorType, 0, len(c.SensorTypes))
	for _, name := range c.SensorTypes {
		if st, err := sensor.ParseSensorType(name); err == nil {
			types = append(types, st)
		}
	}
	return types
}

// GetFrameRateHz returns the frame_rate_hz value or the default.
func (c *SensorConfig) GetFrameRateHz() float64 {
	if c.FrameRateHz == nil {
		return 30
	}
	return *c.FrameRateHz
}

// GetImageSize returns the configured image size; zero means native.
func (c *SensorConfig) GetImageSize() (width, height int) {
	if c.ImageWidth != nil {
		width = *c.ImageWidth
	}
	if c.ImageHeight != nil {
		height = *c.ImageHeight
	}
	return width, height
}

// GetClockOffset returns the fixed relative-to-universal offset and true,
// or false if the offset should be calibrated.
func (c *SensorConfig) GetClockOffset() (timeutil.Ticks, bool) {
	if c.ClockOffsetTicks == nil {
		return 0, false
	}
	return timeutil.Ticks(*c.ClockOffsetTicks), true
}

// GetPoseHistory returns the pose_history value or the default.
func (c *SensorConfig) GetPoseHistory() int {
	if c.PoseHistory == nil {
		return 64
	}
	return *c.PoseHistory
}

// GetPoseTolerance parses and returns the PoseTolerance as a time.Duration.
func (c *SensorConfig) GetPoseTolerance() time.Duration {
	if c.PoseTolerance == nil || *c.PoseTolerance == "" {
		return 10 * time.Millisecond // default
	}
	d, err := time.ParseDuration(*c.PoseTolerance)
	if err != nil {
		return 10 * time.Millisecond // default on parse error
	}
	return d
}

// GetPoseFailureEvery returns the pose_failure_every value or the default
// (no injected failures).
func (c *SensorConfig) GetPoseFailureEvery() int {
	if c.PoseFailureEvery == nil {
		return 0
	}
	return *c.PoseFailureEvery
}

// GetDBPath returns the recorder database path, or "" when recording is
// disabled.
func (c *SensorConfig) GetDBPath() string {
	if c.DBPath == nil {
		return ""
	}
	return *c.DBPath
}

// GetRecordPixels returns the record_pixels value or the default.
func (c *SensorConfig) GetRecordPixels() bool {
	if c.RecordPixels == nil {
		return false
	}
	return *c.RecordPixels
}

// GetRecorderQueue returns the recorder_queue value or the default.
func (c *SensorConfig) GetRecorderQueue() int {
	if c.RecorderQueue == nil {
		return 64
	}
	return *c.RecorderQueue
}

// GetGRPCListen returns the publisher address, or "" when streaming is
// disabled.
func (c *SensorConfig) GetGRPCListen() string {
	if c.GRPCListen == nil {
		return "localhost:50061"
	}
	return *c.GRPCListen
}

// GetStreamPixels returns the stream_pixels value or the default.
func (c *SensorConfig) GetStreamPixels() bool {
	if c.StreamPixels == nil {
		return false
	}
	return *c.StreamPixels
}

// GetStreamMaxClients returns the stream_max_clients value or the default.
func (c *SensorConfig) GetStreamMaxClients() int {
	if c.StreamMaxClients == nil {
		return 5
	}
	return *c.StreamMaxClients
}

// GetHTTPListen returns the monitor address, or "" when it is disabled.
func (c *SensorConfig) GetHTTPListen() string {
	if c.HTTPListen == nil {
		return ":8090"
	}
	return *c.HTTPListen
}

// GetTrailSize returns the trail_size value or the default.
func (c *SensorConfig) GetTrailSize() int {
	if c.TrailSize == nil {
		return 600
	}
	return *c.TrailSize
}

// GetLogOps returns the ops stream destination, stdout by default.
func (c *SensorConfig) GetLogOps() string {
	if c.LogOps == nil {
		return LogStdout
	}
	return *c.LogOps
}

// GetLogDiag returns the diag stream destination, stderr by default.
func (c *SensorConfig) GetLogDiag() string {
	if c.LogDiag == nil {
		return LogStderr
	}
	return *c.LogDiag
}

// GetLogTrace returns the trace stream destination, off by default.
func (c *SensorConfig) GetLogTrace() string {
	if c.LogTrace == nil {
		return LogOff
	}
	return *c.LogTrace
}

// SetListenOverrides replaces the listen addresses with non-nil overrides,
// as given on the command line.
func (c *SensorConfig) SetListenOverrides(grpcListen, httpListen *string) {
	if grpcListen != nil {
		c.GRPCListen = ptrString(*grpcListen)
	}
	if httpListen != nil {
		c.HTTPListen = ptrString(*httpListen)
	}
}
