package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/facepass-data/facetrack/internal/facetrack"
)

// TuningConfig represents the root tuning configuration. Fields omitted
// from the JSON file retain their defaults, so partial configs are safe.
type TuningConfig struct {
	// Tracker params
	MinHits            *int     `json:"min_hits,omitempty"`
	MaxLostFrames      *int     `json:"max_lost_frames,omitempty"`
	ConfirmedMissGrace *int     `json:"confirmed_miss_grace,omitempty"`
	MaxTracks          *int     `json:"max_tracks,omitempty"`
	MinIoU             *float64 `json:"min_iou,omitempty"`
	CreationConfidence *float64 `json:"creation_confidence,omitempty"`

	// Recognition params
	EmbedInterval *int     `json:"embed_interval,omitempty"`
	SimThreshold  *float64 `json:"sim_threshold,omitempty"`
	EmbedDim      *int     `json:"embed_dim,omitempty"`
	MinFaceSize   *float64 `json:"min_face_size,omitempty"`

	// Behaviour params
	YawThreshold   *float64 `json:"yaw_threshold,omitempty"`
	PitchThreshold *float64 `json:"pitch_threshold,omitempty"`

	// External call budgets (duration strings like "2s")
	DetectTimeout *string `json:"detect_timeout,omitempty"`
	EmbedTimeout  *string `json:"embed_timeout,omitempty"`
	PoseTimeout   *string `json:"pose_timeout,omitempty"`
}

// EmptyTuningConfig returns a TuningConfig with all fields set to nil.
func EmptyTuningConfig() *TuningConfig {
	return &TuningConfig{}
}

// LoadTuningConfig loads a TuningConfig from a JSON file. The file must
// have a .json extension and be under the max file size.
func LoadTuningConfig(path string) (*TuningConfig, error) {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, fmt.Errorf("config file must have .json extension, got %q", ext)
	}

	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	const maxFileSize = 1 * 1024 * 1024
	if fileInfo.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := EmptyTuningConfig()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Validate checks that the configuration values are valid.
func (c *TuningConfig) Validate() error {
	if c.MinHits != nil && *c.MinHits < 1 {
		return fmt.Errorf("min_hits must be >= 1, got %d", *c.MinHits)
	}
	if c.MaxLostFrames != nil && *c.MaxLostFrames < 0 {
		return fmt.Errorf("max_lost_frames must be non-negative, got %d", *c.MaxLostFrames)
	}
	if c.ConfirmedMissGrace != nil && *c.ConfirmedMissGrace < 1 {
		return fmt.Errorf("confirmed_miss_grace must be >= 1, got %d", *c.ConfirmedMissGrace)
	}
	if c.MinIoU != nil && (*c.MinIoU < 0 || *c.MinIoU > 1) {
		return fmt.Errorf("min_iou must be between 0 and 1, got %f", *c.MinIoU)
	}
	if c.SimThreshold != nil && (*c.SimThreshold < -1 || *c.SimThreshold > 1) {
		return fmt.Errorf("sim_threshold must be between -1 and 1, got %f", *c.SimThreshold)
	}
	if c.EmbedDim != nil && *c.EmbedDim < 1 {
		return fmt.Errorf("embed_dim must be >= 1, got %d", *c.EmbedDim)
	}
	for name, v := range map[string]*string{
		"detect_timeout": c.DetectTimeout,
		"embed_timeout":  c.EmbedTimeout,
		"pose_timeout":   c.PoseTimeout,
	} {
		if v != nil && *v != "" {
			if _, err := time.ParseDuration(*v); err != nil {
				return fmt.Errorf("invalid %s '%s': %w", name, *v, err)
			}
		}
	}
	return nil
}

// GetMinHits returns the min_hits value or the default.
func (c *TuningConfig) GetMinHits() int {
	if c.MinHits == nil {
		return 3
	}
	return *c.MinHits
}

// GetMaxLostFrames returns the max_lost_frames value or the default.
func (c *TuningConfig) GetMaxLostFrames() int {
	if c.MaxLostFrames == nil {
		return 30
	}
	return *c.MaxLostFrames
}

// GetConfirmedMissGrace returns the confirmed_miss_grace value or the default.
func (c *TuningConfig) GetConfirmedMissGrace() int {
	if c.ConfirmedMissGrace == nil {
		return 1
	}
	return *c.ConfirmedMissGrace
}

// GetMaxTracks returns the max_tracks value or the default.
func (c *TuningConfig) GetMaxTracks() int {
	if c.MaxTracks == nil {
		return 64
	}
	return *c.MaxTracks
}

// GetMinIoU returns the min_iou value or the default.
func (c *TuningConfig) GetMinIoU() float64 {
	if c.MinIoU == nil {
		return 0.3
	}
	return *c.MinIoU
}

// GetCreationConfidence returns the creation_confidence value or the default.
func (c *TuningConfig) GetCreationConfidence() float64 {
	if c.CreationConfidence == nil {
		return 0.5
	}
	return *c.CreationConfidence
}

// GetEmbedInterval returns the embed_interval value or the default.
func (c *TuningConfig) GetEmbedInterval() int {
	if c.EmbedInterval == nil {
		return 15
	}
	return *c.EmbedInterval
}

// GetSimThreshold returns the sim_threshold value or the default.
func (c *TuningConfig) GetSimThreshold() float64 {
	if c.SimThreshold == nil {
		return 0.55
	}
	return *c.SimThreshold
}

// GetEmbedDim returns the embed_dim value or the default.
func (c *TuningConfig) GetEmbedDim() int {
	if c.EmbedDim == nil {
		return 512
	}
	return *c.EmbedDim
}

// GetMinFaceSize returns the min_face_size value or the default.
func (c *TuningConfig) GetMinFaceSize() float64 {
	if c.MinFaceSize == nil {
		return 20.0
	}
	return *c.MinFaceSize
}

// GetYawThreshold returns the yaw_threshold value or the default.
func (c *TuningConfig) GetYawThreshold() float64 {
	if c.YawThreshold == nil {
		return 20.0
	}
	return *c.YawThreshold
}

// GetPitchThreshold returns the pitch_threshold value or the default.
func (c *TuningConfig) GetPitchThreshold() float64 {
	if c.PitchThreshold == nil {
		return -10.0
	}
	return *c.PitchThreshold
}

// GetDetectTimeout parses and returns the detect_timeout as a time.Duration.
func (c *TuningConfig) GetDetectTimeout() time.Duration {
	return parseDurationOr(c.DetectTimeout, 2*time.Second)
}

// GetEmbedTimeout parses and returns the embed_timeout as a time.Duration.
func (c *TuningConfig) GetEmbedTimeout() time.Duration {
	return parseDurationOr(c.EmbedTimeout, time.Second)
}

// GetPoseTimeout parses and returns the pose_timeout as a time.Duration.
func (c *TuningConfig) GetPoseTimeout() time.Duration {
	return parseDurationOr(c.PoseTimeout, time.Second)
}

func parseDurationOr(v *string, def time.Duration) time.Duration {
	if v == nil || *v == "" {
		return def
	}
	d, err := time.ParseDuration(*v)
	if err != nil {
		return def
	}
	return d
}

// TrackerConfig assembles the tracker configuration from the tuning values.
func (c *TuningConfig) TrackerConfig() facetrack.TrackerConfig {
	return facetrack.TrackerConfig{
		MaxTracks:          c.GetMaxTracks(),
		MinHits:            c.GetMinHits(),
		ConfirmedMissGrace: c.GetConfirmedMissGrace(),
		MaxLostFrames:      c.GetMaxLostFrames(),
		CreationConfidence: c.GetCreationConfidence(),
		MinIoU:             c.GetMinIoU(),
	}
}
