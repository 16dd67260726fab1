// Package config provides configuration management for field computation
package config

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"
)

// Config represents the global configuration for the field computation engine
type Config struct {
	// Parallel Processing Configuration
	WorkerPoolSize    int `json:"worker_pool_size" yaml:"worker_pool_size"`       // Number of worker goroutines (0 = auto-detect)
	ParallelThreshold int `json:"parallel_threshold" yaml:"parallel_threshold"`   // Minimum frames to trigger parallel processing
	MaxParallelFrames int `json:"max_parallel_frames" yaml:"max_parallel_frames"` // Upper bound on frames in flight

	// Gridding Configuration
	GridWidth              int     `json:"grid_width" yaml:"grid_width"`                               // Default interactive grid width
	GridHeight             int     `json:"grid_height" yaml:"grid_height"`                             // Default interactive grid height
	DerivedGridWidth       int     `json:"derived_grid_width" yaml:"derived_grid_width"`               // Grid width for derived-variable and constant passes
	DerivedGridHeight      int     `json:"derived_grid_height" yaml:"derived_grid_height"`             // Grid height for derived-variable and constant passes
	DegeneracyEpsilon      float64 `json:"degeneracy_epsilon" yaml:"degeneracy_epsilon"`               // Coordinate range below this is treated as collinear
	MinInterpolationPoints int     `json:"min_interpolation_points" yaml:"min_interpolation_points"` // Fewer valid points than this forces nearest-neighbor

	// Execution Configuration
	UseGPU bool `json:"use_gpu" yaml:"use_gpu"` // Prefer the device backend when one is registered

	// Debugging Configuration
	VerboseLogging bool `json:"verbose_logging" yaml:"verbose_logging"` // Enable verbose logging
}

// SystemInfo contains system information for configuration validation
type SystemInfo struct {
	CPUCount     int
	Architecture string
	OSType       string
}

// Validator validates and provides recommendations for configuration
type Validator struct {
	systemInfo SystemInfo
}

// Global configuration instance
var (
	globalConfig Config
	configMutex  sync.RWMutex
)

// Default configuration values
const (
	DefaultParallelThreshold      = 8
	DefaultMaxParallelFrames      = 64
	DefaultGridWidth              = 200
	DefaultGridHeight             = 200
	DefaultDerivedGridWidth       = 150
	DefaultDerivedGridHeight      = 150
	DefaultDegeneracyEpsilon      = 1e-12
	DefaultMinInterpolationPoints = 3
)

// Initialize global configuration with defaults
func init() {
	globalConfig = NewConfig()
}

// NewConfig creates a new configuration with default values
func NewConfig() Config {
	return Config{
		// Parallel processing defaults
		WorkerPoolSize:    0, // Auto-detect
		ParallelThreshold: DefaultParallelThreshold,
		MaxParallelFrames: DefaultMaxParallelFrames,

		// Gridding defaults
		GridWidth:              DefaultGridWidth,
		GridHeight:             DefaultGridHeight,
		DerivedGridWidth:       DefaultDerivedGridWidth,
		DerivedGridHeight:      DefaultDerivedGridHeight,
		DegeneracyEpsilon:      DefaultDegeneracyEpsilon,
		MinInterpolationPoints: DefaultMinInterpolationPoints,

		// Execution defaults (disabled)
		UseGPU: false,

		// Debugging defaults (disabled)
		VerboseLogging: false,
	}
}

// Validate validates the configuration and returns an error if invalid
func (c *Config) Validate() error {
	if c.WorkerPoolSize < 0 {
		return fmt.Errorf("WorkerPoolSize must be non-negative, got %d", c.WorkerPoolSize)
	}

	if c.ParallelThreshold <= 0 {
		return fmt.Errorf("ParallelThreshold must be positive, got %d", c.ParallelThreshold)
	}

	if c.MaxParallelFrames <= 0 {
		return fmt.Errorf("MaxParallelFrames must be positive, got %d", c.MaxParallelFrames)
	}

	if c.GridWidth < 2 || c.GridHeight < 2 {
		return fmt.Errorf("grid resolution must be at least 2x2, got %dx%d", c.GridWidth, c.GridHeight)
	}

	if c.DerivedGridWidth < 2 || c.DerivedGridHeight < 2 {
		return fmt.Errorf("derived grid resolution must be at least 2x2, got %dx%d",
			c.DerivedGridWidth, c.DerivedGridHeight)
	}

	if c.DegeneracyEpsilon <= 0 {
		return fmt.Errorf("DegeneracyEpsilon must be positive, got %g", c.DegeneracyEpsilon)
	}

	if c.MinInterpolationPoints < 3 {
		return fmt.Errorf("MinInterpolationPoints must be at least 3, got %d", c.MinInterpolationPoints)
	}

	return nil
}

// WithDefaults returns a new configuration with default values filled in for zero values
func (c Config) WithDefaults() Config {
	defaults := NewConfig()

	if c.ParallelThreshold == 0 {
		c.ParallelThreshold = defaults.ParallelThreshold
	}
	if c.MaxParallelFrames == 0 {
		c.MaxParallelFrames = defaults.MaxParallelFrames
	}
	if c.GridWidth == 0 {
		c.GridWidth = defaults.GridWidth
	}
	if c.GridHeight == 0 {
		c.GridHeight = defaults.GridHeight
	}
	if c.DerivedGridWidth == 0 {
		c.DerivedGridWidth = defaults.DerivedGridWidth
	}
	if c.DerivedGridHeight == 0 {
		c.DerivedGridHeight = defaults.DerivedGridHeight
	}
	if c.DegeneracyEpsilon == 0 {
		c.DegeneracyEpsilon = defaults.DegeneracyEpsilon
	}
	if c.MinInterpolationPoints == 0 {
		c.MinInterpolationPoints = defaults.MinInterpolationPoints
	}

	// Note: boolean fields are intentionally not set to defaults here.
	// This allows distinguishing between explicitly set false and unset values.

	return c
}

// SetGlobalConfig sets the global configuration
func SetGlobalConfig(config Config) {
	configMutex.Lock()
	defer configMutex.Unlock()
	globalConfig = config
}

// GetGlobalConfig returns the current global configuration
func GetGlobalConfig() Config {
	configMutex.RLock()
	defer configMutex.RUnlock()
	return globalConfig
}

// LoadFromJSON loads configuration from JSON data
func LoadFromJSON(data []byte) (Config, error) {
	var config Config
	if err := json.Unmarshal(data, &config); err != nil {
		return Config{}, fmt.Errorf("parsing JSON configuration: %w", err)
	}
	return config.WithDefaults(), nil
}

// LoadFromFile loads configuration from a file (supports JSON and YAML)
func LoadFromFile(filename string) (Config, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return Config{}, fmt.Errorf("reading config file %s: %w", filename, err)
	}

	var config Config
	ext := strings.ToLower(filepath.Ext(filename))

	switch ext {
	case ".json":
		err = json.Unmarshal(data, &config)
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, &config)
	default:
		return Config{}, fmt.Errorf("unsupported config file format: %s", ext)
	}

	if err != nil {
		return Config{}, fmt.Errorf("parsing config file %s: %w", filename, err)
	}

	return config.WithDefaults(), nil
}

// LoadFromEnv loads configuration from environment variables
func LoadFromEnv() Config {
	config := NewConfig()

	if val := os.Getenv("FIELDGRID_WORKER_POOL_SIZE"); val != "" {
		if parsed, err := strconv.Atoi(val); err == nil {
			config.WorkerPoolSize = parsed
		}
	}

	if val := os.Getenv("FIELDGRID_PARALLEL_THRESHOLD"); val != "" {
		if parsed, err := strconv.Atoi(val); err == nil {
			config.ParallelThreshold = parsed
		}
	}

	if val := os.Getenv("FIELDGRID_MAX_PARALLEL_FRAMES"); val != "" {
		if parsed, err := strconv.Atoi(val); err == nil {
			config.MaxParallelFrames = parsed
		}
	}

	if val := os.Getenv("FIELDGRID_GRID_WIDTH"); val != "" {
		if parsed, err := strconv.Atoi(val); err == nil {
			config.GridWidth = parsed
		}
	}

	if val := os.Getenv("FIELDGRID_GRID_HEIGHT"); val != "" {
		if parsed, err := strconv.Atoi(val); err == nil {
			config.GridHeight = parsed
		}
	}

	if val := os.Getenv("FIELDGRID_DERIVED_GRID_WIDTH"); val != "" {
		if parsed, err := strconv.Atoi(val); err == nil {
			config.DerivedGridWidth = parsed
		}
	}

	if val := os.Getenv("FIELDGRID_DERIVED_GRID_HEIGHT"); val != "" {
		if parsed, err := strconv.Atoi(val); err == nil {
			config.DerivedGridHeight = parsed
		}
	}

	if val := os.Getenv("FIELDGRID_DEGENERACY_EPSILON"); val != "" {
		if parsed, err := strconv.ParseFloat(val, 64); err == nil {
			config.DegeneracyEpsilon = parsed
		}
	}

	if val := os.Getenv("FIELDGRID_USE_GPU"); val != "" {
		if parsed, err := strconv.ParseBool(val); err == nil {
			config.UseGPU = parsed
		}
	}

	if val := os.Getenv("FIELDGRID_VERBOSE_LOGGING"); val != "" {
		if parsed, err := strconv.ParseBool(val); err == nil {
			config.VerboseLogging = parsed
		}
	}

	return config
}

// GetSystemInfo returns system information for configuration validation
func GetSystemInfo() SystemInfo {
	return SystemInfo{
		CPUCount:     runtime.NumCPU(),
		Architecture: runtime.GOARCH,
		OSType:       runtime.GOOS,
	}
}

// NewValidator creates a new configuration validator
func NewValidator() *Validator {
	return &Validator{
		systemInfo: GetSystemInfo(),
	}
}

// Validate validates a configuration and provides recommendations
func (cv *Validator) Validate(config Config) (Config, []string, error) {
	var warnings []string
	validated := config

	// Basic validation
	if err := config.Validate(); err != nil {
		return Config{}, warnings, err
	}

	if config.WorkerPoolSize > cv.systemInfo.CPUCount {
		warnings = append(warnings,
			fmt.Sprintf("Worker pool size (%d) exceeds CPU count (%d); per-frame interpolation is memory-heavy",
				config.WorkerPoolSize, cv.systemInfo.CPUCount))
	}

	// Auto-adjust unset values. Half the cores keeps peak memory bounded when
	// every worker holds a full grid.
	if config.WorkerPoolSize == 0 {
		validated.WorkerPoolSize = maxInt(1, cv.systemInfo.CPUCount/2)
		warnings = append(warnings,
			fmt.Sprintf("Auto-setting worker pool size to %d (half of CPU count)",
				validated.WorkerPoolSize))
	}

	return validated, warnings, nil
}

// ResolveWorkerPoolSize returns the effective worker count for a
// configuration, capped at MaxParallelFrames. Each worker holds at most one
// frame at a time, so the cap bounds frames in flight.
func (c Config) ResolveWorkerPoolSize() int {
	workers := c.WorkerPoolSize
	if workers <= 0 {
		workers = maxInt(1, runtime.NumCPU()/2)
	}
	if c.MaxParallelFrames > 0 && workers > c.MaxParallelFrames {
		workers = c.MaxParallelFrames
	}
	return workers
}

// LogLevel returns the minimum slog level implied by the configuration.
func (c Config) LogLevel() slog.Level {
	if c.VerboseLogging {
		return slog.LevelDebug
	}
	return slog.LevelInfo
}

// Helper functions
func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
