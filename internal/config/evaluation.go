package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
)

// DefaultConfigPath is the path to the canonical KeypointNet defaults file.
const DefaultConfigPath = "config/keypointnet.defaults.json"

// Transform step types accepted in transform.
const (
	TransformCenterShift = "center_shift"
	TransformScale       = "scale"
)

// Match modes accepted by match_mode.
const (
	MatchModeAny        = "any"
	MatchModeAssignment = "assignment"
)

// EvalConfig is the root configuration for record preparation and
// keypoint evaluation. Fields omitted from the JSON fall back to the
// defaults returned by the Get* accessors.
type EvalConfig struct {
	// Dataset params
	DataRoot        *string `json:"data_root,omitempty"`
	Split           *string `json:"split,omitempty"`
	Category        *string `json:"category,omitempty"`
	NumPoints       *int    `json:"num_points,omitempty"` // nil keeps every point
	UniformSampling *bool   `json:"uniform_sampling,omitempty"`
	SaveRecord      *bool   `json:"save_record,omitempty"`
	Loop            *int    `json:"loop,omitempty"`
	TestMode        *bool   `json:"test_mode,omitempty"`

	// Evaluator params
	DistanceThreshold *float64 `json:"distance_threshold,omitempty"`
	ScoreThreshold    *float64 `json:"score_threshold,omitempty"`
	Neighbors         *int     `json:"neighbors,omitempty"`
	MaxPoints         *int     `json:"max_points,omitempty"` // 0 disables the ceiling
	MatchMode         *string  `json:"match_mode,omitempty"`
	Workers           *int     `json:"workers,omitempty"`

	// Transform is applied in order to each record before prediction.
	Transform []TransformStep `json:"transform,omitempty"`

	// ClassID2Names maps category codes (e.g. "02691156") to names.
	ClassID2Names map[string]string `json:"class_id2names,omitempty"`
}

// TransformStep is one entry of the transform pipeline.
type TransformStep struct {
	Type   string   `json:"type"`
	ApplyZ *bool    `json:"apply_z,omitempty"` // center_shift only
	Factor *float64 `json:"factor,omitempty"`  // scale only
}

// GetApplyZ returns apply_z or the default.
func (s TransformStep) GetApplyZ() bool {
	if s.ApplyZ == nil {
		return true
	}
	return *s.ApplyZ
}

// GetFactor returns factor or the default.
func (s TransformStep) GetFactor() float64 {
	if s.Factor == nil {
		return 1
	}
	return *s.Factor
}

func ptrFloat64(v float64) *float64 { return &v }
func ptrBool(v bool) *bool          { return &v }
func ptrString(v string) *string    { return &v }
func ptrInt(v int) *int             { return &v }

// EmptyEvalConfig returns an EvalConfig with all fields set to nil.
func EmptyEvalConfig() *EvalConfig {
	return &EvalConfig{}
}

// LoadEvalConfig loads an EvalConfig from a JSON file.
// The file must have a .json extension and be under 1MB.
func LoadEvalConfig(path string) (*EvalConfig, error) {
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

	cfg := EmptyEvalConfig()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// MustLoadDefaultConfig loads DefaultConfigPath, searching parent
// directories so tests can call it from any package. Panics on failure.
func MustLoadDefaultConfig() *EvalConfig {
	candidates := []string{
		DefaultConfigPath,
		"../../" + DefaultConfigPath,
		"../../../" + DefaultConfigPath,
		"../../../../" + DefaultConfigPath,
	}
	for _, path := range candidates {
		if cfg, err := LoadEvalConfig(path); err == nil {
			return cfg
		}
	}
	panic("cannot find " + DefaultConfigPath + " - run tests from repository root")
}

// Validate checks that the configuration values are valid.
func (c *EvalConfig) Validate() error {
	if c.NumPoints != nil && *c.NumPoints <= 0 {
		return fmt.Errorf("num_points must be positive, got %d", *c.NumPoints)
	}
	if c.Loop != nil && *c.Loop < 1 {
		return fmt.Errorf("loop must be at least 1, got %d", *c.Loop)
	}
	if c.DistanceThreshold != nil && *c.DistanceThreshold < 0 {
		return fmt.Errorf("distance_threshold must be non-negative, got %f", *c.DistanceThreshold)
	}
	if c.ScoreThreshold != nil && (*c.ScoreThreshold < 0 || *c.ScoreThreshold > 1) {
		return fmt.Errorf("score_threshold must be between 0 and 1, got %f", *c.ScoreThreshold)
	}
	if c.Neighbors != nil && *c.Neighbors < 1 {
		return fmt.Errorf("neighbors must be at least 1, got %d", *c.Neighbors)
	}
	if c.MaxPoints != nil && *c.MaxPoints < 0 {
		return fmt.Errorf("max_points must be non-negative, got %d", *c.MaxPoints)
	}
	if c.Workers != nil && *c.Workers < 1 {
		return fmt.Errorf("workers must be at least 1, got %d", *c.Workers)
	}
	if c.MatchMode != nil {
		switch *c.MatchMode {
		case MatchModeAny, MatchModeAssignment:
		default:
			return fmt.Errorf("match_mode must be %q or %q, got %q", MatchModeAny, MatchModeAssignment, *c.MatchMode)
		}
	}
	for i, step := range c.Transform {
		switch step.Type {
		case TransformCenterShift:
			if step.Factor != nil {
				return fmt.Errorf("transform[%d]: factor is not valid for %s", i, step.Type)
			}
		case TransformScale:
			if step.GetFactor() <= 0 {
				return fmt.Errorf("transform[%d]: scale factor must be positive, got %f", i, step.GetFactor())
			}
			if step.ApplyZ != nil {
				return fmt.Errorf("transform[%d]: apply_z is not valid for %s", i, step.Type)
			}
		default:
			return fmt.Errorf("transform[%d]: unknown type %q", i, step.Type)
		}
	}

	names := make(map[string]string, len(c.ClassID2Names))
	for code, name := range c.ClassID2Names {
		if code == "" || name == "" {
			return fmt.Errorf("class_id2names entries must be non-empty, got %q=%q", code, name)
		}
		if name == "all" {
			return fmt.Errorf("class_id2names: %q is reserved", name)
		}
		if prev, dup := names[name]; dup {
			return fmt.Errorf("class_id2names: name %q bound to both %s and %s", name, prev, code)
		}
		names[name] = code
	}
	return nil
}

// GetDataRoot returns the data_root value or the default.
func (c *EvalConfig) GetDataRoot() string {
	if c.DataRoot == nil || *c.DataRoot == "" {
		return "data/keypointnet"
	}
	return *c.DataRoot
}

// GetSplit returns the split value or the default.
func (c *EvalConfig) GetSplit() string {
	if c.Split == nil || *c.Split == "" {
		return "train"
	}
	return *c.Split
}

// GetCategory returns the category value or the default.
func (c *EvalConfig) GetCategory() string {
	if c.Category == nil || *c.Category == "" {
		return "all"
	}
	return *c.Category
}

// GetNumPoints returns the resampling target, or 0 when every point is kept.
func (c *EvalConfig) GetNumPoints() int {
	if c.NumPoints == nil {
		return 0
	}
	return *c.NumPoints
}

// GetUniformSampling returns the uniform_sampling value or the default.
func (c *EvalConfig) GetUniformSampling() bool {
	if c.UniformSampling == nil {
		return true
	}
	return *c.UniformSampling
}

// GetSaveRecord returns the save_record value or the default.
func (c *EvalConfig) GetSaveRecord() bool {
	if c.SaveRecord == nil {
		return true
	}
	return *c.SaveRecord
}

// GetLoop returns the loop factor. Test mode always uses 1.
func (c *EvalConfig) GetLoop() int {
	if c.GetTestMode() || c.Loop == nil {
		return 1
	}
	return *c.Loop
}

// GetTestMode returns the test_mode value or the default.
func (c *EvalConfig) GetTestMode() bool {
	if c.TestMode == nil {
		return false
	}
	return *c.TestMode
}

// GetDistanceThreshold returns the geodesic match radius in normalized units.
func (c *EvalConfig) GetDistanceThreshold() float64 {
	if c.DistanceThreshold == nil {
		return 0.1
	}
	return *c.DistanceThreshold
}

// GetScoreThreshold returns the per-point score cutoff for predicted keypoints.
func (c *EvalConfig) GetScoreThreshold() float64 {
	if c.ScoreThreshold == nil {
		return 0.1
	}
	return *c.ScoreThreshold
}

// GetNeighbors returns the k used for the nearest-neighbor graph.
func (c *EvalConfig) GetNeighbors() int {
	if c.Neighbors == nil {
		return 20
	}
	return *c.Neighbors
}

// GetMaxPoints returns the shortest-path point ceiling (0 = unlimited).
func (c *EvalConfig) GetMaxPoints() int {
	if c.MaxPoints == nil {
		return 0
	}
	return *c.MaxPoints
}

// GetMatchMode returns the match_mode value or the default.
func (c *EvalConfig) GetMatchMode() string {
	if c.MatchMode == nil || *c.MatchMode == "" {
		return MatchModeAny
	}
	return *c.MatchMode
}

// GetWorkers returns the evaluation parallelism.
func (c *EvalConfig) GetWorkers() int {
	if c.Workers == nil {
		return 4
	}
	return *c.Workers
}

// CategoryCodes returns the configured category codes, sorted.
func (c *EvalConfig) CategoryCodes() []string {
	codes := make([]string, 0, len(c.ClassID2Names))
	for code := range c.ClassID2Names {
		codes = append(codes, code)
	}
	sort.Strings(codes)
	return codes
}

// WithOverrides returns a copy of c with the non-empty split and category
// applied. Used by the CLI flags.
func (c *EvalConfig) WithOverrides(split, category string) *EvalConfig {
	out := *c
	if split != "" {
		out.Split = ptrString(split)
	}
	if category != "" {
		out.Category = ptrString(category)
	}
	return &out
}
