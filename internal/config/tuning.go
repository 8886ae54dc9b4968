// Package config loads gesture tuning parameters from JSON files.
//
// All fields are pointers so a config file only has to mention the values
// it overrides; Get* accessors fall back to the engine defaults for
// anything absent. The checked-in defaults live in
// config/tuning.defaults.json at the repository root.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/tactiledata/gesture.report/internal/touch"
)

// DefaultConfigPath is the repository-relative path of the checked-in
// default tuning file.
const DefaultConfigPath = "config/tuning.defaults.json"

// maxConfigBytes caps how large a tuning file may be. Tuning files are a
// handful of scalars; anything bigger is a mistake.
const maxConfigBytes = 1 << 20

// TuningConfig mirrors touch.Tunables with optional fields, plus the
// per-element geometry defaults used when a registration does not supply
// its own.
type TuningConfig struct {
	DeadZonePx             *float64 `json:"dead_zone_px,omitempty"`
	DragThresholdPx        *float64 `json:"drag_threshold_px,omitempty"`
	FlickVelocityThreshold *float64 `json:"flick_velocity_threshold,omitempty"`
	SpringTension          *float64 `json:"spring_tension,omitempty"`
	SpringFriction         *float64 `json:"spring_friction,omitempty"`
	VelocityWindow         *string  `json:"velocity_window,omitempty"`
	SessionTimeout         *string  `json:"session_timeout,omitempty"`
	FrameRate              *int     `json:"frame_rate,omitempty"`

	CardOffsetPx  *float64 `json:"card_offset_px,omitempty"`
	ActionWidthPx *float64 `json:"action_width_px,omitempty"`
}

// GetDeadZonePx returns the dead_zone_px value or the default.
func (c *TuningConfig) GetDeadZonePx() float64 {
	if c.DeadZonePx == nil {
		return 10
	}
	return *c.DeadZonePx
}

// GetDragThresholdPx returns the drag_threshold_px value or the default.
func (c *TuningConfig) GetDragThresholdPx() float64 {
	if c.DragThresholdPx == nil {
		return 50
	}
	return *c.DragThresholdPx
}

// GetFlickVelocityThreshold returns the flick_velocity_threshold value or
// the default (px/ms).
func (c *TuningConfig) GetFlickVelocityThreshold() float64 {
	if c.FlickVelocityThreshold == nil {
		return 0.3
	}
	return *c.FlickVelocityThreshold
}

// GetSpringTension returns the spring_tension value or the default.
func (c *TuningConfig) GetSpringTension() float64 {
	if c.SpringTension == nil {
		return 40
	}
	return *c.SpringTension
}

// GetSpringFriction returns the spring_friction value or the default.
func (c *TuningConfig) GetSpringFriction() float64 {
	if c.SpringFriction == nil {
		return 7
	}
	return *c.SpringFriction
}

// GetVelocityWindow parses and returns velocity_window as a Duration.
func (c *TuningConfig) GetVelocityWindow() time.Duration {
	if c.VelocityWindow == nil || *c.VelocityWindow == "" {
		return 80 * time.Millisecond
	}
	d, err := time.ParseDuration(*c.VelocityWindow)
	if err != nil {
		return 80 * time.Millisecond
	}
	return d
}

// GetSessionTimeout parses and returns session_timeout as a Duration.
func (c *TuningConfig) GetSessionTimeout() time.Duration {
	if c.SessionTimeout == nil || *c.SessionTimeout == "" {
		return 10 * time.Second
	}
	d, err := time.ParseDuration(*c.SessionTimeout)
	if err != nil {
		return 10 * time.Second
	}
	return d
}

// GetFrameRate returns the frame_rate value or the default.
func (c *TuningConfig) GetFrameRate() int {
	if c.FrameRate == nil {
		return 60
	}
	return *c.FrameRate
}

// GetCardOffsetPx returns the card_offset_px value or the default.
func (c *TuningConfig) GetCardOffsetPx() float64 {
	if c.CardOffsetPx == nil {
		return 260
	}
	return *c.CardOffsetPx
}

// GetActionWidthPx returns the action_width_px value or the default.
func (c *TuningConfig) GetActionWidthPx() float64 {
	if c.ActionWidthPx == nil {
		return 140
	}
	return *c.ActionWidthPx
}

// Tunables assembles a touch.Tunables from the config with defaults
// filled in.
func (c *TuningConfig) Tunables() touch.Tunables {
	return touch.Tunables{
		DeadZonePx:             c.GetDeadZonePx(),
		DragThresholdPx:        c.GetDragThresholdPx(),
		FlickVelocityThreshold: c.GetFlickVelocityThreshold(),
		SpringTension:          c.GetSpringTension(),
		SpringFriction:         c.GetSpringFriction(),
		VelocityWindow:         c.GetVelocityWindow(),
		SessionTimeout:         c.GetSessionTimeout(),
		FrameRate:              c.GetFrameRate(),
	}
}

// Validate checks the resolved values for sanity.
func (c *TuningConfig) Validate() error {
	if err := c.Tunables().Validate(); err != nil {
		return err
	}
	if v := c.GetCardOffsetPx(); v <= 0 {
		return fmt.Errorf("card offset must be > 0, got %v", v)
	}
	if v := c.GetActionWidthPx(); v <= 0 {
		return fmt.Errorf("action width must be > 0, got %v", v)
	}
	return nil
}

// LoadTuningConfig reads and validates a tuning file.
func LoadTuningConfig(path string) (*TuningConfig, error) {
	if !strings.HasSuffix(path, ".json") {
		return nil, fmt.Errorf("tuning config must be a .json file, got %q", path)
	}

	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("stat tuning config: %w", err)
	}
	if info.Size() > maxConfigBytes {
		return nil, fmt.Errorf("tuning config %q too large: %d bytes", path, info.Size())
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read tuning config: %w", err)
	}

	var cfg TuningConfig
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse tuning config %q: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid tuning config %q: %w", path, err)
	}
	return &cfg, nil
}

// MustLoadDefaultConfig loads the checked-in defaults, walking up from the
// working directory to find the repository root. It is for tests and
// tools that run from package directories; servers should pass an
// explicit path.
func MustLoadDefaultConfig() *TuningConfig {
	dir, err := os.Getwd()
	if err != nil {
		panic(fmt.Sprintf("config: getwd: %v", err))
	}
	for {
		candidate := filepath.Join(dir, DefaultConfigPath)
		if _, err := os.Stat(candidate); err == nil {
			cfg, err := LoadTuningConfig(candidate)
			if err != nil {
				panic(fmt.Sprintf("config: load %s: %v", candidate, err))
			}
			return cfg
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			panic("config: tuning.defaults.json not found; run from within the repository")
		}
		dir = parent
	}
}
