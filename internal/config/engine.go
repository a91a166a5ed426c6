package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// EngineTuning holds the session engine timers and thresholds.
type EngineTuning struct {
	DebounceDelay      time.Duration `yaml:"debounce_delay"`
	NewAnswerThreshold int           `yaml:"new_answer_threshold"`
	PeriodicInterval   time.Duration `yaml:"periodic_interval"`
	CountdownInterval  time.Duration `yaml:"countdown_interval"`
	DesktopMinWidth    int           `yaml:"desktop_min_width"`
	SaveTimeout        time.Duration `yaml:"save_timeout"`
	SubmitTimeout      time.Duration `yaml:"submit_timeout"`
}

// WorkerTuning holds background worker settings.
type WorkerTuning struct {
	CheatBatchSize    int
	CheatFlushEvery   time.Duration
	ReconcileEvery    time.Duration
	ReconcileMaxTries int
	SweepEvery        time.Duration
}

type engineFile struct {
	Engine EngineTuning `yaml:"engine"`
}

// Overlay replaces every field set in the YAML file at path. Zero values in
// the file leave the current value untouched.
func (t *EngineTuning) Overlay(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read engine config file: %w", err)
	}

	var f engineFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return fmt.Errorf("failed to parse engine config: %w", err)
	}

	o := f.Engine
	if o.DebounceDelay > 0 {
		t.DebounceDelay = o.DebounceDelay
	}
	if o.NewAnswerThreshold > 0 {
		t.NewAnswerThreshold = o.NewAnswerThreshold
	}
	if o.PeriodicInterval > 0 {
		t.PeriodicInterval = o.PeriodicInterval
	}
	if o.CountdownInterval > 0 {
		t.CountdownInterval = o.CountdownInterval
	}
	if o.DesktopMinWidth > 0 {
		t.DesktopMinWidth = o.DesktopMinWidth
	}
	if o.SaveTimeout > 0 {
		t.SaveTimeout = o.SaveTimeout
	}
	if o.SubmitTimeout > 0 {
		t.SubmitTimeout = o.SubmitTimeout
	}
	return nil
}
