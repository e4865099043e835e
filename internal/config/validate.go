package config

import (
	"fmt"
	"strings"

	"github.com/rotisserie/eris"
)

var saveArtifactModes = map[string]bool{"always": true, "never": true, "ask": true}

// Validate checks the settings a command mode depends on. Modes are
// "fetch", "extract", "run" and "serve".
func (c *Config) Validate(mode string) error {
	var errs []string

	switch mode {
	case "fetch":
		errs = append(errs, c.validateFetch()...)
	case "extract":
		errs = append(errs, c.validateExtract()...)
	case "run":
		errs = append(errs, c.validateFetch()...)
		errs = append(errs, c.validateExtract()...)
		errs = append(errs, c.validatePipeline()...)
	case "serve":
		errs = append(errs, c.validatePipeline()...)
		if c.Server.Port <= 0 {
			errs = append(errs, "server.port must be > 0")
		}
		if c.Server.MaxConcurrentRuns < 1 || c.Server.MaxConcurrentRuns > 16 {
			errs = append(errs, "server.max_concurrent_runs must be between 1 and 16")
		}
	default:
		return eris.Errorf("config: unknown mode %q", mode)
	}

	if len(errs) > 0 {
		return eris.New("config: " + strings.Join(errs, "; "))
	}
	return nil
}

func (c *Config) validateFetch() []string {
	var errs []string
	if c.Fetch.AdapterTimeoutSecs <= 0 {
		errs = append(errs, "fetch.adapter_timeout_secs must be > 0")
	}
	if c.Fetch.TailChars <= 0 {
		errs = append(errs, "fetch.tail_chars must be > 0")
	}
	return errs
}

func (c *Config) validateExtract() []string {
	var errs []string
	if c.Extract.OCRWorkers < 1 || c.Extract.OCRWorkers > 32 {
		errs = append(errs, "extract.ocr_workers must be between 1 and 32")
	}
	if c.Extract.SceneThreshold <= 0 || c.Extract.SceneThreshold >= 1 {
		errs = append(errs, fmt.Sprintf("extract.scene_threshold must be in (0,1), got %v", c.Extract.SceneThreshold))
	}
	if c.Extract.MaxImages <= 0 {
		errs = append(errs, "extract.max_images must be > 0")
	}
	return errs
}

func (c *Config) validatePipeline() []string {
	var errs []string
	if !saveArtifactModes[c.Pipeline.SaveArtifacts] {
		errs = append(errs, fmt.Sprintf("pipeline.save_artifacts must be one of always|never|ask, got %q", c.Pipeline.SaveArtifacts))
	}
	if c.Pipeline.OutputRoot == "" {
		errs = append(errs, "pipeline.output_root is required")
	}
	return errs
}
