// Package config provides configuration loading and access for the simulation.
package config

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"fmt"
	"os"

	"github.com/go-gl/mathgl/mgl32"
	"github.com/santhosh-tekuri/jsonschema/v5"
	"gopkg.in/yaml.v3"

	"github.com/pthm-cable/gridflock/space"
)

//go:embed defaults.yaml
var defaultsYAML []byte

//go:embed schema.json
var schemaJSON []byte

// Pipeline modes.
const (
	ModeGrid  = "grid"  // sort + reindex + 3x3x3 neighbour scan
	ModeNaive = "naive" // all-pairs scan, no partition
)

// Resort policies.
const (
	ResortAlways   = "always"
	ResortOnChange = "on_change" // skip sort/reindex when no agent changed cell
)

// Config holds all simulation configuration parameters.
type Config struct {
	Space      SpaceConfig      `yaml:"space"`
	Flocking   FlockingConfig   `yaml:"flocking"`
	Population PopulationConfig `yaml:"population"`
	Pipeline   PipelineConfig   `yaml:"pipeline"`
	Compute    ComputeConfig    `yaml:"compute"`
	Tree       TreeConfig       `yaml:"tree"`
	Telemetry  TelemetryConfig  `yaml:"telemetry"`

	// Derived values computed after loading
	Derived DerivedConfig `yaml:"-"`
}

// SpaceConfig holds the domain corners.
type SpaceConfig struct {
	Low  [3]float64 `yaml:"low"`
	High [3]float64 `yaml:"high"`
}

// FlockingConfig holds the flocking rule parameters.
type FlockingConfig struct {
	Zone             float64 `yaml:"zone"`              // Neighbour radius
	SpeedFactor      float64 `yaml:"speed_factor"`      // Speed cap
	ForceLimit       float64 `yaml:"force_limit"`       // Steering force cap
	AlignWeight      float64 `yaml:"align_weight"`      // Alignment term weight
	CohesionWeight   float64 `yaml:"cohesion_weight"`   // Cohesion term weight
	SeparationWeight float64 `yaml:"separation_weight"` // Separation term weight
}

// PopulationConfig holds population settings.
type PopulationConfig struct {
	Size int `yaml:"size"`
}

// PipelineConfig selects how each step runs.
type PipelineConfig struct {
	Mode   string `yaml:"mode"`
	Resort string `yaml:"resort"`
}

// ComputeConfig holds dispatch parameters.
type ComputeConfig struct {
	Workers         int `yaml:"workers"`          // 0 = GOMAXPROCS
	WorkgroupSize   int `yaml:"workgroup_size"`   // Agents per workgroup
	InvocationWidth int `yaml:"invocation_width"` // Sort distances below this run inside one workgroup
}

// TreeConfig holds occupancy tree parameters.
type TreeConfig struct {
	MemoryLimit    int `yaml:"memory_limit"`    // Node budget
	SplitThreshold int `yaml:"split_threshold"` // Split nodes holding more agents than this
	MaxDepth       int `yaml:"max_depth"`
	Interval       int `yaml:"interval"` // Rebuild every N steps, 0 = never
}

// TelemetryConfig holds telemetry parameters.
type TelemetryConfig struct {
	StatsWindow         int `yaml:"stats_window"`          // Ticks per stats window
	PerfCollectorWindow int `yaml:"perf_collector_window"` // Ticks in the rolling perf window
}

// DerivedConfig holds computed values derived from the loaded config.
type DerivedConfig struct {
	Low, High mgl32.Vec3
}

// global holds the loaded configuration.
var global *Config

// Init loads configuration from the given path, or uses embedded defaults if path is empty.
// Must be called before Cfg().
func Init(path string) error {
	cfg, err := Load(path)
	if err != nil {
		return err
	}
	global = cfg
	return nil
}

// MustInit is like Init but panics on error.
func MustInit(path string) {
	if err := Init(path); err != nil {
		panic(fmt.Sprintf("config: failed to initialize: %v", err))
	}
}

// Cfg returns the global configuration. Panics if Init was not called.
func Cfg() *Config {
	if global == nil {
		panic("config: Cfg() called before Init()")
	}
	return global
}

// Load loads configuration from a YAML file, merging with embedded defaults.
// If path is empty, only embedded defaults are used.
func Load(path string) (*Config, error) {
	cfg := &Config{}
	if err := yaml.Unmarshal(defaultsYAML, cfg); err != nil {
		return nil, fmt.Errorf("parsing embedded defaults: %w", err)
	}

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		if err := Validate(data); err != nil {
			return nil, err
		}
		// Unmarshal into same struct - only overwrites fields present in file
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	}

	cfg.computeDerived()
	return cfg, nil
}

// Validate checks a YAML config document against the embedded JSON schema.
// Every field is optional; present fields must be well-typed and in range.
func Validate(data []byte) error {
	var doc interface{}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("parsing config file: %w", err)
	}
	if doc == nil {
		return nil
	}

	// The validator expects JSON-decoded values.
	raw, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("converting config to json: %w", err)
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var v interface{}
	if err := dec.Decode(&v); err != nil {
		return fmt.Errorf("converting config to json: %w", err)
	}

	sch, err := compileSchema()
	if err != nil {
		return err
	}
	if err := sch.Validate(v); err != nil {
		return fmt.Errorf("config validation failed: %w", err)
	}
	return nil
}

func compileSchema() (*jsonschema.Schema, error) {
	c := jsonschema.NewCompiler()
	if err := c.AddResource("schema.json", bytes.NewReader(schemaJSON)); err != nil {
		return nil, fmt.Errorf("loading schema: %w", err)
	}
	sch, err := c.Compile("schema.json")
	if err != nil {
		return nil, fmt.Errorf("failed to compile schema: %w", err)
	}
	return sch, nil
}

// computeDerived calculates values derived from loaded config.
func (c *Config) computeDerived() {
	for i := 0; i < 3; i++ {
		c.Derived.Low[i] = float32(c.Space.Low[i])
		c.Derived.High[i] = float32(c.Space.High[i])
	}
	if c.Pipeline.Mode == "" {
		c.Pipeline.Mode = ModeGrid
	}
	if c.Pipeline.Resort == "" {
		c.Pipeline.Resort = ResortAlways
	}
}

// Spatial builds the immutable spatial configuration.
func (c *Config) Spatial() *space.Config {
	return space.New(space.Params{
		Low:             c.Derived.Low,
		High:            c.Derived.High,
		FlockingZone:    float32(c.Flocking.Zone),
		SpeedFactor:     float32(c.Flocking.SpeedFactor),
		ForceLimit:      float32(c.Flocking.ForceLimit),
		PopulationSize:  c.Population.Size,
		TreeMemoryLimit: c.Tree.MemoryLimit,
	})
}

// WriteYAML writes the configuration to a YAML file.
func (c *Config) WriteYAML(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshaling config: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}
	return nil
}
