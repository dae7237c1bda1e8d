package config

import (
	"bytes"
	"os"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/pelletier/go-toml/v2"
	"github.com/spaghettifunk/inflight/engine/core"
)

// Duration is a time.Duration read from strings such as "250ms" or "2s".
type Duration time.Duration

func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return errors.Wrapf(core.ErrInvalidConfig, "duration %q: %s", text, err)
	}
	*d = Duration(v)
	return nil
}

type Log struct {
	Level string `toml:"level"`
}

// Device holds the fixed limits a device is created with. Changing any of
// them requires recreating the device.
type Device struct {
	// Backend is "headless" or "vulkan".
	Backend string `toml:"backend"`
	// BufferCount is the ring size: frames kept in flight simultaneously.
	BufferCount int `toml:"buffer_count"`
	// CommandListCount bounds the command lists recorded in one frame.
	CommandListCount int `toml:"command_list_count"`
	// LinearAllocatorSize is the upload buffer size of each command list in
	// each ring slot, in bytes.
	LinearAllocatorSize uint64 `toml:"linear_allocator_size"`
	// DescriptorPoolSize is the number of descriptor sets one slot can hand
	// out.
	DescriptorPoolSize uint32   `toml:"descriptor_pool_size"`
	FenceTimeout       Duration `toml:"fence_timeout"`
	// ReclaimBoundary is "inclusive" or "strict".
	ReclaimBoundary     string `toml:"reclaim_boundary"`
	OcclusionQueryCount uint32 `toml:"occlusion_query_count"`
	TimestampQueryCount uint32 `toml:"timestamp_query_count"`
}

type Headless struct {
	// GPULatency is how long the simulated GPU takes to retire a submission.
	GPULatency Duration `toml:"gpu_latency"`
}

type Jobs struct {
	Workers   int `toml:"workers"`
	QueueSize int `toml:"queue_size"`
}

// Testbed drives the synthetic workload.
type Testbed struct {
	Name string `toml:"name"`
	// Frames to run before exiting. 0 runs until interrupted.
	Frames      int     `toml:"frames"`
	Producers   int     `toml:"producers"`
	BindsPerCmd int     `toml:"binds_per_cmd"`
	UploadSize  uint64  `toml:"upload_size"`
	DestroyRate float64 `toml:"destroy_rate"`
	Seed        uint64  `toml:"seed"`
}

type Config struct {
	Log      Log      `toml:"log"`
	Device   Device   `toml:"device"`
	Headless Headless `toml:"headless"`
	Jobs     Jobs     `toml:"jobs"`
	Testbed  Testbed  `toml:"testbed"`
}

func Default() Config {
	return Config{
		Log: Log{Level: "info"},
		Device: Device{
			Backend:             "headless",
			BufferCount:         2,
			CommandListCount:    32,
			LinearAllocatorSize: 4 << 20,
			DescriptorPoolSize:  1024,
			FenceTimeout:        Duration(2 * time.Second),
			ReclaimBoundary:     "inclusive",
			OcclusionQueryCount: 1024,
			TimestampQueryCount: 1024,
		},
		Headless: Headless{GPULatency: Duration(2 * time.Millisecond)},
		Jobs:     Jobs{Workers: 4, QueueSize: 256},
		Testbed: Testbed{
			Name:        "Inflight Testbed",
			Frames:      600,
			Producers:   4,
			BindsPerCmd: 4,
			UploadSize:  256,
			DestroyRate: 0.25,
			Seed:        1,
		},
	}
}

// Load reads a TOML file on top of Default. Keys missing from the file keep
// their default value.
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, errors.Wrapf(err, "read config %s", path)
	}
	return Parse(data)
}

func Parse(data []byte) (Config, error) {
	cfg := Default()
	dec := toml.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&cfg); err != nil {
		return Config{}, core.WithStatus(errors.Wrap(err, "decode config"), core.ErrInvalidConfig)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Encode writes cfg as TOML.
func (c Config) Encode() ([]byte, error) {
	var buf bytes.Buffer
	if err := toml.NewEncoder(&buf).Encode(c); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (c Config) Validate() error {
	if err := c.Device.Validate(); err != nil {
		return err
	}
	if c.Headless.GPULatency < 0 {
		return errors.Wrap(core.ErrInvalidConfig, "headless.gpu_latency must not be negative")
	}
	if c.Jobs.Workers <= 0 {
		return errors.Wrapf(core.ErrInvalidConfig, "jobs.workers must be positive, got %d", c.Jobs.Workers)
	}
	if c.Jobs.QueueSize <= 0 {
		return errors.Wrapf(core.ErrInvalidConfig, "jobs.queue_size must be positive, got %d", c.Jobs.QueueSize)
	}
	if c.Testbed.Producers > c.Device.CommandListCount {
		return errors.Wrapf(core.ErrInvalidConfig, "testbed.producers (%d) exceeds device.command_list_count (%d)",
			c.Testbed.Producers, c.Device.CommandListCount)
	}
	if c.Testbed.DestroyRate < 0 || c.Testbed.DestroyRate > 1 {
		return errors.Wrapf(core.ErrInvalidConfig, "testbed.destroy_rate must be within [0, 1], got %g", c.Testbed.DestroyRate)
	}
	return nil
}

func (d Device) Validate() error {
	switch d.Backend {
	case "headless", "vulkan":
	default:
		return errors.Wrapf(core.ErrInvalidConfig, "unknown device.backend %q", d.Backend)
	}
	if d.BufferCount < 1 {
		return errors.Wrapf(core.ErrInvalidConfig, "device.buffer_count must be at least 1, got %d", d.BufferCount)
	}
	if d.CommandListCount < 1 {
		return errors.Wrapf(core.ErrInvalidConfig, "device.command_list_count must be at least 1, got %d", d.CommandListCount)
	}
	if d.LinearAllocatorSize == 0 {
		return errors.Wrap(core.ErrInvalidConfig, "device.linear_allocator_size must be positive")
	}
	if d.DescriptorPoolSize == 0 {
		return errors.Wrap(core.ErrInvalidConfig, "device.descriptor_pool_size must be positive")
	}
	if d.FenceTimeout <= 0 {
		return errors.Wrap(core.ErrInvalidConfig, "device.fence_timeout must be positive")
	}
	switch d.ReclaimBoundary {
	case "", "inclusive", "strict":
	default:
		return errors.Wrapf(core.ErrInvalidConfig, "unknown device.reclaim_boundary %q", d.ReclaimBoundary)
	}
	return nil
}

// RequiresRestart reports whether moving from c to next changes something
// that is only read when the device is created.
func (c Config) RequiresRestart(next Config) bool {
	return c.Device != next.Device || c.Headless != next.Headless || c.Jobs != next.Jobs
}
