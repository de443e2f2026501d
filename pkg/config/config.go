package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Device kinds understood by scale.Open.
const (
	DeviceHX711   = "hx711"
	DeviceNAU7802 = "nau7802"
	DeviceSerial  = "serial"
	DeviceMock    = "mock"
)

var (
	// ErrUnknownDevice is returned when device.kind names no supported front-end.
	ErrUnknownDevice = errors.New("unknown device kind")
	// ErrInvalid is wrapped by every other Validate failure.
	ErrInvalid = errors.New("invalid configuration")
)

// Config represents the application configuration.
type Config struct {
	Device      DeviceConfig      `yaml:"device"`
	Filter      FilterConfig      `yaml:"filter"`
	Acquisition AcquisitionConfig `yaml:"acquisition"`
	Serial      SerialConfig      `yaml:"serial"`
	HX711       HX711Config       `yaml:"hx711"`
	NAU7802     NAU7802Config     `yaml:"nau7802"`
	Calibration CalibrationConfig `yaml:"calibration"`
	Meter       MeterConfig       `yaml:"meter"`
	Mock        MockConfig        `yaml:"mock"`
}

// DeviceConfig selects the sample source.
type DeviceConfig struct {
	Kind string `yaml:"kind"` // hx711, nau7802, serial or mock
}

// FilterConfig overrides the device's filter profile. Zero values keep the
// device preset.
type FilterConfig struct {
	WindowSize       int     `yaml:"window_size"`
	StableThreshold  float64 `yaml:"stable_threshold"`
	RecheckThreshold float64 `yaml:"recheck_threshold"`
	RecheckAccept    float64 `yaml:"recheck_accept"`
	Recheck          *bool   `yaml:"recheck,omitempty"`
}

// AcquisitionConfig contains scheduler parameters.
type AcquisitionConfig struct {
	Frequency      float64       `yaml:"frequency"`        // Hz, 0 = device maximum
	PollInterval   time.Duration `yaml:"poll_interval"`    // ready poll period during power-on
	PowerOnTimeout time.Duration `yaml:"power_on_timeout"` // 0 waits forever
}

// SerialConfig contains serial port configuration for the firmware bridge.
type SerialConfig struct {
	Port    string  `yaml:"port"`
	Baud    int     `yaml:"baud"`
	MaxRate float64 `yaml:"max_rate"` // conversions per second emitted by the firmware
}

// HX711Config contains the bit-banged front-end settings.
type HX711Config struct {
	Clock string `yaml:"clock"` // periph pin name for PD_SCK
	Data  string `yaml:"data"`  // periph pin name for DOUT
	Gain  string `yaml:"gain"`  // A128, B32 or A64, also sent to the serial firmware
}

// NAU7802Config contains the I2C front-end settings.
type NAU7802Config struct {
	Bus  string `yaml:"bus"`
	Addr uint16 `yaml:"addr"`
	Gain int    `yaml:"gain"` // 1, 2, 4 ... 128
	SPS  int    `yaml:"sps"`  // 10, 20, 40, 80 or 320
	DRDY string `yaml:"drdy"` // optional periph pin name
}

// CalibrationConfig converts filtered raw codes into weight.
type CalibrationConfig struct {
	Offset float64 `yaml:"offset"` // raw code at zero load (tare)
	Scale  float64 `yaml:"scale"`  // raw counts per unit
	Unit   string  `yaml:"unit"`
}

// MeterConfig contains load change detection parameters.
type MeterConfig struct {
	Window    time.Duration `yaml:"window"`     // history kept for Weights and Loads
	MinChange float64       `yaml:"min_change"` // smallest settled weight change reported, in units
}

// MockConfig contains simulated load cell configuration.
type MockConfig struct {
	Bias       float64       `yaml:"bias"`        // raw code at rest
	Load       float64       `yaml:"load"`        // raw code step added while loaded
	Noise      float64       `yaml:"noise"`       // peak noise amplitude in codes
	Drift      float64       `yaml:"drift"`       // codes per sample
	SpikeEvery int           `yaml:"spike_every"` // inject a spike every N samples, 0 = never
	SampleRate time.Duration `yaml:"sample_rate"` // conversion period
	MaxRate    float64       `yaml:"max_rate"`
}

// Default returns a default configuration with sensible values.
func Default() *Config {
	return &Config{
		Device: DeviceConfig{
			Kind: DeviceHX711,
		},
		Acquisition: AcquisitionConfig{
			Frequency:      0, // device maximum
			PollInterval:   100 * time.Microsecond,
			PowerOnTimeout: 5 * time.Second,
		},
		Serial: SerialConfig{
			Port:    "/dev/ttyACM0",
			Baud:    115200,
			MaxRate: 10,
		},
		HX711: HX711Config{
			Clock: "GPIO5",
			Data:  "GPIO4",
			Gain:  "A128",
		},
		NAU7802: NAU7802Config{
			Bus:  "",
			Addr: 0x2A,
			Gain: 128,
			SPS:  80,
		},
		Calibration: CalibrationConfig{
			Offset: 0,
			Scale:  1,
			Unit:   "g",
		},
		Meter: MeterConfig{
			Window:    time.Minute,
			MinChange: 1,
		},
		Mock: MockConfig{
			Bias:       1000,
			Load:       0,
			Noise:      20,
			Drift:      0,
			SpikeEvery: 0,
			SampleRate: 10 * time.Millisecond,
			MaxRate:    100,
		},
	}
}

// Load loads configuration from a YAML file. If the file doesn't exist or
// fields are missing, it uses default values.
func Load(filename string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(filename)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	cfg.ensureDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Save saves the configuration to a YAML file.
func (c *Config) Save(filename string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(filename, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// Validate rejects settings no front-end can honour.
func (c *Config) Validate() error {
	switch c.Device.Kind {
	case DeviceHX711, DeviceNAU7802, DeviceSerial, DeviceMock:
	default:
		return fmt.Errorf("%w: %q", ErrUnknownDevice, c.Device.Kind)
	}

	if c.Acquisition.Frequency < 0 {
		return fmt.Errorf("%w: negative acquisition frequency %v", ErrInvalid, c.Acquisition.Frequency)
	}
	if c.Filter.WindowSize != 0 && (c.Filter.WindowSize < 3 || c.Filter.WindowSize%2 == 0) {
		return fmt.Errorf("%w: window size %d must be odd and at least 3", ErrInvalid, c.Filter.WindowSize)
	}
	if c.Calibration.Scale == 0 {
		return fmt.Errorf("%w: calibration scale must be non-zero", ErrInvalid)
	}
	if c.Meter.Window < 0 || c.Meter.MinChange < 0 {
		return fmt.Errorf("%w: meter window and minimum change must not be negative", ErrInvalid)
	}

	switch c.Device.Kind {
	case DeviceHX711:
		switch c.HX711.Gain {
		case "A128", "B32", "A64":
		default:
			return fmt.Errorf("%w: hx711 gain %q", ErrInvalid, c.HX711.Gain)
		}
		if c.HX711.Clock == c.HX711.Data {
			return fmt.Errorf("%w: hx711 clock and data share pin %s", ErrInvalid, c.HX711.Clock)
		}
	case DeviceNAU7802:
		switch c.NAU7802.SPS {
		case 10, 20, 40, 80, 320:
		default:
			return fmt.Errorf("%w: nau7802 sps %d", ErrInvalid, c.NAU7802.SPS)
		}
		switch c.NAU7802.Gain {
		case 1, 2, 4, 8, 16, 32, 64, 128:
		default:
			return fmt.Errorf("%w: nau7802 gain %d", ErrInvalid, c.NAU7802.Gain)
		}
	case DeviceSerial:
		if c.Serial.Port == "" {
			return fmt.Errorf("%w: serial port required", ErrInvalid)
		}
		switch c.HX711.Gain {
		case "A128", "B32", "A64":
		default:
			return fmt.Errorf("%w: hx711 gain %q", ErrInvalid, c.HX711.Gain)
		}
	}

	return nil
}

// ensureDefaults ensures that all required fields have default values if missing.
func (c *Config) ensureDefaults() {
	def := Default()

	if c.Device.Kind == "" {
		c.Device.Kind = def.Device.Kind
	}

	if c.Acquisition.PollInterval == 0 {
		c.Acquisition.PollInterval = def.Acquisition.PollInterval
	}

	if c.Serial.Port == "" {
		c.Serial.Port = def.Serial.Port
	}
	if c.Serial.Baud == 0 {
		c.Serial.Baud = def.Serial.Baud
	}
	if c.Serial.MaxRate == 0 {
		c.Serial.MaxRate = def.Serial.MaxRate
	}

	if c.HX711.Clock == "" {
		c.HX711.Clock = def.HX711.Clock
	}
	if c.HX711.Data == "" {
		c.HX711.Data = def.HX711.Data
	}
	if c.HX711.Gain == "" {
		c.HX711.Gain = def.HX711.Gain
	}

	if c.NAU7802.Addr == 0 {
		c.NAU7802.Addr = def.NAU7802.Addr
	}
	if c.NAU7802.Gain == 0 {
		c.NAU7802.Gain = def.NAU7802.Gain
	}
	if c.NAU7802.SPS == 0 {
		c.NAU7802.SPS = def.NAU7802.SPS
	}

	if c.Calibration.Scale == 0 {
		c.Calibration.Scale = def.Calibration.Scale
	}
	if c.Calibration.Unit == "" {
		c.Calibration.Unit = def.Calibration.Unit
	}

	if c.Meter.Window == 0 {
		c.Meter.Window = def.Meter.Window
	}
	if c.Meter.MinChange == 0 {
		c.Meter.MinChange = def.Meter.MinChange
	}

	if c.Mock.SampleRate == 0 {
		c.Mock.SampleRate = def.Mock.SampleRate
	}
	if c.Mock.MaxRate == 0 {
		c.Mock.MaxRate = def.Mock.MaxRate
	}
}
