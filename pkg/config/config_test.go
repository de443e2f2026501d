package config

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault(t *testing.T) {
	cfg := Default()

	assert.NotNil(t, cfg)
	assert.Equal(t, DeviceHX711, cfg.Device.Kind)
	assert.Equal(t, "/dev/ttyACM0", cfg.Serial.Port)
	assert.Equal(t, 115200, cfg.Serial.Baud)
	assert.Equal(t, "A128", cfg.HX711.Gain)
	assert.Equal(t, uint16(0x2A), cfg.NAU7802.Addr)
	assert.Equal(t, 80, cfg.NAU7802.SPS)
	assert.Equal(t, 5*time.Second, cfg.Acquisition.PowerOnTimeout)
	assert.Equal(t, float64(1), cfg.Calibration.Scale)
	assert.Nil(t, cfg.Filter.Recheck)
	assert.Equal(t, time.Minute, cfg.Meter.Window)
	assert.Equal(t, float64(1), cfg.Meter.MinChange)
	require.NoError(t, cfg.Validate())
}

func TestLoad_FileNotExists(t *testing.T) {
	cfg, err := Load("nonexistent.yaml")
	require.NoError(t, err)
	assert.NotNil(t, cfg)
	assert.Equal(t, DeviceHX711, cfg.Device.Kind)
}

func TestLoad_ValidYAML(t *testing.T) {
	tmpfile, err := os.CreateTemp("", "test_config_*.yaml")
	require.NoError(t, err)
	defer os.Remove(tmpfile.Name())

	yamlContent := `
device:
  kind: nau7802

filter:
  window_size: 15
  stable_threshold: 150
  recheck: true

acquisition:
  frequency: 40
  poll_interval: 100ms
  power_on_timeout: 2s

nau7802:
  bus: "1"
  addr: 42
  gain: 64
  sps: 40

calibration:
  offset: -12000
  scale: 420.5
  unit: kg
`

	_, err = tmpfile.WriteString(yamlContent)
	require.NoError(t, err)
	require.NoError(t, tmpfile.Close())

	cfg, err := Load(tmpfile.Name())
	require.NoError(t, err)
	assert.NotNil(t, cfg)

	assert.Equal(t, DeviceNAU7802, cfg.Device.Kind)
	assert.Equal(t, 15, cfg.Filter.WindowSize)
	assert.Equal(t, float64(150), cfg.Filter.StableThreshold)
	require.NotNil(t, cfg.Filter.Recheck)
	assert.True(t, *cfg.Filter.Recheck)
	assert.Equal(t, float64(40), cfg.Acquisition.Frequency)
	assert.Equal(t, 100*time.Millisecond, cfg.Acquisition.PollInterval)
	assert.Equal(t, 2*time.Second, cfg.Acquisition.PowerOnTimeout)
	assert.Equal(t, "1", cfg.NAU7802.Bus)
	assert.Equal(t, uint16(42), cfg.NAU7802.Addr)
	assert.Equal(t, 64, cfg.NAU7802.Gain)
	assert.Equal(t, 40, cfg.NAU7802.SPS)
	assert.Equal(t, float64(-12000), cfg.Calibration.Offset)
	assert.Equal(t, 420.5, cfg.Calibration.Scale)
	assert.Equal(t, "kg", cfg.Calibration.Unit)
}

func TestLoad_InvalidYAML(t *testing.T) {
	tmpfile, err := os.CreateTemp("", "test_config_*.yaml")
	require.NoError(t, err)
	defer os.Remove(tmpfile.Name())

	_, err = tmpfile.WriteString("invalid: yaml: content: [")
	require.NoError(t, err)
	require.NoError(t, tmpfile.Close())

	cfg, err := Load(tmpfile.Name())
	assert.Error(t, err)
	assert.Nil(t, cfg)
}

func TestLoad_PartialYAML(t *testing.T) {
	tmpfile, err := os.CreateTemp("", "test_config_*.yaml")
	require.NoError(t, err)
	defer os.Remove(tmpfile.Name())

	yamlContent := `
serial:
  port: "/dev/ttyUSB1"
`

	_, err = tmpfile.WriteString(yamlContent)
	require.NoError(t, err)
	require.NoError(t, tmpfile.Close())

	cfg, err := Load(tmpfile.Name())
	require.NoError(t, err)
	assert.NotNil(t, cfg)

	// Should use defaults for missing fields
	assert.Equal(t, "/dev/ttyUSB1", cfg.Serial.Port)
	assert.Equal(t, 115200, cfg.Serial.Baud)
	assert.Equal(t, DeviceHX711, cfg.Device.Kind)
	assert.Equal(t, float64(10), cfg.Serial.MaxRate)
	assert.Equal(t, 10*time.Millisecond, cfg.Mock.SampleRate)
}

func TestLoad_UnknownDevice(t *testing.T) {
	tmpfile, err := os.CreateTemp("", "test_config_*.yaml")
	require.NoError(t, err)
	defer os.Remove(tmpfile.Name())

	_, err = tmpfile.WriteString("device:\n  kind: ads1256\n")
	require.NoError(t, err)
	require.NoError(t, tmpfile.Close())

	cfg, err := Load(tmpfile.Name())
	assert.ErrorIs(t, err, ErrUnknownDevice)
	assert.Nil(t, cfg)
}

func TestSave(t *testing.T) {
	cfg := Default()
	cfg.Device.Kind = DeviceSerial
	cfg.Serial.Port = "/dev/ttyUSB0"
	cfg.Filter.WindowSize = 7

	tmpfile, err := os.CreateTemp("", "test_save_*.yaml")
	require.NoError(t, err)
	defer os.Remove(tmpfile.Name())

	err = cfg.Save(tmpfile.Name())
	require.NoError(t, err)

	// Load it back and verify
	loaded, err := Load(tmpfile.Name())
	require.NoError(t, err)
	assert.Equal(t, DeviceSerial, loaded.Device.Kind)
	assert.Equal(t, "/dev/ttyUSB0", loaded.Serial.Port)
	assert.Equal(t, 7, loaded.Filter.WindowSize)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr error
	}{
		{
			name:   "defaults",
			mutate: func(c *Config) {},
		},
		{
			name:    "unknown kind",
			mutate:  func(c *Config) { c.Device.Kind = "bogus" },
			wantErr: ErrUnknownDevice,
		},
		{
			name:    "even window",
			mutate:  func(c *Config) { c.Filter.WindowSize = 10 },
			wantErr: ErrInvalid,
		},
		{
			name:    "tiny window",
			mutate:  func(c *Config) { c.Filter.WindowSize = 1 },
			wantErr: ErrInvalid,
		},
		{
			name:    "negative frequency",
			mutate:  func(c *Config) { c.Acquisition.Frequency = -1 },
			wantErr: ErrInvalid,
		},
		{
			name:    "bad hx711 gain",
			mutate:  func(c *Config) { c.HX711.Gain = "B64" },
			wantErr: ErrInvalid,
		},
		{
			name:    "hx711 shared pin",
			mutate:  func(c *Config) { c.HX711.Data = c.HX711.Clock },
			wantErr: ErrInvalid,
		},
		{
			name: "bad nau7802 sps",
			mutate: func(c *Config) {
				c.Device.Kind = DeviceNAU7802
				c.NAU7802.SPS = 160
			},
			wantErr: ErrInvalid,
		},
		{
			name: "bad nau7802 gain",
			mutate: func(c *Config) {
				c.Device.Kind = DeviceNAU7802
				c.NAU7802.Gain = 3
			},
			wantErr: ErrInvalid,
		},
		{
			name: "serial without port",
			mutate: func(c *Config) {
				c.Device.Kind = DeviceSerial
				c.Serial.Port = ""
			},
			wantErr: ErrInvalid,
		},
		{
			name: "serial bad gain",
			mutate: func(c *Config) {
				c.Device.Kind = DeviceSerial
				c.HX711.Gain = "A32"
			},
			wantErr: ErrInvalid,
		},
		{
			name:    "zero scale",
			mutate:  func(c *Config) { c.Calibration.Scale = 0 },
			wantErr: ErrInvalid,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == nil {
				assert.NoError(t, err)
			} else {
				assert.ErrorIs(t, err, tt.wantErr)
			}
		})
	}
}
