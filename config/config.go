// Package config loads the YAML connection configuration shared by every
// transport (serial port, TCP gateway, BLE addresses, poll cadence),
// separate from the JSON register maps loaded by registermap.Load.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// ModbusConfig configures a Modbus RTU or TCP session.
type ModbusConfig struct {
	Transport   string        `yaml:"transport"` // "rtu" or "tcp"
	Port        string        `yaml:"port"`       // serial device path (rtu) or host:port (tcp)
	BaudRate    int           `yaml:"baud_rate"`
	DataBits    int           `yaml:"data_bits"`
	Parity      string        `yaml:"parity"`
	StopBits    int           `yaml:"stop_bits"`
	SlaveID     byte          `yaml:"slave_id"`
	Timeout     time.Duration `yaml:"timeout"`
	RegisterMap string        `yaml:"register_map"`
}

// DefaultModbusConfig mirrors common RTU defaults (9600-8N1) used across
// the hybrid-inverter vendor family.
func DefaultModbusConfig() ModbusConfig {
	return ModbusConfig{
		Transport: "rtu",
		BaudRate:  9600,
		DataBits:  8,
		Parity:    "N",
		StopBits:  1,
		SlaveID:   1,
		Timeout:   2 * time.Second,
	}
}

// BLEConfig configures a JK-BMS BLE multi-pack bank.
type BLEConfig struct {
	Addresses       []string      `yaml:"addresses"`
	ConnectTimeout  time.Duration `yaml:"connect_timeout"`
	ResponseTimeout time.Duration `yaml:"response_timeout"`
	ConnectSpacing  time.Duration `yaml:"connect_spacing"`
	PollSpacing     time.Duration `yaml:"poll_spacing"`
}

// DefaultBLEConfig mirrors battery_jkbms_ble.py's constants.
func DefaultBLEConfig() BLEConfig {
	return BLEConfig{
		ConnectTimeout:  5 * time.Second,
		ResponseTimeout: 8 * time.Second,
		ConnectSpacing:  2 * time.Second,
		PollSpacing:     300 * time.Millisecond,
	}
}

// SnifferConfig configures the RS-485 passive sniffer adapter.
type SnifferConfig struct {
	Transport string `yaml:"transport"` // "tcp" or "serial"
	Address   string `yaml:"address"`   // host:port for tcp
	Port      string `yaml:"port"`      // serial device path
	BaudRate  int    `yaml:"baud_rate"`
}

// ConsoleConfig configures the Pytes ASCII console adapter.
type ConsoleConfig struct {
	Port           string        `yaml:"port"`
	BaudRate       int           `yaml:"baud_rate"`
	CommandTimeout time.Duration `yaml:"command_timeout"`
	PackCount      int           `yaml:"pack_count"`
}

// DefaultConsoleConfig mirrors battery_pytes.py's console defaults.
func DefaultConsoleConfig() ConsoleConfig {
	return ConsoleConfig{
		BaudRate:       115200,
		CommandTimeout: 2 * time.Second,
		PackCount:      1,
	}
}

// IAMMeterConfig configures the IAMMeter Modbus-TCP adapter. The
// HardcodedXxx fields are the last-resort direct register addresses used
// when a quantity is absent from both the legacy and extended register
// map ids (e.g. no register map file was loaded at all).
type IAMMeterConfig struct {
	Address              string `yaml:"address"`
	SlaveID               byte   `yaml:"slave_id"`
	PreferLegacyRegisters bool   `yaml:"prefer_legacy_registers"`

	HardcodedVoltageReg        uint16  `yaml:"hardcoded_voltage_register"`
	HardcodedVoltageScale      float64 `yaml:"hardcoded_voltage_scale"`
	HardcodedCurrentReg        uint16  `yaml:"hardcoded_current_register"`
	HardcodedCurrentScale      float64 `yaml:"hardcoded_current_scale"`
	HardcodedPowerReg          uint16  `yaml:"hardcoded_power_register"`
	HardcodedFrequencyReg      uint16  `yaml:"hardcoded_frequency_register"`
	HardcodedFrequencyScale    float64 `yaml:"hardcoded_frequency_scale"`
	HardcodedPowerFactorReg    uint16  `yaml:"hardcoded_power_factor_register"`
	HardcodedPowerFactorScale  float64 `yaml:"hardcoded_power_factor_scale"`
}

// DefaultIAMMeterConfig mirrors iammeter.py's legacy hardcoded register
// map, used as the adapter's final fallback tier.
func DefaultIAMMeterConfig() IAMMeterConfig {
	return IAMMeterConfig{
		SlaveID:                   1,
		HardcodedVoltageReg:       0x0000,
		HardcodedVoltageScale:     100,
		HardcodedCurrentReg:       0x0001,
		HardcodedCurrentScale:     100,
		HardcodedPowerReg:         0x0002,
		HardcodedFrequencyReg:     0x0006,
		HardcodedFrequencyScale:   100,
		HardcodedPowerFactorReg:   0x0007,
		HardcodedPowerFactorScale: 1000,
	}
}

// Load reads and parses a YAML config file into dst (a pointer to one of
// the *Config structs above, or an aggregate wrapping several).
func Load(path string, dst any) error {
	b, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(b, dst); err != nil {
		return fmt.Errorf("parsing config %s: %w", path, err)
	}
	return nil
}
