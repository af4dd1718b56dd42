package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// DefaultBaudRate is used when ports.yaml does not set one.
const DefaultBaudRate = 230400

// Device is one actuator serial port.
type Device struct {
	Port  string `yaml:"port"`
	DevID int    `yaml:"dev_id,omitempty"`
}

// Ports lists the actuator serial devices.
type Ports struct {
	BaudRate int      `yaml:"baud_rate"`
	Devices  []Device `yaml:"devices"`
}

// LoadPorts reads the device list from a YAML file.
func LoadPorts(path string) (*Ports, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read ports file: %w", err)
	}
	var p Ports
	if err := yaml.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("%w: parse ports file: %v", ErrConfiguration, err)
	}
	if len(p.Devices) == 0 {
		return nil, fmt.Errorf("%w: ports file %s lists no devices", ErrConfiguration, path)
	}
	if len(p.Devices) > 2 {
		return nil, fmt.Errorf("%w: at most two exos are supported, got %d ports", ErrConfiguration, len(p.Devices))
	}
	for i, d := range p.Devices {
		if d.Port == "" {
			return nil, fmt.Errorf("%w: device %d has no port", ErrConfiguration, i)
		}
	}
	if p.BaudRate == 0 {
		p.BaudRate = DefaultBaudRate
	}
	return &p, nil
}
