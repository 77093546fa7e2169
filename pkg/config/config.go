// Package config describes the AS9817-32O platform layout: sysfs roots,
// the port-to-i2c-bus mapping, retimer addressing, kernel module sets and
// the thermal sensor table. The built-in defaults match the shipped board
// revision; a YAML file can override individual fields for lab setups.
package config

import (
	"fmt"
	"os"

	"sigs.k8s.io/yaml"
)

// Sensor names one thermal sensor and the hwmon channel backing it.
type Sensor struct {
	// Name is the user-visible sensor name (e.g. "Temp sensor 1").
	Name string `json:"name"`
	// Channel is the hwmon channel number, i.e. the N in tempN_input.
	Channel int `json:"channel"`
	// Root is the platform device directory holding the hwmon tree.
	Root string `json:"root"`
}

// Platform is the full hardware description consumed by the sfp driver,
// the retimer bring-up and the installer.
type Platform struct {
	// FPGARoot holds the module_present_/module_reset_/module_lp_mode_/
	// module_tx_disable_ attribute files.
	FPGARoot string `json:"fpgaRoot"`
	// LEDRoot holds the front-panel LED attribute files.
	LEDRoot string `json:"ledRoot"`
	// FanRoot holds the fan hwmon tree.
	FanRoot string `json:"fanRoot"`
	// I2CRoot is the i2c device directory with per-bus new_device/
	// delete_device files.
	I2CRoot string `json:"i2cRoot"`

	// PortStart and PortEnd bound the supported 1-based port range.
	PortStart int `json:"portStart"`
	PortEnd   int `json:"portEnd"`
	// OSFPEnd is the last OSFP port; ports above it are SFP cages.
	OSFPEnd int `json:"osfpEnd"`
	// PortBus maps a port index to the i2c bus of its EEPROM.
	PortBus map[int]int `json:"portBus"`
	// EEPROMAddr is the i2c address of the module EEPROM, as it appears
	// in the sysfs device directory name (e.g. "50" for 0x50).
	EEPROMAddr string `json:"eepromAddr"`

	// RetimerBus and RetimerAddr locate the DS250DF810 retimer.
	RetimerBus  int    `json:"retimerBus"`
	RetimerAddr string `json:"retimerAddr"`
	// RetimerMuxAddr is the i2c mux gating SMBus access to the retimer.
	RetimerMuxAddr string `json:"retimerMuxAddr"`

	// KernelModules are loaded in order by install and unloaded in
	// reverse by clean.
	KernelModules []string `json:"kernelModules"`
	// IPMIModules are the IPMI stack modules brought up before the
	// platform drivers.
	IPMIModules []string `json:"ipmiModules"`

	// BoardEEPROMBus/Addr/Type describe the mainboard ID EEPROM node.
	BoardEEPROMBus  int    `json:"boardEepromBus"`
	BoardEEPROMAddr string `json:"boardEepromAddr"`
	BoardEEPROMType string `json:"boardEepromType"`

	// MuxDriver/MuxAddr/MuxBus describe the top-level i2c mux device node.
	MuxDriver string `json:"muxDriver"`
	MuxAddr   string `json:"muxAddr"`
	MuxBus    int    `json:"muxBus"`

	// FanPWM is the default fan duty cycle applied after install.
	FanPWM int `json:"fanPWM"`

	// ThresholdFiles are scratch files created world-writable at install
	// time so unprivileged platform daemons can share threshold state.
	ThresholdFiles []string `json:"thresholdFiles"`

	// Sensors is the thermal sensor table for the threshold subcommand.
	Sensors []Sensor `json:"sensors"`

	// PortNames optionally maps port indices to logical interface names
	// for the status output.
	PortNames map[int]string `json:"portNames"`
}

// Default returns the AS9817-32O platform description.
func Default() *Platform {
	portBus := make(map[int]int, 34)
	for port := 1; port <= 34; port++ {
		portBus[port] = port + 1
	}

	thermalRoot := "/sys/devices/platform/as9817_32_thermal"
	sensors := make([]Sensor, 0, 8)
	for ch := 1; ch <= 8; ch++ {
		sensors = append(sensors, Sensor{
			Name:    fmt.Sprintf("Temp sensor %d", ch),
			Channel: ch,
			Root:    thermalRoot,
		})
	}

	return &Platform{
		FPGARoot: "/sys/devices/platform/as9817_32_fpga",
		LEDRoot:  "/sys/devices/platform/as9817_32_led",
		FanRoot:  "/sys/devices/platform/as9817_32_fan",
		I2CRoot:  "/sys/bus/i2c/devices",

		PortStart:  1,
		PortEnd:    34,
		OSFPEnd:    32,
		PortBus:    portBus,
		EEPROMAddr: "50",

		RetimerBus:     42,
		RetimerAddr:    "0x1b",
		RetimerMuxAddr: "0x72",

		KernelModules: []string{
			"i2c_dev",
			"i2c_i801",
			"i2c_ismt",
			"optoe",
			"at24",
			"i2c-ocores",
			"accton_as9817_32_fpga",
			"accton_as9817_32_fan",
			"accton_as9817_32_psu",
			"accton_as9817_32_thermal",
			"accton_as9817_32_sys",
			"accton_as9817_32_leds",
			"accton_as9817_32_mux",
		},
		IPMIModules: []string{
			"ipmi_msghandler",
			"ipmi_ssif",
			"ipmi_si",
			"ipmi_devintf",
		},

		BoardEEPROMBus:  36,
		BoardEEPROMAddr: "0x56",
		BoardEEPROMType: "24c02",

		MuxDriver: "as9817_32_mux",
		MuxAddr:   "0x78",
		MuxBus:    0,

		FanPWM: 67,

		ThresholdFiles: []string{
			"/tmp/device_threshold.json",
			"/tmp/device_threshold.json.lock",
		},

		Sensors: sensors,
	}
}

// Load returns the default platform description with overrides applied
// from a YAML file. An empty path yields the plain defaults.
func Load(path string) (*Platform, error) {
	p := Default()
	if path == "" {
		return p, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read platform config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, p); err != nil {
		return nil, fmt.Errorf("cannot parse platform config %s: %w", path, err)
	}
	return p, nil
}

// ValidPort reports whether a port index is inside the supported range.
func (p *Platform) ValidPort(port int) bool {
	return port >= p.PortStart && port <= p.PortEnd
}

// IsOSFP reports whether a port index belongs to an OSFP cage.
// SFP cages above OSFPEnd lack reset and lpmode pins.
func (p *Platform) IsOSFP(port int) bool {
	return port >= p.PortStart && port <= p.OSFPEnd
}
