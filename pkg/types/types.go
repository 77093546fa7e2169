// Package types defines shared data types for the as9817-util tool.
package types

// ModuleType classifies a pluggable transceiver by the identifier byte
// at offset 0 of its EEPROM.
type ModuleType string

const (
	// ModuleTypeSFP covers SFP/SFP+/SFP28 and DWDM-SFP modules.
	ModuleTypeSFP ModuleType = "SFP"
	// ModuleTypeQSFP covers QSFP/QSFP+/QSFP28 modules.
	ModuleTypeQSFP ModuleType = "QSFP"
	// ModuleTypeQSFPDD covers QSFP-DD and CMIS-managed QSFP+ modules.
	ModuleTypeQSFPDD ModuleType = "QSFP_DD"
	// ModuleTypeOSFP covers OSFP modules.
	ModuleTypeOSFP ModuleType = "OSFP"
	// ModuleTypeUnknown is reported when the identifier byte matches
	// none of the known code lists.
	ModuleTypeUnknown ModuleType = "UNKNOWN"
)

// Options carries the process-wide behavior switches of the CLI.
// They are threaded through constructors explicitly instead of living
// in package globals.
type Options struct {
	// Debug enables verbose command/sysfs tracing.
	Debug bool
	// Force lets install/clean sequences continue past a failed step.
	Force bool
}

// RegWrite is one (register, value) pair of a retimer configuration
// sequence. Sequences are written in order and abort on the first
// failed write.
type RegWrite struct {
	Reg   uint8
	Value uint8
}

// PortStatus is the externally visible state of one front-panel port,
// as rendered by `sfp status`.
type PortStatus struct {
	// Index is the 1-based front-panel port number.
	Index int
	// Name is the logical interface name, if one is configured.
	Name string
	// Present reports whether a module is seated in the cage.
	Present bool
	// Type is the detected module type; empty when no module is present.
	Type ModuleType
	// Error is the aggregated error description (e.g. "OK", "Unplugged",
	// or messages joined by '|').
	Error string
	// LinkState is the netlink operational state of the associated
	// interface; empty when the interface cannot be resolved.
	LinkState string
}
