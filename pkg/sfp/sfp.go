// Package sfp implements the transceiver status driver for the
// AS9817-32O front panel: 32 OSFP cages plus 2 SFP28 cages. Presence,
// reset, low-power-mode and tx-disable controls are single-bit sysfs
// attributes exposed by the platform FPGA driver; module identification
// and diagnostics are read from the EEPROM node created by optoe.
package sfp

import (
	"encoding/binary"
	"fmt"
	"os"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/edge-core/as9817-util/pkg/config"
	"github.com/edge-core/as9817-util/pkg/sysfs"
	"github.com/edge-core/as9817-util/pkg/types"
)

// Status strings reported through the platform API. The vendor spellings
// are part of the existing contract and are kept verbatim.
const (
	StatusOK        = "OK"
	StatusUnplugged = "Unplugged"

	UpdateDone     = "Done"
	EepromNotReady = "eeprom not ready"
	UnknownTypeID  = "unknow sfp ID"
)

// Error conditions are collected as a bitmask and rendered in a fixed
// order, joined by '|'.
const (
	statusBitInserted = 1 << 0
	errorBitBadEeprom = 1 << 1
	errorBitHighTemp  = 1 << 2
)

const (
	badEepromDesc = "Bad EEPROM checksum"
	highTempDesc  = "High temperature"
)

// errorDescOrder fixes the rendering order of error descriptions.
var errorDescOrder = []struct {
	bit  int
	desc string
}{
	{errorBitBadEeprom, badEepromDesc},
	{errorBitHighTemp, highTempDesc},
}

// Identifier byte (EEPROM offset 0) code lists, per SFF-8024 table 4-1.
var (
	sfpTypeCodes    = []byte{0x03, 0x0b}
	qsfpTypeCodes   = []byte{0x0c, 0x0d, 0x11, 0xe1}
	qsfpDDTypeCodes = []byte{0x18, 0x1e}
	osfpTypeCodes   = []byte{0x19}
)

// eepromLayout locates diagnostic fields in the flat EEPROM file
// exposed by optoe. Offsets follow the optoe linear page mapping.
type eepromLayout struct {
	tempOffset      int // 2-byte signed temperature, 1/256 degC
	tempAlarmOffset int // 2-byte signed high-alarm threshold
	checksumStart   int // first byte covered by the checksum
	checksumEnd     int // last byte covered by the checksum
	checksumByte    int // location of the stored checksum
}

var layouts = map[types.ModuleType]eepromLayout{
	// CMIS rev 4+: lower page temperature, page 02h thresholds,
	// upper page 00h checksum over bytes 128..221.
	types.ModuleTypeOSFP:   {14, 384, 128, 221, 222},
	types.ModuleTypeQSFPDD: {14, 384, 128, 221, 222},
	// SFF-8636: thresholds on page 03h, checksum byte 191.
	types.ModuleTypeQSFP: {22, 512, 128, 190, 191},
	// SFF-8472: diagnostics on the A2h page (optoe2 offset 256+).
	types.ModuleTypeSFP: {352, 256, 0, 62, 63},
}

// CMIS tx-disable control: page 10h byte 130 in optoe flat addressing.
const cmisTxDisableOffset = 128*17 + (130 - 128)

// resetDelay is the settle time between reset pin toggles.
// Shortened in tests.
var resetDelay = 200 * time.Millisecond

// Sfp drives one front-panel transceiver cage.
type Sfp struct {
	platform *config.Platform
	port     int
	name     string

	eepromPath string
	moduleType types.ModuleType
}

// New returns a driver for the given 1-based port index.
// Indices outside the supported range are rejected without touching
// any hardware.
func New(p *config.Platform, port int, name string) (*Sfp, error) {
	if !p.ValidPort(port) {
		return nil, fmt.Errorf("port %d outside supported range %d..%d", port, p.PortStart, p.PortEnd)
	}
	bus, ok := p.PortBus[port]
	if !ok {
		return nil, fmt.Errorf("port %d has no i2c bus mapping", port)
	}

	s := &Sfp{
		platform:   p,
		port:       port,
		name:       name,
		eepromPath: fmt.Sprintf("%s/%d-00%s/eeprom", p.I2CRoot, bus, p.EEPROMAddr),
		moduleType: defaultType(p, port),
	}
	s.UpdateType()
	return s, nil
}

// defaultType is the form factor implied by the cage before the module
// EEPROM has been read.
func defaultType(p *config.Platform, port int) types.ModuleType {
	if p.IsOSFP(port) {
		return types.ModuleTypeOSFP
	}
	return types.ModuleTypeSFP
}

// Index returns the 1-based port number.
func (s *Sfp) Index() int { return s.port }

// Name returns the configured interface name.
func (s *Sfp) Name() string { return s.name }

// Type returns the most recently detected module type.
func (s *Sfp) Type() types.ModuleType { return s.moduleType }

// EepromPath returns the sysfs EEPROM file for this port.
func (s *Sfp) EepromPath() string { return s.eepromPath }

func (s *Sfp) controlPath(control string) string {
	return fmt.Sprintf("%s/%s_%d", s.platform.FPGARoot, control, s.port)
}

// Presence reports whether a module is seated. Read failures report
// absent.
func (s *Sfp) Presence() bool {
	val, err := sysfs.ReadBool(s.controlPath("module_present"))
	if err != nil {
		log.Debugf("port %d presence read failed: %v", s.port, err)
		return false
	}
	return val
}

// ResetStatus reports whether the reset pin is currently asserted.
func (s *Sfp) ResetStatus() bool {
	val, err := sysfs.ReadBool(s.controlPath("module_reset"))
	if err != nil {
		return false
	}
	return val
}

// Reset pulses the module reset pin. The SFP cages have no reset pin,
// so ports above the OSFP range report failure without touching
// hardware.
func (s *Sfp) Reset() bool {
	if !s.Presence() {
		return false
	}
	if !s.platform.IsOSFP(s.port) {
		return false
	}

	path := s.controlPath("module_reset")
	if err := sysfs.WriteBool(path, true); err != nil {
		log.Debugf("port %d reset assert failed: %v", s.port, err)
		return false
	}
	time.Sleep(resetDelay)
	if err := sysfs.WriteBool(path, false); err != nil {
		log.Debugf("port %d reset release failed: %v", s.port, err)
		return false
	}
	time.Sleep(resetDelay)
	return true
}

// LPMode reports whether low-power mode is enabled. Only OSFP cages
// carry the lpmode pin.
func (s *Sfp) LPMode() bool {
	if !s.platform.IsOSFP(s.port) {
		return false
	}
	val, err := sysfs.ReadBool(s.controlPath("module_lp_mode"))
	if err != nil {
		return false
	}
	return val
}

// SetLPMode enables or disables low-power mode. Unsupported ports
// report failure without touching hardware.
func (s *Sfp) SetLPMode(enable bool) bool {
	if !s.Presence() {
		return false
	}
	if !s.platform.IsOSFP(s.port) {
		return false
	}
	if err := sysfs.WriteBool(s.controlPath("module_lp_mode"), enable); err != nil {
		log.Debugf("port %d lpmode write failed: %v", s.port, err)
		return false
	}
	return true
}

// SetTxDisable disables or enables the transmitter on all lanes.
// SFP cages use the FPGA tx-disable pin; CMIS modules are programmed
// through the per-lane disable register in their management pages.
func (s *Sfp) SetTxDisable(disable bool) bool {
	if !s.Presence() {
		return false
	}

	if !s.platform.IsOSFP(s.port) {
		if err := sysfs.WriteBool(s.controlPath("module_tx_disable"), disable); err != nil {
			log.Debugf("port %d tx_disable write failed: %v", s.port, err)
			return false
		}
		return true
	}

	switch s.moduleType {
	case types.ModuleTypeOSFP, types.ModuleTypeQSFPDD:
		var mask byte
		if disable {
			mask = 0xff
		}
		if err := s.writeEeprom(cmisTxDisableOffset, []byte{mask}); err != nil {
			log.Debugf("port %d CMIS tx_disable write failed: %v", s.port, err)
			return false
		}
		return true
	default:
		return false
	}
}

// readEeprom reads n bytes at the given flat offset from the module
// EEPROM.
func (s *Sfp) readEeprom(offset, n int) ([]byte, error) {
	f, err := os.Open(s.eepromPath)
	if err != nil {
		return nil, fmt.Errorf("cannot open eeprom for port %d: %w", s.port, err)
	}
	defer f.Close()

	buf := make([]byte, n)
	if _, err := f.ReadAt(buf, int64(offset)); err != nil {
		return nil, fmt.Errorf("cannot read eeprom for port %d at offset %d: %w", s.port, offset, err)
	}
	return buf, nil
}

func (s *Sfp) writeEeprom(offset int, data []byte) error {
	f, err := os.OpenFile(s.eepromPath, os.O_WRONLY, 0)
	if err != nil {
		return fmt.Errorf("cannot open eeprom for port %d: %w", s.port, err)
	}
	defer f.Close()

	if _, err := f.WriteAt(data, int64(offset)); err != nil {
		return fmt.Errorf("cannot write eeprom for port %d at offset %d: %w", s.port, offset, err)
	}
	return nil
}

// classify maps the EEPROM identifier byte to a module type.
// It is a pure function of the byte value.
func classify(id byte) types.ModuleType {
	for _, c := range sfpTypeCodes {
		if id == c {
			return types.ModuleTypeSFP
		}
	}
	for _, c := range qsfpTypeCodes {
		if id == c {
			return types.ModuleTypeQSFP
		}
	}
	for _, c := range qsfpDDTypeCodes {
		if id == c {
			return types.ModuleTypeQSFPDD
		}
	}
	for _, c := range osfpTypeCodes {
		if id == c {
			return types.ModuleTypeOSFP
		}
	}
	return types.ModuleTypeUnknown
}

// UpdateType re-detects the module type from EEPROM byte 0 and returns
// a status string: UpdateDone on success, EepromNotReady when the module
// is absent or the EEPROM cannot be read, UnknownTypeID for an
// unrecognized identifier.
func (s *Sfp) UpdateType() string {
	if !s.Presence() {
		return EepromNotReady
	}

	raw, err := s.readEeprom(0, 1)
	if err != nil {
		return EepromNotReady
	}

	mt := classify(raw[0])
	if mt == types.ModuleTypeUnknown {
		return UnknownTypeID
	}
	s.moduleType = mt
	return UpdateDone
}

// Temperature returns the module temperature in degrees Celsius.
func (s *Sfp) Temperature() (float64, error) {
	layout, ok := layouts[s.moduleType]
	if !ok {
		return 0, fmt.Errorf("no diagnostics layout for module type %s", s.moduleType)
	}
	raw, err := s.readEeprom(layout.tempOffset, 2)
	if err != nil {
		return 0, err
	}
	// Signed 1/256 degC, big-endian.
	return float64(int16(binary.BigEndian.Uint16(raw))) / 256.0, nil
}

// tempHighAlarm returns the high-alarm temperature threshold from the
// module's threshold page.
func (s *Sfp) tempHighAlarm() (float64, error) {
	layout, ok := layouts[s.moduleType]
	if !ok {
		return 0, fmt.Errorf("no diagnostics layout for module type %s", s.moduleType)
	}
	raw, err := s.readEeprom(layout.tempAlarmOffset, 2)
	if err != nil {
		return 0, err
	}
	return float64(int16(binary.BigEndian.Uint16(raw))) / 256.0, nil
}

// ValidateTemperature reports whether the module temperature is below
// its high-alarm threshold. An unreadable temperature fails validation;
// an unreadable threshold is treated as no limit.
func (s *Sfp) ValidateTemperature() bool {
	temp, err := s.Temperature()
	if err != nil {
		return false
	}
	alarm, err := s.tempHighAlarm()
	if err != nil {
		return false
	}
	if alarm == 0 {
		// Threshold page not programmed; nothing to compare against.
		return true
	}
	return alarm > temp
}

// ChecksumError validates the EEPROM base checksum for the detected
// form factor. It returns an empty string when the checksum is correct
// and a description otherwise.
func (s *Sfp) ChecksumError() string {
	layout, ok := layouts[s.moduleType]
	if !ok {
		return badEepromDesc
	}

	n := layout.checksumEnd - layout.checksumStart + 1
	raw, err := s.readEeprom(layout.checksumStart, n)
	if err != nil {
		return badEepromDesc
	}
	stored, err := s.readEeprom(layout.checksumByte, 1)
	if err != nil {
		return badEepromDesc
	}

	var sum byte
	for _, b := range raw {
		sum += b
	}
	if sum != stored[0] {
		return badEepromDesc
	}
	return ""
}

// ErrorDescription aggregates the module's error conditions.
// An absent module reports StatusUnplugged; a present, healthy module
// reports StatusOK; otherwise the individual messages are joined by '|'
// in a fixed order regardless of detection order.
func (s *Sfp) ErrorDescription() string {
	if !s.Presence() {
		return StatusUnplugged
	}

	errStat := statusBitInserted
	if s.ChecksumError() != "" {
		errStat |= errorBitBadEeprom
	}
	if !s.ValidateTemperature() {
		errStat |= errorBitHighTemp
	}

	if errStat == statusBitInserted {
		return StatusOK
	}

	desc := ""
	for _, e := range errorDescOrder {
		if errStat&e.bit == 0 {
			continue
		}
		if desc != "" {
			desc += "|"
		}
		desc += e.desc
	}
	return desc
}

// Status collects the externally visible state of this port.
func (s *Sfp) Status() types.PortStatus {
	st := types.PortStatus{
		Index:   s.port,
		Name:    s.name,
		Present: s.Presence(),
	}
	if !st.Present {
		st.Error = StatusUnplugged
		return st
	}
	s.UpdateType()
	st.Type = s.moduleType
	st.Error = s.ErrorDescription()
	return st
}
