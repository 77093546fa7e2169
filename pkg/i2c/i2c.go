// Package i2c wraps register access through the i2c-tools command-line
// utilities (i2cset/i2cget). Retimer and mux registers on this board are
// only reachable that way; the kernel drivers own every other i2c device.
package i2c

import (
	"fmt"
	"os/exec"
	"strconv"
	"strings"

	log "github.com/sirupsen/logrus"
)

// Default tool locations on SONiC images.
var (
	i2csetPath = "/usr/sbin/i2cset"
	i2cgetPath = "/usr/sbin/i2cget"
)

// Runner executes an external command and returns its combined output.
// Tests substitute a fake to record issued commands.
type Runner func(name string, args ...string) (string, error)

// ExecRunner runs commands on the host.
func ExecRunner(name string, args ...string) (string, error) {
	out, err := exec.Command(name, args...).CombinedOutput()
	return strings.TrimSpace(string(out)), err
}

// Tool issues forced register reads/writes against one i2c bus.
type Tool struct {
	bus string
	run Runner
}

// New returns a Tool for the given bus. A nil runner uses ExecRunner.
func New(bus int, run Runner) *Tool {
	if run == nil {
		run = ExecRunner
	}
	return &Tool{bus: strconv.Itoa(bus), run: run}
}

// Set writes one register of a device. addr is the device address in
// "0xNN" form, as listed in the platform description.
func (t *Tool) Set(addr string, reg, value uint8) error {
	regArg := fmt.Sprintf("0x%02x", reg)
	valArg := fmt.Sprintf("0x%02x", value)

	log.Debugf("i2cset bus=%s addr=%s reg=%s val=%s", t.bus, addr, regArg, valArg)
	out, err := t.run(i2csetPath, "-f", "-y", t.bus, addr, regArg, valArg)
	if err != nil {
		return fmt.Errorf("i2cset %s reg %s value %s failed: %v (%s)", addr, regArg, valArg, err, out)
	}
	return nil
}

// Get reads one register of a device.
func (t *Tool) Get(addr string, reg uint8) (uint8, error) {
	regArg := fmt.Sprintf("0x%02x", reg)

	out, err := t.run(i2cgetPath, "-f", "-y", t.bus, addr, regArg)
	if err != nil {
		return 0, fmt.Errorf("i2cget %s reg %s failed: %v (%s)", addr, regArg, err, out)
	}
	val, err := strconv.ParseUint(strings.TrimPrefix(strings.TrimSpace(out), "0x"), 16, 8)
	if err != nil {
		return 0, fmt.Errorf("i2cget %s reg %s returned %q: %w", addr, regArg, out, err)
	}
	return uint8(val), nil
}

// Probe checks that a device answers on the bus.
func (t *Tool) Probe(addr string) error {
	out, err := t.run(i2cgetPath, "-f", "-y", t.bus, addr)
	if err != nil {
		return fmt.Errorf("no device at bus %s addr %s: %v (%s)", t.bus, addr, err, out)
	}
	return nil
}
