// Package install orchestrates platform bring-up and teardown: kernel
// module loading, IPMI interface initialization, i2c device node
// creation, transceiver cage defaults and retimer configuration.
//
// Steps run in a fixed order. A failed step aborts the sequence unless
// the force option is set, in which case it is logged and skipped.
package install

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/jpillora/backoff"
	log "github.com/sirupsen/logrus"

	"github.com/edge-core/as9817-util/pkg/config"
	"github.com/edge-core/as9817-util/pkg/i2c"
	"github.com/edge-core/as9817-util/pkg/retimer"
	"github.com/edge-core/as9817-util/pkg/sysfs"
	"github.com/edge-core/as9817-util/pkg/types"
)

// Swappable for tests.
var (
	sysModuleGlob = "/sys/module/*accton*"
	ipmiDevPaths  = []string{"/dev/ipmi0", "/dev/ipmidev/0"}

	ipmiAttempts    = 5
	ipmiMinInterval = 3 * time.Second
	ipmiMaxInterval = 60 * time.Second

	boardEepromSettle = 200 * time.Millisecond
)

// Installer runs the install/clean sequences for one platform.
type Installer struct {
	platform *config.Platform
	opts     types.Options
	run      i2c.Runner
	w        io.Writer
}

// New returns an Installer. A nil runner executes commands on the host;
// a nil writer sends progress output to stdout.
func New(p *config.Platform, opts types.Options, run i2c.Runner, w io.Writer) *Installer {
	if run == nil {
		run = i2c.ExecRunner
	}
	if w == nil {
		w = os.Stdout
	}
	return &Installer{platform: p, opts: opts, run: run, w: w}
}

// step wraps a sequence step result. With force set, failures are
// logged and the sequence continues.
func (ins *Installer) step(desc string, err error) error {
	if err == nil {
		return nil
	}
	if ins.opts.Force {
		log.Warnf("%s failed, continuing (force): %v", desc, err)
		return nil
	}
	return fmt.Errorf("%s: %w", desc, err)
}

func (ins *Installer) modprobe(args ...string) error {
	out, err := ins.run("modprobe", args...)
	if err != nil {
		return fmt.Errorf("modprobe %v: %v (%s)", args, err, out)
	}
	return nil
}

// DriverCheck reports whether the platform kernel drivers are loaded.
func (ins *Installer) DriverCheck() bool {
	matches, err := filepath.Glob(sysModuleGlob)
	return err == nil && len(matches) > 0
}

// DeviceExist reports whether the platform i2c devices have been
// instantiated.
func (ins *Installer) DeviceExist() bool {
	muxes, err := filepath.Glob(filepath.Join(ins.platform.I2CRoot, "*0070"))
	if err != nil || len(muxes) == 0 {
		return false
	}
	_, err = os.Stat(filepath.Join(ins.platform.I2CRoot, "i2c-2"))
	return err == nil
}

// ipmiDevReady reports whether an IPMI device node has appeared.
func ipmiDevReady() bool {
	for _, p := range ipmiDevPaths {
		if _, err := os.Stat(p); err == nil {
			return true
		}
	}
	return false
}

// InitIPMI loads the IPMI stack and waits for the device interface and
// the BMC OEM command to become available. Each failed attempt unloads
// the stack and retries after a growing interval.
func (ins *Installer) InitIPMI() error {
	b := &backoff.Backoff{
		Min:    ipmiMinInterval,
		Max:    ipmiMaxInterval,
		Factor: 2,
		Jitter: false,
	}

	ready := false
	for attempt := 0; attempt < ipmiAttempts; attempt++ {
		for _, mod := range ins.platform.IPMIModules {
			if err := ins.modprobe(mod); err != nil {
				log.Debugf("ipmi: %v", err)
			}
		}
		if ipmiDevReady() {
			ready = true
			break
		}

		// Unload in reverse and retry.
		mods := ins.platform.IPMIModules
		for i := len(mods) - 1; i >= 0; i-- {
			if err := ins.modprobe("-rq", mods[i]); err != nil {
				log.Debugf("ipmi: %v", err)
			}
		}
		time.Sleep(b.Duration())
	}
	if !ready {
		return fmt.Errorf("IPMI device interface did not appear after %d attempts", ipmiAttempts)
	}

	b.Reset()
	for attempt := 0; attempt < ipmiAttempts; attempt++ {
		if _, err := ins.run("ipmitool", "raw", "0x34", "0x95"); err == nil {
			fmt.Fprintln(ins.w, "IPMI dev interface is ready.")
			return nil
		}
		time.Sleep(b.Duration())
	}
	return fmt.Errorf("BMC OEM command did not answer after %d attempts", ipmiAttempts)
}

// DriverInstall loads the NIC, IPMI and platform kernel modules in
// order.
func (ins *Installer) DriverInstall() error {
	if err := ins.step("load ice driver", ins.modprobe("ice")); err != nil {
		return err
	}
	if err := ins.step("initialize IPMI", ins.InitIPMI()); err != nil {
		return err
	}
	if out, err := ins.run("depmod", "-ae"); err != nil {
		log.Warnf("depmod -ae failed: %v (%s)", err, out)
	}
	for _, mod := range ins.platform.KernelModules {
		if err := ins.step("load "+mod, ins.modprobe(mod)); err != nil {
			return err
		}
	}
	fmt.Fprintln(ins.w, "Done driver install")
	return nil
}

// DriverUninstall unloads the platform kernel modules in reverse order.
func (ins *Installer) DriverUninstall() error {
	mods := ins.platform.KernelModules
	for i := len(mods) - 1; i >= 0; i-- {
		if err := ins.step("unload "+mods[i], ins.modprobe("-rq", mods[i])); err != nil {
			return err
		}
	}
	return nil
}

func (ins *Installer) newDevicePath(bus int) string {
	return filepath.Join(ins.platform.I2CRoot, fmt.Sprintf("i2c-%d", bus), "new_device")
}

func (ins *Installer) deleteDevicePath(bus int) string {
	return filepath.Join(ins.platform.I2CRoot, fmt.Sprintf("i2c-%d", bus), "delete_device")
}

// optoeDriver picks the optoe flavor for a port: optoe3 (CMIS) for the
// OSFP cages, optoe2 (SFF-8472) for the SFP cages.
func (ins *Installer) optoeDriver(port int) string {
	if ins.platform.IsOSFP(port) {
		return "optoe3"
	}
	return "optoe2"
}

// installBoardEeprom probes the mainboard ID EEPROM and instantiates
// its at24 node, rolling the node back when the eeprom file does not
// appear.
func (ins *Installer) installBoardEeprom() {
	p := ins.platform
	tool := i2c.New(p.BoardEEPROMBus, ins.run)
	if err := tool.Probe(p.BoardEEPROMAddr); err != nil {
		log.Debugf("board eeprom probe: %v", err)
		return
	}

	node := fmt.Sprintf("%s %s", p.BoardEEPROMType, p.BoardEEPROMAddr)
	if err := sysfs.WriteString(ins.newDevicePath(p.BoardEEPROMBus), node); err != nil {
		log.Warnf("board eeprom node creation failed: %v", err)
		return
	}
	time.Sleep(boardEepromSettle)

	eeprom := filepath.Join(p.I2CRoot,
		fmt.Sprintf("%d-00%s", p.BoardEEPROMBus, p.BoardEEPROMAddr[2:]), "eeprom")
	if _, err := os.Stat(eeprom); err != nil {
		log.Warnf("board eeprom did not bind, removing node")
		if err := sysfs.WriteString(ins.deleteDevicePath(p.BoardEEPROMBus), p.BoardEEPROMAddr); err != nil {
			log.Warnf("board eeprom node removal failed: %v", err)
		}
	}
}

// DeviceInstall creates the i2c device nodes, releases the OSFP cages
// out of reset and low-power mode, and configures the retimer toward
// the front-panel cages at 25G.
func (ins *Installer) DeviceInstall() error {
	p := ins.platform

	// Top-level i2c mux.
	node := fmt.Sprintf("%s %s", p.MuxDriver, p.MuxAddr)
	if err := ins.step("create mux device",
		sysfs.WriteString(ins.newDevicePath(p.MuxBus), node)); err != nil {
		return err
	}

	ins.installBoardEeprom()

	// Per-port optoe EEPROM nodes.
	for port := p.PortStart; port <= p.PortEnd; port++ {
		node := fmt.Sprintf("%s 0x%s", ins.optoeDriver(port), p.EEPROMAddr)
		err := sysfs.WriteString(ins.newDevicePath(p.PortBus[port]), node)
		if err := ins.step(fmt.Sprintf("create eeprom node for port %d", port), err); err != nil {
			return err
		}
	}

	// Release RESET and clear low-power mode on all OSFP cages.
	for port := p.PortStart; port <= p.OSFPEnd; port++ {
		reset := filepath.Join(p.FPGARoot, fmt.Sprintf("module_reset_%d", port))
		if err := sysfs.WriteInt(reset, 0); err != nil {
			log.Warnf("release reset for port %d: %v", port, err)
		}
	}
	for port := p.PortStart; port <= p.OSFPEnd; port++ {
		lpmode := filepath.Join(p.FPGARoot, fmt.Sprintf("module_lp_mode_%d", port))
		if err := sysfs.WriteInt(lpmode, 0); err != nil {
			log.Warnf("clear lpmode for port %d: %v", port, err)
		}
	}

	// Route the management lanes to the front-panel SFP28 cages at 25G.
	rt := retimer.New(i2c.New(p.RetimerBus, ins.run), p.RetimerAddr, p.RetimerMuxAddr, ins.w)
	if err := ins.step("configure retimer", rt.Configure(retimer.DestFront, retimer.Speed25G)); err != nil {
		return err
	}

	// Threshold scratch files shared with the platform daemons.
	for _, f := range p.ThresholdFiles {
		if err := ins.step("create "+f, touchWorldWritable(f)); err != nil {
			return err
		}
	}

	fmt.Fprintln(ins.w, "Done device install")
	return nil
}

func touchWorldWritable(path string) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND, 0666)
	if err != nil {
		return err
	}
	f.Close()
	return os.Chmod(path, 0666)
}

// DeviceUninstall removes the device nodes created by DeviceInstall.
func (ins *Installer) DeviceUninstall() error {
	p := ins.platform

	for port := p.PortStart; port <= p.PortEnd; port++ {
		err := sysfs.WriteString(ins.deleteDevicePath(p.PortBus[port]), "0x"+p.EEPROMAddr)
		if err := ins.step(fmt.Sprintf("remove eeprom node for port %d", port), err); err != nil {
			return err
		}
	}

	if err := ins.step("remove mux device",
		sysfs.WriteString(ins.deleteDevicePath(p.MuxBus), p.MuxAddr)); err != nil {
		return err
	}

	eeprom := filepath.Join(p.I2CRoot,
		fmt.Sprintf("%d-00%s", p.BoardEEPROMBus, p.BoardEEPROMAddr[2:]), "eeprom")
	if _, err := os.Stat(eeprom); err == nil {
		err := sysfs.WriteString(ins.deleteDevicePath(p.BoardEEPROMBus), p.BoardEEPROMAddr)
		if err := ins.step("remove board eeprom node", err); err != nil {
			return err
		}
	}

	for _, f := range p.ThresholdFiles {
		if err := os.Remove(f); err != nil && !os.IsNotExist(err) {
			if err := ins.step("remove "+f, err); err != nil {
				return err
			}
		}
	}
	return nil
}

// applyFanDefaults sets every fan PWM file to the platform default.
// Best effort: a switch without the fan driver loaded just logs.
func (ins *Installer) applyFanDefaults() {
	pattern := filepath.Join(ins.platform.FanRoot, "hwmon", "*", "fan*_pwm")
	matches, err := filepath.Glob(pattern)
	if err != nil || len(matches) == 0 {
		log.Debugf("no fan pwm files under %s", ins.platform.FanRoot)
		return
	}
	for _, m := range matches {
		if err := sysfs.WriteInt(m, ins.platform.FanPWM); err != nil {
			log.Warnf("set fan pwm %s: %v", m, err)
		}
	}
}

// Install brings the platform up: drivers, devices, LED and fan
// defaults.
func (ins *Installer) Install() error {
	fmt.Fprintln(ins.w, "Checking system....")

	if !ins.DriverCheck() {
		fmt.Fprintln(ins.w, "No driver, installing....")
		if err := ins.DriverInstall(); err != nil {
			return err
		}
	} else {
		fmt.Fprintln(ins.w, "Drivers detected....")
	}

	if !ins.DeviceExist() {
		fmt.Fprintln(ins.w, "No device, installing....")
		if err := ins.DeviceInstall(); err != nil {
			return err
		}
	} else {
		fmt.Fprintln(ins.w, "Devices detected....")
	}

	// Turn off the locator LED; harmless if the LED driver is absent.
	if err := sysfs.WriteInt(filepath.Join(ins.platform.LEDRoot, "led_loc"), 0); err != nil {
		log.Debugf("locator led: %v", err)
	}

	ins.applyFanDefaults()
	return nil
}

// Uninstall tears the platform down: devices first, then drivers.
func (ins *Installer) Uninstall() error {
	fmt.Fprintln(ins.w, "Checking system....")

	if ins.DeviceExist() {
		fmt.Fprintln(ins.w, "Removing device....")
		if err := ins.DeviceUninstall(); err != nil {
			return err
		}
	} else {
		fmt.Fprintln(ins.w, "No device installed....")
	}

	if ins.DriverCheck() {
		fmt.Fprintln(ins.w, "Removing installed driver....")
		if err := ins.DriverUninstall(); err != nil {
			return err
		}
	} else {
		fmt.Fprintln(ins.w, "No driver installed....")
	}
	return nil
}
