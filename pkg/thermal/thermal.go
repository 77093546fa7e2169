// Package thermal manages the thermal sensor thresholds exposed by the
// platform hwmon drivers. Thresholds are held as millidegrees Celsius in
// tempN_max (high) and tempN_crit (high critical) attributes; applied
// overrides are also recorded in a shared JSON scratch file so platform
// daemons can pick them up.
package thermal

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/olekukonko/tablewriter"
	log "github.com/sirupsen/logrus"

	"github.com/edge-core/as9817-util/pkg/config"
	"github.com/edge-core/as9817-util/pkg/sysfs"
)

// Accepted threshold range in degrees Celsius.
const (
	ThresholdRangeLow  = 30.0
	ThresholdRangeHigh = 110.0
)

// Entry is one row of the sensor listing.
type Entry struct {
	Name     string `json:"name"`
	Current  string `json:"current"`
	High     string `json:"high"`
	HighCrit string `json:"high_critical"`
}

// Override records a threshold change applied through this tool.
type Override struct {
	High     *float64 `json:"high,omitempty"`
	HighCrit *float64 `json:"high_critical,omitempty"`
}

// Manager reads and writes sensor thresholds for one platform.
type Manager struct {
	platform     *config.Platform
	overridePath string
}

// New returns a threshold manager. Overrides are recorded in the first
// configured threshold scratch file, when one exists.
func New(p *config.Platform) *Manager {
	m := &Manager{platform: p}
	if len(p.ThresholdFiles) > 0 {
		m.overridePath = p.ThresholdFiles[0]
	}
	return m
}

// ValidateRange checks a threshold value against the accepted range.
func ValidateRange(v float64) error {
	if v < ThresholdRangeLow || v > ThresholdRangeHigh {
		return fmt.Errorf("%.1f not in range [%.1f ~ %.1f]", v, ThresholdRangeLow, ThresholdRangeHigh)
	}
	return nil
}

func (m *Manager) sensorByName(name string) (config.Sensor, error) {
	for _, s := range m.platform.Sensors {
		if s.Name == name {
			return s, nil
		}
	}
	return config.Sensor{}, fmt.Errorf("thermal %q not found", name)
}

// attrPath resolves the hwmon attribute file for a sensor channel.
func (m *Manager) attrPath(s config.Sensor, attr string) (string, error) {
	pattern := filepath.Join(s.Root, "hwmon", "*", fmt.Sprintf("temp%d_%s", s.Channel, attr))
	matches, err := filepath.Glob(pattern)
	if err != nil || len(matches) == 0 {
		return "", fmt.Errorf("no hwmon attribute for %s (%s)", s.Name, pattern)
	}
	return matches[0], nil
}

func (m *Manager) readDegrees(s config.Sensor, attr string) (float64, error) {
	path, err := m.attrPath(s, attr)
	if err != nil {
		return 0, err
	}
	milli, err := sysfs.ReadInt(path)
	if err != nil {
		return 0, err
	}
	return float64(milli) / 1000.0, nil
}

func (m *Manager) writeDegrees(s config.Sensor, attr string, v float64) error {
	path, err := m.attrPath(s, attr)
	if err != nil {
		return err
	}
	return sysfs.WriteInt(path, int(v*1000))
}

// HighThreshold returns the high threshold of a sensor in degrees.
func (m *Manager) HighThreshold(name string) (float64, error) {
	s, err := m.sensorByName(name)
	if err != nil {
		return 0, err
	}
	return m.readDegrees(s, "max")
}

// HighCritThreshold returns the high critical threshold of a sensor.
func (m *Manager) HighCritThreshold(name string) (float64, error) {
	s, err := m.sensorByName(name)
	if err != nil {
		return 0, err
	}
	return m.readDegrees(s, "crit")
}

// Apply validates and applies new thresholds for a sensor. Either value
// may be nil to leave it unchanged. The high threshold must stay below
// the high critical threshold, whether the other value comes from this
// call or from the hardware.
func (m *Manager) Apply(name string, high, highCrit *float64) error {
	s, err := m.sensorByName(name)
	if err != nil {
		return err
	}
	if high == nil && highCrit == nil {
		return fmt.Errorf("no threshold value given")
	}

	for _, v := range []*float64{high, highCrit} {
		if v != nil {
			if err := ValidateRange(*v); err != nil {
				return err
			}
		}
	}

	if high != nil && highCrit != nil && *high >= *highCrit {
		return fmt.Errorf("high threshold can not be more than or equal to high critical threshold")
	}

	if high != nil {
		if highCrit == nil {
			if crit, err := m.readDegrees(s, "crit"); err == nil && *high >= crit {
				return fmt.Errorf("high threshold can not be more than or equal to high critical threshold")
			}
		}
		if err := m.writeDegrees(s, "max", *high); err != nil {
			return fmt.Errorf("set high threshold for %s: %w", name, err)
		}
	}

	if highCrit != nil {
		if high == nil {
			if h, err := m.readDegrees(s, "max"); err == nil && *highCrit <= h {
				return fmt.Errorf("high critical threshold can not be less than or equal to high threshold")
			}
		}
		if err := m.writeDegrees(s, "crit", *highCrit); err != nil {
			return fmt.Errorf("set high critical threshold for %s: %w", name, err)
		}
	}

	m.recordOverride(name, high, highCrit)
	return nil
}

// recordOverride merges the change into the shared JSON scratch file.
// Best effort: the hwmon write already happened.
func (m *Manager) recordOverride(name string, high, highCrit *float64) {
	if m.overridePath == "" {
		return
	}

	overrides := map[string]Override{}
	if data, err := os.ReadFile(m.overridePath); err == nil && len(data) > 0 {
		if err := json.Unmarshal(data, &overrides); err != nil {
			log.Warnf("threshold file %s is corrupt, rewriting: %v", m.overridePath, err)
			overrides = map[string]Override{}
		}
	}

	ov := overrides[name]
	if high != nil {
		ov.High = high
	}
	if highCrit != nil {
		ov.HighCrit = highCrit
	}
	overrides[name] = ov

	data, err := json.MarshalIndent(overrides, "", "  ")
	if err != nil {
		log.Warnf("cannot marshal threshold overrides: %v", err)
		return
	}
	if err := os.WriteFile(m.overridePath, data, 0666); err != nil {
		log.Warnf("cannot update threshold file %s: %v", m.overridePath, err)
	}
}

// List returns every configured sensor with its current temperature and
// thresholds. Unreadable attributes render as "N/A".
func (m *Manager) List() []Entry {
	format := func(v float64, err error) string {
		if err != nil {
			return "N/A"
		}
		return fmt.Sprintf("%.1f", v)
	}

	entries := make([]Entry, 0, len(m.platform.Sensors))
	for _, s := range m.platform.Sensors {
		entries = append(entries, Entry{
			Name:     s.Name,
			Current:  format(m.readDegrees(s, "input")),
			High:     format(m.readDegrees(s, "max")),
			HighCrit: format(m.readDegrees(s, "crit")),
		})
	}
	return entries
}

// PrintTable renders the sensor listing as a table.
func PrintTable(w io.Writer, entries []Entry) {
	table := tablewriter.NewTable(w)
	table.Header("THERMAL", "CURRENT", "HIGH", "HIGH CRITICAL")
	for _, e := range entries {
		table.Append(e.Name, e.Current, e.High, e.HighCrit)
	}
	table.Render()
}

// PrintJSON renders the sensor listing as JSON.
func PrintJSON(w io.Writer, entries []Entry) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(entries)
}
