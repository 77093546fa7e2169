package sfp

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/edge-core/as9817-util/pkg/config"
	"github.com/edge-core/as9817-util/pkg/types"
)

// fakePlatform builds a platform description rooted in a temp dir with
// an FPGA attribute tree and per-port EEPROM device directories.
func fakePlatform(t *testing.T) *config.Platform {
	t.Helper()
	dir := t.TempDir()

	p := config.Default()
	p.FPGARoot = filepath.Join(dir, "fpga")
	p.I2CRoot = filepath.Join(dir, "i2c")

	if err := os.MkdirAll(p.FPGARoot, 0755); err != nil {
		t.Fatal(err)
	}
	for port, bus := range p.PortBus {
		devDir := filepath.Join(p.I2CRoot, fmt.Sprintf("%d-0050", bus))
		if err := os.MkdirAll(devDir, 0755); err != nil {
			t.Fatal(err)
		}
		_ = port
	}
	return p
}

func setControl(t *testing.T, p *config.Platform, control string, port, val int) {
	t.Helper()
	path := filepath.Join(p.FPGARoot, fmt.Sprintf("%s_%d", control, port))
	if err := os.WriteFile(path, []byte(fmt.Sprintf("%d\n", val)), 0644); err != nil {
		t.Fatal(err)
	}
}

// fakeEeprom writes a CMIS-shaped EEPROM image for a port: identifier
// byte, valid base checksum, temperature and high-alarm threshold.
func fakeEeprom(t *testing.T, p *config.Platform, port int, id byte, tempC, alarmC float64) string {
	t.Helper()
	img := make([]byte, 1024)
	img[0] = id

	// Temperature: signed 1/256 degC at the CMIS lower-page offset.
	putTemp := func(offset int, deg float64) {
		v := int16(deg * 256)
		img[offset] = byte(uint16(v) >> 8)
		img[offset+1] = byte(uint16(v))
	}
	putTemp(14, tempC)
	putTemp(384, alarmC)

	// Fill the checksum-covered range with a pattern and store the sum.
	var sum byte
	for i := 128; i <= 221; i++ {
		img[i] = byte(i)
		sum += byte(i)
	}
	img[222] = sum

	path := filepath.Join(p.I2CRoot, fmt.Sprintf("%d-0050", p.PortBus[port]), "eeprom")
	if err := os.WriteFile(path, img, 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestNew_RejectsOutOfRangePorts(t *testing.T) {
	p := fakePlatform(t)

	for _, port := range []int{0, -1, 35, 100} {
		if _, err := New(p, port, ""); err == nil {
			t.Errorf("New(port=%d) should fail", port)
		}
	}
}

func TestEepromPath_MatchesBusTemplate(t *testing.T) {
	p := fakePlatform(t)

	for port := p.PortStart; port <= p.PortEnd; port++ {
		s, err := New(p, port, "")
		if err != nil {
			t.Fatalf("New(port=%d) failed: %v", port, err)
		}
		want := fmt.Sprintf("%s/%d-0050/eeprom", p.I2CRoot, port+1)
		if s.EepromPath() != want {
			t.Errorf("port %d eeprom path = %q, want %q", port, s.EepromPath(), want)
		}
	}
}

func TestClassify(t *testing.T) {
	tests := []struct {
		id   byte
		want types.ModuleType
	}{
		{0x03, types.ModuleTypeSFP},
		{0x0b, types.ModuleTypeSFP},
		{0x0c, types.ModuleTypeQSFP},
		{0x0d, types.ModuleTypeQSFP},
		{0x11, types.ModuleTypeQSFP},
		{0xe1, types.ModuleTypeQSFP},
		{0x18, types.ModuleTypeQSFPDD},
		{0x1e, types.ModuleTypeQSFPDD},
		{0x19, types.ModuleTypeOSFP},
		{0x00, types.ModuleTypeUnknown},
		{0xff, types.ModuleTypeUnknown},
		{0x42, types.ModuleTypeUnknown},
	}
	for _, tc := range tests {
		if got := classify(tc.id); got != tc.want {
			t.Errorf("classify(0x%02x) = %s, want %s", tc.id, got, tc.want)
		}
	}
}

func TestUpdateType(t *testing.T) {
	p := fakePlatform(t)

	// Absent module.
	setControl(t, p, "module_present", 1, 0)
	s, _ := New(p, 1, "")
	if got := s.UpdateType(); got != EepromNotReady {
		t.Errorf("UpdateType(absent) = %q, want %q", got, EepromNotReady)
	}

	// Present, OSFP identifier.
	setControl(t, p, "module_present", 2, 1)
	fakeEeprom(t, p, 2, 0x19, 30, 70)
	s, _ = New(p, 2, "")
	if got := s.UpdateType(); got != UpdateDone {
		t.Errorf("UpdateType(osfp) = %q, want %q", got, UpdateDone)
	}
	if s.Type() != types.ModuleTypeOSFP {
		t.Errorf("Type = %s, want OSFP", s.Type())
	}

	// Present, unrecognized identifier: status reported, type unchanged.
	setControl(t, p, "module_present", 3, 1)
	fakeEeprom(t, p, 3, 0xab, 30, 70)
	s, _ = New(p, 3, "")
	if got := s.UpdateType(); got != UnknownTypeID {
		t.Errorf("UpdateType(unknown) = %q, want %q", got, UnknownTypeID)
	}
	if s.Type() != types.ModuleTypeOSFP {
		t.Errorf("unknown identifier must not change the default type, got %s", s.Type())
	}

	// Present but missing EEPROM node.
	setControl(t, p, "module_present", 4, 1)
	s, _ = New(p, 4, "")
	if got := s.UpdateType(); got != EepromNotReady {
		t.Errorf("UpdateType(no eeprom) = %q, want %q", got, EepromNotReady)
	}
}

func TestPresence(t *testing.T) {
	p := fakePlatform(t)

	setControl(t, p, "module_present", 5, 1)
	s, _ := New(p, 5, "")
	if !s.Presence() {
		t.Error("expected present")
	}

	setControl(t, p, "module_present", 5, 0)
	if s.Presence() {
		t.Error("expected absent")
	}

	// Missing attribute reads as absent.
	s2, _ := New(p, 6, "")
	if s2.Presence() {
		t.Error("missing presence attribute should read as absent")
	}
}

func TestReset(t *testing.T) {
	orig := resetDelay
	resetDelay = time.Millisecond
	defer func() { resetDelay = orig }()

	p := fakePlatform(t)

	// Absent module: no-op failure.
	setControl(t, p, "module_present", 1, 0)
	setControl(t, p, "module_reset", 1, 0)
	s, _ := New(p, 1, "")
	if s.Reset() {
		t.Error("Reset should fail when module absent")
	}

	// SFP cage has no reset pin.
	setControl(t, p, "module_present", 33, 1)
	s33, _ := New(p, 33, "")
	if s33.Reset() {
		t.Error("Reset should fail on SFP cage port 33")
	}

	// Present OSFP port: pulse ends deasserted.
	setControl(t, p, "module_present", 2, 1)
	setControl(t, p, "module_reset", 2, 1)
	fakeEeprom(t, p, 2, 0x19, 30, 70)
	s2, _ := New(p, 2, "")
	if !s2.Reset() {
		t.Fatal("Reset should succeed on present OSFP port")
	}
	data, _ := os.ReadFile(filepath.Join(p.FPGARoot, "module_reset_2"))
	if string(data) != "0" {
		t.Errorf("reset pin should end deasserted, file holds %q", string(data))
	}
}

func TestSetLPMode(t *testing.T) {
	p := fakePlatform(t)

	// SFP cages do not support lpmode.
	setControl(t, p, "module_present", 34, 1)
	s34, _ := New(p, 34, "")
	if s34.SetLPMode(true) {
		t.Error("SetLPMode should fail on port 34")
	}

	// Absent module.
	setControl(t, p, "module_present", 7, 0)
	s7, _ := New(p, 7, "")
	if s7.SetLPMode(true) {
		t.Error("SetLPMode should fail when module absent")
	}

	// Present OSFP port.
	setControl(t, p, "module_present", 8, 1)
	fakeEeprom(t, p, 8, 0x19, 30, 70)
	s8, _ := New(p, 8, "")
	if !s8.SetLPMode(true) {
		t.Fatal("SetLPMode should succeed")
	}
	data, _ := os.ReadFile(filepath.Join(p.FPGARoot, "module_lp_mode_8"))
	if string(data) != "1" {
		t.Errorf("lpmode file holds %q, want '1'", string(data))
	}
	if !s8.LPMode() {
		t.Error("LPMode should read back enabled")
	}
	if !s8.SetLPMode(false) {
		t.Fatal("SetLPMode(false) should succeed")
	}
	if s8.LPMode() {
		t.Error("LPMode should read back disabled")
	}
}

func TestSetTxDisable(t *testing.T) {
	p := fakePlatform(t)

	// SFP cage: FPGA pin.
	setControl(t, p, "module_present", 33, 1)
	s33, _ := New(p, 33, "")
	if !s33.SetTxDisable(true) {
		t.Fatal("SetTxDisable should succeed on SFP cage")
	}
	data, _ := os.ReadFile(filepath.Join(p.FPGARoot, "module_tx_disable_33"))
	if string(data) != "1" {
		t.Errorf("tx_disable file holds %q, want '1'", string(data))
	}

	// OSFP cage: CMIS lane-disable register in the EEPROM image.
	setControl(t, p, "module_present", 1, 1)
	path := fakeEeprom(t, p, 1, 0x19, 30, 70)
	// Extend the image to cover page 10h.
	img := make([]byte, 4096)
	orig, _ := os.ReadFile(path)
	copy(img, orig)
	os.WriteFile(path, img, 0644)

	s1, _ := New(p, 1, "")
	if !s1.SetTxDisable(true) {
		t.Fatal("SetTxDisable should succeed on CMIS module")
	}
	img, _ = os.ReadFile(path)
	if img[cmisTxDisableOffset] != 0xff {
		t.Errorf("CMIS tx-disable byte = 0x%02x, want 0xff", img[cmisTxDisableOffset])
	}
	if !s1.SetTxDisable(false) {
		t.Fatal("SetTxDisable(false) should succeed")
	}
	img, _ = os.ReadFile(path)
	if img[cmisTxDisableOffset] != 0x00 {
		t.Errorf("CMIS tx-disable byte = 0x%02x, want 0x00", img[cmisTxDisableOffset])
	}

	// Absent module.
	setControl(t, p, "module_present", 9, 0)
	s9, _ := New(p, 9, "")
	if s9.SetTxDisable(true) {
		t.Error("SetTxDisable should fail when module absent")
	}
}

func TestTemperature(t *testing.T) {
	p := fakePlatform(t)

	setControl(t, p, "module_present", 10, 1)
	fakeEeprom(t, p, 10, 0x19, 35.5, 70)
	s, _ := New(p, 10, "")

	temp, err := s.Temperature()
	if err != nil {
		t.Fatalf("Temperature failed: %v", err)
	}
	if temp != 35.5 {
		t.Errorf("Temperature = %v, want 35.5", temp)
	}
}

func TestErrorDescription(t *testing.T) {
	p := fakePlatform(t)

	// Absent.
	setControl(t, p, "module_present", 1, 0)
	s1, _ := New(p, 1, "")
	if got := s1.ErrorDescription(); got != StatusUnplugged {
		t.Errorf("absent: %q, want %q", got, StatusUnplugged)
	}

	// Present and healthy.
	setControl(t, p, "module_present", 2, 1)
	fakeEeprom(t, p, 2, 0x19, 30, 70)
	s2, _ := New(p, 2, "")
	if got := s2.ErrorDescription(); got != StatusOK {
		t.Errorf("healthy: %q, want %q", got, StatusOK)
	}

	// Bad checksum only.
	setControl(t, p, "module_present", 3, 1)
	path := fakeEeprom(t, p, 3, 0x19, 30, 70)
	img, _ := os.ReadFile(path)
	img[222] ^= 0xff
	os.WriteFile(path, img, 0644)
	s3, _ := New(p, 3, "")
	if got := s3.ErrorDescription(); got != badEepromDesc {
		t.Errorf("bad checksum: %q, want %q", got, badEepromDesc)
	}

	// Bad checksum and over-temperature: fixed order, joined by '|'.
	setControl(t, p, "module_present", 4, 1)
	path = fakeEeprom(t, p, 4, 0x19, 80, 70)
	img, _ = os.ReadFile(path)
	img[222] ^= 0xff
	os.WriteFile(path, img, 0644)
	s4, _ := New(p, 4, "")
	want := badEepromDesc + "|" + highTempDesc
	if got := s4.ErrorDescription(); got != want {
		t.Errorf("both errors: %q, want %q", got, want)
	}

	// Over-temperature only.
	setControl(t, p, "module_present", 5, 1)
	fakeEeprom(t, p, 5, 0x19, 80, 70)
	s5, _ := New(p, 5, "")
	if got := s5.ErrorDescription(); got != highTempDesc {
		t.Errorf("high temp: %q, want %q", got, highTempDesc)
	}
}

func TestValidateTemperature_UnprogrammedThreshold(t *testing.T) {
	p := fakePlatform(t)

	setControl(t, p, "module_present", 6, 1)
	fakeEeprom(t, p, 6, 0x19, 60, 0) // threshold page all zero
	s, _ := New(p, 6, "")
	if !s.ValidateTemperature() {
		t.Error("unprogrammed threshold should not fail validation")
	}
}

func TestStatus(t *testing.T) {
	p := fakePlatform(t)

	setControl(t, p, "module_present", 11, 1)
	fakeEeprom(t, p, 11, 0x18, 30, 70)
	s, _ := New(p, 11, "Ethernet40")

	st := s.Status()
	if st.Index != 11 || st.Name != "Ethernet40" {
		t.Errorf("unexpected identity: %+v", st)
	}
	if !st.Present || st.Type != types.ModuleTypeQSFPDD || st.Error != StatusOK {
		t.Errorf("unexpected status: %+v", st)
	}

	setControl(t, p, "module_present", 12, 0)
	s12, _ := New(p, 12, "")
	st12 := s12.Status()
	if st12.Present || st12.Error != StatusUnplugged {
		t.Errorf("absent port status: %+v", st12)
	}
}
