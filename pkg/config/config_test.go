package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDefault_PortBusMapping(t *testing.T) {
	p := Default()

	if p.PortStart != 1 || p.PortEnd != 34 {
		t.Fatalf("unexpected port range: %d..%d", p.PortStart, p.PortEnd)
	}
	// Every supported port maps to bus port+1.
	for port := p.PortStart; port <= p.PortEnd; port++ {
		bus, ok := p.PortBus[port]
		if !ok {
			t.Errorf("port %d missing from bus map", port)
			continue
		}
		if bus != port+1 {
			t.Errorf("port %d maps to bus %d, want %d", port, bus, port+1)
		}
	}
	if len(p.PortBus) != 34 {
		t.Errorf("expected 34 bus map entries, got %d", len(p.PortBus))
	}
}

func TestDefault_ModuleOrder(t *testing.T) {
	p := Default()

	if len(p.KernelModules) != 13 {
		t.Fatalf("expected 13 kernel modules, got %d", len(p.KernelModules))
	}
	if p.KernelModules[0] != "i2c_dev" {
		t.Errorf("first module = %q, want i2c_dev", p.KernelModules[0])
	}
	if last := p.KernelModules[len(p.KernelModules)-1]; last != "accton_as9817_32_mux" {
		t.Errorf("last module = %q, want accton_as9817_32_mux", last)
	}
	if p.IPMIModules[0] != "ipmi_msghandler" {
		t.Errorf("first IPMI module = %q, want ipmi_msghandler", p.IPMIModules[0])
	}
}

func TestValidPort(t *testing.T) {
	p := Default()

	tests := []struct {
		port int
		want bool
	}{
		{0, false},
		{1, true},
		{32, true},
		{33, true},
		{34, true},
		{35, false},
		{-1, false},
	}
	for _, tc := range tests {
		if got := p.ValidPort(tc.port); got != tc.want {
			t.Errorf("ValidPort(%d) = %v, want %v", tc.port, got, tc.want)
		}
	}
}

func TestIsOSFP(t *testing.T) {
	p := Default()

	if !p.IsOSFP(1) || !p.IsOSFP(32) {
		t.Error("ports 1 and 32 should be OSFP cages")
	}
	if p.IsOSFP(33) || p.IsOSFP(34) {
		t.Error("ports 33 and 34 are SFP cages, not OSFP")
	}
	if p.IsOSFP(0) {
		t.Error("port 0 is out of range")
	}
}

func TestLoad_EmptyPathReturnsDefaults(t *testing.T) {
	p, err := Load("")
	if err != nil {
		t.Fatalf("Load(\"\") failed: %v", err)
	}
	if p.RetimerBus != 42 || p.RetimerAddr != "0x1b" {
		t.Errorf("unexpected retimer location: bus %d addr %s", p.RetimerBus, p.RetimerAddr)
	}
}

func TestLoad_Overrides(t *testing.T) {
	path := filepath.Join(t.TempDir(), "platform.yaml")
	content := "fpgaRoot: /tmp/fake_fpga\nfanPWM: 50\nportNames:\n  \"1\": Ethernet0\n"
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}

	p, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if p.FPGARoot != "/tmp/fake_fpga" {
		t.Errorf("FPGARoot override not applied: %q", p.FPGARoot)
	}
	if p.FanPWM != 50 {
		t.Errorf("FanPWM override not applied: %d", p.FanPWM)
	}
	// Untouched fields keep their defaults.
	if p.PortEnd != 34 {
		t.Errorf("PortEnd default lost: %d", p.PortEnd)
	}
	if p.PortNames[1] != "Ethernet0" {
		t.Errorf("PortNames override not applied: %v", p.PortNames)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	if _, err := Load("/nonexistent/platform.yaml"); err == nil {
		t.Error("expected error for missing config file")
	}
}

func TestLoad_BadYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	os.WriteFile(path, []byte("fpgaRoot: [unclosed"), 0644)
	if _, err := Load(path); err == nil {
		t.Error("expected error for malformed YAML")
	}
}

func TestDefault_Sensors(t *testing.T) {
	p := Default()
	if len(p.Sensors) != 8 {
		t.Fatalf("expected 8 sensors, got %d", len(p.Sensors))
	}
	if p.Sensors[0].Name != "Temp sensor 1" || p.Sensors[0].Channel != 1 {
		t.Errorf("unexpected first sensor: %+v", p.Sensors[0])
	}
}
