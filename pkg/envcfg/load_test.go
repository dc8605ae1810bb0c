package envcfg

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

const validSpec = `
engine:
  name: engine
  address: 192.168.200.2
  user: root
  key_path: /tmp/id_rsa
  services: [engine-service]
hosts:
  - name: host0
    address: 192.168.200.3
    user: root
    key_path: /tmp/id_rsa
    services: [vdsmd]
  - name: host1
    address: 192.168.200.4
    user: root
    key_path: /tmp/id_rsa
    services: [vdsmd]
api:
  url: https://192.168.200.2/api
  username: admin
  password: secret
  timeout: 30s
storage_domains:
  - name: master_sd
    data_center: dc1
    master: true
  - name: sd2
    data_center: dc1
timeouts:
  short_wait: 3m
  long_wait: 10m
  poll_interval: 3s
`

func TestParseValidSpec(t *testing.T) {
	f, err := Parse([]byte(validSpec))
	if err != nil {
		t.Fatalf("Parse() = %v", err)
	}
	if f.Engine.Name != "engine" {
		t.Errorf("engine name = %q", f.Engine.Name)
	}
	if len(f.Hosts) != 2 {
		t.Errorf("got %d hosts, want 2", len(f.Hosts))
	}
	if f.API.Timeout != 30*time.Second {
		t.Errorf("api timeout = %s, want 30s", f.API.Timeout)
	}
	if f.Timeouts.LongWait != 10*time.Minute {
		t.Errorf("long wait = %s, want 10m", f.Timeouts.LongWait)
	}
}

func TestLoadReadsFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "vlab.yaml")
	if err := os.WriteFile(path, []byte(validSpec), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(path); err != nil {
		t.Fatalf("Load() = %v", err)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestParseRejectsMissingMaster(t *testing.T) {
	spec := strings.Replace(validSpec, "master: true", "master: false", 1)
	_, err := Parse([]byte(spec))
	if err == nil || !strings.Contains(err.Error(), "no master") {
		t.Fatalf("expected missing-master error, got %v", err)
	}
}

func TestParseRejectsTwoMasters(t *testing.T) {
	spec := strings.Replace(validSpec,
		"  - name: sd2\n    data_center: dc1\n",
		"  - name: sd2\n    data_center: dc1\n    master: true\n", 1)
	_, err := Parse([]byte(spec))
	if err == nil || !strings.Contains(err.Error(), "master") {
		t.Fatalf("expected multiple-master error, got %v", err)
	}
}

func TestParseRejectsDuplicateMachineName(t *testing.T) {
	spec := strings.Replace(validSpec, "name: host1", "name: host0", 1)
	_, err := Parse([]byte(spec))
	if err == nil || !strings.Contains(err.Error(), "duplicate machine name") {
		t.Fatalf("expected duplicate-name error, got %v", err)
	}
}

func TestParseRejectsMissingEngine(t *testing.T) {
	spec := strings.Replace(validSpec, "  name: engine\n", "  name: \"\"\n", 1)
	if _, err := Parse([]byte(spec)); err == nil {
		t.Fatal("expected validation error for empty engine name")
	}
}

func TestParseRejectsEmptyHosts(t *testing.T) {
	start := strings.Index(validSpec, "hosts:")
	end := strings.Index(validSpec, "api:")
	spec := validSpec[:start] + validSpec[end:]
	if _, err := Parse([]byte(spec)); err == nil {
		t.Fatal("expected validation error for a spec without hosts")
	}
}

func TestParseRejectsBadYAML(t *testing.T) {
	if _, err := Parse([]byte("engine: [")); err == nil {
		t.Fatal("expected parse error")
	}
}
