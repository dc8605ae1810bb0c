package envcfg

import (
	"fmt"
	"os"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// Load reads and validates an environment spec file.
func Load(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read environment spec: %w", err)
	}
	return Parse(data)
}

// Parse parses and validates an environment spec.
func Parse(data []byte) (*File, error) {
	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to parse environment spec YAML: %w", err)
	}
	if err := f.Validate(); err != nil {
		return nil, err
	}
	return &f, nil
}

// Validate checks the structural constraints of the spec. Beyond the
// field-level tags it enforces the storage layout rules: every data center
// with declared domains has exactly one master.
func (f *File) Validate() error {
	if err := validator.New().Struct(f); err != nil {
		return fmt.Errorf("invalid environment spec: %w", err)
	}

	masters := make(map[string]int)
	domains := make(map[string]int)
	for _, sd := range f.StorageDomains {
		domains[sd.DataCenter]++
		if sd.Master {
			masters[sd.DataCenter]++
		}
	}
	for dc, n := range domains {
		switch masters[dc] {
		case 1:
		case 0:
			return fmt.Errorf("data center %q declares %d storage domains but no master", dc, n)
		default:
			return fmt.Errorf("data center %q declares %d master storage domains, want exactly one", dc, masters[dc])
		}
	}

	seen := make(map[string]bool, len(f.Hosts)+1)
	seen[f.Engine.Name] = true
	for _, h := range f.Hosts {
		if seen[h.Name] {
			return fmt.Errorf("duplicate machine name %q", h.Name)
		}
		seen[h.Name] = true
	}
	return nil
}
