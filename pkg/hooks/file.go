package hooks

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v2"
)

type tableFile struct {
	Hooks []Descriptor `yaml:"hooks"`
}

// Unmarshal parses a YAML hook table.
func Unmarshal(data []byte) ([]Descriptor, error) {
	var f tableFile
	if err := yaml.UnmarshalStrict(data, &f); err != nil {
		return nil, err
	}
	if len(f.Hooks) == 0 {
		return nil, fmt.Errorf("no hooks defined")
	}
	return f.Hooks, nil
}

// LoadFile reads a YAML hook table from path.
func LoadFile(path string) ([]Descriptor, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	descs, err := Unmarshal(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %v", path, err)
	}
	return descs, nil
}

// Marshal renders descs in the format read by Unmarshal.
func Marshal(descs []Descriptor) ([]byte, error) {
	return yaml.Marshal(tableFile{Hooks: descs})
}
