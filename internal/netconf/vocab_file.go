package netconf

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// vocabularyFile is the on-disk shape of a vocabulary extension:
//
//	modules:
//	  urn:vendor:ru:thermal:1.0: vendor-ru-thermal
//	carriers:
//	  rx-beam-carriers: RX Beam Carrier
type vocabularyFile struct {
	Modules  map[string]string `yaml:"modules"`
	Carriers map[string]string `yaml:"carriers"`
}

// LoadVocabulary reads a YAML extension file and returns the default
// vocabulary extended with its entries. An empty path returns the default.
func LoadVocabulary(path string) (*Vocabulary, error) {
	base := DefaultVocabulary()
	if path == "" {
		return base, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read vocabulary: %w", err)
	}
	var vf vocabularyFile
	if err := yaml.Unmarshal(data, &vf); err != nil {
		return nil, fmt.Errorf("parse vocabulary %s: %w", path, err)
	}
	for ns, name := range vf.Modules {
		if ns == "" || name == "" {
			return nil, fmt.Errorf("parse vocabulary %s: empty module entry %q: %q", path, ns, name)
		}
	}
	for el := range vf.Carriers {
		if el == "" {
			return nil, fmt.Errorf("parse vocabulary %s: empty carrier element name", path)
		}
	}
	return base.Extend(vf.Modules, vf.Carriers), nil
}
