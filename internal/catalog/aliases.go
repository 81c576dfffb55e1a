package catalog

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"decklens/internal/services"
)

// Aliases maps alternative spellings to canonical card names.
type Aliases map[string]string

type aliasFile struct {
	Aliases map[string]string `yaml:"aliases"`
}

// ParseAliases decodes a YAML document of the form:
//
//	aliases:
//	  bolt: Lightning Bolt
//	  fire/ice: Fire // Ice
func ParseAliases(data []byte) (Aliases, error) {
	var file aliasFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, services.Wrap(services.ErrConfiguration, "catalog", "parse aliases", "decode alias yaml", err)
	}
	out := make(Aliases, len(file.Aliases))
	for alias, target := range file.Aliases {
		alias = strings.TrimSpace(alias)
		target = strings.TrimSpace(target)
		if alias == "" || target == "" {
			return nil, services.Wrap(services.ErrConfiguration, "catalog", "parse aliases", fmt.Sprintf("empty alias entry %q", alias), nil)
		}
		out[alias] = target
	}
	return out, nil
}

// LoadAliases reads the alias file at path. An empty path or missing file
// yields no aliases.
func LoadAliases(path string) (Aliases, error) {
	if strings.TrimSpace(path) == "" {
		return Aliases{}, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Aliases{}, nil
		}
		return nil, services.Wrap(services.ErrConfiguration, "catalog", "load aliases", fmt.Sprintf("read %s", path), err)
	}
	return ParseAliases(data)
}
