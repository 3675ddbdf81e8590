package provider

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// parsersByFormat maps the format names accepted in a providers file to
// their parse functions.
var parsersByFormat = map[string]ParseFunc{
	"ip-api":   ParseIPAPI,
	"ipwho":    ParseIPWho,
	"ipapi-co": ParseIPAPICo,
	"plain":    ParsePlainIP,
	"keyvalue": ParseKeyValue,
}

type fileEntry struct {
	Name     string `yaml:"name"`
	Endpoint string `yaml:"endpoint"`
	Format   string `yaml:"format"`
}

type providersFile struct {
	Geo []fileEntry `yaml:"geo"`
}

// LoadCascadeFile reads a YAML providers file and returns the geo cascade
// it defines, in file order. Each entry needs a name, an endpoint, and a
// known format. An empty geo list is an error: a cascade with no providers
// can never resolve.
func LoadCascadeFile(path string) ([]Descriptor, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read providers file: %w", err)
	}

	var file providersFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse providers file: %w", err)
	}
	if len(file.Geo) == 0 {
		return nil, fmt.Errorf("providers file %s defines no geo providers", path)
	}

	descriptors := make([]Descriptor, 0, len(file.Geo))
	for i, entry := range file.Geo {
		if entry.Name == "" || entry.Endpoint == "" {
			return nil, fmt.Errorf("provider %d: name and endpoint are required", i)
		}
		parse, ok := parsersByFormat[entry.Format]
		if !ok {
			return nil, fmt.Errorf("provider %q: unknown format %q", entry.Name, entry.Format)
		}
		descriptors = append(descriptors, Descriptor{
			Name:     entry.Name,
			Endpoint: entry.Endpoint,
			Parse:    parse,
		})
	}
	return descriptors, nil
}
