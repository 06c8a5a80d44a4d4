package dedup

import (
	"os"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"
)

// DefaultAttributes are the differentiating attributes the pairwise
// classifier is told to check explicitly.
var DefaultAttributes = []string{
	"flavor or variety",
	"size or volume",
	"pack quantity",
}

type attributesFile struct {
	Attributes []string `yaml:"attributes"`
}

// LoadAttributes reads a YAML attribute checklist, falling back to
// DefaultAttributes when the path is empty or the file lists none.
func LoadAttributes(path string) ([]string, error) {
	if path == "" {
		return DefaultAttributes, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "dedup: read attributes file %s", path)
	}

	var f attributesFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, eris.Wrapf(err, "dedup: parse attributes file %s", path)
	}
	if len(f.Attributes) == 0 {
		return DefaultAttributes, nil
	}
	return f.Attributes, nil
}
