package safety

import (
	_ "embed"
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/ppiankov/medfuse/internal/model"
	"github.com/ppiankov/medfuse/internal/util"
)

//go:embed reference.yaml
var builtinReference []byte

// Interaction is a known drug-drug interaction
type Interaction struct {
	Drugs       []string       `yaml:"drugs"`
	Severity    model.Severity `yaml:"severity"`
	Description string         `yaml:"description"`
}

// Contraindication is a drug that should not be used with a condition
type Contraindication struct {
	Drug        string         `yaml:"drug"`
	Condition   string         `yaml:"condition"`
	Severity    model.Severity `yaml:"severity"`
	Description string         `yaml:"description"`
}

// RedFlag is an urgent-symptom phrase
type RedFlag struct {
	Phrase   string `yaml:"phrase"`
	Category string `yaml:"category"`
}

// Reference is the static rule data the gate evaluates against
type Reference struct {
	Interactions      []Interaction      `yaml:"interactions"`
	Contraindications []Contraindication `yaml:"contraindications"`
	RedFlags          []RedFlag          `yaml:"red_flags"`
	ImmediateCare     []string           `yaml:"immediate_care"`
	// Aliases maps brand or alternate names to the canonical name used in
	// the tables
	Aliases map[string]string `yaml:"aliases"`
}

// LoadReference reads reference data from a YAML file. An empty path
// returns the built-in table.
func LoadReference(path string) (*Reference, error) {
	if path == "" {
		return DefaultReference()
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read safety reference: %w", err)
	}
	return ParseReference(data)
}

// DefaultReference returns the built-in reference data
func DefaultReference() (*Reference, error) {
	return ParseReference(builtinReference)
}

// ParseReference decodes and validates YAML reference data
func ParseReference(data []byte) (*Reference, error) {
	var ref Reference
	if err := yaml.Unmarshal(data, &ref); err != nil {
		return nil, fmt.Errorf("failed to parse safety reference: %w", err)
	}
	if err := ref.Validate(); err != nil {
		return nil, err
	}
	return &ref, nil
}

// Validate rejects tables the gate could not evaluate faithfully
func (r *Reference) Validate() error {
	var errs []error

	if len(r.Interactions) == 0 {
		errs = append(errs, errors.New("no drug interactions defined"))
	}
	if len(r.RedFlags) == 0 {
		errs = append(errs, errors.New("no red-flag phrases defined"))
	}

	for i, in := range r.Interactions {
		if len(in.Drugs) != 2 || in.Drugs[0] == "" || in.Drugs[1] == "" {
			errs = append(errs, fmt.Errorf("interaction %d: expected exactly two drugs, got %v", i, in.Drugs))
		}
		if in.Severity.Rank() == 0 {
			errs = append(errs, fmt.Errorf("interaction %d: invalid severity %q", i, in.Severity))
		}
	}
	for i, c := range r.Contraindications {
		if c.Drug == "" || c.Condition == "" {
			errs = append(errs, fmt.Errorf("contraindication %d: drug and condition are required", i))
		}
		if c.Severity.Rank() == 0 {
			errs = append(errs, fmt.Errorf("contraindication %d: invalid severity %q", i, c.Severity))
		}
	}
	for i, f := range r.RedFlags {
		if len(util.Tokenize(f.Phrase)) == 0 {
			errs = append(errs, fmt.Errorf("red flag %d: empty phrase", i))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("invalid safety reference: %w", errors.Join(errs...))
	}
	return nil
}
