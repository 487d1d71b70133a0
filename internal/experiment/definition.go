package experiment

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Test types supported by the evaluation UI.
const (
	TestTypeMUSHRA   = "mushra"
	TestTypePairwise = "pairwise"
)

// Question is one survey question, rendered as-is by the survey templates.
type Question struct {
	ID       string   `yaml:"id"`
	Title    string   `yaml:"title"`
	Type     string   `yaml:"type"`
	Required bool     `yaml:"required"`
	Options  []Option `yaml:"options"`
}

// Option is one selectable answer for a survey question.
type Option struct {
	Value string `yaml:"value"`
	Label string `yaml:"label"`
}

// Criterion is one declarative inclusion rule: the named pre-test survey
// answer must be one of the allowed values.
type Criterion struct {
	Question string   `yaml:"question"`
	AnyOf    []string `yaml:"any_of"`
}

// Test describes one listening test: its type, instructions shown to the
// participant, and the reference recordings shared by all its conditions.
type Test struct {
	ID           int64             `yaml:"id"`
	Type         string            `yaml:"type"`
	Title        string            `yaml:"title"`
	Instructions string            `yaml:"instructions"`
	References   map[string]string `yaml:"references"`
}

// Definition is the experiment description loaded at startup: the tests,
// the survey question sets, and the inclusion criteria.
type Definition struct {
	Tests             []Test      `yaml:"tests"`
	PreTestSurvey     []Question  `yaml:"pre_test_survey"`
	PostTestSurvey    []Question  `yaml:"post_test_survey"`
	InclusionCriteria []Criterion `yaml:"inclusion_criteria"`
}

// LoadDefinition reads and parses the experiment definition file.
func LoadDefinition(path string) (*Definition, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read experiment file: %w", err)
	}

	var def Definition
	if err := yaml.Unmarshal(data, &def); err != nil {
		return nil, fmt.Errorf("failed to unmarshal experiment YAML: %w", err)
	}

	if len(def.Tests) == 0 {
		return nil, fmt.Errorf("experiment file %s defines no tests", path)
	}
	return &def, nil
}

// TestByID looks up a test definition.
func (d *Definition) TestByID(id int64) (Test, bool) {
	for _, t := range d.Tests {
		if t.ID == id {
			return t, true
		}
	}
	return Test{}, false
}
