package experiment

import (
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"sort"
	"strings"

	"earshot/internal/models"
	"earshot/internal/seal"
)

// ErrMultipleTests is returned when a visit's conditions span more than one
// test. Rendering several concurrent tests in one visit is not supported;
// this is a deliberate deployment constraint, not an oversight.
var ErrMultipleTests = errors.New("experiment: conditions span multiple tests, one test per visit is supported")

// AudioRef is the sealed reference behind every stimulus URL handed to the
// client. The audio endpoint checks the participant and condition against
// the requesting session before serving the file.
type AudioRef struct {
	ParticipantID int64  `json:"p_id"`
	ConditionID   int64  `json:"c_id"`
	Path          string `json:"path"`
}

// Stimulus is one named recording presented to the client, addressed by an
// obfuscated URL.
type Stimulus struct {
	Name string `json:"name"`
	URL  string `json:"url"`
}

// ConditionConfig is one condition prepared for rendering.
type ConditionConfig struct {
	ConditionID int64      `json:"conditionID"`
	References  []Stimulus `json:"references"`
	Stimuli     []Stimulus `json:"stimuli"`
}

// TestConfiguration is everything the evaluation page needs for one test.
type TestConfiguration struct {
	Test       Test
	Conditions []ConditionConfig
}

// conditionData mirrors the JSON stored on a Condition row.
type conditionData struct {
	ReferenceFiles map[string]string `json:"reference_files"`
	StimulusFiles  map[string]string `json:"stimulus_files"`
}

// BuildTestConfiguration prepares the visit's conditions for rendering,
// sealing every stimulus path into a per-participant audio URL. All
// conditions must belong to the same test.
func BuildTestConfiguration(def *Definition, conditions []models.Condition, participantID int64, sealer *seal.Sealer) (*TestConfiguration, error) {
	if len(conditions) == 0 {
		return nil, errors.New("experiment: no conditions to configure")
	}

	testID := conditions[0].TestID
	for _, cond := range conditions {
		if cond.TestID != testID {
			return nil, ErrMultipleTests
		}
	}

	test, ok := def.TestByID(testID)
	if !ok {
		return nil, fmt.Errorf("experiment: unknown test id %d", testID)
	}

	cfg := &TestConfiguration{Test: test}
	for _, cond := range conditions {
		var data conditionData
		if err := json.Unmarshal([]byte(cond.Data), &data); err != nil {
			return nil, fmt.Errorf("experiment: bad stimulus data for condition %d: %w", cond.ID, err)
		}

		references := data.ReferenceFiles
		if len(references) == 0 {
			references = test.References
		}

		cc := ConditionConfig{ConditionID: cond.ID}
		var err error
		if cc.References, err = sealStimuli(references, participantID, cond.ID, sealer); err != nil {
			return nil, err
		}
		if cc.Stimuli, err = sealStimuli(data.StimulusFiles, participantID, cond.ID, sealer); err != nil {
			return nil, err
		}
		cfg.Conditions = append(cfg.Conditions, cc)
	}
	return cfg, nil
}

// sealStimuli turns a name->path map into a deterministic-order stimulus
// list with obfuscated URLs.
func sealStimuli(files map[string]string, participantID, conditionID int64, sealer *seal.Sealer) ([]Stimulus, error) {
	names := make([]string, 0, len(files))
	for name := range files {
		names = append(names, name)
	}
	sort.Strings(names)

	stimuli := make([]Stimulus, 0, len(names))
	for _, name := range names {
		token, err := sealer.Seal(AudioRef{ParticipantID: participantID, ConditionID: conditionID, Path: files[name]})
		if err != nil {
			return nil, err
		}
		stimuli = append(stimuli, Stimulus{Name: name, URL: AudioURL(token)})
	}
	return stimuli, nil
}

// AudioURL builds the client-facing URL for a sealed audio token.
func AudioURL(token string) string {
	return "/audio/" + token + ".wav"
}

// audioToken extracts the sealed token from a URL produced by AudioURL,
// or "" if the string is not one.
func audioToken(s string) string {
	if !strings.HasPrefix(s, "/audio/") || !strings.HasSuffix(s, ".wav") {
		return ""
	}
	return strings.TrimSuffix(strings.TrimPrefix(s, "/audio/"), ".wav")
}

// DeobfuscateStimuli walks a submitted evaluation payload and replaces
// every obfuscated audio URL with the underlying file path, so the stored
// trial is analyzable without the seal key. Values that fail to open are
// left as-is.
func DeobfuscateStimuli(payload map[string]any, sealer *seal.Sealer) map[string]any {
	out := make(map[string]any, len(payload))
	for k, v := range payload {
		out[k] = deobfuscateValue(v, sealer)
	}
	return out
}

func deobfuscateValue(v any, sealer *seal.Sealer) any {
	switch val := v.(type) {
	case string:
		token := audioToken(val)
		if token == "" {
			return val
		}
		var ref AudioRef
		if err := sealer.Open(token, &ref); err != nil {
			return val
		}
		return ref.Path
	case map[string]any:
		return DeobfuscateStimuli(val, sealer)
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = deobfuscateValue(item, sealer)
		}
		return out
	default:
		return val
	}
}

// ComparisonPair is one A/B presentation for a pairwise test.
type ComparisonPair struct {
	A Stimulus `json:"a"`
	B Stimulus `json:"b"`
}

// GenerateComparisonPairs expands a condition's stimuli into every
// unordered pair, randomizing both within-pair order and pair order.
func GenerateComparisonPairs(stimuli []Stimulus, rng *rand.Rand) []ComparisonPair {
	var pairs []ComparisonPair
	for i := 0; i < len(stimuli); i++ {
		for j := i + 1; j < len(stimuli); j++ {
			pair := ComparisonPair{A: stimuli[i], B: stimuli[j]}
			if rng.Intn(2) == 1 {
				pair.A, pair.B = pair.B, pair.A
			}
			pairs = append(pairs, pair)
		}
	}
	rng.Shuffle(len(pairs), func(i, j int) { pairs[i], pairs[j] = pairs[j], pairs[i] })
	return pairs
}
