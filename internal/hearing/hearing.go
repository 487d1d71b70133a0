// Package hearing implements the bounded-attempt hearing screening
// challenge: two randomly chosen tone recordings whose tone counts the
// participant must report correctly.
package hearing

import (
	"math/rand"

	"earshot/internal/config"
)

// Challenge is one issued screening round: two distinct stimulus indices
// drawn from the configured range. The indices are server secrets; they
// reach the client only as sealed tokens.
type Challenge struct {
	Index1 int `json:"i1"`
	Index2 int `json:"i2"`
}

// NewChallenge draws two distinct indices in [min, max].
func NewChallenge(rng *rand.Rand, cfg config.HearingScreeningConfig) Challenge {
	span := cfg.MaxAudioIndex - cfg.MinAudioIndex + 1
	first := cfg.MinAudioIndex + rng.Intn(span)

	// Draw from the remaining span and shift past the first pick so the
	// pair is always distinct without looping.
	second := cfg.MinAudioIndex + rng.Intn(span-1)
	if second >= first {
		second++
	}

	return Challenge{Index1: first, Index2: second}
}

// ToneCount maps a stimulus index to its expected tone count. Stimulus
// files are grouped, FilesPerToneCount variants per count, so the count is
// the integer quotient.
func ToneCount(index, filesPerToneCount int) int {
	return index / filesPerToneCount
}

// Variant maps a stimulus index to its variant number within a tone-count
// group, used to locate the audio file on disk.
func Variant(index, filesPerToneCount int) int {
	return index % filesPerToneCount
}

// Answer is the participant's reported tone counts for both slots. A slot
// whose sealed index could not be recovered (session desync, tampering) is
// represented by a nil expected index and scores as a non-match.
type Answer struct {
	Reported1 int
	Reported2 int
	Expected1 *int
	Expected2 *int
}

// Passed reports whether both slots match their expected tone counts.
func (a Answer) Passed(filesPerToneCount int) bool {
	if a.Expected1 == nil || a.Expected2 == nil {
		return false
	}
	return a.Reported1 == ToneCount(*a.Expected1, filesPerToneCount) &&
		a.Reported2 == ToneCount(*a.Expected2, filesPerToneCount)
}

// Outcome is the next state after an attempt has been recorded.
type Outcome int

const (
	// Passed: the participant cleared the screening.
	Passed Outcome = iota
	// FailedRetry: attempts remain, issue a fresh challenge.
	FailedRetry
	// FailedPassThrough: attempts exhausted but rejection is disabled, so
	// the participant proceeds anyway.
	FailedPassThrough
	// FailedRejected: attempts exhausted and rejection is enabled.
	FailedRejected
)

// NextOutcome computes the state transition after an attempt, given the
// attempt count as recorded after the attempt.
func NextOutcome(passed bool, attemptsAfter int, cfg config.HearingScreeningConfig) Outcome {
	if passed {
		return Passed
	}
	if attemptsAfter < cfg.MaxAttempts {
		return FailedRetry
	}
	if !cfg.RejectionEnabled {
		return FailedPassThrough
	}
	return FailedRejected
}
