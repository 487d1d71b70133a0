package experiment

import "encoding/json"

// IsPreTestSurveyValid checks a stored survey blob against the inclusion
// criteria. Every criterion must be satisfied; a missing answer fails its
// criterion. An unparseable blob is invalid by definition.
func IsPreTestSurveyValid(surveyJSON string, criteria []Criterion) bool {
	var answers map[string]string
	if err := json.Unmarshal([]byte(surveyJSON), &answers); err != nil {
		return false
	}
	return SurveyMeetsCriteria(answers, criteria)
}

// SurveyMeetsCriteria applies the declarative inclusion rules to a parsed
// answer set.
func SurveyMeetsCriteria(answers map[string]string, criteria []Criterion) bool {
	for _, crit := range criteria {
		answer, ok := answers[crit.Question]
		if !ok {
			return false
		}
		matched := false
		for _, allowed := range crit.AnyOf {
			if answer == allowed {
				matched = true
				break
			}
		}
		if !matched {
			return false
		}
	}
	return true
}
