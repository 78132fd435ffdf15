package docproc

import (
	"encoding/json"
	"fmt"
	"strings"

	"claimsapi/internal/model"
)

// NormalizationError reports a model response that could not be turned into a
// structured record. Callers convert it into a safe default record; it is
// never surfaced to a client as a failure by itself.
type NormalizationError struct {
	Reason string
	Cause  error
}

func (e *NormalizationError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("normalize response: %s: %v", e.Reason, e.Cause)
	}
	return "normalize response: " + e.Reason
}

func (e *NormalizationError) Unwrap() error { return e.Cause }

// StripFences removes a markdown ```json code fence around a response, if
// present. Stripping is value-preserving: the fenced and unfenced forms parse
// to the same object. A response starting directly with '{' passes through
// unchanged; the second return is false for anything else.
func StripFences(text string) (string, bool) {
	s := strings.TrimSpace(text)
	switch {
	case strings.HasPrefix(s, "```json"):
		s = strings.TrimPrefix(s, "```json")
		s = strings.TrimSuffix(strings.TrimSpace(s), "```")
		return strings.TrimSpace(s), true
	case strings.HasPrefix(s, "```"):
		s = strings.TrimPrefix(s, "```")
		s = strings.TrimSuffix(strings.TrimSpace(s), "```")
		return strings.TrimSpace(s), true
	case strings.HasPrefix(s, "{"):
		return s, true
	default:
		return "", false
	}
}

// Normalize turns raw model output into a contract-conformant field map:
// fence strip, JSON parse, then backfill of every missing required key with
// nil. Extra keys beyond requiredKeys pass through unchanged. The function is
// total in spirit: any failure comes back as a *NormalizationError the caller
// downgrades to DefaultRecord, so one bad response never aborts a batch.
func Normalize(responseText string, requiredKeys []string) (map[string]any, error) {
	payload, ok := StripFences(responseText)
	if !ok {
		return nil, &NormalizationError{Reason: "response is not a JSON object or fenced JSON block"}
	}

	var m map[string]any
	if err := json.Unmarshal([]byte(payload), &m); err != nil {
		return nil, &NormalizationError{Reason: "invalid JSON", Cause: err}
	}

	for _, k := range requiredKeys {
		if _, present := m[k]; !present {
			m[k] = nil
		}
	}
	return m, nil
}

// ErrorValidation is the fixed degraded outcome for an unusable validation
// response, matching the record shape clients rely on.
func ErrorValidation() model.ValidationRecord {
	return model.ValidationRecord{
		IsValid:           false,
		Discrepancies:     []string{"Error processing validation"},
		ValidationDetails: map[string]any{},
	}
}

// MissingDocumentsValidation is the fixed outcome when either the bill or the
// discharge text is absent. No model call happens in that case.
func MissingDocumentsValidation() model.ValidationRecord {
	return model.ValidationRecord{
		IsValid:           false,
		Discrepancies:     []string{"Missing required documents"},
		ValidationDetails: map[string]any{},
	}
}

// NormalizeValidation parses a validation response into a ValidationRecord.
// Unusable responses degrade to the fixed error record rather than failing.
func NormalizeValidation(responseText string) model.ValidationRecord {
	m, err := Normalize(responseText, validationRequiredKeys)
	if err != nil {
		return ErrorValidation()
	}

	rec := model.ValidationRecord{
		Discrepancies:     []string{},
		ValidationDetails: map[string]any{},
	}
	if v, ok := m["is_valid"].(bool); ok {
		rec.IsValid = v
	}
	if list, ok := m["discrepancies"].([]any); ok {
		for _, item := range list {
			if s, ok := item.(string); ok {
				rec.Discrepancies = append(rec.Discrepancies, s)
			}
		}
	}
	if details, ok := m["validation_details"].(map[string]any); ok {
		rec.ValidationDetails = details
	}
	return rec
}
