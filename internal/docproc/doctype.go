package docproc

import (
	"strings"

	"claimsapi/internal/model"
)

// typeSpec couples the extraction prompt template of a document type with its
// required field set. The table is resolved once at package init; callers
// never re-derive prompt or key set per call.
type typeSpec struct {
	extractTemplate string
	requiredKeys    []string
}

var typeSpecs = map[model.DocumentType]typeSpec{
	model.TypeBill: {
		extractTemplate: billExtractTemplate,
		requiredKeys:    []string{"Patient Name", "Hospital", "Total Amount", "Date of Service"},
	},
	model.TypeDischarge: {
		extractTemplate: dischargeExtractTemplate,
		requiredKeys:    []string{"Patient Name", "Hospital", "Admission Date", "Discharge Date", "Diagnosis", "Treatment Summary"},
	},
	model.TypeIDCard: {
		extractTemplate: idCardExtractTemplate,
		requiredKeys:    []string{"member_name", "member_id", "group_number", "plan_type", "effective_date", "insurance_provider"},
	},
}

// validationRequiredKeys is the key set of a cross-document validation response.
var validationRequiredKeys = []string{"is_valid", "discrepancies", "validation_details"}

// RequiredKeys returns the required field set for a document type. The second
// return is false for unknown, which has no extraction contract.
func RequiredKeys(typ model.DocumentType) ([]string, bool) {
	spec, ok := typeSpecs[typ]
	if !ok {
		return nil, false
	}
	return spec.requiredKeys, true
}

// NormalizeDocType maps a raw classification response onto the closed type
// set. Anything outside the allowed labels resolves to unknown.
func NormalizeDocType(raw string) model.DocumentType {
	switch model.DocumentType(strings.ToLower(strings.TrimSpace(raw))) {
	case model.TypeBill:
		return model.TypeBill
	case model.TypeDischarge:
		return model.TypeDischarge
	case model.TypeIDCard:
		return model.TypeIDCard
	default:
		return model.TypeUnknown
	}
}

// DefaultRecord returns an all-null field map for the given required keys.
// It is the safe degraded output when a model response cannot be used.
func DefaultRecord(requiredKeys []string) map[string]any {
	m := make(map[string]any, len(requiredKeys))
	for _, k := range requiredKeys {
		m[k] = nil
	}
	return m
}
