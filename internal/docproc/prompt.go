package docproc

import (
	"fmt"
	"strings"

	"claimsapi/internal/model"
)

// Prompt construction is pure: no side effects, always a string. Document
// text is truncated to a fixed prefix before being embedded to bound prompt
// cost; the cut is positional, not content-aware.

const classifyTemplate = `Analyze this medical document and classify it.
Return only one word: 'bill', 'discharge' or 'id_card'.

Document text:
%s`

const billExtractTemplate = `Extract the following information from this medical bill and return ONLY a JSON object with these exact keys:
- "Patient Name"
- "Hospital"
- "Total Amount" (as a number)
- "Date of Service"

Medical bill text:
%s`

const dischargeExtractTemplate = `Extract the following information from this discharge summary and return ONLY a JSON object with these exact keys:
- "Patient Name"
- "Hospital"
- "Admission Date"
- "Discharge Date"
- "Diagnosis"
- "Treatment Summary"

Discharge summary text:
%s`

const idCardExtractTemplate = `Extract the following information from this medical ID card and return ONLY a JSON object with these exact keys:
- "member_name"
- "member_id"
- "group_number"
- "plan_type"
- "effective_date"
- "insurance_provider"

ID card text:
%s`

const validateTemplate = `Compare these medical documents and check for consistency.
Return ONLY a JSON object with these exact keys:
- "is_valid": boolean
- "discrepancies": list of strings describing any inconsistencies
- "validation_details": dictionary with these exact keys:
  - "patient_name_match": boolean
  - "hospital_match": boolean
  - "dates_consistent": boolean

Bill text:
%s

Discharge text:
%s`

// PromptBuilder renders classification, extraction and validation prompts.
// textLimit bounds the document text prefix embedded into any prompt.
type PromptBuilder struct {
	textLimit int
}

// NewPromptBuilder returns a builder with the given text prefix limit.
// A non-positive limit falls back to 2000 runes.
func NewPromptBuilder(textLimit int) *PromptBuilder {
	if textLimit <= 0 {
		textLimit = 2000
	}
	return &PromptBuilder{textLimit: textLimit}
}

// BuildClassify renders the classification prompt.
func (b *PromptBuilder) BuildClassify(text string) string {
	return fmt.Sprintf(classifyTemplate, b.truncate(text))
}

// BuildExtract renders the extraction prompt for a document type. An unknown
// type is a configuration error: its required-field set is undefined, so
// failing loudly beats silently picking a default template.
func (b *PromptBuilder) BuildExtract(typ model.DocumentType, text string) (string, error) {
	spec, ok := typeSpecs[typ]
	if !ok {
		return "", fmt.Errorf("no extraction template for document type %q", typ)
	}
	return fmt.Sprintf(spec.extractTemplate, b.truncate(text)), nil
}

// BuildValidate renders the cross-document validation prompt.
func (b *PromptBuilder) BuildValidate(billText, dischargeText string) string {
	return fmt.Sprintf(validateTemplate, b.truncate(billText), b.truncate(dischargeText))
}

func (b *PromptBuilder) truncate(text string) string {
	text = strings.TrimSpace(text)
	runes := []rune(text)
	if len(runes) <= b.textLimit {
		return text
	}
	return string(runes[:b.textLimit])
}
