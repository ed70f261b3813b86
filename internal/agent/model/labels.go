package model

import "strings"

// Classification is the closed set of verdicts the classifier may return.
type Classification string

const (
	ClassificationUnknown           Classification = ""
	ClassificationYes               Classification = "yes"
	ClassificationNo                Classification = "no"
	ClassificationRequest           Classification = "request"
	ClassificationSecurityViolation Classification = "Security Violation"
)

// Valid reports whether c is one of the enumerated verdicts.
func (c Classification) Valid() bool {
	switch c {
	case ClassificationYes, ClassificationNo, ClassificationRequest, ClassificationSecurityViolation:
		return true
	}
	return false
}

// RagType selects the retrieval branch for informational questions.
type RagType string

const (
	RagTypeUnknown  RagType = ""
	RagTypePolicy   RagType = "policy"
	RagTypeDatabase RagType = "database"
)

func (r RagType) Valid() bool {
	return r == RagTypePolicy || r == RagTypeDatabase
}

// ParseClassification maps raw model output onto a Classification.
// Anything outside the enumerated set yields ClassificationUnknown.
func ParseClassification(raw string) Classification {
	switch normalizeLabel(raw) {
	case "yes":
		return ClassificationYes
	case "no":
		return ClassificationNo
	case "request":
		return ClassificationRequest
	case "security violation":
		return ClassificationSecurityViolation
	}
	return ClassificationUnknown
}

// ParseRagType maps raw model output onto a RagType.
func ParseRagType(raw string) RagType {
	switch normalizeLabel(raw) {
	case "policy":
		return RagTypePolicy
	case "database":
		return RagTypeDatabase
	}
	return RagTypeUnknown
}

// Verdict is a critic's grade.
type Verdict string

const (
	VerdictUnknown    Verdict = ""
	VerdictRelevant   Verdict = "relevant"
	VerdictIrrelevant Verdict = "irrelevant"
)

// ParseVerdict accepts yes/no as well as relevant/irrelevant.
func ParseVerdict(raw string) Verdict {
	switch normalizeLabel(raw) {
	case "yes", "relevant", "correct", "true":
		return VerdictRelevant
	case "no", "irrelevant", "incorrect", "false":
		return VerdictIrrelevant
	}
	return VerdictUnknown
}

func normalizeLabel(raw string) string {
	s := strings.TrimSpace(raw)
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(s, "```")
	s = strings.TrimSpace(s)
	s = strings.Trim(s, "\"'`*")
	s = strings.TrimSuffix(s, ".")
	s = strings.Join(strings.Fields(s), " ")
	return strings.ToLower(s)
}
