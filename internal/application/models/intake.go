package models

import (
	"net/mail"
	"strings"
	"time"

	dErrors "schoolreg/pkg/domain-errors"
)

const (
	maxSchoolNameLen   = 200
	minMissionLen      = 20
	maxMissionLen      = 2000
	minYearEstablished = 1800
)

// Validate performs the structural checks that gate submission. It returns a
// validation-coded error naming the first offending field.
func (i Intake) Validate(now time.Time) error {
	if name := strings.TrimSpace(i.SchoolName); name == "" || len(name) > maxSchoolNameLen {
		return dErrors.New(dErrors.CodeValidation, "school name is required and must be at most 200 characters")
	}
	if i.YearEstablished < minYearEstablished || i.YearEstablished > now.Year() {
		return dErrors.Newf(dErrors.CodeValidation, "year established must be between %d and %d", minYearEstablished, now.Year())
	}
	if strings.TrimSpace(i.SchoolType) == "" {
		return dErrors.New(dErrors.CodeValidation, "school type is required")
	}
	if i.StudentPopulation <= 0 {
		return dErrors.New(dErrors.CodeValidation, "student population must be positive")
	}
	if strings.TrimSpace(i.Country) == "" {
		return dErrors.New(dErrors.CodeValidation, "country is required")
	}
	if strings.TrimSpace(i.ApplicantName) == "" {
		return dErrors.New(dErrors.CodeValidation, "applicant name is required")
	}
	if !validEmail(i.ApplicantEmail) {
		return dErrors.New(dErrors.CodeValidation, "applicant email is not a valid address")
	}

	switch i.AdminChoice.Kind {
	case AdminChoiceApplicant:
		// Applicant doubles as principal; no separate identity expected.
	case AdminChoicePrincipal:
		if strings.TrimSpace(i.AdminChoice.PrincipalName) == "" {
			return dErrors.New(dErrors.CodeValidation, "principal name is required")
		}
		if !validEmail(i.AdminChoice.PrincipalEmail) {
			return dErrors.New(dErrors.CodeValidation, "principal email is not a valid address")
		}
		if strings.EqualFold(strings.TrimSpace(i.AdminChoice.PrincipalEmail), strings.TrimSpace(i.ApplicantEmail)) {
			return dErrors.New(dErrors.CodeValidation, "principal email must differ from applicant email; choose applicant-is-principal instead")
		}
	default:
		return dErrors.New(dErrors.CodeValidation, "admin choice must name who will administer the school")
	}

	if len(i.Reasons) == 0 {
		return dErrors.New(dErrors.CodeValidation, "at least one reason is required")
	}
	for _, reason := range i.Reasons {
		if strings.TrimSpace(reason) == "" {
			return dErrors.New(dErrors.CodeValidation, "reasons must not be blank")
		}
	}
	if l := len(strings.TrimSpace(i.MissionStatement)); l < minMissionLen || l > maxMissionLen {
		return dErrors.Newf(dErrors.CodeValidation, "mission statement must be between %d and %d characters", minMissionLen, maxMissionLen)
	}
	return nil
}

func validEmail(address string) bool {
	trimmed := strings.TrimSpace(address)
	if trimmed == "" {
		return false
	}
	parsed, err := mail.ParseAddress(trimmed)
	return err == nil && parsed.Address == trimmed
}

// NormalizedEmail lowercases and trims an email for comparison. The weak-auth
// email match and the duplicate-in-flight check both use this form.
func NormalizedEmail(address string) string {
	return strings.ToLower(strings.TrimSpace(address))
}
