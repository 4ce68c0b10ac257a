package validation

import "strings"

// FieldError represents a validation error on a specific field.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// CreateTeamRequest mirrors the fields needed for create team validation.
type CreateTeamRequest struct {
	Name string
}

// ValidateCreateTeamRequest validates the fields of a create team request.
// Length limits are enforced by the coordinator.
func ValidateCreateTeamRequest(req CreateTeamRequest) []FieldError {
	var errs []FieldError

	if strings.TrimSpace(req.Name) == "" {
		errs = append(errs, FieldError{Field: "name", Message: "name is required"})
	}

	return errs
}

// JoinTeamRequest mirrors the fields needed for join validation.
type JoinTeamRequest struct {
	Code string
	Name string
}

// ValidateJoinTeamRequest validates the fields of a join request. A present
// but malformed code is not a validation error: it is reported as an unknown team.
func ValidateJoinTeamRequest(req JoinTeamRequest) []FieldError {
	var errs []FieldError

	if strings.TrimSpace(req.Code) == "" {
		errs = append(errs, FieldError{Field: "code", Message: "code is required"})
	}

	if strings.TrimSpace(req.Name) == "" {
		errs = append(errs, FieldError{Field: "name", Message: "name is required"})
	}

	return errs
}
