package model

import "fmt"

// Issue codes (E2xx errors exclude the target, W2xx are warnings).
const (
	ErrSideBothSet       = "E201" // condition side is both literal and reference
	ErrSideNeitherSet    = "E202" // condition side is empty
	ErrDanglingAlias     = "E203" // alias not resolvable within the target's sources
	ErrDanglingColumn    = "E204" // column not present in the referenced table
	ErrUnknownTable      = "E205" // source table not declared
	ErrDuplicateName     = "E206" // duplicate table, handler, target, alias or column
	ErrInvalidTargetKey  = "E207" // target key does not map onto the main key
	ErrInvalidIdentifier = "E208" // empty or reserved identifier
	ErrCrossJoin         = "E209" // join source has no condition on itself
	ErrInvalidStructure  = "E210" // missing sources/columns, bad join mode
	WarnNullLiteral      = "W211" // NULL literal never matches in an equality
)

// Severity separates issues that exclude a target from advisory ones.
type Severity string

const (
	SeverityError   Severity = "error"
	SeverityWarning Severity = "warning"
)

// Issue is a positioned defect found while building the join model.
// Issues are collected, never raised.
type Issue struct {
	Code     string   `json:"code"`
	Severity Severity `json:"severity"`
	Message  string   `json:"message"`
	Pos      Pos      `json:"pos"`
	Handler  string   `json:"handler,omitempty"`
	Target   string   `json:"target,omitempty"`
}

func (i Issue) String() string {
	where := ""
	switch {
	case i.Handler != "" && i.Target != "":
		where = fmt.Sprintf(" [%s/%s]", i.Handler, i.Target)
	case i.Handler != "":
		where = fmt.Sprintf(" [%s]", i.Handler)
	}
	return fmt.Sprintf("%s: %s %s%s: %s", i.Pos, i.Severity, i.Code, where, i.Message)
}

// HasErrors reports whether any issue has error severity.
func HasErrors(issues []Issue) bool {
	for _, i := range issues {
		if i.Severity == SeverityError {
			return true
		}
	}
	return false
}
