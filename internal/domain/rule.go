package domain

import "time"

// CustomRule is an operator-defined scoring rule layered on top of the
// built-in rule set. The expression is CEL over the extracted signals and
// must evaluate to bool (adds Points when true) or int (adds the returned
// delta directly).
type CustomRule struct {
	ID          string `json:"id"`
	TenantID    string `json:"tenantId"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`

	// CEL expression evaluated against the extracted signals.
	Expression string `json:"expression"`

	// Points added when a bool expression evaluates true. Ignored for
	// int expressions, which return their own delta.
	Points int `json:"points"`

	Enabled   bool      `json:"enabled"`
	CreatedAt time.Time `json:"createdAt,omitempty"`
	UpdatedAt time.Time `json:"updatedAt,omitempty"`
}
