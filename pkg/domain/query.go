package domain

import (
	"strconv"
	"strings"
)

// Pagination bounds for listing endpoints.
const (
	DefaultPageLimit = 50
	MaxPageLimit     = 1000
	// MaxRefLength bounds accession and gene identifiers accepted from callers.
	MaxRefLength = 128
)

// EnzymeFilter narrows an enzyme listing. Nil fields do not constrain.
type EnzymeFilter struct {
	Family       *int64 `json:"family,omitempty"`
	Component    *int64 `json:"component,omitempty"`
	HasComponent *bool  `json:"hasComponent,omitempty"`
}

// RequiresClassification reports whether the filter can only match
// classified enzymes.
func (f EnzymeFilter) RequiresClassification() bool {
	return f.Family != nil || f.Component != nil || (f.HasComponent != nil && *f.HasComponent)
}

// Page is a limit/offset window.
type Page struct {
	Limit  int `json:"limit"`
	Offset int `json:"offset"`
}

// Normalize applies the default limit, clamps the limit into
// [1, MaxPageLimit] and rejects negative offsets.
func (p Page) Normalize() (Page, error) {
	if p.Offset < 0 {
		return Page{}, ValidationError{Field: "offset", Reason: "must be >= 0"}
	}
	switch {
	case p.Limit == 0:
		p.Limit = DefaultPageLimit
	case p.Limit < 1:
		p.Limit = 1
	case p.Limit > MaxPageLimit:
		p.Limit = MaxPageLimit
	}
	return p, nil
}

// Pagination describes the window returned with a listing.
type Pagination struct {
	Limit   int   `json:"limit"`
	Offset  int   `json:"offset"`
	Total   int64 `json:"total"`
	HasMore bool  `json:"hasMore"`
}

// NewPagination derives HasMore from the window and the returned row count.
func NewPagination(page Page, returned int, total int64) Pagination {
	return Pagination{
		Limit:   page.Limit,
		Offset:  page.Offset,
		Total:   total,
		HasMore: int64(page.Offset+returned) < total,
	}
}

// EnzymePage is one window of an enzyme listing.
type EnzymePage struct {
	Rows       []EnzymeRecord `json:"rows"`
	Pagination Pagination     `json:"pagination"`
}

// EnzymeRef addresses an enzyme by numeric id or by accession.
type EnzymeRef struct {
	ID        *int64
	Accession string
}

func (r EnzymeRef) String() string {
	if r.ID != nil {
		return strconv.FormatInt(*r.ID, 10)
	}
	return r.Accession
}

// ParseEnzymeRef interprets an all-digit token as an enzyme id and any other
// token as an accession.
func ParseEnzymeRef(raw string) (EnzymeRef, error) {
	token := strings.TrimSpace(raw)
	if token == "" {
		return EnzymeRef{}, ValidationError{Field: "enzyme", Reason: "identifier required"}
	}
	if len(token) > MaxRefLength {
		return EnzymeRef{}, ValidationError{Field: "enzyme", Reason: "identifier too long"}
	}
	if isDigits(token) {
		id, err := strconv.ParseInt(token, 10, 64)
		if err != nil {
			return EnzymeRef{}, ValidationError{Field: "enzyme", Reason: "id out of range"}
		}
		return EnzymeRef{ID: &id}, nil
	}
	return EnzymeRef{Accession: token}, nil
}

// ParseAccession addresses an enzyme by accession only, so accessions made
// entirely of digits stay reachable.
func ParseAccession(raw string) (EnzymeRef, error) {
	token, err := ValidateKey("accession", raw)
	if err != nil {
		return EnzymeRef{}, err
	}
	return EnzymeRef{Accession: token}, nil
}

// ParseID parses a positive integer identifier for field.
func ParseID(field, raw string) (int64, error) {
	token := strings.TrimSpace(raw)
	if token == "" {
		return 0, ValidationError{Field: field, Reason: "identifier required"}
	}
	id, err := strconv.ParseInt(token, 10, 64)
	if err != nil {
		return 0, ValidationError{Field: field, Reason: "must be an integer"}
	}
	if id <= 0 {
		return 0, ValidationError{Field: field, Reason: "must be positive"}
	}
	return id, nil
}

// ValidateKey checks a free-text key such as a gene name or experiment id.
func ValidateKey(field, raw string) (string, error) {
	token := strings.TrimSpace(raw)
	if token == "" {
		return "", ValidationError{Field: field, Reason: "value required"}
	}
	if len(token) > MaxRefLength {
		return "", ValidationError{Field: field, Reason: "value too long"}
	}
	return token, nil
}

func isDigits(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return s != ""
}

// ComparePercentIdentity orders identities absent-first, then descending.
// It returns a negative value when a sorts before b.
func ComparePercentIdentity(a, b *float64) int {
	switch {
	case a == nil && b == nil:
		return 0
	case a == nil:
		return -1
	case b == nil:
		return 1
	case *a > *b:
		return -1
	case *a < *b:
		return 1
	default:
		return 0
	}
}
