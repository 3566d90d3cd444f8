// Package validate provides the shared pure validators for external
// tool-parameter input: URI resolution and containment, positive-integer
// checks, and bounded page/boolean defaults. This is the single place
// external input is sanitized before reaching the Apply Engine or the
// indexer's Query Engine.
package validate

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/go-playground/validator/v10"

	"scribe/internal/paths"
)

// EditTarget is the structural shape every edit-tool request reduces to for
// validator struct-tag checks.
type EditTarget struct {
	URI    string `validate:"required"`
	Line   int    `validate:"gte=0"`
	Column int    `validate:"gte=0"`
}

// PageRequest is the structural shape of a paginated listing request.
type PageRequest struct {
	Page     int `validate:"gte=1"`
	PageSize int `validate:"gte=1,lte=1000"`
}

var structValidator = validator.New()

// ValidateStruct runs go-playground/validator's struct-tag checks and
// reformats the first failing field into a plain error.
func ValidateStruct(v interface{}) error {
	if err := structValidator.Struct(v); err != nil {
		if verrs, ok := err.(validator.ValidationErrors); ok && len(verrs) > 0 {
			fe := verrs[0]
			return fmt.Errorf("%s failed %s validation", fe.Field(), fe.Tag())
		}
		return err
	}
	return nil
}

// ValidateURI resolves uri against workspaceRoot and rejects anything that
// escapes it. It recognizes scheme:// forms (returned unchanged, since
// those are not filesystem paths) and the common mistake of a relative
// path prefixed with the workspace folder's own name.
func ValidateURI(uri, workspaceRoot string) (string, error) {
	if uri == "" {
		return "", fmt.Errorf("uri must not be empty")
	}
	if idx := strings.Index(uri, "://"); idx > 0 && !strings.ContainsAny(uri[:idx], "/\\") {
		return uri, nil
	}

	candidate := uri
	if !filepath.IsAbs(candidate) {
		base := filepath.Base(workspaceRoot)
		trimmed := strings.TrimPrefix(candidate, base+"/")
		trimmed = strings.TrimPrefix(trimmed, base+"\\")
		candidate = filepath.Join(workspaceRoot, trimmed)
	}

	if !paths.IsWithinRepo(candidate, workspaceRoot) {
		return "", fmt.Errorf("uri %q resolves outside workspace root", uri)
	}
	return candidate, nil
}

// ValidatePositiveInt rejects negative line/column values; name is used
// only to produce a descriptive error.
func ValidatePositiveInt(name string, v int) error {
	if v < 0 {
		return fmt.Errorf("%s must be >= 0, got %d", name, v)
	}
	return nil
}

// ValidateBool is a no-op placeholder kept for symmetry with the other
// validators: Go's type system already rejects non-boolean input at the
// call site, so there is nothing left to check once a bool reaches here.
func ValidateBool(v bool) bool { return v }

// ValidatePage clamps page/pageSize to sane bounds, defaulting non-positive
// values and capping pageSize at maxPageSize.
func ValidatePage(page, pageSize, defaultPageSize, maxPageSize int) (int, int) {
	if page < 1 {
		page = 1
	}
	if pageSize <= 0 {
		pageSize = defaultPageSize
	}
	if pageSize > maxPageSize {
		pageSize = maxPageSize
	}
	return page, pageSize
}
