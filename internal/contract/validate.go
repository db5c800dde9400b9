package contract

import (
	"errors"
	"fmt"
	"path"
	"strings"

	"github.com/go-playground/validator/v10"
)

// ErrInvalidContract wraps every validation failure.
var ErrInvalidContract = errors.New("invalid contract")

var contractValidate *validator.Validate

func init() {
	contractValidate = validator.New()
	_ = contractValidate.RegisterValidation("entrypath", validateEntryPath)
	_ = contractValidate.RegisterValidation("sha256hex", validateSHA256Hex)
}

// Validate checks field constraints on c.
func (c *Contract) Validate() error {
	if c == nil {
		return fmt.Errorf("%w: nil contract", ErrInvalidContract)
	}
	if err := contractValidate.Struct(c); err != nil {
		return fmt.Errorf("%w %q: %v", ErrInvalidContract, c.EntryID, err)
	}
	return nil
}

// validateEntryPath accepts only the normalized project-relative form.
func validateEntryPath(fl validator.FieldLevel) bool {
	p := fl.Field().String()
	if p == "" || strings.Contains(p, "\\") || strings.HasPrefix(p, "/") {
		return false
	}
	if path.Clean(p) != p {
		return false
	}
	return p != ".." && !strings.HasPrefix(p, "../")
}

func validateSHA256Hex(fl validator.FieldLevel) bool {
	h := fl.Field().String()
	if len(h) != 64 {
		return false
	}
	for _, c := range h {
		if !((c >= '0' && c <= '9') || (c >= 'a' && c <= 'f')) {
			return false
		}
	}
	return true
}
