package services

import (
	"encoding/json"
	"fmt"
	"math/big"
	"net/http"
	"regexp"
	"strings"

	"github.com/go-playground/validator/v10"
)

// ErrorResponse represents error response structure
type ErrorResponse struct {
	Error   string            `json:"error"`             // Error message
	Details map[string]string `json:"details,omitempty"` // Validation details
}

// ValidationHelper provides shared validation functionality
type ValidationHelper struct {
	validator *validator.Validate
}

var bicPattern = regexp.MustCompile(`^[A-Z]{6}[A-Z0-9]{2}([A-Z0-9]{3})?$`)

// NewValidationHelper creates a new validation helper with the bank-detail
// validators registered.
func NewValidationHelper() *ValidationHelper {
	v := validator.New()
	v.RegisterValidation("iban", func(fl validator.FieldLevel) bool {
		return ValidateIBAN(fl.Field().String()) == nil
	})
	v.RegisterValidation("bic", func(fl validator.FieldLevel) bool {
		return ValidateBIC(fl.Field().String()) == nil
	})
	return &ValidationHelper{validator: v}
}

// ValidateStruct validates a struct and returns validation errors
func (vh *ValidationHelper) ValidateStruct(s any) error {
	return vh.validator.Struct(s)
}

// NormalizeIBAN strips spaces and upper-cases an IBAN.
func NormalizeIBAN(iban string) string {
	return strings.ToUpper(strings.ReplaceAll(iban, " ", ""))
}

// ValidateIBAN checks length, characters and the ISO 13616 mod-97 checksum.
func ValidateIBAN(iban string) error {
	iban = NormalizeIBAN(iban)
	if len(iban) < 15 || len(iban) > 34 {
		return ErrInvalidIBAN
	}

	// Move the first four characters to the end, then map letters to digits
	// (A=10 ... Z=35) and check the number mod 97 == 1.
	rearranged := iban[4:] + iban[:4]
	var digits strings.Builder
	for _, r := range rearranged {
		switch {
		case r >= '0' && r <= '9':
			digits.WriteRune(r)
		case r >= 'A' && r <= 'Z':
			fmt.Fprintf(&digits, "%d", r-'A'+10)
		default:
			return ErrInvalidIBAN
		}
	}

	n, ok := new(big.Int).SetString(digits.String(), 10)
	if !ok {
		return ErrInvalidIBAN
	}
	if new(big.Int).Mod(n, big.NewInt(97)).Int64() != 1 {
		return ErrInvalidIBAN
	}
	return nil
}

// ValidateBIC checks the ISO 9362 BIC format (8 or 11 characters).
func ValidateBIC(bic string) error {
	if !bicPattern.MatchString(strings.ToUpper(strings.TrimSpace(bic))) {
		return ErrInvalidBIC
	}
	return nil
}

// SendErrorResponse sends a JSON error response
func SendErrorResponse(w http.ResponseWriter, message string, statusCode int, validationErr error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	errorResp := ErrorResponse{Error: message}
	if validationErr != nil {
		if verrs, ok := validationErr.(validator.ValidationErrors); ok {
			errorResp.Details = make(map[string]string)
			for _, err := range verrs {
				errorResp.Details[err.Field()] = fmt.Sprintf("Field Validation Failed on '%s' tag", err.Tag())
			}
		}
	}

	json.NewEncoder(w).Encode(errorResp)
}
