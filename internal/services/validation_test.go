package services

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidateIBAN(t *testing.T) {
	valid := []string{
		"DE89370400440532013000",
		"DE89 3704 0044 0532 0130 00",
		"de89370400440532013000",
		"GB82WEST12345698765432",
		"FR1420041010050500013M02606",
		"NL91ABNA0417164300",
	}
	for _, iban := range valid {
		assert.NoError(t, ValidateIBAN(iban), "expected %q to be valid", iban)
	}

	invalid := []string{
		"",
		"DE89",
		"DE89370400440532013001",
		"DE00370400440532013000",
		"DE89-3704-0044-0532-0130-00",
		"XX12345678901234567890123456789012345",
	}
	for _, iban := range invalid {
		assert.Error(t, ValidateIBAN(iban), "expected %q to be invalid", iban)
	}
}

func TestValidateBIC(t *testing.T) {
	valid := []string{"COBADEFF", "COBADEFFXXX", "DEUTDEFF500", "deutdeff"}
	for _, bic := range valid {
		assert.NoError(t, ValidateBIC(bic), "expected %q to be valid", bic)
	}

	invalid := []string{"", "12345678", "COBADE", "COBADEFFXXXX", "COBA-EFF"}
	for _, bic := range invalid {
		assert.Error(t, ValidateBIC(bic), "expected %q to be invalid", bic)
	}
}

func TestNormalizeIBAN(t *testing.T) {
	assert.Equal(t, "DE89370400440532013000", NormalizeIBAN("de89 3704 0044 0532 0130 00"))
}

func TestValidationHelper_BankDetailTags(t *testing.T) {
	vh := NewValidationHelper()

	type form struct {
		IBAN string `validate:"required,iban"`
		BIC  string `validate:"required,bic"`
	}

	assert.NoError(t, vh.ValidateStruct(&form{IBAN: "DE89370400440532013000", BIC: "COBADEFFXXX"}))
	assert.Error(t, vh.ValidateStruct(&form{IBAN: "DE89370400440532013001", BIC: "COBADEFFXXX"}))
	assert.Error(t, vh.ValidateStruct(&form{IBAN: "DE89370400440532013000", BIC: "NOPE"}))
}
