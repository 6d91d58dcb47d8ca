package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAccountID_Validate(t *testing.T) {
	valid := []AccountID{
		CreatorPendingAccount("creator-1"),
		CreatorAvailableAccount("creator-1"),
		CreatorPaidOutAccount("creator-1"),
		PlatformAccount(),
	}
	for _, a := range valid {
		assert.NoError(t, a.Validate(), "expected %q to be valid", a)
	}

	invalid := []AccountID{
		"",
		"creator_pending",
		"creator_pending:",
		"wallet:creator-1",
		"creator-1",
	}
	for _, a := range invalid {
		assert.Error(t, a.Validate(), "expected %q to be invalid", a)
	}
}

func TestLedgerEntry_SignedAmount(t *testing.T) {
	credit := LedgerEntry{Amount: 800, Direction: DirectionCredit}
	debit := LedgerEntry{Amount: 800, Direction: DirectionDebit}

	assert.Equal(t, int64(800), credit.SignedAmount())
	assert.Equal(t, int64(-800), debit.SignedAmount())
	assert.Equal(t, int64(0), credit.SignedAmount()+debit.SignedAmount())
}

func TestMetadata_ValueScan(t *testing.T) {
	m := Metadata{"amount_cents": float64(5000), "creator_id": "creator-1"}

	v, err := m.Value()
	assert.NoError(t, err)

	var out Metadata
	assert.NoError(t, out.Scan(v))
	assert.Equal(t, m, out)

	var nilOut Metadata
	assert.NoError(t, nilOut.Scan(nil))
	assert.Nil(t, nilOut)
}
