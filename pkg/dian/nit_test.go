package dian_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tinto-dian/issuer/pkg/dian"
)

func TestValidateNITVerificationDigit_AcceptsCorrectDigit(t *testing.T) {
	assert.NoError(t, dian.ValidateNITVerificationDigit("9001234568"))
	assert.NoError(t, dian.ValidateNITVerificationDigit("900.123.456-8"))
}

func TestValidateNITVerificationDigit_RejectsWrongDigit(t *testing.T) {
	err := dian.ValidateNITVerificationDigit("9001234560")
	require.Error(t, err)
}

func TestValidateNITVerificationDigit_RejectsTooFewDigits(t *testing.T) {
	err := dian.ValidateNITVerificationDigit("12345")
	require.Error(t, err)
}

func TestComputeNITVerificationDigit_MatchesValidator(t *testing.T) {
	digit, err := dian.ComputeNITVerificationDigit("900123456")
	require.NoError(t, err)
	assert.NoError(t, dian.ValidateNITVerificationDigit("900123456"+string(digit)))
}
