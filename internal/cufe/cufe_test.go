package cufe_test

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tinto-dian/issuer/internal/cufe"
	"github.com/tinto-dian/issuer/internal/domain/entity"
)

func baseParams() cufe.Params {
	issueDate, _ := time.Parse("2006-01-02", "2023-11-29")
	return cufe.Params{
		InvoiceNumber: "SETP990000000",
		IssueDate:     issueDate,
		IssueTime:     12 * time.Hour,
		Subtotal:      decimal.NewFromInt(1_000_000),
		Taxes: []entity.InvoiceTax{
			{Kind: entity.TaxIVA, Amount: decimal.NewFromInt(190_000), TaxableBase: decimal.NewFromInt(1_000_000)},
		},
		GrandTotal:        decimal.NewFromInt(1_190_000),
		IssuerTaxIDDigits: "900123456",
		CustomerIDType:    entity.IdentificationNIT,
		CustomerID:        "800987654",
		TechnicalKey:      "fc8eac422eba16e22ffd8c6f94b3f40a6e38162c354673d3a603956897890cd",
		Production:        false,
	}
}

// TestCalculate_Deterministic is P1: the same input always yields the same
// fingerprint.
func TestCalculate_Deterministic(t *testing.T) {
	p := baseParams()
	c1, err1 := cufe.Calculate(p)
	c2, err2 := cufe.Calculate(p)
	require.NoError(t, err1)
	require.NoError(t, err2)
	assert.Equal(t, c1, c2)
}

func TestCalculate_OutputShape(t *testing.T) {
	c, err := cufe.Calculate(baseParams())
	require.NoError(t, err)
	assert.True(t, cufe.ValidFormat(c), "CUFE must match ^[0-9a-f]{96}$, got %q", c)
}

func TestCalculate_SensitiveToInvoiceNumber(t *testing.T) {
	p1 := baseParams()
	p2 := baseParams()
	p2.InvoiceNumber = "SETP990000001"

	c1, err := cufe.Calculate(p1)
	require.NoError(t, err)
	c2, err := cufe.Calculate(p2)
	require.NoError(t, err)
	assert.NotEqual(t, c1, c2)
}

func TestCalculate_SensitiveToEnvironmentDiscriminator(t *testing.T) {
	pHab := baseParams()
	pHab.Production = false
	pProd := baseParams()
	pProd.Production = true

	cHab, err := cufe.Calculate(pHab)
	require.NoError(t, err)
	cProd, err := cufe.Calculate(pProd)
	require.NoError(t, err)
	assert.NotEqual(t, cHab, cProd)
}

// TestCalculate_AbsentTaxEmitsNoFields verifies §4.4 item 5: a tax kind
// with no entry contributes nothing to the string, while an explicit
// zero-amount INC entry still contributes its three fields, so the two
// fingerprints differ.
func TestCalculate_AbsentTaxEmitsNoFields(t *testing.T) {
	withOnlyIVA := baseParams()
	withExplicitZeroINC := baseParams()
	withExplicitZeroINC.Taxes = append(withExplicitZeroINC.Taxes, entity.InvoiceTax{
		Kind: entity.TaxINC, Amount: decimal.Zero, TaxableBase: decimal.Zero,
	})

	c1, err := cufe.Calculate(withOnlyIVA)
	require.NoError(t, err)
	c2, err := cufe.Calculate(withExplicitZeroINC)
	require.NoError(t, err)
	assert.NotEqual(t, c1, c2, "an explicit zero-amount tax still emits its three fields, unlike an absent tax")
}

func TestCalculate_TaxOrderIsFixedRegardlessOfInputOrder(t *testing.T) {
	p1 := baseParams()
	p1.Taxes = []entity.InvoiceTax{
		{Kind: entity.TaxICA, Amount: decimal.NewFromInt(100), TaxableBase: decimal.NewFromInt(1000)},
		{Kind: entity.TaxIVA, Amount: decimal.NewFromInt(190_000), TaxableBase: decimal.NewFromInt(1_000_000)},
	}
	p2 := baseParams()
	p2.Taxes = []entity.InvoiceTax{
		{Kind: entity.TaxIVA, Amount: decimal.NewFromInt(190_000), TaxableBase: decimal.NewFromInt(1_000_000)},
		{Kind: entity.TaxICA, Amount: decimal.NewFromInt(100), TaxableBase: decimal.NewFromInt(1000)},
	}
	c1, err := cufe.Calculate(p1)
	require.NoError(t, err)
	c2, err := cufe.Calculate(p2)
	require.NoError(t, err)
	assert.Equal(t, c1, c2, "tax field order in the CUFE string must follow IVA,INC,ICA regardless of slice order")
}

func TestCalculate_ErrorsOnMissingRequiredFields(t *testing.T) {
	cases := map[string]func(*cufe.Params){
		"invoice number": func(p *cufe.Params) { p.InvoiceNumber = "" },
		"issuer tax id":  func(p *cufe.Params) { p.IssuerTaxIDDigits = "" },
		"customer id":    func(p *cufe.Params) { p.CustomerID = "" },
		"technical key":  func(p *cufe.Params) { p.TechnicalKey = "" },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			p := baseParams()
			mutate(&p)
			_, err := cufe.Calculate(p)
			assert.Error(t, err)
		})
	}
}
