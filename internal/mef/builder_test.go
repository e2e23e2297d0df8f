package mef

import (
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuild_Idempotent(t *testing.T) {
	b := NewBuilder(LoadConfig())
	first := b.Build(sampleReturn(), 2024)
	second := b.Build(sampleReturn(), 2024)

	assert.NotEqual(t, first.TransmissionID, second.TransmissionID)

	fp1, err := first.Fingerprint()
	require.NoError(t, err)
	fp2, err := second.Fingerprint()
	require.NoError(t, err)
	assert.Equal(t, fp1, fp2)
}

func TestBuild_FixedHooksAreByteIdentical(t *testing.T) {
	b := fixedBuilder()
	first, err := b.Build(sampleReturn(), 2024).MarshalIndent()
	require.NoError(t, err)
	second, err := b.Build(sampleReturn(), 2024).MarshalIndent()
	require.NoError(t, err)
	assert.Equal(t, string(first), string(second))
}

func TestBuild_EmptyDependentsStillEmitted(t *testing.T) {
	tr := sampleReturn()
	tr.Dependents = nil
	raw, err := fixedBuilder().Build(tr, 2024).MarshalIndent()
	require.NoError(t, err)
	assert.Contains(t, string(raw), "<Dependents></Dependents>")
}

func TestBuild_MissingAmountsDefaultToZero(t *testing.T) {
	doc := fixedBuilder().Build(TaxReturn{FilingStatus: Single}, 2024)
	rd := doc.Envelope.ReturnData
	assert.Equal(t, "0.00", rd.Income.TotalIncomeAmt)
	assert.Equal(t, "0.00", rd.Credits.EarnedIncomeCreditAmt)
	assert.Equal(t, "0.00", rd.Totals.RefundAmt)
	assert.Equal(t, "false", rd.DigitalAssetInd)
	assert.Empty(t, rd.VirtualCurrencyInd)
}

func TestBuild_OptionalNodesOmitted(t *testing.T) {
	tr := sampleReturn()
	tr.Taxpayer.MiddleInitial = ""
	tr.Address.Apartment = ""
	raw, err := fixedBuilder().Build(tr, 2024).MarshalIndent()
	require.NoError(t, err)
	assert.NotContains(t, string(raw), "<MiddleInitial>")
	assert.NotContains(t, string(raw), "<AddressLine2Txt>")
	assert.NotContains(t, string(raw), "<Spouse>")
}

func TestBuild_HeaderAndTestIndicator(t *testing.T) {
	b := fixedBuilder().WithTransmission(Transmission{EFIN: "123456", PTIN: "P01234567", TestMode: true})
	doc := b.Build(sampleReturn(), 2023)
	h := doc.Envelope.Header
	assert.Equal(t, "2023", h.TaxYr)
	assert.Equal(t, TestCd, h.ProductionTestCd)
	assert.Equal(t, "123456", h.EFIN)
	assert.Equal(t, "2023-04-01T12:00:00Z", h.Timestamp)
	assert.Equal(t, "2023v1.0", doc.Version)
	assert.Equal(t, Namespace, doc.Xmlns)
}

func TestBuild_MiddleInitialTruncated(t *testing.T) {
	tr := sampleReturn()
	tr.Taxpayer.MiddleInitial = "quincy"
	doc := fixedBuilder().Build(tr, 2024)
	assert.Equal(t, "Q", doc.Envelope.Taxpayer.PrimaryName.MiddleInitial)

	tr.Taxpayer.MiddleInitial = "élise"
	doc = fixedBuilder().Build(tr, 2024)
	assert.Equal(t, "É", doc.Envelope.Taxpayer.PrimaryName.MiddleInitial)
}

func TestBuild_Dates(t *testing.T) {
	tr := sampleReturn()
	doc := fixedBuilder().Build(tr, 2024)
	assert.Equal(t, "1985-06-15", doc.Envelope.Taxpayer.PrimaryDateOfBirth)
	assert.Equal(t, "2015-02-03", doc.Envelope.ReturnData.Dependents.Items[0].DateOfBirth)

	tr.Taxpayer.DateOfBirth = "06/15/1985"
	tr.Dependents[0].DateOfBirth = ""
	doc = fixedBuilder().Build(tr, 2024)
	assert.Equal(t, "06/15/1985", doc.Envelope.Taxpayer.PrimaryDateOfBirth)
	assert.Empty(t, doc.Envelope.ReturnData.Dependents.Items[0].DateOfBirth)
}

func TestBuild_VirtualCurrencyBefore2022(t *testing.T) {
	tr := sampleReturn()
	tr.DigitalAssets = true
	doc := fixedBuilder().Build(tr, 2021)
	assert.Equal(t, "true", doc.Envelope.ReturnData.VirtualCurrencyInd)
	assert.Empty(t, doc.Envelope.ReturnData.DigitalAssetInd)
}

func TestDocument_CloneIsDeep(t *testing.T) {
	tr := sampleReturn()
	tr.FilingStatus = MarriedFilingJointly
	tr.Spouse = &Person{FirstName: "Jamie", LastName: "Doe", SSN: "987-65-4321"}
	doc := fixedBuilder().Build(tr, 2024)
	c := doc.Clone()
	c.Envelope.Taxpayer.Spouse.SpouseSSN = "000-00-0000"
	c.Envelope.ReturnData.Dependents.Items[0].FirstName = "changed"
	assert.Equal(t, "987-65-4321", doc.Envelope.Taxpayer.Spouse.SpouseSSN)
	assert.Equal(t, "Ava", doc.Envelope.ReturnData.Dependents.Items[0].FirstName)
}

func TestParseDocument_RoundTrip(t *testing.T) {
	doc := fixedBuilder().Build(sampleReturn(), 2024)
	raw, err := doc.MarshalIndent()
	require.NoError(t, err)
	parsed, err := ParseDocument(raw)
	require.NoError(t, err)
	assert.Equal(t, doc.TransmissionID, parsed.TransmissionID)
	assert.Equal(t, doc.Envelope.ReturnData.Income, parsed.Envelope.ReturnData.Income)

	_, err = ParseDocument([]byte("<MeFTransmission"))
	require.Error(t, err)
}

func fixedBuilder() Builder {
	b := NewBuilder(LoadConfig())
	b.NewID = func() string { return "00000000-0000-0000-0000-000000000001" }
	b.Now = func() time.Time { return time.Date(2023, 4, 1, 12, 0, 0, 0, time.UTC) }
	return b
}

func sampleReturn() TaxReturn {
	yes := true
	return TaxReturn{
		TaxYear:      2024,
		FilingStatus: HeadOfHousehold,
		Taxpayer: Person{
			FirstName:     "Alex",
			MiddleInitial: "J",
			LastName:      "Doe",
			SSN:           "123-45-6789",
			DateOfBirth:   DateOf(time.Date(1985, 6, 15, 0, 0, 0, 0, time.UTC)),
			Occupation:    "Engineer",
		},
		Address: Address{Street: "1 Main St", Apartment: "4B", City: "Springfield", State: "il", ZIP: "62701"},
		Phone:   "217-555-0100",
		Email:   "alex@example.com",
		Dependents: []Dependent{{
			FirstName:       "Ava",
			LastName:        "Doe",
			SSN:             "111-22-3333",
			Relationship:    "daughter",
			QualifyingChild: &yes,
			DateOfBirth:     "2015-02-03",
			MonthsLivedWith: 12,
		}},
		Income: Income{
			Wages:    dec("85000"),
			Interest: dec("120.50"),
			Total:    dec("85120.50"),
			W2s: []W2{{
				EmployerEIN:  "12-3456789",
				EmployerName: "ACME",
				Wages:        dec("85000"),
				Withholding:  dec("9000"),
			}},
		},
		Deductions: Deductions{Standard: true, Total: dec("21900")},
		Credits:    Credits{ChildTax: dec("2000"), Total: dec("2000")},
		Payments:   Payments{FederalWithholding: dec("9000"), Total: dec("9000")},
		Totals: Totals{
			AdjustedGrossIncome: dec("85120.50"),
			TaxableIncome:       dec("63220.50"),
			TotalTax:            dec("5300"),
			Refund:              dec("3700"),
		},
	}
}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(strings.TrimSpace(s))
}
