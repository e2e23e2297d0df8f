package mef

import (
	"strings"
	"testing"
	"testing/fstest"

	"github.com/jacoelho/xsd"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestValidator(t *testing.T, extra ...Rule) Validator {
	t.Helper()
	v, err := NewValidator(LoadConfig(), extra...)
	require.NoError(t, err)
	return v
}

func TestValidate_CompleteReturnIsValid(t *testing.T) {
	v := newTestValidator(t)
	res := v.Validate(fixedBuilder().Build(sampleReturn(), 2024))
	require.True(t, res.Valid, "errors: %v", res.Errors)
	assert.Empty(t, res.Errors)
	assert.True(t, res.SchemaCompliant)
	assert.True(t, res.BusinessRulesCompliant)
	assert.Contains(t, res.SectionsChecked, PassStructure)
	assert.Contains(t, res.SectionsChecked, PassFormat)
	assert.Contains(t, res.SectionsChecked, PassRules+":BR-FS-001")
}

func TestValidate_MalformedSSN(t *testing.T) {
	v := newTestValidator(t)
	for _, ssn := range []string{"123456789", "123-45-678", "abc-de-fghi"} {
		t.Run(ssn, func(t *testing.T) {
			tr := sampleReturn()
			tr.Taxpayer.SSN = ssn
			res := v.Validate(fixedBuilder().Build(tr, 2024))
			assert.False(t, res.Valid)
			assert.False(t, res.SchemaCompliant)
			require.NotEmpty(t, res.Errors)
			assert.True(t, containsText(res.Errors, "SSN"), "errors: %v", res.Errors)
		})
	}
}

func TestValidate_MalformedDependentSSNFailsRule(t *testing.T) {
	v := newTestValidator(t)
	tr := sampleReturn()
	tr.Dependents[0].SSN = "111223333"
	res := v.Validate(fixedBuilder().Build(tr, 2024))
	assert.False(t, res.Valid)
	assert.False(t, res.BusinessRulesCompliant)
	assert.True(t, hasIssue(res, "BR-DEP-001"))
}

func TestValidate_MarriedJointlyRequiresSpouse(t *testing.T) {
	v := newTestValidator(t)
	tr := sampleReturn()
	tr.FilingStatus = MarriedFilingJointly

	res := v.Validate(fixedBuilder().Build(tr, 2024))
	assert.False(t, res.Valid)
	assert.False(t, res.BusinessRulesCompliant)
	assert.True(t, hasIssue(res, "BR-FS-001"))

	tr.Spouse = &Person{FirstName: "Jamie", LastName: "Doe", SSN: "987-65-4321"}
	res = v.Validate(fixedBuilder().Build(tr, 2024))
	assert.False(t, hasIssue(res, "BR-FS-001"))
	assert.True(t, res.Valid, "errors: %v", res.Errors)
}

func TestValidate_NegativeIncomeIsWarning(t *testing.T) {
	v := newTestValidator(t)
	tr := sampleReturn()
	tr.Income.Total = decimal.RequireFromString("-1000.00")
	res := v.Validate(fixedBuilder().Build(tr, 2024))
	assert.True(t, res.Valid, "errors: %v", res.Errors)
	assert.NotEmpty(t, res.Warnings)
	assert.True(t, hasIssue(res, "BR-INC-001"))
}

func TestValidate_LargeIncomeIsWarning(t *testing.T) {
	v := newTestValidator(t)
	tr := sampleReturn()
	tr.Income.Total = decimal.RequireFromString("25000000")
	res := v.Validate(fixedBuilder().Build(tr, 2024))
	assert.True(t, res.Valid)
	assert.True(t, hasIssue(res, "BR-INC-002"))
}

func TestValidate_NegativeDeductionsIsError(t *testing.T) {
	v := newTestValidator(t)
	tr := sampleReturn()
	tr.Deductions.Total = decimal.RequireFromString("-5")
	res := v.Validate(fixedBuilder().Build(tr, 2024))
	assert.False(t, res.Valid)
	assert.True(t, res.SchemaCompliant)
	assert.False(t, res.BusinessRulesCompliant)
}

func TestValidate_EITCWithInvestmentIncomeIsWarning(t *testing.T) {
	v := newTestValidator(t)
	tr := sampleReturn()
	tr.Credits.EarnedIncome = decimal.RequireFromString("600")
	tr.Income.Dividends = decimal.RequireFromString("15000")
	res := v.Validate(fixedBuilder().Build(tr, 2024))
	assert.True(t, res.Valid)
	assert.True(t, hasIssue(res, "BR-CRD-001"))

	cfg := LoadConfig()
	cfg.EITCInvestmentIncomeLimit = decimal.RequireFromString("50000")
	relaxed, err := NewValidator(cfg)
	require.NoError(t, err)
	res = relaxed.Validate(fixedBuilder().Build(tr, 2024))
	assert.False(t, hasIssue(res, "BR-CRD-001"))
}

func TestValidate_RefundAndOwedIsError(t *testing.T) {
	v := newTestValidator(t)
	tr := sampleReturn()
	tr.Totals.AmountOwed = decimal.RequireFromString("10")
	res := v.Validate(fixedBuilder().Build(tr, 2024))
	assert.False(t, res.Valid)
	assert.True(t, hasIssue(res, "BR-PAY-001"))
}

func TestValidate_CollectsAllFindings(t *testing.T) {
	v := newTestValidator(t)
	tr := sampleReturn()
	tr.Taxpayer.SSN = "bad"
	tr.Address.ZIP = "1234"
	tr.FilingStatus = MarriedFilingJointly
	tr.Deductions.Total = decimal.RequireFromString("-1")
	res := v.Validate(fixedBuilder().Build(tr, 2024))
	assert.GreaterOrEqual(t, len(res.Errors), 4)
	assert.False(t, res.SchemaCompliant)
	assert.False(t, res.BusinessRulesCompliant)
}

func TestValidate_UnsupportedTaxYear(t *testing.T) {
	v := newTestValidator(t)
	res := v.Validate(fixedBuilder().Build(sampleReturn(), 2015))
	assert.False(t, res.Valid)
	assert.True(t, hasIssue(res, "MEF-STR-004"))
}

func TestValidateXML_NonCanonicalCurrencyIsWarning(t *testing.T) {
	v := newTestValidator(t)
	raw, err := fixedBuilder().Build(sampleReturn(), 2024).MarshalIndent()
	require.NoError(t, err)
	raw = []byte(strings.Replace(string(raw), "<WagesAmt>85000.00</WagesAmt>", "<WagesAmt>$85,000.00</WagesAmt>", 1))

	res := v.ValidateXML(raw)
	assert.True(t, res.Valid, "errors: %v", res.Errors)
	assert.True(t, hasIssue(res, "MEF-FMT-006"))
}

func TestValidateXML_MissingElement(t *testing.T) {
	v := newTestValidator(t)
	raw, err := fixedBuilder().Build(sampleReturn(), 2024).MarshalIndent()
	require.NoError(t, err)
	s := string(raw)
	start := strings.Index(s, "<Credits>")
	end := strings.Index(s, "</Credits>") + len("</Credits>")
	require.Positive(t, start)
	raw = []byte(s[:start] + s[end:])

	res := v.ValidateXML(raw)
	assert.False(t, res.Valid)
	assert.False(t, res.SchemaCompliant)
	assert.True(t, containsText(res.Errors, "Credits"), "errors: %v", res.Errors)
}

func TestValidateXML_Malformed(t *testing.T) {
	v := newTestValidator(t)
	res := v.ValidateXML([]byte("<MeFTransmission><unclosed>"))
	assert.False(t, res.Valid)
	assert.Equal(t, []string{PassStructure}, res.SectionsChecked)
}

func TestValidateXML_WrongRootElement(t *testing.T) {
	v := newTestValidator(t)
	raw, err := fixedBuilder().Build(sampleReturn(), 2024).MarshalIndent()
	require.NoError(t, err)
	raw = []byte(strings.ReplaceAll(string(raw), "MeFTransmission", "Transmission"))

	res := v.ValidateXML(raw)
	assert.False(t, res.Valid)
	assert.False(t, res.SchemaCompliant)
	assert.True(t, hasIssue(res, "MEF-STR-001"), "errors: %v", res.Errors)
	assert.Contains(t, res.SectionsChecked, PassFormat)
	assert.NotContains(t, res.SectionsChecked, PassRules+":BR-FS-001")
}

func TestNewValidator_ZeroConfigAcceptsDefaultYears(t *testing.T) {
	v, err := NewValidator(Config{})
	require.NoError(t, err)
	res := v.Validate(fixedBuilder().Build(sampleReturn(), 2024))
	assert.False(t, hasIssue(res, "MEF-STR-004"), "errors: %v", res.Errors)
	assert.True(t, res.Valid, "errors: %v", res.Errors)
}

func TestValidate_MalformedEmailAndDateAreFormatFindings(t *testing.T) {
	v := newTestValidator(t)
	tr := sampleReturn()
	tr.Email = "not-an-email"
	tr.Taxpayer.DateOfBirth = "1985-13-40"
	tr.Taxpayer.SSN = "123456789"

	res := v.Validate(fixedBuilder().Build(tr, 2024))
	assert.False(t, res.SchemaCompliant)
	assert.True(t, hasIssue(res, "MEF-FMT-001"))
	assert.True(t, hasIssue(res, "MEF-FMT-005"))
	assert.True(t, hasIssue(res, "MEF-FMT-007"))
}

func TestValidateXML_WrongNamespace(t *testing.T) {
	v := newTestValidator(t)
	raw, err := fixedBuilder().Build(sampleReturn(), 2024).MarshalIndent()
	require.NoError(t, err)
	raw = []byte(strings.Replace(string(raw), Namespace, "urn:other", 1))
	res := v.ValidateXML(raw)
	assert.True(t, hasIssue(res, "MEF-STR-002"))
}

func TestValidator_CustomRule(t *testing.T) {
	noPOBox := Rule{
		ID: "BR-ADR-900",
		Check: func(d Document) RuleFindings {
			var f RuleFindings
			if strings.HasPrefix(strings.ToUpper(d.Envelope.Taxpayer.USAddress.AddressLine1), "PO BOX") {
				f.Error("BR-ADR-900", taxpayerPath+"/USAddress", "PO boxes are not accepted")
			}
			return f
		},
	}
	tr := sampleReturn()
	tr.Address.Street = "PO Box 12"
	doc := fixedBuilder().Build(tr, 2024)

	base := newTestValidator(t)
	assert.True(t, base.Validate(doc).Valid)

	extended := base.WithRules(noPOBox)
	res := extended.Validate(doc)
	assert.False(t, res.Valid)
	assert.True(t, hasIssue(res, "BR-ADR-900"))
	assert.Len(t, base.Rules, len(DefaultRules(LoadConfig())))
}

const laxSchema = `<?xml version="1.0"?>
<xs:schema xmlns:xs="http://www.w3.org/2001/XMLSchema"
           targetNamespace="http://www.irs.gov/efile"
           elementFormDefault="qualified">
  <xs:element name="MeFTransmission">
    <xs:complexType>
      <xs:sequence>
        <xs:any processContents="lax" minOccurs="0" maxOccurs="unbounded"/>
      </xs:sequence>
      <xs:anyAttribute processContents="lax"/>
    </xs:complexType>
  </xs:element>
</xs:schema>`

func TestValidate_XSDPass(t *testing.T) {
	schema, err := xsd.Load(fstest.MapFS{"mef.xsd": &fstest.MapFile{Data: []byte(laxSchema)}}, "mef.xsd")
	require.NoError(t, err)
	v := newTestValidator(t)
	v.Schema = schema

	raw, err := fixedBuilder().Build(sampleReturn(), 2024).MarshalIndent()
	require.NoError(t, err)
	res := v.ValidateXML(raw)
	assert.True(t, res.Valid, "errors: %v", res.Errors)
	assert.Contains(t, res.SectionsChecked, PassXSD)

	res = v.ValidateXML([]byte(strings.Replace(string(raw), Namespace, "urn:other", 1)))
	assert.False(t, res.SchemaCompliant)
	xsdErrors := 0
	for _, i := range res.Issues {
		if i.Pass == PassXSD {
			xsdErrors++
		}
	}
	assert.Positive(t, xsdErrors)
}

func TestParseAmount(t *testing.T) {
	v, canonical, ok := ParseAmount("1,234.50")
	assert.True(t, ok)
	assert.False(t, canonical)
	assert.Equal(t, "1234.5", v.String())

	_, canonical, ok = ParseAmount("-12.00")
	assert.True(t, ok)
	assert.True(t, canonical)

	_, _, ok = ParseAmount("twelve")
	assert.False(t, ok)
}

func hasIssue(res ValidationResult, code string) bool {
	for _, i := range res.Issues {
		if i.Code == code || i.RuleID == code {
			return true
		}
	}
	return false
}

func containsText(lines []string, needle string) bool {
	for _, l := range lines {
		if strings.Contains(l, needle) {
			return true
		}
	}
	return false
}
