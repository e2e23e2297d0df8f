package mef

import (
	"strings"
	"time"

	openapi_types "github.com/oapi-codegen/runtime/types"
	"github.com/shopspring/decimal"
)

// FilingStatus is the taxpayer's filing status as supplied by the return preparer.
type FilingStatus string

const (
	Single                    FilingStatus = "single"
	MarriedFilingJointly      FilingStatus = "married_filing_jointly"
	MarriedFilingSeparately   FilingStatus = "married_filing_separately"
	HeadOfHousehold           FilingStatus = "head_of_household"
	QualifyingSurvivingSpouse FilingStatus = "qualifying_surviving_spouse"
)

// Code returns the MeF IndividualReturnFilingStatusCd for the status, or ""
// when the status is unknown.
func (s FilingStatus) Code() string {
	switch s {
	case Single:
		return "1"
	case MarriedFilingJointly:
		return "2"
	case MarriedFilingSeparately:
		return "3"
	case HeadOfHousehold:
		return "4"
	case QualifyingSurvivingSpouse:
		return "5"
	default:
		return ""
	}
}

// TaxReturn is the already-computed return handed over by the preparation
// layer. It is never mutated here.
type TaxReturn struct {
	TaxYear       int          `json:"taxYear"`
	FilingStatus  FilingStatus `json:"filingStatus"`
	Taxpayer      Person       `json:"taxpayer"`
	Spouse        *Person      `json:"spouse,omitempty"`
	Address       Address      `json:"address"`
	Phone         string       `json:"phone,omitempty"`
	Email         string       `json:"email,omitempty"`
	DigitalAssets bool         `json:"digitalAssets"`
	Dependents    []Dependent  `json:"dependents"`
	Income        Income       `json:"income"`
	Deductions    Deductions   `json:"deductions"`
	Credits       Credits      `json:"credits"`
	Payments      Payments     `json:"payments"`
	Totals        Totals       `json:"totals"`
}

// Date is a calendar date as supplied by the caller. Any string decodes;
// malformed values reach the document verbatim and the format pass reports
// them.
type Date string

// DateOf formats t as a Date.
func DateOf(t time.Time) Date {
	return Date(openapi_types.Date{Time: t}.String())
}

// Parse reads d as YYYY-MM-DD.
func (d Date) Parse() (openapi_types.Date, bool) {
	var out openapi_types.Date
	if err := out.UnmarshalText([]byte(strings.TrimSpace(string(d)))); err != nil {
		return openapi_types.Date{}, false
	}
	return out, true
}

type Person struct {
	FirstName     string `json:"firstName"`
	MiddleInitial string `json:"middleInitial,omitempty"`
	LastName      string `json:"lastName"`
	SSN           string `json:"ssn"`
	DateOfBirth   Date   `json:"dateOfBirth,omitempty"`
	Occupation    string `json:"occupation,omitempty"`
}

type Address struct {
	Street    string `json:"street"`
	Apartment string `json:"apartment,omitempty"`
	City      string `json:"city"`
	State     string `json:"state"`
	ZIP       string `json:"zip"`
}

type Dependent struct {
	FirstName       string `json:"firstName"`
	LastName        string `json:"lastName"`
	SSN             string `json:"ssn"`
	Relationship    string `json:"relationship"`
	QualifyingChild *bool  `json:"qualifyingChild,omitempty"`
	DateOfBirth     Date   `json:"dateOfBirth,omitempty"`
	MonthsLivedWith int    `json:"monthsLivedWith,omitempty"`
}

type Income struct {
	Wages        decimal.Decimal `json:"wages"`
	Interest     decimal.Decimal `json:"interest"`
	Dividends    decimal.Decimal `json:"dividends"`
	CapitalGains decimal.Decimal `json:"capitalGains"`
	Business     decimal.Decimal `json:"business"`
	Other        decimal.Decimal `json:"other"`
	Total        decimal.Decimal `json:"total"`
	W2s          []W2            `json:"w2s,omitempty"`
}

// W2 is a wage statement summary; EmployerEIN is checked for shape only.
type W2 struct {
	EmployerEIN  string          `json:"employerEin"`
	EmployerName string          `json:"employerName"`
	Wages        decimal.Decimal `json:"wages"`
	Withholding  decimal.Decimal `json:"withholding"`
}

type Deductions struct {
	Standard bool            `json:"standard"`
	Itemized decimal.Decimal `json:"itemized"`
	Total    decimal.Decimal `json:"total"`
}

type Credits struct {
	ChildTax     decimal.Decimal `json:"childTax"`
	EarnedIncome decimal.Decimal `json:"earnedIncome"`
	Education    decimal.Decimal `json:"education"`
	Other        decimal.Decimal `json:"other"`
	Total        decimal.Decimal `json:"total"`
}

type Payments struct {
	FederalWithholding decimal.Decimal `json:"federalWithholding"`
	EstimatedPayments  decimal.Decimal `json:"estimatedPayments"`
	Other              decimal.Decimal `json:"other"`
	Total              decimal.Decimal `json:"total"`
}

type Totals struct {
	AdjustedGrossIncome decimal.Decimal `json:"adjustedGrossIncome"`
	TaxableIncome       decimal.Decimal `json:"taxableIncome"`
	TotalTax            decimal.Decimal `json:"totalTax"`
	Refund              decimal.Decimal `json:"refund"`
	AmountOwed          decimal.Decimal `json:"amountOwed"`
}

// Severity marks whether a finding blocks filing.
type Severity string

const (
	SeverityError   Severity = "error"
	SeverityWarning Severity = "warning"
)

// ValidationIssue is a single coded finding.
type ValidationIssue struct {
	Code     string   `json:"code"`
	Path     string   `json:"path"`
	Message  string   `json:"message"`
	RuleID   string   `json:"ruleId"`
	Severity Severity `json:"severity"`
	Pass     string   `json:"pass"`
}

// ValidationResult aggregates every pass. Valid is true iff there are no
// errors and both compliance flags hold.
type ValidationResult struct {
	Valid                  bool              `json:"valid"`
	Errors                 []string          `json:"errors"`
	Warnings               []string          `json:"warnings"`
	SchemaCompliant        bool              `json:"schema_compliant"`
	BusinessRulesCompliant bool              `json:"business_rules_compliant"`
	SectionsChecked        []string          `json:"sections_checked"`
	Issues                 []ValidationIssue `json:"issues"`
}
