package mef

import (
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	openapi_types "github.com/oapi-codegen/runtime/types"
	"github.com/shopspring/decimal"
)

// Transmission carries per-attempt header values that are not part of the return.
type Transmission struct {
	EFIN     string
	PTIN     string
	TestMode bool
}

// Builder turns a TaxReturn into a Document. NewID and Now are the only
// sources of variation between two builds of the same return.
type Builder struct {
	TransmissionTypeCd string
	Transmission       Transmission
	NewID              func() string
	Now                func() time.Time
}

func NewBuilder(cfg Config) Builder {
	return Builder{
		TransmissionTypeCd: cfg.TransmissionTypeCd,
		NewID:              uuid.NewString,
		Now:                time.Now,
	}
}

// WithTransmission returns a copy of the builder bound to one filing attempt.
func (b Builder) WithTransmission(t Transmission) Builder {
	b.Transmission = t
	return b
}

// Build never fails: absent optional values are omitted and absent amounts
// render as "0.00".
func (b Builder) Build(tr TaxReturn, taxYear int) Document {
	newID := b.NewID
	if newID == nil {
		newID = uuid.NewString
	}
	now := b.Now
	if now == nil {
		now = time.Now
	}
	typeCd := b.TransmissionTypeCd
	if typeCd == "" {
		typeCd = "1040"
	}
	prodCd := ProductionCd
	if b.Transmission.TestMode {
		prodCd = TestCd
	}

	doc := Document{
		Xmlns:          Namespace,
		Version:        profile(taxYear).Version,
		TransmissionID: newID(),
		Envelope: TransmissionEnvelope{
			Header: TransmissionHeader{
				Timestamp:          now().UTC().Format(time.RFC3339),
				TaxYr:              strconv.Itoa(taxYear),
				TransmissionTypeCd: typeCd,
				ProductionTestCd:   prodCd,
				EFIN:               b.Transmission.EFIN,
				PTIN:               b.Transmission.PTIN,
			},
			Taxpayer:   buildTaxpayer(tr),
			ReturnData: buildReturnData(tr, taxYear),
		},
	}
	return doc
}

func buildTaxpayer(tr TaxReturn) TaxpayerBlock {
	tp := TaxpayerBlock{
		PrimarySSN:         strings.TrimSpace(tr.Taxpayer.SSN),
		PrimaryName:        buildName(tr.Taxpayer),
		PrimaryDateOfBirth: formatDate(tr.Taxpayer.DateOfBirth),
		PrimaryOccupation:  strings.TrimSpace(tr.Taxpayer.Occupation),
		USAddress: USAddress{
			AddressLine1: strings.TrimSpace(tr.Address.Street),
			AddressLine2: strings.TrimSpace(tr.Address.Apartment),
			City:         strings.TrimSpace(tr.Address.City),
			State:        strings.ToUpper(strings.TrimSpace(tr.Address.State)),
			ZIPCode:      strings.TrimSpace(tr.Address.ZIP),
		},
		PhoneNum:     strings.TrimSpace(tr.Phone),
		EmailAddress: strings.TrimSpace(tr.Email),
	}
	if tr.Spouse != nil {
		tp.Spouse = &SpouseBlock{
			SpouseSSN:         strings.TrimSpace(tr.Spouse.SSN),
			SpouseName:        buildName(*tr.Spouse),
			SpouseDateOfBirth: formatDate(tr.Spouse.DateOfBirth),
			SpouseOccupation:  strings.TrimSpace(tr.Spouse.Occupation),
		}
	}
	return tp
}

func buildName(p Person) NameBlock {
	mi := []rune(strings.TrimSpace(p.MiddleInitial))
	if len(mi) > 1 {
		mi = mi[:1]
	}
	return NameBlock{
		FirstName:     strings.TrimSpace(p.FirstName),
		MiddleInitial: strings.ToUpper(string(mi)),
		LastName:      strings.TrimSpace(p.LastName),
	}
}

func buildReturnData(tr TaxReturn, taxYear int) ReturnData {
	rd := ReturnData{
		ID:             ReturnDataID,
		FilingStatusCd: tr.FilingStatus.Code(),
		Dependents:     DependentsBlock{Items: make([]DependentDetail, 0, len(tr.Dependents))},
		Income: IncomeBlock{
			WagesAmt:              amount(tr.Income.Wages),
			TaxableInterestAmt:    amount(tr.Income.Interest),
			OrdinaryDividendsAmt:  amount(tr.Income.Dividends),
			CapitalGainLossAmt:    amount(tr.Income.CapitalGains),
			BusinessIncomeLossAmt: amount(tr.Income.Business),
			OtherIncomeAmt:        amount(tr.Income.Other),
			TotalIncomeAmt:        amount(tr.Income.Total),
		},
		Deductions: DeductionsBlock{
			ItemizedDeductionsAmt: amount(tr.Deductions.Itemized),
			TotalDeductionsAmt:    amount(tr.Deductions.Total),
		},
		Credits: CreditsBlock{
			ChildTaxCreditAmt:     amount(tr.Credits.ChildTax),
			EarnedIncomeCreditAmt: amount(tr.Credits.EarnedIncome),
			EducationCreditAmt:    amount(tr.Credits.Education),
			OtherCreditsAmt:       amount(tr.Credits.Other),
			TotalCreditsAmt:       amount(tr.Credits.Total),
		},
		Payments: PaymentsBlock{
			FederalWithholdingAmt:   amount(tr.Payments.FederalWithholding),
			EstimatedTaxPaymentsAmt: amount(tr.Payments.EstimatedPayments),
			OtherPaymentsAmt:        amount(tr.Payments.Other),
			TotalPaymentsAmt:        amount(tr.Payments.Total),
		},
		Totals: ComputedTotals{
			AdjustedGrossIncomeAmt: amount(tr.Totals.AdjustedGrossIncome),
			TaxableIncomeAmt:       amount(tr.Totals.TaxableIncome),
			TotalTaxAmt:            amount(tr.Totals.TotalTax),
			RefundAmt:              amount(tr.Totals.Refund),
			OwedAmt:                amount(tr.Totals.AmountOwed),
		},
	}

	if digitalAssetElement(taxYear) == "VirtualCurrencyInd" {
		rd.VirtualCurrencyInd = yesNo(tr.DigitalAssets)
	} else {
		rd.DigitalAssetInd = yesNo(tr.DigitalAssets)
	}
	if tr.Deductions.Standard {
		rd.Deductions.StandardDeductionInd = "X"
	}

	for _, dep := range tr.Dependents {
		detail := DependentDetail{
			FirstName:      strings.TrimSpace(dep.FirstName),
			LastName:       strings.TrimSpace(dep.LastName),
			SSN:            strings.TrimSpace(dep.SSN),
			RelationshipCd: strings.ToUpper(strings.TrimSpace(dep.Relationship)),
			DateOfBirth:    formatDate(dep.DateOfBirth),
		}
		if dep.QualifyingChild != nil {
			detail.QualifyingChildInd = strconv.FormatBool(*dep.QualifyingChild)
		}
		if dep.MonthsLivedWith > 0 {
			detail.MonthsLivedWithNum = strconv.Itoa(dep.MonthsLivedWith)
		}
		rd.Dependents.Items = append(rd.Dependents.Items, detail)
	}

	for _, w2 := range tr.Income.W2s {
		rd.Income.W2Forms = append(rd.Income.W2Forms, W2Summary{
			EmployerEIN:    strings.TrimSpace(w2.EmployerEIN),
			EmployerName:   strings.TrimSpace(w2.EmployerName),
			WagesAmt:       amount(w2.Wages),
			WithholdingAmt: amount(w2.Withholding),
		})
	}
	return rd
}

func amount(d decimal.Decimal) string {
	return d.StringFixed(2)
}

// formatDate normalizes a parseable date and passes anything else through
// for the format pass to report.
func formatDate(d Date) string {
	raw := strings.TrimSpace(string(d))
	if raw == "" {
		return ""
	}
	parsed, ok := d.Parse()
	if !ok {
		return raw
	}
	return parsed.Time.Format(openapi_types.DateFormat)
}

func yesNo(b bool) string {
	if b {
		return "true"
	}
	return "false"
}
