package mef

import "fmt"

// SchemaProfile lists what the MeF schema of one tax year mandates.
type SchemaProfile struct {
	TaxYear       int
	Version       string
	RequiredPaths []string
	// RequiredText are leaf paths that must also carry non-empty text.
	RequiredText []string
}

var baseContainers = []string{
	"TransmissionEnvelope",
	"TransmissionEnvelope/TransmissionHeader",
	"TransmissionEnvelope/Taxpayer",
	"TransmissionEnvelope/Taxpayer/PrimaryName",
	"TransmissionEnvelope/Taxpayer/USAddress",
	"TransmissionEnvelope/ReturnData",
	"TransmissionEnvelope/ReturnData/Dependents",
	"TransmissionEnvelope/ReturnData/Income",
	"TransmissionEnvelope/ReturnData/Deductions",
	"TransmissionEnvelope/ReturnData/Credits",
	"TransmissionEnvelope/ReturnData/Payments",
	"TransmissionEnvelope/ReturnData/ComputedTotals",
}

var baseText = []string{
	"TransmissionEnvelope/TransmissionHeader/Timestamp",
	"TransmissionEnvelope/TransmissionHeader/TaxYr",
	"TransmissionEnvelope/TransmissionHeader/TransmissionTypeCd",
	"TransmissionEnvelope/TransmissionHeader/ProductionTestCd",
	"TransmissionEnvelope/Taxpayer/PrimarySSN",
	"TransmissionEnvelope/Taxpayer/PrimaryName/FirstName",
	"TransmissionEnvelope/Taxpayer/PrimaryName/LastName",
	"TransmissionEnvelope/Taxpayer/USAddress/AddressLine1Txt",
	"TransmissionEnvelope/Taxpayer/USAddress/CityNm",
	"TransmissionEnvelope/Taxpayer/USAddress/StateAbbreviationCd",
	"TransmissionEnvelope/Taxpayer/USAddress/ZIPCd",
	"TransmissionEnvelope/ReturnData/IndividualReturnFilingStatusCd",
	"TransmissionEnvelope/ReturnData/Income/TotalIncomeAmt",
	"TransmissionEnvelope/ReturnData/Deductions/TotalDeductionsAmt",
	"TransmissionEnvelope/ReturnData/Credits/TotalCreditsAmt",
	"TransmissionEnvelope/ReturnData/Payments/TotalPaymentsAmt",
	"TransmissionEnvelope/ReturnData/ComputedTotals/AdjustedGrossIncomeAmt",
	"TransmissionEnvelope/ReturnData/ComputedTotals/TaxableIncomeAmt",
	"TransmissionEnvelope/ReturnData/ComputedTotals/TotalTaxAmt",
}

// The digital asset question was asked as "virtual currency" before TY2022.
const digitalAssetRenameYear = 2022

// ProfileFor returns the schema profile for a tax year, or false when the
// year is not in the supported list.
func ProfileFor(taxYear int, supported []int) (SchemaProfile, bool) {
	ok := false
	for _, y := range supported {
		if y == taxYear {
			ok = true
			break
		}
	}
	return profile(taxYear), ok
}

func profile(taxYear int) SchemaProfile {
	text := append([]string(nil), baseText...)
	text = append(text, "TransmissionEnvelope/ReturnData/"+digitalAssetElement(taxYear))
	return SchemaProfile{
		TaxYear:       taxYear,
		Version:       fmt.Sprintf("%dv1.0", taxYear),
		RequiredPaths: append([]string(nil), baseContainers...),
		RequiredText:  text,
	}
}

func digitalAssetElement(taxYear int) string {
	if taxYear < digitalAssetRenameYear {
		return "VirtualCurrencyInd"
	}
	return "DigitalAssetInd"
}
