package mef

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// Rule is one business rule. Check must not mutate the document.
type Rule struct {
	ID          string
	Description string
	Check       func(Document) RuleFindings
}

// RuleFindings is what a rule reports for one document.
type RuleFindings struct {
	Issues []ValidationIssue
}

func (f *RuleFindings) Error(code, path, message string) {
	f.Issues = append(f.Issues, errItem(code, path, message, ""))
}

func (f *RuleFindings) Warn(code, path, message string) {
	f.Issues = append(f.Issues, warnItem(code, path, message, ""))
}

func (f RuleFindings) HasErrors() bool {
	for _, i := range f.Issues {
		if i.Severity == SeverityError {
			return true
		}
	}
	return false
}

const (
	returnDataPath = "/MeFTransmission/TransmissionEnvelope/ReturnData"
	taxpayerPath   = "/MeFTransmission/TransmissionEnvelope/Taxpayer"
)

// DefaultRules returns the built-in rules in evaluation order.
func DefaultRules(cfg Config) []Rule {
	return []Rule{
		{ID: "BR-FS-001", Description: "joint returns carry spouse information", Check: checkJointSpouse},
		{ID: "BR-DEP-001", Description: "dependents are complete", Check: checkDependents(cfg.MaxDependents)},
		{ID: "BR-INC-001", Description: "income is plausible", Check: checkIncome(cfg.LargeIncomeThreshold)},
		{ID: "BR-DED-001", Description: "deductions are not negative", Check: checkDeductions},
		{ID: "BR-CRD-001", Description: "EITC investment income limit", Check: checkEITC(cfg.EITCInvestmentIncomeLimit)},
		{ID: "BR-SPS-001", Description: "spouse SSN differs from primary SSN", Check: checkSpouseSSN},
		{ID: "BR-PAY-001", Description: "refund and balance due are exclusive", Check: checkRefundOwed},
	}
}

func checkJointSpouse(d Document) RuleFindings {
	var f RuleFindings
	if d.Envelope.ReturnData.FilingStatusCd != MarriedFilingJointly.Code() {
		return f
	}
	sp := d.Envelope.Taxpayer.Spouse
	if sp == nil || strings.TrimSpace(sp.SpouseSSN) == "" || strings.TrimSpace(sp.SpouseName.FirstName) == "" {
		f.Error("BR-FS-001", taxpayerPath+"/Spouse", "married filing jointly requires spouse information")
	}
	return f
}

func checkDependents(max int) func(Document) RuleFindings {
	return func(d Document) RuleFindings {
		var f RuleFindings
		items := d.Envelope.ReturnData.Dependents.Items
		if max > 0 && len(items) > max {
			f.Error("BR-DEP-001", returnDataPath+"/Dependents", fmt.Sprintf("at most %d dependents are allowed, got %d", max, len(items)))
		}
		for i, dep := range items {
			path := fmt.Sprintf("%s/Dependents/DependentDetail[%d]", returnDataPath, i+1)
			var missing []string
			if dep.FirstName == "" {
				missing = append(missing, "DependentFirstNm")
			}
			if dep.LastName == "" {
				missing = append(missing, "DependentLastNm")
			}
			if dep.SSN == "" {
				missing = append(missing, "DependentSSN")
			}
			if dep.RelationshipCd == "" {
				missing = append(missing, "DependentRelationshipCd")
			}
			if dep.QualifyingChildInd == "" {
				missing = append(missing, "QualifyingChildInd")
			}
			if len(missing) > 0 {
				f.Error("BR-DEP-001", path, "dependent is missing "+strings.Join(missing, ", "))
			}
			if dep.SSN != "" && !ValidSSN(dep.SSN) {
				f.Error("BR-DEP-001", path+"/DependentSSN", "dependent SSN must match NNN-NN-NNNN")
			}
		}
		return f
	}
}

func checkIncome(threshold decimal.Decimal) func(Document) RuleFindings {
	return func(d Document) RuleFindings {
		var f RuleFindings
		total, ok := amountValue(d.Envelope.ReturnData.Income.TotalIncomeAmt)
		if !ok {
			return f
		}
		path := returnDataPath + "/Income/TotalIncomeAmt"
		if total.IsNegative() {
			f.Warn("BR-INC-001", path, "total income is negative")
		}
		if threshold.IsPositive() && total.GreaterThan(threshold) {
			f.Warn("BR-INC-002", path, "total income exceeds "+threshold.StringFixed(2)+" and may be selected for review")
		}
		return f
	}
}

func checkDeductions(d Document) RuleFindings {
	var f RuleFindings
	ded := d.Envelope.ReturnData.Deductions
	if v, ok := amountValue(ded.TotalDeductionsAmt); ok && v.IsNegative() {
		f.Error("BR-DED-001", returnDataPath+"/Deductions/TotalDeductionsAmt", "total deductions cannot be negative")
	}
	if v, ok := amountValue(ded.ItemizedDeductionsAmt); ok && v.IsNegative() {
		f.Error("BR-DED-001", returnDataPath+"/Deductions/ItemizedDeductionsAmt", "itemized deductions cannot be negative")
	}
	return f
}

func checkEITC(limit decimal.Decimal) func(Document) RuleFindings {
	return func(d Document) RuleFindings {
		var f RuleFindings
		eitc, ok := amountValue(d.Envelope.ReturnData.Credits.EarnedIncomeCreditAmt)
		if !ok || !eitc.IsPositive() {
			return f
		}
		inc := d.Envelope.ReturnData.Income
		investment := decimal.Zero
		for _, raw := range []string{inc.TaxableInterestAmt, inc.OrdinaryDividendsAmt} {
			if v, ok := amountValue(raw); ok {
				investment = investment.Add(v)
			}
		}
		if v, ok := amountValue(inc.CapitalGainLossAmt); ok && v.IsPositive() {
			investment = investment.Add(v)
		}
		if investment.GreaterThan(limit) {
			f.Warn("BR-CRD-001", returnDataPath+"/Credits/EarnedIncomeCreditAmt",
				"investment income "+investment.StringFixed(2)+" exceeds the EITC limit of "+limit.StringFixed(2))
		}
		return f
	}
}

func checkSpouseSSN(d Document) RuleFindings {
	var f RuleFindings
	sp := d.Envelope.Taxpayer.Spouse
	if sp == nil || sp.SpouseSSN == "" {
		return f
	}
	if sp.SpouseSSN == d.Envelope.Taxpayer.PrimarySSN {
		f.Error("BR-SPS-001", taxpayerPath+"/Spouse/SpouseSSN", "spouse SSN must differ from primary SSN")
	}
	return f
}

func checkRefundOwed(d Document) RuleFindings {
	var f RuleFindings
	t := d.Envelope.ReturnData.Totals
	refund, ok1 := amountValue(t.RefundAmt)
	owed, ok2 := amountValue(t.OwedAmt)
	if ok1 && ok2 && refund.IsPositive() && owed.IsPositive() {
		f.Error("BR-PAY-001", returnDataPath+"/ComputedTotals", "a return cannot show both a refund and an amount owed")
	}
	return f
}

func amountValue(raw string) (decimal.Decimal, bool) {
	if strings.TrimSpace(raw) == "" {
		return decimal.Zero, false
	}
	v, _, ok := ParseAmount(raw)
	return v, ok
}
