package mef

import (
	"regexp"
	"strings"
	"time"

	"github.com/beevik/etree"
	"github.com/shopspring/decimal"
)

var (
	ssnPattern       = regexp.MustCompile(`^\d{3}-\d{2}-\d{4}$`)
	einPattern       = regexp.MustCompile(`^\d{2}-\d{7}$`)
	zipPattern       = regexp.MustCompile(`^\d{5}(-\d{4})?$`)
	phonePattern     = regexp.MustCompile(`^\d{3}-\d{3}-\d{4}$`)
	emailPattern     = regexp.MustCompile(`^[A-Za-z0-9._%+\-]+@[A-Za-z0-9.\-]+\.[A-Za-z]{2,}$`)
	currencyPattern  = regexp.MustCompile(`^-?\d+(\.\d{2})?$`)
	datePattern      = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}$`)
	taxYearPattern   = regexp.MustCompile(`^\d{4}$`)
	filingCdPattern  = regexp.MustCompile(`^[1-5]$`)
	stateCodePattern = regexp.MustCompile(`^[A-Z]{2}$`)
)

// ValidSSN reports whether s has the NNN-NN-NNNN shape.
func ValidSSN(s string) bool { return ssnPattern.MatchString(s) }

// ValidEIN reports whether s has the NN-NNNNNNN shape.
func ValidEIN(s string) bool { return einPattern.MatchString(s) }

func ValidZIP(s string) bool { return zipPattern.MatchString(s) }

func ValidPhone(s string) bool { return phonePattern.MatchString(s) }

func ValidEmail(s string) bool { return emailPattern.MatchString(s) }

func ValidDate(s string) bool {
	if !datePattern.MatchString(s) {
		return false
	}
	_, err := time.Parse("2006-01-02", s)
	return err == nil
}

// ParseAmount reads a currency string, tolerating thousands separators and a
// leading dollar sign. canonical is false when such tolerance was needed.
func ParseAmount(s string) (value decimal.Decimal, canonical bool, ok bool) {
	s = strings.TrimSpace(s)
	if currencyPattern.MatchString(s) {
		d, err := decimal.NewFromString(s)
		return d, true, err == nil
	}
	cleaned := strings.ReplaceAll(strings.ReplaceAll(s, ",", ""), "$", "")
	d, err := decimal.NewFromString(cleaned)
	if err != nil {
		return decimal.Zero, false, false
	}
	return d, false, true
}

type fieldCheck struct {
	code    string
	message string
	valid   func(string) bool
}

var fieldChecks = map[string]fieldCheck{
	"PrimarySSN":             {"MEF-FMT-001", "SSN must match NNN-NN-NNNN", ValidSSN},
	"SpouseSSN":              {"MEF-FMT-001", "SSN must match NNN-NN-NNNN", ValidSSN},
	"DependentSSN":           {"MEF-FMT-001", "SSN must match NNN-NN-NNNN", ValidSSN},
	"EmployerEIN":            {"MEF-FMT-002", "EIN must match NN-NNNNNNN", ValidEIN},
	"ZIPCd":                  {"MEF-FMT-003", "ZIP code must match NNNNN or NNNNN-NNNN", ValidZIP},
	"PhoneNum":               {"MEF-FMT-004", "phone must match NNN-NNN-NNNN", ValidPhone},
	"EmailAddressTxt":        {"MEF-FMT-005", "e-mail address is malformed", ValidEmail},
	"PrimaryDateOfBirth":     {"MEF-FMT-007", "date must match YYYY-MM-DD", ValidDate},
	"SpouseDateOfBirth":      {"MEF-FMT-007", "date must match YYYY-MM-DD", ValidDate},
	"DependentDateOfBirth":   {"MEF-FMT-007", "date must match YYYY-MM-DD", ValidDate},
	"TaxYr":                  {"MEF-FMT-008", "tax year must be four digits", taxYearPattern.MatchString},
	"StateAbbreviationCd":    {"MEF-FMT-009", "state must be a two-letter code", stateCodePattern.MatchString},
	"ProductionTestCd":       {"MEF-FMT-010", "production/test code must be P or T", func(s string) bool { return s == ProductionCd || s == TestCd }},
	"Timestamp":              {"MEF-FMT-011", "timestamp must be RFC 3339", validTimestamp},

	"IndividualReturnFilingStatusCd": {"MEF-FMT-012", "filing status code must be 1-5", filingCdPattern.MatchString},
}

func validTimestamp(s string) bool {
	_, err := time.Parse(time.RFC3339, s)
	return err == nil
}

// formatPass checks every element whose tag belongs to a known field class.
// Empty required values are the structural pass's concern and are skipped.
func formatPass(root *etree.Element) []ValidationIssue {
	var issues []ValidationIssue
	for _, el := range root.FindElements("//*") {
		if isSignatureNode(el) {
			continue
		}
		text := strings.TrimSpace(el.Text())
		if text == "" {
			continue
		}
		path := el.GetPath()
		if strings.HasSuffix(el.Tag, "Amt") {
			if _, canonical, ok := ParseAmount(text); !ok {
				issues = append(issues, errItem("MEF-FMT-006", path, "amount "+quote(text)+" is not numeric", ""))
			} else if !canonical {
				issues = append(issues, warnItem("MEF-FMT-006", path, "amount "+quote(text)+" is not in canonical N.NN form", ""))
			}
			continue
		}
		check, ok := fieldChecks[el.Tag]
		if !ok {
			continue
		}
		if !check.valid(text) {
			issues = append(issues, errItem(check.code, path, el.Tag+": "+check.message+" (got "+quote(text)+")", ""))
		}
	}
	return issues
}

func isSignatureNode(el *etree.Element) bool {
	for p := el; p != nil; p = p.Parent() {
		if p.Tag == "Signature" {
			return true
		}
	}
	return false
}

func quote(s string) string {
	return "\"" + s + "\""
}
