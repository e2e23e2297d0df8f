package mef

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/xml"
	"fmt"
)

// Namespace is the MeF efile namespace carried on the root element.
const Namespace = "http://www.irs.gov/efile"

// ReturnDataID is the id attribute of the return-data block; signatures
// reference it as "#ReturnData".
const ReturnDataID = "ReturnData"

const (
	ProductionCd = "P"
	TestCd       = "T"
)

// Document is the MeF transmission tree. Field order is the wire order.
type Document struct {
	XMLName        xml.Name             `xml:"MeFTransmission"`
	Xmlns          string               `xml:"xmlns,attr"`
	Version        string               `xml:"version,attr"`
	TransmissionID string               `xml:"transmissionId,attr"`
	Envelope       TransmissionEnvelope `xml:"TransmissionEnvelope"`
}

type TransmissionEnvelope struct {
	Header     TransmissionHeader `xml:"TransmissionHeader"`
	Taxpayer   TaxpayerBlock      `xml:"Taxpayer"`
	ReturnData ReturnData         `xml:"ReturnData"`
	Signature  *SignatureBlock    `xml:"Signature,omitempty"`
}

type TransmissionHeader struct {
	Timestamp          string `xml:"Timestamp"`
	TaxYr              string `xml:"TaxYr"`
	TransmissionTypeCd string `xml:"TransmissionTypeCd"`
	ProductionTestCd   string `xml:"ProductionTestCd"`
	EFIN               string `xml:"EFIN,omitempty"`
	PTIN               string `xml:"PTIN,omitempty"`
}

type TaxpayerBlock struct {
	PrimarySSN         string       `xml:"PrimarySSN"`
	PrimaryName        NameBlock    `xml:"PrimaryName"`
	PrimaryDateOfBirth string       `xml:"PrimaryDateOfBirth,omitempty"`
	PrimaryOccupation  string       `xml:"PrimaryOccupationTxt,omitempty"`
	Spouse             *SpouseBlock `xml:"Spouse,omitempty"`
	USAddress          USAddress    `xml:"USAddress"`
	PhoneNum           string       `xml:"PhoneNum,omitempty"`
	EmailAddress       string       `xml:"EmailAddressTxt,omitempty"`
}

type NameBlock struct {
	FirstName     string `xml:"FirstName"`
	MiddleInitial string `xml:"MiddleInitial,omitempty"`
	LastName      string `xml:"LastName"`
}

type SpouseBlock struct {
	SpouseSSN         string    `xml:"SpouseSSN"`
	SpouseName        NameBlock `xml:"SpouseName"`
	SpouseDateOfBirth string    `xml:"SpouseDateOfBirth,omitempty"`
	SpouseOccupation  string    `xml:"SpouseOccupationTxt,omitempty"`
}

type USAddress struct {
	AddressLine1 string `xml:"AddressLine1Txt"`
	AddressLine2 string `xml:"AddressLine2Txt,omitempty"`
	City         string `xml:"CityNm"`
	State        string `xml:"StateAbbreviationCd"`
	ZIPCode      string `xml:"ZIPCd"`
}

type ReturnData struct {
	ID                 string          `xml:"Id,attr"`
	FilingStatusCd     string          `xml:"IndividualReturnFilingStatusCd"`
	VirtualCurrencyInd string          `xml:"VirtualCurrencyInd,omitempty"`
	DigitalAssetInd    string          `xml:"DigitalAssetInd,omitempty"`
	Dependents         DependentsBlock `xml:"Dependents"`
	Income             IncomeBlock     `xml:"Income"`
	Deductions         DeductionsBlock `xml:"Deductions"`
	Credits            CreditsBlock    `xml:"Credits"`
	Payments           PaymentsBlock   `xml:"Payments"`
	Totals             ComputedTotals  `xml:"ComputedTotals"`
}

// DependentsBlock is always emitted, even with no entries.
type DependentsBlock struct {
	Items []DependentDetail `xml:"DependentDetail"`
}

type DependentDetail struct {
	FirstName          string `xml:"DependentFirstNm"`
	LastName           string `xml:"DependentLastNm"`
	SSN                string `xml:"DependentSSN"`
	RelationshipCd     string `xml:"DependentRelationshipCd"`
	QualifyingChildInd string `xml:"QualifyingChildInd,omitempty"`
	DateOfBirth        string `xml:"DependentDateOfBirth,omitempty"`
	MonthsLivedWithNum string `xml:"MonthsLivedWithNum,omitempty"`
}

type IncomeBlock struct {
	WagesAmt              string      `xml:"WagesAmt"`
	TaxableInterestAmt    string      `xml:"TaxableInterestAmt"`
	OrdinaryDividendsAmt  string      `xml:"OrdinaryDividendsAmt"`
	CapitalGainLossAmt    string      `xml:"CapitalGainLossAmt"`
	BusinessIncomeLossAmt string      `xml:"BusinessIncomeLossAmt"`
	OtherIncomeAmt        string      `xml:"OtherIncomeAmt"`
	TotalIncomeAmt        string      `xml:"TotalIncomeAmt"`
	W2Forms               []W2Summary `xml:"IRSW2"`
}

type W2Summary struct {
	EmployerEIN    string `xml:"EmployerEIN"`
	EmployerName   string `xml:"EmployerNameControlTxt"`
	WagesAmt       string `xml:"WagesAmt"`
	WithholdingAmt string `xml:"WithholdingAmt"`
}

type DeductionsBlock struct {
	StandardDeductionInd  string `xml:"StandardDeductionInd,omitempty"`
	ItemizedDeductionsAmt string `xml:"ItemizedDeductionsAmt"`
	TotalDeductionsAmt    string `xml:"TotalDeductionsAmt"`
}

type CreditsBlock struct {
	ChildTaxCreditAmt     string `xml:"ChildTaxCreditAmt"`
	EarnedIncomeCreditAmt string `xml:"EarnedIncomeCreditAmt"`
	EducationCreditAmt    string `xml:"EducationCreditAmt"`
	OtherCreditsAmt       string `xml:"OtherCreditsAmt"`
	TotalCreditsAmt       string `xml:"TotalCreditsAmt"`
}

type PaymentsBlock struct {
	FederalWithholdingAmt   string `xml:"FederalWithholdingAmt"`
	EstimatedTaxPaymentsAmt string `xml:"EstimatedTaxPaymentsAmt"`
	OtherPaymentsAmt        string `xml:"OtherPaymentsAmt"`
	TotalPaymentsAmt        string `xml:"TotalPaymentsAmt"`
}

type ComputedTotals struct {
	AdjustedGrossIncomeAmt string `xml:"AdjustedGrossIncomeAmt"`
	TaxableIncomeAmt       string `xml:"TaxableIncomeAmt"`
	TotalTaxAmt            string `xml:"TotalTaxAmt"`
	RefundAmt              string `xml:"RefundAmt"`
	OwedAmt                string `xml:"OwedAmt"`
}

// SignatureBlock follows the XML-DSig layout. It sits next to ReturnData.
type SignatureBlock struct {
	SignedInfo     SignedInfo `xml:"SignedInfo"`
	SignatureValue string     `xml:"SignatureValue"`
	KeyInfo        KeyInfo    `xml:"KeyInfo"`
}

type SignedInfo struct {
	CanonicalizationMethod AlgorithmRef `xml:"CanonicalizationMethod"`
	SignatureMethod        AlgorithmRef `xml:"SignatureMethod"`
	Reference              Reference    `xml:"Reference"`
}

type AlgorithmRef struct {
	Algorithm string `xml:"Algorithm,attr"`
}

type Reference struct {
	URI          string       `xml:"URI,attr"`
	DigestMethod AlgorithmRef `xml:"DigestMethod"`
	DigestValue  string       `xml:"DigestValue"`
}

type KeyInfo struct {
	KeyName          string `xml:"KeyName"`
	PreparerName     string `xml:"PreparerNameTxt,omitempty"`
	CredentialIssued string `xml:"CredentialIssueDt,omitempty"`
}

// Signed reports whether a signature block is attached.
func (d Document) Signed() bool {
	return d.Envelope.Signature != nil
}

// Clone returns a deep copy so callers can attach a signature without
// touching the original.
func (d Document) Clone() Document {
	out := d
	if d.Envelope.Taxpayer.Spouse != nil {
		sp := *d.Envelope.Taxpayer.Spouse
		out.Envelope.Taxpayer.Spouse = &sp
	}
	if d.Envelope.ReturnData.Dependents.Items != nil {
		out.Envelope.ReturnData.Dependents.Items = append([]DependentDetail(nil), d.Envelope.ReturnData.Dependents.Items...)
	}
	if d.Envelope.ReturnData.Income.W2Forms != nil {
		out.Envelope.ReturnData.Income.W2Forms = append([]W2Summary(nil), d.Envelope.ReturnData.Income.W2Forms...)
	}
	if d.Envelope.Signature != nil {
		sig := *d.Envelope.Signature
		out.Envelope.Signature = &sig
	}
	return out
}

// MarshalIndent renders the document with the XML declaration.
func (d Document) MarshalIndent() ([]byte, error) {
	out, err := xml.MarshalIndent(d, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshal MeF document: %w", err)
	}
	return append([]byte(xml.Header), out...), nil
}

// MarshalReturnData renders only the return-data subtree, namespace included,
// so it can be canonicalized on its own.
func (d Document) MarshalReturnData() ([]byte, error) {
	type scoped struct {
		XMLName xml.Name `xml:"ReturnData"`
		Xmlns   string   `xml:"xmlns,attr"`
		ReturnData
	}
	out, err := xml.Marshal(scoped{Xmlns: Namespace, ReturnData: d.Envelope.ReturnData})
	if err != nil {
		return nil, fmt.Errorf("marshal return data: %w", err)
	}
	return out, nil
}

// Fingerprint hashes the document with the transmission id and header
// timestamp blanked, so two builds of the same return compare equal.
func (d Document) Fingerprint() (string, error) {
	c := d.Clone()
	c.TransmissionID = ""
	c.Envelope.Header.Timestamp = ""
	out, err := xml.Marshal(c)
	if err != nil {
		return "", fmt.Errorf("fingerprint: %w", err)
	}
	sum := sha256.Sum256(out)
	return hex.EncodeToString(sum[:]), nil
}

// ParseDocument decodes MeF XML into a Document.
func ParseDocument(raw []byte) (Document, error) {
	var d Document
	if err := xml.Unmarshal(raw, &d); err != nil {
		return Document{}, fmt.Errorf("parse MeF document: %w", err)
	}
	return d, nil
}
