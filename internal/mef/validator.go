package mef

import (
	"bytes"
	"fmt"
	"strconv"
	"strings"

	"github.com/beevik/etree"
	"github.com/jacoelho/xsd"
	xsderrors "github.com/jacoelho/xsd/errors"
)

const (
	PassStructure = "structure"
	PassFormat    = "format"
	PassXSD       = "xsd"
	PassRules     = "business_rules"
)

// Validator runs the structural, format, optional XSD and business-rule
// passes. Every pass runs; findings are collected, never short-circuited.
type Validator struct {
	Config Config
	Rules  []Rule
	Schema *xsd.Schema
}

// NewValidator builds a validator with the default rule list followed by any
// extra rules. The XSD is compiled once when Config.SchemaPath is set. An
// empty SupportedTaxYears means DefaultTaxYears.
func NewValidator(cfg Config, extra ...Rule) (Validator, error) {
	if len(cfg.SupportedTaxYears) == 0 {
		cfg.SupportedTaxYears = append([]int(nil), DefaultTaxYears...)
	}
	v := Validator{
		Config: cfg,
		Rules:  append(DefaultRules(cfg), extra...),
	}
	if cfg.SchemaPath != "" {
		schema, err := xsd.LoadFile(cfg.SchemaPath)
		if err != nil {
			return Validator{}, fmt.Errorf("load MeF schema %s: %w", cfg.SchemaPath, err)
		}
		v.Schema = schema
	}
	return v, nil
}

// WithRules returns a copy of the validator with rules appended.
func (v Validator) WithRules(rules ...Rule) Validator {
	v.Rules = append(append([]Rule(nil), v.Rules...), rules...)
	return v
}

// Validate checks a built document.
func (v Validator) Validate(doc Document) ValidationResult {
	raw, err := doc.MarshalIndent()
	if err != nil {
		c := newCollector()
		c.add(PassStructure, errItem("MEF-STR-000", "/", err.Error(), ""))
		return c.result(nil)
	}
	return v.validate(raw, &doc)
}

// ValidateXML checks an MeF document received as raw XML. Input that is
// well-formed but does not decode as an MeF transmission still gets the
// structural and format passes; business rules need a decoded document and
// are skipped.
func (v Validator) ValidateXML(raw []byte) ValidationResult {
	doc, err := ParseDocument(raw)
	if err != nil {
		return v.validateTree(raw, nil, err)
	}
	return v.validate(raw, &doc)
}

func (v Validator) validate(raw []byte, doc *Document) ValidationResult {
	return v.validateTree(raw, doc, nil)
}

// validateTree runs every pass. doc is nil when raw could not be decoded;
// decodeErr is then reported unless the structural pass already explains it.
func (v Validator) validateTree(raw []byte, doc *Document, decodeErr error) ValidationResult {
	c := newCollector()
	sections := make([]string, 0, len(v.Rules)+3)

	tree := etree.NewDocument()
	if err := tree.ReadFromBytes(raw); err != nil || tree.Root() == nil {
		msg := "document has no root element"
		if err != nil {
			msg = "document is not well-formed XML: " + err.Error()
		}
		c.add(PassStructure, errItem("MEF-STR-000", "/", msg, ""))
		return c.result([]string{PassStructure})
	}

	structural := v.structuralPass(tree.Root())
	for _, issue := range structural {
		c.add(PassStructure, issue)
	}
	if decodeErr != nil && len(structural) == 0 {
		c.add(PassStructure, errItem("MEF-STR-000", "/", "document does not decode as an MeF transmission: "+decodeErr.Error(), ""))
	}
	sections = append(sections, PassStructure)

	for _, issue := range formatPass(tree.Root()) {
		c.add(PassFormat, issue)
	}
	sections = append(sections, PassFormat)

	if v.Schema != nil {
		for _, issue := range xsdPass(v.Schema, raw) {
			c.add(PassXSD, issue)
		}
		sections = append(sections, PassXSD)
	}

	if doc == nil {
		return c.result(sections)
	}
	for _, rule := range v.Rules {
		if rule.Check == nil {
			continue
		}
		findings := rule.Check(*doc)
		for _, issue := range findings.Issues {
			if issue.RuleID == "" {
				issue.RuleID = rule.ID
			}
			c.add(PassRules, issue)
		}
		sections = append(sections, PassRules+":"+rule.ID)
	}

	return c.result(sections)
}

func (v Validator) structuralPass(root *etree.Element) []ValidationIssue {
	var issues []ValidationIssue
	if root.Tag != "MeFTransmission" {
		issues = append(issues, errItem("MEF-STR-001", "/"+root.Tag, "root element must be MeFTransmission", ""))
	}
	if root.NamespaceURI() != Namespace {
		issues = append(issues, errItem("MEF-STR-002", "/"+root.Tag, fmt.Sprintf("root namespace must be %s", Namespace), ""))
	}
	for _, attr := range []string{"version", "transmissionId"} {
		if strings.TrimSpace(root.SelectAttrValue(attr, "")) == "" {
			issues = append(issues, errItem("MEF-STR-003", "/"+root.Tag+"/@"+attr, "missing required attribute "+attr, ""))
		}
	}

	year := 0
	if el := root.FindElement("TransmissionEnvelope/TransmissionHeader/TaxYr"); el != nil {
		year, _ = strconv.Atoi(strings.TrimSpace(el.Text()))
	}
	prof, supported := ProfileFor(year, v.Config.SupportedTaxYears)
	if !supported {
		issues = append(issues, errItem("MEF-STR-004", "/MeFTransmission/TransmissionEnvelope/TransmissionHeader/TaxYr",
			fmt.Sprintf("tax year %d is not supported", year), ""))
	}

	for _, path := range prof.RequiredPaths {
		if root.FindElement(path) == nil {
			issues = append(issues, errItem("MEF-STR-010", "/MeFTransmission/"+path, "missing required element "+lastSegment(path), ""))
		}
	}
	for _, path := range prof.RequiredText {
		el := root.FindElement(path)
		switch {
		case el == nil:
			issues = append(issues, errItem("MEF-STR-010", "/MeFTransmission/"+path, "missing required element "+lastSegment(path), ""))
		case strings.TrimSpace(el.Text()) == "":
			issues = append(issues, errItem("MEF-STR-011", "/MeFTransmission/"+path, "required element "+lastSegment(path)+" is empty", ""))
		}
	}
	return issues
}

func xsdPass(schema *xsd.Schema, raw []byte) []ValidationIssue {
	err := schema.Validate(bytes.NewReader(raw))
	if err == nil {
		return nil
	}
	violations, ok := xsderrors.AsValidations(err)
	if !ok {
		return []ValidationIssue{errItem("MEF-XSD-000", "/", "schema validation failed: "+err.Error(), "")}
	}
	issues := make([]ValidationIssue, 0, len(violations))
	for _, violation := range violations {
		issues = append(issues, errItem("MEF-XSD-"+violation.Code, violation.Path, violation.Message, ""))
	}
	return issues
}

// collector keeps issues in pass order and derives the flat string lists.
type collector struct {
	issues       []ValidationIssue
	schemaErrors int
	ruleErrors   int
}

func newCollector() *collector {
	return &collector{}
}

func (c *collector) add(pass string, issue ValidationIssue) {
	issue.Pass = pass
	if issue.Severity == SeverityError {
		if pass == PassRules {
			c.ruleErrors++
		} else {
			c.schemaErrors++
		}
	}
	c.issues = append(c.issues, issue)
}

func (c *collector) result(sections []string) ValidationResult {
	res := ValidationResult{
		Errors:                 make([]string, 0),
		Warnings:               make([]string, 0),
		SchemaCompliant:        c.schemaErrors == 0,
		BusinessRulesCompliant: c.ruleErrors == 0,
		SectionsChecked:        append(make([]string, 0, len(sections)), sections...),
		Issues:                 make([]ValidationIssue, 0, len(c.issues)),
	}
	for _, issue := range c.issues {
		line := fmt.Sprintf("[%s] %s: %s", issue.Code, issue.Path, issue.Message)
		if issue.Severity == SeverityError {
			res.Errors = append(res.Errors, line)
		} else {
			res.Warnings = append(res.Warnings, line)
		}
		res.Issues = append(res.Issues, issue)
	}
	res.Valid = len(res.Errors) == 0 && res.SchemaCompliant && res.BusinessRulesCompliant
	return res
}

func errItem(code, path, message, ruleID string) ValidationIssue {
	return ValidationIssue{Code: code, Path: path, Message: message, RuleID: ruleID, Severity: SeverityError}
}

func warnItem(code, path, message, ruleID string) ValidationIssue {
	return ValidationIssue{Code: code, Path: path, Message: message, RuleID: ruleID, Severity: SeverityWarning}
}

func lastSegment(path string) string {
	if i := strings.LastIndex(path, "/"); i >= 0 {
		return path[i+1:]
	}
	return path
}
