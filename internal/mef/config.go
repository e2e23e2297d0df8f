package mef

import (
	"os"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
)

// Config holds environment-driven settings for document building and validation.
type Config struct {
	SupportedTaxYears         []int
	TransmissionTypeCd        string
	LargeIncomeThreshold      decimal.Decimal
	EITCInvestmentIncomeLimit decimal.Decimal
	SchemaPath                string
	MaxDependents             int
}

// DefaultTaxYears are the schema years accepted when none are configured.
var DefaultTaxYears = []int{2021, 2022, 2023, 2024, 2025}

func LoadConfig() Config {
	return Config{
		SupportedTaxYears:         getIntList("MEF_SUPPORTED_TAX_YEARS", DefaultTaxYears),
		TransmissionTypeCd:        getenv("MEF_TRANSMISSION_TYPE", "1040"),
		LargeIncomeThreshold:      getDecimal("MEF_LARGE_INCOME_THRESHOLD", decimal.NewFromInt(10_000_000)),
		EITCInvestmentIncomeLimit: getDecimal("MEF_EITC_INVESTMENT_LIMIT", decimal.NewFromInt(11_000)),
		SchemaPath:                getenv("MEF_SCHEMA_PATH", ""),
		MaxDependents:             getInt("MEF_MAX_DEPENDENTS", 99),
	}
}

func getenv(key, def string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return def
}

func getInt(key string, def int) int {
	if v, ok := os.LookupEnv(key); ok {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}

func getDecimal(key string, def decimal.Decimal) decimal.Decimal {
	if v, ok := os.LookupEnv(key); ok {
		if d, err := decimal.NewFromString(v); err == nil {
			return d
		}
	}
	return def
}

func getIntList(key string, def []int) []int {
	v, ok := os.LookupEnv(key)
	if !ok || strings.TrimSpace(v) == "" {
		return def
	}
	var out []int
	for _, part := range strings.Split(v, ",") {
		i, err := strconv.Atoi(strings.TrimSpace(part))
		if err != nil {
			return def
		}
		out = append(out, i)
	}
	return out
}
