package typesig

import (
	"testing"

	"github.com/colmask/colmask/internal/sqlident"
)

func ptr(v int64) *int64 { return &v }

var testRules = Rules{
	Character:   Set("char", "varchar", "nchar", "nvarchar", "binary", "varbinary"),
	Decimal:     Set("decimal", "numeric"),
	Datetime:    Set("datetime2", "datetimeoffset", "time"),
	Textual:     Set("char", "varchar", "nchar", "nvarchar", "text", "ntext"),
	MaxSentinel: -1,
}

func TestBuild(t *testing.T) {
	tests := []struct {
		name  string
		facts Facts
		want  string
	}{
		{"nvarchar_length", Facts{DataType: "nvarchar", CharMaxLength: ptr(50)}, "NVARCHAR(50)"},
		{"nvarchar_max", Facts{DataType: "nvarchar", CharMaxLength: ptr(-1)}, "NVARCHAR(MAX)"},
		{"varbinary_max", Facts{DataType: "varbinary", CharMaxLength: ptr(-1)}, "VARBINARY(MAX)"},
		{"char_fixed", Facts{DataType: "char", CharMaxLength: ptr(10)}, "CHAR(10)"},
		{"char_no_length", Facts{DataType: "varchar"}, "VARCHAR"},
		{"decimal", Facts{DataType: "decimal", NumericPrecision: ptr(18), NumericScale: ptr(2)}, "DECIMAL(18,2)"},
		{"numeric_no_scale", Facts{DataType: "numeric", NumericPrecision: ptr(10)}, "NUMERIC(10,0)"},
		{"numeric_unconstrained", Facts{DataType: "numeric"}, "NUMERIC"},
		{"datetime2", Facts{DataType: "datetime2", DatetimePrecision: ptr(7)}, "DATETIME2(7)"},
		{"time_zero", Facts{DataType: "time", DatetimePrecision: ptr(0)}, "TIME(0)"},
		{"datetime_ignores_precision", Facts{DataType: "datetime", DatetimePrecision: ptr(3)}, "DATETIME"},
		{"int_ignores_precision", Facts{DataType: "int", NumericPrecision: ptr(10), NumericScale: ptr(0)}, "INT"},
		{"uppercases_other", Facts{DataType: "uniqueidentifier"}, "UNIQUEIDENTIFIER"},
		{"trims", Facts{DataType: " bit "}, "BIT"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Build(testRules, tt.facts)
			if got != tt.want {
				t.Errorf("Build() = %q, want %q", got, tt.want)
			}
			if err := sqlident.ValidateType(got); err != nil {
				t.Errorf("signature %q does not pass the type guard: %v", got, err)
			}
		})
	}
}

func TestBuild_NoSentinel(t *testing.T) {
	r := testRules
	r.MaxSentinel = 0
	got := Build(r, Facts{DataType: "varchar", CharMaxLength: ptr(-1)})
	if got != "VARCHAR(-1)" {
		t.Errorf("without a sentinel the raw length is kept, got %q", got)
	}
}

func TestIsTextual(t *testing.T) {
	cases := map[string]bool{
		"NVARCHAR(MAX)": true,
		"nvarchar(50)":  true,
		"CHAR(10)":      true,
		"NTEXT":         true,
		"VARBINARY(16)": false,
		"INT":           false,
		"DECIMAL(18,2)": false,
	}
	for sig, want := range cases {
		if got := IsTextual(testRules, sig); got != want {
			t.Errorf("IsTextual(%q) = %v, want %v", sig, got, want)
		}
	}
}

func TestBaseType(t *testing.T) {
	if got := BaseType("nvarchar(50)"); got != "NVARCHAR" {
		t.Errorf("BaseType = %q", got)
	}
	if got := BaseType(" text "); got != "TEXT" {
		t.Errorf("BaseType = %q", got)
	}
}
