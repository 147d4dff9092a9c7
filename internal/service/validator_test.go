package service

import (
	"encoding/json"
	"math"
	"reflect"
	"strings"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"

	"github.com/delegation-service/internal/config"
)

const hexDigits = "0123456789abcdefABCDEF"

func hexStringGen(n int) gopter.Gen {
	return gen.SliceOfN(n, gen.IntRange(0, len(hexDigits)-1)).Map(func(idx []int) string {
		var sb strings.Builder
		for _, i := range idx {
			sb.WriteByte(hexDigits[i])
		}
		return sb.String()
	})
}

func TestValidateAddress(t *testing.T) {
	tests := []struct {
		name    string
		address string
		want    bool
	}{
		{"lowercase", "0x" + strings.Repeat("a", 40), true},
		{"uppercase hex", "0x" + strings.Repeat("A", 40), true},
		{"mixed case", "0x1c7D4B196Cb0C7B01d743Fbc6116a902379C7238", true},
		{"empty", "", false},
		{"too short", "0x" + strings.Repeat("a", 39), false},
		{"too long", "0x" + strings.Repeat("a", 41), false},
		{"no prefix", strings.Repeat("a", 42), false},
		{"uppercase prefix", "0X" + strings.Repeat("a", 40), false},
		{"non hex", "0x" + strings.Repeat("g", 40), false},
		{"space inside", "0x" + strings.Repeat("a", 39) + " ", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ValidateAddress(tt.address))
		})
	}
}

func TestValidateToken(t *testing.T) {
	v := NewValidator(config.SepoliaUSDC)

	assert.True(t, v.ValidateToken(config.SepoliaUSDC))
	assert.True(t, v.ValidateToken(strings.ToLower(config.SepoliaUSDC)))
	assert.True(t, v.ValidateToken("0x"+strings.ToUpper(config.SepoliaUSDC[2:])))
	assert.False(t, v.ValidateToken(""))
	assert.False(t, v.ValidateToken("0x"+strings.Repeat("0", 40)))
}

func TestValidateAmount(t *testing.T) {
	tests := []struct {
		name  string
		value interface{}
		want  float64
		ok    bool
	}{
		{"float", 100.0, 100, true},
		{"int", 25, 25, true},
		{"tiny", 0.0001, 0.0001, true},
		{"json number", json.Number("42.5"), 42.5, true},
		{"numeric string", " 12 ", 12, true},
		{"exponent string", "1e3", 1000, true},
		{"zero", 0.0, 0, false},
		{"negative", -1, 0, false},
		{"zero string", "0", 0, false},
		{"empty string", "", 0, false},
		{"word", "abc", 0, false},
		{"nan", math.NaN(), 0, false},
		{"inf", math.Inf(1), 0, false},
		{"inf string", "Infinity", 0, false},
		{"bad json number", json.Number("x"), 0, false},
		{"bool", true, 0, false},
		{"nil", nil, 0, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := ValidateAmount(tt.value)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestValidatorProperties(t *testing.T) {
	properties := gopter.NewProperties(nil)

	properties.Property("0x plus 40 hex digits is accepted", prop.ForAll(
		func(hex string) bool {
			return ValidateAddress("0x" + hex)
		},
		hexStringGen(40),
	))

	properties.Property("any other hex length is rejected", prop.ForAll(
		func(hex string) bool {
			return !ValidateAddress("0x" + hex)
		},
		gen.OneGenOf(gen.IntRange(0, 39), gen.IntRange(41, 80)).FlatMap(func(v interface{}) gopter.Gen {
			return hexStringGen(v.(int))
		}, reflect.TypeOf("")),
	))

	properties.Property("positive finite amounts are accepted unchanged", prop.ForAll(
		func(amount float64) bool {
			got, ok := ValidateAmount(amount)
			return ok && got == amount
		},
		gen.Float64Range(1e-9, 1e12),
	))

	properties.Property("non-positive amounts are rejected", prop.ForAll(
		func(amount float64) bool {
			_, ok := ValidateAmount(amount)
			return !ok
		},
		gen.Float64Range(-1e12, 0),
	))

	properties.TestingRun(t)
}

func positiveAmountGen() gopter.Gen {
	return gen.Float64Range(0.0001, 1e9)
}
