package deal

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtractField(t *testing.T) {
	fields := []CustomField{
		{FieldName: "Комментарий", FieldCode: "NOTE", Values: []FieldValue{{Value: "позвонить"}}},
		{FieldName: "Срок", FieldCode: FieldCodeLoanTerm, Values: []FieldValue{{Value: float64(45)}}},
		{FieldName: FieldLoanTerm, FieldCode: "OTHER", Values: []FieldValue{{Value: "60 дней"}}},
		{FieldName: FieldPaymentMethod, Values: nil},
	}

	t.Run("code match earlier in order wins", func(t *testing.T) {
		v, ok := ExtractField(fields, FieldLoanTerm, FieldCodeLoanTerm)
		require.True(t, ok)
		assert.Equal(t, "45", v)
	})

	t.Run("name match", func(t *testing.T) {
		v, ok := ExtractField(fields, "Комментарий", "")
		require.True(t, ok)
		assert.Equal(t, "позвонить", v)
	})

	t.Run("matched field without values", func(t *testing.T) {
		_, ok := ExtractField(fields, FieldPaymentMethod, FieldCodePaymentMethod)
		assert.False(t, ok)
	})

	t.Run("no match", func(t *testing.T) {
		_, ok := ExtractField(fields, "Нет такого", "MISSING")
		assert.False(t, ok)
	})

	t.Run("nil slice", func(t *testing.T) {
		_, ok := ExtractField(nil, FieldLoanTerm, FieldCodeLoanTerm)
		assert.False(t, ok)
	})

	t.Run("empty keys never match unnamed fields", func(t *testing.T) {
		_, ok := ExtractField([]CustomField{{Values: []FieldValue{{Value: "x"}}}}, "", "")
		assert.False(t, ok)
	})
}

func TestExtractField_ValueCoercion(t *testing.T) {
	cases := []struct {
		name  string
		value interface{}
		want  string
		ok    bool
	}{
		{"string", "Карта", "Карта", true},
		{"float integral", float64(30), "30", true},
		{"float fractional", 12.5, "12.5", true},
		{"int", 7, "7", true},
		{"int64", int64(9), "9", true},
		{"json number", json.Number("14"), "14", true},
		{"bool", true, "true", true},
		{"nil", nil, "", false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			fields := []CustomField{{FieldCode: "X", Values: []FieldValue{{Value: tc.value}}}}
			got, ok := ExtractField(fields, "", "X")
			assert.Equal(t, tc.ok, ok)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestExtractField_FromDecodedJSON(t *testing.T) {
	var fields []CustomField
	raw := `[{"field_id":1,"field_name":"Срок займа","field_code":null,"values":[{"value":"21"}]},
	         {"field_id":2,"field_name":"Способ получения","field_code":"PAYMENT_METHOD","values":[{"value":"СБП"}]}]`
	require.NoError(t, json.Unmarshal([]byte(raw), &fields))

	term, ok := ExtractField(fields, FieldLoanTerm, FieldCodeLoanTerm)
	require.True(t, ok)
	assert.Equal(t, "21", term)

	method, ok := ExtractField(fields, FieldPaymentMethod, FieldCodePaymentMethod)
	require.True(t, ok)
	assert.Equal(t, "СБП", method)
}

func TestParseAmount(t *testing.T) {
	cases := map[string]string{
		"12500":      "12500",
		"12 500,50":  "12500.5",
		"10000.25 ₽": "10000.25",
		"-300":       "-300",
		"12.500":     "12500",
		"12,500":     "12500",
		"1.234.567":  "1234567",
		"1.234,5":    "1234.5",
		"12,500.75":  "12500.75",
		"1.2345":     "1.2345",
		"0,1":        "0.1",
		"12 500 ₽":   "12500",
	}
	for in, want := range cases {
		got, ok := ParseAmount(in)
		assert.True(t, ok, in)
		assert.Equal(t, want, got.String(), in)
	}

	for _, bad := range []string{"нет", "", "1.5.5", "12,,500", "12.", "1,234.56."} {
		_, ok := ParseAmount(bad)
		assert.False(t, ok, bad)
	}
}
