package deal

import (
	"encoding/json"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
)

// Well-known custom fields, matched by display name or by code.
const (
	FieldLoanTerm          = "Срок займа"
	FieldCodeLoanTerm      = "LOAN_TERM"
	FieldPaymentMethod     = "Способ получения"
	FieldCodePaymentMethod = "PAYMENT_METHOD"
	FieldPaidAmount        = "Оплачено"
	FieldCodePaidAmount    = "PAID_AMOUNT"
)

// PaymentMethodUnknown is shown when a deal carries no payment method.
const PaymentMethodUnknown = "Не указан"

// ExtractField returns the first value of the first field whose name equals
// displayName or whose code equals code, in slice order.  The second result
// is false when no field matches or the match has no usable value.
func ExtractField(fields []CustomField, displayName, code string) (string, bool) {
	for _, f := range fields {
		if (displayName != "" && f.FieldName == displayName) || (code != "" && f.FieldCode == code) {
			if len(f.Values) == 0 {
				return "", false
			}
			return valueString(f.Values[0].Value)
		}
	}
	return "", false
}

func valueString(v interface{}) (string, bool) {
	switch x := v.(type) {
	case nil:
		return "", false
	case string:
		return x, true
	case json.Number:
		return x.String(), true
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64), true
	case float32:
		return strconv.FormatFloat(float64(x), 'f', -1, 32), true
	case int:
		return strconv.Itoa(x), true
	case int64:
		return strconv.FormatInt(x, 10), true
	case bool:
		return strconv.FormatBool(x), true
	default:
		b, err := json.Marshal(x)
		if err != nil {
			return "", false
		}
		return string(b), true
	}
}

// ParseAmount reads a money value such as "12 500,50", "12.500" or
// "12500.5 ₽".  A lone separator followed by exactly three digits groups
// thousands; when both "." and "," appear the last one is the decimal point.
// Unparseable or inconsistently grouped input yields zero and false.
func ParseAmount(raw string) (decimal.Decimal, bool) {
	var sb strings.Builder
	neg := false
	for _, r := range raw {
		switch {
		case r >= '0' && r <= '9', r == '.', r == ',':
			sb.WriteRune(r)
		case r == '-' && sb.Len() == 0:
			neg = true
		}
	}
	s := sb.String()

	intPart, frac := s, ""
	if i := strings.LastIndexAny(s, ".,"); i >= 0 {
		sep, tail := s[i:i+1], s[i+1:]
		mixed := strings.ContainsAny(s[:i], otherSeparator(sep))
		if strings.Count(s, sep) == 1 && (mixed || len(tail) != 3) {
			if tail == "" {
				return decimal.Zero, false
			}
			intPart, frac = s[:i], tail
		}
	}

	groups := strings.FieldsFunc(intPart, func(r rune) bool { return r == '.' || r == ',' })
	if len(groups) != strings.Count(intPart, ".")+strings.Count(intPart, ",")+1 && intPart != "" {
		return decimal.Zero, false
	}
	for _, g := range groups[min(1, len(groups)):] {
		if len(g) != 3 {
			return decimal.Zero, false
		}
	}
	digits := strings.Join(groups, "")
	if digits == "" && frac == "" {
		return decimal.Zero, false
	}
	if digits == "" {
		digits = "0"
	}
	if frac != "" {
		digits += "." + frac
	}
	v, err := decimal.NewFromString(digits)
	if err != nil {
		return decimal.Zero, false
	}
	if neg {
		v = v.Neg()
	}
	return v, true
}

func otherSeparator(sep string) string {
	if sep == "." {
		return ","
	}
	return "."
}
