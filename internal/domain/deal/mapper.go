package deal

import (
	"time"

	"github.com/shopspring/decimal"
)

// DefaultTermDays is the loan term assumed when a deal carries none.
const DefaultTermDays = 30

// MapDeal builds the normalized snapshot of raw with default settings.
// Timestamps are interpreted in loc (time.Local when nil).  raw is never
// modified and every call returns a fresh value.
func MapDeal(raw RawDeal, loc *time.Location) Deal {
	return mapDeal(raw, loc, DefaultTermDays)
}

func mapDeal(raw RawDeal, loc *time.Location, defaultTerm int) Deal {
	if loc == nil {
		loc = time.Local
	}
	if defaultTerm < 1 {
		defaultTerm = DefaultTermDays
	}

	created := time.Unix(raw.CreatedAt, 0).In(loc)
	updated := time.Unix(raw.UpdatedAt, 0).In(loc)

	termRaw, _ := ExtractField(raw.CustomFields, FieldLoanTerm, FieldCodeLoanTerm)

	method, ok := ExtractField(raw.CustomFields, FieldPaymentMethod, FieldCodePaymentMethod)
	if !ok || method == "" {
		method = PaymentMethodUnknown
	}

	paid := decimal.Zero
	if s, ok := ExtractField(raw.CustomFields, FieldPaidAmount, FieldCodePaidAmount); ok {
		if v, ok := ParseAmount(s); ok && v.IsPositive() {
			paid = v
		}
	}

	return Deal{
		ID:                raw.ID,
		Name:              raw.Name,
		Price:             raw.Price,
		Paid:              paid,
		StatusID:          raw.StatusID,
		StatusName:        raw.StatusName,
		StatusColor:       raw.StatusColor,
		PipelineID:        raw.PipelineID,
		PipelineName:      raw.PipelineName,
		ResponsibleUserID: raw.ResponsibleUserID,
		CreatedAt:         created,
		UpdatedAt:         updated,
		CreatedAtText:     FormatCRMDate(created),
		UpdatedAtText:     FormatCRMDate(updated),
		TermDays:          TermDaysFromField(termRaw, defaultTerm),
		Phase:             Classify(raw.StatusName),
		PaymentMethod:     method,
	}
}

// MapDeals maps every raw deal, preserving order.
func MapDeals(raws []RawDeal, loc *time.Location) []Deal {
	out := make([]Deal, 0, len(raws))
	for _, r := range raws {
		out = append(out, MapDeal(r, loc))
	}
	return out
}
