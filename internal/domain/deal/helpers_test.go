package deal

import (
	"strconv"
	"time"

	"github.com/shopspring/decimal"
)

// fixedNow is the reference instant shared by lifecycle tests.
var fixedNow = time.Date(2024, time.January, 29, 15, 0, 0, 0, msk)

func rawDeal(id int64, status string, created time.Time, term string, price int64) RawDeal {
	r := RawDeal{
		ID:         id,
		Name:       "Займ #" + strconv.FormatInt(id, 10),
		Price:      decimal.NewFromInt(price),
		StatusName: status,
		CreatedAt:  created.Unix(),
		UpdatedAt:  created.Unix(),
	}
	if term != "" {
		r.CustomFields = append(r.CustomFields, CustomField{
			FieldName: FieldLoanTerm,
			Values:    []FieldValue{{Value: term}},
		})
	}
	return r
}

func approvedDeal(id int64, created time.Time, term int, price int64) Deal {
	return Deal{
		ID:         id,
		Name:       "Займ #" + strconv.FormatInt(id, 10),
		Price:      decimal.NewFromInt(price),
		StatusName: StatusApproved,
		CreatedAt:  created,
		TermDays:   term,
		Phase:      PhaseApproved,
	}
}

// dealDueIn returns an approved 30-day deal with daysLeft days to go at fixedNow.
func dealDueIn(id int64, daysLeft int) Deal {
	created := time.Date(2024, time.January, 29+daysLeft-30, 10, 0, 0, 0, msk)
	return approvedDeal(id, created, 30, 10000)
}
