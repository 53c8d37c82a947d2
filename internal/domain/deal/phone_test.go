package deal

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/turtacn/loan-portal/pkg/errors"
)

func TestNormalizePhone(t *testing.T) {
	valid := map[string]string{
		"8 (912) 345-67-89": "+79123456789",
		"+7 912 345 67 89":  "+79123456789",
		"9123456789":        "+79123456789",
		"79123456789":       "+79123456789",
	}
	for in, want := range valid {
		got, err := NormalizePhone(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got)
	}

	for _, in := range []string{"", "abc", "12345", "19123456789", "+7 912 345 67 89 0"} {
		_, err := NormalizePhone(in)
		require.Error(t, err, in)
		assert.True(t, errors.IsCode(err, errors.ErrCodePhoneInvalid), in)
	}
}
