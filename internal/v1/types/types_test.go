package types

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestValidateName(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		wantErr error
	}{
		{"empty rejected", "", ErrEmptyName},
		{"single char accepted", "A", nil},
		{"fifty chars accepted", stringOfLen(50), nil},
		{"fifty-one chars rejected", stringOfLen(51), ErrNameTooLong},
		{"typical name accepted", "Alice", nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateName(tt.input)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func stringOfLen(n int) string {
	b := make([]byte, n)
	for i := range b {
		b[i] = 'a'
	}
	return string(b)
}

func TestTimestampMonotonic(t *testing.T) {
	t1 := Now()
	time.Sleep(5 * time.Millisecond)
	t2 := Now()

	assert.Greater(t, t2, t1)
}

func TestTimestampOrdering(t *testing.T) {
	assert.True(t, Timestamp(100) < Timestamp(200))
	assert.Equal(t, Timestamp(200), Timestamp(200))
}

func TestTimestampString(t *testing.T) {
	assert.Equal(t, "12345ms", Timestamp(12345).String())
}

func TestModeToggled(t *testing.T) {
	assert.Equal(t, ModeTypeSpectating, ModeTypeActive.Toggled())
	assert.Equal(t, ModeTypeActive, ModeTypeSpectating.Toggled())
}
