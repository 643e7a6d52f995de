package prices

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/anicoll/agile-charge-planner/internal/pkg/model"
)

func TestParseTime(t *testing.T) {
	loc := time.FixedZone("BST", 3600)
	tests := map[string]struct {
		in      any
		want    time.Time
		wantErr bool
	}{
		"offset string": {
			in:   "2024-06-15T10:30:00+00:00",
			want: time.Date(2024, 6, 15, 11, 30, 0, 0, loc),
		},
		"zulu string": {
			in:   "2024-06-15T10:30:00Z",
			want: time.Date(2024, 6, 15, 11, 30, 0, 0, loc),
		},
		"naive string is local": {
			in:   "2024-06-15T10:30:00",
			want: time.Date(2024, 6, 15, 10, 30, 0, 0, loc),
		},
		"input datetime state": {
			in:   "2024-06-16 07:00:00",
			want: time.Date(2024, 6, 16, 7, 0, 0, 0, loc),
		},
		"time value": {
			in:   time.Date(2024, 6, 15, 9, 0, 0, 0, time.UTC),
			want: time.Date(2024, 6, 15, 10, 0, 0, 0, loc),
		},
		"invalid string": {
			in:      "invalid",
			wantErr: true,
		},
		"invalid type": {
			in:      12345,
			wantErr: true,
		},
	}
	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			got, err := ParseTime(tt.in, loc)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.True(t, tt.want.Equal(got), "got %s want %s", got, tt.want)
			assert.Equal(t, loc, got.Location())
		})
	}
}

func TestParseValue(t *testing.T) {
	tests := map[string]struct {
		in      any
		want    string
		wantErr bool
	}{
		"float":       {in: 15.5, want: "15.5"},
		"int":         {in: 16, want: "16"},
		"string":      {in: " 0.2345 ", want: "0.2345"},
		"json number": {in: json.Number("-1.5"), want: "-1.5"},
		"nil":         {in: nil, wantErr: true},
		"bool":        {in: true, wantErr: true},
		"garbage":     {in: "abc", wantErr: true},
	}
	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			got, err := ParseValue(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.True(t, decimal.RequireFromString(tt.want).Equal(got), "got %s", got)
		})
	}
}

func TestParseSlot_WrapsMalformed(t *testing.T) {
	_, err := ParseSlot(model.RawPrice{Start: "2024-01-15T10:15:00Z", Value: 1}, model.SourceActual, time.UTC)
	assert.ErrorIs(t, err, ErrMalformedEntry)

	_, err = ParseSlot(model.RawPrice{Start: "2024-01-15T10:00:00Z", Value: "x"}, model.SourceActual, time.UTC)
	assert.ErrorIs(t, err, ErrMalformedEntry)

	slot, err := ParseSlot(model.RawPrice{Start: "2024-01-15T10:00:00Z", Value: 0.25}, model.SourcePredicted, time.UTC)
	require.NoError(t, err)
	assert.Equal(t, model.SourcePredicted, slot.Source)
	assert.True(t, slot.End().Equal(time.Date(2024, 1, 15, 10, 30, 0, 0, time.UTC)))
}

func TestPenceToPounds(t *testing.T) {
	assert.True(t, decimal.RequireFromString("0.25").Equal(PenceToPounds(decimal.NewFromInt(25))))
	assert.True(t, decimal.RequireFromString("15.5").Equal(PenceToPounds(decimal.NewFromInt(1550))))
}
