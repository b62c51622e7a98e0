package payment

import (
	"errors"
	"testing"

	"github.com/shopspring/decimal"
)

func TestMinorUnits(t *testing.T) {
	cases := []struct {
		name     string
		amount   string
		currency string
		want     int64
		wantErr  bool
	}{
		{name: "usd cents", amount: "4.99", currency: "USD", want: 499},
		{name: "usd whole", amount: "20", currency: "USD", want: 2000},
		{name: "vnd zero decimal", amount: "99000", currency: "VND", want: 99000},
		{name: "jpy zero decimal", amount: "500", currency: "jpy", want: 500},
		{name: "lowercase currency", amount: "9.99", currency: "usd", want: 999},
		{name: "sub-cent precision", amount: "4.999", currency: "USD", wantErr: true},
		{name: "vnd fractional", amount: "99000.5", currency: "VND", wantErr: true},
		{name: "zero", amount: "0", currency: "USD", wantErr: true},
		{name: "negative", amount: "-1", currency: "USD", wantErr: true},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := MinorUnits(decimal.RequireFromString(tc.amount), tc.currency)
			if tc.wantErr {
				if !errors.Is(err, ErrValidation) {
					t.Fatalf("expected ErrValidation, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tc.want {
				t.Fatalf("got %d, want %d", got, tc.want)
			}
		})
	}
}

func TestFromMinorUnits(t *testing.T) {
	if got := fromMinorUnits(499, "usd"); !got.Equal(decimal.RequireFromString("4.99")) {
		t.Fatalf("usd: got %s", got)
	}
	if got := fromMinorUnits(99000, "VND"); !got.Equal(decimal.NewFromInt(99000)) {
		t.Fatalf("vnd: got %s", got)
	}
}
