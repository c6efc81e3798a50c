package transaction

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func TestCategoryLabel(t *testing.T) {
	tests := []struct {
		name string
		in   []string
		want string
	}{
		{name: "nil", in: nil, want: DefaultCategory},
		{name: "first wins", in: []string{"Food and Drink", "Restaurants"}, want: "Food and Drink"},
		{name: "skips blanks", in: []string{"  ", "Travel"}, want: "Travel"},
		{name: "all blank", in: []string{""}, want: DefaultCategory},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := CategoryLabel(tt.in); got != tt.want {
				t.Errorf("CategoryLabel(%v) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestCreateParams_Validate(t *testing.T) {
	valid := CreateParams{
		AccountID:  1,
		ExternalID: "tx-1",
		Date:       time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC),
		Amount:     decimal.RequireFromString("12.50"),
	}

	tests := []struct {
		name    string
		mutate  func(p *CreateParams)
		wantErr bool
	}{
		{name: "valid", mutate: func(p *CreateParams) {}},
		{name: "missing account", mutate: func(p *CreateParams) { p.AccountID = 0 }, wantErr: true},
		{name: "missing external id", mutate: func(p *CreateParams) { p.ExternalID = "" }, wantErr: true},
		{name: "missing date", mutate: func(p *CreateParams) { p.Date = time.Time{} }, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := valid
			tt.mutate(&p)
			if err := p.Validate(); (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestUpdateFrom(t *testing.T) {
	p := CreateParams{
		AccountID:   3,
		ExternalID:  "tx-9",
		Date:        time.Date(2024, 5, 2, 0, 0, 0, 0, time.UTC),
		Description: "Uber 063015 SF**POOL**",
		Amount:      decimal.RequireFromString("5.40"),
		Category:    "Travel",
		Pending:     true,
	}
	u := UpdateFrom(p)
	if !u.Date.Equal(p.Date) || u.Description != p.Description || !u.Amount.Equal(p.Amount) ||
		u.Category != p.Category || u.Pending != p.Pending {
		t.Errorf("UpdateFrom() = %+v, want fields copied from %+v", u, p)
	}
}
