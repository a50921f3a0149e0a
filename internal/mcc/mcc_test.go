package mcc_test

import (
	"errors"
	"testing"

	"github.com/dvloznov/grocery-carbon/internal/domain"
	"github.com/dvloznov/grocery-carbon/internal/mcc"
)

func TestFactor(t *testing.T) {
	tests := []struct {
		code    int
		want    float64
		wantErr bool
	}{
		{5411, 0.518, false},
		{5422, 1.075, false},
		{5441, 1.057, false},
		{5451, 0.659, false},
		{5462, 0.316, false},
		{5499, 0.518, false},
		{5412, 0, true}, // in range but unlisted
		{5410, 0, true},
		{5500, 0, true},
		{9999, 0, true},
		{0, 0, true},
	}

	for _, tt := range tests {
		got, err := mcc.Factor(tt.code)
		if (err != nil) != tt.wantErr {
			t.Errorf("Factor(%d) error = %v, wantErr %v", tt.code, err, tt.wantErr)
			continue
		}
		if err != nil && !errors.Is(err, domain.ErrNotEstimable) {
			t.Errorf("Factor(%d) error = %v, want ErrNotEstimable", tt.code, err)
		}
		if got != tt.want {
			t.Errorf("Factor(%d) = %v, want %v", tt.code, got, tt.want)
		}
	}
}

func TestCodes(t *testing.T) {
	got := mcc.Codes()
	want := []int{5411, 5422, 5441, 5451, 5462, 5499}
	if len(got) != len(want) {
		t.Fatalf("Codes() = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("Codes()[%d] = %d, want %d", i, got[i], want[i])
		}
	}
}
