// Package mcc maps grocery merchant category codes to spend-based emission factors.
package mcc

import (
	"fmt"
	"sort"

	"github.com/dvloznov/grocery-carbon/internal/domain"
)

const (
	// GroceryMin and GroceryMax bound the grocery retail range of codes.
	GroceryMin = 5411
	GroceryMax = 5499
)

// factors are kg CO2e per major currency unit spent.
var factors = map[int]float64{
	5411: 0.518, // grocery stores, supermarkets
	5422: 1.075, // freezer and locker meat provisioners
	5441: 1.057, // candy, nut and confectionery stores
	5451: 0.659, // dairy products stores
	5462: 0.316, // bakeries
	5499: 0.518, // misc food stores, convenience stores
}

// Factor returns the emission factor for code. Codes outside the grocery
// range, or without an explicit entry, are not estimable.
func Factor(code int) (float64, error) {
	if code < GroceryMin || code > GroceryMax {
		return 0, fmt.Errorf("mcc %d is not a grocery merchant: %w", code, domain.ErrNotEstimable)
	}
	f, ok := factors[code]
	if !ok {
		return 0, fmt.Errorf("mcc %d has no emission factor: %w", code, domain.ErrNotEstimable)
	}
	return f, nil
}

// Codes lists the codes with explicit factors in ascending order.
func Codes() []int {
	out := make([]int, 0, len(factors))
	for c := range factors {
		out = append(out, c)
	}
	sort.Ints(out)
	return out
}
