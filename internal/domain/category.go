package domain

// Vector is a fixed-length text embedding.
type Vector []float64

// Unit is the quantity an emission factor is expressed per.
type Unit string

const (
	// UnitKilogram factors multiply an item's weight in kg.
	UnitKilogram Unit = "kg"
	// UnitCurrency factors multiply a price in major currency units.
	UnitCurrency Unit = "currency"
)

// CategoryEntry is one emission-factor category with its embedding.
type CategoryEntry struct {
	Dataset string
	Name    string
	Factor  float64 // kg CO2e per Unit of the owning dataset
	Vector  Vector
	Model   string
}
