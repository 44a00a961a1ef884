package models

// MarketReport holds aggregate figures over stored listings.
type MarketReport struct {
	TotalListings  int
	ActiveListings int
	WithImages     int
	NeedsRecrawl   int
	AverageRent    float64
	MinRent        float64
	MaxRent        float64
	AveragePerSqm  float64
	MostExpensive  *ListingRecord
	Cheapest       []ListingRecord
	ByDistrict     map[string]int
}
