package market

// Side is one of the two mutually exclusive outcomes of an up/down market.
type Side string

const (
	Yes Side = "YES"
	No  Side = "NO"
)

func (s Side) Valid() bool {
	return s == Yes || s == No
}

// Complement maps a YES-denominated price onto the opposite outcome.
func Complement(price float64) float64 {
	return 1 - price
}
