package enums

import "fmt"

// CustomerTier is the pricing segmentation used for targeting rules.
type CustomerTier string

const (
	CustomerTierStandard CustomerTier = "standard"
	CustomerTierSilver   CustomerTier = "silver"
	CustomerTierGold     CustomerTier = "gold"
	CustomerTierPlatinum CustomerTier = "platinum"
)

var validCustomerTiers = []CustomerTier{
	CustomerTierStandard,
	CustomerTierSilver,
	CustomerTierGold,
	CustomerTierPlatinum,
}

// String implements fmt.Stringer.
func (t CustomerTier) String() string {
	return string(t)
}

// IsValid reports whether the value is a known CustomerTier.
func (t CustomerTier) IsValid() bool {
	for _, candidate := range validCustomerTiers {
		if candidate == t {
			return true
		}
	}
	return false
}

// ParseCustomerTier converts raw input into a CustomerTier.
func ParseCustomerTier(value string) (CustomerTier, error) {
	for _, candidate := range validCustomerTiers {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid customer tier %q", value)
}
