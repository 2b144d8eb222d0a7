package enums

import "fmt"

// ProductTargetType selects whether a rule applies to all products or only
// to the products/categories/brands listed in its restriction sets.
type ProductTargetType string

const (
	ProductTargetAll      ProductTargetType = "all_products"
	ProductTargetSpecific ProductTargetType = "specific"
)

var validProductTargetTypes = []ProductTargetType{
	ProductTargetAll,
	ProductTargetSpecific,
}

// String implements fmt.Stringer.
func (p ProductTargetType) String() string {
	return string(p)
}

// IsValid reports whether the value is a known ProductTargetType.
func (p ProductTargetType) IsValid() bool {
	for _, candidate := range validProductTargetTypes {
		if candidate == p {
			return true
		}
	}
	return false
}

// ParseProductTargetType converts raw input into a ProductTargetType.
func ParseProductTargetType(value string) (ProductTargetType, error) {
	for _, candidate := range validProductTargetTypes {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid product target type %q", value)
}

// CustomerTargetType selects whether a rule applies to all customers or only
// to the customers/tiers listed in its restriction sets.
type CustomerTargetType string

const (
	CustomerTargetAll      CustomerTargetType = "all_customers"
	CustomerTargetSpecific CustomerTargetType = "specific"
)

var validCustomerTargetTypes = []CustomerTargetType{
	CustomerTargetAll,
	CustomerTargetSpecific,
}

// String implements fmt.Stringer.
func (c CustomerTargetType) String() string {
	return string(c)
}

// IsValid reports whether the value is a known CustomerTargetType.
func (c CustomerTargetType) IsValid() bool {
	for _, candidate := range validCustomerTargetTypes {
		if candidate == c {
			return true
		}
	}
	return false
}

// ParseCustomerTargetType converts raw input into a CustomerTargetType.
func ParseCustomerTargetType(value string) (CustomerTargetType, error) {
	for _, candidate := range validCustomerTargetTypes {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid customer target type %q", value)
}
