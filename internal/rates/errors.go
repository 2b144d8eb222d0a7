package rates

import "errors"

var (
	errSourceRequired = errors.New("rate source required")
	errStoreRequired  = errors.New("rate store required")
)
