package utils

import (
	"github.com/pkg/errors"
)

// NewOutOfRangeError is used when a configuration value falls outside its allowed range.
func NewOutOfRangeError(field string, value interface{}, bound string) error {
	return errors.Errorf("%s cannot be %v, must be %s", field, value, bound)
}
