package utils

import (
	"github.com/go-viper/mapstructure/v2"
	"github.com/pkg/errors"
)

// AttributeMap is a free-form JSON-style configuration, e.g. the body of a request or a config file
// section.
type AttributeMap map[string]interface{}

// Has returns whether the map contains the key.
func (am AttributeMap) Has(key string) bool {
	_, has := am[key]
	return has
}

// Decode fills `result` from the map using the `json` struct tags of the target. String values
// are converted to numbers and booleans where the target field asks for them.
func (am AttributeMap) Decode(result interface{}) error {
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		TagName:          "json",
		Result:           result,
		WeaklyTypedInput: true,
		ErrorUnused:      true,
	})
	if err != nil {
		return errors.Wrap(err, "error creating decoder")
	}
	return errors.Wrap(decoder.Decode(am), "error decoding attributes")
}
