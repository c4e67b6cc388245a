package utils

import "encoding/json"

// MustMarshalJSON marshals v and panics on failure. Callers pass structs and
// maps built in code, where a marshal error means a programming bug.
func MustMarshalJSON(v interface{}) []byte {
	data, err := json.Marshal(v)
	if err != nil {
		panic("failed to marshal JSON: " + err.Error())
	}
	return data
}
