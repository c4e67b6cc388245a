package utils

import (
	"encoding/json"
	"net/http"
)

// WriteJSONResponse sets the JSON content type, writes the status code and
// encodes data onto the response. Encoding errors are unrecoverable once the
// header is written, so they are not surfaced.
func WriteJSONResponse(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(data)
}
