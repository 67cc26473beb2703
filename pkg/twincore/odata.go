package twincore

import (
	"encoding/json"
	"net/http"
)

const odataVersion = "4.0"

// JSON writes v as an OData JSON response.
func JSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; odata.metadata=minimal")
	w.Header().Set("OData-Version", odataVersion)
	w.WriteHeader(status)
	if v == nil {
		return
	}
	_ = json.NewEncoder(w).Encode(v)
}

// NoContent writes a bodiless 204.
func NoContent(w http.ResponseWriter) {
	w.Header().Set("OData-Version", odataVersion)
	w.WriteHeader(http.StatusNoContent)
}

type errorBody struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// Error writes an OData error:
//
//	{"error":{"code":"0x80040217","message":"..."}}
//
// Without a code the status text is used.
func Error(w http.ResponseWriter, status int, code, message string) {
	var body errorBody
	body.Error.Code = code
	if code == "" {
		body.Error.Code = http.StatusText(status)
	}
	body.Error.Message = message
	JSON(w, status, body)
}
