package confidence

import (
	"bytes"
	"encoding/json"
	"sort"
	"strconv"
	"strings"

	lerrors "librarian/internal/errors"
)

var confidenceKeys = map[string]bool{
	"confidence":  true,
	"probability": true,
	"prob":        true,
	"certainty":   true,
	"likelihood":  true,
}

// Keys ending in one of these, like claimedConfidence, are confidence keys too
var confidenceSuffixes = []string{"confidence", "probability", "certainty", "likelihood"}

// valueFields are the keys Value.MarshalJSON may emit
var valueFields = map[string]bool{
	"state":     true,
	"point":     true,
	"interval":  true,
	"basis":     true,
	"rawSignal": true,
	"reason":    true,
}

func isConfidenceKey(k string) bool {
	k = strings.ToLower(k)
	if confidenceKeys[k] {
		return true
	}
	for _, suffix := range confidenceSuffixes {
		if strings.HasSuffix(k, suffix) {
			return true
		}
	}
	return false
}

// isTagged reports whether m has the shape of a marshalled Value
func isTagged(m map[string]interface{}) bool {
	state, ok := m["state"].(string)
	if !ok {
		return false
	}
	switch State(state) {
	case StateCalibrated, StateUncalibrated, StateAbsent:
	default:
		return false
	}
	for k := range m {
		if !valueFields[k] {
			return false
		}
	}
	return true
}

// Guard checks a claim-facing response for bare numeric confidences.
// payload may be any JSON-marshalable value or raw JSON bytes.
func Guard(payload interface{}) error {
	var data []byte
	switch p := payload.(type) {
	case json.RawMessage:
		data = p
	case []byte:
		data = p
	default:
		b, err := json.Marshal(payload)
		if err != nil {
			return lerrors.New(lerrors.InternalError, "response is not serializable", err)
		}
		data = b
	}

	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var doc interface{}
	if err := dec.Decode(&doc); err != nil {
		return lerrors.New(lerrors.InternalError, "response is not valid JSON", err)
	}

	if path, ok := findRaw(doc, "$", false); ok {
		return lerrors.Newf(lerrors.RawConfidence, "bare numeric confidence at %s", path).
			WithDetails(map[string]string{"path": path})
	}
	return nil
}

// findRaw walks doc and returns the path of the first number found anywhere
// beneath a confidence-like key. Tagged confidence values are the one shape
// allowed there.
func findRaw(doc interface{}, path string, underKey bool) (string, bool) {
	switch v := doc.(type) {
	case json.Number:
		return path, underKey
	case map[string]interface{}:
		if underKey && isTagged(v) {
			return "", false
		}
		keys := make([]string, 0, len(v))
		for k := range v {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			if p, ok := findRaw(v[k], path+"."+k, underKey || isConfidenceKey(k)); ok {
				return p, true
			}
		}
	case []interface{}:
		for i, item := range v {
			if p, ok := findRaw(item, path+"["+strconv.Itoa(i)+"]", underKey); ok {
				return p, true
			}
		}
	}
	return "", false
}
