package polymarket

import (
	"bytes"
	"encoding/json"
	"math"
	"strconv"
	"strings"
)

// flexBool unmarshals from JSON bool or string ("true"/"false") so Gamma API
// responses work whether "active" is sent as bool or string. Anything else
// decodes as false.
type flexBool bool

func (f *flexBool) UnmarshalJSON(data []byte) error {
	var b bool
	if err := json.Unmarshal(data, &b); err == nil {
		*f = flexBool(b)
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		*f = false
		return nil
	}
	*f = flexBool(strings.EqualFold(s, "true") || s == "1")
	return nil
}

// Number is a Gamma numeric field that may arrive as a JSON number, a numeric
// string, null, or be missing. Set reports whether a numeric value was present.
type Number struct {
	Value float64
	Set   bool
}

// UnmarshalJSON never fails: values that are not numeric, including "NaN"
// and "Infinity" strings, leave Set false so a single odd field cannot break
// decoding of the surrounding record.
func (n *Number) UnmarshalJSON(data []byte) error {
	*n = Number{}
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		return nil
	}
	var f float64
	if err := json.Unmarshal(data, &f); err == nil {
		*n = Number{Value: f, Set: true}
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return nil
	}
	f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return nil
	}
	*n = Number{Value: f, Set: true}
	return nil
}

// MarshalJSON emits the value as a JSON number, or null when unset.
func (n Number) MarshalJSON() ([]byte, error) {
	if !n.Set {
		return []byte("null"), nil
	}
	return json.Marshal(n.Value)
}

// RawMarketRecord is an untrusted market listing as served by the Gamma
// /markets endpoint. It exists only for the duration of one fetch.
//
// OutcomePrices is kept raw: Gamma usually sends a JSON-encoded string such as
// "[\"0.42\",\"0.58\"]" but plain arrays show up too.
type RawMarketRecord struct {
	ID             string          `json:"id"`
	Question       string          `json:"question"`
	Category       string          `json:"category"`
	Description    string          `json:"description"`
	Image          string          `json:"image"`
	OutcomePrices  json.RawMessage `json:"outcomePrices"`
	Volume24hr     Number          `json:"volume24hr"`
	Volume24hrClob Number          `json:"volume24hrClob"`
	Volume24hrAmm  Number          `json:"volume24hrAmm"`
	Volume         Number          `json:"volume"`
	Active         flexBool        `json:"active"`
	Closed         flexBool        `json:"closed"`
	EndDate        string          `json:"endDate"`

	// DecodeErr is set when the element could not be decoded into this shape
	// at all. Such records carry no other data.
	DecodeErr error `json:"-"`
}

// IsActive reports the decoded "active" flag.
func (r RawMarketRecord) IsActive() bool { return bool(r.Active) }

// IsClosed reports the decoded "closed" flag.
func (r RawMarketRecord) IsClosed() bool { return bool(r.Closed) }

// rawID accepts ids sent either as strings or as bare numbers.
type rawID string

func (id *rawID) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		*id = rawID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		*id = ""
		return nil
	}
	*id = rawID(n.String())
	return nil
}

// UnmarshalJSON decodes a record while tolerating numeric ids.
func (r *RawMarketRecord) UnmarshalJSON(data []byte) error {
	type plain RawMarketRecord
	aux := struct {
		*plain
		ID rawID `json:"id"`
	}{plain: (*plain)(r)}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	r.ID = string(aux.ID)
	return nil
}

// marketsEnvelope is the wrapped response shape some Gamma deployments return.
type marketsEnvelope struct {
	Markets []json.RawMessage `json:"markets"`
	Data    []json.RawMessage `json:"data"`
}
