package navilink

import (
	"bytes"
	"encoding/json"
	"strconv"
)

// FlexString decodes a JSON string or number into its string form.
// The cloud is inconsistent about quoting sequence numbers and session ids.
type FlexString string

// UnmarshalJSON implements json.Unmarshaler.
func (s *FlexString) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*s = ""
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var v string
		if err := json.Unmarshal(data, &v); err != nil {
			return err
		}
		*s = FlexString(v)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return err
	}
	*s = FlexString(n.String())
	return nil
}

// FlexInt decodes a JSON number, numeric string or boolean into an int.
type FlexInt int

// UnmarshalJSON implements json.Unmarshaler.
func (i *FlexInt) UnmarshalJSON(data []byte) error {
	v, ok := numberFrom(data)
	if !ok {
		*i = 0
		return nil
	}
	*i = FlexInt(int(v))
	return nil
}

// fields is a decoded JSON object with typed accessors that tolerate the
// mix of numbers, numeric strings and booleans seen on the wire.
type fields map[string]json.RawMessage

func decodeFields(data json.RawMessage) fields {
	var f fields
	if len(data) == 0 {
		return fields{}
	}
	if err := json.Unmarshal(data, &f); err != nil || f == nil {
		return fields{}
	}
	return f
}

func (f fields) has(key string) bool {
	_, ok := f[key]
	return ok
}

func (f fields) num(key string, def float64) float64 {
	raw, ok := f[key]
	if !ok {
		return def
	}
	v, ok := numberFrom(raw)
	if !ok {
		return def
	}
	return v
}

func (f fields) integer(key string, def int) int {
	return int(f.num(key, float64(def)))
}

// truthy mirrors loose truthiness: non-zero numbers, true, non-empty strings.
func (f fields) truthy(key string) bool {
	raw, ok := f[key]
	if !ok {
		return false
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		if v, err := strconv.ParseFloat(s, 64); err == nil {
			return v != 0
		}
		return s != ""
	}
	v, ok := numberFrom(raw)
	return ok && v != 0
}

func (f fields) str(key string) string {
	raw, ok := f[key]
	if !ok {
		return ""
	}
	var s FlexString
	if err := json.Unmarshal(raw, &s); err != nil {
		return ""
	}
	return string(s)
}

func (f fields) object(key string) fields {
	return decodeFields(f[key])
}

func numberFrom(data []byte) (float64, bool) {
	data = bytes.TrimSpace(data)
	switch {
	case len(data) == 0, bytes.Equal(data, []byte("null")):
		return 0, false
	case bytes.Equal(data, []byte("true")):
		return 1, true
	case bytes.Equal(data, []byte("false")):
		return 0, true
	case data[0] == '"':
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return 0, false
		}
		v, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return 0, false
		}
		return v, true
	}
	var v float64
	if err := json.Unmarshal(data, &v); err != nil {
		return 0, false
	}
	return v, true
}
