// Package jsonpath reads nested values out of dynamic, untyped JSON objects
// by path, and decodes the base64url JWT payload segment for the cases
// where a credential's identity has to be pulled out of an access token.
package jsonpath

import (
	"encoding/base64"
	"encoding/json"
	"strconv"
	"strings"
)

// Object is the dynamic value shape every credential and snapshot field is
// read from: keys are JSON object keys, values are any JSON-decodable type.
type Object = map[string]interface{}

// Parse decodes data into an Object. Missing or invalid JSON yields an
// empty object rather than an error — callers treat absent fields as
// "nothing to refresh", never as a hard failure.
func Parse(data []byte) Object {
	if len(data) == 0 {
		return Object{}
	}
	var root Object
	if err := json.Unmarshal(data, &root); err != nil {
		return Object{}
	}
	return root
}

// Get walks root through each path segment, returning (nil, false) as soon
// as a segment is missing or not an object.
func Get(root Object, path ...string) (interface{}, bool) {
	cur := interface{}(root)
	for _, seg := range path {
		obj, ok := cur.(Object)
		if !ok {
			// also accept map[string]interface{} that isn't the named type
			m, ok2 := cur.(map[string]interface{})
			if !ok2 {
				return nil, false
			}
			obj = m
		}
		v, ok := obj[seg]
		if !ok {
			return nil, false
		}
		cur = v
	}
	return cur, true
}

// GetString returns the string at path, trimmed, treating "" as absent.
func GetString(root Object, path ...string) (string, bool) {
	v, ok := Get(root, path...)
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	if !ok {
		return "", false
	}
	s = strings.TrimSpace(s)
	if s == "" {
		return "", false
	}
	return s, true
}

// GetNumber returns the value at path as a float64, accepting either a JSON
// number or a numeric string.
func GetNumber(root Object, path ...string) (float64, bool) {
	v, ok := Get(root, path...)
	if !ok {
		return 0, false
	}
	switch n := v.(type) {
	case float64:
		return n, true
	case json.Number:
		f, err := n.Float64()
		if err != nil {
			return 0, false
		}
		return f, true
	case string:
		s := strings.TrimSpace(n)
		if s == "" {
			return 0, false
		}
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return 0, false
		}
		return f, true
	default:
		return 0, false
	}
}

// GetBool returns the value at path as a bool. Beyond a literal JSON bool,
// it also accepts the truthy string/number forms callers of isTeam rely on.
func GetBool(root Object, path ...string) (bool, bool) {
	v, ok := Get(root, path...)
	if !ok {
		return false, false
	}
	switch b := v.(type) {
	case bool:
		return b, true
	case string:
		s := strings.ToLower(strings.TrimSpace(b))
		switch s {
		case "true", "1", "yes":
			return true, true
		case "false", "0", "no", "":
			return false, true
		default:
			return false, false
		}
	case float64:
		return b != 0, true
	default:
		return false, false
	}
}

// DecodeJWTEmail splits token into its three dot-delimited segments,
// base64url-decodes the payload (with and without padding), and reads the
// email or preferred_username claim. Any failure returns ("", false).
func DecodeJWTEmail(token string) (string, bool) {
	parts := strings.Split(token, ".")
	if len(parts) != 3 {
		return "", false
	}

	payload, ok := decodeBase64URL(parts[1])
	if !ok {
		return "", false
	}

	var claims Object
	if err := json.Unmarshal(payload, &claims); err != nil {
		return "", false
	}

	if email, ok := GetString(claims, "email"); ok {
		return email, true
	}
	if email, ok := GetString(claims, "preferred_username"); ok {
		return email, true
	}
	return "", false
}

func decodeBase64URL(s string) ([]byte, bool) {
	if decoded, err := base64.RawURLEncoding.DecodeString(s); err == nil {
		return decoded, true
	}
	padded := s
	switch len(s) % 4 {
	case 2:
		padded += "=="
	case 3:
		padded += "="
	}
	if decoded, err := base64.URLEncoding.DecodeString(padded); err == nil {
		return decoded, true
	}
	return nil, false
}
