package auth

import (
	"encoding/json"
	"fmt"
)

// knownUserFields are decoded into typed User fields and excluded from Extra.
//
//nolint:gochecknoglobals // static read-only lookup
var knownUserFields = map[string]struct{}{
	"id": {}, "email": {}, "firstName": {}, "lastName": {}, "roleId": {},
	"gender": {}, "phone": {}, "address": {}, "country": {}, "autonomousCommunity": {},
	"province": {}, "professionalCategory": {}, "interests": {}, "verified": {},
	"state": {}, "createdAt": {}, "updatedAt": {},
}

type userAlias User

// UnmarshalJSON decodes a backend user record, keeping unknown attributes in Extra.
// Numeric ids are accepted and stored in their decimal form.
func (u *User) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	var id json.RawMessage
	if v, ok := raw["id"]; ok {
		id = v
		delete(raw, "id")
	}
	trimmed, err := json.Marshal(raw)
	if err != nil {
		return err
	}

	var alias userAlias
	if err := json.Unmarshal(trimmed, &alias); err != nil {
		return err
	}
	if alias.ID, err = decodeID(id); err != nil {
		return err
	}

	for k, v := range raw {
		if _, known := knownUserFields[k]; known {
			continue
		}
		if alias.Extra == nil {
			alias.Extra = make(map[string]json.RawMessage)
		}
		alias.Extra[k] = v
	}

	*u = User(alias)
	return nil
}

// MarshalJSON writes the typed fields followed by any pass-through attributes.
func (u User) MarshalJSON() ([]byte, error) {
	base, err := json.Marshal(userAlias(u))
	if err != nil {
		return nil, err
	}
	if len(u.Extra) == 0 {
		return base, nil
	}

	var merged map[string]json.RawMessage
	if err := json.Unmarshal(base, &merged); err != nil {
		return nil, err
	}
	for k, v := range u.Extra {
		if _, known := knownUserFields[k]; known {
			continue
		}
		merged[k] = v
	}
	return json.Marshal(merged)
}

func decodeID(raw json.RawMessage) (string, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return "", nil
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s, nil
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err != nil {
		return "", fmt.Errorf("decode user id: %w", err)
	}
	return n.String(), nil
}
