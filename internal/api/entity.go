package api

import (
	"bytes"
	"encoding/json"
	"strconv"
)

// flexID accepts an id encoded as either a JSON string or a JSON number.
type flexID string

func (f *flexID) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || string(b) == "null" {
		return nil
	}
	if b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*f = flexID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return err
	}
	if i, err := n.Int64(); err == nil {
		*f = flexID(strconv.FormatInt(i, 10))
		return nil
	}
	*f = flexID(n.String())
	return nil
}

type idBody struct {
	ID     flexID `json:"id"`
	DutyID flexID `json:"duty_id"`
}

// entityID pulls the server id out of a success body. Both flat bodies
// ({"id": 42}) and enveloped ones ({"data": {"id": 42}}) are accepted.
func entityID(body []byte) string {
	if len(bytes.TrimSpace(body)) == 0 {
		return ""
	}
	var flat struct {
		idBody
		Data *idBody `json:"data"`
	}
	if err := json.Unmarshal(body, &flat); err != nil {
		return ""
	}
	for _, b := range []*idBody{&flat.idBody, flat.Data} {
		if b == nil {
			continue
		}
		if b.ID != "" {
			return string(b.ID)
		}
		if b.DutyID != "" {
			return string(b.DutyID)
		}
	}
	return ""
}
