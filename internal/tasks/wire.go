package tasks

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// WireID is a store-assigned id. Stores emit numbers; strings and null are
// accepted too.
type WireID string

func (id *WireID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*id = ""
		return nil
	}
	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*id = WireID(strings.TrimSpace(s))
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("task id: %w", err)
	}
	*id = WireID(n.String())
	return nil
}

func (id WireID) MarshalJSON() ([]byte, error) {
	if id == "" {
		return []byte("null"), nil
	}
	if n, err := strconv.ParseInt(string(id), 10, 64); err == nil && strconv.FormatInt(n, 10) == string(id) {
		return []byte(id), nil
	}
	return json.Marshal(string(id))
}

// WireTask is the REST representation of a task.
type WireTask struct {
	ID          WireID `json:"id"`
	Title       string `json:"title"`
	Description string `json:"description"`
	Completed   bool   `json:"completed"`
	DueDate     string `json:"due_date,omitempty"`
}

// WirePatch is a partial update body. An empty due_date clears the due date.
type WirePatch struct {
	Title       *string `json:"title,omitempty"`
	Description *string `json:"description,omitempty"`
	Completed   *bool   `json:"completed,omitempty"`
	DueDate     *string `json:"due_date,omitempty"`
}

func ToWire(t Task) WireTask {
	out := WireTask{
		ID:          WireID(t.RemoteID),
		Title:       t.Title,
		Description: t.Description,
		Completed:   t.Completed,
	}
	if t.DueDate != nil {
		out.DueDate = FormatDueDate(*t.DueDate)
	}
	return out
}

func FromWire(w WireTask) (Task, error) {
	out := Task{
		RemoteID:    string(w.ID),
		Title:       w.Title,
		Description: w.Description,
		Completed:   w.Completed,
	}
	if strings.TrimSpace(w.DueDate) != "" {
		due, err := ParseDueDate(w.DueDate)
		if err != nil {
			return Task{}, err
		}
		out.DueDate = &due
	}
	return out, nil
}

func PatchToWire(p Patch) WirePatch {
	out := WirePatch{
		Title:       p.Title,
		Description: p.Description,
		Completed:   p.Completed,
	}
	switch {
	case p.ClearDueDate:
		empty := ""
		out.DueDate = &empty
	case p.DueDate != nil:
		v := FormatDueDate(*p.DueDate)
		out.DueDate = &v
	}
	return out
}

func PatchFromWire(w WirePatch) (Patch, error) {
	out := Patch{
		Title:       w.Title,
		Description: w.Description,
		Completed:   w.Completed,
	}
	if w.DueDate != nil {
		if strings.TrimSpace(*w.DueDate) == "" {
			out.ClearDueDate = true
		} else {
			due, err := ParseDueDate(*w.DueDate)
			if err != nil {
				return Patch{}, err
			}
			out.DueDate = &due
		}
	}
	return out, nil
}

var dueDateLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02T15:04",
	"2006-01-02 15:04",
	"2006-01-02",
}

// ParseDueDate accepts RFC 3339 and the zone-less forms stores commonly emit.
// Zone-less values are read as UTC.
func ParseDueDate(raw string) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	for _, layout := range dueDateLayouts {
		if t, err := time.Parse(layout, raw); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, &ValidationError{Field: "due_date", Reason: fmt.Sprintf("unrecognised date %q", raw)}
}

func FormatDueDate(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}
