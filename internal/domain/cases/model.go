// Package cases loads, navigates and saves a user's collection of
// metastasis cases and drives the annotation workflow over it.
package cases

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/ehr/annotator/internal/domain/annotation"
)

var (
	// ErrInvalidDocument is returned for data that is not a JSON object of
	// case objects.
	ErrInvalidDocument = errors.New("invalid case document")
	ErrCaseNotFound    = errors.New("case not found")
)

const (
	keyReports    = "report"
	keySuggestion = "gpt_oss"
	keyAnnotation = "annotation"
)

// Modality is the imaging type of a report.
type Modality string

const (
	ModalityCT       Modality = "CT"
	ModalityMRI      Modality = "MRI"
	ModalityBoneScan Modality = "Bone Scan"
)

// Modalities lists the report tabs in display order.
var Modalities = []Modality{ModalityCT, ModalityMRI, ModalityBoneScan}

// ParseModality maps the modality labels found in source data onto a
// Modality. NM and BoneScan are aliases of Bone Scan.
func ParseModality(s string) (Modality, bool) {
	switch strings.ToUpper(strings.Join(strings.Fields(s), "")) {
	case "CT":
		return ModalityCT, true
	case "MRI", "MR":
		return ModalityMRI, true
	case "BONESCAN", "NM":
		return ModalityBoneScan, true
	}
	return "", false
}

// Text is a string that also accepts a JSON number. Report dates are
// exported by some systems as 20240115 rather than "20240115".
type Text string

func (t *Text) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	switch {
	case bytes.Equal(data, []byte("null")):
		*t = ""
		return nil
	case len(data) > 0 && data[0] == '"':
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*t = Text(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("expected string or number, got %s", data)
	}
	*t = Text(n.String())
	return nil
}

// Report is one imaging report. Reports are never modified.
type Report struct {
	Modality string `json:"modality"`
	Date     Text   `json:"date"`
	Finding  string `json:"finding"`
}

type member struct {
	key   string
	value json.RawMessage
}

// Case is one patient's bundle of reports, model suggestions and human
// annotations. Members other than the annotation are kept as read and
// written back unchanged, in their original order.
type Case struct {
	ID         string             `json:"-"`
	Reports    []Report           `json:"-"`
	Annotation *annotation.Record `json:"-"`

	members []member
}

func (c *Case) UnmarshalJSON(data []byte) error {
	members, err := decodeObject(data)
	if err != nil {
		return err
	}

	c.members = members
	c.Reports = nil
	c.Annotation = nil
	for _, m := range members {
		switch m.key {
		case keyReports:
			if isNull(m.value) {
				continue
			}
			if err := json.Unmarshal(m.value, &c.Reports); err != nil {
				return fmt.Errorf("%s: %w", keyReports, err)
			}
		case keyAnnotation:
			if isNull(m.value) {
				continue
			}
			var rec annotation.Record
			if err := json.Unmarshal(m.value, &rec); err != nil {
				return fmt.Errorf("%s: %w", keyAnnotation, err)
			}
			c.Annotation = &rec
		}
	}
	return nil
}

func (c *Case) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	wroteAnnotation := false
	n := 0
	write := func(key string, value []byte) error {
		if n > 0 {
			buf.WriteByte(',')
		}
		n++
		k, err := marshal(key)
		if err != nil {
			return err
		}
		buf.Write(k)
		buf.WriteByte(':')
		buf.Write(value)
		return nil
	}

	for _, m := range c.members {
		value := []byte(m.value)
		if m.key == keyAnnotation {
			if c.Annotation == nil {
				continue
			}
			enc, err := marshal(c.Annotation)
			if err != nil {
				return nil, err
			}
			value = enc
			wroteAnnotation = true
		}
		if err := write(m.key, value); err != nil {
			return nil, err
		}
	}
	if !wroteAnnotation && c.Annotation != nil {
		enc, err := marshal(c.Annotation)
		if err != nil {
			return nil, err
		}
		if err := write(keyAnnotation, enc); err != nil {
			return nil, err
		}
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// Suggestion returns the model suggested values stored under key in the
// case's gpt_oss record, or nil when there are none.
func (c *Case) Suggestion(key string) annotation.Values {
	raw := c.member(keySuggestion)
	if raw == nil {
		return nil
	}
	var variants map[string]json.RawMessage
	if err := json.Unmarshal(raw, &variants); err != nil {
		return nil
	}
	var values annotation.Values
	if err := json.Unmarshal(variants[key], &values); err != nil {
		return nil
	}
	return values
}

// Verified reports whether any user has saved an annotation for the case.
func (c *Case) Verified() bool {
	return c.Annotation.IsVerified()
}

func (c *Case) member(key string) json.RawMessage {
	for _, m := range c.members {
		if m.key == key {
			return m.value
		}
	}
	return nil
}

// Collection is the ordered mapping of case ID to case that makes up a
// workspace file. Document order is navigation order.
type Collection struct {
	order []string
	cases map[string]*Case
}

// NewCollection returns an empty collection.
func NewCollection() *Collection {
	return &Collection{cases: make(map[string]*Case)}
}

// Parse decodes a workspace document. Anything other than a JSON object
// whose members are all objects is rejected with ErrInvalidDocument.
func Parse(data []byte) (*Collection, error) {
	members, err := decodeObject(data)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidDocument, err)
	}

	col := NewCollection()
	for _, m := range members {
		c := &Case{ID: m.key}
		if err := json.Unmarshal(m.value, c); err != nil {
			return nil, fmt.Errorf("%w: case %q: %v", ErrInvalidDocument, m.key, err)
		}
		col.put(c)
	}
	return col, nil
}

func (col *Collection) put(c *Case) {
	if _, ok := col.cases[c.ID]; !ok {
		col.order = append(col.order, c.ID)
	}
	col.cases[c.ID] = c
}

// Len returns the number of cases.
func (col *Collection) Len() int {
	return len(col.order)
}

// IDs returns the case IDs in document order.
func (col *Collection) IDs() []string {
	out := make([]string, len(col.order))
	copy(out, col.order)
	return out
}

// At returns the case at position i.
func (col *Collection) At(i int) *Case {
	return col.cases[col.order[i]]
}

// Get returns the case with the given ID.
func (col *Collection) Get(id string) (*Case, bool) {
	c, ok := col.cases[id]
	return c, ok
}

// Index returns the position of id, or -1.
func (col *Collection) Index(id string) int {
	for i, k := range col.order {
		if k == id {
			return i
		}
	}
	return -1
}

// FirstUnverified returns the position of the first case nobody has
// annotated yet, or 0 when every case is verified.
func (col *Collection) FirstUnverified() int {
	for i, id := range col.order {
		if !col.cases[id].Verified() {
			return i
		}
	}
	return 0
}

func (col *Collection) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, id := range col.order {
		if i > 0 {
			buf.WriteByte(',')
		}
		k, err := marshal(id)
		if err != nil {
			return nil, err
		}
		v, err := col.cases[id].MarshalJSON()
		if err != nil {
			return nil, fmt.Errorf("case %q: %w", id, err)
		}
		buf.Write(k)
		buf.WriteByte(':')
		buf.Write(v)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// decodeObject reads a single JSON object and returns its members in
// document order. A repeated key keeps its first position and last value.
func decodeObject(data []byte) ([]member, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	tok, err := dec.Token()
	if err != nil {
		return nil, err
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return nil, fmt.Errorf("expected object, got %v", tok)
	}

	var members []member
	seen := make(map[string]int)
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return nil, err
		}
		key, ok := tok.(string)
		if !ok {
			return nil, fmt.Errorf("expected key, got %v", tok)
		}
		var value json.RawMessage
		if err := dec.Decode(&value); err != nil {
			return nil, fmt.Errorf("%s: %w", key, err)
		}
		if i, dup := seen[key]; dup {
			members[i].value = value
			continue
		}
		seen[key] = len(members)
		members = append(members, member{key: key, value: value})
	}
	if _, err := dec.Token(); err != nil {
		return nil, err
	}
	if _, err := dec.Token(); err != io.EOF {
		return nil, errors.New("unexpected data after object")
	}
	return members, nil
}

func isNull(raw json.RawMessage) bool {
	return bytes.Equal(bytes.TrimSpace(raw), []byte("null"))
}

// marshal encodes v without HTML escaping so clinical text such as "<3 cm"
// survives unchanged.
func marshal(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}

// ReportDate returns the report date as text.
func (r Report) ReportDate() string {
	return strings.TrimSpace(string(r.Date))
}
