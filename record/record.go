package record

import (
	"bytes"
	"encoding/json"
	"fmt"
)

const (
	idField  = "_id"
	revField = "_rev"
)

// Record is one document in a collection.
type Record struct {
	ID         string
	Rev        Revision
	Collection Collection
	Fields     map[string]any
}

// New returns a record with a copy of fields.
func New(c Collection, id string, fields map[string]any) Record {
	return Record{ID: id, Collection: c, Fields: cloneFields(fields)}
}

// Clone returns a deep-enough copy: the field map is copied, values are shared.
func (r Record) Clone() Record {
	r.Fields = cloneFields(r.Fields)
	return r
}

// Merge returns a copy of r with patch's fields laid over r's and patch's
// id and revision when they are set.
func (r Record) Merge(patch Record) Record {
	out := r.Clone()
	if out.Fields == nil {
		out.Fields = make(map[string]any, len(patch.Fields))
	}
	for k, v := range patch.Fields {
		out.Fields[k] = v
	}
	if patch.ID != "" {
		out.ID = patch.ID
	}
	if !patch.Rev.IsZero() {
		out.Rev = patch.Rev
	}
	return out
}

func cloneFields(in map[string]any) map[string]any {
	if in == nil {
		return nil
	}
	out := make(map[string]any, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

// MarshalJSON writes the flat document form: fields plus _id and _rev.
func (r Record) MarshalJSON() ([]byte, error) {
	doc := make(map[string]any, len(r.Fields)+2)
	for k, v := range r.Fields {
		doc[k] = v
	}
	if r.ID != "" {
		doc[idField] = r.ID
	}
	if !r.Rev.IsZero() {
		doc[revField] = string(r.Rev)
	}
	return json.Marshal(doc)
}

// UnmarshalJSON reads a flat document. A plain "id" is accepted when "_id" is absent.
// Collection is not part of the wire form and is left untouched.
func (r *Record) UnmarshalJSON(data []byte) error {
	var doc map[string]any
	if err := json.Unmarshal(data, &doc); err != nil {
		return err
	}
	if doc == nil {
		return fmt.Errorf("record: expected object, got null")
	}
	r.ID, r.Rev = "", ""
	if v, ok := doc[idField]; ok {
		s, ok := v.(string)
		if !ok {
			return fmt.Errorf("record: _id must be a string, got %T", v)
		}
		r.ID = s
		delete(doc, idField)
	} else if v, ok := doc["id"].(string); ok {
		r.ID = v
	}
	if v, ok := doc[revField]; ok {
		s, ok := v.(string)
		if !ok {
			return fmt.Errorf("record: _rev must be a string, got %T", v)
		}
		r.Rev = Revision(s)
		delete(doc, revField)
	}
	r.Fields = doc
	return nil
}

// DecodeRecords parses either a single document or an array of documents and
// stamps each with c.
func DecodeRecords(c Collection, data []byte) ([]Record, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || string(trimmed) == "null" {
		return nil, nil
	}
	var recs []Record
	if trimmed[0] == '[' {
		if err := json.Unmarshal(trimmed, &recs); err != nil {
			return nil, fmt.Errorf("decode %s records: %w", c, err)
		}
	} else {
		var rec Record
		if err := json.Unmarshal(trimmed, &rec); err != nil {
			return nil, fmt.Errorf("decode %s record: %w", c, err)
		}
		recs = []Record{rec}
	}
	for i := range recs {
		recs[i].Collection = c
	}
	return recs, nil
}
