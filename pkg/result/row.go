package result

import (
	"bytes"
	"encoding/json"

	"github.com/RoaringBitmap/roaring/roaring64"
)

// Field is a named value in a Row.
type Field struct {
	Name  string
	Value interface{}
}

// Row is an ordered record. It marshals as a JSON object preserving column order.
type Row []Field

// Get returns the value of the named field.
func (r Row) Get(name string) (interface{}, bool) {
	for _, f := range r {
		if f.Name == name {
			return f.Value, true
		}
	}
	return nil, false
}

// MarshalJSON implements json.Marshaler.
func (r Row) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, f := range r {
		if i > 0 {
			buf.WriteByte(',')
		}
		k, err := json.Marshal(f.Name)
		if err != nil {
			return nil, err
		}
		v, err := json.Marshal(f.Value)
		if err != nil {
			return nil, err
		}
		buf.Write(k)
		buf.WriteByte(':')
		buf.Write(v)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// ValueCount is one entry of a value frequency table.
type ValueCount struct {
	Value interface{} `json:"value"`
	Count int64       `json:"count"`
}

// IndexList holds batch row positions of unexpected rows.
type IndexList struct {
	bm *roaring64.Bitmap
}

// NewIndexList builds a list from positions.
func NewIndexList(positions ...uint64) *IndexList {
	l := &IndexList{bm: roaring64.New()}
	l.bm.AddMany(positions)
	return l
}

// Add appends a position.
func (l *IndexList) Add(pos uint64) {
	l.bm.Add(pos)
}

// Len returns the number of positions.
func (l *IndexList) Len() int {
	if l == nil || l.bm == nil {
		return 0
	}
	return int(l.bm.GetCardinality())
}

// Positions returns the positions in ascending order.
func (l *IndexList) Positions() []uint64 {
	if l == nil || l.bm == nil {
		return nil
	}
	return l.bm.ToArray()
}

// Head returns a list with the first n positions.
func (l *IndexList) Head(n int) *IndexList {
	out := NewIndexList()
	if l == nil || l.bm == nil {
		return out
	}
	it := l.bm.Iterator()
	for i := 0; i < n && it.HasNext(); i++ {
		out.Add(it.Next())
	}
	return out
}

// MarshalJSON implements json.Marshaler.
func (l *IndexList) MarshalJSON() ([]byte, error) {
	positions := l.Positions()
	if positions == nil {
		positions = []uint64{}
	}
	return json.Marshal(positions)
}

// UnmarshalJSON implements json.Unmarshaler.
func (l *IndexList) UnmarshalJSON(data []byte) error {
	var positions []uint64
	if err := json.Unmarshal(data, &positions); err != nil {
		return err
	}
	l.bm = roaring64.New()
	l.bm.AddMany(positions)
	return nil
}
