package entity

import (
	"encoding"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"reflect"
	"sort"
)

// Row is the result of every requested call at one block, keyed by output label.
type Row struct {
	Block  int64
	Values map[string]any
}

// Labels returns the row's labels in sorted order.
func (r Row) Labels() []string {
	labels := make([]string, 0, len(r.Values))
	for label := range r.Values {
		labels = append(labels, label)
	}
	sort.Strings(labels)
	return labels
}

// MarshalJSON flattens the row into one object with a "block" key next to the labels.
// Byte slices and byte arrays are written as 0x-prefixed hex.
func (r Row) MarshalJSON() ([]byte, error) {
	flat := make(map[string]any, len(r.Values)+1)
	for label, v := range r.Values {
		flat[label] = jsonValue(v)
	}
	flat["block"] = r.Block
	return json.Marshal(flat)
}

func jsonValue(v any) any {
	switch x := v.(type) {
	case nil:
		return nil
	case []byte:
		return "0x" + hex.EncodeToString(x)
	case json.Marshaler, encoding.TextMarshaler:
		return v
	}

	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Array:
		if rv.Type().Elem().Kind() == reflect.Uint8 {
			b := make([]byte, rv.Len())
			for i := range b {
				b[i] = byte(rv.Index(i).Uint())
			}
			return "0x" + hex.EncodeToString(b)
		}
	case reflect.Slice:
		if rv.IsNil() {
			return v
		}
	default:
		return v
	}

	list := make([]any, rv.Len())
	for i := range list {
		list[i] = jsonValue(rv.Index(i).Interface())
	}
	return list
}

// WriteJSONLines writes one flattened JSON object per row.
func WriteJSONLines(w io.Writer, rows []Row) error {
	enc := json.NewEncoder(w)
	for _, row := range rows {
		if err := enc.Encode(row); err != nil {
			return fmt.Errorf("failed to encode row for block %d: %w", row.Block, err)
		}
	}
	return nil
}
