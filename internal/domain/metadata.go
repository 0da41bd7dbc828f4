package domain

import (
	"encoding/json"
	"fmt"
	"math"
	"reflect"
	"time"
)

// Conventional metadata keys. Ingestion sources vary, so none of them is
// required; values are checked where they are read.
const (
	MetaSource        = "source"
	MetaPage          = "page"
	MetaCrawlTime     = "crawl_time"
	MetaCrawledAt     = "crawled_at"
	MetaURLPath       = "url_path"
	MetaIsPDF         = "is_pdf"
	MetaPDFPageNumber = "pdf_page_number"
	MetaChunkSize     = "chunk_size"
)

// Metadata is the open key/value structure attached to a chunk.
type Metadata map[string]any

// Clone returns a shallow copy of m. A nil map clones to an empty one.
func (m Metadata) Clone() Metadata {
	out := make(Metadata, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// Source returns the source tag, if present and a string.
func (m Metadata) Source() (string, bool) {
	s, ok := m[MetaSource].(string)
	return s, ok
}

// Page returns the page number from "page" or, for PDFs, "pdf_page_number".
func (m Metadata) Page() (int, bool) {
	for _, key := range []string{MetaPage, MetaPDFPageNumber} {
		if v, ok := m.Number(key); ok && v == math.Trunc(v) {
			return int(v), true
		}
	}
	return 0, false
}

// CrawlTime parses "crawl_time" or "crawled_at" as RFC 3339.
func (m Metadata) CrawlTime() (time.Time, bool) {
	for _, key := range []string{MetaCrawlTime, MetaCrawledAt} {
		s, ok := m[key].(string)
		if !ok {
			continue
		}
		if t, err := time.Parse(time.RFC3339, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// Number reads a numeric value regardless of how it was decoded. Numeric
// strings are not numbers.
func (m Metadata) Number(key string) (float64, bool) {
	return toFloat(m[key])
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	}
	return 0, false
}

// Range is an inclusive numeric bound on a metadata key. A nil bound is open.
type Range struct {
	Key string   `json:"key" yaml:"key"`
	Min *float64 `json:"min,omitempty" yaml:"min,omitempty"`
	Max *float64 `json:"max,omitempty" yaml:"max,omitempty"`
}

// Filter narrows a nearest-neighbour search by metadata. All conditions must
// hold. A nil or empty filter matches every chunk.
type Filter struct {
	Equals map[string]any `json:"equals,omitempty" yaml:"equals,omitempty"`
	Ranges []Range        `json:"ranges,omitempty" yaml:"ranges,omitempty"`
}

// IsEmpty reports whether the filter has no conditions.
func (f *Filter) IsEmpty() bool {
	return f == nil || (len(f.Equals) == 0 && len(f.Ranges) == 0)
}

// Match evaluates the filter against chunk metadata.
func (f *Filter) Match(m Metadata) bool {
	if f.IsEmpty() {
		return true
	}
	for k, want := range f.Equals {
		got, ok := m[k]
		if !ok || !valuesEqual(got, want) {
			return false
		}
	}
	for _, r := range f.Ranges {
		v, ok := m.Number(r.Key)
		if !ok {
			return false
		}
		if r.Min != nil && v < *r.Min {
			return false
		}
		if r.Max != nil && v > *r.Max {
			return false
		}
	}
	return true
}

// String renders the filter canonically, used for cache keys.
func (f *Filter) String() string {
	if f.IsEmpty() {
		return ""
	}
	data, err := json.Marshal(f)
	if err != nil {
		return fmt.Sprintf("%v", *f)
	}
	return string(data)
}

// PageRange builds a filter restricting results to pages [from, to].
func PageRange(from, to int) *Filter {
	lo, hi := float64(from), float64(to)
	return &Filter{Ranges: []Range{{Key: MetaPage, Min: &lo, Max: &hi}}}
}

// valuesEqual compares metadata values of the same kind. Numbers compare by
// value whatever their Go type; a string never equals a number or a bool.
func valuesEqual(a, b any) bool {
	fa, aNum := toFloat(a)
	fb, bNum := toFloat(b)
	if aNum || bNum {
		return aNum && bNum && fa == fb
	}
	switch av := a.(type) {
	case string:
		bv, ok := b.(string)
		return ok && av == bv
	case bool:
		bv, ok := b.(bool)
		return ok && av == bv
	case nil:
		return b == nil
	}
	return reflect.DeepEqual(a, b)
}
