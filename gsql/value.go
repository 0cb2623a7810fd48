package gsql

import "strconv"

// Tag is a value type in a format string.
type Tag byte

const (
	TagText      Tag = 's'
	TagOwnedText Tag = 'S'
	TagInt       Tag = 'i'
)

// IsText reports whether t carries text.
func (t Tag) IsText() bool { return t == TagText || t == TagOwnedText }

// Cell is the typed, nullable slot exchanged with a driver, one per bound
// parameter occurrence or fetched column.
type Cell struct {
	Tag  Tag
	Null bool
	Int  int64
	// Buf holds text. On fetch it either aliases backend memory that stays
	// valid until the next fetch, or reuses the capacity allocated by the
	// caller, whose cap is the maximum text length.
	Buf []byte
}

// Value is one bind parameter. The zero Value is a NULL text.
type Value struct {
	tag  Tag
	null bool
	n    int64
	s    string
}

// Text returns a text parameter.
func Text(s string) Value { return Value{tag: TagText, s: s} }

// NullText returns a NULL text parameter.
func NullText() Value { return Value{tag: TagText, null: true} }

// TextPtr returns NULL for a nil pointer and Text(*p) otherwise.
func TextPtr(p *string) Value {
	if p == nil {
		return NullText()
	}
	return Text(*p)
}

// Int returns an integer parameter.
func Int(n int64) Value { return Value{tag: TagInt, n: n} }

// NullInt returns a NULL integer parameter.
func NullInt() Value { return Value{tag: TagInt, null: true} }

// IntPtr returns NULL for a nil pointer and Int(*p) otherwise.
func IntPtr(p *int64) Value {
	if p == nil {
		return NullInt()
	}
	return Int(*p)
}

func (v Value) Tag() Tag {
	if v.tag == 0 {
		return TagText
	}
	return v.tag
}

func (v Value) IsNull() bool { return v.null || v.tag == 0 }

func (v Value) String() string {
	switch {
	case v.IsNull():
		return "NULL"
	case v.tag == TagInt:
		return strconv.FormatInt(v.n, 10)
	default:
		return strconv.Quote(v.s)
	}
}

func (v Value) cell() Cell {
	c := Cell{Tag: v.Tag(), Null: v.IsNull()}
	if c.Null {
		return c
	}
	if c.Tag == TagInt {
		c.Int = v.n
	} else {
		c.Buf = []byte(v.s)
	}
	return c
}

// FetchedText is a text column read by Fetch. A borrowed value ('s')
// aliases backend memory and is only valid until the next fetch on the same
// query; an owned value ('S') belongs to the caller.
type FetchedText struct {
	b     []byte
	owned bool
}

func (t FetchedText) Owned() bool    { return t.owned }
func (t FetchedText) Bytes() []byte  { return t.b }
func (t FetchedText) String() string { return string(t.b) }
func (t FetchedText) Len() int       { return len(t.b) }

// Clone returns an owned copy.
func (t FetchedText) Clone() FetchedText {
	return FetchedText{b: append([]byte(nil), t.b...), owned: true}
}
