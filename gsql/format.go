package gsql

import (
	"fmt"
	"math"
)

// slot is one parsed format element.
type slot struct {
	tag      Tag
	nullable bool
}

// parseFormat parses a format string such as "?i s S". Whitespace is
// ignored. S is only valid when output is set.
func parseFormat(format string, output bool) ([]slot, error) {
	slots := make([]slot, 0, len(format))
	nullable := false
	for i := 0; i < len(format); i++ {
		c := format[i]
		switch c {
		case ' ', '\t', '\n', ',':
			if nullable {
				return nil, fmt.Errorf("%w: %q: ? must be followed by a type at %d", ErrInvalidFormat, format, i)
			}
			continue
		case '?':
			if nullable {
				return nil, fmt.Errorf("%w: %q: repeated ? at %d", ErrInvalidFormat, format, i)
			}
			nullable = true
			continue
		case 's', 'i':
		case 'S':
			if !output {
				return nil, fmt.Errorf("%w: %q: S is only valid when fetching", ErrInvalidFormat, format)
			}
		default:
			return nil, fmt.Errorf("%w: %q: unknown type %q at %d", ErrInvalidFormat, format, c, i)
		}
		slots = append(slots, slot{tag: Tag(c), nullable: nullable})
		nullable = false
	}
	if nullable {
		return nil, fmt.Errorf("%w: %q: trailing ?", ErrInvalidFormat, format)
	}
	return slots, nil
}

// argsToValues applies the bind side of the format protocol. For ?s a true
// flag consumes no value; for ?i the integer is consumed and ignored.
func argsToValues(format string, args []any) ([]Value, error) {
	slots, err := parseFormat(format, false)
	if err != nil {
		return nil, err
	}
	vals := make([]Value, 0, len(slots))
	next := 0
	take := func() (any, error) {
		if next >= len(args) {
			return nil, fmt.Errorf("%w: %q needs more than %d arguments", ErrArgCount, format, len(args))
		}
		a := args[next]
		next++
		return a, nil
	}
	for _, sl := range slots {
		isNull := false
		if sl.nullable {
			a, err := take()
			if err != nil {
				return nil, err
			}
			flag, ok := a.(bool)
			if !ok {
				return nil, fmt.Errorf("%w: argument %d: null flag must be bool, got %T", ErrInvalidFormat, next-1, a)
			}
			isNull = flag
		}
		if sl.tag == TagText {
			if isNull {
				vals = append(vals, NullText())
				continue
			}
			a, err := take()
			if err != nil {
				return nil, err
			}
			v, err := textArg(a)
			if err != nil {
				return nil, fmt.Errorf("argument %d: %w", next-1, err)
			}
			vals = append(vals, v)
			continue
		}
		a, err := take()
		if err != nil {
			return nil, err
		}
		v, err := intArg(a)
		if err != nil {
			return nil, fmt.Errorf("argument %d: %w", next-1, err)
		}
		if isNull {
			v = NullInt()
		}
		vals = append(vals, v)
	}
	if next != len(args) {
		return nil, fmt.Errorf("%w: %q consumed %d of %d arguments", ErrArgCount, format, next, len(args))
	}
	return vals, nil
}

func textArg(a any) (Value, error) {
	switch v := a.(type) {
	case nil:
		return NullText(), nil
	case string:
		return Text(v), nil
	case *string:
		return TextPtr(v), nil
	case []byte:
		if v == nil {
			return NullText(), nil
		}
		return Text(string(v)), nil
	case fmt.Stringer:
		return Text(v.String()), nil
	}
	return Value{}, fmt.Errorf("%w: s needs a string, got %T", ErrInvalidFormat, a)
}

func intArg(a any) (Value, error) {
	var n int64
	switch v := a.(type) {
	case int:
		n = int64(v)
	case int8:
		n = int64(v)
	case int16:
		n = int64(v)
	case int32:
		n = int64(v)
	case int64:
		n = v
	case uint8:
		n = int64(v)
	case uint16:
		n = int64(v)
	case uint32:
		n = int64(v)
	case uint:
		if v > math.MaxInt32 {
			return Value{}, fmt.Errorf("%w: %d does not fit in 32 bits", ErrInvalidFormat, v)
		}
		n = int64(v)
	default:
		return Value{}, fmt.Errorf("%w: i needs an integer, got %T", ErrInvalidFormat, a)
	}
	if err := checkInt32(n); err != nil {
		return Value{}, err
	}
	return Int(n), nil
}

// checkInt32 rejects integers the i tag cannot carry.
func checkInt32(n int64) error {
	if n < math.MinInt32 || n > math.MaxInt32 {
		return fmt.Errorf("%w: %d does not fit in 32 bits", ErrInvalidFormat, n)
	}
	return nil
}

// decodeCell stores a fetched cell into dest according to its slot. flag is
// the destination of a ? prefix, or nil.
func decodeCell(sl slot, c *Cell, flag, dest any) error {
	if flag != nil {
		p, ok := flag.(*bool)
		if !ok {
			return fmt.Errorf("%w: null flag destination must be *bool, got %T", ErrInvalidFormat, flag)
		}
		*p = c.Null
	}
	if c.Null {
		if flag == nil {
			return ErrUnpairedNull
		}
		return nil
	}
	switch sl.tag {
	case TagInt:
		switch d := dest.(type) {
		case *int64:
			*d = c.Int
		case *int:
			*d = int(c.Int)
		case *int32:
			if c.Int < math.MinInt32 || c.Int > math.MaxInt32 {
				return fmt.Errorf("gsql: value %d overflows int32", c.Int)
			}
			*d = int32(c.Int)
		default:
			return fmt.Errorf("%w: i needs *int, *int32 or *int64, got %T", ErrInvalidFormat, dest)
		}
	case TagText:
		switch d := dest.(type) {
		case *FetchedText:
			*d = FetchedText{b: c.Buf}
		case *[]byte:
			*d = c.Buf
		case *string:
			*d = string(c.Buf)
		default:
			return fmt.Errorf("%w: s needs *FetchedText, *[]byte or *string, got %T", ErrInvalidFormat, dest)
		}
	case TagOwnedText:
		switch d := dest.(type) {
		case *FetchedText:
			*d = FetchedText{b: append([]byte(nil), c.Buf...), owned: true}
		case *[]byte:
			*d = append([]byte(nil), c.Buf...)
		case *string:
			*d = string(c.Buf)
		default:
			return fmt.Errorf("%w: S needs *FetchedText, *[]byte or *string, got %T", ErrInvalidFormat, dest)
		}
	}
	return nil
}

// destCount is the number of destinations a parsed fetch format needs.
func destCount(slots []slot) int {
	n := len(slots)
	for _, sl := range slots {
		if sl.nullable {
			n++
		}
	}
	return n
}
