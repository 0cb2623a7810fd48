package main

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/tomyedwab/gsqlw/gsql"
)

// nullArg is the command line spelling of NULL for a ? slot.
const nullArg = "null"

type formatSlot struct {
	tag      byte
	nullable bool
}

// splitFormat lists the slots of a format string. Validation is left to
// gsql; unknown tags are passed through.
func splitFormat(format string) []formatSlot {
	var slots []formatSlot
	nullable := false
	for i := 0; i < len(format); i++ {
		switch c := format[i]; c {
		case ' ', '\t', '\n', ',':
		case '?':
			nullable = true
		default:
			slots = append(slots, formatSlot{tag: c, nullable: nullable})
			nullable = false
		}
	}
	return slots
}

// convertArgs turns one command line argument per format slot into Bind
// arguments.
func convertArgs(format string, raw []string) ([]any, error) {
	slots := splitFormat(format)
	if len(raw) != len(slots) {
		return nil, fmt.Errorf("format %q takes %d arguments, got %d", format, len(slots), len(raw))
	}
	args := make([]any, 0, 2*len(raw))
	for i, sl := range slots {
		a := raw[i]
		if sl.nullable {
			isNull := a == nullArg
			args = append(args, isNull)
			if isNull {
				if sl.tag == 'i' {
					args = append(args, 0)
				}
				continue
			}
		}
		if sl.tag != 'i' {
			args = append(args, a)
			continue
		}
		n, err := strconv.ParseInt(a, 10, 32)
		if err != nil {
			return nil, fmt.Errorf("argument %d: %w", i+1, err)
		}
		args = append(args, int(n))
	}
	return args, nil
}

// printRows writes every row tab-separated, NULL for null columns.
func printRows(ctx context.Context, q *gsql.Query, format string, out io.Writer) error {
	slots := splitFormat(format)
	var dests []any
	flags := make([]*bool, len(slots))
	values := make([]func() string, len(slots))
	for i, sl := range slots {
		if sl.nullable {
			flags[i] = new(bool)
			dests = append(dests, flags[i])
		}
		switch sl.tag {
		case 'i':
			v := new(int64)
			dests = append(dests, v)
			values[i] = func() string { return strconv.FormatInt(*v, 10) }
		case 'S':
			v := new(string)
			dests = append(dests, v)
			values[i] = func() string { return *v }
		default:
			v := new(gsql.FetchedText)
			dests = append(dests, v)
			values[i] = func() string { return v.String() }
		}
	}

	cols := make([]string, len(slots))
	for {
		ok, err := q.Fetch(ctx, format, dests...)
		if err != nil {
			return err
		}
		if !ok {
			return nil
		}
		for i := range slots {
			if flags[i] != nil && *flags[i] {
				cols[i] = "NULL"
			} else {
				cols[i] = values[i]()
			}
		}
		fmt.Fprintln(out, strings.Join(cols, "\t"))
	}
}
