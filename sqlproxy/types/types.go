// Package types holds the JSON messages exchanged between the proxy driver
// and a proxy host.
package types

import "github.com/tomyedwab/gsqlw/gsql"

// Commands understood by the host.
const (
	CmdConnect      = "connect"
	CmdCloseSession = "close_session"
	CmdBegin        = "begin"
	CmdCommit       = "commit"
	CmdRollback     = "rollback"
	CmdPrepare      = "prepare"
	CmdExecute      = "execute"
	CmdBindResult   = "bind_result"
	CmdFetch        = "fetch"
	CmdRelease      = "release"
	CmdRowCount     = "row_count"
	CmdLastInsertID = "last_insert_id"
	CmdCloseStmt    = "close_stmt"
)

// Error kinds that map back to gsql sentinels on the client.
const (
	KindTruncated      = "truncated"
	KindNotImplemented = "not_implemented"
	KindMustBind       = "must_bind"
	KindColumnCount    = "column_count"
	KindClosed         = "closed"
)

// Cell is one parameter or fetched column. Text is base64 on the wire.
type Cell struct {
	// Tag is set on parameters only.
	Tag  string `json:"tag,omitempty"`
	Null bool   `json:"null,omitempty"`
	Int  int64  `json:"int,omitempty"`
	Text []byte `json:"text,omitempty"`
}

type Request struct {
	Command   string `json:"command"`
	Token     string `json:"token,omitempty"`
	SessionID string `json:"session_id,omitempty"`
	StmtID    string `json:"stmt_id,omitempty"`
	DSN       string `json:"dsn,omitempty"`
	SQL       string `json:"sql,omitempty"`
	Params    []Cell `json:"params,omitempty"`
	// Tags is the output format of bind_result, one gsql.Tag per column.
	Tags       string `json:"tags,omitempty"`
	MaxTextLen int    `json:"max_text_len,omitempty"`
	Sequence   string `json:"sequence,omitempty"`
}

type Response struct {
	SessionID  string `json:"session_id,omitempty"`
	StmtID     string `json:"stmt_id,omitempty"`
	NumParams  int    `json:"num_params,omitempty"`
	Indices    []int  `json:"indices,omitempty"`
	Status     string `json:"status,omitempty"`
	Columns    int    `json:"columns,omitempty"`
	Row        []Cell `json:"row,omitempty"`
	Done       bool   `json:"done,omitempty"`
	Count      int64  `json:"count,omitempty"`
	MaxTextLen int    `json:"max_text_len,omitempty"`
	Error      *Error `json:"error,omitempty"`
}

// Error is a failed command. Code is the gsql.Code name as classified by
// the host's backend.
type Error struct {
	Code    string `json:"code"`
	Kind    string `json:"kind,omitempty"`
	Message string `json:"message"`
}

// Execution statuses.
const (
	StatusRows = "rows"
	StatusDone = "done"
)

// ParseCode is the inverse of gsql.Code.String. Unknown names are
// gsql.CodeOther.
func ParseCode(s string) gsql.Code {
	for _, c := range []gsql.Code{gsql.CodeNone, gsql.CodeNotNullViolation, gsql.CodeUniqueViolation} {
		if c.String() == s {
			return c
		}
	}
	return gsql.CodeOther
}

// FromCells converts driver cells to wire cells. Tags are included when
// withTag is set.
func FromCells(cells []gsql.Cell, withTag bool) []Cell {
	out := make([]Cell, len(cells))
	for i, c := range cells {
		w := Cell{Null: c.Null}
		if withTag {
			w.Tag = string(rune(c.Tag))
		}
		if !c.Null {
			if c.Tag.IsText() {
				w.Text = c.Buf
			} else {
				w.Int = c.Int
			}
		}
		out[i] = w
	}
	return out
}

// ToCells converts wire parameters back to driver cells. A missing tag is
// text.
func ToCells(cells []Cell) []gsql.Cell {
	out := make([]gsql.Cell, len(cells))
	for i, w := range cells {
		c := gsql.Cell{Tag: gsql.TagText, Null: w.Null}
		if w.Tag != "" {
			c.Tag = gsql.Tag(w.Tag[0])
		}
		if c.Tag.IsText() {
			c.Buf = w.Text
			if c.Buf == nil && !c.Null {
				c.Buf = []byte{}
			}
		} else {
			c.Int = w.Int
		}
		out[i] = c
	}
	return out
}
