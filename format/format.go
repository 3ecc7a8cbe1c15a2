// Package format renders a record.Record into the bytes that end up on
// disk. Formatters are pure: the same record always renders to the same
// string, and they must be safe to call from any producer goroutine.
package format

import (
	"strconv"
	"strings"

	"github.com/flowlog/flowlog/record"
)

const timeLayout = "2006-01-02 15:04:05.000"

// Formatter fills in Record.Formated. It must not mutate any other field.
type Formatter interface {
	Format(r record.Record) record.Record
}

// Text renders "{time} {LEVEL} [{file}:{line}] {args}\n" when the
// record's level is at or above (more severe than or equal to, in
// Level's most-to-least-severe ordering this means <=) DisplayLineLevel,
// else "{time} {LEVEL} {args}\n".
type Text struct {
	DisplayLineLevel record.Level
	UTC              bool
}

func (t Text) Format(r record.Record) record.Record {
	if r.Kind != record.Log {
		return r
	}
	ts := r.Now
	if t.UTC {
		ts = ts.UTC()
	} else {
		ts = ts.Local()
	}
	var b strings.Builder
	b.WriteString(ts.Format(timeLayout))
	b.WriteByte(' ')
	b.WriteString(r.Level.String())
	if r.Level <= t.DisplayLineLevel {
		b.WriteString(" [")
		b.WriteString(r.File)
		b.WriteByte(':')
		b.WriteString(strconv.Itoa(r.Line))
		b.WriteString("] ")
	} else {
		b.WriteByte(' ')
	}
	b.WriteString(r.Args)
	b.WriteByte('\n')
	r.Formated = b.String()
	return r
}

// JSON renders a single-line JSON object with keys, in order:
// args, date, file, level, line.
type JSON struct {
	UTC bool
}

func (j JSON) Format(r record.Record) record.Record {
	if r.Kind != record.Log {
		return r
	}
	ts := r.Now
	if j.UTC {
		ts = ts.UTC()
	} else {
		ts = ts.Local()
	}
	var b strings.Builder
	b.WriteByte('{')
	b.WriteString(`"args":"`)
	escapeJSONString(&b, r.Args)
	b.WriteString(`","date":"`)
	b.WriteString(ts.Format(timeLayout))
	b.WriteString(`","file":"`)
	b.WriteString(strings.ReplaceAll(r.File, `\`, "/"))
	b.WriteString(`","level":"`)
	b.WriteString(r.Level.String())
	b.WriteString(`","line":`)
	b.WriteString(strconv.Itoa(r.Line))
	b.WriteByte('}')
	b.WriteByte('\n')
	r.Formated = b.String()
	return r
}

// escapeJSONString escapes double quotes, backslashes, and newlines;
// other control characters are written through unescaped.
func escapeJSONString(b *strings.Builder, s string) {
	for _, r := range s {
		switch r {
		case '"':
			b.WriteString(`\"`)
		case '\\':
			b.WriteString(`\\`)
		case '\n':
			b.WriteString(`\n`)
		default:
			b.WriteRune(r)
		}
	}
}
