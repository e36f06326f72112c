package fortilog

import (
	"regexp"
	"time"

	"github.com/gatewatch/gatewatch/internal/model"
)

// kvPattern matches key=value and key="quoted value" tokens in a FortiGate
// log line. Anything between tokens is ignored.
var kvPattern = regexp.MustCompile(`(\w+)=(?:"([^"]*)"|(\S+))`)

// Parse turns one raw log line into a Record. It never fails: a line with no
// recognizable key=value tokens yields a Record carrying only the raw text
// and receive metadata.
func Parse(raw, sourceAddr string, receivedAt time.Time) *model.Record {
	rec := &model.Record{
		ReceivedAt: receivedAt,
		SourceAddr: sourceAddr,
		Raw:        raw,
	}

	matches := kvPattern.FindAllStringSubmatch(raw, -1)
	if len(matches) > 0 {
		rec.Fields = make(map[string]any, len(matches))
	}
	for _, m := range matches {
		key := m[1]
		value := m[2]
		if value == "" {
			value = m[3]
		}
		rec.Fields[key] = coerceValue(value)
	}

	promote(rec)

	// Synthesize a payload timestamp when both halves are present.
	date := FieldString(rec.Fields, "date")
	tod := FieldString(rec.Fields, "time")
	if date != "" && tod != "" {
		rec.Timestamp = date + "T" + tod
	}

	rec.Category = Categorize(rec.LogType, rec.Subtype)
	return rec
}

// coerceValue converts digit-only values to int64. Leading-zero and signed
// numeric-looking values stay strings so that port-like and id-like fields
// round-trip unchanged.
func coerceValue(s string) any {
	if s == "" {
		return s
	}
	if len(s) > 1 && s[0] == '0' {
		return s
	}
	if len(s) > 18 { // would overflow int64
		return s
	}
	var n int64
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c < '0' || c > '9' {
			return s
		}
		n = n*10 + int64(c-'0')
	}
	return n
}

// promote copies well-known payload fields onto the typed Record fields.
func promote(rec *model.Record) {
	rec.SrcIP = FieldString(rec.Fields, "srcip")
	rec.DstIP = FieldString(rec.Fields, "dstip")
	rec.Hostname = FieldString(rec.Fields, "hostname")
	rec.DstPort = FieldInt(rec.Fields, "dstport")
	rec.Action = FieldString(rec.Fields, "action")
	rec.LogType = FieldString(rec.Fields, "type")
	rec.Subtype = FieldString(rec.Fields, "subtype")
	rec.CatDesc = FieldString(rec.Fields, "catdesc")
}
