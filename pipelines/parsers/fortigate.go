package parsers

import (
	"crypto/sha256"
	"encoding/hex"
	"regexp"
	"strconv"
	"strings"
	"time"

	"fortistash/types"
)

// DlqReason says why a line was refused. Empty means it was not refused.
type DlqReason string

const (
	ReasonEmptyLine       DlqReason = "empty_line"
	ReasonNonTextOrBinary DlqReason = "non_text_or_binary"
	ReasonHeaderParseFail DlqReason = "syslog_header_parse_fail"
	ReasonInvalidMonth    DlqReason = "invalid_month"
	ReasonKvParseFault    DlqReason = "kv_parse_exception"
)

var months = map[string]time.Month{
	"Jan": time.January, "Feb": time.February, "Mar": time.March,
	"Apr": time.April, "May": time.May, "Jun": time.June,
	"Jul": time.July, "Aug": time.August, "Sep": time.September,
	"Oct": time.October, "Nov": time.November, "Dec": time.December,
}

var tzRe = regexp.MustCompile(`^[+-]\d{4}$`)

// FortigateParser turns one raw FortiGate syslog line into either an event
// or a DLQ reason, exactly one of the two. It is pure: no I/O, no logging,
// no shared state beyond the compiled grammar.
type FortigateParser struct {
	envelope *regexp.Regexp
}

func NewFortigateParser() *FortigateParser {
	re := regexp.MustCompile(`^([A-Z][a-z]{2})\s+(\d{1,2})\s+(\d{2}:\d{2}:\d{2})\s+(\S+)\s+(.*)$`)
	return &FortigateParser{re}
}

// Parse applies the refusal rules in order: empty line, binary garbage,
// envelope grammar, month table. year supplies the envelope's missing year
// when the body has no usable date/time keys.
func (p *FortigateParser) Parse(rawLine string, year int) (*types.Event, DlqReason) {
	line := strings.TrimRight(rawLine, "\n")
	if line == "" {
		return nil, ReasonEmptyLine
	}
	if hasBinaryGarbage(line) {
		return nil, ReasonNonTextOrBinary
	}

	m := p.envelope.FindStringSubmatch(line)
	if m == nil {
		return nil, ReasonHeaderParseFail
	}
	mon, dayStr, clock, host, body := m[1], m[2], m[3], m[4], m[5]

	monI, ok := months[mon]
	if !ok {
		return nil, ReasonInvalidMonth
	}
	day, _ := strconv.Atoi(dayStr)

	kv := ParseKV(body)

	eventTs := resolveEventTs(kv, year, monI, day, clock)

	ev := &types.Event{
		SchemaVersion: 1,
		EventID:       EventID(rawLine),
		Host:          host,
		EventTs:       eventTs,
		Type:          strField(kv, "type"),
		Subtype:       strField(kv, "subtype"),
		Level:         strField(kv, "level"),
		Devname:       strField(kv, "devname"),
		Devid:         strField(kv, "devid"),
		Vd:            strField(kv, "vd"),
		Action:        strField(kv, "action"),
		Policyid:      intField(kv, "policyid"),
		Proto:         intField(kv, "proto"),
		Service:       strField(kv, "service"),
		Srcip:         strField(kv, "srcip"),
		Srcport:       intField(kv, "srcport"),
		Srcintf:       strField(kv, "srcintf"),
		Srcintfrole:   strField(kv, "srcintfrole"),
		Dstip:         strField(kv, "dstip"),
		Dstport:       intField(kv, "dstport"),
		Dstintf:       strField(kv, "dstintf"),
		Dstintfrole:   strField(kv, "dstintfrole"),
		Sentbyte:      intField(kv, "sentbyte"),
		Rcvdbyte:      intField(kv, "rcvdbyte"),
		Sentpkt:       intField(kv, "sentpkt"),
		Rcvdpkt:       intField(kv, "rcvdpkt"),
		Raw:           rawLine,
		ParseStatus:   "ok",
	}

	if ev.Type == nil || ev.Subtype == nil || ev.Action == nil {
		ev.ParseStatus = "partial"
	}

	return ev, ""
}

// hasBinaryGarbage refuses lines with a NUL, or more than five control
// characters outside tab/newline range.
func hasBinaryGarbage(s string) bool {
	bad := 0
	for _, r := range s {
		if r == 0 {
			return true
		}
		if r < 9 || (r >= 11 && r < 32) {
			bad++
		}
	}
	return bad > 5
}

// ParseKV scans key=value tokens left to right. Values are either unquoted
// (up to the next space) or double-quoted with backslash escaping. The scan
// is total: a token without '=' ends it early and the remainder of the body
// is dropped rather than failing the line.
func ParseKV(body string) map[string]string {
	out := map[string]string{}
	i, n := 0, len(body)

	for i < n {
		for i < n && body[i] == ' ' {
			i++
		}
		if i >= n {
			break
		}

		kStart := i
		for i < n && body[i] != '=' && body[i] != ' ' {
			i++
		}
		key := body[kStart:i]
		if key == "" || i >= n || body[i] != '=' {
			break
		}
		i++ // skip '='

		var value string
		if i < n && body[i] == '"' {
			i++
			var sb strings.Builder
			for i < n {
				ch := body[i]
				if ch == '\\' && i+1 < n {
					sb.WriteByte(body[i+1])
					i += 2
					continue
				}
				if ch == '"' {
					i++
					break
				}
				sb.WriteByte(ch)
				i++
			}
			value = sb.String()
		} else {
			vStart := i
			for i < n && body[i] != ' ' {
				i++
			}
			value = body[vStart:i]
		}
		for i < n && body[i] == ' ' {
			i++
		}

		out[key] = value
	}

	return out
}

// resolveEventTs builds the event timestamp. Explicit date/time keys win;
// otherwise the envelope's month/day/time is combined with the contextual
// year. A tz key of the form [+-]HHMM becomes a fixed UTC offset in either
// path. nil when neither path yields a valid timestamp.
func resolveEventTs(kv map[string]string, year int, mon time.Month, day int, clock string) *string {
	var zone *time.Location
	if tz, ok := kv["tz"]; ok {
		clean := strings.Trim(strings.TrimSpace(tz), `"`)
		if tzRe.MatchString(clean) {
			hh, _ := strconv.Atoi(clean[1:3])
			mm, _ := strconv.Atoi(clean[3:5])
			secs := hh*3600 + mm*60
			if clean[0] == '-' {
				secs = -secs
			}
			zone = time.FixedZone(clean[:3]+":"+clean[3:], secs)
		}
	}

	if dateS, ok := kv["date"]; ok {
		if timeS, ok := kv["time"]; ok {
			if t, err := time.Parse("2006-01-02T15:04:05", dateS+"T"+timeS); err == nil {
				return formatTs(t, zone)
			}
		}
	}

	hh, mm, ss, ok := splitClock(clock)
	if !ok {
		return nil
	}
	t := time.Date(year, mon, day, hh, mm, ss, 0, time.UTC)
	// time.Date normalizes out-of-range components; an envelope like Feb 31
	// has no valid timestamp and resolves to nil instead.
	if t.Year() != year || t.Month() != mon || t.Day() != day {
		return nil
	}
	return formatTs(t, zone)
}

func formatTs(t time.Time, zone *time.Location) *string {
	var s string
	if zone != nil {
		t = time.Date(t.Year(), t.Month(), t.Day(), t.Hour(), t.Minute(), t.Second(), 0, zone)
		s = t.Format("2006-01-02T15:04:05-07:00")
	} else {
		s = t.Format("2006-01-02T15:04:05")
	}
	return &s
}

func splitClock(clock string) (hh, mm, ss int, ok bool) {
	parts := strings.Split(clock, ":")
	if len(parts) != 3 {
		return 0, 0, 0, false
	}
	hh, _ = strconv.Atoi(parts[0])
	mm, _ = strconv.Atoi(parts[1])
	ss, _ = strconv.Atoi(parts[2])
	if hh > 23 || mm > 59 || ss > 59 {
		return 0, 0, 0, false
	}
	return hh, mm, ss, true
}

// EventID is a stable content digest: identical raw bytes always produce the
// same identifier, so downstream consumers can dedup by content.
func EventID(raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])[:32]
}

func strField(kv map[string]string, key string) *string {
	if v, ok := kv[key]; ok {
		return &v
	}
	return nil
}

func intField(kv map[string]string, key string) *int64 {
	v, ok := kv[key]
	if !ok {
		return nil
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return nil
	}
	return &n
}
