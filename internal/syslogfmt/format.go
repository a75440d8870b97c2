// Package syslogfmt renders journal records into RFC 5424 or legacy
// RFC 3339 syslog byte sequences. The formatter is total: every optional
// field that is missing degrades to the NIL token "-" rather than erroring.
// Messages are built as a gather list (net.Buffers) of byte slices so a
// stream transport can hand them to writev without copying into one
// contiguous buffer; secure transports flatten the list themselves before
// writing, since TLS/DTLS record framing makes multi-call writes worse.
//
// Grounded on logger/hooksyslog's PriorityCalc/Fire message assembly
// (<%d> priority, RFC3339/time.Stamp timestamp, hostname, tag, pid), scaled
// up to the full RFC 5424 field layout and generalized to a gather list.
package syslogfmt

import (
	"net"
	"strconv"
	"time"
)

// nilToken is emitted for any optional field that has no value.
var nilToken = []byte("-")

var (
	sp     = []byte(" ")
	colsp  = []byte(": ")
	lbrack = []byte("[")
	rbrack = []byte("]")
	nl     = []byte("\n")
)

// Format selects which wire layout the Formatter renders.
type Format int

const (
	RFC5424 Format = iota
	RFC3339
)

func (f Format) String() string {
	if f == RFC3339 {
		return "rfc3339"
	}
	return "rfc5424"
}

// Record is the formatter's input: one journal entry expanded into syslog
// fields. Immutable; a Record lives only for the duration of one send
// attempt and is never retained by the formatter.
type Record struct {
	Severity       uint8
	Facility       uint8
	Identifier     string
	Message        []byte
	Hostname       string
	PID            string
	Time           time.Time
	StructuredData string
	MsgID          string

	// Namespace is the journal namespace the record was read from. It is
	// informational only and never appears in the wire format; the journal
	// source does not fill it in.
	Namespace string
}

// priority computes PRIVAL = facility*8 + severity per RFC 5424 §6.2.1.
func priority(facility, severity uint8) int {
	return int(facility)<<3 | int(severity&0x7)
}

func priorityToken(facility, severity uint8) []byte {
	return []byte("<" + strconv.Itoa(priority(facility, severity)) + ">")
}

func nilIfEmpty(s string) []byte {
	if s == "" {
		return nilToken
	}
	return []byte(s)
}

// rfc5424Timestamp renders "YYYY-MM-DDTHH:MM:SS.ffffff±HH:MM". The record's
// Time already carries the local offset it was captured with (per the
// journal source's LogRecord contract); the formatter renders that offset
// as-is rather than converting to the forwarder process's own zone.
func rfc5424Timestamp(t time.Time) []byte {
	if t.IsZero() {
		return nilToken
	}
	if t.Nanosecond() == 0 {
		return []byte(t.Format("2006-01-02T15:04:05-07:00"))
	}
	return []byte(t.Format("2006-01-02T15:04:05.000000-07:00"))
}

// Render builds the wire gather list for rec in the given Format. When
// streamFraming is true (TCP/TLS) a trailing "\n" frame separator is
// appended; UDP/DTLS rely on the datagram boundary and pass false.
//
// structuredDataOverride is the manager-configured override block: it wins
// over the record's own StructuredData, which in turn wins over the NIL
// token, matching spec precedence (manager override > record value > "-").
func Render(rec Record, format Format, structuredDataOverride string, streamFraming bool) net.Buffers {
	var out net.Buffers
	switch format {
	case RFC3339:
		out = renderRFC3339(rec)
	default:
		out = renderRFC5424(rec, structuredDataOverride)
	}

	if streamFraming {
		out = append(out, nl)
	}
	return out
}

// renderRFC5424 builds: <PRI>1 TIMESTAMP SP HOST SP APP SP PROCID SP MSGID SP SD SP MSG
func renderRFC5424(rec Record, sdOverride string) net.Buffers {
	sd := []byte(sdOverride)
	if len(sd) == 0 {
		sd = nilIfEmpty(rec.StructuredData)
	}

	return net.Buffers{
		priorityToken(rec.Facility, rec.Severity), []byte("1"), sp,
		rfc5424Timestamp(rec.Time), sp,
		nilIfEmpty(rec.Hostname), sp,
		nilIfEmpty(rec.Identifier), sp,
		nilIfEmpty(rec.PID), sp,
		nilIfEmpty(rec.MsgID), sp,
		sd, sp,
		rec.Message,
	}
}

// renderRFC3339 builds the legacy layout: <PRI>TIMESTAMP HOST APP[PID]: MSG
func renderRFC3339(rec Record) net.Buffers {
	out := net.Buffers{
		priorityToken(rec.Facility, rec.Severity),
		rfc5424Timestamp(rec.Time), sp,
		nilIfEmpty(rec.Hostname), sp,
		nilIfEmpty(rec.Identifier),
	}
	if rec.PID != "" {
		out = append(out, lbrack, []byte(rec.PID), rbrack)
	}
	out = append(out, colsp, rec.Message)
	return out
}

// Flatten joins a gather list into a single contiguous buffer, used by
// secure transports (TLS/DTLS) which must submit one write per record.
func Flatten(buf net.Buffers) []byte {
	n := 0
	for _, b := range buf {
		n += len(b)
	}
	out := make([]byte, 0, n)
	for _, b := range buf {
		out = append(out, b...)
	}
	return out
}
