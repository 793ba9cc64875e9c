package parser

import (
	"fmt"
	"strconv"
	"strings"
)

// TransmissionType is the second field of an SBS-1 MSG line
type TransmissionType int

const (
	TransmissionIdentification   TransmissionType = 1
	TransmissionSurfacePosition  TransmissionType = 2
	TransmissionAirbornePosition TransmissionType = 3
	TransmissionAirborneVelocity TransmissionType = 4
	TransmissionSurveillanceAlt  TransmissionType = 5
	TransmissionSurveillanceID   TransmissionType = 6
	TransmissionAirToAir         TransmissionType = 7
	TransmissionAllCall          TransmissionType = 8
)

// field positions in a MSG line
const (
	fieldHexIdent     = 4
	fieldCallsign     = 10
	fieldAltitude     = 11
	fieldGroundSpeed  = 12
	fieldTrack        = 13
	fieldLatitude     = 14
	fieldLongitude    = 15
	fieldVerticalRate = 16
	fieldSquawk       = 17
	fieldOnGround     = 21

	minFields = 22
)

// Message is the decoded content of one MSG line. Pointer fields are nil
// when the line does not carry them.
type Message struct {
	Type     TransmissionType
	HexIdent string
	Callsign string
	Squawk   string

	AltitudeFt      *int
	GroundspeedKts  *int
	HeadingDeg      *int
	VerticalRateFpm *int
	Latitude        *float64
	Longitude       *float64
	OnGround        *bool
}

// HasPosition reports whether the message carries a full position fix
func (m *Message) HasPosition() bool {
	return m.Latitude != nil && m.Longitude != nil
}

// ParseMessage decodes one BaseStation line. Non-MSG lines (SEL, ID, AIR,
// STA, CLK) return nil without error.
func ParseMessage(raw string) (*Message, error) {
	fields := strings.Split(strings.TrimSpace(raw), ",")
	if fields[0] != "MSG" {
		return nil, nil
	}
	if len(fields) < minFields {
		return nil, fmt.Errorf("invalid message format: expected at least %d fields, got %d", minFields, len(fields))
	}

	tt, err := strconv.Atoi(fields[1])
	if err != nil {
		return nil, fmt.Errorf("invalid transmission type: %w", err)
	}
	if tt < int(TransmissionIdentification) || tt > int(TransmissionAllCall) {
		return nil, fmt.Errorf("unknown transmission type: %d", tt)
	}

	hex := strings.ToUpper(strings.TrimSpace(fields[fieldHexIdent]))
	if hex == "" {
		return nil, fmt.Errorf("missing hex ident")
	}

	msg := &Message{
		Type:     TransmissionType(tt),
		HexIdent: hex,
		Callsign: strings.TrimSpace(fields[fieldCallsign]),
	}
	if sq := strings.TrimSpace(fields[fieldSquawk]); sq != "" {
		if n, err := strconv.Atoi(sq); err == nil {
			msg.Squawk = fmt.Sprintf("%04d", n)
		}
	}

	msg.AltitudeFt = parseInt(fields[fieldAltitude])
	msg.GroundspeedKts = parseRounded(fields[fieldGroundSpeed])
	msg.HeadingDeg = parseRounded(fields[fieldTrack])
	msg.VerticalRateFpm = parseInt(fields[fieldVerticalRate])
	msg.Latitude = parseFloat(fields[fieldLatitude])
	msg.Longitude = parseFloat(fields[fieldLongitude])
	if g := parseInt(fields[fieldOnGround]); g != nil {
		onGround := *g != 0
		msg.OnGround = &onGround
	}

	return msg, nil
}

func parseInt(s string) *int {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return nil
	}
	return &n
}

func parseFloat(s string) *float64 {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return nil
	}
	return &f
}

// parseRounded reads a decimal field into whole units
func parseRounded(s string) *int {
	f := parseFloat(s)
	if f == nil {
		return nil
	}
	n := int(*f + 0.5)
	if *f < 0 {
		n = int(*f - 0.5)
	}
	return &n
}
