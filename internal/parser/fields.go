package parser

import (
	"fmt"
	"strings"
)

// FieldMask records which PointRecord fields are populated.
type FieldMask uint32

const (
	FieldX FieldMask = 1 << iota
	FieldY
	FieldZ
	FieldIntensity
	FieldGPSTime
	FieldScanAngle
	FieldNumberOfReturns
	FieldReturnNumber
	FieldClassification
	FieldSynthetic
	FieldKeypoint
	FieldWithheld
	FieldOverlap
	FieldUserData
	FieldPointSourceID
	FieldEdgeOfFlightLine
	FieldScanDirection
	FieldScannerChannel
	FieldRed
	FieldGreen
	FieldBlue
	FieldNIR
)

const (
	// FieldXYZ is always selected.
	FieldXYZ = FieldX | FieldY | FieldZ
	// FieldRGB covers the three colour channels.
	FieldRGB = FieldRed | FieldGreen | FieldBlue
	// FieldAll selects every field.
	FieldAll FieldMask = 1<<22 - 1

	// fields packed into shared bytes
	fieldReturnBits = FieldReturnNumber | FieldNumberOfReturns
	fieldFlagBits   = FieldSynthetic | FieldKeypoint | FieldWithheld | FieldOverlap |
		FieldScannerChannel | FieldScanDirection | FieldEdgeOfFlightLine
)

// Has reports whether every field in f is set.
func (m FieldMask) Has(f FieldMask) bool {
	return m&f == f
}

// Any reports whether at least one field in f is set.
func (m FieldMask) Any(f FieldMask) bool {
	return m&f != 0
}

// selection codes
var fieldCodes = map[rune]FieldMask{
	'x': FieldX,
	'y': FieldY,
	'z': FieldZ,
	'i': FieldIntensity,
	't': FieldGPSTime,
	'a': FieldScanAngle,
	'n': FieldNumberOfReturns,
	'r': FieldReturnNumber,
	'c': FieldClassification,
	's': FieldSynthetic,
	'k': FieldKeypoint,
	'w': FieldWithheld,
	'o': FieldOverlap,
	'u': FieldUserData,
	'p': FieldPointSourceID,
	'e': FieldEdgeOfFlightLine,
	'd': FieldScanDirection,
	'R': FieldRed,
	'G': FieldGreen,
	'B': FieldBlue,
	'N': FieldNIR,
}

// ParseSelect compiles a field selection string such as "xyzi", "*" or
// "* -i -t". X, Y and Z are always part of the result; an empty string
// selects everything. A '-' removes the codes that follow it up to the next
// space.
func ParseSelect(s string) (FieldMask, error) {
	mask := FieldXYZ
	if strings.TrimSpace(s) == "" {
		return FieldAll, nil
	}

	remove := false
	for _, c := range s {
		switch {
		case c == ' ' || c == '\t' || c == ',':
			remove = false
		case c == '*':
			mask |= FieldAll
		case c == '-':
			remove = true
		default:
			f, ok := fieldCodes[c]
			if !ok {
				return 0, fmt.Errorf("unknown field code %q in selection %q", c, s)
			}
			if remove {
				mask &^= f
			} else {
				mask |= f
			}
		}
	}

	return mask | FieldXYZ, nil
}

// String renders the mask in selection-code form.
func (m FieldMask) String() string {
	if m.Has(FieldAll) {
		return "*"
	}
	var b strings.Builder
	for _, c := range "xyzitanrcskwoupedRGBN" {
		if m.Has(fieldCodes[c]) {
			b.WriteRune(c)
		}
	}
	return b.String()
}

// FormatFields returns the fields a point data format stores.
func FormatFields(format uint8) FieldMask {
	base := FieldXYZ | FieldIntensity | fieldReturnBits | FieldClassification |
		FieldSynthetic | FieldKeypoint | FieldWithheld | FieldScanAngle |
		FieldUserData | FieldPointSourceID | FieldEdgeOfFlightLine | FieldScanDirection

	switch format {
	case 0:
		return base
	case 1:
		return base | FieldGPSTime
	case 2:
		return base | FieldRGB
	case 3:
		return base | FieldGPSTime | FieldRGB
	case 6:
		return base | FieldGPSTime | FieldOverlap | FieldScannerChannel
	case 7:
		return base | FieldGPSTime | FieldOverlap | FieldScannerChannel | FieldRGB
	case 8:
		return base | FieldGPSTime | FieldOverlap | FieldScannerChannel | FieldRGB | FieldNIR
	}
	return 0
}
