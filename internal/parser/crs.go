package parser

import (
	"encoding/binary"
	"fmt"
	"strings"
)

// Coordinate reference system records
// LAS 1.4 R15 §2.5: LASF_Projection VLRs carry either OGC WKT (2112) or a
// GeoTIFF GeoKeyDirectoryTag (34735).
const (
	ProjectionUserID     = "LASF_Projection"
	WKTRecordID          = 2112
	GeoKeyDirectoryID    = 34735
	projectedCSTypeKey   = 3072
	geographicTypeKey    = 2048
	globalEncodingWKTBit = 1 << 4
)

// CRS returns the coordinate reference system declared in the VLR table:
// the WKT string if present, otherwise "EPSG:<code>" from the GeoKey
// directory, otherwise "".
func (h *Header) CRS() string {
	var epsg string
	for _, v := range h.VLRs {
		if v.UserID != ProjectionUserID {
			continue
		}
		switch v.RecordID {
		case WKTRecordID:
			if wkt := strings.TrimRight(string(v.Data), "\x00 "); wkt != "" {
				return wkt
			}
		case GeoKeyDirectoryID:
			if code := geoKeyEPSG(v.Data); code != 0 && epsg == "" {
				epsg = fmt.Sprintf("EPSG:%d", code)
			}
		}
	}
	return epsg
}

// EPSG returns the EPSG code from the GeoKey directory, or 0.
func (h *Header) EPSG() int {
	for _, v := range h.VLRs {
		if v.UserID == ProjectionUserID && v.RecordID == GeoKeyDirectoryID {
			if code := geoKeyEPSG(v.Data); code != 0 {
				return code
			}
		}
	}
	return 0
}

// geoKeyEPSG scans a GeoKeyDirectoryTag: a 4 x u16 header (version,
// revision, minor, key count) followed by 4 x u16 entries (key id, tag
// location, count, value). Location 0 means the value is inline.
func geoKeyEPSG(data []byte) int {
	if len(data) < 8 {
		return 0
	}
	le := binary.LittleEndian
	n := int(le.Uint16(data[6:8]))
	var geographic int
	for i := 0; i < n; i++ {
		off := 8 + 8*i
		if off+8 > len(data) {
			break
		}
		key := le.Uint16(data[off:])
		loc := le.Uint16(data[off+2:])
		val := int(le.Uint16(data[off+6:]))
		if loc != 0 || val == 0 || val == 32767 {
			continue
		}
		switch key {
		case projectedCSTypeKey:
			return val
		case geographicTypeKey:
			geographic = val
		}
	}
	return geographic
}

// SetEPSG replaces any projection records with a GeoKey directory naming a
// projected EPSG code.
func (h *Header) SetEPSG(code uint16) {
	h.dropProjection()

	le := binary.LittleEndian
	data := make([]byte, 16)
	le.PutUint16(data[0:], 1) // KeyDirectoryVersion
	le.PutUint16(data[2:], 1) // KeyRevision
	le.PutUint16(data[4:], 0) // MinorRevision
	le.PutUint16(data[6:], 1) // NumberOfKeys
	le.PutUint16(data[8:], projectedCSTypeKey)
	le.PutUint16(data[10:], 0)
	le.PutUint16(data[12:], 1)
	le.PutUint16(data[14:], code)

	h.VLRs = append(h.VLRs, VLR{
		UserID:      ProjectionUserID,
		RecordID:    GeoKeyDirectoryID,
		Description: "GeoKeyDirectoryTag",
		Data:        data,
	})
}

// SetWKT replaces any projection records with an OGC WKT record and sets the
// WKT bit of the global encoding.
func (h *Header) SetWKT(wkt string) {
	h.dropProjection()
	h.GlobalEncoding |= globalEncodingWKTBit
	h.VLRs = append(h.VLRs, VLR{
		UserID:      ProjectionUserID,
		RecordID:    WKTRecordID,
		Description: "OGC WKT",
		Data:        append([]byte(wkt), 0),
	})
}

func (h *Header) dropProjection() {
	kept := h.VLRs[:0]
	for _, v := range h.VLRs {
		if v.UserID == ProjectionUserID && (v.RecordID == WKTRecordID || v.RecordID == GeoKeyDirectoryID) {
			continue
		}
		kept = append(kept, v)
	}
	h.VLRs = kept
}
