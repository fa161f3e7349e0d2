package parser

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Filter is a compiled filter string: a conjunction of predicates, each of
// which declares the fields it reads.
type Filter struct {
	src   string
	preds []predicate
	needs FieldMask
}

type predicate struct {
	flag  string
	needs FieldMask
	keep  func(p *PointRecord) bool
}

// filterFlag describes one -keep_*/-drop_* flag. nargs < 0 means one or more
// numeric arguments.
type filterFlag struct {
	nargs int
	needs FieldMask
	build func(args []float64) func(p *PointRecord) bool
}

var filterFlags = map[string]filterFlag{
	"-keep_first": {0, FieldReturnNumber, func([]float64) func(*PointRecord) bool {
		return func(p *PointRecord) bool { return p.ReturnNumber == 1 }
	}},
	"-drop_first": {0, FieldReturnNumber, func([]float64) func(*PointRecord) bool {
		return func(p *PointRecord) bool { return p.ReturnNumber != 1 }
	}},
	"-keep_last": {0, fieldReturnBits, func([]float64) func(*PointRecord) bool {
		return func(p *PointRecord) bool { return p.ReturnNumber == p.NumberOfReturns }
	}},
	"-drop_last": {0, fieldReturnBits, func([]float64) func(*PointRecord) bool {
		return func(p *PointRecord) bool { return p.ReturnNumber != p.NumberOfReturns }
	}},
	"-keep_single": {0, FieldNumberOfReturns, func([]float64) func(*PointRecord) bool {
		return func(p *PointRecord) bool { return p.NumberOfReturns == 1 }
	}},
	"-drop_single": {0, FieldNumberOfReturns, func([]float64) func(*PointRecord) bool {
		return func(p *PointRecord) bool { return p.NumberOfReturns != 1 }
	}},
	"-keep_double": {0, FieldNumberOfReturns, func([]float64) func(*PointRecord) bool {
		return func(p *PointRecord) bool { return p.NumberOfReturns == 2 }
	}},
	"-keep_triple": {0, FieldNumberOfReturns, func([]float64) func(*PointRecord) bool {
		return func(p *PointRecord) bool { return p.NumberOfReturns == 3 }
	}},
	"-keep_return": {-1, FieldReturnNumber, func(a []float64) func(*PointRecord) bool {
		set := byteSet(a)
		return func(p *PointRecord) bool { return set[p.ReturnNumber] }
	}},
	"-drop_return": {-1, FieldReturnNumber, func(a []float64) func(*PointRecord) bool {
		set := byteSet(a)
		return func(p *PointRecord) bool { return !set[p.ReturnNumber] }
	}},
	"-keep_class": {-1, FieldClassification, func(a []float64) func(*PointRecord) bool {
		set := byteSet(a)
		return func(p *PointRecord) bool { return set[p.Classification] }
	}},
	"-drop_class": {-1, FieldClassification, func(a []float64) func(*PointRecord) bool {
		set := byteSet(a)
		return func(p *PointRecord) bool { return !set[p.Classification] }
	}},
	"-drop_z_below": {1, FieldZ, func(a []float64) func(*PointRecord) bool {
		return func(p *PointRecord) bool { return p.Z >= a[0] }
	}},
	"-drop_z_above": {1, FieldZ, func(a []float64) func(*PointRecord) bool {
		return func(p *PointRecord) bool { return p.Z <= a[0] }
	}},
	"-keep_z": {2, FieldZ, func(a []float64) func(*PointRecord) bool {
		return func(p *PointRecord) bool { return p.Z >= a[0] && p.Z <= a[1] }
	}},
	"-drop_intensity_below": {1, FieldIntensity, func(a []float64) func(*PointRecord) bool {
		return func(p *PointRecord) bool { return float64(p.Intensity) >= a[0] }
	}},
	"-drop_intensity_above": {1, FieldIntensity, func(a []float64) func(*PointRecord) bool {
		return func(p *PointRecord) bool { return float64(p.Intensity) <= a[0] }
	}},
	"-keep_xy": {4, FieldX | FieldY, func(a []float64) func(*PointRecord) bool {
		b := Bounds{MinX: a[0], MinY: a[1], MaxX: a[2], MaxY: a[3]}
		return func(p *PointRecord) bool { return b.Contains(p.X, p.Y) }
	}},
	"-drop_withheld": {0, FieldWithheld, func([]float64) func(*PointRecord) bool {
		return func(p *PointRecord) bool { return !p.Withheld }
	}},
	"-drop_synthetic": {0, FieldSynthetic, func([]float64) func(*PointRecord) bool {
		return func(p *PointRecord) bool { return !p.Synthetic }
	}},
	"-drop_overlap": {0, FieldOverlap, func([]float64) func(*PointRecord) bool {
		return func(p *PointRecord) bool { return !p.Overlap }
	}},
	"-keep_scan_angle": {2, FieldScanAngle, func(a []float64) func(*PointRecord) bool {
		return func(p *PointRecord) bool {
			v := float64(p.ScanAngle)
			return v >= a[0] && v <= a[1]
		}
	}},
	"-drop_abs_scan_angle_above": {1, FieldScanAngle, func(a []float64) func(*PointRecord) bool {
		return func(p *PointRecord) bool { return math.Abs(float64(p.ScanAngle)) <= a[0] }
	}},
	"-keep_user_data": {-1, FieldUserData, func(a []float64) func(*PointRecord) bool {
		set := byteSet(a)
		return func(p *PointRecord) bool { return set[p.UserData] }
	}},
	"-keep_point_source": {-1, FieldPointSourceID, func(a []float64) func(*PointRecord) bool {
		set := make(map[uint16]bool, len(a))
		for _, v := range a {
			set[uint16(v)] = true
		}
		return func(p *PointRecord) bool { return set[p.PointSourceID] }
	}},
	"-keep_gps_time": {2, FieldGPSTime, func(a []float64) func(*PointRecord) bool {
		return func(p *PointRecord) bool { return p.GPSTime >= a[0] && p.GPSTime <= a[1] }
	}},
}

func byteSet(a []float64) [256]bool {
	var set [256]bool
	for _, v := range a {
		if v >= 0 && v <= 255 {
			set[int(v)] = true
		}
	}
	return set
}

// ParseFilter compiles a whitespace separated list of -keep_*/-drop_* flags.
// Flags combine with AND. Ranges are inclusive at both ends. An empty string
// yields a nil filter that keeps everything.
func ParseFilter(s string) (*Filter, error) {
	tokens := strings.Fields(s)
	if len(tokens) == 0 {
		return nil, nil
	}

	f := &Filter{src: strings.Join(tokens, " "), needs: FieldXYZ}
	for i := 0; i < len(tokens); {
		name := tokens[i]
		def, ok := filterFlags[name]
		if !ok {
			return nil, fmt.Errorf("unknown filter flag %q", name)
		}
		i++

		var args []float64
		switch {
		case def.nargs < 0:
			for i < len(tokens) {
				v, err := strconv.ParseFloat(tokens[i], 64)
				if err != nil {
					break
				}
				args = append(args, v)
				i++
			}
			if len(args) == 0 {
				return nil, fmt.Errorf("filter flag %s needs at least one value", name)
			}
		default:
			if i+def.nargs > len(tokens) {
				return nil, fmt.Errorf("filter flag %s needs %d values", name, def.nargs)
			}
			for _, tok := range tokens[i : i+def.nargs] {
				v, err := strconv.ParseFloat(tok, 64)
				if err != nil {
					return nil, fmt.Errorf("filter flag %s: bad value %q", name, tok)
				}
				args = append(args, v)
			}
			i += def.nargs
		}

		f.preds = append(f.preds, predicate{flag: name, needs: def.needs, keep: def.build(args)})
		f.needs |= def.needs
	}

	return f, nil
}

// MustParseFilter is ParseFilter that panics on error; for literals in
// tests and examples.
func MustParseFilter(s string) *Filter {
	f, err := ParseFilter(s)
	if err != nil {
		panic(err)
	}
	return f
}

// BoxFilter keeps points inside b, edges included.
func BoxFilter(b Bounds) *Filter {
	return &Filter{
		src:   fmt.Sprintf("-keep_xy %g %g %g %g", b.MinX, b.MinY, b.MaxX, b.MaxY),
		needs: FieldXYZ,
		preds: []predicate{{
			flag:  "-keep_xy",
			needs: FieldX | FieldY,
			keep:  func(p *PointRecord) bool { return b.Contains(p.X, p.Y) },
		}},
	}
}

// And returns a filter that holds when both f and g hold. Either may be nil.
func (f *Filter) And(g *Filter) *Filter {
	switch {
	case f == nil:
		return g
	case g == nil:
		return f
	}
	out := &Filter{
		src:   f.src + " " + g.src,
		needs: f.needs | g.needs,
	}
	out.preds = append(append(out.preds, f.preds...), g.preds...)
	return out
}

// Match reports whether p passes every predicate. A nil filter matches all.
func (f *Filter) Match(p *PointRecord) bool {
	if f == nil {
		return true
	}
	for i := range f.preds {
		if !f.preds[i].keep(p) {
			return false
		}
	}
	return true
}

// Needs returns the fields the predicates read.
func (f *Filter) Needs() FieldMask {
	if f == nil {
		return 0
	}
	return f.needs
}

func (f *Filter) String() string {
	if f == nil {
		return ""
	}
	return f.src
}
