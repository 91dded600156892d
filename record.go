package spatialindexer

import "fmt"

// Field names of an index record.
const (
	FieldName     = "name"
	FieldPosition = "position"
	FieldCoords   = "coords"
)

// FieldKind says how the store treats a field.
type FieldKind int

const (
	// TextField is analyzed into terms and also stored for retrieval.
	TextField FieldKind = iota
	// CellField is indexed verbatim and not stored.
	CellField
	// StoredField is kept with the record and not indexed.
	StoredField
)

func (k FieldKind) String() string {
	switch k {
	case TextField:
		return "text"
	case CellField:
		return "cell"
	case StoredField:
		return "stored"
	default:
		return fmt.Sprintf("FieldKind(%d)", int(k))
	}
}

// Field is one name/value pair of a record.
type Field struct {
	Name  string
	Kind  FieldKind
	Value string
}

// Record is the document shape written to the index: the entity name, one
// position field per cell level, and the canonical coordinate string.
type Record struct {
	Fields []Field
}

// AssembleRecord builds the record for an entity and its encoded cells.
func AssembleRecord(e Entity, cells []Cell) (Record, error) {
	if len(cells) == 0 {
		return Record{}, fmt.Errorf("%w: no cells for %q", ErrEncodeFailure, e.Name)
	}
	fields := make([]Field, 0, len(cells)+2)
	fields = append(fields, Field{Name: FieldName, Kind: TextField, Value: e.Name})
	for _, c := range cells {
		fields = append(fields, Field{Name: FieldPosition, Kind: CellField, Value: c.Token})
	}
	fields = append(fields, Field{Name: FieldCoords, Kind: StoredField, Value: e.Location.String()})
	return Record{Fields: fields}, nil
}

func (r Record) first(name string) (string, bool) {
	for _, f := range r.Fields {
		if f.Name == name {
			return f.Value, true
		}
	}
	return "", false
}

// Name returns the entity name.
func (r Record) Name() string {
	v, _ := r.first(FieldName)
	return v
}

// Coords returns the stored coordinate string.
func (r Record) Coords() string {
	v, _ := r.first(FieldCoords)
	return v
}

// Cells returns the cell tokens in field order.
func (r Record) Cells() []string {
	var out []string
	for _, f := range r.Fields {
		if f.Kind == CellField {
			out = append(out, f.Value)
		}
	}
	return out
}

// Terms returns the searchable terms of the name field.
func (r Record) Terms() []string {
	return analyze(r.Name())
}

// validate checks that r has exactly one record shape: one name, one
// coords value and at least one cell.
func (r Record) validate() error {
	var names, coords, cells int
	for _, f := range r.Fields {
		switch f.Name {
		case FieldName:
			names++
		case FieldCoords:
			coords++
		case FieldPosition:
			if f.Value == "" {
				return fmt.Errorf("empty %s field", FieldPosition)
			}
			cells++
		default:
			return fmt.Errorf("unknown field %q", f.Name)
		}
	}
	switch {
	case names != 1:
		return fmt.Errorf("want one %s field, got %d", FieldName, names)
	case coords != 1:
		return fmt.Errorf("want one %s field, got %d", FieldCoords, coords)
	case cells == 0:
		return fmt.Errorf("no %s fields", FieldPosition)
	}
	return nil
}
