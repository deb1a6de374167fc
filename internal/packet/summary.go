package packet

import "strconv"

// Summary is a printable copy of a packet, detached from its buffer.
type Summary struct {
	Name    string            `json:"name" yaml:"name"`
	ID      int               `json:"id" yaml:"id"`
	Mode    string            `json:"mode" yaml:"mode"`
	Length  int               `json:"length" yaml:"length"`
	Type    Type              `json:"type" yaml:"type"`
	Option  int64             `json:"option" yaml:"option"`
	Payload []string          `json:"payload" yaml:"payload"`
	Fields  map[string]string `json:"fields,omitempty" yaml:"fields,omitempty"`
}

// Summarize copies the header and payload out of v. tokens is the number of
// tokens the packet occupies; zero derives it from the Length header.
func Summarize(v View, tokens int) Summary {
	raw := v.As(nil)
	s := Summary{Mode: v.Mode().String(), Name: v.IDString()}
	if d := v.Descriptor(); d != nil {
		s.ID = d.ID
		s.Name = d.Name
	} else if v.Mode() == Binary {
		id, _ := Get[uint64](raw, IdxID)
		s.ID = int(id)
	}
	s.Length, _ = raw.Length()
	s.Type, _ = raw.Type()
	s.Option, _ = raw.Option()
	if tokens <= 0 {
		tokens, _ = raw.TokenCount()
	}
	tokens = min(tokens, raw.Capacity())
	for i := IdxPayload; i < tokens; i++ {
		val := formatToken(v, raw, i)
		s.Payload = append(s.Payload, val)
		if d := v.Descriptor(); d != nil {
			if f, ok := d.FieldAt(i); ok {
				if s.Fields == nil {
					s.Fields = map[string]string{}
				}
				s.Fields[f.Name] = val
			}
		}
	}
	return s
}

func formatToken(v, raw View, i int) string {
	if raw.Mode() == ASCII {
		t, _ := raw.Text(i)
		return t
	}
	kind := KindInt
	if d := v.Descriptor(); d != nil {
		if f, ok := d.FieldAt(i); ok {
			kind = f.Kind
		}
	}
	switch kind {
	case KindFloat:
		if f, err := Get[float64](raw, i); err == nil {
			return strconv.FormatFloat(f, 'g', -1, 64)
		}
	case KindUint:
		n, _ := Get[uint64](raw, i)
		return strconv.FormatUint(n, 10)
	}
	n, _ := Get[int64](raw, i)
	return strconv.FormatInt(n, 10)
}
