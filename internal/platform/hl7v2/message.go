package hl7v2

import (
	"fmt"
	"strings"
)

// Message is a parsed HL7 v2 message.
type Message struct {
	Type      string // MSH-9, e.g. "ADT^A01"
	ControlID string // MSH-10
	Version   string // MSH-12
	Segments  []Segment
}

// Segment is one line of a message.
type Segment struct {
	Name   string  `json:"name"`
	Fields []Field `json:"fields"`
}

// Field is a field value and its unescaped components.
type Field struct {
	Value      string   `json:"value"`
	Components []string `json:"components,omitempty"`
}

// Parse splits raw HL7 v2 text into segments and fields. It accepts \r, \n
// and \r\n segment terminators and requires MSH first.
func Parse(raw []byte) (*Message, error) {
	if len(raw) == 0 {
		return nil, fmt.Errorf("hl7v2: message is empty")
	}

	text := strings.ReplaceAll(string(raw), "\r\n", SegmentSeparator)
	text = strings.ReplaceAll(text, "\n", SegmentSeparator)

	var lines []string
	for _, line := range strings.Split(text, SegmentSeparator) {
		if strings.TrimSpace(line) != "" {
			lines = append(lines, line)
		}
	}
	if len(lines) == 0 {
		return nil, fmt.Errorf("hl7v2: no segments found")
	}
	if !strings.HasPrefix(lines[0], "MSH"+FieldSeparator) {
		return nil, fmt.Errorf("hl7v2: first segment must be MSH, got %q", lines[0][:min(3, len(lines[0]))])
	}

	msg := &Message{Segments: make([]Segment, 0, len(lines))}
	for _, line := range lines {
		msg.Segments = append(msg.Segments, parseSegment(line))
	}

	msh := &msg.Segments[0]
	msg.Type = msh.GetField(9)
	msg.ControlID = msh.GetField(10)
	msg.Version = msh.GetField(12)
	return msg, nil
}

// parseSegment stores fields so that Fields[i] is field i+1. For MSH the
// field separator itself is MSH-1.
func parseSegment(line string) Segment {
	name, rest, found := strings.Cut(line, FieldSeparator)
	seg := Segment{Name: name}
	if !found {
		return seg
	}
	if name == "MSH" {
		seg.Fields = append(seg.Fields, Field{Value: FieldSeparator})
		for i, part := range strings.Split(rest, FieldSeparator) {
			if i == 0 {
				// MSH-2 holds the encoding characters and is not split
				seg.Fields = append(seg.Fields, Field{Value: part})
				continue
			}
			seg.Fields = append(seg.Fields, parseField(part))
		}
		return seg
	}
	for _, part := range strings.Split(rest, FieldSeparator) {
		seg.Fields = append(seg.Fields, parseField(part))
	}
	return seg
}

func parseField(raw string) Field {
	f := Field{Value: raw}
	if strings.Contains(raw, ComponentSeparator) {
		for _, c := range strings.Split(raw, ComponentSeparator) {
			f.Components = append(f.Components, Unescape(c))
		}
	}
	return f
}

// GetSegment returns the first segment with the given name, or nil.
func (m *Message) GetSegment(name string) *Segment {
	for i := range m.Segments {
		if m.Segments[i].Name == name {
			return &m.Segments[i]
		}
	}
	return nil
}

// GetField returns field index (1-based) as raw text.
func (s *Segment) GetField(index int) string {
	idx := index - 1
	if idx < 0 || idx >= len(s.Fields) {
		return ""
	}
	return s.Fields[idx].Value
}

// GetComponent returns component compIdx of field fieldIdx, both 1-based.
// A field without components is its own first component.
func (s *Segment) GetComponent(fieldIdx, compIdx int) string {
	idx := fieldIdx - 1
	if idx < 0 || idx >= len(s.Fields) || compIdx < 1 {
		return ""
	}
	f := s.Fields[idx]
	if len(f.Components) == 0 {
		if compIdx == 1 {
			return Unescape(f.Value)
		}
		return ""
	}
	if compIdx > len(f.Components) {
		return ""
	}
	return f.Components[compIdx-1]
}

// AckCode returns MSA-1 (AA, AE, AR, CA, CE, CR), or "" when the message
// carries no MSA segment.
func (m *Message) AckCode() string {
	msa := m.GetSegment("MSA")
	if msa == nil {
		return ""
	}
	return msa.GetField(1)
}

// AckText returns MSA-3.
func (m *Message) AckText() string {
	msa := m.GetSegment("MSA")
	if msa == nil {
		return ""
	}
	return Unescape(msa.GetField(3))
}
