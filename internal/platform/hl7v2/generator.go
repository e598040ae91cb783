package hl7v2

import (
	"encoding/json"
	"errors"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/hl7mapper/hl7mapper/internal/platform/definitions"
)

// DefaultMessageVersion is written to MSH-12 when the caller supplies no version.
const DefaultMessageVersion = "2.3"

// Header holds the fixed MSH values of every generated message.
type Header struct {
	SendingApp        string `json:"sendingApp"`
	SendingFacility   string `json:"sendingFacility"`
	ReceivingApp      string `json:"receivingApp"`
	ReceivingFacility string `json:"receivingFacility"`
	MessageType       string `json:"messageType"` // type^trigger, e.g. ADT^A01
	ControlID         string `json:"controlId"`
	ProcessingID      string `json:"processingId"`
}

// DefaultHeader returns the stock MSH values.
func DefaultHeader() Header {
	return Header{
		SendingApp:        "HL7MAPPER",
		SendingFacility:   "HL7MAPPER",
		ReceivingApp:      "RECEIVER",
		ReceivingFacility: "RECEIVER",
		MessageType:       "ADT^A01",
		ControlID:         "MSG00001",
		ProcessingID:      "P",
	}
}

// buildMSH renders the header segment. MSH-7 carries the date only.
func (h Header) buildMSH(now time.Time, version string) string {
	if strings.TrimSpace(version) == "" {
		version = DefaultMessageVersion
	}
	return strings.Join([]string{
		"MSH",
		EncodingCharacters,
		h.SendingApp,
		h.SendingFacility,
		h.ReceivingApp,
		h.ReceivingFacility,
		now.UTC().Format("20060102"),
		"",
		h.MessageType,
		h.ControlID,
		h.ProcessingID,
		version,
	}, FieldSeparator)
}

// Assembler turns a JSON document and a list of mappings into an HL7 v2
// message. It holds no state between calls.
type Assembler struct {
	header Header
	now    func() time.Time
	logger zerolog.Logger
}

// AssemblerOption configures an Assembler.
type AssemblerOption func(*Assembler)

// WithHeader overrides the fixed MSH values.
func WithHeader(h Header) AssemblerOption {
	return func(a *Assembler) { a.header = h }
}

// WithNow sets the time source for MSH-7.
func WithNow(now func() time.Time) AssemblerOption {
	return func(a *Assembler) { a.now = now }
}

// WithLogger sets the logger used for skipped mappings.
func WithLogger(logger zerolog.Logger) AssemblerOption {
	return func(a *Assembler) { a.logger = logger }
}

// NewAssembler creates an Assembler with DefaultHeader and the wall clock.
func NewAssembler(opts ...AssemblerOption) *Assembler {
	a := &Assembler{
		header: DefaultHeader(),
		now:    time.Now,
		logger: zerolog.Nop(),
	}
	for _, o := range opts {
		o(a)
	}
	return a
}

// Header returns the MSH values in use.
func (a *Assembler) Header() Header { return a.header }

// Assemble builds the message. The MSH segment is always synthesized and
// mappings that target MSH are ignored. Mappings whose path does not
// resolve, or resolves to null or "", are skipped, as are mappings whose
// position is outside 1..MaxField or above MaxComponent. The only error is a
// document that is not valid JSON.
func (a *Assembler) Assemble(input []byte, mappings []Mapping, version string) (string, error) {
	if !json.Valid(input) {
		return "", &definitions.ParseError{Err: errors.New("inputJson is not valid JSON")}
	}

	var (
		order    []string
		segments = make(map[string]*segmentBuilder)
	)
	for i, m := range mappings {
		id := m.SegmentID()
		if id == "" || id == "MSH" {
			continue
		}
		if !m.inRange() {
			a.logger.Debug().Int("mapping", i).Int("field", m.Field).Int("component", m.ComponentIndex()).
				Msg("position out of range; mapping skipped")
			continue
		}
		value, ok := ResolvePath(input, m.JSONPath)
		if !ok {
			a.logger.Debug().Int("mapping", i).Str("json_path", m.JSONPath).Msg("no value; mapping skipped")
			continue
		}
		seg, ok := segments[id]
		if !ok {
			seg = newSegmentBuilder(id)
			segments[id] = seg
			order = append(order, id)
		}
		seg.set(m.Field, m.ComponentIndex(), Escape(value))
	}

	lines := make([]string, 0, len(order)+1)
	lines = append(lines, a.header.buildMSH(a.now(), version))
	for _, id := range order {
		lines = append(lines, segments[id].String())
	}
	return strings.Join(lines, SegmentSeparator), nil
}

// slot is one field position. A composite slot holds components by
// 0-based index; a scalar slot holds value.
type slot struct {
	value      string
	composite  bool
	components map[int]string
	maxComp    int
}

func (s *slot) String() string {
	if !s.composite {
		return s.value
	}
	parts := make([]string, s.maxComp+1)
	for i, v := range s.components {
		parts[i] = v
	}
	return strings.Join(parts, ComponentSeparator)
}

// segmentBuilder is a sparse field sequence. Position 0 is the segment id.
type segmentBuilder struct {
	id       string
	slots    map[int]*slot
	maxField int
}

func newSegmentBuilder(id string) *segmentBuilder {
	return &segmentBuilder{id: id, slots: make(map[int]*slot)}
}

// set writes value at field, or at component of field when component > 0.
// A scalar write replaces a composite at the same field and vice versa.
func (b *segmentBuilder) set(field, component int, value string) {
	if field > b.maxField {
		b.maxField = field
	}
	if component < 1 {
		b.slots[field] = &slot{value: value}
		return
	}
	s, ok := b.slots[field]
	if !ok || !s.composite {
		s = &slot{composite: true, components: make(map[int]string)}
		b.slots[field] = s
	}
	idx := component - 1
	s.components[idx] = value
	if idx > s.maxComp {
		s.maxComp = idx
	}
}

// fields returns the populated positions in ascending order.
func (b *segmentBuilder) fields() []int {
	out := make([]int, 0, len(b.slots))
	for f := range b.slots {
		out = append(out, f)
	}
	sort.Ints(out)
	return out
}

func (b *segmentBuilder) String() string {
	parts := make([]string, b.maxField+1)
	parts[0] = b.id
	for _, f := range b.fields() {
		parts[f] = b.slots[f].String()
	}
	return strings.Join(parts, FieldSeparator)
}
