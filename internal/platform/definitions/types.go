package definitions

import (
	"regexp"
	"sort"
	"strconv"
	"strings"
)

// SegmentSummary is one entry of a version's segment catalog.
type SegmentSummary struct {
	Segment string `json:"segment"`
	Title   string `json:"title"`
}

// FieldDefinition is a field position within a segment and its display name.
type FieldDefinition struct {
	Field int    `json:"field"`
	Name  string `json:"name"`
}

// SegmentDetail is the field layout of a single segment.
type SegmentDetail struct {
	Segment string            `json:"segment"`
	Title   string            `json:"title"`
	Fields  []FieldDefinition `json:"fields"`
}

// segmentItem is an element of GET /HL7v{version}/Segments.
type segmentItem struct {
	ID    string `json:"id"`
	Label string `json:"label"`
}

// segmentPayload is the body of GET /HL7v{version}/Segments/{id}.
type segmentPayload struct {
	LongName string         `json:"longName"`
	Fields   []fieldPayload `json:"fields"`
}

type fieldPayload struct {
	Position string `json:"position"`
	ID       string `json:"id"`
	Name     string `json:"name"`
}

// labelSeparator splits "PID - Patient Identification" into id and title.
const labelSeparator = " - "

var positionSuffix = regexp.MustCompile(`[.-](\d+)$`)

func toSummaries(items []segmentItem) []SegmentSummary {
	out := make([]SegmentSummary, 0, len(items))
	for _, it := range items {
		out = append(out, SegmentSummary{Segment: it.ID, Title: titleFromLabel(it.ID, it.Label)})
	}
	return out
}

func titleFromLabel(id, label string) string {
	if _, rest, ok := strings.Cut(label, labelSeparator); ok && rest != "" {
		return rest
	}
	return id
}

func toDetail(segmentID string, p *segmentPayload) SegmentDetail {
	title := p.LongName
	if title == "" {
		title = segmentID
	}
	return SegmentDetail{
		Segment: segmentID,
		Title:   title,
		Fields:  parseFieldDefinitions(p.Fields),
	}
}

// parseFieldDefinitions keeps the entries whose position (or id) ends in
// ".N" or "-N" and returns them ordered by N.
func parseFieldDefinitions(fields []fieldPayload) []FieldDefinition {
	out := make([]FieldDefinition, 0, len(fields))
	for _, f := range fields {
		pos := f.Position
		if pos == "" {
			pos = f.ID
		}
		n, ok := parsePosition(pos)
		if !ok {
			continue
		}
		out = append(out, FieldDefinition{Field: n, Name: f.Name})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Field < out[j].Field })
	return out
}

func parsePosition(pos string) (int, bool) {
	m := positionSuffix.FindStringSubmatch(strings.TrimSpace(pos))
	if m == nil {
		return 0, false
	}
	n, err := strconv.Atoi(m[1])
	if err != nil || n <= 0 {
		return 0, false
	}
	return n, true
}
