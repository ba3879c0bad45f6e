package prompt

import (
	"embed"
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"
)

var (
	ErrTemplateMissing     = errors.New("prompt template missing")
	ErrPlaceholderMismatch = errors.New("prompt template placeholder mismatch")
)

const (
	SlotQuestion = "pregunta"
	SlotSchema   = "esquema"
)

// SQLSlots are the slots every SQL-generation template must carry.
var SQLSlots = []string{SlotQuestion, SlotSchema}

//go:embed templates/sql.txt
var defaultFS embed.FS

type segment struct {
	text string
	slot string
}

// Template is an immutable prompt with named {slot} placeholders. Literal
// braces are written as {{ and }}.
type Template struct {
	source   string
	segments []segment
	slots    []string
}

// Parse validates raw against the required slot set: every required slot must
// appear and no other slot may appear.
func Parse(raw string, required ...string) (Template, error) {
	segments, err := tokenize(raw)
	if err != nil {
		return Template{}, err
	}

	requiredSet := make(map[string]struct{}, len(required))
	for _, name := range required {
		requiredSet[name] = struct{}{}
	}
	seen := map[string]struct{}{}
	for _, seg := range segments {
		if seg.slot == "" {
			continue
		}
		if _, ok := requiredSet[seg.slot]; !ok {
			return Template{}, fmt.Errorf("%w: unexpected placeholder {%s}", ErrPlaceholderMismatch, seg.slot)
		}
		seen[seg.slot] = struct{}{}
	}
	var missing []string
	for name := range requiredSet {
		if _, ok := seen[name]; !ok {
			missing = append(missing, "{"+name+"}")
		}
	}
	if len(missing) > 0 {
		sort.Strings(missing)
		return Template{}, fmt.Errorf("%w: missing placeholder %s", ErrPlaceholderMismatch, strings.Join(missing, ", "))
	}

	slots := append([]string(nil), required...)
	sort.Strings(slots)
	return Template{source: raw, segments: segments, slots: slots}, nil
}

// Load reads a template file. An empty path selects the embedded default.
func Load(path string, required ...string) (Template, error) {
	if strings.TrimSpace(path) == "" {
		return Default()
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return Template{}, fmt.Errorf("%w: read %s: %w", ErrTemplateMissing, path, err)
	}
	if strings.TrimSpace(string(raw)) == "" {
		return Template{}, fmt.Errorf("%w: %s is empty", ErrTemplateMissing, path)
	}
	return Parse(string(raw), required...)
}

// Default is the built-in SQL-generation template.
func Default() (Template, error) {
	raw, err := defaultFS.ReadFile("templates/sql.txt")
	if err != nil {
		return Template{}, fmt.Errorf("%w: embedded default: %w", ErrTemplateMissing, err)
	}
	return Parse(string(raw), SQLSlots...)
}

func (t Template) IsZero() bool {
	return t.segments == nil
}

func (t Template) Source() string {
	return t.source
}

func (t Template) Slots() []string {
	return append([]string(nil), t.slots...)
}

// Render substitutes every slot. Values for unknown slots are rejected so a
// caller typo cannot silently drop context.
func (t Template) Render(values map[string]string) (string, error) {
	if t.IsZero() {
		return "", ErrTemplateMissing
	}
	for name := range values {
		if !t.hasSlot(name) {
			return "", fmt.Errorf("%w: no placeholder {%s}", ErrPlaceholderMismatch, name)
		}
	}
	var b strings.Builder
	for _, seg := range t.segments {
		if seg.slot == "" {
			b.WriteString(seg.text)
			continue
		}
		value, ok := values[seg.slot]
		if !ok {
			return "", fmt.Errorf("%w: no value for {%s}", ErrPlaceholderMismatch, seg.slot)
		}
		b.WriteString(value)
	}
	return b.String(), nil
}

func (t Template) hasSlot(name string) bool {
	for _, slot := range t.slots {
		if slot == name {
			return true
		}
	}
	return false
}

func tokenize(raw string) ([]segment, error) {
	segments := []segment{}
	var text strings.Builder
	flush := func() {
		if text.Len() > 0 {
			segments = append(segments, segment{text: text.String()})
			text.Reset()
		}
	}

	for i := 0; i < len(raw); i++ {
		c := raw[i]
		switch c {
		case '{':
			if i+1 < len(raw) && raw[i+1] == '{' {
				text.WriteByte('{')
				i++
				continue
			}
			end := strings.IndexByte(raw[i+1:], '}')
			if end < 0 {
				return nil, fmt.Errorf("%w: unterminated placeholder at offset %d", ErrPlaceholderMismatch, i)
			}
			name := raw[i+1 : i+1+end]
			if !isSlotName(name) {
				return nil, fmt.Errorf("%w: invalid placeholder {%s}", ErrPlaceholderMismatch, name)
			}
			flush()
			segments = append(segments, segment{slot: name})
			i += end + 1
		case '}':
			if i+1 < len(raw) && raw[i+1] == '}' {
				text.WriteByte('}')
				i++
				continue
			}
			return nil, fmt.Errorf("%w: single '}' at offset %d", ErrPlaceholderMismatch, i)
		default:
			text.WriteByte(c)
		}
	}
	flush()
	return segments, nil
}

func isSlotName(name string) bool {
	if name == "" {
		return false
	}
	for i, r := range name {
		switch {
		case r == '_', r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z':
		case r >= '0' && r <= '9' && i > 0:
		default:
			return false
		}
	}
	return true
}
