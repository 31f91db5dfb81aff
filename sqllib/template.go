package sqllib

import (
	"fmt"
	"strconv"
	"strings"
)

// Templater replaces {key} placeholders in a template. Positional values
// fill {0}, {1} and so on in the order they are added.
type Templater struct {
	template string
	keys     []string
	values   map[string]string
	next     int
}

func NewTemplater(template string) *Templater {
	return &Templater{template: template, values: make(map[string]string)}
}

func (t *Templater) Template() string {
	return t.template
}

// Set binds key to the string form of value.
func (t *Templater) Set(key string, value any) *Templater {
	if _, ok := t.values[key]; !ok {
		t.keys = append(t.keys, key)
	}
	t.values[key] = fmt.Sprint(value)
	return t
}

// SetAll binds every entry of values.
func (t *Templater) SetAll(values map[string]any) *Templater {
	for k, v := range values {
		t.Set(k, v)
	}
	return t
}

// Add binds values to the next positional placeholders.
func (t *Templater) Add(values ...any) *Templater {
	for _, v := range values {
		t.Set(strconv.Itoa(t.next), v)
		t.next++
	}
	return t
}

// Clear removes every binding.
func (t *Templater) Clear() {
	t.keys = nil
	t.values = make(map[string]string)
	t.next = 0
}

// Generate returns the template with every bound placeholder replaced.
// Unbound placeholders are left as they are.
func (t *Templater) Generate() string {
	if len(t.keys) == 0 {
		return t.template
	}
	pairs := make([]string, 0, 2*len(t.keys))
	for _, k := range t.keys {
		pairs = append(pairs, "{"+k+"}", t.values[k])
	}
	return strings.NewReplacer(pairs...).Replace(t.template)
}

// Format replaces positional placeholders of template with args.
func Format(template string, args ...any) string {
	return NewTemplater(template).Add(args...).Generate()
}

// Template replaces {key} placeholders of template with values.
func Template(template string, values map[string]any) string {
	return NewTemplater(template).SetAll(values).Generate()
}
