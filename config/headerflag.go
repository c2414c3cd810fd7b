package config

import (
	"fmt"
	"maps"
	"net/http"
	"slices"
	"strings"

	"golang.org/x/net/http/httpguts"
)

// headerFlag collects header lines in the "Name: value" format. The
// flag can be repeated, the same line is kept once.
type headerFlag http.Header

func (f *headerFlag) String() string {
	if f == nil {
		return ""
	}

	var lines []string
	h := http.Header(*f)
	for _, name := range slices.Sorted(maps.Keys(h)) {
		for _, v := range h[name] {
			lines = append(lines, name+": "+v)
		}
	}

	return strings.Join(lines, ", ")
}

func (f *headerFlag) Set(value string) error {
	name, v, ok := strings.Cut(value, ":")
	name, v = strings.TrimSpace(name), strings.TrimSpace(v)
	if !ok || !httpguts.ValidHeaderFieldName(name) || !httpguts.ValidHeaderFieldValue(v) || http.CanonicalHeaderKey(name) == "Host" {
		return fmt.Errorf("invalid header, expected format 'Name: value' but got: '%s'", value)
	}

	if *f == nil {
		*f = make(headerFlag)
	}

	h := http.Header(*f)
	if !slices.Contains(h.Values(name), v) {
		h.Add(name, v)
	}

	return nil
}

func (f *headerFlag) UnmarshalYAML(unmarshal func(any) error) error {
	var lines []string
	if err := unmarshal(&lines); err != nil {
		return err
	}

	*f = nil
	for _, l := range lines {
		if err := f.Set(l); err != nil {
			return err
		}
	}

	return nil
}
