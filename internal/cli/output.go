package cli

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"text/tabwriter"

	"gopkg.in/yaml.v3"

	"github.com/kstaniek/go-ims-packets/internal/packet"
)

// Formatter renders command results.
type Formatter interface {
	Format(data any) string
}

// NewFormatter returns a Formatter for "table" (default), "json" or "yaml".
func NewFormatter(format string) Formatter {
	switch strings.ToLower(format) {
	case "json":
		return &JSONFormatter{}
	case "yaml":
		return &YAMLFormatter{}
	default:
		return &TableFormatter{}
	}
}

// tabular is implemented by results with a table layout.
type tabular interface {
	header() []string
	rows() [][]string
}

// TableFormatter formats data as aligned text tables using tabwriter.
type TableFormatter struct{}

func (f *TableFormatter) Format(data any) string {
	t, ok := data.(tabular)
	if !ok {
		return fmt.Sprintln(data)
	}
	rows := t.rows()
	if len(rows) == 0 {
		return "No packets.\n"
	}
	var buf bytes.Buffer
	w := tabwriter.NewWriter(&buf, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, strings.Join(t.header(), "\t"))
	for _, r := range rows {
		fmt.Fprintln(w, strings.Join(r, "\t"))
	}
	w.Flush()
	return buf.String()
}

// JSONFormatter formats data as indented JSON.
type JSONFormatter struct{}

func (f *JSONFormatter) Format(data any) string {
	b, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return fmt.Sprintf("error formatting JSON: %v\n", err)
	}
	return string(b) + "\n"
}

// YAMLFormatter formats data as YAML.
type YAMLFormatter struct{}

func (f *YAMLFormatter) Format(data any) string {
	b, err := yaml.Marshal(data)
	if err != nil {
		return fmt.Sprintf("error formatting YAML: %v\n", err)
	}
	return string(b)
}

type summaries []packet.Summary

func (summaries) header() []string { return []string{"NAME", "ID", "TYPE", "OPTION", "PAYLOAD"} }

func (s summaries) rows() [][]string {
	out := make([][]string, 0, len(s))
	for _, p := range s {
		payload := strings.Join(p.Payload, ",")
		if len(p.Fields) > 0 {
			names := make([]string, 0, len(p.Fields))
			for k := range p.Fields {
				names = append(names, k)
			}
			sort.Strings(names)
			kv := make([]string, len(names))
			for i, k := range names {
				kv[i] = k + "=" + p.Fields[k]
			}
			payload = strings.Join(kv, " ")
		}
		out = append(out, []string{p.Name, strconv.Itoa(p.ID), p.Type.String(), strconv.FormatInt(p.Option, 10), payload})
	}
	return out
}

// descriptorInfo is the printable form of a registry entry.
type descriptorInfo struct {
	ID     int      `json:"id" yaml:"id"`
	Name   string   `json:"name" yaml:"name"`
	Tokens int      `json:"tokens" yaml:"tokens"`
	Fields []string `json:"fields,omitempty" yaml:"fields,omitempty"`
}

type descriptors []descriptorInfo

func (descriptors) header() []string { return []string{"ID", "NAME", "TOKENS", "FIELDS"} }

func (ds descriptors) rows() [][]string {
	out := make([][]string, 0, len(ds))
	for _, d := range ds {
		out = append(out, []string{strconv.Itoa(d.ID), d.Name, strconv.Itoa(d.Tokens), strings.Join(d.Fields, " ")})
	}
	return out
}
