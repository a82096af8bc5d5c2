package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"text/tabwriter"

	"github.com/fatih/color"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	"github.com/wesnick/gw/pkg/gw"
)

const (
	formatJSON = "json"
	formatYAML = "yaml"
	formatText = "text"
)

// outputWriter handles formatted output (json, yaml or text)
type outputWriter struct {
	format    string
	noColor   bool
	verbose   bool
	writer    io.Writer
	errWriter io.Writer
}

func newOutputWriter(format string, noColor, verbose bool) *outputWriter {
	return &outputWriter{
		format:    format,
		noColor:   noColor,
		verbose:   verbose,
		writer:    os.Stdout,
		errWriter: os.Stderr,
	}
}

func (o *outputWriter) stderr() io.Writer {
	if o.errWriter == nil {
		return os.Stderr
	}
	return o.errWriter
}

// write renders data in the selected format. text is used for the text
// format; without it text falls back to yaml.
func (o *outputWriter) write(data interface{}, text func() error) error {
	switch o.format {
	case formatYAML:
		return o.writeYAML(data)
	case formatText:
		if text != nil {
			return text()
		}
		return o.writeYAML(data)
	default:
		return o.writeJSON(data)
	}
}

// writeJSON outputs data as JSON
func (o *outputWriter) writeJSON(data interface{}) error {
	encoder := json.NewEncoder(o.writer)
	encoder.SetIndent("", "  ")
	return encoder.Encode(data)
}

// writeYAML outputs data as YAML using the JSON field names.
func (o *outputWriter) writeYAML(data interface{}) error {
	b, err := json.Marshal(data)
	if err != nil {
		return errors.Wrap(err, "encoding output")
	}
	var node yaml.Node
	if err := yaml.Unmarshal(b, &node); err != nil {
		return errors.Wrap(err, "converting output to yaml")
	}
	plainStyle(&node)

	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(&node); err != nil {
		return errors.Wrap(err, "encoding yaml")
	}
	if err := enc.Close(); err != nil {
		return err
	}
	_, err = o.writer.Write(buf.Bytes())
	return err
}

// plainStyle drops the flow style inherited from the JSON source.
func plainStyle(n *yaml.Node) {
	n.Style = 0
	for _, c := range n.Content {
		plainStyle(c)
	}
}

// writeTable outputs tabular data
func (o *outputWriter) writeTable(headers []string, rows [][]string) error {
	w := tabwriter.NewWriter(o.writer, 0, 0, 2, ' ', 0)

	fmt.Fprintln(w, strings.Join(headers, "\t"))
	for _, row := range rows {
		fmt.Fprintln(w, strings.Join(row, "\t"))
	}

	return w.Flush()
}

// writeFields outputs aligned "key: value" lines.
func (o *outputWriter) writeFields(fields [][2]string) error {
	w := tabwriter.NewWriter(o.writer, 0, 0, 1, ' ', 0)
	for _, f := range fields {
		fmt.Fprintf(w, "%s:\t%s\n", f[0], f[1])
	}
	return w.Flush()
}

// writeMessage outputs a simple message
func (o *outputWriter) writeMessage(msg string) {
	fmt.Fprintln(o.writer, msg)
}

type errorOutput struct {
	OK      bool                   `json:"ok"`
	Error   string                 `json:"error"`
	Kind    string                 `json:"kind,omitempty"`
	Details map[string]interface{} `json:"details,omitempty"`
}

func newErrorOutput(err error) errorOutput {
	return errorOutput{
		OK:      false,
		Error:   err.Error(),
		Kind:    string(gw.KindOf(err)),
		Details: gw.DetailsOf(err),
	}
}

// writeError reports err. Structured formats write the failure object to
// stdout so callers can parse it; text goes to stderr.
func (o *outputWriter) writeError(err error) {
	if o.format != formatText {
		if werr := o.write(newErrorOutput(err), nil); werr == nil {
			return
		}
	}

	red := color.New(color.FgRed, color.Bold)
	if o.noColor {
		red.DisableColor()
	}
	w := o.stderr()
	fmt.Fprintf(w, "%s %v\n", red.Sprint("Error:"), err)

	details := gw.DetailsOf(err)
	keys := make([]string, 0, len(details))
	for k := range details {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(w, "  %s: %v\n", k, details[k])
	}
}

// writeVerbose outputs a verbose message to stderr if verbose mode is enabled
func (o *outputWriter) writeVerbose(format string, args ...interface{}) {
	if o.verbose {
		fmt.Fprintf(o.stderr(), "VERBOSE: "+format+"\n", args...)
	}
}

// truncateString truncates a string to maxLen with ellipsis
func truncateString(s string, maxLen int) string {
	r := []rune(s)
	if len(r) <= maxLen {
		return s
	}
	return string(r[:maxLen-3]) + "..."
}
