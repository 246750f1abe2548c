package series

import (
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
)

// OutputFormat is a rendering of a Result.
type OutputFormat string

const (
	OutputText  OutputFormat = "text"
	OutputJSON  OutputFormat = "json"
	OutputTable OutputFormat = "table"
)

// ParseOutputFormat validates an output format name.
func ParseOutputFormat(s string) (OutputFormat, error) {
	switch f := OutputFormat(strings.ToLower(strings.TrimSpace(s))); f {
	case "":
		return OutputText, nil
	case OutputText, OutputJSON, OutputTable:
		return f, nil
	}
	return "", fmt.Errorf("unknown output format %q", s)
}

// Write renders res to w.
func Write(w io.Writer, res *Result, format OutputFormat) error {
	switch format {
	case OutputText, "":
		return writeText(w, res)
	case OutputJSON:
		return writeJSON(w, res)
	case OutputTable:
		return writeTable(w, res)
	}
	return fmt.Errorf("unknown output format %q", format)
}

// writeText prints one estimate per line at full precision.
func writeText(w io.Writer, res *Result) error {
	var sb strings.Builder
	for _, x := range res.Estimates {
		sb.WriteString(strconv.FormatFloat(x, 'g', -1, 64))
		sb.WriteByte('\n')
	}
	_, err := io.WriteString(w, sb.String())
	return err
}

type jsonStep struct {
	Observation float64 `json:"z"`
	Estimate    float64 `json:"x"`
	Covariance  float64 `json:"p"`
	Residual    float64 `json:"y"`
	Gain        float64 `json:"k"`
}

type jsonResult struct {
	Estimates []float64  `json:"estimates"`
	Steps     []jsonStep `json:"steps"`
	Summary   Summary    `json:"summary"`
}

func writeJSON(w io.Writer, res *Result) error {
	out := jsonResult{
		Estimates: res.Estimates,
		Steps:     make([]jsonStep, len(res.Steps)),
		Summary:   res.Summary,
	}
	if out.Estimates == nil {
		out.Estimates = []float64{}
	}
	for i, st := range res.Steps {
		out.Steps[i] = jsonStep{
			Observation: st.Observation,
			Estimate:    st.Estimate,
			Covariance:  st.Covariance,
			Residual:    st.Innovation,
			Gain:        st.Gain,
		}
	}

	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(out); err != nil {
		return fmt.Errorf("failed to encode result: %w", err)
	}
	return nil
}

func writeTable(w io.Writer, res *Result) error {
	tw := table.NewWriter()
	tw.SetOutputMirror(w)
	tw.SetStyle(table.StyleLight)

	tw.AppendHeader(table.Row{"#", "z", "x", "P", "y", "K"})
	for _, st := range res.Steps {
		tw.AppendRow(table.Row{
			st.Index,
			formatCell(st.Observation),
			formatCell(st.Estimate),
			formatCell(st.Covariance),
			formatCell(st.Innovation),
			formatCell(st.Gain),
		})
	}
	s := res.Summary
	tw.AppendFooter(table.Row{
		s.Count,
		"",
		formatCell(s.FinalEstimate),
		formatCell(s.FinalCovariance),
		"rms " + formatCell(s.ResidualRMS),
		"",
	})
	tw.Render()
	return nil
}

func formatCell(v float64) string {
	return strconv.FormatFloat(v, 'f', 6, 64)
}
