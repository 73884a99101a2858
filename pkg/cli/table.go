package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"slices"
	"strconv"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
)

// Theme defines the table color scheme.
type Theme struct {
	Primary lipgloss.Color // header and border color
	Dim     lipgloss.Color // odd row color
}

// DefaultTheme is the default bright green theme.
var DefaultTheme = Theme{
	Primary: lipgloss.Color("#00ff9f"),
	Dim:     lipgloss.Color("#6e7681"),
}

// Tabular is implemented by results with their own table layout.
type Tabular interface {
	Header() []string
	Rows() [][]string
}

// RenderTable renders header and rows with the theme.
func RenderTable(t Theme, header []string, rows [][]string) string {
	head := lipgloss.NewStyle().Bold(true).Foreground(t.Primary).Padding(0, 1)
	even := lipgloss.NewStyle().Padding(0, 1)
	odd := even.Foreground(t.Dim)

	return table.New().
		Border(lipgloss.RoundedBorder()).
		BorderStyle(lipgloss.NewStyle().Foreground(t.Primary)).
		StyleFunc(func(row, col int) lipgloss.Style {
			switch {
			case row == table.HeaderRow:
				return head
			case row%2 == 0:
				return even
			default:
				return odd
			}
		}).
		Headers(header...).
		Rows(rows...).
		String()
}

func outputTable(w io.Writer, result any) error {
	header, rows, err := tabulate(result)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(w, RenderTable(DefaultTheme, header, rows))
	return err
}

// tabulate lays out arbitrary results: lists of objects become one row per
// element, objects become key/value rows, anything else a single cell.
func tabulate(result any) ([]string, [][]string, error) {
	if t, ok := result.(Tabular); ok {
		return t.Header(), t.Rows(), nil
	}
	data, err := json.Marshal(result)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to format table: %w", err)
	}
	var v any
	if err := json.Unmarshal(data, &v); err != nil {
		return nil, nil, fmt.Errorf("failed to format table: %w", err)
	}

	switch v := v.(type) {
	case []any:
		var header []string
		for _, item := range v {
			if m, ok := item.(map[string]any); ok {
				for k := range m {
					if !slices.Contains(header, k) {
						header = append(header, k)
					}
				}
			}
		}
		if len(header) == 0 {
			rows := make([][]string, len(v))
			for i, item := range v {
				rows[i] = []string{cell(item)}
			}
			return []string{"value"}, rows, nil
		}
		slices.Sort(header)
		rows := make([][]string, len(v))
		for i, item := range v {
			m, _ := item.(map[string]any)
			row := make([]string, len(header))
			for j, k := range header {
				if val, ok := m[k]; ok {
					row[j] = cell(val)
				}
			}
			rows[i] = row
		}
		return header, rows, nil
	case map[string]any:
		keys := make([]string, 0, len(v))
		for k := range v {
			keys = append(keys, k)
		}
		slices.Sort(keys)
		rows := make([][]string, len(keys))
		for i, k := range keys {
			rows[i] = []string{k, cell(v[k])}
		}
		return []string{"key", "value"}, rows, nil
	default:
		return []string{"value"}, [][]string{{cell(v)}}, nil
	}
}

func cell(v any) string {
	switch v := v.(type) {
	case nil:
		return ""
	case string:
		return v
	case float64:
		return strconv.FormatFloat(v, 'g', -1, 64)
	case bool:
		return strconv.FormatBool(v)
	default:
		data, _ := json.Marshal(v)
		return string(data)
	}
}
