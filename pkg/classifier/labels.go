package classifier

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"path"
	"strings"

	"github.com/goccy/go-yaml"
)

// Vocabulary is the ordered label list. Index i names output i of the
// classifier.
type Vocabulary []string

// Index returns the position of label, or -1.
func (v Vocabulary) Index(label string) int {
	for i, l := range v {
		if l == label {
			return i
		}
	}
	return -1
}

// ParseLabels decodes a label file. The format is chosen by the extension
// of name: ".json" is a JSON string array, ".yaml" or ".yml" a YAML list,
// anything else one label per line with blank lines skipped.
func ParseLabels(data []byte, name string) (Vocabulary, error) {
	var labels []string
	switch strings.ToLower(path.Ext(name)) {
	case ".json":
		if err := json.Unmarshal(data, &labels); err != nil {
			return nil, fmt.Errorf("classifier: parse labels %s: %w", name, err)
		}
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &labels); err != nil {
			return nil, fmt.Errorf("classifier: parse labels %s: %w", name, err)
		}
	default:
		sc := bufio.NewScanner(bytes.NewReader(data))
		for sc.Scan() {
			if l := strings.TrimSpace(sc.Text()); l != "" {
				labels = append(labels, l)
			}
		}
		if err := sc.Err(); err != nil {
			return nil, fmt.Errorf("classifier: parse labels %s: %w", name, err)
		}
	}
	if len(labels) == 0 {
		return nil, errors.New("classifier: empty label vocabulary")
	}
	return Vocabulary(labels), nil
}
