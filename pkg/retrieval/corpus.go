package retrieval

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"encoding/json"

	"gopkg.in/yaml.v3"
)

// LoadCorpus reads the listings seed file. JSON and YAML are accepted,
// chosen by extension. The file holds either a bare document array or
// an object with a "properties" key.
func LoadCorpus(path string) ([]Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read corpus: %w", err)
	}

	var wrapper struct {
		Properties []Document `json:"properties" yaml:"properties"`
	}
	var docs []Document

	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &wrapper); err == nil && len(wrapper.Properties) > 0 {
			docs = wrapper.Properties
		} else if err := yaml.Unmarshal(data, &docs); err != nil {
			return nil, fmt.Errorf("parse corpus %s: %w", path, err)
		}
	default:
		if err := json.Unmarshal(data, &wrapper); err == nil && len(wrapper.Properties) > 0 {
			docs = wrapper.Properties
		} else if err := json.Unmarshal(data, &docs); err != nil {
			return nil, fmt.Errorf("parse corpus %s: %w", path, err)
		}
	}

	for i, doc := range docs {
		if doc.PropertyID == "" {
			return nil, fmt.Errorf("corpus %s: document %d has no property_id", path, i)
		}
	}
	return docs, nil
}
