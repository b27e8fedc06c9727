package book

import (
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"
)

// StripFences removes a wrapping markdown code fence (``` or ```yaml) from
// an LLM response, leaving the payload untouched when no fence is present.
func StripFences(s string) string {
	trimmed := strings.TrimSpace(s)
	if !strings.HasPrefix(trimmed, "```") {
		return trimmed
	}

	lines := strings.Split(trimmed, "\n")
	if len(lines) < 2 {
		return trimmed
	}

	// Drop the opening fence line (``` or ```yaml etc).
	lines = lines[1:]

	// Drop the closing fence if it is the last non-empty line.
	for i := len(lines) - 1; i >= 0; i-- {
		line := strings.TrimSpace(lines[i])
		if line == "" {
			continue
		}
		if strings.HasPrefix(line, "```") {
			lines = lines[:i]
		}
		break
	}

	return strings.TrimSpace(strings.Join(lines, "\n"))
}

// DecodeOutline parses the self-contained outline structure from YAML.
func DecodeOutline(data []byte) (*Outline, error) {
	var o Outline
	if err := yaml.Unmarshal(data, &o); err != nil {
		return nil, fmt.Errorf("parsing outline yaml: %w", err)
	}
	return &o, nil
}

// EncodeOutline serializes the outline for storage and prompt embedding.
func EncodeOutline(o *Outline) ([]byte, error) {
	data, err := yaml.Marshal(o)
	if err != nil {
		return nil, fmt.Errorf("marshaling outline: %w", err)
	}
	return data, nil
}

// DecodeFoundation parses the metadata+characters+world bundle.
func DecodeFoundation(data []byte) (*Foundation, error) {
	var f Foundation
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parsing foundation yaml: %w", err)
	}
	return &f, nil
}

// EncodeFoundation serializes the foundation bundle.
func EncodeFoundation(f *Foundation) ([]byte, error) {
	data, err := yaml.Marshal(f)
	if err != nil {
		return nil, fmt.Errorf("marshaling foundation: %w", err)
	}
	return data, nil
}

// DecodePremiseMetadata parses stored premise metadata.
func DecodePremiseMetadata(data []byte) (PremiseMetadata, error) {
	var m PremiseMetadata
	if err := yaml.Unmarshal(data, &m); err != nil {
		return PremiseMetadata{}, fmt.Errorf("parsing premise metadata: %w", err)
	}
	return m, nil
}

// EncodePremiseMetadata serializes premise metadata for storage.
func EncodePremiseMetadata(m PremiseMetadata) ([]byte, error) {
	data, err := yaml.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("marshaling premise metadata: %w", err)
	}
	return data, nil
}
