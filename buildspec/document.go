// Package buildspec compiles pipeline nodes into a CodeBuild build script.
package buildspec

import (
	"bytes"
	"encoding/json"

	"gopkg.in/yaml.v3"
)

// Version is the build script schema version understood by the build service
const Version = "0.2"

// Document is the compiled three-phase build script. It is never mutated after Compile returns it.
type Document struct {
	Version   string    `json:"version" yaml:"version"`
	Phases    Phases    `json:"phases" yaml:"phases"`
	Artifacts Artifacts `json:"artifacts" yaml:"artifacts"`
}

type Phases struct {
	PreBuild  Phase `json:"pre_build" yaml:"pre_build"`
	Build     Phase `json:"build" yaml:"build"`
	PostBuild Phase `json:"post_build" yaml:"post_build"`
}

type Phase struct {
	Commands []string `json:"commands" yaml:"commands"`
}

type Artifacts struct {
	Files []string `json:"files" yaml:"files"`
}

// JSON serializes the document in the wire format handed to the build service
func (d *Document) JSON() ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(d); err != nil {
		return nil, err
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}

// YAML renders the document the way buildspec.yml files are usually written
func (d *Document) YAML() ([]byte, error) {
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(d); err != nil {
		return nil, err
	}
	if err := enc.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// String returns the JSON form, or "" if it cannot be encoded
func (d *Document) String() string {
	out, err := d.JSON()
	if err != nil {
		return ""
	}
	return string(out)
}
