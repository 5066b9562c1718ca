// core/topology_loader.go
package core

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// LoadTopology reads a YAML descriptor from r. JSON descriptors parse too,
// since YAML is a superset. Unknown keys are rejected so typos in tuned
// constants do not silently fall back to defaults.
//
// Constants start from DefaultConstants, so a partial constants block
// only overrides the keys it names.
func LoadTopology(r io.Reader) (*Topology, error) {
	if r == nil {
		return nil, fmt.Errorf("LoadTopology: reader is nil")
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("LoadTopology: read failed: %w", err)
	}

	topo := Topology{Constants: DefaultConstants()}
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&topo); err != nil {
		return nil, fmt.Errorf("LoadTopology: decode failed: %w", err)
	}

	topo.Constants = topo.Constants.applyDefaults()
	if err := topo.Validate(); err != nil {
		return nil, fmt.Errorf("LoadTopology: %w", err)
	}
	return &topo, nil
}

// LoadTopologyFile opens path and hands it to LoadTopology.
func LoadTopologyFile(path string) (*Topology, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open topology %q: %w", path, err)
	}
	defer f.Close()
	return LoadTopology(f)
}

// ResolveTopology returns a built-in descriptor when ref names one and
// otherwise treats ref as a file path.
func ResolveTopology(ref string) (*Topology, error) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return BuiltinTopology(DefaultTopologyName)
	}
	if t, err := BuiltinTopology(ref); err == nil {
		return t, nil
	}
	return LoadTopologyFile(ref)
}

// MarshalTopology renders t as YAML, mostly so operators can dump a
// built-in descriptor and start editing from it.
func MarshalTopology(t *Topology) ([]byte, error) {
	if t == nil {
		return nil, fmt.Errorf("MarshalTopology: topology is nil")
	}
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(t); err != nil {
		return nil, err
	}
	if err := enc.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// BuiltinNames lists the built-in descriptor names in sorted order.
func BuiltinNames() []string {
	names := make([]string, 0, len(builtins))
	for name := range builtins {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
