package topology

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"gossipsim/internal/graph"
)

// ErrTopologyNotFound is returned when no topology file matches a request.
var ErrTopologyNotFound = errors.New("topology not found")

// ID is a node id that decodes from either a JSON string or a JSON number.
type ID string

// UnmarshalJSON implements json.Unmarshaler.
func (id *ID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*id = ID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("node id must be a string or number: %s", data)
	}
	*id = ID(n.String())
	return nil
}

// FileNode is one entry of the "nodes" array.
type FileNode struct {
	ID ID `json:"id"`
}

// FileEdge is one entry of the "edges" or "links" array. Latency is an
// alias of Weight accepted on input.
type FileEdge struct {
	Source  ID       `json:"source"`
	Target  ID       `json:"target"`
	Weight  *float64 `json:"weight,omitempty"`
	Latency *float64 `json:"latency,omitempty"`
}

func (e FileEdge) weight() float64 {
	switch {
	case e.Weight != nil:
		return *e.Weight
	case e.Latency != nil:
		return *e.Latency
	default:
		return 0
	}
}

// File is the on-disk topology document.
type File struct {
	Nodes                 []FileNode `json:"nodes"`
	Edges                 []FileEdge `json:"edges,omitempty"`
	Links                 []FileEdge `json:"links,omitempty"`
	TotalClusters         *int       `json:"total_clusters,omitempty"`
	TotalClusteringTimeMs *float64   `json:"total_clustering_time_ms,omitempty"`
}

// Topology is a decoded topology file.
type Topology struct {
	Graph                 *graph.Graph
	TotalClusters         int
	TotalClusteringTimeMs float64
}

// Clustered reports whether the file described a clustered overlay.
func (t *Topology) Clustered() bool { return t.TotalClusters > 0 }

// Decode reads a topology document. Edges from both "edges" and "links"
// are accepted.
func Decode(r io.Reader) (*Topology, error) {
	var f File
	if err := json.NewDecoder(r).Decode(&f); err != nil {
		return nil, fmt.Errorf("decode topology: %w", err)
	}

	g := graph.New()
	for _, n := range f.Nodes {
		if n.ID == "" {
			return nil, fmt.Errorf("decode topology: node with empty id")
		}
		g.AddNode(string(n.ID))
	}
	for _, e := range append(append([]FileEdge(nil), f.Edges...), f.Links...) {
		if !g.HasNode(string(e.Source)) || !g.HasNode(string(e.Target)) {
			return nil, fmt.Errorf("decode topology: edge %s-%s references unknown node", e.Source, e.Target)
		}
		if err := g.AddEdge(string(e.Source), string(e.Target), e.weight()); err != nil {
			return nil, fmt.Errorf("decode topology: %w", err)
		}
	}

	t := &Topology{Graph: g}
	if f.TotalClusters != nil {
		t.TotalClusters = *f.TotalClusters
	}
	if f.TotalClusteringTimeMs != nil {
		t.TotalClusteringTimeMs = *f.TotalClusteringTimeMs
	}
	return t, nil
}

// Encode writes t as an indented topology document using "edges" and
// "weight".
func Encode(w io.Writer, t *Topology) error {
	f := File{
		Nodes: make([]FileNode, 0, t.Graph.NumNodes()),
		Edges: make([]FileEdge, 0, t.Graph.NumEdges()),
	}
	for _, id := range t.Graph.Nodes() {
		f.Nodes = append(f.Nodes, FileNode{ID: ID(id)})
	}
	for _, e := range t.Graph.Edges() {
		weight := e.Weight
		f.Edges = append(f.Edges, FileEdge{Source: ID(e.Source), Target: ID(e.Target), Weight: &weight})
	}
	if t.TotalClusters > 0 {
		k := t.TotalClusters
		ms := t.TotalClusteringTimeMs
		f.TotalClusters = &k
		f.TotalClusteringTimeMs = &ms
	}

	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(f)
}

// ReadFile decodes the topology at path.
func ReadFile(path string) (*Topology, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	t, err := Decode(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return t, nil
}

// WriteFile encodes t to path, replacing any existing file.
func WriteFile(path string, t *Topology) error {
	var buf bytes.Buffer
	if err := Encode(&buf, t); err != nil {
		return err
	}
	return os.WriteFile(path, buf.Bytes(), 0o644)
}

// FileName returns the canonical file name for a topology. clusters <= 0
// names the raw generated graph.
func FileName(model Model, nodes, clusters int) string {
	name := fmt.Sprintf("%s_nodes%d", strings.ToLower(string(model)), nodes)
	if clusters > 0 {
		name += "_k" + strconv.Itoa(clusters)
	}
	return name + ".json"
}

// Lookup finds the topology file for the given node count and model in dir.
// The exact canonical name wins; otherwise any file starting with the
// canonical stem is accepted (first in lexical order).
func Lookup(dir string, model Model, nodes, clusters int) (string, error) {
	exact := filepath.Join(dir, FileName(model, nodes, clusters))
	if _, err := os.Stat(exact); err == nil {
		return exact, nil
	}

	stem := strings.TrimSuffix(FileName(model, nodes, clusters), ".json")
	matches, err := filepath.Glob(filepath.Join(dir, stem+"_*.json"))
	if err != nil {
		return "", err
	}
	if clusters <= 0 {
		// The raw stem is a prefix of clustered names; keep raw files only.
		kept := matches[:0]
		for _, m := range matches {
			if !strings.HasPrefix(filepath.Base(m), stem+"_k") {
				kept = append(kept, m)
			}
		}
		matches = kept
	}
	if len(matches) == 0 {
		return "", fmt.Errorf("%w: model=%s nodes=%d clusters=%d in %s", ErrTopologyNotFound, model, nodes, clusters, dir)
	}
	sort.Strings(matches)
	return matches[0], nil
}
