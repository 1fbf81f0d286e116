package manifest

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path"
	"strings"
)

// FileName is the name of the manifest file written into every store entry.
const FileName = ".manifest"

// Manifest is an ordered list of nodes in one format.
type Manifest struct {
	format Format
	nodes  []Node
}

// New wraps nodes, which must already be in manifest order.
func New(format Format, nodes []Node) *Manifest {
	return &Manifest{format: format, nodes: nodes}
}

// Format returns the manifest's format.
func (m *Manifest) Format() Format { return m.format }

// Nodes returns the entries in manifest order.
func (m *Manifest) Nodes() []Node { return m.nodes }

// String renders the manifest text: one newline-terminated line per node.
func (m *Manifest) String() string {
	var b strings.Builder
	for _, n := range m.nodes {
		b.WriteString(n.Line(m.format))
		b.WriteByte('\n')
	}
	return b.String()
}

// CalculateDigest hashes the manifest text and returns the digest ID, e.g.
// "sha256new_XXXX".
func (m *Manifest) CalculateDigest() string {
	h := m.format.NewHash()
	_, _ = io.WriteString(h, m.String())
	return m.format.Prefix() + m.format.encodeDigest(h.Sum(nil))
}

// TotalSize sums the sizes of all files and symlinks.
func (m *Manifest) TotalSize() int64 {
	var total int64
	for _, n := range m.nodes {
		if n.Kind != NodeDirectory {
			total += n.Size
		}
	}
	return total
}

// Save writes the manifest text to w.
func (m *Manifest) Save(w io.Writer) error {
	_, err := io.WriteString(w, m.String())
	return err
}

// SaveFile writes the manifest to path with read-only permissions and
// returns its digest.
func (m *Manifest) SaveFile(path string) (string, error) {
	if err := os.WriteFile(path, []byte(m.String()), 0o444); err != nil {
		return "", fmt.Errorf("write manifest: %w", err)
	}
	return m.CalculateDigest(), nil
}

// Load parses manifest text in the given format.
func Load(r io.Reader, format Format) (*Manifest, error) {
	m := &Manifest{format: format}
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := scanner.Text()
		if line == "" {
			continue
		}
		n, err := parseLine(line, format)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", lineNo, err)
		}
		m.nodes = append(m.nodes, n)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read manifest: %w", err)
	}
	return m, nil
}

// LoadFile parses the manifest file at path.
func LoadFile(filePath string, format Format) (*Manifest, error) {
	f, err := os.Open(filePath)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return Load(f, format)
}

// Entry is a node together with its slash-separated path from the root.
type Entry struct {
	Path string
	Node Node
}

// Entries resolves every node to its slash-separated path from the root,
// e.g. "/bin/tool". Legacy manifests interleave files and directories, so
// their file paths are only exact within the deepest directory.
func (m *Manifest) Entries() []Entry {
	dir := "/"
	entries := make([]Entry, 0, len(m.nodes))
	for _, n := range m.nodes {
		if n.Kind == NodeDirectory {
			dir = n.FullPath
			entries = append(entries, Entry{Path: n.FullPath, Node: n})
			continue
		}
		entries = append(entries, Entry{Path: path.Join(dir, n.Name), Node: n})
	}
	return entries
}
