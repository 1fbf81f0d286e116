package manifest

import (
	"fmt"
	"strconv"
	"strings"
)

// NodeKind discriminates manifest entries.
type NodeKind int

// Manifest entry kinds.
const (
	NodeFile NodeKind = iota
	NodeExecutable
	NodeSymlink
	NodeDirectory
)

// Node is one manifest entry. Which fields are meaningful depends on Kind:
// files and executables use Hash, ModTime, Size and Name; symlinks use
// Hash, Size and Name; directories use FullPath (and ModTime in the legacy
// format).
type Node struct {
	Kind     NodeKind
	Hash     string
	ModTime  int64
	Size     int64
	Name     string
	FullPath string
}

// Line renders the entry as it appears in a manifest of format f, without
// the trailing newline.
func (n Node) Line(f Format) string {
	switch n.Kind {
	case NodeFile:
		return fmt.Sprintf("F %s %d %d %s", n.Hash, n.ModTime, n.Size, n.Name)
	case NodeExecutable:
		return fmt.Sprintf("X %s %d %d %s", n.Hash, n.ModTime, n.Size, n.Name)
	case NodeSymlink:
		return fmt.Sprintf("S %s %d %s", n.Hash, n.Size, n.Name)
	case NodeDirectory:
		if f.legacy {
			return fmt.Sprintf("D %d %s", n.ModTime, n.FullPath)
		}
		return "D " + n.FullPath
	default:
		panic(fmt.Sprintf("unknown manifest node kind %d", n.Kind))
	}
}

// IsFile reports whether n is a regular file or executable.
func (n Node) IsFile() bool { return n.Kind == NodeFile || n.Kind == NodeExecutable }

// parseLine is the inverse of Line.
func parseLine(line string, f Format) (Node, error) {
	malformed := func() (Node, error) {
		return Node{}, fmt.Errorf("%w: %q", ErrMalformedLine, line)
	}
	if len(line) < 2 || line[1] != ' ' {
		return malformed()
	}
	rest := line[2:]
	switch line[0] {
	case 'F', 'X':
		// Names may contain spaces, so split off only the leading fields.
		fields := strings.SplitN(rest, " ", 4)
		if len(fields) != 4 {
			return malformed()
		}
		mtime, err1 := strconv.ParseInt(fields[1], 10, 64)
		size, err2 := strconv.ParseInt(fields[2], 10, 64)
		if err1 != nil || err2 != nil {
			return malformed()
		}
		kind := NodeFile
		if line[0] == 'X' {
			kind = NodeExecutable
		}
		return Node{Kind: kind, Hash: fields[0], ModTime: mtime, Size: size, Name: fields[3]}, nil
	case 'S':
		fields := strings.SplitN(rest, " ", 3)
		if len(fields) != 3 {
			return malformed()
		}
		size, err := strconv.ParseInt(fields[1], 10, 64)
		if err != nil {
			return malformed()
		}
		return Node{Kind: NodeSymlink, Hash: fields[0], Size: size, Name: fields[2]}, nil
	case 'D':
		if f.legacy {
			mtimeField, path, ok := strings.Cut(rest, " ")
			mtime, err := strconv.ParseInt(mtimeField, 10, 64)
			if !ok || err != nil || !strings.HasPrefix(path, "/") {
				return malformed()
			}
			return Node{Kind: NodeDirectory, ModTime: mtime, FullPath: path}, nil
		}
		if !strings.HasPrefix(rest, "/") {
			return malformed()
		}
		return Node{Kind: NodeDirectory, FullPath: rest}, nil
	default:
		return malformed()
	}
}
