// Package manifest represents a single manifest-<alg>.txt or
// tagmanifest-<alg>.txt file: it parses the on-disk form, computes
// digests over the files it is told to cover, cross-checks the parsed
// map against what Compute found, and serializes the result back out.
//
// Payload and tag manifests share every one of these mechanics; they
// only differ in which files they enumerate. Rather than branch on a
// boolean the way the teacher's bagit.Writer.manifest did (istag bool),
// a Manifest here is handed a Lister closure that supplies the files it
// should contain — the payload walker and the tag walker are just two
// different Listers, owned by the caller (the bagit engine), which is
// the only thing that knows the shape of a bag root.
package manifest

import (
	"bufio"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/ndlib/bagit/hash"
	"github.com/ndlib/bagit/pathutil"
	"github.com/ndlib/bagit/store"
)

// Kind tags a validation Problem with the part of the spec's error
// taxonomy it corresponds to.
type Kind string

const (
	KindParse            Kind = "manifest-parse"
	KindMissingFile      Kind = "missing-file"
	KindExtraFile        Kind = "extra-file"
	KindDigestMismatch   Kind = "digest-mismatch"
	KindUnsupportedAlgo  Kind = "unsupported-algorithm"
)

// Problem is one finding produced while parsing or validating a
// manifest. The bagit engine merges these into its own Bag.errors /
// Bag.warnings slices at well-defined points.
type Problem struct {
	Kind    Kind
	File    string
	Line    int // 1-based source line, 0 if not applicable
	Message string
}

func (p Problem) Error() string {
	if p.Line > 0 {
		return fmt.Sprintf("%s: %s (line %d)", p.Kind, p.Message, p.Line)
	}
	return fmt.Sprintf("%s: %s", p.Kind, p.Message)
}

// Scope says which population of files a Manifest covers.
type Scope int

const (
	ScopePayload Scope = iota
	ScopeTag
)

// Lister supplies the set of root-relative paths a Manifest of a given
// Scope is expected to cover, at the moment it is called. The bagit
// engine supplies the payload walker (everything under "data/") and the
// tag walker (everything at the bag root except the manifest currently
// being written), per spec §4.C.
type Lister func() ([]string, error)

// Manifest holds the parsed or computed {path -> hex digest} map for one
// algorithm, in one scope.
type Manifest struct {
	Algorithm string // canonical registry name, e.g. "sha512"
	Scope     Scope
	entries   map[string]string
}

// New returns an empty Manifest for the given algorithm and scope.
func New(algorithm string, scope Scope) *Manifest {
	return &Manifest{
		Algorithm: hash.Normalize(algorithm),
		Scope:     scope,
		entries:   make(map[string]string),
	}
}

// Paths returns every path currently recorded in the manifest, in no
// particular order.
func (m *Manifest) Paths() []string {
	result := make([]string, 0, len(m.entries))
	for p := range m.entries {
		result = append(result, p)
	}
	return result
}

// Digest returns the recorded hex digest for path, and whether it was present.
func (m *Manifest) Digest(path string) (string, bool) {
	d, ok := m.entries[path]
	return d, ok
}

// Set records (or overwrites) the digest for path.
func (m *Manifest) Set(path, hexDigest string) {
	m.entries[path] = hexDigest
}

// Remove drops path from the manifest, if present.
func (m *Manifest) Remove(path string) {
	delete(m.entries, path)
}

// Len reports how many entries the manifest currently holds.
func (m *Manifest) Len() int { return len(m.entries) }

// Parse reads a manifest file body from r: one "<hex><SP>+<path>" entry
// per line. Paths are percent-decoded per RFC 8493 §2.1.3. A duplicate
// path produces a Problem of Kind KindParse but parsing continues, so
// callers see every issue in one pass rather than stopping at the first.
func Parse(algorithm string, scope Scope, r io.Reader) (*Manifest, []Problem) {
	m := New(algorithm, scope)
	var problems []Problem
	digestLen := hexLength(algorithm)

	scanner := bufio.NewScanner(r)
	lineno := 0
	for scanner.Scan() {
		lineno++
		line := strings.TrimRight(scanner.Text(), "\r")
		if len(line) == 0 {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) != 2 {
			problems = append(problems, Problem{
				Kind: KindParse, Line: lineno,
				Message: "expected exactly one digest and one path",
			})
			continue
		}
		digest, rawPath := fields[0], fields[1]
		if digestLen > 0 && len(digest) != digestLen {
			problems = append(problems, Problem{
				Kind: KindParse, Line: lineno,
				Message: fmt.Sprintf("digest length %d does not match %s", len(digest), algorithm),
			})
			continue
		}
		p := pathutil.DecodePathSegment(rawPath)
		if _, dup := m.entries[p]; dup {
			problems = append(problems, Problem{
				Kind: KindParse, Line: lineno, File: p,
				Message: "duplicate path in manifest",
			})
			continue
		}
		m.entries[p] = strings.ToLower(digest)
	}
	if err := scanner.Err(); err != nil {
		problems = append(problems, Problem{Kind: KindParse, Message: err.Error()})
	}
	return m, problems
}

// hexLength returns the expected hex-encoded digest length for the
// given algorithm, or 0 if the algorithm is unknown (in which case
// Parse skips the length check and leaves the unsupported-algorithm
// complaint to the caller, which already knows its own set of
// configured algorithms).
func hexLength(algorithm string) int {
	h, err := hash.New(algorithm)
	if err != nil {
		return 0
	}
	return h.Size() * 2
}

// Serialize writes the manifest sorted by path (stable lexicographic
// order over the canonical, slash-separated path form), one entry per
// line, always terminated with LF regardless of host platform.
func (m *Manifest) Serialize(w io.Writer) error {
	paths := m.Paths()
	sort.Strings(paths)
	for _, p := range paths {
		encoded := pathutil.EncodePathSegment(p)
		_, err := fmt.Fprintf(w, "%s  %s\n", m.entries[p], encoded)
		if err != nil {
			return err
		}
	}
	return nil
}

// opener is the minimal file-reading seam Compute/Validate need; it is
// satisfied by store.Store with the Create/Delete/List methods ignored.
type opener interface {
	Open(key string) (store.ReadAtCloser, int64, error)
}

// digestOf hashes the full contents of the file at path under
// algorithm, using the random-access Open that store.Store exposes.
func digestOf(open opener, algorithm, path string) (string, error) {
	rc, size, err := open.Open(path)
	if err != nil {
		return "", err
	}
	defer rc.Close()
	h, err := hash.New(algorithm)
	if err != nil {
		return "", err
	}
	_, err = io.Copy(h, io.NewSectionReader(rc, 0, size))
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%x", h.Sum(nil)), nil
}

// Compute recomputes the manifest from scratch: it asks list for the
// current set of files this manifest's scope should cover, hashes each
// one under m.Algorithm, and replaces the entry map wholesale.
func Compute(m *Manifest, open opener, list Lister) error {
	paths, err := list()
	if err != nil {
		return err
	}
	fresh := make(map[string]string, len(paths))
	for _, p := range paths {
		digest, err := digestOf(open, m.Algorithm, p)
		if err != nil {
			return err
		}
		fresh[p] = digest
	}
	m.entries = fresh
	return nil
}

// Validate compares the manifest's recorded digests against the current
// filesystem, reported through list and open, and returns every
// divergence found: files present on disk but not recorded
// (KindExtraFile), files recorded but missing on disk (KindMissingFile),
// and files present in both whose digest no longer matches
// (KindDigestMismatch). Digest comparison is case-insensitive on hex.
func Validate(m *Manifest, open opener, list Lister) ([]Problem, error) {
	paths, err := list()
	if err != nil {
		return nil, err
	}
	onDisk := make(map[string]bool, len(paths))
	var problems []Problem
	for _, p := range paths {
		onDisk[p] = true
		want, ok := m.entries[p]
		if !ok {
			problems = append(problems, Problem{Kind: KindExtraFile, File: p, Message: "file present but not in manifest"})
			continue
		}
		got, err := digestOf(open, m.Algorithm, p)
		if err != nil {
			return nil, err
		}
		if !strings.EqualFold(got, want) {
			problems = append(problems, Problem{Kind: KindDigestMismatch, File: p, Message: "digest mismatch"})
		}
	}
	for p := range m.entries {
		if !onDisk[p] {
			problems = append(problems, Problem{Kind: KindMissingFile, File: p, Message: "file missing on disk"})
		}
	}
	return problems, nil
}

// FileName returns the on-disk manifest file name for this manifest,
// e.g. "manifest-sha512.txt" or "tagmanifest-md5.txt".
func (m *Manifest) FileName() string {
	prefix := "manifest-"
	if m.Scope == ScopeTag {
		prefix = "tagmanifest-"
	}
	alg := hash.FileName(m.Algorithm)
	if alg == "" {
		alg = m.Algorithm
	}
	return prefix + alg + ".txt"
}

// ParseFileName extracts the scope and spec algorithm name from a
// manifest file's name, e.g. "tagmanifest-sha3-256.txt" -> (ScopeTag,
// "sha3256"). ok is false if name does not look like a manifest file.
func ParseFileName(name string) (scope Scope, algorithm string, ok bool) {
	switch {
	case strings.HasPrefix(name, "tagmanifest-") && strings.HasSuffix(name, ".txt"):
		alg := name[len("tagmanifest-") : len(name)-len(".txt")]
		return ScopeTag, hash.Normalize(alg), true
	case strings.HasPrefix(name, "manifest-") && strings.HasSuffix(name, ".txt"):
		alg := name[len("manifest-") : len(name)-len(".txt")]
		return ScopePayload, hash.Normalize(alg), true
	}
	return 0, "", false
}
