// Package fetch parses and serializes fetch.txt, and materializes the
// payload files it describes through an injected Downloader.
//
// The teacher has no precedent for this component — bagit/bagit.go's
// doc comment explicitly disclaims it ("Specific items not implemented
// are fetch files and holely bags"). Its streaming discipline is
// grounded in idiom on store.FileSystem.Create's scratch-then-rename
// staging (store/file_store.go): Add writes a fetched entry's bytes
// through a store.Store-backed destination the same way.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/ndlib/bagit/pathutil"
	"github.com/ndlib/bagit/store"
)

// Downloader is injected into the Bag engine; it performs the one
// disk-external I/O this module allows.
type Downloader interface {
	// Fetch retrieves url and returns a stream of its bytes. sizeHint,
	// if > 0, is the length declared in fetch.txt; implementations
	// should reject a mismatch against the stream's actual length
	// where they can detect it up front (e.g. Content-Length).
	Fetch(ctx context.Context, url string, sizeHint int64) (io.ReadCloser, error)
}

// allowedSchemes is the scheme allow-list for fetch.txt entries, per
// the reference design.
var allowedSchemes = map[string]bool{"http": true, "https": true}

// Sentinel errors Add returns, wrapped with context via fmt.Errorf's
// %w, so a caller can classify the failure with errors.Is.
var (
	ErrOutsidePayload    = errors.New("fetch: destination must resolve inside data/")
	ErrUnsupportedScheme = errors.New("fetch: unsupported URL scheme")
)

// ProblemKind tags a fetch-list finding with the part of the error
// taxonomy it belongs to.
type ProblemKind string

const (
	KindParse           ProblemKind = "fetch-parse"
	KindOutsidePayload  ProblemKind = "fetch-outside-payload"
	KindUnsupportedURL  ProblemKind = "fetch-unsupported-scheme"
	KindDownloadFailed  ProblemKind = "fetch-download-failed"
	KindSizeMismatch    ProblemKind = "fetch-size-mismatch"
)

// Problem is one finding produced while parsing, validating, or
// materializing fetch.txt.
type Problem struct {
	Kind    ProblemKind
	Line    int
	Entry   string
	Message string
}

func (p Problem) Error() string {
	if p.Line > 0 {
		return fmt.Sprintf("%s: %s (line %d)", p.Kind, p.Message, p.Line)
	}
	return fmt.Sprintf("%s: %s", p.Kind, p.Message)
}

// Entry is a single fetch.txt line: a remote URL to be materialized at
// Dest (a payload-relative path), with an optional declared Size (-1 if
// the original line used "-").
type Entry struct {
	URL  string
	Size int64
	Dest string
}

// List holds the parsed/accumulated fetch entries for a bag, plus the
// set of destination paths it has itself materialized (so Finalize can
// remove exactly those and nothing the caller added independently).
type List struct {
	mu          sync.Mutex
	entries     []Entry
	materialized map[string]bool
}

// New returns an empty fetch list.
func New() *List {
	return &List{materialized: make(map[string]bool)}
}

// Entries returns every entry, in whatever order they were added or parsed.
func (l *List) Entries() []Entry {
	l.mu.Lock()
	defer l.mu.Unlock()
	result := make([]Entry, len(l.entries))
	copy(result, l.entries)
	return result
}

// Parse reads a fetch.txt body: "<url><SP><size-or-dash><SP><dest>\n"
// per line. Entries whose destination resolves outside data/ or whose
// scheme is not http/https are reported as Problems but are still kept
// in the list (so validate() can surface them per bag); callers that
// want strict rejection should check the returned problems themselves.
func Parse(r io.Reader) (*List, []Problem) {
	l := New()
	var problems []Problem
	lineno := 0

	data, err := io.ReadAll(r)
	if err != nil {
		return l, []Problem{{Kind: KindParse, Message: err.Error()}}
	}
	for _, rawLine := range strings.Split(string(data), "\n") {
		lineno++
		line := strings.TrimRight(rawLine, "\r")
		if len(strings.TrimSpace(line)) == 0 {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) != 3 {
			problems = append(problems, Problem{Kind: KindParse, Line: lineno, Message: "expected url, size, dest"})
			continue
		}
		rawURL, sizeField, rawDest := fields[0], fields[1], fields[2]

		size := int64(-1)
		if sizeField != "-" {
			n, err := strconv.ParseInt(sizeField, 10, 64)
			if err != nil {
				problems = append(problems, Problem{Kind: KindParse, Line: lineno, Message: "malformed size field"})
				continue
			}
			size = n
		}

		dest := pathutil.DecodePathSegment(rawDest)
		entry := Entry{URL: rawURL, Size: size, Dest: dest}

		if !pathutil.InPayload(dest) {
			problems = append(problems, Problem{Kind: KindOutsidePayload, Line: lineno, Entry: dest, Message: "destination must resolve inside data/"})
		}
		if u, err := url.Parse(rawURL); err != nil || !allowedSchemes[strings.ToLower(u.Scheme)] {
			problems = append(problems, Problem{Kind: KindUnsupportedURL, Line: lineno, Entry: rawURL, Message: "unsupported scheme"})
		}

		l.entries = append(l.entries, entry)
	}
	return l, problems
}

// Add appends an entry and immediately materializes dest through
// downloader, so subsequent manifest computation sees its bytes — the
// default policy from spec §4.E. sizeHint <= 0 means no declared size.
func (l *List) Add(ctx context.Context, fs store.Store, downloader Downloader, rawURL, dest string, sizeHint int64) error {
	dest = pathutil.MakeRelative(dest)
	if !pathutil.InPayload(dest) {
		return fmt.Errorf("%w: %q", ErrOutsidePayload, dest)
	}
	u, err := url.Parse(rawURL)
	if err != nil || !allowedSchemes[strings.ToLower(u.Scheme)] {
		return fmt.Errorf("%w: %q", ErrUnsupportedScheme, rawURL)
	}

	if err := materialize(ctx, fs, downloader, rawURL, dest, sizeHint); err != nil {
		return err
	}

	size := sizeHint
	if size <= 0 {
		size = -1
	}
	l.mu.Lock()
	l.entries = append(l.entries, Entry{URL: rawURL, Size: size, Dest: dest})
	l.materialized[dest] = true
	l.mu.Unlock()
	return nil
}

func materialize(ctx context.Context, fs store.Store, downloader Downloader, rawURL, dest string, sizeHint int64) error {
	rc, err := downloader.Fetch(ctx, rawURL, sizeHint)
	if err != nil {
		return err
	}
	defer rc.Close()

	w, err := fs.Create(dest)
	if err != nil {
		return err
	}
	n, err := io.Copy(w, rc)
	if err != nil {
		w.Close()
		return err
	}
	if err := w.Close(); err != nil {
		return err
	}
	if sizeHint > 0 && n != sizeHint {
		return fmt.Errorf("fetch: %s: downloaded %d bytes, declared %d", dest, n, sizeHint)
	}
	return nil
}

// DownloadAll materializes every entry not already present on disk,
// used by validate() before manifest validation runs. It returns one
// Problem per failed download and continues past failures so a caller
// sees every broken fetch entry in one pass.
func DownloadAll(ctx context.Context, l *List, fs store.Store, downloader Downloader) []Problem {
	var problems []Problem
	for _, e := range l.Entries() {
		exists, err := fs.Exists(e.Dest)
		if err != nil {
			problems = append(problems, Problem{Kind: KindDownloadFailed, Entry: e.Dest, Message: err.Error()})
			continue
		}
		if exists {
			continue
		}
		if err := materialize(ctx, fs, downloader, e.URL, e.Dest, e.Size); err != nil {
			problems = append(problems, Problem{Kind: KindDownloadFailed, Entry: e.Dest, Message: err.Error()})
			continue
		}
		l.mu.Lock()
		l.materialized[e.Dest] = true
		l.mu.Unlock()
	}
	return problems
}

// Serialize emits the list sorted by destination path.
func Serialize(w io.Writer, l *List) error {
	entries := l.Entries()
	sort.Slice(entries, func(i, j int) bool { return entries[i].Dest < entries[j].Dest })
	for _, e := range entries {
		sizeField := "-"
		if e.Size >= 0 {
			sizeField = strconv.FormatInt(e.Size, 10)
		}
		_, err := fmt.Fprintf(w, "%s %s %s\n", e.URL, sizeField, pathutil.EncodePathSegment(e.Dest))
		if err != nil {
			return err
		}
	}
	return nil
}

// Finalize removes every file this List materialized via Add or
// DownloadAll — they are transient, not part of the committed payload
// on disk once packaging (an external collaborator) takes over.
func (l *List) Finalize(fs store.Store) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	var firstErr error
	for dest := range l.materialized {
		if err := fs.Delete(dest); err != nil && firstErr == nil {
			firstErr = err
		}
		delete(l.materialized, dest)
	}
	return firstErr
}

// ErrEmptyList names the condition of a fetch list with no entries, for
// callers that need to distinguish "no fetch.txt" from "empty
// fetch.txt". Neither this package nor the bagit engine returns it; the
// engine's Update decides whether to write fetch.txt from the entry
// count alone.
var ErrEmptyList = errors.New("fetch: list is empty")
