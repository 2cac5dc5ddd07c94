// Package bagit implements the BagIt (RFC 8493) Bag engine: the
// top-level state machine that owns path/encoding utilities, the hash
// registry, payload and tag manifests, the bag-info store, the fetch
// list, and the bagit.txt declaration, and exposes create/load/mutate/
// update/validate/finalize as a single coherent API.
//
// It is grounded on the orchestration shape of the teacher's
// items.Store: constructors that take an injected store.Store, a
// dirty/lazy-mutation pattern, and accumulate-don't-abort validation
// (items.Store.Validate) generalized into Bag.errors/Bag.warnings.
package bagit

import (
	"bufio"
	"bytes"
	"errors"
	"io"
	"sort"

	"github.com/ndlib/bagit/baginfo"
	"github.com/ndlib/bagit/declaration"
	"github.com/ndlib/bagit/fetch"
	"github.com/ndlib/bagit/hash"
	"github.com/ndlib/bagit/manifest"
	"github.com/ndlib/bagit/pathutil"
	"github.com/ndlib/bagit/store"
)

// DefaultAlgorithm is the digest algorithm a newly created bag uses.
const DefaultAlgorithm = "sha512"

// Bag is a BagIt archive represented as an in-memory state machine over
// a backing store.Store. Payload mutations (AddFile, AddFileReader,
// RemoveFile, AddFetch) write to or delete from the backing store at
// once; bagit.txt, manifests, fetch.txt and bag-info.txt are only
// written when Update is called.
type Bag struct {
	rootPath        string
	version         declaration.Version
	tagFileEncoding string
	extended        bool

	payloadManifests map[string]*manifest.Manifest // key: canonical algorithm name
	tagManifests     map[string]*manifest.Manifest

	info  *baginfo.Store
	fetch *fetch.List

	dirty  bool
	loaded bool

	errors   []Problem
	warnings []Problem

	fs         store.Store
	clock      Clock
	downloader fetch.Downloader
}

// ErrRootNotEmpty means Create was asked to create a bag over a
// directory that already holds files.
var ErrRootNotEmpty = errors.New("bagit: root is not empty")

// New wraps an already-open store.Store as an empty, unloaded Bag. Most
// callers want Create or Load instead; New is exposed for callers
// embedding their own bootstrap sequence, mirroring items.New's role as
// the bare constructor beneath items.NewWithCache.
func New(root string, fs store.Store) *Bag {
	return &Bag{
		rootPath:        root,
		version:         declaration.DefaultVersion,
		tagFileEncoding: declaration.DefaultEncoding,
		payloadManifests: map[string]*manifest.Manifest{
			DefaultAlgorithm: manifest.New(DefaultAlgorithm, manifest.ScopePayload),
		},
		tagManifests: make(map[string]*manifest.Manifest),
		info:         baginfo.New(),
		fetch:        fetch.New(),
		clock:        UTCClock{},
		downloader:   fetch.NewHTTPDownloader(),
		fs:           fs,
		dirty:        true,
	}
}

// Create initializes a brand new bag rooted at root, backed by fs. fs
// must hold no keys at all: if fs.List reports any, Create returns a
// KindConflict *Error wrapping ErrRootNotEmpty.
func Create(root string, fs store.Store) (*Bag, error) {
	keys, err := fs.List()
	if err != nil {
		return nil, &Error{Kind: KindIO, Err: err}
	}
	if len(keys) > 0 {
		return nil, &Error{Kind: KindConflict, Err: ErrRootNotEmpty}
	}
	b := New(root, fs)
	return b, nil
}

// Load parses an existing bag rooted at root from fs.
func Load(root string, fs store.Store) (*Bag, error) {
	b := &Bag{
		rootPath:     root,
		fs:           fs,
		clock:        UTCClock{},
		downloader:   fetch.NewHTTPDownloader(),
		tagManifests: make(map[string]*manifest.Manifest),
	}
	if err := b.reload(); err != nil {
		return nil, err
	}
	return b, nil
}

// reload parses every component fresh from the backing store, resetting
// errors/warnings and the in-memory maps. It is the shared core of Load
// and of Validate's "reload after update" step.
func (b *Bag) reload() error {
	rc, size, err := b.fs.Open("bagit.txt")
	if err != nil {
		return &Error{Kind: KindNotFound, File: "bagit.txt", Err: err}
	}
	decl, err := declaration.Parse(io.NewSectionReader(rc, 0, size))
	rc.Close()
	if err != nil {
		return &Error{Kind: KindParse, File: "bagit.txt", Err: err}
	}
	b.version = decl.Version
	b.tagFileEncoding = decl.Encoding

	var errs, warns []Problem

	allKeys, err := b.fs.List()
	if err != nil {
		return &Error{Kind: KindIO, Err: err}
	}

	payloadManifests := make(map[string]*manifest.Manifest)
	tagManifests := make(map[string]*manifest.Manifest)
	for _, key := range allKeys {
		scope, alg, ok := manifest.ParseFileName(key)
		if !ok {
			continue
		}
		if !hash.IsSupported(alg) {
			errs = append(errs, Problem{Kind: KindUnsupported, File: key, Message: "unsupported digest algorithm"})
			continue
		}
		body, perr := b.decodedBytes(key)
		if perr != nil {
			errs = append(errs, Problem{Kind: KindIO, File: key, Message: perr.Error()})
			continue
		}
		m, problems := manifest.Parse(alg, scope, bytes.NewReader(body))
		for _, p := range problems {
			errs = append(errs, Problem{Kind: KindParse, File: key, Message: p.Error()})
		}
		if scope == manifest.ScopePayload {
			payloadManifests[alg] = m
		} else {
			tagManifests[alg] = m
		}
	}
	if len(payloadManifests) == 0 {
		errs = append(errs, Problem{Kind: KindIntegrity, Message: "bag has no payload manifest"})
	}
	b.payloadManifests = payloadManifests
	b.tagManifests = tagManifests
	b.extended = len(tagManifests) > 0

	b.info = baginfo.New()
	if exists, _ := b.fs.Exists("bag-info.txt"); exists {
		b.extended = true
		body, perr := b.decodedBytes("bag-info.txt")
		if perr != nil {
			errs = append(errs, Problem{Kind: KindIO, File: "bag-info.txt", Message: perr.Error()})
		} else {
			info, problems := baginfo.Parse(bufio.NewScanner(bytes.NewReader(body)), b.version)
			b.info = info
			for _, p := range problems {
				kind := KindParse
				target := &errs
				switch p.Kind {
				case baginfo.KindMustNotRepeat:
					kind = KindConflict
				case baginfo.KindShouldNotRepeat:
					kind = KindConflict
					target = &warns
				case baginfo.KindPolicy:
					kind = KindPolicy
				}
				*target = append(*target, Problem{Kind: kind, File: "bag-info.txt", Message: p.Error()})
			}
		}
	}

	b.fetch = fetch.New()
	if exists, _ := b.fs.Exists("fetch.txt"); exists {
		body, perr := b.decodedBytes("fetch.txt")
		if perr != nil {
			errs = append(errs, Problem{Kind: KindIO, File: "fetch.txt", Message: perr.Error()})
		} else {
			list, problems := fetch.Parse(bytes.NewReader(body))
			b.fetch = list
			for _, p := range problems {
				kind := KindParse
				switch p.Kind {
				case fetch.KindOutsidePayload:
					kind = KindConflict
				case fetch.KindUnsupportedURL:
					kind = KindUnsupported
				}
				errs = append(errs, Problem{Kind: kind, File: "fetch.txt", Message: p.Error()})
			}
		}
	}

	b.errors = errs
	b.warnings = warns
	b.dirty = false
	b.loaded = true
	return nil
}

// decodedBytes opens key and returns its full contents transcoded from
// the bag's declared tag_file_encoding into UTF-8 text, ready for a
// line-oriented parser.
func (b *Bag) decodedBytes(key string) ([]byte, error) {
	rc, size, err := b.fs.Open(key)
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	raw := make([]byte, size)
	if _, err := io.ReadFull(io.NewSectionReader(rc, 0, size), raw); err != nil {
		return nil, err
	}
	return pathutil.Decode(b.tagFileEncoding, raw)
}

// Root returns the canonical root path this bag is stored at.
func (b *Bag) Root() string { return b.rootPath }

// Algorithms enumerates the configured payload manifest algorithms.
func (b *Bag) Algorithms() []string {
	result := make([]string, 0, len(b.payloadManifests))
	for alg := range b.payloadManifests {
		result = append(result, alg)
	}
	sort.Strings(result)
	return result
}

// PayloadFiles returns the union of paths referenced across every
// configured payload manifest.
func (b *Bag) PayloadFiles() []string {
	seen := make(map[string]bool)
	for _, m := range b.payloadManifests {
		for _, p := range m.Paths() {
			seen[p] = true
		}
	}
	result := make([]string, 0, len(seen))
	for p := range seen {
		result = append(result, p)
	}
	sort.Strings(result)
	return result
}

// IsDirty reports whether the bag has unflushed in-memory mutations.
func (b *Bag) IsDirty() bool { return b.dirty }

// Extended reports whether this bag persists bag-info.txt and tag
// manifests.
func (b *Bag) Extended() bool { return b.extended }

// Errors returns the problems recorded by the most recent load or
// validate.
func (b *Bag) Errors() []Problem { return b.errors }

// Warnings returns the non-fatal findings recorded by the most recent
// load or validate.
func (b *Bag) Warnings() []Problem { return b.warnings }

// SetClock overrides the Clock used for Bagging-Date. Intended for use
// right after construction, mirroring items.Store.SetCache.
func (b *Bag) SetClock(c Clock) { b.clock = c }

// SetDownloader overrides the Downloader used to materialize fetch
// entries. Intended for use right after construction, mirroring
// items.Store.SetCache.
func (b *Bag) SetDownloader(d fetch.Downloader) { b.downloader = d }
