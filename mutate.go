package bagit

import (
	"context"
	"errors"
	"io"
	"os"

	"github.com/ndlib/bagit/fetch"
	"github.com/ndlib/bagit/hash"
	"github.com/ndlib/bagit/manifest"
	"github.com/ndlib/bagit/pathutil"
	"github.com/ndlib/bagit/store"
)

// ErrDestInvalid means a destination path resolves outside the bag's
// payload area (".." escapes, or resolves to the payload root itself).
var ErrDestInvalid = errors.New("bagit: destination is not a valid payload path")

// ErrReservedName means a destination's final path segment is a Windows
// device name, which RFC 8493 bags must not use as a payload file name.
var ErrReservedName = errors.New("bagit: reserved file name")

// ErrLastManifest means an operation would leave the bag with zero
// configured payload manifest algorithms.
var ErrLastManifest = errors.New("bagit: cannot remove the last manifest algorithm")

// resolvePayloadDest validates dest (payload-relative, no "data/"
// prefix) and returns its root-relative form under data/.
func resolvePayloadDest(dest string) (string, error) {
	rel := pathutil.MakeRelative(dest)
	if rel == "" {
		return "", &Error{Kind: KindConflict, File: dest, Err: ErrDestInvalid}
	}
	if pathutil.ReservedName(rel) {
		return "", &Error{Kind: KindPolicy, File: dest, Err: ErrReservedName}
	}
	return "data/" + rel, nil
}

// AddFile copies the contents of the host file at srcPath into the
// bag's payload at dest (a payload-relative path, e.g. "images/a.tif").
// Manifest digests are not recomputed here; they are rebuilt wholesale
// by Update.
func (b *Bag) AddFile(srcPath, dest string) error {
	f, err := os.Open(srcPath)
	if err != nil {
		return &Error{Kind: KindNotFound, File: srcPath, Err: err}
	}
	defer f.Close()
	return b.AddFileReader(f, dest)
}

// AddFileReader is the store-agnostic core of AddFile: it copies r's
// bytes into the bag's payload at dest without requiring the source to
// exist on the host filesystem, useful for tests and for callers
// streaming payload content from elsewhere.
func (b *Bag) AddFileReader(r io.Reader, dest string) error {
	full, err := resolvePayloadDest(dest)
	if err != nil {
		return err
	}
	if illegal := pathutil.IllegalChars(full); len(illegal) > 0 {
		b.warnings = append(b.warnings, Problem{
			Kind: KindPolicy, File: full,
			Message: "contains characters illegal on some host filesystems",
		})
	}

	w, err := b.fs.Create(full)
	if err != nil {
		return &Error{Kind: KindIO, File: full, Err: err}
	}
	if _, err := io.Copy(w, r); err != nil {
		w.Close()
		return &Error{Kind: KindIO, File: full, Err: err}
	}
	if err := w.Close(); err != nil {
		return &Error{Kind: KindIO, File: full, Err: err}
	}
	b.dirty = true
	return nil
}

// RemoveFile deletes the payload file at dest, if present, and prunes
// any now-empty parent directories up to (but not including) data/.
func (b *Bag) RemoveFile(dest string) error {
	rel := pathutil.MakeRelative(dest)
	if rel == "" {
		return &Error{Kind: KindConflict, File: dest, Err: ErrDestInvalid}
	}
	full := "data/" + rel
	if err := b.fs.Delete(full); err != nil {
		return &Error{Kind: KindIO, File: full, Err: err}
	}
	if pruner, ok := b.fs.(store.DirPruner); ok {
		if err := pruner.PruneEmptyDirs(full, "data"); err != nil {
			return &Error{Kind: KindIO, File: full, Err: err}
		}
	}
	b.dirty = true
	return nil
}

// AddFetch delegates to the fetch list: it records a remote URL to be
// materialized at dest (payload-relative) and immediately downloads it
// so subsequent manifest computation sees its bytes.
func (b *Bag) AddFetch(ctx context.Context, url, dest string, size int64) error {
	full, err := resolvePayloadDest(dest)
	if err != nil {
		return err
	}
	if err := b.fetch.Add(ctx, b.fs, b.downloader, url, full, size); err != nil {
		kind := KindIO
		switch {
		case errors.Is(err, fetch.ErrOutsidePayload):
			kind = KindConflict
		case errors.Is(err, fetch.ErrUnsupportedScheme):
			kind = KindUnsupported
		}
		return &Error{Kind: kind, File: full, Err: err}
	}
	b.dirty = true
	return nil
}

// AddAlgorithm adds name to the set of configured payload (and, when
// extended, tag) manifest algorithms.
func (b *Bag) AddAlgorithm(name string) error {
	if !hash.IsSupported(name) {
		return &Error{Kind: KindUnsupported, Err: hash.ErrUnsupportedAlgorithm}
	}
	canon := hash.Normalize(name)
	if _, ok := b.payloadManifests[canon]; !ok {
		b.payloadManifests[canon] = manifest.New(canon, manifest.ScopePayload)
		b.dirty = true
	}
	return nil
}

// RemoveAlgorithm drops name from the configured set. It fails with
// ErrLastManifest if that would leave zero payload manifests.
func (b *Bag) RemoveAlgorithm(name string) error {
	canon := hash.Normalize(name)
	if _, ok := b.payloadManifests[canon]; !ok {
		return nil
	}
	if len(b.payloadManifests) == 1 {
		return &Error{Kind: KindPolicy, File: name, Err: ErrLastManifest}
	}
	delete(b.payloadManifests, canon)
	delete(b.tagManifests, canon)
	b.dirty = true
	return nil
}

// SetAlgorithm replaces every configured payload manifest algorithm
// with just name.
func (b *Bag) SetAlgorithm(name string) error {
	if !hash.IsSupported(name) {
		return &Error{Kind: KindUnsupported, Err: hash.ErrUnsupportedAlgorithm}
	}
	canon := hash.Normalize(name)
	b.payloadManifests = map[string]*manifest.Manifest{
		canon: manifest.New(canon, manifest.ScopePayload),
	}
	b.tagManifests = make(map[string]*manifest.Manifest)
	b.dirty = true
	return nil
}

// HasBagInfoTag reports whether tag has at least one recorded value.
func (b *Bag) HasBagInfoTag(tag string) bool { return b.info.Has(tag) }

// GetBagInfoTag returns every value recorded for tag, in insertion order.
func (b *Bag) GetBagInfoTag(tag string) []string { return b.info.GetAll(tag) }

// SetBagInfoTag appends a bag-info entry. Tags in baginfo.Generated
// (Payload-Oxum, Bagging-Date) may not be set this way; Update computes
// them itself.
func (b *Bag) SetBagInfoTag(tag, value string) error {
	if err := b.info.Set(tag, value); err != nil {
		return &Error{Kind: KindPolicy, File: tag, Err: err}
	}
	b.dirty = true
	return nil
}

// RemoveBagInfoTag deletes every entry for tag.
func (b *Bag) RemoveBagInfoTag(tag string) {
	b.info.RemoveAll(tag)
	b.dirty = true
}

// RemoveBagInfoTagIndex deletes the i'th occurrence of tag.
func (b *Bag) RemoveBagInfoTagIndex(tag string, i int) {
	b.info.RemoveAt(tag, i)
	b.dirty = true
}

// SetExtended toggles whether this bag persists bag-info.txt and tag
// manifests. Update() creates or deletes them accordingly.
func (b *Bag) SetExtended(extended bool) {
	b.extended = extended
	b.dirty = true
}

// SetFileEncoding changes the declared tag_file_encoding.
func (b *Bag) SetFileEncoding(name string) error {
	if !pathutil.IsSupportedEncoding(name) {
		return &Error{Kind: KindUnsupported, File: name, Err: pathutil.ErrUnsupportedEncoding}
	}
	b.tagFileEncoding = name
	b.dirty = true
	return nil
}

// SetVersion changes the declared BagIt-Version.
func (b *Bag) SetVersion(major, minor int) {
	b.version.Major = major
	b.version.Minor = minor
	b.dirty = true
}
