package bagit

import (
	"bufio"
	"fmt"
	"io"
	"sort"

	"github.com/ndlib/bagit/baginfo"
	"github.com/ndlib/bagit/declaration"
	"github.com/ndlib/bagit/fetch"
	"github.com/ndlib/bagit/manifest"
	"github.com/ndlib/bagit/pathutil"
)

// payloadLister returns the files currently under data/, used as the
// Compute/Validate strategy for every payload manifest.
func (b *Bag) payloadLister() manifest.Lister {
	return func() ([]string, error) { return b.fs.ListPrefix("data/") }
}

// tagLister returns every bag-root file except dest (the tag manifest
// being written) and anything under data/ — including any tag manifest
// already finalized earlier in this same Update pass, per the
// tag-manifest peculiarity in §4.C.
func (b *Bag) tagLister(exclude string) manifest.Lister {
	return func() ([]string, error) {
		all, err := b.fs.List()
		if err != nil {
			return nil, err
		}
		result := make([]string, 0, len(all))
		for _, k := range all {
			if k == exclude || pathutil.InPayload(k) {
				continue
			}
			result = append(result, k)
		}
		return result, nil
	}
}

// writeUTF8File writes key's contents verbatim, without any
// tag_file_encoding transcoding — used only for bagit.txt, which RFC
// 8493 requires to always be strict UTF-8.
func (b *Bag) writeUTF8File(key string, write func(io.Writer) error) error {
	raw, err := b.fs.Create(key)
	if err != nil {
		return err
	}
	if err := write(raw); err != nil {
		raw.Close()
		return err
	}
	return raw.Close()
}

// writeTagFile writes key's contents transcoded from UTF-8 into the
// bag's declared tag_file_encoding.
func (b *Bag) writeTagFile(key string, write func(io.Writer) error) error {
	raw, err := b.fs.Create(key)
	if err != nil {
		return err
	}
	encW, err := pathutil.EncodeWriter(b.tagFileEncoding, raw)
	if err != nil {
		raw.Close()
		return err
	}
	if err := write(encW); err != nil {
		encW.Close()
		raw.Close()
		return err
	}
	if err := encW.Close(); err != nil {
		raw.Close()
		return err
	}
	return raw.Close()
}

// pruneStaleManifests deletes on-disk manifest-*.txt / tagmanifest-*.txt
// files whose algorithm is no longer configured, e.g. after
// SetAlgorithm swaps the digest in use.
func (b *Bag) pruneStaleManifests() error {
	keys, err := b.fs.List()
	if err != nil {
		return err
	}
	for _, k := range keys {
		scope, alg, ok := manifest.ParseFileName(k)
		if !ok {
			continue
		}
		switch scope {
		case manifest.ScopePayload:
			if _, ok := b.payloadManifests[alg]; !ok {
				if err := b.fs.Delete(k); err != nil {
					return err
				}
			}
		case manifest.ScopeTag:
			if _, ok := b.payloadManifests[alg]; !ok || !b.extended {
				if err := b.fs.Delete(k); err != nil {
					return err
				}
			}
		}
	}
	return nil
}

// Update flushes in-memory mutations to the backing store in the order
// spec.md §4.G requires: bagit.txt, then payload manifests, then
// fetch.txt, then (if extended) bag-info.txt and tag manifests; if not
// extended, bag-info.txt and every tag manifest are deleted instead.
func (b *Bag) Update() error {
	if err := b.writeUTF8File("bagit.txt", func(w io.Writer) error {
		return declaration.Serialize(w, declaration.Declaration{Version: b.version, Encoding: b.tagFileEncoding})
	}); err != nil {
		return &Error{Kind: KindIO, File: "bagit.txt", Err: err}
	}

	if err := b.pruneStaleManifests(); err != nil {
		return &Error{Kind: KindIO, Err: err}
	}

	lister := b.payloadLister()
	for alg, m := range b.payloadManifests {
		if err := manifest.Compute(m, b.fs, lister); err != nil {
			return &Error{Kind: KindIO, File: alg, Err: err}
		}
		if err := b.writeTagFile(m.FileName(), m.Serialize); err != nil {
			return &Error{Kind: KindIO, File: m.FileName(), Err: err}
		}
	}

	hasFetch := len(b.fetch.Entries()) > 0
	if hasFetch {
		if err := b.writeTagFile("fetch.txt", func(w io.Writer) error {
			return fetch.Serialize(w, b.fetch)
		}); err != nil {
			return &Error{Kind: KindIO, File: "fetch.txt", Err: err}
		}
	} else {
		if err := b.fs.Delete("fetch.txt"); err != nil {
			return &Error{Kind: KindIO, File: "fetch.txt", Err: err}
		}
	}

	if b.extended {
		b.tagManifests = make(map[string]*manifest.Manifest, len(b.payloadManifests))
		for alg := range b.payloadManifests {
			b.tagManifests[alg] = manifest.New(alg, manifest.ScopeTag)
		}

		oxum, err := b.payloadOxum()
		if err != nil {
			return &Error{Kind: KindIO, Err: err}
		}
		generated := []baginfo.Entry{
			{Tag: "Payload-Oxum", Value: oxum},
			{Tag: "Bagging-Date", Value: b.clock.Today().Format("2006-01-02")},
		}
		if err := b.writeTagFile("bag-info.txt", func(w io.Writer) error {
			return b.info.Serialize(bufio.NewWriter(w), generated)
		}); err != nil {
			return &Error{Kind: KindIO, File: "bag-info.txt", Err: err}
		}

		algos := make([]string, 0, len(b.tagManifests))
		for alg := range b.tagManifests {
			algos = append(algos, alg)
		}
		sort.Strings(algos)
		for _, alg := range algos {
			m := b.tagManifests[alg]
			name := m.FileName()
			if err := manifest.Compute(m, b.fs, b.tagLister(name)); err != nil {
				return &Error{Kind: KindIO, File: name, Err: err}
			}
			if err := b.writeTagFile(name, m.Serialize); err != nil {
				return &Error{Kind: KindIO, File: name, Err: err}
			}
		}
	} else {
		if err := b.fs.Delete("bag-info.txt"); err != nil {
			return &Error{Kind: KindIO, File: "bag-info.txt", Err: err}
		}
		b.tagManifests = make(map[string]*manifest.Manifest)
	}

	b.dirty = false
	return nil
}

// payloadOxum computes "<total-octets>.<total-files>" over every file
// currently under data/, per RFC 8493 §2.2.3. Open is used purely to
// get each file's size; the bytes themselves are not read again here
// since Compute already streamed them once per configured algorithm.
func (b *Bag) payloadOxum() (string, error) {
	paths, err := b.payloadLister()()
	if err != nil {
		return "", err
	}
	var bytesTotal int64
	for _, p := range paths {
		rc, size, err := b.fs.Open(p)
		if err != nil {
			return "", err
		}
		rc.Close()
		bytesTotal += size
	}
	return fmt.Sprintf("%d.%d", bytesTotal, len(paths)), nil
}
