package bagit

import (
	"context"

	"github.com/ndlib/bagit/fetch"
	"github.com/ndlib/bagit/manifest"
)

// manifestKind maps a manifest.Problem's Kind to the engine's error
// taxonomy, per spec.md §7: missing/extra/mismatched files are all
// Integrity findings at validation time.
func manifestKind(k manifest.Kind) ErrorKind {
	switch k {
	case manifest.KindParse:
		return KindParse
	case manifest.KindUnsupportedAlgo:
		return KindUnsupported
	default: // KindMissingFile, KindExtraFile, KindDigestMismatch
		return KindIntegrity
	}
}

// Validate ensures the bag is flushed to disk, downloads any pending
// fetch entries, validates every manifest against the filesystem, and
// aggregates the findings into Errors()/Warnings(). It returns true iff
// no errors were found.
func (b *Bag) Validate(ctx context.Context) (bool, error) {
	if b.dirty {
		if err := b.Update(); err != nil {
			return false, err
		}
		if err := b.reload(); err != nil {
			return false, err
		}
	}

	var errs []Problem
	errs = append(errs, b.errors...)

	for _, p := range fetch.DownloadAll(ctx, b.fetch, b.fs, b.downloader) {
		errs = append(errs, Problem{Kind: KindIO, File: p.Entry, Message: p.Error()})
	}

	for _, m := range b.payloadManifests {
		problems, err := manifest.Validate(m, b.fs, b.payloadLister())
		if err != nil {
			return false, &Error{Kind: KindIO, File: m.FileName(), Err: err}
		}
		for _, p := range problems {
			errs = append(errs, Problem{Kind: manifestKind(p.Kind), File: p.File, Message: p.Error()})
		}
	}

	if b.extended {
		for _, m := range b.tagManifests {
			problems, err := manifest.Validate(m, b.fs, b.tagLister(m.FileName()))
			if err != nil {
				return false, &Error{Kind: KindIO, File: m.FileName(), Err: err}
			}
			for _, p := range problems {
				errs = append(errs, Problem{Kind: manifestKind(p.Kind), File: p.File, Message: p.Error()})
			}
		}
	}

	b.errors = errs
	return len(b.errors) == 0, nil
}
