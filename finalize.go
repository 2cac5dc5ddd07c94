package bagit

// Finalize purges any payload files that were materialized locally by a
// fetch entry, leaving only the fetch.txt reference behind. Call it once
// a bag has been shipped somewhere the fetch entries can be resolved
// from again, to avoid holding two copies of fetched content.
func (b *Bag) Finalize() error {
	if err := b.fetch.Finalize(b.fs); err != nil {
		return &Error{Kind: KindIO, Err: err}
	}
	return nil
}
