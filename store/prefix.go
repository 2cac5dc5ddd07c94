package store

import (
	"io"
	"strings"
)

// NewPrefix wraps the store s by one which prefixes all its keys by
// prefix. This provides a way to namespace keys and share the same
// underlying store among several bags, e.g. rooting each bag's FileSystem
// store at a shared staging area.
func NewPrefix(s Store, prefix string) Store {
	return prefixstore{s: s, p: prefix}
}

type prefixstore struct {
	s Store  // the store being wrapped
	p string // the prefix to put in front of every key
}

func (ps prefixstore) List() ([]string, error) {
	all, err := ps.s.List()
	if err != nil {
		return nil, err
	}
	var result []string
	for _, key := range all {
		if strings.HasPrefix(key, ps.p) {
			result = append(result, strings.TrimPrefix(key, ps.p))
		}
	}
	return result, nil
}

func (ps prefixstore) ListPrefix(prefix string) ([]string, error) {
	matches, err := ps.s.ListPrefix(ps.p + prefix)
	if err != nil {
		return nil, err
	}
	for i := range matches {
		matches[i] = strings.TrimPrefix(matches[i], ps.p)
	}
	return matches, nil
}

func (ps prefixstore) Open(key string) (ReadAtCloser, int64, error) {
	return ps.s.Open(ps.p + key)
}

func (ps prefixstore) Create(key string) (io.WriteCloser, error) {
	return ps.s.Create(ps.p + key)
}

func (ps prefixstore) Delete(key string) error {
	return ps.s.Delete(ps.p + key)
}

func (ps prefixstore) Exists(key string) (bool, error) {
	return ps.s.Exists(ps.p + key)
}
