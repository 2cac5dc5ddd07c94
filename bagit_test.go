package bagit

import (
	"context"
	"crypto/sha512"
	"encoding/hex"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/ndlib/bagit/fetch"
	"github.com/ndlib/bagit/store"
)

var fixedDate = FixedClock{Instant: time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)}

func newTestBag(t *testing.T) (*Bag, store.Store) {
	t.Helper()
	fs := store.NewMemory()
	b := Create2(t, fs)
	return b, fs
}

// Create2 is a thin wrapper so the tests below don't need to
// check Create's error every time; Create never actually fails against
// a fresh Memory store.
func Create2(t *testing.T, fs store.Store) *Bag {
	t.Helper()
	b, err := Create("test-bag", fs)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	b.SetClock(fixedDate)
	return b
}

func mustAdd(t *testing.T, b *Bag, dest, content string) {
	t.Helper()
	if err := b.AddFileReader(strings.NewReader(content), dest); err != nil {
		t.Fatalf("AddFileReader(%s): %v", dest, err)
	}
}

// TestMinimalBag covers scenario S1: a freshly created bag with one
// payload file, updated and validated, should have no errors and the
// default sha512 manifest.
func TestMinimalBag(t *testing.T) {
	b, _ := newTestBag(t)
	mustAdd(t, b, "readme.txt", "abc")

	if err := b.Update(); err != nil {
		t.Fatalf("Update: %v", err)
	}
	ctx := context.Background()
	ok, err := b.Validate(ctx)
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if !ok {
		t.Fatalf("expected a clean bag, got errors: %v", b.Errors())
	}
	if got := b.Algorithms(); len(got) != 1 || got[0] != "sha512" {
		t.Errorf("Algorithms() = %v, want [sha512]", got)
	}
	if got := b.PayloadFiles(); len(got) != 1 || got[0] != "data/readme.txt" {
		t.Errorf("PayloadFiles() = %v, want [data/readme.txt]", got)
	}
}

// TestAlgorithmSwap covers scenario S2: SetAlgorithm replaces the
// manifest set entirely, and the old manifest file is pruned on Update.
func TestAlgorithmSwap(t *testing.T) {
	b, fs := newTestBag(t)
	mustAdd(t, b, "readme.txt", "abc")
	if err := b.Update(); err != nil {
		t.Fatalf("Update: %v", err)
	}
	if exists, _ := fs.Exists("manifest-sha512.txt"); !exists {
		t.Fatalf("expected manifest-sha512.txt to exist after first Update")
	}

	if err := b.SetAlgorithm("sha256"); err != nil {
		t.Fatalf("SetAlgorithm: %v", err)
	}
	if err := b.Update(); err != nil {
		t.Fatalf("Update: %v", err)
	}

	if exists, _ := fs.Exists("manifest-sha512.txt"); exists {
		t.Errorf("expected manifest-sha512.txt to be pruned after SetAlgorithm")
	}
	if exists, _ := fs.Exists("manifest-sha256.txt"); !exists {
		t.Errorf("expected manifest-sha256.txt to exist after SetAlgorithm")
	}
}

// TestExtendedBagGeneratesPayloadOxum covers scenario S3: an extended
// bag computes Payload-Oxum and Bagging-Date, and writes tag manifests
// that also cover bag-info.txt and each other (but never themselves).
func TestExtendedBagGeneratesPayloadOxum(t *testing.T) {
	b, fs := newTestBag(t)
	mustAdd(t, b, "a.txt", "abc")
	mustAdd(t, b, "sub/b.txt", "de")
	b.SetExtended(true)
	if err := b.SetBagInfoTag("Source-Organization", "Test U."); err != nil {
		t.Fatalf("SetBagInfoTag: %v", err)
	}

	if err := b.Update(); err != nil {
		t.Fatalf("Update: %v", err)
	}

	rc, size, err := fs.Open("bag-info.txt")
	if err != nil {
		t.Fatalf("Open bag-info.txt: %v", err)
	}
	body := make([]byte, size)
	if _, err := io.ReadFull(io.NewSectionReader(rc, 0, size), body); err != nil {
		t.Fatalf("read bag-info.txt: %v", err)
	}
	rc.Close()
	text := string(body)
	if !strings.Contains(text, "Payload-Oxum: 5.2") {
		t.Errorf("bag-info.txt = %q, want it to contain Payload-Oxum: 5.2", text)
	}
	if !strings.Contains(text, "Bagging-Date: 2024-03-01") {
		t.Errorf("bag-info.txt = %q, want it to contain Bagging-Date: 2024-03-01", text)
	}

	if exists, _ := fs.Exists("tagmanifest-sha512.txt"); !exists {
		t.Errorf("expected tagmanifest-sha512.txt to exist for an extended bag")
	}

	ctx := context.Background()
	ok, err := b.Validate(ctx)
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if !ok {
		t.Fatalf("expected a clean extended bag, got errors: %v", b.Errors())
	}
}

// TestValidateDetectsMissingFile covers scenario S4: deleting a payload
// file behind the bag's back should surface as an Integrity error on
// the next Validate.
func TestValidateDetectsMissingFile(t *testing.T) {
	b, fs := newTestBag(t)
	mustAdd(t, b, "a.txt", "abc")
	if err := b.Update(); err != nil {
		t.Fatalf("Update: %v", err)
	}

	if err := fs.Delete("data/a.txt"); err != nil {
		t.Fatalf("Delete: %v", err)
	}

	ctx := context.Background()
	ok, err := b.Validate(ctx)
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if ok {
		t.Fatalf("expected Validate to fail after a payload file went missing")
	}
	found := false
	for _, p := range b.Errors() {
		if p.Kind == KindIntegrity {
			found = true
		}
	}
	if !found {
		t.Errorf("Errors() = %v, want an Integrity problem", b.Errors())
	}
}

// TestBaggingDateRepeatIsWarningNotError covers scenario S5: a bag-info
// that repeats Bagging-Date (a ShouldNotRepeat tag) is recorded as a
// warning, not an error, on Load.
func TestBaggingDateRepeatIsWarningNotError(t *testing.T) {
	fs := store.NewMemory()
	w, _ := fs.Create("bagit.txt")
	io.WriteString(w, "BagIt-Version: 1.0\nTag-File-Character-Encoding: UTF-8\n")
	w.Close()

	w, _ = fs.Create("data/a.txt")
	io.WriteString(w, "abc")
	w.Close()

	w, _ = fs.Create("manifest-sha512.txt")
	io.WriteString(w, sha512Line("abc")+"  data/a.txt\n")
	w.Close()

	w, _ = fs.Create("bag-info.txt")
	io.WriteString(w, "Bagging-Date: 2024-01-01\nBagging-Date: 2024-01-02\n")
	w.Close()

	b, err := Load("test-bag", fs)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(b.Errors()) != 0 {
		t.Errorf("Errors() = %v, want none (repeated Bagging-Date is a warning)", b.Errors())
	}
	if len(b.Warnings()) == 0 {
		t.Errorf("Warnings() is empty, want a repeated-Bagging-Date warning")
	}
}

// TestReservedNameRejected covers scenario S6: Windows device names are
// rejected as payload destinations regardless of extension.
func TestReservedNameRejected(t *testing.T) {
	b, _ := newTestBag(t)
	err := b.AddFileReader(strings.NewReader("x"), "CON.txt")
	if err == nil {
		t.Fatalf("expected AddFileReader to reject a reserved name")
	}
	var berr *Error
	if !errors.As(err, &berr) || berr.Kind != KindPolicy {
		t.Errorf("err = %v, want a KindPolicy *Error", err)
	}
}

func TestRemoveAlgorithmRejectsLast(t *testing.T) {
	b, _ := newTestBag(t)
	err := b.RemoveAlgorithm("sha512")
	if err == nil {
		t.Fatalf("expected RemoveAlgorithm to refuse removing the last algorithm")
	}
}

func TestAddFetchAndFinalize(t *testing.T) {
	b, fs := newTestBag(t)
	dl := &fakeDownloader{content: map[string][]byte{
		"http://example.org/big.tif": []byte("remote-bytes"),
	}}
	b.SetDownloader(dl)

	ctx := context.Background()
	if err := b.AddFetch(ctx, "http://example.org/big.tif", "big.tif", 12); err != nil {
		t.Fatalf("AddFetch: %v", err)
	}
	if exists, _ := fs.Exists("data/big.tif"); !exists {
		t.Fatalf("expected AddFetch to materialize data/big.tif")
	}

	if err := b.Update(); err != nil {
		t.Fatalf("Update: %v", err)
	}
	if exists, _ := fs.Exists("fetch.txt"); !exists {
		t.Errorf("expected fetch.txt to be written once a fetch entry exists")
	}

	if err := b.Finalize(); err != nil {
		t.Fatalf("Finalize: %v", err)
	}
	if exists, _ := fs.Exists("data/big.tif"); exists {
		t.Errorf("expected Finalize to remove the materialized fetch payload")
	}
}

// TestRemoveFilePrunesEmptyDirectories covers spec.md section 8
// invariant 3: removing the last payload file under a directory prunes
// that directory (and any now-empty ancestors up to data/), and the
// next Update no longer lists the removed path in the manifest.
func TestRemoveFilePrunesEmptyDirectories(t *testing.T) {
	root := t.TempDir()
	fs := store.NewFileSystem(root)
	b := Create2(t, fs)
	mustAdd(t, b, "sub/dir/leaf.txt", "hello")

	if err := b.Update(); err != nil {
		t.Fatalf("Update: %v", err)
	}
	if got := b.PayloadFiles(); len(got) != 1 || got[0] != "data/sub/dir/leaf.txt" {
		t.Fatalf("PayloadFiles() = %v, want [data/sub/dir/leaf.txt]", got)
	}

	if err := b.RemoveFile("sub/dir/leaf.txt"); err != nil {
		t.Fatalf("RemoveFile: %v", err)
	}
	if err := b.Update(); err != nil {
		t.Fatalf("Update after RemoveFile: %v", err)
	}

	if got := b.PayloadFiles(); len(got) != 0 {
		t.Errorf("PayloadFiles() = %v, want none after RemoveFile", got)
	}

	if _, err := os.Stat(filepath.Join(root, "data", "sub")); !os.IsNotExist(err) {
		t.Errorf("expected data/sub to be pruned, stat err = %v", err)
	}
	if _, err := os.Stat(filepath.Join(root, "data")); err != nil {
		t.Errorf("expected data/ itself to survive pruning, stat err = %v", err)
	}
}

type fakeDownloader struct {
	content map[string][]byte
}

func (d *fakeDownloader) Fetch(ctx context.Context, url string, sizeHint int64) (io.ReadCloser, error) {
	b, ok := d.content[url]
	if !ok {
		return nil, fetch.ErrUnsupportedScheme
	}
	return io.NopCloser(strings.NewReader(string(b))), nil
}

// sha512Line returns the lowercase hex sha512 digest of s, so the
// fixture manifest in TestBaggingDateRepeatIsWarningNotError matches
// data/a.txt's real bytes.
func sha512Line(s string) string {
	sum := sha512.Sum512([]byte(s))
	return hex.EncodeToString(sum[:])
}
