package fetch

import (
	"context"
	"fmt"
	"io"
	"net/http"
)

// HTTPDownloader is the default, non-test Downloader implementation. Add
// rejects any scheme other than HTTP/HTTPS before a Downloader is
// consulted; Parse only reports such entries as problems and keeps them,
// so DownloadAll still hands them to the Downloader, where net/http
// fails the request for a non-HTTP scheme. Swapping it for another Downloader is a one-line
// change at Bag construction (Bag.SetDownloader).
type HTTPDownloader struct {
	Client *http.Client
}

// NewHTTPDownloader returns an HTTPDownloader using http.DefaultClient.
func NewHTTPDownloader() *HTTPDownloader {
	return &HTTPDownloader{Client: http.DefaultClient}
}

// Fetch issues a GET for url and returns its body. If sizeHint is
// positive and the server declares a Content-Length, a mismatch is
// rejected immediately rather than left for the caller to discover
// after copying the whole body.
func (d *HTTPDownloader) Fetch(ctx context.Context, url string, sizeHint int64) (io.ReadCloser, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := d.Client.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, fmt.Errorf("fetch: %s: unexpected status %s", url, resp.Status)
	}
	if sizeHint > 0 && resp.ContentLength > 0 && resp.ContentLength != sizeHint {
		resp.Body.Close()
		return nil, fmt.Errorf("fetch: %s: server declares length %d, fetch.txt declares %d", url, resp.ContentLength, sizeHint)
	}
	return resp.Body, nil
}
