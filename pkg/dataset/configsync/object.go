package configsync

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"

	"github.com/opst/importexec/pkg/buildtime"
)

// HeaderDigest is the header sent with the copy on publishing.
const HeaderDigest = "X-Importexec-Digest"

type objectRemote struct {
	client *http.Client
	url    string
	header http.Header
}

type ObjectOption func(*objectRemote) *objectRemote

// WithHeader adds headers to requests, for example, authorization.
func WithHeader(h http.Header) ObjectOption {
	return func(o *objectRemote) *objectRemote {
		o.header = h.Clone()
		return o
	}
}

// WithHTTPClient replaces the http client, which is http.DefaultClient by default.
func WithHTTPClient(c *http.Client) ObjectOption {
	return func(o *objectRemote) *objectRemote {
		o.client = c
		return o
	}
}

// Object returns a Remote storing the copy as an object in a bucket, reached by URL.
//
// Fetch is GET and Publish is PUT on the url.
func Object(url string, options ...ObjectOption) Remote {
	o := &objectRemote{client: http.DefaultClient, url: url, header: http.Header{}}
	for _, opt := range options {
		o = opt(o)
	}
	return o
}

func (o *objectRemote) Location() string {
	return o.url
}

func (o *objectRemote) request(ctx context.Context, method string, body []byte, extra http.Header) (*http.Response, error) {
	var r io.Reader
	if body != nil {
		r = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, o.url, r)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", buildtime.UserAgent())
	for _, h := range []http.Header{o.header, extra} {
		for k, vs := range h {
			for _, v := range vs {
				req.Header.Add(k, v)
			}
		}
	}
	return o.client.Do(req)
}

func (o *objectRemote) Fetch(ctx context.Context) ([]byte, error) {
	resp, err := o.request(ctx, http.MethodGet, nil, nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, fmt.Errorf("%w: %s", ErrRemoteMissing, o.url)
	}
	if resp.StatusCode < 200 || 300 <= resp.StatusCode {
		return nil, fmt.Errorf("configsync: GET %s: unexpected status %s", o.url, resp.Status)
	}
	return io.ReadAll(resp.Body)
}

func (o *objectRemote) Publish(ctx context.Context, content []byte, stamp Stamp) error {
	resp, err := o.request(ctx, http.MethodPut, content, http.Header{
		"Content-Type": {"application/json"},
		HeaderDigest:   {stamp.Digest},
	})
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || 300 <= resp.StatusCode {
		return fmt.Errorf("configsync: PUT %s: unexpected status %s", o.url, resp.Status)
	}
	return nil
}
