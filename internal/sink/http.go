package sink

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"pkt.systems/pslog"
	"pkt.systems/scrollback/core"
	"pkt.systems/scrollback/schema"
)

// HTTPOpener uploads exports with a streaming PUT request.
type HTTPOpener struct {
	client *http.Client
}

var _ core.SinkOpener = (*HTTPOpener)(nil)

// NewHTTPOpener constructs an opener. A nil client uses http.DefaultClient.
func NewHTTPOpener(client *http.Client) *HTTPOpener {
	if client == nil {
		client = http.DefaultClient
	}
	return &HTTPOpener{client: client}
}

// Open implements core.SinkOpener.
func (o *HTTPOpener) Open(_ context.Context, dest schema.Destination) (core.Sink, error) {
	u, err := url.Parse(dest.URL)
	if err != nil || u.Host == "" {
		return nil, fmt.Errorf("%w: %s", schema.ErrInvalidDestination, dest.URL)
	}
	target := u.String()
	contentType := dest.Format.ContentType()
	return newPumpSink("http", transferFunc(func(ctx context.Context, src *Reader) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPut, target, src)
		if err != nil {
			return err
		}
		req.Header.Set("Content-Type", contentType)
		resp, err := o.client.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()
		_, _ = io.Copy(io.Discard, resp.Body)
		if resp.StatusCode < 200 || resp.StatusCode > 299 {
			return fmt.Errorf("upload rejected: %s", resp.Status)
		}
		pslog.Ctx(ctx).Info("export upload done", "url", u.Redacted(), "bytes", src.Total(), "status", resp.StatusCode)
		return nil
	})), nil
}
