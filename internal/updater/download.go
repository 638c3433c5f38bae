package updater

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
)

// download streams url into dst
// Any failure, including a non-200 status or a short body, wraps ErrTransfer
func download(ctx context.Context, client *http.Client, rawURL, dst string) (int64, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return 0, fmt.Errorf("%w: %w", ErrTransfer, err)
	}
	req.Header.Set("User-Agent", "geolookup-updater/1.0")

	resp, err := client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("%w: %s", ErrTransfer, redactError(err))
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("%w: unexpected status %d", ErrTransfer, resp.StatusCode)
	}

	out, err := os.Create(dst)
	if err != nil {
		return 0, fmt.Errorf("%w: failed to create scratch file: %w", ErrTransfer, err)
	}

	n, err := io.Copy(out, resp.Body)
	if cerr := out.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return n, fmt.Errorf("%w: failed to write archive: %w", ErrTransfer, err)
	}
	if resp.ContentLength >= 0 && n != resp.ContentLength {
		return n, fmt.Errorf("%w: truncated body (%d of %d bytes)", ErrTransfer, n, resp.ContentLength)
	}
	return n, nil
}

// RedactURL hides credentials in a source URL before it is logged
func RedactURL(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "<invalid url>"
	}
	if u.User != nil {
		u.User = url.User("REDACTED")
	}
	q := u.Query()
	for _, key := range []string{"license_key", "token", "key"} {
		if q.Has(key) {
			q.Set(key, "REDACTED")
		}
	}
	u.RawQuery = q.Encode()
	return u.String()
}

// redactError strips the request URL (and its license key) from client errors
func redactError(err error) string {
	if uerr, ok := err.(*url.Error); ok {
		return fmt.Sprintf("%s %s: %v", uerr.Op, RedactURL(uerr.URL), uerr.Err)
	}
	return err.Error()
}
