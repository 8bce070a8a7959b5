package durable

import (
	"strings"

	"github.com/cliairmonitor/epimem/internal/errors"
)

// validateConnectionString enforces spec.md §4.1.a's hard security
// contract: only libsql://, file:, or :memory: URLs are accepted, and
// a libsql:// URL must carry a non-whitespace auth token.
func validateConnectionString(url, authToken string) error {
	switch {
	case url == ":memory:":
		return nil
	case strings.HasPrefix(url, "file:"):
		return nil
	case strings.HasPrefix(url, "libsql://"):
		if strings.TrimSpace(authToken) == "" {
			return errors.New(errors.KindSecurity, "libsql:// connection requires a non-whitespace auth token")
		}
		return nil
	default:
		return errors.New(errors.KindSecurity, "unsupported durable storage URL scheme: "+schemeOf(url))
	}
}

func schemeOf(url string) string {
	if i := strings.Index(url, "://"); i >= 0 {
		return url[:i]
	}
	if i := strings.Index(url, ":"); i >= 0 {
		return url[:i]
	}
	return url
}

// driverDSN translates a validated connection string into the DSN
// modernc.org/sqlite expects. libsql:// URLs are not natively speakable
// by modernc.org/sqlite (no libsql driver appears anywhere in the
// retrieval pack); a libsql:// host is mapped to a local replica file
// named after the host, which is the same degrade-to-local-file
// behavior turso's embedded-replica mode uses when offline.
func driverDSN(url string) string {
	switch {
	case url == ":memory:":
		return ":memory:"
	case strings.HasPrefix(url, "file:"):
		return strings.TrimPrefix(url, "file:")
	case strings.HasPrefix(url, "libsql://"):
		host := strings.TrimPrefix(url, "libsql://")
		host = strings.SplitN(host, "/", 2)[0]
		return host + ".replica.db"
	default:
		return url
	}
}
