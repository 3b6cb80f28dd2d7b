package store

import (
	"context"
	"fmt"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"time"

	"go.uber.org/zap"
	"golang.org/x/net/publicsuffix"
)

// Jar is an http.CookieJar whose cookies survive restarts. It keeps the backend's session
// cookie so a restarted daemon can restore the session without logging in again.
type Jar struct {
	jar    *cookiejar.Jar
	db     *DB
	logger *zap.Logger
	now    func() time.Time
}

// NewJar creates a jar backed by db and replays the persisted cookies into it.
func NewJar(ctx context.Context, db *DB, logger *zap.Logger) (*Jar, error) {
	inner, err := cookiejar.New(&cookiejar.Options{PublicSuffixList: publicsuffix.List})
	if err != nil {
		return nil, fmt.Errorf("failed to create cookie jar: %w", err)
	}

	j := &Jar{jar: inner, db: db, logger: logger, now: time.Now}

	rows, err := db.loadCookies(ctx, j.now())
	if err != nil {
		return nil, err
	}
	for _, row := range rows {
		u := &url.URL{Scheme: "http", Host: row.host, Path: row.path}
		if row.secure {
			u.Scheme = "https"
		}
		inner.SetCookies(u, []*http.Cookie{row.cookie()})
	}
	logger.Debug("Restored persisted cookies", zap.Int("count", len(rows)))
	return j, nil
}

// SetCookies stores the cookies in memory and on disk. Expired cookies are deleted.
func (j *Jar) SetCookies(u *url.URL, cookies []*http.Cookie) {
	j.jar.SetCookies(u, cookies)

	now := j.now()
	for _, c := range cookies {
		path := c.Path
		if path == "" {
			path = "/"
		}

		var err error
		if c.MaxAge < 0 || (!c.Expires.IsZero() && !c.Expires.After(now)) {
			err = j.db.deleteCookie(context.Background(), u.Host, c.Name, path)
		} else {
			err = j.db.saveCookie(context.Background(), rowFromCookie(u.Host, path, c, now))
		}
		if err != nil {
			j.logger.Warn("Failed to persist cookie", zap.String("name", c.Name), zap.Error(err))
		}
	}
}

func (j *Jar) Cookies(u *url.URL) []*http.Cookie {
	return j.jar.Cookies(u)
}

func rowFromCookie(host, path string, c *http.Cookie, now time.Time) cookieRow {
	var expires int64
	switch {
	case c.MaxAge > 0:
		expires = now.Add(time.Duration(c.MaxAge) * time.Second).Unix()
	case !c.Expires.IsZero():
		expires = c.Expires.Unix()
	}
	return cookieRow{
		host:     host,
		name:     c.Name,
		path:     path,
		value:    c.Value,
		domain:   c.Domain,
		expires:  expires,
		secure:   c.Secure,
		httpOnly: c.HttpOnly,
	}
}

func (r cookieRow) cookie() *http.Cookie {
	c := &http.Cookie{
		Name:     r.name,
		Value:    r.value,
		Path:     r.path,
		Domain:   r.domain,
		Secure:   r.secure,
		HttpOnly: r.httpOnly,
	}
	if r.expires > 0 {
		c.Expires = time.Unix(r.expires, 0)
	}
	return c
}
