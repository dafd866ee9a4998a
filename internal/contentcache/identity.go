package contentcache

import (
	"net/url"
	"strings"
)

// VideoIdentity returns the YouTube video id in rawURL: the v query
// parameter on watch URLs, or the path id on youtu.be, /shorts/, /embed/
// and /live/ URLs. It returns "" when rawURL is not a recognizable video URL.
func VideoIdentity(rawURL string) string {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil || u.Host == "" {
		return ""
	}
	host := strings.TrimPrefix(strings.ToLower(u.Hostname()), "www.")
	segs := strings.Split(strings.Trim(u.Path, "/"), "/")

	switch host {
	case "youtu.be":
		return validID(segs[0])
	case "youtube.com", "m.youtube.com", "music.youtube.com", "youtube-nocookie.com":
		if u.Path == "/watch" {
			return validID(u.Query().Get("v"))
		}
		if len(segs) == 2 {
			switch segs[0] {
			case "shorts", "embed", "live", "v":
				return validID(segs[1])
			}
		}
	}
	return ""
}

// ContentIdentity returns the cache identity for the content at rawURL: the
// video id for YouTube videos, otherwise the URL without its fragment (so
// in-page anchors share one entry). It returns "" when rawURL cannot be
// parsed; callers must not cache in that case.
func ContentIdentity(rawURL string) string {
	if id := VideoIdentity(rawURL); id != "" {
		return id
	}
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return ""
	}
	switch strings.ToLower(u.Scheme) {
	case "http", "https":
		if u.Host == "" {
			return ""
		}
	case "file":
		if u.Path == "" {
			return ""
		}
	default:
		return ""
	}
	u.Fragment = ""
	u.RawFragment = ""
	u.Scheme = strings.ToLower(u.Scheme)
	u.Host = strings.ToLower(u.Host)
	return u.String()
}

// validID accepts the characters YouTube uses in video ids.
func validID(id string) string {
	if id == "" || len(id) > 64 {
		return ""
	}
	for _, r := range id {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
		default:
			return ""
		}
	}
	return id
}
