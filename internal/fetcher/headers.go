package fetcher

import (
	"net/http"
	"sync/atomic"
)

// Profile is one realistic browser header set. Sending a coherent set of
// browser headers avoids the cheapest class of bot detection; fields are
// rotated as a whole, never randomized individually.
type Profile struct {
	UserAgent      string
	Accept         string
	AcceptLanguage string
	Referer        string
	Origin         string
	SecChUa        string
	SecChUaMobile  string
}

// Apply sets the profile headers on the request.
func (p Profile) Apply(req *http.Request) {
	req.Header.Set("User-Agent", p.UserAgent)
	req.Header.Set("Accept", p.Accept)
	req.Header.Set("Accept-Language", p.AcceptLanguage)
	req.Header.Set("Accept-Encoding", "gzip, deflate, br")
	if p.Referer != "" {
		req.Header.Set("Referer", p.Referer)
	}
	if p.Origin != "" {
		req.Header.Set("Origin", p.Origin)
	}
	if p.SecChUa != "" {
		req.Header.Set("Sec-Ch-Ua", p.SecChUa)
		req.Header.Set("Sec-Ch-Ua-Mobile", p.SecChUaMobile)
	}
	req.Header.Set("Upgrade-Insecure-Requests", "1")
}

var defaultProfiles = []Profile{
	{
		UserAgent:      "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36",
		Accept:         "text/html,application/xhtml+xml,application/xml;q=0.9,image/avif,image/webp,*/*;q=0.8",
		AcceptLanguage: "en-US,en;q=0.9",
		SecChUa:        `"Chromium";v="124", "Google Chrome";v="124", "Not-A.Brand";v="99"`,
		SecChUaMobile:  "?0",
	},
	{
		UserAgent:      "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.4 Safari/605.1.15",
		Accept:         "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8",
		AcceptLanguage: "en-US,en;q=0.8",
	},
	{
		UserAgent:      "Mozilla/5.0 (X11; Linux x86_64; rv:125.0) Gecko/20100101 Firefox/125.0",
		Accept:         "text/html,application/xhtml+xml,application/xml;q=0.9,image/avif,image/webp,*/*;q=0.8",
		AcceptLanguage: "en-US,en;q=0.5",
	},
	{
		UserAgent:      "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/123.0.0.0 Safari/537.36 Edg/123.0.0.0",
		Accept:         "text/html,application/xhtml+xml,application/xml;q=0.9,image/webp,*/*;q=0.8",
		AcceptLanguage: "en-GB,en;q=0.9",
		SecChUa:        `"Chromium";v="123", "Microsoft Edge";v="123", "Not-A.Brand";v="99"`,
		SecChUaMobile:  "?0",
	},
}

// ProfilePool hands out header profiles round-robin.
type ProfilePool struct {
	profiles []Profile
	next     atomic.Uint64
}

// NewProfilePool returns a pool over the built-in profiles.
func NewProfilePool(profiles ...Profile) *ProfilePool {
	if len(profiles) == 0 {
		profiles = defaultProfiles
	}
	return &ProfilePool{profiles: profiles}
}

// Next returns the next profile in rotation.
func (p *ProfilePool) Next() Profile {
	n := p.next.Add(1) - 1
	return p.profiles[n%uint64(len(p.profiles))]
}
