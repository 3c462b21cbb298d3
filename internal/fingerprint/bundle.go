// Package fingerprint swaps identifying request headers for canned, common
// values so a browser blends in with other clients.
package fingerprint

import (
	"math/rand/v2"
	"net/http"
	"sync"
)

var (
	userAgents = []string{
		"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/122.0.0.0 Safari/537.36",
		"Mozilla/5.0 (Windows NT 10.0; Win64; x64; rv:123.0) Gecko/20100101 Firefox/123.0",
		"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/122.0.0.0 Safari/537.36",
		"Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/122.0.0.0 Safari/537.36",
	}
	languages = []string{
		"en-US,en;q=0.9",
		"en-GB,en;q=0.9",
		"de-DE,de;q=0.9,en;q=0.8",
		"fr-FR,fr;q=0.9,en;q=0.8",
		"es-ES,es;q=0.9,en;q=0.8",
		"ja-JP,ja;q=0.9,en;q=0.8",
		"zh-CN,zh;q=0.9,en;q=0.8",
	}
	encodings = []string{
		"gzip, deflate, br",
		"gzip, deflate",
		"br, gzip, deflate",
	}
	platforms = []string{
		"Windows NT 10.0; Win64; x64",
		"Windows NT 11.0; Win64; x64",
		"Macintosh; Intel Mac OS X 10_15_7",
		"X11; Linux x86_64",
		"X11; Ubuntu; Linux x86_64",
	}
	// Empty means the header is removed.
	dntValues = []string{"1", "0", ""}
)

type Bundle struct {
	UserAgent      string `json:"user_agent"`
	AcceptLanguage string `json:"accept_language"`
	AcceptEncoding string `json:"accept_encoding"`
	Platform       string `json:"platform"`
	DNT            string `json:"dnt,omitempty"`
}

// Fallback is a fixed, common bundle.
var Fallback = Bundle{
	UserAgent:      userAgents[0],
	AcceptLanguage: languages[0],
	AcceptEncoding: encodings[0],
	Platform:       platforms[0],
	DNT:            "1",
}

// Apply overwrites the identifying headers in h.
func (b Bundle) Apply(h http.Header) {
	h.Set("User-Agent", b.UserAgent)
	h.Set("Accept-Language", b.AcceptLanguage)
	h.Set("Accept-Encoding", b.AcceptEncoding)
	h.Set("Sec-Ch-Ua-Platform", `"`+b.Platform+`"`)
	if b.DNT == "" {
		h.Del("DNT")
	} else {
		h.Set("DNT", b.DNT)
	}
}

// Rotator hands out the current bundle and replaces it every n requests.
type Rotator struct {
	mu        sync.Mutex
	rng       *rand.Rand
	every     uint32
	served    uint32
	rotations uint64
	current   Bundle
}

// NewRotator rotates every n requests; n == 0 rotates on every request.
func NewRotator(n uint32) *Rotator {
	return newRotator(n, rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64())))
}

func newRotator(n uint32, rng *rand.Rand) *Rotator {
	r := &Rotator{rng: rng, every: n}
	r.current = r.generate()
	return r
}

func (r *Rotator) Next() Bundle {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.served > 0 && (r.every == 0 || r.served%r.every == 0) {
		r.current = r.generate()
		r.rotations++
	}
	r.served++
	return r.current
}

func (r *Rotator) Rotations() uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.rotations
}

func (r *Rotator) generate() Bundle {
	return Bundle{
		UserAgent:      pick(r.rng, userAgents),
		AcceptLanguage: pick(r.rng, languages),
		AcceptEncoding: pick(r.rng, encodings),
		Platform:       pick(r.rng, platforms),
		DNT:            pick(r.rng, dntValues),
	}
}

func pick(rng *rand.Rand, values []string) string {
	return values[rng.IntN(len(values))]
}
