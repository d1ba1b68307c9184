// Package speech synthesizes MP3 audio through the Google Translate TTS
// endpoint.
package speech

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"
)

const (
	DefaultBaseURL  = "https://translate.google.com"
	DefaultLanguage = "en"

	// maxChunk is the longest text the endpoint accepts per request.
	maxChunk = 100
)

type Config struct {
	BaseURL  string
	Language string
	Timeout  time.Duration
}

type Client struct {
	cfg  Config
	http *http.Client
}

func New(cfg Config, httpClient *http.Client) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.Language == "" {
		cfg.Language = DefaultLanguage
	}
	if httpClient == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = 30 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}
	return &Client{cfg: cfg, http: httpClient}
}

// Synthesize returns MP3 audio for text. An empty lang uses the configured
// default. Parts are fetched in order and concatenated.
func (c *Client) Synthesize(ctx context.Context, text, lang string) ([]byte, error) {
	if lang == "" {
		lang = c.cfg.Language
	}
	chunks := Chunk(text, maxChunk)
	if len(chunks) == 0 {
		return nil, fmt.Errorf("speech: nothing to synthesize")
	}
	var out bytes.Buffer
	for i, ch := range chunks {
		if err := c.fetch(ctx, &out, ch, lang, i, len(chunks)); err != nil {
			return nil, fmt.Errorf("speech: part %d/%d: %w", i+1, len(chunks), err)
		}
	}
	return out.Bytes(), nil
}

func (c *Client) fetch(ctx context.Context, w io.Writer, text, lang string, idx, total int) error {
	q := url.Values{}
	q.Set("ie", "UTF-8")
	q.Set("q", text)
	q.Set("tl", lang)
	q.Set("client", "tw-ob")
	q.Set("total", strconv.Itoa(total))
	q.Set("idx", strconv.Itoa(idx))
	q.Set("textlen", strconv.Itoa(utf8.RuneCountInString(text)))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.cfg.BaseURL+"/translate_tts?"+q.Encode(), nil)
	if err != nil {
		return err
	}
	req.Header.Set("User-Agent", "Mozilla/5.0")
	req.Header.Set("Referer", c.cfg.BaseURL+"/")

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("HTTP %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	n, err := io.Copy(w, resp.Body)
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("empty audio response")
	}
	return nil
}

// Chunk splits text into pieces of at most limit runes, breaking on
// whitespace where possible. Words longer than limit are cut.
func Chunk(text string, limit int) []string {
	if limit <= 0 {
		limit = maxChunk
	}
	var out []string
	var cur []rune
	flush := func() {
		if s := strings.TrimSpace(string(cur)); s != "" {
			out = append(out, s)
		}
		cur = cur[:0]
	}
	for _, word := range strings.Fields(text) {
		rs := []rune(word)
		for len(rs) > limit {
			flush()
			out = append(out, string(rs[:limit]))
			rs = rs[limit:]
		}
		if len(rs) == 0 {
			continue
		}
		need := len(rs)
		if len(cur) > 0 {
			need++
		}
		if len(cur)+need > limit {
			flush()
		}
		if len(cur) > 0 {
			cur = append(cur, ' ')
		}
		cur = append(cur, rs...)
	}
	flush()
	return out
}
