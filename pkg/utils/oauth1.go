package utils

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha1"
	"encoding/base64"
	"fmt"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"
)

// OAuth1 holds the four secrets needed to sign an OAuth 1.0a request with HMAC-SHA1.
type OAuth1 struct {
	ConsumerKey    string
	ConsumerSecret string
	Token          string
	TokenSecret    string
}

// Authorize returns the Authorization header value for a request. params are
// the query and form parameters that travel with the request; multipart and
// JSON bodies are not part of the signature.
func (o OAuth1) Authorize(method, rawURL string, params url.Values) (string, error) {
	nonce, err := Nonce()
	if err != nil {
		return "", err
	}
	return o.header(method, rawURL, params, nonce, time.Now().Unix())
}

func (o OAuth1) header(method, rawURL string, params url.Values, nonce string, timestamp int64) (string, error) {
	oauthParams := map[string]string{
		"oauth_consumer_key":     o.ConsumerKey,
		"oauth_nonce":            nonce,
		"oauth_signature_method": "HMAC-SHA1",
		"oauth_timestamp":        strconv.FormatInt(timestamp, 10),
		"oauth_token":            o.Token,
		"oauth_version":          "1.0",
	}

	signature, err := o.Signature(method, rawURL, params, oauthParams)
	if err != nil {
		return "", err
	}
	oauthParams["oauth_signature"] = signature

	keys := make([]string, 0, len(oauthParams))
	for k := range oauthParams {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf(`%s="%s"`, PercentEncode(k), PercentEncode(oauthParams[k])))
	}
	return "OAuth " + strings.Join(parts, ", "), nil
}

// Signature computes base64(HMAC-SHA1(consumerSecret&tokenSecret, METHOD&url&params)).
func (o OAuth1) Signature(method, rawURL string, params url.Values, oauthParams map[string]string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", err
	}

	all := url.Values{}
	for k, vs := range u.Query() {
		all[k] = append(all[k], vs...)
	}
	for k, vs := range params {
		all[k] = append(all[k], vs...)
	}
	for k, v := range oauthParams {
		all.Set(k, v)
	}

	type pair struct{ k, v string }
	pairs := make([]pair, 0, len(all))
	for k, vs := range all {
		for _, v := range vs {
			pairs = append(pairs, pair{PercentEncode(k), PercentEncode(v)})
		}
	}
	sort.Slice(pairs, func(i, j int) bool {
		if pairs[i].k == pairs[j].k {
			return pairs[i].v < pairs[j].v
		}
		return pairs[i].k < pairs[j].k
	})

	encoded := make([]string, len(pairs))
	for i, p := range pairs {
		encoded[i] = p.k + "=" + p.v
	}

	baseURL := strings.ToLower(u.Scheme) + "://" + strings.ToLower(u.Host) + u.EscapedPath()
	base := strings.ToUpper(method) + "&" + PercentEncode(baseURL) + "&" + PercentEncode(strings.Join(encoded, "&"))

	key := PercentEncode(o.ConsumerSecret) + "&" + PercentEncode(o.TokenSecret)
	mac := hmac.New(sha1.New, []byte(key))
	mac.Write([]byte(base))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil)), nil
}

// Nonce is 32 random bytes, base64 encoded with every non alphanumeric dropped.
func Nonce() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return strings.Map(func(r rune) rune {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') {
			return r
		}
		return -1
	}, base64.StdEncoding.EncodeToString(b)), nil
}

// PercentEncode escapes everything outside the RFC 3986 unreserved set.
func PercentEncode(s string) string {
	var sb strings.Builder
	for i := 0; i < len(s); i++ {
		c := s[i]
		if (c >= 'A' && c <= 'Z') || (c >= 'a' && c <= 'z') || (c >= '0' && c <= '9') ||
			c == '-' || c == '.' || c == '_' || c == '~' {
			sb.WriteByte(c)
			continue
		}
		fmt.Fprintf(&sb, "%%%02X", c)
	}
	return sb.String()
}
