package marketplace

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/konozy/ordersync/internal/domain/integration"
)

const (
	signingAlgorithm = "AWS4-HMAC-SHA256"
	scopeTerminator  = "aws4_request"
	amzDateFormat    = "20060102T150405Z"
	shortDateFormat  = "20060102"

	headerAuthorization = "Authorization"
	headerAmzDate       = "X-Amz-Date"
	headerSecurityToken = "X-Amz-Security-Token"
	headerAccessToken   = "X-Amz-Access-Token"
)

// emptyPayloadHash is hex(SHA256("")).
const emptyPayloadHash = "e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855"

// ignoredHeaders are never part of the signature.
var ignoredHeaders = map[string]struct{}{
	"authorization":     {},
	"user-agent":        {},
	"x-amzn-trace-id":   {},
	"expect":            {},
	"transfer-encoding": {},
}

// SignedRequest is an immutable, fully signed HTTP request.
type SignedRequest struct {
	Method   string
	URL      string
	Header   http.Header
	Body     []byte
	SignedAt time.Time
}

// Age returns how long ago the request was signed.
func (r *SignedRequest) Age(now time.Time) time.Duration {
	return now.Sub(r.SignedAt)
}

// NewHTTPRequest builds a fresh *http.Request. Each call gets its own body
// reader and header copy so retries never share state.
func (r *SignedRequest) NewHTTPRequest(ctx context.Context) (*http.Request, error) {
	var body io.Reader
	if len(r.Body) > 0 {
		body = bytes.NewReader(r.Body)
	}
	req, err := http.NewRequestWithContext(ctx, r.Method, r.URL, body)
	if err != nil {
		return nil, err
	}
	req.Header = r.Header.Clone()
	return req, nil
}

// RequestSigner produces signature-v4 signed requests. It is pure: it does
// no I/O and reads no clock.
type RequestSigner struct{}

// NewRequestSigner creates a RequestSigner
func NewRequestSigner() *RequestSigner {
	return &RequestSigner{}
}

// Sign signs a request at the given timestamp.
func (s *RequestSigner) Sign(method, rawURL string, headers http.Header, body []byte, creds integration.Credentials, ts time.Time) (*SignedRequest, error) {
	if field := creds.MissingSigningField(); field != "" {
		return nil, &integration.SigningError{Reason: field + " is required"}
	}
	if ts.IsZero() {
		return nil, &integration.SigningError{Reason: "timestamp is required"}
	}
	if method == "" {
		return nil, &integration.SigningError{Reason: "method is required"}
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, &integration.SigningError{Reason: fmt.Sprintf("invalid url: %v", err)}
	}
	if u.Host == "" {
		return nil, &integration.SigningError{Reason: "url has no host"}
	}

	ts = ts.UTC()
	amzDate := ts.Format(amzDateFormat)
	shortDate := ts.Format(shortDateFormat)

	header := headers.Clone()
	if header == nil {
		header = http.Header{}
	}
	header.Del(headerAuthorization)
	header.Set(headerAmzDate, amzDate)
	if creds.SessionToken != "" {
		header.Set(headerSecurityToken, creds.SessionToken)
	}

	canonicalHeaders, signedHeaders := canonicalizeHeaders(header, u.Host)
	canonicalRequest := strings.Join([]string{
		strings.ToUpper(method),
		canonicalURI(u),
		canonicalQuery(u),
		canonicalHeaders,
		signedHeaders,
		payloadHash(body),
	}, "\n")

	scope := strings.Join([]string{shortDate, creds.Region, creds.Service, scopeTerminator}, "/")
	stringToSign := strings.Join([]string{
		signingAlgorithm,
		amzDate,
		scope,
		hashHex([]byte(canonicalRequest)),
	}, "\n")

	key := deriveSigningKey(creds.SecretAccessKey, shortDate, creds.Region, creds.Service)
	signature := hex.EncodeToString(hmacSHA256(key, []byte(stringToSign)))

	header.Set(headerAuthorization, fmt.Sprintf("%s Credential=%s/%s, SignedHeaders=%s, Signature=%s",
		signingAlgorithm, creds.AccessKeyID, scope, signedHeaders, signature))

	return &SignedRequest{
		Method:   strings.ToUpper(method),
		URL:      u.String(),
		Header:   header,
		Body:     append([]byte(nil), body...),
		SignedAt: ts,
	}, nil
}

// deriveSigningKey chains HMAC-SHA256 over date, region, service and the
// terminator, starting from "AWS4"+secret.
func deriveSigningKey(secret, shortDate, region, service string) []byte {
	kDate := hmacSHA256([]byte("AWS4"+secret), []byte(shortDate))
	kRegion := hmacSHA256(kDate, []byte(region))
	kService := hmacSHA256(kRegion, []byte(service))
	return hmacSHA256(kService, []byte(scopeTerminator))
}

func canonicalURI(u *url.URL) string {
	path := u.EscapedPath()
	if path == "" {
		return "/"
	}
	return escapePath(path)
}

// escapePath percent-encodes everything except unreserved characters and '/'.
func escapePath(path string) string {
	var b strings.Builder
	for i := 0; i < len(path); i++ {
		c := path[i]
		if isUnreserved(c) || c == '/' {
			b.WriteByte(c)
			continue
		}
		fmt.Fprintf(&b, "%%%02X", c)
	}
	return b.String()
}

func isUnreserved(c byte) bool {
	return 'A' <= c && c <= 'Z' || 'a' <= c && c <= 'z' || '0' <= c && c <= '9' ||
		c == '-' || c == '_' || c == '.' || c == '~'
}

func canonicalQuery(u *url.URL) string {
	query := u.Query()
	for k := range query {
		sort.Strings(query[k])
	}
	return strings.ReplaceAll(query.Encode(), "+", "%20")
}

// canonicalizeHeaders returns the canonical header block and the signed
// header list. host is always signed.
func canonicalizeHeaders(header http.Header, host string) (string, string) {
	values := map[string][]string{"host": {host}}
	for k, v := range header {
		name := strings.ToLower(k)
		if _, skip := ignoredHeaders[name]; skip || name == "host" {
			continue
		}
		values[name] = append(values[name], v...)
	}

	names := make([]string, 0, len(values))
	for name := range values {
		names = append(names, name)
	}
	sort.Strings(names)

	var b strings.Builder
	for _, name := range names {
		trimmed := make([]string, len(values[name]))
		for i, v := range values[name] {
			trimmed[i] = strings.Join(strings.Fields(v), " ")
		}
		b.WriteString(name)
		b.WriteByte(':')
		b.WriteString(strings.Join(trimmed, ","))
		b.WriteByte('\n')
	}
	return b.String(), strings.Join(names, ";")
}

func payloadHash(body []byte) string {
	if len(body) == 0 {
		return emptyPayloadHash
	}
	return hashHex(body)
}

func hashHex(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

func hmacSHA256(key, data []byte) []byte {
	mac := hmac.New(sha256.New, key)
	mac.Write(data)
	return mac.Sum(nil)
}
