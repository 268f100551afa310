package valueobjects

import (
	"errors"
	"fmt"
	"net/url"
	"regexp"
	"strings"
)

const didPrefix = "did:wba:"

var (
	didPattern  = regexp.MustCompile(`^did:wba:[a-zA-Z0-9._:%-]+:[a-zA-Z0-9_-]+$`)
	namePattern = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)
)

// ErrInvalidDID is returned for identifiers that are not did:wba
var ErrInvalidDID = errors.New("invalid did:wba identifier")

// DID is a did:wba identifier of the form did:wba:<domain>:<name>.
// A port in the domain is percent-encoded as %3A.
type DID struct {
	value string
}

// NewDID builds a DID from a host (optionally host:port) and a node name
func NewDID(host, name string) (DID, error) {
	if host == "" {
		return DID{}, fmt.Errorf("%w: empty domain", ErrInvalidDID)
	}
	if !namePattern.MatchString(name) {
		return DID{}, fmt.Errorf("%w: name %q", ErrInvalidDID, name)
	}
	return ParseDID(didPrefix + EncodeDomain(host) + ":" + name)
}

// ParseDID validates and wraps a DID string
func ParseDID(s string) (DID, error) {
	if !didPattern.MatchString(s) {
		return DID{}, fmt.Errorf("%w: %q", ErrInvalidDID, s)
	}
	return DID{value: s}, nil
}

// MustParseDID panics on invalid input. Intended for tests and constants.
func MustParseDID(s string) DID {
	d, err := ParseDID(s)
	if err != nil {
		panic(err)
	}
	return d
}

// EncodeDomain percent-encodes the port separator of a host
func EncodeDomain(host string) string {
	return strings.ReplaceAll(host, ":", "%3A")
}

// String returns the full identifier
func (d DID) String() string {
	return d.value
}

// Domain returns the encoded domain segment
func (d DID) Domain() string {
	rest := strings.TrimPrefix(d.value, didPrefix)
	idx := strings.LastIndex(rest, ":")
	if idx < 0 {
		return ""
	}
	return rest[:idx]
}

// Host returns the decoded domain, including the port when present
func (d DID) Host() string {
	host, err := url.PathUnescape(d.Domain())
	if err != nil {
		return strings.ReplaceAll(d.Domain(), "%3A", ":")
	}
	return host
}

// Name returns the node name segment
func (d DID) Name() string {
	idx := strings.LastIndex(d.value, ":")
	if idx < 0 {
		return ""
	}
	return d.value[idx+1:]
}

// Handle returns the short display form @name
func (d DID) Handle() string {
	return "@" + d.Name()
}

// Scheme is http for loopback hosts and https everywhere else
func (d DID) Scheme() string {
	host := d.Host()
	if i := strings.LastIndex(host, ":"); i >= 0 {
		host = host[:i]
	}
	if host == "localhost" || host == "127.0.0.1" {
		return "http"
	}
	return "https"
}

// DocumentURL is where the identity document for this DID is published
func (d DID) DocumentURL() string {
	return fmt.Sprintf("%s://%s/.well-known/did.json", d.Scheme(), d.Host())
}

// MessageURL is the default inbound endpoint of the node owning this DID
func (d DID) MessageURL() string {
	return fmt.Sprintf("%s://%s/anp/message", d.Scheme(), d.Host())
}

// Equals checks if two DIDs are equal
func (d DID) Equals(other DID) bool {
	return d.value == other.value
}

// IsZero checks if the DID is the zero value
func (d DID) IsZero() bool {
	return d.value == ""
}

// MarshalJSON implements json.Marshaler
func (d DID) MarshalJSON() ([]byte, error) {
	return []byte(`"` + d.value + `"`), nil
}

// UnmarshalJSON implements json.Unmarshaler
func (d *DID) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		return nil
	}
	if len(data) < 2 || data[0] != '"' || data[len(data)-1] != '"' {
		return errors.New("DID must be a string")
	}
	parsed, err := ParseDID(string(data[1 : len(data)-1]))
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}
