// Package apuri classifies ActivityPub object identifiers as local or
// remote, relative to a configured local origin.
//
// Local identifiers have the path shape `/<type>/<id>[/<rest...>]`, eg
// `https://example.test/notes/abc123` or
// `https://example.test/notes/abc123/activity`. Any absolute URI under a
// different origin is remote. Parsing is pure: no I/O, no clock.
package apuri

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
)

// The identifier could not be parsed as an absolute URI, or a local
// identifier was missing its type or id path segments. This is the only
// error this package returns.
var ErrInvalidIdentifier = errors.New("invalid AP identifier")

// Path segment under which both notes and chat messages are addressed.
const TypeNotes = "notes"

// Path segment under which local actors are addressed.
const TypeUsers = "users"

// A local identifier, already split into its path components. Rest is nil
// when no segments remain after the id, never an empty string.
type LocalID struct {
	Type string
	ID   string
	Rest *string
}

// Two-variant sum: an identifier is either local (carrying a LocalID) or
// remote (carrying the normalized absolute URI). The zero value is neither
// and matches nothing.
type ParsedID struct {
	local *LocalID
	uri   string
}

func (p ParsedID) IsLocal() bool {
	return p.local != nil
}

// AsLocal returns the local components, or false for a remote identifier.
func (p ParsedID) AsLocal() (*LocalID, bool) {
	if p.local == nil {
		return nil, false
	}
	return p.local, true
}

// AsRemote returns the normalized absolute URI, or false for a local
// identifier and for the zero value.
func (p ParsedID) AsRemote() (string, bool) {
	if p.local != nil || p.uri == "" {
		return "", false
	}
	return p.uri, true
}

func (p ParsedID) String() string {
	return p.uri
}

// Parser classifies identifiers against a single local origin
// (scheme+authority). The zero value is not usable; construct with
// NewParser.
type Parser struct {
	origin *url.URL
}

// localOrigin is the scheme+authority this deployment considers itself,
// eg "https://example.test". Any path component is ignored.
func NewParser(localOrigin string) (*Parser, error) {
	u, err := url.Parse(localOrigin)
	if err != nil {
		return nil, fmt.Errorf("invalid local origin %q: %w", localOrigin, err)
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("local origin %q must be an absolute URL with scheme and host", localOrigin)
	}
	return &Parser{origin: u}, nil
}

func (p *Parser) LocalOrigin() string {
	return p.origin.Scheme + "://" + p.origin.Host
}

// Parse classifies a raw identifier string. Returns ErrInvalidIdentifier
// (wrapped) on anything that is not an absolute URI, or on a local URI
// whose path is missing the type or id segments.
func (p *Parser) Parse(raw string) (ParsedID, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return ParsedID{}, fmt.Errorf("%w: %s", ErrInvalidIdentifier, raw)
	}
	if u.Scheme == "" || u.Host == "" {
		return ParsedID{}, fmt.Errorf("%w: not an absolute URI: %s", ErrInvalidIdentifier, raw)
	}

	// scheme and host compare case-insensitively per RFC 3986
	if !strings.EqualFold(u.Scheme, p.origin.Scheme) || !strings.EqualFold(u.Host, p.origin.Host) {
		return ParsedID{uri: u.String()}, nil
	}

	segments := strings.Split(strings.TrimPrefix(u.Path, "/"), "/")
	if len(segments) < 2 || segments[0] == "" || segments[1] == "" {
		return ParsedID{}, fmt.Errorf("%w: local identifier missing type or id: %s", ErrInvalidIdentifier, raw)
	}
	local := LocalID{
		Type: segments[0],
		ID:   segments[1],
	}
	if rest := strings.Join(segments[2:], "/"); rest != "" {
		local.Rest = &rest
	}
	return ParsedID{local: &local, uri: u.String()}, nil
}

// ParseObject classifies an identifier carried either as a raw string or
// as a protocol object, using ExtractApID to pull out the identifier.
func (p *Parser) ParseObject(obj any) (ParsedID, error) {
	id, err := ExtractApID(obj)
	if err != nil {
		return ParsedID{}, err
	}
	return p.Parse(id)
}
