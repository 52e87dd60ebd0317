// Package subprotocol owns the negotiated WebSocket subprotocol identifier.
//
// Token grammar: <organization>.<project>.v<version>.<flavour>, for example
// "spacecoffee.blimp.v1.binary". Tokens are case-sensitive.
package subprotocol

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

const (
	Organization = "spacecoffee"
	Project      = "blimp"
	// Version is the protocol version produced by Default.
	Version uint16 = 1

	segmentCount = 4
)

var (
	ErrInvalidFormat       = errors.New("subprotocol: invalid format")
	ErrIncompatibleVersion = errors.New("subprotocol: incompatible version")
	ErrUnsupportedFlavour  = errors.New("subprotocol: unsupported flavour")
)

// Flavour is the wire serialization selected for a connection.
type Flavour uint8

const (
	FlavourBinary Flavour = iota + 1
	FlavourJSON
)

var supportedVersions = []uint16{1}

var flavoursByName = map[string]Flavour{
	"binary": FlavourBinary,
	"json":   FlavourJSON,
}

var flavourNames = map[Flavour]string{
	FlavourBinary: "binary",
	FlavourJSON:   "json",
}

func (f Flavour) String() string {
	if name, ok := flavourNames[f]; ok {
		return name
	}
	return fmt.Sprintf("flavour(%d)", uint8(f))
}

// ParseFlavour resolves a registered flavour name.
func ParseFlavour(name string) (Flavour, error) {
	f, ok := flavoursByName[name]
	if !ok {
		return 0, fmt.Errorf("%w: %q", ErrUnsupportedFlavour, name)
	}
	return f, nil
}

// Flavours returns registered flavours, binary first.
func Flavours() []Flavour {
	return []Flavour{FlavourBinary, FlavourJSON}
}

// SupportedVersions returns a copy of the accepted version set.
func SupportedVersions() []uint16 {
	out := make([]uint16, len(supportedVersions))
	copy(out, supportedVersions)
	return out
}

func versionSupported(v uint16) bool {
	for _, s := range supportedVersions {
		if s == v {
			return true
		}
	}
	return false
}

// Subprotocol is one {version, flavour} pair.
type Subprotocol struct {
	Version uint16
	Flavour Flavour
}

func Default() Subprotocol {
	return Subprotocol{Version: Version, Flavour: FlavourBinary}
}

// All returns every supported pair, newest version first and binary before json.
func All() []Subprotocol {
	out := make([]Subprotocol, 0, len(supportedVersions)*len(flavourNames))
	for i := len(supportedVersions) - 1; i >= 0; i-- {
		for _, f := range Flavours() {
			out = append(out, Subprotocol{Version: supportedVersions[i], Flavour: f})
		}
	}
	return out
}

func Parse(token string) (Subprotocol, error) {
	segments := strings.Split(token, ".")
	if len(segments) != segmentCount {
		return Subprotocol{}, fmt.Errorf("%w: %q has %d segments", ErrInvalidFormat, token, len(segments))
	}
	org, project, rawVersion, rawFlavour := segments[0], segments[1], segments[2], segments[3]
	if org != Organization || project != Project {
		return Subprotocol{}, fmt.Errorf("%w: unknown namespace %q", ErrInvalidFormat, org+"."+project)
	}
	version, err := parseVersion(rawVersion)
	if err != nil {
		return Subprotocol{}, err
	}
	if !versionSupported(version) {
		return Subprotocol{}, fmt.Errorf("%w: v%d", ErrIncompatibleVersion, version)
	}
	flavour, err := ParseFlavour(rawFlavour)
	if err != nil {
		return Subprotocol{}, err
	}
	return Subprotocol{Version: version, Flavour: flavour}, nil
}

func MustParse(token string) Subprotocol {
	sp, err := Parse(token)
	if err != nil {
		panic(err)
	}
	return sp
}

func parseVersion(raw string) (uint16, error) {
	digits, ok := strings.CutPrefix(raw, "v")
	if !ok || digits == "" {
		return 0, fmt.Errorf("%w: version segment %q", ErrInvalidFormat, raw)
	}
	for _, r := range digits {
		if r < '0' || r > '9' {
			return 0, fmt.Errorf("%w: version segment %q", ErrInvalidFormat, raw)
		}
	}
	v, err := strconv.ParseUint(digits, 10, 16)
	if err != nil {
		return 0, fmt.Errorf("%w: version segment %q", ErrInvalidFormat, raw)
	}
	return uint16(v), nil
}

// Validate checks an explicitly constructed value against the supported tables.
func (s Subprotocol) Validate() error {
	if !versionSupported(s.Version) {
		return fmt.Errorf("%w: v%d", ErrIncompatibleVersion, s.Version)
	}
	if _, ok := flavourNames[s.Flavour]; !ok {
		return fmt.Errorf("%w: %s", ErrUnsupportedFlavour, s.Flavour)
	}
	return nil
}

func (s Subprotocol) String() string {
	return fmt.Sprintf("%s.%s.v%d.%s", Organization, Project, s.Version, s.Flavour)
}

// Tokens formats values in order, for use as a client offer.
func Tokens(list []Subprotocol) []string {
	out := make([]string, 0, len(list))
	for _, sp := range list {
		out = append(out, sp.String())
	}
	return out
}
