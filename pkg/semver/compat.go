package semver

import (
	"fmt"

	masterminds "github.com/Masterminds/semver/v3"
)

const compatLogPrefix = "semver:compat"

// CheckParams holds parameters for Check.
type CheckParams struct {
	HostVersion string
	Client      *ClientRef // nil when the client did not identify itself
	Range       string     // SemVer range, major-only, or empty for "any"
}

// Compatibility is the outcome of a client/host version handshake.
type Compatibility struct {
	HostVersion   string `json:"hostVersion"`
	Client        string `json:"client,omitempty"`
	ClientVersion string `json:"clientVersion,omitempty"`
	Range         string `json:"range,omitempty"`
	Compatible    bool   `json:"compatible"`
	Reason        string `json:"reason,omitempty"`
}

// Check reports whether the client satisfies the host's range. A client
// without a version cannot be checked and is reported compatible.
func Check(params CheckParams) (*Compatibility, error) {
	host, err := masterminds.NewVersion(params.HostVersion)
	if err != nil {
		return nil, fmt.Errorf("%s - invalid host version %q: %w", compatLogPrefix, params.HostVersion, err)
	}

	out := &Compatibility{HostVersion: host.String(), Range: params.Range, Compatible: true}
	if params.Client == nil {
		return out, nil
	}
	out.Client = params.Client.Name
	out.ClientVersion = params.Client.Version

	switch {
	case params.Range == "":
	case params.Client.Version == "":
		out.Reason = "client version unknown"
	case !SatisfiesRange(params.Client.Version, params.Range):
		out.Compatible = false
		out.Reason = fmt.Sprintf("client %s does not satisfy %s", params.Client.Version, params.Range)
	}
	return out, nil
}

// SatisfiesRange checks if a version string satisfies a range.
func SatisfiesRange(version, rangeStr string) bool {
	sv, err := masterminds.NewVersion(version)
	if err != nil {
		return false
	}
	if IsMajorOnly(rangeStr) {
		return int(sv.Major()) == ExtractMajorFromRange(rangeStr)
	}

	constraint, err := masterminds.NewConstraint(rangeStr)
	if err != nil {
		return false
	}
	return constraint.Check(sv)
}
