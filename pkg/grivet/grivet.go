package grivet

import (
	"fmt"
)

const (
	// VersionMajor represents the current major version of Grivet.
	VersionMajor = 0
	// VersionMinor represents the current minor version of Grivet.
	VersionMinor = 3
	// VersionPatch represents the current patch version of Grivet.
	VersionPatch = 0
	// VersionTag represents a tag to be appended to the Grivet version string.
	// It must not contain spaces. If empty, no tag is appended to the version
	// string.
	VersionTag = "dev"
)

// Version provides a stringified version of the current Grivet version.
var Version string

func init() {
	// Compute the stringified version.
	if VersionTag != "" {
		Version = fmt.Sprintf("%d.%d.%d-%s", VersionMajor, VersionMinor, VersionPatch, VersionTag)
	} else {
		Version = fmt.Sprintf("%d.%d.%d", VersionMajor, VersionMinor, VersionPatch)
	}
}
