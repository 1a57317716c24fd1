package version

// version is set at build time via ldflags.
var version = "development"

// ApksigndVersion returns the service version.
func ApksigndVersion() string {
	return version
}
