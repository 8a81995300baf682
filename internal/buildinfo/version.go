package buildinfo

// version is overridden at build time via
// -ldflags "-X github.com/taskops/shiplift/internal/buildinfo.version=v1.2.3".
var version = "dev"

// Version returns the build version of the running binary.
func Version() string {
	return version
}
