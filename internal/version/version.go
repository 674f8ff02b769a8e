package version

// Version is the current meshcall version, overridden at build time via
// -ldflags "-X github.com/amigotalk/meshcall/internal/version.Version=...".
var Version = "dev"
