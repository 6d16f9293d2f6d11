package version

// Version is overridden at build time with -ldflags "-X veil/version.Version=...".
var Version = "dev"
