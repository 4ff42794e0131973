package app

// Version and Commit are overridden at build time via -ldflags.
var (
	Version = "dev"
	Commit  = "none"
)
