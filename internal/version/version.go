package version

// Set with -ldflags "-X detbatch/internal/version.VERSION=... -X detbatch/internal/version.COMMIT=...".
var (
	VERSION = "dev"
	COMMIT  = "unknown"
)
