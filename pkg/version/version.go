package version

// Version and GitCommit are set at build time via ldflags:
//
//	go build -ldflags "-X github.com/cranehovers/jetlinks-registry-redis/pkg/version.Version=v1.0.0 \
//	  -X github.com/cranehovers/jetlinks-registry-redis/pkg/version.GitCommit=abc1234"
var (
	Version   = "dev"
	GitCommit = "unknown"
)

// String returns the human-readable version string.
func String() string {
	return Version + " (" + GitCommit + ")"
}
