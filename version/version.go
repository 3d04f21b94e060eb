package version

var (
	// GitCommit is the current HEAD set using ldflags.
	GitCommit string

	// Version is the built softwares version.
	Version = AquariusSemVer
)

func init() {
	if GitCommit != "" {
		Version += "-" + GitCommit
	}
}

const (
	// Software is the name reported by the API root.
	Software = "Aquarius"

	// AquariusSemVer is the current version of aquarius.
	// It's the Semantic Version of the software.
	AquariusSemVer = "4.2.0"
)
