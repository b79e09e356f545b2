package model

// RootPackage is the package assigned to instrumented files outside the
// target package tree.
const RootPackage = "root"

// MethodRecord describes one instrumented method as listed in the manifest.
type MethodRecord struct {
	ID       string `json:"id"`
	FileName string `json:"file_name"`
	Package  string `json:"package"`
}

// CallRecord counts the calls observed for one method within a horizon.
type CallRecord struct {
	MethodID string `json:"method_id"`
	Count    int    `json:"count"`
	FileName string `json:"file_name"`
	Package  string `json:"package"`
}

// CoverageSnapshot is a point-in-time view of both coverage horizons.
// Percentages are nil when no methods are instrumented.
type CoverageSnapshot struct {
	Instrumented         int      `json:"instrumented"`
	EpisodeCalled        int      `json:"episode_called"`
	CumulativeCalled     int      `json:"cumulative_called"`
	EpisodePercentage    *float64 `json:"episode_percentage"`
	CumulativePercentage *float64 `json:"cumulative_percentage"`
	UncalledEpisode      []string `json:"uncalled_episode"`
	UncalledCumulative   []string `json:"uncalled_cumulative"`
}
