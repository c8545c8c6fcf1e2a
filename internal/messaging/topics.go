package messaging

// Topic constants for the pool statistics messaging system
const (
	// Ingest topics
	TopicShares        = "stats.shares"         // stratum frontends → statsengined (HOT PATH)
	TopicStatusReports = "stats.status_reports" // rig agents → statsengined
	TopicRoundEvents   = "stats.round_events"   // chain watcher → statsengined

	// Publish topics
	TopicSnapshots = "stats.snapshots" // statsengined → apiserver
)
