// Package admission gates inbound updates per user.
//
// Steps, in order:
//   - flood control (minimum interval between accepted events)
//   - first-seen registration, announced once on the operational log sink
//   - ban enforcement, with automatic expiry after the ban duration in days
//   - daily-active date bookkeeping
package admission
