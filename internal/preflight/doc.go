// Package preflight provides readiness checks for the storage, network,
// and hardware dependencies the pipeline relies on.
//
// These checks run in two contexts:
//   - The daemon calls RunAll at startup and logs every failure loudly
//     before the pipeline begins consuming work.
//   - The CLI "lifeline status" command shows individual check results
//     so an operator can see which dependency is unhealthy.
//
// Each check is gated by its config toggle -- disabled features are skipped.
package preflight
