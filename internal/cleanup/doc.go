// Package cleanup removes the intermediate artifacts a run leaves behind.
//
// Manager handles the files of the current run once the pipeline exits.
// CleanStale sweeps run directories that earlier runs kept, either because
// cleanup was disabled, artifacts were preserved after a failure, or the
// process died. Directories whose lock is still held are left alone.
package cleanup
