// Package process runs caller-supplied scripts and shell command lines under
// a hard wall-clock timeout.
//
// A script is written to a fresh temporary file, run with the configured
// interpreter, and the file is removed on every exit path. A command line is
// run through the configured shell. On timeout the whole process group is
// killed and ErrTimeout is returned. A non-zero exit is not an error: the raw
// exit code is reported in the Outcome.
//
// NewCodeBackend and NewShellBackend expose a Runner as the run_code and
// run_command tools.
package process
