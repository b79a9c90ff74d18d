// Package dedupe provides a time-bounded record of client nonces so that a
// retried message write resolves to the message the first attempt created.
package dedupe
