// Package secrets redacts credentials from source content before it is
// sent to a language model or stored in a summary.
package secrets
