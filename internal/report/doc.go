// Package report turns ledger records into the end-of-run summary and the
// status view, both rendered as YAML.
package report
