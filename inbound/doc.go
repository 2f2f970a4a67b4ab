// Package inbound holds the deduplicating ledger and the typed event
// dispatcher that sit between signature verification and the handlers.
//
// The ledger is the only owner of ProcessingRecord state. Admit is atomic per
// delivery id; handler failures and timeouts stay retry-eligible while
// malformed payloads are terminal.
package inbound
