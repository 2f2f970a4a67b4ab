// Package webhooks turns a raw HTTP delivery into a recorded outcome.
//
// A delivery moves Received -> Verified -> Admitted -> Dispatching and ends
// Succeeded, Failed or Ignored. Unauthorized deliveries stop at Received and
// never touch the ledger.
package webhooks
