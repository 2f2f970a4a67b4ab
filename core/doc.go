// Package core holds the gateway domain: deliveries, processing records,
// admission decisions, the capability contracts that adapters implement, and
// the shared config and error envelope. Core must not depend on transport or
// storage adapters.
package core
