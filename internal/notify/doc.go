// Package notify holds the domain vocabulary shared by the regulation
// engines and the routing orchestrator.
//
// A Message is fanned out into execution Units, one per (contact, channel).
// Every Unit carries a Signature identifying "the same kind of notification
// to the same person"; the suppression and digest engines group on it.
//
// # Regulation order
//
// Regulations form a total order, Allow < Suppress < Digest < DigestAndSuppress.
// The effective regulation of a unit is the maximum of what the message asks
// for and what the recipient's time-severity policy decides (MaxRegulation).
package notify
