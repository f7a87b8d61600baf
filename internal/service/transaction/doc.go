// Package transaction implements the all-or-nothing unit used by installs,
// updates and uninstalls.
//
// A Transaction moves from pending to applying and ends either committed or
// rolled back. Every Step registers its compensation before its action runs;
// on failure the compensations are unwound in reverse order.
package transaction
