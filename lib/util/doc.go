// Package util provides small helpers shared by the storage packages.
//
// The package contains:
//   - functions: the FNV-1a hash used to place keys in the hash table
//   - statistics: summary statistics used to report how evenly keys are
//     spread over the table's slots
package util
