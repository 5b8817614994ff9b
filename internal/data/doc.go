// Package data holds the typed values that flow through the apply pipeline:
// scalar values, row keys, list-of-struct parameters and result sets.
//
// Keys are the unit of deduplication. A batch of keys is shipped to the
// store as a single StructList parameter, encoded as a JSON array of
// objects, and the store expands it into a relation so that one statement
// answers the whole batch.
//
// data imports nothing internal.
package data
