// Package transform rewrites operations and their results for peers that
// speak an older model version.
//
// A Table holds one Chain per supported older version. The chain registered
// under version V converts from the next newer version down to V, so
// converting to V applies every chain from the current version down to V,
// newest first. Transformers are pure functions of the operation they are
// given: the same operation and the same table always produce the same
// Outcome.
package transform
