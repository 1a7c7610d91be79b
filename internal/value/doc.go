// Package value implements the attribute value union of the management model
// on top of cty: strings, integers, booleans, lists and objects are plain
// cty values, and deferred expressions are a capsule type wrapping HCL
// template source that is resolved against the environment at the point of
// use rather than at write time.
package value
