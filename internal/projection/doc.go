// Package projection defines the projection definition format.
//
// A definition is an ordinary structured resource in namespace
// "prism.projection". Loading one runs three checks: the embedded CUE
// meta schema, structural decoding, and semantic validation. Definitions
// may be authored as JSON, YAML, or CUE; all three are canonicalized
// before they are stored, so equivalent sources share a CID.
package projection
