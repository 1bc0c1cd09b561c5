// Package transform runs the pure derivation pipeline of a projection.
//
// A pipeline turns role members into output fields through ordered stages:
// extract, filter, order, compute, combine, and format. Stages see only
// the data handed to Run, so the same inputs always yield the same fields.
package transform
