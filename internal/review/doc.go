// Package review assembles the read-side views of the knowledge pipeline:
// a PR with its changes, the ranked stakeholders, a per-stage trace and the
// communication and knowledge graphs.
//
// Every view is read inside a single unit of work so counts and rows agree
// with each other.
package review
