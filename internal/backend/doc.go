// Package backend is a reference implementation of the document service the
// session controller talks to. It stages uploads, serves the question
// catalog, validates answers with suggestions, proposes a destination and
// moves the file to a storage sink. It backs local development and the
// end-to-end tests.
package backend
