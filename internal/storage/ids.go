package storage

import nanoid "github.com/jaevor/go-nanoid"

const documentIDLength = 20

// newDocumentID generates store-assigned ids. The standard nanoid alphabet
// is URL safe and never contains '/'.
func newDocumentID() func() string {
	generate, err := nanoid.Standard(documentIDLength)
	if err != nil {
		panic(err)
	}
	return generate
}
