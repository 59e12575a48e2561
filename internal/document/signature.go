package document

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"

	"github.com/joseph-ayodele/nfse-extractor/internal/common"
)

// Signature is the marker every PDF starts with.
var Signature = []byte("%PDF-")

// CheckSignature fails with a *common.DocumentError unless doc starts with %PDF-.
func CheckSignature(doc []byte) error {
	if len(doc) == 0 {
		return common.NewDocumentError("empty document", nil)
	}
	if !bytes.HasPrefix(doc, Signature) {
		return common.NewDocumentError("missing %PDF- signature", nil)
	}
	return nil
}

// ContentHash is the cache identity of a document: lowercase hex SHA-256.
func ContentHash(doc []byte) string {
	sum := sha256.Sum256(doc)
	return hex.EncodeToString(sum[:])
}
