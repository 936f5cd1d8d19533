package domain

import (
	"fmt"
	"regexp"
	"strings"
)

// Document ids key artifact file names, chunk ids, and store filters, so the
// charset is restricted to path- and payload-safe characters.
var documentIDRegex = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._-]*$`)

const maxDocumentIDLength = 128

// ValidateRawDocument checks a RawDocument before it enters the pipeline.
func ValidateRawDocument(doc RawDocument) error {
	if doc.DocumentID == "" {
		return fmt.Errorf("validate: document_id is empty")
	}
	if len(doc.DocumentID) > maxDocumentIDLength {
		return fmt.Errorf("validate: document_id exceeds %d characters", maxDocumentIDLength)
	}
	if !documentIDRegex.MatchString(doc.DocumentID) {
		return fmt.Errorf("validate: document_id %q contains illegal characters", doc.DocumentID)
	}
	if strings.TrimSpace(doc.HTML) == "" {
		return fmt.Errorf("validate: html is empty")
	}
	return nil
}
