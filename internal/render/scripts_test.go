package render

import (
	"strings"
	"testing"
)

func TestWaitImagesScript_ScansDocumentForBackgrounds(t *testing.T) {
	if !strings.Contains(waitImagesScript, "|| document;") {
		t.Fatalf("background scan must fall back to the whole document")
	}
	if !strings.Contains(waitImagesScript, "root.querySelectorAll('*')") {
		t.Fatalf("background scan must walk the scan root")
	}
	if strings.Contains(waitImagesScript, "card.querySelectorAll('*')") {
		t.Fatalf("background scan must not be limited to the card")
	}
}
