package web

import (
	"io/fs"
	"strings"
	"testing"
)

func TestAssetsServeCanvas(t *testing.T) {
	assets, err := Assets()
	if err != nil {
		t.Fatalf("Assets() failed: %v", err)
	}

	index, err := fs.ReadFile(assets, "index.html")
	if err != nil {
		t.Fatalf("index.html missing: %v", err)
	}
	for _, want := range []string{"/v1/graph/stream", "All connected edges will be deleted too"} {
		if !strings.Contains(string(index), want) {
			t.Errorf("index.html should reference %q", want)
		}
	}
}

// Labels and ids are user data, so the canvas must never feed them to the HTML parser.
func TestCanvasBuildsElementsWithoutMarkup(t *testing.T) {
	assets, err := Assets()
	if err != nil {
		t.Fatalf("Assets() failed: %v", err)
	}
	index, err := fs.ReadFile(assets, "index.html")
	if err != nil {
		t.Fatalf("index.html missing: %v", err)
	}

	page := string(index)
	for _, sink := range []string{"innerHTML", "outerHTML", "insertAdjacentHTML", "document.write"} {
		if strings.Contains(page, sink) {
			t.Errorf("index.html uses %s", sink)
		}
	}
	for _, want := range []string{"textContent", "setAttribute", "encodeURIComponent"} {
		if !strings.Contains(page, want) {
			t.Errorf("index.html should use %s", want)
		}
	}
}
