package web

import (
	"io/fs"
	"strings"
	"testing"
)

func TestAssetsEmbedded(t *testing.T) {
	for _, name := range []string{"index.html", "app.js", "style.css"} {
		if _, err := fs.Stat(FS, name); err != nil {
			t.Errorf("%s: %v", name, err)
		}
	}
}

func TestHistoryTableOldestFirst(t *testing.T) {
	js, err := fs.ReadFile(FS, "app.js")
	if err != nil {
		t.Fatal(err)
	}
	src := string(js)
	if !strings.Contains(src, "historyBody.appendChild(row)") || strings.Contains(src, "historyBody.prepend(") {
		t.Error("new history rows must be appended after older ones")
	}
	if !strings.Contains(src, "historyBody.deleteRow(0)") {
		t.Error("trimming must drop the oldest row")
	}
}
