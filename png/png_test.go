package png

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
)

func TestWriteBytesToFile(t *testing.T) {

	content := "https://verify.tra.go.tz/C2A6AA6_140709"
	data, err := Encode(content, 0)
	if err != nil {
		t.Fatalf("failed to generate QR code: %v", err)
	}

	if !bytes.HasPrefix(data, []byte("\x89PNG")) {
		t.Fatalf("not a PNG")
	}

	err = os.WriteFile(filepath.Join(t.TempDir(), "test-output.png"), data, 0644)
	if err != nil {
		t.Fatalf("failed to write file: %v", err)
	}
}

func TestRenderer(t *testing.T) {

	data, err := Renderer{Size: 128}.Render("C2A6AA6_140709")
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	if len(data) == 0 {
		t.Fatalf("empty image")
	}
}
