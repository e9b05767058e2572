package audio_test

import (
	"go/parser"
	"go/token"
	"path/filepath"
	"strconv"
	"strings"
	"testing"

	"github.com/MrWong99/hearken/pkg/audio"
)

func TestSourceConfig_CaptureRate(t *testing.T) {
	tests := []struct {
		name string
		cfg  audio.SourceConfig
		want int
	}{
		{"unset device rate", audio.SourceConfig{SampleRate: 16000}, 16000},
		{"negative device rate", audio.SourceConfig{SampleRate: 16000, DeviceRate: -1}, 16000},
		{"native 48k", audio.SourceConfig{SampleRate: 16000, DeviceRate: 48000}, 48000},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.cfg.CaptureRate(); got != tt.want {
				t.Errorf("CaptureRate() = %d, want %d", got, tt.want)
			}
		})
	}
}

// Frame processing packages import audio; it must stay buildable without
// native capture libraries.
func TestPackageHasNoCgoImports(t *testing.T) {
	files, err := filepath.Glob("*.go")
	if err != nil {
		t.Fatal(err)
	}
	fset := token.NewFileSet()
	for _, name := range files {
		if strings.HasSuffix(name, "_test.go") {
			continue
		}
		f, err := parser.ParseFile(fset, name, nil, parser.ImportsOnly)
		if err != nil {
			t.Fatalf("parse %s: %v", name, err)
		}
		for _, imp := range f.Imports {
			path, _ := strconv.Unquote(imp.Path.Value)
			if path == "C" || path == "github.com/gordonklaus/portaudio" {
				t.Errorf("%s imports %q", name, path)
			}
		}
	}
}
