package embeddings_test

import (
	"testing"

	"github.com/MrWong99/hearken/pkg/provider/embeddings"
	"github.com/MrWong99/hearken/pkg/provider/embeddings/mock"
)

func TestCheckDimensions(t *testing.T) {
	tests := []struct {
		name    string
		got     int
		want    int
		wantErr bool
	}{
		{"match", 768, 768, false},
		{"mismatch", 768, 1536, true},
		{"unknown provider", 0, 1536, false},
		{"unconstrained store", 768, 0, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := &mock.Provider{DimensionsValue: tt.got, ModelIDValue: "m"}
			if err := embeddings.CheckDimensions(p, tt.want); (err != nil) != tt.wantErr {
				t.Errorf("CheckDimensions = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestToFloat32(t *testing.T) {
	got := embeddings.ToFloat32([]float64{1, 2.5, -0.5})
	if len(got) != 3 || got[1] != 2.5 || got[2] != -0.5 {
		t.Errorf("ToFloat32 = %v", got)
	}
}
