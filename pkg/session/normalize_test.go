package session

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/polisai/envbridge/pkg/engine"
)

func TestFirstText(t *testing.T) {
	assert.Equal(t, "a", firstText("a"))
	assert.Equal(t, "a", firstText([]string{"a", "b"}))
	assert.Equal(t, "a", firstText([]any{"a"}))
	assert.Equal(t, "", firstText(nil))
	assert.Equal(t, "", firstText([]string{}))
	assert.Equal(t, "3", firstText([]any{3}))
}

func TestFirstFloat(t *testing.T) {
	tests := []struct {
		name    string
		in      any
		want    float64
		wantErr bool
	}{
		{name: "scalar", in: 1.5, want: 1.5},
		{name: "float batch", in: []float64{1}, want: 1},
		{name: "any batch", in: []any{0.25}, want: 0.25},
		{name: "int batch", in: []int{2}, want: 2},
		{name: "json number", in: []any{json.Number("3")}, want: 3},
		{name: "bool", in: []bool{true}, want: 1},
		{name: "numeric string", in: []string{" 0.5 "}, want: 0.5},
		{name: "bad string", in: []string{"high"}, wantErr: true},
		{name: "empty batch", in: []float64{}, wantErr: true},
		{name: "nil slot", in: []any{nil}, wantErr: true},
		{name: "struct", in: []any{struct{}{}}, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := firstFloat(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestFirstBool(t *testing.T) {
	tests := []struct {
		name    string
		in      any
		want    bool
		wantErr bool
	}{
		{name: "scalar", in: true, want: true},
		{name: "bool batch", in: []bool{true, false}, want: true},
		{name: "any batch", in: []any{false}, want: false},
		{name: "int", in: []int{1}, want: true},
		{name: "zero float", in: []float64{0}, want: false},
		{name: "nil", in: nil, want: false},
		{name: "empty batch", in: []bool{}, wantErr: true},
		{name: "struct", in: []any{struct{}{}}, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := firstBool(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestFirstCommands(t *testing.T) {
	tests := []struct {
		name  string
		infos engine.Infos
		want  []string
	}{
		{name: "missing", infos: engine.Infos{}, want: []string{}},
		{name: "nil infos", infos: nil, want: []string{}},
		{name: "nested", infos: engine.Infos{engine.InfoAdmissibleCommands: [][]string{{"a", "b"}, {"c"}}}, want: []string{"a", "b"}},
		{name: "flat", infos: engine.Infos{engine.InfoAdmissibleCommands: []string{"a"}}, want: []string{"a"}},
		{name: "decoded json", infos: engine.Infos{engine.InfoAdmissibleCommands: []any{[]any{"x", "y"}}}, want: []string{"x", "y"}},
		{name: "decoded flat", infos: engine.Infos{engine.InfoAdmissibleCommands: []any{"x"}}, want: []string{"x"}},
		{name: "empty batch", infos: engine.Infos{engine.InfoAdmissibleCommands: [][]string{}}, want: []string{}},
		{name: "not a list", infos: engine.Infos{engine.InfoAdmissibleCommands: 7}, want: []string{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, firstCommands(tt.infos))
		})
	}
}

func TestGoalOf(t *testing.T) {
	assert.Equal(t, "first", goalOf("first\nsecond"))
	assert.Equal(t, "first", goalOf("\n\n  first\nsecond"))
	assert.Equal(t, "", goalOf(""))
	assert.Equal(t, "only", goalOf("only"))
}

func TestFirstGameFile(t *testing.T) {
	assert.Equal(t, "g", firstGameFile(engine.Infos{engine.InfoGameFile: []string{"g"}}))
	assert.Equal(t, "", firstGameFile(engine.Infos{}))
}
