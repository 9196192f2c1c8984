package template

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEngine_Render(t *testing.T) {
	e := New()

	tests := []struct {
		name    string
		src     string
		data    map[string]interface{}
		want    string
		wantErr bool
	}{
		{"plain string", "https://fn.example.com/api/hello", nil, "https://fn.example.com/api/hello", false},
		{"argument", "https://fn/api/snippets/{{ .arguments.snippetname }}", map[string]interface{}{
			"arguments": map[string]interface{}{"snippetname": "foo"},
		}, "https://fn/api/snippets/foo", false},
		{"sprig function", "https://fn/{{ .tool | upper }}", map[string]interface{}{"tool": "hello"}, "https://fn/HELLO", false},
		{"sprig urlquery", `https://fn/?q={{ .arguments.q | urlquery }}`, map[string]interface{}{
			"arguments": map[string]interface{}{"q": "a b"},
		}, "https://fn/?q=a+b", false},
		{"missing key", "{{ .nope }}", map[string]interface{}{}, "", true},
		{"parse error", "{{ .unclosed", nil, "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := e.Render(tt.src, tt.data)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestEngine_ParseCaches(t *testing.T) {
	e := New()
	a, err := e.Parse("{{ .x }}")
	require.NoError(t, err)
	b, err := e.Parse("{{ .x }}")
	require.NoError(t, err)
	assert.Same(t, a, b)
}

func TestBackendData(t *testing.T) {
	args := map[string]interface{}{"city": "Berlin", "tool": "shadowed"}
	data := BackendData("weather", args)

	assert.Equal(t, "Berlin", data["city"])
	assert.Equal(t, "weather", data[KeyTool])
	assert.Equal(t, args, data[KeyArguments])

	data["city"] = "Paris"
	assert.Equal(t, "Berlin", args["city"], "arguments are not modified")
}

func TestBackendDataRendersURL(t *testing.T) {
	e := New()
	got, err := e.Render("https://fn.example.com/api/{{ .tool }}?city={{ .city | urlquery }}",
		BackendData("weather", map[string]interface{}{"city": "São Paulo"}))
	require.NoError(t, err)
	assert.Equal(t, "https://fn.example.com/api/weather?city=S%C3%A3o+Paulo", got)
}
