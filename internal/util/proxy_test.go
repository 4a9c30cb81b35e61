package util

import (
	"net/http"
	"testing"
)

func TestNewProxyFunc(t *testing.T) {
	proxy := NewProxyFunc("http://proxy.internal:3128", "http://secure-proxy.internal:3129", "localhost, .svc.cluster.local,10.0.0.5:11434")

	tests := []struct {
		url  string
		want string
	}{
		{"http://ollama.example.com/api/chat", "http://proxy.internal:3128"},
		{"https://api.openai.com/v1/chat/completions", "http://secure-proxy.internal:3129"},
		{"http://localhost:11434/api/chat", ""},
		{"http://ollama.svc.cluster.local/api/chat", ""},
		{"http://10.0.0.5:11434/api/embeddings", ""},
	}

	for _, tt := range tests {
		req, err := http.NewRequest(http.MethodGet, tt.url, nil)
		if err != nil {
			t.Fatalf("NewRequest(%s): %v", tt.url, err)
		}
		got, err := proxy(req)
		if err != nil {
			t.Fatalf("proxy(%s): %v", tt.url, err)
		}
		gotStr := ""
		if got != nil {
			gotStr = got.String()
		}
		if gotStr != tt.want {
			t.Errorf("proxy(%s) = %q, want %q", tt.url, gotStr, tt.want)
		}
	}
}

func TestNewProxyFunc_Environment(t *testing.T) {
	proxy := NewProxyFunc("", "", "")
	if proxy == nil {
		t.Fatal("Expected environment proxy func")
	}
}
