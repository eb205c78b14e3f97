package client

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestClientSend(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "notes.txt")
	content := []byte("meeting notes from tuesday")
	if err := os.WriteFile(file, content, 0o644); err != nil {
		t.Fatal(err)
	}

	var gotFilename string
	var gotBody []byte

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/api/send" {
			t.Errorf("unexpected request: %s %s", r.Method, r.URL.Path)
		}
		mr, err := r.MultipartReader()
		if err != nil {
			t.Fatalf("MultipartReader: %v", err)
		}
		part, err := mr.NextPart()
		if err != nil {
			t.Fatalf("NextPart: %v", err)
		}
		gotFilename = part.FileName()
		gotBody, _ = io.ReadAll(part)

		w.WriteHeader(http.StatusCreated)
		json.NewEncoder(w).Encode(map[string]any{
			"code":     "ABC-234",
			"filename": "notes.txt",
			"size":     len(content),
		})
	}))
	defer srv.Close()

	resp, err := New(srv.URL).Send(context.Background(), file)
	if err != nil {
		t.Fatalf("Send: %v", err)
	}

	if resp.Code != "ABC-234" {
		t.Errorf("Code = %q, want ABC-234", resp.Code)
	}
	if gotFilename != "notes.txt" {
		t.Errorf("uploaded filename = %q, want notes.txt", gotFilename)
	}
	if !bytes.Equal(gotBody, content) {
		t.Errorf("uploaded body = %q, want %q", gotBody, content)
	}
}

func TestClientSendServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusRequestEntityTooLarge)
		json.NewEncoder(w).Encode(map[string]string{"error": "file exceeds the upload limit"})
	}))
	defer srv.Close()

	dir := t.TempDir()
	file := filepath.Join(dir, "big.bin")
	if err := os.WriteFile(file, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}

	_, err := New(srv.URL).Send(context.Background(), file)
	if err == nil {
		t.Fatal("expected error")
	}
	if !strings.Contains(err.Error(), "file exceeds the upload limit") {
		t.Errorf("error %q does not carry the server message", err)
	}
}

func TestClientReceive(t *testing.T) {
	payload := []byte("the payload bytes")

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/r/ABC-234" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		w.Header().Set("Content-Disposition", `attachment; filename="notes.txt"`)
		w.Write(payload)
	}))
	defer srv.Close()

	var buf bytes.Buffer
	filename, err := New(srv.URL).Receive(context.Background(), "ABC-234", &buf)
	if err != nil {
		t.Fatalf("Receive: %v", err)
	}

	if filename != "notes.txt" {
		t.Errorf("filename = %q, want notes.txt", filename)
	}
	if !bytes.Equal(buf.Bytes(), payload) {
		t.Errorf("body = %q, want %q", buf.Bytes(), payload)
	}
}

func TestClientReceiveMissingDisposition(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("data"))
	}))
	defer srv.Close()

	var buf bytes.Buffer
	filename, err := New(srv.URL).Receive(context.Background(), "ABC-234", &buf)
	if err != nil {
		t.Fatalf("Receive: %v", err)
	}
	if filename != "download.bin" {
		t.Errorf("filename = %q, want fallback download.bin", filename)
	}
}

func TestClientReceiveErrors(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		message string
	}{
		{"not found", http.StatusNotFound, "code not found"},
		{"consumed", http.StatusGone, "transfer already completed"},
		{"rate limited", http.StatusTooManyRequests, "too many attempts"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				json.NewEncoder(w).Encode(map[string]string{"error": tt.message})
			}))
			defer srv.Close()

			var buf bytes.Buffer
			_, err := New(srv.URL).Receive(context.Background(), "ABC-234", &buf)
			if err == nil {
				t.Fatal("expected error")
			}
			if !strings.Contains(err.Error(), tt.message) {
				t.Errorf("error %q does not carry the server message", err)
			}
			if buf.Len() != 0 {
				t.Errorf("wrote %d bytes to destination on error", buf.Len())
			}
		})
	}
}
