package clients

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestGenerateImage(t *testing.T) {
	png := []byte("\x89PNG\r\n\x1a\nfake")
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer hf-token" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		var body map[string]string
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body["inputs"] != "a lighthouse" {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		w.Header().Set("Content-Type", "image/png")
		w.Write(png)
	}))
	defer srv.Close()

	img, err := NewHuggingFaceClient(srv.URL, "hf-token", 0).GenerateImage(context.Background(), "a lighthouse")
	if err != nil {
		t.Fatal(err)
	}
	if string(img.Data) != string(png) || img.ContentType != "image/png" {
		t.Errorf("image = %+v", img)
	}

	_, err = NewHuggingFaceClient(srv.URL, "wrong", 0).GenerateImage(context.Background(), "a lighthouse")
	if !errors.Is(err, ErrImageGeneration) {
		t.Errorf("err = %v", err)
	}
}
