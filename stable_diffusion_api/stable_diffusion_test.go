package stable_diffusion_api

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"sd_control_bot/entities"
)

func newTestAPI(t *testing.T, handler http.Handler) StableDiffusionAPI {
	t.Helper()

	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	api, err := New(Config{Host: server.URL + "/"})
	if err != nil {
		t.Fatal(err)
	}

	return api
}

func TestCheckStatus(t *testing.T) {
	online := newTestAPI(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/sdapi/v1/options" {
			t.Errorf("path = %q, want /sdapi/v1/options", r.URL.Path)
		}

		w.Write([]byte("{}"))
	}))

	if !online.CheckStatus() {
		t.Error("CheckStatus() = false, want true")
	}

	offline := newTestAPI(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))

	if offline.CheckStatus() {
		t.Error("CheckStatus() = true, want false")
	}
}

func TestListModelsAndSamplers(t *testing.T) {
	api := newTestAPI(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/sdapi/v1/sd-models":
			w.Write([]byte(`[{"title": "model_a.safetensors [abc123]"}, {"title": "model_b.ckpt"}]`))
		case "/sdapi/v1/samplers":
			w.Write([]byte(`[{"name": "Euler a"}, {"name": "DPM++ 2M"}]`))
		default:
			http.NotFound(w, r)
		}
	}))

	models, err := api.ListModels()
	if err != nil {
		t.Fatalf("ListModels() error = %v, want nil", err)
	}

	if len(models) != 2 || models[0] != "model_a.safetensors [abc123]" {
		t.Errorf("ListModels() = %v, want the two titles", models)
	}

	samplers, err := api.ListSamplers()
	if err != nil {
		t.Fatalf("ListSamplers() error = %v, want nil", err)
	}

	if len(samplers) != 2 || samplers[1] != "DPM++ 2M" {
		t.Errorf("ListSamplers() = %v, want the two names", samplers)
	}
}

func TestCurrentModel(t *testing.T) {
	tests := []struct {
		name       string
		checkpoint string
		want       string
	}{
		{"plain", "model_a.safetensors", "model_a"},
		{"with hash", "model_a.safetensors [abc123]", "model_a"},
		{"with path", "subdir/model_b.ckpt", "model_b"},
		{"windows path", `models\model_c.ckpt [def456]`, "model_c"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			api := newTestAPI(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				json.NewEncoder(w).Encode(map[string]string{"sd_model_checkpoint": tt.checkpoint})
			}))

			model, err := api.CurrentModel()
			if err != nil {
				t.Fatalf("CurrentModel() error = %v, want nil", err)
			}

			if model != tt.want {
				t.Errorf("CurrentModel() = %q, want %q", model, tt.want)
			}
		})
	}
}

func TestGetCurrentProgress(t *testing.T) {
	api := newTestAPI(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"progress": 0.42, "eta_relative": 12.5}`))
	}))

	progress, err := api.GetCurrentProgress()
	if err != nil {
		t.Fatalf("GetCurrentProgress() error = %v, want nil", err)
	}

	if progress.Progress != 0.42 || progress.EtaRelative != 12.5 {
		t.Errorf("GetCurrentProgress() = %+v, want 0.42/12.5", progress)
	}
}

func TestTextToImage(t *testing.T) {
	imageBytes := []byte("not really a png")
	info := `{"seed": 1234, "infotexts": ["a cat\nSteps: 20, Seed: 1234"]}`

	api := newTestAPI(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/sdapi/v1/txt2img" {
			t.Errorf("path = %q, want /sdapi/v1/txt2img", r.URL.Path)
		}

		var req TextToImageRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decoding request: %v", err)
		}

		if req.Prompt != "a cat" || req.Width != 1024 {
			t.Errorf("request = %+v, want prompt and width posted", req)
		}

		resp := map[string]any{
			"images": []string{base64.StdEncoding.EncodeToString(imageBytes)},
			"info":   info,
		}
		json.NewEncoder(w).Encode(resp)
	}))

	resp, err := api.TextToImage(context.Background(), &TextToImageRequest{
		Prompt: "a cat",
		GenerationParameters: entities.GenerationParameters{
			Width:  1024,
			Height: 1024,
			Seed:   -1,
		},
	})
	if err != nil {
		t.Fatalf("TextToImage() error = %v, want nil", err)
	}

	if len(resp.Images) != 1 || string(resp.Images[0]) != string(imageBytes) {
		t.Errorf("TextToImage() images = %v, want the decoded payload", resp.Images)
	}

	if resp.Seed != 1234 {
		t.Errorf("TextToImage() seed = %d, want 1234 from the info field", resp.Seed)
	}

	if !strings.Contains(resp.InfoText, "Seed: 1234") {
		t.Errorf("TextToImage() info text = %q, want the first infotext", resp.InfoText)
	}
}

func TestTextToImageAPIError(t *testing.T) {
	api := newTestAPI(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "out of memory", http.StatusInternalServerError)
	}))

	_, err := api.TextToImage(context.Background(), &TextToImageRequest{Prompt: "a cat"})
	if err == nil || !strings.Contains(err.Error(), "API error (500)") {
		t.Fatalf("TextToImage() error = %v, want an API error with status", err)
	}

	if IsTimeout(err) {
		t.Error("IsTimeout() = true for an API error, want false")
	}
}

func TestTextToImageTimeout(t *testing.T) {
	api := newTestAPI(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
	}))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := api.TextToImage(ctx, &TextToImageRequest{Prompt: "a cat"})
	if err == nil {
		t.Fatal("TextToImage() error = nil, want a deadline error")
	}

	if !IsTimeout(err) {
		t.Errorf("IsTimeout(%v) = false, want true", err)
	}
}

func TestInterrupt(t *testing.T) {
	var called bool

	api := newTestAPI(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost && r.URL.Path == "/sdapi/v1/interrupt" {
			called = true
		}
	}))

	if !api.Interrupt() {
		t.Error("Interrupt() = false, want true")
	}

	if !called {
		t.Error("interrupt endpoint was never posted to")
	}
}
