package stable_diffusion_api

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"path"
	"strings"
	"time"

	"sd_control_bot/entities"
)

const (
	statusTimeout    = 10 * time.Second
	progressTimeout  = 5 * time.Second
	interruptTimeout = 5 * time.Second
)

type apiImpl struct {
	host            string
	statusClient    *http.Client
	progressClient  *http.Client
	generateClient  *http.Client
	interruptClient *http.Client
}

type Config struct {
	Host string
	// GenerateTimeout bounds the txt2img call. Zero means no client timeout;
	// callers are expected to pass a context deadline instead.
	GenerateTimeout time.Duration
}

func New(cfg Config) (StableDiffusionAPI, error) {
	if cfg.Host == "" {
		return nil, errors.New("missing host")
	}

	// remove trailing slash
	if cfg.Host[len(cfg.Host)-1:] == "/" {
		cfg.Host = cfg.Host[:len(cfg.Host)-1]
	}

	return &apiImpl{
		host:            cfg.Host,
		statusClient:    &http.Client{Timeout: statusTimeout},
		progressClient:  &http.Client{Timeout: progressTimeout},
		generateClient:  &http.Client{Timeout: cfg.GenerateTimeout},
		interruptClient: &http.Client{Timeout: interruptTimeout},
	}, nil
}

// CheckStatus reports whether the WebUI options endpoint answers with a 2xx.
func (api *apiImpl) CheckStatus() bool {
	response, err := api.statusClient.Get(api.host + "/sdapi/v1/options")
	if err != nil {
		log.Printf("SD API status check failed: %v", err)

		return false
	}

	defer response.Body.Close()

	return response.StatusCode == http.StatusOK
}

type jsonModel struct {
	Title string `json:"title"`
}

func (api *apiImpl) ListModels() ([]string, error) {
	getURL := api.host + "/sdapi/v1/sd-models"

	response, err := api.statusClient.Get(getURL)
	if err != nil {
		return nil, err
	}

	defer response.Body.Close()

	body, _ := io.ReadAll(response.Body)

	var models []jsonModel

	err = json.Unmarshal(body, &models)
	if err != nil {
		log.Printf("API URL: %s", getURL)
		log.Printf("Unexpected API response: %s", string(body))

		return nil, err
	}

	titles := make([]string, len(models))
	for i, model := range models {
		titles[i] = model.Title
	}

	return titles, nil
}

type jsonSampler struct {
	Name string `json:"name"`
}

func (api *apiImpl) ListSamplers() ([]string, error) {
	getURL := api.host + "/sdapi/v1/samplers"

	response, err := api.statusClient.Get(getURL)
	if err != nil {
		return nil, err
	}

	defer response.Body.Close()

	body, _ := io.ReadAll(response.Body)

	var samplers []jsonSampler

	err = json.Unmarshal(body, &samplers)
	if err != nil {
		log.Printf("API URL: %s", getURL)
		log.Printf("Unexpected API response: %s", string(body))

		return nil, err
	}

	names := make([]string, len(samplers))
	for i, sampler := range samplers {
		names[i] = sampler.Name
	}

	return names, nil
}

type jsonOptions struct {
	SDModelCheckpoint string `json:"sd_model_checkpoint"`
}

// CurrentModel returns the loaded checkpoint's basename with the file
// extension and hash suffix stripped.
func (api *apiImpl) CurrentModel() (string, error) {
	response, err := api.statusClient.Get(api.host + "/sdapi/v1/options")
	if err != nil {
		return "", err
	}

	defer response.Body.Close()

	body, _ := io.ReadAll(response.Body)

	var options jsonOptions

	err = json.Unmarshal(body, &options)
	if err != nil {
		return "", err
	}

	model := path.Base(strings.ReplaceAll(options.SDModelCheckpoint, "\\", "/"))

	if idx := strings.Index(model, " ["); idx > 0 {
		model = model[:idx]
	}

	model = strings.TrimSuffix(model, path.Ext(model))

	return model, nil
}

type ProgressResponse struct {
	Progress    float64 `json:"progress"`
	EtaRelative float64 `json:"eta_relative"`
}

func (api *apiImpl) GetCurrentProgress() (*ProgressResponse, error) {
	getURL := api.host + "/sdapi/v1/progress"

	response, err := api.progressClient.Get(getURL)
	if err != nil {
		return nil, err
	}

	defer response.Body.Close()

	body, _ := io.ReadAll(response.Body)

	respStruct := &ProgressResponse{}

	err = json.Unmarshal(body, respStruct)
	if err != nil {
		log.Printf("API URL: %s", getURL)
		log.Printf("Unexpected API response: %s", string(body))

		return nil, err
	}

	return respStruct, nil
}

type TextToImageRequest struct {
	Prompt string `json:"prompt"`
	entities.GenerationParameters
}

type jsonTextToImageResponse struct {
	Images []string `json:"images"`
	Info   string   `json:"info"`
}

type jsonInfoResponse struct {
	Seed      int64    `json:"seed"`
	AllSeeds  []int64  `json:"all_seeds"`
	Infotexts []string `json:"infotexts"`
}

// TextToImageResponse carries the decoded images plus the backend's
// human-readable generation parameters, kept for PNG metadata embedding.
type TextToImageResponse struct {
	Images   [][]byte
	Seed     int64
	InfoText string
}

func (api *apiImpl) TextToImage(ctx context.Context, req *TextToImageRequest) (*TextToImageResponse, error) {
	if req == nil {
		return nil, errors.New("missing request")
	}

	postURL := api.host + "/sdapi/v1/txt2img"

	jsonData, err := json.Marshal(req)
	if err != nil {
		return nil, err
	}

	request, err := http.NewRequestWithContext(ctx, http.MethodPost, postURL, bytes.NewBuffer(jsonData))
	if err != nil {
		return nil, err
	}

	request.Header.Set("Content-Type", "application/json; charset=UTF-8")

	response, err := api.generateClient.Do(request)
	if err != nil {
		log.Printf("API URL: %s", postURL)
		log.Printf("Error with API Request: %s", string(jsonData))

		return nil, err
	}

	defer response.Body.Close()

	body, _ := io.ReadAll(response.Body)

	if response.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("API error (%d): %s", response.StatusCode, string(body))
	}

	respStruct := &jsonTextToImageResponse{}

	err = json.Unmarshal(body, respStruct)
	if err != nil {
		log.Printf("API URL: %s", postURL)
		log.Printf("Unexpected API response: %s", string(body))

		return nil, err
	}

	if len(respStruct.Images) == 0 {
		return nil, errors.New("no images in response")
	}

	images := make([][]byte, len(respStruct.Images))

	for idx, image := range respStruct.Images {
		decoded, decodeErr := base64.StdEncoding.DecodeString(image)
		if decodeErr != nil {
			return nil, decodeErr
		}

		images[idx] = decoded
	}

	result := &TextToImageResponse{
		Images: images,
		Seed:   req.Seed,
	}

	infoStruct := &jsonInfoResponse{}

	// The info field is a JSON-encoded string inside the response JSON.
	// A malformed one is not fatal: the image already decoded.
	if err := json.Unmarshal([]byte(respStruct.Info), infoStruct); err == nil {
		result.Seed = infoStruct.Seed

		if len(infoStruct.Infotexts) > 0 {
			result.InfoText = infoStruct.Infotexts[0]
		}
	}

	return result, nil
}

// Interrupt fires an advisory cancellation at the backend. It does not
// guarantee an in-flight txt2img call returns early.
func (api *apiImpl) Interrupt() bool {
	response, err := api.interruptClient.Post(api.host+"/sdapi/v1/interrupt", "application/json", nil)
	if err != nil {
		log.Printf("SD API interrupt failed: %v", err)

		return false
	}

	defer response.Body.Close()

	return response.StatusCode == http.StatusOK
}

// IsTimeout reports whether err came from an expired client timeout or
// context deadline.
func IsTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	var netErr interface{ Timeout() bool }

	return errors.As(err, &netErr) && netErr.Timeout()
}
