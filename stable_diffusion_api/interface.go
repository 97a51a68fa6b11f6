package stable_diffusion_api

import "context"

type StableDiffusionAPI interface {
	CheckStatus() bool
	ListModels() ([]string, error)
	ListSamplers() ([]string, error)
	CurrentModel() (string, error)
	GetCurrentProgress() (*ProgressResponse, error)
	TextToImage(ctx context.Context, req *TextToImageRequest) (*TextToImageResponse, error)
	Interrupt() bool
}
