package executor

// StylePreset describes one illustration style offered by the illustration
// executor. The list is static; executors reject styles they do not know.
type StylePreset struct {
	Name           string         `json:"name"`
	Description    string         `json:"description"`
	BasePrompt     string         `json:"base_prompt"`
	NegativePrompt string         `json:"negative_prompt"`
	Parameters     map[string]any `json:"parameters"`
}

// IllustrationStyles returns the supported illustration style presets.
func IllustrationStyles() []StylePreset {
	return []StylePreset{
		{
			Name:           "sketch",
			Description:    "Quick pencil sketch style, perfect for initial concepts",
			BasePrompt:     "pencil sketch, rough drawing, storyboard style, black and white, simple lines",
			NegativePrompt: "photorealistic, detailed, colored, finished artwork, digital art",
			Parameters:     map[string]any{"guidance_scale": 7.5, "num_inference_steps": 20, "strength": 0.8},
		},
		{
			Name:           "storyboard",
			Description:    "Classic storyboard style with clear composition and framing",
			BasePrompt:     "storyboard frame, cinematic composition, clear lines, professional storyboard style, film frame",
			NegativePrompt: "photorealistic, detailed textures, complex lighting, finished artwork",
			Parameters:     map[string]any{"guidance_scale": 8.0, "num_inference_steps": 25, "strength": 0.85},
		},
		{
			Name:           "concept",
			Description:    "Concept art style with more detail and atmosphere",
			BasePrompt:     "concept art, cinematic lighting, atmospheric, detailed composition, film concept",
			NegativePrompt: "photorealistic, photographic, overly detailed textures",
			Parameters:     map[string]any{"guidance_scale": 8.5, "num_inference_steps": 30, "strength": 0.9},
		},
		{
			Name:           "realistic",
			Description:    "Photorealistic style for final presentations",
			BasePrompt:     "photorealistic, cinematic photography, film still, professional cinematography",
			NegativePrompt: "cartoon, anime, illustration, drawing, painting",
			Parameters:     map[string]any{"guidance_scale": 9.0, "num_inference_steps": 40, "strength": 0.95},
		},
	}
}
