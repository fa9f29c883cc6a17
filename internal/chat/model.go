package chat

import "os"

// Gemini model IDs with vision support.
//
// | Model Name               | API Model ID           | Use Case                      |
// |--------------------------|------------------------|-------------------------------|
// | Gemini 3.1 Pro (Preview) | gemini-3.1-pro-preview | Best for complex reasoning    |
// | Gemini 3 Flash (Preview) | gemini-3-flash-preview | Best for speed + intelligence |
// | Gemini 2.5 Pro           | gemini-2.5-pro         | Stable, high-reasoning tasks  |
// | Gemini 2.5 Flash         | gemini-2.5-flash       | Stable, balanced performance  |
const (
	ModelGemini31ProPreview  = "gemini-3.1-pro-preview"
	ModelGemini3FlashPreview = "gemini-3-flash-preview"
	ModelGemini25Pro         = "gemini-2.5-pro"
	ModelGemini25Flash       = "gemini-2.5-flash"
)

// DefaultModelName is used when no model is configured.
const DefaultModelName = ModelGemini3FlashPreview

// GetModelName returns the model to use, resolved from:
//  1. CLAIM_GEMINI_MODEL
//  2. GEMINI_MODEL
//  3. DefaultModelName
func GetModelName() string {
	for _, env := range []string{"CLAIM_GEMINI_MODEL", "GEMINI_MODEL"} {
		if v := os.Getenv(env); v != "" {
			return v
		}
	}
	return DefaultModelName
}
