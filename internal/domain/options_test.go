package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validOptions() Options {
	return Options{
		FilePath:    "/tmp/input.pdf",
		Credentials: Credentials{APIKey: "sk-test"},
	}
}

func TestOptions_WithDefaults(t *testing.T) {
	o := validOptions().WithDefaults()

	assert.Equal(t, DefaultModel, o.Model)
	assert.Equal(t, ProviderOpenAI, o.ModelProvider)
	assert.Equal(t, 10, o.Concurrency)
	assert.Equal(t, ErrorModeIgnore, o.ErrorMode)
	assert.Equal(t, -1, o.MaxTesseractWorkers)

	require.NotNil(t, o.Cleanup)
	assert.True(t, *o.Cleanup)
	require.NotNil(t, o.CorrectOrientation)
	assert.True(t, *o.CorrectOrientation)
	require.NotNil(t, o.TrimEdges)
	assert.True(t, *o.TrimEdges)
	require.NotNil(t, o.MaxRetries)
	assert.Equal(t, 1, *o.MaxRetries)
	require.NotNil(t, o.MaxImageSize)
	assert.Equal(t, float64(15), *o.MaxImageSize)
	require.NotNil(t, o.Logger)
}

func TestOptions_WithDefaults_KeepsExplicitValues(t *testing.T) {
	o := validOptions()
	o.Cleanup = Bool(false)
	o.MaxRetries = Int(0)
	o.MaxImageSize = Float64(0)
	o.Concurrency = 3

	o = o.WithDefaults()

	assert.False(t, *o.Cleanup)
	assert.Equal(t, 0, *o.MaxRetries)
	assert.Equal(t, float64(0), *o.MaxImageSize)
	assert.Equal(t, 3, o.Concurrency)
}

func TestOptions_Validate(t *testing.T) {
	schema := map[string]any{
		"type":       "object",
		"properties": map[string]any{"title": map[string]any{"type": "string"}},
	}

	tests := []struct {
		name    string
		mutate  func(*Options)
		wantErr string
	}{
		{
			name:   "valid",
			mutate: func(o *Options) {},
		},
		{
			name:    "empty credentials",
			mutate:  func(o *Options) { o.Credentials = Credentials{} },
			wantErr: "credentials",
		},
		{
			name:    "missing file path",
			mutate:  func(o *Options) { o.FilePath = "" },
			wantErr: "file path",
		},
		{
			name: "hybrid with direct image extraction",
			mutate: func(o *Options) {
				o.Schema = schema
				o.EnableHybridExtraction = true
				o.DirectImageExtraction = true
			},
			wantErr: "direct image",
		},
		{
			name: "hybrid with extract-only",
			mutate: func(o *Options) {
				o.Schema = schema
				o.EnableHybridExtraction = true
				o.ExtractOnly = true
			},
			wantErr: "extract-only",
		},
		{
			name:    "hybrid without schema",
			mutate:  func(o *Options) { o.EnableHybridExtraction = true },
			wantErr: "schema",
		},
		{
			name:    "extract-only without schema",
			mutate:  func(o *Options) { o.ExtractOnly = true },
			wantErr: "schema",
		},
		{
			name: "extract-only with maintain format",
			mutate: func(o *Options) {
				o.Schema = schema
				o.ExtractOnly = true
				o.MaintainFormat = true
			},
			wantErr: "maintain format",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			o := validOptions()
			tt.mutate(&o)
			err := o.WithDefaults().Validate()
			if tt.wantErr == "" {
				require.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.True(t, IsKind(err, KindConfig))
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestOptions_Normalized(t *testing.T) {
	o := validOptions()
	o.Schema = map[string]any{"properties": map[string]any{}}
	o.ExtractOnly = true
	o.LLMParams = map[string]any{"temperature": 0.2}

	n := o.WithDefaults().Normalized()

	assert.True(t, n.DirectImageExtraction, "extract-only implies direct image extraction")
	assert.Equal(t, n.Model, n.ExtractionModel)
	assert.Equal(t, n.ModelProvider, n.ExtractionModelProvider)
	require.NotNil(t, n.ExtractionCredentials)
	assert.Equal(t, o.Credentials, *n.ExtractionCredentials)
	assert.Equal(t, n.LLMParams, n.ExtractionLLMParams)
}

func TestOptions_Normalized_KeepsExplicitExtractionSettings(t *testing.T) {
	o := validOptions()
	o.ExtractionModel = ModelGeminiFlash
	o.ExtractionModelProvider = ProviderGoogle
	o.ExtractionCredentials = &Credentials{APIKey: "g-key"}

	n := o.WithDefaults().Normalized()

	assert.Equal(t, ModelGeminiFlash, n.ExtractionModel)
	assert.Equal(t, ProviderGoogle, n.ExtractionModelProvider)
	assert.Equal(t, "g-key", n.ExtractionCredentials.APIKey)
}
