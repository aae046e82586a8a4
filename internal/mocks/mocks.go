// File: internal/mocks/mocks.go
package mocks

import (
	"context"
	"time"

	"github.com/stretchr/testify/mock"

	"github.com/xkilldash9x/scriptforge/api/schemas"
	"github.com/xkilldash9x/scriptforge/internal/config"
)

// -- Config Mock --

// MockConfig mocks the config.Interface.
type MockConfig struct {
	mock.Mock
}

func (m *MockConfig) Logger() config.LoggerConfig {
	return m.Called().Get(0).(config.LoggerConfig)
}

func (m *MockConfig) Database() config.DatabaseConfig {
	return m.Called().Get(0).(config.DatabaseConfig)
}

func (m *MockConfig) Generator() config.GeneratorConfig {
	return m.Called().Get(0).(config.GeneratorConfig)
}

func (m *MockConfig) LLM() config.LLMConfig {
	return m.Called().Get(0).(config.LLMConfig)
}

func (m *MockConfig) OCR() config.OCRConfig {
	return m.Called().Get(0).(config.OCRConfig)
}

func (m *MockConfig) Validation() config.ValidationConfig {
	return m.Called().Get(0).(config.ValidationConfig)
}

func (m *MockConfig) Sandbox() config.SandboxConfig {
	return m.Called().Get(0).(config.SandboxConfig)
}

func (m *MockConfig) Tracker() config.TrackerConfig {
	return m.Called().Get(0).(config.TrackerConfig)
}

func (m *MockConfig) Server() config.ServerConfig {
	return m.Called().Get(0).(config.ServerConfig)
}

func (m *MockConfig) SetSandboxHeadless(b bool)           { m.Called(b) }
func (m *MockConfig) SetGeneratorOutputDir(d string)      { m.Called(d) }
func (m *MockConfig) SetLLMProvider(p config.LLMProvider) { m.Called(p) }
func (m *MockConfig) SetServerAddr(addr string)           { m.Called(addr) }

// -- Synthesizer Mock --

// MockSynthesizer mocks schemas.Synthesizer. An optional Delay simulates a
// slow provider and honours context cancellation.
type MockSynthesizer struct {
	mock.Mock
	Delay time.Duration
}

func (m *MockSynthesizer) Synthesize(ctx context.Context, req schemas.SynthesisRequest) (string, error) {
	if m.Delay > 0 {
		select {
		case <-ctx.Done():
			m.Called(ctx, req)
			return "", ctx.Err()
		case <-time.After(m.Delay):
		}
	}
	args := m.Called(ctx, req)
	return args.String(0), args.Error(1)
}

// -- OCR Mock --

// MockTextExtractor mocks schemas.TextExtractor.
type MockTextExtractor struct {
	mock.Mock
}

func (m *MockTextExtractor) Extract(ctx context.Context, image []byte, language string) (schemas.OCRResult, error) {
	args := m.Called(ctx, image, language)
	return args.Get(0).(schemas.OCRResult), args.Error(1)
}
